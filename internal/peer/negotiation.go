package peer

import (
	"github.com/BioHazard786/warpmeet/internal/signaling"
	"github.com/pion/sdp/v3"
	pion "github.com/pion/webrtc/v4"
)

// scheduleNegotiation (re)arms the debounce timer. A trigger that arrives
// while one is pending replaces it.
func (m *Manager) scheduleNegotiation(p *Peer) {
	p.stopTimer()
	seq := p.negotiationSeq
	p.negotiationTimer = m.clock.AfterFunc(m.debounce, func() {
		m.dispatch(func() {
			if !m.live(p) || p.negotiationSeq != seq {
				return
			}
			p.negotiationTimer = nil
			m.negotiate(p)
		})
	})
}

// negotiate sends a fresh offer if the connection is stable. Otherwise the
// attempt is remembered and retried once the connection settles.
func (m *Manager) negotiate(p *Peer) {
	if p.conn.SignalingState() != pion.SignalingStateStable {
		p.renegotiate = true
		m.logger.Debug("Negotiation deferred", "peer", p.id, "state", p.conn.SignalingState())
		return
	}

	p.makingOffer = true
	defer func() { p.makingOffer = false }()

	offer, err := p.conn.CreateOffer()
	if err != nil {
		m.fail(p, StageCreateOffer, err)
		return
	}
	// The state may have moved while the offer was being built.
	if !m.live(p) {
		return
	}
	if p.conn.SignalingState() != pion.SignalingStateStable {
		p.renegotiate = true
		return
	}
	if err := p.conn.SetLocalDescription(offer); err != nil {
		m.fail(p, StageSetLocal, err)
		return
	}

	raw := offer.SDP
	if local := p.conn.LocalDescription(); local != nil {
		raw = local.SDP
	}
	m.logger.Debug("Sending offer", "peer", p.id)
	m.send(p, signaling.Offer(raw))
}

// resumeNegotiation runs a deferred negotiation once the connection is
// stable.
func (m *Manager) resumeNegotiation(p *Peer) {
	if p.renegotiate && p.conn.SignalingState() == pion.SignalingStateStable {
		p.renegotiate = false
		m.scheduleNegotiation(p)
	}
}

// HandleSignal applies a signal received from peerID. Signals from peers
// without a live connection are stale and dropped. Failures are confined
// to the peer.
func (m *Manager) HandleSignal(peerID string, signal signaling.Signal) {
	p, ok := m.peers[peerID]
	if !ok {
		m.logger.Debug("Dropping signal for unknown peer", "peer", peerID, "kind", signal.Kind)
		return
	}

	switch signal.Kind {
	case signaling.SignalOffer:
		m.handleOffer(p, signal)
	case signaling.SignalAnswer:
		m.handleAnswer(p, signal)
	case signaling.SignalCandidate:
		m.handleCandidate(p, signal)
	default:
		m.fail(p, StageHandleSignal, signaling.WrapError("handle signal", ErrUnexpectedSignal, string(signal.Kind)))
	}
}

func (m *Manager) handleOffer(p *Peer, signal signaling.Signal) {
	collision := p.makingOffer || p.conn.SignalingState() != pion.SignalingStateStable
	p.ignoringOffer = !p.polite && collision
	if p.ignoringOffer {
		m.logger.Debug("Ignoring colliding offer", "peer", p.id)
		return
	}

	desc := signal.Description()
	// pion cannot roll back a local offer, so the polite side abandons it
	// together with the connection and answers on a fresh one.
	if collision || remoteRestarted(p.conn, desc) {
		if err := m.reallocate(p); err != nil {
			m.fail(p, StageReallocate, err)
			return
		}
		if collision {
			p.renegotiate = true
			m.logger.Debug("Abandoned local offer", "peer", p.id)
		}
	}

	if err := p.conn.SetRemoteDescription(desc); err != nil {
		m.fail(p, StageSetRemote, err)
		return
	}
	m.flushCandidates(p)

	answer, err := p.conn.CreateAnswer()
	if err != nil {
		m.fail(p, StageCreateAnswer, err)
		return
	}
	if err := p.conn.SetLocalDescription(answer); err != nil {
		m.fail(p, StageSetLocal, err)
		return
	}

	raw := answer.SDP
	if local := p.conn.LocalDescription(); local != nil {
		raw = local.SDP
	}
	m.send(p, signaling.Answer(raw))
	m.resumeNegotiation(p)
}

func (m *Manager) handleAnswer(p *Peer, signal signaling.Signal) {
	if state := p.conn.SignalingState(); state != pion.SignalingStateHaveLocalOffer {
		m.logger.Warn("Discarding answer in unexpected state", "peer", p.id, "state", state)
		return
	}

	desc := signal.Description()
	if remoteRestarted(p.conn, desc) {
		// The remote answered from a connection this one never
		// handshook with. Start over on a fresh pair.
		if err := m.reallocate(p); err != nil {
			m.fail(p, StageReallocate, err)
			return
		}
		m.logger.Debug("Remote answered from a new connection", "peer", p.id)
		m.scheduleNegotiation(p)
		return
	}

	if err := p.conn.SetRemoteDescription(desc); err != nil {
		m.fail(p, StageSetRemote, err)
		return
	}
	m.flushCandidates(p)
	m.resumeNegotiation(p)
}

func (m *Manager) handleCandidate(p *Peer, signal signaling.Signal) {
	if signal.Candidate == nil {
		m.fail(p, StageHandleSignal, signaling.ErrInvalidSignal)
		return
	}
	if p.conn.RemoteDescription() == nil {
		p.pendingCandidates = append(p.pendingCandidates, *signal.Candidate)
		return
	}
	m.addCandidate(p, *signal.Candidate)
}

func (m *Manager) flushCandidates(p *Peer) {
	pending := p.pendingCandidates
	p.pendingCandidates = nil
	for _, c := range pending {
		m.addCandidate(p, c)
	}
}

func (m *Manager) addCandidate(p *Peer, c pion.ICECandidateInit) {
	err := p.conn.AddICECandidate(c)
	if err == nil {
		return
	}
	if p.ignoringOffer {
		m.logger.Debug("Candidate rejected after ignored offer", "peer", p.id, "error", err)
		return
	}
	m.fail(p, StageAddCandidate, err)
}

// remoteRestarted reports whether desc was produced by a different remote
// connection than the description conn already applied. A DTLS session is
// bound to the certificate fingerprint it was started with.
func remoteRestarted(conn Connection, desc pion.SessionDescription) bool {
	cur := conn.RemoteDescription()
	if cur == nil {
		return false
	}
	return fingerprint(cur.SDP) != fingerprint(desc.SDP)
}

// fingerprint returns the first certificate fingerprint in raw, at session
// or media level, or "" if raw does not parse or carries none.
func fingerprint(raw string) string {
	var parsed sdp.SessionDescription
	if err := parsed.UnmarshalString(raw); err != nil {
		return ""
	}
	if v, ok := parsed.Attribute("fingerprint"); ok {
		return v
	}
	for _, media := range parsed.MediaDescriptions {
		if v, ok := media.Attribute("fingerprint"); ok {
			return v
		}
	}
	return ""
}
