// Package peer keeps one negotiated WebRTC connection per remote peer and
// runs perfect negotiation over the relay.
//
// A Manager is not safe for concurrent use. Every method, and every
// callback the manager hands to a Connection, runs on the owner's event
// loop; connection events reach the loop through Options.Dispatch.
package peer

import (
	"log/slog"
	"time"

	"github.com/BioHazard786/warpmeet/internal/clock"
	"github.com/BioHazard786/warpmeet/internal/media"
	"github.com/BioHazard786/warpmeet/internal/roster"
	"github.com/BioHazard786/warpmeet/internal/signaling"
	pion "github.com/pion/webrtc/v4"
)

// DefaultDebounce coalesces bursts of negotiation-needed events.
const DefaultDebounce = 100 * time.Millisecond

// SignalSender delivers signals to a remote peer through the relay.
type SignalSender interface {
	SendSignal(to string, signal signaling.Signal) error
}

// Hooks observe per-peer events. Any of them may be nil. They run on the
// event loop.
type Hooks struct {
	TrackAdded   func(peerID string, track InboundTrack)
	TrackEnded   func(peerID string, track InboundTrack)
	StateChanged func(peerID string, state pion.PeerConnectionState)
	Error        func(err *PeerError)
}

type Options struct {
	LocalID  string
	Factory  Factory
	Signals  SignalSender
	Clock    clock.Clock
	Debounce time.Duration

	// Dispatch runs f on the event loop that owns the manager. It must not
	// block, because connections may invoke callbacks from inside calls
	// the loop itself is making.
	Dispatch func(f func())

	Hooks  Hooks
	Logger *slog.Logger
}

type Manager struct {
	localID  string
	factory  Factory
	signals  SignalSender
	clock    clock.Clock
	debounce time.Duration
	dispatch func(func())
	hooks    Hooks
	logger   *slog.Logger

	peers         map[string]*Peer
	unallocatable map[string]struct{}

	local  map[pion.RTPCodecType]pion.TrackLocal
	screen *media.Stream
}

func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Dispatch == nil {
		opts.Dispatch = func(f func()) { f() }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		localID:       opts.LocalID,
		factory:       opts.Factory,
		signals:       opts.Signals,
		clock:         opts.Clock,
		debounce:      opts.Debounce,
		dispatch:      opts.Dispatch,
		hooks:         opts.Hooks,
		logger:        opts.Logger.With("local", opts.LocalID),
		peers:         make(map[string]*Peer),
		unallocatable: make(map[string]struct{}),
		local:         make(map[pion.RTPCodecType]pion.TrackLocal),
	}
}

// IsPolite reports whether the local side yields on offer collisions with
// remoteID: the lower-sorting id is polite.
func IsPolite(localID, remoteID string) bool {
	return localID < remoteID
}

func (m *Manager) LocalID() string { return m.localID }

// Create returns the connection for peerID, allocating it on first use.
// The new connection carries the current local camera, microphone and
// screen-share tracks. After an allocation failure Create keeps returning
// ErrAllocationFailed for that peer until Destroy is called for it.
func (m *Manager) Create(peerID string, polite bool) (*Peer, error) {
	if p, ok := m.peers[peerID]; ok {
		return p, nil
	}
	if _, ok := m.unallocatable[peerID]; ok {
		return nil, NewError(peerID, StageAllocate, ErrAllocationFailed)
	}

	conn, err := m.factory.NewConnection(peerID)
	if err != nil {
		m.unallocatable[peerID] = struct{}{}
		pe := NewError(peerID, StageAllocate, err)
		m.logger.Error("Failed to allocate connection", "peer", peerID, "error", err)
		if m.hooks.Error != nil {
			m.hooks.Error(pe)
		}
		return nil, pe
	}

	p := &Peer{id: peerID, polite: polite}
	m.peers[peerID] = p
	m.install(p, conn)

	m.logger.Info("Connection created", "peer", peerID, "polite", polite)
	return p, nil
}

// install makes conn the connection of p and attaches the current local
// camera, microphone and screen-share tracks to it.
func (m *Manager) install(p *Peer, conn Connection) {
	p.conn = conn
	p.senders = make(map[pion.RTPCodecType]Sender)
	p.screenSenders = nil
	p.state = pion.PeerConnectionStateNew
	m.bindHandlers(p)

	for _, kind := range []pion.RTPCodecType{pion.RTPCodecTypeVideo, pion.RTPCodecTypeAudio} {
		track, ok := m.local[kind]
		if !ok {
			continue
		}
		sender, err := conn.AddTrack(track)
		if err != nil {
			m.fail(p, StageAttachTrack, err)
			continue
		}
		p.senders[kind] = sender
	}
	m.attachScreen(p)
}

// reallocate replaces the connection of p with a fresh one carrying the
// current local tracks, and closes the old one. Queued remote candidates
// and negotiation flags survive; a pending debounce is cancelled.
func (m *Manager) reallocate(p *Peer) error {
	conn, err := m.factory.NewConnection(p.id)
	if err != nil {
		return err
	}
	old := p.conn
	p.stopTimer()
	p.makingOffer = false
	p.reallocations++
	m.install(p, conn)

	if err := old.Close(); err != nil {
		m.logger.Debug("Close failed", "peer", p.id, "stage", StageCloseConnection, "error", err)
	}
	m.logger.Info("Connection reallocated", "peer", p.id, "count", p.reallocations)
	return nil
}

func (m *Manager) bindHandlers(p *Peer) {
	conn := p.conn

	conn.OnNegotiationNeeded(func() {
		m.dispatch(func() {
			if m.current(p, conn) {
				m.scheduleNegotiation(p)
			}
		})
	})

	conn.OnICECandidate(func(c *pion.ICECandidateInit) {
		if c == nil {
			return
		}
		candidate := *c
		m.dispatch(func() {
			if m.current(p, conn) {
				m.send(p, signaling.Candidate(candidate))
			}
		})
	})

	conn.OnTrack(func(track InboundTrack) {
		m.dispatch(func() {
			if !m.current(p, conn) {
				return
			}
			m.logger.Debug("Remote track received", "peer", p.id, "track", track.ID(), "stream", track.StreamID(), "kind", track.Kind())
			if m.hooks.TrackAdded != nil {
				m.hooks.TrackAdded(p.id, track)
			}
			go func() {
				<-track.Done()
				// Tracks of a replaced connection still end for the
				// peer; only a destroyed peer drops them.
				m.dispatch(func() {
					if m.live(p) && m.hooks.TrackEnded != nil {
						m.hooks.TrackEnded(p.id, track)
					}
				})
			}()
		})
	})

	conn.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		m.dispatch(func() {
			if !m.current(p, conn) {
				return
			}
			p.state = state
			m.logger.Debug("Connection state changed", "peer", p.id, "state", state)
			if m.hooks.StateChanged != nil {
				m.hooks.StateChanged(p.id, state)
			}
		})
	})
}

// live reports whether p is still the registered connection for its id.
// Events from destroyed connections are dropped.
func (m *Manager) live(p *Peer) bool {
	return !p.closed && m.peers[p.id] == p
}

// current reports whether conn is still the connection of a live p.
func (m *Manager) current(p *Peer, conn Connection) bool {
	return m.live(p) && p.conn == conn
}

func (m *Manager) Get(peerID string) (*Peer, bool) {
	p, ok := m.peers[peerID]
	return p, ok
}

// Peers returns the ids of the live connections in sorted order.
func (m *Manager) Peers() []string {
	return roster.SortedIDs(m.peers)
}

func (m *Manager) Len() int { return len(m.peers) }

// Destroy closes the connection to peerID and drops all of its state. It
// also lifts an allocation-failure mark, so the peer may be allocated
// again if it re-enters the roster. It reports whether a connection
// existed.
func (m *Manager) Destroy(peerID string) bool {
	delete(m.unallocatable, peerID)

	p, ok := m.peers[peerID]
	if !ok {
		return false
	}
	delete(m.peers, peerID)

	p.closed = true
	p.stopTimer()
	if err := p.conn.Close(); err != nil {
		m.logger.Debug("Close failed", "peer", peerID, "stage", StageCloseConnection, "error", err)
	}
	p.senders = nil
	p.screenSenders = nil
	p.pendingCandidates = nil
	p.makingOffer = false
	p.ignoringOffer = false
	p.renegotiate = false

	m.logger.Info("Connection destroyed", "peer", peerID)
	return true
}

// Close destroys every connection.
func (m *Manager) Close() {
	for _, id := range m.Peers() {
		m.Destroy(id)
	}
	clear(m.unallocatable)
}

// ReplaceLocalTrack binds track as the local outbound track of its kind on
// every connection. A connection that already sends that kind swaps the
// track in place without renegotiating; one that does not gets a new
// sender, which triggers negotiation. A nil track clears the kind.
func (m *Manager) ReplaceLocalTrack(kind pion.RTPCodecType, track pion.TrackLocal) {
	if track == nil {
		delete(m.local, kind)
	} else {
		m.local[kind] = track
	}

	for _, id := range m.Peers() {
		p := m.peers[id]
		if sender, ok := p.senders[kind]; ok {
			if sender.Track() == track {
				continue
			}
			if err := sender.ReplaceTrack(track); err != nil {
				m.fail(p, StageReplaceTrack, err)
			}
			continue
		}
		if track == nil {
			continue
		}
		sender, err := p.conn.AddTrack(track)
		if err != nil {
			m.fail(p, StageAttachTrack, err)
			continue
		}
		p.senders[kind] = sender
	}
}

// SetScreenShareStream rebinds the screen-share tracks on every
// connection. It is a no-op when stream is the stream already bound, and
// reports whether anything changed.
func (m *Manager) SetScreenShareStream(stream *media.Stream) bool {
	if stream == m.screen {
		return false
	}
	m.screen = stream

	for _, id := range m.Peers() {
		p := m.peers[id]
		for _, sender := range p.screenSenders {
			if err := p.conn.RemoveTrack(sender); err != nil {
				m.logger.Debug("Screen sender removal failed", "peer", id, "stage", StageScreenShare, "error", err)
			}
		}
		p.screenSenders = nil
		m.attachScreen(p)
	}
	return true
}

func (m *Manager) attachScreen(p *Peer) {
	for _, track := range m.screen.Tracks() {
		sender, err := p.conn.AddTrack(track)
		if err != nil {
			m.fail(p, StageScreenShare, err)
			continue
		}
		p.screenSenders = append(p.screenSenders, sender)
	}
}

// Snapshot describes every live connection, sorted by peer id.
func (m *Manager) Snapshot() []Info {
	out := make([]Info, 0, len(m.peers))
	for _, id := range m.Peers() {
		out = append(out, m.peers[id].info())
	}
	return out
}

func (m *Manager) send(p *Peer, signal signaling.Signal) {
	if err := m.signals.SendSignal(p.id, signal); err != nil {
		m.fail(p, StageSendSignal, err)
		return
	}
	switch signal.Kind {
	case signaling.SignalOffer:
		p.offersSent++
	case signaling.SignalAnswer:
		p.answersSent++
	}
}

// fail logs and reports a per-peer failure. It never propagates past the
// peer.
func (m *Manager) fail(p *Peer, stage string, err error) {
	pe := NewError(p.id, stage, err)
	p.failures++
	m.logger.Warn("Peer operation failed", "peer", p.id, "stage", stage, "error", err)
	if m.hooks.Error != nil {
		m.hooks.Error(pe)
	}
}
