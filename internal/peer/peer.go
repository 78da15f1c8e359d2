package peer

import (
	"github.com/BioHazard786/warpmeet/internal/clock"
	pion "github.com/pion/webrtc/v4"
)

// Peer is the manager's state for one remote participant.
type Peer struct {
	id     string
	conn   Connection
	polite bool

	makingOffer   bool
	ignoringOffer bool
	// renegotiate is set when a negotiation was skipped or abandoned; it
	// runs once the connection is stable again.
	renegotiate bool

	senders       map[pion.RTPCodecType]Sender
	screenSenders []Sender

	pendingCandidates []pion.ICECandidateInit

	negotiationTimer clock.Timer
	negotiationSeq   uint64

	state  pion.PeerConnectionState
	closed bool

	offersSent    int
	answersSent   int
	failures      int
	reallocations int
}

func (p *Peer) ID() string               { return p.id }
func (p *Peer) Connection() Connection   { return p.conn }
func (p *Peer) Polite() bool             { return p.polite }
func (p *Peer) MakingOffer() bool        { return p.makingOffer }
func (p *Peer) IgnoringOffer() bool      { return p.ignoringOffer }
func (p *Peer) ScreenSenders() int       { return len(p.screenSenders) }
func (p *Peer) PendingNegotiation() bool { return p.negotiationTimer != nil }
func (p *Peer) Reallocations() int       { return p.reallocations }
func (p *Peer) Sender(kind pion.RTPCodecType) Sender {
	return p.senders[kind]
}

func (p *Peer) stopTimer() {
	if p.negotiationTimer != nil {
		p.negotiationTimer.Stop()
		p.negotiationTimer = nil
	}
	p.negotiationSeq++
}

// Info is a point-in-time description of a connection.
type Info struct {
	PeerID          string
	Polite          bool
	SignalingState  pion.SignalingState
	ConnectionState pion.PeerConnectionState
	MediaSenders    int
	ScreenSenders   int
	OffersSent      int
	AnswersSent     int
	Failures        int
}

func (p *Peer) info() Info {
	return Info{
		PeerID:          p.id,
		Polite:          p.polite,
		SignalingState:  p.conn.SignalingState(),
		ConnectionState: p.state,
		MediaSenders:    len(p.senders),
		ScreenSenders:   len(p.screenSenders),
		OffersSent:      p.offersSent,
		AnswersSent:     p.answersSent,
		Failures:        p.failures,
	}
}
