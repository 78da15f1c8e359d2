// Package peertest provides in-memory connections for exercising the
// negotiation state machine without ICE or media.
package peertest

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/BioHazard786/warpmeet/internal/peer"
	pion "github.com/pion/webrtc/v4"
)

var (
	ErrClosed        = errors.New("connection closed")
	ErrInvalidState  = errors.New("invalid signaling state transition")
	ErrNoRemote      = errors.New("remote description not set")
	ErrBadCandidate  = errors.New("malformed candidate")
	ErrUnknownSender = errors.New("sender not attached to this connection")
	ErrKindMismatch  = errors.New("track kind does not match sender")
)

// BadCandidate is rejected by AddICECandidate.
const BadCandidate = "bad"

const (
	sdpHeader          = "v=0 fake"
	sdpTrackLinePrefix = "track "
)

// Conn is a fake peer.Connection. Offers and answers list the tracks of
// the side that created them; applying a remote description raises
// OnTrack for tracks seen for the first time and ends tracks that
// disappeared. Like pion, it rejects every rollback. Callbacks run
// synchronously on the calling goroutine.
type Conn struct {
	PeerID string

	// EmitCandidates makes every SetLocalDescription produce one local
	// candidate.
	EmitCandidates bool

	mu      sync.Mutex
	state   pion.SignalingState
	local   *pion.SessionDescription
	remote  *pion.SessionDescription
	senders []*Sender
	nextMid int
	closed  bool

	remoteTracks map[string]*Track

	onNegotiationNeeded func()
	onICECandidate      func(*pion.ICECandidateInit)
	onTrack             func(peer.InboundTrack)
	onStateChange       func(pion.PeerConnectionState)

	Candidates      []pion.ICECandidateInit
	OffersCreated   int
	AnswersCreated  int
	NegotiationRuns int
}

func NewConn(peerID string) *Conn {
	return &Conn{
		PeerID:       peerID,
		state:        pion.SignalingStateStable,
		remoteTracks: make(map[string]*Track),
	}
}

func (c *Conn) SignalingState() pion.SignalingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) CreateOffer() (pion.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return pion.SessionDescription{}, ErrClosed
	}
	if c.state != pion.SignalingStateStable && c.state != pion.SignalingStateHaveLocalOffer {
		return pion.SessionDescription{}, fmt.Errorf("create offer in %s: %w", c.state, ErrInvalidState)
	}
	c.OffersCreated++
	return pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: c.encode()}, nil
}

func (c *Conn) CreateAnswer() (pion.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return pion.SessionDescription{}, ErrClosed
	}
	if c.state != pion.SignalingStateHaveRemoteOffer {
		return pion.SessionDescription{}, fmt.Errorf("create answer in %s: %w", c.state, ErrInvalidState)
	}
	c.AnswersCreated++
	return pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: c.encode()}, nil
}

func (c *Conn) SetLocalDescription(desc pion.SessionDescription) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	switch {
	case desc.Type == pion.SDPTypeOffer && c.state == pion.SignalingStateStable:
		c.state = pion.SignalingStateHaveLocalOffer

	case desc.Type == pion.SDPTypeAnswer && c.state == pion.SignalingStateHaveRemoteOffer:
		c.state = pion.SignalingStateStable

	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("set local %s in %s: %w", desc.Type, state, ErrInvalidState)
	}

	c.local = &desc
	emit := c.EmitCandidates
	cb := c.onICECandidate
	c.mu.Unlock()

	if emit && cb != nil {
		mid := "0"
		cb(&pion.ICECandidateInit{Candidate: "candidate:" + c.PeerID + " 1 udp 1 127.0.0.1 9 typ host", SDPMid: &mid})
	}
	return nil
}

func (c *Conn) SetRemoteDescription(desc pion.SessionDescription) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !strings.HasPrefix(desc.SDP, sdpHeader) {
		c.mu.Unlock()
		return fmt.Errorf("set remote %s: unparsable sdp", desc.Type)
	}

	switch {
	case desc.Type == pion.SDPTypeOffer && c.state == pion.SignalingStateStable:
		c.state = pion.SignalingStateHaveRemoteOffer

	case desc.Type == pion.SDPTypeAnswer && c.state == pion.SignalingStateHaveLocalOffer:
		c.state = pion.SignalingStateStable

	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("set remote %s in %s: %w", desc.Type, state, ErrInvalidState)
	}

	c.remote = &desc
	added, ended := c.syncRemoteTracks(desc.SDP)
	cb := c.onTrack
	c.mu.Unlock()

	for _, t := range ended {
		t.End()
	}
	if cb != nil {
		for _, t := range added {
			cb(t)
		}
	}
	return nil
}

func (c *Conn) LocalDescription() *pion.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *Conn) RemoteDescription() *pion.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *Conn) AddICECandidate(candidate pion.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.remote == nil {
		return ErrNoRemote
	}
	if candidate.Candidate == BadCandidate {
		return ErrBadCandidate
	}
	c.Candidates = append(c.Candidates, candidate)
	return nil
}

func (c *Conn) AddTrack(track pion.TrackLocal) (peer.Sender, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	s := &Sender{
		conn:     c,
		mid:      c.nextMid,
		track:    track,
		trackID:  track.ID(),
		streamID: track.StreamID(),
		kind:     track.Kind(),
	}
	c.nextMid++
	c.senders = append(c.senders, s)
	c.mu.Unlock()

	c.negotiationNeeded()
	return s, nil
}

func (c *Conn) RemoveTrack(sender peer.Sender) error {
	s, ok := sender.(*Sender)
	if !ok || s.conn != c {
		return ErrUnknownSender
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	found := false
	for i, existing := range c.senders {
		if existing == s {
			c.senders = append(c.senders[:i], c.senders[i+1:]...)
			found = true
			break
		}
	}
	c.mu.Unlock()

	if !found {
		return ErrUnknownSender
	}
	c.negotiationNeeded()
	return nil
}

func (c *Conn) negotiationNeeded() {
	c.mu.Lock()
	c.NegotiationRuns++
	cb := c.onNegotiationNeeded
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (c *Conn) OnNegotiationNeeded(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNegotiationNeeded = f
}

func (c *Conn) OnICECandidate(f func(*pion.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICECandidate = f
}

func (c *Conn) OnTrack(f func(peer.InboundTrack)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = f
}

func (c *Conn) OnConnectionStateChange(f func(pion.PeerConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = f
}

// SetConnectionState raises the connection-state callback.
func (c *Conn) SetConnectionState(state pion.PeerConnectionState) {
	c.mu.Lock()
	cb := c.onStateChange
	c.mu.Unlock()
	if cb != nil {
		cb(state)
	}
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = pion.SignalingStateClosed
	tracks := make([]*Track, 0, len(c.remoteTracks))
	for _, t := range c.remoteTracks {
		tracks = append(tracks, t)
	}
	c.mu.Unlock()

	for _, t := range tracks {
		t.End()
	}
	return nil
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Senders returns the attached senders in attachment order.
func (c *Conn) Senders() []*Sender {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Sender(nil), c.senders...)
}

// RemoteTrack returns the inbound track with the given id, if one has been
// announced by the remote side.
func (c *Conn) RemoteTrack(trackID string) (*Track, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.remoteTracks[trackID]
	return t, ok
}

// RemoteStreams returns the distinct live inbound stream ids.
func (c *Conn) RemoteStreams() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int)
	for _, t := range c.remoteTracks {
		if !t.Ended() {
			out[t.streamID]++
		}
	}
	return out
}

// encode lists the sender tracks by the identity they were added with.
// Caller holds c.mu.
func (c *Conn) encode() string {
	var b strings.Builder
	b.WriteString(sdpHeader)
	for _, s := range c.senders {
		fmt.Fprintf(&b, "\n%s%s %s %s", sdpTrackLinePrefix, s.trackID, s.streamID, s.kind)
	}
	return b.String()
}

// syncRemoteTracks reconciles remoteTracks with the tracks listed in sdp.
// Caller holds c.mu.
func (c *Conn) syncRemoteTracks(sdp string) (added, ended []*Track) {
	seen := make(map[string]struct{})
	for _, line := range strings.Split(sdp, "\n") {
		if !strings.HasPrefix(line, sdpTrackLinePrefix) {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, sdpTrackLinePrefix))
		if len(fields) != 3 {
			continue
		}
		id, streamID := fields[0], fields[1]
		seen[id] = struct{}{}
		if t, ok := c.remoteTracks[id]; ok && !t.Ended() {
			continue
		}
		t := NewTrack(id, streamID, pion.NewRTPCodecType(fields[2]))
		c.remoteTracks[id] = t
		added = append(added, t)
	}
	for id, t := range c.remoteTracks {
		if _, ok := seen[id]; !ok && !t.Ended() {
			ended = append(ended, t)
		}
	}
	return added, ended
}
