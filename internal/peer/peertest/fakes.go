package peertest

import (
	"sync"
	"sync/atomic"

	"github.com/BioHazard786/warpmeet/internal/peer"
	"github.com/BioHazard786/warpmeet/internal/signaling"
	pion "github.com/pion/webrtc/v4"
)

// Sender is a fake outbound track handle. The identity announced in SDP is
// the one the sender was created with; ReplaceTrack does not change it.
type Sender struct {
	conn     *Conn
	mid      int
	trackID  string
	streamID string
	kind     pion.RTPCodecType

	mu           sync.Mutex
	track        pion.TrackLocal
	Replacements int
}

func (s *Sender) Track() pion.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *Sender) ReplaceTrack(track pion.TrackLocal) error {
	if track != nil && track.Kind() != s.kind {
		return ErrKindMismatch
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = track
	s.Replacements++
	return nil
}

func (s *Sender) Kind() pion.RTPCodecType { return s.kind }
func (s *Sender) StreamID() string        { return s.streamID }

// Track is a fake inbound track.
type Track struct {
	id       string
	streamID string
	kind     pion.RTPCodecType
	done     chan struct{}
	endOnce  sync.Once
	packets  atomic.Uint64
}

func NewTrack(id, streamID string, kind pion.RTPCodecType) *Track {
	return &Track{id: id, streamID: streamID, kind: kind, done: make(chan struct{})}
}

func (t *Track) ID() string              { return t.id }
func (t *Track) StreamID() string        { return t.streamID }
func (t *Track) Kind() pion.RTPCodecType { return t.kind }
func (t *Track) Done() <-chan struct{}   { return t.done }
func (t *Track) Packets() uint64         { return t.packets.Load() }

// Deliver counts n received packets.
func (t *Track) Deliver(n uint64) { t.packets.Add(n) }

// End stops the track. It is safe to call more than once.
func (t *Track) End() {
	t.endOnce.Do(func() { close(t.done) })
}

func (t *Track) Ended() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

var _ peer.InboundTrack = (*Track)(nil)
var _ peer.Connection = (*Conn)(nil)

// Factory hands out Conns and remembers them by peer id.
type Factory struct {
	// Fail makes NewConnection fail for the listed peer ids.
	Fail map[string]error

	EmitCandidates bool

	mu      sync.Mutex
	conns   map[string]*Conn
	created int
}

func NewFactory() *Factory {
	return &Factory{Fail: make(map[string]error), conns: make(map[string]*Conn)}
}

func (f *Factory) NewConnection(peerID string) (peer.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	if err, ok := f.Fail[peerID]; ok {
		return nil, err
	}
	c := NewConn(peerID)
	c.EmitCandidates = f.EmitCandidates
	f.conns[peerID] = c
	return c, nil
}

// Conn returns the most recent connection allocated for peerID.
func (f *Factory) Conn(peerID string) *Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[peerID]
}

// Created returns how many allocations were attempted.
func (f *Factory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// Delivery is one signal in flight on a Wire.
type Delivery struct {
	From   string
	To     string
	Signal signaling.Signal
}

// Receiver is the side of a Wire that consumes signals.
type Receiver interface {
	HandleSignal(from string, signal signaling.Signal)
}

// Wire queues signals between endpoints and delivers them in send order
// when flushed, so tests control exactly when each side sees a message.
type Wire struct {
	mu        sync.Mutex
	queue     []Delivery
	receivers map[string]Receiver
	Log       []Delivery
}

func NewWire() *Wire {
	return &Wire{receivers: make(map[string]Receiver)}
}

// Attach registers the receiver for signals addressed to id.
func (w *Wire) Attach(id string, r Receiver) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.receivers[id] = r
}

// Endpoint returns a SignalSender that sends as from.
func (w *Wire) Endpoint(from string) peer.SignalSender {
	return endpoint{wire: w, from: from}
}

type endpoint struct {
	wire *Wire
	from string
}

func (e endpoint) SendSignal(to string, signal signaling.Signal) error {
	if err := signal.Validate(); err != nil {
		return err
	}
	e.wire.mu.Lock()
	defer e.wire.mu.Unlock()
	d := Delivery{From: e.from, To: to, Signal: signal}
	e.wire.queue = append(e.wire.queue, d)
	e.wire.Log = append(e.wire.Log, d)
	return nil
}

// Pending returns the undelivered signals.
func (w *Wire) Pending() []Delivery {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Delivery(nil), w.queue...)
}

// Step delivers the oldest queued signal and reports whether there was
// one. Signals to unattached endpoints are dropped.
func (w *Wire) Step() bool {
	w.mu.Lock()
	if len(w.queue) == 0 {
		w.mu.Unlock()
		return false
	}
	d := w.queue[0]
	w.queue = w.queue[1:]
	r := w.receivers[d.To]
	w.mu.Unlock()

	if r != nil {
		r.HandleSignal(d.From, d.Signal)
	}
	return true
}

// Flush delivers until the queue is empty, including signals produced
// while delivering, and returns how many were delivered.
func (w *Wire) Flush() int {
	n := 0
	for w.Step() {
		n++
	}
	return n
}

// Count returns how many signals of kind have been sent from one endpoint
// to another since the wire was created.
func (w *Wire) Count(from, to string, kind signaling.SignalKind) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, d := range w.Log {
		if d.From == from && d.To == to && d.Signal.Kind == kind {
			n++
		}
	}
	return n
}
