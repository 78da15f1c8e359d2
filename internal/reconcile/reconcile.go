// Package reconcile classifies the streams received from each remote peer
// as camera or screen share, using the peer's roster metadata.
//
// Classification is recomputed from scratch on every call and diffed
// against what the sink was last told, so running it again with unchanged
// inputs emits nothing.
package reconcile

import (
	"log/slog"

	"github.com/BioHazard786/warpmeet/internal/media"
	"github.com/BioHazard786/warpmeet/internal/roster"
	pion "github.com/pion/webrtc/v4"
)

// Class is the role a remote stream plays in the UI.
type Class string

const (
	Camera Class = "camera"
	Screen Class = "screen"
)

var classes = []Class{Camera, Screen}

// Sink receives classified streams. A stream is assigned to at most one
// class of a peer at a time.
type Sink interface {
	Assign(peerID string, class Class, stream *media.RemoteStream)
	Retract(peerID string, class Class)
}

// Directory looks up roster metadata. *roster.Roster satisfies it.
type Directory interface {
	Get(peerID string) (roster.Participant, bool)
}

// Assignment is the classified view of one peer's streams.
type Assignment struct {
	Camera *media.RemoteStream
	Screen *media.RemoteStream
}

func (a Assignment) get(c Class) *media.RemoteStream {
	if c == Screen {
		return a.Screen
	}
	return a.Camera
}

func (a *Assignment) set(c Class, s *media.RemoteStream) {
	if c == Screen {
		a.Screen = s
	} else {
		a.Camera = s
	}
}

type received struct {
	streams map[string]*media.RemoteStream
	seq     map[string]uint64
	// screenIDs holds every stream id ever announced as this peer's
	// screen share.
	screenIDs map[string]struct{}
	emitted   Assignment
}

type Reconciler struct {
	directory Directory
	sink      Sink
	logger    *slog.Logger

	peers map[string]*received
	next  uint64
}

func New(directory Directory, sink Sink, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		directory: directory,
		sink:      sink,
		logger:    logger,
		peers:     make(map[string]*received),
	}
}

func (r *Reconciler) peer(peerID string) *received {
	rs, ok := r.peers[peerID]
	if !ok {
		rs = &received{
			streams:   make(map[string]*media.RemoteStream),
			seq:       make(map[string]uint64),
			screenIDs: make(map[string]struct{}),
		}
		r.peers[peerID] = rs
	}
	return rs
}

// TrackAdded records an inbound track and reconciles its peer.
func (r *Reconciler) TrackAdded(peerID, streamID, trackID string, kind pion.RTPCodecType) {
	rs := r.peer(peerID)
	stream, ok := rs.streams[streamID]
	if !ok {
		stream = media.NewRemoteStream(streamID)
		rs.streams[streamID] = stream
		r.next++
		rs.seq[streamID] = r.next
	}
	stream.AddTrack(trackID, kind)
	r.Reconcile(peerID)
}

// TrackEnded marks an inbound track as stopped and reconciles its peer.
func (r *Reconciler) TrackEnded(peerID, streamID, trackID string) {
	rs, ok := r.peers[peerID]
	if !ok {
		return
	}
	stream, ok := rs.streams[streamID]
	if !ok || !stream.EndTrack(trackID) {
		return
	}
	r.Reconcile(peerID)
}

// Classify derives the assignment for peerID from its received streams and
// current metadata without emitting anything.
func (r *Reconciler) Classify(peerID string) Assignment {
	rs, ok := r.peers[peerID]
	if !ok {
		return Assignment{}
	}
	meta, _ := r.directory.Get(peerID)

	var out Assignment
	var cameraSeq uint64
	for id, stream := range rs.streams {
		if !stream.Active() {
			continue
		}
		if meta.IsScreenSharing && id == meta.ScreenShareStreamID {
			out.Screen = stream
			continue
		}
		if _, stale := rs.screenIDs[id]; stale {
			continue
		}
		if seq := rs.seq[id]; seq > cameraSeq {
			out.Camera = stream
			cameraSeq = seq
		}
	}
	return out
}

// Reconcile brings the sink in line with the current classification of
// peerID. Retractions are emitted before assignments.
func (r *Reconciler) Reconcile(peerID string) {
	rs, ok := r.peers[peerID]
	if !ok {
		return
	}
	if meta, ok := r.directory.Get(peerID); ok && meta.IsScreenSharing && meta.ScreenShareStreamID != "" {
		rs.screenIDs[meta.ScreenShareStreamID] = struct{}{}
	}

	next := r.Classify(peerID)
	for _, c := range classes {
		if cur := rs.emitted.get(c); cur != nil && cur != next.get(c) {
			r.sink.Retract(peerID, c)
			rs.emitted.set(c, nil)
			r.logger.Debug("Stream retracted", "peer", peerID, "class", c, "stream", cur.ID)
		}
	}
	for _, c := range classes {
		if s := next.get(c); s != nil && rs.emitted.get(c) != s {
			r.sink.Assign(peerID, c, s)
			rs.emitted.set(c, s)
			r.logger.Debug("Stream assigned", "peer", peerID, "class", c, "stream", s.ID)
		}
	}
}

// ReconcileAll reconciles every peer that has sent streams.
func (r *Reconciler) ReconcileAll() {
	for _, id := range roster.SortedIDs(r.peers) {
		r.Reconcile(id)
	}
}

// Forget retracts everything assigned for peerID and discards its
// received streams.
func (r *Reconciler) Forget(peerID string) {
	rs, ok := r.peers[peerID]
	if !ok {
		return
	}
	for _, c := range classes {
		if rs.emitted.get(c) != nil {
			r.sink.Retract(peerID, c)
		}
	}
	delete(r.peers, peerID)
}

// Reset forgets every peer.
func (r *Reconciler) Reset() {
	for _, id := range roster.SortedIDs(r.peers) {
		r.Forget(id)
	}
}

// Assigned returns what the sink currently holds for peerID.
func (r *Reconciler) Assigned(peerID string) Assignment {
	if rs, ok := r.peers[peerID]; ok {
		return rs.emitted
	}
	return Assignment{}
}

// Streams returns the number of streams received from peerID.
func (r *Reconciler) Streams(peerID string) int {
	if rs, ok := r.peers[peerID]; ok {
		return len(rs.streams)
	}
	return 0
}
