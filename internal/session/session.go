// Package session runs one meeting session: it turns roster changes, relay
// signals and local media changes into calls on the peer manager and the
// stream reconciler.
//
// Everything the session owns is touched only from its event loop. Public
// methods post work into the loop and are safe to call from any goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BioHazard786/warpmeet/internal/clock"
	"github.com/BioHazard786/warpmeet/internal/media"
	"github.com/BioHazard786/warpmeet/internal/peer"
	"github.com/BioHazard786/warpmeet/internal/reconcile"
	"github.com/BioHazard786/warpmeet/internal/roster"
	"github.com/BioHazard786/warpmeet/internal/signaling"
	pion "github.com/pion/webrtc/v4"
)

var (
	// ErrStopped is returned once the session has stopped.
	ErrStopped = errors.New("session stopped")

	// ErrNotStarted is returned by calls that wait for the event loop
	// before Start.
	ErrNotStarted = errors.New("session not started")
)

// Hooks observe the session. They run on the event loop and must not
// block.
type Hooks struct {
	PeerState func(peerID string, state pion.PeerConnectionState)
	Error     func(err error)
}

type Options struct {
	Transport signaling.Transport
	Factory   peer.Factory
	Sink      reconcile.Sink

	// Role is the local participant's role until the relay reports
	// another one.
	Role roster.Role

	// AudioMuted and VideoOff are the initial media flags, matching what
	// the join request told the relay.
	AudioMuted bool
	VideoOff   bool

	Clock    clock.Clock
	Debounce time.Duration
	Hooks    Hooks
	Logger   *slog.Logger
}

type Session struct {
	transport signaling.Transport
	hooks     Hooks
	logger    *slog.Logger
	loop      *loop
	startOnce sync.Once

	role       roster.Role
	roster     *roster.Roster
	peers      *peer.Manager
	reconciler *reconcile.Reconciler
	source     media.Source
	inbound    map[string]map[string]peer.InboundTrack

	audioMuted bool
	videoOff   bool
}

func New(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sink == nil {
		opts.Sink = discardSink{}
	}
	if opts.Role == "" {
		opts.Role = roster.RoleParticipant
	}

	localID := opts.Transport.LocalID()
	s := &Session{
		transport: opts.Transport,
		hooks:     opts.Hooks,
		logger:    opts.Logger.With("local", localID),
		loop:      newLoop(),
		role:      opts.Role,
		roster:    roster.New(localID),
		inbound:   make(map[string]map[string]peer.InboundTrack),

		audioMuted: opts.AudioMuted,
		videoOff:   opts.VideoOff,
	}
	s.reconciler = reconcile.New(s.roster, opts.Sink, opts.Logger)
	s.peers = peer.NewManager(peer.Options{
		LocalID:  localID,
		Factory:  opts.Factory,
		Signals:  opts.Transport,
		Clock:    opts.Clock,
		Debounce: opts.Debounce,
		Dispatch: func(f func()) { s.loop.post(f) },
		Hooks: peer.Hooks{
			TrackAdded:   s.trackAdded,
			TrackEnded:   s.trackEnded,
			StateChanged: s.stateChanged,
			Error:        func(err *peer.PeerError) { s.report(err) },
		},
		Logger: opts.Logger,
	})
	return s
}

// Start runs the event loop until ctx is done or Stop is called.
func (s *Session) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.logger.Info("Session started", "role", s.role)
		s.loop.start(ctx, s.teardown)
	})
}

// Stop leaves the session: every connection is closed, every stream
// assignment retracted and the local camera and screen tracks stopped. It
// blocks until teardown has finished.
func (s *Session) Stop() {
	s.startOnce.Do(func() {
		s.loop.start(context.Background(), s.teardown)
	})
	s.loop.stop()
	<-s.loop.stopped
}

// Done is closed once the session has torn down.
func (s *Session) Done() <-chan struct{} { return s.loop.stopped }

// Flush waits until everything posted before the call has run.
func (s *Session) Flush() error {
	return s.loop.call(func() {})
}

func (s *Session) post(f func()) error {
	if !s.loop.post(f) {
		return ErrStopped
	}
	return nil
}

// ApplyRoster replaces the remote roster. Connections are created for
// peers without one and destroyed for peers that left.
func (s *Session) ApplyRoster(participants []roster.Participant) error {
	list := append([]roster.Participant(nil), participants...)
	return s.post(func() { s.applyRoster(list) })
}

// PatchParticipant merges a metadata update into the roster and
// re-reconciles every peer.
func (s *Session) PatchParticipant(peerID string, patch roster.Patch) error {
	return s.post(func() { s.patchParticipant(peerID, patch) })
}

// HandleSignal hands a relayed signal to the peer manager.
func (s *Session) HandleSignal(from string, signal signaling.Signal) {
	if err := s.post(func() { s.peers.HandleSignal(from, signal) }); err != nil {
		s.logger.Debug("Signal dropped", "peer", from, "kind", signal.Kind, "error", err)
	}
}

// HandleEvent applies one room event from the relay. Events run in the
// order they are handed over, so a caller passing them in relay order
// never sees a signal from a peer the roster has not introduced yet.
func (s *Session) HandleEvent(ev signaling.Event) error {
	switch ev.Kind {
	case signaling.EventParticipants:
		return s.ApplyRoster(ev.Participants)
	case signaling.EventParticipantUpdated:
		return s.PatchParticipant(ev.Update.PeerID, ev.Update.Patch)
	case signaling.EventSignal:
		env := ev.Envelope
		return s.post(func() { s.peers.HandleSignal(env.From, env.Signal) })
	default:
		return fmt.Errorf("unknown event kind %d", ev.Kind)
	}
}

func (s *Session) applyRoster(list []roster.Participant) {
	localID := s.peers.LocalID()
	for _, p := range list {
		if p.PeerID == localID && p.Role != "" {
			s.setRole(p.Role)
		}
	}

	joined, left := s.roster.Replace(list)
	for _, id := range left {
		s.peers.Destroy(id)
		s.reconciler.Forget(id)
		delete(s.inbound, id)
	}
	for _, id := range s.roster.IDs() {
		if _, ok := s.peers.Get(id); ok {
			continue
		}
		if _, err := s.peers.Create(id, peer.IsPolite(localID, id)); err != nil {
			s.logger.Debug("Peer has no connection", "peer", id, "error", err)
		}
	}
	s.reconciler.ReconcileAll()

	if len(joined) > 0 || len(left) > 0 {
		s.logger.Info("Roster changed", "joined", joined, "left", left, "size", s.roster.Len())
	}
}

func (s *Session) patchParticipant(peerID string, patch roster.Patch) {
	if peerID == s.peers.LocalID() {
		if patch.Role != nil {
			s.setRole(*patch.Role)
		}
		return
	}
	if !s.roster.Patch(peerID, patch) {
		s.logger.Debug("Patch for unknown participant", "peer", peerID)
		return
	}
	s.reconciler.ReconcileAll()
}

func (s *Session) setRole(role roster.Role) {
	if role == s.role {
		return
	}
	s.logger.Info("Local role changed", "from", s.role, "to", role)
	s.role = role
}

func (s *Session) trackAdded(peerID string, track peer.InboundTrack) {
	tracks, ok := s.inbound[peerID]
	if !ok {
		tracks = make(map[string]peer.InboundTrack)
		s.inbound[peerID] = tracks
	}
	tracks[track.ID()] = track
	s.reconciler.TrackAdded(peerID, track.StreamID(), track.ID(), track.Kind())
}

// trackEnded ignores a track that a newer connection to the same peer
// has already delivered again.
func (s *Session) trackEnded(peerID string, track peer.InboundTrack) {
	tracks := s.inbound[peerID]
	if tracks[track.ID()] != track {
		return
	}
	delete(tracks, track.ID())
	s.reconciler.TrackEnded(peerID, track.StreamID(), track.ID())
}

func (s *Session) stateChanged(peerID string, state pion.PeerConnectionState) {
	if s.hooks.PeerState != nil {
		s.hooks.PeerState(peerID, state)
	}
}

func (s *Session) report(err error) {
	if s.hooks.Error != nil {
		s.hooks.Error(err)
	}
}

func (s *Session) teardown() {
	s.peers.Close()
	s.reconciler.Reset()
	s.source.StopAll()
	clear(s.inbound)
	s.logger.Info("Session stopped")
}

// SwitchCamera acquires a stream from device and adopts it as the local
// camera. If acquisition fails the current stream is kept and the error
// is returned and reported. Like the other calls that wait for the event
// loop, it returns ErrNotStarted before Start.
func (s *Session) SwitchCamera(ctx context.Context, device media.Device) error {
	stream, err := device.Open(ctx)
	if err != nil {
		err = fmt.Errorf("switch camera: %w", err)
		s.logger.Warn("Camera unavailable, keeping current stream", "error", err)
		if postErr := s.post(func() { s.report(err) }); postErr != nil {
			s.logger.Debug("Camera error dropped", "error", err, "reason", postErr)
		}
		return err
	}
	if err := s.loop.call(func() { s.adoptCamera(stream) }); err != nil {
		stream.Stop()
		return err
	}
	return nil
}

// SetLocalStream adopts an already acquired camera stream. A nil stream
// stops the camera and removes it from every connection.
func (s *Session) SetLocalStream(stream *media.Stream) error {
	return s.loop.call(func() { s.adoptCamera(stream) })
}

func (s *Session) adoptCamera(stream *media.Stream) {
	prev := s.source.Camera()
	if !s.source.ReplaceCamera(stream) {
		return
	}
	s.bindCamera()
	s.logger.Info("Camera stream adopted", "stream", streamID(stream), "previous", streamID(prev))
}

// bindCamera points every camera sender at the current camera tracks. A
// muted microphone or a turned-off camera is bound as no track, which
// keeps the sender and so needs no renegotiation.
func (s *Session) bindCamera() {
	camera := s.source.Camera()
	video, audio := trackLocal(camera.Video()), trackLocal(camera.Audio())
	if s.videoOff {
		video = nil
	}
	if s.audioMuted {
		audio = nil
	}
	s.peers.ReplaceLocalTrack(pion.RTPCodecTypeVideo, video)
	s.peers.ReplaceLocalTrack(pion.RTPCodecTypeAudio, audio)
}

// SetAudioMuted mutes or unmutes the local microphone and announces the
// change to the room.
func (s *Session) SetAudioMuted(muted bool) error {
	return s.loop.call(func() {
		if s.audioMuted == muted {
			return
		}
		s.audioMuted = muted
		s.bindCamera()
		s.announce(roster.Patch{IsAudioMuted: &muted})
		s.logger.Info("Microphone toggled", "muted", muted)
	})
}

// SetVideoOff turns the local camera video off or back on and announces
// the change to the room.
func (s *Session) SetVideoOff(off bool) error {
	return s.loop.call(func() {
		if s.videoOff == off {
			return
		}
		s.videoOff = off
		s.bindCamera()
		s.announce(roster.Patch{IsVideoOff: &off})
		s.logger.Info("Camera video toggled", "off", off)
	})
}

// ShareScreen starts sharing stream with every peer and announces it. A
// stream that is already being shared is ignored.
func (s *Session) ShareScreen(stream *media.Stream) error {
	if stream == nil {
		return s.StopScreenShare()
	}
	if len(stream.Tracks()) == 0 {
		return media.ErrNoTracks
	}
	return s.loop.call(func() { s.shareScreen(stream) })
}

// StopScreenShare stops the current screen share, removes it from every
// peer and announces the stop.
func (s *Session) StopScreenShare() error {
	return s.loop.call(s.stopScreenShare)
}

// ScreenShareEnded handles a capture that ended without the user asking.
// The stop is announced only when the local participant is host or
// co-host.
func (s *Session) ScreenShareEnded() error {
	return s.loop.call(s.screenEnded)
}

func (s *Session) shareScreen(stream *media.Stream) {
	prev := s.source.Screen()
	if !s.source.SetScreen(stream) {
		return
	}
	s.peers.SetScreenShareStream(stream)
	prev.Stop()
	s.announce(roster.ScreenShare(stream.ID))
	s.logger.Info("Screen share started", "stream", stream.ID)

	go s.watchScreen(stream)
}

func (s *Session) stopScreenShare() {
	prev := s.source.StopScreen()
	if prev == nil {
		return
	}
	s.peers.SetScreenShareStream(nil)
	s.announce(roster.ScreenShare(""))
	s.logger.Info("Screen share stopped", "stream", prev.ID)
}

func (s *Session) screenEnded() {
	prev := s.source.StopScreen()
	if prev == nil {
		return
	}
	s.peers.SetScreenShareStream(nil)
	s.logger.Info("Screen share ended", "stream", prev.ID, "role", s.role)
	if s.role.Elevated() {
		s.announce(roster.ScreenShare(""))
	}
}

// watchScreen waits for the capture to end and reports it unless the
// stream was replaced or stopped in the meantime.
func (s *Session) watchScreen(stream *media.Stream) {
	track := stream.Video()
	if track == nil {
		track = stream.Tracks()[0]
	}
	<-track.Done()
	s.loop.post(func() {
		if s.source.Screen() == stream {
			s.screenEnded()
		}
	})
}

func (s *Session) announce(patch roster.Patch) {
	if err := s.transport.UpdateParticipant(patch); err != nil {
		err = signaling.NewError("update participant", err)
		s.logger.Warn("Failed to announce participant update", "error", err)
		s.report(err)
	}
}

func trackLocal(t *media.LocalTrack) pion.TrackLocal {
	if t == nil {
		return nil
	}
	return t
}

func streamID(s *media.Stream) string {
	if s == nil {
		return ""
	}
	return s.ID
}

type discardSink struct{}

func (discardSink) Assign(string, reconcile.Class, *media.RemoteStream) {}
func (discardSink) Retract(string, reconcile.Class)                     {}
