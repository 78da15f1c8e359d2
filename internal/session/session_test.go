package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/warpmeet/internal/clock"
	"github.com/BioHazard786/warpmeet/internal/media"
	"github.com/BioHazard786/warpmeet/internal/peer"
	"github.com/BioHazard786/warpmeet/internal/peer/peertest"
	"github.com/BioHazard786/warpmeet/internal/reconcile"
	"github.com/BioHazard786/warpmeet/internal/roster"
	"github.com/BioHazard786/warpmeet/internal/signaling"
	pion "github.com/pion/webrtc/v4"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Assign(peerID string, class reconcile.Class, stream *media.RemoteStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, fmt.Sprintf("assign %s %s %s", peerID, class, stream.ID))
}

func (s *recordingSink) Retract(peerID string, class reconcile.Class) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, fmt.Sprintf("retract %s %s", peerID, class))
}

func (s *recordingSink) take() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out
}

// fakeTransport sends signals over the meeting's wire and relays
// participant updates to every other member, like the relay server does.
type fakeTransport struct {
	id      string
	meeting *meeting

	mu      sync.Mutex
	patches []roster.Patch
	hold    bool
	fail    error
}

func (t *fakeTransport) LocalID() string { return t.id }

func (t *fakeTransport) SendSignal(to string, signal signaling.Signal) error {
	return t.meeting.wire.Endpoint(t.id).SendSignal(to, signal)
}

func (t *fakeTransport) UpdateParticipant(patch roster.Patch) error {
	t.mu.Lock()
	t.patches = append(t.patches, patch)
	hold, fail := t.hold, t.fail
	t.mu.Unlock()

	if fail != nil {
		return fail
	}
	if !hold {
		t.meeting.relayPatch(t.id, patch)
	}
	return nil
}

func (t *fakeTransport) sent() []roster.Patch {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]roster.Patch(nil), t.patches...)
}

type member struct {
	id        string
	session   *Session
	factory   *peertest.Factory
	transport *fakeTransport
	sink      *recordingSink

	mu   sync.Mutex
	errs []error
}

func (m *member) errors() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]error(nil), m.errs...)
}

func (m *member) snapshot(t *testing.T) Snapshot {
	t.Helper()
	snap, err := m.session.Snapshot()
	if err != nil {
		t.Fatalf("%s: Snapshot() error = %v", m.id, err)
	}
	return snap
}

// meeting wires several sessions together through a signal wire and a
// shared fake clock.
type meeting struct {
	t       *testing.T
	clock   *clock.FakeClock
	wire    *peertest.Wire
	members []*member
}

func newMeeting(t *testing.T) *meeting {
	return &meeting{t: t, clock: clock.Fake(time.Unix(0, 0)), wire: peertest.NewWire()}
}

func (n *meeting) join(id string, role roster.Role, with ...func(*Options)) *member {
	m := &member{
		id:        id,
		factory:   peertest.NewFactory(),
		transport: &fakeTransport{id: id, meeting: n},
		sink:      &recordingSink{},
	}
	opts := Options{
		Transport: m.transport,
		Factory:   m.factory,
		Sink:      m.sink,
		Role:      role,
		Clock:     n.clock,
		Hooks: Hooks{Error: func(err error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.errs = append(m.errs, err)
		}},
		Logger: discard,
	}
	for _, f := range with {
		f(&opts)
	}
	m.session = New(opts)
	m.session.Start(context.Background())
	n.t.Cleanup(m.session.Stop)
	n.wire.Attach(id, m.session)
	n.members = append(n.members, m)
	return m
}

func (n *meeting) relayPatch(from string, patch roster.Patch) {
	for _, m := range n.members {
		if m.id != from {
			m.session.PatchParticipant(from, patch)
		}
	}
}

// seat gives every member the full roster.
func (n *meeting) seat() {
	n.t.Helper()
	list := make([]roster.Participant, 0, len(n.members))
	for _, m := range n.members {
		list = append(list, roster.Participant{PeerID: m.id})
	}
	for _, m := range n.members {
		if err := m.session.ApplyRoster(list); err != nil {
			n.t.Fatalf("%s: ApplyRoster() error = %v", m.id, err)
		}
	}
}

func (n *meeting) idle() bool {
	for _, m := range n.members {
		if !m.session.loop.idle() {
			return false
		}
	}
	return true
}

// settle runs every loop and delivers signals until nothing moves.
func (n *meeting) settle() {
	n.t.Helper()
	for i := 0; i < 1000; i++ {
		for _, m := range n.members {
			m.session.Flush()
		}
		if n.wire.Flush() == 0 && n.idle() {
			return
		}
	}
	n.t.Fatal("meeting did not settle")
}

// converge lets debounce timers fire until no negotiation is pending.
func (n *meeting) converge() {
	n.t.Helper()
	for i := 0; i < 50; i++ {
		n.settle()
		if n.clock.Pending() == 0 {
			return
		}
		n.clock.Advance(peer.DefaultDebounce)
	}
	n.t.Fatal("negotiation did not converge")
}

// eventually settles the meeting until cond holds. Track-end watchers run
// on their own goroutines, so some effects arrive asynchronously.
func (n *meeting) eventually(cond func() bool) {
	n.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n.converge()
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	n.t.Fatal("condition not reached")
}

func newStream(t *testing.T, id string, kinds ...pion.RTPCodecType) *media.Stream {
	t.Helper()
	tracks := make([]*media.LocalTrack, 0, len(kinds))
	for _, kind := range kinds {
		track, err := media.NewLocalTrack(kind, id+"-"+kind.String(), id)
		if err != nil {
			t.Fatalf("NewLocalTrack() error = %v", err)
		}
		tracks = append(tracks, track)
	}
	return media.NewStream(id, tracks...)
}

func newCamera(t *testing.T, id string) *media.Stream {
	return newStream(t, id, pion.RTPCodecTypeVideo, pion.RTPCodecTypeAudio)
}

func setCamera(t *testing.T, m *member, stream *media.Stream) {
	t.Helper()
	if err := m.session.SetLocalStream(stream); err != nil {
		t.Fatalf("%s: SetLocalStream() error = %v", m.id, err)
	}
}

// callIn runs f on the member's loop.
func callIn(t *testing.T, m *member, f func(s *Session)) {
	t.Helper()
	if err := m.session.loop.call(func() { f(m.session) }); err != nil {
		t.Fatalf("%s: call error = %v", m.id, err)
	}
}

func TestRosterCreatesOneConnectionPerPeer(t *testing.T) {
	n := newMeeting(t)
	a := n.join("a1", roster.RoleHost)

	list := []roster.Participant{{PeerID: "a1"}, {PeerID: "b2"}}
	for i := 0; i < 3; i++ {
		if err := a.session.ApplyRoster(list); err != nil {
			t.Fatalf("ApplyRoster() error = %v", err)
		}
	}
	n.settle()

	if got := a.factory.Created(); got != 1 {
		t.Fatalf("allocations = %d, want 1", got)
	}
	snap := a.snapshot(t)
	if len(snap.Peers) != 1 || snap.Peers[0].Participant.PeerID != "b2" {
		t.Fatalf("peers = %+v, want only b2", snap.Peers)
	}
	if !snap.Peers[0].Connected || !snap.Peers[0].Connection.Polite {
		t.Fatalf("b2 connection = %+v, want connected and polite", snap.Peers[0].Connection)
	}
}

func TestCamerasAreExchangedAndClassified(t *testing.T) {
	n := newMeeting(t)
	a := n.join("a1", roster.RoleHost)
	b := n.join("b2", roster.RoleParticipant)
	setCamera(t, a, newCamera(t, "a1-cam"))
	setCamera(t, b, newCamera(t, "b2-cam"))

	n.seat()
	n.converge()

	for _, m := range n.members {
		for _, other := range n.members {
			if other == m {
				continue
			}
			if state := m.factory.Conn(other.id).SignalingState(); state != pion.SignalingStateStable {
				t.Fatalf("%s -> %s state = %s, want stable", m.id, other.id, state)
			}
		}
	}
	if got := a.sink.take(); !reflect.DeepEqual(got, []string{"assign b2 camera b2-cam"}) {
		t.Fatalf("a1 sink = %v", got)
	}
	if got := b.sink.take(); !reflect.DeepEqual(got, []string{"assign a1 camera a1-cam"}) {
		t.Fatalf("b2 sink = %v", got)
	}
	if view := a.snapshot(t).Peers[0]; view.Camera != "b2-cam" || view.Tracks != 2 {
		t.Fatalf("a1 view of b2 = %+v", view)
	}
}

func TestLateScreenMetadataReclassifies(t *testing.T) {
	n := newMeeting(t)
	a := n.join("a1", roster.RoleHost)
	b := n.join("b2", roster.RoleParticipant)
	setCamera(t, b, newCamera(t, "b2-cam"))
	n.seat()
	n.converge()
	a.sink.take()

	b.transport.mu.Lock()
	b.transport.hold = true
	b.transport.mu.Unlock()

	screen := newStream(t, "s123", pion.RTPCodecTypeVideo)
	if err := b.session.ShareScreen(screen); err != nil {
		t.Fatalf("ShareScreen() error = %v", err)
	}
	n.converge()

	want := []string{"retract b2 camera", "assign b2 camera s123"}
	if got := a.sink.take(); !reflect.DeepEqual(got, want) {
		t.Fatalf("before metadata: %v, want %v", got, want)
	}

	a.session.PatchParticipant("b2", roster.ScreenShare("s123"))
	n.settle()

	want = []string{"retract b2 camera", "assign b2 camera b2-cam", "assign b2 screen s123"}
	if got := a.sink.take(); !reflect.DeepEqual(got, want) {
		t.Fatalf("after metadata: %v, want %v", got, want)
	}
	if view := a.snapshot(t).Peers[0]; view.Camera != "b2-cam" || view.Screen != "s123" {
		t.Fatalf("a1 view of b2 = camera %q, screen %q", view.Camera, view.Screen)
	}
}

func TestSimultaneousScreenSharesConverge(t *testing.T) {
	n := newMeeting(t)
	a := n.join("a1", roster.RoleHost)
	b := n.join("b2", roster.RoleCoHost)
	setCamera(t, a, newCamera(t, "a1-cam"))
	setCamera(t, b, newCamera(t, "b2-cam"))
	n.seat()
	n.converge()

	if err := a.session.ShareScreen(newStream(t, "a1-scr", pion.RTPCodecTypeVideo)); err != nil {
		t.Fatal(err)
	}
	if err := b.session.ShareScreen(newStream(t, "b2-scr", pion.RTPCodecTypeVideo)); err != nil {
		t.Fatal(err)
	}
	n.converge()

	for _, pair := range [][2]*member{{a, b}, {b, a}} {
		local, remote := pair[0], pair[1]
		conn := local.factory.Conn(remote.id)
		if state := conn.SignalingState(); state != pion.SignalingStateStable {
			t.Fatalf("%s -> %s state = %s", local.id, remote.id, state)
		}
		view := local.snapshot(t).Peers[0]
		if view.Camera != remote.id+"-cam" || view.Screen != remote.id+"-scr" {
			t.Fatalf("%s view of %s = camera %q, screen %q", local.id, remote.id, view.Camera, view.Screen)
		}
		if view.Connection.ScreenSenders != 1 {
			t.Fatalf("%s screen senders to %s = %d, want 1", local.id, remote.id, view.Connection.ScreenSenders)
		}
	}
	callIn(t, a, func(s *Session) {
		if p, _ := s.peers.Get("b2"); p.Reallocations() == 0 {
			t.Error("polite side never abandoned its offer")
		}
	})
	if errs := append(a.errors(), b.errors()...); len(errs) != 0 {
		t.Fatalf("errors = %v", errs)
	}
}

func TestEventsApplyInRelayOrder(t *testing.T) {
	n := newMeeting(t)
	a := n.join("a1", roster.RoleHost)
	b := n.join("b2", roster.RoleParticipant)
	setCamera(t, b, newCamera(t, "b2-cam"))

	list := []roster.Participant{{PeerID: "a1"}, {PeerID: "b2"}}
	if err := b.session.ApplyRoster(list); err != nil {
		t.Fatal(err)
	}
	n.converge()

	var offer signaling.Signal
	for _, d := range n.wire.Log {
		if d.From == "b2" && d.Signal.Kind == signaling.SignalOffer {
			offer = d.Signal
		}
	}
	if offer.Kind == "" {
		t.Fatal("b2 never offered")
	}

	// The roster introducing b2 and b2's offer arrive back to back.
	events := []signaling.Event{
		{Kind: signaling.EventParticipants, Participants: list},
		{Kind: signaling.EventSignal, Envelope: signaling.Envelope{From: "b2", Signal: offer}},
	}
	for _, ev := range events {
		if err := a.session.HandleEvent(ev); err != nil {
			t.Fatalf("HandleEvent() error = %v", err)
		}
	}
	n.converge()

	if got := n.wire.Count("a1", "b2", signaling.SignalAnswer); got != 1 {
		t.Fatalf("answers = %d, want 1", got)
	}
	if state := b.factory.Conn("a1").SignalingState(); state != pion.SignalingStateStable {
		t.Fatalf("b2 state = %s, want stable", state)
	}
	if got := a.sink.take(); !reflect.DeepEqual(got, []string{"assign b2 camera b2-cam"}) {
		t.Fatalf("a1 sink = %v", got)
	}
	if err := a.session.HandleEvent(signaling.Event{}); err == nil {
		t.Fatal("HandleEvent accepted an event without a kind")
	}
}

func TestTrackFromReplacedConnectionDoesNotRetract(t *testing.T) {
	n := newMeeting(t)
	a := n.join("a1", roster.RoleHost)
	n.seat()
	n.settle()

	old := peertest.NewTrack("b2-cam-video", "b2-cam", pion.RTPCodecTypeVideo)
	fresh := peertest.NewTrack("b2-cam-video", "b2-cam", pion.RTPCodecTypeVideo)
	callIn(t, a, func(s *Session) {
		s.trackAdded("b2", old)
		s.trackAdded("b2", fresh)
		s.trackEnded("b2", old)
	})
	if got := a.sink.take(); !reflect.DeepEqual(got, []string{"assign b2 camera b2-cam"}) {
		t.Fatalf("sink = %v, want a single assignment", got)
	}

	callIn(t, a, func(s *Session) { s.trackEnded("b2", fresh) })
	if got := a.sink.take(); !reflect.DeepEqual(got, []string{"retract b2 camera"}) {
		t.Fatalf("sink = %v, want the camera retracted", got)
	}
}

func TestPeerLeavingTearsDownItsState(t *testing.T) {
	n := newMeeting(t)
	a := n.join("a1", roster.RoleHost)
	b := n.join("b2", roster.RoleParticipant)
	setCamera(t, b, newCamera(t, "b2-cam"))
	if err := b.session.ShareScreen(newStream(t, "b2-scr", pion.RTPCodecTypeVideo)); err != nil {
		t.Fatal(err)
	}
	n.seat()
	n.converge()
	a.session.PatchParticipant("b2", roster.ScreenShare("b2-scr"))
	n.settle()
	a.sink.take()

	if err := a.session.ApplyRoster([]roster.Participant{{PeerID: "a1"}}); err != nil {
		t.Fatal(err)
	}
	n.settle()

	want := []string{"retract b2 camera", "retract b2 screen"}
	if got := a.sink.take(); !reflect.DeepEqual(got, want) {
		t.Fatalf("sink = %v, want %v", got, want)
	}
	if !a.factory.Conn("b2").Closed() {
		t.Fatal("connection to b2 left open")
	}
	callIn(t, a, func(s *Session) {
		if s.reconciler.Streams("b2") != 0 {
			t.Error("received streams kept for b2")
		}
		if _, ok := s.inbound["b2"]; ok {
			t.Error("inbound tracks kept for b2")
		}
		if s.peers.Len() != 0 {
			t.Errorf("live connections = %d, want 0", s.peers.Len())
		}
	})
	if peers := a.snapshot(t).Peers; len(peers) != 0 {
		t.Fatalf("snapshot peers = %+v", peers)
	}
}

func TestSwitchCameraStopsPreviousStream(t *testing.T) {
	n := newMeeting(t)
	a := n.join("a1", roster.RoleHost)
	n.join("b2", roster.RoleParticipant)
	first := newCamera(t, "cam-1")
	setCamera(t, a, first)
	n.seat()
	n.converge()
	offers := n.wire.Count("a1", "b2", signaling.SignalOffer)

	second := newCamera(t, "cam-2")
	err := a.session.SwitchCamera(context.Background(), media.DeviceFunc(func(context.Context) (*media.Stream, error) {
		return second, nil
	}))
	if err != nil {
		t.Fatalf("SwitchCamera() error = %v", err)
	}
	n.converge()

	if !first.Ended() {
		t.Fatal("previous camera still running")
	}
	if first.Stop() != 0 {
		t.Fatal("previous camera tracks were not all stopped by the switch")
	}
	if second.Ended() {
		t.Fatal("new camera stopped")
	}
	if got := n.wire.Count("a1", "b2", signaling.SignalOffer); got != offers {
		t.Fatalf("offers after same-kind switch = %d, want %d", got, offers)
	}
	callIn(t, a, func(s *Session) {
		p, _ := s.peers.Get("b2")
		if p.Sender(pion.RTPCodecTypeVideo).Track() != second.Video() {
			t.Error("video sender does not carry the new camera")
		}
		if p.Sender(pion.RTPCodecTypeAudio).Track() != second.Audio() {
			t.Error("audio sender does not carry the new microphone")
		}
	})

	err = a.session.SwitchCamera(context.Background(), media.DeviceFunc(func(context.Context) (*media.Stream, error) {
		return nil, media.ErrDeviceUnavailable
	}))
	if !errors.Is(err, media.ErrDeviceUnavailable) {
		t.Fatalf("SwitchCamera() error = %v, want ErrDeviceUnavailable", err)
	}
	n.settle()

	if second.Ended() {
		t.Fatal("failed switch stopped the current camera")
	}
	if got := a.snapshot(t).Camera; got != "cam-2" {
		t.Fatalf("camera = %q, want cam-2", got)
	}
	if errs := a.errors(); len(errs) != 1 || !errors.Is(errs[0], media.ErrDeviceUnavailable) {
		t.Fatalf("reported errors = %v", errs)
	}
}

func TestCameraAcquiredLaterIsOffered(t *testing.T) {
	n := newMeeting(t)
	a := n.join("a1", roster.RoleHost)
	b := n.join("b2", roster.RoleParticipant)
	n.seat()
	n.converge()

	if got := n.wire.Count("a1", "b2", signaling.SignalOffer); got != 0 {
		t.Fatalf("offers without media = %d", got)
	}

	setCamera(t, a, newCamera(t, "a1-cam"))
	n.converge()

	if got := n.wire.Count("a1", "b2", signaling.SignalOffer); got != 1 {
		t.Fatalf("offers after camera = %d, want 1", got)
	}
	if got := b.sink.take(); !reflect.DeepEqual(got, []string{"assign a1 camera a1-cam"}) {
		t.Fatalf("b2 sink = %v", got)
	}
}

func TestScreenShareIntentsAreAnnounced(t *testing.T) {
	n := newMeeting(t)
	a := n.join("a1", roster.RoleParticipant)
	n.join("b2", roster.RoleParticipant)
	n.seat()
	n.converge()

	screen := newStream(t, "scr", pion.RTPCodecTypeVideo)
	for i := 0; i < 2; i++ {
		if err := a.session.ShareScreen(screen); err != nil {
			t.Fatalf("ShareScreen() error = %v", err)
		}
	}
	if err := a.session.StopScreenShare(); err != nil {
		t.Fatalf("StopScreenShare() error = %v", err)
	}
	if err := a.session.StopScreenShare(); err != nil {
		t.Fatalf("second StopScreenShare() error = %v", err)
	}
	n.converge()

	want := []roster.Patch{roster.ScreenShare("scr"), roster.ScreenShare("")}
	if got := a.transport.sent(); !reflect.DeepEqual(got, want) {
		t.Fatalf("announced %d patches, want start then stop", len(got))
	}
	if !screen.Ended() {
		t.Fatal("screen capture still running")
	}
	if snap := a.snapshot(t); snap.Screen != "" || snap.Peers[0].Connection.ScreenSenders != 0 {
		t.Fatalf("screen still bound: %+v", snap)
	}
}

func TestReplacingScreenShareStopsPreviousCapture(t *testing.T) {
	n := newMeeting(t)
	a := n.join("a1", roster.RoleHost)

	first := newStream(t, "scr-1", pion.RTPCodecTypeVideo)
	second := newStream(t, "scr-2", pion.RTPCodecTypeVideo)
	if err := a.session.ShareScreen(first); err != nil {
		t.Fatal(err)
	}
	if err := a.session.ShareScreen(second); err != nil {
		t.Fatal(err)
	}
	n.settle()

	if !first.Ended() || second.Ended() {
		t.Fatalf("first ended = %v, second ended = %v", first.Ended(), second.Ended())
	}
	if got := a.snapshot(t).Screen; got != "scr-2" {
		t.Fatalf("screen = %q, want scr-2", got)
	}
	if err := a.session.ShareScreen(media.NewStream("empty")); !errors.Is(err, media.ErrNoTracks) {
		t.Fatalf("ShareScreen(empty) error = %v, want ErrNoTracks", err)
	}
}

func TestEndedCaptureIsAnnouncedForElevatedRoles(t *testing.T) {
	tests := []struct {
		role      roster.Role
		announced int
	}{
		{roster.RoleHost, 2},
		{roster.RoleCoHost, 2},
		{roster.RoleParticipant, 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			n := newMeeting(t)
			a := n.join("a1", tt.role)
			screen := newStream(t, "scr", pion.RTPCodecTypeVideo)
			if err := a.session.ShareScreen(screen); err != nil {
				t.Fatal(err)
			}
			n.settle()

			screen.Video().Stop()
			n.eventually(func() bool { return a.snapshot(t).Screen == "" })

			got := a.transport.sent()
			if len(got) != tt.announced {
				t.Fatalf("announced %d patches, want %d", len(got), tt.announced)
			}
			if tt.announced == 2 && !reflect.DeepEqual(got[1], roster.ScreenShare("")) {
				t.Fatalf("last patch does not announce the stop")
			}
		})
	}
}

func TestRoleFromRosterGovernsEndedCaptureAnnouncement(t *testing.T) {
	n := newMeeting(t)
	a := n.join("a1", roster.RoleParticipant)

	if err := a.session.ApplyRoster([]roster.Participant{{PeerID: "a1", Role: roster.RoleCoHost}}); err != nil {
		t.Fatal(err)
	}
	if err := a.session.ShareScreen(newStream(t, "scr", pion.RTPCodecTypeVideo)); err != nil {
		t.Fatal(err)
	}
	if err := a.session.ScreenShareEnded(); err != nil {
		t.Fatal(err)
	}
	if got := len(a.transport.sent()); got != 2 {
		t.Fatalf("announced %d patches, want 2", got)
	}
	if role := a.snapshot(t).Role; role != roster.RoleCoHost {
		t.Fatalf("role = %s, want co-host", role)
	}
}

func TestAnnounceFailureIsReported(t *testing.T) {
	n := newMeeting(t)
	a := n.join("a1", roster.RoleHost)
	a.transport.fail = signaling.ErrClosed

	if err := a.session.ShareScreen(newStream(t, "scr", pion.RTPCodecTypeVideo)); err != nil {
		t.Fatal(err)
	}
	errs := a.errors()
	if len(errs) != 1 || !errors.Is(errs[0], signaling.ErrClosed) {
		t.Fatalf("reported errors = %v", errs)
	}
}

func TestAllocationFailureIsNotRetriedUntilPeerRejoins(t *testing.T) {
	n := newMeeting(t)
	a := n.join("a1", roster.RoleHost)
	a.factory.Fail["c3"] = errors.New("out of sockets")

	both := []roster.Participant{{PeerID: "b2"}, {PeerID: "c3"}}
	a.session.ApplyRoster(both)
	a.session.ApplyRoster(both)
	n.settle()

	if got := a.factory.Created(); got != 2 {
		t.Fatalf("allocations = %d, want 2", got)
	}
	errs := a.errors()
	var pe *peer.PeerError
	if len(errs) != 1 || !errors.As(errs[0], &pe) || pe.Peer != "c3" || pe.Stage != peer.StageAllocate {
		t.Fatalf("reported errors = %v", errs)
	}

	a.session.ApplyRoster(both[:1])
	a.session.ApplyRoster(both)
	n.settle()
	if got := a.factory.Created(); got != 3 {
		t.Fatalf("allocations after rejoin = %d, want 3", got)
	}
	if snap := a.snapshot(t); !snap.Peers[0].Connected || snap.Peers[1].Connected {
		t.Fatalf("connected = %v/%v, want b2 only", snap.Peers[0].Connected, snap.Peers[1].Connected)
	}
}

func TestStopTearsEverythingDown(t *testing.T) {
	n := newMeeting(t)
	a := n.join("a1", roster.RoleHost)
	b := n.join("b2", roster.RoleParticipant)
	camera := newCamera(t, "a1-cam")
	screen := newStream(t, "a1-scr", pion.RTPCodecTypeVideo)
	setCamera(t, a, camera)
	setCamera(t, b, newCamera(t, "b2-cam"))
	if err := a.session.ShareScreen(screen); err != nil {
		t.Fatal(err)
	}
	n.seat()
	n.converge()
	a.sink.take()

	a.session.Stop()

	if !camera.Ended() || !screen.Ended() {
		t.Fatal("local tracks still running after Stop")
	}
	if !a.factory.Conn("b2").Closed() {
		t.Fatal("connection left open after Stop")
	}
	if got := a.sink.take(); !reflect.DeepEqual(got, []string{"retract b2 camera"}) {
		t.Fatalf("sink = %v", got)
	}
	select {
	case <-a.session.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	if err := a.session.ApplyRoster(nil); !errors.Is(err, ErrStopped) {
		t.Fatalf("ApplyRoster after Stop error = %v, want ErrStopped", err)
	}
	if _, err := a.session.Snapshot(); !errors.Is(err, ErrStopped) {
		t.Fatalf("Snapshot after Stop error = %v, want ErrStopped", err)
	}
	a.session.Stop()
}

func TestStopWithoutStart(t *testing.T) {
	camera := newCamera(t, "cam")
	s := New(Options{Transport: &fakeTransport{id: "a1"}, Factory: peertest.NewFactory(), Logger: discard})
	s.Stop()
	if err := s.SetLocalStream(camera); !errors.Is(err, ErrStopped) {
		t.Fatalf("SetLocalStream after Stop error = %v, want ErrStopped", err)
	}
}

func TestCallsBeforeStartReturnNotStarted(t *testing.T) {
	transport := &fakeTransport{id: "a1", meeting: newMeeting(t)}
	s := New(Options{Transport: transport, Factory: peertest.NewFactory(), Logger: discard})
	defer s.Stop()
	camera := newCamera(t, "cam")

	tests := []struct {
		name string
		call func() error
	}{
		{"SetLocalStream", func() error { return s.SetLocalStream(newCamera(t, "cam-1")) }},
		{"SwitchCamera", func() error {
			return s.SwitchCamera(context.Background(), media.DeviceFunc(func(context.Context) (*media.Stream, error) {
				return camera, nil
			}))
		}},
		{"ShareScreen", func() error { return s.ShareScreen(newStream(t, "scr", pion.RTPCodecTypeVideo)) }},
		{"StopScreenShare", s.StopScreenShare},
		{"SetAudioMuted", func() error { return s.SetAudioMuted(true) }},
		{"SetVideoOff", func() error { return s.SetVideoOff(true) }},
		{"Flush", s.Flush},
		{"Snapshot", func() error {
			_, err := s.Snapshot()
			return err
		}},
	}
	for _, tt := range tests {
		if err := tt.call(); !errors.Is(err, ErrNotStarted) {
			t.Errorf("%s before Start error = %v, want ErrNotStarted", tt.name, err)
		}
	}
	if !camera.Ended() {
		t.Fatal("camera acquired before Start was not stopped")
	}

	// Posted work waits for the loop instead of failing.
	if err := s.ApplyRoster([]roster.Participant{{PeerID: "b2"}}); err != nil {
		t.Fatalf("ApplyRoster before Start error = %v", err)
	}
	s.Start(context.Background())
	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot after Start error = %v", err)
	}
	if len(snap.Peers) != 1 || snap.Peers[0].Participant.PeerID != "b2" {
		t.Fatalf("peers = %+v", snap.Peers)
	}
}

func TestSwitchCameraFailureAfterStopIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var reported []error
	s := New(Options{
		Transport: &fakeTransport{id: "a1"},
		Factory:   peertest.NewFactory(),
		Hooks:     Hooks{Error: func(err error) { reported = append(reported, err) }},
		Logger:    logger,
	})
	s.Start(context.Background())
	s.Stop()

	err := s.SwitchCamera(context.Background(), media.DeviceFunc(func(context.Context) (*media.Stream, error) {
		return nil, media.ErrDeviceUnavailable
	}))
	if !errors.Is(err, media.ErrDeviceUnavailable) {
		t.Fatalf("SwitchCamera() error = %v, want ErrDeviceUnavailable", err)
	}
	if len(reported) != 0 {
		t.Fatalf("stopped session reported %v", reported)
	}
	if !strings.Contains(buf.String(), "Camera error dropped") {
		t.Fatalf("log = %q, want the dropped camera error", buf.String())
	}
}

func TestMuteAndVideoOffKeepSenders(t *testing.T) {
	n := newMeeting(t)
	a := n.join("a1", roster.RoleHost)
	b := n.join("b2", roster.RoleParticipant)
	camera := newCamera(t, "cam")
	setCamera(t, a, camera)
	n.seat()
	n.converge()
	offers := n.wire.Count("a1", "b2", signaling.SignalOffer)

	var video, audio pion.TrackLocal = camera.Video(), camera.Audio()
	tests := []struct {
		name       string
		set        func() error
		audio      pion.TrackLocal
		video      pion.TrackLocal
		muted, off bool
	}{
		{"mute", func() error { return a.session.SetAudioMuted(true) }, nil, video, true, false},
		{"video off", func() error { return a.session.SetVideoOff(true) }, nil, nil, true, true},
		{"unmute", func() error { return a.session.SetAudioMuted(false) }, audio, nil, false, true},
		{"video on", func() error { return a.session.SetVideoOff(false) }, audio, video, false, false},
	}
	for _, tt := range tests {
		if err := tt.set(); err != nil {
			t.Fatalf("%s: error = %v", tt.name, err)
		}
		n.converge()

		callIn(t, a, func(s *Session) {
			p, _ := s.peers.Get("b2")
			if got := p.Sender(pion.RTPCodecTypeAudio).Track(); got != tt.audio {
				t.Errorf("%s: audio sender track = %v, want %v", tt.name, got, tt.audio)
			}
			if got := p.Sender(pion.RTPCodecTypeVideo).Track(); got != tt.video {
				t.Errorf("%s: video sender track = %v, want %v", tt.name, got, tt.video)
			}
		})
		if snap := a.snapshot(t); snap.AudioMuted != tt.muted || snap.VideoOff != tt.off {
			t.Errorf("%s: local muted = %v, video off = %v", tt.name, snap.AudioMuted, snap.VideoOff)
		}
		for _, ps := range b.snapshot(t).Peers {
			if ps.Participant.PeerID != "a1" {
				continue
			}
			if ps.Participant.IsAudioMuted != tt.muted || ps.Participant.IsVideoOff != tt.off {
				t.Errorf("%s: b2 sees muted = %v, video off = %v", tt.name, ps.Participant.IsAudioMuted, ps.Participant.IsVideoOff)
			}
		}
	}

	if got := n.wire.Count("a1", "b2", signaling.SignalOffer); got != offers {
		t.Fatalf("offers after toggles = %d, want %d", got, offers)
	}
	if err := a.session.SetVideoOff(false); err != nil {
		t.Fatal(err)
	}
	if got := len(a.transport.sent()); got != len(tests) {
		t.Fatalf("announced %d patches, want %d", got, len(tests))
	}
	if camera.Ended() {
		t.Fatal("toggling stopped the camera")
	}
	if errs := a.errors(); len(errs) != 0 {
		t.Fatalf("errors = %v", errs)
	}
}

func TestInitialMuteLeavesMicrophoneUnattached(t *testing.T) {
	n := newMeeting(t)
	a := n.join("a1", roster.RoleHost, func(o *Options) { o.AudioMuted = true })
	n.join("b2", roster.RoleParticipant)
	camera := newCamera(t, "cam")
	setCamera(t, a, camera)
	n.seat()
	n.converge()

	callIn(t, a, func(s *Session) {
		p, _ := s.peers.Get("b2")
		if p.Sender(pion.RTPCodecTypeAudio) != nil {
			t.Error("muted microphone attached")
		}
		if p.Sender(pion.RTPCodecTypeVideo).Track() != camera.Video() {
			t.Error("camera video not attached")
		}
	})
	if !a.snapshot(t).AudioMuted {
		t.Fatal("snapshot lost the initial mute")
	}
	if got := a.transport.sent(); len(got) != 0 {
		t.Fatalf("initial state announced again: %+v", got)
	}

	offers := n.wire.Count("a1", "b2", signaling.SignalOffer)
	if err := a.session.SetAudioMuted(false); err != nil {
		t.Fatal(err)
	}
	n.converge()
	callIn(t, a, func(s *Session) {
		p, _ := s.peers.Get("b2")
		if sender := p.Sender(pion.RTPCodecTypeAudio); sender == nil || sender.Track() != camera.Audio() {
			t.Error("microphone not attached after unmute")
		}
	})
	if got := n.wire.Count("a1", "b2", signaling.SignalOffer); got <= offers {
		t.Fatal("adding the first audio sender did not renegotiate")
	}
}
