package reconcile

import (
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/BioHazard786/warpmeet/internal/media"
	"github.com/BioHazard786/warpmeet/internal/roster"
	pion "github.com/pion/webrtc/v4"
)

type recordingSink struct {
	events []string
}

func (s *recordingSink) Assign(peerID string, class Class, stream *media.RemoteStream) {
	s.events = append(s.events, fmt.Sprintf("assign %s %s %s", peerID, class, stream.ID))
}

func (s *recordingSink) Retract(peerID string, class Class) {
	s.events = append(s.events, fmt.Sprintf("retract %s %s", peerID, class))
}

func (s *recordingSink) take() []string {
	out := s.events
	s.events = nil
	return out
}

func setup(t *testing.T, participants ...roster.Participant) (*Reconciler, *roster.Roster, *recordingSink) {
	t.Helper()
	r := roster.New("a1")
	r.Replace(participants)
	sink := &recordingSink{}
	return New(r, sink, slog.New(slog.NewTextHandler(io.Discard, nil))), r, sink
}

func TestLateMetadataReclassifiesAsScreen(t *testing.T) {
	rec, r, sink := setup(t, roster.Participant{PeerID: "b2"})

	rec.TrackAdded("b2", "s123", "v", pion.RTPCodecTypeVideo)
	if got := sink.take(); !reflect.DeepEqual(got, []string{"assign b2 camera s123"}) {
		t.Fatalf("initial events = %v", got)
	}

	r.Patch("b2", roster.ScreenShare("s123"))
	rec.ReconcileAll()

	want := []string{"retract b2 camera", "assign b2 screen s123"}
	if got := sink.take(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events after metadata = %v, want %v", got, want)
	}
	a := rec.Assigned("b2")
	if a.Camera != nil || a.Screen == nil || a.Screen.ID != "s123" {
		t.Fatalf("assigned = %+v", a)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	rec, _, sink := setup(t, roster.Participant{PeerID: "b2", IsScreenSharing: true, ScreenShareStreamID: "scr"})

	rec.TrackAdded("b2", "cam", "cv", pion.RTPCodecTypeVideo)
	rec.TrackAdded("b2", "cam", "ca", pion.RTPCodecTypeAudio)
	rec.TrackAdded("b2", "scr", "sv", pion.RTPCodecTypeVideo)
	first := rec.Classify("b2")
	sink.take()

	for i := 0; i < 3; i++ {
		rec.Reconcile("b2")
		rec.ReconcileAll()
	}
	if got := sink.take(); len(got) != 0 {
		t.Fatalf("re-running emitted %v", got)
	}
	if second := rec.Classify("b2"); second != first {
		t.Fatalf("Classify changed: %+v then %+v", first, second)
	}
	if first.Camera.ID != "cam" || first.Screen.ID != "scr" {
		t.Fatalf("classification = camera %s, screen %s", first.Camera.ID, first.Screen.ID)
	}
}

func TestStaleScreenIDIsNotCamera(t *testing.T) {
	rec, r, sink := setup(t, roster.Participant{PeerID: "b2", IsScreenSharing: true, ScreenShareStreamID: "scr"})

	rec.TrackAdded("b2", "cam", "cv", pion.RTPCodecTypeVideo)
	rec.TrackAdded("b2", "scr", "sv", pion.RTPCodecTypeVideo)
	sink.take()

	// Sharing stops but the track is still live for a moment.
	r.Patch("b2", roster.ScreenShare(""))
	rec.ReconcileAll()

	if got := sink.take(); !reflect.DeepEqual(got, []string{"retract b2 screen"}) {
		t.Fatalf("events = %v, want only the screen retraction", got)
	}
	if a := rec.Assigned("b2"); a.Camera == nil || a.Camera.ID != "cam" {
		t.Fatalf("camera = %+v, want cam", a.Camera)
	}
}

func TestInactiveStreamIsRetracted(t *testing.T) {
	rec, _, sink := setup(t, roster.Participant{PeerID: "b2"})

	rec.TrackAdded("b2", "cam", "cv", pion.RTPCodecTypeVideo)
	sink.take()

	rec.TrackEnded("b2", "cam", "cv")
	if got := sink.take(); !reflect.DeepEqual(got, []string{"retract b2 camera"}) {
		t.Fatalf("events = %v", got)
	}

	rec.TrackEnded("b2", "cam", "cv")
	rec.TrackEnded("zz", "cam", "cv")
	if got := sink.take(); len(got) != 0 {
		t.Fatalf("repeated end emitted %v", got)
	}
}

func TestLatestActiveStreamIsCamera(t *testing.T) {
	rec, _, sink := setup(t, roster.Participant{PeerID: "b2"})

	rec.TrackAdded("b2", "old", "v1", pion.RTPCodecTypeVideo)
	rec.TrackAdded("b2", "new", "v2", pion.RTPCodecTypeVideo)

	want := []string{"assign b2 camera old", "retract b2 camera", "assign b2 camera new"}
	if got := sink.take(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}

	rec.TrackEnded("b2", "new", "v2")
	want = []string{"retract b2 camera", "assign b2 camera old"}
	if got := sink.take(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events after end = %v, want %v", got, want)
	}
}

func TestForgetRetractsEverything(t *testing.T) {
	rec, _, sink := setup(t,
		roster.Participant{PeerID: "b2", IsScreenSharing: true, ScreenShareStreamID: "scr"},
		roster.Participant{PeerID: "c3"},
	)

	rec.TrackAdded("b2", "cam", "cv", pion.RTPCodecTypeVideo)
	rec.TrackAdded("b2", "scr", "sv", pion.RTPCodecTypeVideo)
	rec.TrackAdded("c3", "cam3", "v", pion.RTPCodecTypeVideo)
	sink.take()

	rec.Forget("b2")
	want := []string{"retract b2 camera", "retract b2 screen"}
	if got := sink.take(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if rec.Streams("b2") != 0 {
		t.Fatal("received streams kept after Forget")
	}

	rec.Reconcile("b2")
	rec.ReconcileAll()
	for _, e := range sink.take() {
		t.Fatalf("event after Forget: %s", e)
	}

	rec.Reset()
	if got := sink.take(); !reflect.DeepEqual(got, []string{"retract c3 camera"}) {
		t.Fatalf("Reset events = %v", got)
	}
}

func TestUnknownPeerMetadataDefaultsToCamera(t *testing.T) {
	rec, _, sink := setup(t)

	rec.TrackAdded("b2", "s123", "v", pion.RTPCodecTypeVideo)
	if got := sink.take(); !reflect.DeepEqual(got, []string{"assign b2 camera s123"}) {
		t.Fatalf("events = %v", got)
	}
}
