package session

import (
	"github.com/BioHazard786/warpmeet/internal/peer"
	"github.com/BioHazard786/warpmeet/internal/roster"
)

// PeerSnapshot describes one remote participant as the session sees it.
type PeerSnapshot struct {
	Participant roster.Participant
	Connection  peer.Info
	Connected   bool

	// Camera and Screen are the ids of the streams currently assigned.
	Camera string
	Screen string

	Tracks  int
	Packets uint64
}

type Snapshot struct {
	LocalID string
	Role    roster.Role
	Camera  string
	Screen  string

	AudioMuted bool
	VideoOff   bool

	Peers []PeerSnapshot
}

// Snapshot returns the current state of the session.
func (s *Session) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := s.loop.call(func() { snap = s.snapshot() })
	return snap, err
}

func (s *Session) snapshot() Snapshot {
	infos := make(map[string]peer.Info, s.peers.Len())
	for _, info := range s.peers.Snapshot() {
		infos[info.PeerID] = info
	}

	snap := Snapshot{
		LocalID: s.peers.LocalID(),
		Role:    s.role,
		Camera:  streamID(s.source.Camera()),
		Screen:  streamID(s.source.Screen()),

		AudioMuted: s.audioMuted,
		VideoOff:   s.videoOff,
	}
	for _, p := range s.roster.Snapshot() {
		ps := PeerSnapshot{Participant: p}
		ps.Connection, ps.Connected = infos[p.PeerID]

		assigned := s.reconciler.Assigned(p.PeerID)
		if assigned.Camera != nil {
			ps.Camera = assigned.Camera.ID
		}
		if assigned.Screen != nil {
			ps.Screen = assigned.Screen.ID
		}
		for _, t := range s.inbound[p.PeerID] {
			ps.Tracks++
			ps.Packets += t.Packets()
		}
		snap.Peers = append(snap.Peers, ps)
	}
	return snap
}
