package peer

import (
	pion "github.com/pion/webrtc/v4"
)

// Connection is the negotiated transport to one remote peer. It is the
// subset of *webrtc.PeerConnection the manager drives.
type Connection interface {
	SignalingState() pion.SignalingState
	CreateOffer() (pion.SessionDescription, error)
	CreateAnswer() (pion.SessionDescription, error)
	SetLocalDescription(desc pion.SessionDescription) error
	SetRemoteDescription(desc pion.SessionDescription) error
	LocalDescription() *pion.SessionDescription
	RemoteDescription() *pion.SessionDescription
	AddICECandidate(candidate pion.ICECandidateInit) error

	AddTrack(track pion.TrackLocal) (Sender, error)
	RemoveTrack(sender Sender) error

	OnNegotiationNeeded(f func())
	// OnICECandidate receives nil once gathering has finished.
	OnICECandidate(f func(*pion.ICECandidateInit))
	OnTrack(f func(InboundTrack))
	OnConnectionStateChange(f func(pion.PeerConnectionState))

	Close() error
}

// Sender is an outbound track handle. *webrtc.RTPSender satisfies it.
type Sender interface {
	Track() pion.TrackLocal
	ReplaceTrack(track pion.TrackLocal) error
}

// InboundTrack is a remote track received on a connection. Done is closed
// when the track stops delivering media.
type InboundTrack interface {
	ID() string
	StreamID() string
	Kind() pion.RTPCodecType
	Done() <-chan struct{}
	Packets() uint64
}

// Factory allocates connections.
type Factory interface {
	NewConnection(peerID string) (Connection, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(peerID string) (Connection, error)

func (f FactoryFunc) NewConnection(peerID string) (Connection, error) { return f(peerID) }
