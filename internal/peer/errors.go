package peer

import (
	"errors"
	"fmt"
)

var (
	ErrAllocationFailed = errors.New("connection allocation failed")
	ErrPeerNotFound     = errors.New("peer not found")
	ErrUnexpectedSignal = errors.New("unexpected signal type")
)

// Negotiation stages reported in PeerError.Stage.
const (
	StageAllocate        = "allocate"
	StageAttachTrack     = "attach track"
	StageReplaceTrack    = "replace track"
	StageScreenShare     = "screen share"
	StageCreateOffer     = "create offer"
	StageCreateAnswer    = "create answer"
	StageReallocate      = "reallocate connection"
	StageSetLocal        = "set local description"
	StageSetRemote       = "set remote description"
	StageAddCandidate    = "add candidate"
	StageSendSignal      = "send signal"
	StageHandleSignal    = "handle signal"
	StageCloseConnection = "close connection"
)

// PeerError is a failure confined to one peer's connection.
type PeerError struct {
	Peer  string
	Stage string
	Err   error
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("peer %s: %s: %v", e.Peer, e.Stage, e.Err)
}

func (e *PeerError) Unwrap() error {
	return e.Err
}

func NewError(peerID, stage string, err error) *PeerError {
	return &PeerError{Peer: peerID, Stage: stage, Err: err}
}
