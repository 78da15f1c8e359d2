package relay

import "errors"

// Errors sent back to clients. Their text is what the client displays.
var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrNotInRoom      = errors.New("join a room first")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrMalformed      = errors.New("malformed message")
	ErrUnknownMessage = errors.New("unknown message type")
)
