package media

import "errors"

var (
	ErrNoTracks          = errors.New("device produced no tracks")
	ErrDeviceUnavailable = errors.New("device unavailable")
)
