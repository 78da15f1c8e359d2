package media

import (
	pion "github.com/pion/webrtc/v4"
)

// Stream groups the local tracks captured together (camera + mic, or a
// screen capture). Its identity is the pointer; ID is what remote peers see
// as the stream id.
type Stream struct {
	ID     string
	tracks []*LocalTrack
}

func NewStream(id string, tracks ...*LocalTrack) *Stream {
	return &Stream{ID: id, tracks: tracks}
}

func (s *Stream) Tracks() []*LocalTrack {
	if s == nil {
		return nil
	}
	return append([]*LocalTrack(nil), s.tracks...)
}

// Track returns the first track of the given kind, or nil.
func (s *Stream) Track(kind pion.RTPCodecType) *LocalTrack {
	if s == nil {
		return nil
	}
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

func (s *Stream) Video() *LocalTrack { return s.Track(pion.RTPCodecTypeVideo) }
func (s *Stream) Audio() *LocalTrack { return s.Track(pion.RTPCodecTypeAudio) }

// Stop stops every track of the stream and returns how many tracks were
// stopped by this call.
func (s *Stream) Stop() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, t := range s.tracks {
		if t.Stop() {
			n++
		}
	}
	return n
}

// Ended reports whether every track has stopped.
func (s *Stream) Ended() bool {
	if s == nil {
		return true
	}
	for _, t := range s.tracks {
		if !t.Stopped() {
			return false
		}
	}
	return true
}
