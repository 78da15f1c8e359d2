package media

import (
	pion "github.com/pion/webrtc/v4"
)

// RemoteStream is an inbound stream as observed from one remote peer: the
// stream id the sender chose and the tracks currently live on it.
type RemoteStream struct {
	ID     string
	tracks map[string]pion.RTPCodecType
}

func NewRemoteStream(id string) *RemoteStream {
	return &RemoteStream{ID: id, tracks: make(map[string]pion.RTPCodecType)}
}

// AddTrack records a live track and reports whether it was new.
func (s *RemoteStream) AddTrack(trackID string, kind pion.RTPCodecType) bool {
	if _, ok := s.tracks[trackID]; ok {
		return false
	}
	s.tracks[trackID] = kind
	return true
}

// EndTrack removes a track and reports whether it was live.
func (s *RemoteStream) EndTrack(trackID string) bool {
	if _, ok := s.tracks[trackID]; !ok {
		return false
	}
	delete(s.tracks, trackID)
	return true
}

// Active reports whether at least one track of the stream is still live.
func (s *RemoteStream) Active() bool { return len(s.tracks) > 0 }

func (s *RemoteStream) HasKind(kind pion.RTPCodecType) bool {
	for _, k := range s.tracks {
		if k == kind {
			return true
		}
	}
	return false
}

func (s *RemoteStream) TrackCount() int { return len(s.tracks) }
