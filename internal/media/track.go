package media

import (
	"fmt"
	"sync"

	pion "github.com/pion/webrtc/v4"
)

// LocalTrack is an outbound track fed with samples by the local client.
// Stop releases the underlying capture and is safe to call more than once.
type LocalTrack struct {
	*pion.TrackLocalStaticSample

	kind     pion.RTPCodecType
	stopOnce sync.Once
	done     chan struct{}
}

func NewLocalTrack(kind pion.RTPCodecType, trackID, streamID string) (*LocalTrack, error) {
	var capability pion.RTPCodecCapability
	switch kind {
	case pion.RTPCodecTypeVideo:
		capability = pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8, ClockRate: 90000}
	case pion.RTPCodecTypeAudio:
		capability = pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	default:
		return nil, fmt.Errorf("unsupported track kind %q", kind)
	}

	sample, err := pion.NewTrackLocalStaticSample(capability, trackID, streamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}
	return &LocalTrack{
		TrackLocalStaticSample: sample,
		kind:                   kind,
		done:                   make(chan struct{}),
	}, nil
}

func (t *LocalTrack) Kind() pion.RTPCodecType { return t.kind }

// Stop ends the track. It reports whether this call performed the stop.
func (t *LocalTrack) Stop() bool {
	stopped := false
	t.stopOnce.Do(func() {
		close(t.done)
		stopped = true
	})
	return stopped
}

func (t *LocalTrack) Stopped() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done is closed once the track is stopped.
func (t *LocalTrack) Done() <-chan struct{} { return t.done }
