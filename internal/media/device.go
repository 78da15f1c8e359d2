package media

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// Device acquires a local stream. Open may block, for example on a
// permission prompt, and must honour ctx.
type Device interface {
	Open(ctx context.Context) (*Stream, error)
}

// DeviceFunc adapts a function to Device.
type DeviceFunc func(ctx context.Context) (*Stream, error)

func (f DeviceFunc) Open(ctx context.Context) (*Stream, error) { return f(ctx) }

const (
	DefaultFrameRate   = 15
	DefaultAudioPacket = 20 * time.Millisecond
)

// SyntheticDevice produces test-pattern streams for the headless client.
// Tracks are fed by a Generator until they are stopped.
type SyntheticDevice struct {
	Label     string
	Video     bool
	Audio     bool
	FrameRate int

	// Lifetime ends the stream on its own after the given duration, the
	// way a capture ends when the user closes the shared window. Zero
	// means the stream lives until stopped.
	Lifetime time.Duration

	Logger *slog.Logger
}

func (d SyntheticDevice) Open(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Label, err)
	}
	if !d.Video && !d.Audio {
		return nil, fmt.Errorf("open %s: %w", d.Label, ErrNoTracks)
	}

	streamID := uuid.NewString()
	var tracks []*LocalTrack
	if d.Video {
		t, err := NewLocalTrack(pion.RTPCodecTypeVideo, "video-"+uuid.NewString(), streamID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if d.Audio {
		t, err := NewLocalTrack(pion.RTPCodecTypeAudio, "audio-"+uuid.NewString(), streamID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	frameRate := d.FrameRate
	if frameRate <= 0 {
		frameRate = DefaultFrameRate
	}
	for _, t := range tracks {
		g := &Generator{Track: t, Logger: logger.With("stream", streamID, "device", d.Label)}
		if t.Kind() == pion.RTPCodecTypeVideo {
			g.Interval = time.Second / time.Duration(frameRate)
			g.Payload = videoPattern
		} else {
			g.Interval = DefaultAudioPacket
			g.Payload = audioSilence
		}
		go g.Run()
	}

	stream := NewStream(streamID, tracks...)
	if d.Lifetime > 0 {
		time.AfterFunc(d.Lifetime, func() { stream.Stop() })
	}
	return stream, nil
}

var (
	// Keyframe-shaped VP8 payload header followed by padding.
	videoPattern = append([]byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a}, make([]byte, 256)...)
	// Opus TOC byte for a 20ms SILK frame with an empty body.
	audioSilence = []byte{0xf8, 0xff, 0xfe}
)

// Generator writes a fixed payload to a track at a steady interval until
// the track is stopped.
type Generator struct {
	Track    *LocalTrack
	Interval time.Duration
	Payload  []byte
	Logger   *slog.Logger
}

func (g *Generator) Run() {
	ticker := time.NewTicker(g.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.Track.Done():
			return
		case <-ticker.C:
			err := g.Track.WriteSample(pionmedia.Sample{Data: g.Payload, Duration: g.Interval})
			if err != nil {
				g.Logger.Debug("Write sample failed", "track", g.Track.ID(), "error", err)
			}
		}
	}
}
