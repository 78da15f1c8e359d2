package peer

import (
	"errors"
	"io"
	"log/slog"
	"sync/atomic"

	pion "github.com/pion/webrtc/v4"
)

var errForeignSender = errors.New("sender does not belong to a pion connection")

// PionFactory allocates real WebRTC connections using a fixed ICE server
// list.
type PionFactory struct {
	config pion.Configuration
	logger *slog.Logger
}

func NewPionFactory(stunServers []string, logger *slog.Logger) *PionFactory {
	if logger == nil {
		logger = slog.Default()
	}
	var config pion.Configuration
	if len(stunServers) > 0 {
		config.ICEServers = []pion.ICEServer{{URLs: stunServers}}
	}
	return &PionFactory{config: config, logger: logger}
}

func (f *PionFactory) NewConnection(peerID string) (Connection, error) {
	pc, err := pion.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}
	return &pionConnection{pc: pc, logger: f.logger.With("peer", peerID)}, nil
}

// pionConnection adapts *webrtc.PeerConnection to Connection.
type pionConnection struct {
	pc     *pion.PeerConnection
	logger *slog.Logger
}

func (c *pionConnection) SignalingState() pion.SignalingState { return c.pc.SignalingState() }

func (c *pionConnection) CreateOffer() (pion.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *pionConnection) CreateAnswer() (pion.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *pionConnection) SetLocalDescription(desc pion.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *pionConnection) SetRemoteDescription(desc pion.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *pionConnection) LocalDescription() *pion.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *pionConnection) RemoteDescription() *pion.SessionDescription {
	return c.pc.RemoteDescription()
}

func (c *pionConnection) AddICECandidate(candidate pion.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

func (c *pionConnection) AddTrack(track pion.TrackLocal) (Sender, error) {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	go drainRTCP(sender)
	return sender, nil
}

func (c *pionConnection) RemoveTrack(sender Sender) error {
	rtp, ok := sender.(*pion.RTPSender)
	if !ok {
		return errForeignSender
	}
	return c.pc.RemoveTrack(rtp)
}

func (c *pionConnection) OnNegotiationNeeded(f func()) { c.pc.OnNegotiationNeeded(f) }

func (c *pionConnection) OnICECandidate(f func(*pion.ICECandidateInit)) {
	c.pc.OnICECandidate(func(candidate *pion.ICECandidate) {
		if candidate == nil {
			f(nil)
			return
		}
		init := candidate.ToJSON()
		f(&init)
	})
}

func (c *pionConnection) OnTrack(f func(InboundTrack)) {
	c.pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		remote := &remoteTrack{track: track, done: make(chan struct{})}
		go remote.drain(c.logger)
		f(remote)
	})
}

func (c *pionConnection) OnConnectionStateChange(f func(pion.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(f)
}

func (c *pionConnection) Close() error { return c.pc.Close() }

// drainRTCP reads incoming RTCP for a sender so interceptors keep running.
func drainRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// remoteTrack reads and counts RTP packets of an inbound track until the
// track ends.
type remoteTrack struct {
	track   *pion.TrackRemote
	done    chan struct{}
	packets atomic.Uint64
}

func (t *remoteTrack) ID() string              { return t.track.ID() }
func (t *remoteTrack) StreamID() string        { return t.track.StreamID() }
func (t *remoteTrack) Kind() pion.RTPCodecType { return t.track.Kind() }
func (t *remoteTrack) Done() <-chan struct{}   { return t.done }
func (t *remoteTrack) Packets() uint64         { return t.packets.Load() }

func (t *remoteTrack) drain(logger *slog.Logger) {
	defer close(t.done)

	buf := make([]byte, 1500)
	for {
		if _, _, err := t.track.Read(buf); err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("Remote track read stopped", "track", t.track.ID(), "error", err)
			}
			return
		}
		t.packets.Add(1)
	}
}
