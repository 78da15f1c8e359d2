package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BioHazard786/warpmeet/internal/config"
	"github.com/BioHazard786/warpmeet/internal/media"
	"github.com/BioHazard786/warpmeet/internal/peer"
	"github.com/BioHazard786/warpmeet/internal/roster"
	"github.com/BioHazard786/warpmeet/internal/session"
	"github.com/BioHazard786/warpmeet/internal/signaling"
	"github.com/BioHazard786/warpmeet/internal/ui"
	pion "github.com/pion/webrtc/v4"
)

const (
	welcomeTimeout  = 15 * time.Second
	refreshInterval = 500 * time.Millisecond
)

type ConnectionContext struct {
	Client  *signaling.Client
	Handler *signaling.Handler
	Config  *config.Config
	Logger  *slog.Logger
}

func connect(ctx context.Context, cfg *config.Config) (*ConnectionContext, error) {
	codec, err := signaling.CodecFor(cfg.Codec)
	if err != nil {
		return nil, err
	}

	stopSpinner := ui.RunConnectionSpinner("Connecting to relay...")
	defer stopSpinner()

	logger := slog.Default()
	client := signaling.NewClient(cfg.WebSocketURL, codec, logger)
	if err := client.Connect(ctx); err != nil {
		return nil, signaling.NewError("connect to server", err)
	}

	handler := signaling.NewHandler(client)
	go handler.Start()

	return &ConnectionContext{
		Client:  client,
		Handler: handler,
		Config:  cfg,
		Logger:  logger,
	}, nil
}

func (c *ConnectionContext) Close() {
	if c.Handler != nil {
		c.Handler.Close()
	}
	if c.Client != nil {
		c.Client.Close()
	}
}

// await waits for the relay to answer a create or join request.
func (c *ConnectionContext) await(ch <-chan signaling.Welcome, op string) (signaling.Welcome, error) {
	stopSpinner := ui.RunWaitingSpinner("Waiting for the relay...")
	defer stopSpinner()

	select {
	case w, ok := <-ch:
		if !ok {
			return w, signaling.NewError(op, signaling.ErrClosed)
		}
		return w, nil
	case errMsg, ok := <-c.Handler.Error:
		if !ok {
			return signaling.Welcome{}, signaling.NewError(op, signaling.ErrClosed)
		}
		return signaling.Welcome{}, signaling.WrapError(op, signaling.ErrServer, errMsg)
	case <-time.After(welcomeTimeout):
		return signaling.Welcome{}, signaling.WrapError(op, context.DeadlineExceeded, "no answer from relay")
	}
}

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// meeting ties one joined room to a session and the board.
type meeting struct {
	conn    *ConnectionContext
	session *session.Session
	board   *ui.Board
	roomID  string
	flags   *meetingFlags
	logger  *slog.Logger
}

func runMeeting(ctx context.Context, conn *ConnectionContext, welcome signaling.Welcome, flags *meetingFlags) error {
	cfg := conn.Config
	logger := conn.Logger.With("room", welcome.RoomID, "peer", welcome.PeerID)

	m := &meeting{
		conn:   conn,
		board:  ui.NewBoard(welcome.RoomID, cfg.GetRoomLink(welcome.RoomID)),
		roomID: welcome.RoomID,
		flags:  flags,
		logger: logger,
	}
	audioMuted, videoOff := flags.media()
	m.session = session.New(session.Options{
		Transport:  signaling.NewClientTransport(conn.Client, welcome.PeerID),
		Factory:    peer.NewPionFactory(cfg.STUNServers, logger),
		Sink:       m.board,
		Role:       roster.Role(cfg.Role),
		AudioMuted: audioMuted,
		VideoOff:   videoOff,
		Debounce:   cfg.Debounce,
		Hooks: session.Hooks{
			PeerState: func(peerID string, state pion.PeerConnectionState) {
				logger.Info("Peer connection state", "remote", peerID, "state", state)
			},
			Error: func(err error) {
				m.board.Notice("%s %v", ui.IconWarning, err)
			},
		},
		Logger: logger,
	})

	started := time.Now()
	m.session.Start(ctx)
	defer m.session.Stop()

	if !flags.noCamera {
		if err := m.session.SwitchCamera(ctx, m.camera()); err != nil {
			ui.PrintWarning(err.Error())
		}
	}

	relayDone := make(chan error, 1)
	go func() { relayDone <- m.pump() }()

	if !flags.headless {
		m.board.Start()
		defer m.board.Stop()
	} else {
		ui.PrintInfof("Running headless in %s, press Ctrl+C to leave", welcome.RoomID)
	}

	err := m.loop(ctx, relayDone)

	if sendErr := conn.Client.LeaveRoom(); sendErr != nil {
		logger.Debug("Leave not sent", "error", sendErr)
	}
	snap, snapErr := m.session.Snapshot()
	m.board.Stop()
	m.session.Stop()

	if snapErr == nil {
		ui.RenderSessionSummary(ui.SessionSummary{
			RoomID:   m.roomID,
			Duration: time.Since(started),
			Snapshot: snap,
		})
	}
	return err
}

// loop reacts to the user and the relay until the meeting ends.
func (m *meeting) loop(ctx context.Context, relayDone <-chan error) error {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.board.Done():
			return nil
		case err := <-relayDone:
			return err
		case <-m.session.Done():
			return session.ErrStopped

		case action := <-m.board.Actions():
			switch action {
			case ui.ActionToggleScreen:
				m.toggleScreen(ctx)
			case ui.ActionSwitchCamera:
				if err := m.session.SwitchCamera(ctx, m.camera()); err == nil {
					m.board.Notice("%s Switched camera", ui.IconCamera)
				}
			case ui.ActionToggleMute, ui.ActionToggleVideo:
				m.toggleMedia(action)
			case ui.ActionLeave:
				return nil
			}

		case <-ticker.C:
			snap, err := m.session.Snapshot()
			if err != nil {
				return err
			}
			m.board.SetSnapshot(snap)
		}
	}
}

// pump feeds relay messages into the session until the connection ends.
func (m *meeting) pump() error {
	h := m.conn.Handler
	for {
		select {
		case ev, ok := <-h.Events:
			if !ok {
				return signaling.NewError("relay", signaling.ErrClosed)
			}
			if err := m.session.HandleEvent(ev); err != nil {
				if errors.Is(err, session.ErrStopped) {
					return nil
				}
				m.logger.Debug("Relay event dropped", "kind", ev.Kind, "error", err)
			}
		case errMsg, ok := <-h.Error:
			if !ok {
				return signaling.NewError("relay", signaling.ErrClosed)
			}
			m.logger.Warn("Relay error", "error", errMsg)
			m.board.Notice("%s %s", ui.IconError, errMsg)
		}
	}
}

func (m *meeting) toggleScreen(ctx context.Context) {
	snap, err := m.session.Snapshot()
	if err != nil {
		return
	}
	if snap.Screen != "" {
		if err := m.session.StopScreenShare(); err == nil {
			m.board.Notice("%s Screen share stopped", ui.IconScreen)
		}
		return
	}

	stream, err := m.screen().Open(ctx)
	if err != nil {
		m.board.Notice("%s %v", ui.IconError, err)
		return
	}
	if err := m.session.ShareScreen(stream); err != nil {
		stream.Stop()
		if !errors.Is(err, session.ErrStopped) {
			m.board.Notice("%s %v", ui.IconError, err)
		}
		return
	}
	m.board.Notice("%s Sharing screen", ui.IconScreen)
}

// toggleMedia flips the microphone or the camera video.
func (m *meeting) toggleMedia(action ui.Action) {
	snap, err := m.session.Snapshot()
	if err != nil {
		return
	}
	if action == ui.ActionToggleMute {
		if err := m.session.SetAudioMuted(!snap.AudioMuted); err == nil {
			if snap.AudioMuted {
				m.board.Notice("%s Microphone on", ui.IconMic)
			} else {
				m.board.Notice("%s Microphone muted", ui.IconMuted)
			}
		}
		return
	}
	if err := m.session.SetVideoOff(!snap.VideoOff); err == nil {
		if snap.VideoOff {
			m.board.Notice("%s Video on", ui.IconCamera)
		} else {
			m.board.Notice("%s Video off", ui.IconCamera)
		}
	}
}

func (m *meeting) camera() media.Device {
	return media.SyntheticDevice{Label: "camera", Video: true, Audio: true, Logger: m.logger}
}

func (m *meeting) screen() media.Device {
	return media.SyntheticDevice{Label: "screen", Video: true, Lifetime: m.flags.screenFor, Logger: m.logger}
}
