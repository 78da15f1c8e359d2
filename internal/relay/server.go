package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	DefaultRateLimit = 50
	DefaultBurst     = 100
)

type Options struct {
	Addr string

	// RateLimit is the sustained number of messages per second a client
	// may send; Burst is how many it may send at once.
	RateLimit float64
	Burst     int

	Logger *slog.Logger
}

// Server is the meeting relay: a websocket endpoint backed by a Hub, plus
// health and metrics endpoints.
type Server struct {
	opts     Options
	hub      *Hub
	metrics  *Metrics
	router   *mux.Router
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}

	logger := opts.Logger.With("component", "relay")
	metrics := NewMetrics()
	s := &Server{
		opts:    opts,
		hub:     NewHub(metrics, logger),
		metrics: metrics,
		router:  mux.NewRouter(),
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  maxMessageSize,
			WriteBufferSize: maxMessageSize,
			// Browser origins are not restricted; the relay carries no
			// credentials.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.router.HandleFunc("/ws", s.serveWs)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return s
}

func (s *Server) Handler() http.Handler { return s.router }
func (s *Server) Hub() *Hub             { return s.hub }

// Run serves on opts.Addr until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Relay listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("Relay shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection", "addr", r.RemoteAddr, "error", err)
		return
	}

	id := uuid.NewString()
	c := &client{
		hub:     s.hub,
		conn:    conn,
		send:    make(chan frame, sendBuffer),
		limiter: rate.NewLimiter(rate.Limit(s.opts.RateLimit), s.opts.Burst),
		logger:  s.logger.With("peer", id),
		id:      id,
	}

	select {
	case s.hub.register <- c:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	rooms, clients := s.hub.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"rooms":   rooms,
		"clients": clients,
	})
}
