// Package server serves the HTTP surface and drives the per-connection
// protocol over WebSocket.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Nikaidou-Shinku/yur-paintboard/internal/actionlog"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/auth"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/canvas"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/config"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/hub"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/metrics"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/pace"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/snapshot"
)

// Deps is the shared state every connection handler reads through,
// wired once at bootstrap.
type Deps struct {
	Canvas   *canvas.Canvas
	Hub      *hub.Hub
	Pace     *pace.Table
	Actions  *actionlog.Buffer
	Verifier *auth.Verifier
	Encoder  *snapshot.Encoder
	Metrics  *metrics.Registry
}

// Server owns the listener and the upgrade endpoint.
type Server struct {
	cfg      *config.Config
	logger   zerolog.Logger
	deps     Deps
	upgrader websocket.Upgrader
}

// New wires a server around the shared state.
func New(cfg *config.Config, logger zerolog.Logger, deps Deps) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger.With().Str("component", "server").Logger(),
		deps:   deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
}

// Handler builds the HTTP surface: liveness, upgrade and metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("Just paint freely!"))
	})
	mux.HandleFunc("/ws", s.handleWS)
	if s.deps.Metrics != nil {
		mux.Handle("/metrics", s.deps.Metrics.Handler())
	}

	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("http shutdown")
		}
	}()

	s.logger.Info().Str("addr", s.cfg.Addr).Msg("listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.ActiveConnections.Inc()
		defer s.deps.Metrics.ActiveConnections.Dec()
	}

	c := newConn(s, ws)
	c.run(r.Context())
}
