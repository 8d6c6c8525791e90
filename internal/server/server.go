// Package server exposes syncs over HTTP. Clients either open a WebSocket
// and receive progress as it happens or POST and wait for the final result.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/schaermu/nbpuller/internal/activation"
	"github.com/schaermu/nbpuller/internal/config"
	"github.com/schaermu/nbpuller/internal/sync"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
	// a cold clone of a large repository can take minutes
	syncWriteTimeout = 15 * time.Minute
)

// SocketObserver is notified when progress sockets open and close
type SocketObserver interface {
	SocketOpened()
	SocketClosed()
}

// Server serves the sync endpoints under cfg.Serve.BaseURL
type Server struct {
	cfg      *config.Config
	syncer   sync.Syncer
	logger   *slog.Logger
	upgrader websocket.Upgrader

	webhook  http.Handler
	gatherer prometheus.Gatherer
	sockets  SocketObserver
}

// New creates a server that runs every sync through syncer
func New(cfg *config.Config, syncer sync.Syncer, logger *slog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		syncer: syncer,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// WithWebhook mounts h at POST webhook
func (s *Server) WithWebhook(h http.Handler) *Server {
	s.webhook = h
	return s
}

// WithMetrics serves g at GET metrics and reports socket counts to obs
func (s *Server) WithMetrics(g prometheus.Gatherer, obs SocketObserver) *Server {
	s.gatherer = g
	s.sockets = obs
	return s
}

// Handler returns the router with every route mounted under the base URL
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/interact", s.handleInteract)
	r.Get("/socket/{username}", s.handleSocket)
	r.Post("/sync", s.handleSync)
	if s.webhook != nil {
		r.Method(http.MethodPost, "/webhook", s.webhook)
	}
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	base := strings.TrimSuffix(s.cfg.Serve.BaseURL, "/")
	if base == "" {
		return r
	}
	root := chi.NewRouter()
	root.Mount(base, r)
	return root
}

// Start serves until ctx is cancelled, then shuts down gracefully. An
// inherited socket is preferred over binding serve.listen_addr.
func (s *Server) Start(ctx context.Context) error {
	ln, inherited, err := activation.Listen(s.cfg.Serve.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, inherited)
}

// Serve serves on ln until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener, inherited bool) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      syncWriteTimeout,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", ln.Addr().String(), "inherited", inherited, "base_url", s.cfg.Serve.BaseURL)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintln(w, "ok")
}

// authenticate resolves the calling user. With mock auth every caller is
// the mock user; otherwise the trusted proxy header names them.
func (s *Server) authenticate(r *http.Request) string {
	if s.cfg.Serve.MockAuth {
		return s.cfg.Serve.MockUsername
	}
	return strings.TrimSpace(r.Header.Get(s.cfg.Serve.UserHeader))
}
