// Package gateway is the service's outer HTTP/WebSocket surface: run
// triggers arrive over websocket channels, files move over REST, and
// health plus Prometheus metrics round it out.
package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/conn"
	"github.com/loomworks/loom/internal/observability"
	"github.com/loomworks/loom/internal/run"
	"github.com/loomworks/loom/internal/store"
)

// Server serves the gateway endpoints.
type Server struct {
	cfg      config.ServerConfig
	entry    *run.Entry
	manager  conn.Manager
	stores   store.Stores
	logger   *observability.Logger
	upgrader websocket.Upgrader

	httpSrv *http.Server
}

// NewServer wires the gateway. logger may be nil.
func NewServer(cfg config.ServerConfig, entry *run.Entry, manager conn.Manager, stores store.Stores, logger *observability.Logger) *Server {
	return &Server{
		cfg:      cfg,
		entry:    entry,
		manager:  manager,
		stores:   stores,
		logger:   logger,
		upgrader: conn.NewUpgrader(),
	}
}

// Routes builds the gateway's handler tree.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /ws/{channel_id}", s.handleWS)
	mux.HandleFunc("POST /v1/files", s.handleFileUpload)
	mux.HandleFunc("GET /v1/files/{file_id}", s.handleFileDownload)
	return mux
}

// Start serves until ctx is cancelled, then drains in-flight requests
// within the configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:        s.cfg.Addr(),
		Handler:     s.Routes(),
		ReadTimeout: s.cfg.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if s.logger != nil {
			s.logger.Info(ctx, "gateway listening", "addr", s.cfg.Addr())
		}
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return s.httpSrv.Close()
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) warn(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(ctx, msg, args...)
	}
}
