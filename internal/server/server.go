// Package server exposes the run invocation interface over HTTP: create,
// inspect and cancel runs, and stream frames to the host over websocket.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/atomflow/atomflow/internal/potential"
	"github.com/atomflow/atomflow/internal/runner"
	"github.com/gorilla/websocket"
)

// Server is the HTTP front for the run manager.
type Server struct {
	httpServer *http.Server
	manager    *runner.Manager
	registry   *potential.Registry
	log        *slog.Logger
	upgrader   websocket.Upgrader
}

// New wires routes for the given registry. addr is the listen address.
func New(addr string, reg *potential.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		manager:  runner.NewManager(log),
		registry: reg,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 64 * 1024,
			// The host viewer runs on its own origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/models", s.listModels)
	mux.HandleFunc("POST /api/runs", s.createRun)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.cancelRun)
	mux.HandleFunc("GET /api/runs/{id}/ws", s.streamRun)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
	}
	return s
}

// Handler exposes the mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until ctx is cancelled, then shuts down gracefully and cancels
// all in-flight runs.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.manager.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
