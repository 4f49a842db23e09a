// Package server provides the HTTP control API for codeingest.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/codeingest/internal/config"
	"github.com/hyperjump/codeingest/internal/indexer"
	"github.com/hyperjump/codeingest/internal/storage"
)

// RunService starts ingestion runs. *indexer.Runner implements it.
type RunService interface {
	Run(ctx context.Context) (*indexer.Statistics, error)
	Running() bool
	Last() *indexer.Statistics
}

// Server is the HTTP server for the control API.
type Server struct {
	runs   RunService
	ledger storage.Ledger
	config *config.Config
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server with the given dependencies. ledger may be nil.
func NewServer(runs RunService, ledger storage.Ledger, cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		runs:   runs,
		ledger: ledger,
		config: cfg,
		logger: logger,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/runs", s.handleStartRun)
		r.With(middleware.Timeout(30*time.Second)).Get("/runs", s.handleListRuns)
		r.With(middleware.Timeout(30*time.Second)).Get("/status", s.handleStatus)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
