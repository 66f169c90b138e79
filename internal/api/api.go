// Package api provides the HTTP REST API server.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/good-yellow-bee/sentrymail/internal/aggregate"
	"github.com/good-yellow-bee/sentrymail/internal/ingest"
	"github.com/good-yellow-bee/sentrymail/internal/mailer"
	"github.com/good-yellow-bee/sentrymail/internal/queue"
	"github.com/good-yellow-bee/sentrymail/internal/storage"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address        string
	RequestTimeout time.Duration // Timeout for storage-backed API calls
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
}

// Server is the HTTP API server.
type Server struct {
	config     *Config
	storage    storage.Storage
	queue      queue.Queue
	ingestor   *ingest.Ingestor
	aggregator *aggregate.Aggregator
	builder    *mailer.Builder
	worker     *mailer.Worker
	logger     *slog.Logger
	server     *http.Server
}

// New creates a new API server.
func New(
	config *Config,
	store storage.Storage,
	q queue.Queue,
	ingestor *ingest.Ingestor,
	aggregator *aggregate.Aggregator,
	builder *mailer.Builder,
	worker *mailer.Worker,
	logger *slog.Logger,
) *Server {
	config.SetDefaults()
	return &Server{
		config:     config,
		storage:    store,
		queue:      q,
		ingestor:   ingestor,
		aggregator: aggregator,
		builder:    builder,
		worker:     worker,
		logger:     logger.With("component", "api"),
	}
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Address,
		Handler:           s.setupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "address", s.config.Address)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		s.logger.Info("http server stopped")
		return nil
	}
}
