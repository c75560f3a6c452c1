package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/memofeed/service/config"
	"github.com/brojonat/memofeed/service/feed"
	"github.com/brojonat/memofeed/service/metrics"
	"github.com/brojonat/memofeed/service/submit"
	"github.com/brojonat/memofeed/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies are the components the server exposes. Only Loader is
// required; routes backed by a nil dependency are not registered, except
// memo submission which answers 503 without a pipeline.
type Dependencies struct {
	Loader       feed.Loader
	Pipeline     *submit.Pipeline
	Archive      ArchiveReader
	Scheduler    temporal.Scheduler
	SSEPublisher *SSEPublisher
}

// Server represents the HTTP server for the memo feed service.
type Server struct {
	addr    string
	cfg     *config.Config
	deps    Dependencies
	feeds   *feedRegistry
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new HTTP server with the given dependencies.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, cfg *config.Config, deps Dependencies, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr: addr,
		cfg:  cfg,
		deps: deps,
		feeds: newFeedRegistry(ctx, deps.Loader, feedRegistryOptions{
			Session: feed.SessionOptions{
				PageSize:                cfg.PageSize,
				SearchDebounce:          cfg.SearchDebounce,
				ResetPageOnFilterChange: cfg.ResetPageOnFilterChange,
			},
			MaxSessions:        cfg.FeedMaxSessions,
			MaxConcurrentLoads: cfg.FeedMaxConcurrentLoads,
		}, logger),
		metrics: m,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, pattern)(h))
	}

	// Feed routes
	route("GET /api/v1/feeds/{address}", handleGetFeed(s.feeds, s.cfg.SolanaNetwork, s.cfg.PageSize, s.logger))
	route("POST /api/v1/feeds/{address}/refresh", handleRefreshFeed(s.feeds, s.logger))

	// Submission
	route("POST /api/v1/memos", handleSubmitMemo(s.deps.Pipeline, s.logger))

	// Archive routes (if a database is configured)
	if s.deps.Archive != nil {
		route("GET /api/v1/archive/{address}", handleListArchive(s.deps.Archive, s.cfg.SolanaNetwork, s.logger))
	}

	// Archive schedules (if Temporal is configured)
	if s.deps.Scheduler != nil {
		route("POST /api/v1/feeds/{address}/archive", handleScheduleArchive(s.deps.Scheduler, s.cfg.SolanaNetwork, s.cfg.ArchiveInterval, s.logger))
		route("DELETE /api/v1/feeds/{address}/archive", handleUnscheduleArchive(s.deps.Scheduler, s.cfg.SolanaNetwork, s.logger))
	}

	// SSE streaming endpoints (if SSE publisher is configured)
	if s.deps.SSEPublisher != nil {
		mux.Handle("GET /api/v1/stream/memos/{address}", handleStreamMemos(s.deps.SSEPublisher, s.logger))
		mux.Handle("GET /api/v1/stream/memos", handleStreamMemos(s.deps.SSEPublisher, s.logger))
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // submissions wait for confirmation
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server",
		"addr", s.addr,
		"network", s.cfg.SolanaNetwork,
		"submission_enabled", s.deps.Pipeline != nil,
		"archive_enabled", s.deps.Archive != nil,
		"scheduler_enabled", s.deps.Scheduler != nil,
		"sse_enabled", s.deps.SSEPublisher != nil,
	)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// RefreshFeed reloads an account's feed if some client has requested it.
// Confirmed submissions call this so the signer's feed picks up the memo.
func (s *Server) RefreshFeed(account string) {
	s.feeds.refreshIfOpen(account)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher (disconnects all clients)
	if s.deps.SSEPublisher != nil {
		s.deps.SSEPublisher.Close()
	}

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}

	// Handlers are drained; stop background feed loads
	s.cancel()
	s.feeds.close()
	return err
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
