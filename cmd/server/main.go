package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/memofeed/service/config"
	"github.com/brojonat/memofeed/service/db"
	"github.com/brojonat/memofeed/service/feed"
	"github.com/brojonat/memofeed/service/metrics"
	natspkg "github.com/brojonat/memofeed/service/nats"
	"github.com/brojonat/memofeed/service/server"
	"github.com/brojonat/memofeed/service/solana"
	"github.com/brojonat/memofeed/service/submit"
	"github.com/brojonat/memofeed/service/temporal"
	"github.com/brojonat/memofeed/service/wallet"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"network", cfg.SolanaNetwork,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Initialize Solana RPC client
	// Note: For premium RPC endpoints, include API key in the URL
	endpoint, err := cfg.RPCEndpoint()
	if err != nil {
		logger.Error("failed to select RPC endpoint", "error", err)
		os.Exit(1)
	}
	ledger := solana.NewClient(solana.NewRPCClient(endpoint), solana.EndpointLabel(endpoint), metricsCollector, logger).
		WithFetchDelay(cfg.FetchDelay).
		WithConfirmPollInterval(cfg.ConfirmPollInterval)
	logger.Info("initialized solana RPC client", "endpoint", solana.EndpointLabel(endpoint))

	assembler := feed.NewAssembler(ledger, ledger, cfg.MemoProgramID, cfg.SignatureLimit, metricsCollector, logger)
	deps := server.Dependencies{Loader: assembler}

	// Memo submission (if a keypair is configured)
	if cfg.WalletKeypairPath != "" {
		w, err := wallet.LoadKeypair(cfg.WalletKeypairPath)
		if err != nil {
			logger.Error("failed to load wallet keypair", "error", err)
			os.Exit(1)
		}
		pub, _ := w.PublicKey()
		deps.Pipeline = submit.NewPipeline(ledger, w, cfg.MemoProgramID, cfg.SolanaNetwork, metricsCollector, logger)
		logger.Info("memo submission enabled", "signer", pub.String())
	}

	// NATS publisher and SSE streaming (if NATS is configured)
	var publisher *natspkg.JetStreamPublisher
	if cfg.NATSURL != "" {
		publisher, err = natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()

		deps.SSEPublisher, err = server.NewSSEPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to create SSE publisher", "error", err)
			os.Exit(1)
		}
	}

	// Archive (if a database is configured)
	if cfg.DatabaseURL != "" {
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		store := db.NewStore(pool, metricsCollector)
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}
		deps.Archive = store
		logger.Info("connected to database")

		// Archive schedules need Temporal; the server runs without them if it is unreachable
		temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
		if err != nil {
			logger.Warn("temporal unavailable, archive scheduling disabled", "error", err)
		} else {
			defer temporalClient.Close()
			deps.Scheduler = temporalClient
		}
	}

	httpServer := server.New(cfg.ServerAddr, cfg, deps, metricsCollector, logger)

	if deps.Pipeline != nil {
		deps.Pipeline.OnConfirmed(func(ctx context.Context, r submit.Receipt) {
			httpServer.RefreshFeed(r.Account)
			if publisher == nil {
				return
			}
			event := natspkg.FromMemo(r.Account, r.Network, natspkg.SourceSubmitted, solana.Memo{
				ID:        r.Signature,
				Content:   r.Content,
				Timestamp: r.ConfirmedAt.Unix(),
			})
			if err := publisher.PublishMemo(ctx, event); err != nil {
				logger.Warn("failed to publish submitted memo", "signature", r.Signature, "error", err)
			}
		})
	}

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	level, _ := config.ParseLogLevel(levelStr) // validated by config.Load
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
