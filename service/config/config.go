package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/memofeed/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// Config holds all application configuration loaded from environment variables.
// All fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Solana configuration
	SolanaNetwork      string
	SolanaRPCURL       string
	SolanaRPCEndpoints []string // optional pool; one is picked per process
	MemoProgramID      solanago.PublicKey

	// Feed configuration
	SignatureLimit          int
	FetchDelay              time.Duration
	SearchDebounce          time.Duration
	PageSize                int
	ResetPageOnFilterChange bool
	FeedMaxSessions         int // accounts the server keeps a feed for
	FeedMaxConcurrentLoads  int // assemblies allowed to hit RPC at once

	// Submission configuration
	ConfirmPollInterval time.Duration
	WalletKeypairPath   string // empty disables submission

	// Archive configuration (all optional)
	DatabaseURL string
	NATSURL     string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
	ArchiveInterval   time.Duration
}

// Load reads configuration from environment variables and validates every field.
// All problems are reported together rather than one at a time.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	if _, err := ParseLogLevel(cfg.LogLevel); err != nil {
		errs = append(errs, err)
	}

	// Solana configuration
	cfg.SolanaNetwork = getEnvOrDefault("SOLANA_NETWORK", solana.NetworkDevnet)
	clusterURL, known := solana.ClusterRPCURL(cfg.SolanaNetwork)
	if !known {
		errs = append(errs, fmt.Errorf("SOLANA_NETWORK must be one of mainnet-beta, devnet, testnet, localnet, got %q", cfg.SolanaNetwork))
	}
	cfg.SolanaRPCURL = getEnvOrDefault("SOLANA_RPC_URL", clusterURL)
	cfg.SolanaRPCEndpoints = splitList(os.Getenv("SOLANA_RPC_ENDPOINTS"))

	programID, err := solana.ParseProgramID(getEnvOrDefault("MEMO_PROGRAM_ID", solana.MemoProgramIDSPL.String()))
	if err != nil {
		errs = append(errs, fmt.Errorf("MEMO_PROGRAM_ID: %w", err))
	} else {
		cfg.MemoProgramID = programID
	}

	// Feed configuration
	if cfg.SignatureLimit, err = parseInt("SIGNATURE_LIMIT", solana.DefaultSignatureLimit); err != nil {
		errs = append(errs, err)
	}
	if cfg.FetchDelay, err = parseDuration("FETCH_DELAY", "400ms"); err != nil {
		errs = append(errs, err)
	}
	if cfg.SearchDebounce, err = parseDuration("SEARCH_DEBOUNCE", "500ms"); err != nil {
		errs = append(errs, err)
	}
	if cfg.PageSize, err = parseInt("PAGE_SIZE", 10); err != nil {
		errs = append(errs, err)
	}
	if cfg.ResetPageOnFilterChange, err = parseBool("RESET_PAGE_ON_FILTER_CHANGE", false); err != nil {
		errs = append(errs, err)
	}
	if cfg.FeedMaxSessions, err = parseInt("FEED_MAX_SESSIONS", 256); err != nil {
		errs = append(errs, err)
	}
	if cfg.FeedMaxConcurrentLoads, err = parseInt("FEED_MAX_CONCURRENT_LOADS", 2); err != nil {
		errs = append(errs, err)
	}

	// Submission configuration
	if cfg.ConfirmPollInterval, err = parseDuration("CONFIRM_POLL_INTERVAL", "1s"); err != nil {
		errs = append(errs, err)
	}
	cfg.WalletKeypairPath = os.Getenv("WALLET_KEYPAIR_PATH")

	// Archive configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "memofeed-archive")
	if cfg.ArchiveInterval, err = parseDuration("ARCHIVE_INTERVAL", "5m"); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.SolanaRPCURL == "" && len(c.SolanaRPCEndpoints) == 0 {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if c.SolanaNetwork == "" {
		errs = append(errs, fmt.Errorf("SolanaNetwork is required"))
	}

	if c.MemoProgramID.IsZero() {
		errs = append(errs, fmt.Errorf("MemoProgramID is required"))
	}

	if c.SignatureLimit < 1 || c.SignatureLimit > solana.MaxSignatureLimit {
		errs = append(errs, fmt.Errorf("SignatureLimit must be between 1 and %d", solana.MaxSignatureLimit))
	}

	if c.PageSize < 1 {
		errs = append(errs, fmt.Errorf("PageSize must be at least 1"))
	}

	if c.FeedMaxSessions < 1 {
		errs = append(errs, fmt.Errorf("FeedMaxSessions must be at least 1"))
	}

	if c.FeedMaxConcurrentLoads < 1 {
		errs = append(errs, fmt.Errorf("FeedMaxConcurrentLoads must be at least 1"))
	}

	if c.FetchDelay < 0 {
		errs = append(errs, fmt.Errorf("FetchDelay cannot be negative"))
	}

	if c.SearchDebounce < 0 {
		errs = append(errs, fmt.Errorf("SearchDebounce cannot be negative"))
	}

	if c.ConfirmPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("ConfirmPollInterval must be positive"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.ArchiveInterval < time.Minute {
		errs = append(errs, fmt.Errorf("ArchiveInterval must be at least 1 minute"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// RPCEndpoint picks the endpoint this process talks to: one of the pool
// when configured, the single URL otherwise.
func (c *Config) RPCEndpoint() (string, error) {
	if len(c.SolanaRPCEndpoints) > 0 {
		return solana.SelectRandomEndpoint(c.SolanaRPCEndpoints)
	}
	return c.SolanaRPCURL, nil
}

// ParseLogLevel maps LOG_LEVEL values onto slog levels.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: unknown level %q", level)
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseBool parses a boolean from an environment variable or uses a default.
func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
