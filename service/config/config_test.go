package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/brojonat/memofeed/service/solana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	defer cleanupEnv()
	cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "devnet", cfg.SolanaNetwork)
	assert.Equal(t, "https://api.devnet.solana.com", cfg.SolanaRPCURL)
	assert.True(t, cfg.MemoProgramID.Equals(solana.MemoProgramIDSPL))
	assert.Equal(t, 100, cfg.SignatureLimit)
	assert.Equal(t, 400*time.Millisecond, cfg.FetchDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.SearchDebounce)
	assert.Equal(t, 10, cfg.PageSize)
	assert.False(t, cfg.ResetPageOnFilterChange)
	assert.Equal(t, 256, cfg.FeedMaxSessions)
	assert.Equal(t, 2, cfg.FeedMaxConcurrentLoads)
	assert.Equal(t, time.Second, cfg.ConfirmPollInterval)
	assert.Empty(t, cfg.WalletKeypairPath)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.NATSURL)
	assert.Equal(t, "localhost:7233", cfg.TemporalHost)
	assert.Equal(t, "default", cfg.TemporalNamespace)
	assert.Equal(t, "memofeed-archive", cfg.TemporalTaskQueue)
	assert.Equal(t, 5*time.Minute, cfg.ArchiveInterval)
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("SERVER_ADDR", ":9090")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("SOLANA_NETWORK", "mainnet-beta")
	os.Setenv("SOLANA_RPC_URL", "https://mainnet.helius-rpc.com/?api-key=k")
	os.Setenv("SOLANA_RPC_ENDPOINTS", "https://a.example.com, https://b.example.com,")
	os.Setenv("MEMO_PROGRAM_ID", "Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")
	os.Setenv("SIGNATURE_LIMIT", "25")
	os.Setenv("FETCH_DELAY", "1s")
	os.Setenv("PAGE_SIZE", "20")
	os.Setenv("RESET_PAGE_ON_FILTER_CHANGE", "true")
	os.Setenv("FEED_MAX_SESSIONS", "32")
	os.Setenv("FEED_MAX_CONCURRENT_LOADS", "1")
	os.Setenv("WALLET_KEYPAIR_PATH", "/keys/id.json")
	os.Setenv("DATABASE_URL", "postgres://localhost/memofeed")
	os.Setenv("NATS_URL", "nats://nats.example.com:4222")
	os.Setenv("ARCHIVE_INTERVAL", "1h")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "mainnet-beta", cfg.SolanaNetwork)
	assert.Equal(t, "https://mainnet.helius-rpc.com/?api-key=k", cfg.SolanaRPCURL)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.SolanaRPCEndpoints)
	assert.True(t, cfg.MemoProgramID.Equals(solana.MemoProgramIDLegacy))
	assert.Equal(t, 25, cfg.SignatureLimit)
	assert.Equal(t, time.Second, cfg.FetchDelay)
	assert.Equal(t, 20, cfg.PageSize)
	assert.True(t, cfg.ResetPageOnFilterChange)
	assert.Equal(t, 32, cfg.FeedMaxSessions)
	assert.Equal(t, 1, cfg.FeedMaxConcurrentLoads)
	assert.Equal(t, "/keys/id.json", cfg.WalletKeypairPath)
	assert.Equal(t, "postgres://localhost/memofeed", cfg.DatabaseURL)
	assert.Equal(t, "nats://nats.example.com:4222", cfg.NATSURL)
	assert.Equal(t, time.Hour, cfg.ArchiveInterval)

	endpoint, err := cfg.RPCEndpoint()
	require.NoError(t, err)
	assert.Contains(t, cfg.SolanaRPCEndpoints, endpoint)
}

func TestLoad_ReportsAllErrors(t *testing.T) {
	os.Setenv("SOLANA_NETWORK", "moonnet")
	os.Setenv("MEMO_PROGRAM_ID", "not base58!")
	os.Setenv("FETCH_DELAY", "soon")
	os.Setenv("PAGE_SIZE", "ten")
	os.Setenv("RESET_PAGE_ON_FILTER_CHANGE", "maybe")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "SOLANA_NETWORK must be one of")
	assert.Contains(t, err.Error(), "MEMO_PROGRAM_ID")
	assert.Contains(t, err.Error(), "invalid duration")
	assert.Contains(t, err.Error(), "invalid integer")
	assert.Contains(t, err.Error(), "invalid boolean")
}

func TestLoad_SignatureLimitOutOfRange(t *testing.T) {
	os.Setenv("SIGNATURE_LIMIT", "5000")
	defer cleanupEnv()

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SignatureLimit must be between")
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing rpc", func(c *Config) { c.SolanaRPCURL = "" }, "SolanaRPCURL is required"},
		{"zero page size", func(c *Config) { c.PageSize = 0 }, "PageSize must be at least 1"},
		{"zero feed sessions", func(c *Config) { c.FeedMaxSessions = 0 }, "FeedMaxSessions must be at least 1"},
		{"zero concurrent loads", func(c *Config) { c.FeedMaxConcurrentLoads = 0 }, "FeedMaxConcurrentLoads must be at least 1"},
		{"negative delay", func(c *Config) { c.FetchDelay = -time.Second }, "FetchDelay cannot be negative"},
		{"short archive interval", func(c *Config) { c.ArchiveInterval = time.Second }, "ArchiveInterval must be at least 1 minute"},
		{"zero confirm poll", func(c *Config) { c.ConfirmPollInterval = 0 }, "ConfirmPollInterval must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_EndpointPoolSatisfiesRPC(t *testing.T) {
	cfg := validConfig()
	cfg.SolanaRPCURL = ""
	cfg.SolanaRPCEndpoints = []string{"https://a.example.com"}
	require.NoError(t, cfg.Validate())

	endpoint, err := cfg.RPCEndpoint()
	require.NoError(t, err)
	assert.Equal(t, "https://a.example.com", endpoint)
}

func TestParseLogLevel(t *testing.T) {
	lvl, err := ParseLogLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)

	lvl, err = ParseLogLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	_, err = ParseLogLevel("loud")
	assert.Error(t, err)
}

func TestMustLoad_Panics(t *testing.T) {
	os.Setenv("PAGE_SIZE", "-1")
	defer cleanupEnv()

	assert.Panics(t, func() {
		MustLoad()
	})
}

func TestMustLoad_Success(t *testing.T) {
	defer cleanupEnv()

	assert.NotPanics(t, func() {
		cfg := MustLoad()
		assert.NotNil(t, cfg)
	})
}

func validConfig() *Config {
	return &Config{
		SolanaNetwork:          "devnet",
		SolanaRPCURL:           "https://api.devnet.solana.com",
		MemoProgramID:          solana.MemoProgramIDSPL,
		SignatureLimit:         100,
		FetchDelay:             400 * time.Millisecond,
		SearchDebounce:         500 * time.Millisecond,
		PageSize:               10,
		FeedMaxSessions:        256,
		FeedMaxConcurrentLoads: 2,
		ConfirmPollInterval:    time.Second,
		TemporalTaskQueue:      "memofeed-archive",
		ArchiveInterval:        5 * time.Minute,
	}
}

// cleanupEnv clears all environment variables used in tests
func cleanupEnv() {
	for _, key := range []string{
		"SERVER_ADDR", "LOG_LEVEL",
		"SOLANA_NETWORK", "SOLANA_RPC_URL", "SOLANA_RPC_ENDPOINTS", "MEMO_PROGRAM_ID",
		"SIGNATURE_LIMIT", "FETCH_DELAY", "SEARCH_DEBOUNCE", "PAGE_SIZE", "RESET_PAGE_ON_FILTER_CHANGE",
		"FEED_MAX_SESSIONS", "FEED_MAX_CONCURRENT_LOADS",
		"CONFIRM_POLL_INTERVAL", "WALLET_KEYPAIR_PATH",
		"DATABASE_URL", "NATS_URL",
		"TEMPORAL_HOST", "TEMPORAL_NAMESPACE", "TEMPORAL_TASK_QUEUE", "ARCHIVE_INTERVAL",
	} {
		os.Unsetenv(key)
	}
}
