package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/memofeed/service/metrics"
	natspkg "github.com/brojonat/memofeed/service/nats"
	"github.com/brojonat/memofeed/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// ArchiveMemosInput identifies the feed to archive.
type ArchiveMemosInput struct {
	Account string `json:"account"`
	Network string `json:"network"`
}

// ArchiveMemosResult summarizes one archive run.
type ArchiveMemosResult struct {
	Account     string    `json:"account"`
	Network     string    `json:"network"`
	MemoCount   int       `json:"memo_count"`
	Written     int       `json:"written"`
	Skipped     int       `json:"skipped"`
	Published   int       `json:"published"`
	ArchiveTime time.Time `json:"archive_time"`
	Error       *string   `json:"error,omitempty"`
}

// AssembleFeedInput contains parameters for the AssembleFeed activity.
type AssembleFeedInput struct {
	Account string `json:"account"`
	Network string `json:"network"`
}

// AssembleFeedResult contains the assembled feed, newest first.
type AssembleFeedResult struct {
	Memos []solana.Memo `json:"memos"`
}

// WriteMemosInput contains parameters for the WriteMemos activity.
type WriteMemosInput struct {
	Account string        `json:"account"`
	Network string        `json:"network"`
	Memos   []solana.Memo `json:"memos"`
}

// WriteMemosResult contains the result of writing memos.
type WriteMemosResult struct {
	Written []solana.Memo `json:"written"`
	Skipped int           `json:"skipped"` // Already archived
}

// PublishMemosInput contains parameters for the PublishMemos activity.
type PublishMemosInput struct {
	Account string `json:"account"`
	Network string `json:"network"`
}

// PublishMemosResult contains the number of events published.
type PublishMemosResult struct {
	Published int `json:"published"`
}

// maxPublishBatch caps the pending memos one PublishMemos run sends.
const maxPublishBatch = 500

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	UpsertMemos(ctx context.Context, account, network string, memos []solana.Memo) ([]solana.Memo, int, error)
	PendingMemos(ctx context.Context, account, network string, limit int32) ([]solana.Memo, error)
	MarkPublished(ctx context.Context, account, network string, signatures []string) (int64, error)
}

// FeedAssembler defines the feed assembly needed by activities.
type FeedAssembler interface {
	Assemble(ctx context.Context, account solanago.PublicKey) ([]solana.Memo, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
type PublisherInterface interface {
	PublishMemoBatch(ctx context.Context, events []*natspkg.MemoEvent) ([]*natspkg.MemoEvent, error)
}

// Activities holds the dependencies needed by Temporal activities.
// All dependencies are explicit; the publisher may be nil.
type Activities struct {
	store     StoreInterface
	assembler FeedAssembler
	publisher PublisherInterface
	network   string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance for one network.
// If metrics is nil, no metrics will be recorded.
func NewActivities(
	store StoreInterface,
	assembler FeedAssembler,
	publisher PublisherInterface,
	network string,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		assembler: assembler,
		publisher: publisher,
		network:   network,
		metrics:   m,
		logger:    logger,
	}
}

// AssembleFeed runs the feed assembler for an account. Individual
// transaction fetch failures are absorbed by the assembler; only a failed
// signature listing fails the activity and triggers a retry.
func (a *Activities) AssembleFeed(ctx context.Context, input AssembleFeedInput) (*AssembleFeedResult, error) {
	start := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration("AssembleFeed", metrics.Since(start))
	}()

	if input.Network != a.network {
		return nil, fmt.Errorf("worker serves network %q, got %q", a.network, input.Network)
	}

	account, err := solanago.PublicKeyFromBase58(input.Account)
	if err != nil {
		a.logger.ErrorContext(ctx, "invalid account address",
			"account", input.Account,
			"error", err,
		)
		return nil, fmt.Errorf("invalid account address: %w", err)
	}

	memos, err := a.assembler.Assemble(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble feed: %w", err)
	}

	a.logger.InfoContext(ctx, "assembled feed for archive",
		"account", input.Account,
		"network", input.Network,
		"memos", len(memos),
	)
	return &AssembleFeedResult{Memos: memos}, nil
}

// WriteMemos stores memos, skipping ones already archived.
func (a *Activities) WriteMemos(ctx context.Context, input WriteMemosInput) (*WriteMemosResult, error) {
	start := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration("WriteMemos", metrics.Since(start))
	}()

	written, skipped, err := a.store.UpsertMemos(ctx, input.Account, input.Network, input.Memos)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to write memos",
			"account", input.Account,
			"count", len(input.Memos),
			"error", err,
		)
		return nil, fmt.Errorf("failed to write memos: %w", err)
	}

	a.logger.DebugContext(ctx, "wrote memos",
		"account", input.Account,
		"written", len(written),
		"skipped", skipped,
	)
	return &WriteMemosResult{Written: written, Skipped: skipped}, nil
}

// PublishMemos publishes the archived memos whose events have not gone out
// yet, including ones a previous run failed to publish, and marks each one
// once its event is sent. Without a publisher it does nothing and the memos
// stay pending.
func (a *Activities) PublishMemos(ctx context.Context, input PublishMemosInput) (*PublishMemosResult, error) {
	start := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration("PublishMemos", metrics.Since(start))
	}()

	if a.publisher == nil {
		a.logger.DebugContext(ctx, "no publisher configured, skipping memo events", "account", input.Account)
		return &PublishMemosResult{}, nil
	}

	pending, err := a.store.PendingMemos(ctx, input.Account, input.Network, maxPublishBatch)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending memos: %w", err)
	}
	if len(pending) == 0 {
		return &PublishMemosResult{}, nil
	}

	events := make([]*natspkg.MemoEvent, len(pending))
	for i, m := range pending {
		events[i] = natspkg.FromMemo(input.Account, input.Network, natspkg.SourceArchived, m)
	}

	published, pubErr := a.publisher.PublishMemoBatch(ctx, events)

	signatures := make([]string, len(published))
	for i, e := range published {
		signatures[i] = e.Signature
	}
	if len(signatures) > 0 {
		if _, err := a.store.MarkPublished(ctx, input.Account, input.Network, signatures); err != nil {
			return nil, fmt.Errorf("failed to mark %d memos published: %w", len(signatures), err)
		}
	}

	if pubErr != nil {
		return nil, fmt.Errorf("failed to publish %d of %d memos: %w", len(events)-len(published), len(events), pubErr)
	}

	a.logger.DebugContext(ctx, "published pending memos",
		"account", input.Account,
		"published", len(published),
	)
	return &PublishMemosResult{Published: len(published)}, nil
}
