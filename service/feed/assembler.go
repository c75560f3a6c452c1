// Package feed assembles an account's memo history from the ledger and
// derives the searchable, date-filtered, paginated view shown to a reader.
package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/brojonat/memofeed/service/metrics"
	"github.com/brojonat/memofeed/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// SignatureSource lists an account's recent signatures, newest first.
type SignatureSource interface {
	ListSignatures(ctx context.Context, account solanago.PublicKey, limit int) ([]solana.SignatureInfo, error)
}

// TransactionFetcher fetches parsed transactions positionally. A nil slot
// means that fetch failed; it must not abort the batch.
type TransactionFetcher interface {
	FetchTransactions(ctx context.Context, signatures []string) ([]*solana.ParsedTransaction, error)
}

// Assembler turns an account's signature history into a memo feed.
type Assembler struct {
	signatures SignatureSource
	fetcher    TransactionFetcher
	programID  solanago.PublicKey
	limit      int
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewAssembler creates an Assembler that recognizes instructions addressed
// to programID and looks at up to limit recent signatures per account.
func NewAssembler(
	signatures SignatureSource,
	fetcher TransactionFetcher,
	programID solanago.PublicKey,
	limit int,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Assembler {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Assembler{
		signatures: signatures,
		fetcher:    fetcher,
		programID:  programID,
		limit:      limit,
		logger:     logger,
		metrics:    m,
	}
}

// Assemble returns the account's memos sorted newest first. Failed,
// unconfirmed and memo-less transactions are dropped silently; only a
// failure to list signatures (or cancellation) fails the whole assembly.
func (a *Assembler) Assemble(ctx context.Context, account solanago.PublicKey) ([]solana.Memo, error) {
	start := time.Now()
	memos, err := a.assemble(ctx, account)

	status := "success"
	if err != nil {
		status = "error"
	}
	a.metrics.RecordFeedAssembly(status, metrics.Since(start))
	return memos, err
}

func (a *Assembler) assemble(ctx context.Context, account solanago.PublicKey) ([]solana.Memo, error) {
	sigs, err := a.signatures.ListSignatures(ctx, account, a.limit)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to list signatures", "account", account.String(), "error", err)
		return nil, fmt.Errorf("failed to list signatures: %w", err)
	}
	if len(sigs) == 0 {
		return []solana.Memo{}, nil
	}

	ids := make([]string, len(sigs))
	for i, s := range sigs {
		ids[i] = s.Signature
	}

	a.logger.InfoContext(ctx, "fetching transactions", "account", account.String(), "count", len(ids))
	txns, err := a.fetcher.FetchTransactions(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transactions: %w", err)
	}

	memos := make([]solana.Memo, 0, len(txns))
	absent := 0
	for i, txn := range txns {
		if txn == nil {
			absent++
			continue
		}
		if memo, ok := solana.ExtractMemo(txn, ids[i], a.programID); ok {
			memos = append(memos, memo)
		}
	}
	a.metrics.RecordMemosExtracted(len(memos))
	a.metrics.RecordMemosDropped("absent", absent)
	a.metrics.RecordMemosDropped("no_memo", len(txns)-absent-len(memos))

	sort.SliceStable(memos, func(i, j int) bool {
		return memos[i].Timestamp > memos[j].Timestamp
	})

	a.logger.InfoContext(ctx, "assembled feed",
		"account", account.String(),
		"signatures", len(ids),
		"memos", len(memos),
	)
	return memos, nil
}
