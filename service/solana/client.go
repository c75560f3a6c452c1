package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/memofeed/service/metrics"
	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

const (
	// DefaultSignatureLimit is how many recent signatures a feed looks at.
	DefaultSignatureLimit = 100
	// MaxSignatureLimit is the largest page getSignaturesForAddress accepts.
	MaxSignatureLimit = 1000
	// DefaultFetchDelay is the pause between consecutive transaction fetches.
	// Public RPC nodes throttle clients that go faster than a few requests per second.
	DefaultFetchDelay = 400 * time.Millisecond
	// DefaultConfirmPollInterval is how often signature status is polled while confirming.
	DefaultConfirmPollInterval = time.Second

	maxConfirmPolls = 180
)

// ErrBlockhashExpired is returned when the block height moved past the
// block reference's last valid height before the transaction confirmed.
var ErrBlockhashExpired = errors.New("block height exceeded: transaction expired before confirmation")

var errNotConfirmed = errors.New("transaction not yet confirmed")

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	// GetParsedTransaction returns (nil, nil) when the ledger has no record of the signature.
	GetParsedTransaction(ctx context.Context, signature solana.Signature) (*ParsedTransaction, error)

	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*BlockReference, error)

	SendTransaction(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)

	// GetSignatureStatus returns (nil, nil) when the signature is not yet known.
	GetSignatureStatus(ctx context.Context, signature solana.Signature) (*rpc.SignatureStatusesResult, error)

	GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
}

// Client provides the ledger operations the memo feed and the submission
// pipeline need. It wraps the RPC client with domain-specific operations.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g., "devnet", rpc host)

	fetchDelay          time.Duration
	confirmPollInterval time.Duration
	sleep               func(context.Context, time.Duration) error
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet-beta", "devnet", or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rpc:                 rpcClient,
		logger:              logger,
		metrics:             m,
		endpoint:            endpoint,
		fetchDelay:          DefaultFetchDelay,
		confirmPollInterval: DefaultConfirmPollInterval,
		sleep:               sleepContext,
	}
}

// WithFetchDelay overrides the pause between consecutive transaction fetches.
func (c *Client) WithFetchDelay(d time.Duration) *Client {
	c.fetchDelay = d
	return c
}

// WithConfirmPollInterval overrides how often confirmation polls signature status.
func (c *Client) WithConfirmPollInterval(d time.Duration) *Client {
	c.confirmPollInterval = d
	return c
}

// WithSleep replaces the function used to wait between fetches. Tests use
// it to observe the delays without actually waiting.
func (c *Client) WithSleep(sleep func(context.Context, time.Duration) error) *Client {
	c.sleep = sleep
	return c
}

// ListSignatures returns up to limit of the account's most recent
// signatures, newest first. A zero account yields an empty result.
func (c *Client) ListSignatures(ctx context.Context, account solana.PublicKey, limit int) ([]SignatureInfo, error) {
	if account.IsZero() {
		return []SignatureInfo{}, nil
	}
	limit = boundLimit(limit)

	c.logger.DebugContext(ctx, "calling GetSignaturesForAddress",
		"account", account.String(),
		"limit", limit,
	)

	start := time.Now()
	sigs, err := c.rpc.GetSignaturesForAddress(ctx, account, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	})
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		c.logger.ErrorContext(ctx, "failed to get signatures",
			"account", account.String(),
			"error", err,
		)
	}
	c.metrics.RecordRPCCall("GetSignaturesForAddress", status, c.endpoint, duration)
	if err != nil {
		return nil, err
	}
	c.metrics.RecordRPCSignaturesPerCall(c.endpoint, float64(len(sigs)))

	out := make([]SignatureInfo, 0, len(sigs))
	for _, sig := range sigs {
		if sig == nil {
			continue
		}
		out = append(out, signatureToDomain(sig))
	}

	c.logger.DebugContext(ctx, "fetched signatures",
		"account", account.String(),
		"count", len(out),
	)
	return out, nil
}

// FetchTransactions retrieves each signature's parsed transaction one at a
// time, waiting the fetch delay between consecutive requests. The result
// always has one slot per input signature, in input order; a slot is nil
// when that fetch failed or the ledger had no record. The returned error is
// non-nil only if ctx ended, in which case unfetched slots stay nil.
func (c *Client) FetchTransactions(ctx context.Context, signatures []string) ([]*ParsedTransaction, error) {
	out := make([]*ParsedTransaction, len(signatures))

	for i, raw := range signatures {
		if i > 0 {
			if err := c.sleep(ctx, c.fetchDelay); err != nil {
				c.logger.WarnContext(ctx, "transaction fetch interrupted",
					"fetched", i,
					"total", len(signatures),
					"error", err,
				)
				return out, err
			}
		}

		sig, err := solana.SignatureFromBase58(raw)
		if err != nil {
			c.logger.WarnContext(ctx, "skipping malformed signature", "signature", raw, "error", err)
			c.metrics.RecordTransactionFetched("invalid_signature")
			continue
		}

		start := time.Now()
		txn, err := c.rpc.GetParsedTransaction(ctx, sig)
		duration := time.Since(start).Seconds()

		if err != nil {
			c.metrics.RecordRPCCall("GetTransaction", "error", c.endpoint, duration)
			if strings.Contains(err.Error(), "429") {
				c.metrics.RecordRateLimitHit(c.endpoint)
			}
			c.metrics.RecordTransactionFetched("error")
			c.logger.WarnContext(ctx, "failed to fetch transaction",
				"signature", raw,
				"error", err,
			)
			continue
		}
		c.metrics.RecordRPCCall("GetTransaction", "success", c.endpoint, duration)

		if txn == nil {
			c.metrics.RecordTransactionFetched("not_found")
			c.logger.WarnContext(ctx, "transaction not found", "signature", raw)
			continue
		}

		c.metrics.RecordTransactionFetched("success")
		out[i] = txn
	}

	return out, nil
}

// LatestBlockReference returns a recent blockhash and its validity height.
func (c *Client) LatestBlockReference(ctx context.Context) (BlockReference, error) {
	start := time.Now()
	ref, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	c.recordCall("GetLatestBlockhash", err, start)
	if err != nil {
		return BlockReference{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	return *ref, nil
}

// SendTransaction broadcasts a signed transaction and returns its signature.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (string, error) {
	start := time.Now()
	sig, err := c.rpc.SendTransaction(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	c.recordCall("SendTransaction", err, start)
	if err != nil {
		return "", err
	}
	return sig.String(), nil
}

// ConfirmTransaction waits until the signature reaches confirmed commitment.
// The block reference must be the one the transaction was built with; once
// the chain passes its last valid height the wait ends with ErrBlockhashExpired.
func (c *Client) ConfirmTransaction(ctx context.Context, signature string, ref BlockReference) error {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	poll := func() error {
		start := time.Now()
		status, err := c.rpc.GetSignatureStatus(ctx, sig)
		c.recordCall("GetSignatureStatuses", err, start)
		if err != nil {
			return err
		}
		if status != nil {
			if status.Err != nil {
				return backoff.Permanent(fmt.Errorf("transaction %s failed: %v", signature, status.Err))
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}

		start = time.Now()
		height, err := c.rpc.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
		c.recordCall("GetBlockHeight", err, start)
		if err != nil {
			return err
		}
		if height > ref.LastValidBlockHeight {
			return backoff.Permanent(fmt.Errorf("signature %s: %w", signature, ErrBlockhashExpired))
		}
		return errNotConfirmed
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.confirmPollInterval), maxConfirmPolls),
		ctx,
	)
	if err := backoff.Retry(poll, b); err != nil {
		c.logger.WarnContext(ctx, "transaction confirmation failed",
			"signature", signature,
			"last_valid_block_height", ref.LastValidBlockHeight,
			"error", err,
		)
		return err
	}

	c.logger.DebugContext(ctx, "transaction confirmed", "signature", signature)
	return nil
}

func (c *Client) recordCall(method string, err error, start time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}

func boundLimit(limit int) int {
	if limit <= 0 {
		return DefaultSignatureLimit
	}
	if limit > MaxSignatureLimit {
		return MaxSignatureLimit
	}
	return limit
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
