// Package submit writes a memo to the ledger as a single-instruction
// transaction signed by the connected wallet.
package submit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/memofeed/service/metrics"
	"github.com/brojonat/memofeed/service/solana"
	"github.com/brojonat/memofeed/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
)

var (
	ErrWalletNotConnected = errors.New("Wallet not connected")
	ErrEmptyMemo          = errors.New("Memo is required")
)

// FailedMessage is shown when a submission error carries no text.
const FailedMessage = "Transaction failed"

// Ledger is what a submission needs from the ledger. *solana.Client implements it.
type Ledger interface {
	LatestBlockReference(ctx context.Context) (solana.BlockReference, error)
	SendTransaction(ctx context.Context, tx *solanago.Transaction) (string, error)
	ConfirmTransaction(ctx context.Context, signature string, ref solana.BlockReference) error
}

// Receipt describes a confirmed submission.
type Receipt struct {
	Signature   string
	Account     string
	Content     string
	Network     string
	ConfirmedAt time.Time
}

type state int

const (
	stateReady state = iota
	statePending
)

// Pipeline submits memos one at a time. A Submit that arrives while another
// is pending does nothing.
type Pipeline struct {
	ledger    Ledger
	wallet    wallet.Wallet
	programID solanago.PublicKey
	network   string
	logger    *slog.Logger
	metrics   *metrics.Metrics

	onConfirmed func(context.Context, Receipt)

	mu          sync.Mutex
	state       state
	generation  uint64
	memoText    string
	errMsg      string
	txSignature string
}

// NewPipeline creates a ready pipeline. A nil wallet is treated as disconnected.
func NewPipeline(
	ledger Ledger,
	w wallet.Wallet,
	programID solanago.PublicKey,
	network string,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Pipeline {
	if w == nil {
		w = wallet.Disconnected{}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Pipeline{
		ledger:    ledger,
		wallet:    w,
		programID: programID,
		network:   network,
		logger:    logger,
		metrics:   m,
	}
}

// OnConfirmed registers a callback run after each confirmed submission.
func (p *Pipeline) OnConfirmed(fn func(context.Context, Receipt)) *Pipeline {
	p.onConfirmed = fn
	return p
}

// SetMemoText records the form text and clears any previous error.
func (p *Pipeline) SetMemoText(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.memoText = text
	p.errMsg = ""
}

// Submit sends text as a memo and waits for confirmation, returning the
// transaction signature. If a submission is already pending it returns
// ("", nil) without doing anything. Validation failures return
// ErrWalletNotConnected or ErrEmptyMemo before any network call.
func (p *Pipeline) Submit(ctx context.Context, text string) (string, error) {
	p.mu.Lock()
	if p.state == statePending {
		p.mu.Unlock()
		p.logger.DebugContext(ctx, "ignoring submit while another is pending")
		return "", nil
	}
	p.memoText = text
	p.errMsg = ""
	p.txSignature = ""

	signer, connected := p.wallet.PublicKey()
	trimmed := strings.TrimSpace(text)
	var invalid error
	switch {
	case !p.wallet.Connected() || !connected:
		invalid = ErrWalletNotConnected
	case trimmed == "":
		invalid = ErrEmptyMemo
	}
	if invalid != nil {
		p.errMsg = invalid.Error()
		p.mu.Unlock()
		return "", invalid
	}

	p.state = statePending
	p.generation++
	gen := p.generation
	p.mu.Unlock()

	start := time.Now()
	sig, err := p.send(ctx, signer, trimmed)

	status := "confirmed"
	if err != nil {
		status = "failed"
	}
	p.metrics.RecordSubmission(status, metrics.Since(start))

	p.mu.Lock()
	if gen == p.generation {
		p.state = stateReady
		if err != nil {
			p.errMsg = Message(err)
		} else {
			p.txSignature = sig
		}
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.ErrorContext(ctx, "memo submission failed", "signer", signer.String(), "error", err)
		return "", err
	}

	p.logger.InfoContext(ctx, "memo confirmed", "signature", sig, "signer", signer.String())
	if p.onConfirmed != nil {
		p.onConfirmed(ctx, Receipt{
			Signature:   sig,
			Account:     signer.String(),
			Content:     trimmed,
			Network:     p.network,
			ConfirmedAt: time.Now(),
		})
	}
	return sig, nil
}

// send builds, signs, broadcasts and confirms the memo transaction. The
// same block reference is used to build the transaction and to bound the
// confirmation wait.
func (p *Pipeline) send(ctx context.Context, signer solanago.PublicKey, text string) (string, error) {
	ref, err := p.ledger.LatestBlockReference(ctx)
	if err != nil {
		return "", err
	}
	tx, err := BuildMemoTransaction(p.programID, signer, text, ref)
	if err != nil {
		return "", err
	}
	if err := p.wallet.SignTransaction(ctx, tx); err != nil {
		return "", err
	}
	sig, err := p.ledger.SendTransaction(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	p.logger.DebugContext(ctx, "memo transaction sent", "signature", sig)
	if err := p.ledger.ConfirmTransaction(ctx, sig, ref); err != nil {
		return "", err
	}
	return sig, nil
}

// BuildMemoTransaction returns an unsigned transaction with a single memo
// instruction carrying text, signed and paid for by signer.
func BuildMemoTransaction(programID, signer solanago.PublicKey, text string, ref solana.BlockReference) (*solanago.Transaction, error) {
	blockhash, err := solanago.HashFromBase58(ref.Blockhash)
	if err != nil {
		return nil, fmt.Errorf("invalid blockhash %q: %w", ref.Blockhash, err)
	}
	tx, err := solanago.NewTransaction(
		[]solanago.Instruction{memoInstruction(programID, signer, text)},
		blockhash,
		solanago.TransactionPayer(signer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build memo transaction: %w", err)
	}
	return tx, nil
}

// memoInstruction names the signer as a read-only signer of the memo.
func memoInstruction(programID, signer solanago.PublicKey, text string) solanago.Instruction {
	return solanago.NewInstruction(
		programID,
		solanago.AccountMetaSlice{solanago.NewAccountMeta(signer, false, true)},
		[]byte(text),
	)
}

// Reset clears the text, error, signature and pending flag. A submission
// still in flight keeps running but no longer updates the pipeline.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generation++
	p.state = stateReady
	p.memoText = ""
	p.errMsg = ""
	p.txSignature = ""
}

// Snapshot is the pipeline state as a form would render it.
type Snapshot struct {
	MemoText    string `json:"memo_text"`
	Loading     bool   `json:"loading"`
	Error       string `json:"error,omitempty"`
	TxSignature string `json:"tx_signature,omitempty"`
	Status      Status `json:"status"`
	ExplorerURL string `json:"explorer_url,omitempty"`
}

// Snapshot returns a consistent copy of the pipeline state.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		MemoText:    p.memoText,
		Loading:     p.state == statePending,
		Error:       p.errMsg,
		TxSignature: p.txSignature,
		Status:      StatusOf(p.errMsg, p.txSignature),
		ExplorerURL: solana.ExplorerURL(p.txSignature, p.network),
	}
}

// Network is the cluster name explorer links are built for.
func (p *Pipeline) Network() string { return p.network }

// Message renders a submission error for display.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return FailedMessage
}
