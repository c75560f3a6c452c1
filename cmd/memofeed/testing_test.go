package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/memofeed/service/feed"
	"github.com/brojonat/memofeed/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

const testAccount = "Vote111111111111111111111111111111111111111"

// fakeLoader implements feed.Loader with canned memos.
type fakeLoader struct {
	mu    sync.Mutex
	memos []solana.Memo
	err   error
	calls int
}

func (f *fakeLoader) Assemble(ctx context.Context, account solanago.PublicKey) ([]solana.Memo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]solana.Memo, len(f.memos))
	copy(out, f.memos)
	return out, nil
}

func (f *fakeLoader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func day(d int) int64 {
	return time.Date(2024, 3, d, 12, 0, 0, 0, time.UTC).Unix()
}

// sampleMemos are newest first, five days of March 2024.
func sampleMemos() []solana.Memo {
	return []solana.Memo{
		{ID: "sig5", Content: "gm solana", Timestamp: day(5)},
		{ID: "sig4", Content: "hello world", Timestamp: day(4)},
		{ID: "sig3", Content: "GM again", Timestamp: day(3)},
		{ID: "sig2", Content: "lunch", Timestamp: day(2)},
		{ID: "sig1", Content: "gm early", Timestamp: day(1)},
	}
}

func withLoader(t *testing.T, l feed.Loader) {
	t.Helper()
	orig := newLoader
	newLoader = func(*cli.Context, *slog.Logger) (feed.Loader, error) { return l, nil }
	t.Cleanup(func() { newLoader = orig })
}

// runApp runs the CLI with args and returns what it wrote to stdout.
func runApp(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	app.Reader = bytes.NewBufferString(stdin)
	err := app.Run(append([]string{"memofeed"}, args...))
	return out.String(), err
}
