package server

import (
	"container/list"
	"context"
	"log/slog"
	"sync"

	"github.com/brojonat/memofeed/service/feed"
	solanago "github.com/gagliardetto/solana-go"
	"golang.org/x/sync/semaphore"
)

const (
	defaultMaxFeedSessions    = 256
	defaultMaxConcurrentLoads = 2
)

// feedRegistryOptions bounds the registry. Zero values fall back to the
// defaults above.
type feedRegistryOptions struct {
	Session            feed.SessionOptions
	MaxSessions        int
	MaxConcurrentLoads int
}

// feedEntry tracks one account's session and the load currently running
// for it, if any.
type feedEntry struct {
	key     string
	session *feed.Session
	elem    *list.Element
	cancel  context.CancelFunc
	done    chan struct{}
}

// feedRegistry keeps one feed session per requested account. Sessions are
// only used for their load lifecycle; each request derives its own page
// from the session's raw memos.
//
// An account has at most one assembly running: a new load cancels the one
// it supersedes and waits for it to return before calling the loader.
// Loads across accounts share a semaphore, and the least recently used
// session is evicted once MaxSessions is exceeded.
type feedRegistry struct {
	ctx         context.Context
	loader      feed.Loader
	opts        feed.SessionOptions
	maxSessions int
	loads       *semaphore.Weighted
	logger      *slog.Logger

	mu      sync.Mutex
	entries map[string]*feedEntry
	lru     *list.List // front is most recently used
	closed  bool
	wg      sync.WaitGroup
}

func newFeedRegistry(ctx context.Context, loader feed.Loader, opts feedRegistryOptions, logger *slog.Logger) *feedRegistry {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = defaultMaxFeedSessions
	}
	if opts.MaxConcurrentLoads <= 0 {
		opts.MaxConcurrentLoads = defaultMaxConcurrentLoads
	}
	return &feedRegistry{
		ctx:         ctx,
		loader:      loader,
		opts:        opts.Session,
		maxSessions: opts.MaxSessions,
		loads:       semaphore.NewWeighted(int64(opts.MaxConcurrentLoads)),
		logger:      logger,
		entries:     make(map[string]*feedEntry),
		lru:         list.New(),
	}
}

// session returns the account's session, creating it and starting its
// first load when this is the first request for the account.
func (r *feedRegistry) session(account solanago.PublicKey) *feed.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, created := r.getOrCreateLocked(account)
	if created {
		r.loadLocked(e, account)
	}
	return e.session
}

// refresh restarts assembly for the account. A load already in flight is
// cancelled and its result discarded.
func (r *feedRegistry) refresh(account solanago.PublicKey) *feed.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, _ := r.getOrCreateLocked(account)
	r.loadLocked(e, account)
	return e.session
}

func (r *feedRegistry) refreshIfOpen(address string) {
	account, err := solanago.PublicKeyFromBase58(address)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[account.String()]
	if !ok {
		return
	}
	r.lru.MoveToFront(e.elem)
	r.loadLocked(e, account)
}

// size reports how many sessions the registry holds.
func (r *feedRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *feedRegistry) getOrCreateLocked(account solanago.PublicKey) (*feedEntry, bool) {
	key := account.String()
	if e, ok := r.entries[key]; ok {
		r.lru.MoveToFront(e.elem)
		return e, false
	}
	e := &feedEntry{key: key, session: feed.NewSession(r.loader, r.opts, r.logger)}
	e.elem = r.lru.PushFront(e)
	r.entries[key] = e
	for r.lru.Len() > r.maxSessions {
		r.evictLocked(r.lru.Back().Value.(*feedEntry))
	}
	return e, true
}

func (r *feedRegistry) evictLocked(e *feedEntry) {
	r.lru.Remove(e.elem)
	delete(r.entries, e.key)
	if e.cancel != nil {
		e.cancel()
	}
	e.session.Close()
	r.logger.Debug("evicted feed session", "account", e.key)
}

// loadLocked starts a load for the entry, superseding any load in flight.
func (r *feedRegistry) loadLocked(e *feedEntry, account solanago.PublicKey) {
	if r.closed {
		return
	}
	prevDone := e.done
	if e.cancel != nil {
		e.cancel()
	}
	ctx, cancel := context.WithCancel(r.ctx)
	done := make(chan struct{})
	e.cancel, e.done = cancel, done

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(done)
		defer cancel()

		if prevDone != nil {
			select {
			case <-prevDone:
			case <-ctx.Done():
				return
			}
		}
		if err := r.loads.Acquire(ctx, 1); err != nil {
			return
		}
		defer r.loads.Release(1)

		if err := e.session.Load(ctx, account); err != nil && ctx.Err() == nil {
			r.logger.Warn("feed load failed", "account", account.String(), "error", err)
		}
	}()
}

// close cancels and waits for in-flight loads. No load starts afterwards.
func (r *feedRegistry) close() {
	r.mu.Lock()
	r.closed = true
	for _, e := range r.entries {
		if e.cancel != nil {
			e.cancel()
		}
	}
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.session.Close()
	}
}
