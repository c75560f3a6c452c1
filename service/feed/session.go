package feed

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/memofeed/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// Status is the lifecycle of a feed load.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Loader assembles an account's feed. *Assembler implements it.
type Loader interface {
	Assemble(ctx context.Context, account solanago.PublicKey) ([]solana.Memo, error)
}

// SessionOptions configures a Session. Zero values take the defaults.
type SessionOptions struct {
	PageSize       int
	SearchDebounce time.Duration
	// ResetPageOnFilterChange moves back to page one whenever the search
	// term or date range changes. Off by default.
	ResetPageOnFilterChange bool
	// OnChange is called, outside the session lock, after every state change.
	OnChange func(Snapshot)
}

// Snapshot is a consistent copy of a session's state and its visible page.
type Snapshot struct {
	Account     string    `json:"account"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	SearchInput string    `json:"search_input"`
	SearchTerm  string    `json:"search_term"`
	DateRange   DateRange `json:"-"`
	Page        Page      `json:"page"`
	Generation  uint64    `json:"generation"`
}

// Session owns one reader's view of a feed: the raw memos from the latest
// load plus the search term, date range and page derived over them.
// Only the most recent Load may apply its result.
type Session struct {
	loader Loader
	logger *slog.Logger
	opts   SessionOptions

	mu          sync.Mutex
	account     solanago.PublicKey
	status      Status
	errMsg      string
	generation  uint64
	raw         []solana.Memo
	searchInput string
	searchTerm  string
	dateRange   DateRange
	page        int
	match       func(solana.Memo) bool

	search *Debouncer[string]
}

// NewSession creates an idle session.
func NewSession(loader Loader, opts SessionOptions, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.SearchDebounce <= 0 {
		opts.SearchDebounce = DefaultSearchDebounce
	}
	s := &Session{
		loader: loader,
		logger: logger,
		opts:   opts,
		status: StatusIdle,
		page:   1,
	}
	s.search = NewDebouncer(opts.SearchDebounce, s.applySearchTerm)
	return s
}

// Load assembles the account's feed and, unless a newer Load started in
// the meantime or ctx was cancelled, replaces the raw memos with the
// result. Switching to a different account drops the previous account's
// memos immediately. The assembly error is returned either way.
func (s *Session) Load(ctx context.Context, account solanago.PublicKey) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	if !s.account.Equals(account) {
		s.raw = nil
	}
	s.account = account
	s.status = StatusLoading
	s.errMsg = ""
	s.mu.Unlock()
	s.notify()

	memos, err := s.loader.Assemble(ctx, account)

	s.mu.Lock()
	if gen != s.generation || ctx.Err() != nil {
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "discarding stale feed result",
			"account", account.String(),
			"generation", gen,
		)
		return err
	}
	if err != nil {
		s.status = StatusError
		s.errMsg = Message(err)
	} else {
		s.status = StatusSuccess
		s.raw = memos
	}
	s.mu.Unlock()
	s.notify()
	return err
}

// SetSearchTerm records typed input. The filter picks it up once input
// has been quiet for the debounce interval.
func (s *Session) SetSearchTerm(term string) {
	s.mu.Lock()
	s.searchInput = term
	s.mu.Unlock()
	s.search.Set(term)
}

func (s *Session) applySearchTerm(term string) {
	s.mu.Lock()
	changed := s.searchTerm != term
	s.searchTerm = term
	if changed && s.opts.ResetPageOnFilterChange {
		s.page = 1
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// SetDateRange applies an inclusive date range immediately.
func (s *Session) SetDateRange(r DateRange) {
	s.mu.Lock()
	s.dateRange = r
	if s.opts.ResetPageOnFilterChange {
		s.page = 1
	}
	s.mu.Unlock()
	s.notify()
}

// SetMatch installs an extra memo predicate, such as compiled jq filters.
func (s *Session) SetMatch(match func(solana.Memo) bool) {
	s.mu.Lock()
	s.match = match
	s.mu.Unlock()
	s.notify()
}

// SetPage moves to page p, which must lie within [1, totalPages].
func (s *Session) SetPage(p int) error {
	s.mu.Lock()
	total := TotalPages(len(Filter(s.raw, s.queryLocked())), s.opts.PageSize)
	if p < 1 || p > total {
		s.mu.Unlock()
		return ErrPageOutOfRange
	}
	s.page = p
	s.mu.Unlock()
	s.notify()
	return nil
}

// NextPage advances one page. It reports false, changing nothing, on the last page.
func (s *Session) NextPage() bool {
	s.mu.Lock()
	p := s.page + 1
	s.mu.Unlock()
	return s.SetPage(p) == nil
}

// PrevPage goes back one page. It reports false, changing nothing, on the first page.
func (s *Session) PrevPage() bool {
	s.mu.Lock()
	p := s.page - 1
	s.mu.Unlock()
	return s.SetPage(p) == nil
}

// Query returns the current derivation inputs.
func (s *Session) Query() Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryLocked()
}

func (s *Session) queryLocked() Query {
	return Query{
		SearchTerm: s.searchTerm,
		DateRange:  s.dateRange,
		Page:       s.page,
		PageSize:   s.opts.PageSize,
		Match:      s.match,
	}
}

// Memos returns the raw memos from the latest applied load.
func (s *Session) Memos() []solana.Memo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]solana.Memo, len(s.raw))
	copy(out, s.raw)
	return out
}

// Status returns the load status and, for StatusError, its message.
func (s *Session) Status() (Status, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.errMsg
}

// Snapshot returns the session state together with the visible page.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	account := ""
	if !s.account.IsZero() {
		account = s.account.String()
	}
	return Snapshot{
		Account:     account,
		Status:      s.status,
		Error:       s.errMsg,
		SearchInput: s.searchInput,
		SearchTerm:  s.searchTerm,
		DateRange:   s.dateRange,
		Page:        Derive(s.raw, s.queryLocked()),
		Generation:  s.generation,
	}
}

// Close stops any pending debounced search update.
func (s *Session) Close() {
	s.search.Stop()
}

func (s *Session) notify() {
	if s.opts.OnChange != nil {
		s.opts.OnChange(s.Snapshot())
	}
}
