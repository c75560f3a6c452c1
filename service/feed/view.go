package feed

import (
	"strings"
	"time"

	"github.com/brojonat/memofeed/service/solana"
)

// DefaultPageSize is the number of memos shown per page.
const DefaultPageSize = 10

// DateRange bounds memo block times inclusively. A nil side is unbounded.
type DateRange struct {
	Start *time.Time
	End   *time.Time
}

// Contains reports whether t falls within the range.
func (r DateRange) Contains(t time.Time) bool {
	if r.Start != nil && t.Before(*r.Start) {
		return false
	}
	if r.End != nil && t.After(*r.End) {
		return false
	}
	return true
}

// Query is everything the visible slice of a feed depends on besides the
// raw memos themselves.
type Query struct {
	SearchTerm string
	DateRange  DateRange
	Page       int // 1-based
	PageSize   int
	// Match is an extra predicate, e.g. compiled jq filters. Nil matches all.
	Match func(solana.Memo) bool
}

// Page is one derived view over a feed.
type Page struct {
	Memos       []solana.Memo `json:"memos"`
	CurrentPage int           `json:"current_page"`
	TotalPages  int           `json:"total_pages"`
	Total       int           `json:"total"` // memos matching the filters, across pages
}

// Filter returns the memos matching the search term, date range and
// predicate, preserving order. raw is never modified.
func Filter(raw []solana.Memo, q Query) []solana.Memo {
	term := strings.ToLower(q.SearchTerm)
	out := make([]solana.Memo, 0, len(raw))
	for _, m := range raw {
		if term != "" && !strings.Contains(strings.ToLower(m.Content), term) {
			continue
		}
		if !q.DateRange.Contains(m.Time()) {
			continue
		}
		if q.Match != nil && !q.Match(m) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// TotalPages is ceil(n/pageSize), never less than one.
func TotalPages(n, pageSize int) int {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	pages := (n + pageSize - 1) / pageSize
	if pages < 1 {
		return 1
	}
	return pages
}

// Derive computes the visible page. A page past the end yields an empty
// slice rather than an error; a page below one is treated as one.
func Derive(raw []solana.Memo, q Query) Page {
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	page := q.Page
	if page < 1 {
		page = 1
	}

	filtered := Filter(raw, q)
	lo := (page - 1) * pageSize
	hi := lo + pageSize
	if lo > len(filtered) {
		lo = len(filtered)
	}
	if hi > len(filtered) {
		hi = len(filtered)
	}

	return Page{
		Memos:       filtered[lo:hi],
		CurrentPage: page,
		TotalPages:  TotalPages(len(filtered), pageSize),
		Total:       len(filtered),
	}
}
