package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/memofeed/service/db"
	"github.com/brojonat/memofeed/service/feed"
	"github.com/brojonat/memofeed/service/solana"
	"github.com/brojonat/memofeed/service/submit"
	"github.com/brojonat/memofeed/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
)

const (
	maxRequestBodySize = 64 << 10 // memos are small; 64KB is generous
	maxAddressLength   = 100      // Solana addresses are 44 chars, give buffer
	maxPageSize        = 100
	minArchiveInterval = time.Minute
	maxArchiveInterval = 24 * time.Hour
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// ArchiveReader is the read side of the memo archive. *db.Store implements it.
type ArchiveReader interface {
	ListMemos(ctx context.Context, account, network string, limit, offset int32) ([]*db.ArchivedMemo, error)
	CountMemos(ctx context.Context, account, network string) (int64, error)
}

// memoResponse is the JSON response format for a memo.
type memoResponse struct {
	Signature   string    `json:"signature"`
	Content     string    `json:"content"`
	Timestamp   int64     `json:"timestamp"`
	BlockTime   time.Time `json:"block_time"`
	ExplorerURL string    `json:"explorer_url"`
}

func memoToResponse(m solana.Memo, network string) memoResponse {
	return memoResponse{
		Signature:   m.ID,
		Content:     m.Content,
		Timestamp:   m.Timestamp,
		BlockTime:   m.Time().UTC(),
		ExplorerURL: solana.ExplorerURL(m.ID, network),
	}
}

// feedResponse is the JSON response format for one page of a feed.
type feedResponse struct {
	Account     string         `json:"account"`
	Status      feed.Status    `json:"status"`
	Error       string         `json:"error,omitempty"`
	Memos       []memoResponse `json:"memos"`
	CurrentPage int            `json:"current_page"`
	TotalPages  int            `json:"total_pages"`
	Total       int            `json:"total"`
	SearchTerm  string         `json:"search_term"`
}

// handleGetFeed returns a handler that serves a filtered page of an account's feed.
// GET /api/v1/feeds/{address}?search=&start=&end=&page=&page_size=&jq=
// The first request for an account starts assembly and answers 202 until it completes.
func handleGetFeed(feeds *feedRegistry, network string, defaultPageSize int, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, err := validateAddress(r.PathValue("address"))
		if err != nil {
			logger.Debug("invalid address", "address", r.PathValue("address"), "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		q, err := parseFeedQuery(r, defaultPageSize)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		session := feeds.session(account)
		status, errMsg := session.Status()
		switch status {
		case feed.StatusIdle, feed.StatusLoading:
			writeJSON(w, feedResponse{
				Account: account.String(),
				Status:  feed.StatusLoading,
				Memos:   []memoResponse{},
			}, http.StatusAccepted)
			return
		case feed.StatusError:
			writeJSON(w, feedResponse{
				Account: account.String(),
				Status:  feed.StatusError,
				Error:   errMsg,
				Memos:   []memoResponse{},
			}, http.StatusBadGateway)
			return
		}

		page := feed.Derive(session.Memos(), q)
		if q.Page > page.TotalPages {
			writeError(w, fmt.Sprintf("%v: page %d of %d", feed.ErrPageOutOfRange, q.Page, page.TotalPages), http.StatusBadRequest)
			return
		}

		resp := feedResponse{
			Account:     account.String(),
			Status:      feed.StatusSuccess,
			Memos:       make([]memoResponse, len(page.Memos)),
			CurrentPage: page.CurrentPage,
			TotalPages:  page.TotalPages,
			Total:       page.Total,
			SearchTerm:  q.SearchTerm,
		}
		for i, m := range page.Memos {
			resp.Memos[i] = memoToResponse(m, network)
		}

		logger.Debug("feed page served",
			"account", account.String(),
			"page", page.CurrentPage,
			"total", page.Total,
		)
		writeJSON(w, resp, http.StatusOK)
	})
}

// parseFeedQuery reads the filter and paging parameters of a feed request.
func parseFeedQuery(r *http.Request, defaultPageSize int) (feed.Query, error) {
	params := r.URL.Query()
	q := feed.Query{
		SearchTerm: params.Get("search"),
		Page:       1,
		PageSize:   defaultPageSize,
	}

	dates, err := feed.ParseDateRange(params.Get("start"), params.Get("end"))
	if err != nil {
		return feed.Query{}, err
	}
	q.DateRange = dates

	if v := params.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return feed.Query{}, errorf("invalid page parameter: must be a positive integer")
		}
		q.Page = page
	}

	if v := params.Get("page_size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size < 1 {
			return feed.Query{}, errorf("invalid page_size parameter: must be a positive integer")
		}
		if size > maxPageSize {
			return feed.Query{}, errorf("page_size cannot exceed %d", maxPageSize)
		}
		q.PageSize = size
	}

	if filters := params["jq"]; len(filters) > 0 {
		match, err := feed.CompileJQ(filters)
		if err != nil {
			return feed.Query{}, errorf("invalid jq filter: %v", err)
		}
		q.Match = match
	}

	return q, nil
}

// handleRefreshFeed returns a handler that restarts assembly of a feed.
// POST /api/v1/feeds/{address}/refresh
func handleRefreshFeed(feeds *feedRegistry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, err := validateAddress(r.PathValue("address"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		feeds.refresh(account)
		logger.Info("feed refresh requested", "account", account.String())

		writeJSON(w, feedResponse{
			Account: account.String(),
			Status:  feed.StatusLoading,
			Memos:   []memoResponse{},
		}, http.StatusAccepted)
	})
}

// submitResponse is the JSON response format for a confirmed submission.
type submitResponse struct {
	Signature   string        `json:"signature"`
	ExplorerURL string        `json:"explorer_url"`
	Status      submit.Status `json:"status"`
}

// handleSubmitMemo returns a handler that submits a memo with the server's wallet
// and waits for confirmation.
// POST /api/v1/memos {"memo": "..."}
func handleSubmitMemo(pipeline *submit.Pipeline, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pipeline == nil {
			writeError(w, "memo submission is not enabled: no wallet configured", http.StatusServiceUnavailable)
			return
		}

		// Limit request body size to prevent memory exhaustion
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Memo string `json:"memo"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode submit request", "error", err)
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, "request body too large", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		sig, err := pipeline.Submit(r.Context(), req.Memo)
		switch {
		case errors.Is(err, submit.ErrWalletNotConnected):
			writeError(w, err.Error(), http.StatusServiceUnavailable)
			return
		case errors.Is(err, submit.ErrEmptyMemo):
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		case err != nil:
			writeError(w, submit.Message(err), http.StatusBadGateway)
			return
		case sig == "":
			writeError(w, "another submission is pending", http.StatusConflict)
			return
		}

		writeJSON(w, submitResponse{
			Signature:   sig,
			ExplorerURL: solana.ExplorerURL(sig, pipeline.Network()),
			Status:      submit.StatusSuccess,
		}, http.StatusCreated)
	})
}

// handleListArchive returns a handler that lists archived memos for an account.
// GET /api/v1/archive/{address}?limit=N&offset=N
func handleListArchive(archive ArchiveReader, network string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, err := validateAddress(r.PathValue("address"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		query := r.URL.Query()

		// Parse limit (default 100, max 1000)
		limit := int32(100)
		if limitStr := query.Get("limit"); limitStr != "" {
			parsed, err := strconv.Atoi(limitStr)
			if err != nil {
				writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsed < 1 || parsed > 1000 {
				writeError(w, "limit must be between 1 and 1000", http.StatusBadRequest)
				return
			}
			limit = int32(parsed)
		}

		// Parse offset (default 0)
		offset := int32(0)
		if offsetStr := query.Get("offset"); offsetStr != "" {
			parsed, err := strconv.Atoi(offsetStr)
			if err != nil {
				writeError(w, "invalid offset parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsed < 0 {
				writeError(w, "offset cannot be negative", http.StatusBadRequest)
				return
			}
			offset = int32(parsed)
		}

		memos, err := archive.ListMemos(r.Context(), account.String(), network, limit, offset)
		if err != nil {
			logger.Error("failed to list archived memos", "account", account.String(), "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		total, err := archive.CountMemos(r.Context(), account.String(), network)
		if err != nil {
			logger.Error("failed to count archived memos", "account", account.String(), "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]memoResponse, len(memos))
		for i, m := range memos {
			resp[i] = memoToResponse(m.Memo, network)
		}

		writeJSON(w, map[string]interface{}{
			"memos":  resp,
			"count":  len(resp),
			"total":  total,
			"limit":  limit,
			"offset": offset,
		}, http.StatusOK)
	})
}

// handleScheduleArchive returns a handler that creates or updates the
// Temporal schedule archiving an account's feed.
// POST /api/v1/feeds/{address}/archive {"interval": "10m"}
func handleScheduleArchive(scheduler temporal.Scheduler, network string, defaultInterval time.Duration, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, err := validateAddress(r.PathValue("address"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Interval string `json:"interval"`
		}
		// An empty body keeps the configured interval.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		interval := defaultInterval
		if req.Interval != "" {
			interval, err = time.ParseDuration(req.Interval)
			if err != nil {
				writeError(w, "invalid interval: must be a duration like 5m", http.StatusBadRequest)
				return
			}
		}
		if err := validateArchiveInterval(interval); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := scheduler.UpsertArchiveSchedule(r.Context(), account.String(), network, interval); err != nil {
			logger.Error("failed to upsert archive schedule", "account", account.String(), "error", err)
			writeError(w, "failed to schedule archive", http.StatusInternalServerError)
			return
		}

		logger.Info("archive scheduled", "account", account.String(), "network", network, "interval", interval)
		writeJSON(w, map[string]string{
			"account":  account.String(),
			"network":  network,
			"interval": interval.String(),
		}, http.StatusOK)
	})
}

// handleUnscheduleArchive returns a handler that deletes an account's archive schedule.
// DELETE /api/v1/feeds/{address}/archive
func handleUnscheduleArchive(scheduler temporal.Scheduler, network string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, err := validateAddress(r.PathValue("address"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := scheduler.DeleteArchiveSchedule(r.Context(), account.String(), network); err != nil {
			logger.Error("failed to delete archive schedule", "account", account.String(), "error", err)
			writeError(w, "failed to delete archive schedule", http.StatusInternalServerError)
			return
		}

		logger.Info("archive unscheduled", "account", account.String(), "network", network)
		w.WriteHeader(http.StatusNoContent)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress checks an account address and decodes it.
func validateAddress(address string) (solanago.PublicKey, error) {
	if address == "" {
		return solanago.PublicKey{}, errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return solanago.PublicKey{}, errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return solanago.PublicKey{}, errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return solanago.PublicKey{}, errorf("invalid address format: must contain only valid base58 characters")
	}

	pk, err := solanago.PublicKeyFromBase58(address)
	if err != nil {
		return solanago.PublicKey{}, errorf("invalid address: %v", err)
	}
	return pk, nil
}

// validateArchiveInterval validates an archive interval for reasonable bounds.
func validateArchiveInterval(interval time.Duration) error {
	if interval < minArchiveInterval {
		return errorf("interval must be at least %s", minArchiveInterval)
	}
	if interval > maxArchiveInterval {
		return errorf("interval cannot exceed %s", maxArchiveInterval)
	}
	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
