// Package client is the Go client for the memofeed HTTP API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	natspkg "github.com/brojonat/memofeed/service/nats"
	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrFeedLoading is returned while the server is still assembling a feed.
	ErrFeedLoading = errors.New("feed is loading")
	// ErrSubmissionPending is returned when the server is already submitting a memo.
	ErrSubmissionPending = errors.New("another submission is pending")
)

// Memo is one memo as the server returns it.
type Memo struct {
	Signature   string    `json:"signature"`
	Content     string    `json:"content"`
	Timestamp   int64     `json:"timestamp"`
	BlockTime   time.Time `json:"block_time"`
	ExplorerURL string    `json:"explorer_url"`
}

// FeedPage is one filtered page of an account's feed.
type FeedPage struct {
	Account     string `json:"account"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	Memos       []Memo `json:"memos"`
	CurrentPage int    `json:"current_page"`
	TotalPages  int    `json:"total_pages"`
	Total       int    `json:"total"`
	SearchTerm  string `json:"search_term"`
}

// FeedQuery holds the optional filters of a feed request. Dates are
// YYYY-MM-DD or RFC 3339.
type FeedQuery struct {
	Search   string
	Start    string
	End      string
	Page     int
	PageSize int
	JQ       []string
}

func (q FeedQuery) values() url.Values {
	v := url.Values{}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.Start != "" {
		v.Set("start", q.Start)
	}
	if q.End != "" {
		v.Set("end", q.End)
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(q.PageSize))
	}
	for _, f := range q.JQ {
		v.Add("jq", f)
	}
	return v
}

// SubmitResult describes a confirmed submission.
type SubmitResult struct {
	Signature   string `json:"signature"`
	ExplorerURL string `json:"explorer_url"`
	Status      string `json:"status"`
}

// Client is the HTTP client for the memofeed service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new memofeed client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// ListFeed fetches one page of an account's feed. It returns ErrFeedLoading
// while the server is still assembling the feed.
func (c *Client) ListFeed(ctx context.Context, account string, q FeedQuery) (*FeedPage, error) {
	u := fmt.Sprintf("%s/api/v1/feeds/%s", c.baseURL, url.PathEscape(account))
	if enc := q.values().Encode(); enc != "" {
		u += "?" + enc
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusAccepted:
		return nil, ErrFeedLoading
	default:
		return nil, c.parseErrorResponse(resp)
	}

	var page FeedPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &page, nil
}

// WaitFeed is like ListFeed but polls every interval until the feed has loaded.
func (c *Client) WaitFeed(ctx context.Context, account string, q FeedQuery, interval time.Duration) (*FeedPage, error) {
	var page *FeedPage
	op := func() error {
		p, err := c.ListFeed(ctx, account, q)
		if errors.Is(err, ErrFeedLoading) {
			c.logger.Debug("feed still loading", "account", account)
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		page = p
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)); err != nil {
		return nil, err
	}
	return page, nil
}

// Refresh asks the server to reassemble an account's feed.
func (c *Client) Refresh(ctx context.Context, account string) error {
	u := fmt.Sprintf("%s/api/v1/feeds/%s/refresh", c.baseURL, url.PathEscape(account))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("feed refresh requested", "account", account)
	return nil
}

// SubmitMemo submits a memo with the server's wallet and waits for confirmation.
func (c *Client) SubmitMemo(ctx context.Context, memo string) (*SubmitResult, error) {
	body, err := json.Marshal(map[string]string{"memo": memo})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/memos", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
	case http.StatusConflict:
		return nil, ErrSubmissionPending
	default:
		return nil, c.parseErrorResponse(resp)
	}

	var result SubmitResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("memo submitted", "signature", result.Signature)
	return &result, nil
}

// Stream calls fn for every memo event the server streams for account, or
// for all accounts when account is empty. It returns when ctx is done, the
// stream ends, or fn returns an error.
func (c *Client) Stream(ctx context.Context, account string, fn func(*natspkg.MemoEvent) error) error {
	u := c.baseURL + "/api/v1/stream/memos"
	if account != "" {
		u += "/" + url.PathEscape(account)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// No timeout for streaming
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to SSE endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	var currentEvent, currentData string
	for scanner.Scan() {
		line := scanner.Text()

		// Empty line indicates end of event
		if line == "" {
			if err := c.dispatch(currentEvent, currentData, fn); err != nil {
				return err
			}
			currentEvent, currentData = "", ""
			continue
		}

		if strings.HasPrefix(line, "event:") {
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			currentData = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return nil
}

// dispatch handles one SSE event. Events without a type are treated as memos.
func (c *Client) dispatch(event, data string, fn func(*natspkg.MemoEvent) error) error {
	if data == "" {
		return nil
	}
	switch event {
	case "memo", "":
		var ev natspkg.MemoEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			c.logger.Warn("skipping malformed memo event", "error", err)
			return nil
		}
		return fn(&ev)
	case "error":
		var errInfo struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal([]byte(data), &errInfo)
		return fmt.Errorf("server error: %s", errInfo.Error)
	default:
		return nil
	}
}

var errMatched = errors.New("matched")

// Await blocks until the server streams a memo event for account that
// satisfies matcher, and returns it.
func (c *Client) Await(ctx context.Context, account string, matcher func(*natspkg.MemoEvent) bool) (*natspkg.MemoEvent, error) {
	var found *natspkg.MemoEvent
	err := c.Stream(ctx, account, func(ev *natspkg.MemoEvent) error {
		if !matcher(ev) {
			return nil
		}
		found = ev
		return errMatched
	})
	if errors.Is(err, errMatched) {
		return found, nil
	}
	if err == nil {
		err = errors.New("stream closed before a matching memo arrived")
	}
	return nil, err
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
