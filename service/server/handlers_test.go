package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/memofeed/service/config"
	"github.com/brojonat/memofeed/service/db"
	"github.com/brojonat/memofeed/service/solana"
	"github.com/brojonat/memofeed/service/submit"
	"github.com/brojonat/memofeed/service/temporal"
	"github.com/brojonat/memofeed/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAccount = "Vote111111111111111111111111111111111111111"

// fakeLoader implements feed.Loader. It's behavior-focused: set what it
// returns; a non-nil gate holds every load until closed.
type fakeLoader struct {
	mu          sync.Mutex
	memos       []solana.Memo
	err         error
	gate        chan struct{}
	calls       int
	inFlight    map[string]int
	maxInFlight int // per account
	maxTotal    int // across accounts
}

func (f *fakeLoader) Assemble(ctx context.Context, account solanago.PublicKey) ([]solana.Memo, error) {
	key := account.String()
	f.mu.Lock()
	f.calls++
	if f.inFlight == nil {
		f.inFlight = make(map[string]int)
	}
	f.inFlight[key]++
	f.maxInFlight = max(f.maxInFlight, f.inFlight[key])
	total := 0
	for _, n := range f.inFlight {
		total += n
	}
	f.maxTotal = max(f.maxTotal, total)
	gate := f.gate
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight[key]--
		f.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.memos, f.err
}

func (f *fakeLoader) set(memos []solana.Memo, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memos, f.err = memos, err
}

func (f *fakeLoader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeLoader) peaks() (perAccount, total int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight, f.maxTotal
}

// fakeLedger implements submit.Ledger.
type fakeLedger struct {
	sendErr error
	gate    chan struct{}
}

func (f *fakeLedger) LatestBlockReference(ctx context.Context) (solana.BlockReference, error) {
	return solana.BlockReference{Blockhash: solanago.Hash{1}.String(), LastValidBlockHeight: 100}, nil
}

func (f *fakeLedger) SendTransaction(ctx context.Context, tx *solanago.Transaction) (string, error) {
	if f.gate != nil {
		<-f.gate
	}
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return tx.Signatures[0].String(), nil
}

func (f *fakeLedger) ConfirmTransaction(ctx context.Context, signature string, ref solana.BlockReference) error {
	return nil
}

// fakeArchive implements ArchiveReader.
type fakeArchive struct {
	memos      []*db.ArchivedMemo
	err        error
	lastLimit  int32
	lastOffset int32
}

func (f *fakeArchive) ListMemos(ctx context.Context, account, network string, limit, offset int32) ([]*db.ArchivedMemo, error) {
	f.lastLimit, f.lastOffset = limit, offset
	return f.memos, f.err
}

func (f *fakeArchive) CountMemos(ctx context.Context, account, network string) (int64, error) {
	return int64(len(f.memos)), f.err
}

func testConfig() *config.Config {
	return &config.Config{
		SolanaNetwork:   solana.NetworkDevnet,
		PageSize:        2,
		SearchDebounce:  10 * time.Millisecond,
		ArchiveInterval: 5 * time.Minute,
	}
}

func sampleMemos() []solana.Memo {
	day := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Unix()
	return []solana.Memo{
		{ID: "sig3", Content: `{"kind":"tip","amount":5}`, Timestamp: day + 2*86400},
		{ID: "sig2", Content: "Hello World", Timestamp: day + 86400},
		{ID: "sig1", Content: "gm frens", Timestamp: day},
	}
}

func newTestServer(t *testing.T, deps Dependencies) *httptest.Server {
	t.Helper()
	_, ts := newTestServerWithConfig(t, testConfig(), deps)
	return ts
}

func newTestServerWithConfig(t *testing.T, cfg *config.Config, deps Dependencies) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(":0", cfg, deps, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		require.NoError(t, srv.Shutdown(context.Background()))
	})
	return srv, ts
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func waitLoaded(t *testing.T, ts *httptest.Server) {
	t.Helper()
	require.Eventually(t, func() bool {
		return getJSON(t, ts.URL+"/api/v1/feeds/"+testAccount, nil) != http.StatusAccepted
	}, 2*time.Second, 5*time.Millisecond)
}

func TestGetFeed_LoadingThenLoaded(t *testing.T) {
	loader := &fakeLoader{memos: sampleMemos(), gate: make(chan struct{})}
	ts := newTestServer(t, Dependencies{Loader: loader})

	var pending feedResponse
	assert.Equal(t, http.StatusAccepted, getJSON(t, ts.URL+"/api/v1/feeds/"+testAccount, &pending))
	assert.Equal(t, "loading", string(pending.Status))

	close(loader.gate)
	waitLoaded(t, ts)

	var resp feedResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/feeds/"+testAccount, &resp))
	assert.Equal(t, "success", string(resp.Status))
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 2, resp.TotalPages)
	assert.Equal(t, 1, resp.CurrentPage)
	require.Len(t, resp.Memos, 2)
	assert.Equal(t, "sig3", resp.Memos[0].Signature)
	assert.Contains(t, resp.Memos[0].ExplorerURL, "cluster=devnet")
	assert.Equal(t, 1, loader.callCount(), "repeat requests reuse the loaded feed")
}

func TestGetFeed_Query(t *testing.T) {
	loader := &fakeLoader{memos: sampleMemos()}
	ts := newTestServer(t, Dependencies{Loader: loader})
	waitLoaded(t, ts)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantSigs   []string
		wantTotal  int
	}{
		{"second page", "page=2", http.StatusOK, []string{"sig1"}, 3},
		{"case-insensitive search", "search=hello", http.StatusOK, []string{"sig2"}, 1},
		{"no matches", "search=nothing", http.StatusOK, []string{}, 0},
		{"bare end date covers the day", "end=2024-03-01", http.StatusOK, []string{"sig1"}, 1},
		{"date range", "start=2024-03-02&end=2024-03-03", http.StatusOK, []string{"sig3", "sig2"}, 2},
		{"page size", "page_size=3", http.StatusOK, []string{"sig3", "sig2", "sig1"}, 3},
		{"jq filter", "jq=.kind%20%3D%3D%20%22tip%22", http.StatusOK, []string{"sig3"}, 1},
		{"page out of range", "page=3", http.StatusBadRequest, nil, 0},
		{"invalid page", "page=zero", http.StatusBadRequest, nil, 0},
		{"page size too large", "page_size=1000", http.StatusBadRequest, nil, 0},
		{"invalid date", "start=yesterday", http.StatusBadRequest, nil, 0},
		{"invalid jq", "jq=.[", http.StatusBadRequest, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp feedResponse
			status := getJSON(t, ts.URL+"/api/v1/feeds/"+testAccount+"?"+tt.query, &resp)
			require.Equal(t, tt.wantStatus, status)
			if tt.wantStatus != http.StatusOK {
				return
			}
			sigs := make([]string, len(resp.Memos))
			for i, m := range resp.Memos {
				sigs[i] = m.Signature
			}
			assert.Equal(t, tt.wantSigs, sigs)
			assert.Equal(t, tt.wantTotal, resp.Total)
		})
	}
}

func TestGetFeed_EmptyFeedHasOnePage(t *testing.T) {
	ts := newTestServer(t, Dependencies{Loader: &fakeLoader{memos: []solana.Memo{}}})
	waitLoaded(t, ts)

	var resp feedResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/feeds/"+testAccount, &resp))
	assert.Empty(t, resp.Memos)
	assert.Equal(t, 1, resp.TotalPages)
}

func TestGetFeed_AssemblyFailure(t *testing.T) {
	loader := &fakeLoader{err: errors.New("failed to list signatures: 429 Too Many Requests")}
	ts := newTestServer(t, Dependencies{Loader: loader})
	waitLoaded(t, ts)

	var resp feedResponse
	require.Equal(t, http.StatusBadGateway, getJSON(t, ts.URL+"/api/v1/feeds/"+testAccount, &resp))
	assert.Equal(t, "error", string(resp.Status))
	assert.Contains(t, resp.Error, "429")
}

func TestGetFeed_PathologicalAddress(t *testing.T) {
	ts := newTestServer(t, Dependencies{Loader: &fakeLoader{}})

	tests := []struct {
		name    string
		address string
		wantErr string
	}{
		{"invalid base58 characters", "0OIl0OIl0OIl", "base58"},
		{"too long", strings.Repeat("A", 101), "too long"},
		{"not a public key", "abc", "invalid address"},
		{"sql injection", "abc;DROP%20TABLE", "base58"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]string
			status := getJSON(t, ts.URL+"/api/v1/feeds/"+tt.address, &body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Contains(t, body["error"], tt.wantErr)
		})
	}
}

func TestRefreshFeed(t *testing.T) {
	loader := &fakeLoader{memos: sampleMemos()[:1]}
	ts := newTestServer(t, Dependencies{Loader: loader})
	waitLoaded(t, ts)

	loader.set(sampleMemos(), nil)
	resp, err := http.Post(ts.URL+"/api/v1/feeds/"+testAccount+"/refresh", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		var page feedResponse
		return getJSON(t, ts.URL+"/api/v1/feeds/"+testAccount, &page) == http.StatusOK && page.Total == 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, loader.callCount())
}

func postRefresh(t *testing.T, ts *httptest.Server, account string) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/v1/feeds/"+account+"/refresh", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestRefreshFeed_OneAssemblyPerAccount(t *testing.T) {
	loader := &fakeLoader{memos: sampleMemos(), gate: make(chan struct{})}
	ts := newTestServer(t, Dependencies{Loader: loader})

	assert.Equal(t, http.StatusAccepted, getJSON(t, ts.URL+"/api/v1/feeds/"+testAccount, nil))
	for i := 0; i < 20; i++ {
		postRefresh(t, ts, testAccount)
	}

	close(loader.gate)
	waitLoaded(t, ts)

	var resp feedResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/feeds/"+testAccount, &resp))
	assert.Equal(t, 3, resp.Total)

	perAccount, _ := loader.peaks()
	assert.Equal(t, 1, perAccount, "superseded loads finish before the next one assembles")
	assert.LessOrEqual(t, loader.callCount(), 21)
}

func TestFeedRegistry_BoundsSessionsAndLoads(t *testing.T) {
	cfg := testConfig()
	cfg.FeedMaxSessions = 4
	cfg.FeedMaxConcurrentLoads = 2
	loader := &fakeLoader{memos: sampleMemos(), gate: make(chan struct{})}
	srv, ts := newTestServerWithConfig(t, cfg, Dependencies{Loader: loader})

	for i := 0; i < 50; i++ {
		account := solanago.NewWallet().PublicKey().String()
		assert.Equal(t, http.StatusAccepted, getJSON(t, ts.URL+"/api/v1/feeds/"+account, nil))
	}
	assert.Equal(t, 4, srv.feeds.size())

	require.Eventually(t, func() bool {
		return loader.callCount() >= 2
	}, 2*time.Second, 5*time.Millisecond)
	_, total := loader.peaks()
	assert.LessOrEqual(t, total, 2)

	close(loader.gate)
	last := solanago.NewWallet().PublicKey().String()
	require.Eventually(t, func() bool {
		return getJSON(t, ts.URL+"/api/v1/feeds/"+last, nil) == http.StatusOK
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, srv.feeds.size())
	_, total = loader.peaks()
	assert.LessOrEqual(t, total, 2)
}

func TestRefreshAfterShutdownStartsNoLoad(t *testing.T) {
	loader := &fakeLoader{memos: sampleMemos()}
	srv := New(":0", testConfig(), Dependencies{Loader: loader}, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	waitLoaded(t, ts)
	calls := loader.callCount()

	require.NoError(t, srv.Shutdown(context.Background()))
	srv.RefreshFeed(testAccount)
	assert.Equal(t, calls, loader.callCount())
}

func postMemo(t *testing.T, ts *httptest.Server, body string) (int, map[string]string) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/v1/memos", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func newPipeline(t *testing.T, ledger submit.Ledger, w wallet.Wallet) *submit.Pipeline {
	t.Helper()
	return submit.NewPipeline(ledger, w, solana.MemoProgramIDSPL, solana.NetworkDevnet, nil, nil)
}

func keypairWallet(t *testing.T) wallet.Wallet {
	t.Helper()
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	return wallet.NewKeypair(key)
}

func TestSubmitMemo(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		ts := newTestServer(t, Dependencies{Loader: &fakeLoader{}, Pipeline: newPipeline(t, &fakeLedger{}, keypairWallet(t))})

		status, body := postMemo(t, ts, `{"memo":"hello chain"}`)
		require.Equal(t, http.StatusCreated, status)
		assert.NotEmpty(t, body["signature"])
		assert.Equal(t, "success", body["status"])
		assert.Contains(t, body["explorer_url"], body["signature"])
	})

	t.Run("empty memo", func(t *testing.T) {
		ts := newTestServer(t, Dependencies{Loader: &fakeLoader{}, Pipeline: newPipeline(t, &fakeLedger{}, keypairWallet(t))})
		status, body := postMemo(t, ts, `{"memo":"   "}`)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "Memo is required", body["error"])
	})

	t.Run("malformed json", func(t *testing.T) {
		ts := newTestServer(t, Dependencies{Loader: &fakeLoader{}, Pipeline: newPipeline(t, &fakeLedger{}, keypairWallet(t))})
		status, body := postMemo(t, ts, `{"memo":`)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Contains(t, body["error"], "invalid request body")
	})

	t.Run("no pipeline", func(t *testing.T) {
		ts := newTestServer(t, Dependencies{Loader: &fakeLoader{}})
		status, _ := postMemo(t, ts, `{"memo":"hi"}`)
		assert.Equal(t, http.StatusServiceUnavailable, status)
	})

	t.Run("wallet not connected", func(t *testing.T) {
		ts := newTestServer(t, Dependencies{Loader: &fakeLoader{}, Pipeline: newPipeline(t, &fakeLedger{}, nil)})
		status, body := postMemo(t, ts, `{"memo":"hi"}`)
		assert.Equal(t, http.StatusServiceUnavailable, status)
		assert.Equal(t, "Wallet not connected", body["error"])
	})

	t.Run("ledger failure", func(t *testing.T) {
		ledger := &fakeLedger{sendErr: errors.New("insufficient funds for fee")}
		ts := newTestServer(t, Dependencies{Loader: &fakeLoader{}, Pipeline: newPipeline(t, ledger, keypairWallet(t))})
		status, body := postMemo(t, ts, `{"memo":"hi"}`)
		assert.Equal(t, http.StatusBadGateway, status)
		assert.Contains(t, body["error"], "insufficient funds")
	})

	t.Run("pending submission conflicts", func(t *testing.T) {
		ledger := &fakeLedger{gate: make(chan struct{})}
		pipeline := newPipeline(t, ledger, keypairWallet(t))
		ts := newTestServer(t, Dependencies{Loader: &fakeLoader{}, Pipeline: pipeline})

		first := make(chan int, 1)
		go func() {
			resp, err := http.Post(ts.URL+"/api/v1/memos", "application/json", strings.NewReader(`{"memo":"first"}`))
			if err != nil {
				first <- 0
				return
			}
			resp.Body.Close()
			first <- resp.StatusCode
		}()
		require.Eventually(t, func() bool { return pipeline.Snapshot().Loading }, time.Second, time.Millisecond)

		status, _ := postMemo(t, ts, `{"memo":"second"}`)
		assert.Equal(t, http.StatusConflict, status)

		close(ledger.gate)
		assert.Equal(t, http.StatusCreated, <-first)
	})
}

func TestListArchive(t *testing.T) {
	archive := &fakeArchive{memos: []*db.ArchivedMemo{
		{Memo: solana.Memo{ID: "sig1", Content: "gm", Timestamp: 100}, Account: testAccount, Network: "devnet"},
	}}
	ts := newTestServer(t, Dependencies{Loader: &fakeLoader{}, Archive: archive})

	var body struct {
		Memos []memoResponse `json:"memos"`
		Total int64          `json:"total"`
		Limit int32          `json:"limit"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/archive/"+testAccount+"?limit=5&offset=2", &body))
	require.Len(t, body.Memos, 1)
	assert.Equal(t, "gm", body.Memos[0].Content)
	assert.Equal(t, int64(1), body.Total)
	assert.Equal(t, int32(5), archive.lastLimit)
	assert.Equal(t, int32(2), archive.lastOffset)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/v1/archive/"+testAccount+"?limit=0", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/v1/archive/"+testAccount+"?offset=-1", nil))

	archive.err = errors.New("connection refused")
	assert.Equal(t, http.StatusInternalServerError, getJSON(t, ts.URL+"/api/v1/archive/"+testAccount, nil))
}

func TestArchiveRoutesRequireDependencies(t *testing.T) {
	ts := newTestServer(t, Dependencies{Loader: &fakeLoader{}})
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/v1/archive/"+testAccount, nil))

	resp, err := http.Post(ts.URL+"/api/v1/feeds/"+testAccount+"/archive", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestScheduleArchive(t *testing.T) {
	scheduler := temporal.NewMockScheduler()
	ts := newTestServer(t, Dependencies{Loader: &fakeLoader{}, Scheduler: scheduler})
	url := ts.URL + "/api/v1/feeds/" + testAccount + "/archive"

	post := func(body string) int {
		resp, err := http.Post(url, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, post(""))
	interval, ok := scheduler.GetScheduleInterval(testAccount, "devnet")
	require.True(t, ok)
	assert.Equal(t, 5*time.Minute, interval)

	assert.Equal(t, http.StatusOK, post(`{"interval":"1h"}`))
	interval, _ = scheduler.GetScheduleInterval(testAccount, "devnet")
	assert.Equal(t, time.Hour, interval)
	assert.Equal(t, 1, scheduler.ScheduleCount())

	assert.Equal(t, http.StatusBadRequest, post(`{"interval":"10s"}`))
	assert.Equal(t, http.StatusBadRequest, post(`{"interval":"soon"}`))

	scheduler.SetUpsertError(fmt.Errorf("temporal unavailable"))
	assert.Equal(t, http.StatusInternalServerError, post(`{"interval":"1h"}`))

	del := func() int {
		req, err := http.NewRequest(http.MethodDelete, url, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	assert.Equal(t, http.StatusNoContent, del())
	assert.Equal(t, http.StatusInternalServerError, del(), "schedule is already gone")
}

func TestRefreshFeedFromServer(t *testing.T) {
	loader := &fakeLoader{memos: sampleMemos()}
	srv := New(":0", testConfig(), Dependencies{Loader: loader}, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Shutdown(context.Background())

	// unopened feeds are left alone
	srv.RefreshFeed(testAccount)
	assert.Equal(t, 0, loader.callCount())

	waitLoaded(t, ts)
	srv.RefreshFeed(testAccount)
	require.Eventually(t, func() bool { return loader.callCount() == 2 }, time.Second, time.Millisecond)
}

func TestHealthAndCORS(t *testing.T) {
	ts := newTestServer(t, Dependencies{Loader: &fakeLoader{}})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/memos", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestStreamSubject(t *testing.T) {
	assert.Equal(t, "memos.*", streamSubject(""))
	assert.Equal(t, "memos."+testAccount, streamSubject(testAccount))
}
