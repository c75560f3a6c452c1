package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRPCCall("GetTransaction", "success", "devnet", 0.1)
		m.RecordRateLimitHit("devnet")
		m.RecordRPCSignaturesPerCall("devnet", 10)
		m.RecordTransactionFetched("success")
		m.RecordMemosExtracted(3)
		m.RecordMemosDropped("no_memo", 2)
		m.RecordFeedAssembly("success", 1)
		m.RecordSubmission("confirmed", 2)
		m.RecordActivityDuration("AssembleFeed", 1)
		m.RecordDBQuery("upsert", "memos", 0.01, nil)
		m.RecordHTTPRequest("/health", "GET", 200, 0.001)
		m.RecordNATSPublish("memos.x", "success", 0.001)
	})
}

func TestRecordersUpdateCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordMemosExtracted(3)
	m.RecordMemosExtracted(2)
	m.RecordMemosDropped("no_memo", 4)
	m.RecordMemosDropped("failed", 0)
	m.RecordTransactionFetched("not_found")
	m.RecordDBQuery("upsert", "memos", 0.01, errors.New("boom"))

	assert.Equal(t, 5.0, testutil.ToFloat64(m.memosExtractedTotal))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.memosDroppedTotal.WithLabelValues("no_memo")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transactionsFetchedTotal.WithLabelValues("not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dbOperationsTotal.WithLabelValues("upsert", "error")))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	h := HTTPMetricsMiddleware(m, "/api/v1/memos")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/memos", nil))
	require.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/api/v1/memos", "POST", "4xx")))
}

func TestStatusCodeToString(t *testing.T) {
	tests := map[int]string{200: "2xx", 301: "3xx", 404: "4xx", 502: "5xx", 99: "unknown"}
	for code, want := range tests {
		assert.Equal(t, want, statusCodeToString(code))
	}
}
