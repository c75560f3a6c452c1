package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
// Every Record method is safe to call on a nil *Metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal        *prometheus.CounterVec
	solanaRPCCallDuration      *prometheus.HistogramVec
	solanaRPCRateLimitHits     *prometheus.CounterVec
	solanaRPCSignaturesPerCall *prometheus.HistogramVec

	// Feed Metrics
	transactionsFetchedTotal *prometheus.CounterVec
	memosExtractedTotal      prometheus.Counter
	memosDroppedTotal        *prometheus.CounterVec
	feedAssembliesTotal      *prometheus.CounterVec
	feedAssemblyDuration     *prometheus.HistogramVec

	// Submission Metrics
	submissionsTotal   *prometheus.CounterVec
	submissionDuration *prometheus.HistogramVec

	// Workflow Metrics
	archiveActivityDuration *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_rate_limit_hits_total",
				Help: "Total number of Solana RPC rate limit hits (429 errors)",
			},
			[]string{"endpoint"},
		),
		solanaRPCSignaturesPerCall: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_signatures_per_call",
				Help:    "Number of signatures fetched per GetSignaturesForAddress call",
				Buckets: []float64{1, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"endpoint"},
		),

		// Feed Metrics
		transactionsFetchedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memofeed_transactions_fetched_total",
				Help: "Total number of parsed transaction fetches by outcome",
			},
			[]string{"status"},
		),
		memosExtractedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "memofeed_memos_extracted_total",
				Help: "Total number of memos extracted from fetched transactions",
			},
		),
		memosDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memofeed_memos_dropped_total",
				Help: "Total number of fetched slots that produced no memo",
			},
			[]string{"reason"},
		),
		feedAssembliesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memofeed_feed_assemblies_total",
				Help: "Total number of feed assemblies by outcome",
			},
			[]string{"status"},
		),
		feedAssemblyDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memofeed_feed_assembly_duration_seconds",
				Help:    "Duration of feed assembly in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		),

		// Submission Metrics
		submissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memofeed_submissions_total",
				Help: "Total number of memo submissions by outcome",
			},
			[]string{"status"},
		),
		submissionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memofeed_submission_duration_seconds",
				Help:    "Duration of memo submissions from build to confirmation in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		),

		// Workflow Metrics
		archiveActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archive_activity_duration_seconds",
				Help:    "Duration of archive workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	if m == nil {
		return
	}
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	if m == nil {
		return
	}
	m.solanaRPCRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordRPCSignaturesPerCall records the number of signatures fetched.
func (m *Metrics) RecordRPCSignaturesPerCall(endpoint string, count float64) {
	if m == nil {
		return
	}
	m.solanaRPCSignaturesPerCall.WithLabelValues(endpoint).Observe(count)
}

// Feed metric helpers

// RecordTransactionFetched records one parsed-transaction fetch outcome.
func (m *Metrics) RecordTransactionFetched(status string) {
	if m == nil {
		return
	}
	m.transactionsFetchedTotal.WithLabelValues(status).Inc()
}

// RecordMemosExtracted records memos that survived extraction.
func (m *Metrics) RecordMemosExtracted(count int) {
	if m == nil {
		return
	}
	m.memosExtractedTotal.Add(float64(count))
}

// RecordMemosDropped records fetched slots that produced no memo.
func (m *Metrics) RecordMemosDropped(reason string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.memosDroppedTotal.WithLabelValues(reason).Add(float64(count))
}

// RecordFeedAssembly records a complete feed assembly.
func (m *Metrics) RecordFeedAssembly(status string, duration float64) {
	if m == nil {
		return
	}
	m.feedAssembliesTotal.WithLabelValues(status).Inc()
	m.feedAssemblyDuration.WithLabelValues(status).Observe(duration)
}

// Submission metric helpers

// RecordSubmission records a finished memo submission.
func (m *Metrics) RecordSubmission(status string, duration float64) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(status).Inc()
	m.submissionDuration.WithLabelValues(status).Observe(duration)
}

// Workflow metric helpers

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	if m == nil {
		return
	}
	m.archiveActivityDuration.WithLabelValues(activity).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
