// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Publishing metrics
	ClaimsSubmitted       *prometheus.CounterVec
	TransactionsSubmitted *prometheus.CounterVec
	PublishErrors         *prometheus.CounterVec
	ConfirmationLatency   *prometheus.HistogramVec
	MailboxDepth          *prometheus.GaugeVec

	// Query metrics
	EventsRetrieved *prometheus.CounterVec
	LogPagesFetched *prometheus.CounterVec
	LogPageSplits   *prometheus.CounterVec

	// Indexer metrics
	EventsStored       *prometheus.CounterVec
	HighestBlockSynced *prometheus.GaugeVec

	// Transport metrics
	RPCCallLatency *prometheus.HistogramVec
	RPCCallErrors  *prometheus.CounterVec
	WSHeadsSeen    prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulSync prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers the metrics on reg instead of the default registry.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "dtp_claims"
	}
	f := promauto.With(reg)

	return &Metrics{
		// Publishing metrics
		ClaimsSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "claims_submitted_total",
			Help:      "Total number of claims carried by submitted transactions",
		}, []string{"chain"}),
		TransactionsSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "transactions_total",
			Help:      "Total number of publication transactions by final status",
		}, []string{"chain", "status"}),
		PublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "errors_total",
			Help:      "Total number of failed publications by error kind",
		}, []string{"chain", "kind"}),
		ConfirmationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "confirmation_latency_seconds",
			Help:      "Time from submission to confirmation in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"chain"}),
		MailboxDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "mailbox_depth",
			Help:      "Number of publications queued behind an issuer account",
		}, []string{"chain"}),

		// Query metrics
		EventsRetrieved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "logquery",
			Name:      "events_retrieved_total",
			Help:      "Total number of claim events yielded to callers",
		}, []string{"chain"}),
		LogPagesFetched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "logquery",
			Name:      "pages_fetched_total",
			Help:      "Total number of eth_getLogs pages fetched",
		}, []string{"chain"}),
		LogPageSplits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "logquery",
			Name:      "page_splits_total",
			Help:      "Total number of pages halved after a result limit error",
		}, []string{"chain"}),

		// Indexer metrics
		EventsStored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "events_stored_total",
			Help:      "Total number of claim events stored by sink",
		}, []string{"sink"}),
		HighestBlockSynced: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "highest_block_synced",
			Help:      "Highest block number fully synced",
		}, []string{"chain"}),

		// Transport metrics
		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "evm",
			Name:      "rpc_call_latency_seconds",
			Help:      "JSON-RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evm",
			Name:      "rpc_call_errors_total",
			Help:      "Total number of failed JSON-RPC calls",
		}, []string{"method"}),
		WSHeadsSeen: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evm",
			Name:      "ws_heads_total",
			Help:      "Total number of newHeads notifications received",
		}),

		// Database metrics
		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulSync: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_sync_timestamp",
			Help:      "Unix timestamp of last successful indexer pass",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

func chainLabel(chainID int64) string {
	return strconv.FormatInt(chainID, 10)
}

// RecordSubmission records a transaction carrying n claims reaching status.
func RecordSubmission(chainID int64, claims int, status string, confirmSeconds float64) {
	chain := chainLabel(chainID)
	DefaultMetrics.ClaimsSubmitted.WithLabelValues(chain).Add(float64(claims))
	DefaultMetrics.TransactionsSubmitted.WithLabelValues(chain, status).Inc()
	if confirmSeconds > 0 {
		DefaultMetrics.ConfirmationLatency.WithLabelValues(chain).Observe(confirmSeconds)
	}
}

// RecordPublishError records a failed publication.
func RecordPublishError(chainID int64, kind string) {
	DefaultMetrics.PublishErrors.WithLabelValues(chainLabel(chainID), kind).Inc()
}

// AddMailboxDepth adjusts the queued publication gauge.
func AddMailboxDepth(chainID int64, delta int) {
	DefaultMetrics.MailboxDepth.WithLabelValues(chainLabel(chainID)).Add(float64(delta))
}

// RecordLogPage records one fetched log page and the events it held.
func RecordLogPage(chainID int64, events int) {
	chain := chainLabel(chainID)
	DefaultMetrics.LogPagesFetched.WithLabelValues(chain).Inc()
	DefaultMetrics.EventsRetrieved.WithLabelValues(chain).Add(float64(events))
}

// RecordPageSplit records a page window being halved.
func RecordPageSplit(chainID int64) {
	DefaultMetrics.LogPageSplits.WithLabelValues(chainLabel(chainID)).Inc()
}

// RecordEventsStored records events written to a sink.
func RecordEventsStored(sink string, n int) {
	DefaultMetrics.EventsStored.WithLabelValues(sink).Add(float64(n))
}

// UpdateHighestBlock updates the synced block gauge.
func UpdateHighestBlock(chainID int64, block uint64) {
	DefaultMetrics.HighestBlockSynced.WithLabelValues(chainLabel(chainID)).Set(float64(block))
}

// RecordSyncSuccess stamps the last successful sync time.
func RecordSyncSuccess(unixSeconds int64) {
	DefaultMetrics.LastSuccessfulSync.Set(float64(unixSeconds))
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64, err error) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
	if err != nil {
		DefaultMetrics.RPCCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordHead counts a received chain head.
func RecordHead() {
	DefaultMetrics.WSHeadsSeen.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
