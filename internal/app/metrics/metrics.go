package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tribute",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tribute",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tribute",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	heatIncrements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tribute",
			Subsystem: "heat",
			Name:      "increments_total",
			Help:      "Heat increments by whether they opened a new window.",
		},
		[]string{"window"},
	)

	scoreComputations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tribute",
			Subsystem: "scoring",
			Name:      "computations_total",
			Help:      "Total number of item score computations.",
		},
	)

	leaderboardBuilds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tribute",
			Subsystem: "leaderboard",
			Name:      "build_duration_seconds",
			Help:      "Duration of leaderboard builds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"kind"},
	)

	tickRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tribute",
			Subsystem: "lifecycle",
			Name:      "tick_runs_total",
			Help:      "Lifecycle tick runs by tick and outcome.",
		},
		[]string{"tick", "outcome"},
	)

	tickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tribute",
			Subsystem: "lifecycle",
			Name:      "tick_duration_seconds",
			Help:      "Duration of lifecycle ticks.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"tick"},
	)

	transactionOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tribute",
			Subsystem: "lifecycle",
			Name:      "transactions_total",
			Help:      "Per-transaction tick outcomes.",
		},
		[]string{"tick", "outcome"},
	)

	stuckConfirmations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tribute",
			Subsystem: "lifecycle",
			Name:      "stuck_confirmations",
			Help:      "Pending confirmations older than the stuck threshold seen by the last tick.",
		},
	)

	stuckFlagged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tribute",
			Subsystem: "lifecycle",
			Name:      "stuck_flagged_total",
			Help:      "Transactions flagged for manual review.",
		},
	)

	referenceUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tribute",
			Subsystem: "lifecycle",
			Name:      "reference_updates_total",
			Help:      "Content reference replacements by kind and success.",
		},
		[]string{"kind", "success"},
	)

	ledgerRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tribute",
			Subsystem: "ledger",
			Name:      "call_retries_total",
			Help:      "Retried calls to the ledger gateway.",
		},
		[]string{"client"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		heatIncrements,
		scoreComputations,
		leaderboardBuilds,
		tickRuns,
		tickDuration,
		transactionOutcomes,
		stuckConfirmations,
		stuckFlagged,
		referenceUpdates,
		ledgerRetries,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordHeatIncrement counts one increment.
func RecordHeatIncrement(created bool) {
	window := "existing"
	if created {
		window = "new"
	}
	heatIncrements.WithLabelValues(window).Inc()
}

// RecordScoreComputation counts one item score computation.
func RecordScoreComputation() {
	scoreComputations.Inc()
}

// RecordLeaderboardBuild observes a leaderboard build ("read" or "snapshot").
func RecordLeaderboardBuild(kind string, duration time.Duration) {
	leaderboardBuilds.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordTick records a finished tick run.
func RecordTick(tick string, duration time.Duration, failed bool) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	tickRuns.WithLabelValues(tick, outcome).Inc()
	tickDuration.WithLabelValues(tick).Observe(duration.Seconds())
}

// RecordTransactionOutcome counts one processed transaction.
func RecordTransactionOutcome(tick, outcome string) {
	transactionOutcomes.WithLabelValues(tick, outcome).Inc()
}

// SetStuckConfirmations publishes the number of stuck confirmations.
func SetStuckConfirmations(n int) {
	stuckConfirmations.Set(float64(n))
}

// RecordStuckFlagged counts a transaction flagged for review.
func RecordStuckFlagged() {
	stuckFlagged.Inc()
}

// RecordReferenceUpdate counts one reference replacement attempt.
func RecordReferenceUpdate(kind string, success bool) {
	referenceUpdates.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
}

// RecordLedgerRetry counts one retried ledger call.
func RecordLedgerRetry(client string) {
	ledgerRetries.WithLabelValues(client).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses ids so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "items", "transactions":
		if len(parts) == 1 {
			return "/" + parts[0]
		}
		if len(parts) == 2 {
			return "/" + parts[0] + "/:id"
		}
		return "/" + parts[0] + "/:id/" + parts[2]
	case "internal":
		return "/" + strings.Join(parts, "/")
	default:
		return "/" + parts[0]
	}
}
