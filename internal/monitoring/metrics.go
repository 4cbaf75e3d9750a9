package monitoring

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Ledger metrics
	LedgerOpsTotal    *prometheus.CounterVec
	LedgerOpDuration  *prometheus.HistogramVec
	CoursesCreated    prometheus.Counter
	PurchasesTotal    prometheus.Counter
	RefundsTotal      *prometheus.CounterVec
	WithdrawalsTotal  *prometheus.CounterVec
	RevenueTotal      *prometheus.CounterVec
	RewardMintsTotal  *prometheus.CounterVec
	RewardFailures    *prometheus.CounterVec
	TokensMintedTotal *prometheus.CounterVec

	// Event sink metrics
	EventsPublished     *prometheus.CounterVec
	EventSinkErrors     *prometheus.CounterVec
	EventsDropped       prometheus.Counter
	CircuitBreakerState *prometheus.GaugeVec
}

var (
	metrics  *Metrics
	initOnce sync.Once
)

// Init initializes all Prometheus metrics
func Init() *Metrics {
	initOnce.Do(func() {
		metrics = &Metrics{
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
				},
				[]string{"method", "path"},
			),
			HTTPRequestsInFlight: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "http_requests_in_flight",
					Help: "Number of HTTP requests currently being processed",
				},
			),

			LedgerOpsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ledger_operations_total",
					Help: "Ledger entry point calls by outcome",
				},
				[]string{"ledger", "operation", "outcome"},
			),
			LedgerOpDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "ledger_operation_duration_seconds",
					Help:    "Ledger entry point duration in seconds",
					Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
				},
				[]string{"ledger", "operation"},
			),
			CoursesCreated: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "courses_created_total",
					Help: "Total number of courses created",
				},
			),
			PurchasesTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "course_purchases_total",
					Help: "Total number of committed course purchases",
				},
			),
			RefundsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "course_refunds_total",
					Help: "Refund requests and processed refunds",
				},
				[]string{"stage"},
			),
			WithdrawalsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "withdrawals_total",
					Help: "Creator and platform withdrawals",
				},
				[]string{"kind"},
			),
			RevenueTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "revenue_total",
					Help: "Revenue in base units by split (lossy float view)",
				},
				[]string{"split"},
			),
			RewardMintsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "reward_mints_total",
					Help: "Reward mint attempts by activity and status",
				},
				[]string{"activity", "status"},
			),
			RewardFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "reward_failures_swallowed_total",
					Help: "Reward mints that failed after the primary transition committed",
				},
				[]string{"activity"},
			),
			TokensMintedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "reward_tokens_minted_total",
					Help: "Reward tokens minted in base units (lossy float view)",
				},
				[]string{"activity"},
			),

			EventsPublished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ledger_events_published_total",
					Help: "Events appended to the event log",
				},
				[]string{"source", "type"},
			),
			EventSinkErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ledger_event_sink_errors_total",
					Help: "Event sink write failures",
				},
				[]string{"sink"},
			),
			EventsDropped: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "ledger_events_dropped_total",
					Help: "Events not forwarded to sinks because the queue was full",
				},
			),
			CircuitBreakerState: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "circuit_breaker_state",
					Help: "Circuit breaker state (0=closed, 0.5=half-open, 1=open)",
				},
				[]string{"name"},
			),
		}
	})
	return metrics
}

// Get returns the global metrics instance
func Get() *Metrics {
	return Init()
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// MetricsMiddleware is a Gin middleware for collecting HTTP metrics
func MetricsMiddleware() gin.HandlerFunc {
	m := Get()
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method

		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// ObserveLedgerOp records the outcome and duration of a ledger entry point.
// Usage: defer monitoring.ObserveLedgerOp("market", "purchase", time.Now(), &err)
func ObserveLedgerOp(ledger, operation string, start time.Time, errp *error) {
	outcome := "ok"
	if errp != nil && *errp != nil {
		outcome = "error"
	}
	Get().LedgerOpsTotal.WithLabelValues(ledger, operation, outcome).Inc()
	Get().LedgerOpDuration.WithLabelValues(ledger, operation).Observe(time.Since(start).Seconds())
}

// RecordCourseCreated records a course creation
func RecordCourseCreated() {
	Get().CoursesCreated.Inc()
}

// RecordPurchase records a committed purchase and its split
func RecordPurchase(price, fee float64) {
	Get().PurchasesTotal.Inc()
	Get().RevenueTotal.WithLabelValues("gross").Add(price)
	Get().RevenueTotal.WithLabelValues("platform_fee").Add(fee)
}

// RecordRefund records a refund stage ("requested" or "processed")
func RecordRefund(stage string) {
	Get().RefundsTotal.WithLabelValues(stage).Inc()
}

// RecordWithdrawal records a withdrawal ("creator" or "platform")
func RecordWithdrawal(kind string) {
	Get().WithdrawalsTotal.WithLabelValues(kind).Inc()
}

// RecordRewardMint records a reward mint attempt
func RecordRewardMint(activity, status string, amount float64) {
	Get().RewardMintsTotal.WithLabelValues(activity, status).Inc()
	if status == "minted" {
		Get().TokensMintedTotal.WithLabelValues(activity).Add(amount)
	}
}

// RecordRewardFailure records a swallowed reward failure
func RecordRewardFailure(activity string) {
	Get().RewardFailures.WithLabelValues(activity).Inc()
}

// RecordEventPublished records an appended event
func RecordEventPublished(source, eventType string) {
	Get().EventsPublished.WithLabelValues(source, eventType).Inc()
}

// RecordEventSinkError records a failed sink write
func RecordEventSinkError(sink string) {
	Get().EventSinkErrors.WithLabelValues(sink).Inc()
}

// RecordEventDropped records an event skipped by the sink queue
func RecordEventDropped() {
	Get().EventsDropped.Inc()
}

// SetCircuitBreakerState sets the circuit breaker state
// state: 0=closed, 1=open, 0.5=half-open
func SetCircuitBreakerState(name string, state float64) {
	Get().CircuitBreakerState.WithLabelValues(name).Set(state)
}
