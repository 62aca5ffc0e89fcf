package telemetry

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus observability primitives for the token ledger.
type Metrics struct {
	apiRequests      *prometheus.CounterVec
	apiDuration      *prometheus.HistogramVec
	consumes         *prometheus.CounterVec
	tokensConsumed   *prometheus.CounterVec
	insufficient     *prometheus.CounterVec
	balanceConflicts *prometheus.CounterVec
	grants           *prometheus.CounterVec
	tokensGranted    *prometheus.CounterVec
	auditGaps        *prometheus.CounterVec
	balancesCreated  prometheus.Counter
}

// NewMetrics registers and returns Prometheus metrics for the service.
func NewMetrics() *Metrics {
	apiRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenledger_api_requests_total",
		Help: "Counts API requests by method, path, and status.",
	}, []string{"method", "path", "status"})

	apiDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tokenledger_api_duration_seconds",
		Help:    "API request latency per method/path.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	consumes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenledger_consume_total",
		Help: "Counts committed token consumptions by feature.",
	}, []string{"feature"})

	tokensConsumed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenledger_tokens_consumed_total",
		Help: "Total tokens debited by feature.",
	}, []string{"feature"})

	insufficient := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenledger_insufficient_total",
		Help: "Counts consumptions rejected for insufficient balance.",
	}, []string{"feature"})

	balanceConflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenledger_balance_conflict_total",
		Help: "Counts debits rejected by the conditional balance update.",
	}, []string{"feature"})

	grants := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenledger_grants_total",
		Help: "Counts committed token grants by transaction type.",
	}, []string{"type"})

	tokensGranted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenledger_tokens_granted_total",
		Help: "Total tokens credited by transaction type.",
	}, []string{"type"})

	auditGaps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenledger_audit_gap_total",
		Help: "Counts committed balance changes whose audit record failed to write.",
	}, []string{"type"})

	balancesCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tokenledger_balances_created_total",
		Help: "Counts lazily initialized balance rows.",
	})

	prometheus.MustRegister(
		apiRequests,
		apiDuration,
		consumes,
		tokensConsumed,
		insufficient,
		balanceConflicts,
		grants,
		tokensGranted,
		auditGaps,
		balancesCreated,
	)

	return &Metrics{
		apiRequests:      apiRequests,
		apiDuration:      apiDuration,
		consumes:         consumes,
		tokensConsumed:   tokensConsumed,
		insufficient:     insufficient,
		balanceConflicts: balanceConflicts,
		grants:           grants,
		tokensGranted:    tokensGranted,
		auditGaps:        auditGaps,
		balancesCreated:  balancesCreated,
	}
}

func (m *Metrics) RecordConsume(feature string, amount int64) {
	if m == nil {
		return
	}
	m.consumes.WithLabelValues(feature).Inc()
	m.tokensConsumed.WithLabelValues(feature).Add(float64(amount))
}

func (m *Metrics) RecordInsufficient(feature string) {
	if m == nil {
		return
	}
	m.insufficient.WithLabelValues(feature).Inc()
}

func (m *Metrics) RecordBalanceConflict(feature string) {
	if m == nil {
		return
	}
	m.balanceConflicts.WithLabelValues(feature).Inc()
}

func (m *Metrics) RecordGrant(txType string, amount int64) {
	if m == nil {
		return
	}
	m.grants.WithLabelValues(txType).Inc()
	m.tokensGranted.WithLabelValues(txType).Add(float64(amount))
}

func (m *Metrics) RecordAuditGap(txType string) {
	if m == nil {
		return
	}
	m.auditGaps.WithLabelValues(txType).Inc()
}

func (m *Metrics) RecordBalanceCreated() {
	if m == nil {
		return
	}
	m.balancesCreated.Inc()
}

// GinMiddleware records request counts and latency per route.
func GinMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.apiRequests.WithLabelValues(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
		m.apiDuration.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}
