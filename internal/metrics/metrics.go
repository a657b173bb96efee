// Package metrics provides Prometheus instrumentation for the transfer service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transferauth",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "transferauth",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// TransfersSubmittedTotal counts transfer submissions accepted by the pipeline.
	TransfersSubmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "transferauth",
		Name:      "transfers_submitted_total",
		Help:      "Total transfer requests accepted for authorization.",
	})

	// TransfersTerminalTotal counts transfers reaching a terminal state.
	TransfersTerminalTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transferauth",
			Name:      "transfers_terminal_total",
			Help:      "Total transfers by terminal state (rejected, completed, failed).",
		},
		[]string{"state"},
	)

	// AuthDecisionsTotal counts authorization gate outcomes.
	AuthDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transferauth",
			Name:      "auth_decisions_total",
			Help:      "Total authorization gate decisions by outcome.",
		},
		[]string{"outcome"},
	)

	// RiskScoreDistribution observes computed fraud risk scores.
	RiskScoreDistribution = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "transferauth",
		Name:      "risk_score",
		Help:      "Distribution of computed fraud risk scores (0-1).",
		Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
	})

	// TwoFactorVerificationsTotal counts one-time code verification attempts.
	TwoFactorVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transferauth",
			Name:      "two_factor_verifications_total",
			Help:      "Total one-time code verification attempts by result.",
		},
		[]string{"result"},
	)

	// IdempotencyReplaysTotal counts duplicate submissions resolved by replay.
	IdempotencyReplaysTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "transferauth",
		Name:      "idempotency_replays_total",
		Help:      "Total duplicate submissions answered from idempotency records.",
	})

	// EscalationsTotal counts pending-approval records promoted past their SLA.
	EscalationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "transferauth",
		Name:      "escalations_total",
		Help:      "Total pending-approval transfers escalated after SLA.",
	})

	// SweepConflictsTotal counts version conflicts lost by the scheduler.
	SweepConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "transferauth",
		Name:      "sweep_conflicts_total",
		Help:      "Total scheduler transitions abandoned after losing a version race.",
	})

	// STPEvaluationsTotal counts straight-through-processing outcomes.
	STPEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transferauth",
			Name:      "stp_evaluations_total",
			Help:      "Total STP rule evaluations by outcome.",
		},
		[]string{"outcome"},
	)

	// LedgerDebitsTotal counts ledger debit attempts by result.
	LedgerDebitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transferauth",
			Name:      "ledger_debits_total",
			Help:      "Total ledger debit attempts by result.",
		},
		[]string{"result"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "transferauth", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "transferauth", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "transferauth", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "transferauth", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TransfersSubmittedTotal,
		TransfersTerminalTotal,
		AuthDecisionsTotal,
		RiskScoreDistribution,
		TwoFactorVerificationsTotal,
		IdempotencyReplaysTotal,
		EscalationsTotal,
		SweepConflictsTotal,
		STPEvaluationsTotal,
		LedgerDebitsTotal,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for the /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
