package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler metrics
	LiquidationAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulture_liquidation_attempts_total",
			Help: "Total number of liquidation attempts",
		},
		[]string{"mode", "status"}, // status: success|failure
	)

	LiquidationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vulture_liquidation_latency_seconds",
			Help:    "Liquidation execution latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"mode"},
	)

	RealizedProfit = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vulture_realized_profit_usd_total",
			Help: "Total realized profit in USD",
		},
	)

	TickSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulture_tick_skips_total",
			Help: "Opportunities or ticks skipped, by reason",
		},
		[]string{"reason"}, // emergency_stop|cooldown|backoff|in_flight
	)

	RetriesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vulture_retries_in_flight",
			Help: "Opportunity keys currently in the retry/backoff queue",
		},
	)

	CooldownsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vulture_cooldowns_in_flight",
			Help: "Opportunity keys currently cooling down after success",
		},
	)

	AbandonedKeys = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vulture_abandoned_keys_total",
			Help: "Opportunity keys abandoned after exhausting retries",
		},
	)

	// Tracker metrics
	TrackedAccounts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vulture_tracked_accounts",
			Help: "Accounts currently under observation",
		},
	)

	OpenOpportunities = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vulture_open_opportunities",
			Help: "Liquidatable opportunities currently ranked",
		},
	)

	// Worker metrics
	WorkerExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulture_worker_executions_total",
			Help: "Total number of worker executions",
		},
		[]string{"worker", "status"},
	)

	WorkerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vulture_worker_duration_seconds",
			Help:    "Worker execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"worker"},
	)

	// Chain events
	ProtocolEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulture_protocol_events_total",
			Help: "Protocol events consumed, by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(LiquidationAttempts)
	prometheus.MustRegister(LiquidationLatency)
	prometheus.MustRegister(RealizedProfit)
	prometheus.MustRegister(TickSkips)
	prometheus.MustRegister(RetriesInFlight)
	prometheus.MustRegister(CooldownsInFlight)
	prometheus.MustRegister(AbandonedKeys)
	prometheus.MustRegister(TrackedAccounts)
	prometheus.MustRegister(OpenOpportunities)
	prometheus.MustRegister(WorkerExecutions)
	prometheus.MustRegister(WorkerDuration)
	prometheus.MustRegister(ProtocolEvents)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordWorkerExecution records one worker iteration
func RecordWorkerExecution(worker string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	WorkerExecutions.WithLabelValues(worker, status).Inc()
	WorkerDuration.WithLabelValues(worker).Observe(duration.Seconds())
}

// RecordAttempt records one liquidation attempt outcome
func RecordAttempt(mode string, latency time.Duration, profitUSD float64, success bool) {
	status := "failure"
	if success {
		status = "success"
	}
	LiquidationAttempts.WithLabelValues(mode, status).Inc()
	LiquidationLatency.WithLabelValues(mode).Observe(latency.Seconds())
	if success && profitUSD > 0 {
		RealizedProfit.Add(profitUSD)
	}
}
