package monitor

import (
	"context"
	"time"

	"vulture/internal/metrics"
	"vulture/internal/services/executor"
	"vulture/internal/workers"
)

// SchedulerStats exposes the execution scheduler's counters
type SchedulerStats interface {
	Stats() executor.Stats
	State() executor.State
}

// StatsReporter periodically logs a one-line operational summary and
// refreshes the tracker gauges
type StatsReporter struct {
	*workers.BaseWorker
	scheduler SchedulerStats
	sink      PositionSink
}

// NewStatsReporter creates the periodic stats logging worker
func NewStatsReporter(scheduler SchedulerStats, sink PositionSink, interval time.Duration, enabled bool) *StatsReporter {
	return &StatsReporter{
		BaseWorker: workers.NewBaseWorker("stats_reporter", interval, enabled),
		scheduler:  scheduler,
		sink:       sink,
	}
}

// Run emits one stats snapshot
func (w *StatsReporter) Run(_ context.Context) error {
	tracked, opportunities := w.sink.Counts()
	metrics.TrackedAccounts.Set(float64(tracked))
	metrics.OpenOpportunities.Set(float64(opportunities))

	stats := w.scheduler.Stats()
	w.Log().Infow("Bot status",
		"state", w.scheduler.State(),
		"tracked_accounts", tracked,
		"open_opportunities", opportunities,
		"attempts", stats.Attempts,
		"successes", stats.Successes,
		"failures", stats.Failures,
		"abandoned", stats.Abandoned,
		"retries_in_flight", stats.RetriesInFlight,
		"cooldowns_in_flight", stats.CooldownsInFlight,
		"realized_profit_usd", stats.RealizedProfitUSD.StringFixed(2),
		"avg_latency", stats.AvgLatency,
	)
	return nil
}
