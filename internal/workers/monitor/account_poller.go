package monitor

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"vulture/internal/workers"
)

// AccountPoller periodically re-evaluates every tracked account. It is
// the safety net behind the event consumer: a missed event only delays
// an update by one polling interval instead of losing it.
type AccountPoller struct {
	*workers.BaseWorker
	evaluator Evaluator
	sink      PositionSink
	limiter   *rate.Limiter
}

// NewAccountPoller creates the tracked-account polling worker.
// ratePerSec throttles node queries so a large tracked set does not
// starve the execution path of RPC capacity.
func NewAccountPoller(evaluator Evaluator, sink PositionSink, interval time.Duration, ratePerSec float64, enabled bool) *AccountPoller {
	return &AccountPoller{
		BaseWorker: workers.NewBaseWorker("account_poller", interval, enabled),
		evaluator:  evaluator,
		sink:       sink,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), 1),
	}
}

// Run re-evaluates every tracked account once
func (w *AccountPoller) Run(ctx context.Context) error {
	accounts := w.sink.Tracked()
	if len(accounts) == 0 {
		return nil
	}

	var failures int
	for _, account := range accounts {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := refresh(ctx, w.evaluator, w.sink, account); err != nil {
			failures++
			w.Log().Warnw("Account refresh failed",
				"account", account.Hex(), "error", err)
		}
	}

	w.Log().Debugw("Polling pass completed",
		"accounts", len(accounts), "failures", failures)
	return nil
}
