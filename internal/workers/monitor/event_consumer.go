package monitor

import (
	"context"
	"time"

	"vulture/internal/adapters/chain"
	"vulture/internal/events"
	"vulture/internal/metrics"
	"vulture/internal/workers"
	"vulture/pkg/errors"
)

// EventSource opens a protocol event subscription
type EventSource interface {
	Subscribe(ctx context.Context) (chain.Subscription, error)
}

// EventConsumer drains protocol events and re-evaluates the named
// borrower on each one. Run blocks on the subscription until the
// stream fails or the context is cancelled; the pool's interval then
// acts as the reconnect delay.
type EventConsumer struct {
	*workers.BaseWorker
	source    EventSource
	evaluator Evaluator
	sink      PositionSink
}

// NewEventConsumer creates the event-driven monitoring worker
func NewEventConsumer(source EventSource, evaluator Evaluator, sink PositionSink, reconnectDelay time.Duration, enabled bool) *EventConsumer {
	return &EventConsumer{
		BaseWorker: workers.NewBaseWorker("event_consumer", reconnectDelay, enabled),
		source:     source,
		evaluator:  evaluator,
		sink:       sink,
	}
}

// Run subscribes and consumes events until the stream ends
func (w *EventConsumer) Run(ctx context.Context) error {
	sub, err := w.source.Subscribe(ctx)
	if err != nil {
		return errors.Wrap(err, "subscribe to protocol events")
	}
	defer sub.Close()

	w.Log().Info("Event subscription established")

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-sub.Err():
			return errors.Wrap(err, "event subscription failed")

		case evt, ok := <-sub.Events():
			if !ok {
				return errors.Wrap(errors.ErrInternal, "event channel closed")
			}
			w.handle(ctx, evt)
		}
	}
}

func (w *EventConsumer) handle(ctx context.Context, evt events.Event) {
	metrics.ProtocolEvents.WithLabelValues(string(evt.Kind())).Inc()

	account := evt.Account()
	if err := refresh(ctx, w.evaluator, w.sink, account); err != nil {
		w.Log().Warnw("Event-driven refresh failed",
			"kind", evt.Kind(), "account", account.Hex(), "error", err)
	}
}
