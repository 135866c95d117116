// Package monitor contains the workers that keep the opportunity
// tracker fed: an event consumer for real-time nudges, a poller for
// already-tracked accounts, a full-protocol scanner for discovery, and
// a stats reporter.
package monitor

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"vulture/internal/domain/position"
)

// Evaluator computes a full position breakdown for an account
type Evaluator interface {
	Evaluate(ctx context.Context, account common.Address) (*position.AccountPosition, error)
}

// PositionSink receives fresh position observations
type PositionSink interface {
	Update(ctx context.Context, pos *position.AccountPosition)
	Tracked() []common.Address
	Counts() (tracked, opportunities int)
}

// refresh evaluates one account and feeds the result into the sink.
// Evaluation failures are returned so the caller can decide whether to
// log or count them; the sink is only fed on success.
func refresh(ctx context.Context, evaluator Evaluator, sink PositionSink, account common.Address) error {
	pos, err := evaluator.Evaluate(ctx, account)
	if err != nil {
		return err
	}
	sink.Update(ctx, pos)
	return nil
}
