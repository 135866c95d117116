package monitor

import (
	"context"
	"time"

	"vulture/internal/adapters/chain"
	"vulture/internal/domain/market"
	"vulture/internal/workers"
)

// MarketRegistry receives market metadata discovered during scans
type MarketRegistry interface {
	RegisterMarket(m market.Market)
}

// ProtocolScanner walks the protocol's full borrower set in pages and
// evaluates each account. This is how new underwater positions are
// discovered before any event has touched them.
type ProtocolScanner struct {
	*workers.BaseWorker
	reader    chain.Reader
	evaluator Evaluator
	sink      PositionSink
	registry  MarketRegistry
	pageSize  int
}

// NewProtocolScanner creates the full-protocol discovery worker
func NewProtocolScanner(reader chain.Reader, evaluator Evaluator, sink PositionSink, registry MarketRegistry, interval time.Duration, pageSize int, enabled bool) *ProtocolScanner {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &ProtocolScanner{
		BaseWorker: workers.NewBaseWorker("protocol_scanner", interval, enabled),
		reader:     reader,
		evaluator:  evaluator,
		sink:       sink,
		registry:   registry,
		pageSize:   pageSize,
	}
}

// Run performs one full scan: refresh market metadata, then page
// through every known borrower
func (w *ProtocolScanner) Run(ctx context.Context) error {
	if err := w.refreshMarkets(ctx); err != nil {
		// Market metadata is a cache warmup, not a precondition
		w.Log().Warnw("Market refresh failed", "error", err)
	}

	var scanned, failures int
	for offset := 0; ; offset += w.pageSize {
		borrowers, err := w.reader.GetAllBorrowers(ctx, offset, w.pageSize)
		if err != nil {
			return err
		}
		if len(borrowers) == 0 {
			break
		}

		for _, borrower := range borrowers {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			scanned++
			if err := refresh(ctx, w.evaluator, w.sink, borrower); err != nil {
				failures++
				w.Log().Debugw("Borrower evaluation failed",
					"borrower", borrower.Hex(), "error", err)
			}
		}

		if len(borrowers) < w.pageSize {
			break
		}
	}

	w.Log().Infow("Protocol scan completed",
		"scanned", scanned, "failures", failures)
	return nil
}

func (w *ProtocolScanner) refreshMarkets(ctx context.Context) error {
	if w.registry == nil {
		return nil
	}
	mkts, err := w.reader.GetAllMarkets(ctx)
	if err != nil {
		return err
	}
	for _, m := range mkts {
		w.registry.RegisterMarket(m)
	}
	return nil
}
