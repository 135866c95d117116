package tracker

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"vulture/internal/domain/opportunity"
	"vulture/internal/domain/position"
	"vulture/pkg/logger"
)

// PriceSource resolves repay token prices
type PriceSource interface {
	PriceUSD(ctx context.Context, token common.Address) (decimal.Decimal, error)
}

// Config tunes opportunity derivation
type Config struct {
	// MinPositionUSD is the smallest debt worth targeting
	MinPositionUSD decimal.Decimal

	// SafetyThreshold is the health factor above which a zero-debt
	// account counts toward the healthy streak
	SafetyThreshold float64

	// HealthyStreak is how many consecutive healthy observations drop an
	// account from tracking. Hysteresis against thrashing at the boundary.
	HealthyStreak int

	// CloseFactor is the repayable fraction of the largest debt position
	CloseFactor decimal.Decimal

	// Incentive is the protocol liquidation bonus multiplier
	Incentive decimal.Decimal

	// GasHintUSD is a rough per-liquidation gas cost used only for
	// ranking; the estimator recomputes the real figure at execution time
	GasHintUSD decimal.Decimal
}

type entry struct {
	pos           *position.AccountPosition
	healthyStreak int
}

// Tracker maintains the live set of tracked accounts and derives
// liquidation opportunities from health evaluations. Monitoring feeds
// write into it concurrently; the execution scheduler reads snapshots.
type Tracker struct {
	cfg    Config
	prices PriceSource
	log    *logger.Logger

	mu            sync.RWMutex
	positions     map[common.Address]*entry
	opportunities map[common.Address]*opportunity.Opportunity
}

// New creates an opportunity tracker
func New(cfg Config, prices PriceSource, log *logger.Logger) *Tracker {
	return &Tracker{
		cfg:           cfg,
		prices:        prices,
		log:           log.With("component", "opportunity_tracker"),
		positions:     make(map[common.Address]*entry),
		opportunities: make(map[common.Address]*opportunity.Opportunity),
	}
}

// Update upserts a freshly evaluated position. Idempotent: the same
// evaluation applied twice leaves the same state.
func (t *Tracker) Update(ctx context.Context, pos *position.AccountPosition) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, known := t.positions[pos.Account]
	if !known {
		e = &entry{}
		t.positions[pos.Account] = e
	}
	e.pos = pos

	if pos.IsHealthy(t.cfg.SafetyThreshold) {
		// The opportunity goes immediately; the account itself is only
		// dropped after a full healthy streak
		delete(t.opportunities, pos.Account)
		e.healthyStreak++
		if e.healthyStreak >= t.cfg.HealthyStreak {
			delete(t.positions, pos.Account)
			delete(t.opportunities, pos.Account)
			t.log.Debugw("Account dropped after healthy streak",
				"account", pos.Account.Hex(), "streak", e.healthyStreak)
		}
		return
	}
	e.healthyStreak = 0

	if !pos.IsLiquidatable(t.cfg.MinPositionUSD) {
		delete(t.opportunities, pos.Account)
		return
	}

	opp := t.deriveOpportunity(ctx, pos)
	if opp == nil {
		// A corrupt estimate must never enter the ranking
		delete(t.opportunities, pos.Account)
		return
	}
	t.opportunities[pos.Account] = opp
}

// deriveOpportunity picks the repay/seize pair and estimates profit.
// Returns nil when any intermediate value is unusable.
func (t *Tracker) deriveOpportunity(ctx context.Context, pos *position.AccountPosition) *opportunity.Opportunity {
	debt, ok := pos.LargestDebt()
	if !ok {
		return nil
	}
	coll, ok := pos.LargestCollateral()
	if !ok {
		return nil
	}

	repayAmount := decimal.NewFromBigInt(debt.Raw, 0).Mul(t.cfg.CloseFactor).BigInt()
	if repayAmount.Sign() <= 0 {
		return nil
	}

	repayPrice, err := t.prices.PriceUSD(ctx, debt.Underlying)
	if err != nil {
		// Derived fallback straight from this evaluation's own figures
		amount := decimal.NewFromBigInt(debt.Raw, -int32(debt.Decimals))
		if amount.IsZero() || debt.ValueUSD.Sign() <= 0 {
			t.log.Warnw("No usable repay price, discarding opportunity",
				"account", pos.Account.Hex(), "token", debt.Underlying.Hex())
			return nil
		}
		repayPrice = debt.ValueUSD.Div(amount)
	}

	repayUSD := decimal.NewFromBigInt(repayAmount, -int32(debt.Decimals)).Mul(repayPrice)
	profit := repayUSD.Mul(t.cfg.Incentive.Sub(decimal.NewFromInt(1))).Sub(t.cfg.GasHintUSD)

	if f, _ := profit.Float64(); math.IsInf(f, 0) || math.IsNaN(f) {
		t.log.Warnw("Non-finite profit estimate, discarding opportunity",
			"account", pos.Account.Hex())
		return nil
	}

	return &opportunity.Opportunity{
		Borrower:           pos.Account,
		Position:           pos,
		RepayMarket:        debt.Market,
		RepayToken:         debt.Underlying,
		RepayAmount:        repayAmount,
		RepayDecimals:      debt.Decimals,
		RepayPriceUSD:      repayPrice,
		SeizeMarket:        coll.Market,
		SeizeToken:         coll.Underlying,
		EstimatedProfitUSD: profit,
		UpdatedAt:          time.Now(),
	}
}

// Liquidatable returns the current opportunities sorted by descending
// estimated profit; ties break on borrower address for determinism.
func (t *Tracker) Liquidatable() []*opportunity.Opportunity {
	t.mu.RLock()
	out := make([]*opportunity.Opportunity, 0, len(t.opportunities))
	for _, opp := range t.opportunities {
		out = append(out, opp)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].EstimatedProfitUSD.Equal(out[j].EstimatedProfitUSD) {
			return out[i].EstimatedProfitUSD.GreaterThan(out[j].EstimatedProfitUSD)
		}
		return out[i].Borrower.Hex() < out[j].Borrower.Hex()
	})
	return out
}

// Tracked returns the accounts currently under observation
func (t *Tracker) Tracked() []common.Address {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]common.Address, 0, len(t.positions))
	for acct := range t.positions {
		out = append(out, acct)
	}
	return out
}

// Counts returns tracked account and live opportunity counts
func (t *Tracker) Counts() (tracked, opportunities int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.positions), len(t.opportunities)
}
