package position

import (
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// MarketAmount is one market's contribution to an account's collateral or
// debt side. Raw amounts stay arbitrary-precision; only ValueUSD carries
// the converted figure.
type MarketAmount struct {
	Market     common.Address
	Underlying common.Address
	Raw        *big.Int
	Decimals   uint8
	ValueUSD   decimal.Decimal
}

// AccountPosition is one borrower's aggregate state at evaluation time
type AccountPosition struct {
	Account common.Address

	// HealthFactor is NaN when account liquidity could not be read and
	// +Inf when the account carries liquidity with zero shortfall.
	HealthFactor float64

	TotalCollateralUSD decimal.Decimal
	TotalDebtUSD       decimal.Decimal

	Collateral []MarketAmount
	Debt       []MarketAmount

	// Raw protocol liquidity figures, USD scaled 1e18
	Liquidity *big.Int
	Shortfall *big.Int

	UpdatedAt time.Time
}

// IsLiquidatable reports whether the position is eligible for liquidation.
// A non-finite health factor means unknown or riskless and is never
// liquidatable; dust positions below minDebtUSD are skipped.
func (p *AccountPosition) IsLiquidatable(minDebtUSD decimal.Decimal) bool {
	if math.IsNaN(p.HealthFactor) || math.IsInf(p.HealthFactor, 0) {
		return false
	}
	if p.HealthFactor >= 1.0 {
		return false
	}
	return p.TotalDebtUSD.GreaterThanOrEqual(minDebtUSD)
}

// IsHealthy reports whether the position has cleared the safety threshold
// with no outstanding debt. NaN health is treated as unknown, not healthy.
func (p *AccountPosition) IsHealthy(safetyThreshold float64) bool {
	if math.IsNaN(p.HealthFactor) {
		return false
	}
	return p.TotalDebtUSD.IsZero() && p.HealthFactor > safetyThreshold
}

// LargestDebt returns the debt entry with the highest USD value, or false
// when the account has no debt
func (p *AccountPosition) LargestDebt() (MarketAmount, bool) {
	return largest(p.Debt)
}

// LargestCollateral returns the collateral entry with the highest USD
// value, or false when the account has no collateral
func (p *AccountPosition) LargestCollateral() (MarketAmount, bool) {
	return largest(p.Collateral)
}

func largest(entries []MarketAmount) (MarketAmount, bool) {
	if len(entries) == 0 {
		return MarketAmount{}, false
	}
	best := entries[0]
	for _, e := range entries[1:] {
		if e.ValueUSD.GreaterThan(best.ValueUSD) {
			best = e
		}
	}
	return best, true
}
