package health

import (
	"context"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"vulture/internal/adapters/chain"
	"vulture/internal/domain/market"
	"vulture/internal/domain/position"
	"vulture/pkg/errors"
	"vulture/pkg/logger"
)

// PriceSource resolves token prices for USD conversion
type PriceSource interface {
	PriceUSD(ctx context.Context, token common.Address) (decimal.Decimal, error)
	RegisterDerived(token common.Address, valueUSD decimal.Decimal, raw *big.Int, decimals uint8)
}

// Evaluator computes a health factor and full collateral/debt breakdown
// for one account from raw protocol state
type Evaluator struct {
	reader chain.Reader
	prices PriceSource
	log    *logger.Logger
}

// NewEvaluator creates a position health evaluator
func NewEvaluator(reader chain.Reader, prices PriceSource, log *logger.Logger) *Evaluator {
	return &Evaluator{
		reader: reader,
		prices: prices,
		log:    log.With("component", "health_evaluator"),
	}
}

// Evaluate builds the current AccountPosition for a borrower. A market
// whose conversion fails is skipped and logged; it never corrupts the
// aggregate. A failed liquidity read yields a NaN health factor, which
// downstream code treats as unknown and never liquidatable.
func (e *Evaluator) Evaluate(ctx context.Context, account common.Address) (*position.AccountPosition, error) {
	pos := &position.AccountPosition{
		Account:            account,
		TotalCollateralUSD: decimal.Zero,
		TotalDebtUSD:       decimal.Zero,
		UpdatedAt:          time.Now(),
	}

	liq, err := e.reader.GetAccountLiquidity(ctx, account)
	if err != nil {
		e.log.Warnw("Account liquidity unavailable",
			"account", account.Hex(), "error", err)
		pos.HealthFactor = math.NaN()
	} else {
		pos.Liquidity = liq.Liquidity
		pos.Shortfall = liq.Shortfall
		pos.HealthFactor = healthFactor(liq)
	}

	markets, err := e.reader.GetAssetsIn(ctx, account)
	if err != nil {
		return nil, errors.Wrapf(err, "assets in for %s", account.Hex())
	}

	for _, addr := range markets {
		if err := e.addMarket(ctx, pos, addr); err != nil {
			e.log.Warnw("Skipping market for account",
				"account", account.Hex(),
				"market", addr.Hex(),
				"error", err,
			)
		}
	}

	return pos, nil
}

// addMarket folds one market's snapshot into the position totals
func (e *Evaluator) addMarket(ctx context.Context, pos *position.AccountPosition, addr common.Address) error {
	meta, err := e.reader.GetMarket(ctx, addr)
	if err != nil {
		return errors.Wrap(err, "market metadata")
	}

	snap, err := e.reader.GetAccountSnapshot(ctx, pos.Account, addr)
	if err != nil {
		return errors.Wrap(err, "account snapshot")
	}

	price, err := e.prices.PriceUSD(ctx, meta.Underlying)
	if err != nil {
		return err
	}

	// Convert both sides before touching the aggregate: a skipped market
	// must leave neither its collateral nor its debt behind
	supply := snap.SupplyUnderlying()
	hasSupply := supply.Sign() > 0
	hasBorrow := snap.BorrowBalance != nil && snap.BorrowBalance.Sign() > 0

	var supplyUSD, borrowUSD decimal.Decimal
	if hasSupply {
		supplyUSD, err = convertUSD(supply, meta.UnderlyingDecimals, price)
		if err != nil {
			return err
		}
	}
	if hasBorrow {
		borrowUSD, err = convertUSD(snap.BorrowBalance, meta.UnderlyingDecimals, price)
		if err != nil {
			return err
		}
	}

	if hasSupply {
		pos.Collateral = append(pos.Collateral, position.MarketAmount{
			Market:     addr,
			Underlying: meta.Underlying,
			Raw:        supply,
			Decimals:   meta.UnderlyingDecimals,
			ValueUSD:   supplyUSD,
		})
		pos.TotalCollateralUSD = pos.TotalCollateralUSD.Add(supplyUSD)
		e.prices.RegisterDerived(meta.Underlying, supplyUSD, supply, meta.UnderlyingDecimals)
	}
	if hasBorrow {
		pos.Debt = append(pos.Debt, position.MarketAmount{
			Market:     addr,
			Underlying: meta.Underlying,
			Raw:        new(big.Int).Set(snap.BorrowBalance),
			Decimals:   meta.UnderlyingDecimals,
			ValueUSD:   borrowUSD,
		})
		pos.TotalDebtUSD = pos.TotalDebtUSD.Add(borrowUSD)
	}

	return nil
}

// convertUSD converts a raw token amount to USD, rejecting any result that
// would overflow the safe float range instead of silently clamping it
func convertUSD(raw *big.Int, decimals uint8, price decimal.Decimal) (decimal.Decimal, error) {
	amount := decimal.NewFromBigInt(raw, -int32(decimals))
	value := amount.Mul(price)

	f, _ := value.Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return decimal.Zero, errors.Wrapf(errors.ErrValueOverflow, "amount %s", raw.String())
	}
	return value, nil
}

// healthFactor derives the health factor from protocol liquidity figures:
// shortfall > 0 means liquidity/(liquidity+shortfall); liquidity with no
// shortfall is riskless (+Inf); the zero/zero boundary stays exactly 1.0
// and is not liquidatable.
func healthFactor(liq market.AccountLiquidity) float64 {
	l := liq.Liquidity
	s := liq.Shortfall
	if l == nil {
		l = new(big.Int)
	}
	if s == nil {
		s = new(big.Int)
	}

	if s.Sign() > 0 {
		num := new(big.Float).SetInt(l)
		den := new(big.Float).SetInt(new(big.Int).Add(l, s))
		out, _ := new(big.Float).Quo(num, den).Float64()
		return out
	}
	if l.Sign() > 0 {
		return math.Inf(1)
	}
	return 1.0
}
