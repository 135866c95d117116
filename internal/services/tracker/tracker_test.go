package tracker

import (
	"context"
	"math"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vulture/internal/domain/position"
	"vulture/pkg/logger"
)

var (
	usdcToken  = common.HexToAddress("0x01")
	usdcMarket = common.HexToAddress("0x11")
	wethToken  = common.HexToAddress("0x02")
	wethMarket = common.HexToAddress("0x12")
)

type stubPrices struct {
	prices map[common.Address]decimal.Decimal
	fail   bool
}

func (s *stubPrices) PriceUSD(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	if s.fail {
		return decimal.Zero, assert.AnError
	}
	if p, ok := s.prices[token]; ok {
		return p, nil
	}
	return decimal.Zero, assert.AnError
}

func testConfig() Config {
	return Config{
		MinPositionUSD:  decimal.NewFromInt(100),
		SafetyThreshold: 1.05,
		HealthyStreak:   3,
		CloseFactor:     decimal.NewFromFloat(0.5),
		Incentive:       decimal.NewFromFloat(1.08),
		GasHintUSD:      decimal.NewFromInt(5),
	}
}

// underwater builds a liquidatable position with one debt and one
// collateral market
func underwater(account common.Address, debtUSD int64) *position.AccountPosition {
	// debt amount in 6-decimal units priced at 1 USD
	raw := new(big.Int).Mul(big.NewInt(debtUSD), big.NewInt(1_000_000))
	return &position.AccountPosition{
		Account:      account,
		HealthFactor: 0.9,
		TotalDebtUSD: decimal.NewFromInt(debtUSD),
		TotalCollateralUSD: decimal.NewFromInt(debtUSD * 2),
		Debt: []position.MarketAmount{{
			Market: usdcMarket, Underlying: usdcToken,
			Raw: raw, Decimals: 6, ValueUSD: decimal.NewFromInt(debtUSD),
		}},
		Collateral: []position.MarketAmount{{
			Market: wethMarket, Underlying: wethToken,
			Raw: big.NewInt(1e18), Decimals: 18, ValueUSD: decimal.NewFromInt(debtUSD * 2),
		}},
	}
}

func newTracker(prices PriceSource) *Tracker {
	return New(testConfig(), prices, logger.Get())
}

func TestUpdate_DerivesOpportunity(t *testing.T) {
	tr := newTracker(&stubPrices{prices: map[common.Address]decimal.Decimal{
		usdcToken: decimal.NewFromInt(1),
	}})

	tr.Update(context.Background(), underwater(common.HexToAddress("0xa"), 1000))

	opps := tr.Liquidatable()
	require.Len(t, opps, 1)
	opp := opps[0]

	// repay half of 1000 USDC
	assert.Equal(t, big.NewInt(500_000_000).String(), opp.RepayAmount.String())
	assert.Equal(t, usdcMarket, opp.RepayMarket)
	assert.Equal(t, wethMarket, opp.SeizeMarket)

	// 500 * 0.08 - 5 = 35
	assert.True(t, opp.EstimatedProfitUSD.Equal(decimal.NewFromInt(35)),
		"profit %s", opp.EstimatedProfitUSD)
}

func TestUpdate_Idempotent(t *testing.T) {
	tr := newTracker(&stubPrices{prices: map[common.Address]decimal.Decimal{
		usdcToken: decimal.NewFromInt(1),
	}})
	pos := underwater(common.HexToAddress("0xa"), 1000)

	tr.Update(context.Background(), pos)
	tr.Update(context.Background(), pos)

	assert.Len(t, tr.Liquidatable(), 1)
	tracked, opps := tr.Counts()
	assert.Equal(t, 1, tracked)
	assert.Equal(t, 1, opps)
}

func TestLiquidatable_SortedByProfitDescending(t *testing.T) {
	tr := newTracker(&stubPrices{prices: map[common.Address]decimal.Decimal{
		usdcToken: decimal.NewFromInt(1),
	}})

	tr.Update(context.Background(), underwater(common.HexToAddress("0xa"), 400))
	tr.Update(context.Background(), underwater(common.HexToAddress("0xb"), 2000))
	tr.Update(context.Background(), underwater(common.HexToAddress("0xc"), 1000))

	opps := tr.Liquidatable()
	require.Len(t, opps, 3)
	for i := 1; i < len(opps); i++ {
		assert.True(t,
			opps[i-1].EstimatedProfitUSD.GreaterThanOrEqual(opps[i].EstimatedProfitUSD),
			"not sorted at %d", i)
	}
	assert.Equal(t, common.HexToAddress("0xb"), opps[0].Borrower)
}

func TestLiquidatable_TieBrokenByBorrower(t *testing.T) {
	tr := newTracker(&stubPrices{prices: map[common.Address]decimal.Decimal{
		usdcToken: decimal.NewFromInt(1),
	}})

	tr.Update(context.Background(), underwater(common.HexToAddress("0xbb"), 1000))
	tr.Update(context.Background(), underwater(common.HexToAddress("0xaa"), 1000))

	opps := tr.Liquidatable()
	require.Len(t, opps, 2)
	assert.Equal(t, common.HexToAddress("0xaa"), opps[0].Borrower)
	assert.Equal(t, common.HexToAddress("0xbb"), opps[1].Borrower)
}

func TestUpdate_HealthyStreakHysteresis(t *testing.T) {
	tr := newTracker(&stubPrices{prices: map[common.Address]decimal.Decimal{
		usdcToken: decimal.NewFromInt(1),
	}})
	account := common.HexToAddress("0xa")

	tr.Update(context.Background(), underwater(account, 1000))
	require.Len(t, tr.Liquidatable(), 1)

	healthy := &position.AccountPosition{
		Account:      account,
		HealthFactor: 1.5,
		TotalDebtUSD: decimal.Zero,
	}

	// Two healthy observations are not enough
	tr.Update(context.Background(), healthy)
	tr.Update(context.Background(), healthy)
	tracked, _ := tr.Counts()
	assert.Equal(t, 1, tracked)

	// Third observation drops the account
	tr.Update(context.Background(), healthy)
	tracked, opps := tr.Counts()
	assert.Equal(t, 0, tracked)
	assert.Equal(t, 0, opps)
}

func TestUpdate_RelapseResetsStreak(t *testing.T) {
	tr := newTracker(&stubPrices{prices: map[common.Address]decimal.Decimal{
		usdcToken: decimal.NewFromInt(1),
	}})
	account := common.HexToAddress("0xa")

	healthy := &position.AccountPosition{
		Account:      account,
		HealthFactor: 1.5,
		TotalDebtUSD: decimal.Zero,
	}

	tr.Update(context.Background(), underwater(account, 1000))
	tr.Update(context.Background(), healthy)
	tr.Update(context.Background(), healthy)
	tr.Update(context.Background(), underwater(account, 1000)) // relapse
	tr.Update(context.Background(), healthy)
	tr.Update(context.Background(), healthy)

	// Streak restarted after the relapse, account still tracked
	tracked, _ := tr.Counts()
	assert.Equal(t, 1, tracked)
}

func TestUpdate_NoLongerLiquidatableRemovesOpportunity(t *testing.T) {
	tr := newTracker(&stubPrices{prices: map[common.Address]decimal.Decimal{
		usdcToken: decimal.NewFromInt(1),
	}})
	account := common.HexToAddress("0xa")

	tr.Update(context.Background(), underwater(account, 1000))
	require.Len(t, tr.Liquidatable(), 1)

	recovered := underwater(account, 1000)
	recovered.HealthFactor = 1.01
	tr.Update(context.Background(), recovered)

	assert.Empty(t, tr.Liquidatable())
	tracked, _ := tr.Counts()
	assert.Equal(t, 1, tracked, "account stays tracked while debt remains")
}

func TestUpdate_DustDebtNotTargeted(t *testing.T) {
	tr := newTracker(&stubPrices{prices: map[common.Address]decimal.Decimal{
		usdcToken: decimal.NewFromInt(1),
	}})

	tr.Update(context.Background(), underwater(common.HexToAddress("0xa"), 50))
	assert.Empty(t, tr.Liquidatable())
}

func TestUpdate_PriceFailureUsesDerivedFallback(t *testing.T) {
	tr := newTracker(&stubPrices{fail: true})

	tr.Update(context.Background(), underwater(common.HexToAddress("0xa"), 1000))

	// ValueUSD/raw gives the same 1 USD price
	opps := tr.Liquidatable()
	require.Len(t, opps, 1)
	assert.True(t, opps[0].EstimatedProfitUSD.Equal(decimal.NewFromInt(35)),
		"profit %s", opps[0].EstimatedProfitUSD)
}

func TestUpdate_UnknownHealthNeverTargeted(t *testing.T) {
	tr := newTracker(&stubPrices{prices: map[common.Address]decimal.Decimal{
		usdcToken: decimal.NewFromInt(1),
	}})

	pos := underwater(common.HexToAddress("0xa"), 1000)
	pos.HealthFactor = math.NaN()
	tr.Update(context.Background(), pos)

	assert.Empty(t, tr.Liquidatable())
}
