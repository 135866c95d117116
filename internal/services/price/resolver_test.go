package price

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vulture/internal/domain/market"
	"vulture/internal/testsupport"
	"vulture/pkg/errors"
	"vulture/pkg/logger"
)

var (
	usdcToken  = common.HexToAddress("0x01")
	usdcMarket = common.HexToAddress("0x11")
	wethToken  = common.HexToAddress("0x02")
	wethMarket = common.HexToAddress("0x12")
)

func newTestResolver(t *testing.T, reader *testsupport.FakeReader, ttl time.Duration) *Resolver {
	t.Helper()
	return NewResolver(reader, ttl, logger.Get())
}

// mantissaFor encodes a float USD price at the oracle 1e(36-decimals) scale
func mantissaFor(price float64, decimals uint8) *big.Int {
	d := decimal.NewFromFloat(price)
	m, _ := PriceToMantissa(d, decimals)
	return m
}

func TestResolver_DirectOraclePath(t *testing.T) {
	reader := testsupport.NewFakeReader()
	reader.Markets[usdcMarket] = market.Market{
		Address: usdcMarket, Underlying: usdcToken, Symbol: "vUSDC", UnderlyingDecimals: 6,
	}
	reader.Prices[usdcMarket] = mantissaFor(1.0, 6)

	r := newTestResolver(t, reader, time.Minute)
	r.RegisterMarket(reader.Markets[usdcMarket])

	p, err := r.PriceUSD(context.Background(), usdcToken)
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(1)), "got %s", p)
	assert.Equal(t, 1, reader.Calls["GetMarketPrice"])

	// Second read inside TTL must hit the cache
	_, err = r.PriceUSD(context.Background(), usdcToken)
	require.NoError(t, err)
	assert.Equal(t, 1, reader.Calls["GetMarketPrice"])
}

func TestResolver_CacheExpiry(t *testing.T) {
	reader := testsupport.NewFakeReader()
	reader.Markets[wethMarket] = market.Market{
		Address: wethMarket, Underlying: wethToken, Symbol: "vWETH", UnderlyingDecimals: 18,
	}
	reader.Prices[wethMarket] = mantissaFor(2500, 18)

	r := newTestResolver(t, reader, 30*time.Second)
	r.RegisterMarket(reader.Markets[wethMarket])

	now := time.Now()
	r.now = func() time.Time { return now }

	_, err := r.PriceUSD(context.Background(), wethToken)
	require.NoError(t, err)
	assert.Equal(t, 1, reader.Calls["GetMarketPrice"])

	// Entry goes stale, the next read re-resolves
	r.now = func() time.Time { return now.Add(31 * time.Second) }
	_, err = r.PriceUSD(context.Background(), wethToken)
	require.NoError(t, err)
	assert.Equal(t, 2, reader.Calls["GetMarketPrice"])
}

func TestResolver_MarketScanFallback(t *testing.T) {
	reader := testsupport.NewFakeReader()
	reader.Markets[wethMarket] = market.Market{
		Address: wethMarket, Underlying: wethToken, Symbol: "vWETH", UnderlyingDecimals: 18,
	}
	reader.Prices[wethMarket] = mantissaFor(2500, 18)

	// No mapping registered: resolution has to scan
	r := newTestResolver(t, reader, time.Minute)

	p, err := r.PriceUSD(context.Background(), wethToken)
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(2500)), "got %s", p)
	assert.Equal(t, 1, reader.Calls["GetAllMarkets"])
}

func TestResolver_DerivedFallback(t *testing.T) {
	reader := testsupport.NewFakeReader()
	r := newTestResolver(t, reader, time.Minute)

	// 5000 raw units of a 6-decimal token previously valued at 10 USD
	r.RegisterDerived(usdcToken, decimal.NewFromInt(10), big.NewInt(5_000_000), 6)

	p, err := r.PriceUSD(context.Background(), usdcToken)
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(2)), "got %s", p)
}

func TestResolver_Unavailable(t *testing.T) {
	reader := testsupport.NewFakeReader()
	r := newTestResolver(t, reader, time.Minute)

	_, err := r.PriceUSD(context.Background(), usdcToken)
	assert.True(t, errors.Is(err, errors.ErrPriceUnavailable))
}

func TestResolver_RejectsZeroAndNegativeMantissa(t *testing.T) {
	reader := testsupport.NewFakeReader()
	reader.Markets[usdcMarket] = market.Market{
		Address: usdcMarket, Underlying: usdcToken, UnderlyingDecimals: 6,
	}
	reader.Prices[usdcMarket] = big.NewInt(0)

	r := newTestResolver(t, reader, time.Minute)
	r.RegisterMarket(reader.Markets[usdcMarket])

	_, err := r.PriceUSD(context.Background(), usdcToken)
	assert.True(t, errors.Is(err, errors.ErrPriceUnavailable))
}

func TestResolver_DerivedIgnoresZeroAmount(t *testing.T) {
	reader := testsupport.NewFakeReader()
	r := newTestResolver(t, reader, time.Minute)

	r.RegisterDerived(usdcToken, decimal.NewFromInt(10), big.NewInt(0), 6)

	_, err := r.PriceUSD(context.Background(), usdcToken)
	assert.Error(t, err)
}

func TestMantissaRoundTrip(t *testing.T) {
	tolerance := decimal.NewFromFloat(1e-6)

	tests := []struct {
		name     string
		price    decimal.Decimal
		decimals uint8
	}{
		{"6 decimals", decimal.NewFromFloat(0.999731), 6},
		{"8 decimals", decimal.NewFromFloat(64123.55), 8},
		{"18 decimals", decimal.NewFromFloat(2513.204918), 18},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mantissa, err := PriceToMantissa(tt.price, tt.decimals)
			require.NoError(t, err)

			back, err := MantissaToPrice(mantissa, tt.decimals)
			require.NoError(t, err)

			diff := back.Sub(tt.price).Abs()
			rel := diff.Div(tt.price)
			assert.True(t, rel.LessThanOrEqual(tolerance),
				"round trip drift %s for price %s", rel, tt.price)
		})
	}
}
