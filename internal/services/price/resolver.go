package price

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"vulture/internal/adapters/chain"
	"vulture/internal/domain/market"
	"vulture/pkg/errors"
	"vulture/pkg/logger"
)

// oracleScale is the exponent of the full oracle mantissa scale: prices
// come back scaled by 1e(36 - underlyingDecimals)
const oracleScale = 36

// MantissaToPrice decodes an oracle price mantissa into a USD price
func MantissaToPrice(mantissa *big.Int, underlyingDecimals uint8) (decimal.Decimal, error) {
	if mantissa == nil || mantissa.Sign() <= 0 {
		return decimal.Zero, errors.ErrPriceUnavailable
	}
	return decimal.NewFromBigInt(mantissa, -int32(oracleScale-int(underlyingDecimals))), nil
}

// PriceToMantissa encodes a USD price into the oracle mantissa convention
func PriceToMantissa(price decimal.Decimal, underlyingDecimals uint8) (*big.Int, error) {
	if price.Sign() <= 0 {
		return nil, errors.ErrPriceUnavailable
	}
	return price.Shift(int32(oracleScale - int(underlyingDecimals))).BigInt(), nil
}

type cacheEntry struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

// Resolver resolves USD token prices with a time-bounded cache.
// Resolution order: fresh cache entry, direct oracle query through a known
// token-to-market mapping, full market scan, derived price. Stale cache
// entries are never evicted, only superseded on the next resolution.
type Resolver struct {
	reader chain.Reader
	ttl    time.Duration
	log    *logger.Logger

	mu      sync.RWMutex
	cache   map[common.Address]cacheEntry
	markets map[common.Address]market.Market // keyed by underlying token
	derived map[common.Address]decimal.Decimal

	now func() time.Time
}

// NewResolver creates a price resolver with the given cache TTL
func NewResolver(reader chain.Reader, ttl time.Duration, log *logger.Logger) *Resolver {
	return &Resolver{
		reader:  reader,
		ttl:     ttl,
		log:     log.With("component", "price_resolver"),
		cache:   make(map[common.Address]cacheEntry),
		markets: make(map[common.Address]market.Market),
		derived: make(map[common.Address]decimal.Decimal),
		now:     time.Now,
	}
}

// RegisterMarket records the token-to-market mapping so later lookups can
// take the direct oracle path
func (r *Resolver) RegisterMarket(m market.Market) {
	if !m.HasUnderlying() {
		return
	}
	r.mu.Lock()
	r.markets[m.Underlying] = m
	r.mu.Unlock()
}

// RegisterDerived records an implied price computed from a previously
// resolved USD value and a raw amount. Imprecise, used only when the
// oracle paths fail.
func (r *Resolver) RegisterDerived(token common.Address, valueUSD decimal.Decimal, raw *big.Int, decimals uint8) {
	if raw == nil || raw.Sign() <= 0 || valueUSD.Sign() <= 0 {
		return
	}
	amount := decimal.NewFromBigInt(raw, -int32(decimals))
	if amount.IsZero() {
		return
	}
	implied := valueUSD.Div(amount)
	if implied.Sign() <= 0 {
		return
	}
	r.mu.Lock()
	r.derived[token] = implied
	r.mu.Unlock()
}

// PriceUSD resolves a USD price for a token. Returns ErrPriceUnavailable
// when no path produces a finite positive price.
func (r *Resolver) PriceUSD(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	// Fresh cache entry wins
	r.mu.RLock()
	entry, cached := r.cache[token]
	mkt, mapped := r.markets[token]
	r.mu.RUnlock()

	if cached && r.now().Sub(entry.fetchedAt) < r.ttl {
		return entry.price, nil
	}

	// Direct oracle query through a known market mapping
	if mapped {
		if p, err := r.queryOracle(ctx, mkt); err == nil {
			return p, nil
		}
	}

	// Fallback market scan. Expensive; it also fills the mapping for
	// every listed market so the scan runs at most once per unknown token.
	if p, err := r.scanMarkets(ctx, token); err == nil {
		return p, nil
	}

	// Last resort: derived price from a prior USD conversion
	r.mu.RLock()
	implied, ok := r.derived[token]
	r.mu.RUnlock()
	if ok {
		r.log.Debugw("Using derived price", "token", token.Hex(), "price", implied)
		return implied, nil
	}

	return decimal.Zero, errors.Wrapf(errors.ErrPriceUnavailable, "token %s", token.Hex())
}

func (r *Resolver) queryOracle(ctx context.Context, mkt market.Market) (decimal.Decimal, error) {
	mantissa, err := r.reader.GetMarketPrice(ctx, mkt.Address)
	if err != nil {
		return decimal.Zero, errors.Wrap(errors.ErrPriceUnavailable, err.Error())
	}

	price, err := MantissaToPrice(mantissa, mkt.UnderlyingDecimals)
	if err != nil {
		return decimal.Zero, err
	}

	r.mu.Lock()
	r.cache[mkt.Underlying] = cacheEntry{price: price, fetchedAt: r.now()}
	r.mu.Unlock()

	return price, nil
}

func (r *Resolver) scanMarkets(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	all, err := r.reader.GetAllMarkets(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrap(errors.ErrPriceUnavailable, err.Error())
	}

	var found *market.Market
	for _, m := range all {
		r.RegisterMarket(m)
		if m.Underlying == token {
			mm := m
			found = &mm
		}
	}
	if found == nil {
		return decimal.Zero, errors.Wrapf(errors.ErrPriceUnavailable, "no market for token %s", token.Hex())
	}

	return r.queryOracle(ctx, *found)
}
