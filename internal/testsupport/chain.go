package testsupport

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"vulture/internal/adapters/chain"
	"vulture/internal/domain/market"
	"vulture/pkg/errors"
)

// FakeReader is a configurable in-memory chain.Reader for tests
type FakeReader struct {
	mu sync.Mutex

	Markets     map[common.Address]market.Market
	Prices      map[common.Address]*big.Int // keyed by market address
	Snapshots   map[string]market.AccountSnapshot
	Liquidity   map[common.Address]market.AccountLiquidity
	AssetsIn    map[common.Address][]common.Address
	Borrowers   []common.Address
	Balances    map[common.Address]*big.Int // keyed by token
	GasPrice    *big.Int
	GasPriceErr error

	// Errs forces an error per method name
	Errs map[string]error

	// Calls counts invocations per method name
	Calls map[string]int
}

// NewFakeReader creates an empty fake reader
func NewFakeReader() *FakeReader {
	return &FakeReader{
		Markets:   make(map[common.Address]market.Market),
		Prices:    make(map[common.Address]*big.Int),
		Snapshots: make(map[string]market.AccountSnapshot),
		Liquidity: make(map[common.Address]market.AccountLiquidity),
		AssetsIn:  make(map[common.Address][]common.Address),
		Balances:  make(map[common.Address]*big.Int),
		Errs:      make(map[string]error),
		Calls:     make(map[string]int),
	}
}

func (f *FakeReader) record(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls[method]++
	return f.Errs[method]
}

// SnapshotKey builds the lookup key for Snapshots
func SnapshotKey(account, mkt common.Address) string {
	return account.Hex() + ":" + mkt.Hex()
}

func (f *FakeReader) GetAccountLiquidity(ctx context.Context, account common.Address) (market.AccountLiquidity, error) {
	if err := f.record("GetAccountLiquidity"); err != nil {
		return market.AccountLiquidity{}, err
	}
	liq, ok := f.Liquidity[account]
	if !ok {
		return market.AccountLiquidity{}, errors.ErrLiquidityUnavailable
	}
	return liq, nil
}

func (f *FakeReader) GetAccountSnapshot(ctx context.Context, account, mkt common.Address) (market.AccountSnapshot, error) {
	if err := f.record("GetAccountSnapshot"); err != nil {
		return market.AccountSnapshot{}, err
	}
	snap, ok := f.Snapshots[SnapshotKey(account, mkt)]
	if !ok {
		return market.AccountSnapshot{}, errors.ErrSnapshotUnavailable
	}
	return snap, nil
}

func (f *FakeReader) GetAssetsIn(ctx context.Context, account common.Address) ([]common.Address, error) {
	if err := f.record("GetAssetsIn"); err != nil {
		return nil, err
	}
	return f.AssetsIn[account], nil
}

func (f *FakeReader) GetMarket(ctx context.Context, mkt common.Address) (market.Market, error) {
	if err := f.record("GetMarket"); err != nil {
		return market.Market{}, err
	}
	m, ok := f.Markets[mkt]
	if !ok {
		return market.Market{}, errors.ErrSnapshotUnavailable
	}
	return m, nil
}

func (f *FakeReader) GetMarketPrice(ctx context.Context, mkt common.Address) (*big.Int, error) {
	if err := f.record("GetMarketPrice"); err != nil {
		return nil, err
	}
	p, ok := f.Prices[mkt]
	if !ok {
		return nil, errors.ErrPriceUnavailable
	}
	return p, nil
}

func (f *FakeReader) GetAllMarkets(ctx context.Context) ([]market.Market, error) {
	if err := f.record("GetAllMarkets"); err != nil {
		return nil, err
	}
	out := make([]market.Market, 0, len(f.Markets))
	for _, m := range f.Markets {
		out = append(out, m)
	}
	return out, nil
}

func (f *FakeReader) GetAllBorrowers(ctx context.Context, offset, limit int) ([]common.Address, error) {
	if err := f.record("GetAllBorrowers"); err != nil {
		return nil, err
	}
	if offset >= len(f.Borrowers) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.Borrowers) {
		end = len(f.Borrowers)
	}
	return f.Borrowers[offset:end], nil
}

func (f *FakeReader) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := f.record("SuggestGasPrice"); err != nil {
		return nil, err
	}
	if f.GasPriceErr != nil {
		return nil, f.GasPriceErr
	}
	return f.GasPrice, nil
}

func (f *FakeReader) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	if err := f.record("BalanceOf"); err != nil {
		return nil, err
	}
	b, ok := f.Balances[token]
	if !ok {
		return new(big.Int), nil
	}
	return b, nil
}

var _ chain.Reader = (*FakeReader)(nil)
