package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"vulture/internal/domain/market"
	"vulture/internal/domain/opportunity"
	"vulture/internal/events"
)

// Reader exposes the protocol state the decision core consumes. Every
// method may fail; a failure always means "unknown" and is never
// substituted with a default value.
type Reader interface {
	// GetAccountLiquidity returns the protocol-reported liquidity and
	// shortfall for an account
	GetAccountLiquidity(ctx context.Context, account common.Address) (market.AccountLiquidity, error)

	// GetAccountSnapshot returns one market's balance/borrow snapshot
	// for an account
	GetAccountSnapshot(ctx context.Context, account, mkt common.Address) (market.AccountSnapshot, error)

	// GetAssetsIn lists the markets an account participates in
	GetAssetsIn(ctx context.Context, account common.Address) ([]common.Address, error)

	// GetMarket returns market metadata (underlying, decimals)
	GetMarket(ctx context.Context, mkt common.Address) (market.Market, error)

	// GetMarketPrice returns the oracle price mantissa for a market,
	// scaled by 1e(36 - underlyingDecimals)
	GetMarketPrice(ctx context.Context, mkt common.Address) (*big.Int, error)

	// GetAllMarkets lists every market in the protocol
	GetAllMarkets(ctx context.Context) ([]market.Market, error)

	// GetAllBorrowers pages through known borrower accounts
	GetAllBorrowers(ctx context.Context, offset, limit int) ([]common.Address, error)

	// SuggestGasPrice returns the current gas price in wei
	SuggestGasPrice(ctx context.Context) (*big.Int, error)

	// BalanceOf returns the owner's balance of an ERC-20 token
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// GasParams is the fee envelope handed to the execution layer
type GasParams struct {
	GasLimit uint64
	GasPrice *big.Int
}

// Result is the outcome of one liquidation attempt
type Result struct {
	Success      bool
	TxHash       common.Hash
	Err          string
	ProfitUSD    decimal.Decimal
	SeizedAmount *big.Int
	Latency      time.Duration
}

// Executor submits liquidation transactions. Standard and flash-loan
// liquidators both implement it.
type Executor interface {
	Execute(ctx context.Context, opp *opportunity.Opportunity, gas GasParams) (*Result, error)
}

// SwapResult describes a collateral disposal swap
type SwapResult struct {
	TxHash    common.Hash
	AmountOut *big.Int
}

// Disposer converts seized collateral back to base currency after a
// successful liquidation. Best effort only.
type Disposer interface {
	Handle(ctx context.Context, seizeToken common.Address, amount *big.Int, res *Result) (*SwapResult, error)
}

// Subscription delivers protocol events decoded into tagged variants at
// the adapter boundary
type Subscription interface {
	Events() <-chan events.Event
	Err() <-chan error
	Close() error
}
