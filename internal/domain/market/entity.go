package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// expScale is the 1e18 mantissa scale used by protocol exchange rates
var expScale = big.NewInt(1e18)

// Market describes one listed lending market
type Market struct {
	Address    common.Address
	Underlying common.Address // zero address for the native-asset market
	Symbol     string

	// UnderlyingDecimals is the decimal scale of the underlying token
	UnderlyingDecimals uint8
}

// HasUnderlying reports whether the market wraps an ERC-20 underlying
func (m Market) HasUnderlying() bool {
	return m.Underlying != (common.Address{})
}

// AccountSnapshot is one market's view of a borrower: supplied market
// tokens, outstanding borrow in underlying units, and the current
// exchange rate mantissa (scaled 1e18).
type AccountSnapshot struct {
	TokenBalance         *big.Int
	BorrowBalance        *big.Int
	ExchangeRateMantissa *big.Int
}

// SupplyUnderlying converts the market-token balance to underlying units
func (s AccountSnapshot) SupplyUnderlying() *big.Int {
	if s.TokenBalance == nil || s.ExchangeRateMantissa == nil {
		return new(big.Int)
	}
	out := new(big.Int).Mul(s.TokenBalance, s.ExchangeRateMantissa)
	return out.Div(out, expScale)
}

// AccountLiquidity is the protocol-reported account-level liquidity and
// shortfall, both USD values scaled 1e18. Exactly one of the two is
// non-zero for accounts the protocol considers resolved.
type AccountLiquidity struct {
	Liquidity *big.Int
	Shortfall *big.Int
}
