package opportunity

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"vulture/internal/domain/position"
)

// Key is the composite identity of a liquidation candidate. Retry and
// cooldown state is tracked per key, so a borrower targeted through a
// different repay/seize pair is a distinct candidate.
type Key string

// NewKey builds a key from (borrower, repay market, seize market)
func NewKey(borrower, repayMarket, seizeMarket common.Address) Key {
	return Key(fmt.Sprintf("%s:%s:%s",
		borrower.Hex(), repayMarket.Hex(), seizeMarket.Hex()))
}

// Opportunity is an underwater position augmented with the chosen
// repay/seize pair and a profit estimate
type Opportunity struct {
	Borrower common.Address
	Position *position.AccountPosition

	RepayMarket   common.Address
	RepayToken    common.Address
	RepayAmount   *big.Int
	RepayDecimals uint8
	RepayPriceUSD decimal.Decimal

	SeizeMarket common.Address
	SeizeToken  common.Address

	EstimatedProfitUSD decimal.Decimal

	UpdatedAt time.Time
}

// Key returns the composite retry/cooldown identity
func (o *Opportunity) Key() Key {
	return NewKey(o.Borrower, o.RepayMarket, o.SeizeMarket)
}

// RepayValueUSD converts the repay amount to USD at the resolved price
func (o *Opportunity) RepayValueUSD() decimal.Decimal {
	if o.RepayAmount == nil {
		return decimal.Zero
	}
	amount := decimal.NewFromBigInt(o.RepayAmount, -int32(o.RepayDecimals))
	return amount.Mul(o.RepayPriceUSD)
}
