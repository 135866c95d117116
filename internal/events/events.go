package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Kind identifies a protocol event variant
type Kind string

const (
	KindBorrow    Kind = "borrow"
	KindRepay     Kind = "repay"
	KindMint      Kind = "mint"
	KindRedeem    Kind = "redeem"
	KindLiquidate Kind = "liquidate"
)

// Event is a protocol event decoded once at the chain adapter boundary.
// Every variant names the borrower whose position it may have moved.
type Event interface {
	Kind() Kind
	Account() common.Address
}

// Borrow is emitted when an account draws new debt from a market
type Borrow struct {
	Borrower     common.Address
	Market       common.Address
	BorrowAmount *big.Int
	TotalBorrows *big.Int
}

func (e Borrow) Kind() Kind              { return KindBorrow }
func (e Borrow) Account() common.Address { return e.Borrower }

// Repay is emitted when debt is repaid on behalf of an account
type Repay struct {
	Payer       common.Address
	Borrower    common.Address
	Market      common.Address
	RepayAmount *big.Int
}

func (e Repay) Kind() Kind              { return KindRepay }
func (e Repay) Account() common.Address { return e.Borrower }

// Mint is emitted when an account supplies collateral to a market
type Mint struct {
	Minter     common.Address
	Market     common.Address
	MintAmount *big.Int
}

func (e Mint) Kind() Kind              { return KindMint }
func (e Mint) Account() common.Address { return e.Minter }

// Redeem is emitted when an account withdraws collateral from a market
type Redeem struct {
	Redeemer     common.Address
	Market       common.Address
	RedeemAmount *big.Int
}

func (e Redeem) Kind() Kind              { return KindRedeem }
func (e Redeem) Account() common.Address { return e.Redeemer }

// Liquidate is emitted when a third party liquidates an account
type Liquidate struct {
	Liquidator  common.Address
	Borrower    common.Address
	RepayMarket common.Address
	SeizeMarket common.Address
	RepayAmount *big.Int
	SeizeTokens *big.Int
}

func (e Liquidate) Kind() Kind              { return KindLiquidate }
func (e Liquidate) Account() common.Address { return e.Borrower }
