package profit

import (
	"context"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"vulture/internal/adapters/chain"
	"vulture/internal/domain/opportunity"
	"vulture/pkg/errors"
	"vulture/pkg/logger"
)

var (
	weiPerEther = decimal.New(1, 18)
	bpsDivisor  = decimal.NewFromInt(10_000)
	one         = decimal.NewFromInt(1)
)

// PriceSource resolves the native gas token price when no static price is
// configured
type PriceSource interface {
	PriceUSD(ctx context.Context, token common.Address) (decimal.Decimal, error)
}

// Config tunes gas and profitability estimation
type Config struct {
	GasLimitStandard  uint64
	GasLimitFlashLoan uint64

	// FlashLoanFeeBps is the pool fee in basis points of the repay amount
	FlashLoanFeeBps int64

	Incentive    decimal.Decimal
	MinProfitUSD decimal.Decimal

	// NativeTokenPriceUSD short-circuits native price resolution when
	// positive; otherwise NativeToken is resolved through the price source
	NativeTokenPriceUSD decimal.Decimal
	NativeToken         common.Address

	// FallbackGasPriceWei is used when the node cannot suggest a gas
	// price. Zero disables the fallback.
	FallbackGasPriceWei *big.Int
}

// GasEstimate is the fee envelope for one liquidation attempt
type GasEstimate struct {
	GasLimit    uint64
	GasPriceWei *big.Int
	CostUSD     decimal.Decimal
}

// Analysis is the profitability breakdown for one opportunity and mode
type Analysis struct {
	Mode            opportunity.Mode
	GrossProfitUSD  decimal.Decimal
	GasCostUSD      decimal.Decimal
	FlashLoanFeeUSD decimal.Decimal
	NetProfitUSD    decimal.Decimal
	Profitable      bool
}

// Estimator computes gas cost, flash-loan fee, and net profit. All
// currency math stays on arbitrary-precision decimals; floats appear only
// at checked conversion boundaries.
type Estimator struct {
	reader chain.Reader
	prices PriceSource
	cfg    Config
	log    *logger.Logger
}

// NewEstimator creates a profitability estimator
func NewEstimator(reader chain.Reader, prices PriceSource, cfg Config, log *logger.Logger) *Estimator {
	return &Estimator{
		reader: reader,
		prices: prices,
		cfg:    cfg,
		log:    log.With("component", "profit_estimator"),
	}
}

// EstimateGas derives the gas envelope for a mode. A zero or unavailable
// gas price is a hard error: submitting with a broken fee estimate risks
// fund loss.
func (e *Estimator) EstimateGas(ctx context.Context, opp *opportunity.Opportunity, mode opportunity.Mode) (GasEstimate, error) {
	gasPrice, err := e.reader.SuggestGasPrice(ctx)
	if err != nil || gasPrice == nil || gasPrice.Sign() <= 0 {
		if e.cfg.FallbackGasPriceWei != nil && e.cfg.FallbackGasPriceWei.Sign() > 0 {
			gasPrice = e.cfg.FallbackGasPriceWei
		} else {
			return GasEstimate{}, errors.Wrapf(errors.ErrGasPriceUnavailable, "suggest gas price: %v", err)
		}
	}

	limit := e.cfg.GasLimitStandard
	if mode == opportunity.ModeFlashLoan {
		limit = e.cfg.GasLimitFlashLoan
	}

	nativePrice, err := e.nativePriceUSD(ctx)
	if err != nil {
		return GasEstimate{}, err
	}

	costWei := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(limit))
	costUSD := decimal.NewFromBigInt(costWei, 0).Div(weiPerEther).Mul(nativePrice)
	if err := checkFinite(costUSD); err != nil {
		return GasEstimate{}, errors.Wrap(err, "gas cost")
	}

	return GasEstimate{
		GasLimit:    limit,
		GasPriceWei: gasPrice,
		CostUSD:     costUSD,
	}, nil
}

// Analyze computes the profitability breakdown for an opportunity under
// the given mode and gas estimate
func (e *Estimator) Analyze(opp *opportunity.Opportunity, mode opportunity.Mode, gas GasEstimate) (Analysis, error) {
	repayUSD := opp.RepayValueUSD()
	if err := checkFinite(repayUSD); err != nil {
		return Analysis{}, errors.Wrap(err, "repay value")
	}

	gross := repayUSD.Mul(e.cfg.Incentive.Sub(one))

	fee := decimal.Zero
	if mode == opportunity.ModeFlashLoan {
		feeAmount := decimal.NewFromBigInt(opp.RepayAmount, 0).
			Mul(decimal.NewFromInt(e.cfg.FlashLoanFeeBps)).
			Div(bpsDivisor)
		fee = feeAmount.Shift(-int32(opp.RepayDecimals)).Mul(opp.RepayPriceUSD)
		if err := checkFinite(fee); err != nil {
			return Analysis{}, errors.Wrap(err, "flash loan fee")
		}
	}

	net := gross.Sub(gas.CostUSD).Sub(fee)
	if err := checkFinite(net); err != nil {
		return Analysis{}, errors.Wrap(err, "net profit")
	}

	return Analysis{
		Mode:            mode,
		GrossProfitUSD:  gross,
		GasCostUSD:      gas.CostUSD,
		FlashLoanFeeUSD: fee,
		NetProfitUSD:    net,
		Profitable:      net.GreaterThanOrEqual(e.cfg.MinProfitUSD),
	}, nil
}

// Estimate runs gas estimation and analysis in one step
func (e *Estimator) Estimate(ctx context.Context, opp *opportunity.Opportunity, mode opportunity.Mode) (Analysis, error) {
	gas, err := e.EstimateGas(ctx, opp, mode)
	if err != nil {
		return Analysis{}, err
	}
	return e.Analyze(opp, mode, gas)
}

func (e *Estimator) nativePriceUSD(ctx context.Context) (decimal.Decimal, error) {
	if e.cfg.NativeTokenPriceUSD.Sign() > 0 {
		return e.cfg.NativeTokenPriceUSD, nil
	}
	if e.cfg.NativeToken == (common.Address{}) {
		return decimal.Zero, errors.Wrap(errors.ErrGasPriceUnavailable, "no native token price source")
	}
	p, err := e.prices.PriceUSD(ctx, e.cfg.NativeToken)
	if err != nil {
		return decimal.Zero, errors.Wrap(errors.ErrGasPriceUnavailable, err.Error())
	}
	return p, nil
}

// checkFinite rejects decimals whose float64 projection is NaN or Inf
func checkFinite(d decimal.Decimal) error {
	f, _ := d.Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return errors.ErrNonFiniteValue
	}
	return nil
}
