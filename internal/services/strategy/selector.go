package strategy

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"vulture/internal/adapters/chain"
	"vulture/internal/domain/opportunity"
	"vulture/internal/services/profit"
	"vulture/pkg/errors"
	"vulture/pkg/logger"
)

// Analyzer estimates profitability per execution mode
type Analyzer interface {
	Estimate(ctx context.Context, opp *opportunity.Opportunity, mode opportunity.Mode) (profit.Analysis, error)
}

// Config tunes strategy selection
type Config struct {
	// EnableFlashLoan turns capital-efficient execution on
	EnableFlashLoan bool

	// FlashLoanConfigured reports whether a flash-loan execution path
	// (pool + contract) actually exists
	FlashLoanConfigured bool

	// Wallet is the operator wallet funding standard-mode repayments
	Wallet common.Address
}

// Selector chooses standard vs. flash-loan execution per opportunity and
// validates feasibility before execution
type Selector struct {
	reader    chain.Reader
	estimator Analyzer
	cfg       Config
	log       *logger.Logger
}

// NewSelector creates a strategy selector
func NewSelector(reader chain.Reader, estimator Analyzer, cfg Config, log *logger.Logger) *Selector {
	return &Selector{
		reader:    reader,
		estimator: estimator,
		cfg:       cfg,
		log:       log.With("component", "strategy_selector"),
	}
}

// SelectMode picks the execution mode for an opportunity. With flash
// loans disabled the answer is always Standard. Otherwise the wallet
// balance decides: enough balance means both modes compete on estimated
// net profit; a short balance forces FlashLoan or fails when no path is
// configured.
func (s *Selector) SelectMode(ctx context.Context, opp *opportunity.Opportunity) (opportunity.Mode, error) {
	if !s.cfg.EnableFlashLoan {
		return opportunity.ModeStandard, nil
	}

	balance, err := s.reader.BalanceOf(ctx, opp.RepayToken, s.cfg.Wallet)
	if err != nil {
		return "", errors.Wrap(err, "wallet balance")
	}

	if balance.Cmp(opp.RepayAmount) >= 0 {
		return s.pickMoreProfitable(ctx, opp)
	}

	if s.cfg.FlashLoanConfigured {
		return opportunity.ModeFlashLoan, nil
	}
	return "", errors.Wrapf(errors.ErrNoFallbackPath,
		"balance %s below repay %s", balance.String(), opp.RepayAmount.String())
}

func (s *Selector) pickMoreProfitable(ctx context.Context, opp *opportunity.Opportunity) (opportunity.Mode, error) {
	std, err := s.estimator.Estimate(ctx, opp, opportunity.ModeStandard)
	if err != nil {
		return "", errors.Wrap(err, "standard estimate")
	}

	if !s.cfg.FlashLoanConfigured {
		return opportunity.ModeStandard, nil
	}

	fl, err := s.estimator.Estimate(ctx, opp, opportunity.ModeFlashLoan)
	if err != nil {
		// Flash-loan estimation failure never blocks the standard path
		s.log.Warnw("Flash loan estimate failed, using standard",
			"borrower", opp.Borrower.Hex(), "error", err)
		return opportunity.ModeStandard, nil
	}

	if fl.NetProfitUSD.GreaterThan(std.NetProfitUSD) {
		return opportunity.ModeFlashLoan, nil
	}
	return opportunity.ModeStandard, nil
}

// Validate re-checks feasibility for a chosen mode just before execution.
// Standard needs sufficient balance and profit above minimum; FlashLoan
// needs a configured path and profit above minimum.
func (s *Selector) Validate(ctx context.Context, opp *opportunity.Opportunity, mode opportunity.Mode) error {
	analysis, err := s.estimator.Estimate(ctx, opp, mode)
	if err != nil {
		return err
	}
	if !analysis.Profitable {
		return errors.Wrapf(errors.ErrUnprofitable,
			"net %s USD", analysis.NetProfitUSD.StringFixed(2))
	}

	switch mode {
	case opportunity.ModeStandard:
		balance, err := s.reader.BalanceOf(ctx, opp.RepayToken, s.cfg.Wallet)
		if err != nil {
			return errors.Wrap(err, "wallet balance")
		}
		if balance.Cmp(opp.RepayAmount) < 0 {
			return errors.Wrapf(errors.ErrInsufficientBalance,
				"have %s, need %s", balance.String(), opp.RepayAmount.String())
		}
	case opportunity.ModeFlashLoan:
		if !s.cfg.FlashLoanConfigured {
			return errors.ErrNoFallbackPath
		}
	default:
		return errors.Wrapf(errors.ErrInternal, "unknown mode %q", mode)
	}

	return nil
}
