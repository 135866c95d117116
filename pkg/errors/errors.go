package errors

import (
	"errors"
	"fmt"
)

// Data availability errors. A component hitting one of these skips the
// affected market or account and leaves aggregates untouched.

var (
	// ErrPriceUnavailable indicates no USD price could be resolved for a token
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrSnapshotUnavailable indicates an account/market snapshot could not be read
	ErrSnapshotUnavailable = errors.New("account snapshot unavailable")

	// ErrLiquidityUnavailable indicates account-level liquidity could not be read
	ErrLiquidityUnavailable = errors.New("account liquidity unavailable")

	// ErrValueOverflow indicates a USD conversion left the safe float range
	ErrValueOverflow = errors.New("usd value overflows safe range")

	// ErrNonFiniteValue indicates a computation produced NaN or infinity
	ErrNonFiniteValue = errors.New("non-finite value")
)

// Capital feasibility errors. Detected at selection time these reject the
// opportunity without consuming retry budget.

var (
	// ErrInsufficientBalance indicates the wallet cannot cover the repay amount
	ErrInsufficientBalance = errors.New("insufficient wallet balance")

	// ErrNoFallbackPath indicates balance is short and no flash-loan path is configured
	ErrNoFallbackPath = errors.New("insufficient balance, no fallback execution path")

	// ErrUnprofitable indicates estimated net profit is below the configured minimum
	ErrUnprofitable = errors.New("estimated profit below minimum")
)

// Risk gate errors.

var (
	// ErrEmergencyStop indicates the emergency stop is active
	ErrEmergencyStop = errors.New("emergency stop active")

	// ErrRiskRejected indicates the risk gate rejected the opportunity
	ErrRiskRejected = errors.New("rejected by risk gate")

	// ErrDailyLossLimit indicates the daily realized loss limit is breached
	ErrDailyLossLimit = errors.New("daily loss limit exceeded")

	// ErrBorrowerBlacklisted indicates the borrower is blacklisted
	ErrBorrowerBlacklisted = errors.New("borrower blacklisted")
)

// Execution and scheduling errors.

var (
	// ErrGasPriceUnavailable indicates the gas price could not be derived.
	// Submitting with a broken fee estimate risks fund loss, so this is a
	// hard error everywhere.
	ErrGasPriceUnavailable = errors.New("gas price unavailable")

	// ErrExecutionFailed indicates the execution layer reported a failure
	ErrExecutionFailed = errors.New("liquidation execution failed")

	// ErrRetriesExhausted indicates an opportunity key exceeded max retries
	ErrRetriesExhausted = errors.New("retry budget exhausted")

	// ErrSchedulerStopped indicates an operation on a stopped scheduler
	ErrSchedulerStopped = errors.New("scheduler not running")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")
)

// Is checks if err is or wraps target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
