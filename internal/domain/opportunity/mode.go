package opportunity

// Mode is the execution strategy for a liquidation
type Mode string

const (
	// ModeStandard repays from the operator wallet's own balance
	ModeStandard Mode = "standard"

	// ModeFlashLoan borrows the repay amount atomically within the
	// liquidation transaction
	ModeFlashLoan Mode = "flash_loan"
)

// String returns the string representation of the mode
func (m Mode) String() string {
	return string(m)
}

// Valid checks if the mode is a known variant
func (m Mode) Valid() bool {
	return m == ModeStandard || m == ModeFlashLoan
}
