package repositories

import "fmt"

// CashLedgerErrorCode enumerates repository error causes for shift ledger operations.
type CashLedgerErrorCode string

const (
	// CashLedgerUnknown represents an unspecified failure.
	CashLedgerUnknown CashLedgerErrorCode = "cash_unknown"
	// CashLedgerRegisterOccupied indicates the register already has an OPEN shift.
	CashLedgerRegisterOccupied CashLedgerErrorCode = "cash_register_occupied"
	// CashLedgerShiftNotFound indicates the shift document is missing.
	CashLedgerShiftNotFound CashLedgerErrorCode = "cash_shift_not_found"
	// CashLedgerShiftNotOpen indicates the shift is terminal.
	CashLedgerShiftNotOpen CashLedgerErrorCode = "cash_shift_not_open"
	// CashLedgerRegisterNotFound indicates the register is unknown.
	CashLedgerRegisterNotFound CashLedgerErrorCode = "cash_register_not_found"
)

// CashLedgerError wraps ledger failures with machine readable codes.
type CashLedgerError struct {
	Op      string
	Code    CashLedgerErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CashLedgerError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *CashLedgerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound implements RepositoryError.
func (e *CashLedgerError) IsNotFound() bool {
	return e != nil && (e.Code == CashLedgerShiftNotFound || e.Code == CashLedgerRegisterNotFound)
}

// IsConflict implements RepositoryError.
func (e *CashLedgerError) IsConflict() bool {
	return e != nil && (e.Code == CashLedgerRegisterOccupied || e.Code == CashLedgerShiftNotOpen)
}

// IsUnavailable implements RepositoryError.
func (e *CashLedgerError) IsUnavailable() bool { return false }

// NewCashLedgerError constructs a typed ledger error.
func NewCashLedgerError(code CashLedgerErrorCode, message string, err error) *CashLedgerError {
	if message == "" {
		message = string(code)
	}
	return &CashLedgerError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
