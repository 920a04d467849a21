package services

import (
	"errors"
	"fmt"

	"github.com/hanko-field/till/internal/repositories"
)

var (
	// ErrValidation signals bad input such as a non-positive amount or malformed rule parameters.
	ErrValidation = errors.New("validation error")
	// ErrShiftClosed signals a mutation attempted on a CLOSED or PENDING_REVIEW shift.
	ErrShiftClosed = errors.New("shift closed")
	// ErrRegisterOccupied signals an open attempt on a register that already has an OPEN shift.
	ErrRegisterOccupied = errors.New("register occupied")
	// ErrNoActiveShift signals a settlement for a register without an OPEN shift.
	ErrNoActiveShift = errors.New("no active shift")
	// ErrRuleEvaluation signals an unparseable or internally inconsistent promotion rule.
	ErrRuleEvaluation = errors.New("rule evaluation error")
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a concurrent modification or duplicate.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable indicates the backing store could not be reached.
	ErrUnavailable = errors.New("unavailable")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// translateRepoError maps persistence failures onto the service taxonomy.
func translateRepoError(op string, err error) error {
	if err == nil {
		return nil
	}

	var ledgerErr *repositories.CashLedgerError
	if errors.As(err, &ledgerErr) {
		switch ledgerErr.Code {
		case repositories.CashLedgerRegisterOccupied:
			return fmt.Errorf("%w: %s", ErrRegisterOccupied, ledgerErr.Message)
		case repositories.CashLedgerShiftNotOpen:
			return fmt.Errorf("%w: %s", ErrShiftClosed, ledgerErr.Message)
		case repositories.CashLedgerShiftNotFound, repositories.CashLedgerRegisterNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, ledgerErr.Message)
		}
	}

	// Errors produced by builders inside a transaction already carry a service sentinel.
	for _, sentinel := range []error{ErrValidation, ErrShiftClosed, ErrRegisterOccupied, ErrNoActiveShift, ErrRuleEvaluation} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s: %v", ErrNotFound, op, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %s: %v", ErrConflict, op, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
