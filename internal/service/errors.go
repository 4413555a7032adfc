package service

import (
	"errors"
	"fmt"

	"bankledger/internal/repository"

	"github.com/shopspring/decimal"
)

// Ledger error taxonomy. Validation errors are returned before anything is
// written; store errors abort and roll back the whole operation.
var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrAmountMismatch    = errors.New("amount mismatch")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrIntegrity         = errors.New("integrity violation")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrAccountNotFound   = errors.New("account not found")
)

// AmountMismatchError reports a deposit whose breakdown does not add up to
// the stated total.
type AmountMismatchError struct {
	Stated     decimal.Decimal
	Calculated decimal.Decimal
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("amount mismatch: entered %s, calculated from breakdown %s",
		e.Stated.StringFixed(2), e.Calculated.StringFixed(2))
}

func (e *AmountMismatchError) Is(target error) bool {
	return target == ErrAmountMismatch
}

// InsufficientFundsError reports a withdrawal larger than the balance.
type InsufficientFundsError struct {
	Balance   decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: requested %s, available %s",
		e.Requested.StringFixed(2), e.Balance.StringFixed(2))
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

func invalidAmount(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidAmount, fmt.Sprintf(format, args...))
}

// storeError classifies a failure that came out of the database.
func storeError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case repository.IsIntegrityViolation(err):
		return fmt.Errorf("%s: %w: %w", op, ErrIntegrity, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}
}

// isLedgerError reports errors that already belong to the taxonomy and must
// reach the caller unchanged.
func isLedgerError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrAmountMismatch) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrIntegrity) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrAccountNotFound)
}
