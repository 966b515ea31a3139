package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/sitsl/material-tracker/internal/domain/logs"
)

var (
	// ErrMaterialNotFound is returned when the mutation references a material
	// that does not exist. Nothing is written.
	ErrMaterialNotFound = errors.New("ledger: material not found")

	// ErrLogNotFound is returned by update and delete when the log is gone.
	ErrLogNotFound = errors.New("ledger: log not found")

	// ErrNegativeBalance is returned when the resulting aggregate would have
	// issued > delivered.
	ErrNegativeBalance = errors.New("ledger: negative stock balance")

	// ErrInsufficientStock is returned when an issuance increase exceeds the
	// balance on hand before the mutation.
	ErrInsufficientStock = errors.New("ledger: insufficient stock")

	// ErrInvalidQuantity is returned before anything is written.
	ErrInvalidQuantity = errors.New("ledger: invalid quantity")

	// ErrInvalidMutation covers malformed requests: unknown kind or type,
	// missing ids.
	ErrInvalidMutation = errors.New("ledger: invalid mutation")

	// ErrStaleLog is returned when the caller's previous quantity no longer
	// matches the stored log.
	ErrStaleLog = errors.New("ledger: log changed since it was read")

	// ErrConflict is the retryable signal stores use when a concurrent
	// transaction touched the same material.
	ErrConflict = errors.New("ledger: concurrent modification")

	// ErrTransactionFailed is returned when the transaction could not commit
	// after all retries, or the backend failed.
	ErrTransactionFailed = errors.New("ledger: transaction failed")
)

// BalanceError describes an aggregate that would end with issued > delivered.
type BalanceError struct {
	MaterialID string
	Delivered  decimal.Decimal
	Issued     decimal.Decimal
	Kind       Kind
}

func (e *BalanceError) Error() string {
	if e.Kind == KindDelete {
		return fmt.Sprintf("deletion failed: this would result in a negative stock balance (delivered %s, issued %s)",
			e.Delivered, e.Issued)
	}
	return fmt.Sprintf("this action would result in a negative stock balance (delivered %s, issued %s)",
		e.Delivered, e.Issued)
}

func (e *BalanceError) Is(target error) bool { return target == ErrNegativeBalance }

// InsufficientStockError carries the balance that was available, so callers
// can say "only N in stock".
type InsufficientStockError struct {
	MaterialID string
	Available  decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("issuance failed: only %s items are in stock", e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

type InvalidQuantityError struct {
	Quantity decimal.Decimal
	Reason   string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %s: %s", e.Quantity, e.Reason)
}

func (e *InvalidQuantityError) Is(target error) bool { return target == ErrInvalidQuantity }

func invalidMutation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidMutation, fmt.Sprintf(format, args...))
}

func logNotFound(t logs.Type, id string) error {
	return fmt.Errorf("%w: %s %s", ErrLogNotFound, t, id)
}
