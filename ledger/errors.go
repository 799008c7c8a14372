/*
errors.go - Error taxonomy for the ledger engine

ERROR CATEGORIES:
  1. StructuralInvalid - bad or missing input, rejected before any I/O
  2. InsufficientStock - a sale or relocation exceeds stock at the location
  3. ReferentialConflict - deleting a stack/location that has history
  4. StoreFault - persistence failure, surfaced as-is with no retry

The first three are expected and recoverable by resubmitting corrected
input. StoreFault is unexpected.

USAGE:
  if errors.Is(err, ledger.ErrInsufficientStock) {
      var se *ledger.InsufficientStockError
      errors.As(err, &se)
      // se.Available, se.Requested
  }
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrStructuralInvalid   = errors.New("invalid input")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrReferentialConflict = errors.New("referential conflict")
	ErrStoreFault          = errors.New("store fault")

	ErrStackNotFound       = errors.New("stack not found")
	ErrLocationNotFound    = errors.New("location not found")
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrMissingTenant fails the whole request when identity is absent.
	ErrMissingTenant = errors.New("missing tenant identity")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrStructuralInvalid
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientStockError carries the quantities so the caller can tell the
// user exactly how much is available. Both are in bales.
type InsufficientStockError struct {
	StackID    string
	LocationID string
	Available  decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock at location %s: available %s bales, requested %s bales",
		e.LocationID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// Shortfall is how many bales are missing.
func (e *InsufficientStockError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

type ReferentialConflictError struct {
	Kind       RefKind
	ID         string
	References int
}

func (e *ReferentialConflictError) Error() string {
	return fmt.Sprintf("%s %s is referenced by %d transaction(s)", e.Kind, e.ID, e.References)
}

func (e *ReferentialConflictError) Unwrap() error {
	return ErrReferentialConflict
}

// StoreFault wraps a persistence failure.
func StoreFault(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreFault, err)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the caller can fix the error by resubmitting.
func IsClientError(err error) bool {
	return errors.Is(err, ErrStructuralInvalid) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrReferentialConflict)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrStackNotFound) ||
		errors.Is(err, ErrLocationNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}
