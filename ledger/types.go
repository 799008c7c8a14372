/*
Package ledger is the inventory derivation and validation engine.

PURPOSE:
  Stock levels are never stored. Every number this package reports is a fold
  over the append-only transaction ledger, and every write goes through the
  same validate-then-append path inside a transactional scope.

KEY CONCEPTS IN THIS FILE (types.go):
  - Tenant: the (user, organization) pair that scopes every read and write
  - Stack: a lot of a commodity (hay, straw, ...) with a bale size and weight
  - Location: a storage site with a capacity
  - Transaction: an immutable ledger row, always in canonical units
  - StockKey: the (stack, location) pair that stock is tracked and locked by

CANONICAL UNITS:
  Amount is always bales and Price is always dollars per ton. Conversion
  happens once, in the validator, before a row is written. Reporting queries
  can therefore sum rows without per-row unit handling.

SEE ALSO:
  - aggregate.go: folds transactions into stock
  - validate.go: structural and stock-sufficiency checks
  - writer.go: the transactional write path
  - service.go: operations called by the API
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/hay-ledger/units"
)

// =============================================================================
// TENANT
// =============================================================================

// Tenant is supplied by the identity collaborator for each request.
// OrgID scopes ownership; UserID is recorded as the author of writes.
type Tenant struct {
	UserID string
	OrgID  string
}

func (t Tenant) Validate() error {
	if t.UserID == "" || t.OrgID == "" {
		return ErrMissingTenant
	}
	return nil
}

// =============================================================================
// TRANSACTION TYPES
// =============================================================================

type TransactionType string

const (
	TxProduction TransactionType = "production"
	TxPurchase   TransactionType = "purchase"
	TxSale       TransactionType = "sale"
	TxMove       TransactionType = "move"
	TxAdjustment TransactionType = "adjustment"

	// TxMoveIn is the destination leg of a relocation. It is written by the
	// Writer alongside a TxMove row and is never accepted as input.
	TxMoveIn TransactionType = "move_in"
)

// SubmittableTypes are the kinds a caller may submit.
var SubmittableTypes = []TransactionType{TxProduction, TxPurchase, TxSale, TxMove, TxAdjustment}

// Additive reports whether rows of this type add stock.
// Everything that is not production, purchase or a relocation's
// destination leg subtracts.
func (t TransactionType) Additive() bool {
	switch t {
	case TxProduction, TxPurchase, TxMoveIn:
		return true
	default:
		return false
	}
}

func (t TransactionType) Submittable() bool {
	for _, s := range SubmittableTypes {
		if s == t {
			return true
		}
	}
	return false
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

type Stack struct {
	ID        string
	OrgID     string
	UserID    string
	Name      string
	Commodity string
	BaleSize  string
	Quality   string

	// WeightPerBale is an optional override in pounds.
	WeightPerBale *decimal.Decimal
	BasePrice     *decimal.Decimal
	PriceUnit     units.PriceUnit

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Weight is the resolved pounds per bale. Always positive.
func (s Stack) Weight() decimal.Decimal {
	return units.ResolveWeight(s.WeightPerBale, s.BaleSize)
}

// Tons converts bales of this stack to tons. Weight is never zero, so unlike
// units.BalesToTons this cannot fail.
func (s Stack) Tons(bales decimal.Decimal) decimal.Decimal {
	return bales.Mul(s.Weight()).Div(units.PoundsPerTon)
}

type Location struct {
	ID           string
	OrgID        string
	UserID       string
	Name         string
	Capacity     decimal.Decimal
	CapacityUnit units.CapacityUnit
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RefKind names the reference tables a transaction points at.
type RefKind string

const (
	RefStack    RefKind = "stack"
	RefLocation RefKind = "location"
)

// =============================================================================
// TRANSACTION - Immutable ledger row
// =============================================================================

// Transaction is one ledger row. Empty LocationID, Entity and TransferID are
// stored as NULL.
type Transaction struct {
	ID         string
	Type       TransactionType
	StackID    string
	LocationID string
	Amount     decimal.Decimal    // bales
	Unit       units.QuantityUnit // always units.Canonical
	Entity     string
	Price      decimal.Decimal // dollars per ton
	UserID     string
	OrgID      string
	Date       time.Time
	TransferID string
	CreatedAt  time.Time
}

// Signed returns the amount with the sign implied by the transaction type.
func (t Transaction) Signed() decimal.Decimal {
	if t.Type.Additive() {
		return t.Amount
	}
	return t.Amount.Neg()
}

func (t Transaction) Key() StockKey {
	return StockKey{StackID: t.StackID, LocationID: t.LocationID}
}

// StockKey identifies stock of one stack at one location.
type StockKey struct {
	StackID    string
	LocationID string
}

func (k StockKey) String() string {
	return k.StackID + "@" + k.LocationID
}

// TransactionFilter selects ledger rows. Empty fields do not filter.
type TransactionFilter struct {
	OrgID      string
	StackID    string
	LocationID string
	Type       TransactionType
	TransferID string
	Limit      int
}

// =============================================================================
// INPUT
// =============================================================================

// TransactionInput is a submission as entered by a user. Amount and price may
// be in any supported unit; the validator canonicalizes them.
type TransactionInput struct {
	Type         TransactionType
	StackID      string
	LocationID   string
	ToLocationID string // move only: destination of a two-leg relocation
	Amount       decimal.Decimal
	Unit         units.QuantityUnit // empty means bales
	Entity       string
	Price        *decimal.Decimal // nil means no monetary value
	PriceUnit    units.PriceUnit  // empty means the stack's price unit
	Date         time.Time        // zero means now
}

// StackInput defines or edits a stack.
type StackInput struct {
	Name          string
	Commodity     string
	BaleSize      string
	Quality       string
	WeightPerBale *decimal.Decimal
	BasePrice     *decimal.Decimal
	PriceUnit     units.PriceUnit
}

// LocationInput defines or edits a location.
type LocationInput struct {
	Name         string
	Capacity     decimal.Decimal
	CapacityUnit units.CapacityUnit
}
