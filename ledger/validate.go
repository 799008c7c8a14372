/*
validate.go - Transaction validation and canonicalization

PURPOSE:
  Single entry point that decides whether a submission may be written and
  what the stored row looks like. The Writer calls it inside the
  transactional scope with freshly read stock; callers outside a scope may
  call CheckInput for early structural rejection, but never treat a result
  computed outside the scope as final.

RULES:
  1. StackID required, Amount > 0, Type one of the five submittable kinds
  2. Units: bales|tons for quantity, bale|ton for price, price >= 0
  3. sale requires a location; amount in bales must not exceed stock there
  4. move with a destination requires a source, different from the
     destination, holding enough stock
  5. anything else is accepted without a stock check
  6. a checked withdrawal within units.Remainder of the stock left at its
     key takes exactly that stock, so the key lands on zero
*/
package ledger

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/warp/hay-ledger/units"
)

// Canonical is an accepted submission in storage units.
type Canonical struct {
	Input       TransactionInput
	AmountBales decimal.Decimal
	PricePerTon decimal.Decimal
}

// CheckInput performs the structural checks that need no I/O.
func CheckInput(in TransactionInput) error {
	if in.StackID == "" {
		return invalid("stack_id", "is required")
	}
	if in.Type == "" {
		return invalid("type", "is required")
	}
	if !in.Type.Submittable() {
		return invalid("type", "unknown transaction type %q", in.Type)
	}
	if !in.Amount.IsPositive() {
		return invalid("amount", "must be greater than zero")
	}
	if !units.ValidQuantityUnit(in.Unit) {
		return invalid("unit", "must be bales or tons")
	}
	if in.PriceUnit != "" && !units.ValidPriceUnit(in.PriceUnit) {
		return invalid("price_unit", "must be bale or ton")
	}
	if in.Price != nil && in.Price.IsNegative() {
		return invalid("price", "must not be negative")
	}
	if in.Type == TxSale && in.LocationID == "" {
		return invalid("location_id", "is required for a sale")
	}
	if in.ToLocationID != "" {
		if in.Type != TxMove {
			return invalid("to_location_id", "only applies to moves")
		}
		if in.LocationID == "" {
			return invalid("location_id", "is required for a relocation")
		}
		if in.LocationID == in.ToLocationID {
			return invalid("to_location_id", "must differ from the source location")
		}
	}
	return nil
}

// NeedsStockCheck reports whether the submission depletes a location that
// must hold enough stock.
func NeedsStockCheck(in TransactionInput) bool {
	return in.Type == TxSale || (in.Type == TxMove && in.ToLocationID != "")
}

// Validate checks a submission against the stack it references and the
// stock available at its (stack, location) key, and returns the canonical
// record. available is ignored when no stock check applies.
func Validate(in TransactionInput, stack Stack, available decimal.Decimal) (Canonical, error) {
	if err := CheckInput(in); err != nil {
		return Canonical{}, err
	}

	weight := stack.Weight()
	bales, err := units.ToBales(in.Amount, in.Unit, weight)
	if err != nil {
		return Canonical{}, conversionError("amount", err)
	}
	if !bales.IsPositive() {
		return Canonical{}, invalid("amount", "is below the smallest recordable amount")
	}

	price := decimal.Zero
	if in.Price != nil {
		priceUnit := in.PriceUnit
		if priceUnit == "" {
			priceUnit = stack.PriceUnit
		}
		if priceUnit == "" {
			priceUnit = units.PerBale
		}
		price, err = units.NormalizePrice(*in.Price, priceUnit, weight)
		if err != nil {
			return Canonical{}, conversionError("price", err)
		}
	}

	if NeedsStockCheck(in) && available.IsPositive() &&
		bales.Sub(available).Abs().LessThanOrEqual(units.Remainder) {
		bales = available
	}
	if NeedsStockCheck(in) && bales.GreaterThan(available) {
		return Canonical{}, &InsufficientStockError{
			StackID:    in.StackID,
			LocationID: in.LocationID,
			Available:  available,
			Requested:  bales,
		}
	}

	return Canonical{Input: in, AmountBales: bales, PricePerTon: price}, nil
}

func conversionError(field string, err error) error {
	if errors.Is(err, units.ErrInvalidWeight) {
		return invalid("weight_per_bale", "%v", err)
	}
	return invalid(field, "%v", err)
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func checkStackInput(in StackInput) error {
	if in.Name == "" {
		return invalid("name", "is required")
	}
	if in.WeightPerBale != nil && !in.WeightPerBale.IsPositive() {
		return invalid("weight_per_bale", "must be greater than zero")
	}
	if in.BasePrice != nil && in.BasePrice.IsNegative() {
		return invalid("base_price", "must not be negative")
	}
	if in.PriceUnit != "" && !units.ValidPriceUnit(in.PriceUnit) {
		return invalid("price_unit", "must be bale or ton")
	}
	return nil
}

func checkLocationInput(in LocationInput) error {
	if in.Name == "" {
		return invalid("name", "is required")
	}
	if !in.Capacity.IsPositive() {
		return invalid("capacity", "must be greater than zero")
	}
	if !units.ValidCapacityUnit(in.CapacityUnit) {
		return invalid("capacity_unit", "must be bales, tons or loads")
	}
	return nil
}
