/*
Package units converts user-facing hay quantities and prices to the ledger's
canonical storage units.

PURPOSE:
  Producers think in bales or tons and price either per bale or per ton.
  The ledger stores exactly one representation:
    - amounts in bales
    - prices in dollars per ton
  Everything in this package is a pure function of its inputs.

WEIGHT RESOLUTION:
  Conversions need a weight per bale (pounds). A stack may carry an explicit
  override; otherwise the bale-size class is looked up in a fixed table, and
  an unknown class falls back to DefaultWeight. ResolveWeight never returns
  zero or a negative weight.

FORMULAS:
  tons  -> bales:  tons * 2000 / weight
  bales -> tons:   bales * weight / 2000
  $/bale -> $/ton: price * 2000 / weight

SCALE:
  Stored amounts are rounded to AmountScale places and stored prices to
  PriceScale places, so sums of stored rows are exact and never carry a
  sixteenth-digit residue. Display conversions (BalesToTons, PricePerBale)
  are not rounded.

SEE ALSO:
  - ledger/validate.go: canonicalizes submissions with these functions
  - ledger/report.go: converts stored bales back to tons for reporting
*/
package units

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// UNITS
// =============================================================================

// QuantityUnit is the unit a quantity was entered in.
type QuantityUnit string

const (
	Bales QuantityUnit = "bales"
	Tons  QuantityUnit = "tons"
)

// PriceUnit is the unit a price was entered in.
type PriceUnit string

const (
	PerBale PriceUnit = "bale"
	PerTon  PriceUnit = "ton"
)

// CapacityUnit is how a location measures its capacity.
type CapacityUnit string

const (
	CapacityBales CapacityUnit = "bales"
	CapacityTons  CapacityUnit = "tons"
	CapacityLoads CapacityUnit = "loads"
)

// Canonical is the literal unit tag written on every ledger row.
const Canonical = Bales

var (
	// PoundsPerTon is a short ton.
	PoundsPerTon = decimal.NewFromInt(2000)

	// DefaultWeight applies when neither an override nor a known bale size is available.
	DefaultWeight = decimal.NewFromInt(1200)

	// Remainder is the largest difference, in bales, between a withdrawal
	// and the stock left at its key for the withdrawal to count as taking
	// all of it. It absorbs the rounding of repeated ton entries.
	Remainder = decimal.New(1, -3)
)

const (
	// AmountScale is the number of decimal places kept on stored bale amounts.
	AmountScale int32 = 4

	// PriceScale is the number of decimal places kept on stored $/ton prices.
	PriceScale int32 = 4
)

var (
	ErrInvalidWeight = errors.New("weight per bale must be positive")
	ErrUnknownUnit   = errors.New("unknown unit")
)

// baleWeights maps normalized bale-size classes to pounds per bale.
var baleWeights = map[string]decimal.Decimal{
	"3x4":          decimal.NewFromInt(1200),
	"3x3":          decimal.NewFromInt(800),
	"4x4":          decimal.NewFromInt(1000),
	"small square": decimal.NewFromInt(60),
	"large square": decimal.NewFromInt(1200),
	"round":        decimal.NewFromInt(1200),
}

// BaleSizes lists the known bale-size classes in display form.
var BaleSizes = []string{"3x4", "3x3", "4x4", "Small Square", "Large Square", "Round"}

func normalizeSize(size string) string {
	return strings.ToLower(strings.Join(strings.Fields(size), " "))
}

// =============================================================================
// WEIGHT
// =============================================================================

// DefaultWeightFor returns the table weight for a bale-size class,
// or DefaultWeight when the class is unknown.
func DefaultWeightFor(baleSize string) decimal.Decimal {
	if w, ok := baleWeights[normalizeSize(baleSize)]; ok {
		return w
	}
	return DefaultWeight
}

// ResolveWeight returns the explicit override when it is present and positive,
// otherwise the table weight for the bale size.
func ResolveWeight(explicit *decimal.Decimal, baleSize string) decimal.Decimal {
	if explicit != nil && explicit.IsPositive() {
		return *explicit
	}
	return DefaultWeightFor(baleSize)
}

func checkWeight(w decimal.Decimal) error {
	if !w.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrInvalidWeight, w)
	}
	return nil
}

// =============================================================================
// QUANTITY
// =============================================================================

// TonsToBales returns tons in bales, rounded to AmountScale.
func TonsToBales(tons, weight decimal.Decimal) (decimal.Decimal, error) {
	if err := checkWeight(weight); err != nil {
		return decimal.Zero, err
	}
	return tons.Mul(PoundsPerTon).Div(weight).Round(AmountScale), nil
}

func BalesToTons(bales, weight decimal.Decimal) (decimal.Decimal, error) {
	if err := checkWeight(weight); err != nil {
		return decimal.Zero, err
	}
	return bales.Mul(weight).Div(PoundsPerTon), nil
}

// ToBales converts an entered amount to bales at AmountScale. An empty unit
// means bales.
func ToBales(amount decimal.Decimal, unit QuantityUnit, weight decimal.Decimal) (decimal.Decimal, error) {
	switch unit {
	case "", Bales:
		return amount.Round(AmountScale), nil
	case Tons:
		return TonsToBales(amount, weight)
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownUnit, unit)
	}
}

// =============================================================================
// PRICE
// =============================================================================

// NormalizePrice returns the price in dollars per ton at PriceScale.
func NormalizePrice(price decimal.Decimal, unit PriceUnit, weight decimal.Decimal) (decimal.Decimal, error) {
	switch unit {
	case PerTon:
		return price.Round(PriceScale), nil
	case PerBale:
		if err := checkWeight(weight); err != nil {
			return decimal.Zero, err
		}
		// price per bale divided by tons per bale
		return price.Mul(PoundsPerTon).Div(weight).Round(PriceScale), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownUnit, unit)
	}
}

// PricePerBale converts a stored $/ton price back to $/bale for display.
func PricePerBale(pricePerTon, weight decimal.Decimal) (decimal.Decimal, error) {
	if err := checkWeight(weight); err != nil {
		return decimal.Zero, err
	}
	return pricePerTon.Mul(weight).Div(PoundsPerTon), nil
}

// ValidQuantityUnit reports whether u is accepted on input. Empty means bales.
func ValidQuantityUnit(u QuantityUnit) bool {
	return u == "" || u == Bales || u == Tons
}

func ValidPriceUnit(u PriceUnit) bool {
	return u == PerBale || u == PerTon
}

func ValidCapacityUnit(u CapacityUnit) bool {
	return u == CapacityBales || u == CapacityTons || u == CapacityLoads
}
