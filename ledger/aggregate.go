/*
aggregate.go - Folds ledger rows into current stock

SIGN RULE:
  production, purchase, move_in  -> +amount
  everything else                -> -amount

GRANULARITIES:
  Both come out of the same fold so they cannot diverge:
  - per stack: every row, including rows with no location
  - per (stack, location): rows with a location only

ZERO ROWS:
  Positions() drops pairs whose balance is exactly zero. Raw ledger
  listings and reports are not filtered.
*/
package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Snapshot is the stock derived from a set of transactions.
type Snapshot struct {
	byStack map[string]decimal.Decimal
	byKey   map[StockKey]decimal.Decimal
}

// Position is the stock of one stack at one location, in bales.
type Position struct {
	Key   StockKey
	Bales decimal.Decimal
}

// Aggregate folds transactions into a snapshot. Order does not matter.
func Aggregate(txs []Transaction) Snapshot {
	snap := Snapshot{
		byStack: make(map[string]decimal.Decimal),
		byKey:   make(map[StockKey]decimal.Decimal),
	}
	for _, tx := range txs {
		delta := tx.Signed()
		snap.byStack[tx.StackID] = snap.byStack[tx.StackID].Add(delta)
		if tx.LocationID == "" {
			continue
		}
		k := tx.Key()
		snap.byKey[k] = snap.byKey[k].Add(delta)
	}
	return snap
}

// Stack returns the total stock of a stack across all locations.
func (s Snapshot) Stack(stackID string) decimal.Decimal {
	return s.byStack[stackID]
}

// At returns the stock at one (stack, location) pair.
func (s Snapshot) At(key StockKey) decimal.Decimal {
	return s.byKey[key]
}

// Location returns the total stock of all stacks at a location.
func (s Snapshot) Location(locationID string) decimal.Decimal {
	total := decimal.Zero
	for k, v := range s.byKey {
		if k.LocationID == locationID {
			total = total.Add(v)
		}
	}
	return total
}

// Positions returns every non-zero (stack, location) balance, ordered by
// stack then location.
func (s Snapshot) Positions() []Position {
	out := make([]Position, 0, len(s.byKey))
	for k, v := range s.byKey {
		if v.IsZero() {
			continue
		}
		out = append(out, Position{Key: k, Bales: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.StackID != out[j].Key.StackID {
			return out[i].Key.StackID < out[j].Key.StackID
		}
		return out[i].Key.LocationID < out[j].Key.LocationID
	})
	return out
}

// Total returns the stock summed over every stack.
func (s Snapshot) Total() decimal.Decimal {
	total := decimal.Zero
	for _, v := range s.byStack {
		total = total.Add(v)
	}
	return total
}
