/*
writer.go - The transactional write path

PROTOCOL (every write):
  1. Open a scope with Store.WithTx
  2. Lock the (stack, location) key(s) being depleted and re-read their rows
     inside the scope
  3. Re-run Validate against that fresh stock
  4. Append (or update/delete) and commit
  5. On rejection, return the error from fn so the scope rolls back

Nothing computed outside the scope is trusted. There is no cache between
the locked read and the write, and no retry: a rejection goes straight back
to the caller.

EDITS AND DELETES:
  Removing or shrinking an additive row (production, purchase, move_in)
  takes stock out of its key just like a sale. Update and Delete lock every
  key they deplete and reject a change that would leave it below zero.

RELOCATION:
  A move with a destination is written as two rows sharing a TransferID:
  a "move" row at the source and a "move_in" row at the destination. Both
  keys are locked in sorted order so two opposite relocations cannot
  deadlock.
*/
package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/hay-ledger/units"
)

// Submission is the result of an accepted write. Counterpart is set for the
// destination leg of a relocation.
type Submission struct {
	Record      Transaction
	Counterpart *Transaction
}

type Writer struct {
	store Store
	now   func() time.Time
	newID func() string
}

func NewWriter(store Store) *Writer {
	return &Writer{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.NewString() },
	}
}

// Submit validates and appends a transaction.
func (w *Writer) Submit(ctx context.Context, tenant Tenant, in TransactionInput) (Submission, error) {
	if err := tenant.Validate(); err != nil {
		return Submission{}, err
	}
	if err := CheckInput(in); err != nil {
		return Submission{}, err
	}

	var out Submission
	err := w.store.WithTx(ctx, func(tx Tx) error {
		stack, err := w.references(ctx, tx, tenant.OrgID, in)
		if err != nil {
			return err
		}

		available := decimal.Zero
		if NeedsStockCheck(in) {
			source := StockKey{StackID: in.StackID, LocationID: in.LocationID}
			keys := []StockKey{source}
			if in.ToLocationID != "" {
				keys = append(keys, StockKey{StackID: in.StackID, LocationID: in.ToLocationID})
			}
			if err := lockKeys(ctx, tx, tenant.OrgID, keys); err != nil {
				return err
			}
			available, err = stockAt(ctx, tx, tenant.OrgID, source)
			if err != nil {
				return err
			}
		}

		canon, err := Validate(in, stack, available)
		if err != nil {
			return err
		}

		out.Record = w.record(tenant, canon)
		rows := []Transaction{out.Record}
		if in.ToLocationID != "" {
			out.Record.TransferID = w.newID()
			leg := out.Record
			leg.ID = w.newID()
			leg.Type = TxMoveIn
			leg.LocationID = in.ToLocationID
			out.Counterpart = &leg
			rows = []Transaction{out.Record, leg}
		}
		return tx.Append(ctx, rows...)
	})
	if err != nil {
		return Submission{}, err
	}
	return out, nil
}

// Update overwrites an existing row in place. Sales are re-checked against
// the stock at the target key with the old row taken out.
func (w *Writer) Update(ctx context.Context, tenant Tenant, id string, in TransactionInput) (Transaction, error) {
	if err := tenant.Validate(); err != nil {
		return Transaction{}, err
	}
	if err := CheckInput(in); err != nil {
		return Transaction{}, err
	}
	if in.ToLocationID != "" {
		return Transaction{}, invalid("to_location_id", "relocations cannot be created by editing; submit a new move")
	}

	var updated Transaction
	err := w.store.WithTx(ctx, func(tx Tx) error {
		old, err := tx.GetTransaction(ctx, tenant.OrgID, id)
		if err != nil {
			return err
		}
		if old.TransferID != "" {
			return invalid("id", "relocation legs cannot be edited; delete and resubmit")
		}

		stack, err := w.references(ctx, tx, tenant.OrgID, in)
		if err != nil {
			return err
		}

		key := StockKey{StackID: in.StackID, LocationID: in.LocationID}
		guardOld := old.Type.Additive() && old.LocationID != ""
		var keys []StockKey
		if NeedsStockCheck(in) {
			keys = append(keys, key)
		}
		if guardOld {
			keys = append(keys, old.Key())
		}
		if err := lockKeys(ctx, tx, tenant.OrgID, keys); err != nil {
			return err
		}

		available := decimal.Zero
		if NeedsStockCheck(in) {
			available, err = stockAt(ctx, tx, tenant.OrgID, key)
			if err != nil {
				return err
			}
			if old.LocationID != "" && old.Key() == key {
				available = available.Sub(old.Signed())
			}
		}

		canon, err := Validate(in, stack, available)
		if err != nil {
			return err
		}

		updated = w.record(tenant, canon)
		updated.ID = old.ID
		updated.CreatedAt = old.CreatedAt
		if in.Date.IsZero() {
			updated.Date = old.Date
		}

		if guardOld {
			delta := old.Signed().Neg()
			if updated.Key() == old.Key() {
				delta = delta.Add(updated.Signed())
			}
			if err := checkDepletion(ctx, tx, tenant.OrgID, old.Key(), delta); err != nil {
				return err
			}
		}
		return tx.Update(ctx, updated)
	})
	if err != nil {
		return Transaction{}, err
	}
	return updated, nil
}

// Delete removes a row; both legs of a relocation go together. Returns the
// removed rows.
func (w *Writer) Delete(ctx context.Context, tenant Tenant, id string) ([]Transaction, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}

	var removed []Transaction
	err := w.store.WithTx(ctx, func(tx Tx) error {
		old, err := tx.GetTransaction(ctx, tenant.OrgID, id)
		if err != nil {
			return err
		}
		removed = []Transaction{old}
		if old.TransferID != "" {
			removed, err = tx.ListTransactions(ctx, TransactionFilter{
				OrgID:      tenant.OrgID,
				TransferID: old.TransferID,
			})
			if err != nil {
				return err
			}
		}

		deltas := make(map[StockKey]decimal.Decimal)
		ids := make([]string, len(removed))
		for i, t := range removed {
			ids[i] = t.ID
			if t.LocationID != "" {
				deltas[t.Key()] = deltas[t.Key()].Sub(t.Signed())
			}
		}
		var depleted []StockKey
		for k, delta := range deltas {
			if delta.IsNegative() {
				depleted = append(depleted, k)
			}
		}
		if err := lockKeys(ctx, tx, tenant.OrgID, depleted); err != nil {
			return err
		}
		for _, k := range depleted {
			if err := checkDepletion(ctx, tx, tenant.OrgID, k, deltas[k]); err != nil {
				return err
			}
		}
		return tx.DeleteTransactions(ctx, tenant.OrgID, ids...)
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// references loads the stack and checks that referenced locations exist in
// the tenant.
func (w *Writer) references(ctx context.Context, tx Tx, orgID string, in TransactionInput) (Stack, error) {
	stack, err := tx.GetStack(ctx, orgID, in.StackID)
	if err != nil {
		return Stack{}, err
	}
	for _, locID := range []string{in.LocationID, in.ToLocationID} {
		if locID == "" {
			continue
		}
		if _, err := tx.GetLocation(ctx, orgID, locID); err != nil {
			return Stack{}, err
		}
	}
	return stack, nil
}

func (w *Writer) record(tenant Tenant, canon Canonical) Transaction {
	in := canon.Input
	now := w.now()
	date := in.Date
	if date.IsZero() {
		date = now
	}
	return Transaction{
		ID:         w.newID(),
		Type:       in.Type,
		StackID:    in.StackID,
		LocationID: in.LocationID,
		Amount:     canon.AmountBales,
		Unit:       units.Canonical,
		Entity:     in.Entity,
		Price:      canon.PricePerTon,
		UserID:     tenant.UserID,
		OrgID:      tenant.OrgID,
		Date:       date.UTC(),
		CreatedAt:  now,
	}
}

func lockKeys(ctx context.Context, tx Tx, orgID string, keys []StockKey) error {
	sorted := append([]StockKey(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })
	for _, k := range sorted {
		if err := tx.LockStock(ctx, orgID, k); err != nil {
			return err
		}
	}
	return nil
}

// checkDepletion rejects a write that changes the stock at key by delta and
// would leave it below zero. The key must already be locked.
func checkDepletion(ctx context.Context, tx Tx, orgID string, key StockKey, delta decimal.Decimal) error {
	if !delta.IsNegative() {
		return nil
	}
	current, err := stockAt(ctx, tx, orgID, key)
	if err != nil {
		return err
	}
	if current.Add(delta).IsNegative() {
		return &InsufficientStockError{
			StackID:    key.StackID,
			LocationID: key.LocationID,
			Available:  current,
			Requested:  delta.Neg(),
		}
	}
	return nil
}

// stockAt must run after LockStock on the same key.
func stockAt(ctx context.Context, r Reader, orgID string, key StockKey) (decimal.Decimal, error) {
	rows, err := r.ListTransactions(ctx, TransactionFilter{
		OrgID:      orgID,
		StackID:    key.StackID,
		LocationID: key.LocationID,
	})
	if err != nil {
		return decimal.Zero, err
	}
	return Aggregate(rows).At(key), nil
}
