package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/hay-ledger/ledger"
	"github.com/warp/hay-ledger/store/sqlite"
	"github.com/warp/hay-ledger/units"
)

const org = "org-1"

func newTestStore(t *testing.T) *sqlite.Store {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	weight := decimal.NewFromInt(950)
	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		if err := tx.SaveStack(ctx, ledger.Stack{
			ID: "s1", OrgID: org, UserID: "u1", Name: "Lot 1", Commodity: "Alfalfa",
			BaleSize: "3x4", WeightPerBale: &weight, PriceUnit: units.PerTon,
			CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}
		return tx.SaveLocation(ctx, ledger.Location{
			ID: "l1", OrgID: org, UserID: "u1", Name: "Barn",
			Capacity: decimal.NewFromInt(300), CapacityUnit: units.CapacityBales,
			CreatedAt: now, UpdatedAt: now,
		})
	})
	require.NoError(t, err)
}

func tx(id string, at time.Time) ledger.Transaction {
	return ledger.Transaction{
		ID: id, OrgID: org, UserID: "u1", Type: ledger.TxSale, StackID: "s1", LocationID: "l1",
		Amount: decimal.RequireFromString("12.5"), Unit: units.Bales,
		Price: decimal.RequireFromString("16.6666666666666667"), Entity: "Hillside Dairy",
		Date: at, CreatedAt: at,
	}
}

func TestStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()
	at := time.Date(2025, 4, 2, 9, 30, 0, 123456789, time.UTC)

	require.NoError(t, s.WithTx(ctx, func(t2 ledger.Tx) error { return t2.Append(ctx, tx("t1", at)) }))

	got, err := s.GetTransaction(ctx, org, "t1")
	require.NoError(t, err)
	assert.Equal(t, ledger.TxSale, got.Type)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, "16.6666666666666667", got.Price.String())
	assert.Equal(t, "Hillside Dairy", got.Entity)
	assert.True(t, got.Date.Equal(at), "nanoseconds survive")
	assert.Empty(t, got.TransferID)

	stack, err := s.GetStack(ctx, org, "s1")
	require.NoError(t, err)
	require.NotNil(t, stack.WeightPerBale)
	assert.Equal(t, "950", stack.WeightPerBale.String())
	assert.Nil(t, stack.BasePrice)
	assert.Equal(t, units.PerTon, stack.PriceUnit)
}

func TestStore_NullLocation(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	row := tx("t1", time.Now())
	row.Type = ledger.TxAdjustment
	row.LocationID = ""
	row.Entity = ""
	require.NoError(t, s.WithTx(ctx, func(t2 ledger.Tx) error { return t2.Append(ctx, row) }))

	got, err := s.GetTransaction(ctx, org, "t1")
	require.NoError(t, err)
	assert.Empty(t, got.LocationID)
	assert.Empty(t, got.Entity)

	byLocation, err := s.ListTransactions(ctx, ledger.TransactionFilter{OrgID: org, LocationID: "l1"})
	require.NoError(t, err)
	assert.Empty(t, byLocation)
}

func TestStore_ForeignKeysBlockDelete(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(t2 ledger.Tx) error { return t2.Append(ctx, tx("t1", time.Now())) }))

	// Bypassing CountReferences, the schema still refuses.
	err := s.WithTx(ctx, func(t2 ledger.Tx) error { return t2.DeleteLocation(ctx, org, "l1") })
	assert.ErrorIs(t, err, ledger.ErrReferentialConflict)

	n := 0
	require.NoError(t, s.WithTx(ctx, func(t2 ledger.Tx) error {
		var err error
		n, err = t2.CountReferences(ctx, org, ledger.RefStack, "s1")
		return err
	}))
	assert.Equal(t, 1, n)
}

func TestStore_RollbackOnError(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	err := s.WithTx(ctx, func(t2 ledger.Tx) error {
		if err := t2.Append(ctx, tx("t1", time.Now())); err != nil {
			return err
		}
		return ledger.ErrInsufficientStock
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientStock)

	_, err = s.GetTransaction(ctx, org, "t1")
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}

func TestStore_ReadsInsideScopeSeeOwnWrites(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	err := s.WithTx(ctx, func(t2 ledger.Tx) error {
		if err := t2.Append(ctx, tx("t1", time.Now())); err != nil {
			return err
		}
		rows, err := t2.ListTransactions(ctx, ledger.TransactionFilter{OrgID: org})
		if err != nil {
			return err
		}
		assert.Len(t, rows, 1)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_UpsertKeepsOrgScope(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	// Another org reusing the id cannot overwrite the row.
	err := s.WithTx(ctx, func(t2 ledger.Tx) error {
		return t2.SaveStack(ctx, ledger.Stack{ID: "s1", OrgID: "org-2", Name: "Hijack", CreatedAt: time.Now(), UpdatedAt: time.Now()})
	})
	require.NoError(t, err)

	got, err := s.GetStack(ctx, org, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Lot 1", got.Name)
	_, err = s.GetStack(ctx, "org-2", "s1")
	assert.ErrorIs(t, err, ledger.ErrStackNotFound)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hay.db")
	ctx := context.Background()

	s, err := sqlite.New(path)
	require.NoError(t, err)
	seed(t, s)
	require.NoError(t, s.WithTx(ctx, func(t2 ledger.Tx) error { return t2.Append(ctx, tx("t1", time.Now())) }))
	require.NoError(t, s.Close())

	s, err = sqlite.New(path)
	require.NoError(t, err)
	defer s.Close()

	rows, err := s.ListTransactions(ctx, ledger.TransactionFilter{OrgID: org, StackID: "s1"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
