/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Development and single-node persistence for stacks, locations and the
  transaction ledger. PostgreSQL (store/postgres) follows the same schema
  with NUMERIC and TIMESTAMPTZ columns.

KEY TABLES:
  stacks:       Commodity lots, owned by an organization
  locations:    Storage sites with a capacity
  transactions: The ledger. Stock is never stored; it is summed from here.

INDEXES:
  - idx_transactions_org_stack_location: stock reads for one key (hot path)
  - idx_transactions_org_date: listings, newest first
  - idx_transactions_transfer: the two legs of a relocation

CONCURRENCY:
  SQLite has a single writer. WithTx takes the store mutex and opens the
  transaction with BEGIN IMMEDIATE (_txlock=immediate), so every scope holds
  the write lock from its first statement. LockStock is therefore already
  satisfied when it is called. Reads outside a scope take the read lock.

  Inside a scope every read goes through the open *sql.Tx. Reading through
  the parent would wait on the mutex the scope itself holds.

DECIMALS AND TIMES:
  Decimals are stored as TEXT and parsed with shopspring/decimal. Times are
  UTC with a fixed-width layout so TEXT ordering matches time ordering.

USAGE:
  store, err := sqlite.New("./data/hay.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := ledger.NewService(store)

SEE ALSO:
  - ledger/store.go: interface definitions
  - ledger/store/memory.go: in-memory implementation for tests
  - store/postgres/postgres.go: production store
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/hay-ledger/ledger"
	"github.com/warp/hay-ledger/units"
)

// timeLayout is fixed-width so lexical and chronological order agree.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS stacks (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		commodity TEXT NOT NULL DEFAULT '',
		bale_size TEXT NOT NULL DEFAULT '',
		quality TEXT NOT NULL DEFAULT '',
		weight_per_bale TEXT,
		base_price TEXT,
		price_unit TEXT NOT NULL DEFAULT 'bale',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_stacks_org ON stacks(org_id);

	CREATE TABLE IF NOT EXISTS locations (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		capacity TEXT NOT NULL,
		capacity_unit TEXT NOT NULL DEFAULT 'bales',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_locations_org ON locations(org_id);

	-- Ledger. Amount is bales, price is dollars per ton.
	-- No ON DELETE CASCADE: history must block deletes, not vanish with them.
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		stack_id TEXT NOT NULL REFERENCES stacks(id),
		location_id TEXT REFERENCES locations(id),
		amount TEXT NOT NULL,
		unit TEXT NOT NULL DEFAULT 'bales',
		entity TEXT,
		price TEXT NOT NULL DEFAULT '0',
		date TEXT NOT NULL,
		transfer_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_org_stack_location
		ON transactions(org_id, stack_id, location_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_org_date
		ON transactions(org_id, date DESC, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_location
		ON transactions(location_id) WHERE location_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_transfer
		ON transactions(transfer_id) WHERE transfer_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// READS (ledger.Reader)
// =============================================================================

func (s *Store) GetStack(ctx context.Context, orgID, id string) (ledger.Stack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getStack(ctx, s.db, orgID, id)
}

func (s *Store) ListStacks(ctx context.Context, orgID string) ([]ledger.Stack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listStacks(ctx, s.db, orgID)
}

func (s *Store) GetLocation(ctx context.Context, orgID, id string) (ledger.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getLocation(ctx, s.db, orgID, id)
}

func (s *Store) ListLocations(ctx context.Context, orgID string) ([]ledger.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listLocations(ctx, s.db, orgID)
}

func (s *Store) GetTransaction(ctx context.Context, orgID, id string) (ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTransaction(ctx, s.db, orgID, id)
}

func (s *Store) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listTransactions(ctx, s.db, f)
}

const stackColumns = `id, org_id, user_id, name, commodity, bale_size, quality,
	weight_per_bale, base_price, price_unit, created_at, updated_at`

func getStack(ctx context.Context, q querier, orgID, id string) (ledger.Stack, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+stackColumns+` FROM stacks WHERE id = ? AND org_id = ?`, id, orgID)
	if err != nil {
		return ledger.Stack{}, ledger.StoreFault("get stack", err)
	}
	stacks, err := scanStacks(rows)
	if err != nil {
		return ledger.Stack{}, err
	}
	if len(stacks) == 0 {
		return ledger.Stack{}, ledger.ErrStackNotFound
	}
	return stacks[0], nil
}

func listStacks(ctx context.Context, q querier, orgID string) ([]ledger.Stack, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+stackColumns+` FROM stacks WHERE org_id = ? ORDER BY name, id`, orgID)
	if err != nil {
		return nil, ledger.StoreFault("list stacks", err)
	}
	return scanStacks(rows)
}

func scanStacks(rows *sql.Rows) ([]ledger.Stack, error) {
	defer rows.Close()

	stacks := make([]ledger.Stack, 0)
	for rows.Next() {
		var (
			st                   ledger.Stack
			weight, price        sql.NullString
			priceUnit            string
			createdAt, updatedAt string
		)
		err := rows.Scan(&st.ID, &st.OrgID, &st.UserID, &st.Name, &st.Commodity,
			&st.BaleSize, &st.Quality, &weight, &price, &priceUnit, &createdAt, &updatedAt)
		if err != nil {
			return nil, ledger.StoreFault("scan stack", err)
		}
		st.PriceUnit = units.PriceUnit(priceUnit)
		if st.WeightPerBale, err = parseNullDecimal(weight); err != nil {
			return nil, ledger.StoreFault("scan stack", err)
		}
		if st.BasePrice, err = parseNullDecimal(price); err != nil {
			return nil, ledger.StoreFault("scan stack", err)
		}
		st.CreatedAt = parseTime(createdAt)
		st.UpdatedAt = parseTime(updatedAt)
		stacks = append(stacks, st)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.StoreFault("scan stack", err)
	}
	return stacks, nil
}

const locationColumns = `id, org_id, user_id, name, capacity, capacity_unit, created_at, updated_at`

func getLocation(ctx context.Context, q querier, orgID, id string) (ledger.Location, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE id = ? AND org_id = ?`, id, orgID)
	if err != nil {
		return ledger.Location{}, ledger.StoreFault("get location", err)
	}
	locs, err := scanLocations(rows)
	if err != nil {
		return ledger.Location{}, err
	}
	if len(locs) == 0 {
		return ledger.Location{}, ledger.ErrLocationNotFound
	}
	return locs[0], nil
}

func listLocations(ctx context.Context, q querier, orgID string) ([]ledger.Location, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE org_id = ? ORDER BY name, id`, orgID)
	if err != nil {
		return nil, ledger.StoreFault("list locations", err)
	}
	return scanLocations(rows)
}

func scanLocations(rows *sql.Rows) ([]ledger.Location, error) {
	defer rows.Close()

	locs := make([]ledger.Location, 0)
	for rows.Next() {
		var (
			l                    ledger.Location
			capacity, unit       string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&l.ID, &l.OrgID, &l.UserID, &l.Name, &capacity, &unit, &createdAt, &updatedAt); err != nil {
			return nil, ledger.StoreFault("scan location", err)
		}
		c, err := decimal.NewFromString(capacity)
		if err != nil {
			return nil, ledger.StoreFault("scan location", err)
		}
		l.Capacity = c
		l.CapacityUnit = units.CapacityUnit(unit)
		l.CreatedAt = parseTime(createdAt)
		l.UpdatedAt = parseTime(updatedAt)
		locs = append(locs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.StoreFault("scan location", err)
	}
	return locs, nil
}

const transactionColumns = `id, org_id, user_id, type, stack_id, location_id, amount, unit,
	entity, price, date, transfer_id, created_at`

func getTransaction(ctx context.Context, q querier, orgID, id string) (ledger.Transaction, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ? AND org_id = ?`, id, orgID)
	if err != nil {
		return ledger.Transaction{}, ledger.StoreFault("get transaction", err)
	}
	txs, err := scanTransactions(rows)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if len(txs) == 0 {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return txs[0], nil
}

func listTransactions(ctx context.Context, q querier, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	where := []string{"org_id = ?"}
	args := []any{f.OrgID}
	if f.StackID != "" {
		where = append(where, "stack_id = ?")
		args = append(args, f.StackID)
	}
	if f.LocationID != "" {
		where = append(where, "location_id = ?")
		args = append(args, f.LocationID)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.TransferID != "" {
		where = append(where, "transfer_id = ?")
		args = append(args, f.TransferID)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` +
		strings.Join(where, " AND ") +
		` ORDER BY date DESC, created_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ledger.StoreFault("list transactions", err)
	}
	return scanTransactions(rows)
}

func scanTransactions(rows *sql.Rows) ([]ledger.Transaction, error) {
	defer rows.Close()

	txs := make([]ledger.Transaction, 0)
	for rows.Next() {
		var (
			tx                           ledger.Transaction
			txType, unit                 string
			location, entity, transfer   sql.NullString
			amount, price, date, created string
		)
		err := rows.Scan(&tx.ID, &tx.OrgID, &tx.UserID, &txType, &tx.StackID, &location,
			&amount, &unit, &entity, &price, &date, &transfer, &created)
		if err != nil {
			return nil, ledger.StoreFault("scan transaction", err)
		}
		tx.Type = ledger.TransactionType(txType)
		tx.Unit = units.QuantityUnit(unit)
		tx.LocationID = location.String
		tx.Entity = entity.String
		tx.TransferID = transfer.String
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, ledger.StoreFault("scan transaction", err)
		}
		if tx.Price, err = decimal.NewFromString(price); err != nil {
			return nil, ledger.StoreFault("scan transaction", err)
		}
		tx.Date = parseTime(date)
		tx.CreatedAt = parseTime(created)
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.StoreFault("scan transaction", err)
	}
	return txs, nil
}

// =============================================================================
// TRANSACTIONAL SCOPE
// =============================================================================

// WithTx executes fn within a transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.StoreFault("begin", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return ledger.StoreFault("commit", err)
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetStack(ctx context.Context, orgID, id string) (ledger.Stack, error) {
	return getStack(ctx, ts.tx, orgID, id)
}

func (ts *txStore) ListStacks(ctx context.Context, orgID string) ([]ledger.Stack, error) {
	return listStacks(ctx, ts.tx, orgID)
}

func (ts *txStore) GetLocation(ctx context.Context, orgID, id string) (ledger.Location, error) {
	return getLocation(ctx, ts.tx, orgID, id)
}

func (ts *txStore) ListLocations(ctx context.Context, orgID string) ([]ledger.Location, error) {
	return listLocations(ctx, ts.tx, orgID)
}

func (ts *txStore) GetTransaction(ctx context.Context, orgID, id string) (ledger.Transaction, error) {
	return getTransaction(ctx, ts.tx, orgID, id)
}

func (ts *txStore) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	return listTransactions(ctx, ts.tx, f)
}

// LockStock is a no-op: the scope already holds the database write lock.
func (ts *txStore) LockStock(context.Context, string, ledger.StockKey) error {
	return nil
}

func (ts *txStore) SaveStack(ctx context.Context, st ledger.Stack) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO stacks (`+stackColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			commodity = excluded.commodity,
			bale_size = excluded.bale_size,
			quality = excluded.quality,
			weight_per_bale = excluded.weight_per_bale,
			base_price = excluded.base_price,
			price_unit = excluded.price_unit,
			updated_at = excluded.updated_at
		WHERE stacks.org_id = excluded.org_id
	`,
		st.ID, st.OrgID, st.UserID, st.Name, st.Commodity, st.BaleSize, st.Quality,
		nullDecimal(st.WeightPerBale), nullDecimal(st.BasePrice), string(st.PriceUnit),
		formatTime(st.CreatedAt), formatTime(st.UpdatedAt),
	)
	if err != nil {
		return ledger.StoreFault("save stack", err)
	}
	return nil
}

func (ts *txStore) SaveLocation(ctx context.Context, l ledger.Location) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO locations (`+locationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			capacity = excluded.capacity,
			capacity_unit = excluded.capacity_unit,
			updated_at = excluded.updated_at
		WHERE locations.org_id = excluded.org_id
	`,
		l.ID, l.OrgID, l.UserID, l.Name, l.Capacity.String(), string(l.CapacityUnit),
		formatTime(l.CreatedAt), formatTime(l.UpdatedAt),
	)
	if err != nil {
		return ledger.StoreFault("save location", err)
	}
	return nil
}

func (ts *txStore) DeleteStack(ctx context.Context, orgID, id string) error {
	return ts.deleteOne(ctx, "DELETE FROM stacks WHERE id = ? AND org_id = ?", ledger.ErrStackNotFound, ledger.RefStack, orgID, id)
}

func (ts *txStore) DeleteLocation(ctx context.Context, orgID, id string) error {
	return ts.deleteOne(ctx, "DELETE FROM locations WHERE id = ? AND org_id = ?", ledger.ErrLocationNotFound, ledger.RefLocation, orgID, id)
}

func (ts *txStore) deleteOne(ctx context.Context, query string, notFound error, kind ledger.RefKind, orgID, id string) error {
	res, err := ts.tx.ExecContext(ctx, query, id, orgID)
	if err != nil {
		if isForeignKeyError(err) {
			return &ledger.ReferentialConflictError{Kind: kind, ID: id}
		}
		return ledger.StoreFault("delete "+string(kind), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ledger.StoreFault("delete "+string(kind), err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// CountReferences needs no row lock: the scope holds the write lock.
func (ts *txStore) CountReferences(ctx context.Context, orgID string, kind ledger.RefKind, id string) (int, error) {
	column := "stack_id"
	if kind == ledger.RefLocation {
		column = "location_id"
	}
	var n int
	err := ts.tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE org_id = ? AND "+column+" = ?", orgID, id,
	).Scan(&n)
	if err != nil {
		return 0, ledger.StoreFault("count references", err)
	}
	return n, nil
}

func (ts *txStore) Append(ctx context.Context, txs ...ledger.Transaction) error {
	for _, tx := range txs {
		_, err := ts.tx.ExecContext(ctx, `
			INSERT INTO transactions (`+transactionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			tx.ID, tx.OrgID, tx.UserID, string(tx.Type), tx.StackID, nullString(tx.LocationID),
			tx.Amount.String(), string(tx.Unit), nullString(tx.Entity), tx.Price.String(),
			formatTime(tx.Date), nullString(tx.TransferID), formatTime(tx.CreatedAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return ledger.StoreFault("append transaction", fmt.Errorf("duplicate id %s", tx.ID))
			}
			return ledger.StoreFault("append transaction", err)
		}
	}
	return nil
}

func (ts *txStore) Update(ctx context.Context, tx ledger.Transaction) error {
	res, err := ts.tx.ExecContext(ctx, `
		UPDATE transactions SET
			user_id = ?, type = ?, stack_id = ?, location_id = ?, amount = ?, unit = ?,
			entity = ?, price = ?, date = ?
		WHERE id = ? AND org_id = ?
	`,
		tx.UserID, string(tx.Type), tx.StackID, nullString(tx.LocationID), tx.Amount.String(),
		string(tx.Unit), nullString(tx.Entity), tx.Price.String(), formatTime(tx.Date),
		tx.ID, tx.OrgID,
	)
	if err != nil {
		return ledger.StoreFault("update transaction", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return ledger.StoreFault("update transaction", err)
	} else if n == 0 {
		return ledger.ErrTransactionNotFound
	}
	return nil
}

func (ts *txStore) DeleteTransactions(ctx context.Context, orgID string, ids ...string) error {
	for _, id := range ids {
		res, err := ts.tx.ExecContext(ctx, "DELETE FROM transactions WHERE id = ? AND org_id = ?", id, orgID)
		if err != nil {
			return ledger.StoreFault("delete transaction", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return ledger.StoreFault("delete transaction", err)
		} else if n == 0 {
			return ledger.ErrTransactionNotFound
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

var _ ledger.Store = (*Store)(nil)
