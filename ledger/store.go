/*
store.go - Persistence contract

PURPOSE:
  The engine does not implement persistence. It needs a relational store
  that can run a function inside a transactional scope and, inside that
  scope, lock one (stack, location) key strongly enough that two writers on
  the same key serialize.

KEY INTERFACES:
  Reader: tenant-scoped reads of stacks, locations and ledger rows
  Tx:     everything a write needs, valid only inside WithTx
  Store:  Reader + WithTx + Close

SCOPE CONTRACT:
  - WithTx commits when fn returns nil and rolls back otherwise.
  - The scope is released on every exit path, including panics.
  - LockStock holds its lock until the scope ends. Locks on different keys
    never block each other.
  - Reads through Tx after LockStock observe every row committed by earlier
    holders of the same key.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, keyed mutexes
  - store/sqlite/sqlite.go: SQLite, single writer (BEGIN IMMEDIATE)
  - store/postgres/postgres.go: PostgreSQL, advisory transaction locks
*/
package ledger

import "context"

// Reader is satisfied by both the store and an open scope.
type Reader interface {
	GetStack(ctx context.Context, orgID, id string) (Stack, error)
	ListStacks(ctx context.Context, orgID string) ([]Stack, error)
	GetLocation(ctx context.Context, orgID, id string) (Location, error)
	ListLocations(ctx context.Context, orgID string) ([]Location, error)
	GetTransaction(ctx context.Context, orgID, id string) (Transaction, error)

	// ListTransactions returns matching rows newest first (date, then creation).
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
}

// Tx is an open transactional scope.
type Tx interface {
	Reader

	// LockStock serializes writers on one (stack, location) key until the scope ends.
	LockStock(ctx context.Context, orgID string, key StockKey) error

	SaveStack(ctx context.Context, s Stack) error
	SaveLocation(ctx context.Context, l Location) error
	DeleteStack(ctx context.Context, orgID, id string) error
	DeleteLocation(ctx context.Context, orgID, id string) error

	// CountReferences counts ledger rows pointing at a stack or location.
	// Implementations lock the referenced row so the count stays valid
	// until the scope ends.
	CountReferences(ctx context.Context, orgID string, kind RefKind, id string) (int, error)

	Append(ctx context.Context, txs ...Transaction) error
	Update(ctx context.Context, t Transaction) error
	DeleteTransactions(ctx context.Context, orgID string, ids ...string) error
}

type Store interface {
	Reader

	WithTx(ctx context.Context, fn func(Tx) error) error
	Close() error
}
