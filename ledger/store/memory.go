// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/hay-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps everything in maps. Scopes stage their writes and apply them
// at commit under the data lock; stock locks are per (org, stack, location)
// so writers on unrelated keys do not wait for each other.
type Memory struct {
	mu        sync.RWMutex
	stacks    map[string]ledger.Stack
	locations map[string]ledger.Location
	txs       map[string]row
	seq       int64

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

// row is a ledger row plus its insertion order, used as the final sort key.
type row struct {
	tx  ledger.Transaction
	seq int64
}

func NewMemory() *Memory {
	return &Memory{
		stacks:    make(map[string]ledger.Stack),
		locations: make(map[string]ledger.Location),
		txs:       make(map[string]row),
		locks:     make(map[string]chan struct{}),
	}
}

func (m *Memory) Close() error { return nil }

// =============================================================================
// READS
// =============================================================================

func (m *Memory) GetStack(_ context.Context, orgID, id string) (ledger.Stack, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stacks[id]
	if !ok || s.OrgID != orgID {
		return ledger.Stack{}, ledger.ErrStackNotFound
	}
	return s, nil
}

func (m *Memory) ListStacks(_ context.Context, orgID string) ([]ledger.Stack, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Stack, 0)
	for _, s := range m.stacks {
		if s.OrgID == orgID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) GetLocation(_ context.Context, orgID, id string) (ledger.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.locations[id]
	if !ok || l.OrgID != orgID {
		return ledger.Location{}, ledger.ErrLocationNotFound
	}
	return l, nil
}

func (m *Memory) ListLocations(_ context.Context, orgID string) ([]ledger.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Location, 0)
	for _, l := range m.locations {
		if l.OrgID == orgID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) GetTransaction(_ context.Context, orgID, id string) (ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.txs[id]
	if !ok || r.tx.OrgID != orgID {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return r.tx, nil
}

func (m *Memory) ListTransactions(_ context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := make([]row, 0)
	for _, r := range m.txs {
		if matches(r.tx, f) {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.tx.Date.Equal(b.tx.Date) {
			return a.tx.Date.After(b.tx.Date)
		}
		if !a.tx.CreatedAt.Equal(b.tx.CreatedAt) {
			return a.tx.CreatedAt.After(b.tx.CreatedAt)
		}
		return a.seq > b.seq
	})
	if f.Limit > 0 && len(rows) > f.Limit {
		rows = rows[:f.Limit]
	}

	out := make([]ledger.Transaction, len(rows))
	for i, r := range rows {
		out[i] = r.tx
	}
	return out, nil
}

func matches(t ledger.Transaction, f ledger.TransactionFilter) bool {
	switch {
	case t.OrgID != f.OrgID:
		return false
	case f.StackID != "" && t.StackID != f.StackID:
		return false
	case f.LocationID != "" && t.LocationID != f.LocationID:
		return false
	case f.Type != "" && t.Type != f.Type:
		return false
	case f.TransferID != "" && t.TransferID != f.TransferID:
		return false
	}
	return true
}

// =============================================================================
// TRANSACTIONAL SCOPE
// =============================================================================

// WithTx executes fn within a scope. Writes are staged and applied atomically
// when fn returns nil; on error or panic nothing is applied. Stock locks are
// released after the commit, so the next holder of a key sees this scope's
// rows.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	tx := &memTx{Memory: m, held: make(map[string]bool)}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.commit(tx.ops)
}

func (m *Memory) commit(ops []op) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check every op against the state it will see before mutating anything,
	// so a failing scope applies nothing.
	shadow := m.cloneForCheck()
	for _, o := range ops {
		if err := o(shadow); err != nil {
			return err
		}
	}
	m.stacks, m.locations, m.txs, m.seq = shadow.stacks, shadow.locations, shadow.txs, shadow.seq
	return nil
}

// cloneForCheck copies the maps; values are plain structs.
func (m *Memory) cloneForCheck() *state {
	s := &state{
		stacks:    make(map[string]ledger.Stack, len(m.stacks)),
		locations: make(map[string]ledger.Location, len(m.locations)),
		txs:       make(map[string]row, len(m.txs)),
		seq:       m.seq,
	}
	for k, v := range m.stacks {
		s.stacks[k] = v
	}
	for k, v := range m.locations {
		s.locations[k] = v
	}
	for k, v := range m.txs {
		s.txs[k] = v
	}
	return s
}

type state struct {
	stacks    map[string]ledger.Stack
	locations map[string]ledger.Location
	txs       map[string]row
	seq       int64
}

func (s *state) references(orgID string, kind ledger.RefKind, id string) int {
	n := 0
	for _, r := range s.txs {
		if r.tx.OrgID != orgID {
			continue
		}
		if (kind == ledger.RefStack && r.tx.StackID == id) ||
			(kind == ledger.RefLocation && r.tx.LocationID == id) {
			n++
		}
	}
	return n
}

// checkRefs re-validates a row's references at commit time. A delete that
// committed after the scope read the reference would otherwise leave an
// orphan.
func (s *state) checkRefs(t ledger.Transaction) error {
	if st, ok := s.stacks[t.StackID]; !ok || st.OrgID != t.OrgID {
		return ledger.ErrStackNotFound
	}
	if t.LocationID != "" {
		if l, ok := s.locations[t.LocationID]; !ok || l.OrgID != t.OrgID {
			return ledger.ErrLocationNotFound
		}
	}
	return nil
}

type op func(*state) error

// memTx is the Tx handed to fn. Reads go to committed state; a scope does not
// read its own staged writes.
type memTx struct {
	*Memory
	ops  []op
	held map[string]bool
}

func (t *memTx) LockStock(ctx context.Context, orgID string, key ledger.StockKey) error {
	name := orgID + "/" + key.String()
	if t.held[name] {
		return nil
	}

	t.locksMu.Lock()
	ch, ok := t.locks[name]
	if !ok {
		ch = make(chan struct{}, 1)
		t.locks[name] = ch
	}
	t.locksMu.Unlock()

	select {
	case ch <- struct{}{}:
		t.held[name] = true
		return nil
	case <-ctx.Done():
		return ledger.StoreFault("lock stock", ctx.Err())
	}
}

func (t *memTx) release() {
	t.locksMu.Lock()
	defer t.locksMu.Unlock()
	for name := range t.held {
		<-t.locks[name]
	}
	t.held = nil
}

func (t *memTx) SaveStack(_ context.Context, st ledger.Stack) error {
	t.ops = append(t.ops, func(s *state) error {
		s.stacks[st.ID] = st
		return nil
	})
	return nil
}

func (t *memTx) SaveLocation(_ context.Context, l ledger.Location) error {
	t.ops = append(t.ops, func(s *state) error {
		s.locations[l.ID] = l
		return nil
	})
	return nil
}

func (t *memTx) DeleteStack(_ context.Context, orgID, id string) error {
	t.ops = append(t.ops, func(s *state) error {
		st, ok := s.stacks[id]
		if !ok || st.OrgID != orgID {
			return ledger.ErrStackNotFound
		}
		if n := s.references(orgID, ledger.RefStack, id); n > 0 {
			return &ledger.ReferentialConflictError{Kind: ledger.RefStack, ID: id, References: n}
		}
		delete(s.stacks, id)
		return nil
	})
	return nil
}

func (t *memTx) DeleteLocation(_ context.Context, orgID, id string) error {
	t.ops = append(t.ops, func(s *state) error {
		l, ok := s.locations[id]
		if !ok || l.OrgID != orgID {
			return ledger.ErrLocationNotFound
		}
		if n := s.references(orgID, ledger.RefLocation, id); n > 0 {
			return &ledger.ReferentialConflictError{Kind: ledger.RefLocation, ID: id, References: n}
		}
		delete(s.locations, id)
		return nil
	})
	return nil
}

// CountReferences counts committed rows. The delete it guards re-counts at
// commit.
func (t *memTx) CountReferences(_ context.Context, orgID string, kind ledger.RefKind, id string) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := state{txs: t.txs}
	return s.references(orgID, kind, id), nil
}

func (t *memTx) Append(_ context.Context, txs ...ledger.Transaction) error {
	rows := append([]ledger.Transaction(nil), txs...)
	t.ops = append(t.ops, func(s *state) error {
		for _, tx := range rows {
			if err := s.checkRefs(tx); err != nil {
				return err
			}
			s.seq++
			s.txs[tx.ID] = row{tx: tx, seq: s.seq}
		}
		return nil
	})
	return nil
}

func (t *memTx) Update(_ context.Context, tx ledger.Transaction) error {
	t.ops = append(t.ops, func(s *state) error {
		old, ok := s.txs[tx.ID]
		if !ok || old.tx.OrgID != tx.OrgID {
			return ledger.ErrTransactionNotFound
		}
		if err := s.checkRefs(tx); err != nil {
			return err
		}
		s.txs[tx.ID] = row{tx: tx, seq: old.seq}
		return nil
	})
	return nil
}

func (t *memTx) DeleteTransactions(_ context.Context, orgID string, ids ...string) error {
	ids = append([]string(nil), ids...)
	t.ops = append(t.ops, func(s *state) error {
		for _, id := range ids {
			r, ok := s.txs[id]
			if !ok || r.tx.OrgID != orgID {
				return ledger.ErrTransactionNotFound
			}
			delete(s.txs, id)
		}
		return nil
	})
	return nil
}
