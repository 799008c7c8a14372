package ledger

import "context"

// InventoryCache holds computed inventory listings per organization.
//
// Entries are versioned: Load reports the version current at read time and
// Fill writes under that version only. Invalidate bumps the version after a
// committed write, so a fill computed from pre-commit rows lands on a key
// nobody reads again.
//
// The cache serves ListInventory only. The Writer never consults it.
type InventoryCache interface {
	Load(ctx context.Context, orgID string) (rows []InventoryRow, version int64, hit bool, err error)
	Fill(ctx context.Context, orgID string, version int64, rows []InventoryRow) error
	Invalidate(ctx context.Context, orgID string) error
}

type noCache struct{}

func (noCache) Load(context.Context, string) ([]InventoryRow, int64, bool, error) {
	return nil, 0, false, nil
}
func (noCache) Fill(context.Context, string, int64, []InventoryRow) error { return nil }
func (noCache) Invalidate(context.Context, string) error                  { return nil }
