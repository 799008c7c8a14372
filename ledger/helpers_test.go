package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/hay-ledger/ledger"
	"github.com/warp/hay-ledger/ledger/store"
	"github.com/warp/hay-ledger/store/sqlite"
	"github.com/warp/hay-ledger/units"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	tenantA = ledger.Tenant{UserID: "user-a", OrgID: "org-a"}
	tenantB = ledger.Tenant{UserID: "user-b", OrgID: "org-b"}
)

type storeCase struct {
	name string
	open func(t *testing.T) ledger.Store
}

func storeCases() []storeCase {
	return []storeCase{
		{"memory", func(t *testing.T) ledger.Store {
			return store.NewMemory()
		}},
		{"sqlite", func(t *testing.T) ledger.Store {
			s, err := sqlite.New(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}},
	}
}

// eachStore runs fn once per store implementation.
func eachStore(t *testing.T, fn func(t *testing.T, svc *ledger.Service)) {
	for _, sc := range storeCases() {
		t.Run(sc.name, func(t *testing.T) {
			fn(t, ledger.NewService(sc.open(t), ledger.WithClock(steppingClock())))
		})
	}
}

// steppingClock advances one second per call so creation order is visible
// in timestamps.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

func defineStack(t *testing.T, svc *ledger.Service, tenant ledger.Tenant, in ledger.StackInput) ledger.Stack {
	t.Helper()
	s, err := svc.DefineStack(context.Background(), tenant, in)
	require.NoError(t, err)
	return s
}

func defineLocation(t *testing.T, svc *ledger.Service, tenant ledger.Tenant, name string) ledger.Location {
	t.Helper()
	l, err := svc.DefineLocation(context.Background(), tenant, ledger.LocationInput{
		Name:         name,
		Capacity:     d("500"),
		CapacityUnit: units.CapacityBales,
	})
	require.NoError(t, err)
	return l
}

func submit(t *testing.T, svc *ledger.Service, tenant ledger.Tenant, in ledger.TransactionInput) ledger.Submission {
	t.Helper()
	sub, err := svc.SubmitTransaction(context.Background(), tenant, in)
	require.NoError(t, err)
	return sub
}

func stockAt(t *testing.T, svc *ledger.Service, tenant ledger.Tenant, stackID, locationID string) decimal.Decimal {
	t.Helper()
	v, err := svc.GetCurrentStock(context.Background(), tenant, stackID, locationID)
	require.NoError(t, err)
	return v
}

func bales(stackID, locationID string, typ ledger.TransactionType, amount string) ledger.TransactionInput {
	return ledger.TransactionInput{
		Type:       typ,
		StackID:    stackID,
		LocationID: locationID,
		Amount:     d(amount),
		Unit:       units.Bales,
	}
}

// yard is a tenant with one 3x4 alfalfa stack (1200 lb bales) and two barns.
type yard struct {
	stack  ledger.Stack
	north  ledger.Location
	south  ledger.Location
	tenant ledger.Tenant
}

func newYard(t *testing.T, svc *ledger.Service, tenant ledger.Tenant) yard {
	t.Helper()
	return yard{
		stack: defineStack(t, svc, tenant, ledger.StackInput{
			Name:      "Lot 7",
			Commodity: "Alfalfa",
			BaleSize:  "3x4",
			Quality:   "Premium",
		}),
		north:  defineLocation(t, svc, tenant, "North Barn"),
		south:  defineLocation(t, svc, tenant, "South Barn"),
		tenant: tenant,
	}
}
