/*
handlers_test.go - HTTP tests for the API handlers

Tests run the full router against an in-memory SQLite store:
- Identity headers are required on /api
- Request validation and error mapping (400/401/404/409)
- Submitting, relocating and deleting transactions
- Stock, inventory and report endpoints
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/hay-ledger/ledger"
	"github.com/warp/hay-ledger/store/sqlite"
)

type testServer struct {
	t      *testing.T
	router http.Handler
	userID string
	orgID  string
}

func newTestServer(t *testing.T) *testServer {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := NewHandler(ledger.NewService(store), zerolog.Nop())
	return &testServer{
		t:      t,
		router: NewRouter(h, []string{"http://localhost:3000"}),
		userID: "user-1",
		orgID:  "org-1",
	}
}

// as returns a copy of the server that sends another tenant's headers.
func (s *testServer) as(userID, orgID string) *testServer {
	c := *s
	c.userID, c.orgID = userID, orgID
	return &c
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if s.userID != "" {
		req.Header.Set(HeaderUserID, s.userID)
	}
	if s.orgID != "" {
		req.Header.Set(HeaderOrgID, s.orgID)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeInto[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(decimal.RequireFromString(want)), "want %s, got %s", want, got)
}

// seedYard defines one alfalfa stack (1200 lb bales) and two barns.
func (s *testServer) seedYard() (stackID, northID, southID string) {
	s.t.Helper()
	rec := s.do("POST", "/api/stacks", map[string]any{"name": "Lot 7", "commodity": "Alfalfa", "bale_size": "3x4"})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	stackID = decodeInto[StackDTO](s.t, rec).ID

	for i, name := range []string{"North Barn", "South Barn"} {
		rec = s.do("POST", "/api/locations", map[string]any{"name": name, "capacity": 500, "capacity_unit": "bales"})
		require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
		id := decodeInto[LocationDTO](s.t, rec).ID
		if i == 0 {
			northID = id
		} else {
			southID = id
		}
	}
	return stackID, northID, southID
}

func (s *testServer) submit(body map[string]any) *httptest.ResponseRecorder {
	s.t.Helper()
	return s.do("POST", "/api/transactions", body)
}

// =============================================================================
// IDENTITY AND HEALTH
// =============================================================================

func TestHealthz_NoIdentityNeeded(t *testing.T) {
	s := newTestServer(t).as("", "")
	rec := s.do("GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIdentity_MissingHeaders(t *testing.T) {
	s := newTestServer(t)

	for _, tc := range []struct {
		name, user, org string
	}{
		{"no headers", "", ""},
		{"no org", "user-1", ""},
		{"no user", "", "org-1"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.as(tc.user, tc.org).do("GET", "/api/stacks", nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "unauthenticated", decodeInto[ErrorResponse](t, rec).Code)
		})
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestCreateStack_ValidationNamesField(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("POST", "/api/stacks", map[string]any{"commodity": "Alfalfa", "price_unit": "pound"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Code    string       `json:"code"`
		Details []FieldError `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid_input", body.Code)

	fields := map[string]bool{}
	for _, f := range body.Details {
		fields[f.Field] = true
	}
	assert.True(t, fields["name"])
	assert.True(t, fields["price_unit"])
}

func TestSubmit_ValidationErrors(t *testing.T) {
	s := newTestServer(t)
	stackID, northID, _ := s.seedYard()

	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"bad date", map[string]any{"type": "production", "stack_id": stackID, "location_id": northID, "amount": 1, "date": "2025/01/01"}, "date"},
		{"move_in not accepted", map[string]any{"type": "move_in", "stack_id": stackID, "location_id": northID, "amount": 1}, "type"},
		{"zero amount", map[string]any{"type": "production", "stack_id": stackID, "location_id": northID, "amount": 0}, "amount"},
		{"sale without location", map[string]any{"type": "sale", "stack_id": stackID, "amount": 1}, "location_id"},
		{"bad unit", map[string]any{"type": "production", "stack_id": stackID, "amount": 1, "unit": "pounds"}, "unit"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.submit(tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			var body struct {
				Details []FieldError `json:"details"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.NotEmpty(t, body.Details)
			assert.Equal(t, tc.field, body.Details[0].Field)
		})
	}
}

func TestSubmit_MalformedBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("POST", "/api/transactions", bytes.NewBufferString("{"))
	req.Header.Set(HeaderUserID, "user-1")
	req.Header.Set(HeaderOrgID, "org-1")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// LEDGER FLOW
// =============================================================================

func TestSubmit_SaleBeyondStockIsConflict(t *testing.T) {
	// GIVEN: 100 bales in the north barn
	s := newTestServer(t)
	stackID, northID, _ := s.seedYard()
	rec := s.submit(map[string]any{"type": "production", "stack_id": stackID, "location_id": northID, "amount": 100})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// WHEN: selling 120
	rec = s.submit(map[string]any{"type": "sale", "stack_id": stackID, "location_id": northID, "amount": 120, "entity": "Hillside Dairy"})

	// THEN: 409 with the quantities
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeInto[ErrorResponse](t, rec)
	assert.Equal(t, "insufficient_stock", body.Code)
	require.NotNil(t, body.Available)
	require.NotNil(t, body.Requested)
	assertDec(t, "100", *body.Available)
	assertDec(t, "120", *body.Requested)

	// AND: a sale within stock is accepted
	rec = s.submit(map[string]any{"type": "sale", "stack_id": stackID, "location_id": northID, "amount": 40, "price": 100, "price_unit": "ton"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sub := decodeInto[SubmissionDTO](t, rec)
	assert.Equal(t, "sale", sub.Transaction.Type)
	assertDec(t, "40", sub.Transaction.Amount)
	assert.Nil(t, sub.Counterpart)

	rec = s.do("GET", "/api/stacks/"+stackID+"/stock?location_id="+northID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stock := decodeInto[StockDTO](t, rec)
	assertDec(t, "60", stock.Bales)
	assertDec(t, "36", stock.Tons)
}

func TestSubmit_TonsAreStoredAsBales(t *testing.T) {
	s := newTestServer(t)
	stackID, northID, _ := s.seedYard()

	rec := s.submit(map[string]any{
		"type": "purchase", "stack_id": stackID, "location_id": northID,
		"amount": "3", "unit": "tons", "price": 10, "price_unit": "bale", "date": "2025-03-14",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	tx := decodeInto[SubmissionDTO](t, rec).Transaction
	// 3 tons of 1200 lb bales, 10 $/bale as $/ton
	assertDec(t, "5", tx.Amount)
	assert.Equal(t, "bales", tx.Unit)
	assert.Equal(t, "16.67", tx.Price.StringFixed(2))
	assert.Equal(t, "2025-03-14T00:00:00Z", tx.Date)
}

func TestSubmit_MoveWritesTwoLegs(t *testing.T) {
	s := newTestServer(t)
	stackID, northID, southID := s.seedYard()
	require.Equal(t, http.StatusCreated, s.submit(map[string]any{"type": "production", "stack_id": stackID, "location_id": northID, "amount": 50}).Code)

	rec := s.submit(map[string]any{"type": "move", "stack_id": stackID, "location_id": northID, "to_location_id": southID, "amount": 20})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sub := decodeInto[SubmissionDTO](t, rec)
	require.NotNil(t, sub.Counterpart)
	assert.Equal(t, "move_in", sub.Counterpart.Type)
	assert.Equal(t, southID, sub.Counterpart.LocationID)
	assert.Equal(t, sub.Transaction.TransferID, sub.Counterpart.TransferID)

	inv := decodeInto[[]ledger.InventoryRow](t, s.do("GET", "/api/inventory", nil))
	byLocation := map[string]decimal.Decimal{}
	for _, row := range inv {
		byLocation[row.LocationName] = row.Bales
	}
	assertDec(t, "30", byLocation["North Barn"])
	assertDec(t, "20", byLocation["South Barn"])

	// Deleting one leg removes both
	rec = s.do("DELETE", "/api/transactions/"+sub.Counterpart.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusNotFound, s.do("GET", "/api/transactions/"+sub.Transaction.ID, nil).Code)

	rows := decodeInto[[]TransactionDTO](t, s.do("GET", "/api/transactions?stack_id="+stackID, nil))
	assert.Len(t, rows, 1)
}

func TestSubmit_NoneLocationMeansUnplaced(t *testing.T) {
	s := newTestServer(t)
	stackID, _, _ := s.seedYard()

	rec := s.submit(map[string]any{"type": "adjustment", "stack_id": stackID, "location_id": "none", "amount": 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Empty(t, decodeInto[SubmissionDTO](t, rec).Transaction.LocationID)

	stock := decodeInto[StockDTO](t, s.do("GET", "/api/stacks/"+stackID+"/stock", nil))
	assertDec(t, "-2", stock.Bales)
}

func TestUpdateAndDeleteTransaction(t *testing.T) {
	s := newTestServer(t)
	stackID, northID, _ := s.seedYard()
	require.Equal(t, http.StatusCreated, s.submit(map[string]any{"type": "production", "stack_id": stackID, "location_id": northID, "amount": 100}).Code)
	sale := decodeInto[SubmissionDTO](t, s.submit(map[string]any{"type": "sale", "stack_id": stackID, "location_id": northID, "amount": 10})).Transaction

	rec := s.do("PUT", "/api/transactions/"+sale.ID, map[string]any{"type": "sale", "stack_id": stackID, "location_id": northID, "amount": 150})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do("PUT", "/api/transactions/"+sale.ID, map[string]any{"type": "sale", "stack_id": stackID, "location_id": northID, "amount": 90})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assertDec(t, "90", decodeInto[TransactionDTO](t, rec).Amount)

	require.Equal(t, http.StatusNoContent, s.do("DELETE", "/api/transactions/"+sale.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do("DELETE", "/api/transactions/"+sale.ID, nil).Code)
}

func TestListTransactions_Filters(t *testing.T) {
	s := newTestServer(t)
	stackID, northID, southID := s.seedYard()
	for _, loc := range []string{northID, northID, southID} {
		require.Equal(t, http.StatusCreated, s.submit(map[string]any{"type": "production", "stack_id": stackID, "location_id": loc, "amount": 1}).Code)
	}

	rows := decodeInto[[]TransactionDTO](t, s.do("GET", "/api/transactions?location_id="+northID, nil))
	assert.Len(t, rows, 2)

	rows = decodeInto[[]TransactionDTO](t, s.do("GET", "/api/transactions?limit=1", nil))
	assert.Len(t, rows, 1)

	rows = decodeInto[[]TransactionDTO](t, s.do("GET", "/api/transactions?type=sale", nil))
	assert.Empty(t, rows)

	assert.Equal(t, http.StatusBadRequest, s.do("GET", "/api/transactions?limit=x", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do("GET", "/api/transactions?type=gift", nil).Code)
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func TestDeleteReferencedLocationIsConflict(t *testing.T) {
	s := newTestServer(t)
	stackID, northID, southID := s.seedYard()
	require.Equal(t, http.StatusCreated, s.submit(map[string]any{"type": "production", "stack_id": stackID, "location_id": northID, "amount": 5}).Code)

	rec := s.do("DELETE", "/api/locations/"+northID, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "referential_conflict", decodeInto[ErrorResponse](t, rec).Code)

	rec = s.do("DELETE", "/api/stacks/"+stackID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// An unused location goes
	assert.Equal(t, http.StatusNoContent, s.do("DELETE", "/api/locations/"+southID, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do("GET", "/api/locations/"+southID, nil).Code)
}

func TestStackDetailAndLocations(t *testing.T) {
	s := newTestServer(t)
	stackID, northID, _ := s.seedYard()
	require.Equal(t, http.StatusCreated, s.submit(map[string]any{"type": "production", "stack_id": stackID, "location_id": northID, "amount": 100}).Code)

	rec := s.do("GET", "/api/stacks/"+stackID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decodeInto[StackDetailDTO](t, rec)
	assert.Equal(t, "Lot 7", detail.Name)
	assertDec(t, "1200", detail.Weight)
	assertDec(t, "100", detail.TotalBales)
	assertDec(t, "60", detail.TotalTons)
	require.Len(t, detail.Locations, 1)
	assert.Equal(t, "North Barn", detail.Locations[0].LocationName)
	assert.Len(t, detail.Recent, 1)

	rec = s.do("GET", "/api/locations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sums := decodeInto[[]LocationSummaryDTO](t, rec)
	require.Len(t, sums, 2)
	assert.Equal(t, "North Barn", sums[0].Name)
	require.NotNil(t, sums[0].Utilization)
	assertDec(t, "20", *sums[0].Utilization) // 100 of 500 bales

	rec = s.do("PUT", "/api/stacks/"+stackID, map[string]any{"name": "Lot 7B", "bale_size": "4x4"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assertDec(t, "1000", decodeInto[StackDTO](t, rec).Weight)
}

func TestTenantIsolation(t *testing.T) {
	s := newTestServer(t)
	stackID, northID, _ := s.seedYard()
	require.Equal(t, http.StatusCreated, s.submit(map[string]any{"type": "production", "stack_id": stackID, "location_id": northID, "amount": 5}).Code)

	other := s.as("user-2", "org-2")
	assert.Equal(t, http.StatusNotFound, other.do("GET", "/api/stacks/"+stackID, nil).Code)
	assert.Empty(t, decodeInto[[]StackDTO](t, other.do("GET", "/api/stacks", nil)))
	assert.Empty(t, decodeInto[[]ledger.InventoryRow](t, other.do("GET", "/api/inventory", nil)))

	rec := other.submit(map[string]any{"type": "production", "stack_id": stackID, "location_id": northID, "amount": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReports(t *testing.T) {
	s := newTestServer(t)
	stackID, northID, _ := s.seedYard()
	require.Equal(t, http.StatusCreated, s.submit(map[string]any{"type": "production", "stack_id": stackID, "location_id": northID, "amount": 100}).Code)
	require.Equal(t, http.StatusCreated, s.submit(map[string]any{"type": "sale", "stack_id": stackID, "location_id": northID, "amount": 50, "price": 200, "price_unit": "ton"}).Code)

	rec := s.do("GET", "/api/reports", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeInto[ReportDTO](t, rec)

	assertDec(t, "100", report.Production.Bales)
	assertDec(t, "50", report.Sales.Bales)
	assertDec(t, "30", report.Sales.Tons)
	assertDec(t, "6000", report.Sales.Value)
	assertDec(t, "50", report.TotalStock)
	assert.Len(t, report.RecentTransactions, 2)
}
