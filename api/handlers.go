/*
handlers.go - HTTP API handlers for the hay inventory ledger

PURPOSE:
  Exposes the ledger service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the ledger package.

ENDPOINTS:
  Stacks:
    GET    /api/stacks                    List stacks
    POST   /api/stacks                    Define a stack
    GET    /api/stacks/{id}               Stack detail with stock by location
    PUT    /api/stacks/{id}               Edit a stack
    DELETE /api/stacks/{id}               Delete a stack without history
    GET    /api/stacks/{id}/stock         Current stock (?location_id= narrows)

  Locations:
    GET    /api/locations                 Locations with utilization
    POST   /api/locations                 Define a location
    GET    /api/locations/{id}            Get a location
    PUT    /api/locations/{id}            Edit a location
    DELETE /api/locations/{id}            Delete a location without history

  Ledger:
    GET    /api/inventory                 Non-zero (stack, location) balances
    GET    /api/transactions              Ledger rows, newest first
    POST   /api/transactions              Submit a transaction
    GET    /api/transactions/{id}         Get a ledger row
    PUT    /api/transactions/{id}         Edit a ledger row
    DELETE /api/transactions/{id}         Delete a ledger row (both legs of a move)
    GET    /api/reports                   Flow totals and stock by commodity

REQUEST FLOW:
  1. Identity middleware puts the tenant on the context
  2. Parse and validate the request body
  3. Call the ledger service
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  - 400: Structural validation errors
  - 401: Missing identity headers
  - 404: Stack, location or transaction not found
  - 409: Insufficient stock, or deleting a referenced stack/location
  - 500: Store faults and anything unexpected

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/warp/hay-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *ledger.Service

	log      zerolog.Logger
	validate *validator.Validate
}

// NewHandler creates a new handler for the given service.
func NewHandler(svc *ledger.Service, logger zerolog.Logger) *Handler {
	v := validator.New()
	// Report JSON field names instead of Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{Service: svc, log: logger, validate: v}
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// STACK HANDLERS
// =============================================================================

func (h *Handler) ListStacks(w http.ResponseWriter, r *http.Request) {
	stacks, err := h.Service.ListStacks(r.Context(), tenantFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStackDTOs(stacks))
}

func (h *Handler) CreateStack(w http.ResponseWriter, r *http.Request) {
	var req StackRequest
	if !h.decode(w, r, &req) {
		return
	}
	stack, err := h.Service.DefineStack(r.Context(), tenantFrom(r), req.toInput())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStackDTO(stack))
}

// GetStack returns the stack with its stock by location and recent history.
func (h *Handler) GetStack(w http.ResponseWriter, r *http.Request) {
	detail, err := h.Service.StackDetail(r.Context(), tenantFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStackDetailDTO(detail))
}

func (h *Handler) UpdateStack(w http.ResponseWriter, r *http.Request) {
	var req StackRequest
	if !h.decode(w, r, &req) {
		return
	}
	stack, err := h.Service.UpdateStack(r.Context(), tenantFrom(r), chi.URLParam(r, "id"), req.toInput())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStackDTO(stack))
}

func (h *Handler) DeleteStack(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteStack(r.Context(), tenantFrom(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetStock returns current stock of a stack, at one location when
// location_id is given.
func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant := tenantFrom(r)
	stackID := chi.URLParam(r, "id")
	locationID := r.URL.Query().Get("location_id")

	bales, err := h.Service.GetCurrentStock(ctx, tenant, stackID, locationID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	stack, err := h.Service.GetStack(ctx, tenant, stackID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, StockDTO{
		StackID:    stackID,
		LocationID: locationID,
		Bales:      bales,
		Tons:       stack.Tons(bales),
	})
}

// =============================================================================
// LOCATION HANDLERS
// =============================================================================

// ListLocations returns every location with its current fill.
func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	sums, err := h.Service.LocationSummaries(r.Context(), tenantFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLocationSummaryDTOs(sums))
}

func (h *Handler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	var req LocationRequest
	if !h.decode(w, r, &req) {
		return
	}
	loc, err := h.Service.DefineLocation(r.Context(), tenantFrom(r), req.toInput())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLocationDTO(loc))
}

func (h *Handler) GetLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := h.Service.GetLocation(r.Context(), tenantFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLocationDTO(loc))
}

func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var req LocationRequest
	if !h.decode(w, r, &req) {
		return
	}
	loc, err := h.Service.UpdateLocation(r.Context(), tenantFrom(r), chi.URLParam(r, "id"), req.toInput())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLocationDTO(loc))
}

func (h *Handler) DeleteLocation(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteLocation(r.Context(), tenantFrom(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

func (h *Handler) ListInventory(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Service.ListInventory(r.Context(), tenantFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// ListTransactions supports ?stack_id=&location_id=&type=&limit=.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.TransactionFilter{
		StackID:    q.Get("stack_id"),
		LocationID: q.Get("location_id"),
		Type:       ledger.TransactionType(q.Get("type")),
	}
	if filter.Type != "" && !filter.Type.Submittable() && filter.Type != ledger.TxMoveIn {
		writeError(w, http.StatusBadRequest, "Invalid type filter", "invalid_input", nil)
		return
	}
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", "invalid_input", nil)
			return
		}
		filter.Limit = limit
	}

	txs, err := h.Service.ListTransactions(r.Context(), tenantFrom(r), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// SubmitTransaction validates and appends one transaction (two rows for a
// relocation).
func (h *Handler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	sub, err := h.Service.SubmitTransaction(r.Context(), tenantFrom(r), req.toInput())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubmissionDTO(sub))
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Service.GetTransaction(r.Context(), tenantFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	tx, err := h.Service.UpdateTransaction(r.Context(), tenantFrom(r), chi.URLParam(r, "id"), req.toInput())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteTransaction(r.Context(), tenantFrom(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.Service.Report(r.Context(), tenantFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body. On failure it writes the 400 and
// returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "invalid_input", err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]FieldError, len(verrs))
			for i, fe := range verrs {
				fields[i] = FieldError{Field: fe.Field(), Message: describe(fe)}
			}
			writeError(w, http.StatusBadRequest, "Invalid request", "invalid_input", fields)
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request", "invalid_input", err.Error())
		return false
	}
	return true
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "datetime":
		return "must be a date in YYYY-MM-DD form"
	default:
		return "failed " + fe.Tag()
	}
}

// fail maps a ledger error to a status and body.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr  *ledger.ValidationError
		stock *ledger.InsufficientStockError
		ref   *ledger.ReferentialConflictError
	)
	switch {
	case errors.Is(err, ledger.ErrMissingTenant):
		writeError(w, http.StatusUnauthorized, err.Error(), "unauthenticated", nil)
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_input",
			[]FieldError{{Field: verr.Field, Message: verr.Message}})
	case errors.Is(err, ledger.ErrStructuralInvalid):
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_input", nil)
	case errors.As(err, &stock):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:     err.Error(),
			Code:      "insufficient_stock",
			Available: &stock.Available,
			Requested: &stock.Requested,
		})
	case errors.As(err, &ref):
		writeError(w, http.StatusConflict, err.Error(), "referential_conflict",
			map[string]any{"kind": ref.Kind, "references": ref.References})
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), "not_found", nil)
	default:
		h.log.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "Internal error", "store_fault", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, code string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}
