/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Stacks:       StackDTO, StackRequest, StackDetailDTO, StockDTO
  Locations:    LocationDTO, LocationRequest, LocationSummaryDTO
  Transactions: TransactionDTO, TransactionRequest, SubmissionDTO
  Reports:      ReportDTO

VALIDATION:
  Request types carry validator/v10 tags for shape (required fields, enum
  values, date format). Business rules (positive amounts, stock
  sufficiency, weights) stay in the ledger package so every caller gets
  them.

DECIMALS:
  Amounts and prices are shopspring decimals. They decode from JSON numbers
  or strings and encode as strings, so no precision is lost in transit.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain types
*/
package api

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/hay-ledger/ledger"
	"github.com/warp/hay-ledger/units"
)

// dateLayout is the calendar-day form accepted for transaction dates.
const dateLayout = "2006-01-02"

// noLocation is what the web form sends for "no location".
const noLocation = "none"

// =============================================================================
// STACKS
// =============================================================================

type StackDTO struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Commodity     string           `json:"commodity"`
	BaleSize      string           `json:"bale_size"`
	Quality       string           `json:"quality,omitempty"`
	WeightPerBale *decimal.Decimal `json:"weight_per_bale,omitempty"`
	Weight        decimal.Decimal  `json:"weight"` // resolved pounds per bale
	BasePrice     *decimal.Decimal `json:"base_price,omitempty"`
	PriceUnit     string           `json:"price_unit,omitempty"`
	CreatedBy     string           `json:"created_by"`
	CreatedAt     string           `json:"created_at"`
	UpdatedAt     string           `json:"updated_at"`
}

type StackRequest struct {
	Name          string           `json:"name" validate:"required,max=120"`
	Commodity     string           `json:"commodity" validate:"max=60"`
	BaleSize      string           `json:"bale_size" validate:"max=60"`
	Quality       string           `json:"quality" validate:"max=60"`
	WeightPerBale *decimal.Decimal `json:"weight_per_bale"`
	BasePrice     *decimal.Decimal `json:"base_price"`
	PriceUnit     string           `json:"price_unit" validate:"omitempty,oneof=bale ton"`
}

func (r StackRequest) toInput() ledger.StackInput {
	return ledger.StackInput{
		Name:          strings.TrimSpace(r.Name),
		Commodity:     r.Commodity,
		BaleSize:      r.BaleSize,
		Quality:       r.Quality,
		WeightPerBale: r.WeightPerBale,
		BasePrice:     r.BasePrice,
		PriceUnit:     units.PriceUnit(r.PriceUnit),
	}
}

// StackDetailDTO is a stack with its stock spread over locations.
type StackDetailDTO struct {
	StackDTO
	TotalBales  decimal.Decimal        `json:"total_bales"`
	TotalTons   decimal.Decimal        `json:"total_tons"`
	PricePerTon *decimal.Decimal       `json:"price_per_ton,omitempty"`
	Locations   []ledger.LocationStock `json:"locations"`
	Recent      []TransactionDTO       `json:"recent_transactions"`
}

type StockDTO struct {
	StackID    string          `json:"stack_id"`
	LocationID string          `json:"location_id,omitempty"`
	Bales      decimal.Decimal `json:"bales"`
	Tons       decimal.Decimal `json:"tons"`
}

// =============================================================================
// LOCATIONS
// =============================================================================

type LocationDTO struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Capacity     decimal.Decimal `json:"capacity"`
	CapacityUnit string          `json:"capacity_unit"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
}

type LocationRequest struct {
	Name         string          `json:"name" validate:"required,max=120"`
	Capacity     decimal.Decimal `json:"capacity"`
	CapacityUnit string          `json:"capacity_unit" validate:"required,oneof=bales tons loads"`
}

func (r LocationRequest) toInput() ledger.LocationInput {
	return ledger.LocationInput{
		Name:         strings.TrimSpace(r.Name),
		Capacity:     r.Capacity,
		CapacityUnit: units.CapacityUnit(r.CapacityUnit),
	}
}

type LocationSummaryDTO struct {
	LocationDTO
	Bales          decimal.Decimal     `json:"bales"`
	Tons           decimal.Decimal     `json:"tons"`
	InCapacityUnit *decimal.Decimal    `json:"in_capacity_unit,omitempty"`
	Utilization    *decimal.Decimal    `json:"utilization,omitempty"`
	Stacks         []ledger.StackStock `json:"stacks"`
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// TransactionDTO is a ledger row. Amount is always bales and price is always
// dollars per ton.
type TransactionDTO struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	StackID    string          `json:"stack_id"`
	LocationID string          `json:"location_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Unit       string          `json:"unit"`
	Entity     string          `json:"entity,omitempty"`
	Price      decimal.Decimal `json:"price"`
	TransferID string          `json:"transfer_id,omitempty"`
	Date       string          `json:"date"`
	CreatedBy  string          `json:"created_by"`
	CreatedAt  string          `json:"created_at"`
}

// TransactionRequest is a submission as typed by the user: amount and price
// may be in either unit.
type TransactionRequest struct {
	Type         string           `json:"type" validate:"required,oneof=production purchase sale move adjustment"`
	StackID      string           `json:"stack_id" validate:"required"`
	LocationID   string           `json:"location_id"`
	ToLocationID string           `json:"to_location_id"`
	Amount       decimal.Decimal  `json:"amount"`
	Unit         string           `json:"unit" validate:"omitempty,oneof=bales tons"`
	Entity       string           `json:"entity" validate:"max=200"`
	Price        *decimal.Decimal `json:"price"`
	PriceUnit    string           `json:"price_unit" validate:"omitempty,oneof=bale ton"`
	Date         string           `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

func (r TransactionRequest) toInput() ledger.TransactionInput {
	in := ledger.TransactionInput{
		Type:         ledger.TransactionType(r.Type),
		StackID:      r.StackID,
		LocationID:   optionalLocation(r.LocationID),
		ToLocationID: optionalLocation(r.ToLocationID),
		Amount:       r.Amount,
		Unit:         units.QuantityUnit(r.Unit),
		Entity:       strings.TrimSpace(r.Entity),
		Price:        r.Price,
		PriceUnit:    units.PriceUnit(r.PriceUnit),
	}
	if r.Date != "" {
		// Already checked by the datetime tag.
		in.Date, _ = time.Parse(dateLayout, r.Date)
	}
	return in
}

func optionalLocation(id string) string {
	if id == noLocation {
		return ""
	}
	return id
}

// SubmissionDTO is the response to an accepted submission. Counterpart is the
// destination leg of a relocation.
type SubmissionDTO struct {
	Transaction TransactionDTO  `json:"transaction"`
	Counterpart *TransactionDTO `json:"counterpart,omitempty"`
}

// =============================================================================
// REPORTS
// =============================================================================

type ReportDTO struct {
	Production         ledger.FlowTotals       `json:"production"`
	Sales              ledger.FlowTotals       `json:"sales"`
	Purchases          ledger.FlowTotals       `json:"purchases"`
	TotalStock         decimal.Decimal         `json:"total_stock"`
	StockByCommodity   []ledger.CommodityStock `json:"stock_by_commodity"`
	RecentTransactions []TransactionDTO        `json:"recent_transactions"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`

	// Set for insufficient stock, in bales.
	Available *decimal.Decimal `json:"available,omitempty"`
	Requested *decimal.Decimal `json:"requested,omitempty"`
}

// FieldError names one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func toStackDTO(s ledger.Stack) StackDTO {
	return StackDTO{
		ID:            s.ID,
		Name:          s.Name,
		Commodity:     s.Commodity,
		BaleSize:      s.BaleSize,
		Quality:       s.Quality,
		WeightPerBale: s.WeightPerBale,
		Weight:        s.Weight(),
		BasePrice:     s.BasePrice,
		PriceUnit:     string(s.PriceUnit),
		CreatedBy:     s.UserID,
		CreatedAt:     formatTime(s.CreatedAt),
		UpdatedAt:     formatTime(s.UpdatedAt),
	}
}

func toStackDTOs(stacks []ledger.Stack) []StackDTO {
	dtos := make([]StackDTO, len(stacks))
	for i, s := range stacks {
		dtos[i] = toStackDTO(s)
	}
	return dtos
}

func toLocationDTO(l ledger.Location) LocationDTO {
	return LocationDTO{
		ID:           l.ID,
		Name:         l.Name,
		Capacity:     l.Capacity,
		CapacityUnit: string(l.CapacityUnit),
		CreatedBy:    l.UserID,
		CreatedAt:    formatTime(l.CreatedAt),
		UpdatedAt:    formatTime(l.UpdatedAt),
	}
}

func toLocationSummaryDTOs(sums []ledger.LocationSummary) []LocationSummaryDTO {
	dtos := make([]LocationSummaryDTO, len(sums))
	for i, s := range sums {
		dtos[i] = LocationSummaryDTO{
			LocationDTO:    toLocationDTO(s.Location),
			Bales:          s.Bales,
			Tons:           s.Tons,
			InCapacityUnit: s.InCapacityUnit,
			Utilization:    s.Utilization,
			Stacks:         s.Stacks,
		}
	}
	return dtos
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:         tx.ID,
		Type:       string(tx.Type),
		StackID:    tx.StackID,
		LocationID: tx.LocationID,
		Amount:     tx.Amount,
		Unit:       string(tx.Unit),
		Entity:     tx.Entity,
		Price:      tx.Price,
		TransferID: tx.TransferID,
		Date:       formatTime(tx.Date),
		CreatedBy:  tx.UserID,
		CreatedAt:  formatTime(tx.CreatedAt),
	}
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toSubmissionDTO(s ledger.Submission) SubmissionDTO {
	dto := SubmissionDTO{Transaction: toTransactionDTO(s.Record)}
	if s.Counterpart != nil {
		leg := toTransactionDTO(*s.Counterpart)
		dto.Counterpart = &leg
	}
	return dto
}

func toStackDetailDTO(d ledger.StackDetail) StackDetailDTO {
	return StackDetailDTO{
		StackDTO:    toStackDTO(d.Stack),
		TotalBales:  d.TotalBales,
		TotalTons:   d.TotalTons,
		PricePerTon: d.PricePerTon,
		Locations:   d.Locations,
		Recent:      toTransactionDTOs(d.Recent),
	}
}

func toReportDTO(r ledger.Report) ReportDTO {
	return ReportDTO{
		Production:         r.Production,
		Sales:              r.Sales,
		Purchases:          r.Purchases,
		TotalStock:         r.TotalStock,
		StockByCommodity:   r.StockByCommodity,
		RecentTransactions: toTransactionDTOs(r.RecentTransactions),
	}
}
