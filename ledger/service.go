/*
service.go - Operations exposed to the presentation layer

PURPOSE:
  Service is the only type the API talks to. It wires the Writer, the
  read-side aggregation and the optional inventory cache, and logs every
  accepted or rejected write.

OPERATIONS:
  Ledger:     SubmitTransaction, UpdateTransaction, DeleteTransaction,
              GetTransaction, ListTransactions
  Stock:      GetCurrentStock, ListInventory
  Stacks:     DefineStack, UpdateStack, GetStack, ListStacks, DeleteStack
  Locations:  DefineLocation, UpdateLocation, GetLocation, ListLocations,
              DeleteLocation
  Reporting:  StackDetail, LocationSummaries, Report (report.go)

REFERENTIAL INTEGRITY:
  Stacks and locations with ledger history cannot be deleted. The check and
  the delete run in one scope, and the store locks the referenced row so a
  concurrent submission cannot slip in between.
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/hay-ledger/units"
)

// InventoryRow is one line of the current-inventory listing.
type InventoryRow struct {
	StackID      string          `json:"stack_id"`
	StackName    string          `json:"stack_name"`
	Commodity    string          `json:"commodity"`
	LocationID   string          `json:"location_id"`
	LocationName string          `json:"location_name"`
	Bales        decimal.Decimal `json:"bales"`
	Tons         decimal.Decimal `json:"tons"`
}

// UnknownStackName is shown for rows whose stack no longer resolves.
const UnknownStackName = "Unknown Stack"

type Service struct {
	store  Store
	writer *Writer
	cache  InventoryCache
	log    zerolog.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithCache(c InventoryCache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock overrides the time source for writes.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.writer.now = now
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		writer: NewWriter(store),
		cache:  noCache{},
		log:    zerolog.Nop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// LEDGER
// =============================================================================

// SubmitTransaction validates and records a transaction. A rejection leaves
// no trace in the ledger.
func (s *Service) SubmitTransaction(ctx context.Context, tenant Tenant, in TransactionInput) (Submission, error) {
	sub, err := s.writer.Submit(ctx, tenant, in)
	if err != nil {
		s.logRejection(err, tenant, in, "transaction rejected")
		return Submission{}, err
	}

	s.log.Info().
		Str("org_id", tenant.OrgID).
		Str("tx_id", sub.Record.ID).
		Str("type", string(sub.Record.Type)).
		Str("stack_id", sub.Record.StackID).
		Str("location_id", sub.Record.LocationID).
		Str("amount_bales", sub.Record.Amount.String()).
		Str("price_per_ton", sub.Record.Price.String()).
		Msg("transaction accepted")
	s.invalidate(ctx, tenant.OrgID)
	return sub, nil
}

func (s *Service) UpdateTransaction(ctx context.Context, tenant Tenant, id string, in TransactionInput) (Transaction, error) {
	t, err := s.writer.Update(ctx, tenant, id, in)
	if err != nil {
		s.logRejection(err, tenant, in, "transaction update rejected")
		return Transaction{}, err
	}
	s.log.Info().Str("org_id", tenant.OrgID).Str("tx_id", id).Msg("transaction updated")
	s.invalidate(ctx, tenant.OrgID)
	return t, nil
}

func (s *Service) DeleteTransaction(ctx context.Context, tenant Tenant, id string) error {
	removed, err := s.writer.Delete(ctx, tenant, id)
	if err != nil {
		return err
	}
	s.log.Info().Str("org_id", tenant.OrgID).Str("tx_id", id).Int("rows", len(removed)).Msg("transaction deleted")
	s.invalidate(ctx, tenant.OrgID)
	return nil
}

func (s *Service) GetTransaction(ctx context.Context, tenant Tenant, id string) (Transaction, error) {
	if err := tenant.Validate(); err != nil {
		return Transaction{}, err
	}
	return s.store.GetTransaction(ctx, tenant.OrgID, id)
}

// ListTransactions returns raw ledger rows, newest first. Zero-sum rows are
// not filtered.
func (s *Service) ListTransactions(ctx context.Context, tenant Tenant, filter TransactionFilter) ([]Transaction, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	filter.OrgID = tenant.OrgID
	return s.store.ListTransactions(ctx, filter)
}

// =============================================================================
// STOCK
// =============================================================================

// GetCurrentStock returns stock in bales for a stack, or for one
// (stack, location) pair when locationID is non-empty.
func (s *Service) GetCurrentStock(ctx context.Context, tenant Tenant, stackID, locationID string) (decimal.Decimal, error) {
	if err := tenant.Validate(); err != nil {
		return decimal.Zero, err
	}
	if _, err := s.store.GetStack(ctx, tenant.OrgID, stackID); err != nil {
		return decimal.Zero, err
	}
	if locationID != "" {
		if _, err := s.store.GetLocation(ctx, tenant.OrgID, locationID); err != nil {
			return decimal.Zero, err
		}
	}

	rows, err := s.store.ListTransactions(ctx, TransactionFilter{
		OrgID:      tenant.OrgID,
		StackID:    stackID,
		LocationID: locationID,
	})
	if err != nil {
		return decimal.Zero, err
	}
	snap := Aggregate(rows)
	if locationID == "" {
		return snap.Stack(stackID), nil
	}
	return snap.At(StockKey{StackID: stackID, LocationID: locationID}), nil
}

// ListInventory returns every non-zero (stack, location) balance of the tenant.
func (s *Service) ListInventory(ctx context.Context, tenant Tenant) ([]InventoryRow, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}

	cached, version, hit, cacheErr := s.cache.Load(ctx, tenant.OrgID)
	if cacheErr != nil {
		s.log.Warn().Err(cacheErr).Str("org_id", tenant.OrgID).Msg("inventory cache load failed")
	} else if hit {
		return cached, nil
	}

	v, err := s.loadView(ctx, tenant.OrgID)
	if err != nil {
		return nil, err
	}

	rows := make([]InventoryRow, 0)
	for _, p := range v.snap.Positions() {
		stack, ok := v.stacks[p.Key.StackID]
		row := InventoryRow{
			StackID:    p.Key.StackID,
			StackName:  UnknownStackName,
			LocationID: p.Key.LocationID,
			Bales:      p.Bales,
		}
		if ok {
			row.StackName = stack.Name
			row.Commodity = stack.Commodity
		}
		row.Tons = stack.Tons(p.Bales)
		if loc, ok := v.locations[p.Key.LocationID]; ok {
			row.LocationName = loc.Name
		}
		rows = append(rows, row)
	}

	if cacheErr == nil {
		if ferr := s.cache.Fill(ctx, tenant.OrgID, version, rows); ferr != nil {
			s.log.Warn().Err(ferr).Str("org_id", tenant.OrgID).Msg("inventory cache fill failed")
		}
	}
	return rows, nil
}

// =============================================================================
// STACKS
// =============================================================================

func (s *Service) DefineStack(ctx context.Context, tenant Tenant, in StackInput) (Stack, error) {
	if err := tenant.Validate(); err != nil {
		return Stack{}, err
	}
	if in.PriceUnit == "" {
		in.PriceUnit = units.PerBale
	}
	if err := checkStackInput(in); err != nil {
		return Stack{}, err
	}

	now := s.now()
	stack := Stack{
		ID:        uuid.NewString(),
		OrgID:     tenant.OrgID,
		UserID:    tenant.UserID,
		CreatedAt: now,
	}
	applyStackInput(&stack, in, now)

	err := s.store.WithTx(ctx, func(tx Tx) error {
		return tx.SaveStack(ctx, stack)
	})
	if err != nil {
		return Stack{}, err
	}
	s.log.Info().Str("org_id", tenant.OrgID).Str("stack_id", stack.ID).Str("name", stack.Name).Msg("stack defined")
	return stack, nil
}

func (s *Service) UpdateStack(ctx context.Context, tenant Tenant, id string, in StackInput) (Stack, error) {
	if err := tenant.Validate(); err != nil {
		return Stack{}, err
	}
	if in.PriceUnit == "" {
		in.PriceUnit = units.PerBale
	}
	if err := checkStackInput(in); err != nil {
		return Stack{}, err
	}

	var stack Stack
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		stack, err = tx.GetStack(ctx, tenant.OrgID, id)
		if err != nil {
			return err
		}
		applyStackInput(&stack, in, s.now())
		return tx.SaveStack(ctx, stack)
	})
	if err != nil {
		return Stack{}, err
	}
	s.invalidate(ctx, tenant.OrgID)
	return stack, nil
}

func (s *Service) GetStack(ctx context.Context, tenant Tenant, id string) (Stack, error) {
	if err := tenant.Validate(); err != nil {
		return Stack{}, err
	}
	return s.store.GetStack(ctx, tenant.OrgID, id)
}

func (s *Service) ListStacks(ctx context.Context, tenant Tenant) ([]Stack, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	return s.store.ListStacks(ctx, tenant.OrgID)
}

// DeleteStack is rejected while any transaction references the stack.
func (s *Service) DeleteStack(ctx context.Context, tenant Tenant, id string) error {
	if err := tenant.Validate(); err != nil {
		return err
	}
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.GetStack(ctx, tenant.OrgID, id); err != nil {
			return err
		}
		n, err := tx.CountReferences(ctx, tenant.OrgID, RefStack, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return &ReferentialConflictError{Kind: RefStack, ID: id, References: n}
		}
		return tx.DeleteStack(ctx, tenant.OrgID, id)
	})
	if err != nil {
		s.log.Warn().Err(err).Str("org_id", tenant.OrgID).Str("stack_id", id).Msg("stack delete rejected")
		return err
	}
	s.log.Info().Str("org_id", tenant.OrgID).Str("stack_id", id).Msg("stack deleted")
	return nil
}

func applyStackInput(s *Stack, in StackInput, now time.Time) {
	s.Name = in.Name
	s.Commodity = in.Commodity
	s.BaleSize = in.BaleSize
	s.Quality = in.Quality
	s.WeightPerBale = in.WeightPerBale
	s.BasePrice = in.BasePrice
	s.PriceUnit = in.PriceUnit
	s.UpdatedAt = now
}

// =============================================================================
// LOCATIONS
// =============================================================================

func (s *Service) DefineLocation(ctx context.Context, tenant Tenant, in LocationInput) (Location, error) {
	if err := tenant.Validate(); err != nil {
		return Location{}, err
	}
	if in.CapacityUnit == "" {
		in.CapacityUnit = units.CapacityBales
	}
	if err := checkLocationInput(in); err != nil {
		return Location{}, err
	}

	now := s.now()
	loc := Location{
		ID:           uuid.NewString(),
		OrgID:        tenant.OrgID,
		UserID:       tenant.UserID,
		Name:         in.Name,
		Capacity:     in.Capacity,
		CapacityUnit: in.CapacityUnit,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := s.store.WithTx(ctx, func(tx Tx) error {
		return tx.SaveLocation(ctx, loc)
	})
	if err != nil {
		return Location{}, err
	}
	s.log.Info().Str("org_id", tenant.OrgID).Str("location_id", loc.ID).Str("name", loc.Name).Msg("location defined")
	return loc, nil
}

func (s *Service) UpdateLocation(ctx context.Context, tenant Tenant, id string, in LocationInput) (Location, error) {
	if err := tenant.Validate(); err != nil {
		return Location{}, err
	}
	if in.CapacityUnit == "" {
		in.CapacityUnit = units.CapacityBales
	}
	if err := checkLocationInput(in); err != nil {
		return Location{}, err
	}

	var loc Location
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		loc, err = tx.GetLocation(ctx, tenant.OrgID, id)
		if err != nil {
			return err
		}
		loc.Name = in.Name
		loc.Capacity = in.Capacity
		loc.CapacityUnit = in.CapacityUnit
		loc.UpdatedAt = s.now()
		return tx.SaveLocation(ctx, loc)
	})
	if err != nil {
		return Location{}, err
	}
	s.invalidate(ctx, tenant.OrgID)
	return loc, nil
}

func (s *Service) GetLocation(ctx context.Context, tenant Tenant, id string) (Location, error) {
	if err := tenant.Validate(); err != nil {
		return Location{}, err
	}
	return s.store.GetLocation(ctx, tenant.OrgID, id)
}

func (s *Service) ListLocations(ctx context.Context, tenant Tenant) ([]Location, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	return s.store.ListLocations(ctx, tenant.OrgID)
}

// DeleteLocation is rejected while any transaction references the location.
func (s *Service) DeleteLocation(ctx context.Context, tenant Tenant, id string) error {
	if err := tenant.Validate(); err != nil {
		return err
	}
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.GetLocation(ctx, tenant.OrgID, id); err != nil {
			return err
		}
		n, err := tx.CountReferences(ctx, tenant.OrgID, RefLocation, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return &ReferentialConflictError{Kind: RefLocation, ID: id, References: n}
		}
		return tx.DeleteLocation(ctx, tenant.OrgID, id)
	})
	if err != nil {
		s.log.Warn().Err(err).Str("org_id", tenant.OrgID).Str("location_id", id).Msg("location delete rejected")
		return err
	}
	s.log.Info().Str("org_id", tenant.OrgID).Str("location_id", id).Msg("location deleted")
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) invalidate(ctx context.Context, orgID string) {
	if err := s.cache.Invalidate(ctx, orgID); err != nil {
		s.log.Error().Err(err).Str("org_id", orgID).Msg("inventory cache invalidation failed")
	}
}

func (s *Service) logRejection(err error, tenant Tenant, in TransactionInput, msg string) {
	event := s.log.Error()
	if IsClientError(err) || IsNotFound(err) {
		event = s.log.Warn()
	}
	event.Err(err).
		Str("org_id", tenant.OrgID).
		Str("type", string(in.Type)).
		Str("stack_id", in.StackID).
		Str("location_id", in.LocationID).
		Str("amount", in.Amount.String()).
		Msg(msg)
}

// view is everything the read side needs for one tenant.
type view struct {
	snap      Snapshot
	txs       []Transaction
	stacks    map[string]Stack
	locations map[string]Location
}

func (s *Service) loadView(ctx context.Context, orgID string) (view, error) {
	txs, err := s.store.ListTransactions(ctx, TransactionFilter{OrgID: orgID})
	if err != nil {
		return view{}, err
	}
	stacks, err := s.store.ListStacks(ctx, orgID)
	if err != nil {
		return view{}, err
	}
	locations, err := s.store.ListLocations(ctx, orgID)
	if err != nil {
		return view{}, err
	}

	v := view{
		snap:      Aggregate(txs),
		txs:       txs,
		stacks:    make(map[string]Stack, len(stacks)),
		locations: make(map[string]Location, len(locations)),
	}
	for _, st := range stacks {
		v.stacks[st.ID] = st
	}
	for _, l := range locations {
		v.locations[l.ID] = l
	}
	return v, nil
}
