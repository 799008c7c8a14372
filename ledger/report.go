package ledger

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/hay-ledger/units"
)

const (
	stackDetailHistory = 20
	reportRecent       = 5
)

// LocationStock is one stack's balance at one location.
type LocationStock struct {
	LocationID   string          `json:"location_id"`
	LocationName string          `json:"location_name"`
	Bales        decimal.Decimal `json:"bales"`
}

type StackDetail struct {
	Stack       Stack
	Weight      decimal.Decimal
	TotalBales  decimal.Decimal
	TotalTons   decimal.Decimal
	Locations   []LocationStock
	Recent      []Transaction
	PricePerTon *decimal.Decimal
}

// StackDetail returns a stack with its stock broken down by location and its
// most recent transactions.
func (s *Service) StackDetail(ctx context.Context, tenant Tenant, stackID string) (StackDetail, error) {
	if err := tenant.Validate(); err != nil {
		return StackDetail{}, err
	}
	stack, err := s.store.GetStack(ctx, tenant.OrgID, stackID)
	if err != nil {
		return StackDetail{}, err
	}
	txs, err := s.store.ListTransactions(ctx, TransactionFilter{OrgID: tenant.OrgID, StackID: stackID})
	if err != nil {
		return StackDetail{}, err
	}
	locations, err := s.store.ListLocations(ctx, tenant.OrgID)
	if err != nil {
		return StackDetail{}, err
	}
	names := make(map[string]string, len(locations))
	for _, l := range locations {
		names[l.ID] = l.Name
	}

	snap := Aggregate(txs)
	detail := StackDetail{
		Stack:      stack,
		Weight:     stack.Weight(),
		TotalBales: snap.Stack(stackID),
		Locations:  make([]LocationStock, 0),
	}
	detail.TotalTons = stack.Tons(detail.TotalBales)
	if stack.BasePrice != nil {
		perTon, err := units.NormalizePrice(*stack.BasePrice, stack.PriceUnit, detail.Weight)
		if err == nil {
			detail.PricePerTon = &perTon
		}
	}

	for _, p := range snap.Positions() {
		detail.Locations = append(detail.Locations, LocationStock{
			LocationID:   p.Key.LocationID,
			LocationName: names[p.Key.LocationID],
			Bales:        p.Bales,
		})
	}
	sort.Slice(detail.Locations, func(i, j int) bool {
		return detail.Locations[i].LocationName < detail.Locations[j].LocationName
	})

	if len(txs) > stackDetailHistory {
		txs = txs[:stackDetailHistory]
	}
	detail.Recent = txs
	return detail, nil
}

// =============================================================================
// LOCATION UTILIZATION
// =============================================================================

type StackStock struct {
	StackID   string          `json:"stack_id"`
	StackName string          `json:"stack_name"`
	Commodity string          `json:"commodity"`
	Bales     decimal.Decimal `json:"bales"`
}

type LocationSummary struct {
	Location Location
	Bales    decimal.Decimal
	Tons     decimal.Decimal

	// InCapacityUnit is the stock measured like the capacity. Nil for
	// locations measured in loads.
	InCapacityUnit *decimal.Decimal
	Utilization    *decimal.Decimal // percent of capacity
	Stacks         []StackStock
}

// LocationSummaries returns the current fill of every location.
func (s *Service) LocationSummaries(ctx context.Context, tenant Tenant) ([]LocationSummary, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	v, err := s.loadView(ctx, tenant.OrgID)
	if err != nil {
		return nil, err
	}

	byLocation := make(map[string][]Position)
	for _, p := range v.snap.Positions() {
		byLocation[p.Key.LocationID] = append(byLocation[p.Key.LocationID], p)
	}

	hundred := decimal.NewFromInt(100)
	out := make([]LocationSummary, 0, len(v.locations))
	for _, loc := range v.locations {
		sum := LocationSummary{Location: loc, Stacks: make([]StackStock, 0)}
		for _, p := range byLocation[loc.ID] {
			stack := v.stacks[p.Key.StackID]
			tons := stack.Tons(p.Bales)
			sum.Bales = sum.Bales.Add(p.Bales)
			sum.Tons = sum.Tons.Add(tons)

			name := stack.Name
			if name == "" {
				name = UnknownStackName
			}
			sum.Stacks = append(sum.Stacks, StackStock{
				StackID:   p.Key.StackID,
				StackName: name,
				Commodity: stack.Commodity,
				Bales:     p.Bales,
			})
		}

		var measured decimal.Decimal
		switch loc.CapacityUnit {
		case units.CapacityTons:
			measured = sum.Tons
		case units.CapacityLoads:
			out = append(out, sum)
			continue
		default:
			measured = sum.Bales
		}
		sum.InCapacityUnit = &measured
		if loc.Capacity.IsPositive() {
			pct := measured.Mul(hundred).Div(loc.Capacity).Round(1)
			sum.Utilization = &pct
		}
		out = append(out, sum)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Location.Name < out[j].Location.Name })
	return out, nil
}

// =============================================================================
// REPORTS
// =============================================================================

type CommodityStock struct {
	Commodity string          `json:"commodity"`
	Tons      decimal.Decimal `json:"tons"`
}

type FlowTotals struct {
	Bales decimal.Decimal `json:"bales"`
	Tons  decimal.Decimal `json:"tons"`
	Value decimal.Decimal `json:"value"` // dollars
}

type Report struct {
	Production         FlowTotals
	Sales              FlowTotals
	Purchases          FlowTotals
	TotalStock         decimal.Decimal
	StockByCommodity   []CommodityStock
	RecentTransactions []Transaction
}

// Report summarizes the tenant's ledger. Money is tons times the stored
// per-ton price, so every row sums without unit handling beyond the stack
// weight.
func (s *Service) Report(ctx context.Context, tenant Tenant) (Report, error) {
	if err := tenant.Validate(); err != nil {
		return Report{}, err
	}
	v, err := s.loadView(ctx, tenant.OrgID)
	if err != nil {
		return Report{}, err
	}

	var r Report
	for _, tx := range v.txs {
		var flow *FlowTotals
		switch tx.Type {
		case TxProduction:
			flow = &r.Production
		case TxSale:
			flow = &r.Sales
		case TxPurchase:
			flow = &r.Purchases
		default:
			continue
		}
		tons := v.stacks[tx.StackID].Tons(tx.Amount)
		flow.Bales = flow.Bales.Add(tx.Amount)
		flow.Tons = flow.Tons.Add(tons)
		flow.Value = flow.Value.Add(tons.Mul(tx.Price))
	}
	r.Production.Value = decimal.Zero
	r.Sales.Value = r.Sales.Value.Round(2)
	r.Purchases.Value = r.Purchases.Value.Round(2)
	r.TotalStock = v.snap.Total()

	commodities := make(map[string]decimal.Decimal)
	for _, p := range v.snap.Positions() {
		stack := v.stacks[p.Key.StackID]
		tons := stack.Tons(p.Bales)
		commodities[stack.Commodity] = commodities[stack.Commodity].Add(tons)
	}
	r.StockByCommodity = make([]CommodityStock, 0, len(commodities))
	for c, tons := range commodities {
		r.StockByCommodity = append(r.StockByCommodity, CommodityStock{Commodity: c, Tons: tons})
	}
	sort.Slice(r.StockByCommodity, func(i, j int) bool {
		return r.StockByCommodity[i].Commodity < r.StockByCommodity[j].Commodity
	})

	recent := v.txs
	if len(recent) > reportRecent {
		recent = recent[:reportRecent]
	}
	r.RecentTransactions = recent
	return r, nil
}
