// Package reconcile joins the catalog with the purchase and sale ledgers and
// derives stock, average cost and valuation per sub-item.
package reconcile

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trumi/inventory/internal/catalog"
	"trumi/inventory/internal/domain"
)

// AveragePlaces is the rounding applied to average prices.
const AveragePlaces = 4

type aggregate struct {
	purchasedQty int
	spend        decimal.Decimal
	soldQty      int
	revenue      decimal.Decimal
}

// Build computes the summary table for snap. It never fails: an empty ledger
// yields an empty table with zero totals, and filters naming unknown ids or an
// inverted window simply match nothing.
func Build(snap domain.LedgerSnapshot, opts domain.SummaryOptions, now time.Time) domain.Summary {
	tree := catalog.NewSnapshot(snap.Categories, snap.Items, snap.SubItems)
	summary := domain.Summary{
		Rows:                []domain.SummaryRow{},
		TotalSpend:          decimal.Zero,
		TotalRevenue:        decimal.Zero,
		NetProfit:           decimal.Zero,
		TotalInventoryValue: decimal.Zero,
		ReorderThreshold:    opts.ReorderThreshold,
		GeneratedAt:         now.UTC().Format(time.RFC3339),
	}
	if opts.Window.Start != nil {
		summary.Start = domain.FormatDay(*opts.Window.Start)
	}
	if opts.Window.End != nil {
		summary.End = domain.FormatDay(*opts.Window.End)
	}
	if opts.Window.Inverted() {
		return summary
	}

	groups := make(map[string]*aggregate)
	group := func(subItemID string) *aggregate {
		agg, ok := groups[subItemID]
		if !ok {
			agg = &aggregate{spend: decimal.Zero, revenue: decimal.Zero}
			groups[subItemID] = agg
		}
		return agg
	}

	for _, tx := range snap.Purchases {
		if !admits(tree, tx, opts) {
			continue
		}
		agg := group(tx.SubItemID)
		agg.purchasedQty += tx.Quantity
		agg.spend = agg.spend.Add(tx.TotalPrice)
	}
	for _, tx := range snap.Sales {
		if !admits(tree, tx, opts) {
			continue
		}
		agg := group(tx.SubItemID)
		agg.soldQty += tx.Quantity
		agg.revenue = agg.revenue.Add(tx.TotalPrice)
	}

	if opts.IncludeIdle {
		for _, sub := range snap.SubItems {
			anc, ok := tree.Ancestry(sub.ID)
			if !ok || !matchesFilter(anc, opts) {
				continue
			}
			group(sub.ID)
		}
	}

	for subItemID, agg := range groups {
		anc, _ := tree.Ancestry(subItemID)
		row := buildRow(anc, agg, opts.ReorderThreshold)
		if item, ok := tree.Item(anc.ItemID); ok {
			row.Series = item.Series
		}
		summary.Rows = append(summary.Rows, row)

		summary.TotalSpend = summary.TotalSpend.Add(row.Spend)
		summary.TotalRevenue = summary.TotalRevenue.Add(row.Revenue)
		summary.TotalInventoryValue = summary.TotalInventoryValue.Add(row.InventoryValue)
		if row.Oversold {
			summary.OversoldCount++
		}
		if row.BelowReorder {
			summary.BelowReorderCount++
		}
	}
	summary.NetProfit = summary.TotalRevenue.Sub(summary.TotalSpend)

	slices.SortFunc(summary.Rows, compareRows)
	return summary
}

func buildRow(anc domain.Ancestry, agg *aggregate, threshold *int) domain.SummaryRow {
	row := domain.SummaryRow{
		CategoryID:       anc.CategoryID,
		Category:         anc.CategoryName,
		ItemID:           anc.ItemID,
		Item:             anc.ItemName,
		SubItemID:        anc.SubItemID,
		SubItem:          anc.SubItemName,
		PurchasedQty:     agg.purchasedQty,
		Spend:            agg.spend,
		SoldQty:          agg.soldQty,
		Revenue:          agg.revenue,
		AvgPurchasePrice: decimal.Zero,
		AvgSalePrice:     decimal.Zero,
	}
	row.Stock = agg.purchasedQty - agg.soldQty
	row.InventoryValue = decimal.Zero
	if agg.purchasedQty > 0 {
		purchased := decimal.NewFromInt(int64(agg.purchasedQty))
		row.AvgPurchasePrice = agg.spend.DivRound(purchased, AveragePlaces)
		// Scale spend before dividing so a fully stocked row values at exactly its spend.
		row.InventoryValue = agg.spend.Mul(decimal.NewFromInt(int64(row.Stock))).DivRound(purchased, AveragePlaces)
	}
	if agg.soldQty > 0 {
		row.AvgSalePrice = agg.revenue.DivRound(decimal.NewFromInt(int64(agg.soldQty)), AveragePlaces)
	}
	row.Oversold = row.Stock < 0
	if threshold != nil {
		row.BelowReorder = row.Stock < *threshold
	}
	return row
}

// admits applies the date window and id filters to one ledger line. Ancestry
// comes from the catalog, not from the copies stored on the line. Lines whose
// sub-item no longer exists are dropped.
func admits(tree catalog.Snapshot, tx domain.Transaction, opts domain.SummaryOptions) bool {
	if !opts.Window.Contains(domain.Day(tx.Date)) {
		return false
	}
	anc, ok := tree.Ancestry(tx.SubItemID)
	if !ok {
		return false
	}
	return matchesFilter(anc, opts)
}

func matchesFilter(anc domain.Ancestry, opts domain.SummaryOptions) bool {
	if opts.CategoryID != "" && anc.CategoryID != opts.CategoryID {
		return false
	}
	if opts.ItemID != "" && anc.ItemID != opts.ItemID {
		return false
	}
	if opts.SubItemID != "" && anc.SubItemID != opts.SubItemID {
		return false
	}
	return true
}

func compareRows(a, b domain.SummaryRow) int {
	if c := strings.Compare(a.Category, b.Category); c != 0 {
		return c
	}
	if c := strings.Compare(a.Item, b.Item); c != 0 {
		return c
	}
	if c := strings.Compare(a.SubItem, b.SubItem); c != 0 {
		return c
	}
	return strings.Compare(a.SubItemID, b.SubItemID)
}
