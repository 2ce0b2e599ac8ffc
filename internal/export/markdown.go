package export

import (
	"fmt"
	"strings"

	"trumi/inventory/internal/domain"
)

// SummaryMarkdown renders the summary as a markdown document with a totals
// section and one table row per sub-item.
func SummaryMarkdown(summary domain.Summary, f Formatter) string {
	var b strings.Builder

	b.WriteString("# Inventory summary\n\n")
	switch {
	case summary.Start != "" && summary.End != "":
		fmt.Fprintf(&b, "Period: %s to %s\n\n", summary.Start, summary.End)
	case summary.Start != "":
		fmt.Fprintf(&b, "Period: from %s\n\n", summary.Start)
	case summary.End != "":
		fmt.Fprintf(&b, "Period: until %s\n\n", summary.End)
	}

	fmt.Fprintf(&b, "| Total spend | Total revenue | Net profit | Inventory value |\n")
	fmt.Fprintf(&b, "|---:|---:|---:|---:|\n")
	fmt.Fprintf(&b, "| %s | %s | %s | %s |\n\n",
		f.Display(summary.TotalSpend),
		f.Display(summary.TotalRevenue),
		f.Display(summary.NetProfit),
		f.Display(summary.TotalInventoryValue),
	)

	if len(summary.Rows) == 0 {
		b.WriteString("_No activity._\n")
		return b.String()
	}

	b.WriteString("| Category | Item | Sub-item | Bought | Avg cost | Sold | Avg sale | Stock | Value |\n")
	b.WriteString("|---|---|---|---:|---:|---:|---:|---:|---:|\n")
	for _, row := range summary.Rows {
		stock := fmt.Sprintf("%d", row.Stock)
		if row.Oversold {
			stock = "**" + stock + "** ⚠"
		} else if row.BelowReorder {
			stock += " ↓"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %d | %s | %d | %s | %s | %s |\n",
			cell(row.Category), cell(row.Item), cell(row.SubItem),
			row.PurchasedQty, f.Display(row.AvgPurchasePrice),
			row.SoldQty, f.Display(row.AvgSalePrice),
			stock, f.Display(row.InventoryValue),
		)
	}

	if summary.OversoldCount > 0 || summary.BelowReorderCount > 0 {
		b.WriteString("\n")
		if summary.OversoldCount > 0 {
			fmt.Fprintf(&b, "- %d sub-item(s) sold more than purchased\n", summary.OversoldCount)
		}
		if summary.BelowReorderCount > 0 && summary.ReorderThreshold != nil {
			fmt.Fprintf(&b, "- %d sub-item(s) below the reorder threshold of %d\n", summary.BelowReorderCount, *summary.ReorderThreshold)
		}
	}
	return b.String()
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
