package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trumi/inventory/internal/domain"
)

func sampleSummary() domain.Summary {
	threshold := 8
	return domain.Summary{
		Rows: []domain.SummaryRow{{
			Category:         "Rings",
			Item:             "Band",
			Series:           "Classic",
			SubItem:          "Gold 18k",
			PurchasedQty:     10,
			AvgPurchasePrice: decimal.NewFromInt(50),
			Spend:            decimal.NewFromInt(500),
			SoldQty:          4,
			AvgSalePrice:     decimal.NewFromInt(80),
			Revenue:          decimal.NewFromInt(320),
			Stock:            6,
			InventoryValue:   decimal.NewFromInt(300),
			BelowReorder:     true,
		}},
		TotalSpend:          decimal.NewFromInt(500),
		TotalRevenue:        decimal.NewFromInt(320),
		NetProfit:           decimal.NewFromInt(-180),
		TotalInventoryValue: decimal.NewFromInt(300),
		BelowReorderCount:   1,
		ReorderThreshold:    &threshold,
		Start:               "2026-04-01",
		End:                 "2026-04-30",
	}
}

func TestFormatter(t *testing.T) {
	usd, err := NewFormatter("usd")
	require.NoError(t, err)
	assert.Equal(t, "USD", usd.Code())
	assert.Equal(t, "1234.50", usd.Amount(decimal.RequireFromString("1234.5")))
	assert.Equal(t, "10.17", usd.Amount(decimal.RequireFromString("10.1667")))
	assert.Equal(t, "$1,234.50", usd.Display(decimal.RequireFromString("1234.5")))

	jpy, err := NewFormatter("JPY")
	require.NoError(t, err)
	assert.Equal(t, "1235", jpy.Amount(decimal.RequireFromString("1234.5")))

	_, err = NewFormatter("XYZ1")
	require.ErrorIs(t, err, ErrUnknownCurrency)
}

func TestSummaryCSV(t *testing.T) {
	f, err := NewFormatter("USD")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, SummaryCSV(&buf, sampleSummary(), f))
	require.True(t, strings.HasPrefix(buf.String(), utf8BOM))

	records, err := csv.NewReader(strings.NewReader(strings.TrimPrefix(buf.String(), utf8BOM))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, summaryHeader, records[0])
	assert.Equal(t, []string{
		"Rings", "Band", "Classic", "Gold 18k",
		"10", "50.00", "500.00",
		"4", "80.00", "320.00",
		"6", "300.00", "false", "true",
	}, records[1])
	assert.Equal(t, "TOTAL", records[2][0])
	assert.Equal(t, "6", records[2][10])
	assert.Equal(t, "300.00", records[2][11])
}

func TestTransactionsCSV(t *testing.T) {
	f, err := NewFormatter("USD")
	require.NoError(t, err)
	views := []domain.TransactionView{{
		Transaction: domain.Transaction{
			ID:         "sale-1",
			Kind:       domain.KindSale,
			Quantity:   4,
			UnitPrice:  decimal.NewFromInt(80),
			TotalPrice: decimal.NewFromInt(320),
			Date:       time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		},
		CategoryName: "Rings",
		ItemName:     "Band",
		SubItemName:  "Gold, 18k",
	}}

	var buf bytes.Buffer
	require.NoError(t, TransactionsCSV(&buf, views, f))
	records, err := csv.NewReader(strings.NewReader(strings.TrimPrefix(buf.String(), utf8BOM))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"sale-1", "2026-04-02", "Rings", "Band", "Gold, 18k", "4", "80.00", "320.00"}, records[1])
}

func TestSummaryMarkdown(t *testing.T) {
	f, err := NewFormatter("USD")
	require.NoError(t, err)

	md := SummaryMarkdown(sampleSummary(), f)
	assert.Contains(t, md, "Period: 2026-04-01 to 2026-04-30")
	assert.Contains(t, md, "| Rings | Band | Gold 18k | 10 | $50.00 | 4 | $80.00 | 6 ↓ | $300.00 |")
	assert.Contains(t, md, "below the reorder threshold of 8")

	empty := SummaryMarkdown(domain.Summary{}, f)
	assert.Contains(t, empty, "_No activity._")
	assert.NotContains(t, empty, "Period:")
}
