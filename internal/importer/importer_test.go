package importer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trumi/inventory/internal/catalog"
	"trumi/inventory/internal/domain"
	"trumi/inventory/internal/store/memory"
)

func TestParseLedgerEnglishHeaders(t *testing.T) {
	sheet := "Category,Item,Sub_Item,Quantity,Unit_Price,Date\n" +
		"Rings,Band,Gold 18k,3,12.50,2026-04-01\n" +
		",,,,,\n" +
		"Rings,Band,Gold 18k,3.0,\"1,200\",\n"

	rows, err := ParseLedger(strings.NewReader(sheet), domain.KindPurchase)
	require.NoError(t, err)
	require.Len(t, rows, 2, "blank rows are dropped")

	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, "Gold 18k", rows[0].SubItem)
	assert.Equal(t, 3, rows[0].Quantity)
	assert.True(t, decimal.RequireFromString("12.5").Equal(rows[0].UnitPrice))
	assert.Equal(t, "2026-04-01", rows[0].Date)

	assert.Equal(t, 4, rows[1].Line)
	assert.Equal(t, 3, rows[1].Quantity)
	assert.True(t, decimal.NewFromInt(1200).Equal(rows[1].UnitPrice))
	assert.Empty(t, rows[1].ParseError)
}

func TestParseLedgerChineseHeadersWithBOM(t *testing.T) {
	sheet := utf8BOM + "類別,品項,細項,賣出數量,賣出單價,日期\n項鍊,Chain,Silver,2,80,2026-04-02\n"

	rows, err := ParseLedger(strings.NewReader(sheet), domain.KindSale)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "項鍊", rows[0].Category)
	assert.Equal(t, 2, rows[0].Quantity)

	_, err = ParseLedger(strings.NewReader(sheet), domain.KindPurchase)
	require.ErrorIs(t, err, ErrMissingColumn, "sale columns do not satisfy a purchase sheet")
}

func TestParseLedgerFlagsBadValues(t *testing.T) {
	sheet := "category,item,sub_item,qty,price\n" +
		"Rings,Band,Gold,2.5,10\n" +
		"Rings,Band,Gold,two,10\n" +
		"Rings,Band,Gold,1,abc\n" +
		"Rings,Band,Gold,18446744073709551617,10\n" +
		"Rings,Band,Gold,9223372036854775808,10\n" +
		"Rings,Band,Gold,-9223372036854775809,10\n" +
		"Rings,Band,Gold,2147483647,10\n"

	rows, err := ParseLedger(strings.NewReader(sheet), domain.KindPurchase)
	require.NoError(t, err)
	require.Len(t, rows, 7)
	assert.Contains(t, rows[0].ParseError, "whole number")
	assert.Contains(t, rows[1].ParseError, "not a number")
	assert.Contains(t, rows[2].ParseError, "unit price")
	for _, row := range rows[3:6] {
		assert.Contains(t, row.ParseError, "out of range", "line %d", row.Line)
		assert.Zero(t, row.Quantity)
	}
	assert.Empty(t, rows[6].ParseError)
	assert.Equal(t, 2147483647, rows[6].Quantity)
}

func TestParseRejectsBadHeaders(t *testing.T) {
	_, err := ParseLedger(strings.NewReader(""), domain.KindPurchase)
	require.ErrorIs(t, err, ErrEmptyFile)

	_, err = ParseCatalog(strings.NewReader("item,sub_item\nBand,Gold\n"))
	require.ErrorIs(t, err, ErrMissingColumn)
}

func TestKindForTarget(t *testing.T) {
	kind, err := KindForTarget(TargetSales)
	require.NoError(t, err)
	assert.Equal(t, domain.KindSale, kind)

	_, err = KindForTarget("refunds")
	require.ErrorIs(t, err, ErrUnknownTarget)
}

func TestImportLedgerSkipsAndFails(t *testing.T) {
	repo := memory.New()
	rows := []domain.ImportRow{
		{Line: 2, Category: "Rings", Item: "Band", SubItem: "Gold", Quantity: 3, UnitPrice: decimal.NewFromInt(50), Date: "2026-04-01"},
		{Line: 3, Category: "Rings", Item: "Band", SubItem: "Gold", Quantity: 0, UnitPrice: decimal.NewFromInt(50)},
		{Line: 4, Category: "Rings", Item: "", SubItem: "Gold", Quantity: 1, UnitPrice: decimal.NewFromInt(50)},
		{Line: 5, ParseError: "quantity \"x\" is not a number"},
		{Line: 6, Category: "Rings", Item: "Band", SubItem: "Gold", Quantity: 1, UnitPrice: decimal.NewFromInt(50), Date: "someday"},
		{Line: 7, Category: "Rings", Item: "Band", SubItem: "Gold", Quantity: 2, UnitPrice: decimal.NewFromInt(60)},
	}

	report := ImportLedger(context.Background(), repo, domain.KindPurchase, rows)
	assert.Equal(t, TargetPurchases, report.Target)
	assert.Equal(t, 2, report.Imported)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 1, report.CreatedCategories)
	assert.Equal(t, 1, report.CreatedItems)
	assert.Equal(t, 1, report.CreatedSubItems)
	require.Len(t, report.Rows, len(rows))
	assert.Equal(t, domain.ImportStatusImported, report.Rows[0].Status)
	assert.NotEmpty(t, report.Rows[0].TransactionID)
	assert.Equal(t, domain.ImportStatusSkipped, report.Rows[1].Status)
	assert.Equal(t, domain.ImportStatusFailed, report.Rows[3].Status)
	assert.Equal(t, domain.ImportStatusFailed, report.Rows[4].Status)

	views, err := repo.ListTransactions(context.Background(), domain.KindPurchase, domain.DateRange{})
	require.NoError(t, err)
	assert.Len(t, views, 2)
}

func TestImportLedgerScopesNamesToParent(t *testing.T) {
	repo := memory.New()
	sheet := "category,item,sub_item,quantity,unit_price,date\n" +
		"Necklaces,Chain,Silver,5,20,2026-03-01\n" +
		"Bracelets,Chain,Silver,4,30,2026-03-01\n"
	rows, err := ParseLedger(strings.NewReader(sheet), domain.KindPurchase)
	require.NoError(t, err)

	report := ImportLedger(context.Background(), repo, domain.KindPurchase, rows)
	require.Equal(t, 2, report.Imported)
	assert.Equal(t, 2, report.CreatedItems, "same item name under two categories is two items")
	assert.NotEqual(t, report.Rows[0].SubItemID, report.Rows[1].SubItemID)

	necklace, err := repo.GetAncestry(context.Background(), report.Rows[0].SubItemID)
	require.NoError(t, err)
	assert.Equal(t, "Necklaces", necklace.CategoryName)
	bracelet, err := repo.GetAncestry(context.Background(), report.Rows[1].SubItemID)
	require.NoError(t, err)
	assert.Equal(t, "Bracelets", bracelet.CategoryName)
}

type failingWriter struct {
	*memory.Store
}

func (failingWriter) RecordTransaction(context.Context, domain.Transaction) (*domain.Transaction, error) {
	return nil, errors.New("disk full")
}

func TestImportLedgerContinuesAfterWriteFailure(t *testing.T) {
	rows := []domain.ImportRow{
		{Line: 2, Category: "Rings", Item: "Band", SubItem: "Gold", Quantity: 1, UnitPrice: decimal.NewFromInt(1)},
		{Line: 3, Category: "Rings", Item: "Band", SubItem: "Silver", Quantity: 1, UnitPrice: decimal.NewFromInt(1)},
	}
	report := ImportLedger(context.Background(), failingWriter{memory.New()}, domain.KindSale, rows)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, "disk full", report.Rows[1].Reason)
}

func TestImportCatalogAppliesAttributes(t *testing.T) {
	repo := memory.New()
	sheet := "類別,品項,細項,系列,圖片\n" +
		"Rings,,,,\n" +
		"Rings,Band,,Classic,\n" +
		"Rings,Band,Gold,,img/gold.png\n" +
		"Rings,,Orphan,,\n" +
		",Band,Gold,,\n"
	rows, err := ParseCatalog(strings.NewReader(sheet))
	require.NoError(t, err)

	report := ImportCatalog(context.Background(), repo, rows)
	assert.Equal(t, TargetCatalog, report.Target)
	assert.Equal(t, 3, report.Imported)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 1, report.CreatedCategories)
	assert.Equal(t, 1, report.CreatedItems)
	assert.Equal(t, 1, report.CreatedSubItems)

	items, err := repo.ListItems(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Classic", items[0].Series)

	subs, err := repo.ListSubItems(context.Background(), items[0].ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "img/gold.png", subs[0].ImageRef)
}

func TestPlanLedgerWritesNothing(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	snap := catalog.NewSnapshot(
		[]domain.Category{{ID: "c1", Name: "Rings"}},
		[]domain.Item{{ID: "i1", CategoryID: "c1", Name: "Band"}},
		nil,
	)
	rows := []domain.ImportRow{
		{Line: 2, Category: "Rings", Item: "Band", SubItem: "Gold", Quantity: 1, UnitPrice: decimal.NewFromInt(1)},
		{Line: 3, Category: "Rings", Item: "Band", SubItem: "Gold", Quantity: 2, UnitPrice: decimal.NewFromInt(1)},
		{Line: 4, Category: "Rings", Item: "Band", SubItem: "Gold", Quantity: -1, UnitPrice: decimal.NewFromInt(1)},
	}

	report := PlanLedger(snap, domain.KindPurchase, rows, now)
	assert.True(t, report.DryRun)
	assert.Equal(t, 2, report.Imported)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.CreatedCategories)
	assert.Equal(t, 1, report.CreatedSubItems, "second row reuses the planned sub-item")
	assert.Equal(t, domain.ImportStatusPlanned, report.Rows[0].Status)
	assert.Equal(t, report.Rows[0].SubItemID, report.Rows[1].SubItemID)
	assert.Empty(t, snap.SubItems(), "input snapshot is untouched")
}

func TestPlanCatalog(t *testing.T) {
	rows := []domain.ImportRow{
		{Line: 2, Category: "Rings", Item: "Band"},
		{Line: 3, Category: "Rings", Item: "Band", SubItem: "Gold"},
		{Line: 4, Category: ""},
	}
	report := PlanCatalog(catalog.NewSnapshot(nil, nil, nil), rows, time.Now())
	assert.Equal(t, 2, report.Imported)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.CreatedCategories)
	assert.Equal(t, 1, report.CreatedItems)
	assert.Equal(t, 1, report.CreatedSubItems)
}

func TestTemplate(t *testing.T) {
	raw, err := Template(TargetSales, true)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), utf8BOM))
	assert.Contains(t, string(raw), "賣出數量")

	rows, err := ParseLedger(strings.NewReader(string(raw)), domain.KindSale)
	require.NoError(t, err, "a template parses as an empty sheet")
	assert.Empty(t, rows)

	_, err = Template("refunds", false)
	require.ErrorIs(t, err, ErrUnknownTarget)
}
