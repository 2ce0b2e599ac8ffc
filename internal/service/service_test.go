package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trumi/inventory/internal/domain"
	"trumi/inventory/internal/store"
	"trumi/inventory/internal/store/memory"
)

func newTestService() *Service {
	return New(memory.New(), nil, time.Minute)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "owner", Role: domain.RoleAdmin})
}

func viewerCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "clerk", Role: domain.RoleViewer})
}

// ringPath builds Rings > Band > Gold 18k and returns the sub-item id.
func ringPath(t *testing.T, svc *Service) domain.ResolvedPath {
	t.Helper()
	ctx := adminCtx()
	category, err := svc.CreateCategory(ctx, domain.CategoryCreateRequest{Name: "Rings"})
	require.NoError(t, err)
	item, err := svc.CreateItem(ctx, domain.ItemCreateRequest{CategoryID: category.ID, Name: "Band"})
	require.NoError(t, err)
	sub, err := svc.CreateSubItem(ctx, domain.SubItemCreateRequest{ItemID: item.ID, Name: "Gold 18k"})
	require.NoError(t, err)
	return domain.ResolvedPath{CategoryID: category.ID, ItemID: item.ID, SubItemID: sub.ID}
}

func recordLine(t *testing.T, svc *Service, kind domain.TransactionKind, subItemID string, qty int, price string, date string) domain.Transaction {
	t.Helper()
	tx, err := svc.RecordTransaction(adminCtx(), kind, domain.TransactionCreateRequest{
		SubItemID: subItemID,
		Quantity:  qty,
		UnitPrice: decimal.RequireFromString(price),
		Date:      date,
	})
	require.NoError(t, err)
	return tx
}

func TestMutationsRequireAdmin(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateCategory(viewerCtx(), domain.CategoryCreateRequest{Name: "Rings"})
	require.ErrorIs(t, err, ErrForbidden)
	_, err = svc.CreateCategory(context.Background(), domain.CategoryCreateRequest{Name: "Rings"})
	require.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Import(viewerCtx(), "catalog", strings.NewReader("category\nRings\n"), false)
	require.ErrorIs(t, err, ErrForbidden)

	categories, err := svc.ListCategories(viewerCtx())
	require.NoError(t, err)
	assert.Empty(t, categories)
}

func TestValidationErrorsNameJSONFields(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateItem(adminCtx(), domain.ItemCreateRequest{Name: "Band"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "required", verr.Fields["category_id"])
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	path := ringPath(t, svc)
	_, err = svc.RecordTransaction(adminCtx(), domain.KindPurchase, domain.TransactionCreateRequest{
		SubItemID: path.SubItemID,
		Quantity:  1,
		UnitPrice: decimal.NewFromInt(-5),
	})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "gte", verr.Fields["unit_price"])

	_, err = svc.RecordTransaction(adminCtx(), domain.KindPurchase, domain.TransactionCreateRequest{
		SubItemID: path.SubItemID,
		Quantity:  1,
		UnitPrice: decimal.NewFromInt(5),
		Date:      "yesterday",
	})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "date", verr.Fields["date"])
}

func TestPurchaseThenReconcile(t *testing.T) {
	svc := newTestService()
	path := ringPath(t, svc)
	recordLine(t, svc, domain.KindPurchase, path.SubItemID, 10, "50", "2026-04-01")

	summary, err := svc.Reconcile(viewerCtx(), domain.SummaryRequest{})
	require.NoError(t, err)
	require.Len(t, summary.Rows, 1)
	row := summary.Rows[0]
	assert.Equal(t, 10, row.Stock)
	assert.True(t, decimal.NewFromInt(500).Equal(row.Spend))
	assert.True(t, decimal.NewFromInt(50).Equal(row.AvgPurchasePrice))
	assert.True(t, row.Revenue.IsZero())
	assert.True(t, decimal.NewFromInt(500).Equal(row.InventoryValue))

	recordLine(t, svc, domain.KindSale, path.SubItemID, 4, "80", "2026-04-02")

	summary, err = svc.Reconcile(viewerCtx(), domain.SummaryRequest{})
	require.NoError(t, err, "the sale invalidates the cached table")
	row = summary.Rows[0]
	assert.Equal(t, 6, row.Stock)
	assert.True(t, decimal.NewFromInt(320).Equal(row.Revenue))
	assert.True(t, decimal.NewFromInt(300).Equal(row.InventoryValue))
	assert.True(t, decimal.NewFromInt(-180).Equal(summary.NetProfit))
}

func TestReconcileRejectsInvertedWindow(t *testing.T) {
	svc := newTestService()

	_, err := svc.Reconcile(viewerCtx(), domain.SummaryRequest{Start: "2026-05-01", End: "2026-04-01"})
	require.ErrorIs(t, err, store.ErrInvalidDateRange)

	_, err = svc.ListTransactions(viewerCtx(), domain.KindSale, "2026-05-01", "2026-04-01")
	require.ErrorIs(t, err, store.ErrInvalidDateRange)

	negative := -1
	_, err = svc.Reconcile(viewerCtx(), domain.SummaryRequest{ReorderThreshold: &negative})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestReconcileWindowAndThreshold(t *testing.T) {
	svc := newTestService()
	path := ringPath(t, svc)
	recordLine(t, svc, domain.KindPurchase, path.SubItemID, 10, "50", "2026-03-15")
	recordLine(t, svc, domain.KindPurchase, path.SubItemID, 2, "60", "2026-04-10")

	threshold := 5
	summary, err := svc.Reconcile(viewerCtx(), domain.SummaryRequest{Start: "2026-04-01", End: "2026-04-30", ReorderThreshold: &threshold})
	require.NoError(t, err)
	require.Len(t, summary.Rows, 1)
	assert.Equal(t, 2, summary.Rows[0].Stock)
	assert.True(t, summary.Rows[0].BelowReorder)
	assert.Equal(t, 1, summary.BelowReorderCount)
	assert.Equal(t, "2026-04-01", summary.Start)
}

type countingCache struct {
	gets, sets, invalidations int
	stored                    map[string]*domain.Summary
}

func (c *countingCache) Get(_ context.Context, key string) (*domain.Summary, bool, error) {
	c.gets++
	v, ok := c.stored[key]
	return v, ok, nil
}

func (c *countingCache) Set(_ context.Context, key string, value *domain.Summary, _ time.Duration) error {
	c.sets++
	c.stored[key] = value
	return nil
}

func (c *countingCache) Invalidate(_ context.Context) error {
	c.invalidations++
	c.stored = map[string]*domain.Summary{}
	return nil
}

func TestReconcileUsesCacheUntilWrite(t *testing.T) {
	summaries := &countingCache{stored: map[string]*domain.Summary{}}
	svc := New(memory.New(), summaries, time.Minute)
	path := ringPath(t, svc)
	require.Equal(t, 3, summaries.invalidations)

	_, err := svc.Reconcile(viewerCtx(), domain.SummaryRequest{})
	require.NoError(t, err)
	_, err = svc.Reconcile(viewerCtx(), domain.SummaryRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, summaries.sets, "second call is served from cache")

	recordLine(t, svc, domain.KindPurchase, path.SubItemID, 1, "1", "2026-04-01")
	summary, err := svc.Reconcile(viewerCtx(), domain.SummaryRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, summaries.sets)
	require.Len(t, summary.Rows, 1)
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) (*domain.Summary, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (brokenCache) Set(context.Context, string, *domain.Summary, time.Duration) error {
	return errors.New("connection refused")
}

func (brokenCache) Invalidate(context.Context) error {
	return errors.New("connection refused")
}

func TestCacheFailuresAreNotFatal(t *testing.T) {
	svc := New(memory.New(), brokenCache{}, time.Minute)
	path := ringPath(t, svc)
	recordLine(t, svc, domain.KindPurchase, path.SubItemID, 3, "10", "2026-04-01")

	summary, err := svc.Reconcile(viewerCtx(), domain.SummaryRequest{})
	require.NoError(t, err)
	require.Len(t, summary.Rows, 1)
	assert.Equal(t, 3, summary.Rows[0].Stock)
}

func TestEditTransaction(t *testing.T) {
	svc := newTestService()
	path := ringPath(t, svc)
	tx := recordLine(t, svc, domain.KindSale, path.SubItemID, 2, "80", "2026-04-02")

	qty := 3
	date := "2026-04-05"
	edited, err := svc.EditTransaction(adminCtx(), domain.KindSale, tx.ID, domain.TransactionUpdateRequest{Quantity: &qty, Date: &date})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(240).Equal(edited.TotalPrice))
	assert.Equal(t, "2026-04-05", domain.FormatDay(edited.Date))
	assert.Equal(t, tx.Version+1, edited.Version)

	zero := 0
	_, err = svc.EditTransaction(adminCtx(), domain.KindSale, tx.ID, domain.TransactionUpdateRequest{Quantity: &zero})
	require.ErrorIs(t, err, store.ErrInvalidQuantity)

	_, err = svc.EditTransaction(adminCtx(), domain.KindSale, "missing", domain.TransactionUpdateRequest{Quantity: &qty})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestBatchDeletesNeedConfirmation(t *testing.T) {
	svc := newTestService()
	path := ringPath(t, svc)
	a := recordLine(t, svc, domain.KindPurchase, path.SubItemID, 1, "1", "2026-04-01")
	b := recordLine(t, svc, domain.KindPurchase, path.SubItemID, 1, "1", "2026-04-02")
	recordLine(t, svc, domain.KindPurchase, path.SubItemID, 1, "1", "2026-04-03")

	_, err := svc.DeleteTransactions(adminCtx(), domain.KindPurchase, domain.BatchDeleteRequest{IDs: []string{a.ID}})
	require.ErrorIs(t, err, ErrConfirmationRequired)
	_, err = svc.DeleteAllTransactions(adminCtx(), domain.KindPurchase, false)
	require.ErrorIs(t, err, ErrConfirmationRequired)

	resp, err := svc.DeleteTransactions(adminCtx(), domain.KindPurchase, domain.BatchDeleteRequest{IDs: []string{a.ID, b.ID, "ghost"}, Confirm: true})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Deleted)

	resp, err = svc.DeleteAllTransactions(adminCtx(), domain.KindPurchase, true)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Deleted)

	views, err := svc.ListTransactions(viewerCtx(), domain.KindPurchase, "", "")
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestDeleteCategoryWithHistory(t *testing.T) {
	svc := newTestService()
	path := ringPath(t, svc)
	recordLine(t, svc, domain.KindPurchase, path.SubItemID, 10, "50", "2026-04-01")
	recordLine(t, svc, domain.KindSale, path.SubItemID, 4, "80", "2026-04-02")

	err := svc.DeleteCategory(adminCtx(), path.CategoryID, false)
	require.ErrorIs(t, err, store.ErrCascadeConflict)
	require.ErrorIs(t, svc.DeleteItem(adminCtx(), path.ItemID, false), store.ErrCascadeConflict)
	require.ErrorIs(t, svc.DeleteSubItem(adminCtx(), path.SubItemID, false), store.ErrCascadeConflict)

	summary, err := svc.Reconcile(viewerCtx(), domain.SummaryRequest{})
	require.NoError(t, err)
	require.Len(t, summary.Rows, 1, "rejected deletes keep history")

	require.NoError(t, svc.DeleteCategory(adminCtx(), path.CategoryID, true))

	summary, err = svc.Reconcile(viewerCtx(), domain.SummaryRequest{})
	require.NoError(t, err)
	assert.Empty(t, summary.Rows)
	sales, err := svc.ListTransactions(viewerCtx(), domain.KindSale, "", "")
	require.NoError(t, err)
	assert.Empty(t, sales, "cascade removes the transactions too")
	_, err = svc.GetSubItem(viewerCtx(), path.SubItemID)
	require.ErrorIs(t, err, store.ErrSubItemNotFound)
}

func TestUpdateCatalogAttributes(t *testing.T) {
	svc := newTestService()
	path := ringPath(t, svc)

	series := "Classic"
	item, err := svc.UpdateItem(adminCtx(), path.ItemID, domain.ItemUpdateRequest{Series: &series})
	require.NoError(t, err)
	assert.Equal(t, "Classic", item.Series)

	_, err = svc.UpdateItem(adminCtx(), path.ItemID, domain.ItemUpdateRequest{})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	image := "img/band-gold.jpg"
	sub, err := svc.UpdateSubItem(adminCtx(), path.SubItemID, domain.SubItemUpdateRequest{ImageRef: &image})
	require.NoError(t, err)
	assert.Equal(t, image, sub.ImageRef)
}

func TestResolvePath(t *testing.T) {
	svc := newTestService()

	first, err := svc.ResolvePath(adminCtx(), domain.CatalogPath{Category: "Necklaces", Item: "Chain", SubItem: "Silver"})
	require.NoError(t, err)
	assert.True(t, first.SubItemCreated)

	other, err := svc.ResolvePath(adminCtx(), domain.CatalogPath{Category: "Bracelets", Item: "Chain", SubItem: "Silver"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ItemID, other.ItemID)
	assert.NotEqual(t, first.SubItemID, other.SubItemID)

	again, err := svc.ResolvePath(adminCtx(), domain.CatalogPath{Category: "Necklaces", Item: "Chain", SubItem: "Silver"})
	require.NoError(t, err)
	assert.Equal(t, first.SubItemID, again.SubItemID)
	assert.False(t, again.SubItemCreated)
}

func TestImportLedgerSheet(t *testing.T) {
	svc := newTestService()
	sheet := "類別,品項,細項,買入數量,買入單價,日期\n" +
		"Necklaces,Chain,Silver,5,20,2026-03-01\n" +
		"Bracelets,Chain,Silver,4,30,2026-03-01\n" +
		"Bracelets,Chain,Silver,0,30,2026-03-02\n"

	report, err := svc.Import(adminCtx(), "purchases", strings.NewReader(sheet), false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Imported)
	assert.Equal(t, 1, report.Skipped)

	summary, err := svc.Reconcile(viewerCtx(), domain.SummaryRequest{})
	require.NoError(t, err)
	require.Len(t, summary.Rows, 2, "same names under different categories stay apart")
	assert.Equal(t, "Bracelets", summary.Rows[0].Category)
	assert.Equal(t, 4, summary.Rows[0].Stock)
	assert.Equal(t, "Necklaces", summary.Rows[1].Category)
	assert.Equal(t, 5, summary.Rows[1].Stock)
}

func TestImportDryRunWritesNothing(t *testing.T) {
	svc := newTestService()
	sheet := "category,item,sub_item,quantity,unit_price\nRings,Band,Gold,1,100\n"

	report, err := svc.Import(adminCtx(), "sales", strings.NewReader(sheet), true)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Imported)
	assert.Equal(t, 1, report.CreatedSubItems)
	assert.Equal(t, domain.ImportStatusPlanned, report.Rows[0].Status)

	categories, err := svc.ListCategories(viewerCtx())
	require.NoError(t, err)
	assert.Empty(t, categories)
}

func TestImportRejectsBadSheets(t *testing.T) {
	svc := newTestService()

	_, err := svc.Import(adminCtx(), "refunds", strings.NewReader("category\n"), false)
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = svc.Import(adminCtx(), "sales", strings.NewReader("category,item\nRings,Band\n"), false)
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = svc.ImportTemplate("refunds", false)
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}
