// Package storetest holds behaviour every store.Repository must share. Each
// backend's tests call Run with a constructor for a fresh, empty repository.
package storetest

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trumi/inventory/internal/domain"
	"trumi/inventory/internal/store"
)

func Run(t *testing.T, newRepo func(t *testing.T) store.Repository) {
	t.Run("catalog", func(t *testing.T) { testCatalog(t, newRepo(t)) })
	t.Run("resolve", func(t *testing.T) { testResolve(t, newRepo(t)) })
	t.Run("sibling names", func(t *testing.T) { testSiblingNames(t, newRepo(t)) })
	t.Run("ledger", func(t *testing.T) { testLedger(t, newRepo(t)) })
	t.Run("price precision", func(t *testing.T) { testPricePrecision(t, newRepo(t)) })
	t.Run("cascade", func(t *testing.T) { testCascade(t, newRepo(t)) })
	t.Run("snapshot", func(t *testing.T) { testSnapshot(t, newRepo(t)) })
	t.Run("users", func(t *testing.T) { testUsers(t, newRepo(t)) })
}

func day(t *testing.T, raw string) domain.DateRange {
	t.Helper()
	d, err := domain.ParseDay(raw)
	require.NoError(t, err)
	return domain.DateRange{Start: &d, End: &d}
}

func record(t *testing.T, repo store.Repository, kind domain.TransactionKind, subItemID string, qty int, price string, date string) *domain.Transaction {
	t.Helper()
	d, err := domain.ParseDay(date)
	require.NoError(t, err)
	tx, err := repo.RecordTransaction(context.Background(), domain.Transaction{
		Kind:      kind,
		SubItemID: subItemID,
		Quantity:  qty,
		UnitPrice: decimal.RequireFromString(price),
		Date:      d,
	})
	require.NoError(t, err)
	return tx
}

func testCatalog(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	rings, err := repo.CreateCategory(ctx, "Rings")
	require.NoError(t, err)
	_, err = repo.CreateCategory(ctx, "Rings")
	require.ErrorIs(t, err, store.ErrDuplicateName)

	_, err = repo.CreateItem(ctx, domain.Item{CategoryID: "missing", Name: "Band"})
	require.ErrorIs(t, err, store.ErrParentNotFound)

	band, err := repo.CreateItem(ctx, domain.Item{CategoryID: rings.ID, Name: "Band"})
	require.NoError(t, err)

	gold, err := repo.CreateSubItem(ctx, domain.SubItem{ItemID: band.ID, Name: "Gold 18k"})
	require.NoError(t, err)

	updated, err := repo.UpdateItemSeries(ctx, band.ID, "Classic")
	require.NoError(t, err)
	assert.Equal(t, "Classic", updated.Series)
	_, err = repo.UpdateItemSeries(ctx, "missing", "x")
	require.ErrorIs(t, err, store.ErrNotFound)

	pictured, err := repo.UpdateSubItemImage(ctx, gold.ID, "img/gold.jpg")
	require.NoError(t, err)
	assert.Equal(t, "img/gold.jpg", pictured.ImageRef)

	items, err := repo.ListItems(ctx, rings.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Classic", items[0].Series)

	anc, err := repo.GetAncestry(ctx, gold.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Ancestry{
		CategoryID: rings.ID, CategoryName: "Rings",
		ItemID: band.ID, ItemName: "Band",
		SubItemID: gold.ID, SubItemName: "Gold 18k",
	}, anc)

	_, err = repo.GetAncestry(ctx, "missing")
	require.ErrorIs(t, err, store.ErrSubItemNotFound)
}

func testResolve(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	first, err := repo.ResolveOrCreatePath(ctx, domain.CatalogPath{Category: "Necklaces", Item: "Chain", SubItem: "Silver"})
	require.NoError(t, err)
	assert.True(t, first.CategoryCreated && first.ItemCreated && first.SubItemCreated)

	again, err := repo.ResolveOrCreatePath(ctx, domain.CatalogPath{Category: "Necklaces", Item: "Chain", SubItem: "Silver"})
	require.NoError(t, err)
	assert.Equal(t, first.SubItemID, again.SubItemID)
	assert.False(t, again.CategoryCreated || again.ItemCreated || again.SubItemCreated)

	other, err := repo.ResolveOrCreatePath(ctx, domain.CatalogPath{Category: "Bracelets", Item: "Chain", SubItem: "Silver"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ItemID, other.ItemID)

	partial, err := repo.ResolveOrCreatePath(ctx, domain.CatalogPath{Category: "Necklaces", Item: "Pendant"})
	require.NoError(t, err)
	assert.Equal(t, first.CategoryID, partial.CategoryID)
	assert.True(t, partial.ItemCreated)
	assert.Empty(t, partial.SubItemID)

	_, err = repo.ResolveOrCreatePath(ctx, domain.CatalogPath{SubItem: "orphan"})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

// Only category names are unique. Items and sub-items may repeat a sibling's
// name; path resolution then picks the one created first.
func testSiblingNames(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	rings, err := repo.CreateCategory(ctx, "Rings")
	require.NoError(t, err)
	band, err := repo.CreateItem(ctx, domain.Item{CategoryID: rings.ID, Name: "Band"})
	require.NoError(t, err)
	twin, err := repo.CreateItem(ctx, domain.Item{CategoryID: rings.ID, Name: "Band"})
	require.NoError(t, err)
	assert.NotEqual(t, band.ID, twin.ID)

	gold, err := repo.CreateSubItem(ctx, domain.SubItem{ItemID: band.ID, Name: "Gold"})
	require.NoError(t, err)
	goldTwin, err := repo.CreateSubItem(ctx, domain.SubItem{ItemID: band.ID, Name: "Gold"})
	require.NoError(t, err)
	assert.NotEqual(t, gold.ID, goldTwin.ID)

	items, err := repo.ListItems(ctx, rings.ID)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	subs, err := repo.ListSubItems(ctx, band.ID)
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	path, err := repo.ResolveOrCreatePath(ctx, domain.CatalogPath{Category: "Rings", Item: "Band", SubItem: "Gold"})
	require.NoError(t, err)
	assert.Equal(t, band.ID, path.ItemID)
	assert.Equal(t, gold.ID, path.SubItemID)
	assert.False(t, path.ItemCreated || path.SubItemCreated)
}

// Stored totals must stay quantity x unit price after a reload, whatever the
// scale of the price.
func testPricePrecision(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	path, err := repo.ResolveOrCreatePath(ctx, domain.CatalogPath{Category: "Rings", Item: "Band", SubItem: "Gold"})
	require.NoError(t, err)

	saved := record(t, repo, domain.KindPurchase, path.SubItemID, 3, "12.345678", "2026-03-01")
	loaded, err := repo.GetTransaction(ctx, domain.KindPurchase, saved.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("12.345678").Equal(loaded.UnitPrice), loaded.UnitPrice.String())
	assert.True(t, decimal.RequireFromString("37.037034").Equal(loaded.TotalPrice), loaded.TotalPrice.String())
}

func testLedger(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	path, err := repo.ResolveOrCreatePath(ctx, domain.CatalogPath{Category: "Rings", Item: "Band", SubItem: "Gold 18k"})
	require.NoError(t, err)

	bought := record(t, repo, domain.KindPurchase, path.SubItemID, 10, "50.25", "2026-03-01")
	assert.Equal(t, path.CategoryID, bought.CategoryID)
	assert.True(t, decimal.RequireFromString("502.5").Equal(bought.TotalPrice))

	_, err = repo.RecordTransaction(ctx, domain.Transaction{Kind: domain.KindPurchase, SubItemID: path.SubItemID, Quantity: 0, UnitPrice: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, store.ErrInvalidQuantity)
	_, err = repo.RecordTransaction(ctx, domain.Transaction{Kind: domain.KindPurchase, SubItemID: "missing", Quantity: 1, UnitPrice: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, store.ErrSubItemNotFound)

	sold := record(t, repo, domain.KindSale, path.SubItemID, 2, "80", "2026-03-05")
	qty := 3
	edited, err := repo.EditTransaction(ctx, domain.KindSale, sold.ID, domain.TransactionPatch{Quantity: &qty})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(240).Equal(edited.TotalPrice))
	assert.Equal(t, sold.Version+1, edited.Version)

	stored, err := repo.GetTransaction(ctx, domain.KindSale, sold.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Quantity)
	assert.Equal(t, "2026-03-05", domain.FormatDay(stored.Date))
	assert.True(t, decimal.NewFromInt(240).Equal(stored.TotalPrice))

	_, err = repo.GetTransaction(ctx, domain.KindPurchase, sold.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	views, err := repo.ListTransactions(ctx, domain.KindPurchase, day(t, "2026-03-01"))
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "Band", views[0].ItemName)

	views, err = repo.ListTransactions(ctx, domain.KindPurchase, day(t, "2026-03-02"))
	require.NoError(t, err)
	assert.Empty(t, views)

	start, _ := domain.ParseDay("2026-03-31")
	end, _ := domain.ParseDay("2026-03-01")
	_, err = repo.ListTransactions(ctx, domain.KindSale, domain.DateRange{Start: &start, End: &end})
	require.ErrorIs(t, err, store.ErrInvalidDateRange)

	extra := record(t, repo, domain.KindSale, path.SubItemID, 1, "80", "2026-03-06")
	deleted, err := repo.DeleteTransactions(ctx, domain.KindSale, []string{extra.ID, "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	require.NoError(t, repo.DeleteTransaction(ctx, domain.KindSale, sold.ID))
	require.ErrorIs(t, repo.DeleteTransaction(ctx, domain.KindSale, sold.ID), store.ErrNotFound)

	deleted, err = repo.DeleteAllTransactions(ctx, domain.KindPurchase)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

func testCascade(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	path, err := repo.ResolveOrCreatePath(ctx, domain.CatalogPath{Category: "Necklaces", Item: "Chain", SubItem: "Silver"})
	require.NoError(t, err)
	record(t, repo, domain.KindPurchase, path.SubItemID, 5, "20", "2026-03-01")

	require.ErrorIs(t, repo.DeleteSubItem(ctx, path.SubItemID, false), store.ErrCascadeConflict)
	require.ErrorIs(t, repo.DeleteItem(ctx, path.ItemID, false), store.ErrCascadeConflict)
	require.ErrorIs(t, repo.DeleteCategory(ctx, path.CategoryID, false), store.ErrCascadeConflict)

	views, err := repo.ListTransactions(ctx, domain.KindPurchase, domain.DateRange{})
	require.NoError(t, err)
	require.Len(t, views, 1, "rejected deletes keep the ledger")

	require.NoError(t, repo.DeleteCategory(ctx, path.CategoryID, true))
	views, err = repo.ListTransactions(ctx, domain.KindPurchase, domain.DateRange{})
	require.NoError(t, err)
	assert.Empty(t, views)

	categories, err := repo.ListCategories(ctx)
	require.NoError(t, err)
	assert.Empty(t, categories)
	require.ErrorIs(t, repo.DeleteCategory(ctx, path.CategoryID, true), store.ErrNotFound)

	leaf, err := repo.ResolveOrCreatePath(ctx, domain.CatalogPath{Category: "Rings", Item: "Band", SubItem: "Gold"})
	require.NoError(t, err)
	require.NoError(t, repo.DeleteSubItem(ctx, leaf.SubItemID, false))
	require.NoError(t, repo.DeleteItem(ctx, leaf.ItemID, false))
	require.NoError(t, repo.DeleteCategory(ctx, leaf.CategoryID, false))
}

func testSnapshot(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	path, err := repo.ResolveOrCreatePath(ctx, domain.CatalogPath{Category: "Rings", Item: "Band", SubItem: "Gold"})
	require.NoError(t, err)
	record(t, repo, domain.KindPurchase, path.SubItemID, 10, "50", "2026-02-28")
	record(t, repo, domain.KindPurchase, path.SubItemID, 4, "55", "2026-03-10")
	record(t, repo, domain.KindSale, path.SubItemID, 4, "80", "2026-03-11")

	all, err := repo.LedgerSnapshot(ctx, domain.DateRange{})
	require.NoError(t, err)
	assert.Len(t, all.Categories, 1)
	assert.Len(t, all.SubItems, 1)
	assert.Len(t, all.Purchases, 2)
	assert.Len(t, all.Sales, 1)
	assert.Equal(t, "2026-02-28", domain.FormatDay(all.Purchases[0].Date))

	march, err := repo.LedgerSnapshot(ctx, domain.DateRange{Start: day(t, "2026-03-01").Start})
	require.NoError(t, err)
	assert.Len(t, march.Purchases, 1)
	assert.Len(t, march.Sales, 1)
	assert.Len(t, march.Items, 1, "the catalog is never windowed")
}

func testUsers(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	require.NoError(t, repo.CreateUser(ctx, domain.UserAccount{Username: "Owner", Password: "hash", Role: domain.RoleAdmin}))
	require.ErrorIs(t, repo.CreateUser(ctx, domain.UserAccount{Username: "owner", Password: "other"}), store.ErrDuplicateName)
	require.NoError(t, repo.UpdateUserPassword(ctx, "OWNER", "new-hash"))
	require.ErrorIs(t, repo.UpdateUserPassword(ctx, "ghost", "x"), store.ErrNotFound)

	users, err := repo.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "owner", users[0].Username)
	assert.Equal(t, "new-hash", users[0].Password)
	assert.Equal(t, domain.RoleAdmin, users[0].Role)
	assert.True(t, users[0].Active)
}
