package catalog

import (
	"strings"
	"time"

	"trumi/inventory/internal/domain"
	"trumi/inventory/internal/store"
)

// Resolution lists what Resolve found and what it had to create. Created
// nodes are non-nil and must be persisted by the caller in order: category,
// item, sub-item.
type Resolution struct {
	Path     domain.ResolvedPath
	Category *domain.Category
	Item     *domain.Item
	SubItem  *domain.SubItem
}

func (r Resolution) Created() bool {
	return r.Category != nil || r.Item != nil || r.SubItem != nil
}

// NormalizePath trims every level of a catalog path.
func NormalizePath(path domain.CatalogPath) domain.CatalogPath {
	return domain.CatalogPath{
		Category: strings.TrimSpace(path.Category),
		Item:     strings.TrimSpace(path.Item),
		SubItem:  strings.TrimSpace(path.SubItem),
	}
}

// Resolve finds each level of path by name under its resolved parent and
// plans the creation of any level that is missing. Lookups never cross
// parents: an item named "Chain" under one category is invisible from
// another. The input snapshot is left untouched.
func Resolve(snap Snapshot, path domain.CatalogPath, newID func(prefix string) string, now time.Time) (Snapshot, Resolution, error) {
	path = NormalizePath(path)
	if path.Category == "" {
		return snap, Resolution{}, store.ErrInvalidTransaction
	}
	if path.Item == "" && path.SubItem != "" {
		return snap, Resolution{}, store.ErrInvalidTransaction
	}

	var res Resolution
	next := snap
	cloned := false
	ensureClone := func() {
		if !cloned {
			next = snap.clone()
			cloned = true
		}
	}

	categoryID, ok := next.CategoryByName(path.Category)
	if !ok {
		ensureClone()
		created := domain.Category{ID: newID("cat"), Name: path.Category, CreatedAt: now}
		next.categories = append(next.categories, created)
		next.indexCategory(len(next.categories)-1, created)
		res.Category = &created
		res.Path.CategoryCreated = true
		categoryID = created.ID
	}
	res.Path.CategoryID = categoryID
	if path.Item == "" {
		return next, res, nil
	}

	itemID, ok := next.ItemByName(categoryID, path.Item)
	if !ok {
		ensureClone()
		created := domain.Item{ID: newID("item"), CategoryID: categoryID, Name: path.Item, CreatedAt: now}
		next.items = append(next.items, created)
		next.indexItem(len(next.items)-1, created)
		res.Item = &created
		res.Path.ItemCreated = true
		itemID = created.ID
	}
	res.Path.ItemID = itemID
	if path.SubItem == "" {
		return next, res, nil
	}

	subItemID, ok := next.SubItemByName(itemID, path.SubItem)
	if !ok {
		ensureClone()
		created := domain.SubItem{ID: newID("sub"), ItemID: itemID, Name: path.SubItem, CreatedAt: now}
		next.subItems = append(next.subItems, created)
		next.indexSubItem(len(next.subItems)-1, created)
		res.SubItem = &created
		res.Path.SubItemCreated = true
		subItemID = created.ID
	}
	res.Path.SubItemID = subItemID
	return next, res, nil
}
