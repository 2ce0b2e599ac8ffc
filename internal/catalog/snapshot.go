// Package catalog holds an immutable view of the category -> item -> sub-item
// hierarchy and the name resolution rules used by bulk imports.
//
// Snapshot values are never mutated in place. Resolve returns a new snapshot
// that includes any nodes it had to create, so a caller can plan a whole file
// against one starting state and persist the creations afterwards.
package catalog

import (
	"strings"

	"trumi/inventory/internal/domain"
)

type Snapshot struct {
	categories []domain.Category
	items      []domain.Item
	subItems   []domain.SubItem

	categoryByID map[string]int
	itemByID     map[string]int
	subItemByID  map[string]int

	categoryByName map[string]string
	itemByName     map[string]string
	subItemByName  map[string]string
}

// NewSnapshot indexes the given nodes. When two siblings share a name the
// first one in slice order wins name lookups, so callers should pass nodes in
// creation order.
func NewSnapshot(categories []domain.Category, items []domain.Item, subItems []domain.SubItem) Snapshot {
	s := Snapshot{
		categories:     append([]domain.Category(nil), categories...),
		items:          append([]domain.Item(nil), items...),
		subItems:       append([]domain.SubItem(nil), subItems...),
		categoryByID:   make(map[string]int, len(categories)),
		itemByID:       make(map[string]int, len(items)),
		subItemByID:    make(map[string]int, len(subItems)),
		categoryByName: make(map[string]string, len(categories)),
		itemByName:     make(map[string]string, len(items)),
		subItemByName:  make(map[string]string, len(subItems)),
	}
	for i, c := range s.categories {
		s.indexCategory(i, c)
	}
	for i, it := range s.items {
		s.indexItem(i, it)
	}
	for i, sub := range s.subItems {
		s.indexSubItem(i, sub)
	}
	return s
}

func (s *Snapshot) indexCategory(i int, c domain.Category) {
	s.categoryByID[c.ID] = i
	if _, taken := s.categoryByName[c.Name]; !taken {
		s.categoryByName[c.Name] = c.ID
	}
}

func (s *Snapshot) indexItem(i int, it domain.Item) {
	s.itemByID[it.ID] = i
	key := scopedKey(it.CategoryID, it.Name)
	if _, taken := s.itemByName[key]; !taken {
		s.itemByName[key] = it.ID
	}
}

func (s *Snapshot) indexSubItem(i int, sub domain.SubItem) {
	s.subItemByID[sub.ID] = i
	key := scopedKey(sub.ItemID, sub.Name)
	if _, taken := s.subItemByName[key]; !taken {
		s.subItemByName[key] = sub.ID
	}
}

func scopedKey(parentID string, name string) string {
	return parentID + "\x00" + name
}

func (s Snapshot) Categories() []domain.Category {
	return append([]domain.Category(nil), s.categories...)
}

func (s Snapshot) Items() []domain.Item {
	return append([]domain.Item(nil), s.items...)
}

func (s Snapshot) SubItems() []domain.SubItem {
	return append([]domain.SubItem(nil), s.subItems...)
}

func (s Snapshot) Category(id string) (domain.Category, bool) {
	i, ok := s.categoryByID[id]
	if !ok {
		return domain.Category{}, false
	}
	return s.categories[i], true
}

func (s Snapshot) Item(id string) (domain.Item, bool) {
	i, ok := s.itemByID[id]
	if !ok {
		return domain.Item{}, false
	}
	return s.items[i], true
}

func (s Snapshot) SubItem(id string) (domain.SubItem, bool) {
	i, ok := s.subItemByID[id]
	if !ok {
		return domain.SubItem{}, false
	}
	return s.subItems[i], true
}

// Ancestry walks a sub-item up to its category. It reports false when any
// level is missing, which only happens for snapshots built from orphaned rows.
func (s Snapshot) Ancestry(subItemID string) (domain.Ancestry, bool) {
	sub, ok := s.SubItem(subItemID)
	if !ok {
		return domain.Ancestry{}, false
	}
	item, ok := s.Item(sub.ItemID)
	if !ok {
		return domain.Ancestry{}, false
	}
	category, ok := s.Category(item.CategoryID)
	if !ok {
		return domain.Ancestry{}, false
	}
	return domain.Ancestry{
		CategoryID:   category.ID,
		CategoryName: category.Name,
		ItemID:       item.ID,
		ItemName:     item.Name,
		SubItemID:    sub.ID,
		SubItemName:  sub.Name,
	}, true
}

func (s Snapshot) CategoryByName(name string) (string, bool) {
	id, ok := s.categoryByName[strings.TrimSpace(name)]
	return id, ok
}

// ItemByName looks an item up by name under one category only.
func (s Snapshot) ItemByName(categoryID string, name string) (string, bool) {
	id, ok := s.itemByName[scopedKey(categoryID, strings.TrimSpace(name))]
	return id, ok
}

// SubItemByName looks a sub-item up by name under one item only.
func (s Snapshot) SubItemByName(itemID string, name string) (string, bool) {
	id, ok := s.subItemByName[scopedKey(itemID, strings.TrimSpace(name))]
	return id, ok
}

func (s Snapshot) clone() Snapshot {
	return NewSnapshot(s.categories, s.items, s.subItems)
}
