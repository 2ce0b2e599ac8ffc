package catalog

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trumi/inventory/internal/domain"
	"trumi/inventory/internal/store"
)

func sequentialIDs() func(string) string {
	n := 0
	return func(prefix string) string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func TestResolveCreatesMissingLevels(t *testing.T) {
	empty := NewSnapshot(nil, nil, nil)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	next, res, err := Resolve(empty, domain.CatalogPath{Category: " Rings ", Item: "Band", SubItem: "Gold 18k"}, sequentialIDs(), now)
	require.NoError(t, err)

	assert.True(t, res.Path.CategoryCreated)
	assert.True(t, res.Path.ItemCreated)
	assert.True(t, res.Path.SubItemCreated)
	require.NotNil(t, res.Category)
	assert.Equal(t, "Rings", res.Category.Name)
	assert.Equal(t, res.Path.CategoryID, res.Item.CategoryID)
	assert.Equal(t, res.Path.ItemID, res.SubItem.ItemID)

	assert.Empty(t, empty.Categories(), "input snapshot must not change")
	assert.Len(t, next.Categories(), 1)
	assert.Len(t, next.Items(), 1)
	assert.Len(t, next.SubItems(), 1)
}

func TestResolveIsIdempotent(t *testing.T) {
	ids := sequentialIDs()
	now := time.Now().UTC()
	path := domain.CatalogPath{Category: "Rings", Item: "Band", SubItem: "Gold 18k"}

	first, res1, err := Resolve(NewSnapshot(nil, nil, nil), path, ids, now)
	require.NoError(t, err)
	second, res2, err := Resolve(first, path, ids, now)
	require.NoError(t, err)

	assert.Equal(t, res1.Path.CategoryID, res2.Path.CategoryID)
	assert.Equal(t, res1.Path.ItemID, res2.Path.ItemID)
	assert.Equal(t, res1.Path.SubItemID, res2.Path.SubItemID)
	assert.False(t, res2.Created())
	assert.Len(t, second.SubItems(), 1)
}

func TestResolveScopesNamesToParent(t *testing.T) {
	snap := NewSnapshot(
		[]domain.Category{{ID: "cat-a", Name: "Necklaces"}, {ID: "cat-b", Name: "Bracelets"}},
		[]domain.Item{{ID: "item-a", CategoryID: "cat-a", Name: "Chain"}},
		[]domain.SubItem{{ID: "sub-a", ItemID: "item-a", Name: "Silver"}},
	)

	next, res, err := Resolve(snap, domain.CatalogPath{Category: "Bracelets", Item: "Chain", SubItem: "Silver"}, sequentialIDs(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, "cat-b", res.Path.CategoryID)
	assert.True(t, res.Path.ItemCreated, "item under another category must not be reused")
	assert.NotEqual(t, "item-a", res.Path.ItemID)
	assert.NotEqual(t, "sub-a", res.Path.SubItemID)

	again, res2, err := Resolve(next, domain.CatalogPath{Category: "Necklaces", Item: "Chain", SubItem: "Silver"}, sequentialIDs(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "sub-a", res2.Path.SubItemID)
	assert.False(t, res2.Created())
	assert.Len(t, again.SubItems(), 2)
}

func TestResolvePartialPath(t *testing.T) {
	_, res, err := Resolve(NewSnapshot(nil, nil, nil), domain.CatalogPath{Category: "Earrings"}, sequentialIDs(), time.Now())
	require.NoError(t, err)
	assert.True(t, res.Path.CategoryCreated)
	assert.Empty(t, res.Path.ItemID)
	assert.Nil(t, res.Item)
}

func TestResolveRejectsMalformedPath(t *testing.T) {
	_, _, err := Resolve(NewSnapshot(nil, nil, nil), domain.CatalogPath{Item: "Band"}, sequentialIDs(), time.Now())
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, _, err = Resolve(NewSnapshot(nil, nil, nil), domain.CatalogPath{Category: "Rings", SubItem: "Gold"}, sequentialIDs(), time.Now())
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestAncestry(t *testing.T) {
	snap := NewSnapshot(
		[]domain.Category{{ID: "c1", Name: "Rings"}},
		[]domain.Item{{ID: "i1", CategoryID: "c1", Name: "Band"}},
		[]domain.SubItem{{ID: "s1", ItemID: "i1", Name: "Gold 18k"}, {ID: "orphan", ItemID: "gone", Name: "x"}},
	)

	anc, ok := snap.Ancestry("s1")
	require.True(t, ok)
	assert.Equal(t, "Rings", anc.CategoryName)
	assert.Equal(t, "i1", anc.ItemID)

	_, ok = snap.Ancestry("orphan")
	assert.False(t, ok)
}
