// Package storetest is a reusable conformance suite any store.Store
// implementation can run against itself, the way database/sql/driver's
// or httptest's conformance helpers work: pass a factory, get back the
// full behavioral contract exercised against a fresh instance per case.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juanpablocruz/actionsync/pkg/action"
	"github.com/juanpablocruz/actionsync/pkg/id"
	"github.com/juanpablocruz/actionsync/pkg/store"
)

// Run exercises every store.Store implementation-independent behavior
// against a fresh instance from newStore for each subtest.
func Run(t *testing.T, newStore func() store.Store) {
	t.Run("AddRejectsDuplicateID", func(t *testing.T) { testAddRejectsDuplicateID(t, newStore) })
	t.Run("ByID", func(t *testing.T) { testByID(t, newStore) })
	t.Run("OrderAdded", func(t *testing.T) { testOrderAdded(t, newStore) })
	t.Run("OrderCreated", func(t *testing.T) { testOrderCreated(t, newStore) })
	t.Run("Paging", func(t *testing.T) { testPaging(t, newStore) })
	t.Run("ChangeMetaUnknownIDReturnsFalse", func(t *testing.T) { testChangeMetaUnknownIDReturnsFalse(t, newStore) })
	t.Run("ChangeMetaRejectsReservedFields", func(t *testing.T) { testChangeMetaRejectsReservedFields(t, newStore) })
	t.Run("RemoveReasonDeletesWhenLastReason", func(t *testing.T) { testRemoveReasonDeletesWhenLastReason(t, newStore) })
	t.Run("RemoveReasonKeepsOtherReasons", func(t *testing.T) { testRemoveReasonKeepsOtherReasons(t, newStore) })
	t.Run("RemoveReasonHonorsCriteria", func(t *testing.T) { testRemoveReasonHonorsCriteria(t, newStore) })
	t.Run("LastAdded", func(t *testing.T) { testLastAdded(t, newStore) })
	t.Run("LastSynced", func(t *testing.T) { testLastSynced(t, newStore) })
	t.Run("RemoveDeletesEntry", func(t *testing.T) { testRemoveDeletesEntry(t, newStore) })
}

func testAddRejectsDuplicateID(t *testing.T, newStore func() store.Store) {
	ctx := context.Background()
	s := newStore()
	i := id.New(1, "a", 0)
	a := action.Action{"type": "x"}
	m := action.Meta{ID: i, Reasons: []string{"t"}}

	got, ok, err := s.Add(ctx, a, m)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotZero(t, got.Added)

	_, ok, err = s.Add(ctx, a, m)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testByID(t *testing.T, newStore func() store.Store) {
	ctx := context.Background()
	s := newStore()
	i := id.New(1, "a", 0)
	a := action.Action{"type": "x", "v": 1}
	_, _, err := s.Add(ctx, a, action.Meta{ID: i, Reasons: []string{"t"}})
	require.NoError(t, err)

	got, meta, ok, err := s.ByID(ctx, i)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 1, got["v"])
	assert.Equal(t, i, meta.ID)

	_, _, ok, err = s.ByID(ctx, id.New(2, "a", 0))
	require.NoError(t, err)
	assert.False(t, ok)
}

func testOrderAdded(t *testing.T, newStore func() store.Store) {
	ctx := context.Background()
	s := newStore()
	for i := int64(0); i < 3; i++ {
		_, _, err := s.Add(ctx, action.Action{"type": "x"}, action.Meta{ID: id.New(i, "a", 0), Reasons: []string{"t"}})
		require.NoError(t, err)
	}
	page, err := s.Get(ctx, store.OrderAdded)
	require.NoError(t, err)
	require.Len(t, page.Entries, 3)
	// descending Added: last added (time=2) comes first.
	assert.Equal(t, int64(2), page.Entries[0].Meta.ID.Time)
	assert.Equal(t, int64(0), page.Entries[2].Meta.ID.Time)
	assert.Nil(t, page.Next)
}

func testOrderCreated(t *testing.T, newStore func() store.Store) {
	ctx := context.Background()
	s := newStore()
	_, _, err := s.Add(ctx, action.Action{"type": "x"}, action.Meta{ID: id.New(5, "a", 0), Reasons: []string{"t"}})
	require.NoError(t, err)
	_, _, err = s.Add(ctx, action.Action{"type": "x"}, action.Meta{ID: id.New(1, "a", 0), Reasons: []string{"t"}})
	require.NoError(t, err)
	_, _, err = s.Add(ctx, action.Action{"type": "x"}, action.Meta{ID: id.New(9, "a", 0), Reasons: []string{"t"}})
	require.NoError(t, err)

	page, err := s.Get(ctx, store.OrderCreated)
	require.NoError(t, err)
	require.Len(t, page.Entries, 3)
	assert.Equal(t, int64(9), page.Entries[0].Meta.ID.Time)
	assert.Equal(t, int64(5), page.Entries[1].Meta.ID.Time)
	assert.Equal(t, int64(1), page.Entries[2].Meta.ID.Time)
}

// testPaging drains Get's page chain via Next until it terminates,
// asserting only that every entry is seen exactly once and in
// nonincreasing Added order: an implementation's own page size is
// private, so this asserts nothing about it.
func testPaging(t *testing.T, newStore func() store.Store) {
	ctx := context.Background()
	s := newStore()
	const count = 300
	for i := int64(0); i < count; i++ {
		_, _, err := s.Add(ctx, action.Action{"type": "x"}, action.Meta{ID: id.New(i, "a", 0), Reasons: []string{"t"}})
		require.NoError(t, err)
	}

	page, err := s.Get(ctx, store.OrderAdded)
	require.NoError(t, err)

	seen := make(map[id.ID]bool, count)
	var lastAdded int64 = -1
	for {
		for _, e := range page.Entries {
			require.False(t, seen[e.Meta.ID], "duplicate entry across pages")
			seen[e.Meta.ID] = true
			if lastAdded >= 0 {
				require.LessOrEqual(t, e.Meta.Added, lastAdded)
			}
			lastAdded = e.Meta.Added
		}
		if page.Next == nil {
			break
		}
		page, err = page.Next(ctx)
		require.NoError(t, err)
	}
	assert.Len(t, seen, count)
}

func testChangeMetaUnknownIDReturnsFalse(t *testing.T, newStore func() store.Store) {
	ok, err := newStore().ChangeMeta(context.Background(), id.New(1, "a", 0), map[string]any{"x": 1})
	require.NoError(t, err)
	assert.False(t, ok)
}

func testChangeMetaRejectsReservedFields(t *testing.T, newStore func() store.Store) {
	ctx := context.Background()
	s := newStore()
	i := id.New(1, "a", 0)
	_, _, err := s.Add(ctx, action.Action{"type": "x"}, action.Meta{ID: i, Reasons: []string{"t"}})
	require.NoError(t, err)
	_, err = s.ChangeMeta(ctx, i, map[string]any{"id": "nope"})
	assert.Error(t, err)
	_, err = s.ChangeMeta(ctx, i, map[string]any{"added": 5})
	assert.Error(t, err)
}

func testRemoveReasonDeletesWhenLastReason(t *testing.T, newStore func() store.Store) {
	ctx := context.Background()
	s := newStore()
	i := id.New(1, "a", 0)
	_, _, err := s.Add(ctx, action.Action{"type": "x"}, action.Meta{ID: i, Reasons: []string{"t"}})
	require.NoError(t, err)

	var removed []action.Meta
	err = s.RemoveReason(ctx, "t", store.Criteria{}, func(a action.Action, m action.Meta) {
		removed = append(removed, m)
	})
	require.NoError(t, err)
	require.Len(t, removed, 1)

	has, _ := s.Has(ctx, i)
	assert.False(t, has)
}

func testRemoveReasonKeepsOtherReasons(t *testing.T, newStore func() store.Store) {
	ctx := context.Background()
	s := newStore()
	i := id.New(1, "a", 0)
	_, _, err := s.Add(ctx, action.Action{"type": "x"}, action.Meta{ID: i, Reasons: []string{"t", "u"}})
	require.NoError(t, err)

	err = s.RemoveReason(ctx, "t", store.Criteria{}, func(action.Action, action.Meta) {})
	require.NoError(t, err)

	has, _ := s.Has(ctx, i)
	assert.True(t, has)
	_, meta, _, _ := s.ByID(ctx, i)
	assert.Equal(t, []string{"u"}, meta.Reasons)
}

func testRemoveReasonHonorsCriteria(t *testing.T, newStore func() store.Store) {
	ctx := context.Background()
	s := newStore()
	i1 := id.New(1, "a", 0)
	i2 := id.New(2, "a", 0)
	_, _, err := s.Add(ctx, action.Action{"type": "x"}, action.Meta{ID: i1, Reasons: []string{"t"}})
	require.NoError(t, err)
	m2, _, err := s.Add(ctx, action.Action{"type": "x"}, action.Meta{ID: i2, Reasons: []string{"t"}})
	require.NoError(t, err)

	err = s.RemoveReason(ctx, "t", store.Criteria{MinAdded: m2.Added}, func(action.Action, action.Meta) {})
	require.NoError(t, err)

	has1, _ := s.Has(ctx, i1)
	has2, _ := s.Has(ctx, i2)
	assert.True(t, has1)
	assert.False(t, has2)
}

func testLastAdded(t *testing.T, newStore func() store.Store) {
	ctx := context.Background()
	s := newStore()
	n, err := s.LastAdded(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	_, _, err = s.Add(ctx, action.Action{"type": "x"}, action.Meta{ID: id.New(1, "a", 0), Reasons: []string{"t"}})
	require.NoError(t, err)
	n, err = s.LastAdded(ctx)
	require.NoError(t, err)
	assert.NotZero(t, n)
}

func testLastSynced(t *testing.T, newStore func() store.Store) {
	ctx := context.Background()
	s := newStore()
	err := s.SetLastSynced(ctx, "peer1", store.Cursor{Sent: 5})
	require.NoError(t, err)
	err = s.SetLastSynced(ctx, "peer1", store.Cursor{Received: 7})
	require.NoError(t, err)

	c, err := s.GetLastSynced(ctx, "peer1")
	require.NoError(t, err)
	assert.Equal(t, store.Cursor{Sent: 5, Received: 7}, c)
}

func testRemoveDeletesEntry(t *testing.T, newStore func() store.Store) {
	ctx := context.Background()
	s := newStore()
	i := id.New(1, "a", 0)
	_, _, err := s.Add(ctx, action.Action{"type": "x"}, action.Meta{ID: i, Reasons: []string{"t"}})
	require.NoError(t, err)
	err = s.Remove(ctx, i)
	require.NoError(t, err)
	has, _ := s.Has(ctx, i)
	assert.False(t, has)
}
