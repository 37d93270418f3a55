package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juanpablocruz/actionsync/pkg/action"
	"github.com/juanpablocruz/actionsync/pkg/id"
	"github.com/juanpablocruz/actionsync/pkg/store"
	"github.com/juanpablocruz/actionsync/pkg/store/memstore"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := New("node1", memstore.New())
	require.NoError(t, err)
	return l
}

func TestNewRejectsMissingNodeID(t *testing.T) {
	_, err := New("", memstore.New())
	assert.Error(t, err)
}

func TestNewRejectsNilStore(t *testing.T) {
	_, err := New("node1", nil)
	assert.Error(t, err)
}

func TestAddRequiresType(t *testing.T) {
	l := newTestLog(t)
	_, _, err := l.Add(context.Background(), action.Action{}, action.Meta{})
	assert.Error(t, err)
}

func TestGenerateIDMonotonic(t *testing.T) {
	tick := int64(0)
	l, err := New("node1", memstore.New(), WithTimer(func() int64 { return tick }))
	require.NoError(t, err)

	a := l.GenerateID()
	b := l.GenerateID()
	c := l.GenerateID()
	assert.True(t, id.Less(a, b))
	assert.True(t, id.Less(b, c))

	tick = 5
	d := l.GenerateID()
	assert.True(t, id.Less(c, d))
	assert.Equal(t, int64(5), d.Time)
}

func TestGenerateIDClockRollback(t *testing.T) {
	tick := int64(10)
	l, err := New("node1", memstore.New(), WithTimer(func() int64 { return tick }))
	require.NoError(t, err)

	a := l.GenerateID()
	tick = 3 // clock jumps backward
	b := l.GenerateID()
	assert.True(t, id.Less(a, b))
	assert.Equal(t, int64(10), b.Time) // lastTime reused, not the rolled-back clock
}

func TestAddReasonlessFreshIDEmitsButDoesNotPersist(t *testing.T) {
	l := newTestLog(t)
	var got []Entry
	l.OnAdd(func(e Entry) { got = append(got, e) })

	m, ok, err := l.Add(context.Background(), action.Action{"type": "x"}, action.Meta{})
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, got, 1)

	var seen bool
	err = l.Each(context.Background(), store.OrderAdded, func(action.Action, action.Meta) bool {
		seen = true
		return true
	})
	require.NoError(t, err)
	assert.False(t, seen)
	assert.Empty(t, m.Reasons)
}

func TestAddReasonlessExternalIDDuplicateReturnsFalse(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	i := id.New(1, "peer", 0)

	// First: persist with a reason so store.Has(i) becomes true.
	_, ok, err := l.Add(ctx, action.Action{"type": "x"}, action.Meta{ID: i, Reasons: []string{"t"}})
	require.NoError(t, err)
	require.True(t, ok)

	// Second: reasonless add with the same externally supplied id.
	_, ok, err = l.Add(ctx, action.Action{"type": "x"}, action.Meta{ID: i})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddReasonedPersists(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	var added []Entry
	l.OnAdd(func(e Entry) { added = append(added, e) })

	m, ok, err := l.Add(ctx, action.Action{"type": "x"}, action.Meta{Reasons: []string{"t"}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotZero(t, m.Added)
	require.Len(t, added, 1)

	var count int
	l.Each(ctx, store.OrderAdded, func(action.Action, action.Meta) bool {
		count++
		return true
	})
	assert.Equal(t, 1, count)
}

func TestAddDuplicateReasonedReturnsFalseWithoutSecondEmit(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	i := id.New(1, "peer", 0)
	var count int
	l.OnAdd(func(Entry) { count++ })

	_, ok, err := l.Add(ctx, action.Action{"type": "x"}, action.Meta{ID: i, Reasons: []string{"t"}})
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.Add(ctx, action.Action{"type": "x"}, action.Meta{ID: i, Reasons: []string{"t"}})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, count)
}

func TestBeforeCanAddReasons(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	l.OnBefore(func(e *Entry) {
		e.Meta.AddReason("keep")
	})

	m, ok, err := l.Add(ctx, action.Action{"type": "x"}, action.Meta{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"keep"}, m.Reasons)

	var count int
	l.Each(ctx, store.OrderAdded, func(action.Action, action.Meta) bool { count++; return true })
	assert.Equal(t, 1, count)
}

func TestChangeMetaRejectsReservedFields(t *testing.T) {
	l := newTestLog(t)
	_, err := l.ChangeMeta(context.Background(), id.New(1, "a", 0), map[string]any{"id": "x"})
	assert.Error(t, err)
}

func TestChangeMetaEmitsOnSuccess(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	m, _, err := l.Add(ctx, action.Action{"type": "x"}, action.Meta{Reasons: []string{"t"}})
	require.NoError(t, err)

	var events []ChangeMetaEvent
	l.OnChangeMeta(func(e ChangeMetaEvent) { events = append(events, e) })

	ok, err := l.ChangeMeta(ctx, m.ID, map[string]any{"custom": "v"})
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, events, 1)
}

func TestRemoveReasonEmitsClean(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	_, _, err := l.Add(ctx, action.Action{"type": "x"}, action.Meta{Reasons: []string{"t"}})
	require.NoError(t, err)

	var cleaned []Entry
	l.OnClean(func(e Entry) { cleaned = append(cleaned, e) })

	err = l.RemoveReason(ctx, "t", store.Criteria{})
	require.NoError(t, err)
	require.Len(t, cleaned, 1)
}

func TestEachAbortsOnFalse(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		l.Add(ctx, action.Action{"type": "x"}, action.Meta{Reasons: []string{"t"}})
	}

	var count int
	l.Each(ctx, store.OrderAdded, func(action.Action, action.Meta) bool {
		count++
		return false
	})
	assert.Equal(t, 1, count)
}

func TestListenersRunInRegistrationOrder(t *testing.T) {
	l := newTestLog(t)
	var order []int
	l.OnAdd(func(Entry) { order = append(order, 1) })
	l.OnAdd(func(Entry) { order = append(order, 2) })
	l.Add(context.Background(), action.Action{"type": "x"}, action.Meta{})
	assert.Equal(t, []int{1, 2}, order)
}
