package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juanpablocruz/actionsync/pkg/action"
	"github.com/juanpablocruz/actionsync/pkg/id"
	"github.com/juanpablocruz/actionsync/pkg/store"
	"github.com/juanpablocruz/actionsync/pkg/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func() store.Store { return New() })
}

func TestGetPagingSplitsAtPageSize(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := int64(0); i < pageSize+10; i++ {
		_, _, err := s.Add(ctx, action.Action{"type": "x"}, action.Meta{ID: id.New(i, "a", 0), Reasons: []string{"t"}})
		require.NoError(t, err)
	}
	page, err := s.Get(ctx, store.OrderAdded)
	require.NoError(t, err)
	assert.Len(t, page.Entries, pageSize)
	require.NotNil(t, page.Next)

	next, err := page.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, next.Entries, 10)
	assert.Nil(t, next.Next)
}
