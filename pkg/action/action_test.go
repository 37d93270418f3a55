package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/juanpablocruz/actionsync/pkg/id"
)

func TestActionType(t *testing.T) {
	a := Action{"type": "todo/add", "text": "milk"}
	typ, ok := a.Type()
	assert.True(t, ok)
	assert.Equal(t, "todo/add", typ)

	missing := Action{"text": "milk"}
	_, ok = missing.Type()
	assert.False(t, ok)
}

func TestActionCloneIsIndependent(t *testing.T) {
	a := Action{"type": "x", "n": 1}
	c := a.Clone()
	c["n"] = 2
	assert.Equal(t, 1, a["n"])
	assert.Equal(t, 2, c["n"])
}

func TestMetaReasons(t *testing.T) {
	m := Meta{ID: id.New(1, "a", 0)}
	assert.False(t, m.HasReason("t"))
	m.AddReason("t")
	m.AddReason("t") // idempotent
	assert.Equal(t, []string{"t"}, m.Reasons)

	m.AddReason("u")
	assert.True(t, m.RemoveReason("t"))
	assert.Equal(t, []string{"u"}, m.Reasons)
	assert.False(t, m.RemoveReason("t"))
}

func TestMetaCloneIndependent(t *testing.T) {
	m := Meta{ID: id.New(1, "a", 0), Reasons: []string{"t"}}
	m.SetExtra("origin", "peer1")

	c := m.Clone()
	c.Reasons[0] = "changed"
	c.SetExtra("origin", "peer2")

	assert.Equal(t, "t", m.Reasons[0])
	v, _ := m.GetExtra("origin")
	assert.Equal(t, "peer1", v)
	v2, _ := c.GetExtra("origin")
	assert.Equal(t, "peer2", v2)
}

func TestMetaGetExtraNilMap(t *testing.T) {
	var m Meta
	_, ok := m.GetExtra("x")
	assert.False(t, ok)
}
