package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareByTime(t *testing.T) {
	a := New(1, "a", 0)
	b := New(2, "a", 0)
	assert.Equal(t, -1, Compare(a, b))
	assert.Equal(t, 1, Compare(b, a))
	assert.True(t, Less(a, b))
	assert.False(t, Less(b, a))
}

func TestCompareNodeIDNumericSuffix(t *testing.T) {
	a := New(1, "server:2", 0)
	b := New(1, "server:10", 0)
	// "2" < "10" numerically, though "10" < "2" lexicographically.
	assert.True(t, Less(a, b))
}

func TestCompareNodeIDLexicographicFallback(t *testing.T) {
	a := New(1, "server:abc", 0)
	b := New(1, "server:abd", 0)
	assert.True(t, Less(a, b))
}

func TestCompareSameMachineDiffersBySequence(t *testing.T) {
	a := New(5, "node1", 0)
	b := New(5, "node1", 1)
	assert.True(t, Less(a, b))
	assert.False(t, Equal(a, b))
}

func TestCompareEqual(t *testing.T) {
	a := New(5, "node1", 3)
	b := New(5, "node1", 3)
	assert.Equal(t, 0, Compare(a, b))
	assert.True(t, Equal(a, b))
}

func TestIsFirstOlderNilHandling(t *testing.T) {
	a := New(1, "a", 0)
	assert.True(t, IsFirstOlder(nil, &a))
	assert.False(t, IsFirstOlder(&a, nil))
	assert.False(t, IsFirstOlder(nil, nil))
	assert.False(t, IsFirstOlder(&a, &a))
}

func TestNewNodeIDUnique(t *testing.T) {
	a := NewNodeID()
	b := NewNodeID()
	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)
}

func TestStringFormat(t *testing.T) {
	a := New(42, "node1", 7)
	assert.Equal(t, "42 node1 7", a.String())
}
