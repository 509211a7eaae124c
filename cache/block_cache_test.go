package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockCacheGetInsertEviction(t *testing.T) {
	c := NewBlockCache(10)
	k1 := BlockKey{FileNum: 1, Offset: 0}
	k2 := BlockKey{FileNum: 1, Offset: 100}

	c.Insert(k1, []byte("0123456789"))
	require.Equal(t, int64(10), c.Size())

	c.Insert(k2, []byte("abc"))
	// k1 must have been evicted to stay within the 10-byte budget.
	_, ok := c.Get(k1)
	require.False(t, ok)
	v, ok := c.Get(k2)
	require.True(t, ok)
	require.Equal(t, "abc", string(v))
}

func TestBlockCacheHitMissCounters(t *testing.T) {
	c := NewBlockCache(100)
	k := BlockKey{FileNum: 1, Offset: 0}

	_, ok := c.Get(k)
	require.False(t, ok)
	require.Equal(t, uint64(0), c.Hits())
	require.Equal(t, uint64(1), c.Misses())

	c.Insert(k, []byte("v"))
	_, ok = c.Get(k)
	require.True(t, ok)
	require.Equal(t, uint64(1), c.Hits())
	require.Equal(t, uint64(1), c.Misses())
}

func TestBlockCacheInsertReplacesExisting(t *testing.T) {
	c := NewBlockCache(100)
	k := BlockKey{FileNum: 1, Offset: 0}

	c.Insert(k, []byte("old"))
	c.Insert(k, []byte("newvalue"))

	v, ok := c.Get(k)
	require.True(t, ok)
	require.Equal(t, "newvalue", string(v))
	require.Equal(t, int64(len("newvalue")), c.Size())
}
