package lsm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lsmredis/lsmredis/internal/base"
)

func TestMemtableGetLatestVersion(t *testing.T) {
	m := newMemtable(base.DefaultComparer.Compare)
	m.Add(base.MakeInternalKey([]byte("k"), 1, base.InternalKeyKindSet), []byte("v1"))
	m.Add(base.MakeInternalKey([]byte("k"), 2, base.InternalKeyKindSet), []byte("v2"))

	v, kind, ok := m.Get([]byte("k"), 10)
	require.True(t, ok)
	require.Equal(t, base.InternalKeyKindSet, kind)
	require.Equal(t, "v2", string(v))
}

func TestMemtableGetAsOfSequence(t *testing.T) {
	m := newMemtable(base.DefaultComparer.Compare)
	m.Add(base.MakeInternalKey([]byte("k"), 1, base.InternalKeyKindSet), []byte("v1"))
	m.Add(base.MakeInternalKey([]byte("k"), 2, base.InternalKeyKindSet), []byte("v2"))

	v, _, ok := m.Get([]byte("k"), 1)
	require.True(t, ok)
	require.Equal(t, "v1", string(v))
}

func TestMemtableGetMissing(t *testing.T) {
	m := newMemtable(base.DefaultComparer.Compare)
	_, _, ok := m.Get([]byte("missing"), 100)
	require.False(t, ok)
}

func TestMemtableGetDeleteTombstone(t *testing.T) {
	m := newMemtable(base.DefaultComparer.Compare)
	m.Add(base.MakeInternalKey([]byte("k"), 1, base.InternalKeyKindSet), []byte("v1"))
	m.Add(base.MakeInternalKey([]byte("k"), 2, base.InternalKeyKindDelete), nil)

	_, kind, ok := m.Get([]byte("k"), 10)
	require.True(t, ok)
	require.Equal(t, base.InternalKeyKindDelete, kind)
}

func TestMemtableIteratorOrder(t *testing.T) {
	m := newMemtable(base.DefaultComparer.Compare)
	m.Add(base.MakeInternalKey([]byte("b"), 1, base.InternalKeyKindSet), []byte("2"))
	m.Add(base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindSet), []byte("1"))
	m.Add(base.MakeInternalKey([]byte("c"), 1, base.InternalKeyKindSet), []byte("3"))

	it := m.NewIterator()
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key().UserKey))
	}
	require.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestMemtableApproxSize(t *testing.T) {
	m := newMemtable(base.DefaultComparer.Compare)
	require.Equal(t, 0, m.ApproxSize())
	m.Add(base.MakeInternalKey([]byte("k"), 1, base.InternalKeyKindSet), []byte("value"))
	require.Greater(t, m.ApproxSize(), 0)
}
