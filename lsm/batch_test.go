package lsm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lsmredis/lsmredis/internal/base"
)

func TestBatchRoundTrip(t *testing.T) {
	b := NewBatch()
	b.Set([]byte("a"), []byte("1"))
	b.Set([]byte("b"), []byte("2"))
	b.Delete([]byte("a"))
	require.Equal(t, uint32(3), b.Count())
	require.False(t, b.Empty())

	b.SetSeqNum(42)
	require.Equal(t, uint64(42), b.SeqNum())
	encodeBatchHeader(b.Data(), b.SeqNum(), b.Count())

	br, err := newBatchReader(b.Data())
	require.NoError(t, err)

	kind, key, value, ok, err := br.next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, base.InternalKeyKindSet, kind)
	require.Equal(t, "a", string(key))
	require.Equal(t, "1", string(value))

	kind, key, value, ok, err = br.next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, base.InternalKeyKindSet, kind)
	require.Equal(t, "b", string(key))
	require.Equal(t, "2", string(value))

	kind, key, _, ok, err = br.next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, base.InternalKeyKindDelete, kind)
	require.Equal(t, "a", string(key))

	_, _, _, ok, err = br.next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBatchEmpty(t *testing.T) {
	b := NewBatch()
	require.True(t, b.Empty())
	require.Equal(t, uint32(0), b.Count())
}
