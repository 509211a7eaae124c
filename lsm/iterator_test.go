package lsm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lsmredis/lsmredis/internal/base"
	"github.com/lsmredis/lsmredis/vfs"
)

func TestIteratorRangeScanOrderAndDedup(t *testing.T) {
	fs := vfs.NewMemFS()
	db := openTestDB(t, fs, "/db", nil)
	defer db.Close()

	require.NoError(t, db.Set([]byte("b"), []byte("1")))
	require.NoError(t, db.Set([]byte("a"), []byte("1")))
	require.NoError(t, db.Set([]byte("a"), []byte("2"))) // superseded version of "a"
	require.NoError(t, db.Set([]byte("c"), []byte("1")))
	require.NoError(t, db.Delete([]byte("c")))

	it, err := db.NewIter(nil, nil)
	require.NoError(t, err)

	var keys, values []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
		values = append(values, string(it.Value()))
	}
	require.Equal(t, []string{"a", "b"}, keys)
	require.Equal(t, []string{"2", "1"}, values)
}

func TestIteratorBounds(t *testing.T) {
	fs := vfs.NewMemFS()
	db := openTestDB(t, fs, "/db", nil)
	defer db.Close()

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, db.Set([]byte(k), []byte("v")))
	}

	it, err := db.NewIter([]byte("b"), []byte("d"))
	require.NoError(t, err)

	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.Equal(t, []string{"b", "c"}, keys)
}

func TestIteratorAcrossMemtableAndTable(t *testing.T) {
	fs := vfs.NewMemFS()
	opts := &Options{Options: &base.Options{CreateIfMissing: true, WriteBufferSize: 1}}
	db, err := Open("/db", fs, opts)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Set([]byte("a"), []byte("1")))
	require.NoError(t, db.Set([]byte("b"), []byte("2")))
	require.NoError(t, db.Set([]byte("c"), []byte("3")))

	it, err := db.NewIter(nil, nil)
	require.NoError(t, err)
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.Equal(t, []string{"a", "b", "c"}, keys)
}
