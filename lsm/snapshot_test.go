package lsm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lsmredis/lsmredis/lsmerr"
	"github.com/lsmredis/lsmredis/vfs"
)

func TestSnapshotIsolation(t *testing.T) {
	fs := vfs.NewMemFS()
	db := openTestDB(t, fs, "/db", nil)
	defer db.Close()

	require.NoError(t, db.Set([]byte("a"), []byte("1")))
	snap := db.NewSnapshot()
	defer snap.Close()

	require.NoError(t, db.Set([]byte("a"), []byte("2")))
	require.NoError(t, db.Delete([]byte("a")))

	v, err := snap.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))

	v, err = db.Get([]byte("a"))
	require.Error(t, err)
	require.True(t, lsmerr.Is(err, lsmerr.NotFound))
	require.Nil(t, v)
}

func TestSnapshotDoesNotSeeLaterKeys(t *testing.T) {
	fs := vfs.NewMemFS()
	db := openTestDB(t, fs, "/db", nil)
	defer db.Close()

	snap := db.NewSnapshot()
	defer snap.Close()

	require.NoError(t, db.Set([]byte("new"), []byte("v")))
	_, err := snap.Get([]byte("new"))
	require.True(t, lsmerr.Is(err, lsmerr.NotFound))
}
