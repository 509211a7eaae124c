package lsm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lsmredis/lsmredis/internal/base"
	"github.com/lsmredis/lsmredis/lsmerr"
	"github.com/lsmredis/lsmredis/vfs"
)

func openTestDB(t *testing.T, fs vfs.FS, dir string, opts *Options) *DB {
	if opts == nil {
		opts = &Options{}
	}
	if opts.Options == nil {
		opts.Options = &base.Options{}
	}
	opts.Options.CreateIfMissing = true
	db, err := Open(dir, fs, opts)
	require.NoError(t, err)
	return db
}

func TestDBSetGetDelete(t *testing.T) {
	fs := vfs.NewMemFS()
	db := openTestDB(t, fs, "/db", nil)
	defer db.Close()

	require.NoError(t, db.Set([]byte("a"), []byte("1")))
	v, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))

	require.NoError(t, db.Set([]byte("a"), []byte("2")))
	v, err = db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "2", string(v))

	require.NoError(t, db.Delete([]byte("a")))
	_, err = db.Get([]byte("a"))
	require.Error(t, err)
}

func TestDBApplyBatch(t *testing.T) {
	fs := vfs.NewMemFS()
	db := openTestDB(t, fs, "/db", nil)
	defer db.Close()

	b := NewBatch()
	b.Set([]byte("x"), []byte("1"))
	b.Set([]byte("y"), []byte("2"))
	require.NoError(t, db.Apply(b))

	v, err := db.Get([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))
	v, err = db.Get([]byte("y"))
	require.NoError(t, err)
	require.Equal(t, "2", string(v))
}

func TestDBCloseReopenKeepsData(t *testing.T) {
	fs := vfs.NewMemFS()
	opts := &Options{Options: &base.Options{CreateIfMissing: true}}

	db, err := Open("/db", fs, opts)
	require.NoError(t, err)
	require.NoError(t, db.Set([]byte("a"), []byte("1")))
	require.NoError(t, db.Set([]byte("b"), []byte("2")))
	require.NoError(t, db.Close())

	db2, err := Open("/db", fs, opts)
	require.NoError(t, err)
	defer db2.Close()

	v, err := db2.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))
	v, err = db2.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, "2", string(v))
}

// A checksum mismatch mid-WAL must abort recovery with a diagnostic
// rather than silently truncate replay at the corrupt record.
func TestDBOpenAbortsOnCorruptWAL(t *testing.T) {
	fs := vfs.NewMemFS()
	opts := &Options{Options: &base.Options{CreateIfMissing: true}}

	db, err := Open("/db", fs, opts)
	require.NoError(t, err)
	require.NoError(t, db.Set([]byte("a"), []byte("1")))
	require.NoError(t, db.Set([]byte("b"), []byte("2")))
	// Abandon db the way a crash would. Close would flush the memtable and
	// mark this WAL obsolete, so reopening would never replay it.
	db.bgStop()
	_ = db.bgGroup.Wait()
	require.NoError(t, db.lock.Close())

	names, err := fs.List("/db")
	require.NoError(t, err)
	var walName string
	for _, name := range names {
		if strings.HasSuffix(name, ".log") {
			walName = name
			break
		}
	}
	require.NotEmpty(t, walName, "expected a WAL file to exist after the crash")
	walPath := "/db/" + walName

	f, err := fs.Open(walPath)
	require.NoError(t, err)
	info, err := f.Stat()
	require.NoError(t, err)
	buf := make([]byte, info.Size())
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NotZero(t, len(buf))

	// Flip a byte inside the first record's checksum so the reader
	// detects corruption instead of a clean truncated tail.
	buf[0] ^= 0xff

	f2, err := fs.Create(walPath)
	require.NoError(t, err)
	_, err = f2.Write(buf)
	require.NoError(t, err)
	require.NoError(t, f2.Close())

	_, err = Open("/db", fs, opts)
	require.Error(t, err)
	require.True(t, lsmerr.Is(err, lsmerr.Corruption), "expected a corruption error, got %v", err)
}

func TestDBFlushThenReadThroughTable(t *testing.T) {
	fs := vfs.NewMemFS()
	// A tiny write buffer forces every write to flush to an L0 table.
	opts := &Options{Options: &base.Options{CreateIfMissing: true, WriteBufferSize: 1}}
	db, err := Open("/db", fs, opts)
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 50; i++ {
		require.NoError(t, db.Set([]byte{byte(i)}, []byte("value")))
	}
	for i := 0; i < 50; i++ {
		v, err := db.Get([]byte{byte(i)})
		require.NoError(t, err)
		require.Equal(t, "value", string(v))
	}
}
