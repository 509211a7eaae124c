package manifest

import (
	"testing"

	"github.com/lsmredis/lsmredis/internal/base"
	"github.com/lsmredis/lsmredis/vfs"
	"github.com/stretchr/testify/require"
)

func mkKey(s string, seq uint64) base.InternalKey {
	return base.MakeInternalKey([]byte(s), seq, base.InternalKeyKindSet)
}

func TestVersionEditRoundTrip(t *testing.T) {
	e := &VersionEdit{
		HasComparator:   true,
		ComparatorName:  "lsmredis.BytewiseComparator",
		HasLogNumber:    true,
		LogNumber:       7,
		HasNextFileNum:  true,
		NextFileNumber:  9,
		HasLastSequence: true,
		LastSequence:    42,
		DeletedFiles:    []DeletedFileEntry{{Level: 0, FileNum: 3}},
		NewFiles: []NewFileEntry{{
			Level: 1, FileNum: 8, FileSize: 4096,
			Smallest: mkKey("a", 1), Largest: mkKey("z", 1),
		}},
	}
	decoded, err := Decode(e.Encode())
	require.NoError(t, err)
	require.Equal(t, e.ComparatorName, decoded.ComparatorName)
	require.Equal(t, e.LogNumber, decoded.LogNumber)
	require.Equal(t, e.NextFileNumber, decoded.NextFileNumber)
	require.Equal(t, e.LastSequence, decoded.LastSequence)
	require.Len(t, decoded.DeletedFiles, 1)
	require.Len(t, decoded.NewFiles, 1)
	require.Equal(t, "a", string(decoded.NewFiles[0].Smallest.UserKey))
}

func TestBuilderAppliesAddAndDelete(t *testing.T) {
	base0 := NewVersion()
	base0.Files[1] = []*FileMetaData{NewFileMetaData(1, 100, mkKey("a", 1), mkKey("m", 1))}

	b := NewBuilder(base.DefaultCompare, base0)
	b.Apply(&VersionEdit{
		DeletedFiles: []DeletedFileEntry{{Level: 1, FileNum: 1}},
		NewFiles: []NewFileEntry{
			{Level: 1, FileNum: 2, FileSize: 200, Smallest: mkKey("a", 2), Largest: mkKey("z", 2)},
		},
	})
	v := b.Finish()
	require.Len(t, v.Files[1], 1)
	require.Equal(t, uint64(2), v.Files[1][0].FileNum)
}

func TestVersionSetCreateAndRecover(t *testing.T) {
	fs := vfs.NewMemFS()
	require.NoError(t, fs.MkdirAll("/db"))

	vs := NewVersionSet("/db", fs, base.DefaultCompare, base.DefaultComparer.Name)
	require.NoError(t, vs.CreateManifest())

	_, err := vs.LogAndApply(&VersionEdit{
		HasLogNumber: true, LogNumber: 1,
		NewFiles: []NewFileEntry{
			{Level: 0, FileNum: 2, FileSize: 500, Smallest: mkKey("a", 1), Largest: mkKey("b", 1)},
		},
	})
	require.NoError(t, err)
	require.Len(t, vs.Current().Files[0], 1)

	recovered, err := Recover("/db", fs, base.DefaultCompare, base.DefaultComparer.Name)
	require.NoError(t, err)
	require.Len(t, recovered.Current().Files[0], 1)
	require.Equal(t, uint64(2), recovered.Current().Files[0][0].FileNum)
}
