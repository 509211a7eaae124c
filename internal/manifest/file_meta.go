// Package manifest owns the Version/VersionEdit/VersionSet machinery that
// tracks the set of live table files per level and persists changes to a
// manifest log.
package manifest

import (
	"sync/atomic"

	"github.com/lsmredis/lsmredis/internal/base"
)

// NumLevels is the fixed number of levels in the LSM tree.
const NumLevels = base.NumLevels

// FileMetaData describes one on-disk table file.
type FileMetaData struct {
	FileNum  uint64
	FileSize uint64
	Smallest base.InternalKey
	Largest  base.InternalKey

	// AllowedSeeks is decremented, unlocked, by every unlocked reader that
	// probes this file and misses; it is atomic rather than lock-guarded
	// for exactly that reason, matching how the teacher guards the same
	// counter (internal/manifest/version.go's own AllowedSeeks).
	AllowedSeeks atomic.Int32

	refs int32
}

// NewFileMetaData seeds AllowedSeeks proportional to size, as described in
// the seek-compaction heuristic: one allowed miss per 16 KiB of file, with
// a floor of 100 so tiny files aren't immediately marked for compaction.
func NewFileMetaData(fileNum, fileSize uint64, smallest, largest base.InternalKey) *FileMetaData {
	seeks := int32(fileSize / (16 << 10))
	if seeks < 100 {
		seeks = 100
	}
	f := &FileMetaData{
		FileNum:  fileNum,
		FileSize: fileSize,
		Smallest: smallest,
		Largest:  largest,
	}
	f.AllowedSeeks.Store(seeks)
	return f
}

func (f *FileMetaData) ref()   { f.refs++ }
func (f *FileMetaData) unref() int32 {
	f.refs--
	return f.refs
}
