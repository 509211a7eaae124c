package manifest

import (
	"sort"

	"github.com/lsmredis/lsmredis/internal/base"
)

// Version is an immutable snapshot of the set of live files per level.
// Versions form a doubly linked list so a reader can pin the current
// version and later versions can still find it for reference counting.
type Version struct {
	Files [NumLevels][]*FileMetaData

	compactionScore int
	compactionLevel int

	prev, next *Version
	refs       int32
}

// NewVersion returns an empty Version, refs == 0.
func NewVersion() *Version {
	return &Version{}
}

// Ref/Unref pin/release a Version so it survives log_and_apply installing
// a newer current Version while a reader is still using it.
func (v *Version) Ref() { v.refs++ }

// Unref releases a pin. Returns true if this was the last reference and
// the version's files should be considered for deletion (if superseded).
func (v *Version) Unref() bool {
	v.refs--
	return v.refs == 0
}

// UpdateCompactionScore recomputes the per-level compaction score and
// records the level with the highest score, per the formulas: level 0
// scores files/L0CompactionThreshold; level >=1 scores
// totalBytes/levelMaxBytes(level).
func (v *Version) UpdateCompactionScore() {
	bestLevel := 0
	var bestScore float64
	for level := 0; level < NumLevels-1; level++ {
		var score float64
		if level == 0 {
			score = float64(len(v.Files[0])) / float64(base.L0CompactionThreshold)
		} else {
			score = float64(totalSize(v.Files[level])) / float64(base.LevelMaxBytes(level))
		}
		if score > bestScore {
			bestScore = score
			bestLevel = level
		}
	}
	// compactionScore is stored as score*1000 to keep an integer field
	// while retaining useful precision for comparisons and logging.
	v.compactionScore = int(bestScore * 1000)
	v.compactionLevel = bestLevel
}

// CompactionScore and CompactionLevel report the outcome of the last call
// to UpdateCompactionScore.
func (v *Version) CompactionScore() float64 { return float64(v.compactionScore) / 1000 }
func (v *Version) CompactionLevel() int     { return v.compactionLevel }

// NeedsCompaction reports whether background compaction should run.
func (v *Version) NeedsCompaction(fileToCompact *FileMetaData) bool {
	return v.CompactionScore() >= 1 || fileToCompact != nil
}

func totalSize(files []*FileMetaData) uint64 {
	var sum uint64
	for _, f := range files {
		sum += f.FileSize
	}
	return sum
}

// SortL0ByFileNumDescending orders level-0 files newest-first, matching
// the rule that newer flushes must be consulted before older ones since
// level 0 files may overlap in key range.
func SortL0ByFileNumDescending(files []*FileMetaData) {
	sort.Slice(files, func(i, j int) bool { return files[i].FileNum > files[j].FileNum })
}

// SortBySmallest orders files (any level >=1) by their smallest key,
// which is valid because such levels are internally non-overlapping.
func SortBySmallest(cmp base.Compare, files []*FileMetaData) {
	sort.Slice(files, func(i, j int) bool {
		return base.InternalCompare(cmp, files[i].Smallest, files[j].Smallest) < 0
	})
}

// GetResult is the outcome of a point lookup against a Version.
type GetResult int

const (
	GetNotFound GetResult = iota
	GetFound
	GetDeleted
)

// Get searches level 0 newest-first, then each level >=1 via binary
// search on Largest, returning the first Found or Delete encountered. It
// also reports the first file actually probed on a miss, so the caller
// can apply the seek-compaction heuristic.
func (v *Version) Get(cmp base.Compare, ucmp base.Compare, userKey []byte, seqNum uint64, get func(f *FileMetaData, userKey []byte, seqNum uint64) (value []byte, result GetResult, hit bool)) (value []byte, result GetResult, fileToCompact *FileMetaData) {
	var seenFile *FileMetaData

	tryFile := func(f *FileMetaData) (done bool) {
		val, res, hit := get(f, userKey, seqNum)
		if !hit {
			if seenFile == nil {
				seenFile = f
			}
			return false
		}
		if seenFile == nil {
			seenFile = f
		}
		value, result = val, res
		return true
	}

	l0 := append([]*FileMetaData(nil), v.Files[0]...)
	SortL0ByFileNumDescending(l0)
	for _, f := range l0 {
		if ucmp(userKey, f.Smallest.UserKey) < 0 || ucmp(userKey, f.Largest.UserKey) > 0 {
			continue
		}
		if tryFile(f) {
			goto done
		}
	}

	for level := 1; level < NumLevels; level++ {
		files := v.Files[level]
		idx := sort.Search(len(files), func(i int) bool {
			return ucmp(files[i].Largest.UserKey, userKey) >= 0
		})
		if idx >= len(files) {
			continue
		}
		f := files[idx]
		if ucmp(userKey, f.Smallest.UserKey) < 0 {
			continue
		}
		if tryFile(f) {
			goto done
		}
	}

	result = GetNotFound

done:
	if seenFile != nil && result != GetFound && result != GetDeleted {
		if seenFile.AllowedSeeks.Add(-1) <= 0 {
			fileToCompact = seenFile
		}
	}
	return value, result, fileToCompact
}

// OverlappingInputs returns the files at level whose key range intersects
// [begin, end]. At level 0, the search re-expands the range whenever an
// included file widens it, since level-0 files may overlap arbitrarily;
// at levels >=1 files are disjoint so a single contiguous slice suffices.
func (v *Version) OverlappingInputs(cmp base.Compare, level int, begin, end []byte) []*FileMetaData {
	var result []*FileMetaData
	files := v.Files[level]
	if level > 0 {
		lo := sort.Search(len(files), func(i int) bool { return cmp(files[i].Largest.UserKey, begin) >= 0 })
		for i := lo; i < len(files); i++ {
			if cmp(files[i].Smallest.UserKey, end) > 0 {
				break
			}
			result = append(result, files[i])
		}
		return result
	}
	for i := 0; i < len(files); i++ {
		f := files[i]
		if cmp(f.Largest.UserKey, begin) < 0 || cmp(f.Smallest.UserKey, end) > 0 {
			continue
		}
		result = append(result, f)
		if cmp(f.Smallest.UserKey, begin) < 0 {
			begin = f.Smallest.UserKey
			result = nil
			i = -1
			continue
		}
		if cmp(f.Largest.UserKey, end) > 0 {
			end = f.Largest.UserKey
			result = nil
			i = -1
			continue
		}
	}
	return result
}
