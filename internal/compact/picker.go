// Package compact picks and executes level->level+1 merges: choosing
// inputs, detecting trivial moves, and streaming a merged output while
// respecting grandparent overlap limits.
package compact

import (
	"github.com/lsmredis/lsmredis/internal/base"
	"github.com/lsmredis/lsmredis/internal/manifest"
)

const (
	// expandedCompactionByteSizeLimitMultiplier times MaxFileSize caps how
	// far setupOtherInputs may grow inputs[0] once inputs[1] is fixed.
	expandedCompactionByteSizeLimitMultiplier = 25
	// maxGrandparentOverlapBytesMultiplier bounds how much level+2 data a
	// single compaction output file may overlap before a trivial move is
	// disallowed or a stop-before boundary is inserted.
	maxGrandparentOverlapBytesMultiplier = 10
)

// Compaction describes one level -> level+1 merge: which files participate
// and which grandparent files bound the output file sizes.
type Compaction struct {
	Version     *manifest.Version
	Level       int
	Inputs      [2][]*manifest.FileMetaData // 0: level, 1: level+1
	Grandparents []*manifest.FileMetaData

	grandparentIndex   int
	grandparentOverlap int64
	seenFirstKey       bool
}

func maxFileSize(o *base.Options) int64 { return int64(o.MaxFileSize) }

// Pick selects the next compaction to run: if the version's compaction
// score names a level, seed with the first file at that level whose
// largest key sorts after the level's compaction pointer (wrapping to the
// first file if none does); otherwise, if fileToCompact is set (a
// seek-compaction candidate), use that file alone.
func Pick(o *base.Options, cmp base.Compare, v *manifest.Version, vs *manifest.VersionSet, fileToCompact *manifest.FileMetaData) *Compaction {
	level := v.CompactionLevel()
	var seed *manifest.FileMetaData

	if v.CompactionScore() >= 1 {
		pointer := vs.CompactPointer(level)
		for _, f := range v.Files[level] {
			if !pointer.Valid() || cmp(f.Largest.UserKey, pointer.UserKey) > 0 {
				seed = f
				break
			}
		}
		if seed == nil && len(v.Files[level]) > 0 {
			seed = v.Files[level][0]
		}
	} else if fileToCompact != nil {
		level = levelOf(v, fileToCompact)
		seed = fileToCompact
	}
	if seed == nil {
		return nil
	}

	c := &Compaction{Version: v, Level: level}
	c.Inputs[0] = []*manifest.FileMetaData{seed}
	if level == 0 {
		begin, end := seed.Smallest.UserKey, seed.Largest.UserKey
		c.Inputs[0] = v.OverlappingInputs(cmp, 0, begin, end)
	}
	setupOtherInputs(o, cmp, v, c)
	return c
}

func levelOf(v *manifest.Version, f *manifest.FileMetaData) int {
	for level := 0; level < manifest.NumLevels; level++ {
		for _, cand := range v.Files[level] {
			if cand.FileNum == f.FileNum {
				return level
			}
		}
	}
	return 0
}

func inputRange(cmp base.Compare, files []*manifest.FileMetaData) (smallest, largest []byte) {
	for i, f := range files {
		if i == 0 || cmp(f.Smallest.UserKey, smallest) < 0 {
			smallest = f.Smallest.UserKey
		}
		if i == 0 || cmp(f.Largest.UserKey, largest) > 0 {
			largest = f.Largest.UserKey
		}
	}
	return smallest, largest
}

// setupOtherInputs computes inputs[1] (the overlapping files at level+1),
// then tries to grow inputs[0] further without pulling in additional
// inputs[1] files, capped by expandedCompactionByteSizeLimit. It also
// records the overlapping grandparent files at level+2.
func setupOtherInputs(o *base.Options, cmp base.Compare, v *manifest.Version, c *Compaction) {
	smallest0, largest0 := inputRange(cmp, c.Inputs[0])
	c.Inputs[1] = v.OverlappingInputs(cmp, c.Level+1, smallest0, largest0)

	allSmallest, allLargest := smallest0, largest0
	if len(c.Inputs[1]) > 0 {
		s1, l1 := inputRange(cmp, c.Inputs[1])
		if cmp(s1, allSmallest) < 0 {
			allSmallest = s1
		}
		if cmp(l1, allLargest) > 0 {
			allLargest = l1
		}
	}

	if len(c.Inputs[1]) > 0 {
		expanded0 := v.OverlappingInputs(cmp, c.Level, allSmallest, allLargest)
		if len(expanded0) > len(c.Inputs[0]) {
			es, el := inputRange(cmp, expanded0)
			expanded1 := v.OverlappingInputs(cmp, c.Level+1, es, el)
			if len(expanded1) == len(c.Inputs[1]) {
				limit := int64(o.MaxFileSize) * expandedCompactionByteSizeLimitMultiplier
				if totalSize(expanded0)+totalSize(expanded1) < uint64(limit) {
					c.Inputs[0] = expanded0
					c.Inputs[1] = expanded1
					allSmallest, allLargest = es, el
				}
			}
		}
	}

	if c.Level+2 < manifest.NumLevels {
		c.Grandparents = v.OverlappingInputs(cmp, c.Level+2, allSmallest, allLargest)
	}
}

func totalSize(files []*manifest.FileMetaData) uint64 {
	var sum uint64
	for _, f := range files {
		sum += f.FileSize
	}
	return sum
}

// IsTrivialMove reports whether c can be satisfied by reassigning a single
// file to level+1 without rewriting it: exactly one input file, no
// overlapping file at level+1, and low grandparent overlap.
func (c *Compaction) IsTrivialMove(o *base.Options) bool {
	if len(c.Inputs[0]) != 1 || len(c.Inputs[1]) != 0 {
		return false
	}
	limit := uint64(maxFileSize(o)) * maxGrandparentOverlapBytesMultiplier
	return totalSize(c.Grandparents) <= limit
}

// ShouldStopBefore reports whether emitting key would push the running
// grandparent-overlap total for the current output file past the limit,
// in which case the caller should close the current output file first.
// It advances the internal grandparent cursor as keys move forward.
func (c *Compaction) ShouldStopBefore(cmp base.Compare, o *base.Options, key []byte) bool {
	limit := uint64(maxFileSize(o)) * maxGrandparentOverlapBytesMultiplier
	for c.grandparentIndex < len(c.Grandparents) &&
		cmp(key, c.Grandparents[c.grandparentIndex].Largest.UserKey) > 0 {
		if c.seenFirstKey {
			c.grandparentOverlap += int64(c.Grandparents[c.grandparentIndex].FileSize)
		}
		c.grandparentIndex++
	}
	c.seenFirstKey = true
	return uint64(c.grandparentOverlap) > limit
}

// IsBaseLevelForKey reports whether level c.Level+1 is the last level
// containing userKey, i.e. no level above level+1 (deeper number) also
// holds it, which allows the merge step to drop tombstones outright
// instead of carrying them forward.
func (c *Compaction) IsBaseLevelForKey(cmp base.Compare, userKey []byte) bool {
	for level := c.Level + 2; level < manifest.NumLevels; level++ {
		for _, f := range c.Version.Files[level] {
			if cmp(userKey, f.Smallest.UserKey) >= 0 && cmp(userKey, f.Largest.UserKey) <= 0 {
				return false
			}
		}
	}
	return true
}
