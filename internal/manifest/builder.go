package manifest

import "github.com/lsmredis/lsmredis/internal/base"

// Builder accumulates the added/deleted file sets from one or more
// VersionEdits and applies them to a base Version to produce the next
// Version, merging by level while preserving each level's required
// ordering (file-number descending at level 0, smallest-key ascending
// elsewhere).
type Builder struct {
	cmp     base.Compare
	base    *Version
	added   [NumLevels]map[uint64]*FileMetaData
	deleted [NumLevels]map[uint64]bool
}

// NewBuilder starts accumulating edits on top of base.
func NewBuilder(cmp base.Compare, base *Version) *Builder {
	b := &Builder{cmp: cmp, base: base}
	for i := range b.added {
		b.added[i] = make(map[uint64]*FileMetaData)
		b.deleted[i] = make(map[uint64]bool)
	}
	return b
}

// Apply folds one VersionEdit's file changes into the builder.
func (b *Builder) Apply(edit *VersionEdit) {
	for _, df := range edit.DeletedFiles {
		delete(b.added[df.Level], df.FileNum)
		b.deleted[df.Level][df.FileNum] = true
	}
	for _, nf := range edit.NewFiles {
		f := NewFileMetaData(nf.FileNum, nf.FileSize, nf.Smallest, nf.Largest)
		delete(b.deleted[nf.Level], nf.FileNum)
		b.added[nf.Level][nf.FileNum] = f
	}
}

// Finish materializes a new Version from the base version plus the
// accumulated edits.
func (b *Builder) Finish() *Version {
	v := NewVersion()
	for level := 0; level < NumLevels; level++ {
		var files []*FileMetaData
		for _, f := range b.base.Files[level] {
			if b.deleted[level][f.FileNum] {
				continue
			}
			if _, replaced := b.added[level][f.FileNum]; replaced {
				continue
			}
			files = append(files, f)
		}
		for _, f := range b.added[level] {
			files = append(files, f)
		}
		if level == 0 {
			SortL0ByFileNumDescending(files)
		} else {
			SortBySmallest(b.cmp, files)
		}
		v.Files[level] = files
	}
	v.UpdateCompactionScore()
	return v
}
