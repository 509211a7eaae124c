package compact

import (
	"container/heap"
	"context"
	"time"

	"github.com/cockroachdb/tokenbucket"
	"github.com/lsmredis/lsmredis/internal/base"
	"github.com/lsmredis/lsmredis/internal/manifest"
	"github.com/lsmredis/lsmredis/lsmerr"
	"github.com/lsmredis/lsmredis/sstable"
	"github.com/lsmredis/lsmredis/vfs"
)

// TableOpener resolves a file number to an iterator over its encoded
// InternalKey/value pairs; lsm.DB supplies an implementation backed by the
// table cache so the compactor never has to know about caching.
type TableOpener interface {
	NewIter(fileNum uint64, fileSize uint64) (*sstable.Iterator, error)
}

// Pacer throttles background compaction I/O so it doesn't starve
// foreground writers of disk bandwidth.
type Pacer struct {
	tb *tokenbucket.TokenBucket
}

// NewPacer returns a Pacer that allows bytesPerSec of compaction I/O.
func NewPacer(bytesPerSec float64) *Pacer {
	tb := &tokenbucket.TokenBucket{}
	tb.Init(tokenbucket.TokensPerSecond(bytesPerSec), tokenbucket.Tokens(bytesPerSec))
	return &Pacer{tb: tb}
}

// Wait blocks until n bytes worth of I/O budget is available, or returns
// ctx's error if ctx is done first.
func (p *Pacer) Wait(ctx context.Context, n int64) error {
	if p == nil || p.tb == nil {
		return nil
	}
	for {
		fulfilled, tryAgainAfter := p.tb.TryToFulfill(tokenbucket.Tokens(n))
		if fulfilled {
			return nil
		}
		t := time.NewTimer(tryAgainAfter)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

type mergeHeapItem struct {
	key    base.InternalKey
	value  []byte
	source int
}

type mergeHeap struct {
	cmp   base.Compare
	items []mergeHeapItem
}

func (h *mergeHeap) Len() int { return len(h.items) }
func (h *mergeHeap) Less(i, j int) bool {
	c := base.InternalCompare(h.cmp, h.items[i].key, h.items[j].key)
	if c != 0 {
		return c < 0
	}
	return h.items[i].source < h.items[j].source
}
func (h *mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *mergeHeap) Push(x interface{}) { h.items = append(h.items, x.(mergeHeapItem)) }
func (h *mergeHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

type inputSource struct {
	iter    *sstable.Iterator
	valid   bool
}

// Result summarizes the outcome of running a compaction.
type Result struct {
	Edit *manifest.VersionEdit
}

// Run executes c: merges all input files in InternalKey order, dropping
// stale and deleted-at-base entries, and writes one or more output tables
// at c.Level+1, respecting the grandparent stop-before boundary.
func Run(ctx context.Context, o *base.Options, cmp base.Compare, fs vfs.FS, dirname string, opener TableOpener, vs *manifest.VersionSet, c *Compaction, minSnapshotSeq uint64, pacer *Pacer) (*Result, error) {
	edit := &manifest.VersionEdit{}
	for _, f := range c.Inputs[0] {
		edit.DeletedFiles = append(edit.DeletedFiles, manifest.DeletedFileEntry{Level: c.Level, FileNum: f.FileNum})
	}
	for _, f := range c.Inputs[1] {
		edit.DeletedFiles = append(edit.DeletedFiles, manifest.DeletedFileEntry{Level: c.Level + 1, FileNum: f.FileNum})
	}

	if c.IsTrivialMove(o) {
		f := c.Inputs[0][0]
		edit.NewFiles = append(edit.NewFiles, manifest.NewFileEntry{
			Level: c.Level + 1, FileNum: f.FileNum, FileSize: f.FileSize,
			Smallest: f.Smallest, Largest: f.Largest,
		})
		return &Result{Edit: edit}, nil
	}

	sources := make([]*inputSource, 0, len(c.Inputs[0])+len(c.Inputs[1]))
	for _, f := range append(append([]*manifest.FileMetaData{}, c.Inputs[0]...), c.Inputs[1]...) {
		it, err := opener.NewIter(f.FileNum, f.FileSize)
		if err != nil {
			return nil, err
		}
		src := &inputSource{iter: it, valid: it.First()}
		sources = append(sources, src)
	}

	h := &mergeHeap{cmp: cmp}
	heap.Init(h)
	pushNext := func(idx int) {
		src := sources[idx]
		if !src.valid {
			return
		}
		heap.Push(h, mergeHeapItem{key: base.DecodeInternalKey(src.iter.Key()), value: append([]byte(nil), src.iter.Value()...), source: idx})
	}
	for i := range sources {
		pushNext(i)
	}

	var (
		curWriter    *sstable.Writer
		curFile      vfs.File
		curFileNum   uint64
		curSmallest  base.InternalKey
		curLargest   base.InternalKey
		haveLastKey  bool
		lastUserKey  []byte
		lastSeq      uint64
	)

	closeOutput := func() error {
		if curWriter == nil {
			return nil
		}
		if err := curWriter.Close(); err != nil {
			return lsmerr.Wrap(lsmerr.IOError, err)
		}
		info, err := curFile.Stat()
		if err != nil {
			return lsmerr.Wrap(lsmerr.IOError, err)
		}
		if err := curFile.Close(); err != nil {
			return lsmerr.Wrap(lsmerr.IOError, err)
		}
		edit.NewFiles = append(edit.NewFiles, manifest.NewFileEntry{
			Level: c.Level + 1, FileNum: curFileNum, FileSize: uint64(info.Size()),
			Smallest: curSmallest, Largest: curLargest,
		})
		curWriter = nil
		return nil
	}

	openOutput := func() error {
		curFileNum = vs.NewFileNumber()
		name := base.MakeFilename(dirname, base.FileTypeTable, curFileNum)
		f, err := fs.Create(name)
		if err != nil {
			return lsmerr.Wrap(lsmerr.IOError, err)
		}
		curFile = f
		curWriter = sstable.NewWriter(f, o)
		haveLastKey = false
		return nil
	}

	for h.Len() > 0 {
		select {
		case <-ctx.Done():
			_ = closeOutput()
			return nil, ctx.Err()
		default:
		}

		item := heap.Pop(h).(mergeHeapItem)
		sources[item.source].valid = sources[item.source].iter.Next()
		pushNext(item.source)

		drop := false
		sameUserKey := haveLastKey && cmp(item.key.UserKey, lastUserKey) == 0
		if sameUserKey {
			// A newer version of this user key came just before this one.
			// If that newer version is itself at or below the oldest
			// snapshot sequence, every snapshot sees it instead of this
			// entry, so this entry is superseded everywhere.
			if lastSeq <= minSnapshotSeq {
				drop = true
			}
		}
		if !drop && item.key.Kind() == base.InternalKeyKindDelete &&
			item.key.SeqNum() <= minSnapshotSeq && c.IsBaseLevelForKey(cmp, item.key.UserKey) {
			drop = true
		}

		if drop {
			lastUserKey = append(lastUserKey[:0], item.key.UserKey...)
			lastSeq = item.key.SeqNum()
			haveLastKey = true
			continue
		}

		if curWriter != nil && c.ShouldStopBefore(cmp, o, item.key.UserKey) {
			if err := closeOutput(); err != nil {
				return nil, err
			}
		}
		if curWriter == nil {
			if err := openOutput(); err != nil {
				return nil, err
			}
			curSmallest = item.key.Clone()
		}
		if pacer != nil {
			if err := pacer.Wait(ctx, int64(len(item.value))); err != nil {
				return nil, err
			}
		}
		encoded := item.key.EncodeTo(nil)
		if err := curWriter.Set(encoded, item.value); err != nil {
			return nil, lsmerr.Wrap(lsmerr.IOError, err)
		}
		curLargest = item.key.Clone()
		lastUserKey = append(lastUserKey[:0], item.key.UserKey...)
		lastSeq = item.key.SeqNum()
		haveLastKey = true
	}
	if err := closeOutput(); err != nil {
		return nil, err
	}
	return &Result{Edit: edit}, nil
}
