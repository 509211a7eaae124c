package sstable

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/golang/snappy"
	"github.com/lsmredis/lsmredis/internal/base"
	"github.com/lsmredis/lsmredis/lsmerr"
	"github.com/lsmredis/lsmredis/vfs"
)

// Reader parses a single table file for point lookups and iteration. It
// keeps the file handle open and re-reads blocks on demand; callers that
// want caching should route through the cache package's table cache.
type Reader struct {
	file vfs.File
	size int64
	cmp  base.Compare

	index  *blockReader
	filter base.FilterPolicy
	filterData []byte
}

// NewReader opens and validates the footer and index block of a table.
func NewReader(file vfs.File, size int64, o *base.Options) (*Reader, error) {
	o = o.EnsureDefaults()
	if size < footerLen {
		return nil, lsmerr.Corruptionf("sstable: file too small to contain a footer")
	}
	footerBuf := make([]byte, footerLen)
	if _, err := file.ReadAt(footerBuf, size-footerLen); err != nil {
		return nil, lsmerr.Wrap(lsmerr.IOError, err)
	}
	ft, err := decodeFooter(footerBuf)
	if err != nil {
		return nil, err
	}
	r := &Reader{file: file, size: size, cmp: o.Comparer.Compare, filter: o.FilterPolicy}

	indexData, err := r.readBlock(ft.indexHandle)
	if err != nil {
		return nil, err
	}
	r.index = newBlockReader(indexData)

	metaData, err := r.readBlock(ft.metaindexHandle)
	if err != nil {
		return nil, err
	}
	if o.FilterPolicy != nil {
		meta := newBlockReader(metaData)
		it := newBlockIter(r.cmp, meta)
		for ok := it.First(); ok; ok = it.Next() {
			if string(it.Key()) == "filter."+o.FilterPolicy.Name() {
				handle, _ := decodeBlockHandle(it.Value())
				fdata, err := r.readBlock(handle)
				if err != nil {
					return nil, err
				}
				r.filterData = fdata
			}
		}
	}
	return r, nil
}

// readBlock reads, checksum-verifies and decompresses the block named by
// handle.
func (r *Reader) readBlock(h blockHandle) ([]byte, error) {
	buf := make([]byte, h.length+blockTrailerLen)
	if _, err := r.file.ReadAt(buf, int64(h.offset)); err != nil {
		return nil, lsmerr.Wrap(lsmerr.IOError, err)
	}
	payload := buf[:h.length]
	trailer := buf[h.length:]
	compression := trailer[4]
	c := crc32.Checksum(payload, crc32.MakeTable(crc32.Castagnoli))
	c = crc32.Update(c, crc32.MakeTable(crc32.Castagnoli), []byte{compression})
	if binary.LittleEndian.Uint32(trailer[:4]) != c {
		return nil, lsmerr.Corruptionf("sstable: block checksum mismatch at offset %d", h.offset)
	}
	switch compression {
	case compressionNone:
		return payload, nil
	case compressionSnappy:
		decoded, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, lsmerr.Corruptionf("sstable: snappy decode failed: %v", err)
		}
		return decoded, nil
	default:
		return nil, lsmerr.Corruptionf("sstable: unknown compression type %d", compression)
	}
}

// mayContain reports whether key could be present, consulting the bloom
// filter block when one is loaded. Always returns true when no filter is
// available.
func (r *Reader) mayContain(key []byte) bool {
	if r.filter == nil || r.filterData == nil {
		return true
	}
	return r.filter.MayContain(r.filterData, key)
}

// Get returns the value for the exact encoded key, or lsmerr NotFound.
func (r *Reader) Get(key []byte) ([]byte, error) {
	if !r.mayContain(key) {
		return nil, lsmerr.NotFoundf("sstable: key not present (filter)")
	}
	it, err := r.SeekGE(key)
	if err != nil {
		return nil, err
	}
	if it == nil || !it.Valid() || r.cmp(it.Key(), key) != 0 {
		return nil, lsmerr.NotFoundf("sstable: key not found")
	}
	return append([]byte(nil), it.Value()...), nil
}

// Iterator is the two-level (index block -> data block) iterator over a
// table's contents.
type Iterator struct {
	r         *Reader
	indexIter *blockIter
	dataIter  *blockIter
}

// SeekGE returns an iterator positioned at the first key >= target.
func (r *Reader) SeekGE(target []byte) (*Iterator, error) {
	ii := newBlockIter(r.cmp, r.index)
	if !ii.SeekGE(target) {
		return &Iterator{r: r, indexIter: ii}, nil
	}
	handle, _ := decodeBlockHandle(ii.Value())
	data, err := r.readBlock(handle)
	if err != nil {
		return nil, err
	}
	di := newBlockIter(r.cmp, newBlockReader(data))
	if !di.SeekGE(target) {
		// Target sorts after everything in this block; try the next block.
		t := &Iterator{r: r, indexIter: ii, dataIter: di}
		return t, t.advanceBlock()
	}
	return &Iterator{r: r, indexIter: ii, dataIter: di}, nil
}

// NewIter returns an iterator positioned before the first entry.
func (r *Reader) NewIter() (*Iterator, error) {
	ii := newBlockIter(r.cmp, r.index)
	t := &Iterator{r: r, indexIter: ii}
	return t, nil
}

// First positions the iterator at the first key/value pair in the table.
func (t *Iterator) First() bool {
	if !t.indexIter.First() {
		return false
	}
	if err := t.loadDataBlock(); err != nil {
		return false
	}
	if t.dataIter.First() {
		return true
	}
	return t.advanceBlock() == nil && t.dataIter != nil && t.dataIter.Valid()
}

func (t *Iterator) loadDataBlock() error {
	handle, _ := decodeBlockHandle(t.indexIter.Value())
	data, err := t.r.readBlock(handle)
	if err != nil {
		return err
	}
	t.dataIter = newBlockIter(t.r.cmp, newBlockReader(data))
	return nil
}

func (t *Iterator) advanceBlock() error {
	for {
		if !t.indexIter.Next() {
			t.dataIter = nil
			return nil
		}
		if err := t.loadDataBlock(); err != nil {
			return err
		}
		if t.dataIter.First() {
			return nil
		}
	}
}

// Next advances the iterator, crossing block boundaries transparently.
func (t *Iterator) Next() bool {
	if t.dataIter == nil {
		return false
	}
	if t.dataIter.Next() {
		return true
	}
	if err := t.advanceBlock(); err != nil {
		return false
	}
	return t.dataIter != nil && t.dataIter.Valid()
}

func (t *Iterator) Valid() bool {
	return t.dataIter != nil && t.dataIter.Valid()
}

func (t *Iterator) Key() []byte   { return t.dataIter.Key() }
func (t *Iterator) Value() []byte { return t.dataIter.Value() }
