package sstable

import (
	"encoding/binary"

	"github.com/lsmredis/lsmredis/internal/base"
)

// blockWriter accumulates key/value entries into a single restart-interval
// prefix-compressed block, in the LevelDB/pebble table format.
type blockWriter struct {
	restartInterval int
	buf             []byte
	restarts        []uint32
	nEntries        int
	lastKey         []byte
}

func newBlockWriter(restartInterval int) *blockWriter {
	return &blockWriter{restartInterval: restartInterval}
}

func (w *blockWriter) add(key, value []byte) {
	shared := 0
	if w.nEntries%w.restartInterval == 0 {
		w.restarts = append(w.restarts, uint32(len(w.buf)))
	} else {
		shared = base.SharedPrefixLen(w.lastKey, key)
	}
	nonShared := key[shared:]

	var tmp [binary.MaxVarintLen32]byte
	n := binary.PutUvarint(tmp[:], uint64(shared))
	w.buf = append(w.buf, tmp[:n]...)
	n = binary.PutUvarint(tmp[:], uint64(len(nonShared)))
	w.buf = append(w.buf, tmp[:n]...)
	n = binary.PutUvarint(tmp[:], uint64(len(value)))
	w.buf = append(w.buf, tmp[:n]...)
	w.buf = append(w.buf, nonShared...)
	w.buf = append(w.buf, value...)

	w.lastKey = append(w.lastKey[:0], key...)
	w.nEntries++
}

func (w *blockWriter) empty() bool { return w.nEntries == 0 }

// finish appends the restart array and count, and returns the full block
// body (without the trailing checksum/compression byte, added by the
// caller).
func (w *blockWriter) finish() []byte {
	if len(w.restarts) == 0 {
		w.restarts = append(w.restarts, 0)
	}
	for _, r := range w.restarts {
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], r)
		w.buf = append(w.buf, tmp[:]...)
	}
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(w.restarts)))
	w.buf = append(w.buf, tmp[:]...)
	return w.buf
}

func (w *blockWriter) reset() {
	w.buf = w.buf[:0]
	w.restarts = w.restarts[:0]
	w.nEntries = 0
	w.lastKey = w.lastKey[:0]
}

// blockReader parses the restart-compressed body of a single block for
// point lookups and iteration.
type blockReader struct {
	data         []byte
	restarts     []byte
	numRestarts  int
	restartInter int
}

func newBlockReader(data []byte) *blockReader {
	if len(data) < 4 {
		return &blockReader{data: data}
	}
	numRestarts := int(binary.LittleEndian.Uint32(data[len(data)-4:]))
	restartsStart := len(data) - 4 - numRestarts*4
	if restartsStart < 0 {
		restartsStart = 0
	}
	return &blockReader{
		data:        data[:restartsStart],
		restarts:    data[restartsStart : len(data)-4],
		numRestarts: numRestarts,
	}
}

func (b *blockReader) restartOffset(i int) uint32 {
	return binary.LittleEndian.Uint32(b.restarts[i*4:])
}

// decodeEntry reads one entry at offset off, returning the decoded key
// (built against lastKey for prefix expansion), value, and the offset of
// the next entry.
func decodeEntry(data []byte, off int, lastKey []byte) (key, value []byte, next int, ok bool) {
	if off >= len(data) {
		return nil, nil, off, false
	}
	shared, n1 := binary.Uvarint(data[off:])
	nonShared, n2 := binary.Uvarint(data[off+n1:])
	valLen, n3 := binary.Uvarint(data[off+n1+n2:])
	start := off + n1 + n2 + n3
	nonSharedBytes := data[start : start+int(nonShared)]
	value = data[start+int(nonShared) : start+int(nonShared)+int(valLen)]
	key = make([]byte, int(shared)+int(nonShared))
	copy(key, lastKey[:shared])
	copy(key[shared:], nonSharedBytes)
	next = start + int(nonShared) + int(valLen)
	return key, value, next, true
}

// blockIter is a forward-only iterator over a blockReader, matching
// the InternalIterator surface used by the table and merging iterators.
type blockIter struct {
	cmp     base.Compare
	block   *blockReader
	offset  int
	key     []byte
	value   []byte
	valid   bool
}

func newBlockIter(cmp base.Compare, block *blockReader) *blockIter {
	return &blockIter{cmp: cmp, block: block}
}

// seekToRestart positions the raw cursor at the given restart point and
// resets the running lastKey.
func (i *blockIter) seekToRestart(idx int) {
	i.offset = int(i.block.restartOffset(idx))
	i.key = nil
}

// SeekGE moves to the first entry with key >= target.
func (i *blockIter) SeekGE(target []byte) bool {
	lo, hi := 0, i.block.numRestarts-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		i.seekToRestart(mid)
		k, _, _, ok := decodeEntry(i.block.data, i.offset, nil)
		if !ok || i.cmp(k, target) > 0 {
			hi = mid - 1
		} else {
			lo = mid
		}
	}
	i.seekToRestart(lo)
	for i.step() {
		if i.cmp(i.key, target) >= 0 {
			return true
		}
	}
	i.valid = false
	return false
}

// First moves to the first entry in the block.
func (i *blockIter) First() bool {
	i.seekToRestart(0)
	return i.step()
}

func (i *blockIter) step() bool {
	k, v, next, ok := decodeEntry(i.block.data, i.offset, i.key)
	if !ok {
		i.valid = false
		return false
	}
	i.key, i.value, i.offset = k, v, next
	i.valid = true
	return true
}

// Next advances to the next entry.
func (i *blockIter) Next() bool {
	if i.offset >= len(i.block.data) {
		i.valid = false
		return false
	}
	return i.step()
}

func (i *blockIter) Key() []byte     { return i.key }
func (i *blockIter) Value() []byte   { return i.value }
func (i *blockIter) Valid() bool     { return i.valid }
