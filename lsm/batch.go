package lsm

import (
	"encoding/binary"

	"github.com/lsmredis/lsmredis/internal/base"
	"github.com/lsmredis/lsmredis/lsmerr"
)

const batchHeaderLen = 12

// Batch collects a group of Set/Delete operations to be applied to a DB
// atomically and with a single WAL fsync. Its wire format is what gets
// appended to the WAL: 8 bytes for the sequence number of the batch's
// first entry (zero until the batch is committed), 4 bytes for the entry
// count, followed by that many entries of one kind byte plus one or two
// varint-length-prefixed strings (key, and value unless the kind is
// Delete).
type Batch struct {
	data  []byte
	count uint32
}

// NewBatch returns an empty batch ready for Set/Delete calls.
func NewBatch() *Batch {
	b := &Batch{}
	b.data = make([]byte, batchHeaderLen)
	return b
}

func (b *Batch) grow(n int) int {
	pos := len(b.data)
	b.data = append(b.data, make([]byte, n)...)
	return pos
}

func putVarintString(dst []byte, pos int, s []byte) int {
	pos += binary.PutUvarint(dst[pos:], uint64(len(s)))
	pos += copy(dst[pos:], s)
	return pos
}

func varintStringSize(s []byte) int {
	return uvarintLen(uint64(len(s))) + len(s)
}

func uvarintLen(x uint64) int {
	n := 1
	for x >= 0x80 {
		x >>= 7
		n++
	}
	return n
}

// Set appends a Set(key, value) operation.
func (b *Batch) Set(key, value []byte) {
	need := 1 + varintStringSize(key) + varintStringSize(value)
	pos := b.grow(need)
	b.data[pos] = byte(base.InternalKeyKindSet)
	pos++
	pos = putVarintString(b.data, pos, key)
	pos = putVarintString(b.data, pos, value)
	b.data = b.data[:pos]
	b.count++
}

// Delete appends a Delete(key) operation.
func (b *Batch) Delete(key []byte) {
	need := 1 + varintStringSize(key)
	pos := b.grow(need)
	b.data[pos] = byte(base.InternalKeyKindDelete)
	pos++
	pos = putVarintString(b.data, pos, key)
	b.data = b.data[:pos]
	b.count++
}

// Count returns the number of entries queued in the batch.
func (b *Batch) Count() uint32 { return b.count }

// Empty reports whether the batch has no entries.
func (b *Batch) Empty() bool { return b.count == 0 }

// Len returns the encoded length of the batch, including the header.
func (b *Batch) Len() int { return len(b.data) }

// Data returns the batch's raw wire-format bytes, header included.
func (b *Batch) Data() []byte { return b.data }

// SetSeqNum stamps the sequence number of the batch's first entry into
// the header; entry i gets sequence seqNum+i.
func (b *Batch) SetSeqNum(seqNum uint64) {
	binary.LittleEndian.PutUint64(b.data[:8], seqNum)
}

// SeqNum returns the sequence number stamped into the header.
func (b *Batch) SeqNum() uint64 {
	return binary.LittleEndian.Uint64(b.data[:8])
}

func encodeBatchHeader(data []byte, seqNum uint64, count uint32) {
	binary.LittleEndian.PutUint64(data[:8], seqNum)
	binary.LittleEndian.PutUint32(data[8:12], count)
}

func decodeBatchHeader(data []byte) (seqNum uint64, count uint32, ok bool) {
	if len(data) < batchHeaderLen {
		return 0, 0, false
	}
	return binary.LittleEndian.Uint64(data[:8]), binary.LittleEndian.Uint32(data[8:12]), true
}

// batchReader iterates the entries of a batch's data, following the
// header.
type batchReader struct {
	data []byte
}

func newBatchReader(data []byte) (*batchReader, error) {
	if len(data) < batchHeaderLen {
		return nil, lsmerr.New(lsmerr.Corruption, "lsm: truncated batch header")
	}
	return &batchReader{data: data[batchHeaderLen:]}, nil
}

// next returns the next entry's kind, key, and value (value is nil for
// Delete). It returns ok=false once the batch is exhausted.
func (r *batchReader) next() (kind base.InternalKeyKind, key, value []byte, ok bool, err error) {
	if len(r.data) == 0 {
		return 0, nil, nil, false, nil
	}
	kind = base.InternalKeyKind(r.data[0])
	p := r.data[1:]
	p, key, ok = decodeVarintString(p)
	if !ok {
		return 0, nil, nil, false, lsmerr.New(lsmerr.Corruption, "lsm: corrupted batch entry")
	}
	if kind != base.InternalKeyKindDelete {
		p, value, ok = decodeVarintString(p)
		if !ok {
			return 0, nil, nil, false, lsmerr.New(lsmerr.Corruption, "lsm: corrupted batch entry")
		}
	}
	r.data = p
	return kind, key, value, true, nil
}

func decodeVarintString(p []byte) (rest []byte, s []byte, ok bool) {
	n, m := binary.Uvarint(p)
	if m <= 0 || uint64(len(p)-m) < n {
		return nil, nil, false
	}
	return p[m+int(n):], p[m : m+int(n)], true
}
