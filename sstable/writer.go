package sstable

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/golang/snappy"
	"github.com/lsmredis/lsmredis/internal/base"
)

const (
	compressionNone   = 0
	compressionSnappy = 1

	blockTrailerLen = 5 // crc32c(u32) + compression type(u8)

	// filterBaseLog is the data-offset step (1<<filterBaseLog bytes, 2 KiB)
	// that flushFilterUpTo uses to append length-prefixed per-range
	// filters. Close does not call flushFilterUpTo: it writes a single
	// filter covering every key in the table.
	filterBaseLog = 11
	filterBase    = 1 << filterBaseLog
)

// Writer builds a single immutable table file: zero or more data blocks,
// an optional filter block, a metaindex block, an index block and a fixed
// footer.
type Writer struct {
	w   io.Writer
	cmp base.Compare
	o   *base.Options

	offset int

	dataBlock  *blockWriter
	indexBlock *blockWriter

	filterPolicy base.FilterPolicy
	filterWriter base.FilterWriter
	filterBlock  []byte
	nextFilterOffset int

	pendingIndexEntry bool
	pendingHandle     blockHandle
	lastKey           []byte

	closed bool
	err    error
}

// NewWriter returns a Writer that streams a table to w.
func NewWriter(w io.Writer, o *base.Options) *Writer {
	o = o.EnsureDefaults()
	tw := &Writer{
		w:          w,
		cmp:        o.Comparer.Compare,
		o:          o,
		dataBlock:  newBlockWriter(o.BlockRestartInterval),
		indexBlock: newBlockWriter(o.BlockRestartInterval),
	}
	if o.FilterPolicy != nil {
		tw.filterPolicy = o.FilterPolicy
		tw.filterWriter = o.FilterPolicy.NewWriter()
	}
	return tw
}

// Set adds a key/value pair. Keys must be added in increasing order.
func (w *Writer) Set(key, value []byte) error {
	if w.err != nil {
		return w.err
	}
	if w.pendingIndexEntry {
		sep := w.o.Comparer.Separator(nil, w.lastKey, key)
		var buf [2 * binary.MaxVarintLen64]byte
		n := w.pendingHandle.encode(buf[:])
		w.indexBlock.add(sep, buf[:n])
		w.pendingIndexEntry = false
	}
	if w.filterWriter != nil {
		w.filterWriter.Add(key)
	}
	w.dataBlock.add(key, value)
	w.lastKey = append(w.lastKey[:0], key...)

	if w.dataBlock.estimatedSize() >= w.o.BlockSize {
		return w.finishDataBlock()
	}
	return nil
}

func (bw *blockWriter) estimatedSize() int {
	return len(bw.buf) + len(bw.restarts)*4 + 4
}

func (w *Writer) finishDataBlock() error {
	if w.dataBlock.empty() {
		return nil
	}
	handle, err := w.writeBlock(w.dataBlock)
	if err != nil {
		return err
	}
	w.pendingHandle = handle
	w.pendingIndexEntry = true
	w.dataBlock.reset()
	return nil
}

func (w *Writer) flushFilterUpTo(offset int) {
	if w.filterWriter == nil {
		return
	}
	for w.nextFilterOffset <= offset {
		f := w.filterWriter.Finish(nil)
		w.appendFilter(f)
		w.nextFilterOffset += filterBase
	}
}

func (w *Writer) appendFilter(f []byte) {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(f)))
	w.filterBlock = append(w.filterBlock, lenBuf[:n]...)
	w.filterBlock = append(w.filterBlock, f...)
}

// writeBlock compresses (if enabled), checksums, and writes a block,
// returning its handle.
func (w *Writer) writeBlock(bw *blockWriter) (blockHandle, error) {
	raw := bw.finish()
	compression := byte(compressionNone)
	payload := raw
	if w.o.Compression == base.SnappyCompression {
		compressed := snappy.Encode(nil, raw)
		// Only keep the compressed form if it saves at least 12.5%,
		// matching the teacher's own writer.go threshold.
		if len(compressed) < len(raw)-len(raw)/8 {
			payload = compressed
			compression = compressionSnappy
		}
	}
	handle := blockHandle{offset: uint64(w.offset), length: uint64(len(payload))}
	if _, err := w.w.Write(payload); err != nil {
		w.err = err
		return blockHandle{}, err
	}
	var trailer [blockTrailerLen]byte
	c := crc32.Checksum(payload, crc32.MakeTable(crc32.Castagnoli))
	c = crc32.Update(c, crc32.MakeTable(crc32.Castagnoli), []byte{compression})
	binary.LittleEndian.PutUint32(trailer[:4], c)
	trailer[4] = compression
	if _, err := w.w.Write(trailer[:]); err != nil {
		w.err = err
		return blockHandle{}, err
	}
	w.offset += len(payload) + blockTrailerLen
	return handle, nil
}

// Close finishes the last data block, then writes the filter, metaindex
// and index blocks and the footer to the underlying writer. It does not
// sync or close that writer.
func (w *Writer) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true
	if w.err != nil {
		return w.err
	}
	if err := w.finishDataBlock(); err != nil {
		return err
	}
	if w.pendingIndexEntry {
		successor := w.o.Comparer.Successor(nil, w.lastKey)
		var buf [2 * binary.MaxVarintLen64]byte
		n := w.pendingHandle.encode(buf[:])
		w.indexBlock.add(successor, buf[:n])
		w.pendingIndexEntry = false
	}

	metaindex := newBlockWriter(w.o.BlockRestartInterval)
	if w.filterWriter != nil {
		// One filter over every key in the table, the layout Reader reads.
		w.filterBlock = w.filterWriter.Finish(nil)
		fw := newBlockWriter(w.o.BlockRestartInterval)
		fw.buf = w.filterBlock
		fw.nEntries = 1
		fw.restarts = []uint32{0}
		handle, err := w.writeRawBlockBytes(w.filterBlock)
		if err != nil {
			return err
		}
		var hbuf [2 * binary.MaxVarintLen64]byte
		n := handle.encode(hbuf[:])
		metaindex.add([]byte("filter."+w.filterPolicy.Name()), hbuf[:n])
	}

	metaindexHandle, err := w.writeBlock(metaindex)
	if err != nil {
		return err
	}
	indexHandle, err := w.writeBlock(w.indexBlock)
	if err != nil {
		return err
	}

	ft := footer{metaindexHandle: metaindexHandle, indexHandle: indexHandle}
	if _, err := w.w.Write(ft.encode()); err != nil {
		w.err = err
		return err
	}
	return nil
}

// writeRawBlockBytes writes a pre-built block body (used for the filter
// block, which is not restart-compressed) with a checksum trailer.
func (w *Writer) writeRawBlockBytes(payload []byte) (blockHandle, error) {
	handle := blockHandle{offset: uint64(w.offset), length: uint64(len(payload))}
	if _, err := w.w.Write(payload); err != nil {
		w.err = err
		return blockHandle{}, err
	}
	var trailer [blockTrailerLen]byte
	c := crc32.Checksum(payload, crc32.MakeTable(crc32.Castagnoli))
	c = crc32.Update(c, crc32.MakeTable(crc32.Castagnoli), []byte{compressionNone})
	binary.LittleEndian.PutUint32(trailer[:4], c)
	if _, err := w.w.Write(trailer[:]); err != nil {
		w.err = err
		return blockHandle{}, err
	}
	w.offset += len(payload) + blockTrailerLen
	return handle, nil
}
