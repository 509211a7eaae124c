// Package record implements the write-ahead log's physical record format:
// a sequence of 32 KiB blocks, each holding one or more checksummed,
// framed chunks that may span block boundaries.
package record

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/cockroachdb/errors"
)

const (
	blockSize  = 32 * 1024
	headerSize = 4 + 2 + 1 // checksum(u32) + length(u16) + type(u8)

	fullChunkType   = 1
	firstChunkType  = 2
	middleChunkType = 3
	lastChunkType   = 4
)

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// maskedChecksum matches the CRC "mask" convention used across the
// leveldb lineage: rotate and add a constant so that blocks of zeroes
// don't produce a valid-looking checksum of zero.
func maskedChecksum(chunkType byte, payload []byte) uint32 {
	c := crc32.Checksum(append([]byte{chunkType}, payload...), castagnoliTable)
	return ((c >> 15) | (c << 17)) + 0xa282ead8
}

// Writer appends chunks to an underlying io.Writer, framing them into
// fixed 32 KiB blocks and padding the tail of each block with zeroes when
// a chunk header would not fit.
type Writer struct {
	w         io.Writer
	blockOff  int
	seq       int
	pendingErr error
}

// NewWriter returns a Writer that starts a new WAL from the beginning of w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteRecord writes payload as one record, as a single Full chunk when it
// fits in the current block and otherwise as First/Middle/Last chunks,
// padding to the next block when too little room is left for a header.
func (w *Writer) WriteRecord(payload []byte) error {
	if w.pendingErr != nil {
		return w.pendingErr
	}
	if len(payload) == 0 {
		return w.emitChunk(fullChunkType, nil)
	}
	first := true
	for len(payload) > 0 {
		avail := blockSize - w.blockOff
		if avail < headerSize {
			if err := w.padBlock(); err != nil {
				return err
			}
			avail = blockSize
		}
		space := avail - headerSize
		n := space
		last := false
		if n >= len(payload) {
			n = len(payload)
			last = true
		}
		var typ byte
		switch {
		case first && last:
			typ = fullChunkType
		case first:
			typ = firstChunkType
		case last:
			typ = lastChunkType
		default:
			typ = middleChunkType
		}
		if err := w.emitChunk(typ, payload[:n]); err != nil {
			return err
		}
		payload = payload[n:]
		first = false
	}
	return nil
}

func (w *Writer) emitChunk(typ byte, payload []byte) error {
	var header [headerSize]byte
	binary.LittleEndian.PutUint32(header[0:4], maskedChecksum(typ, payload))
	binary.LittleEndian.PutUint16(header[4:6], uint16(len(payload)))
	header[6] = typ
	if _, err := w.w.Write(header[:]); err != nil {
		w.pendingErr = err
		return err
	}
	if len(payload) > 0 {
		if _, err := w.w.Write(payload); err != nil {
			w.pendingErr = err
			return err
		}
	}
	w.blockOff += headerSize + len(payload)
	if w.blockOff >= blockSize {
		w.blockOff = 0
	}
	return nil
}

func (w *Writer) padBlock() error {
	pad := make([]byte, blockSize-w.blockOff)
	if _, err := w.w.Write(pad); err != nil {
		w.pendingErr = err
		return err
	}
	w.blockOff = 0
	return nil
}

// Reader reads chunks written by Writer, reassembling fragmented records
// and stopping at the first structurally invalid chunk (a truncated tail
// is reported as an error wrapping io.ErrUnexpectedEOF, which callers may
// treat as the end of the log; a checksum mismatch mid-log is reported as
// a plain error).
type Reader struct {
	r        io.Reader
	block    [blockSize]byte
	begin    int
	end      int
	buf      []byte
	lastErr  error
}

// NewReader returns a Reader over r, which must begin at a block boundary.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next returns the next complete record, or io.EOF when the log is
// exhausted. The returned slice is valid until the next call to Next.
func (r *Reader) Next() ([]byte, error) {
	if r.lastErr != nil {
		return nil, r.lastErr
	}
	r.buf = r.buf[:0]
	inFragment := false
	for {
		if r.begin+headerSize > r.end {
			if err := r.fill(); err != nil {
				if err == io.EOF && !inFragment {
					r.lastErr = io.EOF
					return nil, io.EOF
				}
				if err == io.EOF {
					return nil, errors.Wrap(io.ErrUnexpectedEOF, "record: truncated chunk")
				}
				r.lastErr = err
				return nil, err
			}
			continue
		}
		header := r.block[r.begin : r.begin+headerSize]
		wantSum := binary.LittleEndian.Uint32(header[0:4])
		length := int(binary.LittleEndian.Uint16(header[4:6]))
		typ := header[6]
		if r.begin+headerSize+length > r.end {
			if err := r.fill(); err != nil {
				return nil, errors.Wrap(io.ErrUnexpectedEOF, "record: truncated chunk body")
			}
			continue
		}
		payload := r.block[r.begin+headerSize : r.begin+headerSize+length]
		if maskedChecksum(typ, payload) != wantSum {
			return nil, errors.New("record: checksum mismatch")
		}
		r.begin += headerSize + length
		switch typ {
		case fullChunkType:
			return payload, nil
		case firstChunkType:
			r.buf = append(r.buf[:0], payload...)
			inFragment = true
		case middleChunkType:
			if !inFragment {
				return nil, errors.New("record: middle chunk without first")
			}
			r.buf = append(r.buf, payload...)
		case lastChunkType:
			if !inFragment {
				return nil, errors.New("record: last chunk without first")
			}
			r.buf = append(r.buf, payload...)
			return r.buf, nil
		default:
			return nil, errors.Newf("record: unknown chunk type %d", typ)
		}
	}
}

func (r *Reader) fill() error {
	if r.begin < r.end {
		// A chunk header claimed to extend past what's currently buffered;
		// this only happens on a corrupt or truncated block.
		return io.EOF
	}
	n, err := io.ReadFull(r.r, r.block[:])
	if n == 0 {
		return io.EOF
	}
	r.begin, r.end = 0, n
	if err == io.ErrUnexpectedEOF {
		return nil
	}
	return err
}
