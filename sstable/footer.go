package sstable

import (
	"encoding/binary"

	"github.com/lsmredis/lsmredis/lsmerr"
)

// magic identifies a well-formed table footer; it is the fixed constant
// named in the on-disk format.
const magic uint64 = 0xdb4775248b80fb57

const footerLen = 48

// blockHandle points at a block within the table file.
type blockHandle struct {
	offset uint64
	length uint64
}

func (h blockHandle) encode(dst []byte) int {
	n := binary.PutUvarint(dst, h.offset)
	n += binary.PutUvarint(dst[n:], h.length)
	return n
}

func decodeBlockHandle(src []byte) (blockHandle, int) {
	offset, n1 := binary.Uvarint(src)
	length, n2 := binary.Uvarint(src[n1:])
	return blockHandle{offset: offset, length: length}, n1 + n2
}

// footer is fixed-size so it can be located by seeking from the end of
// the file without any preceding index. Layout: metaindex handle,
// index handle, zero padding, then the 8-byte magic.
type footer struct {
	metaindexHandle blockHandle
	indexHandle     blockHandle
}

func (f footer) encode() []byte {
	buf := make([]byte, footerLen)
	n := f.metaindexHandle.encode(buf)
	n += f.indexHandle.encode(buf[n:])
	binary.LittleEndian.PutUint64(buf[footerLen-8:], magic)
	_ = n
	return buf
}

func decodeFooter(buf []byte) (footer, error) {
	if len(buf) != footerLen {
		return footer{}, lsmerr.Corruptionf("sstable: invalid footer length %d", len(buf))
	}
	if binary.LittleEndian.Uint64(buf[footerLen-8:]) != magic {
		return footer{}, lsmerr.Corruptionf("sstable: bad magic number")
	}
	metaindexHandle, n := decodeBlockHandle(buf)
	indexHandle, _ := decodeBlockHandle(buf[n:])
	return footer{metaindexHandle: metaindexHandle, indexHandle: indexHandle}, nil
}
