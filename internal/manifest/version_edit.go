package manifest

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/lsmredis/lsmredis/internal/base"
	"github.com/lsmredis/lsmredis/lsmerr"
)

// Tag constants identify fields inside a serialized VersionEdit. Numbering
// matches the historical LevelDB/pebble manifest format so a reader never
// has to guess field order.
const (
	tagComparator     = 1
	tagLogNumber      = 2
	tagNextFileNumber = 3
	tagLastSequence   = 4
	tagCompactPointer = 5
	tagDeletedFile    = 6
	tagNewFile        = 7
	tagPrevLogNumber  = 9
)

// DeletedFileEntry names one file removed from a level.
type DeletedFileEntry struct {
	Level   int
	FileNum uint64
}

// NewFileEntry names one file added to a level.
type NewFileEntry struct {
	Level    int
	FileNum  uint64
	FileSize uint64
	Smallest base.InternalKey
	Largest  base.InternalKey
}

// CompactPointerEntry records where the next compaction of a level should
// resume, so successive compactions of the same level cycle through the
// whole key space instead of always starting over.
type CompactPointerEntry struct {
	Level int
	Key   base.InternalKey
}

// VersionEdit is a delta appended to the manifest describing changes to
// the current Version's file set and bookkeeping counters.
type VersionEdit struct {
	ComparatorName  string
	HasComparator   bool
	LogNumber       uint64
	HasLogNumber    bool
	PrevLogNumber   uint64
	HasPrevLogNum   bool
	NextFileNumber  uint64
	HasNextFileNum  bool
	LastSequence    uint64
	HasLastSequence bool

	CompactPointers []CompactPointerEntry
	DeletedFiles    []DeletedFileEntry
	NewFiles        []NewFileEntry
}

func putUvarint(dst *bytes.Buffer, v uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	dst.Write(buf[:n])
}

func putLenPrefixed(dst *bytes.Buffer, b []byte) {
	putUvarint(dst, uint64(len(b)))
	dst.Write(b)
}

func putInternalKey(dst *bytes.Buffer, k base.InternalKey) {
	putLenPrefixed(dst, k.EncodeTo(nil))
}

// Encode serializes the edit to its tagged-varint wire format.
func (e *VersionEdit) Encode() []byte {
	var buf bytes.Buffer
	if e.HasComparator {
		putUvarint(&buf, tagComparator)
		putLenPrefixed(&buf, []byte(e.ComparatorName))
	}
	if e.HasLogNumber {
		putUvarint(&buf, tagLogNumber)
		putUvarint(&buf, e.LogNumber)
	}
	if e.HasPrevLogNum {
		putUvarint(&buf, tagPrevLogNumber)
		putUvarint(&buf, e.PrevLogNumber)
	}
	if e.HasNextFileNum {
		putUvarint(&buf, tagNextFileNumber)
		putUvarint(&buf, e.NextFileNumber)
	}
	if e.HasLastSequence {
		putUvarint(&buf, tagLastSequence)
		putUvarint(&buf, e.LastSequence)
	}
	for _, cp := range e.CompactPointers {
		putUvarint(&buf, tagCompactPointer)
		putUvarint(&buf, uint64(cp.Level))
		putInternalKey(&buf, cp.Key)
	}
	for _, df := range e.DeletedFiles {
		putUvarint(&buf, tagDeletedFile)
		putUvarint(&buf, uint64(df.Level))
		putUvarint(&buf, df.FileNum)
	}
	for _, nf := range e.NewFiles {
		putUvarint(&buf, tagNewFile)
		putUvarint(&buf, uint64(nf.Level))
		putUvarint(&buf, nf.FileNum)
		putUvarint(&buf, nf.FileSize)
		putInternalKey(&buf, nf.Smallest)
		putInternalKey(&buf, nf.Largest)
	}
	return buf.Bytes()
}

func getUvarint(r *bytes.Reader) (uint64, error) {
	return binary.ReadUvarint(r)
}

func getLenPrefixed(r *bytes.Reader) ([]byte, error) {
	n, err := getUvarint(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func getInternalKey(r *bytes.Reader) (base.InternalKey, error) {
	buf, err := getLenPrefixed(r)
	if err != nil {
		return base.InternalKey{}, err
	}
	return base.DecodeInternalKey(buf), nil
}

// Decode parses the tagged-varint wire format produced by Encode.
func Decode(data []byte) (*VersionEdit, error) {
	r := bytes.NewReader(data)
	e := &VersionEdit{}
	for r.Len() > 0 {
		tag, err := getUvarint(r)
		if err != nil {
			return nil, lsmerr.Corruptionf("manifest: bad tag: %v", err)
		}
		switch tag {
		case tagComparator:
			name, err := getLenPrefixed(r)
			if err != nil {
				return nil, lsmerr.Corruptionf("manifest: bad comparator: %v", err)
			}
			e.ComparatorName, e.HasComparator = string(name), true
		case tagLogNumber:
			v, err := getUvarint(r)
			if err != nil {
				return nil, lsmerr.Corruptionf("manifest: bad log number: %v", err)
			}
			e.LogNumber, e.HasLogNumber = v, true
		case tagPrevLogNumber:
			v, err := getUvarint(r)
			if err != nil {
				return nil, lsmerr.Corruptionf("manifest: bad prev log number: %v", err)
			}
			e.PrevLogNumber, e.HasPrevLogNum = v, true
		case tagNextFileNumber:
			v, err := getUvarint(r)
			if err != nil {
				return nil, lsmerr.Corruptionf("manifest: bad next file number: %v", err)
			}
			e.NextFileNumber, e.HasNextFileNum = v, true
		case tagLastSequence:
			v, err := getUvarint(r)
			if err != nil {
				return nil, lsmerr.Corruptionf("manifest: bad last sequence: %v", err)
			}
			e.LastSequence, e.HasLastSequence = v, true
		case tagCompactPointer:
			level, err := getUvarint(r)
			if err != nil {
				return nil, lsmerr.Corruptionf("manifest: bad compact pointer level: %v", err)
			}
			key, err := getInternalKey(r)
			if err != nil {
				return nil, lsmerr.Corruptionf("manifest: bad compact pointer key: %v", err)
			}
			e.CompactPointers = append(e.CompactPointers, CompactPointerEntry{Level: int(level), Key: key})
		case tagDeletedFile:
			level, err := getUvarint(r)
			if err != nil {
				return nil, lsmerr.Corruptionf("manifest: bad deleted file level: %v", err)
			}
			num, err := getUvarint(r)
			if err != nil {
				return nil, lsmerr.Corruptionf("manifest: bad deleted file number: %v", err)
			}
			e.DeletedFiles = append(e.DeletedFiles, DeletedFileEntry{Level: int(level), FileNum: num})
		case tagNewFile:
			level, err := getUvarint(r)
			if err != nil {
				return nil, lsmerr.Corruptionf("manifest: bad new file level: %v", err)
			}
			num, err := getUvarint(r)
			if err != nil {
				return nil, lsmerr.Corruptionf("manifest: bad new file number: %v", err)
			}
			size, err := getUvarint(r)
			if err != nil {
				return nil, lsmerr.Corruptionf("manifest: bad new file size: %v", err)
			}
			smallest, err := getInternalKey(r)
			if err != nil {
				return nil, lsmerr.Corruptionf("manifest: bad new file smallest: %v", err)
			}
			largest, err := getInternalKey(r)
			if err != nil {
				return nil, lsmerr.Corruptionf("manifest: bad new file largest: %v", err)
			}
			e.NewFiles = append(e.NewFiles, NewFileEntry{
				Level: int(level), FileNum: num, FileSize: size, Smallest: smallest, Largest: largest,
			})
		default:
			return nil, lsmerr.Corruptionf("manifest: unknown tag %d", tag)
		}
	}
	return e, nil
}
