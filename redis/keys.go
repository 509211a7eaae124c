// Package redis layers Redis string, hash, and sorted-set semantics onto
// the ordered byte-key/byte-value substrate provided by lsm.DB.
package redis

import (
	"encoding/binary"
	"math"
)

const (
	stringPrefix    = 'S'
	hashMetaPrefix  = 'H'
	hashFieldPrefix = 'h'
	zsetMetaPrefix  = 'Z'
	zsetMemberTag   = "zm"
	zsetScoreTag    = "zs"
)

func stringKey(key []byte) []byte {
	b := make([]byte, 0, 1+len(key))
	b = append(b, stringPrefix)
	return append(b, key...)
}

func hashMetaKey(key []byte) []byte {
	b := make([]byte, 0, 1+len(key))
	b = append(b, hashMetaPrefix)
	return append(b, key...)
}

func zsetMetaKey(key []byte) []byte {
	b := make([]byte, 0, 1+len(key))
	b = append(b, zsetMetaPrefix)
	return append(b, key...)
}

// hashFieldKey builds "h"||key_len(u32 LE)||key||version(u64 LE)||field.
// key_len and version are plain header fields, not scanned bytewise for
// order, so they follow the spec's little-endian default; only
// score_sortable needs a specific byte order to stay comparable.
func hashFieldKey(key []byte, version uint64, field []byte) []byte {
	b := make([]byte, 0, 1+4+len(key)+8+len(field))
	b = append(b, hashFieldPrefix)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(key)))
	b = append(b, lenBuf[:]...)
	b = append(b, key...)
	var verBuf [8]byte
	binary.LittleEndian.PutUint64(verBuf[:], version)
	b = append(b, verBuf[:]...)
	return append(b, field...)
}

// hashFieldPrefixFor builds the fixed prefix shared by all field rows for
// (key, version), used to bound HGetAll's range scan.
func hashFieldPrefixFor(key []byte, version uint64) []byte {
	return hashFieldKey(key, version, nil)
}

// zsetMemberKey builds "zm"||key_len(u32 LE)||key||version(u64 LE)||member.
func zsetMemberKey(key []byte, version uint64, member []byte) []byte {
	b := make([]byte, 0, 2+4+len(key)+8+len(member))
	b = append(b, zsetMemberTag...)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(key)))
	b = append(b, lenBuf[:]...)
	b = append(b, key...)
	var verBuf [8]byte
	binary.LittleEndian.PutUint64(verBuf[:], version)
	b = append(b, verBuf[:]...)
	return append(b, member...)
}

func zsetMemberPrefixFor(key []byte, version uint64) []byte {
	return zsetMemberKey(key, version, nil)
}

// zsetScoreKey builds "zs"||key_len(u32 LE)||key||version(u64 LE)||score_sortable(8)||member.
func zsetScoreKey(key []byte, version uint64, score float64, member []byte) []byte {
	b := make([]byte, 0, 2+4+len(key)+8+8+len(member))
	b = append(b, zsetScoreTag...)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(key)))
	b = append(b, lenBuf[:]...)
	b = append(b, key...)
	var verBuf [8]byte
	binary.LittleEndian.PutUint64(verBuf[:], version)
	b = append(b, verBuf[:]...)
	b = append(b, scoreSortable(score)...)
	return append(b, member...)
}

// zsetScorePrefixFor builds the fixed prefix shared by every score-index
// row for (key, version), used to bound full-range scans.
func zsetScorePrefixFor(key []byte, version uint64) []byte {
	b := make([]byte, 0, 2+4+len(key)+8)
	b = append(b, zsetScoreTag...)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(key)))
	b = append(b, lenBuf[:]...)
	b = append(b, key...)
	var verBuf [8]byte
	binary.LittleEndian.PutUint64(verBuf[:], version)
	return append(b, verBuf[:]...)
}

// zsetScoreBoundKey builds a key that bounds a scan at exactly the given
// score, with no member suffix: every row for (key,version,score) sorts
// at or after this key, and no row for a smaller score does.
func zsetScoreBoundKey(key []byte, version uint64, score float64) []byte {
	return append(zsetScorePrefixFor(key, version), scoreSortable(score)...)
}

// scoreSortable transforms an IEEE-754 double's bit pattern so that
// bytewise ordering of the resulting 8 bytes equals numeric ordering:
// positive numbers get their sign bit flipped to 1 (sorting them above
// all transformed negatives); negative numbers have every bit inverted,
// which reverses their otherwise-backwards raw ordering.
func scoreSortable(f float64) []byte {
	bits := math.Float64bits(f)
	if bits>>63 == 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, bits)
	return buf
}

// scoreFromSortable inverts scoreSortable.
func scoreFromSortable(buf []byte) float64 {
	bits := binary.BigEndian.Uint64(buf)
	if bits>>63 == 1 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}

func encodeScore(f float64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(f))
	return buf
}

func decodeScore(buf []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(buf))
}
