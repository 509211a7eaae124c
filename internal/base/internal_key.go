package base

import "encoding/binary"

// InternalKeyKind enumerates the mutation recorded alongside a user key.
// These values are part of the on-disk format and must not be renumbered.
type InternalKeyKind uint8

const (
	InternalKeyKindDelete InternalKeyKind = 0
	InternalKeyKindSet    InternalKeyKind = 1

	// InternalKeyKindMax sorts less-than-or-equal-to any valid kind and is
	// used to build a search key that matches any kind for a given
	// (user_key, sequence) pair.
	InternalKeyKindMax InternalKeyKind = 1

	// InternalKeyKindInvalid marks a key that failed to decode.
	InternalKeyKindInvalid InternalKeyKind = 255

	// InternalKeySeqNumMax is the largest sequence number representable in
	// the 56 bits reserved for it in the trailer.
	InternalKeySeqNumMax = uint64(1<<56 - 1)
)

func (k InternalKeyKind) String() string {
	switch k {
	case InternalKeyKindDelete:
		return "DEL"
	case InternalKeyKindSet:
		return "SET"
	default:
		return "INVALID"
	}
}

// InternalKey is the (user_key, sequence, kind) triple used throughout the
// memtable, WAL and table files to give every write a total order and
// support MVCC reads. The trailer packs sequence and kind into a single
// uint64 so InternalKey is a value type cheap to copy.
type InternalKey struct {
	UserKey []byte
	trailer uint64
}

// MakeInternalKey builds an InternalKey from its parts.
func MakeInternalKey(userKey []byte, seqNum uint64, kind InternalKeyKind) InternalKey {
	return InternalKey{
		UserKey: userKey,
		trailer: (seqNum << 8) | uint64(kind),
	}
}

// MakeSearchKey builds an InternalKey suitable for seeking: the largest
// possible trailer for the given user key sorts first among all entries
// sharing that user key.
func MakeSearchKey(userKey []byte, seqNum uint64) InternalKey {
	return MakeInternalKey(userKey, seqNum, InternalKeyKindMax)
}

// DecodeInternalKey parses the trailing 8 bytes of an encoded internal key.
func DecodeInternalKey(encoded []byte) InternalKey {
	n := len(encoded) - 8
	if n < 0 {
		return InternalKey{UserKey: encoded, trailer: uint64(InternalKeyKindInvalid)}
	}
	return InternalKey{
		UserKey: encoded[:n:n],
		trailer: binary.LittleEndian.Uint64(encoded[n:]),
	}
}

// Encode writes the key to buf, which must be at least Size() bytes.
func (k InternalKey) Encode(buf []byte) {
	i := copy(buf, k.UserKey)
	binary.LittleEndian.PutUint64(buf[i:], k.trailer)
}

// EncodeTo appends the encoded key to dst and returns the extended slice.
func (k InternalKey) EncodeTo(dst []byte) []byte {
	dst = append(dst, k.UserKey...)
	var trailer [8]byte
	binary.LittleEndian.PutUint64(trailer[:], k.trailer)
	return append(dst, trailer[:]...)
}

// Size returns the encoded length of the key.
func (k InternalKey) Size() int { return len(k.UserKey) + 8 }

// SeqNum returns the sequence number component of the trailer.
func (k InternalKey) SeqNum() uint64 { return k.trailer >> 8 }

// Kind returns the mutation kind component of the trailer.
func (k InternalKey) Kind() InternalKeyKind { return InternalKeyKind(k.trailer & 0xff) }

// Valid reports whether the key decoded successfully.
func (k InternalKey) Valid() bool { return k.trailer&0xff != uint64(InternalKeyKindInvalid) }

// Clone returns a deep copy of k.
func (k InternalKey) Clone() InternalKey {
	if k.UserKey == nil {
		return k
	}
	buf := make([]byte, len(k.UserKey))
	copy(buf, k.UserKey)
	return InternalKey{UserKey: buf, trailer: k.trailer}
}

// InternalCompare orders two internal keys: user key ascending, then
// sequence number descending, then kind descending, so that the most
// recent write for a given user key always sorts first.
func InternalCompare(userCmp Compare, a, b InternalKey) int {
	if c := userCmp(a.UserKey, b.UserKey); c != 0 {
		return c
	}
	switch {
	case a.trailer > b.trailer:
		return -1
	case a.trailer < b.trailer:
		return 1
	default:
		return 0
	}
}

// InternalKeyComparer adapts a user-key Comparer into one that orders
// encoded InternalKey byte strings, for use by table and manifest code
// that only deals in raw byte slices (index blocks, restart points).
type InternalKeyComparer struct {
	UserCompare Compare
}

// Compare implements the byte-slice comparator used by sstable blocks.
func (c InternalKeyComparer) Compare(a, b []byte) int {
	return InternalCompare(c.UserCompare, DecodeInternalKey(a), DecodeInternalKey(b))
}
