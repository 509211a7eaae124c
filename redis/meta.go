package redis

import (
	"encoding/binary"
	"time"

	"github.com/lsmredis/lsmredis/lsmerr"
)

// meta is the shared row shape for hash and zset keys: a live meta row
// names the version its field/member rows must carry to be visible, plus
// an optional TTL.
type meta struct {
	count   uint32
	version uint64
	ttlMs   uint64 // absolute expiry in unix millis; 0 means no expiry
}

func encodeMeta(m meta) []byte {
	b := make([]byte, 20)
	binary.LittleEndian.PutUint32(b[0:4], m.count)
	binary.LittleEndian.PutUint64(b[4:12], m.version)
	binary.LittleEndian.PutUint64(b[12:20], m.ttlMs)
	return b
}

func decodeMeta(b []byte) (meta, bool) {
	if len(b) != 20 {
		return meta{}, false
	}
	return meta{
		count:   binary.LittleEndian.Uint32(b[0:4]),
		version: binary.LittleEndian.Uint64(b[4:12]),
		ttlMs:   binary.LittleEndian.Uint64(b[12:20]),
	}, true
}

func (m meta) expired(now time.Time) bool {
	return m.ttlMs != 0 && uint64(now.UnixMilli()) >= m.ttlMs
}

// loadLiveMeta reads the meta row at metaKey; a missing or expired meta is
// reported as (meta{}, false, nil) since neither is an error for callers
// that treat it as "key does not exist".
func loadLiveMeta(get func([]byte) ([]byte, error), metaKey []byte, now time.Time) (meta, bool, error) {
	raw, err := get(metaKey)
	if err != nil {
		if lsmerr.Is(err, lsmerr.NotFound) {
			return meta{}, false, nil
		}
		return meta{}, false, err
	}
	m, ok := decodeMeta(raw)
	if !ok {
		return meta{}, false, lsmerr.New(lsmerr.Corruption, "redis: malformed meta row")
	}
	if m.expired(now) {
		return meta{}, false, nil
	}
	return m, true, nil
}
