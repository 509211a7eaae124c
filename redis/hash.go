package redis

import (
	"time"

	"github.com/lsmredis/lsmredis/lsmerr"
)

// hashMetaOrNew reads the live meta row for key, or synthesizes a fresh
// one (version bumped past the stale one, count zero) if it is absent or
// expired. The bumped version is not written back until the caller
// actually mutates a field, per the spec's lazy-GC-by-version-mismatch
// policy: an expired/absent hash costs nothing to "read" until written.
func (s *Store) hashMetaOrNew(key []byte) (m meta, isNew bool, err error) {
	m, ok, err := loadLiveMeta(s.get, hashMetaKey(key), time.Now())
	if err != nil {
		return meta{}, false, err
	}
	if ok {
		return m, false, nil
	}
	if err := s.checkTypeFree(key, hashMetaPrefix); err != nil {
		return meta{}, false, err
	}
	// A stale meta row (present but expired, or a still-live but
	// superseded-by-DEL row) still holds the last version we must not
	// reuse; read it raw to find that version, ignoring its liveness.
	nextVersion := uint64(0)
	if raw, err := s.get(hashMetaKey(key)); err == nil {
		if old, ok := decodeMeta(raw); ok {
			nextVersion = old.version + 1
		}
	} else if !lsmerr.Is(err, lsmerr.NotFound) {
		return meta{}, false, err
	}
	return meta{count: 0, version: nextVersion, ttlMs: 0}, true, nil
}

// HSet sets field to value in the hash at key, creating the hash if
// necessary. It reports whether field was newly created.
func (s *Store) HSet(key, field, value []byte) (bool, error) {
	m, _, err := s.hashMetaOrNew(key)
	if err != nil {
		return false, err
	}
	fieldKey := hashFieldKey(key, m.version, field)
	_, existed, err := func() ([]byte, bool, error) {
		v, err := s.get(fieldKey)
		if err != nil {
			if lsmerr.Is(err, lsmerr.NotFound) {
				return nil, false, nil
			}
			return nil, false, err
		}
		return v, true, nil
	}()
	if err != nil {
		return false, err
	}
	if err := s.set(fieldKey, value); err != nil {
		return false, err
	}
	if !existed {
		m.count++
	}
	if err := s.set(hashMetaKey(key), encodeMeta(m)); err != nil {
		return false, err
	}
	return !existed, nil
}

// HGet returns the value of field in the hash at key, or (nil, nil) if
// the hash or field is absent.
func (s *Store) HGet(key, field []byte) ([]byte, error) {
	m, ok, err := loadLiveMeta(s.get, hashMetaKey(key), time.Now())
	if err != nil || !ok {
		return nil, err
	}
	v, err := s.get(hashFieldKey(key, m.version, field))
	if err != nil {
		if lsmerr.Is(err, lsmerr.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

// HMSet sets every field in fields, sharing one meta rewrite.
func (s *Store) HMSet(key []byte, fields map[string][]byte) error {
	m, _, err := s.hashMetaOrNew(key)
	if err != nil {
		return err
	}
	for f, v := range fields {
		fieldKey := hashFieldKey(key, m.version, []byte(f))
		if _, err := s.get(fieldKey); err != nil {
			if !lsmerr.Is(err, lsmerr.NotFound) {
				return err
			}
			m.count++
		}
		if err := s.set(fieldKey, v); err != nil {
			return err
		}
	}
	return s.set(hashMetaKey(key), encodeMeta(m))
}

// HMGet returns the value of each field, with nil for any miss.
func (s *Store) HMGet(key []byte, fields [][]byte) ([][]byte, error) {
	m, ok, err := loadLiveMeta(s.get, hashMetaKey(key), time.Now())
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(fields))
	if !ok {
		return out, nil
	}
	for i, f := range fields {
		v, err := s.get(hashFieldKey(key, m.version, f))
		if err != nil {
			if lsmerr.Is(err, lsmerr.NotFound) {
				continue
			}
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// HGetAll range-scans every live field row for key.
func (s *Store) HGetAll(key []byte) (map[string][]byte, error) {
	m, ok, err := loadLiveMeta(s.get, hashMetaKey(key), time.Now())
	if err != nil || !ok {
		return nil, err
	}
	lower := hashFieldPrefixFor(key, m.version)
	upper := prefixUpperBound(lower)
	it, err := s.db.NewIter(lower, upper)
	if err != nil {
		return nil, err
	}
	result := make(map[string][]byte, m.count)
	for it.Next() {
		field := it.Key()[len(lower):]
		result[string(field)] = append([]byte(nil), it.Value()...)
	}
	return result, nil
}

// HDel removes each field from the hash at key, returning the number
// actually removed.
func (s *Store) HDel(key []byte, fields [][]byte) (int, error) {
	m, ok, err := loadLiveMeta(s.get, hashMetaKey(key), time.Now())
	if err != nil || !ok {
		return 0, err
	}
	n := 0
	for _, f := range fields {
		fieldKey := hashFieldKey(key, m.version, f)
		if _, err := s.get(fieldKey); err != nil {
			if lsmerr.Is(err, lsmerr.NotFound) {
				continue
			}
			return n, err
		}
		if err := s.db.Delete(fieldKey); err != nil {
			return n, err
		}
		m.count--
		n++
	}
	if n > 0 {
		if err := s.set(hashMetaKey(key), encodeMeta(m)); err != nil {
			return n, err
		}
	}
	return n, nil
}

// HLen reports the number of fields in the hash at key.
func (s *Store) HLen(key []byte) (int, error) {
	m, ok, err := loadLiveMeta(s.get, hashMetaKey(key), time.Now())
	if err != nil || !ok {
		return 0, err
	}
	return int(m.count), nil
}

// prefixUpperBound returns the smallest byte string greater than every
// string with the given prefix, for bounding a range scan; it is nil
// (unbounded) if prefix is all 0xff bytes.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] != 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}
