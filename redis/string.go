package redis

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/lsmredis/lsmredis/lsm"
	"github.com/lsmredis/lsmredis/lsmerr"
)

// encodeStringValue lays out ttl_expiry_ms(u64 LE) || payload. ttl is an
// absolute unix-millis deadline; 0 means no expiry.
func encodeStringValue(ttlMs uint64, payload []byte) []byte {
	b := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint64(b[:8], ttlMs)
	copy(b[8:], payload)
	return b
}

func decodeStringValue(raw []byte) (ttlMs uint64, payload []byte, ok bool) {
	if len(raw) < 8 {
		return 0, nil, false
	}
	return binary.LittleEndian.Uint64(raw[:8]), raw[8:], true
}

func ttlDeadline(ttl time.Duration) uint64 {
	if ttl <= 0 {
		return 0
	}
	return uint64(time.Now().Add(ttl).UnixMilli())
}

func expiredAt(ttlMs uint64, now time.Time) bool {
	return ttlMs != 0 && uint64(now.UnixMilli()) >= ttlMs
}

// getPayload reads and TTL-checks the string at key, returning
// (nil, false, nil) for a miss or lazy expiry so callers can treat both as
// "not found" without an error, and enqueueing a background delete for
// rows found expired.
func (s *Store) getPayload(key []byte) ([]byte, bool, error) {
	raw, err := s.get(stringKey(key))
	if err != nil {
		if lsmerr.Is(err, lsmerr.NotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	ttlMs, payload, ok := decodeStringValue(raw)
	if !ok {
		return nil, false, lsmerr.New(lsmerr.Corruption, "redis: malformed string value for key %q", key)
	}
	if expiredAt(ttlMs, time.Now()) {
		s.enqueueExpire(key)
		return nil, false, nil
	}
	return payload, true, nil
}

func (s *Store) putPayload(key []byte, ttlMs uint64, payload []byte) error {
	return s.set(stringKey(key), encodeStringValue(ttlMs, payload))
}

// Set stores value for key with the given TTL (zero means no expiry).
func (s *Store) Set(key, value []byte, ttl time.Duration) error {
	if err := s.checkTypeFree(key, stringPrefix); err != nil {
		return err
	}
	return s.putPayload(key, ttlDeadline(ttl), value)
}

// Get returns the current value for key, or (nil, nil) on miss/expiry.
func (s *Store) Get(key []byte) ([]byte, error) {
	v, ok, err := s.getPayload(key)
	if err != nil || !ok {
		return nil, err
	}
	return v, nil
}

// GetSet stores value (with no TTL) and returns the previous value. The
// read and the write are two separate operations, not one atomic step.
func (s *Store) GetSet(key, value []byte) ([]byte, error) {
	old, _, err := s.getPayload(key)
	if err != nil {
		return nil, err
	}
	if err := s.putPayload(key, 0, value); err != nil {
		return nil, err
	}
	return old, nil
}

// SetNX sets key only if it does not already exist (or is expired).
func (s *Store) SetNX(key, value []byte) (bool, error) {
	_, ok, err := s.getPayload(key)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	return true, s.putPayload(key, 0, value)
}

// SetXX ("set if exists") sets key to value with the given TTL only if key
// currently exists, regardless of its current value. Returns 1 if set, 0
// if key does not currently exist.
func (s *Store) SetXX(key, value []byte, ttl time.Duration) (int, error) {
	_, ok, err := s.getPayload(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	if err := s.putPayload(key, ttlDeadline(ttl), value); err != nil {
		return 0, err
	}
	return 1, nil
}

// SetVX ("set if currently equal") sets key to newValue with the given TTL
// only if key currently holds expected. Returns 1 if the swap happened, 0
// if key does not currently exist, and -1 if key exists but holds a value
// other than expected.
func (s *Store) SetVX(key, expected, newValue []byte, ttl time.Duration) (int, error) {
	current, ok, err := s.getPayload(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	if !bytes.Equal(current, expected) {
		return -1, nil
	}
	if err := s.putPayload(key, ttlDeadline(ttl), newValue); err != nil {
		return 0, err
	}
	return 1, nil
}

// DelVX ("delete if currently equal") deletes key only if it currently
// holds expected. Returns 1 if deleted, 0 if key does not currently exist,
// and -1 if key exists but holds a value other than expected.
func (s *Store) DelVX(key, expected []byte) (int, error) {
	current, ok, err := s.getPayload(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	if !bytes.Equal(current, expected) {
		return -1, nil
	}
	return 1, s.db.Delete(stringKey(key))
}

// SetBit sets the bit at offset (0 or 1) and returns the bit's prior value.
func (s *Store) SetBit(key []byte, offset uint32, bit byte) (byte, error) {
	payload, _, err := s.getPayload(key)
	if err != nil {
		return 0, err
	}
	byteIdx := offset / 8
	bitIdx := 7 - (offset % 8)
	if uint32(len(payload)) <= byteIdx {
		grown := make([]byte, byteIdx+1)
		copy(grown, payload)
		payload = grown
	} else {
		payload = append([]byte(nil), payload...)
	}
	old := (payload[byteIdx] >> bitIdx) & 1
	if bit != 0 {
		payload[byteIdx] |= 1 << bitIdx
	} else {
		payload[byteIdx] &^= 1 << bitIdx
	}
	return old, s.putPayload(key, 0, payload)
}

// GetBit returns the bit at offset, or 0 if key or the offset is unset.
func (s *Store) GetBit(key []byte, offset uint32) (byte, error) {
	payload, ok, err := s.getPayload(key)
	if err != nil || !ok {
		return 0, err
	}
	byteIdx := offset / 8
	if uint32(len(payload)) <= byteIdx {
		return 0, nil
	}
	bitIdx := 7 - (offset % 8)
	return (payload[byteIdx] >> bitIdx) & 1, nil
}

// SetRange overwrites payload[offset:offset+len(value)], zero-padding the
// gap if offset extends past the current payload, and returns the new
// total length.
func (s *Store) SetRange(key []byte, offset uint32, value []byte) (int, error) {
	payload, _, err := s.getPayload(key)
	if err != nil {
		return 0, err
	}
	need := int(offset) + len(value)
	if need > len(payload) {
		grown := make([]byte, need)
		copy(grown, payload)
		payload = grown
	} else {
		payload = append([]byte(nil), payload...)
	}
	copy(payload[offset:], value)
	if err := s.putPayload(key, 0, payload); err != nil {
		return 0, err
	}
	return len(payload), nil
}

// GetRange returns payload[start:end] inclusive, clamped to bounds, with
// negative indices counted from the end (as in Redis).
func (s *Store) GetRange(key []byte, start, end int) ([]byte, error) {
	payload, ok, err := s.getPayload(key)
	if err != nil || !ok {
		return nil, err
	}
	n := len(payload)
	start = normalizeIndex(start, n)
	end = normalizeIndex(end, n)
	if start < 0 {
		start = 0
	}
	if end >= n {
		end = n - 1
	}
	if start > end || n == 0 {
		return []byte{}, nil
	}
	return append([]byte(nil), payload[start:end+1]...), nil
}

func normalizeIndex(i, n int) int {
	if i < 0 {
		return n + i
	}
	return i
}

// MSet stores every pair unconditionally, with no TTL.
func (s *Store) MSet(pairs map[string][]byte) error {
	b := s.db
	for k, v := range pairs {
		if err := b.Set(stringKey([]byte(k)), encodeStringValue(0, v)); err != nil {
			return err
		}
	}
	return nil
}

// MGet returns the current value for each key, with nil for any miss.
func (s *Store) MGet(keys [][]byte) ([][]byte, error) {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		v, err := s.Get(k)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// MSetNX stores every pair only if none of the keys currently exist. Each
// key is checked with its own read (the checks do not share one snapshot);
// the pairs are then written in one batch, so either all of them are
// stored or none is.
func (s *Store) MSetNX(pairs map[string][]byte) (bool, error) {
	for k := range pairs {
		_, ok, err := s.getPayload([]byte(k))
		if err != nil {
			return false, err
		}
		if ok {
			return false, nil
		}
	}
	b := lsm.NewBatch()
	for k, v := range pairs {
		b.Set(stringKey([]byte(k)), encodeStringValue(0, v))
	}
	if err := s.db.Apply(b); err != nil {
		return false, err
	}
	return true, nil
}
