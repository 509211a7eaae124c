package redis

import (
	"bytes"
	"math"
	"time"

	"github.com/lsmredis/lsmredis/lsm"
	"github.com/lsmredis/lsmredis/lsmerr"
)

// ZMember is one (member, score) pair, the unit of zset range results.
type ZMember struct {
	Member []byte
	Score  float64
}

// Aggregate selects how ZUnionStore/ZInterStore fold scores across inputs.
type Aggregate int

const (
	AggregateSum Aggregate = iota
	AggregateMin
	AggregateMax
)

func (a Aggregate) fold(acc, next float64) float64 {
	switch a {
	case AggregateMin:
		return math.Min(acc, next)
	case AggregateMax:
		return math.Max(acc, next)
	default:
		return acc + next
	}
}

// zsetMetaOrNew mirrors hashMetaOrNew: a fresh version number for an
// absent or expired key, without persisting it until a write commits.
func (s *Store) zsetMetaOrNew(key []byte) (m meta, isNew bool, err error) {
	m, ok, err := loadLiveMeta(s.get, zsetMetaKey(key), time.Now())
	if err != nil {
		return meta{}, false, err
	}
	if ok {
		return m, false, nil
	}
	if err := s.checkTypeFree(key, zsetMetaPrefix); err != nil {
		return meta{}, false, err
	}
	nextVersion := uint64(0)
	if raw, err := s.get(zsetMetaKey(key)); err == nil {
		if old, ok := decodeMeta(raw); ok {
			nextVersion = old.version + 1
		}
	} else if !lsmerr.Is(err, lsmerr.NotFound) {
		return meta{}, false, err
	}
	return meta{count: 0, version: nextVersion, ttlMs: 0}, true, nil
}

func (s *Store) memberScore(key []byte, version uint64, member []byte) (float64, bool, error) {
	raw, err := s.get(zsetMemberKey(key, version, member))
	if err != nil {
		if lsmerr.Is(err, lsmerr.NotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return decodeScore(raw), true, nil
}

// putMember queues both synchronized index-row writes for (member, score)
// into b, including a delete of any stale score-index row left by a prior
// score, so a caller can commit an entire logical operation's writes (this
// plus a meta rewrite, plus any sibling members) as one atomic batch.
func (s *Store) putMember(b *lsm.Batch, key []byte, version uint64, member []byte, score float64) error {
	if old, ok, err := s.memberScore(key, version, member); err != nil {
		return err
	} else if ok && old != score {
		b.Delete(zsetScoreKey(key, version, old, member))
	}
	b.Set(zsetMemberKey(key, version, member), encodeScore(score))
	b.Set(zsetScoreKey(key, version, score, member), nil)
	return nil
}

// ZAdd inserts or updates each (score, member) pair, returning the number
// of members newly added (not counting score updates to existing ones).
// Every member's index-row writes and the final meta rewrite commit in one
// batch, so a crash mid-ZAdd can never leave the member and score indexes
// (or the count in meta) out of sync with each other.
func (s *Store) ZAdd(key []byte, pairs []ZMember) (int, error) {
	for _, p := range pairs {
		if math.IsNaN(p.Score) {
			return 0, lsmerr.New(lsmerr.ScoreNaN, "redis: zadd score is NaN")
		}
	}
	m, _, err := s.zsetMetaOrNew(key)
	if err != nil {
		return 0, err
	}
	// When a member appears more than once, only its last pair applies.
	last := make(map[string]int, len(pairs))
	for i, p := range pairs {
		last[string(p.Member)] = i
	}
	b := lsm.NewBatch()
	added := 0
	for i, p := range pairs {
		if last[string(p.Member)] != i {
			continue
		}
		_, existed, err := s.memberScore(key, m.version, p.Member)
		if err != nil {
			return added, err
		}
		if err := s.putMember(b, key, m.version, p.Member, p.Score); err != nil {
			return added, err
		}
		if !existed {
			m.count++
			added++
		}
	}
	b.Set(zsetMetaKey(key), encodeMeta(m))
	if err := s.db.Apply(b); err != nil {
		return added, err
	}
	return added, nil
}

// ZCard returns the number of members in the zset at key, or 0 if key does
// not exist.
func (s *Store) ZCard(key []byte) (int, error) {
	m, ok, err := loadLiveMeta(s.get, zsetMetaKey(key), time.Now())
	if err != nil || !ok {
		return 0, err
	}
	return int(m.count), nil
}

// ZScore returns the score of member in the zset at key.
func (s *Store) ZScore(key, member []byte) (float64, bool, error) {
	m, ok, err := loadLiveMeta(s.get, zsetMetaKey(key), time.Now())
	if err != nil || !ok {
		return 0, false, err
	}
	return s.memberScore(key, m.version, member)
}

// zsetScoreEntries returns every (score, member) pair between lower and
// upper score-index bounds, in ascending score-index order (ascending
// score, member bytewise ascending on ties).
func (s *Store) zsetScoreEntries(key []byte, version uint64, lower, upper []byte) ([]ZMember, error) {
	it, err := s.db.NewIter(lower, upper)
	if err != nil {
		return nil, err
	}
	prefix := zsetScorePrefixFor(key, version)
	var out []ZMember
	for it.Next() {
		rest := it.Key()[len(prefix):]
		if len(rest) < 8 {
			continue
		}
		score := scoreFromSortable(rest[:8])
		member := append([]byte(nil), rest[8:]...)
		out = append(out, ZMember{Member: member, Score: score})
	}
	return out, nil
}

// ZRank returns member's 0-based rank in ascending score order.
func (s *Store) ZRank(key, member []byte) (int, bool, error) {
	return s.rank(key, member, false)
}

// ZRevRank returns member's 0-based rank in descending score order.
func (s *Store) ZRevRank(key, member []byte) (int, bool, error) {
	return s.rank(key, member, true)
}

func (s *Store) rank(key, member []byte, reverse bool) (int, bool, error) {
	m, ok, err := loadLiveMeta(s.get, zsetMetaKey(key), time.Now())
	if err != nil || !ok {
		return 0, false, err
	}
	score, ok, err := s.memberScore(key, m.version, member)
	if err != nil || !ok {
		return 0, false, err
	}
	entries, err := s.zsetScoreEntries(key, m.version, zsetScorePrefixFor(key, m.version), prefixUpperBound(zsetScorePrefixFor(key, m.version)))
	if err != nil {
		return 0, false, err
	}
	if reverse {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}
	for i, e := range entries {
		if e.Score == score && bytes.Equal(e.Member, member) {
			return i, true, nil
		}
	}
	return 0, false, nil
}

func normalizeRange(start, stop, n int) (int, int, bool) {
	start = normalizeIndex(start, n)
	stop = normalizeIndex(stop, n)
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}

// ZRange returns members ordered by ascending score in rank range
// [start, stop] (inclusive, Redis-style negative indices allowed).
func (s *Store) ZRange(key []byte, start, stop int) ([]ZMember, error) {
	return s.rangeByRank(key, start, stop, false)
}

// ZRevRange is ZRange in descending score order.
func (s *Store) ZRevRange(key []byte, start, stop int) ([]ZMember, error) {
	return s.rangeByRank(key, start, stop, true)
}

func (s *Store) rangeByRank(key []byte, start, stop int, reverse bool) ([]ZMember, error) {
	m, ok, err := loadLiveMeta(s.get, zsetMetaKey(key), time.Now())
	if err != nil || !ok {
		return nil, err
	}
	prefix := zsetScorePrefixFor(key, m.version)
	entries, err := s.zsetScoreEntries(key, m.version, prefix, prefixUpperBound(prefix))
	if err != nil {
		return nil, err
	}
	if reverse {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}
	lo, hi, ok := normalizeRange(start, stop, len(entries))
	if !ok {
		return []ZMember{}, nil
	}
	return append([]ZMember(nil), entries[lo:hi+1]...), nil
}

// scoreRangeBounds builds the score-index scan bounds for [min, max] with
// the given endpoint inclusivity. Exclusive bounds skip past every row
// sharing that exact score by incrementing the fixed-width score field,
// since scores (unlike members) never form byte-prefixes of one another.
func scoreRangeBounds(key []byte, version uint64, min, max float64, minIncl, maxIncl bool) ([]byte, []byte) {
	minPrefix := zsetScoreBoundKey(key, version, min)
	maxPrefix := zsetScoreBoundKey(key, version, max)
	var lower, upper []byte
	if minIncl {
		lower = minPrefix
	} else {
		lower = prefixUpperBound(minPrefix)
	}
	if maxIncl {
		upper = prefixUpperBound(maxPrefix)
	} else {
		upper = maxPrefix
	}
	return lower, upper
}

// ZRangeByScore returns members with score in [min, max], subject to
// minIncl/maxIncl, ordered ascending.
func (s *Store) ZRangeByScore(key []byte, min, max float64, minIncl, maxIncl bool) ([]ZMember, error) {
	m, ok, err := loadLiveMeta(s.get, zsetMetaKey(key), time.Now())
	if err != nil || !ok {
		return nil, err
	}
	lower, upper := scoreRangeBounds(key, m.version, min, max, minIncl, maxIncl)
	return s.zsetScoreEntries(key, m.version, lower, upper)
}

// lexBounds builds member-index scan bounds for [min, max] member byte
// strings, exclusive endpoints skirting the exact boundary value by
// appending the smallest possible byte, which sorts immediately after an
// exact match but before any longer member value with it as a prefix.
func lexBounds(key []byte, version uint64, min, max []byte, minIncl, maxIncl bool) ([]byte, []byte) {
	lowerExact := zsetMemberKey(key, version, min)
	upperExact := zsetMemberKey(key, version, max)
	var lower, upper []byte
	if minIncl {
		lower = lowerExact
	} else {
		lower = append(append([]byte(nil), lowerExact...), 0x00)
	}
	if maxIncl {
		upper = append(append([]byte(nil), upperExact...), 0x00)
	} else {
		upper = upperExact
	}
	return lower, upper
}

// ZRangeByLex returns members between min and max, requiring all members
// in the set to share one score (the caller's responsibility per Redis
// semantics); ordering follows member bytewise order.
func (s *Store) ZRangeByLex(key []byte, min, max []byte, minIncl, maxIncl bool) ([][]byte, error) {
	m, ok, err := loadLiveMeta(s.get, zsetMetaKey(key), time.Now())
	if err != nil || !ok {
		return nil, err
	}
	lower, upper := lexBounds(key, m.version, min, max, minIncl, maxIncl)
	prefix := zsetMemberPrefixFor(key, m.version)
	it, err := s.db.NewIter(lower, upper)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for it.Next() {
		out = append(out, append([]byte(nil), it.Key()[len(prefix):]...))
	}
	return out, nil
}

// ZCount counts members with score in [min, max].
func (s *Store) ZCount(key []byte, min, max float64, minIncl, maxIncl bool) (int, error) {
	entries, err := s.ZRangeByScore(key, min, max, minIncl, maxIncl)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// ZLexCount counts members in [min, max] lex range.
func (s *Store) ZLexCount(key []byte, min, max []byte, minIncl, maxIncl bool) (int, error) {
	entries, err := s.ZRangeByLex(key, min, max, minIncl, maxIncl)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (s *Store) removeMember(b *lsm.Batch, key []byte, version uint64, member []byte) (bool, error) {
	score, ok, err := s.memberScore(key, version, member)
	if err != nil || !ok {
		return false, err
	}
	b.Delete(zsetMemberKey(key, version, member))
	b.Delete(zsetScoreKey(key, version, score, member))
	return true, nil
}

// ZRem removes each member from the zset at key, committing every
// index-row delete and the meta rewrite in a single batch.
func (s *Store) ZRem(key []byte, members [][]byte) (int, error) {
	m, ok, err := loadLiveMeta(s.get, zsetMetaKey(key), time.Now())
	if err != nil || !ok {
		return 0, err
	}
	b := lsm.NewBatch()
	n := 0
	for _, mem := range members {
		removed, err := s.removeMember(b, key, m.version, mem)
		if err != nil {
			return n, err
		}
		if removed {
			m.count--
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	b.Set(zsetMetaKey(key), encodeMeta(m))
	if err := s.db.Apply(b); err != nil {
		return n, err
	}
	return n, nil
}

// ZRemRangeByRank removes members whose ascending-score rank falls in
// [start, stop].
func (s *Store) ZRemRangeByRank(key []byte, start, stop int) (int, error) {
	victims, err := s.rangeByRank(key, start, stop, false)
	if err != nil || len(victims) == 0 {
		return 0, err
	}
	members := make([][]byte, len(victims))
	for i, v := range victims {
		members[i] = v.Member
	}
	return s.ZRem(key, members)
}

// ZRemRangeByScore removes members with score in [min, max].
func (s *Store) ZRemRangeByScore(key []byte, min, max float64, minIncl, maxIncl bool) (int, error) {
	victims, err := s.ZRangeByScore(key, min, max, minIncl, maxIncl)
	if err != nil || len(victims) == 0 {
		return 0, err
	}
	members := make([][]byte, len(victims))
	for i, v := range victims {
		members[i] = v.Member
	}
	return s.ZRem(key, members)
}

// ZRemRangeByLex removes members in [min, max] lex range.
func (s *Store) ZRemRangeByLex(key []byte, min, max []byte, minIncl, maxIncl bool) (int, error) {
	victims, err := s.ZRangeByLex(key, min, max, minIncl, maxIncl)
	if err != nil || len(victims) == 0 {
		return 0, err
	}
	return s.ZRem(key, victims)
}

// ZIncrBy adds delta to member's score (treating a missing member as
// score 0) and returns the new score.
func (s *Store) ZIncrBy(key, member []byte, delta float64) (float64, error) {
	m, _, err := s.zsetMetaOrNew(key)
	if err != nil {
		return 0, err
	}
	old, existed, err := s.memberScore(key, m.version, member)
	if err != nil {
		return 0, err
	}
	next := delta
	if existed {
		next = old + delta
	}
	if math.IsNaN(next) {
		return 0, lsmerr.New(lsmerr.ScoreNaN, "redis: zincrby result is NaN")
	}
	b := lsm.NewBatch()
	if err := s.putMember(b, key, m.version, member, next); err != nil {
		return 0, err
	}
	if !existed {
		m.count++
	}
	b.Set(zsetMetaKey(key), encodeMeta(m))
	if err := s.db.Apply(b); err != nil {
		return 0, err
	}
	return next, nil
}

// allMembers reads every (member, score) pair currently live for key, or
// nil if the key does not exist.
func (s *Store) allMembers(key []byte) (map[string]float64, error) {
	m, ok, err := loadLiveMeta(s.get, zsetMetaKey(key), time.Now())
	if err != nil || !ok {
		return nil, err
	}
	lower := zsetMemberPrefixFor(key, m.version)
	upper := prefixUpperBound(lower)
	it, err := s.db.NewIter(lower, upper)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, m.count)
	for it.Next() {
		out[string(it.Key()[len(lower):])] = decodeScore(it.Value())
	}
	return out, nil
}

// combine folds keys' member sets through agg with per-key weights,
// unioning members for AggregateSum/Min/Max semantics or intersecting
// when inter is true.
func (s *Store) combine(keys [][]byte, weights []float64, agg Aggregate, inter bool) (map[string]float64, error) {
	result := make(map[string]float64)
	seenCount := make(map[string]int)
	for i, k := range keys {
		members, err := s.allMembers(k)
		if err != nil {
			return nil, err
		}
		weight := 1.0
		if i < len(weights) {
			weight = weights[i]
		}
		for member, score := range members {
			weighted := score * weight
			seenCount[member]++
			if cur, ok := result[member]; ok {
				result[member] = agg.fold(cur, weighted)
			} else {
				result[member] = weighted
			}
		}
	}
	if inter {
		for member, count := range seenCount {
			if count < len(keys) {
				delete(result, member)
			}
		}
	}
	return result, nil
}

// storeResult replaces dest with members, bumping its meta version so any
// orphaned rows from the prior generation become invisible garbage. Every
// member's index rows and the meta rewrite commit in one batch.
func (s *Store) storeResult(dest []byte, members map[string]float64) (int, error) {
	m, _, err := s.zsetMetaOrNew(dest)
	if err != nil {
		return 0, err
	}
	m.version++
	m.count = uint32(len(members))
	b := lsm.NewBatch()
	for member, score := range members {
		if err := s.putMember(b, dest, m.version, []byte(member), score); err != nil {
			return 0, err
		}
	}
	b.Set(zsetMetaKey(dest), encodeMeta(m))
	if err := s.db.Apply(b); err != nil {
		return 0, err
	}
	return len(members), nil
}

// ZUnionStore writes the weighted, aggregated union of keys' members into
// dest, replacing any prior contents.
func (s *Store) ZUnionStore(dest []byte, keys [][]byte, weights []float64, agg Aggregate) (int, error) {
	merged, err := s.combine(keys, weights, agg, false)
	if err != nil {
		return 0, err
	}
	return s.storeResult(dest, merged)
}

// ZInterStore writes the weighted, aggregated intersection of keys'
// members into dest, replacing any prior contents.
func (s *Store) ZInterStore(dest []byte, keys [][]byte, weights []float64, agg Aggregate) (int, error) {
	merged, err := s.combine(keys, weights, agg, true)
	if err != nil {
		return 0, err
	}
	return s.storeResult(dest, merged)
}
