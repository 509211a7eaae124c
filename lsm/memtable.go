package lsm

import (
	"math/rand"
	"sync"

	"github.com/lsmredis/lsmredis/internal/base"
)

const maxHeight = 12
const branching = 4

// memtable is a concurrent skiplist of InternalKey -> value, safe for one
// writer and any number of concurrent readers under its RWMutex. Modeled
// as a classic pointer-linked skiplist rather than an arena allocator: it
// trades a small amount of extra per-node allocation overhead for a much
// simpler, entirely safe implementation.
type memtable struct {
	mu     sync.RWMutex
	cmp    base.Compare
	head   *mtNode
	height int
	rnd    *rand.Rand

	approxBytes int
}

type mtNode struct {
	key   base.InternalKey
	value []byte
	next  []*mtNode
}

func newMemtable(cmp base.Compare) *memtable {
	return &memtable{
		cmp:    cmp,
		head:   &mtNode{next: make([]*mtNode, maxHeight)},
		height: 1,
		rnd:    rand.New(rand.NewSource(rand.Int63())),
	}
}

func (m *memtable) randomHeight() int {
	h := 1
	for h < maxHeight && m.rnd.Intn(branching) == 0 {
		h++
	}
	return h
}

// keyLess orders by InternalCompare: user key ascending, sequence
// descending, kind descending.
func (m *memtable) keyLess(a, b base.InternalKey) bool {
	return base.InternalCompare(m.cmp, a, b) < 0
}

// findGreaterOrEqual walks the skiplist, returning the first node whose
// key is >= target and optionally filling prev with the last node at each
// level that sorts strictly before target (used when splicing in a new
// node).
func (m *memtable) findGreaterOrEqual(target base.InternalKey, prev []*mtNode) *mtNode {
	x := m.head
	level := m.height - 1
	for {
		next := x.next[level]
		if next != nil && m.keyLess(next.key, target) {
			x = next
			continue
		}
		if prev != nil {
			prev[level] = x
		}
		if level == 0 {
			return next
		}
		level--
	}
}

// Add inserts a new entry. Entries with identical InternalKeys never
// occur in practice since sequence numbers are unique, so Add always
// grows the table rather than overwriting.
func (m *memtable) Add(key base.InternalKey, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var prev [maxHeight]*mtNode
	for i := range prev {
		prev[i] = m.head
	}
	m.findGreaterOrEqual(key, prev[:])

	height := m.randomHeight()
	if height > m.height {
		for i := m.height; i < height; i++ {
			prev[i] = m.head
		}
		m.height = height
	}

	node := &mtNode{key: key, value: value, next: make([]*mtNode, height)}
	for i := 0; i < height; i++ {
		node.next[i] = prev[i].next[i]
		prev[i].next[i] = node
	}
	m.approxBytes += key.Size() + len(value) + 8*height + 32
}

// Get returns the value for the newest entry matching userKey with
// sequence <= seqNum, along with its kind (a Delete kind means the key is
// a tombstone at that sequence).
func (m *memtable) Get(userKey []byte, seqNum uint64) (value []byte, kind base.InternalKeyKind, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// MakeSearchKey with InternalKeyKindMax sorts before every real entry
	// for userKey regardless of sequence, so this lands on the first
	// (highest-sequence) entry for userKey; walk forward past any entries
	// newer than seqNum.
	search := base.MakeSearchKey(userKey, base.InternalKeySeqNumMax)
	n := m.findGreaterOrEqual(search, nil)
	for n != nil && m.cmp(n.key.UserKey, userKey) == 0 && n.key.SeqNum() > seqNum {
		n = n.next[0]
	}
	if n == nil || m.cmp(n.key.UserKey, userKey) != 0 {
		return nil, 0, false
	}
	return n.value, n.key.Kind(), true
}

func (m *memtable) ApproxSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.approxBytes
}

// iterator walks the memtable from front to back in InternalKey order.
type memtableIterator struct {
	m   *memtable
	cur *mtNode
}

func (m *memtable) NewIterator() *memtableIterator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &memtableIterator{m: m, cur: m.head}
}

func (it *memtableIterator) Next() bool {
	it.m.mu.RLock()
	defer it.m.mu.RUnlock()
	if it.cur == nil || it.cur.next[0] == nil {
		it.cur = nil
		return false
	}
	it.cur = it.cur.next[0]
	return true
}

func (it *memtableIterator) Valid() bool { return it.cur != nil }
func (it *memtableIterator) Key() base.InternalKey { return it.cur.key }
func (it *memtableIterator) Value() []byte         { return it.cur.value }
