package sstable

import (
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/lsmredis/lsmredis/internal/base"
)

// bloomPolicy implements base.FilterPolicy with a standard double-hashing
// bloom filter (Kirsch-Mitzenmacher): a single xxhash64 is split into two
// 32-bit hashes h1, h2, and probe i checks bit (h1 + i*h2) % nbits.
type bloomPolicy struct {
	bitsPerKey int
}

// NewBloomPolicy returns a filter policy that spends bitsPerKey bits of
// filter data per key added.
func NewBloomPolicy(bitsPerKey int) base.FilterPolicy {
	if bitsPerKey <= 0 {
		bitsPerKey = base.DefaultFilterBitsPerKey
	}
	return &bloomPolicy{bitsPerKey: bitsPerKey}
}

func (p *bloomPolicy) Name() string { return "lsmredis.BuiltinBloomFilter" }

func numProbes(bitsPerKey int) int {
	n := int(math.Round(float64(bitsPerKey) * 0.69))
	if n < 1 {
		n = 1
	}
	if n > 30 {
		n = 30
	}
	return n
}

type bloomWriter struct {
	bitsPerKey int
	keys       [][]byte
}

func (p *bloomPolicy) NewWriter() base.FilterWriter {
	return &bloomWriter{bitsPerKey: p.bitsPerKey}
}

func (w *bloomWriter) Add(key []byte) {
	buf := make([]byte, len(key))
	copy(buf, key)
	w.keys = append(w.keys, buf)
}

func (w *bloomWriter) Finish(dst []byte) []byte {
	nKeys := len(w.keys)
	if nKeys == 0 {
		return append(dst, 0)
	}
	nBits := nKeys * w.bitsPerKey
	if nBits < 64 {
		nBits = 64
	}
	nBytes := (nBits + 7) / 8
	nBits = nBytes * 8
	probes := numProbes(w.bitsPerKey)

	start := len(dst)
	dst = append(dst, make([]byte, nBytes)...)
	filter := dst[start:]
	for _, k := range w.keys {
		h1, h2 := splitHash(xxhash.Sum64(k))
		h := h1
		for i := 0; i < probes; i++ {
			bitPos := h % uint32(nBits)
			filter[bitPos/8] |= 1 << (bitPos % 8)
			h += h2
		}
	}
	return append(dst, byte(probes))
}

func splitHash(h uint64) (h1, h2 uint32) {
	return uint32(h), uint32(h >> 32)
}

// MayContain implements base.FilterPolicy.
func (p *bloomPolicy) MayContain(filter, key []byte) bool {
	if len(filter) < 1 {
		return true
	}
	nBytes := len(filter) - 1
	if nBytes == 0 {
		return false
	}
	probes := int(filter[nBytes])
	nBits := nBytes * 8
	h1, h2 := splitHash(xxhash.Sum64(key))
	h := h1
	for i := 0; i < probes; i++ {
		bitPos := h % uint32(nBits)
		if filter[bitPos/8]&(1<<(bitPos%8)) == 0 {
			return false
		}
		h += h2
	}
	return true
}
