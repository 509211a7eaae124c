package lsm

import (
	"github.com/lsmredis/lsmredis/internal/base"
	"github.com/lsmredis/lsmredis/sstable"
)

// Options is the public configuration surface for opening a DB. It embeds
// the storage engine's base.Options for the knobs that map directly, and
// adds knobs specific to this package's orchestration (compaction pacing,
// bloom filters).
type Options struct {
	*base.Options

	// CompactionBytesPerSec throttles background compaction I/O. Zero
	// disables pacing.
	CompactionBytesPerSec float64

	// UseBloomFilter turns on a 10-bits-per-key bloom filter on every
	// table this DB writes.
	UseBloomFilter bool

	// FlushSlowdownDelayMillis is defaulted to 1 by EnsureDefaults. No write
	// path reads it: Set and Apply never sleep or refuse writes based on
	// the number of L0 files.
	FlushSlowdownDelayMillis int
}

// EnsureDefaults returns o, or a fresh Options if o is nil, with every zero
// field replaced by its default.
func (o *Options) EnsureDefaults() *Options {
	if o == nil {
		o = &Options{}
	} else {
		clone := *o
		o = &clone
	}
	o.Options = o.Options.EnsureDefaults()
	if o.FlushSlowdownDelayMillis <= 0 {
		o.FlushSlowdownDelayMillis = 1
	}
	if o.UseBloomFilter && o.Options.FilterPolicy == nil {
		o.Options.FilterPolicy = sstable.NewBloomPolicy(base.DefaultFilterBitsPerKey)
	}
	return o
}

// tableOptions builds the *base.Options passed to sstable readers/writers:
// identical to o.Options except the comparator orders encoded InternalKeys
// rather than raw user keys, since that's what's actually stored in table
// files.
func tableOptions(o *Options, userCmp base.Compare) *base.Options {
	clone := *o.Options
	clone.Comparer = &base.Comparer{
		Compare: base.InternalKeyComparer{UserCompare: userCmp}.Compare,
		// Index entries use each block's full last key, which always
		// separates it from the next block under InternalKey ordering.
		Separator: func(dst, a, b []byte) []byte { return append(dst, a...) },
		Successor: func(dst, a []byte) []byte { return append(dst, a...) },
		Name:      o.Options.Comparer.Name + ".ikey",
	}
	return &clone
}
