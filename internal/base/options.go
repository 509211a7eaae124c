package base

// Compression identifies the block compression codec used by sstable
// writers, matching golang/snappy's role as the sole non-trivial codec in
// this engine.
type Compression int

const (
	NoCompression Compression = iota
	SnappyCompression
)

func (c Compression) String() string {
	switch c {
	case SnappyCompression:
		return "snappy"
	default:
		return "none"
	}
}

// FilterPolicy generates and checks block filters (e.g. a bloom filter).
type FilterPolicy interface {
	Name() string
	MayContain(filter, key []byte) bool
	NewWriter() FilterWriter
}

// FilterWriter accumulates keys for a single filter block.
type FilterWriter interface {
	Add(key []byte)
	Finish(dst []byte) []byte
}

// Logger is the narrow text-logging surface the engine calls into. A nil
// Logger is replaced by DefaultLogger during EnsureDefaults.
type Logger interface {
	Infof(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

const (
	DefaultBlockSize            = 4096
	DefaultBlockRestartInterval = 16
	DefaultWriteBufferSize      = 4 << 20
	DefaultMaxOpenFiles         = 1000
	DefaultMaxFileSize          = 2 << 20
	DefaultBytesPerSync         = 512 << 10
	DefaultFilterBitsPerKey     = 10

	L0CompactionThreshold     = 4
	L0SlowdownWritesThreshold = 8
	L0StopWritesThreshold     = 12
	NumLevels                 = 7
)

// Options collects every tunable of the storage engine. A nil *Options is
// valid everywhere; EnsureDefaults returns a new, fully populated Options
// rather than mutating its receiver in place.
type Options struct {
	CreateIfMissing      bool
	ErrorIfExists        bool
	WriteBufferSize      int
	MaxOpenFiles         int
	BlockSize            int
	BlockRestartInterval int
	Compression          Compression
	MaxFileSize          int
	BytesPerSync         int
	FilterPolicy         FilterPolicy
	Comparer             *Comparer
	Logger               Logger
	EventListener        *EventListener
}

// EnsureDefaults returns o, or a fresh Options if o is nil, with every zero
// field replaced by its default value.
func (o *Options) EnsureDefaults() *Options {
	if o == nil {
		o = &Options{}
	} else {
		clone := *o
		o = &clone
	}
	if o.WriteBufferSize <= 0 {
		o.WriteBufferSize = DefaultWriteBufferSize
	}
	if o.MaxOpenFiles <= 0 {
		o.MaxOpenFiles = DefaultMaxOpenFiles
	}
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.BlockRestartInterval <= 0 {
		o.BlockRestartInterval = DefaultBlockRestartInterval
	}
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.BytesPerSync <= 0 {
		o.BytesPerSync = DefaultBytesPerSync
	}
	if o.Comparer == nil {
		o.Comparer = DefaultComparer
	}
	if o.Logger == nil {
		o.Logger = DefaultLogger
	}
	if o.EventListener == nil {
		o.EventListener = &EventListener{}
	}
	return o
}

// LevelMaxBytes returns the compaction trigger size (10^level MB) used by
// the compaction-score formula for level >= 1.
func LevelMaxBytes(level int) int64 {
	const mb = 1 << 20
	mult := int64(1)
	for i := 0; i < level; i++ {
		mult *= 10
	}
	return mult * mb
}
