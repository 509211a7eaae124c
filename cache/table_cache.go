package cache

import (
	"container/list"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/lsmredis/lsmredis/internal/base"
	"github.com/lsmredis/lsmredis/lsmerr"
	"github.com/lsmredis/lsmredis/sstable"
	"github.com/lsmredis/lsmredis/vfs"
)

const numTableCacheShards = 16

// TableCache is an LRU of open sstable.Reader instances, sharded by
// file-number hash so concurrent opens on different files don't contend
// on a single lock.
type TableCache struct {
	fs      vfs.FS
	dirname string
	o       *base.Options
	shards  [numTableCacheShards]tableCacheShard
}

// NewTableCache returns a table cache that opens tables under dirname
// through fs, caching at most capacity readers per shard.
func NewTableCache(fs vfs.FS, dirname string, o *base.Options, capacityPerShard int) *TableCache {
	tc := &TableCache{fs: fs, dirname: dirname, o: o}
	for i := range tc.shards {
		tc.shards[i].capacity = capacityPerShard
		tc.shards[i].entries = make(map[uint64]*list.Element)
		tc.shards[i].lru = list.New()
	}
	return tc
}

func shardFor(fileNum uint64) int {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(fileNum >> (8 * i))
	}
	return int(xxhash.Sum64(buf[:]) % numTableCacheShards)
}

type tableCacheNode struct {
	fileNum uint64
	reader  *sstable.Reader
	file    vfs.File
	refs    int
}

type tableCacheShard struct {
	mu       sync.Mutex
	capacity int
	entries  map[uint64]*list.Element
	lru      *list.List
}

// Get returns the reader for fileNum, opening it (and evicting the least
// recently used reader if the shard is full) on a cache miss.
func (tc *TableCache) Get(fileNum uint64, fileSize int64) (*sstable.Reader, error) {
	shard := &tc.shards[shardFor(fileNum)]
	shard.mu.Lock()
	if el, ok := shard.entries[fileNum]; ok {
		shard.lru.MoveToFront(el)
		node := el.Value.(*tableCacheNode)
		shard.mu.Unlock()
		return node.reader, nil
	}
	shard.mu.Unlock()

	name := base.MakeFilename(tc.dirname, base.FileTypeTable, fileNum)
	f, err := tc.fs.Open(name)
	if err != nil {
		return nil, lsmerr.Wrap(lsmerr.IOError, err)
	}
	reader, err := sstable.NewReader(f, fileSize, tc.o)
	if err != nil {
		f.Close()
		return nil, err
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if el, ok := shard.entries[fileNum]; ok {
		// Lost a race with a concurrent opener; keep the existing entry.
		shard.lru.MoveToFront(el)
		f.Close()
		return el.Value.(*tableCacheNode).reader, nil
	}
	node := &tableCacheNode{fileNum: fileNum, reader: reader, file: f}
	el := shard.lru.PushFront(node)
	shard.entries[fileNum] = el
	if shard.lru.Len() > shard.capacity {
		tail := shard.lru.Back()
		evicted := tail.Value.(*tableCacheNode)
		shard.lru.Remove(tail)
		delete(shard.entries, evicted.fileNum)
		evicted.file.Close()
	}
	return node.reader, nil
}

// Evict drops fileNum from the cache, closing its underlying file. Called
// when a compaction removes the file from every Version.
func (tc *TableCache) Evict(fileNum uint64) {
	shard := &tc.shards[shardFor(fileNum)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if el, ok := shard.entries[fileNum]; ok {
		node := el.Value.(*tableCacheNode)
		shard.lru.Remove(el)
		delete(shard.entries, fileNum)
		node.file.Close()
	}
}
