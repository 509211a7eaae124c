// Package lsm implements the storage engine: a write-ahead log, an
// in-memory memtable, sorted table files organized into levels, and a
// background flush/compaction pipeline that keeps read amplification
// bounded. It exposes a plain byte-key/byte-value KV interface; the redis
// package layers typed data structures on top of it.
package lsm

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/lsmredis/lsmredis/cache"
	"github.com/lsmredis/lsmredis/internal/base"
	"github.com/lsmredis/lsmredis/internal/compact"
	"github.com/lsmredis/lsmredis/internal/manifest"
	"github.com/lsmredis/lsmredis/internal/record"
	"github.com/lsmredis/lsmredis/lsmerr"
	"github.com/lsmredis/lsmredis/sstable"
	"github.com/lsmredis/lsmredis/vfs"
)

// DB is an open handle to a database directory.
type DB struct {
	dirname string
	fs      vfs.FS
	opts    *Options
	cmp     base.Compare
	tblOpts *base.Options

	lock vfs.Lock

	vs *manifest.VersionSet

	blockCache *cache.BlockCache
	tableCache *cache.TableCache

	writeMu sync.Mutex // serializes sequence assignment + WAL append only

	syncMu struct {
		sync.Mutex
		file   vfs.File // WAL file the last completed fsync covered
		synced uint64   // highest sequence number that fsync durably covered
	}

	mu struct {
		sync.Mutex
		mem struct {
			mutable      *memtable
			mutableLog   uint64
			immutable    []*memtable
			immutableLog []uint64
		}
		logNum  uint64
		logFile vfs.File
		log     *record.Writer

		snapshots map[*Snapshot]struct{}
		nextSeq   uint64

		fileToCompact *manifest.FileMetaData

		compacting bool
		closed     bool
	}

	bgGroup *errgroup.Group
	bgCtx   context.Context
	bgStop  context.CancelFunc
	bgWork  chan struct{}

	pacer *compact.Pacer
}

// Open opens the database at dirname, creating it first when it does not
// exist and opts.CreateIfMissing is set.
func Open(dirname string, fs vfs.FS, opts *Options) (*DB, error) {
	opts = opts.EnsureDefaults()
	if fs == nil {
		fs = vfs.Default
	}
	if err := fs.MkdirAll(dirname); err != nil {
		return nil, lsmerr.Wrap(lsmerr.IOError, err)
	}
	lock, err := fs.Lock(base.MakeFilename(dirname, base.FileTypeLock, 0))
	if err != nil {
		return nil, lsmerr.Wrap(lsmerr.IOError, err)
	}

	cmp := opts.Options.Comparer.Compare
	d := &DB{
		dirname: dirname,
		fs:      fs,
		opts:    opts,
		cmp:     cmp,
		tblOpts: tableOptions(opts, cmp),
		lock:    lock,
	}
	d.mu.snapshots = make(map[*Snapshot]struct{})
	d.blockCache = cache.NewBlockCache(int64(opts.Options.WriteBufferSize) * 4)
	d.tableCache = cache.NewTableCache(fs, dirname, d.tblOpts, opts.Options.MaxOpenFiles/16+1)
	if opts.CompactionBytesPerSec > 0 {
		d.pacer = compact.NewPacer(opts.CompactionBytesPerSec)
	}

	currentName := base.MakeFilename(dirname, base.FileTypeCurrent, 0)
	if fs.PathExists(currentName) {
		vs, err := manifest.Recover(dirname, fs, cmp, opts.Options.Comparer.Name)
		if err != nil {
			lock.Close()
			return nil, err
		}
		d.vs = vs
		if err := d.replayWALs(vs.LogNumber()); err != nil {
			lock.Close()
			return nil, err
		}
	} else {
		if !opts.Options.CreateIfMissing {
			lock.Close()
			return nil, lsmerr.New(lsmerr.NotFound, "lsm: database %q does not exist", dirname)
		}
		d.vs = manifest.NewVersionSet(dirname, fs, cmp, opts.Options.Comparer.Name)
		if err := d.vs.CreateManifest(); err != nil {
			lock.Close()
			return nil, err
		}
		d.mu.mem.mutable = newMemtable(cmp)
	}

	d.mu.nextSeq = d.vs.LastSequence() + 1
	if err := d.rotateWAL(); err != nil {
		lock.Close()
		return nil, err
	}

	d.bgCtx, d.bgStop = context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(d.bgCtx)
	d.bgGroup = g
	d.bgCtx = ctx
	d.bgWork = make(chan struct{}, 1)
	g.Go(func() error { return d.backgroundLoop(ctx) })

	return d, nil
}

func (d *DB) rotateWAL() error {
	logNum := d.vs.NewFileNumber()
	name := base.MakeFilename(d.dirname, base.FileTypeLog, logNum)
	f, err := d.fs.Create(name)
	if err != nil {
		return lsmerr.Wrap(lsmerr.IOError, err)
	}
	d.mu.Lock()
	d.mu.logNum = logNum
	d.mu.logFile = f
	d.mu.log = record.NewWriter(f)
	d.mu.mem.mutableLog = logNum
	d.mu.Unlock()
	return nil
}

// replayWALs re-applies every WAL numbered >= minLogNum, in order, into a
// single fresh memtable, advancing the sequence counter past every
// sequence number it observes. Recovery may span more than one WAL file
// because a flush's edit only names the oldest WAL still needed, and one
// or more newer, not-yet-flushed WALs may also exist.
func (d *DB) replayWALs(minLogNum uint64) error {
	names, err := d.fs.List(d.dirname)
	if err != nil {
		return lsmerr.Wrap(lsmerr.IOError, err)
	}
	var logNums []uint64
	for _, name := range names {
		ft, num, ok := base.ParseFilename(name)
		if ok && ft == base.FileTypeLog && num >= minLogNum {
			logNums = append(logNums, num)
		}
	}
	sortUint64s(logNums)

	mem := newMemtable(d.cmp)
	var maxSeq uint64
	for _, logNum := range logNums {
		name := base.MakeFilename(d.dirname, base.FileTypeLog, logNum)
		f, err := d.fs.Open(name)
		if err != nil {
			return lsmerr.Wrap(lsmerr.IOError, err)
		}
		r := record.NewReader(&sequentialFileReader{f: f})
		for {
			rec, err := r.Next()
			if err != nil {
				if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
					break
				}
				f.Close()
				return lsmerr.Wrap(lsmerr.Corruption, errors.Wrapf(err, "lsm: corrupt WAL %s", name))
			}
			seqNum, _, ok := decodeBatchHeader(rec)
			if !ok {
				f.Close()
				return lsmerr.New(lsmerr.Corruption, "lsm: truncated batch header in WAL")
			}
			br, err := newBatchReader(rec)
			if err != nil {
				f.Close()
				return err
			}
			seq := seqNum
			for {
				kind, key, value, ok, err := br.next()
				if err != nil {
					f.Close()
					return err
				}
				if !ok {
					break
				}
				mem.Add(base.MakeInternalKey(key, seq, kind), value)
				if seq > maxSeq {
					maxSeq = seq
				}
				seq++
			}
		}
		f.Close()
	}
	d.mu.mem.mutable = mem
	if maxSeq >= d.vs.LastSequence() {
		d.vs.SetLastSequence(maxSeq)
	}
	return nil
}

func sortUint64s(s []uint64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

type sequentialFileReader struct {
	f   vfs.File
	off int64
}

func (s *sequentialFileReader) Read(p []byte) (int, error) {
	n, err := s.f.ReadAt(p, s.off)
	s.off += int64(n)
	return n, err
}

// Close flushes the mutable memtable, stops background work, and releases
// the directory lock.
func (d *DB) Close() error {
	d.mu.Lock()
	if d.mu.closed {
		d.mu.Unlock()
		return nil
	}
	d.mu.closed = true
	mem := d.mu.mem.mutable
	mutableLog := d.mu.mem.mutableLog
	d.mu.Unlock()

	for d.maybeFlush() {
	}
	if mem.ApproxSize() > 0 {
		if err := d.flushMemtable(mem, mutableLog+1); err != nil {
			return err
		}
	}

	d.bgStop()
	_ = d.bgGroup.Wait()

	if d.mu.logFile != nil {
		d.mu.logFile.Close()
	}
	return d.lock.Close()
}

// Get returns the value stored for key, or lsmerr.NotFound.
func (d *DB) Get(key []byte) ([]byte, error) {
	return d.getAtSeq(key, d.currentSeq())
}

// BlockCache returns the DB's decoded-block cache, for callers (e.g. the
// metrics package) that report its hit rate. The DB's own read path does
// not look blocks up in or insert them into this cache, so its hit and
// miss counts stay at zero unless another caller uses it.
func (d *DB) BlockCache() *cache.BlockCache {
	return d.blockCache
}

// CompactAll rotates the active memtable and synchronously drains every
// pending flush and compaction, for admin tooling that wants the LSM
// quiescent and fully compacted before it inspects or closes the DB.
func (d *DB) CompactAll(ctx context.Context) error {
	d.mu.Lock()
	pending := d.mu.mem.mutable.ApproxSize() > 0
	d.mu.Unlock()
	if pending {
		if err := d.rotateMemtable(); err != nil {
			return err
		}
	}
	for d.maybeFlush() {
	}
	for d.maybeCompact(ctx) {
	}
	return nil
}

func (d *DB) currentSeq() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mu.nextSeq - 1
}

func (d *DB) getAtSeq(key []byte, seq uint64) ([]byte, error) {
	d.mu.Lock()
	mem := d.mu.mem.mutable
	immutables := append([]*memtable(nil), d.mu.mem.immutable...)
	d.mu.Unlock()

	if v, kind, ok := mem.Get(key, seq); ok {
		if kind == base.InternalKeyKindDelete {
			return nil, lsmerr.NotFoundf("lsm: key not found")
		}
		return v, nil
	}
	for i := len(immutables) - 1; i >= 0; i-- {
		if v, kind, ok := immutables[i].Get(key, seq); ok {
			if kind == base.InternalKeyKindDelete {
				return nil, lsmerr.NotFoundf("lsm: key not found")
			}
			return v, nil
		}
	}

	v := d.vs.Current()
	value, result, fileToCompact := v.Get(d.cmp, d.cmp, key, seq, d.getFromFile)
	if fileToCompact != nil {
		d.mu.Lock()
		d.mu.fileToCompact = fileToCompact
		d.mu.Unlock()
		d.maybeScheduleWork()
	}
	switch result {
	case manifest.GetFound:
		return value, nil
	default:
		return nil, lsmerr.NotFoundf("lsm: key not found")
	}
}

func (d *DB) getFromFile(f *manifest.FileMetaData, userKey []byte, seqNum uint64) ([]byte, manifest.GetResult, bool) {
	reader, err := d.tableCache.Get(f.FileNum, int64(f.FileSize))
	if err != nil {
		return nil, manifest.GetNotFound, false
	}
	search := base.MakeSearchKey(userKey, seqNum)
	it, err := reader.SeekGE(search.EncodeTo(nil))
	if err != nil || it == nil || !it.Valid() {
		return nil, manifest.GetNotFound, false
	}
	ik := base.DecodeInternalKey(it.Key())
	if d.cmp(ik.UserKey, userKey) != 0 {
		return nil, manifest.GetNotFound, false
	}
	if ik.Kind() == base.InternalKeyKindDelete {
		return nil, manifest.GetDeleted, true
	}
	return append([]byte(nil), it.Value()...), manifest.GetFound, true
}

// Set stores value for key.
func (d *DB) Set(key, value []byte) error {
	b := NewBatch()
	b.Set(key, value)
	return d.Apply(b)
}

// Delete removes key.
func (d *DB) Delete(key []byte) error {
	b := NewBatch()
	b.Delete(key)
	return d.Apply(b)
}

// Apply commits every operation in b atomically: they get consecutive
// sequence numbers and are appended to the WAL as one record under
// writeMu, which only serializes that append, not the fsync that follows
// it. A writer releases writeMu the instant its record is queued so the
// next writer can append behind it and group its own fsync with the
// leader's, rather than waiting out the leader's fsync before it can even
// start appending. Only once the record is durable is it applied to the
// mutable memtable.
func (d *DB) Apply(b *Batch) error {
	if b.Empty() {
		return nil
	}

	d.writeMu.Lock()
	d.mu.Lock()
	if d.mu.closed {
		d.mu.Unlock()
		d.writeMu.Unlock()
		return lsmerr.New(lsmerr.InvalidArgument, "lsm: db is closed")
	}
	seq := d.mu.nextSeq
	d.mu.nextSeq += uint64(b.count)
	logWriter := d.mu.log
	logFile := d.mu.logFile
	mem := d.mu.mem.mutable
	d.mu.Unlock()

	encodeBatchHeader(b.data, seq, b.count)
	lastSeq := seq + uint64(b.count) - 1

	writeErr := logWriter.WriteRecord(b.data)
	d.writeMu.Unlock()
	if writeErr != nil {
		return lsmerr.Wrap(lsmerr.IOError, writeErr)
	}

	if err := d.syncWAL(logFile, lastSeq); err != nil {
		return err
	}
	if l := d.opts.Options.EventListener.WALSynced; l != nil {
		l()
	}

	br, err := newBatchReader(b.data)
	if err != nil {
		return err
	}
	cur := seq
	for {
		kind, key, value, ok, err := br.next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		mem.Add(base.MakeInternalKey(key, cur, kind), value)
		cur++
	}

	d.mu.Lock()
	d.vs.SetLastSequence(lastSeq)
	d.mu.Unlock()

	d.maybeScheduleWork()
	if mem.ApproxSize() > d.opts.Options.WriteBufferSize {
		d.writeMu.Lock()
		stillCurrent := d.mu.mem.mutable == mem
		d.writeMu.Unlock()
		if stillCurrent {
			if err := d.rotateMemtable(); err != nil {
				return err
			}
		}
	}
	return nil
}

// syncWAL fsyncs logFile unless a concurrent Apply already durably synced
// this same file at least through seq, in which case that fsync already
// covered this record too and a second one would be redundant. The
// watermark is keyed to the specific file so a rotation to a fresh WAL
// never lets a later sync on the new file silently stand in for an
// unflushed record still sitting in the old one.
func (d *DB) syncWAL(logFile vfs.File, seq uint64) error {
	d.syncMu.Lock()
	defer d.syncMu.Unlock()
	if d.syncMu.file == logFile && seq <= d.syncMu.synced {
		return nil
	}
	if err := logFile.Sync(); err != nil {
		return lsmerr.Wrap(lsmerr.IOError, err)
	}
	d.syncMu.file = logFile
	d.syncMu.synced = seq
	return nil
}

// rotateMemtable freezes the current mutable memtable and starts a fresh
// one plus a fresh WAL, then wakes the background loop to flush it.
func (d *DB) rotateMemtable() error {
	d.mu.Lock()
	old := d.mu.mem.mutable
	oldLogNum := d.mu.mem.mutableLog
	d.mu.mem.immutable = append(d.mu.mem.immutable, old)
	d.mu.mem.immutableLog = append(d.mu.mem.immutableLog, oldLogNum)
	d.mu.mem.mutable = newMemtable(d.cmp)
	oldLog := d.mu.logFile
	d.mu.Unlock()

	if err := d.rotateWAL(); err != nil {
		return err
	}
	if oldLog != nil {
		// Hold syncMu across the close so it can't land between a
		// concurrent writer's fsync starting and finishing against this
		// same file.
		d.syncMu.Lock()
		oldLog.Close()
		d.syncMu.Unlock()
	}
	d.maybeScheduleWork()
	return nil
}

func (d *DB) maybeScheduleWork() {
	select {
	case d.bgWork <- struct{}{}:
	default:
	}
}

// backgroundLoop flushes immutable memtables and runs compactions until
// ctx is canceled.
func (d *DB) backgroundLoop(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.bgWork:
		case <-ticker.C:
		}
		for d.maybeFlush() {
		}
		for d.maybeCompact(ctx) {
		}
	}
}

func (d *DB) maybeFlush() bool {
	d.mu.Lock()
	if len(d.mu.mem.immutable) == 0 {
		d.mu.Unlock()
		return false
	}
	mem := d.mu.mem.immutable[0]
	// obsoleteBefore is the oldest WAL still needed for recovery once this
	// flush lands: whichever of the remaining immutables (or, failing
	// that, the mutable memtable) is oldest.
	obsoleteBefore := d.mu.mem.mutableLog
	if len(d.mu.mem.immutableLog) > 1 {
		obsoleteBefore = d.mu.mem.immutableLog[1]
	}
	d.mu.Unlock()

	if err := d.flushMemtable(mem, obsoleteBefore); err != nil {
		d.opts.Options.Logger.Infof("lsm: flush failed: %v", err)
		return false
	}

	d.mu.Lock()
	d.mu.mem.immutable = d.mu.mem.immutable[1:]
	d.mu.mem.immutableLog = d.mu.mem.immutableLog[1:]
	d.mu.Unlock()
	return true
}

// flushMemtable writes mem out as a new L0 table and installs it via
// LogAndApply. obsoleteBefore names the oldest WAL still needed for
// recovery once this flush is durable; older WALs (including mem's own)
// no longer need replaying.
func (d *DB) flushMemtable(mem *memtable, obsoleteBefore uint64) error {
	if mem.ApproxSize() == 0 {
		return nil
	}
	fileNum := d.vs.NewFileNumber()
	name := base.MakeFilename(d.dirname, base.FileTypeTable, fileNum)
	f, err := d.fs.Create(name)
	if err != nil {
		return lsmerr.Wrap(lsmerr.IOError, err)
	}

	w := sstable.NewWriter(f, d.tblOpts)
	it := mem.NewIterator()
	var smallest, largest base.InternalKey
	first := true
	entries := 0
	for it.Next() {
		entries++
		k, v := it.Key(), it.Value()
		if err := w.Set(k.EncodeTo(nil), v); err != nil {
			f.Close()
			return lsmerr.Wrap(lsmerr.IOError, err)
		}
		if first {
			smallest = k.Clone()
			first = false
		}
		largest = k.Clone()
	}
	if err := w.Close(); err != nil {
		f.Close()
		return lsmerr.Wrap(lsmerr.IOError, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return lsmerr.Wrap(lsmerr.IOError, err)
	}
	if err := f.Close(); err != nil {
		return lsmerr.Wrap(lsmerr.IOError, err)
	}
	if first {
		// Empty memtable; nothing to install.
		return d.fs.Remove(name)
	}

	if d.opts.Options.EventListener.FlushBegin != nil {
		d.opts.Options.EventListener.FlushBegin(base.FlushInfo{OutputFile: fileNum})
	}

	edit := &manifest.VersionEdit{
		HasLogNumber: true,
		LogNumber:    obsoleteBefore,
		NewFiles: []manifest.NewFileEntry{{
			Level: 0, FileNum: fileNum, FileSize: uint64(info.Size()),
			Smallest: smallest, Largest: largest,
		}},
	}
	if _, err := d.vs.LogAndApply(edit); err != nil {
		return err
	}
	if d.opts.Options.EventListener.FlushEnd != nil {
		d.opts.Options.EventListener.FlushEnd(base.FlushInfo{OutputFile: fileNum, Input: entries})
	}
	return nil
}

func (d *DB) minSnapshotSeq() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	min := d.mu.nextSeq - 1
	for s := range d.mu.snapshots {
		if s.seqNum < min {
			min = s.seqNum
		}
	}
	return min
}

// maybeCompact picks and runs at most one compaction, returning true if it
// ran one (so the caller can loop until the tree is caught up).
func (d *DB) maybeCompact(ctx context.Context) bool {
	v := d.vs.Current()
	v.UpdateCompactionScore()

	d.mu.Lock()
	fileToCompact := d.mu.fileToCompact
	d.mu.fileToCompact = nil
	d.mu.Unlock()

	if !v.NeedsCompaction(fileToCompact) {
		return false
	}

	c := compact.Pick(d.opts.Options, d.cmp, v, d.vs, fileToCompact)
	if c == nil {
		return false
	}

	if d.opts.Options.EventListener.CompactionBegin != nil {
		d.opts.Options.EventListener.CompactionBegin(base.CompactionInfo{
			InputLevel: c.Level, OutputLevel: c.Level + 1,
			Input: len(c.Inputs[0]) + len(c.Inputs[1]),
		})
	}

	opener := &tableOpener{d: d}
	result, err := compact.Run(ctx, d.opts.Options, d.cmp, d.fs, d.dirname, opener, d.vs, c, d.minSnapshotSeq(), d.pacer)
	if err != nil {
		d.opts.Options.Logger.Infof("lsm: compaction failed: %v", err)
		return false
	}
	if _, err := d.vs.LogAndApply(result.Edit); err != nil {
		d.opts.Options.Logger.Infof("lsm: compaction commit failed: %v", err)
		return false
	}
	for _, del := range result.Edit.DeletedFiles {
		d.tableCache.Evict(del.FileNum)
		_ = d.fs.Remove(base.MakeFilename(d.dirname, base.FileTypeTable, del.FileNum))
	}
	if d.opts.Options.EventListener.CompactionEnd != nil {
		d.opts.Options.EventListener.CompactionEnd(base.CompactionInfo{
			InputLevel: c.Level, OutputLevel: c.Level + 1,
			Output: len(result.Edit.NewFiles),
		})
	}
	return true
}

// tableOpener adapts the table cache into compact.TableOpener.
type tableOpener struct{ d *DB }

func (o *tableOpener) NewIter(fileNum uint64, fileSize uint64) (*sstable.Iterator, error) {
	r, err := o.d.tableCache.Get(fileNum, int64(fileSize))
	if err != nil {
		return nil, err
	}
	return r.NewIter()
}
