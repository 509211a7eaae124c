package manifest

import (
	"strings"
	"sync"

	"github.com/lsmredis/lsmredis/internal/base"
	"github.com/lsmredis/lsmredis/internal/record"
	"github.com/lsmredis/lsmredis/lsmerr"
	"github.com/lsmredis/lsmredis/vfs"
)

// VersionSet owns the current Version, the manifest log writer, and the
// monotonic counters (file numbers, log numbers, last sequence) that must
// be crash-consistent with the manifest.
type VersionSet struct {
	mu sync.Mutex

	dirname string
	fs      vfs.FS
	cmp     base.Compare
	cmpName string

	current *Version

	nextFileNum   uint64
	manifestNum   uint64
	logNum        uint64
	prevLogNum    uint64
	lastSequence  uint64

	manifestFile vfs.File
	manifestLog  *record.Writer

	compactPointers [NumLevels]base.InternalKey
}

// NewVersionSet creates an empty VersionSet over a fresh Version. Callers
// that are opening an existing database should call Recover instead.
func NewVersionSet(dirname string, fs vfs.FS, cmp base.Compare, cmpName string) *VersionSet {
	vs := &VersionSet{dirname: dirname, fs: fs, cmp: cmp, cmpName: cmpName, nextFileNum: 1}
	v := NewVersion()
	v.Ref()
	vs.current = v
	return vs
}

// Current returns the current Version. The caller does not need to Ref it
// for a single synchronous access, but must Ref it before letting it
// outlive the call (e.g. handing it to an iterator).
func (vs *VersionSet) Current() *Version {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.current
}

// NewFileNumber allocates and returns the next unique file number.
func (vs *VersionSet) NewFileNumber() uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	n := vs.nextFileNum
	vs.nextFileNum++
	return n
}

// LastSequence returns the highest sequence number assigned so far.
func (vs *VersionSet) LastSequence() uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.lastSequence
}

// SetLastSequence records the highest sequence number assigned so far.
func (vs *VersionSet) SetLastSequence(seq uint64) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if seq > vs.lastSequence {
		vs.lastSequence = seq
	}
}

// LogNumber and MarkFileNumberUsed expose bookkeeping needed by DBImpl's
// WAL rotation.
func (vs *VersionSet) LogNumber() uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.logNum
}

func (vs *VersionSet) MarkFileNumberUsed(num uint64) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if num >= vs.nextFileNum {
		vs.nextFileNum = num + 1
	}
}

// CompactPointer returns the last recorded compaction cursor for level,
// used to cycle a level's compactions across the whole key space.
func (vs *VersionSet) CompactPointer(level int) base.InternalKey {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.compactPointers[level]
}

// CreateManifest opens a brand-new manifest file, writes a snapshot edit
// describing the current Version, and installs a CURRENT file pointing at
// it. Used the first time a database is created.
func (vs *VersionSet) CreateManifest() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	manifestNum := vs.nextFileNum
	vs.nextFileNum++
	name := base.MakeFilename(vs.dirname, base.FileTypeManifest, manifestNum)
	f, err := vs.fs.Create(name)
	if err != nil {
		return lsmerr.Wrap(lsmerr.IOError, err)
	}
	vs.manifestFile = f
	vs.manifestLog = record.NewWriter(f)
	vs.manifestNum = manifestNum

	snapshot := vs.snapshotEditLocked()
	if err := vs.manifestLog.WriteRecord(snapshot.Encode()); err != nil {
		return lsmerr.Wrap(lsmerr.IOError, err)
	}
	if err := f.Sync(); err != nil {
		return lsmerr.Wrap(lsmerr.IOError, err)
	}
	return vs.setCurrentFileLocked(manifestNum)
}

func (vs *VersionSet) setCurrentFileLocked(manifestNum uint64) error {
	tmpName := base.MakeFilename(vs.dirname, base.FileTypeCurrent, manifestNum) + ".dbtmp"
	f, err := vs.fs.Create(tmpName)
	if err != nil {
		return lsmerr.Wrap(lsmerr.IOError, err)
	}
	manifestBase := base.MakeFilename(vs.dirname, base.FileTypeManifest, manifestNum)
	manifestBase = manifestBase[strings.LastIndexByte(manifestBase, '/')+1:]
	if _, err := f.Write([]byte(manifestBase + "\n")); err != nil {
		f.Close()
		return lsmerr.Wrap(lsmerr.IOError, err)
	}
	if err := f.Close(); err != nil {
		return lsmerr.Wrap(lsmerr.IOError, err)
	}
	return vs.fs.Rename(tmpName, base.MakeFilename(vs.dirname, base.FileTypeCurrent, 0))
}

func (vs *VersionSet) snapshotEditLocked() *VersionEdit {
	e := &VersionEdit{
		HasComparator:   true,
		ComparatorName:  vs.cmpName,
		HasLogNumber:    true,
		LogNumber:       vs.logNum,
		HasPrevLogNum:   true,
		PrevLogNumber:   vs.prevLogNum,
		HasNextFileNum:  true,
		NextFileNumber:  vs.nextFileNum,
		HasLastSequence: true,
		LastSequence:    vs.lastSequence,
	}
	for level := 0; level < NumLevels; level++ {
		for _, f := range vs.current.Files[level] {
			e.NewFiles = append(e.NewFiles, NewFileEntry{
				Level: level, FileNum: f.FileNum, FileSize: f.FileSize,
				Smallest: f.Smallest, Largest: f.Largest,
			})
		}
	}
	return e
}

// LogAndApply is the sole path by which the current Version changes. It
// builds the next Version from edit, appends edit to the manifest, syncs,
// and only then installs the new Version as current.
func (vs *VersionSet) LogAndApply(edit *VersionEdit) (*Version, error) {
	vs.mu.Lock()
	if edit.HasLogNumber {
		vs.prevLogNum = vs.logNum
		vs.logNum = edit.LogNumber
	}
	if edit.HasNextFileNum && edit.NextFileNumber > vs.nextFileNum {
		vs.nextFileNum = edit.NextFileNumber
	}
	if edit.HasLastSequence && edit.LastSequence > vs.lastSequence {
		vs.lastSequence = edit.LastSequence
	}
	for _, cp := range edit.CompactPointers {
		vs.compactPointers[cp.Level] = cp.Key
	}
	edit.HasNextFileNum, edit.NextFileNumber = true, vs.nextFileNum
	edit.HasLastSequence, edit.LastSequence = true, vs.lastSequence

	builder := NewBuilder(vs.cmp, vs.current)
	builder.Apply(edit)
	newVersion := builder.Finish()

	manifestLog := vs.manifestLog
	vs.mu.Unlock()

	if manifestLog == nil {
		return nil, lsmerr.New(lsmerr.IOError, "manifest: no manifest log open")
	}
	if err := manifestLog.WriteRecord(edit.Encode()); err != nil {
		return nil, lsmerr.Wrap(lsmerr.IOError, err)
	}
	if err := vs.manifestFile.Sync(); err != nil {
		return nil, lsmerr.Wrap(lsmerr.IOError, err)
	}

	vs.mu.Lock()
	defer vs.mu.Unlock()
	newVersion.Ref()
	newVersion.prev = vs.current
	vs.current.next = newVersion
	old := vs.current
	vs.current = newVersion
	old.Unref()
	return newVersion, nil
}

// Recover replays the manifest named by CURRENT and rebuilds the current
// Version and every counter from the sequence of edits found there.
func Recover(dirname string, fs vfs.FS, cmp base.Compare, cmpName string) (*VersionSet, error) {
	vs := NewVersionSet(dirname, fs, cmp, cmpName)

	currentName := base.MakeFilename(dirname, base.FileTypeCurrent, 0)
	cf, err := fs.Open(currentName)
	if err != nil {
		return nil, lsmerr.Wrap(lsmerr.IOError, err)
	}
	defer cf.Close()
	info, err := cf.Stat()
	if err != nil {
		return nil, lsmerr.Wrap(lsmerr.IOError, err)
	}
	buf := make([]byte, info.Size())
	if _, err := cf.ReadAt(buf, 0); err != nil {
		return nil, lsmerr.Wrap(lsmerr.IOError, err)
	}
	manifestBase := strings.TrimSuffix(strings.TrimSpace(string(buf)), "\n")
	if manifestBase == "" {
		return nil, lsmerr.Corruptionf("manifest: empty CURRENT file")
	}

	_, manifestNum, ok := base.ParseFilename(manifestBase)
	if !ok {
		return nil, lsmerr.Corruptionf("manifest: malformed CURRENT contents %q", manifestBase)
	}

	mf, err := fs.Open(dirname + "/" + manifestBase)
	if err != nil {
		return nil, lsmerr.Wrap(lsmerr.IOError, err)
	}
	defer mf.Close()

	builder := NewBuilder(cmp, vs.current)
	r := record.NewReader(&fileReaderAdapter{f: mf})
	for {
		rec, err := r.Next()
		if err != nil {
			break
		}
		edit, err := Decode(rec)
		if err != nil {
			return nil, err
		}
		builder.Apply(edit)
		if edit.HasLogNumber {
			vs.prevLogNum = vs.logNum
			vs.logNum = edit.LogNumber
		}
		if edit.HasPrevLogNum {
			vs.prevLogNum = edit.PrevLogNumber
		}
		if edit.HasNextFileNum {
			vs.nextFileNum = edit.NextFileNumber
		}
		if edit.HasLastSequence {
			vs.lastSequence = edit.LastSequence
		}
		for _, cp := range edit.CompactPointers {
			vs.compactPointers[cp.Level] = cp.Key
		}
	}

	newVersion := builder.Finish()
	newVersion.Ref()
	vs.current.Unref()
	vs.current = newVersion
	vs.manifestNum = manifestNum
	if manifestNum >= vs.nextFileNum {
		vs.nextFileNum = manifestNum + 1
	}

	appendFile, err := fs.OpenForAppend(dirname + "/" + manifestBase)
	if err != nil {
		return nil, lsmerr.Wrap(lsmerr.IOError, err)
	}
	vs.manifestFile = appendFile
	vs.manifestLog = record.NewWriter(appendFile)
	return vs, nil
}

// fileReaderAdapter adapts vfs.File (which is a ReaderAt) into a
// sequential io.Reader for the record package.
type fileReaderAdapter struct {
	f   vfs.File
	off int64
}

func (a *fileReaderAdapter) Read(p []byte) (int, error) {
	n, err := a.f.ReadAt(p, a.off)
	a.off += int64(n)
	return n, err
}
