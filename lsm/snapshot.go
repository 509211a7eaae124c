package lsm

// Snapshot pins a sequence number so reads through it never observe
// writes committed after it was taken. Held snapshots also block the
// compactor from dropping stale versions or tombstones a snapshot might
// still need to see.
type Snapshot struct {
	db     *DB
	seqNum uint64
}

// NewSnapshot captures the database's current sequence number.
func (d *DB) NewSnapshot() *Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &Snapshot{db: d, seqNum: d.mu.nextSeq - 1}
	d.mu.snapshots[s] = struct{}{}
	return s
}

// Get reads key as of the snapshot's sequence number.
func (s *Snapshot) Get(key []byte) ([]byte, error) {
	return s.db.getAtSeq(key, s.seqNum)
}

// Close releases the snapshot, allowing the compactor to reclaim any
// versions it alone was keeping alive.
func (s *Snapshot) Close() error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	delete(s.db.mu.snapshots, s)
	return nil
}
