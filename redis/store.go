package redis

import (
	"time"

	"github.com/lsmredis/lsmredis/lsm"
	"github.com/lsmredis/lsmredis/lsmerr"
)

// Store layers Redis string, hash, and sorted-set semantics onto an
// *lsm.DB. It owns no state of its own beyond the DB handle and a small
// best-effort background-expiry queue.
type Store struct {
	db  *lsm.DB
	cfg *Config

	expireCh chan []byte
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Open opens (or creates) the database at dirname and wraps it as a Store.
func Open(dirname string, opts *lsm.Options) (*Store, error) {
	return OpenWithConfig(dirname, opts, nil)
}

// OpenWithConfig is Open with an explicit ambient Config.
func OpenWithConfig(dirname string, opts *lsm.Options, cfg *Config) (*Store, error) {
	opts = opts.EnsureDefaults()
	opts.Options.CreateIfMissing = true
	db, err := lsm.Open(dirname, nil, opts)
	if err != nil {
		return nil, err
	}
	cfg = cfg.EnsureDefaults()
	s := &Store{
		db:       db,
		cfg:      cfg,
		expireCh: make(chan []byte, cfg.BackgroundExpireQueueSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go s.backgroundExpire()
	return s, nil
}

// backgroundExpire drains lazily-discovered expired top-level keys and
// deletes them. Best-effort: a full queue simply drops the discovery, and
// the next read will find the same expired row and retry.
func (s *Store) backgroundExpire() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			return
		case key := <-s.expireCh:
			_, _ = s.Del([][]byte{key})
		}
	}
}

func (s *Store) enqueueExpire(key []byte) {
	select {
	case s.expireCh <- append([]byte(nil), key...):
	default:
	}
}

// Close stops the background expiry sweeper and closes the underlying DB.
func (s *Store) Close() error {
	close(s.stopCh)
	<-s.doneCh
	return s.db.Close()
}

func (s *Store) get(key []byte) ([]byte, error) {
	return s.db.Get(key)
}

func (s *Store) set(key, value []byte) error {
	return s.db.Set(key, value)
}

// checkTypeFree returns TypeMismatch if key is currently live under a
// Redis type other than want; it guards the three type-creation entry
// points (Set, the hash/zset "meta or new" helpers) so a caller can't
// silently reinterpret one type's bytes as another's.
func (s *Store) checkTypeFree(key []byte, want byte) error {
	now := time.Now()
	if want != stringPrefix {
		if _, ok, err := s.getPayload(key); err != nil {
			return err
		} else if ok {
			return lsmerr.New(lsmerr.TypeMismatch, "redis: key %q already holds a string", key)
		}
	}
	if want != hashMetaPrefix {
		if _, ok, err := loadLiveMeta(s.get, hashMetaKey(key), now); err != nil {
			return err
		} else if ok {
			return lsmerr.New(lsmerr.TypeMismatch, "redis: key %q already holds a hash", key)
		}
	}
	if want != zsetMetaPrefix {
		if _, ok, err := loadLiveMeta(s.get, zsetMetaKey(key), now); err != nil {
			return err
		} else if ok {
			return lsmerr.New(lsmerr.TypeMismatch, "redis: key %q already holds a zset", key)
		}
	}
	return nil
}

// Del removes key, whatever Redis type it holds (string, hash, or zset);
// it is how a generic top-level delete is expressed over three disjoint
// key spaces that share no directory of types. A hash or zset meta row is
// replaced by an already-expired row that keeps its version, so the next
// create of that key picks a fresh version and the old rows stay hidden.
func (s *Store) Del(keys [][]byte) (int, error) {
	n := 0
	for _, key := range keys {
		deletedAny := false

		if _, err := s.db.Get(stringKey(key)); err == nil {
			if err := s.db.Delete(stringKey(key)); err != nil {
				return n, err
			}
			deletedAny = true
		} else if !lsmerr.Is(err, lsmerr.NotFound) {
			return n, err
		}

		if m, ok, err := loadLiveMeta(s.get, hashMetaKey(key), time.Now()); err != nil {
			return n, err
		} else if ok {
			if err := s.set(hashMetaKey(key), encodeMeta(meta{version: m.version, ttlMs: 1})); err != nil {
				return n, err
			}
			deletedAny = true
		}

		if m, ok, err := loadLiveMeta(s.get, zsetMetaKey(key), time.Now()); err != nil {
			return n, err
		} else if ok {
			if err := s.set(zsetMetaKey(key), encodeMeta(meta{version: m.version, ttlMs: 1})); err != nil {
				return n, err
			}
			deletedAny = true
		}

		if deletedAny {
			n++
		}
	}
	return n, nil
}
