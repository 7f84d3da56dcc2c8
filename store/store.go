package store

import (
	"errors"
	"math"
	"path/filepath"

	"github.com/canopy-network/pulse/lib"
	"github.com/dgraph-io/badger/v4"
)

const badgerGCRatio = .5 // the ratio of reclaimable space at which badgerDB rewrites a value log file

var (
	commitPrefix     = lib.JoinLenPrefix([]byte("b/")) // finalized commits by big endian height
	checkpointPrefix = lib.JoinLenPrefix([]byte("k/")) // checkpoints by big endian epoch
	forkPrefix       = lib.JoinLenPrefix([]byte("f/")) // fork resolutions by big endian height then time

	_ lib.PersistenceI = &Store{} // enforce the persistence interface
)

/*
The Store is the durable record of the engine built on a single BadgerDB instance, partitioned by
key prefix into three append-mostly collections:

1. Commits: every finalized block with its quorum evidence, the registry changes journaled since the
   previous commit and the resulting state hash. Keys are big endian heights so iteration order is
   chain order, which is what crash recovery replays.

2. Checkpoints: the multi-signed registry snapshots keyed by big endian epoch. The newest is the
   starting point of recovery; older ones are pruned to a fixed retention.

3. Fork resolutions: the audit trail of contested heights and which rule decided them.

Every write is a single BadgerDB transaction, so a crash never leaves a partially written record.
*/

type Store struct {
	db       *badger.DB  // underlying database
	log      lib.LoggerI // logger
	inMemory bool        // value log garbage collection doesn't apply to memory databases
}

// New() creates a new instance of a Store either in memory or on disk under <dataDir>/<dbName>
func New(config lib.StoreConfig, log lib.LoggerI) (*Store, lib.ErrorI) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	if !config.InMemory {
		opts = badger.DefaultOptions(filepath.Join(config.DataDirPath, config.DBName))
		if config.ValueLogFileSize > 0 {
			opts = opts.WithValueLogFileSize(config.ValueLogFileSize)
		}
	}
	if config.MemTableSize > 0 {
		opts = opts.WithMemTableSize(config.MemTableSize)
	}
	db, err := badger.Open(opts.WithLogger(&badgerLogger{log: log}))
	if err != nil {
		return nil, lib.ErrOpenDB(err)
	}
	return &Store{db: db, log: log, inMemory: config.InMemory}, nil
}

// NewStoreInMemory() creates a new instance of a mem DB
func NewStoreInMemory(log lib.LoggerI) (*Store, lib.ErrorI) {
	return New(lib.StoreConfig{InMemory: true}, log)
}

// AppendBlock() durably persists a finalized commit, replacing any commit previously stored at its height
func (s *Store) AppendBlock(c *lib.Commit) lib.ErrorI {
	if c == nil || c.Block == nil {
		return lib.ErrNilBlock()
	}
	bz, err := lib.MarshalJSON(c)
	if err != nil {
		return err
	}
	return s.update(commitPrefix, func(txn *TxnWrapper) lib.ErrorI {
		return txn.Set(lib.Uint64ToBytes(c.Block.Height), bz)
	})
}

// LoadCommit() returns the commit at a height or nil if none exists
func (s *Store) LoadCommit(height uint64) (c *lib.Commit, err lib.ErrorI) {
	err = s.view(commitPrefix, func(txn *TxnWrapper) lib.ErrorI {
		bz, e := txn.Get(lib.Uint64ToBytes(height))
		if e != nil || bz == nil {
			return e
		}
		c = new(lib.Commit)
		return lib.UnmarshalJSON(bz, c)
	})
	return
}

// LoadBlocksSince() returns every persisted commit with a height above `height` in ascending order
func (s *Store) LoadBlocksSince(height uint64) (commits []*lib.Commit, err lib.ErrorI) {
	commits = make([]*lib.Commit, 0)
	if height == math.MaxUint64 {
		return
	}
	err = s.view(commitPrefix, func(txn *TxnWrapper) lib.ErrorI {
		it := txn.Iterator(lib.Uint64ToBytes(height + 1))
		defer it.Close()
		for ; it.Valid(); it.Next() {
			c := new(lib.Commit)
			if e := lib.UnmarshalJSON(it.Value(), c); e != nil {
				return e
			}
			commits = append(commits, c)
		}
		return nil
	})
	return
}

// RewindTo() deletes every commit at or above `height`
func (s *Store) RewindTo(height uint64) lib.ErrorI {
	var keys [][]byte
	if err := s.view(commitPrefix, func(txn *TxnWrapper) lib.ErrorI {
		keys = collectKeys(txn.Iterator(lib.Uint64ToBytes(height)))
		return nil
	}); err != nil {
		return err
	}
	return s.deleteKeys(commitPrefix, keys)
}

// StoreCheckpoint() durably persists a checkpoint, replacing any checkpoint of the same epoch
func (s *Store) StoreCheckpoint(cp *lib.Checkpoint) lib.ErrorI {
	if cp == nil {
		return lib.ErrInvalidArgument()
	}
	bz, err := lib.MarshalJSON(cp)
	if err != nil {
		return err
	}
	return s.update(checkpointPrefix, func(txn *TxnWrapper) lib.ErrorI {
		return txn.Set(lib.Uint64ToBytes(cp.Epoch), bz)
	})
}

// LoadLatestCheckpoint() returns the checkpoint with the highest epoch or nil if none exists
func (s *Store) LoadLatestCheckpoint() (cp *lib.Checkpoint, err lib.ErrorI) {
	err = s.view(checkpointPrefix, func(txn *TxnWrapper) lib.ErrorI {
		it := txn.RevIterator()
		defer it.Close()
		if !it.Valid() {
			return nil
		}
		cp = new(lib.Checkpoint)
		return lib.UnmarshalJSON(it.Value(), cp)
	})
	return
}

// LoadCheckpoint() returns the checkpoint of an epoch or nil if none exists
func (s *Store) LoadCheckpoint(epoch uint64) (cp *lib.Checkpoint, err lib.ErrorI) {
	err = s.view(checkpointPrefix, func(txn *TxnWrapper) lib.ErrorI {
		bz, e := txn.Get(lib.Uint64ToBytes(epoch))
		if e != nil || bz == nil {
			return e
		}
		cp = new(lib.Checkpoint)
		return lib.UnmarshalJSON(bz, cp)
	})
	return
}

// ListCheckpoints() returns every retained checkpoint ordered by epoch
func (s *Store) ListCheckpoints() (list []*lib.Checkpoint, err lib.ErrorI) {
	list = make([]*lib.Checkpoint, 0)
	err = s.view(checkpointPrefix, func(txn *TxnWrapper) lib.ErrorI {
		it := txn.Iterator(nil)
		defer it.Close()
		for ; it.Valid(); it.Next() {
			cp := new(lib.Checkpoint)
			if e := lib.UnmarshalJSON(it.Value(), cp); e != nil {
				return e
			}
			list = append(list, cp)
		}
		return nil
	})
	return
}

// PruneCheckpoints() deletes all but the newest `keep` checkpoints
func (s *Store) PruneCheckpoints(keep int) lib.ErrorI {
	if keep < 0 {
		return lib.ErrInvalidArgument()
	}
	var keys [][]byte
	if err := s.view(checkpointPrefix, func(txn *TxnWrapper) lib.ErrorI {
		keys = collectKeys(txn.Iterator(nil))
		return nil
	}); err != nil {
		return err
	}
	if len(keys) <= keep {
		return nil
	}
	return s.deleteKeys(checkpointPrefix, keys[:len(keys)-keep])
}

// StoreForkResolution() records the outcome of a resolved fork
func (s *Store) StoreForkResolution(r *lib.ForkResolution) lib.ErrorI {
	if r == nil {
		return lib.ErrInvalidArgument()
	}
	bz, err := lib.MarshalJSON(r)
	if err != nil {
		return err
	}
	return s.update(forkPrefix, func(txn *TxnWrapper) lib.ErrorI {
		return txn.Set(join(lib.Uint64ToBytes(r.Height), lib.Uint64ToBytes(r.Time)), bz)
	})
}

// LoadForkResolutions() returns every recorded fork resolution ordered by height
func (s *Store) LoadForkResolutions() (list []*lib.ForkResolution, err lib.ErrorI) {
	list = make([]*lib.ForkResolution, 0)
	err = s.view(forkPrefix, func(txn *TxnWrapper) lib.ErrorI {
		it := txn.Iterator(nil)
		defer it.Close()
		for ; it.Valid(); it.Next() {
			r := new(lib.ForkResolution)
			if e := lib.UnmarshalJSON(it.Value(), r); e != nil {
				return e
			}
			list = append(list, r)
		}
		return nil
	})
	return
}

// GarbageCollect() rewrites value log files until no file has enough reclaimable space
func (s *Store) GarbageCollect() lib.ErrorI {
	if s.inMemory {
		return nil
	}
	for {
		err := s.db.RunValueLogGC(badgerGCRatio)
		switch {
		case err == nil:
			continue
		case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrRejected):
			return nil
		default:
			return ErrGarbageCollectDB(err)
		}
	}
}

// Close() flushes and closes the underlying database
func (s *Store) Close() lib.ErrorI {
	if err := s.db.Close(); err != nil {
		return lib.ErrCloseDB(err)
	}
	return nil
}

// update() runs fn in a read-write transaction on the partition and commits it if fn succeeds
func (s *Store) update(prefix []byte, fn func(txn *TxnWrapper) lib.ErrorI) lib.ErrorI {
	var e lib.ErrorI
	if err := s.db.Update(func(txn *badger.Txn) error {
		if e = fn(NewTxnWrapper(txn, s.log, prefix)); e != nil {
			return e
		}
		return nil
	}); err != nil {
		if e != nil {
			return e
		}
		return lib.ErrStoreSet(err)
	}
	return nil
}

// view() runs fn in a read-only transaction on the partition
func (s *Store) view(prefix []byte, fn func(txn *TxnWrapper) lib.ErrorI) lib.ErrorI {
	var e lib.ErrorI
	if err := s.db.View(func(txn *badger.Txn) error {
		if e = fn(NewTxnWrapper(txn, s.log, prefix)); e != nil {
			return e
		}
		return nil
	}); err != nil {
		if e != nil {
			return e
		}
		return lib.ErrStoreGet(err)
	}
	return nil
}

// deleteKeys() removes the keys of a partition in a write batch, which splits transactions that grow too large
func (s *Store) deleteKeys(prefix []byte, keys [][]byte) lib.ErrorI {
	if len(keys) == 0 {
		return nil
	}
	batch := s.db.NewWriteBatch()
	defer batch.Cancel()
	for _, k := range keys {
		if err := batch.Delete(join(prefix, k)); err != nil {
			return lib.ErrStoreDelete(err)
		}
	}
	if err := batch.Flush(); err != nil {
		return ErrFlushBatch(err)
	}
	return nil
}

// collectKeys() drains and closes the iterator returning every key it visits
func collectKeys(it *Iterator) (keys [][]byte) {
	defer it.Close()
	for ; it.Valid(); it.Next() {
		keys = append(keys, it.Key())
	}
	return
}

// badgerLogger adapts the node logger to badgerDB's logging interface
type badgerLogger struct{ log lib.LoggerI }

func (b *badgerLogger) Errorf(format string, args ...interface{})   { b.log.Errorf(format, args...) }
func (b *badgerLogger) Warningf(format string, args ...interface{}) { b.log.Warnf(format, args...) }

// badger is chatty at info level, so its info lines are logged as debug
func (b *badgerLogger) Infof(format string, args ...interface{})  { b.log.Debugf(format, args...) }
func (b *badgerLogger) Debugf(format string, args ...interface{}) { b.log.Debugf(format, args...) }
