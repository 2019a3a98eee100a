package bstore

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ValentinKolb/dORM/lib/db"
	"github.com/ValentinKolb/dORM/lib/store"
	"github.com/dgraph-io/badger/v4"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("store")

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configures the badger store.
type Options struct {
	// Dir is the directory of the database. It is ignored if InMemory is set.
	Dir string
	// InMemory keeps all data in memory (used by tests).
	InMemory bool
	// SyncWrites makes every commit durable before it returns.
	SyncWrites bool
	// GCInterval is the time between value log garbage collections (0 disables the collector).
	GCInterval time.Duration
}

// DefaultOptions returns the default options for a store in dir.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:        dir,
		SyncWrites: true,
		GCInterval: 5 * time.Minute,
	}
}

// --------------------------------------------------------------------------
// Store
// --------------------------------------------------------------------------

// Store is a persistent store on a local badger database.
// Transactions are badger read-write transactions: asserts read the key inside the
// transaction, so badger's conflict detection also catches concurrent writers.
//
// Thread-safety: all methods are safe for concurrent use.
type Store struct {
	db       *badger.DB
	pageSize int

	gcStop chan struct{}
	gcDone sync.WaitGroup
	closed sync.Once
}

// Open opens (or creates) a badger backed persistent store.
func Open(opts Options) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.Dir).
		WithInMemory(opts.InMemory).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(logger.GetLogger("badger"))
	if opts.InMemory {
		badgerOpts = badgerOpts.WithDir("").WithValueDir("")
	}

	bdb, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, store.NewError(store.RetCInternalError, err.Error())
	}

	s := &Store{
		db:       bdb,
		pageSize: store.DefaultPageSize,
		gcStop:   make(chan struct{}),
	}
	if opts.GCInterval > 0 && !opts.InMemory {
		s.gcDone.Add(1)
		go s.garbageCollector(opts.GCInterval)
	}
	log.Infof("opened badger store (dir=%q, in-memory=%t)", opts.Dir, opts.InMemory)
	return s, nil
}

// garbageCollector periodically rewrites value log files
func (s *Store) garbageCollector(interval time.Duration) {
	defer s.gcDone.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			// a single run rewrites at most one file, repeat while there is work
			for {
				err := s.db.RunValueLogGC(0.5)
				if err == nil {
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
					log.Warningf("value log gc failed: %v", err)
				}
				break
			}
		}
	}
}

// Close stops the garbage collector and closes the database.
func (s *Store) Close() error {
	var err error
	s.closed.Do(func() {
		close(s.gcStop)
		s.gcDone.Wait()
		err = s.db.Close()
	})
	return err
}

// toStoreError maps badger errors to store errors
func toStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return store.NewError(store.RetCNotFound, err.Error())
	case errors.Is(err, badger.ErrConflict):
		return store.NewError(store.RetCRaceCondition, err.Error())
	case errors.Is(err, badger.ErrDBClosed):
		return store.NewError(store.RetCUnavailable, err.Error())
	default:
		var storeErr *store.Error
		if errors.As(err, &storeErr) {
			return storeErr
		}
		return store.NewError(store.RetCInternalError, err.Error())
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	values, err := s.GetMulti(ctx, []string{key})
	if err != nil {
		return nil, err
	}
	return values[0], nil
}

func (s *Store) GetMulti(ctx context.Context, keys []string) ([][]byte, error) {
	if err := store.FromContext(ctx); err != nil {
		return nil, err
	}
	values := make([][]byte, len(keys))
	err := s.db.View(func(txn *badger.Txn) error {
		for i, key := range keys {
			item, err := txn.Get([]byte(key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return store.NewKeyError(store.RetCNotFound, key, "key not found")
			}
			if err != nil {
				return err
			}
			if values[i], err = item.ValueCopy(nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, toStoreError(err)
	}
	return values, nil
}

func (s *Store) PrefixEntries(ctx context.Context, prefix string) store.EntryIterator {
	return s.scan(ctx, prefix, false)
}

func (s *Store) Prefix(ctx context.Context, prefix string) store.EntryIterator {
	return s.scan(ctx, prefix, true)
}

func (s *Store) scan(ctx context.Context, prefix string, keysOnly bool) store.EntryIterator {
	return store.NewPagedIterator(ctx, func(ctx context.Context, after string) ([]db.Entry, error) {
		return s.ScanPage(ctx, prefix, after, s.pageSize, keysOnly)
	})
}

// ScanPage reads one page per read transaction, long iterations do not pin old versions
func (s *Store) ScanPage(ctx context.Context, prefix, after string, limit int, keysOnly bool) ([]db.Entry, error) {
	if err := store.FromContext(ctx); err != nil {
		return nil, err
	}
	var page []db.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = !keysOnly
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		start := []byte(prefix)
		if after > prefix {
			start = []byte(after)
		}
		for it.Seek(start); it.ValidForPrefix([]byte(prefix)) && len(page) < limit; it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			if after != "" && bytes.Equal(key, []byte(after)) {
				continue
			}
			e := db.Entry{Key: string(key)}
			if !keysOnly {
				value, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				e.Value = value
			}
			page = append(page, e)
		}
		return nil
	})
	if err != nil {
		return nil, toStoreError(err)
	}
	return page, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.Apply(ctx, store.NewTransaction().Set(key, value))
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.Apply(ctx, store.NewTransaction().Delete(key))
}

func (s *Store) Begin() *store.Transaction {
	return store.NewTransaction()
}

func (s *Store) Apply(ctx context.Context, txn *store.Transaction) error {
	if err := store.FromContext(ctx); err != nil {
		return err
	}
	if txn == nil || txn.Len() == 0 {
		return nil
	}

	err := s.db.Update(func(btxn *badger.Txn) error {
		// asserts are checked against the state before the batch
		for _, op := range txn.Ops {
			if op.Type != db.OpAssert && op.Type != db.OpAssertAbsent {
				continue
			}
			if err := checkAssert(btxn, op); err != nil {
				return err
			}
		}
		for _, op := range txn.Ops {
			var err error
			switch op.Type {
			case db.OpSet:
				value := op.Value
				if value == nil {
					value = []byte{}
				}
				err = btxn.Set([]byte(op.Key), value)
			case db.OpDelete:
				err = btxn.Delete([]byte(op.Key))
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	return toStoreError(err)
}

// checkAssert evaluates a single assert operation inside a badger transaction
func checkAssert(btxn *badger.Txn, op db.Op) error {
	item, err := btxn.Get([]byte(op.Key))
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		if op.Type == db.OpAssertAbsent {
			return nil
		}
		return store.NewKeyError(store.RetCRaceCondition, op.Key, "assertion failed: key is missing")
	case err != nil:
		return err
	}

	if op.Type == db.OpAssertAbsent {
		return store.NewKeyError(store.RetCRaceCondition, op.Key, "assertion failed: key exists")
	}
	current, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	if !bytes.Equal(current, op.Value) {
		return store.NewKeyError(store.RetCRaceCondition, op.Key, "assertion failed: value changed")
	}
	return nil
}

// GetDBInfo returns size information about the badger database.
// The entry count requires a key-only scan over the whole database.
func (s *Store) GetDBInfo(ctx context.Context) (db.DatabaseInfo, error) {
	if err := store.FromContext(ctx); err != nil {
		return db.DatabaseInfo{}, err
	}
	entries := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			entries++
		}
		return nil
	})
	if err != nil {
		return db.DatabaseInfo{}, toStoreError(err)
	}

	lsm, vlog := s.db.Size()
	meta := &struct {
		LSMBytes  int64 `json:"lsm_bytes"`
		VLogBytes int64 `json:"vlog_bytes"`
	}{LSMBytes: lsm, VLogBytes: vlog}

	return db.DatabaseInfo{
		SizeBytes: int(lsm + vlog),
		Entries:   entries,
		DbType:    db.ImplBadger,
		Metadata:  meta,
	}, nil
}
