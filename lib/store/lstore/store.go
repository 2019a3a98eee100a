package lstore

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dORM/lib/db"
	"github.com/ValentinKolb/dORM/lib/store"
)

// --------------------------------------------------------------------------
// Persistent Store
// --------------------------------------------------------------------------

type persistentImpl struct {
	db       db.KVDB
	index    atomic.Uint64
	pageSize int
}

// NewLocalStore creates a new local persistent store instance.
// This store implementation is not distributed and only works on a single node.
// Durability is that of the db created by the factory.
func NewLocalStore(factory store.DBFactory) store.IPersistentStore {
	return &persistentImpl{
		db:       factory(),
		pageSize: store.DefaultPageSize,
	}
}

// incAndGetIndex increments the index and returns the new value.
// It is used to ensure that each write operation has a unique index.
//
// Thread-safety: This method is thread-safe since it uses atomic operations.
func (s *persistentImpl) incAndGetIndex() uint64 {
	return s.index.Add(1)
}

// apply runs a batch on the db and converts assertion failures
func (s *persistentImpl) apply(ops []db.Op) error {
	if err := s.db.Apply(ops, s.incAndGetIndex()); err != nil {
		if errors.Is(err, db.ErrAssertionFailed) {
			return store.NewError(store.RetCRaceCondition, err.Error())
		}
		return store.NewError(store.RetCInternalError, err.Error())
	}
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *persistentImpl) Get(ctx context.Context, key string) ([]byte, error) {
	if err := store.FromContext(ctx); err != nil {
		return nil, err
	}
	value, ok := s.db.Get(key)
	if !ok {
		return nil, store.NewKeyError(store.RetCNotFound, key, "key not found")
	}
	return value, nil
}

func (s *persistentImpl) GetMulti(ctx context.Context, keys []string) ([][]byte, error) {
	if err := store.FromContext(ctx); err != nil {
		return nil, err
	}
	values := make([][]byte, len(keys))
	for i, key := range keys {
		value, ok := s.db.Get(key)
		if !ok {
			return nil, store.NewKeyError(store.RetCNotFound, key, "key not found")
		}
		values[i] = value
	}
	return values, nil
}

func (s *persistentImpl) PrefixEntries(ctx context.Context, prefix string) store.EntryIterator {
	return s.scan(ctx, prefix, false)
}

func (s *persistentImpl) Prefix(ctx context.Context, prefix string) store.EntryIterator {
	return s.scan(ctx, prefix, true)
}

func (s *persistentImpl) scan(ctx context.Context, prefix string, keysOnly bool) store.EntryIterator {
	return store.NewPagedIterator(ctx, func(ctx context.Context, after string) ([]db.Entry, error) {
		return s.ScanPage(ctx, prefix, after, s.pageSize, keysOnly)
	})
}

func (s *persistentImpl) ScanPage(ctx context.Context, prefix, after string, limit int, keysOnly bool) ([]db.Entry, error) {
	if err := store.FromContext(ctx); err != nil {
		return nil, err
	}
	return s.db.Scan(prefix, after, limit, keysOnly), nil
}

func (s *persistentImpl) Set(ctx context.Context, key string, value []byte) error {
	if err := store.FromContext(ctx); err != nil {
		return err
	}
	return s.apply([]db.Op{{Type: db.OpSet, Key: key, Value: value}})
}

func (s *persistentImpl) Delete(ctx context.Context, key string) error {
	if err := store.FromContext(ctx); err != nil {
		return err
	}
	return s.apply([]db.Op{{Type: db.OpDelete, Key: key}})
}

func (s *persistentImpl) Begin() *store.Transaction {
	return store.NewTransaction()
}

func (s *persistentImpl) Apply(ctx context.Context, txn *store.Transaction) error {
	if err := store.FromContext(ctx); err != nil {
		return err
	}
	if txn == nil || txn.Len() == 0 {
		return nil
	}
	return s.apply(txn.Ops)
}

func (s *persistentImpl) GetDBInfo(ctx context.Context) (db.DatabaseInfo, error) {
	if err := store.FromContext(ctx); err != nil {
		return db.DatabaseInfo{}, err
	}
	return s.db.GetInfo(), nil
}

// --------------------------------------------------------------------------
// Volatile Store
// --------------------------------------------------------------------------

type volatileImpl struct {
	db db.TTLKVDB
}

// NewLocalVolatileStore creates a new in-process volatile store.
// The content is lost with the process and not shared with other processes.
func NewLocalVolatileStore(factory store.TTLDBFactory) store.IVolatileStore {
	return &volatileImpl{
		db: factory(),
	}
}

func (s *volatileImpl) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := store.FromContext(ctx); err != nil {
		return nil, false, err
	}
	value, ok := s.db.Get(key)
	return value, ok, nil
}

func (s *volatileImpl) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := store.FromContext(ctx); err != nil {
		return err
	}
	s.db.Set(key, value, ttl)
	return nil
}

func (s *volatileImpl) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := store.FromContext(ctx); err != nil {
		return false, err
	}
	return s.db.Add(key, value, ttl), nil
}

func (s *volatileImpl) Delete(ctx context.Context, key string) error {
	if err := store.FromContext(ctx); err != nil {
		return err
	}
	s.db.Delete(key)
	return nil
}

func (s *volatileImpl) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	if err := store.FromContext(ctx); err != nil {
		return 0, err
	}
	value, err := s.db.Incr(key, delta)
	if err != nil {
		return 0, store.NewKeyError(store.RetCInvalidOperation, key, err.Error())
	}
	return value, nil
}

func (s *volatileImpl) GetDBInfo(ctx context.Context) (db.DatabaseInfo, error) {
	if err := store.FromContext(ctx); err != nil {
		return db.DatabaseInfo{}, err
	}
	return s.db.GetInfo(), nil
}
