package mstore

import (
	"context"
	"errors"
	"time"

	"github.com/ValentinKolb/dORM/lib/db"
	"github.com/ValentinKolb/dORM/lib/store"
	"github.com/rcrowley/go-metrics"
)

// --------------------------------------------------------------------------
// Shared helpers
// --------------------------------------------------------------------------

// meter records timings and outcomes of store calls in a go-metrics registry
type meter struct {
	registry metrics.Registry
	prefix   string
}

func (m meter) timer(op string) metrics.Timer {
	return metrics.GetOrRegisterTimer(m.prefix+"."+op, m.registry)
}

func (m meter) counter(name string) metrics.Counter {
	return metrics.GetOrRegisterCounter(m.prefix+"."+name, m.registry)
}

// observe records the duration since start for op and counts the error classes
func (m meter) observe(op string, start time.Time, err error) {
	m.timer(op).UpdateSince(start)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		m.counter("not_found").Inc(1)
	case errors.Is(err, store.ErrRaceCondition):
		m.counter("race_condition").Inc(1)
	case errors.Is(err, store.ErrUnavailable):
		m.counter("unavailable").Inc(1)
	default:
		m.counter("errors").Inc(1)
	}
}

// getDBInfo forwards to the wrapped store if it can report database information
func getDBInfo(ctx context.Context, next interface{}) (db.DatabaseInfo, error) {
	provider, ok := next.(store.IDBInfoProvider)
	if !ok {
		return db.DatabaseInfo{}, store.NewError(store.RetCUnsupportedOperation, "store does not provide database information")
	}
	return provider.GetDBInfo(ctx)
}

// --------------------------------------------------------------------------
// Persistent Store
// --------------------------------------------------------------------------

type persistentImpl struct {
	next store.IPersistentStore
	m    meter
}

// NewMeteredStore wraps a persistent store and records a timer per operation in registry.
// Timer names are "<prefix>.<op>" (get, get_multi, scan, set, delete, apply), error counters
// "<prefix>.not_found", "<prefix>.race_condition", "<prefix>.unavailable" and "<prefix>.errors".
// A nil registry selects metrics.DefaultRegistry.
func NewMeteredStore(next store.IPersistentStore, registry metrics.Registry, prefix string) store.IPersistentStore {
	if registry == nil {
		registry = metrics.DefaultRegistry
	}
	return &persistentImpl{next: next, m: meter{registry: registry, prefix: prefix}}
}

func (s *persistentImpl) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	value, err := s.next.Get(ctx, key)
	s.m.observe("get", start, err)
	return value, err
}

func (s *persistentImpl) GetMulti(ctx context.Context, keys []string) ([][]byte, error) {
	start := time.Now()
	values, err := s.next.GetMulti(ctx, keys)
	s.m.observe("get_multi", start, err)
	return values, err
}

func (s *persistentImpl) PrefixEntries(ctx context.Context, prefix string) store.EntryIterator {
	return &meteredIterator{EntryIterator: s.next.PrefixEntries(ctx, prefix), m: s.m, start: time.Now()}
}

func (s *persistentImpl) Prefix(ctx context.Context, prefix string) store.EntryIterator {
	return &meteredIterator{EntryIterator: s.next.Prefix(ctx, prefix), m: s.m, start: time.Now()}
}

func (s *persistentImpl) ScanPage(ctx context.Context, prefix, after string, limit int, keysOnly bool) ([]db.Entry, error) {
	start := time.Now()
	page, err := store.ScanPage(ctx, s.next, prefix, after, limit, keysOnly)
	s.m.observe("scan_page", start, err)
	return page, err
}

func (s *persistentImpl) GetDBInfo(ctx context.Context) (db.DatabaseInfo, error) {
	return getDBInfo(ctx, s.next)
}

func (s *persistentImpl) Set(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := s.next.Set(ctx, key, value)
	s.m.observe("set", start, err)
	return err
}

func (s *persistentImpl) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.next.Delete(ctx, key)
	s.m.observe("delete", start, err)
	return err
}

func (s *persistentImpl) Begin() *store.Transaction {
	return s.next.Begin()
}

func (s *persistentImpl) Apply(ctx context.Context, txn *store.Transaction) error {
	start := time.Now()
	err := s.next.Apply(ctx, txn)
	s.m.observe("apply", start, err)
	if txn != nil {
		metrics.GetOrRegisterHistogram(s.m.prefix+".apply_ops", s.m.registry, metrics.NewUniformSample(1028)).Update(int64(txn.Len()))
	}
	return err
}

// meteredIterator records the duration of a whole scan when it is closed
type meteredIterator struct {
	store.EntryIterator
	m       meter
	start   time.Time
	entries int64
	done    bool
}

func (it *meteredIterator) Next() bool {
	ok := it.EntryIterator.Next()
	if ok {
		it.entries++
	}
	return ok
}

func (it *meteredIterator) Close() {
	it.EntryIterator.Close()
	if it.done {
		return
	}
	it.done = true
	it.m.observe("scan", it.start, it.EntryIterator.Err())
	it.m.counter("scanned_entries").Inc(it.entries)
}

// --------------------------------------------------------------------------
// Volatile Store
// --------------------------------------------------------------------------

type volatileImpl struct {
	next store.IVolatileStore
	m    meter
}

// NewMeteredVolatileStore wraps a volatile store like NewMeteredStore. Additionally
// the counters "<prefix>.hits" and "<prefix>.misses" count the outcome of Get.
func NewMeteredVolatileStore(next store.IVolatileStore, registry metrics.Registry, prefix string) store.IVolatileStore {
	if registry == nil {
		registry = metrics.DefaultRegistry
	}
	return &volatileImpl{next: next, m: meter{registry: registry, prefix: prefix}}
}

func (s *volatileImpl) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := s.next.Get(ctx, key)
	s.m.observe("get", start, err)
	if err == nil {
		if ok {
			s.m.counter("hits").Inc(1)
		} else {
			s.m.counter("misses").Inc(1)
		}
	}
	return value, ok, err
}

func (s *volatileImpl) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := s.next.Set(ctx, key, value, ttl)
	s.m.observe("set", start, err)
	return err
}

func (s *volatileImpl) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	start := time.Now()
	added, err := s.next.Add(ctx, key, value, ttl)
	s.m.observe("add", start, err)
	return added, err
}

func (s *volatileImpl) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.next.Delete(ctx, key)
	s.m.observe("delete", start, err)
	return err
}

func (s *volatileImpl) GetDBInfo(ctx context.Context) (db.DatabaseInfo, error) {
	return getDBInfo(ctx, s.next)
}

func (s *volatileImpl) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	start := time.Now()
	value, err := s.next.Incr(ctx, key, delta)
	s.m.observe("incr", start, err)
	return value, err
}
