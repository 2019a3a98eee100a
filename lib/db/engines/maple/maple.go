package maple

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dORM/lib/db"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultGCInterval = time.Second // Default interval between GC runs
)

// --------------------------------------------------------------------------
// Entry Type (value with expiration)
// --------------------------------------------------------------------------

// entry stores a value with its absolute expiration time (unix nano, 0 = never)
type entry struct {
	value    []byte
	expireAt int64
}

// expired returns whether the entry is expired at the given time
func (e entry) expired(now int64) bool {
	return e.expireAt != 0 && now >= e.expireAt
}

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl implements a volatile database on a concurrent hash map.
// Expired entries are invisible immediately and removed by a background collector.
type mapleImpl struct {
	data  *xsync.MapOf[string, entry]
	clock func() time.Time

	// garbage collection
	gcInterval  time.Duration
	gcIsRunning atomic.Bool
	gcStop      chan struct{}
	gcDone      sync.WaitGroup
	collected   atomic.Uint64
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	GCInterval time.Duration    // Time between GC runs (0 = use default: 1 sec)
	Clock      func() time.Time // Time source (nil = time.Now)
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		GCInterval: defaultGCInterval,
		Clock:      time.Now,
	}
}

// NewMapleDB creates a new MapleDB instance with the specified options (optional)
func NewMapleDB(opts *DBOptions) db.TTLKVDB {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.GCInterval <= 0 {
		opts.GCInterval = defaultGCInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	newDB := &mapleImpl{
		data:       xsync.NewMapOf[string, entry](),
		clock:      opts.Clock,
		gcInterval: opts.GCInterval,
		gcStop:     make(chan struct{}),
	}
	newDB.startGC()
	return newDB
}

// now returns the current time of the database clock in unix nano
func (maple *mapleImpl) now() int64 {
	return maple.clock().UnixNano()
}

// expireAt converts a ttl into an absolute expiration time
func (maple *mapleImpl) expireAt(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return maple.now() + int64(ttl)
}

// --------------------------------------------------------------------------
// TTLKVDB Interface Methods
// --------------------------------------------------------------------------

// Set inserts or updates an entry.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Set(key string, value []byte, ttl time.Duration) {
	// Copy value to prevent memory corruption
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	maple.data.Store(key, entry{value: valueCopy, expireAt: maple.expireAt(ttl)})
}

// Add inserts an entry only if no live entry exists for the key.
//
// Thread-safety: This method uses the atomic Compute of the map, concurrent Adds for one key have exactly one winner.
func (maple *mapleImpl) Add(key string, value []byte, ttl time.Duration) bool {
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	now := maple.now()
	added := false
	maple.data.Compute(key, func(old entry, loaded bool) (entry, bool) {
		if loaded && !old.expired(now) {
			return old, false
		}
		added = true
		return entry{value: valueCopy, expireAt: maple.expireAt(ttl)}, false
	})
	return added
}

// Get retrieves a copy of the value of a live entry.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Get(key string) ([]byte, bool) {
	e, ok := maple.data.Load(key)
	if !ok || e.expired(maple.now()) {
		return nil, false
	}
	data := make([]byte, len(e.value))
	copy(data, e.value)
	return data, true
}

// Delete removes an entry.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Delete(key string) {
	maple.data.Delete(key)
}

// Incr atomically adds delta to the integer stored at key.
// The expiration of an existing entry is kept.
//
// Thread-safety: This method uses the atomic Compute of the map.
func (maple *mapleImpl) Incr(key string, delta int64) (int64, error) {
	now := maple.now()
	var (
		result int64
		err    error
	)
	maple.data.Compute(key, func(old entry, loaded bool) (entry, bool) {
		if !loaded || old.expired(now) {
			result = delta
			return entry{value: []byte(strconv.FormatInt(delta, 10))}, false
		}
		current, parseErr := strconv.ParseInt(string(old.value), 10, 64)
		if parseErr != nil {
			err = fmt.Errorf("value of key %s is not an integer", key)
			return old, false
		}
		result = current + delta
		return entry{value: []byte(strconv.FormatInt(result, 10)), expireAt: old.expireAt}, false
	})
	return result, err
}

// --------------------------------------------------------------------------
// Garbage Collection
// --------------------------------------------------------------------------

// startGC starts the garbage collector
// if the GC is already running, this function does nothing
func (maple *mapleImpl) startGC() {
	if maple.gcIsRunning.CompareAndSwap(false, true) {
		maple.gcDone.Add(1)
		go maple.garbageCollector()
	}
}

// stopGC stops the garbage collector and waits for it to exit.
// the gc can't be started again after it has been stopped!
func (maple *mapleImpl) stopGC() {
	if maple.gcIsRunning.CompareAndSwap(true, false) {
		close(maple.gcStop)
		maple.gcDone.Wait()
	}
}

// garbageCollector periodically removes expired entries
// WARNING: this method should never be called directly! use startGC() and stopGC()
func (maple *mapleImpl) garbageCollector() {
	defer maple.gcDone.Done()

	ticker := time.NewTicker(maple.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-maple.gcStop:
			return
		case <-ticker.C:
			maple.collect()
		}
	}
}

// collect removes all entries that are expired at the time of the call
func (maple *mapleImpl) collect() {
	now := maple.now()
	maple.data.Range(func(key string, e entry) bool {
		if !e.expired(now) {
			return true
		}
		// double-check inside compute, the entry could have been updated in the meantime
		maple.data.Compute(key, func(current entry, loaded bool) (entry, bool) {
			if !loaded || !current.expired(now) {
				return current, !loaded
			}
			maple.collected.Add(1)
			return current, true
		})
		return true
	})
}

// --------------------------------------------------------------------------
// TTLKVDB Interface Implementation - Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics about the database.
// Size values are computed over live entries and are only a snapshot.
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {
	now := maple.now()
	entries, size, expiredBacklog := 0, 0, 0
	maple.data.Range(func(key string, e entry) bool {
		if e.expired(now) {
			expiredBacklog++
			return true
		}
		entries++
		size += len(key) + len(e.value) + 8
		return true
	})

	meta := &struct {
		ExpiredBacklog int    `json:"expired_backlog"`
		Collected      uint64 `json:"collected"`
		GCInterval     string `json:"gc_interval"`
	}{
		ExpiredBacklog: expiredBacklog,
		Collected:      maple.collected.Load(),
		GCInterval:     maple.gcInterval.String(),
	}

	return db.DatabaseInfo{
		SizeBytes: size,
		Entries:   entries,
		DbType:    db.ImplMaple,
		Metadata:  meta,
	}
}

// Close stops the garbage collector and drops all entries
func (maple *mapleImpl) Close() error {
	maple.stopGC()
	maple.data.Clear()
	return nil
}
