// Package maple implements a volatile key-value database with per-entry time to
// live. It provides a complete implementation of the db.TTLKVDB interface and is
// the engine behind the local volatile store.
//
// The package focuses on:
//   - Concurrent access through a lock-striped hash map (xsync.MapOf)
//   - Wall-clock expiration: an entry is invisible as soon as its deadline passed,
//     independent of whether the garbage collector already removed it
//   - memcached-like primitives: create-if-absent (Add) and atomic counters (Incr)
//
// Key Components:
//
//   - mapleImpl: The database structure. It owns the map, the clock and the
//     garbage collector goroutine.
//
//   - entry: The stored value and its absolute expiration time in unix nanoseconds
//     (0 means the entry never expires).
//
// Internal Mechanisms:
//
//   - Atomic Updates: Add and Incr run inside the Compute callback of the map, so
//     concurrent callers for the same key are serialized and exactly one Add wins.
//
//   - Garbage Collection: A background goroutine ranges over the map every
//     GCInterval and removes expired entries. The removal is re-checked inside
//     Compute because the entry could have been refreshed in the meantime.
//
//   - Clock: The time source is injectable through DBOptions.Clock which keeps tests
//     deterministic.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Close stops the collector and waits
//	for it to exit.
//
// Usage Example:
//
//	cache := maple.NewMapleDB(nil)
//	defer cache.Close()
//
//	cache.Set("ovs_data_disk_1234", data, time.Minute)
//	if cache.Add("lock", []byte("me"), 10*time.Second) {
//		// we own the key
//	}
package maple
