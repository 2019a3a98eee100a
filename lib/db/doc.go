// Package db provides the engine interfaces below the store layer.
//
// Two kinds of engines exist:
//
//   - KVDB: an ordered key-value engine. Keys are kept in lexicographic order so
//     that prefix scans can be served, and all writes arrive as batches of Op values
//     which are applied atomically. Assert operations inside a batch make the whole
//     batch conditional on the current value of a key, which is the building block
//     for optimistic concurrency control in the layers above.
//
//   - TTLKVDB: a volatile engine where every entry may carry a time to live. It
//     offers create-if-absent (Add) and atomic counters (Incr) in the style of
//     memcached and is meant to back caches.
//
// Implementations:
//
//   - engines/birch: ordered in-memory engine based on a B-tree with snapshot support.
//     Used by the local persistent store and by the RAFT state machine.
//   - engines/maple: sharded in-memory TTL engine with background garbage collection.
//     Used by the local volatile store.
//
// Note on Write Indices:
//
//	KVDB.Apply receives a write index which serves as a logical timestamp (the RAFT
//	log index for replicated stores). Implementations only keep the highest index
//	seen, it is reported by WriteIdx and included in snapshots.
//
// The testing package (github.com/ValentinKolb/dORM/lib/db/testing) provides
// standardized test suites for both interfaces.
package db
