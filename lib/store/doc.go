// Package store provides the two store abstractions the data access layer is built on:
// a durable, transactional persistent store and a volatile cache store.
//
// The package focuses on:
//   - Two small interfaces (IPersistentStore, IVolatileStore) that any backend can satisfy
//   - Transactions as plain values with assert operations for optimistic concurrency
//   - A unified error taxonomy that survives every implementation
//   - Lazy, paged prefix iteration
//
// Key Components:
//
//   - IPersistentStore: get, multi-get (failing on the first missing key), prefix
//     iteration over entries or keys, single writes and atomic transactions.
//
//   - IVolatileStore: get, set with ttl, create-if-absent (Add), delete and atomic
//     counters (Incr), the feature set of memcached.
//
//   - Transaction: an ordered list of db.Op values. Assert and AssertAbsent make the
//     whole transaction conditional on the current value of a key; if a condition
//     does not hold Apply fails with RetCRaceCondition and nothing is written.
//
//   - Error System: *Error carries a RetCode, the affected key and a message. The
//     sentinels ErrNotFound, ErrRaceCondition and ErrUnavailable match every error
//     with the same code through errors.Is, no matter how often it was wrapped.
//
//   - Paged Iteration: NewPagedIterator turns a page fetch function into an
//     EntryIterator, so implementations only have to answer "the next N keys after X".
//
// Implementations:
//
//   - Local Store (lstore): persistent store over an ordered db.KVDB and volatile
//     store over a db.TTLKVDB, both in-process.
//
//   - Distributed Store (dstore): persistent store replicated with the Dragonboat
//     RAFT library. Transactions are single log entries, which makes them atomic
//     on every replica.
//
//   - Badger Store (bstore): persistent store on a local Badger database directory.
//
//   - Metered Store (mstore): decorators recording per-operation timers.
//
// The testing package (github.com/ValentinKolb/dORM/lib/store/testing) provides
// test suites every implementation runs.
package store
