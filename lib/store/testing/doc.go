// Package testing provides shared test suites for store implementations.
//
// Every implementation of store.IPersistentStore runs RunPersistentStoreTests and
// every implementation of store.IVolatileStore runs RunVolatileStoreTests, so all
// backends (local, badger, raft, metered, rpc) are held to the same contract:
// NotFound reporting, GetMulti failing on the first missing key, ordered and paged
// prefix iteration, atomic transactions, asserts and context cancellation.
//
// Usage:
//
//	func TestLocalStore(t *testing.T) {
//		storetesting.RunPersistentStoreTests(t, "LocalStore", func(t *testing.T) store.IPersistentStore {
//			return lstore.NewLocalStore(func() db.KVDB { return birch.NewBirchDB(nil) })
//		})
//	}
package testing
