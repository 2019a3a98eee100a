// Package lstore implements local, single-node versions of both store interfaces.
//
//   - NewLocalStore wraps an ordered db.KVDB (usually birch) as a store.IPersistentStore.
//     Transactions are passed to KVDB.Apply as one batch, failed asserts become
//     RetCRaceCondition errors. The store maintains a write index with atomic
//     increments, it serves as the logical timestamp of every batch.
//
//   - NewLocalVolatileStore wraps a db.TTLKVDB (usually maple) as a store.IVolatileStore.
//
// Both stores check the context at every call and never block on I/O, which makes
// them the default choice for tests and for single-process deployments.
//
// Usage Example:
//
//	persistent := lstore.NewLocalStore(func() db.KVDB { return birch.NewBirchDB(nil) })
//	volatile := lstore.NewLocalVolatileStore(func() db.TTLKVDB { return maple.NewMapleDB(nil) })
//
//	txn := persistent.Begin().AssertAbsent("a").Set("a", []byte("1"))
//	err := persistent.Apply(ctx, txn)
//
// For distributed scenarios use the dstore package, for durability on a single
// node the bstore package.
package lstore
