// Package bstore implements store.IPersistentStore on a local Badger database.
//
// It is the durable single-node backend: every transaction is one badger read-write
// transaction, asserts read their key inside that transaction, and a commit that
// conflicts with a concurrent writer (badger.ErrConflict) is reported as
// RetCRaceCondition just like a failed assert. Prefix scans run one read
// transaction per page.
//
// Badger logs through the dragonboat logger named "badger", so its output shares
// the format and level of all other loggers.
//
// Usage:
//
//	s, err := bstore.Open(bstore.DefaultOptions("/var/lib/dorm"))
//	if err != nil { ... }
//	defer s.Close()
//
// For tests, Open(bstore.Options{InMemory: true}) creates a store without a directory.
package bstore
