// Package birch implements an ordered, in-memory key-value database based on a
// B-tree (github.com/google/btree). It satisfies the db.KVDB interface.
//
// Key Features:
//   - Lexicographically ordered keys, which makes prefix scans with a resume marker cheap
//   - Atomic batches with assert operations for optimistic concurrency control
//   - Copy-on-write snapshots: Save clones the tree and streams it without blocking writers
//   - Binary snapshot format (magic number, version, write index, length prefixed entries)
//
// Thread Safety:
//
//	A single RW lock protects the tree. Batches take the write lock for their full
//	duration so that asserts and mutations observe the same state. Reads and scans
//	share the read lock.
//
// Usage Example:
//
//	database := birch.NewBirchDB(nil)
//	err := database.Apply([]db.Op{
//		{Type: db.OpAssertAbsent, Key: "a"},
//		{Type: db.OpSet, Key: "a", Value: []byte("1")},
//	}, 1)
//	entries := database.Scan("a", "", 0, false)
package birch
