// Package testing provides standardised test suites for engine implementations
// that satisfy the db.KVDB or db.TTLKVDB interfaces.
//
// The package contains:
//   - RunKVDBTests: batches, asserts, prefix scans with resume markers, snapshots
//     and concurrent optimistic writers for ordered engines
//   - RunTTLKVDBTests: expiry, create-if-absent and counters for volatile engines
//   - FakeClock: a manually advanced time source for deterministic expiry tests
//
// Example usage:
//
//	func Test(t *testing.T) {
//		dbtesting.RunKVDBTests(t, "BirchDB", func() db.KVDB {
//			return birch.NewBirchDB(nil)
//		})
//	}
package testing
