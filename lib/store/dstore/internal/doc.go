// Package internal provides the communication protocol structures and serialization
// logic for the dstore package. It defines the wire format used to transmit operations
// between the store client and the replicated state machine.
//
// This package is intended for internal use by the dstore implementation and should
// not be imported directly by external code.
//
// The package consists of two main components:
//
//   - Command System: every write is a batch of db.Op values (set, delete, assert,
//     assert-absent). A batch is one RAFT log entry, so it is applied atomically and
//     in the same order on every replica. Single writes are batches of one.
//
//   - Query System: read operations (Get, GetMulti, Scan, GetDBInfo) are executed
//     locally on the state machine and therefore do not require serialization.
//
// Command Format:
//
//	- 1 byte: Command type (Apply)
//	- 4 bytes: number of operations (uint32, big endian)
//	- per operation:
//	  - 1 byte: operation type (db.OpType)
//	  - 4 bytes: key length, N bytes: key
//	  - 4 bytes: value length, M bytes: value (empty for deletes and assert-absent)
//
// Thread Safety:
//
//	The types in this package are not thread-safe. This is not an issue since
//	a command is built by one goroutine and the RAFT protocol ensures sequential
//	processing of commands on the state machine.
package internal
