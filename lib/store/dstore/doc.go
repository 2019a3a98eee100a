// Package dstore implements a replicated, fault-tolerant persistent store using
// the Dragonboat RAFT consensus library. It provides a strongly consistent implementation
// of the store.IPersistentStore interface that can operate across multiple nodes while
// maintaining linearizable consistency.
//
// Architecture:
//
// The dstore implementation consists of three main components:
//
//   - Store Client: Implements store.IPersistentStore and communicates with
//     the RAFT cluster. It serializes transactions into commands, sends them to the
//     consensus layer, and processes responses.
//
//   - State Machine: A Dragonboat IConcurrentStateMachine implementation that processes
//     commands and queries on each node. The state machine contains an ordered db.KVDB
//     instance (usually birch) and applies batches to it.
//
//   - Communication Protocol: Defined in the internal package, this consists of Command
//     and Query structures with serialization logic for transmitting operations across
//     the network.
//
// Write Operations:
//
//	All writes (Set, Delete, Apply) follow this flow:
//
//	1. The operations are packed into one Command (a batch of db.Op values)
//	2. The Command is proposed to the RAFT cluster via SyncPropose
//	3. The leader node replicates the command to a majority of followers
//	4. Once committed, the batch is applied on the state machine of each node; the
//	   asserts of the batch are evaluated there, against the same state on every replica
//	5. The result code is returned to the client: Success or RaceCondition
//
//	The RAFT log index is used as the write index of the batch.
//
// Read Operations:
//
//   - Linearizable Reads: Get, GetMulti and every page of a prefix scan use SyncRead,
//     which guarantees the read sees the latest committed state.
//
//   - Stale Reads: GetDBInfo uses StaleRead, which may return slightly outdated
//     information but with lower latency.
//
// Error Handling and Retries:
//
//   - System Busy / Shard Not Ready: the request was not proposed, it is retried
//     after a short delay, up to 5 attempts.
//
//   - Timeouts, cancellation and a closed node host are reported as RetCUnavailable.
//     A timed out write is not retried since its outcome is unknown; the optimistic
//     asserts of the caller detect a write that was applied after all.
//
// Snapshotting and Recovery:
//
//	The state machine saves snapshots with db.KVDB.Save (birch clones its tree, so
//	writes are not blocked) and restores them with db.KVDB.Load.
//
// Usage:
//
//	nh, err := dragonboat.NewNodeHost(nodeHostConfig)
//	if err != nil { ... }
//
//	dbFactory := func() db.KVDB { return birch.NewBirchDB(nil) }
//	err = nh.StartConcurrentReplica(members, false, dstore.CreateStateMachineFactory(dbFactory), shardConfig)
//	if err != nil { ... }
//
//	s := dstore.NewDistributedStore(nh, shardID, 5*time.Second)
//
// For scenarios where distributed consensus is not required, consider the lstore
// package (in memory) or the bstore package (on disk).
package dstore
