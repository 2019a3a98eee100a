// Package server implements the RPC server. It creates one store per configured
// shard and routes every request to the adapter of its shard.
//
// Key Components:
//
//   - IRPCServerAdapter: Interface with the Handle method that processes one request.
//
//   - NewPersistentServerAdapter: Adapter translating persistent requests (get, getMulti,
//     scan, set, delete, apply, info) into store.IPersistentStore calls. Scans are
//     answered one page at a time, the server keeps no cursor state.
//
//   - NewVolatileServerAdapter: Adapter translating cache requests into
//     store.IVolatileStore calls.
//
//   - NewRPCServer: Factory function creating a configured server with the specified
//     transport and serializer mechanisms.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Shards: []common.ServerShard{
//	    {ShardID: 100, Type: common.ShardTypeBadgerPersistent},
//	    {ShardID: 200, Type: common.ShardTypeVolatile},
//	  },
//	  DataDir:       "/var/lib/dorm",
//	  TimeoutSecond: 5,
//	  Transport:     common.ServerTransportConfig{Endpoint: "0.0.0.0:8080"},
//	}
//
//	s := server.NewRPCServer(config, tcp.NewTCPServerTransport(), serializer.NewBinarySerializer())
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// The server supports four types of shards, which can be mixed within a single server:
//
//   - ShardTypeLocalPersistent: An ordered in-memory store (birch). Its content is
//     lost when the server stops, suitable for development and tests.
//
//   - ShardTypeBadgerPersistent: A durable store on a badger database in
//     <DataDir>/badger/<shardId>.
//
//   - ShardTypeRaftPersistent: A store replicated with raft. RTTMillisecond,
//     SnapshotEntries, CompactionOverhead, DataDir, ReplicaID and ClusterMembers
//     must be configured.
//
//   - ShardTypeVolatile: A ttl cache (maple).
//
// Every store is wrapped with a metered store, the timers are available from Registry.
//
// Thread Safety:
//
//	The server can handle concurrent requests across multiple connections. Each
//	request is processed independently with its own timeout. Serve should be
//	called only once.
package server
