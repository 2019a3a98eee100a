// Package client implements the stores of the lib/store package on top of a
// remote shard.
//
// Key Components:
//
//   - NewRPCPersistentStore: A store.IPersistentStore. Prefix scans are lazy and
//     fetch one page per request, transactions are sent as a single apply request.
//
//   - NewRPCVolatileStore: A store.IVolatileStore for a cache shard.
//
// Errors of the remote store keep their code and key, so errors.Is(err, store.ErrNotFound)
// works as for a local store. Transport failures are reported with code RetCUnavailable.
// A request that was written to the connection is never repeated by the transport,
// because it might already have been applied.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  TimeoutSecond: 5,
//	  Transport: common.ClientTransportConfig{
//	    Endpoints:              []string{"localhost:8080"},
//	    RetryCount:             3,
//	    ConnectionsPerEndpoint: 1,
//	  },
//	}
//
//	persistent, _ := client.NewRPCPersistentStore(100, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	volatile, _ := client.NewRPCVolatileStore(200, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//
// Performance Considerations:
//
//   - For applications that frequently send large payloads, increasing ConnectionsPerEndpoint
//     can improve throughput by allowing parallel requests.
//
//   - The binary serializer provides the best performance and smallest payload size.
//
// Thread Safety:
//
//	All client implementations are thread-safe and can be used concurrently from
//	multiple goroutines without additional synchronization.
package client
