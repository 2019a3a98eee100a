// Package common provides the data structures shared by the rpc client, server
// and transports: the wire message, the configuration structures and the logger.
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication. One message type
//     exists per operation of store.IPersistentStore and store.IVolatileStore.
//     Failed operations answer with Err and Code set, AsError turns them back into
//     a *store.Error so that errors.Is(err, store.ErrNotFound) works across the wire.
//
//   - ServerConfig: Configuration of a server: its shards, the transport settings
//     and the raft parameters used by dstore shards. ToDragonboatConfig and
//     ToNodeHostConfig derive the dragonboat settings.
//
//   - ClientConfig: Configuration of clients, controlling endpoints, timeouts and
//     retry behavior.
//
//   - Logger: Custom logging implementation that integrates with Dragonboat's
//     logging system. All packages of this module log through logger.GetLogger,
//     InitLoggers sets the format and level once per process.
package common
