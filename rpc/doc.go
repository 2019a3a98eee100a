// Package rpc lets several processes share one persistent store and one volatile
// cache. A server exposes stores as numbered shards, clients implement the store
// interfaces by forwarding every call to a shard.
//
// The package is organized into several subpackages:
//
//   - common: The Message protocol, server and client configuration, and the
//     logger factory shared by all packages.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets, HTTP and an in-process loopback).
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB)
//     for converting between Message objects and byte arrays.
//
//   - client: store.IPersistentStore and store.IVolatileStore implementations that
//     talk to a remote shard. Scans are fetched page by page.
//
//   - server: The server that creates the shards and the adapters translating
//     requests into store calls.
package rpc
