// Package transport defines the interfaces of the rpc transport layer. A transport
// moves opaque request and response frames between client and server, addressed by
// shard id. Serialization is done by the serializer package.
//
// Key Components:
//
//   - IRPCClientTransport: Client side. Send honours the context of the caller and
//     never repeats a request that already reached the server.
//
//   - IRPCServerTransport: Server side. It receives requests and routes them to the
//     registered ServerHandleFunc. Listen blocks until Close.
//
// Implementations: base (shared stream logic), tcp, unix and http.
package transport
