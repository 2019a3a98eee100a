// Package base carries encoded store messages over a byte stream. The tcp and unix
// transports are thin connectors on top of it: they dial, listen and tune sockets,
// everything else happens here.
//
// Every request and response travels in one frame:
//
//	8 bytes  shard id    (which persistent or volatile store of the server is meant)
//	8 bytes  request id  (unique per client transport, echoed by the server)
//	4 bytes  length
//	N bytes  payload     (a common.Message encoded by an rpc/serializer)
//
// Header and payload are written with a single net.Buffers write.
//
// On the client, a transport keeps ConnectionsPerEndpoint connections per endpoint and
// picks one round-robin for each request. Responses are matched to waiting callers by
// request id, so one connection carries many requests at once, e.g. the GetMulti of a
// list load next to the asserted transaction of a save. A connection that broke is
// dialed again by the next request that picks it. Only requests that were never
// written are retried with backoff. A written transaction may already be applied and
// is not sent twice, so the caller sees the error and decides (the data access layer
// re-reads and re-merges).
//
// On the server, every connection gets its own goroutine that reads frames into pooled
// buffers and hands them to the registered handler. WorkersPerConn bounds the requests
// in flight per connection. Responses are written under a per connection lock in the
// order they finish, not the order they arrived.
//
// Waiting for the next header is not bounded, idle clients are fine. Once a header
// arrived, the payload and the response write are bounded by the configured timeout.
package base
