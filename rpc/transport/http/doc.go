// Package http implements the rpc transport over HTTP. Every request is a
// POST /{shardId} with the serialized message as body, the response body is
// the serialized answer.
//
// Key Components:
//
//   - httpClientTransport: Round-robin over all endpoints. Only requests that
//     failed to connect are retried on the next endpoint.
//
//   - httpServerTransport: An http.Server routing requests to the handler by
//     shard id. With log level debug every request is logged with its duration.
//
// Thread Safety:
//
//	The client transport is thread-safe and can be used concurrently.
package http
