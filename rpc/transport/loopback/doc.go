// Package loopback implements an in-process rpc transport. The client side
// calls the handler registered by the server side directly. It is used to run
// the rpc stack without sockets, mainly in tests and for an embedded server.
package loopback
