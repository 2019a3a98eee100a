// Package unix implements the rpc transport over Unix domain sockets, for a
// server and its clients on the same machine (for example one cache server shared
// by several worker processes).
//
// The package only provides connectors, framing, connection pooling and request
// routing are inherited from the base package. A stale socket file of a previous
// run is removed before listening.
package unix
