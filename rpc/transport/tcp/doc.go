// Package tcp implements the TCP socket transport of the rpc layer. It provides
// the connectors for the base package, which implements framing, connection
// pooling and request routing.
//
// Socket options (TCP_NODELAY, keep-alive, linger, buffer sizes) are applied to
// both sides of a connection from common.TCPConf and common.SocketConf.
package tcp
