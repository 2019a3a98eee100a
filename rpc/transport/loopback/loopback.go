package loopback

import (
	"context"
	"sync"

	"github.com/ValentinKolb/dORM/rpc/common"
	"github.com/ValentinKolb/dORM/rpc/transport"
)

// Loopback connects a client and a server transport inside one process.
// Requests are handed to the registered handler directly, no bytes leave the process.
//
// Usage:
//
//	lb := loopback.New()
//	srv := server.NewRPCServer(config, lb.Server(), serializer.NewBinarySerializer())
//	go srv.Serve()
//	client.NewRPCPersistentStore(100, clientConfig, lb.Client(), serializer.NewBinarySerializer())
type Loopback struct {
	mu      sync.RWMutex
	handler transport.ServerHandleFunc
	done    chan struct{}
	once    sync.Once
}

// New creates a loopback transport
func New() *Loopback {
	return &Loopback{done: make(chan struct{})}
}

// Server returns the loopback as server transport
func (l *Loopback) Server() transport.IRPCServerTransport {
	return serverSide{l}
}

// Client returns the loopback as client transport
func (l *Loopback) Client() transport.IRPCClientTransport {
	return clientSide{l}
}

func (l *Loopback) handle(shardId uint64, req []byte) ([]byte, error) {
	l.mu.RLock()
	handler := l.handler
	l.mu.RUnlock()
	if handler == nil {
		return nil, transport.ErrClosed
	}
	// the server side may keep references to the request
	buf := make([]byte, len(req))
	copy(buf, req)
	return handler(shardId, buf), nil
}

// --------------------------------------------------------------------------
// Server side (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

type serverSide struct {
	l *Loopback
}

func (s serverSide) RegisterHandler(handler transport.ServerHandleFunc) {
	s.l.mu.Lock()
	s.l.handler = handler
	s.l.mu.Unlock()
}

func (s serverSide) Listen(_ common.ServerConfig) error {
	<-s.l.done
	return nil
}

func (s serverSide) Close() error {
	s.l.once.Do(func() {
		s.l.mu.Lock()
		s.l.handler = nil
		s.l.mu.Unlock()
		close(s.l.done)
	})
	return nil
}

// --------------------------------------------------------------------------
// Client side (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

type clientSide struct {
	l *Loopback
}

func (c clientSide) Connect(_ common.ClientConfig) error {
	return nil
}

func (c clientSide) Send(ctx context.Context, shardId uint64, req []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.l.handle(shardId, req)
}

func (c clientSide) Close() error {
	return nil
}
