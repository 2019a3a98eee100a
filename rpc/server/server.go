package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/ValentinKolb/dORM/lib/db"
	"github.com/ValentinKolb/dORM/lib/db/engines/birch"
	"github.com/ValentinKolb/dORM/lib/db/engines/maple"
	"github.com/ValentinKolb/dORM/lib/store"
	"github.com/ValentinKolb/dORM/lib/store/bstore"
	"github.com/ValentinKolb/dORM/lib/store/dstore"
	"github.com/ValentinKolb/dORM/lib/store/lstore"
	"github.com/ValentinKolb/dORM/lib/store/mstore"
	"github.com/ValentinKolb/dORM/rpc/common"
	"github.com/ValentinKolb/dORM/rpc/serializer"
	"github.com/ValentinKolb/dORM/rpc/transport"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rcrowley/go-metrics"
)

var Logger = logger.GetLogger("rpc")

// defaultTimeout is used for requests if the config has no timeout
const defaultTimeout = 5 * time.Second

// serverShard is a shard of the RPC server.
// It holds the adapter that handles the requests for the store of the shard.
type serverShard struct {
	Type    common.ServerShardType
	Adapter IRPCServerAdapter
}

// RPCServer serves persistent stores and volatile caches to remote clients.
// Every shard is one store, identified by its shard id.
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]
	registry   metrics.Registry
	timeout    time.Duration

	mu       sync.Mutex
	started  bool
	nodeHost *dragonboat.NodeHost
	closers  []io.Closer
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	timeout := time.Duration(config.TimeoutSecond) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, serverShard](),
		registry:   metrics.NewRegistry(),
		timeout:    timeout,
	}
}

// Registry returns the metrics registry with the operation timers of all shards.
// The metrics of shard 100 are named shard.100.<op>.
func (s *RPCServer) Registry() metrics.Registry {
	return s.registry
}

// Start creates all shards and registers the request handler at the transport.
// It does not block. Serve calls Start if it was not called before.
func (s *RPCServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if err := s.config.Validate(); err != nil {
		return err
	}

	Logger.Infof("Starting RPC Server")
	Logger.Infof(s.config.String())

	if err := s.initShards(); err != nil {
		s.closeStoresLocked()
		return err
	}
	s.registerTransportHandler()
	s.started = true

	Logger.Infof("dORM setup completed successfully")
	return nil
}

// Serve starts the server and blocks until the transport is closed
func (s *RPCServer) Serve() error {
	if err := s.Start(); err != nil {
		return err
	}
	return s.transport.Listen(s.config)
}

// Close stops the transport and closes all stores
func (s *RPCServer) Close() error {
	err := s.transport.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(err, s.closeStoresLocked())
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// initShards creates the store of every configured shard
func (s *RPCServer) initShards() error {
	/*
		Note: A single RPC Server can serve any number of persistent and volatile shards.
		Raft replicated shards share one NodeHost, badger shards get their own
		directory below the data dir. Every store is wrapped with a metered store.
	*/

	if s.config.HasRaftShard() {
		nodeHost, err := dragonboat.NewNodeHost(s.config.ToNodeHostConfig())
		if err != nil {
			return fmt.Errorf("failed to create node host: %w", err)
		}
		s.nodeHost = nodeHost
	}

	for _, shardConfig := range s.config.Shards {
		prefix := "shard." + strconv.FormatUint(shardConfig.ShardID, 10)

		var adapter IRPCServerAdapter
		switch shardConfig.Type {
		case common.ShardTypeLocalPersistent:
			st := lstore.NewLocalStore(func() db.KVDB { return birch.NewBirchDB(nil) })
			adapter = NewPersistentServerAdapter(mstore.NewMeteredStore(st, s.registry, prefix))

		case common.ShardTypeBadgerPersistent:
			dir := filepath.Join(s.config.DataDir, "badger", strconv.FormatUint(shardConfig.ShardID, 10))
			st, err := bstore.Open(bstore.DefaultOptions(dir))
			if err != nil {
				return fmt.Errorf("failed to open badger store for shard %d: %w", shardConfig.ShardID, err)
			}
			s.closers = append(s.closers, st)
			adapter = NewPersistentServerAdapter(mstore.NewMeteredStore(st, s.registry, prefix))

		case common.ShardTypeRaftPersistent:
			factory := dstore.CreateStateMachineFactory(func() db.KVDB { return birch.NewBirchDB(nil) })
			if err := s.nodeHost.StartConcurrentReplica(s.config.ClusterMembers, false, factory, s.config.ToDragonboatConfig(shardConfig.ShardID)); err != nil {
				return fmt.Errorf("failed to start shard %d: %w", shardConfig.ShardID, err)
			}
			st := dstore.NewDistributedStore(s.nodeHost, shardConfig.ShardID, s.timeout)
			adapter = NewPersistentServerAdapter(mstore.NewMeteredStore(st, s.registry, prefix))

		case common.ShardTypeVolatile:
			st := lstore.NewLocalVolatileStore(func() db.TTLKVDB { return maple.NewMapleDB(nil) })
			adapter = NewVolatileServerAdapter(mstore.NewMeteredVolatileStore(st, s.registry, prefix))

		default:
			return fmt.Errorf("invalid shard type: %s", shardConfig.Type)
		}

		s.shards.Store(shardConfig.ShardID, serverShard{Type: shardConfig.Type, Adapter: adapter})
		Logger.Infof("created %s for shard %d", shardConfig.Type, shardConfig.ShardID)
	}
	return nil
}

// closeStoresLocked closes badger stores and the node host. s.mu must be held.
func (s *RPCServer) closeStoresLocked() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	s.closers = nil
	if s.nodeHost != nil {
		s.nodeHost.Close()
		s.nodeHost = nil
	}
	return errors.Join(errs...)
}

func (s *RPCServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(shardId uint64, req []byte) []byte {
		return s.encode(s.handle(shardId, req))
	})
}

// handle decodes a request and lets the adapter of the shard process it
func (s *RPCServer) handle(shardId uint64, req []byte) *common.Message {
	// Get appropriate shard
	shard, ok := s.shards.Load(shardId)
	if !ok {
		return common.NewErrorResponse(store.RetCInvalidOperation, fmt.Sprintf("shard %d not found", shardId))
	}

	var msg common.Message
	if err := s.serializer.Deserialize(req, &msg); err != nil {
		return common.NewErrorResponse(store.RetCInvalidOperation, fmt.Sprintf("failed to deserialize request: %s", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return shard.Adapter.Handle(ctx, &msg)
}

// encode serializes a response, if that fails an error response is sent instead
func (s *RPCServer) encode(resp *common.Message) []byte {
	val, err := s.serializer.Serialize(*resp)
	if err != nil {
		Logger.Errorf("failed to serialize response: %v", err)
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(
			store.RetCInternalError, fmt.Sprintf("failed to serialize response: %s", err)))
	}
	return val
}
