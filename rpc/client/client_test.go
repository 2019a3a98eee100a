package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/ValentinKolb/dORM/lib/store"
	storetesting "github.com/ValentinKolb/dORM/lib/store/testing"
	"github.com/ValentinKolb/dORM/rpc/common"
	"github.com/ValentinKolb/dORM/rpc/serializer"
	"github.com/ValentinKolb/dORM/rpc/server"
	"github.com/ValentinKolb/dORM/rpc/transport/loopback"
	"github.com/ValentinKolb/dORM/rpc/transport/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	persistentShard = 100
	volatileShard   = 200
)

func testServerConfig() common.ServerConfig {
	return common.ServerConfig{
		Shards: []common.ServerShard{
			{ShardID: persistentShard, Type: common.ShardTypeLocalPersistent},
			{ShardID: volatileShard, Type: common.ShardTypeVolatile},
		},
		TimeoutSecond: 5,
		LogLevel:      "error",
	}
}

func testClientConfig(endpoints ...string) common.ClientConfig {
	return common.ClientConfig{
		TimeoutSecond: 5,
		Transport: common.ClientTransportConfig{
			Endpoints:              endpoints,
			RetryCount:             2,
			ConnectionsPerEndpoint: 2,
		},
	}
}

// startLoopback starts a server with a fresh set of shards on a loopback transport
func startLoopback(t *testing.T, s serializer.IRPCSerializer) *loopback.Loopback {
	lb := loopback.New()
	srv := server.NewRPCServer(testServerConfig(), lb.Server(), s)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Close() })
	return lb
}

func TestRPCStoresLoopback(t *testing.T) {
	serializers := map[string]func() serializer.IRPCSerializer{
		"Binary": serializer.NewBinarySerializer,
		"JSON":   serializer.NewJSONSerializer,
		"GOB":    serializer.NewGOBSerializer,
	}

	for name, newSerializer := range serializers {
		storetesting.RunPersistentStoreTests(t, "RPCPersistentStore/"+name, func(t *testing.T) store.IPersistentStore {
			lb := startLoopback(t, newSerializer())
			s, err := NewRPCPersistentStore(persistentShard, testClientConfig(), lb.Client(), newSerializer())
			require.NoError(t, err)
			return s
		})

		storetesting.RunVolatileStoreTests(t, "RPCVolatileStore/"+name, func(t *testing.T) store.IVolatileStore {
			lb := startLoopback(t, newSerializer())
			s, err := NewRPCVolatileStore(volatileShard, testClientConfig(), lb.Client(), newSerializer())
			require.NoError(t, err)
			return s
		})
	}
}

func TestRPCStoresTCP(t *testing.T) {
	config := testServerConfig()
	config.Transport.Endpoint = "127.0.0.1:0"

	serverTransport := tcp.NewTCPServerTransport()
	srv := server.NewRPCServer(config, serverTransport, serializer.NewBinarySerializer())
	require.NoError(t, srv.Start())

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	addrOf := serverTransport.(interface{ Addr() net.Addr })
	require.Eventually(t, func() bool { return addrOf.Addr() != nil }, 2*time.Second, 10*time.Millisecond)
	endpoint := addrOf.Addr().String()

	ctx := context.Background()

	persistent, err := NewRPCPersistentStore(persistentShard, testClientConfig(endpoint), tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
	require.NoError(t, err)
	volatile, err := NewRPCVolatileStore(volatileShard, testClientConfig(endpoint), tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
	require.NoError(t, err)

	require.NoError(t, persistent.Set(ctx, "ovs_data_disk_1", []byte(`{"name":"sda"}`)))
	value, err := persistent.Get(ctx, "ovs_data_disk_1")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"sda"}`, string(value))

	for _, key := range []string{"ovs_data_disk_2", "ovs_data_disk_3"} {
		require.NoError(t, persistent.Set(ctx, key, []byte("{}")))
	}
	keys, err := store.CollectKeys(persistent.Prefix(ctx, "ovs_data_disk_"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ovs_data_disk_1", "ovs_data_disk_2", "ovs_data_disk_3"}, keys)

	n, err := volatile.Incr(ctx, "ovs_stats_dynamic_disk_size_hit", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	info, err := persistent.(store.IDBInfoProvider).GetDBInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, info.Entries)

	require.NoError(t, srv.Close())
	select {
	case err := <-serveErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	// the server is gone, requests fail as unavailable
	_, err = persistent.Get(ctx, "ovs_data_disk_1")
	assert.True(t, errors.Is(err, store.ErrUnavailable), "expected Unavailable, got %v", err)
}

func TestRPCErrors(t *testing.T) {
	ctx := context.Background()
	lb := startLoopback(t, serializer.NewBinarySerializer())

	t.Run("missing key keeps code and key", func(t *testing.T) {
		s, err := NewRPCPersistentStore(persistentShard, testClientConfig(), lb.Client(), serializer.NewBinarySerializer())
		require.NoError(t, err)
		require.NoError(t, s.Set(ctx, "present", []byte("x")))

		_, err = s.GetMulti(ctx, []string{"present", "absent"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, store.ErrNotFound))
		var storeErr *store.Error
		require.True(t, errors.As(err, &storeErr))
		assert.Equal(t, "absent", storeErr.Key)
	})

	t.Run("unknown shard", func(t *testing.T) {
		s, err := NewRPCPersistentStore(999, testClientConfig(), lb.Client(), serializer.NewBinarySerializer())
		require.NoError(t, err)
		_, err = s.Get(ctx, "x")
		var storeErr *store.Error
		require.True(t, errors.As(err, &storeErr))
		assert.Equal(t, store.RetCInvalidOperation, storeErr.Code)
	})

	t.Run("volatile request on persistent shard", func(t *testing.T) {
		s, err := NewRPCVolatileStore(persistentShard, testClientConfig(), lb.Client(), serializer.NewBinarySerializer())
		require.NoError(t, err)
		_, _, err = s.Get(ctx, "x")
		var storeErr *store.Error
		require.True(t, errors.As(err, &storeErr))
		assert.Equal(t, store.RetCUnsupportedOperation, storeErr.Code)
	})

	t.Run("closed transport is unavailable", func(t *testing.T) {
		closed := loopback.New()
		require.NoError(t, closed.Server().Close())
		s, err := NewRPCVolatileStore(volatileShard, testClientConfig(), closed.Client(), serializer.NewBinarySerializer())
		require.NoError(t, err)
		err = s.Set(ctx, "x", []byte("1"), 0)
		assert.True(t, errors.Is(err, store.ErrUnavailable))
	})
}
