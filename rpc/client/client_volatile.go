package client

import (
	"context"
	"time"

	"github.com/ValentinKolb/dORM/lib/db"
	"github.com/ValentinKolb/dORM/lib/store"
	"github.com/ValentinKolb/dORM/rpc/common"
	"github.com/ValentinKolb/dORM/rpc/serializer"
	"github.com/ValentinKolb/dORM/rpc/transport"
)

// NewRPCVolatileStore creates a volatile store that forwards every operation to a remote cache shard.
// The transport is connected before the store is returned.
func NewRPCVolatileStore(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.IVolatileStore, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &rpcVolatileStore{
		rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

type rpcVolatileStore struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (s *rpcVolatileStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := s.invoke(ctx, common.NewVolatileGetRequest(key))
	if err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Ok, nil
}

func (s *rpcVolatileStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.invoke(ctx, common.NewVolatileSetRequest(key, value, ttl))
	return err
}

func (s *rpcVolatileStore) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	resp, err := s.invoke(ctx, common.NewVolatileAddRequest(key, value, ttl))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (s *rpcVolatileStore) Delete(ctx context.Context, key string) error {
	_, err := s.invoke(ctx, common.NewVolatileDeleteRequest(key))
	return err
}

func (s *rpcVolatileStore) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	resp, err := s.invoke(ctx, common.NewVolatileIncrRequest(key, delta))
	if err != nil {
		return 0, err
	}
	return resp.Delta, nil
}

func (s *rpcVolatileStore) GetDBInfo(ctx context.Context) (db.DatabaseInfo, error) {
	return s.info(ctx, common.MsgTVInfo)
}
