package client

import (
	"context"
	"encoding/json"

	"github.com/ValentinKolb/dORM/lib/db"
	"github.com/ValentinKolb/dORM/lib/store"
	"github.com/ValentinKolb/dORM/rpc/common"
	"github.com/ValentinKolb/dORM/rpc/serializer"
	"github.com/ValentinKolb/dORM/rpc/transport"
)

// NewRPCPersistentStore creates a persistent store that forwards every operation to a remote shard.
// The transport is connected before the store is returned.
func NewRPCPersistentStore(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.IPersistentStore, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &rpcPersistentStore{
		rpcClientAdapter: rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
		pageSize: store.DefaultPageSize,
	}, nil
}

type rpcPersistentStore struct {
	rpcClientAdapter
	pageSize int
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (s *rpcPersistentStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.invoke(ctx, common.NewGetRequest(key))
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

func (s *rpcPersistentStore) GetMulti(ctx context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return [][]byte{}, store.FromContext(ctx)
	}
	resp, err := s.invoke(ctx, common.NewGetMultiRequest(keys))
	if err != nil {
		return nil, err
	}
	if len(resp.Values) != len(keys) {
		return nil, store.NewError(store.RetCInternalError, "number of values does not match the number of keys")
	}
	return resp.Values, nil
}

func (s *rpcPersistentStore) PrefixEntries(ctx context.Context, prefix string) store.EntryIterator {
	return s.scan(ctx, prefix, false)
}

func (s *rpcPersistentStore) Prefix(ctx context.Context, prefix string) store.EntryIterator {
	return s.scan(ctx, prefix, true)
}

// scan reads the range page by page, every page is one request
func (s *rpcPersistentStore) scan(ctx context.Context, prefix string, keysOnly bool) store.EntryIterator {
	return store.NewPagedIterator(ctx, func(ctx context.Context, after string) ([]db.Entry, error) {
		return s.ScanPage(ctx, prefix, after, s.pageSize, keysOnly)
	})
}

func (s *rpcPersistentStore) ScanPage(ctx context.Context, prefix, after string, limit int, keysOnly bool) ([]db.Entry, error) {
	resp, err := s.invoke(ctx, common.NewScanRequest(prefix, after, limit, keysOnly))
	if err != nil {
		return nil, err
	}
	return resp.Entries(), nil
}

func (s *rpcPersistentStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.invoke(ctx, common.NewSetRequest(key, value))
	return err
}

func (s *rpcPersistentStore) Delete(ctx context.Context, key string) error {
	_, err := s.invoke(ctx, common.NewDeleteRequest(key))
	return err
}

func (s *rpcPersistentStore) Begin() *store.Transaction {
	return store.NewTransaction()
}

func (s *rpcPersistentStore) Apply(ctx context.Context, txn *store.Transaction) error {
	if txn == nil || txn.Len() == 0 {
		return store.FromContext(ctx)
	}
	_, err := s.invoke(ctx, common.NewApplyRequest(txn.Ops))
	return err
}

func (s *rpcPersistentStore) GetDBInfo(ctx context.Context) (db.DatabaseInfo, error) {
	return s.info(ctx, common.MsgTPInfo)
}

// info requests the database info of the remote shard
func (a *rpcClientAdapter) info(ctx context.Context, msgType common.MessageType) (db.DatabaseInfo, error) {
	var info db.DatabaseInfo
	resp, err := a.invoke(ctx, common.NewInfoRequest(msgType))
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(resp.Value, &info); err != nil {
		return info, store.NewError(store.RetCInternalError, err.Error())
	}
	return info, nil
}
