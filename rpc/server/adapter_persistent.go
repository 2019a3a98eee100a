package server

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dORM/lib/db"
	"github.com/ValentinKolb/dORM/lib/store"
	"github.com/ValentinKolb/dORM/rpc/common"
)

// maxPageSize bounds the page size a client may request with a single scan
const maxPageSize = 4096

// NewPersistentServerAdapter creates an adapter that serves a persistent store
func NewPersistentServerAdapter(s store.IPersistentStore) IRPCServerAdapter {
	return &persistentServerAdapter{store: s}
}

type persistentServerAdapter struct {
	store store.IPersistentStore
}

func (a *persistentServerAdapter) Handle(ctx context.Context, req *common.Message) *common.Message {
	if a.store == nil {
		return common.NewErrorResponse(store.RetCInternalError, "handler: store is nil")
	}

	switch req.MsgType {
	case common.MsgTPGet:
		value, err := a.store.Get(ctx, req.Key)
		resp := common.NewResponse(req.MsgType, err)
		resp.Value = value
		return resp

	case common.MsgTPGetMulti:
		values, err := a.store.GetMulti(ctx, req.Keys)
		resp := common.NewResponse(req.MsgType, err)
		resp.Values = values
		return resp

	case common.MsgTPScan:
		limit := int(req.Limit)
		if limit <= 0 || limit > maxPageSize {
			limit = store.DefaultPageSize
		}
		page, err := store.ScanPage(ctx, a.store, req.Key, req.After, limit, req.KeysOnly)
		return common.NewScanResponse(page, req.KeysOnly, err)

	case common.MsgTPSet:
		return common.NewResponse(req.MsgType, a.store.Set(ctx, req.Key, req.Value))

	case common.MsgTPDelete:
		return common.NewResponse(req.MsgType, a.store.Delete(ctx, req.Key))

	case common.MsgTPApply:
		txn := a.store.Begin()
		for _, op := range req.Ops {
			switch op.Type {
			case db.OpSet:
				txn.Set(op.Key, op.Value)
			case db.OpDelete:
				txn.Delete(op.Key)
			case db.OpAssert:
				txn.Assert(op.Key, op.Value)
			case db.OpAssertAbsent:
				txn.AssertAbsent(op.Key)
			default:
				return common.NewErrorResponse(store.RetCInvalidOperation, fmt.Sprintf("invalid op type %d", op.Type))
			}
		}
		return common.NewResponse(req.MsgType, a.store.Apply(ctx, txn))

	case common.MsgTPInfo:
		provider, ok := a.store.(store.IDBInfoProvider)
		if !ok {
			return common.NewErrorResponse(store.RetCUnsupportedOperation, "store does not provide db info")
		}
		info, err := provider.GetDBInfo(ctx)
		return common.NewInfoResponse(req.MsgType, info, err)

	default:
		return common.NewErrorResponse(
			store.RetCUnsupportedOperation,
			fmt.Sprintf("persistent shard: unsupported message type: %s", req.MsgType),
		)
	}
}
