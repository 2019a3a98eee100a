package server

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dORM/lib/store"
	"github.com/ValentinKolb/dORM/rpc/common"
)

// NewVolatileServerAdapter creates an adapter that serves a volatile store
func NewVolatileServerAdapter(s store.IVolatileStore) IRPCServerAdapter {
	return &volatileServerAdapter{store: s}
}

type volatileServerAdapter struct {
	store store.IVolatileStore
}

func (a *volatileServerAdapter) Handle(ctx context.Context, req *common.Message) *common.Message {
	if a.store == nil {
		return common.NewErrorResponse(store.RetCInternalError, "handler: store is nil")
	}

	switch req.MsgType {
	case common.MsgTVGet:
		value, ok, err := a.store.Get(ctx, req.Key)
		resp := common.NewResponse(req.MsgType, err)
		resp.Value, resp.Ok = value, ok
		return resp

	case common.MsgTVSet:
		return common.NewResponse(req.MsgType, a.store.Set(ctx, req.Key, req.Value, req.TTL()))

	case common.MsgTVAdd:
		ok, err := a.store.Add(ctx, req.Key, req.Value, req.TTL())
		resp := common.NewResponse(req.MsgType, err)
		resp.Ok = ok
		return resp

	case common.MsgTVDelete:
		return common.NewResponse(req.MsgType, a.store.Delete(ctx, req.Key))

	case common.MsgTVIncr:
		value, err := a.store.Incr(ctx, req.Key, req.Delta)
		resp := common.NewResponse(req.MsgType, err)
		resp.Delta = value
		return resp

	case common.MsgTVInfo:
		provider, ok := a.store.(store.IDBInfoProvider)
		if !ok {
			return common.NewErrorResponse(store.RetCUnsupportedOperation, "store does not provide db info")
		}
		info, err := provider.GetDBInfo(ctx)
		return common.NewInfoResponse(req.MsgType, info, err)

	default:
		return common.NewErrorResponse(
			store.RetCUnsupportedOperation,
			fmt.Sprintf("volatile shard: unsupported message type: %s", req.MsgType),
		)
	}
}
