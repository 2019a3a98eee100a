package server

import (
	"context"

	"github.com/ValentinKolb/dORM/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters.
// An adapter translates requests into calls of the store it wraps.
type IRPCServerAdapter interface {
	// Handle handles a request and returns a response.
	// Errors of the store are returned inside the response (Code, Key and Err).
	Handle(ctx context.Context, req *common.Message) (resp *common.Message)
}
