package dstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dORM/lib/db"
	"github.com/ValentinKolb/dORM/lib/store"
	"github.com/ValentinKolb/dORM/lib/store/dstore/internal"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger("store")
)

// storeImpl is the concrete implementation of the persistent store on top of raft.
// It encapsulates a Dragonboat NodeHost which is used to communicate with the state machine.
type storeImpl struct {
	nh       *dragonboat.NodeHost
	shardID  uint64
	cs       *client.Session
	timeout  time.Duration
	pageSize int
}

// NewDistributedStore creates a new distributed store instance which uses raft consensus to ensure strict linearizability
// across multiple nodes.
func NewDistributedStore(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) store.IPersistentStore {
	cs := nh.GetNoOPSession(shardID)
	return &storeImpl{
		nh:       nh,
		shardID:  shardID,
		cs:       cs,
		timeout:  timeout,
		pageSize: store.DefaultPageSize,
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// retryable reports whether dragonboat rejected the request before it was proposed.
// Only those requests can be retried without risking a double apply.
func retryable(err error) bool {
	return errors.Is(err, dragonboat.ErrSystemBusy) || errors.Is(err, dragonboat.ErrShardNotReady)
}

// toStoreError maps dragonboat and context errors to store errors
func toStoreError(err error) error {
	var storeErr *store.Error
	switch {
	case errors.As(err, &storeErr):
		return storeErr
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, dragonboat.ErrTimeout),
		errors.Is(err, dragonboat.ErrShardNotReady),
		errors.Is(err, dragonboat.ErrShardNotFound),
		errors.Is(err, dragonboat.ErrClosed),
		errors.Is(err, dragonboat.ErrSystemBusy):
		return store.NewError(store.RetCUnavailable, err.Error())
	default:
		return store.NewError(store.RetCInternalError, err.Error())
	}
}

// wait sleeps between two attempts unless the context is done first
func (s *storeImpl) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return store.FromContext(ctx)
	case <-time.After(s.timeout / 10):
		return nil
	}
}

// write serializes a Command and sends it via SyncPropose.
// It returns a *store.Error if an error occurs, or nil on success.
func (s *storeImpl) write(ctx context.Context, cmd internal.Command) error {
	if err := store.FromContext(ctx); err != nil {
		return err
	}
	data := cmd.Serialize()

	var lastErr error
	for i := 0; i < retries; i++ {
		proposeCtx, cancel := context.WithTimeout(ctx, s.timeout)
		res, err := s.nh.SyncPropose(proposeCtx, s.cs, data)
		cancel()

		// Check for system busy errors
		if retryable(err) {
			lastErr = err
			log.Infof("SyncPropose: %v, retrying (%d/%d)...", err, i+1, retries)
			if err := s.wait(ctx); err != nil {
				return err
			}
			continue
		}

		if err != nil {
			return toStoreError(err)
		}
		if res.Value != uint64(store.RetCSuccess) {
			return store.NewError(store.RetCode(res.Value), string(res.Data))
		}
		return nil
	}
	log.Warningf("SyncPropose: giving up after %d attempts: %v", retries, lastErr)
	return toStoreError(lastErr)
}

// read is a generic helper function that queries the state machine
// and attempts to convert the response into the expected type R.
//
// This function uses the SyncRead function (dragonboat) by default to Query the state machine.
// If linearizability is not required, the stale parameter can be set to true to use the faster StaleRead function.
//
// If the read operation fails due to a system busy error, the function retries up to 5 times.
//
// It returns the response of type R and an error (nil on success).
func read[R any](ctx context.Context, r *storeImpl, q internal.Query, stale bool) (R, error) {
	var zero R
	if err := store.FromContext(ctx); err != nil {
		return zero, err
	}

	var lastErr error
	for i := 0; i < retries; i++ {

		var res interface{}
		var err error

		// Query the state machine, use StaleRead if stale is set otherwise use SyncRead (default)
		if stale {
			res, err = r.nh.StaleRead(r.shardID, q)
		} else {
			readCtx, cancel := context.WithTimeout(ctx, r.timeout)
			res, err = r.nh.SyncRead(readCtx, r.shardID, q)
			cancel()
		}

		// Check for system busy errors
		if retryable(err) {
			lastErr = err
			log.Infof("SyncRead: %v, retrying (%d/%d)...", err, i+1, retries)
			if err := r.wait(ctx); err != nil {
				return zero, err
			}
			continue
		}

		if err != nil {
			return zero, toStoreError(err)
		}

		// The state machine is expected to return the response in the expected type R.
		casted, ok := res.(R)
		if !ok {
			return zero, store.NewError(store.RetCInternalError,
				fmt.Sprintf("unexpected type: received %T, expected %T", res, zero))
		}
		return casted, nil
	}
	log.Warningf("SyncRead: giving up after %d attempts: %v", retries, lastErr)
	return zero, toStoreError(lastErr)
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Get(ctx context.Context, key string) ([]byte, error) {
	res, err := read[internal.QueryResult](ctx, s, internal.Query{
		Type: internal.QueryTGet,
		Key:  key,
	}, false)
	if err != nil {
		return nil, err
	}
	if !res.Ok {
		return nil, store.NewKeyError(store.RetCNotFound, key, "key not found")
	}
	return res.Value, nil
}

func (s *storeImpl) GetMulti(ctx context.Context, keys []string) ([][]byte, error) {
	res, err := read[internal.MultiQueryResult](ctx, s, internal.Query{
		Type: internal.QueryTGetMulti,
		Keys: keys,
	}, false)
	if err != nil {
		return nil, err
	}
	if !res.Ok {
		return nil, store.NewKeyError(store.RetCNotFound, res.Missing, "key not found")
	}
	return res.Values, nil
}

func (s *storeImpl) PrefixEntries(ctx context.Context, prefix string) store.EntryIterator {
	return s.scan(ctx, prefix, false)
}

func (s *storeImpl) Prefix(ctx context.Context, prefix string) store.EntryIterator {
	return s.scan(ctx, prefix, true)
}

// scan pages through the prefix range with one linearizable read per page
func (s *storeImpl) scan(ctx context.Context, prefix string, keysOnly bool) store.EntryIterator {
	return store.NewPagedIterator(ctx, func(ctx context.Context, after string) ([]db.Entry, error) {
		return s.ScanPage(ctx, prefix, after, s.pageSize, keysOnly)
	})
}

func (s *storeImpl) ScanPage(ctx context.Context, prefix, after string, limit int, keysOnly bool) ([]db.Entry, error) {
	return read[[]db.Entry](ctx, s, internal.Query{
		Type:     internal.QueryTScan,
		Prefix:   prefix,
		After:    after,
		Limit:    limit,
		KeysOnly: keysOnly,
	}, false)
}

func (s *storeImpl) Set(ctx context.Context, key string, value []byte) error {
	return s.write(ctx, internal.Command{
		Type: internal.CommandTApply,
		Ops:  []db.Op{{Type: db.OpSet, Key: key, Value: value}},
	})
}

func (s *storeImpl) Delete(ctx context.Context, key string) error {
	return s.write(ctx, internal.Command{
		Type: internal.CommandTApply,
		Ops:  []db.Op{{Type: db.OpDelete, Key: key}},
	})
}

func (s *storeImpl) Begin() *store.Transaction {
	return store.NewTransaction()
}

func (s *storeImpl) Apply(ctx context.Context, txn *store.Transaction) error {
	if txn == nil || txn.Len() == 0 {
		return store.FromContext(ctx)
	}
	return s.write(ctx, internal.Command{
		Type: internal.CommandTApply,
		Ops:  txn.Ops,
	})
}

// GetDBInfo returns information about the database of the local replica.
// The read is stale, the info may lag behind the leader.
func (s *storeImpl) GetDBInfo(ctx context.Context) (db.DatabaseInfo, error) {
	return read[db.DatabaseInfo](
		ctx,
		s,
		internal.Query{
			Type: internal.QueryTGetDBInfo,
		},
		true, // Note: allow for stale reads
	)
}
