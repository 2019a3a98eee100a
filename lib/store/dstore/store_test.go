package dstore

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dORM/lib/db"
	"github.com/ValentinKolb/dORM/lib/db/engines/birch"
	"github.com/ValentinKolb/dORM/lib/store"
	storetesting "github.com/ValentinKolb/dORM/lib/store/testing"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/config"
	"github.com/stretchr/testify/require"
)

// freeAddress returns a local address with a currently unused port
func freeAddress(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// startSingleNodeStore starts a single replica raft shard and returns a store connected to it
func startSingleNodeStore(t *testing.T) store.IPersistentStore {
	const shardID, replicaID = 1, 1

	dir := t.TempDir()
	addr := freeAddress(t)

	nh, err := dragonboat.NewNodeHost(config.NodeHostConfig{
		WALDir:         filepath.Join(dir, "wal"),
		NodeHostDir:    filepath.Join(dir, "nh"),
		RTTMillisecond: 5,
		RaftAddress:    addr,
	})
	require.NoError(t, err)
	t.Cleanup(nh.Close)

	err = nh.StartConcurrentReplica(
		map[uint64]string{replicaID: addr},
		false,
		CreateStateMachineFactory(func() db.KVDB { return birch.NewBirchDB(nil) }),
		config.Config{
			ReplicaID:    replicaID,
			ShardID:      shardID,
			ElectionRTT:  10,
			HeartbeatRTT: 1,
			CheckQuorum:  true,
		},
	)
	require.NoError(t, err)

	s := NewDistributedStore(nh, shardID, 3*time.Second)

	// wait for the leader election
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return s.Set(ctx, "__ready", []byte{1}) == nil
	}, 20*time.Second, 100*time.Millisecond)
	require.NoError(t, s.Delete(context.Background(), "__ready"))

	return s
}

func TestDistributedStore(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a raft node host")
	}

	shards := 0
	storetesting.RunPersistentStoreTests(t, "DistributedStore", func(t *testing.T) store.IPersistentStore {
		shards++
		t.Logf("starting raft shard %d", shards)
		return startSingleNodeStore(t)
	})
}

func TestDistributedStoreInfo(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a raft node host")
	}

	s := startSingleNodeStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Set(ctx, fmt.Sprintf("k%d", i), []byte("v")))
	}

	provider, ok := s.(store.IDBInfoProvider)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		info, err := provider.GetDBInfo(ctx)
		return err == nil && info.Entries == 3 && info.DbType == db.ImplBirch
	}, 5*time.Second, 50*time.Millisecond)
}
