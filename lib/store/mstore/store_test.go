package mstore

import (
	"bytes"
	"context"
	"testing"

	"github.com/ValentinKolb/dORM/lib/db"
	"github.com/ValentinKolb/dORM/lib/db/engines/birch"
	"github.com/ValentinKolb/dORM/lib/db/engines/maple"
	"github.com/ValentinKolb/dORM/lib/store"
	"github.com/ValentinKolb/dORM/lib/store/lstore"
	storetesting "github.com/ValentinKolb/dORM/lib/store/testing"
	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPersistent(registry metrics.Registry) store.IPersistentStore {
	return NewMeteredStore(lstore.NewLocalStore(func() db.KVDB { return birch.NewBirchDB(nil) }), registry, "persistent")
}

func newVolatile(registry metrics.Registry) store.IVolatileStore {
	return NewMeteredVolatileStore(lstore.NewLocalVolatileStore(func() db.TTLKVDB { return maple.NewMapleDB(nil) }), registry, "volatile")
}

func TestMeteredStore(t *testing.T) {
	storetesting.RunPersistentStoreTests(t, "MeteredStore", func(t *testing.T) store.IPersistentStore {
		return newPersistent(metrics.NewRegistry())
	})
	storetesting.RunVolatileStoreTests(t, "MeteredVolatileStore", func(t *testing.T) store.IVolatileStore {
		return newVolatile(metrics.NewRegistry())
	})
}

func TestMeteredStoreRecords(t *testing.T) {
	ctx := context.Background()
	registry := metrics.NewRegistry()
	s := newPersistent(registry)
	v := newVolatile(registry)

	require.NoError(t, s.Set(ctx, "a", []byte("1")))
	_, err := s.Get(ctx, "a")
	require.NoError(t, err)
	_, err = s.Get(ctx, "missing")
	require.Error(t, err)
	require.Error(t, s.Apply(ctx, s.Begin().AssertAbsent("a").Set("a", []byte("2"))))

	keys, err := store.CollectKeys(s.Prefix(ctx, ""))
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	_, _, err = v.Get(ctx, "nothing")
	require.NoError(t, err)
	require.NoError(t, v.Set(ctx, "x", []byte("1"), 0))
	_, _, err = v.Get(ctx, "x")
	require.NoError(t, err)

	assert.Equal(t, int64(2), metrics.GetOrRegisterTimer("persistent.get", registry).Count())
	assert.Equal(t, int64(1), metrics.GetOrRegisterTimer("persistent.scan", registry).Count())
	assert.Equal(t, int64(1), metrics.GetOrRegisterCounter("persistent.not_found", registry).Count())
	assert.Equal(t, int64(1), metrics.GetOrRegisterCounter("persistent.race_condition", registry).Count())
	assert.Equal(t, int64(1), metrics.GetOrRegisterCounter("persistent.scanned_entries", registry).Count())
	assert.Equal(t, int64(1), metrics.GetOrRegisterCounter("volatile.hits", registry).Count())
	assert.Equal(t, int64(1), metrics.GetOrRegisterCounter("volatile.misses", registry).Count())

	var buf bytes.Buffer
	WriteReport(&buf, registry)
	assert.Contains(t, buf.String(), "persistent.get")
	assert.Contains(t, buf.String(), "volatile.hits")

	assert.Contains(t, Summary(registry, "persistent"), "get=2")
}
