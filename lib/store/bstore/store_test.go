package bstore

import (
	"context"
	"testing"

	"github.com/ValentinKolb/dORM/lib/db"
	"github.com/ValentinKolb/dORM/lib/store"
	storetesting "github.com/ValentinKolb/dORM/lib/store/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerStore(t *testing.T) {
	storetesting.RunPersistentStoreTests(t, "BadgerStore", func(t *testing.T) store.IPersistentStore {
		s, err := Open(Options{InMemory: true})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestBadgerStoreReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(DefaultOptions(dir))
	require.NoError(t, err)
	require.NoError(t, s.Apply(ctx, s.Begin().Set("a", []byte("1")).Set("b", []byte("2"))))
	require.NoError(t, s.Close())
	// closing twice is fine
	require.NoError(t, s.Close())

	s, err = Open(DefaultOptions(dir))
	require.NoError(t, err)
	defer s.Close()

	values, err := s.GetMulti(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("1"), []byte("2")}, values)

	info, err := s.GetDBInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Entries)
	assert.Equal(t, db.ImplBadger, info.DbType)
}
