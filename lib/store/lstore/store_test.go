package lstore

import (
	"testing"

	"github.com/ValentinKolb/dORM/lib/db"
	"github.com/ValentinKolb/dORM/lib/db/engines/birch"
	"github.com/ValentinKolb/dORM/lib/db/engines/maple"
	"github.com/ValentinKolb/dORM/lib/store"
	storetesting "github.com/ValentinKolb/dORM/lib/store/testing"
)

func TestLocalStore(t *testing.T) {
	storetesting.RunPersistentStoreTests(t, "LocalStore", func(t *testing.T) store.IPersistentStore {
		return NewLocalStore(func() db.KVDB { return birch.NewBirchDB(nil) })
	})
}

func TestLocalVolatileStore(t *testing.T) {
	storetesting.RunVolatileStoreTests(t, "LocalVolatileStore", func(t *testing.T) store.IVolatileStore {
		return NewLocalVolatileStore(func() db.TTLKVDB { return maple.NewMapleDB(nil) })
	})
}
