package maple

import (
	"testing"
	"time"

	"github.com/ValentinKolb/dORM/lib/db"
	dbtesting "github.com/ValentinKolb/dORM/lib/db/testing"
	"github.com/stretchr/testify/require"
)

func Test(t *testing.T) {
	dbtesting.RunTTLKVDBTests(t, "MapleDB", func(clock func() time.Time) db.TTLKVDB {
		return NewMapleDB(&DBOptions{Clock: clock, GCInterval: 10 * time.Millisecond})
	})
}

func TestGarbageCollection(t *testing.T) {
	clock := dbtesting.NewFakeClock()
	database := NewMapleDB(&DBOptions{Clock: clock.Now, GCInterval: 5 * time.Millisecond})
	defer database.Close()

	database.Set("a", []byte("1"), time.Second)
	database.Set("b", []byte("2"), 0)

	clock.Advance(2 * time.Second)

	require.Eventually(t, func() bool {
		impl := database.(*mapleImpl)
		_, stillThere := impl.data.Load("a")
		return !stillThere
	}, time.Second, 5*time.Millisecond)

	_, ok := database.Get("b")
	require.True(t, ok, "entries without ttl must survive gc")
	require.EqualValues(t, 1, database.(*mapleImpl).collected.Load())
}
