package testing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dORM/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// PersistentStoreFactory creates a fresh, empty persistent store for one sub test.
// Cleanup should be registered with t.Cleanup.
type PersistentStoreFactory func(t *testing.T) store.IPersistentStore

// VolatileStoreFactory creates a fresh, empty volatile store for one sub test.
type VolatileStoreFactory func(t *testing.T) store.IVolatileStore

// --------------------------------------------------------------------------
// Persistent Store Tests
// --------------------------------------------------------------------------

// RunPersistentStoreTests runs the shared test suite against a persistent store implementation.
func RunPersistentStoreTests(t *testing.T, name string, factory PersistentStoreFactory) {
	t.Run(name+"/SetGetDelete", func(t *testing.T) {
		testSetGetDelete(t, factory(t))
	})
	t.Run(name+"/GetMulti", func(t *testing.T) {
		testGetMulti(t, factory(t))
	})
	t.Run(name+"/Prefix", func(t *testing.T) {
		testPrefix(t, factory(t))
	})
	t.Run(name+"/PrefixPaging", func(t *testing.T) {
		testPrefixPaging(t, factory(t))
	})
	t.Run(name+"/ScanPage", func(t *testing.T) {
		testScanPage(t, factory(t))
	})
	t.Run(name+"/Transaction", func(t *testing.T) {
		testTransaction(t, factory(t))
	})
	t.Run(name+"/Asserts", func(t *testing.T) {
		testAsserts(t, factory(t))
	})
	t.Run(name+"/CancelledContext", func(t *testing.T) {
		testCancelledContext(t, factory(t))
	})
	t.Run(name+"/ConcurrentAssertedWrites", func(t *testing.T) {
		testConcurrentAssertedWrites(t, factory(t))
	})
}

func testSetGetDelete(t *testing.T, s store.IPersistentStore) {
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound), "expected NotFound, got %v", err)

	require.NoError(t, s.Set(ctx, "a", []byte("1")))
	value, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), value)

	require.NoError(t, s.Set(ctx, "a", []byte("2")))
	value, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), value)

	require.NoError(t, s.Delete(ctx, "a"))
	_, err = s.Get(ctx, "a")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	// deleting a missing key is not an error
	require.NoError(t, s.Delete(ctx, "a"))
}

func testGetMulti(t *testing.T, s store.IPersistentStore) {
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", []byte("v1")))
	require.NoError(t, s.Set(ctx, "k2", []byte("v2")))

	values, err := s.GetMulti(ctx, []string{"k2", "k1"})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("v2"), []byte("v1")}, values)

	values, err = s.GetMulti(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, values)

	_, err = s.GetMulti(ctx, []string{"k1", "k3", "k2"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	var storeErr *store.Error
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "k3", storeErr.Key)
}

func testPrefix(t *testing.T, s store.IPersistentStore) {
	ctx := context.Background()

	for _, key := range []string{"p_b", "p_a", "p_c", "q_a", "o_z"} {
		require.NoError(t, s.Set(ctx, key, []byte("v_"+key)))
	}

	entries, err := store.Collect(s.PrefixEntries(ctx, "p_"))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "p_a", entries[0].Key)
	assert.Equal(t, []byte("v_p_a"), entries[0].Value)
	assert.Equal(t, "p_c", entries[2].Key)

	keys, err := store.CollectKeys(s.Prefix(ctx, "p_"))
	require.NoError(t, err)
	assert.Equal(t, []string{"p_a", "p_b", "p_c"}, keys)

	keys, err = store.CollectKeys(s.Prefix(ctx, "none_"))
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, err = store.CollectKeys(s.Prefix(ctx, ""))
	require.NoError(t, err)
	assert.Len(t, keys, 5)
}

func testPrefixPaging(t *testing.T, s store.IPersistentStore) {
	ctx := context.Background()

	// more entries than a single page
	n := store.DefaultPageSize*2 + 17
	txn := s.Begin()
	for i := 0; i < n; i++ {
		txn.Set(fmt.Sprintf("page_%05d", i), []byte{byte(i)})
	}
	require.NoError(t, s.Apply(ctx, txn))

	keys, err := store.CollectKeys(s.Prefix(ctx, "page_"))
	require.NoError(t, err)
	require.Len(t, keys, n)
	for i, key := range keys {
		assert.Equal(t, fmt.Sprintf("page_%05d", i), key)
	}
}

func testScanPage(t *testing.T, s store.IPersistentStore) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Set(ctx, fmt.Sprintf("page_%d", i), []byte{byte(i)}))
	}
	require.NoError(t, s.Set(ctx, "other", []byte("x")))

	page, err := store.ScanPage(ctx, s, "page_", "", 2, false)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "page_0", page[0].Key)
	assert.Equal(t, []byte{1}, page[1].Value)

	page, err = store.ScanPage(ctx, s, "page_", page[1].Key, 10, true)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "page_2", page[0].Key)
	assert.Equal(t, "page_4", page[2].Key)

	page, err = store.ScanPage(ctx, s, "page_", "page_4", 10, false)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func testTransaction(t *testing.T, s store.IPersistentStore) {
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "old", []byte("x")))

	txn := s.Begin().
		Set("t1", []byte("1")).
		Set("t2", []byte("2")).
		Delete("old")
	assert.Equal(t, 3, txn.Len())
	assert.False(t, txn.Empty())
	require.NoError(t, s.Apply(ctx, txn))

	values, err := s.GetMulti(ctx, []string{"t1", "t2"})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("1"), []byte("2")}, values)

	_, err = s.Get(ctx, "old")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	// an empty transaction is a no-op
	require.NoError(t, s.Apply(ctx, s.Begin()))
}

func testAsserts(t *testing.T, s store.IPersistentStore) {
	ctx := context.Background()

	// create-if-absent succeeds once
	require.NoError(t, s.Apply(ctx, s.Begin().AssertAbsent("obj").Set("obj", []byte("v1"))))

	err := s.Apply(ctx, s.Begin().AssertAbsent("obj").Set("obj", []byte("other")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrRaceCondition), "expected RaceCondition, got %v", err)

	// compare-and-set on the current value
	require.NoError(t, s.Apply(ctx, s.Begin().Assert("obj", []byte("v1")).Set("obj", []byte("v2")).Set("side", []byte("s"))))

	err = s.Apply(ctx, s.Begin().Assert("obj", []byte("v1")).Set("obj", []byte("v3")).Set("side2", []byte("s")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrRaceCondition))

	// a failed transaction has no side effects
	value, err := s.Get(ctx, "obj")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), value)
	_, err = s.Get(ctx, "side2")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	// asserting a missing key fails
	err = s.Apply(ctx, s.Begin().Assert("nothing", []byte("x")).Set("side3", []byte("s")))
	assert.True(t, errors.Is(err, store.ErrRaceCondition))
}

func testCancelledContext(t *testing.T, s store.IPersistentStore) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Set(ctx, "cancelled", []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrUnavailable), "expected Unavailable, got %v", err)

	_, err = s.Get(context.Background(), "cancelled")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	err = s.Apply(ctx, s.Begin().Set("cancelled", []byte("x")))
	assert.True(t, errors.Is(err, store.ErrUnavailable))

	_, err = store.CollectKeys(s.Prefix(ctx, ""))
	assert.True(t, errors.Is(err, store.ErrUnavailable))
}

func testConcurrentAssertedWrites(t *testing.T, s store.IPersistentStore) {
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "counter", []byte("0")))

	// every worker increments the counter with compare-and-set, retrying on races
	const workers = 8
	const increments = 10

	var wg sync.WaitGroup
	var races atomic.Int64
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < increments; i++ {
				for {
					current, err := s.Get(ctx, "counter")
					if !assert.NoError(t, err) {
						return
					}
					var n int
					_, _ = fmt.Sscanf(string(current), "%d", &n)
					next := []byte(fmt.Sprintf("%d", n+1))
					err = s.Apply(ctx, s.Begin().Assert("counter", current).Set("counter", next))
					if err == nil {
						break
					}
					if !assert.True(t, errors.Is(err, store.ErrRaceCondition), "unexpected error %v", err) {
						return
					}
					races.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	value, err := s.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d", workers*increments), string(value))
	t.Logf("%d races resolved", races.Load())
}

// --------------------------------------------------------------------------
// Volatile Store Tests
// --------------------------------------------------------------------------

// RunVolatileStoreTests runs the shared test suite against a volatile store implementation.
func RunVolatileStoreTests(t *testing.T, name string, factory VolatileStoreFactory) {
	t.Run(name+"/SetGetDelete", func(t *testing.T) {
		testVolatileSetGetDelete(t, factory(t))
	})
	t.Run(name+"/TTL", func(t *testing.T) {
		testVolatileTTL(t, factory(t))
	})
	t.Run(name+"/Add", func(t *testing.T) {
		testVolatileAdd(t, factory(t))
	})
	t.Run(name+"/Incr", func(t *testing.T) {
		testVolatileIncr(t, factory(t))
	})
	t.Run(name+"/CancelledContext", func(t *testing.T) {
		testVolatileCancelled(t, factory(t))
	})
}

func testVolatileSetGetDelete(t *testing.T, s store.IVolatileStore) {
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "a", []byte("1"), 0))
	value, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), value)

	require.NoError(t, s.Delete(ctx, "a"))
	_, ok, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Delete(ctx, "a"))
}

func testVolatileTTL(t *testing.T, s store.IVolatileStore) {
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "short", []byte("x"), 50*time.Millisecond))
	require.NoError(t, s.Set(ctx, "long", []byte("y"), time.Hour))

	_, ok, err := s.Get(ctx, "short")
	require.NoError(t, err)
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok, err := s.Get(ctx, "short")
		return err == nil && !ok
	}, 2*time.Second, 10*time.Millisecond)

	_, ok, err = s.Get(ctx, "long")
	require.NoError(t, err)
	assert.True(t, ok)
}

func testVolatileAdd(t *testing.T, s store.IVolatileStore) {
	ctx := context.Background()

	added, err := s.Add(ctx, "once", []byte("first"), 0)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.Add(ctx, "once", []byte("second"), 0)
	require.NoError(t, err)
	assert.False(t, added)

	value, _, err := s.Get(ctx, "once")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), value)
}

func testVolatileIncr(t *testing.T, s store.IVolatileStore) {
	ctx := context.Background()

	n, err := s.Incr(ctx, "hits", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Incr(ctx, "hits", 41)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	value, ok, err := s.Get(ctx, "hits")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "42", string(value))

	require.NoError(t, s.Set(ctx, "text", []byte("abc"), 0))
	_, err = s.Incr(ctx, "text", 1)
	assert.Error(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Incr(ctx, "parallel", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	value, _, err = s.Get(ctx, "parallel")
	require.NoError(t, err)
	assert.Equal(t, "20", string(value))
}

func testVolatileCancelled(t *testing.T, s store.IVolatileStore) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Set(ctx, "a", []byte("1"), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrUnavailable))

	_, ok, err := s.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, ok)
}
