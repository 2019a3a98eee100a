package testing

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dORM/lib/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// DBFactory is a function that creates a new instance of a KVDB implementation
type DBFactory func() db.KVDB

// TTLDBFactory is a function that creates a new instance of a TTLKVDB implementation using the given clock
type TTLDBFactory func(clock func() time.Time) db.TTLKVDB

// --------------------------------------------------------------------------
// Fake clock
// --------------------------------------------------------------------------

// FakeClock is a manually advanced time source, safe for concurrent use
type FakeClock struct {
	now atomic.Int64
}

// NewFakeClock creates a clock starting at a fixed point in time
func NewFakeClock() *FakeClock {
	c := &FakeClock{}
	c.now.Store(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano())
	return c
}

// Now returns the current fake time
func (c *FakeClock) Now() time.Time {
	return time.Unix(0, c.now.Load())
}

// Advance moves the clock forward
func (c *FakeClock) Advance(d time.Duration) {
	c.now.Add(int64(d))
}

// --------------------------------------------------------------------------
// KVDB test suite
// --------------------------------------------------------------------------

// RunKVDBTests runs a comprehensive test suite for an ordered KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Asserts", func(t *testing.T) {
			testAsserts(t, factory())
		})

		t.Run("Scan", func(t *testing.T) {
			testScan(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("ConcurrentBatches", func(t *testing.T) {
			testConcurrentBatches(t, factory())
		})
	})
}

func set(key, value string) db.Op {
	return db.Op{Type: db.OpSet, Key: key, Value: []byte(value)}
}

func testSetGet(t *testing.T, database db.KVDB) {
	defer database.Close()

	require.NoError(t, database.Apply([]db.Op{set("test-key", "test-value1")}, 1))

	result, exists := database.Get("test-key")
	require.True(t, exists)
	require.Equal(t, []byte("test-value1"), result)

	require.NoError(t, database.Apply([]db.Op{set("test-key", "test-value2")}, 2))
	result, _ = database.Get("test-key")
	require.Equal(t, []byte("test-value2"), result)

	_, exists = database.Get("nonexistent-key")
	require.False(t, exists)

	// Get must return a copy
	result[0] = 'X'
	original, _ := database.Get("test-key")
	require.Equal(t, []byte("test-value2"), original, "Get should return a copy, not a reference to the stored value")

	require.EqualValues(t, 2, database.WriteIdx())
}

func testDelete(t *testing.T, database db.KVDB) {
	defer database.Close()

	require.NoError(t, database.Apply([]db.Op{set("a", "1"), set("b", "2")}, 1))
	require.NoError(t, database.Apply([]db.Op{{Type: db.OpDelete, Key: "a"}, {Type: db.OpDelete, Key: "missing"}}, 2))

	_, exists := database.Get("a")
	require.False(t, exists)
	_, exists = database.Get("b")
	require.True(t, exists)
	require.Equal(t, 1, database.GetInfo().Entries)
}

func testAsserts(t *testing.T, database db.KVDB) {
	defer database.Close()

	require.NoError(t, database.Apply([]db.Op{
		{Type: db.OpAssertAbsent, Key: "k"},
		set("k", "v1"),
	}, 1))

	// a failing assert must leave everything untouched
	err := database.Apply([]db.Op{
		set("other", "x"),
		{Type: db.OpAssert, Key: "k", Value: []byte("wrong")},
		set("k", "v2"),
	}, 2)
	require.True(t, errors.Is(err, db.ErrAssertionFailed))
	value, _ := database.Get("k")
	require.Equal(t, []byte("v1"), value)
	_, exists := database.Get("other")
	require.False(t, exists)

	err = database.Apply([]db.Op{{Type: db.OpAssertAbsent, Key: "k"}}, 3)
	require.True(t, errors.Is(err, db.ErrAssertionFailed))

	require.NoError(t, database.Apply([]db.Op{
		{Type: db.OpAssert, Key: "k", Value: []byte("v1")},
		set("k", "v2"),
	}, 4))
	value, _ = database.Get("k")
	require.Equal(t, []byte("v2"), value)
}

func testScan(t *testing.T, database db.KVDB) {
	defer database.Close()

	var ops []db.Op
	for i := 0; i < 20; i++ {
		ops = append(ops, set(fmt.Sprintf("data_%02d", i), fmt.Sprintf("v%d", i)))
	}
	ops = append(ops, set("dat", "x"), set("datb", "y"), set("z", "z"))
	require.NoError(t, database.Apply(ops, 1))

	all := database.Scan("data_", "", 0, false)
	require.Len(t, all, 20)
	for i, e := range all {
		assert.Equal(t, fmt.Sprintf("data_%02d", i), e.Key)
		assert.Equal(t, []byte(fmt.Sprintf("v%d", i)), e.Value)
	}

	// paging with a resume marker
	var paged []string
	after := ""
	for {
		page := database.Scan("data_", after, 7, true)
		if len(page) == 0 {
			break
		}
		for _, e := range page {
			require.Nil(t, e.Value)
			paged = append(paged, e.Key)
		}
		after = page[len(page)-1].Key
	}
	require.Len(t, paged, 20)
	require.Equal(t, "data_19", paged[19])

	require.Empty(t, database.Scan("nothing", "", 0, false))
	require.Len(t, database.Scan("", "", 0, true), 23)
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	database := factory()
	defer database.Close()

	var ops []db.Op
	for i := 0; i < 100; i++ {
		ops = append(ops, set(fmt.Sprintf("key-%d", i), fmt.Sprintf("value-%d", i)))
	}
	require.NoError(t, database.Apply(ops, 42))

	var buf bytes.Buffer
	require.NoError(t, database.Save(&buf))

	restored := factory()
	defer restored.Close()
	require.NoError(t, restored.Load(&buf))

	require.EqualValues(t, 42, restored.WriteIdx())
	require.Equal(t, 100, restored.GetInfo().Entries)
	for i := 0; i < 100; i++ {
		value, ok := restored.Get(fmt.Sprintf("key-%d", i))
		require.True(t, ok)
		require.Equal(t, []byte(fmt.Sprintf("value-%d", i)), value)
	}

	require.Error(t, restored.Load(bytes.NewReader([]byte("garbage-data"))))
}

func testConcurrentBatches(t *testing.T, database db.KVDB) {
	defer database.Close()

	require.NoError(t, database.Apply([]db.Op{set("counter", "0")}, 1))

	// optimistic increments: exactly the successful asserts must be visible
	const workers = 8
	var success atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				current, _ := database.Get("counter")
				var n int
				_, _ = fmt.Sscanf(string(current), "%d", &n)
				err := database.Apply([]db.Op{
					{Type: db.OpAssert, Key: "counter", Value: current},
					set("counter", fmt.Sprintf("%d", n+1)),
				}, 0)
				if err == nil {
					success.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	final, _ := database.Get("counter")
	require.Equal(t, fmt.Sprintf("%d", success.Load()), string(final))
}

// --------------------------------------------------------------------------
// TTLKVDB test suite
// --------------------------------------------------------------------------

// RunTTLKVDBTests runs a comprehensive test suite for a TTLKVDB implementation.
func RunTTLKVDBTests(t *testing.T, name string, factory TTLDBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testTTLSetGet(t, factory(time.Now))
		})

		t.Run("Expiry", func(t *testing.T) {
			clock := NewFakeClock()
			testTTLExpiry(t, factory(clock.Now), clock)
		})

		t.Run("Add", func(t *testing.T) {
			clock := NewFakeClock()
			testTTLAdd(t, factory(clock.Now), clock)
		})

		t.Run("Incr", func(t *testing.T) {
			testTTLIncr(t, factory(time.Now))
		})

		t.Run("ConcurrentAdd", func(t *testing.T) {
			testTTLConcurrentAdd(t, factory(time.Now))
		})
	})
}

func testTTLSetGet(t *testing.T, database db.TTLKVDB) {
	defer database.Close()

	database.Set("k", []byte("v"), 0)
	value, ok := database.Get("k")
	require.True(t, ok)
	require.Equal(t, []byte("v"), value)

	value[0] = 'X'
	value, _ = database.Get("k")
	require.Equal(t, []byte("v"), value, "Get should return a copy")

	database.Delete("k")
	_, ok = database.Get("k")
	require.False(t, ok)

	// deleting a missing key is fine
	database.Delete("k")
}

func testTTLExpiry(t *testing.T, database db.TTLKVDB, clock *FakeClock) {
	defer database.Close()

	database.Set("short", []byte("1"), 10*time.Second)
	database.Set("forever", []byte("2"), 0)

	clock.Advance(9 * time.Second)
	_, ok := database.Get("short")
	require.True(t, ok, "entry must be alive before its ttl")

	clock.Advance(time.Second)
	_, ok = database.Get("short")
	require.False(t, ok, "entry must be expired at its ttl")

	clock.Advance(24 * time.Hour)
	_, ok = database.Get("forever")
	require.True(t, ok)
	require.Equal(t, 1, database.GetInfo().Entries)
}

func testTTLAdd(t *testing.T, database db.TTLKVDB, clock *FakeClock) {
	defer database.Close()

	require.True(t, database.Add("k", []byte("first"), 5*time.Second))
	require.False(t, database.Add("k", []byte("second"), 5*time.Second))
	value, _ := database.Get("k")
	require.Equal(t, []byte("first"), value)

	// an expired entry does not block Add
	clock.Advance(6 * time.Second)
	require.True(t, database.Add("k", []byte("third"), 0))
	value, _ = database.Get("k")
	require.Equal(t, []byte("third"), value)
}

func testTTLIncr(t *testing.T, database db.TTLKVDB) {
	defer database.Close()

	n, err := database.Incr("counter", 5)
	require.NoError(t, err)
	require.EqualValues(t, 5, n)

	n, err = database.Incr("counter", -2)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	value, _ := database.Get("counter")
	require.Equal(t, "3", string(value))

	database.Set("text", []byte("abc"), 0)
	_, err = database.Incr("text", 1)
	require.Error(t, err)
}

func testTTLConcurrentAdd(t *testing.T, database db.TTLKVDB) {
	defer database.Close()

	var winners atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if database.Add("contended", []byte(fmt.Sprintf("%d", i)), time.Minute) {
				winners.Add(1)
			}
			_, _ = database.Incr("hits", 1)
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, winners.Load())
	hits, _ := database.Get("hits")
	require.Equal(t, "32", string(hits))
}
