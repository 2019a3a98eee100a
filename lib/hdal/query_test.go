package hdal

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dORM/lib/store"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture holds two machines and four disks:
//
//	sda 100 ok     -> alpha
//	sdb 500 ok     -> alpha
//	sdc 1000 failed -> beta
//	sdd 50 ok      (no machine)
type fixture struct {
	alpha, beta        *DataObject
	sda, sdb, sdc, sdd *DataObject
}

func newFixture(t *testing.T, d *DAL) *fixture {
	f := &fixture{}
	f.alpha = createMachine(t, d, "alpha")
	f.beta = createMachine(t, d, "beta")
	f.sda = createDisk(t, d, "sda", 100, f.alpha)
	f.sdb = createDisk(t, d, "sdb", 500, f.alpha)
	f.sdc = createDisk(t, d, "sdc", 1000, f.beta)
	require.NoError(t, f.sdc.Set("status", "failed"))
	require.NoError(t, f.sdc.Save(context.Background()))
	f.sdd = createDisk(t, d, "sdd", 50, nil)
	return f
}

func guidsOf(objects ...*DataObject) []string {
	guids := make([]string, len(objects))
	for i, o := range objects {
		guids[i] = o.Guid()
	}
	return guids
}

func runQuery(t *testing.T, d *DAL, typeName string, q Query, opts ...QueryOption) *DataList {
	list, err := d.Query(context.Background(), typeName, q, opts...)
	require.NoError(t, err)
	return list
}

func TestQueryFilters(t *testing.T) {
	d := newTestDAL(t)
	f := newFixture(t, d)

	tests := []struct {
		name     string
		typeName string
		query    Query
		expected []*DataObject
	}{
		{"empty query", "disk", And(), []*DataObject{f.sda, f.sdb, f.sdc, f.sdd}},
		{"equal", "disk", And(Eq("name", "sda")), []*DataObject{f.sda}},
		{"greater", "disk", And(Gt("size", 100)), []*DataObject{f.sdb, f.sdc}},
		{"less", "disk", And(Lt("size", 100)), []*DataObject{f.sdd}},
		{"not equal", "disk", And(Ne("status", "ok")), []*DataObject{f.sdc}},
		{"in list", "disk", And(In("name", []string{"sda", "sdc"})), []*DataObject{f.sda, f.sdc}},
		{"in string", "disk", And(In("name", "sda,sdb")), []*DataObject{f.sda, f.sdb}},
		{"ignore case", "disk", And(Eq("name", "SDA").Fold()), []*DataObject{f.sda}},
		{"relation path", "disk", And(Eq("machine.name", "alpha")), []*DataObject{f.sda, f.sdb}},
		{"relation guid shortcut", "disk", And(Eq("machine_guid", f.beta.Guid())), []*DataObject{f.sdc}},
		{"relation guid path", "disk", And(Eq("machine.guid", f.beta.Guid())), []*DataObject{f.sdc}},
		{"relation object value", "disk", And(Eq("machine", f.beta)), []*DataObject{f.sdc}},
		{"unset relation", "disk", And(Eq("machine", nil)), []*DataObject{f.sdd}},
		{"or", "disk", Or(Eq("name", "sda"), Gt("size", 900)), []*DataObject{f.sda, f.sdc}},
		{"nested", "disk", And(Gt("size", 60), Or(Eq("machine.name", "beta"), Eq("status", "ok"))), []*DataObject{f.sda, f.sdb, f.sdc}},
		{"backref values", "machine", And(In("disks.size", 1000)), []*DataObject{f.beta}},
		{"backref index", "machine", And(Eq("disks.0.name", "sdc")), []*DataObject{f.beta}},
		{"backref guids", "machine", And(In("disks", f.sda.Guid())), []*DataObject{f.alpha}},
		{"guid", "machine", And(Eq("guid", f.alpha.Guid())), []*DataObject{f.alpha}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			list := runQuery(t, d, tc.typeName, tc.query)
			assert.ElementsMatch(t, guidsOf(tc.expected...), list.Guids())
		})
	}

	t.Run("dynamic", func(t *testing.T) {
		list := runQuery(t, d, "disk", And(Gt("double", 1500)))
		assert.Equal(t, []string{f.sdc.Guid()}, list.Guids())
		assert.Empty(t, list.CacheKey())
		assert.False(t, runQuery(t, d, "disk", And(Gt("double", 1500))).FromCache())
	})

	t.Run("invalid queries", func(t *testing.T) {
		ctx := context.Background()
		_, err := d.Query(ctx, "disk", And(Eq("color", "red")))
		assert.True(t, errors.Is(err, ErrUnknownField))
		_, err = d.Query(ctx, "disk", And(Eq("name.first", "s")))
		assert.True(t, errors.Is(err, ErrUnknownField))
		_, err = d.Query(ctx, "disk", And(Filter{Field: "name", Op: "LIKE", Value: "s"}))
		assert.True(t, errors.Is(err, ErrInvalidValue))
		_, err = d.Query(ctx, "printer", And())
		assert.True(t, errors.Is(err, ErrUnknownType))
	})
}

func TestQueryCache(t *testing.T) {
	ctx := context.Background()
	d := newTestDAL(t)
	f := newFixture(t, d)
	big := And(Gt("size", 100))

	first := runQuery(t, d, "disk", big)
	assert.False(t, first.FromCache())
	assert.True(t, strings.HasPrefix(first.CacheKey(), listPrefix))
	assert.True(t, runQuery(t, d, "disk", big).FromCache())

	t.Run("unrelated field keeps the result", func(t *testing.T) {
		require.NoError(t, f.sda.Set("name", "sdx"))
		require.NoError(t, f.sda.Save(ctx))
		assert.True(t, runQuery(t, d, "disk", big).FromCache())
	})

	t.Run("queried field drops the result", func(t *testing.T) {
		require.NoError(t, f.sda.Set("size", 200))
		require.NoError(t, f.sda.Save(ctx))
		list := runQuery(t, d, "disk", big)
		assert.False(t, list.FromCache())
		assert.ElementsMatch(t, guidsOf(f.sda, f.sdb, f.sdc), list.Guids())
	})

	t.Run("insert drops the result", func(t *testing.T) {
		runQuery(t, d, "disk", big)
		sde := createDisk(t, d, "sde", 700, nil)
		list := runQuery(t, d, "disk", big)
		assert.False(t, list.FromCache())
		assert.Contains(t, list.Guids(), sde.Guid())
	})

	t.Run("delete drops the result", func(t *testing.T) {
		runQuery(t, d, "disk", big)
		require.NoError(t, f.sdb.Delete(ctx))
		list := runQuery(t, d, "disk", big)
		assert.False(t, list.FromCache())
		assert.NotContains(t, list.Guids(), f.sdb.Guid())
	})

	t.Run("change of a related object drops the result", func(t *testing.T) {
		byMachine := And(Eq("machine.name", "beta"))
		assert.Len(t, runQuery(t, d, "disk", byMachine).Guids(), 1)
		assert.True(t, runQuery(t, d, "disk", byMachine).FromCache())

		require.NoError(t, f.beta.Set("name", "gamma"))
		require.NoError(t, f.beta.Save(ctx))
		list := runQuery(t, d, "disk", byMachine)
		assert.False(t, list.FromCache())
		assert.Empty(t, list.Guids())
	})

	t.Run("change of a dependent drops the result", func(t *testing.T) {
		withBig := And(In("disks.size", 1000))
		assert.Equal(t, []string{f.beta.Guid()}, runQuery(t, d, "machine", withBig).Guids())

		require.NoError(t, f.sdc.Set("size", 10))
		require.NoError(t, f.sdc.Save(ctx))
		assert.Empty(t, runQuery(t, d, "machine", withBig).Guids())
	})

	t.Run("named results", func(t *testing.T) {
		list := runQuery(t, d, "disk", big, Named("big"))
		assert.Equal(t, listPrefix+"big", list.CacheKey())
		assert.True(t, runQuery(t, d, "disk", big, Named("big")).FromCache())

		_, err := d.Query(ctx, "disk", big, Named("a|b"))
		assert.True(t, errors.Is(err, ErrInvalidValue))
	})

	t.Run("empty results are not cached", func(t *testing.T) {
		runQuery(t, d, "partition", And())
		assert.False(t, runQuery(t, d, "partition", And()).FromCache())
	})
}

// scanHookStore calls a hook once before the first entry scan
type scanHookStore struct {
	store.IPersistentStore
	once   sync.Once
	onScan func()
}

func (s *scanHookStore) PrefixEntries(ctx context.Context, prefix string) store.EntryIterator {
	if s.onScan != nil {
		s.once.Do(s.onScan)
	}
	return s.IPersistentStore.PrefixEntries(ctx, prefix)
}

func TestQueryCacheWriteDuringScan(t *testing.T) {
	ctx := context.Background()
	persistent, volatile := newStores()
	hooked := &scanHookStore{IPersistentStore: persistent}
	d, err := New(testRegistry(t), hooked, volatile)
	require.NoError(t, err)
	f := newFixture(t, d)

	hooked.onScan = func() {
		require.NoError(t, f.sdd.Set("size", 5000))
		require.NoError(t, f.sdd.Save(ctx))
	}

	big := And(Gt("size", 100))
	list := runQuery(t, d, "disk", big)
	assert.False(t, list.FromCache())

	// the result was computed while a dependency changed, it must not stay cached
	_, ok, err := volatile.Get(ctx, list.CacheKey())
	require.NoError(t, err)
	assert.False(t, ok)

	list = runQuery(t, d, "disk", big)
	assert.False(t, list.FromCache())
	assert.Contains(t, list.Guids(), f.sdd.Guid())
	assert.True(t, runQuery(t, d, "disk", big).FromCache())
}

// blockingScanStore blocks the first scan of a prefix until release is closed
type blockingScanStore struct {
	store.IPersistentStore
	prefix  string
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (s *blockingScanStore) PrefixEntries(ctx context.Context, prefix string) store.EntryIterator {
	if prefix == s.prefix {
		s.once.Do(func() {
			close(s.started)
			<-s.release
		})
	}
	return s.IPersistentStore.PrefixEntries(ctx, prefix)
}

func TestQueryCacheFillOutlivesCaller(t *testing.T) {
	persistent, volatile := newStores()
	d, err := New(testRegistry(t), persistent, volatile)
	require.NoError(t, err)
	f := newFixture(t, d)

	blocking := &blockingScanStore{
		IPersistentStore: persistent,
		prefix:           objectPrefix("disk"),
		started:          make(chan struct{}),
		release:          make(chan struct{}),
	}
	d, err = New(testRegistry(t), blocking, volatile)
	require.NoError(t, err)

	big := And(Gt("size", 100))
	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := d.Query(ctx, "disk", big)
		firstErr <- err
	}()
	<-blocking.started

	second := make(chan *DataList, 1)
	secondErr := make(chan error, 1)
	go func() {
		list, err := d.Query(context.Background(), "disk", big)
		second <- list
		secondErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	// the caller that started the fill gives up, the other one still gets the result
	cancel()
	assert.True(t, errors.Is(<-firstErr, ErrUnavailable))
	close(blocking.release)

	list := <-second
	require.NoError(t, <-secondErr)
	assert.ElementsMatch(t, guidsOf(f.sdb, f.sdc), list.Guids())
}

func TestQueryCacheAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	persistent, volatile := newStores()

	// two processes with their own registries share the stores
	first, err := New(testRegistry(t), persistent, volatile)
	require.NoError(t, err)
	second, err := New(testRegistry(t), persistent, volatile)
	require.NoError(t, err)

	f := newFixture(t, first)
	big := And(Gt("size", 100))
	runQuery(t, first, "disk", big)
	assert.True(t, runQuery(t, first, "disk", big).FromCache())

	disk, err := second.Load(ctx, "disk", f.sdd.Guid())
	require.NoError(t, err)
	require.NoError(t, disk.Set("size", 400))
	require.NoError(t, disk.Save(ctx))

	list := runQuery(t, first, "disk", big)
	assert.False(t, list.FromCache())
	assert.Contains(t, list.Guids(), f.sdd.Guid())

	owner, err := disk.Relation(ctx, "machine")
	require.NoError(t, err)
	assert.Nil(t, owner)

	sda, err := second.Load(ctx, "disk", f.sda.Guid())
	require.NoError(t, err)
	owner, err = sda.Relation(ctx, "machine")
	require.NoError(t, err)
	assert.Equal(t, f.alpha.Guid(), owner.Guid())
}

func TestDataList(t *testing.T) {
	ctx := context.Background()
	d := newTestDAL(t)
	f := newFixture(t, d)

	size := func(o *DataObject) any {
		v, _ := o.Get("size")
		return v
	}

	t.Run("sort and reverse", func(t *testing.T) {
		list := runQuery(t, d, "disk", And())
		require.NoError(t, list.Sort(ctx, size, false))
		assert.Equal(t, guidsOf(f.sdd, f.sda, f.sdb, f.sdc), list.Guids())

		list.Reverse()
		assert.Equal(t, guidsOf(f.sdc, f.sdb, f.sda, f.sdd), list.Guids())

		require.NoError(t, list.Sort(ctx, size, true))
		assert.Equal(t, guidsOf(f.sdc, f.sdb, f.sda, f.sdd), list.Guids())
		assert.Equal(t, 1, list.Index(f.sdb.Guid()))
		assert.Equal(t, -1, list.Index(f.alpha.Guid()))

		o, err := list.Get(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, f.sdc.Guid(), o.Guid())
		_, err = list.Get(ctx, 4)
		assert.Error(t, err)
	})

	t.Run("nil keys first in both directions", func(t *testing.T) {
		// sdd has no machine
		machine := func(o *DataObject) any {
			v, _ := o.Get("machine")
			return v
		}
		list := runQuery(t, d, "disk", And())
		require.NoError(t, list.Sort(ctx, machine, false))
		assert.Equal(t, f.sdd.Guid(), list.Guids()[0])

		require.NoError(t, list.Sort(ctx, machine, true))
		assert.Equal(t, f.sdd.Guid(), list.Guids()[0])

		require.NoError(t, list.Sort(ctx, size, true))
		assert.Equal(t, guidsOf(f.sdc, f.sdb, f.sda, f.sdd), list.Guids())
	})

	t.Run("slice and update", func(t *testing.T) {
		list := runQuery(t, d, "disk", And())
		assert.Equal(t, 2, list.Slice(1, 3).Len())
		assert.Equal(t, 4, list.Slice(-5, 100).Len())
		assert.Equal(t, 0, list.Slice(3, 1).Len())

		one := runQuery(t, d, "disk", And(Eq("name", "sda")))
		require.NoError(t, one.Update(runQuery(t, d, "disk", Or(Eq("name", "sda"), Eq("name", "sdb")))))
		assert.Equal(t, guidsOf(f.sda, f.sdb), one.Guids())
		assert.Empty(t, one.CacheKey())

		assert.True(t, errors.Is(one.Update(runQuery(t, d, "machine", And())), ErrUnknownType))
	})

	t.Run("objects drop vanished guids", func(t *testing.T) {
		list := runQuery(t, d, "disk", And(Eq("status", "ok")))
		require.Equal(t, 3, list.Len())
		require.NoError(t, d.persistent.Delete(ctx, objectKey("disk", f.sdd.Guid())))

		objects, err := list.Objects(ctx)
		require.NoError(t, err)
		assert.Len(t, objects, 2)
		assert.ElementsMatch(t, guidsOf(f.sda, f.sdb), list.Guids())
	})
}

func TestDataListGivesUp(t *testing.T) {
	ctx := context.Background()
	d := newTestDAL(t, WithConfig(Config{ReadRetries: 0, ObjectCacheTTL: DefaultConfig().ObjectCacheTTL}))
	f := newFixture(t, d)

	list := runQuery(t, d, "disk", And())
	require.NoError(t, d.persistent.Delete(ctx, objectKey("disk", f.sda.Guid())))
	_, err := list.Objects(ctx)
	assert.True(t, errors.Is(err, ErrRaceCondition))
}

func TestCursor(t *testing.T) {
	ctx := context.Background()
	d := newTestDAL(t)
	f := newFixture(t, d)

	list, err := f.alpha.Backref(ctx, "disks")
	require.NoError(t, err)
	require.Equal(t, 2, list.Len())
	require.NoError(t, f.sda.Delete(ctx))

	collect := func(safe bool) ([]string, error) {
		cur := list.Iterator(ctx, safe)
		defer cur.Close()
		var guids []string
		for cur.Next() {
			guids = append(guids, cur.Object().Guid())
		}
		return guids, cur.Err()
	}

	guids, err := collect(true)
	require.NoError(t, err)
	assert.Equal(t, []string{f.sdb.Guid()}, guids)

	_, err = collect(false)
	assert.True(t, errors.Is(err, ErrNotFound))
}
