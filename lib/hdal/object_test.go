package hdal

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dORM/lib/db"
	"github.com/ValentinKolb/dORM/lib/db/engines/birch"
	"github.com/ValentinKolb/dORM/lib/db/engines/maple"
	"github.com/ValentinKolb/dORM/lib/store"
	"github.com/ValentinKolb/dORM/lib/store/lstore"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Test helpers
// --------------------------------------------------------------------------

func newStores() (store.IPersistentStore, store.IVolatileStore) {
	return lstore.NewLocalStore(func() db.KVDB { return birch.NewBirchDB(nil) }),
		lstore.NewLocalVolatileStore(func() db.TTLKVDB { return maple.NewMapleDB(nil) })
}

// testRegistry builds the registry used by the tests: machines with disks, disks with one partition
func testRegistry(t *testing.T) *Registry {
	reg := NewRegistry()
	require.NoError(t, reg.Register(
		NewType("machine").
			WithProperty("name", KindString, nil).
			WithProperty("tags", KindList, []any{}),
		NewType("disk").
			WithProperty("name", KindString, nil).
			WithProperty("size", KindInteger, 0).
			WithEnum("status", []string{"ok", "failed"}, "ok").
			WithRelation(Relation{Name: "machine", Target: "machine", Backref: "disks"}).
			WithDynamic("double", KindInteger, time.Minute, func(ctx context.Context, o *DataObject) (any, error) {
				size, err := o.Get("size")
				if err != nil || size == nil {
					return nil, err
				}
				return size.(int64) * 2, nil
			}).
			WithDynamic("tamper", KindString, 0, func(ctx context.Context, o *DataObject) (any, error) {
				return nil, o.Set("name", "changed")
			}),
		NewType("partition").
			WithProperty("label", KindString, nil).
			WithRelation(Relation{Name: "disk", Target: "disk", Backref: "partition", OneToOne: true, Mandatory: true}),
	))
	return reg
}

func newTestDAL(t *testing.T, opts ...Option) *DAL {
	persistent, volatile := newStores()
	d, err := New(testRegistry(t), persistent, volatile, opts...)
	require.NoError(t, err)
	return d
}

func createMachine(t *testing.T, d *DAL, name string) *DataObject {
	m, err := d.New("machine")
	require.NoError(t, err)
	require.NoError(t, m.Set("name", name))
	require.NoError(t, m.Save(context.Background()))
	return m
}

func createDisk(t *testing.T, d *DAL, name string, size int, machine *DataObject) *DataObject {
	disk, err := d.New("disk")
	require.NoError(t, err)
	require.NoError(t, disk.Set("name", name))
	require.NoError(t, disk.Set("size", size))
	if machine != nil {
		require.NoError(t, disk.SetRelation("machine", machine))
	}
	require.NoError(t, disk.Save(context.Background()))
	return disk
}

func mustGet(t *testing.T, o *DataObject, name string) any {
	v, err := o.Get(name)
	require.NoError(t, err)
	return v
}

// hookStore calls a hook before transactions are applied
type hookStore struct {
	store.IPersistentStore
	mu      sync.Mutex
	onApply func()
	always  bool
}

func (h *hookStore) Apply(ctx context.Context, txn *store.Transaction) error {
	h.mu.Lock()
	hook := h.onApply
	if !h.always {
		h.onApply = nil
	}
	h.mu.Unlock()
	if hook != nil {
		hook()
	}
	return h.IPersistentStore.Apply(ctx, txn)
}

// getHookStore calls a hook once after the next read of the given key, before the value is returned
type getHookStore struct {
	store.IPersistentStore
	mu    sync.Mutex
	key   string
	onGet func()
}

func (h *getHookStore) Get(ctx context.Context, key string) ([]byte, error) {
	h.mu.Lock()
	var hook func()
	if key == h.key {
		hook, h.onGet = h.onGet, nil
	}
	h.mu.Unlock()
	value, err := h.IPersistentStore.Get(ctx, key)
	if hook != nil {
		hook()
	}
	return value, err
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestNewRequiresStores(t *testing.T) {
	persistent, volatile := newStores()

	_, err := New(testRegistry(t), nil, volatile)
	assert.True(t, errors.Is(err, ErrInvalidStore))

	_, err = New(testRegistry(t), persistent, nil)
	assert.True(t, errors.Is(err, ErrInvalidStore))

	reg := NewRegistry()
	require.NoError(t, reg.Register(NewType("disk").WithRelation(Relation{Name: "machine", Target: "machine", Backref: "disks"})))
	_, err = New(reg, persistent, volatile)
	assert.True(t, errors.Is(err, ErrInvalidRelation))
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	d := newTestDAL(t)

	m := createMachine(t, d, "m1")
	assert.True(t, m.Persisted())
	assert.Equal(t, int64(1), m.Version())
	assert.False(t, m.Dirty())

	loaded, err := d.Load(ctx, "machine", m.Guid())
	require.NoError(t, err)
	assert.False(t, loaded.FromCache())
	assert.Equal(t, "m1", mustGet(t, loaded, "name"))
	assert.Equal(t, []any{}, mustGet(t, loaded, "tags"))
	assert.Equal(t, m.Guid(), mustGet(t, loaded, "guid"))

	again, err := d.Load(ctx, "machine", m.Guid())
	require.NoError(t, err)
	assert.True(t, again.FromCache())

	t.Run("save drops the volatile copy", func(t *testing.T) {
		require.NoError(t, again.Set("tags", []string{"a", "b"}))
		require.NoError(t, again.Save(ctx))
		assert.Equal(t, int64(2), again.Version())

		fresh, err := d.Load(ctx, "machine", m.Guid())
		require.NoError(t, err)
		assert.False(t, fresh.FromCache())
		assert.Equal(t, []any{"a", "b"}, mustGet(t, fresh, "tags"))
	})

	t.Run("missing and invalid guids", func(t *testing.T) {
		_, err := d.Load(ctx, "machine", "00000000-0000-0000-0000-000000000000")
		assert.True(t, errors.Is(err, ErrNotFound))
		_, err = d.Load(ctx, "machine", "not-a-guid")
		assert.True(t, errors.Is(err, ErrNotFound))
		_, err = d.Load(ctx, "printer", m.Guid())
		assert.True(t, errors.Is(err, ErrUnknownType))
	})

	t.Run("value validation", func(t *testing.T) {
		disk, err := d.New("disk")
		require.NoError(t, err)
		assert.True(t, errors.Is(disk.Set("size", "big"), ErrInvalidValue))
		assert.True(t, errors.Is(disk.Set("status", "melted"), ErrInvalidValue))
		assert.True(t, errors.Is(disk.Set("color", "red"), ErrUnknownField))
		assert.True(t, errors.Is(disk.Set("machine", m.Guid()), ErrUnknownField))
		assert.True(t, errors.Is(disk.SetRelation("machine", disk), ErrInvalidRelation))

		require.NoError(t, disk.Set("size", 3.0))
		assert.Equal(t, int64(3), mustGet(t, disk, "size"))
		assert.Equal(t, "ok", mustGet(t, disk, "status"))
	})
}

func TestUnknownFieldsArePreserved(t *testing.T) {
	ctx := context.Background()
	d := newTestDAL(t)
	m := createMachine(t, d, "m1")

	key := objectKey("machine", m.Guid())
	raw, err := d.persistent.Get(ctx, key)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	doc["rack"] = "r7"
	raw, err = json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, d.persistent.Set(ctx, key, raw))

	require.NoError(t, m.Set("name", "m2"))
	require.NoError(t, m.Save(ctx))

	raw, err = d.persistent.Get(ctx, key)
	require.NoError(t, err)
	doc = nil
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "r7", doc["rack"])
	assert.Equal(t, "m2", doc["name"])
}

func TestMerge(t *testing.T) {
	ctx := context.Background()
	d := newTestDAL(t)
	disk := createDisk(t, d, "sda", 100, nil)

	load := func(opts ...ObjectOption) *DataObject {
		o, err := d.Load(ctx, "disk", disk.Guid(), opts...)
		require.NoError(t, err)
		return o
	}

	t.Run("disjoint fields are merged", func(t *testing.T) {
		a, b := load(), load()
		require.NoError(t, a.Set("name", "sdb"))
		require.NoError(t, b.Set("size", 200))
		require.NoError(t, a.Save(ctx))
		require.NoError(t, b.Save(ctx))

		assert.Equal(t, "sdb", mustGet(t, b, "name"))
		final := load()
		assert.Equal(t, "sdb", mustGet(t, final, "name"))
		assert.Equal(t, int64(200), mustGet(t, final, "size"))
	})

	t.Run("same change is no conflict", func(t *testing.T) {
		a, b := load(), load(WithConflictPolicy(Strict))
		require.NoError(t, a.Set("size", 300))
		require.NoError(t, b.Set("size", 300))
		require.NoError(t, a.Save(ctx))
		require.NoError(t, b.Save(ctx))
	})

	t.Run("caller wins", func(t *testing.T) {
		a, b := load(), load()
		require.NoError(t, a.Set("name", "a"))
		require.NoError(t, b.Set("name", "b"))
		require.NoError(t, a.Save(ctx))
		require.NoError(t, b.Save(ctx))
		assert.Equal(t, "b", mustGet(t, load(), "name"))
	})

	t.Run("datastore wins", func(t *testing.T) {
		a, b := load(), load(WithConflictPolicy(DatastoreWins))
		require.NoError(t, a.Set("name", "a"))
		require.NoError(t, b.Set("name", "b"))
		require.NoError(t, b.Set("status", "failed"))
		require.NoError(t, a.Save(ctx))
		require.NoError(t, b.Save(ctx))

		final := load()
		assert.Equal(t, "a", mustGet(t, final, "name"))
		assert.Equal(t, "failed", mustGet(t, final, "status"))
	})

	t.Run("strict", func(t *testing.T) {
		a, b := load(), load(WithConflictPolicy(Strict))
		version := a.Version()
		require.NoError(t, a.Set("name", "x"))
		require.NoError(t, b.Set("name", "y"))
		require.NoError(t, a.Save(ctx))

		err := b.Save(ctx)
		require.True(t, errors.Is(err, ErrConcurrency))
		var conflict *ConcurrencyError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, []string{"name"}, conflict.Fields)
		assert.Equal(t, version+1, load().Version())
	})
}

func TestSaveRetriesOnRace(t *testing.T) {
	ctx := context.Background()
	persistent, volatile := newStores()
	hooked := &hookStore{IPersistentStore: persistent}
	d, err := New(testRegistry(t), hooked, volatile, WithConfig(Config{SaveRetries: 2, ReadRetries: 5}))
	require.NoError(t, err)

	disk := createDisk(t, d, "sda", 100, nil)
	key := objectKey("disk", disk.Guid())

	// a concurrent writer changes the name between the read and the write of the save
	hooked.onApply = func() {
		other, err := d.Load(ctx, "disk", disk.Guid())
		require.NoError(t, err)
		require.NoError(t, other.Set("name", "sdb"))
		require.NoError(t, other.Save(ctx))
	}
	require.NoError(t, disk.Set("size", 500))
	require.NoError(t, disk.Save(ctx))
	assert.Equal(t, int64(3), disk.Version())
	assert.Equal(t, "sdb", mustGet(t, disk, "name"))
	assert.Equal(t, int64(500), mustGet(t, disk, "size"))

	t.Run("gives up after the retries", func(t *testing.T) {
		hooked.always = true
		hooked.onApply = func() {
			raw, err := persistent.Get(ctx, key)
			require.NoError(t, err)
			var doc map[string]any
			require.NoError(t, json.Unmarshal(raw, &doc))
			doc["_version"] = doc["_version"].(float64) + 1
			raw, err = json.Marshal(doc)
			require.NoError(t, err)
			require.NoError(t, persistent.Set(ctx, key, raw))
		}
		defer func() {
			hooked.mu.Lock()
			hooked.always = false
			hooked.onApply = nil
			hooked.mu.Unlock()
		}()

		require.NoError(t, disk.Set("size", 600))
		err := disk.Save(ctx)
		assert.True(t, errors.Is(err, ErrConcurrency))
	})
}

func TestSaveOfDeletedObject(t *testing.T) {
	ctx := context.Background()
	d := newTestDAL(t)
	disk := createDisk(t, d, "sda", 1, nil)

	other, err := d.Load(ctx, "disk", disk.Guid())
	require.NoError(t, err)
	require.NoError(t, other.Delete(ctx))

	require.NoError(t, disk.Set("size", 2))
	assert.True(t, errors.Is(disk.Save(ctx), ErrNotFound))

	// the copy that is already gone is deleted again without error
	assert.NoError(t, disk.Delete(ctx))
	assert.False(t, disk.Persisted())

	fresh, err := d.New("disk")
	require.NoError(t, err)
	assert.True(t, errors.Is(fresh.Delete(ctx), ErrVolatile))
}

func TestRelations(t *testing.T) {
	ctx := context.Background()
	d := newTestDAL(t)
	m1 := createMachine(t, d, "m1")
	m2 := createMachine(t, d, "m2")
	disk := createDisk(t, d, "sda", 100, m1)

	guids := func(m *DataObject) []string {
		list, err := m.Backref(ctx, "disks")
		require.NoError(t, err)
		return list.Guids()
	}
	assert.Equal(t, []string{disk.Guid()}, guids(m1))
	assert.Empty(t, guids(m2))

	owner, err := disk.Relation(ctx, "machine")
	require.NoError(t, err)
	assert.Equal(t, m1.Guid(), owner.Guid())

	t.Run("moving the relation moves the edge", func(t *testing.T) {
		require.NoError(t, disk.SetRelation("machine", m2))
		require.NoError(t, disk.Save(ctx))
		assert.Empty(t, guids(m1))
		assert.Equal(t, []string{disk.Guid()}, guids(m2))

		loaded, err := d.Load(ctx, "disk", disk.Guid())
		require.NoError(t, err)
		guid, err := loaded.RelationGuid("machine")
		require.NoError(t, err)
		assert.Equal(t, m2.Guid(), guid)
	})

	t.Run("delete with dependents", func(t *testing.T) {
		err := m2.Delete(ctx, CheckLinks())
		require.True(t, errors.Is(err, ErrLinkedObject))
		var linked *LinkedObjectError
		require.True(t, errors.As(err, &linked))
		assert.Equal(t, []string{"disks"}, linked.Backrefs)
		assert.True(t, m2.Persisted())
	})

	t.Run("clearing the relation removes the edge", func(t *testing.T) {
		require.NoError(t, disk.SetRelation("machine", nil))
		require.NoError(t, disk.Save(ctx))
		assert.Empty(t, guids(m2))
		require.NoError(t, m2.Delete(ctx, CheckLinks()))
	})

	t.Run("one to one", func(t *testing.T) {
		p, err := d.New("partition")
		require.NoError(t, err)
		require.NoError(t, p.Set("label", "root"))
		assert.True(t, errors.Is(p.Save(ctx), ErrInvalidRelation))

		require.NoError(t, p.SetRelation("disk", disk))
		require.NoError(t, p.Save(ctx))

		single, err := disk.BackrefOne(ctx, "partition")
		require.NoError(t, err)
		require.NotNil(t, single)
		assert.Equal(t, p.Guid(), single.Guid())

		_, err = m1.BackrefOne(ctx, "disks")
		assert.True(t, errors.Is(err, ErrInvalidRelation))
	})

	t.Run("deleting the dependent removes the edge", func(t *testing.T) {
		require.NoError(t, disk.SetRelation("machine", m1))
		require.NoError(t, disk.Save(ctx))
		require.Len(t, guids(m1), 1)

		part, err := disk.BackrefOne(ctx, "partition")
		require.NoError(t, err)
		require.NoError(t, part.Delete(ctx))
		require.NoError(t, disk.Delete(ctx))
		assert.Empty(t, guids(m1))

		problems, err := d.CheckRelations(ctx, "machine")
		require.NoError(t, err)
		assert.Empty(t, problems)
	})
}

func TestRecursiveSave(t *testing.T) {
	ctx := context.Background()
	d := newTestDAL(t)

	m, err := d.New("machine")
	require.NoError(t, err)
	require.NoError(t, m.Set("name", "m1"))
	disk, err := d.New("disk")
	require.NoError(t, err)
	require.NoError(t, disk.SetRelation("machine", m))
	p, err := d.New("partition")
	require.NoError(t, err)
	require.NoError(t, p.SetRelation("disk", disk))

	require.NoError(t, p.Save(ctx, SaveRecursive()))
	assert.True(t, m.Persisted())
	assert.True(t, disk.Persisted())
	assert.True(t, p.Persisted())

	list, err := m.Backref(ctx, "disks")
	require.NoError(t, err)
	assert.Equal(t, []string{disk.Guid()}, list.Guids())
}

func TestDiscard(t *testing.T) {
	ctx := context.Background()
	d := newTestDAL(t)
	disk := createDisk(t, d, "sda", 10, nil)

	require.NoError(t, disk.Set("size", 20))
	assert.True(t, disk.Dirty())
	require.NoError(t, disk.Discard(ctx))
	assert.False(t, disk.Dirty())
	assert.Equal(t, int64(10), mustGet(t, disk, "size"))

	fresh, err := d.New("disk")
	require.NoError(t, err)
	require.NoError(t, fresh.Set("size", 5))
	require.NoError(t, fresh.Discard(ctx))
	assert.Equal(t, int64(0), mustGet(t, fresh, "size"))
}

func TestDynamics(t *testing.T) {
	ctx := context.Background()
	d := newTestDAL(t)
	disk := createDisk(t, d, "sda", 21, nil)

	v, err := disk.Dynamic(ctx, "double")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	// cached value, even if the object changed in memory
	require.NoError(t, disk.Set("size", 1))
	v, err = disk.Dynamic(ctx, "double")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	hits, misses, err := d.DynamicStats(ctx, "disk", "double")
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	_, err = disk.Dynamic(ctx, "tamper")
	assert.True(t, errors.Is(err, ErrReadOnly))
	assert.Equal(t, "sda", mustGet(t, disk, "name"))

	_, err = disk.Dynamic(ctx, "missing")
	assert.True(t, errors.Is(err, ErrUnknownField))
}

func TestConcurrentInserts(t *testing.T) {
	ctx := context.Background()
	d := newTestDAL(t)
	m := createMachine(t, d, "m1")

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			disk, err := d.New("disk")
			if err == nil {
				err = disk.SetRelation("machine", m)
			}
			if err == nil {
				err = disk.Save(ctx)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	list, err := m.Backref(ctx, "disks")
	require.NoError(t, err)
	assert.Equal(t, workers, list.Len())

	all, err := d.All(ctx, "disk")
	require.NoError(t, err)
	assert.Equal(t, workers, all.Len())
}

func TestLoadRacingWriters(t *testing.T) {
	ctx := context.Background()
	persistent, volatile := newStores()
	hooked := &getHookStore{IPersistentStore: persistent}
	d, err := New(testRegistry(t), hooked, volatile)
	require.NoError(t, err)
	other, err := New(testRegistry(t), persistent, volatile)
	require.NoError(t, err)

	t.Run("delete", func(t *testing.T) {
		disk := createDisk(t, d, "sda", 1, nil)
		hooked.mu.Lock()
		hooked.key = objectKey("disk", disk.Guid())
		hooked.onGet = func() {
			gone, err := other.Load(ctx, "disk", disk.Guid())
			require.NoError(t, err)
			require.NoError(t, gone.Delete(ctx))
		}
		hooked.mu.Unlock()

		// the read may still see the object, but no copy of it stays behind
		_, err := d.Load(ctx, "disk", disk.Guid())
		require.NoError(t, err)

		_, ok, err := volatile.Get(ctx, objectKey("disk", disk.Guid()))
		require.NoError(t, err)
		assert.False(t, ok)
		_, err = d.Load(ctx, "disk", disk.Guid())
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("save", func(t *testing.T) {
		disk := createDisk(t, d, "sdb", 1, nil)
		hooked.mu.Lock()
		hooked.key = objectKey("disk", disk.Guid())
		hooked.onGet = func() {
			changed, err := other.Load(ctx, "disk", disk.Guid())
			require.NoError(t, err)
			require.NoError(t, changed.Set("name", "sdc"))
			require.NoError(t, changed.Save(ctx))
		}
		hooked.mu.Unlock()

		_, err := d.Load(ctx, "disk", disk.Guid())
		require.NoError(t, err)

		loaded, err := d.Load(ctx, "disk", disk.Guid())
		require.NoError(t, err)
		assert.Equal(t, "sdc", mustGet(t, loaded, "name"))
	})
}
