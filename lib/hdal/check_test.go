package hdal

import (
	"bytes"
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryValidation(t *testing.T) {
	tests := []struct {
		name string
		spec *TypeSpec
		err  error
	}{
		{"underscore in type name", NewType("virtual_disk"), ErrUnknownType},
		{"reserved field", NewType("disk").WithProperty("guid", KindString, nil), ErrUnknownField},
		{"duplicate field", NewType("disk").WithProperty("a", KindString, nil).WithProperty("a", KindInteger, 0), ErrUnknownField},
		{"bad default", NewType("disk").WithProperty("size", KindInteger, "big"), ErrInvalidValue},
		{"enum without values", NewType("disk").WithEnum("state", nil, nil), ErrInvalidValue},
		{"dynamic without function", NewType("disk").WithDynamic("usage", KindFloat, 0, nil), ErrInvalidValue},
		{"shadowed relation guid", NewType("disk").
			WithProperty("machine_guid", KindString, nil).
			WithRelation(Relation{Name: "machine", Target: "machine", Backref: "disks"}), ErrUnknownField},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := NewRegistry().Register(tc.spec)
			assert.True(t, errors.Is(err, tc.err), "got %v", err)
		})
	}

	t.Run("backref collision", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(
			NewType("machine").WithProperty("disks", KindList, nil),
			NewType("disk").WithRelation(Relation{Name: "machine", Target: "machine", Backref: "disks"}),
		))
		persistent, volatile := newStores()
		_, err := New(reg, persistent, volatile)
		assert.True(t, errors.Is(err, ErrInvalidRelation))
	})

	t.Run("sealed registry", func(t *testing.T) {
		d := newTestDAL(t)
		assert.Error(t, d.Registry().Register(NewType("printer")))
	})

	t.Run("type ids are stable", func(t *testing.T) {
		a, b := testRegistry(t), testRegistry(t)
		for _, spec := range a.Types() {
			other, err := b.Type(spec.Name)
			require.NoError(t, err)
			assert.Equal(t, spec.TypeID(), other.TypeID())
			byID, err := b.TypeByID(spec.TypeID())
			require.NoError(t, err)
			assert.Equal(t, spec.Name, byID.Name)
		}
		other := NewType("machine").WithSource("inventory")
		require.NoError(t, NewRegistry().Register(other))
		machine, _ := a.Type("machine")
		assert.NotEqual(t, machine.TypeID(), other.TypeID())
	})
}

func TestForeignRelations(t *testing.T) {
	ctx := context.Background()
	d := newTestDAL(t)

	mapping, err := d.ForeignRelations(ctx, "machine")
	require.NoError(t, err)
	require.Contains(t, mapping, "disks")
	assert.Equal(t, "disk", mapping["disks"].Type.Name)
	assert.Equal(t, "machine", mapping["disks"].Relation)
	assert.True(t, mapping["disks"].IsList)

	mapping, err = d.ForeignRelations(ctx, "disk")
	require.NoError(t, err)
	assert.False(t, mapping["partition"].IsList)

	_, ok, err := d.volatile.Get(ctx, relationsKey("machine"))
	require.NoError(t, err)
	assert.True(t, ok)

	mapping, err = d.ForeignRelations(ctx, "partition")
	require.NoError(t, err)
	assert.Empty(t, mapping)
}

func TestDescriptors(t *testing.T) {
	ctx := context.Background()
	persistent, volatile := newStores()
	d, err := New(testRegistry(t), persistent, volatile)
	require.NoError(t, err)

	desc, err := d.Descriptor(ctx, "disk")
	require.NoError(t, err)
	assert.Equal(t, Descriptor{Name: "disk", Source: "dorm", TypeID: desc.TypeID}, desc)

	require.NoError(t, d.PublishDescriptors(ctx))
	require.NoError(t, d.PublishDescriptors(ctx))
	published, err := d.LoadDescriptor(ctx, "disk")
	require.NoError(t, err)
	assert.Equal(t, desc, published)

	// a process defining machine elsewhere must not take over the published descriptor
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewType("machine").WithSource("inventory")))
	other, err := New(reg, persistent, volatile)
	require.NoError(t, err)
	assert.True(t, errors.Is(other.PublishDescriptors(ctx), ErrUnknownType))
}

func TestCheckRelations(t *testing.T) {
	ctx := context.Background()
	d := newTestDAL(t)
	f := newFixture(t, d)

	problems, err := d.CheckRelations(ctx, "machine")
	require.NoError(t, err)
	assert.Empty(t, problems)

	missing := reverseKey("machine", f.alpha.Guid(), "disks", f.sda.Guid())
	stale := reverseKey("machine", f.beta.Guid(), "disks", f.sdb.Guid())
	gone := reverseKey("machine", f.beta.Guid(), "disks", "00000000-0000-0000-0000-000000000001")
	require.NoError(t, d.persistent.Apply(ctx, d.persistent.Begin().
		Delete(missing).
		Set(stale, []byte{}).
		Set(gone, []byte{})))

	reasons := map[string]string{}
	for _, typeName := range []string{"machine", "disk"} {
		problems, err := d.CheckRelations(ctx, typeName)
		require.NoError(t, err)
		for _, p := range problems {
			reasons[p.Key] = p.Reason
		}
		require.NoError(t, d.RepairRelations(ctx, problems))
	}
	assert.Equal(t, map[string]string{
		missing: ReasonMissingEdge,
		stale:   ReasonStaleEdge,
		gone:    ReasonDependentGone,
	}, reasons)

	for _, typeName := range []string{"machine", "disk"} {
		problems, err := d.CheckRelations(ctx, typeName)
		require.NoError(t, err)
		assert.Empty(t, problems)
	}
}

func TestConfigAndMetrics(t *testing.T) {
	c := Config{ListCacheTTLMin: 10, ListCacheTTLMax: 5, SaveRetries: -1}.normalize()
	assert.Equal(t, c.ListCacheTTLMin, c.ListCacheTTLMax)
	assert.Equal(t, 0, c.SaveRetries)
	assert.Contains(t, DefaultConfig().String(), "Save Retries")

	d := newTestDAL(t)
	createMachine(t, d, "m1")
	var buf bytes.Buffer
	WriteMetrics(&buf)
	assert.Contains(t, buf.String(), `hdal_save_total{type="machine"}`)
}
