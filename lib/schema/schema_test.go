package schema

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/dORM/lib/db"
	"github.com/ValentinKolb/dORM/lib/db/engines/birch"
	"github.com/ValentinKolb/dORM/lib/db/engines/maple"
	"github.com/ValentinKolb/dORM/lib/hdal"
	"github.com/ValentinKolb/dORM/lib/store/lstore"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const inventory = `
types:
  - name: machine
    properties:
      - name: name
        kind: string
  - name: disk
    source: inventory
    properties:
      - name: name
        kind: string
      - name: size
        kind: integer
        default: 0
      - name: status
        kind: enum
        values: [ok, failed]
        default: ok
      - name: labels
        kind: mapping
        default: {rack: a1}
    relations:
      - name: machine
        target: machine
        backref: disks
`

func TestParse(t *testing.T) {
	specs, err := Parse([]byte(inventory))
	require.NoError(t, err)
	require.Len(t, specs, 2)

	disk := specs[1]
	assert.Equal(t, "disk", disk.Name)
	assert.Equal(t, "inventory", disk.Source)
	require.Len(t, disk.Properties, 4)
	assert.Equal(t, hdal.KindEnum, disk.Properties[2].Kind)
	assert.Equal(t, []string{"ok", "failed"}, disk.Properties[2].Enum)
	require.Len(t, disk.Relations, 1)
	assert.Equal(t, hdal.Relation{Name: "machine", Target: "machine", Backref: "disks"}, disk.Relations[0])

	reg := hdal.NewRegistry()
	require.NoError(t, reg.Register(specs...))
	assert.Equal(t, int64(0), disk.Properties[1].Default)
	assert.Equal(t, map[string]any{"rack": "a1"}, disk.Properties[3].Default)
	assert.Equal(t, hdal.DescriptorOf(disk).TypeID, disk.TypeID())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty document", ""},
		{"no types", "types: []"},
		{"unknown key", "types:\n  - name: disk\n    color: red\n"},
		{"unknown kind", "types:\n  - name: disk\n    properties:\n      - name: size\n        kind: bigint\n"},
		{"values without enum", "types:\n  - name: disk\n    properties:\n      - name: size\n        kind: integer\n        values: [a]\n"},
		{"not yaml", "types: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			assert.Error(t, err)
		})
	}

	// invalid defaults are caught on registration
	specs, err := Parse([]byte("types:\n  - name: disk\n    properties:\n      - name: status\n        kind: enum\n        values: [ok]\n        default: gone\n"))
	require.NoError(t, err)
	err = hdal.NewRegistry().Register(specs...)
	assert.True(t, errors.Is(err, hdal.ErrInvalidValue), "got %v", err)
}

func TestNewRegistry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inventory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(inventory), 0o644))

	hooked := 0
	reg, err := NewRegistry([]string{path}, func(spec *hdal.TypeSpec) {
		hooked++
		if spec.Name == "disk" {
			spec.WithDynamic("gigabytes", hdal.KindInteger, 0, func(ctx context.Context, o *hdal.DataObject) (any, error) {
				size, _ := o.Get("size")
				return size.(int64) / 1024, nil
			})
		}
	})
	require.NoError(t, err)
	assert.Equal(t, 2, hooked)

	d, err := hdal.New(reg,
		lstore.NewLocalStore(func() db.KVDB { return birch.NewBirchDB(nil) }),
		lstore.NewLocalVolatileStore(func() db.TTLKVDB { return maple.NewMapleDB(nil) }),
	)
	require.NoError(t, err)

	ctx := context.Background()
	machine, err := d.New("machine")
	require.NoError(t, err)
	require.NoError(t, machine.Set("name", "alpha"))
	require.NoError(t, machine.Save(ctx))

	disk, err := d.New("disk")
	require.NoError(t, err)
	require.NoError(t, disk.Set("size", 4096))
	require.NoError(t, disk.SetRelation("machine", machine))
	require.NoError(t, disk.Save(ctx))

	gb, err := disk.Dynamic(ctx, "gigabytes")
	require.NoError(t, err)
	assert.Equal(t, int64(4), gb)

	list, err := d.Query(ctx, "disk", hdal.And(hdal.Eq("machine.name", "alpha")))
	require.NoError(t, err)
	assert.Equal(t, []string{disk.Guid()}, list.Guids())

	t.Run("missing file", func(t *testing.T) {
		_, err := NewRegistry([]string{filepath.Join(dir, "missing.yaml")})
		assert.Error(t, err)
	})

	t.Run("duplicate types across files", func(t *testing.T) {
		_, err := NewRegistry([]string{path, path})
		assert.Error(t, err)
	})
}
