package hdal

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// diskModel mirrors the stored state of a disk
type diskModel struct {
	obj     *DataObject
	name    string
	size    int
	status  string
	machine int
}

// queryModel is an in-memory copy of the stored machines and disks
type queryModel struct {
	machines []*DataObject
	names    []string
	disks    []*diskModel
}

func (m *queryModel) field(disk *diskModel, field string) any {
	switch field {
	case "size":
		return disk.size
	case "name":
		return disk.name
	case "status":
		return disk.status
	case "machine.name":
		return m.names[disk.machine]
	}
	panic("unknown field " + field)
}

func (m *queryModel) matchFilter(disk *diskModel, f Filter) bool {
	left := m.field(disk, f.Field)
	switch f.Op {
	case EQ:
		return left == f.Value
	case NE:
		return left != f.Value
	case LT, GT:
		var c int
		switch l := left.(type) {
		case int:
			c = l - f.Value.(int)
		case string:
			c = strings.Compare(l, f.Value.(string))
		}
		if f.Op == LT {
			return c < 0
		}
		return c > 0
	case IN:
		return slices.Contains(f.Value.([]any), left)
	}
	panic("unknown operator " + string(f.Op))
}

func (m *queryModel) match(disk *diskModel, q Query) bool {
	for _, item := range q.Items {
		var ok bool
		switch it := item.(type) {
		case Filter:
			ok = m.matchFilter(disk, it)
		case Query:
			ok = m.match(disk, it)
		}
		if q.Type == AND && !ok {
			return false
		}
		if q.Type == OR && ok {
			return true
		}
	}
	return q.Type == AND
}

func (m *queryModel) expected(q Query) []string {
	guids := []string{}
	for _, disk := range m.disks {
		if m.match(disk, q) {
			guids = append(guids, disk.obj.Guid())
		}
	}
	return guids
}

var (
	randomDiskNames   = []string{"sda", "sdb", "sdc", "sdd", "sde", "sdf"}
	randomStatuses    = []string{"ok", "failed"}
	randomMachineName = []string{"alpha", "beta", "gamma", "delta"}
)

// randomValue returns a value of a field, some of them are never stored
func randomValue(r *rand.Rand, field string) any {
	switch field {
	case "size":
		return r.Intn(12)
	case "name":
		return randomDiskNames[r.Intn(len(randomDiskNames))]
	case "status":
		return randomStatuses[r.Intn(len(randomStatuses))]
	default:
		return randomMachineName[r.Intn(len(randomMachineName))]
	}
}

func randomFilter(r *rand.Rand) Filter {
	field := []string{"size", "name", "status", "machine.name"}[r.Intn(4)]
	switch r.Intn(5) {
	case 0:
		return Eq(field, randomValue(r, field))
	case 1:
		return Ne(field, randomValue(r, field))
	case 2:
		return Lt(field, randomValue(r, field))
	case 3:
		return Gt(field, randomValue(r, field))
	default:
		values := make([]any, 1+r.Intn(3))
		for i := range values {
			values[i] = randomValue(r, field)
		}
		return In(field, values)
	}
}

func randomQuery(r *rand.Rand, depth int) Query {
	items := make([]Item, 1+r.Intn(3))
	for i := range items {
		if depth > 0 && r.Intn(3) == 0 {
			items[i] = randomQuery(r, depth-1)
		} else {
			items[i] = randomFilter(r)
		}
	}
	if r.Intn(2) == 0 {
		return And(items...)
	}
	return Or(items...)
}

func TestQueryRandomized(t *testing.T) {
	ctx := context.Background()
	d := newTestDAL(t)

	seed := time.Now().UnixNano()
	t.Logf("seed %d", seed)
	r := rand.New(rand.NewSource(seed))

	m := &queryModel{names: []string{"alpha", "beta", "gamma"}}
	for _, name := range m.names {
		m.machines = append(m.machines, createMachine(t, d, name))
	}
	for i := 0; i < 30; i++ {
		disk := &diskModel{
			name:    randomDiskNames[r.Intn(len(randomDiskNames))],
			size:    r.Intn(10),
			status:  randomStatuses[r.Intn(len(randomStatuses))],
			machine: r.Intn(len(m.machines)),
		}
		disk.obj = createDisk(t, d, disk.name, disk.size, m.machines[disk.machine])
		require.NoError(t, disk.obj.Set("status", disk.status))
		require.NoError(t, disk.obj.Save(ctx))
		m.disks = append(m.disks, disk)
	}

	for i := 0; i < 200; i++ {
		// writes between the queries keep the cached results honest
		if i%10 == 9 {
			disk := m.disks[r.Intn(len(m.disks))]
			disk.size = r.Intn(10)
			disk.machine = r.Intn(len(m.machines))
			require.NoError(t, disk.obj.Set("size", disk.size))
			require.NoError(t, disk.obj.SetRelation("machine", m.machines[disk.machine]))
			require.NoError(t, disk.obj.Save(ctx))

			if r.Intn(2) == 0 {
				idx := r.Intn(len(m.machines))
				m.names[idx] = randomMachineName[r.Intn(len(randomMachineName))]
				require.NoError(t, m.machines[idx].Set("name", m.names[idx]))
				require.NoError(t, m.machines[idx].Save(ctx))
			}
		}

		q := randomQuery(r, 2)
		list, err := d.Query(ctx, "disk", q)
		require.NoError(t, err)
		require.ElementsMatch(t, m.expected(q), list.Guids(), fmt.Sprintf("query %d: %+v", i, q))
	}
}
