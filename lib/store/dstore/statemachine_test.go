package dstore

import (
	"bytes"
	"testing"

	"github.com/ValentinKolb/dORM/lib/db"
	"github.com/ValentinKolb/dORM/lib/db/engines/birch"
	"github.com/ValentinKolb/dORM/lib/store"
	"github.com/ValentinKolb/dORM/lib/store/dstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStateMachine() sm.IConcurrentStateMachine {
	factory := CreateStateMachineFactory(func() db.KVDB { return birch.NewBirchDB(nil) })
	return factory(1, 1)
}

func entry(index uint64, ops ...db.Op) sm.Entry {
	cmd := internal.Command{Type: internal.CommandTApply, Ops: ops}
	return sm.Entry{Index: index, Cmd: cmd.Serialize()}
}

func TestStateMachineUpdateAndLookup(t *testing.T) {
	fsm := newTestStateMachine()
	defer fsm.Close()

	entries, err := fsm.Update([]sm.Entry{
		entry(1, db.Op{Type: db.OpAssertAbsent, Key: "a"}, db.Op{Type: db.OpSet, Key: "a", Value: []byte("1")}),
		entry(2, db.Op{Type: db.OpSet, Key: "b", Value: []byte("2")}),
		// fails, a already exists
		entry(3, db.Op{Type: db.OpAssertAbsent, Key: "a"}, db.Op{Type: db.OpSet, Key: "c", Value: []byte("3")}),
		{Index: 4, Cmd: nil},
		{Index: 5, Cmd: []byte{1}},
	})
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, uint64(store.RetCSuccess), entries[0].Result.Value)
	assert.Equal(t, uint64(store.RetCSuccess), entries[1].Result.Value)
	assert.Equal(t, uint64(store.RetCRaceCondition), entries[2].Result.Value)
	assert.Equal(t, uint64(store.RetCInvalidOperation), entries[3].Result.Value)
	assert.Equal(t, uint64(store.RetCInternalError), entries[4].Result.Value)

	res, err := fsm.Lookup(internal.Query{Type: internal.QueryTGet, Key: "a"})
	require.NoError(t, err)
	assert.Equal(t, internal.QueryResult{Ok: true, Value: []byte("1")}, res)

	res, err = fsm.Lookup(internal.Query{Type: internal.QueryTGet, Key: "c"})
	require.NoError(t, err)
	assert.False(t, res.(internal.QueryResult).Ok)

	res, err = fsm.Lookup(internal.Query{Type: internal.QueryTGetMulti, Keys: []string{"b", "a"}})
	require.NoError(t, err)
	multi := res.(internal.MultiQueryResult)
	assert.True(t, multi.Ok)
	assert.Equal(t, [][]byte{[]byte("2"), []byte("1")}, multi.Values)

	res, err = fsm.Lookup(internal.Query{Type: internal.QueryTGetMulti, Keys: []string{"a", "c"}})
	require.NoError(t, err)
	multi = res.(internal.MultiQueryResult)
	assert.False(t, multi.Ok)
	assert.Equal(t, "c", multi.Missing)

	res, err = fsm.Lookup(internal.Query{Type: internal.QueryTScan, Prefix: "", After: "a", Limit: 10, KeysOnly: true})
	require.NoError(t, err)
	scanned := res.([]db.Entry)
	require.Len(t, scanned, 1)
	assert.Equal(t, "b", scanned[0].Key)
	assert.Nil(t, scanned[0].Value)

	res, err = fsm.Lookup(internal.Query{Type: internal.QueryTGetDBInfo})
	require.NoError(t, err)
	assert.Equal(t, 2, res.(db.DatabaseInfo).Entries)

	_, err = fsm.Lookup("not a query")
	assert.Error(t, err)
}

func TestStateMachineSnapshot(t *testing.T) {
	fsm := newTestStateMachine()
	defer fsm.Close()

	_, err := fsm.Update([]sm.Entry{
		entry(1, db.Op{Type: db.OpSet, Key: "x", Value: []byte("1")}, db.Op{Type: db.OpSet, Key: "y", Value: []byte("2")}),
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	ctx, err := fsm.PrepareSnapshot()
	require.NoError(t, err)
	require.NoError(t, fsm.SaveSnapshot(ctx, &buf, nil, nil))

	restored := newTestStateMachine()
	defer restored.Close()
	require.NoError(t, restored.RecoverFromSnapshot(&buf, nil, nil))

	res, err := restored.Lookup(internal.Query{Type: internal.QueryTGetMulti, Keys: []string{"x", "y"}})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("1"), []byte("2")}, res.(internal.MultiQueryResult).Values)
}
