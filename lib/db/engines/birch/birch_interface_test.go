package birch

import (
	"testing"

	"github.com/ValentinKolb/dORM/lib/db"
	dbtesting "github.com/ValentinKolb/dORM/lib/db/testing"
	"github.com/stretchr/testify/require"
)

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "BirchDB", func() db.KVDB {
		return NewBirchDB(nil)
	})
}

func TestSizeAccounting(t *testing.T) {
	database := NewBirchDB(&DBOptions{Degree: 2})
	defer database.Close()

	require.NoError(t, database.Apply([]db.Op{
		{Type: db.OpSet, Key: "ab", Value: []byte("1234")},
		{Type: db.OpSet, Key: "cd", Value: []byte("12")},
	}, 1))
	require.Equal(t, 10, database.GetInfo().SizeBytes)

	require.NoError(t, database.Apply([]db.Op{
		{Type: db.OpSet, Key: "ab", Value: []byte("1")},
		{Type: db.OpDelete, Key: "cd"},
	}, 2))
	info := database.GetInfo()
	require.Equal(t, 3, info.SizeBytes)
	require.Equal(t, 1, info.Entries)
	require.Equal(t, db.ImplBirch, info.DbType)
}

func TestScanAfterOutsidePrefix(t *testing.T) {
	database := NewBirchDB(nil)
	defer database.Close()

	require.NoError(t, database.Apply([]db.Op{
		{Type: db.OpSet, Key: "p_1", Value: []byte("a")},
		{Type: db.OpSet, Key: "p_2", Value: []byte("b")},
	}, 1))

	// a marker before the prefix range starts at the prefix
	require.Len(t, database.Scan("p_", "a", 0, true), 2)
	// a marker behind the prefix range yields nothing
	require.Empty(t, database.Scan("p_", "q", 0, true))
}
