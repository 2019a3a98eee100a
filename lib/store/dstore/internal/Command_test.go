package internal

import (
	"testing"

	"github.com/ValentinKolb/dORM/lib/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSizeBytes tests the SizeBytes method
func TestSizeBytes(t *testing.T) {
	tests := []struct {
		name     string
		command  Command
		expected int
	}{
		{
			name:     "Empty batch",
			command:  Command{Type: CommandTApply},
			expected: 1 + 4,
		},
		{
			name: "Set and delete",
			command: Command{Type: CommandTApply, Ops: []db.Op{
				{Type: db.OpSet, Key: "testkey", Value: []byte("testvalue")},
				{Type: db.OpDelete, Key: "old"},
			}},
			expected: 1 + 4 + (1 + 4 + 7 + 4 + 9) + (1 + 4 + 3 + 4 + 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.command.SizeBytes())
			assert.Len(t, tt.command.Serialize(), tt.expected)
		})
	}
}

// TestSerializeDeserialize tests both Serialize and Deserialize methods
func TestSerializeDeserialize(t *testing.T) {
	tests := []struct {
		name    string
		command Command
	}{
		{
			name: "Guarded save",
			command: Command{Type: CommandTApply, Ops: []db.Op{
				{Type: db.OpAssert, Key: "ovs_data_disk_1", Value: []byte(`{"name":"a"}`)},
				{Type: db.OpSet, Key: "ovs_data_disk_1", Value: []byte(`{"name":"b"}`)},
				{Type: db.OpDelete, Key: "ovs_listcache_disk|abc|name"},
			}},
		},
		{
			name: "First save",
			command: Command{Type: CommandTApply, Ops: []db.Op{
				{Type: db.OpAssertAbsent, Key: "ovs_data_disk_2"},
				{Type: db.OpSet, Key: "ovs_data_disk_2", Value: []byte{}},
			}},
		},
		{
			name:    "Empty batch",
			command: Command{Type: CommandTApply, Ops: []db.Op{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.command.Serialize()

			var result Command
			require.NoError(t, result.Deserialize(data))
			assert.Equal(t, tt.command.Type, result.Type)
			require.Len(t, result.Ops, len(tt.command.Ops))
			for i, op := range tt.command.Ops {
				assert.Equal(t, op.Type, result.Ops[i].Type)
				assert.Equal(t, op.Key, result.Ops[i].Key)
				if op.Type == db.OpSet || op.Type == db.OpAssert {
					assert.Equal(t, op.Value, result.Ops[i].Value)
				} else {
					assert.Nil(t, result.Ops[i].Value)
				}
			}
		})
	}
}

// TestDeserializeCopiesValues makes sure the command does not alias the raft buffer
func TestDeserializeCopiesValues(t *testing.T) {
	cmd := Command{Type: CommandTApply, Ops: []db.Op{{Type: db.OpSet, Key: "k", Value: []byte("value")}}}
	data := cmd.Serialize()

	var result Command
	require.NoError(t, result.Deserialize(data))
	for i := range data {
		data[i] = 0
	}
	assert.Equal(t, []byte("value"), result.Ops[0].Value)
	assert.Equal(t, "k", result.Ops[0].Key)
}

// TestDeserializeErrors tests error cases for Deserialize
func TestDeserializeErrors(t *testing.T) {
	valid := (&Command{Type: CommandTApply, Ops: []db.Op{{Type: db.OpSet, Key: "key", Value: []byte("value")}}}).Serialize()

	tests := []struct {
		name string
		data []byte
	}{
		{"Empty", []byte{}},
		{"Header only type", []byte{0}},
		{"Op count too large", []byte{0, 0xff, 0xff, 0xff, 0xff}},
		{"Truncated key", valid[:8]},
		{"Truncated value", valid[:len(valid)-2]},
		{"Trailing bytes", append(append([]byte{}, valid...), 1, 2, 3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cmd Command
			assert.Error(t, cmd.Deserialize(tt.data))
		})
	}
}

func TestCommandTypeString(t *testing.T) {
	assert.Equal(t, "Apply", CommandTApply.String())
	assert.Equal(t, "Unknown(9)", CommandType(9).String())
}
