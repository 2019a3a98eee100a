package util

import (
	"strings"
	"testing"

	"github.com/ValentinKolb/dORM/lib/hdal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		in   string
		want hdal.Filter
	}{
		{"size:GT:100", hdal.Filter{Field: "size", Op: hdal.GT, Value: float64(100)}},
		{"name:eq:sda", hdal.Filter{Field: "name", Op: hdal.EQ, Value: "sda"}},
		{"name:EQ~:SDA", hdal.Filter{Field: "name", Op: hdal.EQ, Value: "SDA", IgnoreCase: true}},
		{`status:IN:["ok","failed"]`, hdal.Filter{Field: "status", Op: hdal.IN, Value: []any{"ok", "failed"}}},
		{"machine.name:NE:a:b", hdal.Filter{Field: "machine.name", Op: hdal.NE, Value: "a:b"}},
		{"failed:EQ:true", hdal.Filter{Field: "failed", Op: hdal.EQ, Value: true}},
		{"machine:EQ:null", hdal.Filter{Field: "machine", Op: hdal.EQ, Value: nil}},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			f, err := ParseFilter(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, f)
		})
	}

	for _, bad := range []string{"size", "size:GT", ":EQ:1", "size:GE:1"} {
		_, err := ParseFilter(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseAssignment(t *testing.T) {
	name, value, err := ParseAssignment("size=42")
	require.NoError(t, err)
	assert.Equal(t, "size", name)
	assert.Equal(t, float64(42), value)

	_, value, err = ParseAssignment("labels={\"rack\":\"a1\"}")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"rack": "a1"}, value)

	_, value, err = ParseAssignment("name=a=b")
	require.NoError(t, err)
	assert.Equal(t, "a=b", value)

	_, _, err = ParseAssignment("size")
	assert.Error(t, err)
}

func TestHashString(t *testing.T) {
	assert.Equal(t, HashString("node-1"), HashString("node-1"))
	assert.NotEqual(t, HashString("node-1"), HashString("node-2"))
}

func TestWrapString(t *testing.T) {
	wrapped := WrapString(strings.Repeat("word ", 30))
	for _, line := range strings.Split(wrapped, "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
}
