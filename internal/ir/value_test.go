package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalValue(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Value
	}{
		{"string", `"Sync"`, String("Sync")},
		{"int", `42`, Int(42)},
		{"negative int", `-7`, Int(-7)},
		{"true", `true`, Bool(true)},
		{"false", `false`, Bool(false)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := UnmarshalValue([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v)
		})
	}
}

func TestUnmarshalValueRejects(t *testing.T) {
	for _, input := range []string{`null`, `3.14`, `1e10`, `[1]`, `{"a":1}`, `99999999999999999999`, ``} {
		t.Run(input, func(t *testing.T) {
			_, err := UnmarshalValue([]byte(input))
			assert.Error(t, err)
		})
	}
}

func TestMarshalValue(t *testing.T) {
	data, err := MarshalValue(String("<a>"))
	require.NoError(t, err)
	assert.Equal(t, `"<a>"`, string(data))

	data, err = MarshalValue(Int(3))
	require.NoError(t, err)
	assert.Equal(t, `3`, string(data))

	_, err = MarshalValue(nil)
	assert.Error(t, err)
}

func TestValueEqual(t *testing.T) {
	assert.True(t, ValueEqual(String("a"), String("a")))
	assert.False(t, ValueEqual(String("1"), Int(1)))
	assert.False(t, ValueEqual(Int(1), Int(2)))
	assert.True(t, ValueEqual(Bool(true), Bool(true)))
	assert.True(t, ValueEqual(nil, nil))
	assert.False(t, ValueEqual(nil, String("")))
}

func TestRowEqualAndClone(t *testing.T) {
	row := Row{"title": String("Standup"), "position": Int(1)}
	clone := row.Clone()
	assert.True(t, row.Equal(clone))

	clone["title"] = String("Sync")
	assert.False(t, row.Equal(clone))
	assert.Equal(t, String("Standup"), row["title"])

	assert.False(t, row.Equal(Row{"title": String("Standup")}))
	assert.Nil(t, Row(nil).Clone())
}

func TestRowSortedKeys(t *testing.T) {
	row := Row{"zebra": Int(1), "alpha": Int(2), "beta": Int(3)}
	assert.Equal(t, []string{"alpha", "beta", "zebra"}, row.SortedKeys())
}

func TestAccessors(t *testing.T) {
	assert.Equal(t, "x", AsString(String("x")))
	assert.Equal(t, "", AsString(Int(1)))

	n, ok := AsInt(Int(5))
	assert.True(t, ok)
	assert.Equal(t, int64(5), n)
	_, ok = AsInt(String("5"))
	assert.False(t, ok)

	assert.True(t, AsBool(Bool(true)))
	assert.False(t, AsBool(nil))
}

func TestCompareKeysRFC8785(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"a", "b", -1},
		{"b", "a", 1},
		{"a", "a", 0},
		{"aa", "a", 1},
		{"", "a", -1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.expected, compareKeysRFC8785(tt.a, tt.b))
		})
	}
}
