package patch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitJoin(t *testing.T) {
	tests := []struct {
		name     string
		pointer  string
		segments []string
	}{
		{name: "root", pointer: "", segments: []string{}},
		{name: "single", pointer: "/title", segments: []string{"title"}},
		{name: "nested index", pointer: "/tags/2", segments: []string{"tags", "2"}},
		{name: "escaped", pointer: "/a~1b/c~0d", segments: []string{"a/b", "c~d"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Split(tc.pointer)
			require.NoError(t, err)
			assert.Equal(t, tc.segments, got)
			assert.Equal(t, tc.pointer, Join(tc.segments...))
		})
	}
}

func TestSplit_Invalid(t *testing.T) {
	_, err := Split("title")
	assert.ErrorIs(t, err, ErrInvalidPointer)
}

func TestIndex(t *testing.T) {
	idx, ok := Index("12")
	assert.True(t, ok)
	assert.Equal(t, 12, idx)

	_, ok = Index("-1")
	assert.False(t, ok)
	_, ok = Index("name")
	assert.False(t, ok)
}

func TestEdit_JSON(t *testing.T) {
	data, err := json.Marshal(Edit{Op: Replace, Path: "/name", Value: "hello"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"replace","path":"/name","value":"hello"}`, string(data))

	var e Edit
	require.NoError(t, json.Unmarshal([]byte(`{"op":"remove","path":"/tags/0"}`), &e))
	assert.Equal(t, Edit{Op: Remove, Path: "/tags/0"}, e)

	err = json.Unmarshal([]byte(`{"op":"move","path":"/x"}`), &e)
	assert.ErrorIs(t, err, ErrUnknownKind)
}
