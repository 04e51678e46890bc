package npy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFloat64_HeaderAndShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.npy")
	data := []float64{1, 2, 3, 4, 5, 6}
	require.NoError(t, WriteFloat64(path, []int{2, 3}, data))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, magic, string(raw[:6]))
	assert.Equal(t, byte(1), raw[6])
	assert.Equal(t, byte(0), raw[7])

	headerLen := int(raw[8]) | int(raw[9])<<8
	preamble := 10 + headerLen
	assert.Equal(t, 0, preamble%64, "preamble must be 64-byte aligned")

	header := string(raw[10:preamble])
	assert.Contains(t, header, "'descr': '<f8'")
	assert.Contains(t, header, "'shape': (2, 3)")

	body := raw[preamble:]
	assert.Len(t, body, 8*len(data))
}

func TestWriteInt64_MismatchedLengthErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.npy")
	err := WriteInt64(path, []int{2, 2}, []int64{1, 2, 3})
	assert.Error(t, err)
}

func TestShapeLiteral_OneDimensionalHasTrailingComma(t *testing.T) {
	assert.Equal(t, "(3,)", shapeLiteral([]int{3}))
	assert.Equal(t, "(2, 3)", shapeLiteral([]int{2, 3}))
}
