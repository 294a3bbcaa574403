package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golox/pkg/bytecode"
)

func TestChunkWrite(t *testing.T) {
	var chunk Chunk
	chunk.WriteOp(bytecode.OpConst, 1)
	chunk.Write(0, 1)
	chunk.WriteOp(bytecode.OpReturn, 2)

	require.Equal(t, []byte{byte(bytecode.OpConst), 0, byte(bytecode.OpReturn)}, chunk.Code)
}

func TestChunkAddConstant(t *testing.T) {
	var chunk Chunk
	assert.Equal(t, 0, chunk.AddConstant(NumberValue(1)))
	assert.Equal(t, 1, chunk.AddConstant(NumberValue(2)))
	assert.Len(t, chunk.Constants, 2)
}

func TestChunkLineTable(t *testing.T) {
	var chunk Chunk
	// Three bytes from line 1, one from line 2, two from line 5.
	chunk.Write(1, 1)
	chunk.Write(2, 1)
	chunk.Write(3, 1)
	chunk.Write(4, 2)
	chunk.Write(5, 5)
	chunk.Write(6, 5)

	tests := []struct {
		offset int
		line   int
	}{
		{0, 1}, {1, 1}, {2, 1}, {3, 2}, {4, 5}, {5, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.line, chunk.GetLine(tt.offset), "offset %d", tt.offset)
	}

	// Run-length encoding keeps one entry per run, not per byte.
	assert.Len(t, chunk.lines, 3)

	// Out of range.
	assert.Equal(t, 0, chunk.GetLine(99))
}
