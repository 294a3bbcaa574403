package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeapAllocLinksObjects(t *testing.T) {
	heap := NewHeap(1<<20, 2)
	a := heap.Alloc(&ObjString{Chars: "a"})
	b := heap.Alloc(&ObjString{Chars: "b"})

	// Most recent allocation is the list head.
	assert.Same(t, b, heap.head)
	assert.Same(t, a, b.next)
	assert.Equal(t, 2, heap.Objects())
	assert.Greater(t, heap.BytesAllocated(), 0)
}

func TestHeapInternDedup(t *testing.T) {
	heap := NewHeap(1<<20, 2)
	first := heap.Intern("hello")
	second := heap.Intern("hello")
	other := heap.Intern("world")

	assert.Same(t, first, second)
	assert.NotSame(t, first, other)
	assert.Equal(t, 2, heap.Objects())
}

func TestSweepFreesUnmarked(t *testing.T) {
	heap := NewHeap(1<<20, 2)
	keep := heap.Alloc(&ObjString{Chars: "keep"})
	heap.Alloc(&ObjString{Chars: "drop"})
	before := heap.BytesAllocated()

	keep.marked = true
	freed := heap.Sweep()

	assert.Greater(t, freed, 0)
	assert.Equal(t, before-freed, heap.BytesAllocated())
	assert.Equal(t, 1, heap.Objects())
	assert.Same(t, keep, heap.head)
	// Survivors come out of a sweep unmarked, ready for the next cycle.
	assert.False(t, keep.marked)
}

func TestSweepRemovesInternEntries(t *testing.T) {
	heap := NewHeap(1<<20, 2)
	kept := heap.Intern("kept")
	heap.Intern("dropped")

	kept.marked = true
	heap.Sweep()

	_, ok := heap.Lookup("kept")
	assert.True(t, ok)
	_, ok = heap.Lookup("dropped")
	assert.False(t, ok)

	// A fresh intern of freed content allocates a new object.
	again := heap.Intern("dropped")
	require.NotNil(t, again)
	assert.Equal(t, 2, heap.Objects())
}

func TestSweepEverythingUnreachable(t *testing.T) {
	heap := NewHeap(1<<20, 2)
	heap.Alloc(&ObjString{Chars: "x"})
	heap.Alloc(&ObjString{Chars: "y"})
	heap.Alloc(&ObjString{Chars: "z"})

	heap.Sweep()

	assert.Equal(t, 0, heap.Objects())
	assert.Equal(t, 0, heap.BytesAllocated())
	assert.Nil(t, heap.head)
}

func TestSweepGrowsThreshold(t *testing.T) {
	heap := NewHeap(64, 2)
	o := heap.Alloc(&ObjString{Chars: "survivor of a decent length"})
	assert.True(t, heap.ShouldCollect())

	o.marked = true
	heap.Sweep()

	assert.Equal(t, heap.BytesAllocated()*2, heap.NextGC())
	assert.False(t, heap.ShouldCollect())
}

func TestCloseUpvaluesIdempotent(t *testing.T) {
	machine := New()
	machine.stack[0] = NumberValue(42)
	machine.sp = 1

	upvalue := machine.captureUpvalue(0)
	require.True(t, upvalue.Content.(*ObjUpvalue).Open)

	machine.closeUpvalues(0)
	content := upvalue.Content.(*ObjUpvalue)
	assert.False(t, content.Open)
	assert.Equal(t, NumberValue(42), content.Closed)
	assert.Empty(t, machine.openUpvalues)

	// Closing again is a no-op: the closed value survives even after
	// the stack slot changes.
	machine.stack[0] = NumberValue(99)
	machine.closeUpvalues(0)
	assert.Equal(t, NumberValue(42), upvalue.Content.(*ObjUpvalue).Closed)
}

func TestCaptureUpvalueDedup(t *testing.T) {
	machine := New()
	machine.stack[0] = NumberValue(1)
	machine.stack[1] = NumberValue(2)
	machine.sp = 2

	first := machine.captureUpvalue(0)
	second := machine.captureUpvalue(0)
	other := machine.captureUpvalue(1)

	// One open upvalue per stack slot: variables are captured, not
	// values.
	assert.Same(t, first, second)
	assert.NotSame(t, first, other)
	assert.Len(t, machine.openUpvalues, 2)
}
