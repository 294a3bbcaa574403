package vm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueTruthiness(t *testing.T) {
	heap := NewHeap(1<<20, 2)
	empty := heap.Intern("")

	tests := []struct {
		name   string
		value  Value
		falsey bool
	}{
		{"nil", NilValue(), true},
		{"false", BoolValue(false), true},
		{"true", BoolValue(true), false},
		{"zero", NumberValue(0), false},
		{"number", NumberValue(3.5), false},
		{"empty string", ObjectValue(empty), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.falsey, tt.value.IsFalsey())
		})
	}
}

func TestValueEquality(t *testing.T) {
	heap := NewHeap(1<<20, 2)
	a := heap.Intern("a")
	b := heap.Intern("b")

	tests := []struct {
		name  string
		lhs   Value
		rhs   Value
		equal bool
	}{
		{"nil equals nil", NilValue(), NilValue(), true},
		{"bools by value", BoolValue(true), BoolValue(true), true},
		{"bools differ", BoolValue(true), BoolValue(false), false},
		{"numbers by value", NumberValue(2), NumberValue(2), true},
		{"NaN is not NaN", NumberValue(math.NaN()), NumberValue(math.NaN()), false},
		{"cross type number bool", NumberValue(1), BoolValue(true), false},
		{"cross type nil false", NilValue(), BoolValue(false), false},
		{"same string object", ObjectValue(a), ObjectValue(a), true},
		{"distinct strings", ObjectValue(a), ObjectValue(b), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, tt.lhs.Equals(tt.rhs))
		})
	}
}

func TestInternedStringsCompareByIdentity(t *testing.T) {
	heap := NewHeap(1<<20, 2)
	first := heap.Intern("shared")
	second := heap.Intern("shared")
	assert.Same(t, first, second)
	assert.True(t, ObjectValue(first).Equals(ObjectValue(second)))
}

func TestNumberFormatting(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{7, "7"},
		{120, "120"},
		{0.5, "0.5"},
		{-3, "-3"},
		{math.Inf(1), "+Inf"},
		{math.Inf(-1), "-Inf"},
		{math.NaN(), "NaN"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NumberValue(tt.in).String())
	}
}

func TestValueStringRendering(t *testing.T) {
	heap := NewHeap(1<<20, 2)
	name := heap.Intern("greet")

	fun := heap.Alloc(&ObjFunction{Name: name})
	class := heap.Alloc(&ObjClass{Name: heap.Intern("Point"), Methods: map[*Object]*Object{}})
	instance := heap.Alloc(&ObjInstance{Class: class, Fields: map[*Object]Value{}})

	assert.Equal(t, "nil", NilValue().String())
	assert.Equal(t, "true", BoolValue(true).String())
	assert.Equal(t, "greet", ObjectValue(name).String())
	assert.Equal(t, "<fn greet>", ObjectValue(fun).String())
	assert.Equal(t, "Point", ObjectValue(class).String())
	assert.Equal(t, "Point instance", ObjectValue(instance).String())
}
