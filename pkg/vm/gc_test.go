package vm_test

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golox/pkg/compiler"
	"golox/pkg/vm"
)

func TestGCCollectsUnreachableStrings(t *testing.T) {
	machine := vm.NewWithConfig(vm.DefaultConfig(), io.Discard, io.Discard)

	fun, err := compiler.Compile(`
var keep = "kept-" + "value";
for (var i = 0; i < 50; i = i + 1) {
  var scratch = "waste" + "waste";
}
`, machine.Heap())
	require.NoError(t, err)
	require.NoError(t, machine.Run(fun))

	before := machine.Heap().BytesAllocated()
	machine.CollectGarbage()
	after := machine.Heap().BytesAllocated()

	// The loop temporaries are unreachable and must go; the global
	// binding keeps its string alive.
	assert.Less(t, after, before)
	_, ok := machine.Heap().Lookup("kept-value")
	assert.True(t, ok, "reachable interned string must survive")
	_, ok = machine.Heap().Lookup("wastewaste")
	assert.False(t, ok, "unreachable interned string must be freed")
}

func TestGCReturnsToBaseline(t *testing.T) {
	machine := vm.NewWithConfig(vm.DefaultConfig(), io.Discard, io.Discard)

	// Establish a baseline with no program garbage.
	machine.CollectGarbage()
	baseline := machine.Heap().BytesAllocated()

	fun, err := compiler.Compile(`
for (var i = 0; i < 20; i = i + 1) {
  var a = "aaaa" + "bbbb";
  var b = a + a;
}
`, machine.Heap())
	require.NoError(t, err)
	require.NoError(t, machine.Run(fun))
	require.Greater(t, machine.Heap().BytesAllocated(), baseline)

	machine.CollectGarbage()

	// Everything the program allocated, including the compiled script
	// and its constants, is unreachable once Run returns, so the heap
	// settles back at the baseline.
	assert.Equal(t, baseline, machine.Heap().BytesAllocated())
}

func TestGCKeepsReachableGraph(t *testing.T) {
	var out bytes.Buffer
	machine := vm.NewWithConfig(vm.DefaultConfig(), &out, io.Discard)
	fun, err := compiler.Compile(`
class Node {
  init(label) { this.label = label; }
}
var root = Node("r" + "oot");
`, machine.Heap())
	require.NoError(t, err)
	require.NoError(t, machine.Run(fun))

	machine.CollectGarbage()

	// The instance, its class, the class name and the field string all
	// stay reachable through the global.
	fun, err = compiler.Compile(`print root.label;`, machine.Heap())
	require.NoError(t, err)
	require.NoError(t, machine.Run(fun))
	assert.Equal(t, "root\n", out.String())
}

// With stress mode on, a collection runs at every allocation site. Any
// missing pin shows up as a use-after-free style failure here.
func TestGCStressMode(t *testing.T) {
	cfg := vm.DefaultConfig()
	cfg.GCStress = true

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"concat chain", `var s = "a"; for (var i = 0; i < 10; i = i + 1) { s = s + "x"; } print s;`, "axxxxxxxxxx\n"},
		{"closures", `
fun adder(n) { fun add(m) { return n + m; } return add; }
print adder(2)(3);`, "5\n"},
		{"classes", `
class A { greet() { print "A"; } }
class B < A { greet() { super.greet(); print "B"; } }
B().greet();`, "A\nB\n"},
		{"bound methods", `
class C { init() { this.v = "v"; } get() { return this.v; } }
var g = C().get;
print g();`, "v\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := interpretWithConfig(t, tt.src, cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestGCTraceOutput(t *testing.T) {
	cfg := vm.DefaultConfig()
	cfg.GCStress = true
	cfg.TraceGC = true

	var stdout, stderr bytes.Buffer
	machine := vm.NewWithConfig(cfg, &stdout, &stderr)
	fun, err := compiler.Compile(`var s = "a" + "b";`, machine.Heap())
	require.NoError(t, err)
	require.NoError(t, machine.Run(fun))

	assert.Contains(t, stderr.String(), "-- gc begin")
	assert.Contains(t, stderr.String(), "-- gc end")
	assert.True(t, strings.Contains(stderr.String(), "collected"))
}
