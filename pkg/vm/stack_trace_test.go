package vm_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golox/pkg/compiler"
	"golox/pkg/vm"
)

// runForTrace returns the full stderr produced by a failing program.
func runForTrace(t *testing.T, src string) string {
	t.Helper()
	var stdout, stderr bytes.Buffer
	machine := vm.NewWithConfig(vm.DefaultConfig(), &stdout, &stderr)
	fun, err := compiler.Compile(src, machine.Heap())
	require.NoError(t, err)
	require.Error(t, machine.Run(fun))
	return stderr.String()
}

func TestStackTraceWalksFramesNewestFirst(t *testing.T) {
	stderr := runForTrace(t, `fun a() { b(); }
fun b() { c(); }
fun c() { c("too", "many"); }
a();`)

	want := "Expected 0 arguments but got 2.\n" +
		"[line 3] in c()\n" +
		"[line 2] in b()\n" +
		"[line 1] in a()\n" +
		"[line 4] in script\n"
	assert.Equal(t, want, stderr)
}

func TestTraceForTopLevelError(t *testing.T) {
	stderr := runForTrace(t, `print missing;`)
	want := "Undefined variable 'missing'.\n" +
		"[line 1] in script\n"
	assert.Equal(t, want, stderr)
}

func TestTraceReportsLineOfFailingInstruction(t *testing.T) {
	stderr := runForTrace(t, `var a = 1;
var b = 2;
print a + "oops";`)

	want := "Operands must be two numbers or two strings.\n" +
		"[line 3] in script\n"
	assert.Equal(t, want, stderr)
}

func TestVMIsUsableAfterRuntimeError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	machine := vm.NewWithConfig(vm.DefaultConfig(), &stdout, &stderr)

	fun, err := compiler.Compile(`var a = "set before failure"; missing();`, machine.Heap())
	require.NoError(t, err)
	require.Error(t, machine.Run(fun))

	// The stacks were cleared; globals written before the error remain.
	assert.Equal(t, 0, machine.StackSize())
	assert.Equal(t, 0, machine.FrameDepth())

	fun, err = compiler.Compile(`print a;`, machine.Heap())
	require.NoError(t, err)
	require.NoError(t, machine.Run(fun))
	assert.Equal(t, "set before failure\n", stdout.String())
}
