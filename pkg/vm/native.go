package vm

import "time"

// DefineNative registers a built-in function under the given name. The
// native object is pinned on the operand stack while the global binding
// is created, since defining the global does not allocate but future
// natives might arrive after user code has already grown the heap.
func (vm *VM) DefineNative(name string, arity int, fn NativeFn) {
	nameObj := vm.internString(name)
	vm.push(ObjectValue(nameObj))
	native := vm.allocate(&ObjNative{Arity: arity, Fn: fn})
	vm.push(ObjectValue(native))
	vm.globals[nameObj] = vm.stack[vm.sp-1]
	vm.pop()
	vm.pop()
}

// clockNative implements the clock built-in: seconds since the Unix
// epoch, as a Number.
func clockNative(_ []Value) Value {
	return NumberValue(float64(time.Now().UnixNano()) / 1e9)
}
