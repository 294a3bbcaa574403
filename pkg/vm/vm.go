// Package vm implements the bytecode virtual machine for golox.
//
// The VM is a stack-based interpreter executing the instruction set
// defined in pkg/bytecode. It is the final stage of the pipeline:
//
//	Source -> Scanner -> Compiler -> Chunk -> VM -> Execution
//
// Architecture:
//
//  1. Operand stack: fixed capacity of 256 Values shared by every frame.
//     Each frame owns a window starting at its slot base; slot 0 of the
//     window holds the callee (or the receiver for method calls) and the
//     arguments sit in slots 1..argc.
//  2. Frame stack: fixed capacity of 64 in-progress calls, each with its
//     closure, instruction pointer and slot base.
//  3. Globals: a map from interned name string to Value, persisting
//     across Run calls so a REPL keeps its state.
//  4. Open upvalues: the list of upvalues still referencing live stack
//     slots, shared between every closure that captured the same
//     variable.
//  5. Heap: the owner of every object, collected by a stop-the-world
//     tracing mark-and-sweep triggered only at allocation sites.
//
// Execution is strictly single-threaded; an opcode either completes or
// unwinds with a runtime error, which the VM reports with a stack trace
// before clearing its stacks.
package vm

import (
	"fmt"
	"io"
	"os"

	"golox/pkg/bytecode"
)

const (
	// StackMax is the operand stack capacity.
	StackMax = 256
	// FramesMax is the call depth limit.
	FramesMax = 64
)

// CallFrame records one in-progress call: the closure being executed,
// the instruction pointer into its chunk, and the operand-stack index of
// the callee's reserved region.
type CallFrame struct {
	closure *Object
	ip      int
	slot    int
}

func (f *CallFrame) function() *ObjFunction {
	return f.closure.Content.(*ObjClosure).Function()
}

// VM is the virtual machine. Create one with New or NewWithConfig; it is
// reusable across Run calls and keeps globals, interned strings and the
// heap alive in between.
type VM struct {
	stack        [StackMax]Value
	sp           int
	frames       [FramesMax]CallFrame
	frameCount   int
	openUpvalues []*Object
	globals      map[*Object]Value
	heap         *Heap
	grey         []*Object
	initString   *Object
	config       Config
	stdout       io.Writer
	stderr       io.Writer
}

// New creates a VM with the default configuration, printing program
// output to stdout and diagnostics to stderr.
func New() *VM {
	return NewWithConfig(DefaultConfig(), os.Stdout, os.Stderr)
}

// NewWithConfig creates a VM with explicit tunables and output streams.
func NewWithConfig(cfg Config, stdout, stderr io.Writer) *VM {
	vm := &VM{
		heap:    NewHeap(cfg.GCInitialThreshold, cfg.GCGrowFactor),
		globals: make(map[*Object]Value),
		config:  cfg,
		stdout:  stdout,
		stderr:  stderr,
	}
	vm.initString = vm.internString("init")
	vm.DefineNative("clock", 0, clockNative)
	return vm
}

// Heap exposes the VM's heap so the compiler can intern names and
// allocate function objects into it.
func (vm *VM) Heap() *Heap {
	return vm.heap
}

// StackSize returns the operand stack depth. After a successful Run it
// is zero.
func (vm *VM) StackSize() int {
	return vm.sp
}

// FrameDepth returns the call stack depth. After a successful Run it is
// zero.
func (vm *VM) FrameDepth() int {
	return vm.frameCount
}

// Run executes a compiled script function. The function is wrapped in a
// closure, pushed, and dispatched until it returns or a runtime error
// unwinds. On error the VM prints the message and a stack trace to its
// error stream, clears the operand and frame stacks, and returns the
// error; globals and already-performed side effects remain.
func (vm *VM) Run(script *Object) error {
	// The script function arrived from the compiler unreachable from any
	// root. Pin it before the closure allocation can trigger a
	// collection.
	if err := vm.push(ObjectValue(script)); err != nil {
		return vm.abort(err)
	}
	closure := vm.allocate(&ObjClosure{Fun: script})
	vm.pop()
	if err := vm.push(ObjectValue(closure)); err != nil {
		return vm.abort(err)
	}
	if err := vm.callClosure(closure, 0); err != nil {
		return vm.abort(err)
	}
	if err := vm.run(); err != nil {
		return vm.abort(err)
	}
	return nil
}

// abort reports a runtime error with a stack trace and resets the VM's
// stacks.
func (vm *VM) abort(err error) error {
	fmt.Fprintln(vm.stderr, err)
	for i := vm.frameCount - 1; i >= 0; i-- {
		frame := &vm.frames[i]
		fun := frame.function()
		line := fun.Chunk.GetLine(frame.ip - 1)
		if fun.Name == nil {
			fmt.Fprintf(vm.stderr, "[line %d] in script\n", line)
		} else {
			fmt.Fprintf(vm.stderr, "[line %d] in %s()\n", line, fun.Name.StringValue())
		}
	}
	vm.sp = 0
	vm.frameCount = 0
	vm.openUpvalues = vm.openUpvalues[:0]
	return err
}

func (vm *VM) push(v Value) error {
	if vm.sp == StackMax {
		return errStackOverflow()
	}
	vm.stack[vm.sp] = v
	vm.sp++
	return nil
}

func (vm *VM) pop() Value {
	vm.sp--
	return vm.stack[vm.sp]
}

// peek returns the value n slots below the top without popping.
func (vm *VM) peek(n int) Value {
	return vm.stack[vm.sp-n-1]
}

func (vm *VM) readByte(frame *CallFrame) byte {
	b := frame.function().Chunk.Code[frame.ip]
	frame.ip++
	return b
}

func (vm *VM) readShort(frame *CallFrame) int {
	code := frame.function().Chunk.Code
	hi := int(code[frame.ip])
	lo := int(code[frame.ip+1])
	frame.ip += 2
	return hi<<8 | lo
}

func (vm *VM) readConstant(frame *CallFrame) Value {
	index := vm.readByte(frame)
	return frame.function().Chunk.Constants[index]
}

// readName reads a constant-index operand and returns the interned name
// string object it refers to.
func (vm *VM) readName(frame *CallFrame) *Object {
	return vm.readConstant(frame).Obj
}

// run is the dispatch loop. Between any two instructions the operand
// stack is in a well-formed state suitable for a collection, because only
// allocation sites trigger the collector and every allocation site pins
// its temporaries first.
func (vm *VM) run() error {
	frame := &vm.frames[vm.frameCount-1]
	for {
		if vm.config.TraceExecution {
			vm.traceInstruction(frame)
		}
		op := bytecode.Opcode(vm.readByte(frame))
		switch op {
		case bytecode.OpConst:
			if err := vm.push(vm.readConstant(frame)); err != nil {
				return err
			}

		case bytecode.OpNil:
			if err := vm.push(NilValue()); err != nil {
				return err
			}

		case bytecode.OpTrue:
			if err := vm.push(BoolValue(true)); err != nil {
				return err
			}

		case bytecode.OpFalse:
			if err := vm.push(BoolValue(false)); err != nil {
				return err
			}

		case bytecode.OpPop:
			vm.pop()

		case bytecode.OpGetLocal:
			slot := int(vm.readByte(frame))
			if err := vm.push(vm.stack[frame.slot+slot]); err != nil {
				return err
			}

		case bytecode.OpSetLocal:
			slot := int(vm.readByte(frame))
			vm.stack[frame.slot+slot] = vm.peek(0)

		case bytecode.OpGetGlobal:
			name := vm.readName(frame)
			value, ok := vm.globals[name]
			if !ok {
				return errUndefinedVariable(name.StringValue())
			}
			if err := vm.push(value); err != nil {
				return err
			}

		case bytecode.OpSetGlobal:
			name := vm.readName(frame)
			if _, ok := vm.globals[name]; !ok {
				return errUndefinedVariable(name.StringValue())
			}
			vm.globals[name] = vm.peek(0)

		case bytecode.OpDefineGlobal:
			name := vm.readName(frame)
			vm.globals[name] = vm.peek(0)
			vm.pop()

		case bytecode.OpGetUpvalue:
			slot := int(vm.readByte(frame))
			upvalue := frame.closure.Content.(*ObjClosure).Upvalues[slot].Content.(*ObjUpvalue)
			var value Value
			if upvalue.Open {
				value = vm.stack[upvalue.Slot]
			} else {
				value = upvalue.Closed
			}
			if err := vm.push(value); err != nil {
				return err
			}

		case bytecode.OpSetUpvalue:
			slot := int(vm.readByte(frame))
			upvalue := frame.closure.Content.(*ObjClosure).Upvalues[slot].Content.(*ObjUpvalue)
			// The top of the stack stays in place: it is the value of
			// the assignment expression.
			if upvalue.Open {
				vm.stack[upvalue.Slot] = vm.peek(0)
			} else {
				upvalue.Closed = vm.peek(0)
			}

		case bytecode.OpGetProperty:
			name := vm.readName(frame)
			instance := asInstance(vm.peek(0))
			if instance == nil {
				return errOnlyInstancesHaveProperties()
			}
			if value, ok := instance.Fields[name]; ok {
				vm.pop()
				if err := vm.push(value); err != nil {
					return err
				}
				break
			}
			if err := vm.bindMethod(instance.Class.Content.(*ObjClass), name); err != nil {
				return err
			}

		case bytecode.OpSetProperty:
			name := vm.readName(frame)
			instance := asInstance(vm.peek(1))
			if instance == nil {
				return errOnlyInstancesHaveFields()
			}
			instance.Fields[name] = vm.peek(0)
			// Replace the instance with the assigned value: assignment
			// expressions evaluate to the value.
			value := vm.pop()
			vm.stack[vm.sp-1] = value

		case bytecode.OpGetSuper:
			name := vm.readName(frame)
			superclass := vm.pop().Obj.Content.(*ObjClass)
			if err := vm.bindMethod(superclass, name); err != nil {
				return err
			}

		case bytecode.OpNotEqual:
			rhs := vm.pop()
			vm.stack[vm.sp-1] = BoolValue(!vm.stack[vm.sp-1].Equals(rhs))

		case bytecode.OpEqual:
			rhs := vm.pop()
			vm.stack[vm.sp-1] = BoolValue(vm.stack[vm.sp-1].Equals(rhs))

		case bytecode.OpGreater:
			if err := vm.compareOp(func(a, b float64) bool { return a > b }); err != nil {
				return err
			}

		case bytecode.OpGreaterEqual:
			if err := vm.compareOp(func(a, b float64) bool { return a >= b }); err != nil {
				return err
			}

		case bytecode.OpLess:
			if err := vm.compareOp(func(a, b float64) bool { return a < b }); err != nil {
				return err
			}

		case bytecode.OpLessEqual:
			if err := vm.compareOp(func(a, b float64) bool { return a <= b }); err != nil {
				return err
			}

		case bytecode.OpAdd:
			if err := vm.add(); err != nil {
				return err
			}

		case bytecode.OpSub:
			if err := vm.arithmeticOp(func(a, b float64) float64 { return a - b }); err != nil {
				return err
			}

		case bytecode.OpMul:
			if err := vm.arithmeticOp(func(a, b float64) float64 { return a * b }); err != nil {
				return err
			}

		case bytecode.OpDiv:
			// Division follows IEEE-754: 1/0 is +Inf, 0/0 is NaN.
			if err := vm.arithmeticOp(func(a, b float64) float64 { return a / b }); err != nil {
				return err
			}

		case bytecode.OpNot:
			vm.stack[vm.sp-1] = BoolValue(vm.stack[vm.sp-1].IsFalsey())

		case bytecode.OpNegate:
			if vm.peek(0).Type != TypeNumber {
				return errOperandMustBeNumber()
			}
			vm.stack[vm.sp-1].Number = -vm.stack[vm.sp-1].Number

		case bytecode.OpPrint:
			fmt.Fprintln(vm.stdout, vm.pop())

		case bytecode.OpJump:
			offset := vm.readShort(frame)
			frame.ip += offset

		case bytecode.OpJumpIfTrue:
			offset := vm.readShort(frame)
			if !vm.peek(0).IsFalsey() {
				frame.ip += offset
			}

		case bytecode.OpJumpIfFalse:
			offset := vm.readShort(frame)
			if vm.peek(0).IsFalsey() {
				frame.ip += offset
			}

		case bytecode.OpLoop:
			offset := vm.readShort(frame)
			frame.ip -= offset

		case bytecode.OpCall:
			argc := int(vm.readByte(frame))
			if err := vm.callValue(vm.peek(argc), argc); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpInvoke:
			name := vm.readName(frame)
			argc := int(vm.readByte(frame))
			if err := vm.invoke(name, argc); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpSuperInvoke:
			name := vm.readName(frame)
			argc := int(vm.readByte(frame))
			superclass := vm.pop().Obj.Content.(*ObjClass)
			if err := vm.invokeFromClass(superclass, name, argc); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpClosure:
			fun := vm.readConstant(frame).Obj
			count := fun.Content.(*ObjFunction).UpvalueCount
			closure := &ObjClosure{Fun: fun, Upvalues: make([]*Object, count)}
			obj := vm.allocate(closure)
			// Push before capturing: the upvalue allocations below may
			// collect, and the closure must be rooted while its upvalue
			// vector is still being filled.
			if err := vm.push(ObjectValue(obj)); err != nil {
				return err
			}
			for i := 0; i < count; i++ {
				isLocal := vm.readByte(frame) == 1
				index := int(vm.readByte(frame))
				if isLocal {
					closure.Upvalues[i] = vm.captureUpvalue(frame.slot + index)
				} else {
					closure.Upvalues[i] = frame.closure.Content.(*ObjClosure).Upvalues[index]
				}
			}

		case bytecode.OpCloseUpvalue:
			vm.closeUpvalues(vm.sp - 1)
			vm.pop()

		case bytecode.OpReturn:
			result := vm.pop()
			// The compiler does not emit CloseUpvalue for the body's
			// outermost scope; parameters and top-scope locals are
			// closed here.
			vm.closeUpvalues(frame.slot)
			vm.frameCount--
			if vm.frameCount == 0 {
				// End of the script: discard the program's outer
				// closure and terminate.
				vm.pop()
				return nil
			}
			vm.sp = frame.slot
			if err := vm.push(result); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpClass:
			name := vm.readName(frame)
			class := vm.allocate(&ObjClass{Name: name, Methods: make(map[*Object]*Object)})
			if err := vm.push(ObjectValue(class)); err != nil {
				return err
			}

		case bytecode.OpInherit:
			superValue := vm.peek(1)
			var super *ObjClass
			if superValue.Type == TypeObject {
				super, _ = superValue.Obj.Content.(*ObjClass)
			}
			if super == nil {
				return errInvalidSuperclass()
			}
			subclass := vm.peek(0).Obj.Content.(*ObjClass)
			for name, method := range super.Methods {
				subclass.Methods[name] = method
			}
			vm.pop()

		case bytecode.OpMethod:
			name := vm.readName(frame)
			method := vm.peek(0).Obj
			class := vm.peek(1).Obj.Content.(*ObjClass)
			class.Methods[name] = method
			vm.pop()

		default:
			return errInvalidOpcode(byte(op))
		}
	}
}

func asInstance(v Value) *ObjInstance {
	if v.Type != TypeObject {
		return nil
	}
	instance, _ := v.Obj.Content.(*ObjInstance)
	return instance
}

// compareOp applies a relational operator to two number operands. NaN
// makes every relational comparison false, which is why each operator
// reads the numbers directly instead of being derived from another.
func (vm *VM) compareOp(cmp func(a, b float64) bool) error {
	if vm.peek(0).Type != TypeNumber || vm.peek(1).Type != TypeNumber {
		return errOperandsMustBeNumbers()
	}
	rhs := vm.pop()
	vm.stack[vm.sp-1] = BoolValue(cmp(vm.stack[vm.sp-1].Number, rhs.Number))
	return nil
}

func (vm *VM) arithmeticOp(op func(a, b float64) float64) error {
	if vm.peek(0).Type != TypeNumber || vm.peek(1).Type != TypeNumber {
		return errOperandsMustBeNumbers()
	}
	rhs := vm.pop()
	vm.stack[vm.sp-1] = NumberValue(op(vm.stack[vm.sp-1].Number, rhs.Number))
	return nil
}

// add implements the overloaded + operator: numbers add, strings
// concatenate. Both operands are peeked rather than popped so they stay
// rooted while the concatenation allocates; only after the result exists
// are they replaced by it.
func (vm *VM) add() error {
	lhs, rhs := vm.peek(1), vm.peek(0)
	switch {
	case lhs.Type == TypeNumber && rhs.Type == TypeNumber:
		vm.pop()
		vm.stack[vm.sp-1] = NumberValue(lhs.Number + rhs.Number)
	case lhs.IsString() && rhs.IsString():
		result := vm.internString(lhs.Obj.StringValue() + rhs.Obj.StringValue())
		vm.pop()
		vm.stack[vm.sp-1] = ObjectValue(result)
	default:
		return errOperandsMustBeNumbersOrStrings()
	}
	return nil
}

// callValue dispatches a call on any callee value.
func (vm *VM) callValue(callee Value, argc int) error {
	if callee.Type != TypeObject {
		return errInvalidCallee()
	}
	switch content := callee.Obj.Content.(type) {
	case *ObjClosure:
		return vm.callClosure(callee.Obj, argc)

	case *ObjNative:
		if argc != content.Arity {
			return errArgumentsCount(content.Arity, argc)
		}
		result := content.Fn(vm.stack[vm.sp-argc : vm.sp])
		vm.sp -= argc + 1
		return vm.push(result)

	case *ObjClass:
		// The class slot becomes the receiver. The class stays rooted
		// in that slot until after the instance allocation.
		instance := vm.allocate(&ObjInstance{Class: callee.Obj, Fields: make(map[*Object]Value)})
		vm.stack[vm.sp-argc-1] = ObjectValue(instance)
		if init, ok := content.Methods[vm.initString]; ok {
			return vm.callClosure(init, argc)
		}
		if argc != 0 {
			return errArgumentsCount(0, argc)
		}
		return nil

	case *ObjBoundMethod:
		vm.stack[vm.sp-argc-1] = content.Receiver
		return vm.callClosure(content.Method, argc)

	default:
		return errInvalidCallee()
	}
}

func (vm *VM) callClosure(closure *Object, argc int) error {
	fun := closure.Content.(*ObjClosure).Function()
	if argc != fun.Arity {
		return errArgumentsCount(fun.Arity, argc)
	}
	if vm.frameCount == FramesMax {
		return errStackOverflow()
	}
	frame := &vm.frames[vm.frameCount]
	vm.frameCount++
	frame.closure = closure
	frame.ip = 0
	frame.slot = vm.sp - argc - 1
	return nil
}

// invoke is the fused GetProperty+Call path. A field shadowing a method
// name is honored: the field value becomes the callee and replaces the
// receiver slot.
func (vm *VM) invoke(name *Object, argc int) error {
	instance := asInstance(vm.peek(argc))
	if instance == nil {
		return errOnlyInstancesHaveMethods()
	}
	if field, ok := instance.Fields[name]; ok {
		vm.stack[vm.sp-argc-1] = field
		return vm.callValue(field, argc)
	}
	return vm.invokeFromClass(instance.Class.Content.(*ObjClass), name, argc)
}

// invokeFromClass calls a method looked up in the given class with the
// receiver already sitting argc slots deep.
func (vm *VM) invokeFromClass(class *ObjClass, name *Object, argc int) error {
	method, ok := class.Methods[name]
	if !ok {
		return errUndefinedProperty(name.StringValue())
	}
	return vm.callClosure(method, argc)
}

// bindMethod wraps a method of class with the receiver on top of the
// stack, replacing the receiver with the bound method. The receiver is
// only popped after the allocation so it stays rooted throughout.
func (vm *VM) bindMethod(class *ObjClass, name *Object) error {
	method, ok := class.Methods[name]
	if !ok {
		return errUndefinedProperty(name.StringValue())
	}
	bound := vm.allocate(&ObjBoundMethod{Receiver: vm.peek(0), Method: method})
	vm.pop()
	return vm.push(ObjectValue(bound))
}

// captureUpvalue returns the open upvalue for a stack slot, creating one
// if no closure has captured that slot yet. Reuse is what makes two
// closures share one mutable variable instead of two copies of a value.
func (vm *VM) captureUpvalue(location int) *Object {
	for _, obj := range vm.openUpvalues {
		upvalue := obj.Content.(*ObjUpvalue)
		if upvalue.Open && upvalue.Slot == location {
			return obj
		}
	}
	upvalue := vm.allocate(&ObjUpvalue{Open: true, Slot: location})
	vm.openUpvalues = append(vm.openUpvalues, upvalue)
	return upvalue
}

// closeUpvalues hoists every open upvalue referencing a slot at or above
// last into the heap and drops it from the open list. Called with the
// frame's slot base on return, or with the top slot for an explicit
// CloseUpvalue.
func (vm *VM) closeUpvalues(last int) {
	kept := vm.openUpvalues[:0]
	for _, obj := range vm.openUpvalues {
		upvalue := obj.Content.(*ObjUpvalue)
		if upvalue.Open && upvalue.Slot >= last {
			upvalue.Closed = vm.stack[upvalue.Slot]
			upvalue.Open = false
			continue
		}
		kept = append(kept, obj)
	}
	vm.openUpvalues = kept
}

// internString is the allocating intern path. The table is consulted
// first so a hit never allocates and never triggers a collection.
func (vm *VM) internString(s string) *Object {
	if obj, ok := vm.heap.Lookup(s); ok {
		return obj
	}
	obj := vm.allocate(&ObjString{Chars: s})
	vm.heap.intern(obj)
	return obj
}

// allocate is the VM's only allocation site. The collection, if due,
// runs before the new object is constructed so the newcomer is never
// seen by the cycle its own allocation triggered.
func (vm *VM) allocate(content ObjectContent) *Object {
	if vm.config.GCStress || vm.heap.ShouldCollect() {
		vm.CollectGarbage()
	}
	return vm.heap.Alloc(content)
}

// CollectGarbage runs one full stop-the-world mark-and-sweep cycle.
func (vm *VM) CollectGarbage() {
	before := vm.heap.BytesAllocated()
	if vm.config.TraceGC {
		fmt.Fprintln(vm.stderr, "-- gc begin")
	}

	vm.grey = vm.grey[:0]
	vm.markRoots()
	for len(vm.grey) > 0 {
		obj := vm.grey[len(vm.grey)-1]
		vm.grey = vm.grey[:len(vm.grey)-1]
		obj.markChildren(vm.markObject)
	}
	freed := vm.heap.Sweep()

	if vm.config.TraceGC {
		after := vm.heap.BytesAllocated()
		fmt.Fprintln(vm.stderr, "-- gc end")
		fmt.Fprintf(vm.stderr, "   collected %d bytes (from %d to %d) next at %d\n",
			freed, before, after, vm.heap.NextGC())
	}
}

// markRoots greys every object directly reachable from outside the heap:
// the operand stack, the frame closures, the open upvalues, the globals
// (keys and values) and the VM's own interned "init" name.
func (vm *VM) markRoots() {
	for i := 0; i < vm.sp; i++ {
		vm.markValue(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		vm.markObject(vm.frames[i].closure)
	}
	for _, upvalue := range vm.openUpvalues {
		vm.markObject(upvalue)
	}
	for name, value := range vm.globals {
		vm.markObject(name)
		vm.markValue(value)
	}
	vm.markObject(vm.initString)
}

func (vm *VM) markValue(v Value) {
	if v.Type == TypeObject {
		vm.markObject(v.Obj)
	}
}

func (vm *VM) markObject(o *Object) {
	if o == nil || o.marked {
		return
	}
	o.marked = true
	vm.grey = append(vm.grey, o)
}
