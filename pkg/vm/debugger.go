// Package vm - disassembly and execution tracing.
//
// Everything in this file is a non-semantic observer: it reads chunks
// and VM state but never mutates them. The CLI's disasm command and the
// TraceExecution config flag are the two entry points.
package vm

import (
	"fmt"
	"io"
	"strconv"

	"github.com/davecgh/go-spew/spew"
	"github.com/olekukonko/tablewriter"

	"golox/pkg/bytecode"
)

// DisassembleFunction prints the chunk of a function object followed by
// every function nested in its constant pool, depth first.
func DisassembleFunction(w io.Writer, fun *Object) {
	f := fun.Content.(*ObjFunction)
	name := "script"
	if f.Name != nil {
		name = f.Name.StringValue()
	}
	DisassembleChunk(w, &f.Chunk, name)
	for _, constant := range f.Chunk.Constants {
		if constant.Type != TypeObject {
			continue
		}
		if _, ok := constant.Obj.Content.(*ObjFunction); ok {
			fmt.Fprintln(w)
			DisassembleFunction(w, constant.Obj)
		}
	}
}

// DisassembleChunk prints every instruction in the chunk under a header.
func DisassembleChunk(w io.Writer, chunk *Chunk, name string) {
	fmt.Fprintf(w, "== %s ==\n", name)
	for offset := 0; offset < len(chunk.Code); {
		offset = DisassembleInstruction(w, chunk, offset)
	}
}

// DisassembleInstruction prints one instruction and returns the offset
// of the next one.
func DisassembleInstruction(w io.Writer, chunk *Chunk, offset int) int {
	fmt.Fprintf(w, "%04d ", offset)
	if offset > 0 && chunk.GetLine(offset) == chunk.GetLine(offset-1) {
		fmt.Fprint(w, "   | ")
	} else {
		fmt.Fprintf(w, "%4d ", chunk.GetLine(offset))
	}

	op := bytecode.Opcode(chunk.Code[offset])
	switch op {
	case bytecode.OpConst, bytecode.OpGetGlobal, bytecode.OpSetGlobal,
		bytecode.OpDefineGlobal, bytecode.OpGetProperty, bytecode.OpSetProperty,
		bytecode.OpGetSuper, bytecode.OpClass, bytecode.OpMethod:
		return constantInstruction(w, op, chunk, offset)
	case bytecode.OpGetLocal, bytecode.OpSetLocal, bytecode.OpGetUpvalue,
		bytecode.OpSetUpvalue, bytecode.OpCall:
		return byteInstruction(w, op, chunk, offset)
	case bytecode.OpJump, bytecode.OpJumpIfTrue, bytecode.OpJumpIfFalse:
		return jumpInstruction(w, op, 1, chunk, offset)
	case bytecode.OpLoop:
		return jumpInstruction(w, op, -1, chunk, offset)
	case bytecode.OpInvoke, bytecode.OpSuperInvoke:
		return invokeInstruction(w, op, chunk, offset)
	case bytecode.OpClosure:
		return closureInstruction(w, chunk, offset)
	default:
		fmt.Fprintf(w, "%s\n", op)
		return offset + 1
	}
}

func constantInstruction(w io.Writer, op bytecode.Opcode, chunk *Chunk, offset int) int {
	index := chunk.Code[offset+1]
	fmt.Fprintf(w, "%-16s %4d '%s'\n", op, index, chunk.Constants[index])
	return offset + 2
}

func byteInstruction(w io.Writer, op bytecode.Opcode, chunk *Chunk, offset int) int {
	fmt.Fprintf(w, "%-16s %4d\n", op, chunk.Code[offset+1])
	return offset + 2
}

func jumpInstruction(w io.Writer, op bytecode.Opcode, sign int, chunk *Chunk, offset int) int {
	jump := int(chunk.Code[offset+1])<<8 | int(chunk.Code[offset+2])
	fmt.Fprintf(w, "%-16s %4d -> %d\n", op, offset, offset+3+sign*jump)
	return offset + 3
}

func invokeInstruction(w io.Writer, op bytecode.Opcode, chunk *Chunk, offset int) int {
	index := chunk.Code[offset+1]
	argc := chunk.Code[offset+2]
	fmt.Fprintf(w, "%-16s (%d args) %4d '%s'\n", op, argc, index, chunk.Constants[index])
	return offset + 3
}

func closureInstruction(w io.Writer, chunk *Chunk, offset int) int {
	offset++
	index := chunk.Code[offset]
	offset++
	fmt.Fprintf(w, "%-16s %4d %s\n", bytecode.OpClosure, index, chunk.Constants[index])
	fun := chunk.Constants[index].Obj.Content.(*ObjFunction)
	for i := 0; i < fun.UpvalueCount; i++ {
		isLocal := chunk.Code[offset]
		upvalueIndex := chunk.Code[offset+1]
		kind := "upvalue"
		if isLocal == 1 {
			kind = "local"
		}
		fmt.Fprintf(w, "%04d      |                     %s %d\n", offset, kind, upvalueIndex)
		offset += 2
	}
	return offset
}

// DumpConstants renders the constant pool of a chunk as a table, then
// recurses into nested functions.
func DumpConstants(w io.Writer, chunk *Chunk, name string) {
	fmt.Fprintf(w, "constants of %s:\n", name)
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Index", "Type", "Value"})
	for i, constant := range chunk.Constants {
		table.Append([]string{strconv.Itoa(i), typeName(constant), constant.String()})
	}
	table.Render()
	for _, constant := range chunk.Constants {
		if constant.Type != TypeObject {
			continue
		}
		if f, ok := constant.Obj.Content.(*ObjFunction); ok {
			fmt.Fprintln(w)
			DumpConstants(w, &f.Chunk, constant.String())
		}
	}
}

func typeName(v Value) string {
	switch v.Type {
	case TypeNil:
		return "nil"
	case TypeBool:
		return "bool"
	case TypeNumber:
		return "number"
	case TypeObject:
		switch v.Obj.Content.(type) {
		case *ObjString:
			return "string"
		case *ObjFunction:
			return "function"
		case *ObjNative:
			return "native"
		case *ObjClass:
			return "class"
		case *ObjInstance:
			return "instance"
		case *ObjBoundMethod:
			return "bound method"
		case *ObjUpvalue:
			return "upvalue"
		case *ObjClosure:
			return "closure"
		}
	}
	return "?"
}

// DumpObject writes a deep dump of an object's payload, following
// nested structures. Debugging aid only; the output format is not
// stable.
func DumpObject(w io.Writer, o *Object) {
	dumper := spew.ConfigState{Indent: "  ", MaxDepth: 4, DisablePointerAddresses: true}
	dumper.Fdump(w, o.Content)
}

// traceInstruction prints the operand stack and the instruction about to
// execute. Driven by Config.TraceExecution.
func (vm *VM) traceInstruction(frame *CallFrame) {
	fmt.Fprint(vm.stderr, "          ")
	for i := 0; i < vm.sp; i++ {
		fmt.Fprintf(vm.stderr, "[ %s ]", vm.stack[i])
	}
	fmt.Fprintln(vm.stderr)
	DisassembleInstruction(vm.stderr, &frame.function().Chunk, frame.ip)
}
