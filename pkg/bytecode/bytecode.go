// Package bytecode defines the instruction set executed by the golox VM.
//
// The bytecode is a flat byte stream. Each instruction starts with a
// single opcode byte, followed by zero or more immediate operand bytes.
// The opcode byte values are fixed: a compiled chunk is only meaningful
// against this exact numbering, and the disassembler, compiler and VM all
// rely on it.
//
// Operand encodings:
//
//   - constant index (k): one byte indexing the chunk's constant pool
//   - stack slot (s): one byte, relative to the current frame's base
//   - argument count (argc): one byte
//   - jump offset: two bytes, big-endian, relative to the instruction
//     following the operand (Jump/JumpIfTrue/JumpIfFalse add the offset,
//     Loop subtracts it)
//
// OpClosure is the one variable-length instruction: after its constant
// index it carries one (isLocal, index) byte pair per upvalue of the
// function being closed over.
package bytecode

import "fmt"

// Opcode is a single byte specifying the action the VM must take.
type Opcode byte

const (
	// OpConst loads a constant from the pool. Operand: k.
	OpConst Opcode = iota
	// OpNil pushes the nil value.
	OpNil
	// OpTrue pushes the boolean true.
	OpTrue
	// OpFalse pushes the boolean false.
	OpFalse
	// OpPop discards the top of the stack.
	OpPop
	// OpGetLocal pushes the local at the frame-relative slot. Operand: s.
	OpGetLocal
	// OpSetLocal writes the top of the stack to a local without popping.
	// Operand: s.
	OpSetLocal
	// OpGetGlobal pushes the value of a global variable. Operand: k
	// (name string).
	OpGetGlobal
	// OpSetGlobal assigns an existing global without popping. Operand: k.
	OpSetGlobal
	// OpDefineGlobal pops the top of the stack and defines a global
	// initialized with it. Operand: k.
	OpDefineGlobal
	// OpGetUpvalue pushes the value behind one of the current closure's
	// upvalues. Operand: s (upvalue slot).
	OpGetUpvalue
	// OpSetUpvalue writes the top of the stack through an upvalue without
	// popping. Operand: s.
	OpSetUpvalue
	// OpGetProperty reads a field or binds a method of the instance on
	// top of the stack. Operand: k (name string).
	OpGetProperty
	// OpSetProperty writes a field of the instance below the value on top
	// of the stack. Operand: k.
	OpSetProperty
	// OpGetSuper binds a method of the popped superclass to the receiver
	// below. Operand: k.
	OpGetSuper
	// OpNotEqual compares the top two values for inequality.
	OpNotEqual
	// OpEqual compares the top two values for equality.
	OpEqual
	// OpGreater compares two numbers with >.
	OpGreater
	// OpGreaterEqual compares two numbers with >=. Not equivalent to
	// !(a < b): IEEE-754 comparisons are false whenever NaN is involved,
	// so each relational operator gets a dedicated opcode.
	OpGreaterEqual
	// OpLess compares two numbers with <.
	OpLess
	// OpLessEqual compares two numbers with <=.
	OpLessEqual
	// OpAdd adds two numbers or concatenates two strings.
	OpAdd
	// OpSub subtracts two numbers.
	OpSub
	// OpMul multiplies two numbers.
	OpMul
	// OpDiv divides two numbers.
	OpDiv
	// OpNot replaces the top of the stack with its logical negation.
	OpNot
	// OpNegate arithmetically negates the number on top of the stack.
	OpNegate
	// OpPrint pops the top of the stack and prints it.
	OpPrint
	// OpJump jumps forward unconditionally. Operands: off_hi, off_lo.
	OpJump
	// OpJumpIfTrue jumps forward if the top of the stack is truthy. Does
	// not pop. Operands: off_hi, off_lo.
	OpJumpIfTrue
	// OpJumpIfFalse jumps forward if the top of the stack is falsey. Does
	// not pop. Operands: off_hi, off_lo.
	OpJumpIfFalse
	// OpLoop jumps backward unconditionally. Operands: off_hi, off_lo.
	OpLoop
	// OpCall calls the value argc slots below the top. Operand: argc.
	OpCall
	// OpInvoke looks up and calls a method in one step. Operands: k, argc.
	OpInvoke
	// OpSuperInvoke invokes a method of the popped superclass in one
	// step. Operands: k, argc.
	OpSuperInvoke
	// OpClosure wraps the function constant k in a closure, capturing one
	// upvalue per trailing (isLocal, index) pair.
	OpClosure
	// OpCloseUpvalue hoists the local on top of the stack into its open
	// upvalue, then pops it.
	OpCloseUpvalue
	// OpReturn returns from the current call frame.
	OpReturn
	// OpClass creates a new class. Operand: k (name string).
	OpClass
	// OpInherit copies every method of the superclass into the subclass.
	OpInherit
	// OpMethod pops a closure and installs it as a method of the class
	// below. Operand: k (name string).
	OpMethod
)

// opNames maps opcodes to their disassembly mnemonics.
var opNames = [...]string{
	OpConst:        "CONST",
	OpNil:          "NIL",
	OpTrue:         "TRUE",
	OpFalse:        "FALSE",
	OpPop:          "POP",
	OpGetLocal:     "GET_LOCAL",
	OpSetLocal:     "SET_LOCAL",
	OpGetGlobal:    "GET_GLOBAL",
	OpSetGlobal:    "SET_GLOBAL",
	OpDefineGlobal: "DEFINE_GLOBAL",
	OpGetUpvalue:   "GET_UPVALUE",
	OpSetUpvalue:   "SET_UPVALUE",
	OpGetProperty:  "GET_PROPERTY",
	OpSetProperty:  "SET_PROPERTY",
	OpGetSuper:     "GET_SUPER",
	OpNotEqual:     "NOT_EQUAL",
	OpEqual:        "EQUAL",
	OpGreater:      "GREATER",
	OpGreaterEqual: "GREATER_EQUAL",
	OpLess:         "LESS",
	OpLessEqual:    "LESS_EQUAL",
	OpAdd:          "ADD",
	OpSub:          "SUB",
	OpMul:          "MUL",
	OpDiv:          "DIV",
	OpNot:          "NOT",
	OpNegate:       "NEGATE",
	OpPrint:        "PRINT",
	OpJump:         "JUMP",
	OpJumpIfTrue:   "JUMP_IF_TRUE",
	OpJumpIfFalse:  "JUMP_IF_FALSE",
	OpLoop:         "LOOP",
	OpCall:         "CALL",
	OpInvoke:       "INVOKE",
	OpSuperInvoke:  "SUPER_INVOKE",
	OpClosure:      "CLOSURE",
	OpCloseUpvalue: "CLOSE_UPVALUE",
	OpReturn:       "RETURN",
	OpClass:        "CLASS",
	OpInherit:      "INHERIT",
	OpMethod:       "METHOD",
}

// String returns the disassembly mnemonic for the opcode.
func (op Opcode) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("UNKNOWN(%d)", byte(op))
}

// Valid reports whether the byte names a defined opcode. The VM treats an
// invalid opcode as a fatal error; it is unreachable when the compiler is
// correct.
func (op Opcode) Valid() bool {
	return int(op) < len(opNames)
}
