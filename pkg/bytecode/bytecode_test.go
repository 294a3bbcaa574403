package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// The opcode byte values are part of the executable format; compiled
// chunks only make sense against this exact numbering.
func TestOpcodeByteValues(t *testing.T) {
	want := map[Opcode]byte{
		OpConst:        0,
		OpNil:          1,
		OpTrue:         2,
		OpFalse:        3,
		OpPop:          4,
		OpGetLocal:     5,
		OpSetLocal:     6,
		OpGetGlobal:    7,
		OpSetGlobal:    8,
		OpDefineGlobal: 9,
		OpGetUpvalue:   10,
		OpSetUpvalue:   11,
		OpGetProperty:  12,
		OpSetProperty:  13,
		OpGetSuper:     14,
		OpNotEqual:     15,
		OpEqual:        16,
		OpGreater:      17,
		OpGreaterEqual: 18,
		OpLess:         19,
		OpLessEqual:    20,
		OpAdd:          21,
		OpSub:          22,
		OpMul:          23,
		OpDiv:          24,
		OpNot:          25,
		OpNegate:       26,
		OpPrint:        27,
		OpJump:         28,
		OpJumpIfTrue:   29,
		OpJumpIfFalse:  30,
		OpLoop:         31,
		OpCall:         32,
		OpInvoke:       33,
		OpSuperInvoke:  34,
		OpClosure:      35,
		OpCloseUpvalue: 36,
		OpReturn:       37,
		OpClass:        38,
		OpInherit:      39,
		OpMethod:       40,
	}
	for op, b := range want {
		assert.Equal(t, b, byte(op), "%s", op)
	}
}

func TestOpcodeNames(t *testing.T) {
	assert.Equal(t, "CONST", OpConst.String())
	assert.Equal(t, "SUPER_INVOKE", OpSuperInvoke.String())
	assert.Equal(t, "CLOSE_UPVALUE", OpCloseUpvalue.String())
	assert.Equal(t, "UNKNOWN(200)", Opcode(200).String())
}

func TestOpcodeValid(t *testing.T) {
	assert.True(t, OpConst.Valid())
	assert.True(t, OpMethod.Valid())
	assert.False(t, Opcode(41).Valid())
	assert.False(t, Opcode(255).Valid())
}
