package vm

import "strconv"

// ValueType discriminates the variants of a Value.
type ValueType byte

const (
	// TypeNil is the type of the single nil value.
	TypeNil ValueType = iota
	// TypeBool is the type of true and false.
	TypeBool
	// TypeNumber is the type of IEEE-754 double precision numbers.
	TypeNumber
	// TypeObject is the type of values living on the heap.
	TypeObject
)

// Value is the tagged union flowing through the operand stack, the
// constant pools, globals and instance fields. Nil, booleans and numbers
// are held inline; everything else is a non-owning handle to a heap
// Object.
//
// Values are copied freely; copying never duplicates heap data.
type Value struct {
	Type   ValueType
	Bool   bool
	Number float64
	Obj    *Object
}

// NilValue returns the nil value.
func NilValue() Value {
	return Value{Type: TypeNil}
}

// BoolValue wraps a boolean.
func BoolValue(b bool) Value {
	return Value{Type: TypeBool, Bool: b}
}

// NumberValue wraps a number.
func NumberValue(n float64) Value {
	return Value{Type: TypeNumber, Number: n}
}

// ObjectValue wraps a heap object handle.
func ObjectValue(o *Object) Value {
	return Value{Type: TypeObject, Obj: o}
}

// IsFalsey reports whether the value is false in a boolean context.
// Only nil and false are falsey; every number (including 0) and every
// object (including the empty string) is truthy.
func (v Value) IsFalsey() bool {
	return v.Type == TypeNil || (v.Type == TypeBool && !v.Bool)
}

// IsString reports whether the value is a string object.
func (v Value) IsString() bool {
	if v.Type != TypeObject {
		return false
	}
	_, ok := v.Obj.Content.(*ObjString)
	return ok
}

// Equals implements the == operator. Values of different types are never
// equal. Numbers compare with IEEE semantics, so NaN != NaN. Objects
// compare by identity; because strings are interned, equal string
// contents always share one object, which makes identity comparison
// correct for them too.
func (v Value) Equals(w Value) bool {
	if v.Type != w.Type {
		return false
	}
	switch v.Type {
	case TypeNil:
		return true
	case TypeBool:
		return v.Bool == w.Bool
	case TypeNumber:
		return v.Number == w.Number
	case TypeObject:
		return v.Obj == w.Obj
	default:
		return false
	}
}

// String renders the value the way the print statement shows it.
func (v Value) String() string {
	switch v.Type {
	case TypeNil:
		return "nil"
	case TypeBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case TypeNumber:
		return formatNumber(v.Number)
	case TypeObject:
		return v.Obj.String()
	default:
		return "<?>"
	}
}

// formatNumber renders a number with the shortest representation that
// round-trips. Integral values print without a decimal point, so 7.0
// prints as 7.
func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'g', -1, 64)
}
