package vm

// Object is the header shared by every heap-resident value. The heap
// links all objects into an intrusive singly-linked list through next;
// marked is the tri-color mark bit (false at rest, true between the start
// of a mark phase and the end of the following sweep). The payload lives
// behind the Content interface, always as a pointer type so it can be
// mutated in place.
//
// Objects are compared by pointer identity. Ownership is exclusive to the
// Heap; every other holder (stack, frames, globals, closures, fields,
// method tables) holds a non-owning *Object handle whose lifetime is
// determined solely by reachability.
type Object struct {
	next    *Object
	marked  bool
	size    int
	Content ObjectContent
}

// ObjectContent is the payload of a heap object.
type ObjectContent interface {
	// sizeBytes estimates the heap footprint charged against the GC
	// threshold when the object is allocated, and credited back when it
	// is swept. It is recorded at allocation time so the two always
	// match.
	sizeBytes() int
}

// ObjString is an immutable interned string. At most one live ObjString
// exists per byte-equal content, which reduces string equality to handle
// equality.
type ObjString struct {
	Chars string
}

// ObjFunction is a compiled function: its code chunk plus the metadata
// the VM needs to call it. The top-level script is a function with no
// name.
type ObjFunction struct {
	Arity        int
	UpvalueCount int
	Chunk        Chunk
	Name         *Object // *ObjString, nil for the script
}

// NativeFn is the signature of a built-in function. It receives the
// argument window of the operand stack and returns the result value.
type NativeFn func(args []Value) Value

// ObjNative is a function implemented in Go.
type ObjNative struct {
	Arity int
	Fn    NativeFn
}

// ObjUpvalue mediates a closure's access to a captured variable. While
// the variable still lives on the operand stack the upvalue is open and
// Slot indexes that stack slot; once the slot goes out of scope the value
// is hoisted into Closed and the upvalue no longer references the stack.
type ObjUpvalue struct {
	Open   bool
	Slot   int
	Closed Value
}

// ObjClosure binds a function to the upvalues it captured. Upvalues has
// exactly Fun's UpvalueCount entries, each an *ObjUpvalue object shared
// with every other closure that captured the same variable.
type ObjClosure struct {
	Fun      *Object // *ObjFunction
	Upvalues []*Object
}

// Function returns the closure's function payload.
func (c *ObjClosure) Function() *ObjFunction {
	return c.Fun.Content.(*ObjFunction)
}

// ObjClass is a class: a name and its method table. Methods are keyed by
// interned name string and installed only while the class declaration
// executes; afterwards the table is treated as immutable.
type ObjClass struct {
	Name    *Object // *ObjString
	Methods map[*Object]*Object
}

// ObjInstance is an instance of a class with an open set of fields,
// created on first write and keyed by interned name string.
type ObjInstance struct {
	Class  *Object // *ObjClass
	Fields map[*Object]Value
}

// ObjBoundMethod pairs a method closure with the receiver it was accessed
// on, so it can be called later like any other function.
type ObjBoundMethod struct {
	Receiver Value
	Method   *Object // *ObjClosure
}

const objectOverhead = 32

func (s *ObjString) sizeBytes() int {
	return objectOverhead + 16 + len(s.Chars)
}

func (f *ObjFunction) sizeBytes() int {
	return objectOverhead + 64 + len(f.Chunk.Code) + 40*len(f.Chunk.Constants)
}

func (n *ObjNative) sizeBytes() int {
	return objectOverhead + 16
}

func (u *ObjUpvalue) sizeBytes() int {
	return objectOverhead + 48
}

func (c *ObjClosure) sizeBytes() int {
	return objectOverhead + 16 + 8*len(c.Upvalues)
}

func (c *ObjClass) sizeBytes() int {
	return objectOverhead + 56
}

func (i *ObjInstance) sizeBytes() int {
	return objectOverhead + 56
}

func (b *ObjBoundMethod) sizeBytes() int {
	return objectOverhead + 48
}

// AsString returns the string payload, or nil when the object is not a
// string.
func (o *Object) AsString() *ObjString {
	s, _ := o.Content.(*ObjString)
	return s
}

// StringValue returns the characters of a string object. It panics on
// non-string objects; callers use it only where the compiler guarantees a
// string constant.
func (o *Object) StringValue() string {
	return o.Content.(*ObjString).Chars
}

// String renders the object for the print statement and the REPL.
func (o *Object) String() string {
	switch c := o.Content.(type) {
	case *ObjString:
		return c.Chars
	case *ObjFunction:
		if c.Name == nil {
			return "<script>"
		}
		return "<fn " + c.Name.StringValue() + ">"
	case *ObjNative:
		return "<native fn>"
	case *ObjUpvalue:
		return "upvalue"
	case *ObjClosure:
		fun := c.Function()
		if fun.Name == nil {
			return "<script>"
		}
		return "<fn " + fun.Name.StringValue() + ">"
	case *ObjClass:
		return c.Name.StringValue()
	case *ObjInstance:
		return c.Class.Content.(*ObjClass).Name.StringValue() + " instance"
	case *ObjBoundMethod:
		fun := c.Method.Content.(*ObjClosure).Function()
		if fun.Name == nil {
			return "<script>"
		}
		return "<fn " + fun.Name.StringValue() + ">"
	default:
		return "<object>"
	}
}

// markChildren greys every object directly referenced by this object's
// payload. This is the successor set of the trace phase; the caller has
// already blackened the object itself.
func (o *Object) markChildren(mark func(*Object)) {
	switch c := o.Content.(type) {
	case *ObjString, *ObjNative:
		// No outgoing references.
	case *ObjFunction:
		mark(c.Name)
		for _, constant := range c.Chunk.Constants {
			if constant.Type == TypeObject {
				mark(constant.Obj)
			}
		}
	case *ObjUpvalue:
		// An open upvalue's stack slot is already a root; a closed one
		// owns its value.
		if !c.Open && c.Closed.Type == TypeObject {
			mark(c.Closed.Obj)
		}
	case *ObjClosure:
		mark(c.Fun)
		for _, upvalue := range c.Upvalues {
			mark(upvalue)
		}
	case *ObjClass:
		mark(c.Name)
		for name, method := range c.Methods {
			mark(name)
			mark(method)
		}
	case *ObjInstance:
		mark(c.Class)
		for name, field := range c.Fields {
			mark(name)
			if field.Type == TypeObject {
				mark(field.Obj)
			}
		}
	case *ObjBoundMethod:
		if c.Receiver.Type == TypeObject {
			mark(c.Receiver.Obj)
		}
		mark(c.Method)
	}
}
