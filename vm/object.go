package vm

import "fmt"

// ---------------------------------------------------------------------------
// Object: heap-allocated values
// ---------------------------------------------------------------------------

// ObjectKind tags the concrete variant of a heap object.
type ObjectKind uint8

const (
	KindString ObjectKind = iota
	KindFunction
	KindClosure
	KindUpvalue
	KindNative
	KindClass
	KindInstance
	KindBoundMethod
)

// String returns a human-readable name for the kind.
func (k ObjectKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindFunction:
		return "function"
	case KindClosure:
		return "closure"
	case KindUpvalue:
		return "upvalue"
	case KindNative:
		return "native"
	case KindClass:
		return "class"
	case KindInstance:
		return "instance"
	case KindBoundMethod:
		return "bound method"
	default:
		return fmt.Sprintf("ObjectKind(%d)", k)
	}
}

// Object is implemented by every heap variant: *String, *Function,
// *Closure, *Upvalue, *Native, *Class, *Instance and *BoundMethod.
// The set is closed; the unexported methods keep it that way.
type Object interface {
	Kind() ObjectKind
	Ref() Ref
	hdr() *header
	// blacken marks every object this one references.
	blacken(gc *collector)
}

// header is embedded in every object. next links all live objects into
// the heap's intrusive list; marked is the collector's per-cycle state.
type header struct {
	kind   ObjectKind
	ref    Ref
	marked bool
	freed  bool
	size   int
	next   Object
}

func (h *header) Kind() ObjectKind { return h.kind }
func (h *header) Ref() Ref         { return h.ref }
func (h *header) hdr() *header     { return h }

// Value returns the object as a Value.
func (h *header) Value() Value { return ObjectValue(h.ref) }

// ---------------------------------------------------------------------------
// Variants
// ---------------------------------------------------------------------------

// String is an immutable, interned byte string.
type String struct {
	header
	Chars string
	Hash  uint32
}

// Len returns the byte length of the string.
func (s *String) Len() int { return len(s.Chars) }

func (s *String) blacken(gc *collector) {}

// Function is a compiled function body. It is immutable once the
// compiler has finished with it.
type Function struct {
	header
	Arity        int
	UpvalueCount int
	Chunk        *Chunk
	Name         *String // nil for the top-level script
}

// DisplayName returns the name used in stack traces.
func (f *Function) DisplayName() string {
	if f.Name == nil {
		return "script"
	}
	return f.Name.Chars
}

func (f *Function) blacken(gc *collector) {
	if f.Name != nil {
		gc.markObject(f.Name)
	}
	for _, c := range f.Chunk.Constants() {
		gc.markValue(c)
	}
}

// Closure is a runtime instantiation of a function literal.
type Closure struct {
	header
	Function *Function
	Upvalues []*Upvalue
}

func (c *Closure) blacken(gc *collector) {
	gc.markObject(c.Function)
	for _, uv := range c.Upvalues {
		// Slots are filled one at a time while OP_CLOSURE runs.
		if uv != nil {
			gc.markObject(uv)
		}
	}
}

// Upvalue is a captured variable. While open it refers to a VM stack slot;
// once closed it owns a copy of the value.
type Upvalue struct {
	header
	Slot   int // stack index while open
	Closed Value
	IsOpen bool
	Next   *Upvalue // next open upvalue, sorted by descending slot
}

func (u *Upvalue) blacken(gc *collector) {
	if !u.IsOpen {
		gc.markValue(u.Closed)
	}
}

// NativeFn is a Go function callable from Lox without a bytecode frame.
type NativeFn func(vm *VM, args []Value) (Value, error)

// Native wraps a NativeFn. Arity is -1 when the function checks its own
// arguments.
type Native struct {
	header
	Name     string
	Arity    int
	Function NativeFn
}

func (n *Native) blacken(gc *collector) {}

// Class has a name and a method table of closures.
type Class struct {
	header
	Name    *String
	Methods *Table
}

func (c *Class) blacken(gc *collector) {
	gc.markObject(c.Name)
	gc.markTable(c.Methods)
}

// Instance holds its class and an independent field table.
type Instance struct {
	header
	Class  *Class
	Fields *Table
}

func (i *Instance) blacken(gc *collector) {
	gc.markObject(i.Class)
	gc.markTable(i.Fields)
}

// BoundMethod pairs a receiver with a method closure.
type BoundMethod struct {
	header
	Receiver Value
	Method   *Closure
}

func (b *BoundMethod) blacken(gc *collector) {
	gc.markValue(b.Receiver)
	gc.markObject(b.Method)
}
