package vm

import (
	"fmt"
	"unsafe"

	"github.com/tliron/commonlog"

	"github.com/chazu/loxvm/pkg/dynarray"
)

// ---------------------------------------------------------------------------
// Heap: arena of every object owned by one VM
// ---------------------------------------------------------------------------

// Nominal sizes used for collection pressure accounting.
var (
	valueSize       = int(unsafe.Sizeof(Value(0)))
	intSize         = int(unsafe.Sizeof(int(0)))
	pointerSize     = int(unsafe.Sizeof(uintptr(0)))
	entrySize       = int(unsafe.Sizeof(Entry{}))
	stringSize      = int(unsafe.Sizeof(String{}))
	functionSize    = int(unsafe.Sizeof(Function{})) + int(unsafe.Sizeof(Chunk{}))
	closureSize     = int(unsafe.Sizeof(Closure{}))
	upvalueSize     = int(unsafe.Sizeof(Upvalue{}))
	nativeSize      = int(unsafe.Sizeof(Native{}))
	classSize       = int(unsafe.Sizeof(Class{})) + int(unsafe.Sizeof(Table{}))
	instanceSize    = int(unsafe.Sizeof(Instance{})) + int(unsafe.Sizeof(Table{}))
	boundMethodSize = int(unsafe.Sizeof(BoundMethod{}))
)

// RootMarker is implemented by anything holding object references the heap
// cannot see, such as the VM's stack or a compiler's in-progress functions.
type RootMarker interface {
	MarkRoots(m *Marker)
}

// HeapStats is a snapshot of heap bookkeeping.
type HeapStats struct {
	BytesAllocated  int
	NextGC          int
	LiveObjects     int
	InternedStrings int
	Collections     int
	ObjectsFreed    int
	BytesFreed      int
}

// Heap owns every object of one VM. Objects are addressed by Ref through
// the arena and are also linked into one intrusive list, newest first,
// which the collector sweeps.
type Heap struct {
	slots   []Object // Ref -> object; slot 0 is never used
	free    []Ref    // released refs available for reuse
	objects Object   // head of the intrusive list

	strings Table // weak intern set: every live String, value Nil
	temps   dynarray.Array[Value]
	roots   []RootMarker
	marker  *Marker

	opts           GCOptions
	bytesAllocated int
	nextGC         int
	liveObjects    int
	collecting     bool
	closed         bool

	collections  int
	objectsFreed int
	bytesFreed   int

	log commonlog.Logger
}

// NewHeap creates an empty heap.
func NewHeap(opts GCOptions) *Heap {
	opts = opts.withDefaults()
	h := &Heap{
		slots:  make([]Object, 1, 256),
		opts:   opts,
		nextGC: opts.InitialThreshold,
		log:    commonlog.GetLogger("loxvm.gc"),
	}
	h.strings.onGrow = h.growHook(entrySize)
	h.marker = newMarker(h)
	return h
}

// Options returns the collector configuration.
func (h *Heap) Options() GCOptions {
	return h.opts
}

// AddRoots registers r; its MarkRoots runs at the start of every
// collection until the returned function is called.
func (h *Heap) AddRoots(r RootMarker) (remove func()) {
	h.roots = append(h.roots, r)
	return func() {
		for i, existing := range h.roots {
			if existing == r {
				h.roots = append(h.roots[:i], h.roots[i+1:]...)
				return
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Temporary roots
// ---------------------------------------------------------------------------

// Hold is a keep-alive scope for a value that is referenced only from Go
// locals while more allocation happens. Holds nest and must be released in
// reverse order.
type Hold struct {
	h     *Heap
	depth int
}

// Hold keeps v reachable until Release is called.
func (h *Heap) Hold(v Value) Hold {
	h.temps.Append(v)
	return Hold{h: h, depth: h.temps.Len()}
}

// Release ends the scope. Releasing out of order is a programming error.
func (hd Hold) Release() {
	if hd.h.temps.Len() != hd.depth {
		panic(fmt.Sprintf("vm: hold released out of order (depth %d, top %d)", hd.depth, hd.h.temps.Len()))
	}
	hd.h.temps.Pop()
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// account adds delta bytes. Growth is the only point where collection
// pressure is evaluated; the collection runs before the caller stores its
// new memory anywhere.
func (h *Heap) account(delta int) {
	if h.closed {
		panic("vm: allocation on a freed heap")
	}
	h.bytesAllocated += delta
	if delta <= 0 || h.collecting {
		return
	}
	if h.opts.Stress || h.bytesAllocated > h.nextGC {
		h.Collect()
	}
}

// growHook returns a dynarray hook charging elemSize bytes per new slot.
func (h *Heap) growHook(elemSize int) dynarray.GrowHook {
	return func(oldCap, newCap int) {
		h.account((newCap - oldCap) * elemSize)
	}
}

// allocate stamps obj's header and links it into the heap. Everything obj
// references must already be reachable, because a collection may run
// here before obj itself is linked.
func (h *Heap) allocate(obj Object, kind ObjectKind, size int) {
	h.account(size)

	hd := obj.hdr()
	hd.kind = kind
	hd.size = size
	hd.marked = false

	var ref Ref
	if n := len(h.free); n > 0 {
		ref = h.free[n-1]
		h.free = h.free[:n-1]
		h.slots[ref] = obj
	} else {
		ref = Ref(len(h.slots))
		h.slots = append(h.slots, obj)
	}
	hd.ref = ref

	hd.next = h.objects
	h.objects = obj
	h.liveObjects++

	if h.opts.Trace {
		h.log.Debugf("%d allocate %d for %s", ref, size, kind)
	}
}

// release frees obj's arena slot. The caller has already unlinked it.
func (h *Heap) release(obj Object) {
	hd := obj.hdr()
	size := hd.size + ownedBytes(obj)
	h.bytesAllocated -= size
	h.bytesFreed += size
	h.objectsFreed++
	h.liveObjects--

	h.slots[hd.ref] = nil
	h.free = append(h.free, hd.ref)
	hd.freed = true
	hd.next = nil

	switch o := obj.(type) {
	case *Function:
		o.Chunk.free()
	case *Class:
		o.Methods.Reset()
	case *Instance:
		o.Fields.Reset()
	}

	if h.opts.Trace {
		h.log.Debugf("%d free type %s", hd.ref, hd.kind)
	}
}

// ownedBytes returns the accounted size of arrays grown after allocation.
func ownedBytes(obj Object) int {
	switch o := obj.(type) {
	case *Function:
		return o.Chunk.size()
	case *Class:
		return o.Methods.Capacity() * entrySize
	case *Instance:
		return o.Fields.Capacity() * entrySize
	}
	return 0
}

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

// hashString is 32-bit FNV-1a.
func hashString(s string) uint32 {
	hash := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= 16777619
	}
	return hash
}

// CopyString returns the interned string with the content of b. The
// caller keeps ownership of b; the heap stores its own copy.
func (h *Heap) CopyString(b []byte) *String {
	// view is only used for the lookup and never stored.
	view := unsafe.String(unsafe.SliceData(b), len(b))
	hash := hashString(view)
	if interned := h.strings.FindString(view, hash); interned != nil {
		return interned
	}
	return h.allocateString(string(b), hash)
}

// CopyGoString is CopyString for a Go string.
func (h *Heap) CopyGoString(s string) *String {
	hash := hashString(s)
	if interned := h.strings.FindString(s, hash); interned != nil {
		return interned
	}
	return h.allocateString(s, hash)
}

// TakeString returns the interned string with the content of b, taking
// ownership of b: the caller must not modify b afterwards. If the content
// is already interned, b is dropped and the existing object returned.
func (h *Heap) TakeString(b []byte) *String {
	chars := unsafe.String(unsafe.SliceData(b), len(b))
	hash := hashString(chars)
	if interned := h.strings.FindString(chars, hash); interned != nil {
		return interned
	}
	return h.allocateString(chars, hash)
}

func (h *Heap) allocateString(chars string, hash uint32) *String {
	s := &String{Chars: chars, Hash: hash}
	h.allocate(s, KindString, stringSize+len(chars))

	// Interning may grow the table, which may collect.
	hold := h.Hold(s.Value())
	h.strings.Set(s, Nil)
	hold.Release()
	return s
}

// Interned returns the number of live interned strings.
func (h *Heap) Interned() int {
	return h.strings.Len()
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// NewFunction allocates an empty function with its own chunk.
func (h *Heap) NewFunction() *Function {
	fn := &Function{Chunk: h.newChunk()}
	h.allocate(fn, KindFunction, functionSize)
	return fn
}

// NewNative wraps a Go function.
func (h *Heap) NewNative(name string, fn NativeFn) *Native {
	n := &Native{Name: name, Arity: -1, Function: fn}
	h.allocate(n, KindNative, nativeSize)
	return n
}

// NewClosure creates a closure over fn with fn.UpvalueCount empty slots.
func (h *Heap) NewClosure(fn *Function) *Closure {
	c := &Closure{
		Function: fn,
		Upvalues: make([]*Upvalue, fn.UpvalueCount),
	}
	h.allocate(c, KindClosure, closureSize+fn.UpvalueCount*pointerSize)
	return c
}

// NewUpvalue creates an open upvalue for a stack slot.
func (h *Heap) NewUpvalue(slot int) *Upvalue {
	uv := &Upvalue{Slot: slot, Closed: Nil, IsOpen: true}
	h.allocate(uv, KindUpvalue, upvalueSize)
	return uv
}

// NewClass creates a class with an empty method table.
func (h *Heap) NewClass(name *String) *Class {
	c := &Class{Name: name, Methods: NewTable(h.growHook(entrySize))}
	h.allocate(c, KindClass, classSize)
	return c
}

// NewInstance creates an instance of class with no fields.
func (h *Heap) NewInstance(class *Class) *Instance {
	i := &Instance{Class: class, Fields: NewTable(h.growHook(entrySize))}
	h.allocate(i, KindInstance, instanceSize)
	return i
}

// NewBoundMethod binds method to receiver.
func (h *Heap) NewBoundMethod(receiver Value, method *Closure) *BoundMethod {
	b := &BoundMethod{Receiver: receiver, Method: method}
	h.allocate(b, KindBoundMethod, boundMethodSize)
	return b
}

// AddConstant appends v to c's constant pool and returns its index. v is
// held for the duration because growing the pool may collect.
func (h *Heap) AddConstant(c *Chunk, v Value) int {
	hold := h.Hold(v)
	defer hold.Release()
	return c.appendConstant(v)
}

// ---------------------------------------------------------------------------
// Access
// ---------------------------------------------------------------------------

// Object returns the object for ref. Panics if ref was never allocated or
// has been freed.
func (h *Heap) Object(ref Ref) Object {
	if ref == 0 || int(ref) >= len(h.slots) || h.slots[ref] == nil {
		panic(fmt.Sprintf("vm: access to freed or invalid object %d", ref))
	}
	return h.slots[ref]
}

// ObjectOf returns the object v refers to.
func (h *Heap) ObjectOf(v Value) Object {
	return h.Object(v.Ref())
}

// Live reports whether ref currently names an allocated object.
func (h *Heap) Live(ref Ref) bool {
	return ref != 0 && int(ref) < len(h.slots) && h.slots[ref] != nil
}

// Freed reports whether obj has been reclaimed by a collection or by Free.
func (h *Heap) Freed(obj Object) bool {
	return obj.hdr().freed
}

// IsKind reports whether v is an object of kind k.
func (h *Heap) IsKind(v Value, k ObjectKind) bool {
	return v.IsObject() && h.ObjectOf(v).Kind() == k
}

func (h *Heap) IsString(v Value) bool   { return h.IsKind(v, KindString) }
func (h *Heap) IsInstance(v Value) bool { return h.IsKind(v, KindInstance) }
func (h *Heap) IsClass(v Value) bool    { return h.IsKind(v, KindClass) }

func (h *Heap) AsString(v Value) *String           { return h.ObjectOf(v).(*String) }
func (h *Heap) AsFunction(v Value) *Function       { return h.ObjectOf(v).(*Function) }
func (h *Heap) AsClosure(v Value) *Closure         { return h.ObjectOf(v).(*Closure) }
func (h *Heap) AsNative(v Value) *Native           { return h.ObjectOf(v).(*Native) }
func (h *Heap) AsClass(v Value) *Class             { return h.ObjectOf(v).(*Class) }
func (h *Heap) AsInstance(v Value) *Instance       { return h.ObjectOf(v).(*Instance) }
func (h *Heap) AsBoundMethod(v Value) *BoundMethod { return h.ObjectOf(v).(*BoundMethod) }

// Stats returns current bookkeeping.
func (h *Heap) Stats() HeapStats {
	return HeapStats{
		BytesAllocated:  h.bytesAllocated,
		NextGC:          h.nextGC,
		LiveObjects:     h.liveObjects,
		InternedStrings: h.strings.Len(),
		Collections:     h.collections,
		ObjectsFreed:    h.objectsFreed,
		BytesFreed:      h.bytesFreed,
	}
}

// Free releases every object exactly once, reachable or not. The heap
// cannot allocate afterwards.
func (h *Heap) Free() {
	if h.closed {
		return
	}
	obj := h.objects
	for obj != nil {
		next := obj.hdr().next
		h.release(obj)
		obj = next
	}
	h.objects = nil
	h.bytesAllocated -= h.strings.Capacity() * entrySize
	h.strings.Reset()
	h.temps.Reset()
	h.roots = nil
	h.slots = h.slots[:1]
	h.free = nil
	h.closed = true
}
