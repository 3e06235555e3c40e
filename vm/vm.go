package vm

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
)

// FramesMax is the default call depth limit.
const FramesMax = 64

// SlotsPerFrame is the number of operand stack slots reserved per frame.
const SlotsPerFrame = 256

// CompileFunc compiles a whole program into a top-level script function
// allocated on h. It is injected to avoid an import cycle with the
// compiler package.
type CompileFunc func(h *Heap, source string) (*Function, error)

// CallFrame is one active function invocation.
type CallFrame struct {
	closure *Closure
	ip      int
	slots   int // stack index of the callee slot
}

// VM executes compiled Lox bytecode. A VM owns one heap and runs one
// program at a time.
type VM struct {
	heap *Heap

	frames     []CallFrame
	frameCount int
	stack      []Value
	sp         int

	globals      *Table
	initString   *String
	openUpvalues *Upvalue

	out       io.Writer
	compile   CompileFunc
	log       commonlog.Logger
	gcOpts    GCOptions
	maxFrames int
	started   time.Time

	running     atomic.Bool
	closed      bool
	removeRoots func()
}

// Option configures a VM.
type Option func(*VM)

// WithOutput sets the sink for print statements and error reports.
// The default discards output.
func WithOutput(w io.Writer) Option {
	return func(vm *VM) { vm.out = w }
}

// WithCompiler installs the compiler used by Interpret.
func WithCompiler(fn CompileFunc) Option {
	return func(vm *VM) { vm.compile = fn }
}

// WithGC sets the collector configuration.
func WithGC(opts GCOptions) Option {
	return func(vm *VM) { vm.gcOpts = opts }
}

// WithMaxFrames sets the call depth limit. The operand stack is sized
// from it.
func WithMaxFrames(n int) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.maxFrames = n
		}
	}
}

// WithLogger replaces the VM's logger.
func WithLogger(log commonlog.Logger) Option {
	return func(vm *VM) { vm.log = log }
}

// New creates a VM with an empty heap, empty globals and the built-in
// natives defined.
func New(opts ...Option) *VM {
	vm := &VM{
		out:       io.Discard,
		log:       commonlog.GetLogger("loxvm.vm"),
		gcOpts:    DefaultGCOptions(),
		maxFrames: FramesMax,
		started:   time.Now(),
	}
	for _, opt := range opts {
		opt(vm)
	}

	vm.heap = NewHeap(vm.gcOpts)
	vm.frames = make([]CallFrame, vm.maxFrames)
	vm.stack = make([]Value, vm.maxFrames*SlotsPerFrame)
	vm.globals = NewTable(vm.heap.growHook(entrySize))
	vm.removeRoots = vm.heap.AddRoots(vm)

	vm.initString = vm.heap.CopyGoString("init")
	vm.defineNatives()
	return vm
}

// Heap returns the VM's heap.
func (vm *VM) Heap() *Heap {
	return vm.heap
}

// Output returns the current output sink.
func (vm *VM) Output() io.Writer {
	return vm.out
}

// Globals returns the global variable table.
func (vm *VM) Globals() *Table {
	return vm.globals
}

// Global looks up a global variable by name.
func (vm *VM) Global(name string) (Value, bool) {
	key := vm.heap.strings.FindString(name, hashString(name))
	if key == nil {
		return Nil, false
	}
	return vm.globals.Get(key)
}

// Elapsed returns the time since the VM was created.
func (vm *VM) Elapsed() time.Duration {
	return time.Since(vm.started)
}

// Close tears the VM down: globals, the intern table and every heap
// object are freed. A VM that is running cannot be closed.
func (vm *VM) Close() error {
	if !vm.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer vm.running.Store(false)
	if vm.closed {
		return nil
	}
	vm.closed = true
	vm.resetStack()
	vm.initString = nil
	vm.removeRoots()
	vm.heap.bytesAllocated -= vm.globals.Capacity() * entrySize
	vm.globals.Reset()
	vm.heap.Free()
	return nil
}

// Interpret compiles and runs source. The error is a *CompileError, a
// *RuntimeError, ErrBusy or ErrClosed.
func (vm *VM) Interpret(source string) (InterpretResult, error) {
	if !vm.running.CompareAndSwap(false, true) {
		return InterpretRuntimeError, ErrBusy
	}
	defer vm.running.Store(false)
	if vm.closed {
		return InterpretRuntimeError, ErrClosed
	}
	if vm.compile == nil {
		return InterpretCompileError, ErrNoCompiler
	}

	fn, err := vm.compile(vm.heap, source)
	if err != nil {
		vm.reportCompileError(err)
		return InterpretCompileError, err
	}
	return vm.execute(fn)
}

// InterpretFunction runs an already compiled top-level function.
func (vm *VM) InterpretFunction(fn *Function) (InterpretResult, error) {
	if !vm.running.CompareAndSwap(false, true) {
		return InterpretRuntimeError, ErrBusy
	}
	defer vm.running.Store(false)
	if vm.closed {
		return InterpretRuntimeError, ErrClosed
	}
	return vm.execute(fn)
}

func (vm *VM) execute(fn *Function) (InterpretResult, error) {
	vm.resetStack()
	vm.push(fn.Value())
	closure := vm.heap.NewClosure(fn)
	vm.pop()
	vm.push(closure.Value())
	if err := vm.call(closure, 0); err != nil {
		return InterpretRuntimeError, vm.report(err)
	}

	if err := vm.run(); err != nil {
		return InterpretRuntimeError, vm.report(err)
	}
	return InterpretOK, nil
}

func (vm *VM) reportCompileError(err error) {
	if ce, ok := err.(*CompileError); ok {
		for _, d := range ce.Diagnostics {
			io.WriteString(vm.out, d.String()+"\n")
		}
		return
	}
	io.WriteString(vm.out, err.Error()+"\n")
}

// MarkRoots marks the stack in use, every frame's closure, the open
// upvalues, the globals and the init string.
func (vm *VM) MarkRoots(m *Marker) {
	for i := 0; i < vm.sp; i++ {
		m.markValue(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		m.markObject(vm.frames[i].closure)
	}
	for uv := vm.openUpvalues; uv != nil; uv = uv.Next {
		m.markObject(uv)
	}
	m.markTable(vm.globals)
	if vm.initString != nil {
		m.markObject(vm.initString)
	}
}

// DefineNative binds a Go function to a global name. fn receives any
// number of arguments.
func (vm *VM) DefineNative(name string, fn NativeFn) {
	vm.defineNative(name, -1, fn)
}

func (vm *VM) defineNative(name string, arity int, fn NativeFn) {
	// Both objects sit on the stack while the other allocates.
	vm.push(vm.heap.CopyGoString(name).Value())
	native := vm.heap.NewNative(name, fn)
	native.Arity = arity
	vm.push(native.Value())
	vm.globals.Set(vm.heap.AsString(vm.stack[vm.sp-2]), vm.stack[vm.sp-1])
	vm.pop()
	vm.pop()
}

func (vm *VM) resetStack() {
	vm.sp = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

// push grows the stack past its frame budget when a single frame's
// temporaries need it. Calls are refused once a new frame would not fit.
func (vm *VM) push(v Value) {
	if vm.sp == len(vm.stack) {
		vm.stack = append(vm.stack, make([]Value, SlotsPerFrame)...)
	}
	vm.stack[vm.sp] = v
	vm.sp++
}

func (vm *VM) pop() Value {
	vm.sp--
	return vm.stack[vm.sp]
}

func (vm *VM) peek(distance int) Value {
	return vm.stack[vm.sp-1-distance]
}
