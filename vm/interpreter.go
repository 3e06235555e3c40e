package vm

import (
	"fmt"
	"io"
)

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

func (vm *VM) run() error {
	frame := &vm.frames[vm.frameCount-1]
	code := frame.closure.Function.Chunk.Code()

	readByte := func() byte {
		b := code[frame.ip]
		frame.ip++
		return b
	}
	readShort := func() int {
		hi, lo := code[frame.ip], code[frame.ip+1]
		frame.ip += 2
		return int(hi)<<8 | int(lo)
	}
	readConstant := func() Value {
		return frame.closure.Function.Chunk.Constant(int(readByte()))
	}
	readString := func() *String {
		return vm.heap.AsString(readConstant())
	}
	// reload refreshes the cached frame after a call or return.
	reload := func() {
		frame = &vm.frames[vm.frameCount-1]
		code = frame.closure.Function.Chunk.Code()
	}

	for {
		switch op := Opcode(readByte()); op {
		case OpConstant:
			vm.push(readConstant())

		case OpNil:
			vm.push(Nil)
		case OpTrue:
			vm.push(True)
		case OpFalse:
			vm.push(False)
		case OpPop:
			vm.pop()

		case OpGetLocal:
			slot := int(readByte())
			vm.push(vm.stack[frame.slots+slot])

		case OpSetLocal:
			slot := int(readByte())
			vm.stack[frame.slots+slot] = vm.peek(0)

		case OpGetGlobal:
			name := readString()
			value, ok := vm.globals.Get(name)
			if !ok {
				return vm.runtimeError("Undefined variable '%s'.", name.Chars)
			}
			vm.push(value)

		case OpDefineGlobal:
			name := readString()
			vm.globals.Set(name, vm.peek(0))
			vm.pop()

		case OpSetGlobal:
			name := readString()
			if vm.globals.Set(name, vm.peek(0)) {
				vm.globals.Delete(name)
				return vm.runtimeError("Undefined variable '%s'.", name.Chars)
			}

		case OpGetUpvalue:
			uv := frame.closure.Upvalues[readByte()]
			if uv.IsOpen {
				vm.push(vm.stack[uv.Slot])
			} else {
				vm.push(uv.Closed)
			}

		case OpSetUpvalue:
			uv := frame.closure.Upvalues[readByte()]
			if uv.IsOpen {
				vm.stack[uv.Slot] = vm.peek(0)
			} else {
				uv.Closed = vm.peek(0)
			}

		case OpGetProperty:
			if !vm.heap.IsInstance(vm.peek(0)) {
				return vm.runtimeError("Only instances have properties.")
			}
			instance := vm.heap.AsInstance(vm.peek(0))
			name := readString()
			if value, ok := instance.Fields.Get(name); ok {
				vm.pop()
				vm.push(value)
				break
			}
			if err := vm.bindMethod(instance.Class, name); err != nil {
				return err
			}

		case OpSetProperty:
			if !vm.heap.IsInstance(vm.peek(1)) {
				return vm.runtimeError("Only instances have fields.")
			}
			instance := vm.heap.AsInstance(vm.peek(1))
			instance.Fields.Set(readString(), vm.peek(0))
			value := vm.pop()
			vm.pop()
			vm.push(value)

		case OpGetSuper:
			name := readString()
			superclass := vm.heap.AsClass(vm.pop())
			if err := vm.bindMethod(superclass, name); err != nil {
				return err
			}

		case OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(Bool(ValuesEqual(a, b)))

		case OpGreater, OpLess, OpSubtract, OpMultiply, OpDivide:
			if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
				return vm.runtimeError("Operands must be numbers.")
			}
			b := vm.pop().AsNumber()
			a := vm.pop().AsNumber()
			switch op {
			case OpGreater:
				vm.push(Bool(a > b))
			case OpLess:
				vm.push(Bool(a < b))
			case OpSubtract:
				vm.push(Number(a - b))
			case OpMultiply:
				vm.push(Number(a * b))
			case OpDivide:
				vm.push(Number(a / b))
			}

		case OpAdd:
			switch {
			case vm.heap.IsString(vm.peek(0)) && vm.heap.IsString(vm.peek(1)):
				vm.concatenate()
			case vm.peek(0).IsNumber() && vm.peek(1).IsNumber():
				b := vm.pop().AsNumber()
				a := vm.pop().AsNumber()
				vm.push(Number(a + b))
			default:
				return vm.runtimeError("Operands must be two numbers or two strings.")
			}

		case OpNot:
			vm.push(Bool(IsFalsey(vm.pop())))

		case OpNegate:
			if !vm.peek(0).IsNumber() {
				return vm.runtimeError("Operand must be a number.")
			}
			vm.push(Number(-vm.pop().AsNumber()))

		case OpPrint:
			if _, err := io.WriteString(vm.out, vm.heap.FormatValue(vm.pop())+"\n"); err != nil {
				vm.log.Warningf("print: %s", err.Error())
			}

		case OpJump:
			offset := readShort()
			frame.ip += offset

		case OpJumpIfFalse:
			offset := readShort()
			if IsFalsey(vm.peek(0)) {
				frame.ip += offset
			}

		case OpLoop:
			offset := readShort()
			frame.ip -= offset

		case OpCall:
			argCount := int(readByte())
			if err := vm.callValue(vm.peek(argCount), argCount); err != nil {
				return err
			}
			reload()

		case OpInvoke:
			method := readString()
			argCount := int(readByte())
			if err := vm.invoke(method, argCount); err != nil {
				return err
			}
			reload()

		case OpSuperInvoke:
			method := readString()
			argCount := int(readByte())
			superclass := vm.heap.AsClass(vm.pop())
			if err := vm.invokeFromClass(superclass, method, argCount); err != nil {
				return err
			}
			reload()

		case OpClosure:
			fn := vm.heap.AsFunction(readConstant())
			closure := vm.heap.NewClosure(fn)
			vm.push(closure.Value())
			for i := range closure.Upvalues {
				isLocal := readByte()
				index := int(readByte())
				if isLocal == 1 {
					closure.Upvalues[i] = vm.captureUpvalue(frame.slots + index)
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}

		case OpCloseUpvalue:
			vm.closeUpvalues(vm.sp - 1)
			vm.pop()

		case OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.slots)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop()
				return nil
			}
			vm.sp = frame.slots
			vm.push(result)
			reload()

		case OpClass:
			vm.push(vm.heap.NewClass(readString()).Value())

		case OpInherit:
			if !vm.heap.IsClass(vm.peek(1)) {
				return vm.runtimeError("Superclass must be a class.")
			}
			superclass := vm.heap.AsClass(vm.peek(1))
			subclass := vm.heap.AsClass(vm.peek(0))
			AddAll(superclass.Methods, subclass.Methods)
			vm.pop()

		case OpMethod:
			vm.defineMethod(readString())

		default:
			panic(fmt.Sprintf("vm: unknown opcode %d at offset %d", byte(op), frame.ip-1))
		}
	}
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

func (vm *VM) call(closure *Closure, argCount int) error {
	if argCount != closure.Function.Arity {
		return vm.runtimeError("Expected %d arguments but got %d.", closure.Function.Arity, argCount)
	}
	base := vm.sp - argCount - 1
	if vm.frameCount == vm.maxFrames || base+SlotsPerFrame > vm.maxFrames*SlotsPerFrame {
		return vm.runtimeError("Stack overflow.")
	}
	frame := &vm.frames[vm.frameCount]
	vm.frameCount++
	frame.closure = closure
	frame.ip = 0
	frame.slots = base
	return nil
}

func (vm *VM) callValue(callee Value, argCount int) error {
	if callee.IsObject() {
		switch obj := vm.heap.ObjectOf(callee).(type) {
		case *BoundMethod:
			vm.stack[vm.sp-argCount-1] = obj.Receiver
			return vm.call(obj.Method, argCount)

		case *Class:
			vm.stack[vm.sp-argCount-1] = vm.heap.NewInstance(obj).Value()
			if initializer, ok := obj.Methods.Get(vm.initString); ok {
				return vm.call(vm.heap.AsClosure(initializer), argCount)
			}
			if argCount != 0 {
				return vm.runtimeError("Expected 0 arguments but got %d.", argCount)
			}
			return nil

		case *Closure:
			return vm.call(obj, argCount)

		case *Native:
			if obj.Arity >= 0 && argCount != obj.Arity {
				return vm.runtimeError("Expected %d arguments but got %d.", obj.Arity, argCount)
			}
			args := vm.stack[vm.sp-argCount : vm.sp]
			result, err := obj.Function(vm, args)
			if err != nil {
				return vm.runtimeError("%s", err.Error())
			}
			vm.sp -= argCount + 1
			vm.push(result)
			return nil
		}
	}
	return vm.runtimeError("Can only call functions and classes.")
}

func (vm *VM) invoke(name *String, argCount int) error {
	receiver := vm.peek(argCount)
	if !vm.heap.IsInstance(receiver) {
		return vm.runtimeError("Only instances have methods.")
	}
	instance := vm.heap.AsInstance(receiver)

	// A field holding a callable shadows a method of the same name.
	if value, ok := instance.Fields.Get(name); ok {
		vm.stack[vm.sp-argCount-1] = value
		return vm.callValue(value, argCount)
	}
	return vm.invokeFromClass(instance.Class, name, argCount)
}

func (vm *VM) invokeFromClass(class *Class, name *String, argCount int) error {
	method, ok := class.Methods.Get(name)
	if !ok {
		return vm.runtimeError("Undefined property '%s'.", name.Chars)
	}
	return vm.call(vm.heap.AsClosure(method), argCount)
}

// bindMethod replaces the receiver on top of the stack with a bound method.
func (vm *VM) bindMethod(class *Class, name *String) error {
	method, ok := class.Methods.Get(name)
	if !ok {
		return vm.runtimeError("Undefined property '%s'.", name.Chars)
	}
	hold := vm.heap.Hold(method)
	bound := vm.heap.NewBoundMethod(vm.peek(0), vm.heap.AsClosure(method))
	hold.Release()
	vm.pop()
	vm.push(bound.Value())
	return nil
}

func (vm *VM) defineMethod(name *String) {
	method := vm.peek(0)
	class := vm.heap.AsClass(vm.peek(1))
	class.Methods.Set(name, method)
	vm.pop()
}

func (vm *VM) concatenate() {
	b := vm.heap.AsString(vm.peek(0))
	a := vm.heap.AsString(vm.peek(1))
	chars := make([]byte, 0, a.Len()+b.Len())
	chars = append(chars, a.Chars...)
	chars = append(chars, b.Chars...)
	// Both operands stay on the stack until the result exists.
	result := vm.heap.TakeString(chars)
	vm.pop()
	vm.pop()
	vm.push(result.Value())
}

// ---------------------------------------------------------------------------
// Upvalues
// ---------------------------------------------------------------------------

// captureUpvalue returns the open upvalue for slot, creating it if needed.
// The open list stays sorted by descending slot.
func (vm *VM) captureUpvalue(slot int) *Upvalue {
	var prev *Upvalue
	uv := vm.openUpvalues
	for uv != nil && uv.Slot > slot {
		prev = uv
		uv = uv.Next
	}
	if uv != nil && uv.Slot == slot {
		return uv
	}

	created := vm.heap.NewUpvalue(slot)
	created.Next = uv
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.Next = created
	}
	return created
}

// closeUpvalues closes every open upvalue at or above stack slot last.
func (vm *VM) closeUpvalues(last int) {
	for vm.openUpvalues != nil && vm.openUpvalues.Slot >= last {
		uv := vm.openUpvalues
		uv.Closed = vm.stack[uv.Slot]
		uv.IsOpen = false
		vm.openUpvalues = uv.Next
		uv.Next = nil
	}
}

// OpenUpvalues returns the stack slots of the open upvalues, in list order.
func (vm *VM) OpenUpvalues() []int {
	var slots []int
	for uv := vm.openUpvalues; uv != nil; uv = uv.Next {
		slots = append(slots, uv.Slot)
	}
	return slots
}

// ---------------------------------------------------------------------------
// Runtime errors
// ---------------------------------------------------------------------------

// runtimeError captures the message and a stack trace while the frames
// are still intact.
func (vm *VM) runtimeError(format string, args ...any) *RuntimeError {
	err := &RuntimeError{Message: fmt.Sprintf(format, args...)}
	for i := vm.frameCount - 1; i >= 0; i-- {
		frame := &vm.frames[i]
		fn := frame.closure.Function
		line := fn.Chunk.Line(max(frame.ip-1, 0))
		trace := TraceLine{Line: line}
		if fn.Name != nil {
			trace.Function = fn.Name.Chars
		}
		err.Trace = append(err.Trace, trace)
	}
	return err
}

// report writes a runtime error to the output sink and resets the stack.
func (vm *VM) report(err error) error {
	if _, werr := io.WriteString(vm.out, err.Error()+"\n"); werr != nil {
		vm.log.Warningf("report: %s", werr.Error())
	}
	vm.log.Debugf("runtime error: %s", err.Error())
	vm.resetStack()
	return err
}
