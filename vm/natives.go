package vm

func (vm *VM) defineNatives() {
	vm.defineNative("clock", 0, clockNative)
	vm.defineNative("gc", 0, gcNative)
}

// clockNative returns the seconds elapsed since the VM was created.
func clockNative(vm *VM, args []Value) (Value, error) {
	return Number(vm.Elapsed().Seconds()), nil
}

// gcNative forces a full collection.
func gcNative(vm *VM, args []Value) (Value, error) {
	vm.heap.Collect()
	return Nil, nil
}
