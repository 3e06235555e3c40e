package compiler

import (
	"strings"

	"github.com/chazu/loxvm/vm"
)

// Disassemble renders fn and every function nested in its constant pool,
// outermost first.
func Disassemble(h *vm.Heap, fn *vm.Function) string {
	var sb strings.Builder
	disassembleInto(&sb, h, fn)
	return sb.String()
}

func disassembleInto(sb *strings.Builder, h *vm.Heap, fn *vm.Function) {
	name := "<script>"
	if fn.Name != nil {
		name = fn.Name.Chars
	}
	sb.WriteString(vm.DisassembleChunk(h, fn.Chunk, name))
	for _, c := range fn.Chunk.Constants() {
		if h.IsKind(c, vm.KindFunction) {
			disassembleInto(sb, h, h.AsFunction(c))
		}
	}
}
