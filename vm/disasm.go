package vm

import (
	"fmt"
	"strings"
)

// DisassembleChunk renders every instruction of c under a "== name ==" header.
func DisassembleChunk(h *Heap, c *Chunk, name string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "== %s ==\n", name)
	for offset := 0; offset < c.Len(); {
		text, next := DisassembleInstruction(h, c, offset)
		sb.WriteString(text)
		offset = next
	}
	return sb.String()
}

// DisassembleInstruction renders the instruction at offset and returns the
// offset of the next one.
func DisassembleInstruction(h *Heap, c *Chunk, offset int) (string, int) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%04d ", offset)
	if offset > 0 && c.Line(offset) == c.Line(offset-1) {
		sb.WriteString("   | ")
	} else {
		fmt.Fprintf(&sb, "%4d ", c.Line(offset))
	}

	code := c.Code()
	op := Opcode(code[offset])
	switch op {
	case OpConstant, OpGetGlobal, OpDefineGlobal, OpSetGlobal,
		OpGetProperty, OpSetProperty, OpGetSuper, OpClass, OpMethod:
		index := code[offset+1]
		fmt.Fprintf(&sb, "%-16s %4d '%s'\n", op, index, h.FormatValue(c.Constant(int(index))))
		return sb.String(), offset + 2

	case OpGetLocal, OpSetLocal, OpGetUpvalue, OpSetUpvalue, OpCall:
		fmt.Fprintf(&sb, "%-16s %4d\n", op, code[offset+1])
		return sb.String(), offset + 2

	case OpJump, OpJumpIfFalse, OpLoop:
		jump := int(code[offset+1])<<8 | int(code[offset+2])
		sign := 1
		if op == OpLoop {
			sign = -1
		}
		fmt.Fprintf(&sb, "%-16s %4d -> %d\n", op, offset, offset+3+sign*jump)
		return sb.String(), offset + 3

	case OpInvoke, OpSuperInvoke:
		index := code[offset+1]
		argCount := code[offset+2]
		fmt.Fprintf(&sb, "%-16s (%d args) %4d '%s'\n", op, argCount, index, h.FormatValue(c.Constant(int(index))))
		return sb.String(), offset + 3

	case OpClosure:
		offset++
		index := code[offset]
		offset++
		value := c.Constant(int(index))
		fmt.Fprintf(&sb, "%-16s %4d %s\n", op, index, h.FormatValue(value))
		fn := h.AsFunction(value)
		for j := 0; j < fn.UpvalueCount; j++ {
			kind := "upvalue"
			if code[offset] == 1 {
				kind = "local"
			}
			fmt.Fprintf(&sb, "%04d      |                     %s %d\n", offset, kind, code[offset+1])
			offset += 2
		}
		return sb.String(), offset

	default:
		if op < opcodeCount {
			fmt.Fprintf(&sb, "%s\n", op)
		} else {
			fmt.Fprintf(&sb, "Unknown opcode %d\n", byte(op))
		}
		return sb.String(), offset + 1
	}
}
