package vm

import "testing"

func TestDisassembleChunk(t *testing.T) {
	h := NewHeap(DefaultGCOptions())
	defer h.Free()

	fn := h.NewFunction()
	c := fn.Chunk
	index := h.AddConstant(c, Number(1.2))
	c.WriteOp(OpConstant, 123)
	c.Write(byte(index), 123)
	c.WriteOp(OpJumpIfFalse, 123)
	c.Write(0, 123)
	c.Write(1, 123)
	c.WriteOp(OpPop, 124)
	c.WriteOp(OpGetLocal, 124)
	c.Write(2, 124)
	c.WriteOp(OpLoop, 125)
	c.Write(0, 125)
	c.Write(10, 125)
	c.WriteOp(OpReturn, 125)

	want := "== test ==\n" +
		"0000  123 OP_CONSTANT         0 '1.2'\n" +
		"0002    | OP_JUMP_IF_FALSE    2 -> 6\n" +
		"0005  124 OP_POP\n" +
		"0006    | OP_GET_LOCAL        2\n" +
		"0008  125 OP_LOOP             8 -> 1\n" +
		"0011    | OP_RETURN\n"
	if got := DisassembleChunk(h, c, "test"); got != want {
		t.Errorf("DisassembleChunk =\n%s\nwant\n%s", got, want)
	}
}

func TestDisassembleClosure(t *testing.T) {
	h := NewHeap(DefaultGCOptions())
	defer h.Free()

	inner := h.NewFunction()
	inner.Name = h.CopyGoString("inner")
	inner.UpvalueCount = 2

	outer := h.NewFunction()
	c := outer.Chunk
	index := h.AddConstant(c, inner.Value())
	c.WriteOp(OpClosure, 1)
	c.Write(byte(index), 1)
	c.Write(1, 1)
	c.Write(3, 1)
	c.Write(0, 1)
	c.Write(0, 1)

	got, next := DisassembleInstruction(h, c, 0)
	want := "0000    1 OP_CLOSURE          0 <fn inner>\n" +
		"0002      |                     local 3\n" +
		"0004      |                     upvalue 0\n"
	if got != want {
		t.Errorf("DisassembleInstruction =\n%s\nwant\n%s", got, want)
	}
	if next != 6 {
		t.Errorf("next offset = %d, want 6", next)
	}
}

func TestDisassembleInvoke(t *testing.T) {
	h := NewHeap(DefaultGCOptions())
	defer h.Free()

	fn := h.NewFunction()
	c := fn.Chunk
	index := h.AddConstant(c, h.CopyGoString("area").Value())
	c.WriteOp(OpInvoke, 7)
	c.Write(byte(index), 7)
	c.Write(2, 7)

	got, next := DisassembleInstruction(h, c, 0)
	if want := "0000    7 OP_INVOKE        (2 args)    0 'area'\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if next != 3 {
		t.Errorf("next offset = %d, want 3", next)
	}
}
