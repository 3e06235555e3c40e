package vm

import "github.com/chazu/loxvm/pkg/dynarray"

// Chunk is a compiled function body: bytecode, a parallel line table and a
// constant pool. It is built once by the compiler and only read while the
// function runs. A Chunk is owned by exactly one Function.
type Chunk struct {
	code      dynarray.Array[byte]
	lines     dynarray.Array[int]
	constants dynarray.Array[Value]
}

// NewChunk creates an empty chunk that is not accounted to any heap.
func NewChunk() *Chunk {
	return &Chunk{}
}

// newChunk creates a chunk whose growth counts as allocation on h.
func (h *Heap) newChunk() *Chunk {
	c := &Chunk{}
	c.code.SetGrowHook(h.growHook(1))
	c.lines.SetGrowHook(h.growHook(intSize))
	c.constants.SetGrowHook(h.growHook(valueSize))
	return c
}

// Write appends one instruction byte and records its source line.
func (c *Chunk) Write(b byte, line int) {
	c.code.Append(b)
	c.lines.Append(line)
}

// WriteOp appends an opcode.
func (c *Chunk) WriteOp(op Opcode, line int) {
	c.Write(byte(op), line)
}

// Len returns the number of code bytes.
func (c *Chunk) Len() int {
	return c.code.Len()
}

// Code returns the bytecode. The slice aliases the chunk and is only valid
// until the next Write.
func (c *Chunk) Code() []byte {
	return c.code.Items()
}

// Line returns the source line for the byte at offset.
func (c *Chunk) Line(offset int) int {
	return c.lines.At(offset)
}

// Patch overwrites an already written byte. Used for jump back-patching.
func (c *Chunk) Patch(offset int, b byte) {
	c.code.Set(offset, b)
}

// Constant returns the constant at index.
func (c *Chunk) Constant(index int) Value {
	return c.constants.At(index)
}

// Constants returns the constant pool.
func (c *Chunk) Constants() []Value {
	return c.constants.Items()
}

// ConstantCount returns the size of the constant pool.
func (c *Chunk) ConstantCount() int {
	return c.constants.Len()
}

// appendConstant adds v without protecting it. Callers that can trigger a
// collection go through Heap.AddConstant instead.
func (c *Chunk) appendConstant(v Value) int {
	return c.constants.Append(v)
}

// size returns the bytes held by the chunk's arrays.
func (c *Chunk) size() int {
	return c.code.Cap() + c.lines.Cap()*intSize + c.constants.Cap()*valueSize
}

func (c *Chunk) free() {
	c.code.Reset()
	c.lines.Reset()
	c.constants.Reset()
}
