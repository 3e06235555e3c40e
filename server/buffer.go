package server

import (
	"io"
	"sync"

	"github.com/chazu/loxvm/pkg/dynarray"
)

// OutputBuffer is an append-only byte sink. It is safe for one writer and
// any number of readers.
type OutputBuffer struct {
	mu   sync.Mutex
	data *dynarray.Array[byte]
}

// NewOutputBuffer returns an empty buffer.
func NewOutputBuffer() *OutputBuffer {
	return &OutputBuffer{data: dynarray.New[byte](nil)}
}

// Write appends p. It never fails.
func (b *OutputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range p {
		b.data.Append(c)
	}
	return len(p), nil
}

// WriteString appends s.
func (b *OutputBuffer) WriteString(s string) (int, error) {
	return b.Write([]byte(s))
}

// ReadAt copies buffered bytes starting at off into p. It returns io.EOF
// once off reaches the end of the buffer.
func (b *OutputBuffer) ReadAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.data.Items()
	if off >= int64(len(items)) {
		return 0, io.EOF
	}
	n := copy(p, items[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Len reports the number of buffered bytes.
func (b *OutputBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data.Len()
}

// Bytes returns a copy of the buffered bytes.
func (b *OutputBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data.Items()...)
}

// String returns the buffered bytes as a string.
func (b *OutputBuffer) String() string {
	return string(b.Bytes())
}

// Reset discards the contents.
func (b *OutputBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data.Reset()
}
