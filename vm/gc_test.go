package vm

import (
	"fmt"
	"testing"
)

type valueRoots struct {
	values []Value
}

func (r *valueRoots) MarkRoots(m *Marker) {
	for _, v := range r.values {
		m.MarkValue(v)
	}
}

func TestCollectFreesUnreachable(t *testing.T) {
	h := NewHeap(DefaultGCOptions())
	defer h.Free()

	roots := &valueRoots{}
	remove := h.AddRoots(roots)
	defer remove()

	kept := h.CopyGoString("kept")
	roots.values = append(roots.values, kept.Value())
	dropped := h.CopyGoString("dropped")

	stats := h.Collect()
	if stats.ObjectsFreed != 1 {
		t.Errorf("ObjectsFreed = %d, want 1", stats.ObjectsFreed)
	}
	if stats.StringsFreed != 1 {
		t.Errorf("StringsFreed = %d, want 1", stats.StringsFreed)
	}
	if h.Freed(kept) {
		t.Error("rooted string was freed")
	}
	if !h.Freed(dropped) {
		t.Error("unreachable string survived")
	}
	if h.Interned() != 1 {
		t.Errorf("Interned() = %d, want 1", h.Interned())
	}
	// The weak intern table no longer finds the freed content.
	if again := h.CopyGoString("dropped"); again == dropped {
		t.Error("intern table returned a freed string")
	}
}

func TestCollectTracesObjectGraph(t *testing.T) {
	h := NewHeap(DefaultGCOptions())
	defer h.Free()

	roots := &valueRoots{}
	defer h.AddRoots(roots)()

	class := h.NewClass(h.CopyGoString("Node"))
	roots.values = append(roots.values, class.Value())

	fn := h.NewFunction()
	fn.Name = h.CopyGoString("method")
	h.AddConstant(fn.Chunk, h.CopyGoString("constant").Value())
	closure := h.NewClosure(fn)
	class.Methods.Set(h.CopyGoString("method"), closure.Value())

	instance := h.NewInstance(class)
	roots.values = append(roots.values, instance.Value())
	field := h.CopyGoString("field value")
	instance.Fields.Set(h.CopyGoString("field"), field.Value())

	bound := h.NewBoundMethod(instance.Value(), closure)
	roots.values = append(roots.values, bound.Value())

	uv := h.NewUpvalue(0)
	uv.IsOpen = false
	uv.Closed = h.CopyGoString("captured").Value()
	closure2 := h.NewClosure(h.NewFunction())
	closure2.Upvalues = []*Upvalue{uv}
	roots.values = append(roots.values, closure2.Value())

	live := h.Stats().LiveObjects
	stats := h.Collect()
	if stats.ObjectsFreed != 0 {
		t.Errorf("ObjectsFreed = %d, want 0", stats.ObjectsFreed)
	}
	if h.Stats().LiveObjects != live {
		t.Errorf("LiveObjects = %d, want %d", h.Stats().LiveObjects, live)
	}

	// Dropping the class and instance leaves only what the bound method and
	// the second closure reach.
	roots.values = []Value{closure2.Value()}
	h.Collect()
	for _, obj := range []Object{class, instance, bound, closure, fn, field} {
		if !h.Freed(obj) {
			t.Errorf("%s survived after its roots were dropped", obj.Kind())
		}
	}
	if h.Freed(uv) || h.Freed(closure2) {
		t.Error("closed upvalue graph was freed")
	}
	if h.Freed(h.AsString(uv.Closed)) {
		t.Error("closed upvalue value was freed")
	}
}

func TestStressModeKeepsHeldValues(t *testing.T) {
	h := NewHeap(GCOptions{Stress: true})
	defer h.Free()

	a := h.CopyGoString("a")
	hold := h.Hold(a.Value())

	b := h.CopyGoString("b") // collects: a is held
	if h.Freed(a) {
		t.Fatal("held string freed by a stress collection")
	}

	h.CopyGoString("c") // collects: b is unreachable
	if !h.Freed(b) {
		t.Error("unheld string survived a stress collection")
	}

	hold.Release()
	h.Collect()
	if !h.Freed(a) {
		t.Error("released string survived a collection")
	}
	if h.Stats().Collections < 3 {
		t.Errorf("Collections = %d, want at least 3", h.Stats().Collections)
	}
}

func TestStressModeConstantPoolGrowth(t *testing.T) {
	h := NewHeap(GCOptions{Stress: true})
	defer h.Free()

	fn := h.NewFunction()
	hold := h.Hold(fn.Value())
	defer hold.Release()

	// Every append may grow the pool and every growth collects; each new
	// string survives only because AddConstant holds it.
	for i := 0; i < 100; i++ {
		s := h.CopyGoString(fmt.Sprintf("c%d", i))
		h.AddConstant(fn.Chunk, s.Value())
	}
	for i, c := range fn.Chunk.Constants() {
		want := fmt.Sprintf("c%d", i)
		if got := h.AsString(c).Chars; got != want {
			t.Fatalf("constant %d = %q, want %q", i, got, want)
		}
	}
}

func TestThresholdAfterCollection(t *testing.T) {
	opts := GCOptions{InitialThreshold: 1 << 20, MinThreshold: 4096, GrowthFactor: 2}
	h := NewHeap(opts)
	defer h.Free()

	roots := &valueRoots{}
	defer h.AddRoots(roots)()
	for i := 0; i < 200; i++ {
		roots.values = append(roots.values, h.CopyGoString(fmt.Sprintf("string number %d", i)).Value())
	}

	stats := h.Collect()
	want := stats.BytesAfter * 2
	if want < 4096 {
		want = 4096
	}
	if stats.NextGC != want {
		t.Errorf("NextGC = %d, want %d", stats.NextGC, want)
	}
	if h.Stats().NextGC != want {
		t.Errorf("Stats().NextGC = %d, want %d", h.Stats().NextGC, want)
	}
}

func TestThresholdFloor(t *testing.T) {
	opts := GCOptions{InitialThreshold: 1 << 20, MinThreshold: 1 << 20, GrowthFactor: 2}
	h := NewHeap(opts)
	defer h.Free()

	h.CopyGoString("garbage")
	stats := h.Collect()
	if stats.NextGC != 1<<20 {
		t.Errorf("NextGC = %d with an almost empty heap, want floor %d", stats.NextGC, 1<<20)
	}
}

func TestGrowthTriggersCollection(t *testing.T) {
	opts := GCOptions{InitialThreshold: 512, MinThreshold: 512, GrowthFactor: 2}
	h := NewHeap(opts)
	defer h.Free()

	fn := h.NewFunction()
	hold := h.Hold(fn.Value())
	defer hold.Release()

	// Bytecode growth alone crosses the threshold.
	for i := 0; i < 4096; i++ {
		fn.Chunk.WriteOp(OpNil, i)
	}
	if h.Stats().Collections == 0 {
		t.Error("chunk growth past the threshold did not collect")
	}
	if h.Freed(fn) {
		t.Error("held function freed")
	}
}

func TestMarkFreedObjectPanics(t *testing.T) {
	h := NewHeap(DefaultGCOptions())
	defer h.Free()

	s := h.CopyGoString("x")
	h.Collect()

	defer func() {
		if recover() == nil {
			t.Error("marking a freed object did not panic")
		}
	}()
	h.marker.MarkObject(s)
}
