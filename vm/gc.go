package vm

import (
	"time"

	"github.com/chazu/loxvm/pkg/dynarray"
)

// ---------------------------------------------------------------------------
// Garbage collector: stop-the-world mark-sweep
// ---------------------------------------------------------------------------

// Collector defaults.
const (
	DefaultInitialThreshold = 1024 * 1024
	DefaultMinThreshold     = 1024 * 1024
	DefaultGrowthFactor     = 2.0
)

// GCOptions configures collection pressure.
type GCOptions struct {
	// InitialThreshold is the byte count that triggers the first collection.
	InitialThreshold int
	// MinThreshold is the floor for the threshold computed after a cycle.
	MinThreshold int
	// GrowthFactor multiplies the bytes live after a cycle to get the next
	// threshold.
	GrowthFactor float64
	// Stress collects on every allocation.
	Stress bool
	// Trace logs allocation, marking and sweeping at debug level.
	Trace bool
}

// DefaultGCOptions returns the standard configuration.
func DefaultGCOptions() GCOptions {
	return GCOptions{
		InitialThreshold: DefaultInitialThreshold,
		MinThreshold:     DefaultMinThreshold,
		GrowthFactor:     DefaultGrowthFactor,
	}
}

func (o GCOptions) withDefaults() GCOptions {
	if o.InitialThreshold <= 0 {
		o.InitialThreshold = DefaultInitialThreshold
	}
	if o.MinThreshold <= 0 {
		o.MinThreshold = DefaultMinThreshold
	}
	if o.GrowthFactor <= 1 {
		o.GrowthFactor = DefaultGrowthFactor
	}
	return o
}

// GCStats describes one collection.
type GCStats struct {
	BytesBefore  int
	BytesAfter   int
	ObjectsFreed int
	StringsFreed int
	NextGC       int
	Duration     time.Duration
}

// Marker is handed to every RootMarker during the mark phase.
// Marked objects are pushed onto a gray worklist and traced afterwards.
type Marker struct {
	heap *Heap
	gray dynarray.Array[Object]
}

func newMarker(h *Heap) *Marker {
	return &Marker{heap: h}
}

// MarkValue marks the object v refers to, if any.
func (m *Marker) MarkValue(v Value) {
	if v.IsObject() {
		m.markObject(m.heap.ObjectOf(v))
	}
}

// MarkObject marks obj. obj must not be a nil pointer.
func (m *Marker) MarkObject(obj Object) {
	m.markObject(obj)
}

func (m *Marker) markValue(v Value) {
	m.MarkValue(v)
}

func (m *Marker) markObject(obj Object) {
	hd := obj.hdr()
	if hd.marked {
		return
	}
	if hd.freed {
		panic("vm: marking a freed object")
	}
	hd.marked = true
	if m.heap.opts.Trace {
		m.heap.log.Debugf("%d mark %s", hd.ref, hd.kind)
	}
	m.gray.Append(obj)
}

// MarkTable marks every key and value of t.
func (m *Marker) MarkTable(t *Table) {
	m.markTable(t)
}

func (m *Marker) markTable(t *Table) {
	for i := range t.entries {
		entry := &t.entries[i]
		if entry.Key != nil {
			m.markObject(entry.Key)
		}
		m.markValue(entry.Value)
	}
}

func (m *Marker) trace() {
	for m.gray.Len() > 0 {
		obj := m.gray.Pop()
		if m.heap.opts.Trace {
			m.heap.log.Debugf("%d blacken %s", obj.Ref(), obj.Kind())
		}
		obj.blacken(m)
	}
}

// collector is the receiver type the object variants trace through.
type collector = Marker

// Collect runs one full mark-sweep cycle. Everything reachable from a
// registered root or a Hold when the cycle begins survives it.
func (h *Heap) Collect() GCStats {
	if h.collecting {
		return GCStats{}
	}
	h.collecting = true
	defer func() { h.collecting = false }()

	start := time.Now()
	stats := GCStats{BytesBefore: h.bytesAllocated}
	freedBefore := h.objectsFreed
	if h.opts.Trace {
		h.log.Debug("-- gc begin")
	}

	h.markRoots()
	h.marker.trace()
	stats.StringsFreed = h.strings.RemoveWhite()
	h.sweep()

	next := int(float64(h.bytesAllocated) * h.opts.GrowthFactor)
	if next < h.opts.MinThreshold {
		next = h.opts.MinThreshold
	}
	h.nextGC = next
	h.collections++

	stats.BytesAfter = h.bytesAllocated
	stats.ObjectsFreed = h.objectsFreed - freedBefore
	stats.NextGC = next
	stats.Duration = time.Since(start)

	if h.opts.Trace {
		h.log.Debugf("-- gc end: collected %d bytes (from %d to %d) next at %d",
			stats.BytesBefore-stats.BytesAfter, stats.BytesBefore, stats.BytesAfter, next)
	}
	return stats
}

func (h *Heap) markRoots() {
	for _, v := range h.temps.Items() {
		h.marker.markValue(v)
	}
	for _, r := range h.roots {
		r.MarkRoots(h.marker)
	}
}

// sweep walks the object list once, freeing every unmarked object and
// clearing the mark on survivors.
func (h *Heap) sweep() {
	var previous Object
	obj := h.objects
	for obj != nil {
		hd := obj.hdr()
		if hd.marked {
			hd.marked = false
			previous = obj
			obj = hd.next
			continue
		}

		unreached := obj
		obj = hd.next
		if previous != nil {
			previous.hdr().next = obj
		} else {
			h.objects = obj
		}
		h.release(unreached)
	}
}
