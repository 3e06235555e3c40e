// Package dynarray provides a growable buffer with geometric growth.
//
// Array is the single growth abstraction shared by chunks (code, line and
// constant arrays) and the collector's gray worklist. Capacity starts at
// MinCapacity on first growth and doubles afterwards, so n appends copy at
// most O(n) elements in total.
package dynarray

// MinCapacity is the capacity allocated on the first growth.
const MinCapacity = 8

// GrowCapacity returns the capacity that follows c.
func GrowCapacity(c int) int {
	if c < MinCapacity {
		return MinCapacity
	}
	return c * 2
}

// GrowHook is called with the old and new capacity before an Array
// replaces its backing storage. The existing elements are still valid
// and readable while the hook runs.
type GrowHook func(oldCap, newCap int)

// Array is a growable buffer of T. The zero value is an empty array
// ready for use.
type Array[T any] struct {
	items  []T
	onGrow GrowHook
}

// New creates an empty Array that reports growth to hook. hook may be nil.
func New[T any](hook GrowHook) *Array[T] {
	return &Array[T]{onGrow: hook}
}

// SetGrowHook installs the hook reported on every growth.
func (a *Array[T]) SetGrowHook(hook GrowHook) {
	a.onGrow = hook
}

// Append adds v at the end and returns its index.
func (a *Array[T]) Append(v T) int {
	if len(a.items) == cap(a.items) {
		a.grow()
	}
	a.items = append(a.items, v)
	return len(a.items) - 1
}

func (a *Array[T]) grow() {
	oldCap := cap(a.items)
	newCap := GrowCapacity(oldCap)
	if a.onGrow != nil {
		a.onGrow(oldCap, newCap)
	}
	grown := make([]T, len(a.items), newCap)
	copy(grown, a.items)
	a.items = grown
}

// At returns the element at index i. Panics if i is out of range.
func (a *Array[T]) At(i int) T {
	return a.items[i]
}

// Set replaces the element at index i.
func (a *Array[T]) Set(i int, v T) {
	a.items[i] = v
}

// Last returns the final element. Panics on an empty array.
func (a *Array[T]) Last() T {
	return a.items[len(a.items)-1]
}

// Pop removes and returns the final element.
func (a *Array[T]) Pop() T {
	n := len(a.items) - 1
	v := a.items[n]
	var zero T
	a.items[n] = zero
	a.items = a.items[:n]
	return v
}

// Truncate shrinks the array to n elements, keeping capacity.
func (a *Array[T]) Truncate(n int) {
	var zero T
	for i := n; i < len(a.items); i++ {
		a.items[i] = zero
	}
	a.items = a.items[:n]
}

// Len returns the number of elements.
func (a *Array[T]) Len() int {
	return len(a.items)
}

// Cap returns the current capacity.
func (a *Array[T]) Cap() int {
	return cap(a.items)
}

// Items returns the live elements. The slice aliases the array's storage
// and is invalidated by the next growth.
func (a *Array[T]) Items() []T {
	return a.items
}

// Reset drops every element and releases the backing storage.
func (a *Array[T]) Reset() {
	a.items = nil
}
