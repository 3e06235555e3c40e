package vm

import (
	"math"
)

// Value represents a Lox value using NaN-boxing.
//
// All values are 64-bit IEEE 754 doubles. Non-number values live in the
// quiet NaN space, distinguished by tag bits:
//   - Number: native IEEE 754 double (anything that is not a tagged NaN)
//   - Special: quiet NaN + tagSpecial + nil/true/false payload
//   - Object: quiet NaN + tagObject + 32-bit heap handle (Ref)
//
// Values are copied freely; the heap owns the objects they refer to.
type Value uint64

// NaN-boxing constants
const (
	// Quiet NaN prefix: exponent all 1s, quiet bit set, sign bit 0
	nanBits uint64 = 0x7FF8000000000000

	// Tag mask: 3 bits within the NaN mantissa space
	tagMask uint64 = 0x0007000000000000

	// Payload mask: 48 bits; object handles use the low 32
	payloadMask uint64 = 0x0000FFFFFFFFFFFF

	tagObject  uint64 = 0x0001000000000000
	tagSpecial uint64 = 0x0003000000000000
)

// Special value payloads
const (
	specialNil   uint64 = 0
	specialTrue  uint64 = 1
	specialFalse uint64 = 2
)

// Pre-defined special values
const (
	Nil   Value = Value(nanBits | tagSpecial | specialNil)
	True  Value = Value(nanBits | tagSpecial | specialTrue)
	False Value = Value(nanBits | tagSpecial | specialFalse)
)

// canonicalNaN is the bit pattern every NaN number is folded into so a
// computed NaN can never alias a tagged value.
const canonicalNaN uint64 = 0x7FF8000000000001

// Ref is a handle into the heap arena. Ref 0 is never allocated.
type Ref uint32

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// Number creates a Value from a float64.
func Number(f float64) Value {
	if f != f {
		return Value(canonicalNaN)
	}
	return Value(math.Float64bits(f))
}

// Bool creates True or False.
func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

// ObjectValue wraps a heap handle.
func ObjectValue(ref Ref) Value {
	return Value(nanBits | tagObject | uint64(ref))
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsNumber returns true if v represents a float64 value.
func (v Value) IsNumber() bool {
	bits := uint64(v)
	if bits&nanBits != nanBits {
		// Exponent not all 1s, infinity, or a signalling NaN.
		return true
	}
	return bits&tagMask == 0
}

// IsObject returns true if v holds a heap reference.
func (v Value) IsObject() bool {
	return uint64(v)&(nanBits|tagMask) == nanBits|tagObject
}

// IsNil returns true if v is nil.
func (v Value) IsNil() bool {
	return v == Nil
}

// IsBool returns true if v is true or false.
func (v Value) IsBool() bool {
	return v == True || v == False
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// AsNumber returns v as a float64. Panics if v is not a number.
func (v Value) AsNumber() float64 {
	if !v.IsNumber() {
		panic("Value.AsNumber: not a number")
	}
	return math.Float64frombits(uint64(v))
}

// AsBool returns v as a bool. Panics if v is not a boolean.
func (v Value) AsBool() bool {
	if !v.IsBool() {
		panic("Value.AsBool: not a boolean")
	}
	return v == True
}

// Ref returns the heap handle carried by v. Panics if v is not an object.
func (v Value) Ref() Ref {
	if !v.IsObject() {
		panic("Value.Ref: not an object")
	}
	return Ref(uint64(v) & payloadMask)
}

// IsFalsey reports whether v counts as false in a condition: nil and false
// are falsey, everything else is truthy.
func IsFalsey(v Value) bool {
	return v == Nil || v == False
}

// ValuesEqual compares by tag, then by content. Numbers compare
// numerically; objects compare by identity, which covers strings because
// they are interned.
func ValuesEqual(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		return a.AsNumber() == b.AsNumber()
	}
	return a == b
}

// TypeName returns a short description of v's tag for diagnostics.
func (v Value) TypeName() string {
	switch {
	case v.IsNumber():
		return "number"
	case v.IsBool():
		return "boolean"
	case v.IsNil():
		return "nil"
	case v.IsObject():
		return "object"
	default:
		return "unknown"
	}
}
