package vm

import (
	"math"
	"testing"
)

func TestNumberRoundTrip(t *testing.T) {
	tests := []float64{
		0.0,
		-0.0,
		1.0,
		-1.5,
		3.14159265358979,
		math.MaxFloat64,
		math.SmallestNonzeroFloat64,
		math.Inf(1),
		math.Inf(-1),
	}

	for _, f := range tests {
		v := Number(f)
		if !v.IsNumber() {
			t.Errorf("Number(%v).IsNumber() = false, want true", f)
			continue
		}
		if v.IsObject() || v.IsNil() || v.IsBool() {
			t.Errorf("Number(%v) reports a non-number tag", f)
		}
		if got := v.AsNumber(); got != f {
			t.Errorf("Number(%v).AsNumber() = %v", f, got)
		}
	}
}

func TestNaNIsCanonical(t *testing.T) {
	v := Number(math.NaN())
	if !v.IsNumber() {
		t.Fatal("NaN should be a number")
	}
	if !math.IsNaN(v.AsNumber()) {
		t.Fatalf("AsNumber() = %v, want NaN", v.AsNumber())
	}
	if v.IsObject() || v == Nil || v == True || v == False {
		t.Fatal("NaN aliases a tagged value")
	}
	if ValuesEqual(v, v) {
		t.Error("NaN should not equal itself")
	}
}

func TestSpecialValues(t *testing.T) {
	if !Nil.IsNil() || Nil.IsNumber() || Nil.IsObject() {
		t.Error("Nil tagged incorrectly")
	}
	if !True.IsBool() || !True.AsBool() {
		t.Error("True tagged incorrectly")
	}
	if !False.IsBool() || False.AsBool() {
		t.Error("False tagged incorrectly")
	}
	if Bool(true) != True || Bool(false) != False {
		t.Error("Bool() does not return the canonical values")
	}
}

func TestObjectValue(t *testing.T) {
	for _, ref := range []Ref{1, 2, 1000, math.MaxUint32} {
		v := ObjectValue(ref)
		if !v.IsObject() {
			t.Errorf("ObjectValue(%d).IsObject() = false", ref)
		}
		if v.IsNumber() {
			t.Errorf("ObjectValue(%d).IsNumber() = true", ref)
		}
		if got := v.Ref(); got != ref {
			t.Errorf("ObjectValue(%d).Ref() = %d", ref, got)
		}
	}
}

func TestIsFalsey(t *testing.T) {
	tests := []struct {
		v    Value
		want bool
	}{
		{Nil, true},
		{False, true},
		{True, false},
		{Number(0), false},
		{Number(-1), false},
		{ObjectValue(1), false},
	}
	for _, tt := range tests {
		if got := IsFalsey(tt.v); got != tt.want {
			t.Errorf("IsFalsey(%s) = %v, want %v", tt.v.TypeName(), got, tt.want)
		}
	}
}

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		a, b Value
		want bool
	}{
		{Number(1), Number(1), true},
		{Number(0), Number(math.Copysign(0, -1)), true},
		{Number(1), Number(2), false},
		{Nil, Nil, true},
		{Nil, False, false},
		{True, True, true},
		{Number(0), False, false},
		{ObjectValue(3), ObjectValue(3), true},
		{ObjectValue(3), ObjectValue(4), false},
	}
	for i, tt := range tests {
		if got := ValuesEqual(tt.a, tt.b); got != tt.want {
			t.Errorf("case %d: ValuesEqual = %v, want %v", i, got, tt.want)
		}
	}
}

func TestAsNumberPanicsOnNonNumber(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("AsNumber on nil did not panic")
		}
	}()
	Nil.AsNumber()
}
