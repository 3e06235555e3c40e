package vm

import (
	"io"
	"math"
	"strconv"
	"strings"
)

// FormatNumber renders f the way C's "%g" does.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	s := strconv.FormatFloat(f, 'g', 6, 64)
	if strings.ContainsRune(s, 'e') {
		// %g strips trailing zeros from the mantissa too.
		mant, exp, _ := strings.Cut(s, "e")
		if strings.ContainsRune(mant, '.') {
			mant = strings.TrimRight(strings.TrimRight(mant, "0"), ".")
		}
		return mant + "e" + exp
	}
	if strings.ContainsRune(s, '.') {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s
}

// FormatValue renders v as print would.
func (h *Heap) FormatValue(v Value) string {
	switch {
	case v.IsNumber():
		return FormatNumber(v.AsNumber())
	case v == True:
		return "true"
	case v == False:
		return "false"
	case v == Nil:
		return "nil"
	case v.IsObject():
		return h.formatObject(h.ObjectOf(v))
	}
	return "<unknown>"
}

// PrintValue writes v's printed form to w.
func (h *Heap) PrintValue(w io.Writer, v Value) error {
	_, err := io.WriteString(w, h.FormatValue(v))
	return err
}

func formatFunction(fn *Function) string {
	if fn.Name == nil {
		return "<script>"
	}
	return "<fn " + fn.Name.Chars + ">"
}

func (h *Heap) formatObject(obj Object) string {
	switch o := obj.(type) {
	case *BoundMethod:
		return formatFunction(o.Method.Function)
	case *Instance:
		return o.Class.Name.Chars + " instance"
	case *Class:
		return o.Name.Chars
	case *Upvalue:
		return "upvalue"
	case *Closure:
		return formatFunction(o.Function)
	case *Function:
		return formatFunction(o)
	case *Native:
		return "<native fn>"
	case *String:
		return o.Chars
	}
	return "<object>"
}
