package dynarray

import "testing"

func TestGrowCapacity(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 8},
		{1, 8},
		{7, 8},
		{8, 16},
		{16, 32},
		{1024, 2048},
	}
	for _, tt := range tests {
		if got := GrowCapacity(tt.in); got != tt.want {
			t.Errorf("GrowCapacity(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestArrayAppendKeepsContents(t *testing.T) {
	var a Array[int]
	const n = 1000
	for i := 0; i < n; i++ {
		if idx := a.Append(i * 3); idx != i {
			t.Fatalf("Append returned %d, want %d", idx, i)
		}
	}
	if a.Len() != n {
		t.Fatalf("Len() = %d, want %d", a.Len(), n)
	}
	for i := 0; i < n; i++ {
		if a.At(i) != i*3 {
			t.Fatalf("At(%d) = %d, want %d", i, a.At(i), i*3)
		}
	}
	if a.Cap() != 1024 {
		t.Errorf("Cap() = %d, want 1024", a.Cap())
	}
}

func TestArrayGrowHook(t *testing.T) {
	type growth struct{ old, new int }
	var seen []growth
	a := New[string](nil)
	a.SetGrowHook(func(oldCap, newCap int) {
		// Existing contents must still be readable during the hook.
		for i := 0; i < a.Len(); i++ {
			if a.At(i) == "" {
				t.Errorf("element %d empty during hook", i)
			}
		}
		seen = append(seen, growth{oldCap, newCap})
	})

	for i := 0; i < 17; i++ {
		a.Append("x")
	}

	want := []growth{{0, 8}, {8, 16}, {16, 32}}
	if len(seen) != len(want) {
		t.Fatalf("hook called %d times, want %d (%v)", len(seen), len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("growth %d = %v, want %v", i, seen[i], want[i])
		}
	}
}

func TestArrayPopTruncate(t *testing.T) {
	var a Array[int]
	for i := 0; i < 10; i++ {
		a.Append(i)
	}
	if v := a.Pop(); v != 9 {
		t.Errorf("Pop() = %d, want 9", v)
	}
	if a.Last() != 8 {
		t.Errorf("Last() = %d, want 8", a.Last())
	}
	a.Truncate(3)
	if a.Len() != 3 {
		t.Errorf("Len() after Truncate = %d, want 3", a.Len())
	}
	if a.Cap() < 10 {
		t.Errorf("Truncate dropped capacity: %d", a.Cap())
	}
	a.Set(0, 42)
	if a.Items()[0] != 42 {
		t.Errorf("Items()[0] = %d, want 42", a.Items()[0])
	}
	a.Reset()
	if a.Len() != 0 || a.Cap() != 0 {
		t.Errorf("Reset left len=%d cap=%d", a.Len(), a.Cap())
	}
}
