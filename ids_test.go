package zorm

import (
	"errors"
	"testing"
)

func TestNormalizeIDs(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want IDs
	}{
		{"nil", nil, IDs{}},
		{"empty slice", []any{}, IDs{}},
		{"single int", 7, IDs{7}},
		{"single string", "7", IDs{7}},
		{"blank string", "  ", IDs{}},
		{"ints", []int{3, 1, 2}, IDs{3, 1, 2}},
		{"duplicates keep first", []int64{2, 1, 2, 3, 1}, IDs{2, 1, 3}},
		{"mixed", []any{"4", 5, nil, "", int64(6), 4.0, "5"}, IDs{4, 5, 6}},
		{"non-positive dropped", []any{0, -3, "-1", 2}, IDs{2}},
		{"non-numeric text becomes zero", []any{"abc", "x1", 9}, IDs{9}},
		{"leading digits", []string{"12abc", " 8 "}, IDs{12, 8}},
		{"fractional float truncated", []any{3.9}, IDs{3}},
		{"already normalized", IDs{1, 2}, IDs{1, 2}},
		{"bytes", []byte("42"), IDs{42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeIDs(tt.raw)
			if got == nil {
				t.Fatal("NormalizeIDs returned nil")
			}
			if !got.Equal(tt.want) {
				t.Errorf("NormalizeIDs(%#v) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeIDs_Idempotent(t *testing.T) {
	inputs := []any{
		[]any{"3", 3, "x", nil, 8, "8", -1},
		[]string{"10", "9", "10"},
		nil,
	}
	for _, raw := range inputs {
		once := NormalizeIDs(raw)
		twice := NormalizeIDs(once)
		if !once.Equal(twice) {
			t.Errorf("normalizing %v twice changed it: %v -> %v", raw, once, twice)
		}
		seen := map[int64]bool{}
		for _, id := range once {
			if id <= 0 || seen[id] {
				t.Errorf("invalid id list %v from %v", once, raw)
			}
			seen[id] = true
		}
	}
}

func TestParseIDs(t *testing.T) {
	ids, err := ParseIDs([]any{"1", 2, "", nil, 1})
	if err != nil {
		t.Fatalf("ParseIDs failed: %v", err)
	}
	if !ids.Equal(IDs{1, 2}) {
		t.Errorf("expected [1,2], got %v", ids)
	}

	for _, bad := range []any{[]any{"abc"}, []any{1, "12abc"}, []any{0}, []any{-4}, []any{1.5}} {
		_, err := ParseIDs(bad)
		if !errors.Is(err, ErrInvalidID) || !IsInputError(err) {
			t.Errorf("ParseIDs(%v) = %v, want invalid id InputError", bad, err)
		}
	}
}

func TestIDs_ScanAndValue(t *testing.T) {
	tests := []struct {
		src  any
		want IDs
	}{
		{nil, IDs{}},
		{"", IDs{}},
		{"null", IDs{}},
		{"[]", IDs{}},
		{"[3,1,2]", IDs{3, 1, 2}},
		{[]byte(`[ "4", 5, null, 4 ]`), IDs{4, 5}},
	}
	for _, tt := range tests {
		var ids IDs
		if err := ids.Scan(tt.src); err != nil {
			t.Errorf("Scan(%v) failed: %v", tt.src, err)
			continue
		}
		if ids == nil || !ids.Equal(tt.want) {
			t.Errorf("Scan(%v) = %v, want %v", tt.src, ids, tt.want)
		}
	}

	var ids IDs
	if err := ids.Scan("{oops"); err == nil {
		t.Error("expected error for malformed array")
	}
	if err := ids.Scan(42); err == nil {
		t.Error("expected error for unsupported source type")
	}

	v, err := IDs{1, 22, 333}.Value()
	if err != nil || v != "[1,22,333]" {
		t.Errorf("Value() = %v, %v", v, err)
	}
	v, _ = IDs(nil).Value()
	if v != "[]" {
		t.Errorf("nil IDs must store as [], got %v", v)
	}
}

func TestIDs_SetOperations(t *testing.T) {
	a := IDs{1, 2, 3}

	if !a.Union(IDs{3, 4}, IDs{1, 5}).Equal(IDs{1, 2, 3, 4, 5}) {
		t.Error("Union keeps order of first occurrence")
	}
	if !a.Without(2).Equal(IDs{1, 3}) {
		t.Error("Without removes the id")
	}
	if a.Index(3) != 2 || a.Index(9) != -1 {
		t.Error("Index returns the position or -1")
	}
	if !a.Contains(1) || a.Contains(4) {
		t.Error("Contains")
	}

	c := a.Clone()
	c[0] = 99
	if a[0] != 1 {
		t.Error("Clone must not share memory")
	}
	if !IDs(nil).Equal(IDs{}) {
		t.Error("nil and empty lists are equal")
	}
}
