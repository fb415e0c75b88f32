package money

import "testing"

func TestNewFromString(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"100.00", "100.00", false},
		{"0", "0.00", false},
		{"60.005", "60.00", false}, // display truncates to 2dp rather than rounding
		{"abc", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			a, err := NewFromString(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if a.String() != tt.want {
				t.Errorf("String() = %s, want %s", a.String(), tt.want)
			}
		})
	}
}

func TestAddSub(t *testing.T) {
	a := MustNewFromString("100.00")
	b := MustNewFromString("60.00")

	sum := a.Add(b)
	if sum.String() != "160.00" {
		t.Errorf("Add = %s, want 160.00", sum.String())
	}

	diff := a.Sub(b)
	if diff.String() != "40.00" {
		t.Errorf("Sub = %s, want 40.00", diff.String())
	}
}

func TestComparisons(t *testing.T) {
	a := MustNewFromString("50.00")
	b := MustNewFromString("100.00")

	if !a.LessThan(b) {
		t.Error("expected 50.00 < 100.00")
	}
	if b.LessThan(a) {
		t.Error("expected 100.00 not < 50.00")
	}
	if !b.GreaterThanOrEqual(a) {
		t.Error("expected 100.00 >= 50.00")
	}
	if !Zero.IsZero() {
		t.Error("expected Zero.IsZero()")
	}
	if a.IsNegative() {
		t.Error("50.00 should not be negative")
	}
	if !a.Neg().IsNegative() {
		t.Error("-50.00 should be negative")
	}
}

func TestJSONRoundtrip(t *testing.T) {
	a := MustNewFromString("160.00")
	b, err := a.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON error: %v", err)
	}
	if string(b) != `"160.00"` {
		t.Errorf("MarshalJSON = %s, want \"160.00\"", b)
	}

	var got Amount
	if err := got.UnmarshalJSON(b); err != nil {
		t.Fatalf("UnmarshalJSON error: %v", err)
	}
	if got.Cmp(a) != 0 {
		t.Errorf("roundtrip mismatch: got %s, want %s", got.String(), a.String())
	}
}
