package fixed

import (
	"math"
	"testing"
)

// TestVecArithmetic verifies the basic vector operations.
func TestVecArithmetic(t *testing.T) {
	a := VecFromInt(3, 4)
	b := VecFromInt(1, -2)

	if got := Add(a, b); got != VecFromInt(4, 2) {
		t.Errorf("Add: expected (4,2), got (%d,%d)", ToInt(got.X), ToInt(got.Y))
	}
	if got := Sub(a, b); got != VecFromInt(2, 6) {
		t.Errorf("Sub: expected (2,6), got (%d,%d)", ToInt(got.X), ToInt(got.Y))
	}
	if got := ScaleVec(a, FromInt(2)); got != VecFromInt(6, 8) {
		t.Errorf("ScaleVec: expected (6,8), got (%d,%d)", ToInt(got.X), ToInt(got.Y))
	}
	if got := Dot(a, b); got != FromInt(-5) {
		t.Errorf("Dot: expected -5, got %d", ToInt(got))
	}
}

// TestDistSq verifies squared distance and its symmetry.
func TestDistSq(t *testing.T) {
	a := VecFromInt(0, 0)
	b := VecFromInt(3, 4)

	if got := DistSq(a, b); got != FromInt(25) {
		t.Errorf("Expected 25, got %d", ToInt(got))
	}
	if DistSq(a, b) != DistSq(b, a) {
		t.Error("DistSq is not symmetric")
	}
}

// TestNormalize verifies unit length within fixed-point tolerance.
func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		v    Vec
	}{
		{"axis", VecFromInt(5, 0)},
		{"diagonal", VecFromInt(3, 4)},
		{"negative", VecFromInt(-7, 2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := Normalize(tt.v)
			mag := ToFloat(Len(n))
			if math.Abs(mag-1.0) > 1e-3 {
				t.Errorf("Expected unit length, got %.6f", mag)
			}
		})
	}

	if Normalize(Vec{}) != (Vec{}) {
		t.Error("Normalize of zero vector should be zero")
	}
}

// TestClampLen verifies magnitude clamping leaves short vectors untouched.
func TestClampLen(t *testing.T) {
	short := VecFromInt(1, 0)
	if got := ClampLen(short, FromInt(5)); got != short {
		t.Error("Short vector should pass through unchanged")
	}

	long := VecFromInt(30, 40)
	clamped := ClampLen(long, FromInt(5))
	mag := ToFloat(Len(clamped))
	if math.Abs(mag-5.0) > 1e-2 {
		t.Errorf("Expected magnitude 5, got %.4f", mag)
	}
}
