package fixed

// Vec is a 2D vector in Q32.32 fixed point.
type Vec struct {
	X, Y Scalar
}

// V constructs a vector from two scalars.
func V(x, y Scalar) Vec { return Vec{X: x, Y: y} }

// VecFromInt constructs a vector from integer coordinates.
func VecFromInt(x, y int) Vec { return Vec{X: FromInt(x), Y: FromInt(y)} }

// VecFromFloat constructs a vector from float coordinates. Construction and
// test use only.
func VecFromFloat(x, y float64) Vec { return Vec{X: FromFloat(x), Y: FromFloat(y)} }

// Add returns a + b.
func Add(a, b Vec) Vec { return Vec{a.X + b.X, a.Y + b.Y} }

// Sub returns a - b.
func Sub(a, b Vec) Vec { return Vec{a.X - b.X, a.Y - b.Y} }

// ScaleVec returns v scaled by s.
func ScaleVec(v Vec, s Scalar) Vec { return Vec{Mul(v.X, s), Mul(v.Y, s)} }

// Dot returns the dot product.
func Dot(a, b Vec) Scalar { return Mul(a.X, b.X) + Mul(a.Y, b.Y) }

// LenSq returns the squared magnitude.
func LenSq(v Vec) Scalar { return Mul(v.X, v.X) + Mul(v.Y, v.Y) }

// Len returns the magnitude.
func Len(v Vec) Scalar { return Sqrt(LenSq(v)) }

// DistSq returns the squared distance between two points.
//
// The intermediate products stay inside int64 as long as |a-b| is below
// roughly 46k world units per axis; cell-neighborhood math is always orders
// of magnitude under that.
func DistSq(a, b Vec) Scalar {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return Mul(dx, dx) + Mul(dy, dy)
}

// Normalize returns v scaled to unit length, or the zero vector for zero
// input. Integer-only: one Sqrt, one Div, two Muls.
func Normalize(v Vec) Vec {
	mag := Len(v)
	if mag == 0 {
		return Vec{}
	}
	inv := Div(One, mag)
	return Vec{Mul(v.X, inv), Mul(v.Y, inv)}
}

// ClampLen limits the magnitude of v to maxLen.
func ClampLen(v Vec, maxLen Scalar) Vec {
	if maxLen <= 0 {
		return Vec{}
	}
	if LenSq(v) <= Mul(maxLen, maxLen) {
		return v
	}
	return ScaleVec(Normalize(v), maxLen)
}
