// Package fixed implements deterministic Q32.32 fixed-point arithmetic.
//
// Every operation is integer-only and produces bit-identical results on any
// platform Go targets, which is what makes the spatial index safe for
// lockstep simulation. Float conversions exist for configuration and
// diagnostics; nothing on a per-tick path should touch them.
package fixed

import (
	"math"
	"math/bits"
)

// Scalar is a Q32.32 fixed-point number: 32 integer bits, 32 fractional bits.
type Scalar int64

const (
	// Shift is the number of fractional bits.
	Shift = 32

	// One is the fixed-point representation of 1.0.
	One Scalar = 1 << Shift

	// Half is the fixed-point representation of 0.5.
	Half Scalar = 1 << (Shift - 1)

	// Max and Min are the saturation bounds.
	Max Scalar = math.MaxInt64
	Min Scalar = math.MinInt64
)

// FromInt converts an integer to fixed point.
func FromInt(i int) Scalar { return Scalar(int64(i) << Shift) }

// ToInt truncates a fixed-point value toward negative infinity.
// Arithmetic right shift gives floor semantics for negative values,
// which is exactly what cell-coordinate math needs.
func ToInt(f Scalar) int { return int(f >> Shift) }

// FromFloat converts a float64 to fixed point. Construction/diagnostic use.
func FromFloat(f float64) Scalar { return Scalar(f * float64(One)) }

// ToFloat converts a fixed-point value to float64. Diagnostic use.
func ToFloat(f Scalar) float64 { return float64(f) / float64(One) }

// Mul multiplies two fixed-point values through a 128-bit intermediate.
func Mul(a, b Scalar) Scalar {
	if a == 0 || b == 0 {
		return 0
	}
	negative := (a < 0) != (b < 0)
	ua, ub := uint64(a), uint64(b)
	if a < 0 {
		ua = uint64(-a)
	}
	if b < 0 {
		ub = uint64(-b)
	}

	hi, lo := bits.Mul64(ua, ub)
	// Q32.32 * Q32.32 = Q64.64; shift right 32 to return to Q32.32.
	result := Scalar((hi << 32) | (lo >> 32))

	if negative {
		return -result
	}
	return result
}

// Div divides two fixed-point values, saturating on overflow.
// Division by zero returns zero; callers validate denominators up front.
func Div(a, b Scalar) Scalar {
	if b == 0 {
		return 0
	}
	negative := (a < 0) != (b < 0)
	ua, ub := uint64(a), uint64(b)
	if a < 0 {
		ua = uint64(-a)
	}
	if b < 0 {
		ub = uint64(-b)
	}

	// a << 32 as a 128-bit value: hi = a >> 32, lo = a << 32.
	hi := ua >> 32
	lo := ua << 32

	// Quotient would not fit in 64 bits.
	if hi >= ub {
		if negative {
			return Min
		}
		return Max
	}

	quo, _ := bits.Div64(hi, lo, ub)

	if quo > math.MaxInt64 {
		if negative {
			return Min
		}
		return Max
	}

	if negative {
		return -Scalar(quo)
	}
	return Scalar(quo)
}

// MulInt scales a fixed-point value by a plain integer. Exact as long as
// the product stays inside the Q32.32 range.
func MulInt(a Scalar, n int64) Scalar { return Scalar(int64(a) * n) }

// MulDiv computes (a * b) / c with a 128-bit intermediate, avoiding the
// precision loss of chaining Mul and Div.
func MulDiv(a, b, c Scalar) Scalar {
	if c == 0 {
		return 0
	}
	neg := ((a < 0) != (b < 0)) != (c < 0)
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	if c < 0 {
		c = -c
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	q, _ := bits.Div64(hi, lo, uint64(c))
	r := Scalar(q)
	if neg {
		return -r
	}
	return r
}

// Abs returns the absolute value.
func Abs(x Scalar) Scalar {
	if x < 0 {
		return -x
	}
	return x
}

// Sign returns -One, 0, or One.
func Sign(x Scalar) Scalar {
	if x < 0 {
		return -One
	}
	if x > 0 {
		return One
	}
	return 0
}

// MinOf returns the smaller of two values.
func MinOf(a, b Scalar) Scalar {
	if a < b {
		return a
	}
	return b
}

// MaxOf returns the larger of two values.
func MaxOf(a, b Scalar) Scalar {
	if a > b {
		return a
	}
	return b
}

// Clamp limits x to [lo, hi].
func Clamp(x, lo, hi Scalar) Scalar {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Sqrt returns the square root using Newton-Raphson iteration.
// 12 iterations cover Q32.32 precision across the value ranges the
// simulation uses (distances up to tens of thousands of units).
func Sqrt(x Scalar) Scalar {
	if x <= 0 {
		return 0
	}

	// Initial guess from magnitude: for values above 1.0 walk a power of
	// two up toward x/2, below 1.0 start at x/2.
	guess := x
	if guess > One {
		guess = One
		for guess < x>>1 {
			guess <<= 1
		}
	} else {
		guess = x >> 1
		if guess == 0 {
			guess = 1
		}
	}

	for i := 0; i < 12; i++ {
		if guess == 0 {
			return 0
		}
		guess = (guess + Div(x, guess)) >> 1
	}
	return guess
}
