package fixed

// Rand is a xorshift64 PRNG. It is deterministic, allocation-free, and fast
// enough to sit inside a tick loop; it is not cryptographically secure.
type Rand struct {
	state uint64
}

// NewRand seeds a generator. A zero seed is replaced with 1 because xorshift
// has a fixed point at zero.
func NewRand(seed uint64) *Rand {
	if seed == 0 {
		seed = 1
	}
	return &Rand{state: seed}
}

// Next advances the generator and returns the next 64-bit value.
func (r *Rand) Next() uint64 {
	x := r.state
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	r.state = x
	return x
}

// Intn returns a value in [0, n). Returns 0 for n <= 0.
func (r *Rand) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(r.Next() % uint64(n))
}

// Range returns a fixed-point value in [lo, hi). Returns lo when hi <= lo.
func (r *Rand) Range(lo, hi Scalar) Scalar {
	if hi <= lo {
		return lo
	}
	span := uint64(hi - lo)
	return lo + Scalar(r.Next()%span)
}

// Sym returns a fixed-point value in [-mag, mag).
func (r *Rand) Sym(mag Scalar) Scalar {
	return r.Range(-mag, mag)
}
