package spatial

// Handle identifies one tracked entity. Insert mints it, Remove retires it:
// Index keys the dense record array, Generation makes stale handles
// detectable after the slot is reused. Compared by value.
//
// The zero value is reserved as "no handle"; live generations start at 1.
type Handle struct {
	Index      uint32
	Generation uint32
}

// IsZero reports whether h is the reserved empty handle.
func (h Handle) IsZero() bool { return h == Handle{} }
