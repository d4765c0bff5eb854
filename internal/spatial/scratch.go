package spatial

import "swarmgrid/internal/fixed"

// moveEntry is one recorded NotifyMoved call awaiting the next Commit.
type moveEntry struct {
	h   Handle
	pos fixed.Vec
}

// verdict is a worker's placement decision for one pending move. When move
// is false the entity stays in its cell and only the position is written.
type verdict struct {
	h    Handle
	pos  fixed.Vec
	col  int32
	row  int32
	sel  GridSelector
	move bool
}

// workerScratch is one WARM worker's private verdict list. The trailing pad
// keeps adjacent workers' append bookkeeping off a shared cache line.
type workerScratch struct {
	verdicts []verdict
	_        [40]byte
}

// QueryFilter narrows a radius query.
type QueryFilter struct {
	// Mask is ANDed against each entity's mask; zero means match everything.
	Mask uint32

	// Exclude drops one handle from the results, typically the querying
	// entity itself.
	Exclude Handle
}

// QueryScratch is caller-owned result storage for QueryRadius. Reusing one
// scratch across queries keeps the hot path free of allocation; size it for
// the worst crowd a query can see.
type QueryScratch struct {
	hits      []Handle
	truncated bool
}

// NewQueryScratch allocates a scratch holding up to capacity results.
// A non-positive capacity falls back to DefaultScratchCapacity.
func NewQueryScratch(capacity int) *QueryScratch {
	if capacity <= 0 {
		capacity = DefaultScratchCapacity
	}
	return &QueryScratch{hits: make([]Handle, 0, capacity)}
}

// Truncated reports whether the most recent query overflowed this scratch.
func (s *QueryScratch) Truncated() bool { return s.truncated }

// Cap returns the scratch capacity.
func (s *QueryScratch) Cap() int { return cap(s.hits) }

func (s *QueryScratch) reset() {
	s.hits = s.hits[:0]
	s.truncated = false
}
