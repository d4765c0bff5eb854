package spatial

import "swarmgrid/internal/fixed"

// GridSelector names one grid of a staggered pair.
type GridSelector uint8

const (
	// GridA is the zero-offset grid. Placement ties resolve to it.
	GridA GridSelector = iota
	// GridB is offset by half a cell in each axis.
	GridB
)

func (g GridSelector) String() string {
	if g == GridB {
		return "B"
	}
	return "A"
}

// cellRange is the contiguous run of one grid's arena owned by one cell.
// Runs never overlap; a cell's usable capacity extends to the next cell's
// start (or the arena end for the last cell), so capacity is implicit in the
// start table and survives removals unchanged until the next rebuild.
type cellRange struct {
	start  int32
	length int32
}

// grid is a single offset grid: one arena of handles plus the per-cell range
// table. All mutation happens on the tick driver's goroutine; concurrent
// readers only ever see it between mutations, enforced by phase ordering.
type grid struct {
	sel      GridSelector
	origin   fixed.Vec
	cellSize fixed.Scalar
	cols     int32
	rows     int32

	ranges []cellRange
	arena  []Handle

	total     int32 // live handles across all cells
	saturated int32 // cells whose headroom is fully consumed
	satLimit  int32 // saturated count at which the compactor steps in
}

// newGrid allocates the arena and range table and lays the cells out with
// equal headroom (a rebuild over zero entities).
func newGrid(sel GridSelector, origin fixed.Vec, cellSize fixed.Scalar, cols, rows int32, capacity int32, fragThreshold float64) *grid {
	g := &grid{
		sel:      sel,
		origin:   origin,
		cellSize: cellSize,
		cols:     cols,
		rows:     rows,
		ranges:   make([]cellRange, int(cols)*int(rows)),
		arena:    make([]Handle, capacity),
	}
	g.satLimit = int32(fragThreshold * float64(len(g.ranges)))
	if g.satLimit < 1 {
		g.satLimit = 1
	}
	g.layout()
	return g
}

// cell returns the flat cell index for a column/row pair.
func (g *grid) cell(col, row int32) int32 {
	return row*g.cols + col
}

// capOf returns the cell's region capacity: the gap to the next cell's start.
func (g *grid) capOf(cell int32) int32 {
	if int(cell) == len(g.ranges)-1 {
		return int32(len(g.arena)) - g.ranges[cell].start
	}
	return g.ranges[cell+1].start - g.ranges[cell].start
}

// insert appends h to the cell's range. Returns the slot index, or ok=false
// when the cell's headroom is exhausted (the caller rebuilds and retries).
func (g *grid) insert(cell int32, h Handle) (slot int32, ok bool) {
	r := &g.ranges[cell]
	regionCap := g.capOf(cell)
	if r.length >= regionCap {
		return 0, false
	}
	slot = r.length
	g.arena[r.start+slot] = h
	r.length++
	g.total++
	if r.length == regionCap {
		g.saturated++
	}
	return slot, true
}

// remove swaps the target slot with the cell's last live slot and shrinks
// the range. Returns the handle that moved into the vacated slot (and
// whether one did) so the caller can patch that entity's record. O(1).
func (g *grid) remove(cell, slot int32) (moved Handle, hadMove bool) {
	r := &g.ranges[cell]
	if r.length == g.capOf(cell) {
		g.saturated--
	}
	last := r.length - 1
	if slot != last {
		moved = g.arena[r.start+last]
		g.arena[r.start+slot] = moved
		hadMove = true
	}
	r.length--
	g.total--
	return moved, hadMove
}

// view returns the cell's live handles as a zero-copy slice. Valid only
// until the next mutation of this grid.
func (g *grid) view(cell int32) []Handle {
	r := g.ranges[cell]
	return g.arena[r.start : r.start+r.length]
}

// overThreshold reports whether the saturated-cell count crossed the
// compaction threshold.
func (g *grid) overThreshold() bool {
	return g.saturated >= g.satLimit && g.saturated > 0
}

// fragRatio returns the saturated-cell fraction. Diagnostic path.
func (g *grid) fragRatio() float64 {
	return float64(g.saturated) / float64(len(g.ranges))
}

// layout distributes the arena across empty cells with equal headroom.
func (g *grid) layout() {
	free := int32(len(g.arena))
	n := int32(len(g.ranges))
	headroom := free / n
	rem := free % n
	pos := int32(0)
	for i := range g.ranges {
		g.ranges[i].start = pos
		g.ranges[i].length = 0
		c := headroom
		if int32(i) < rem {
			c++
		}
		pos += c
	}
	g.saturated = 0
	if headroom == 0 {
		// Cells beyond the remainder start with zero capacity.
		g.saturated = n - rem
	}
}

// rebuild repacks live handles so every cell gets equal headroom
// (remainder round-robin from cell 0). Within-cell order is preserved, so
// slot indices in occupancy records stay valid; only starts move. The spare
// buffer is the construction-time repack area shared across grids; cost is
// O(live + cells), no allocation.
//
// Immediately afterward, per-cell headroom differs by at most 1.
func (g *grid) rebuild(spare []Handle) {
	n := int32(len(g.ranges))
	free := int32(len(g.arena)) - g.total
	headroom := free / n
	rem := free % n

	// Pass 1: pack live runs into spare back to back, assign new starts.
	pos := int32(0)
	off := int32(0)
	for i := range g.ranges {
		r := &g.ranges[i]
		copy(spare[off:off+r.length], g.arena[r.start:r.start+r.length])
		off += r.length
		r.start = pos
		c := r.length + headroom
		if int32(i) < rem {
			c++
		}
		pos += c
	}

	// Pass 2: copy runs back at their new starts, recount saturation.
	off = 0
	sat := int32(0)
	for i := range g.ranges {
		r := &g.ranges[i]
		copy(g.arena[r.start:r.start+r.length], spare[off:off+r.length])
		off += r.length
		if headroom == 0 && int32(i) >= rem {
			sat++
		}
	}
	g.saturated = sat
}
