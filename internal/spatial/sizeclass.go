package spatial

import "swarmgrid/internal/fixed"

// sizeClass owns one staggered grid pair: grid A at zero offset, grid B
// shifted by half a cell in each axis. Both share one cell size. Every
// entity of this class lives in exactly one cell of exactly one grid,
// whichever grid's containing-cell center is nearer, ties to A.
type sizeClass struct {
	idx       int
	cellSize  fixed.Scalar
	half      fixed.Scalar
	invCell   fixed.Scalar // Q32.32 reciprocal of cellSize
	maxRadius fixed.Scalar
	capacity  int32
	count     int32

	// watermark is the largest radius ever inserted into this class. It
	// only grows, so query ranges derived from it are conservative and
	// deterministic regardless of removal order. Oversized fallbacks push
	// it past maxRadius, widening scans instead of losing entities.
	watermark fixed.Scalar

	bounds Bounds
	grids  [2]*grid
}

func newSizeClass(idx int, spec ClassSpec, bounds Bounds, capacity int32, fragThreshold float64) *sizeClass {
	sc := &sizeClass{
		idx:       idx,
		cellSize:  spec.CellSize,
		half:      spec.CellSize >> 1,
		invCell:   fixed.Div(fixed.One, spec.CellSize),
		maxRadius: spec.MaxRadius,
		capacity:  capacity,
		bounds:    bounds,
	}

	colsA := cellsAlong(bounds.Width(), spec.CellSize)
	rowsA := cellsAlong(bounds.Height(), spec.CellSize)
	// B's origin sits half a cell before the world corner, so it needs one
	// extra column and row to cover the far edge.
	colsB := colsA + 1
	rowsB := rowsA + 1

	originA := bounds.Min
	originB := fixed.Vec{X: bounds.Min.X - sc.half, Y: bounds.Min.Y - sc.half}

	// Arena capacity carries one extra slot per cell beyond the entity
	// capacity: after any rebuild every cell retains headroom >= 1, which
	// makes the rebuild-then-retry insert path infallible while the class
	// is under its entity capacity.
	capA := capacity + colsA*rowsA
	capB := capacity + colsB*rowsB

	sc.grids[GridA] = newGrid(GridA, originA, spec.CellSize, colsA, rowsA, capA, fragThreshold)
	sc.grids[GridB] = newGrid(GridB, originB, spec.CellSize, colsB, rowsB, capB, fragThreshold)
	return sc
}

// cellCoord converts a non-negative offset from a grid origin into a cell
// column or row. Reciprocal multiply plus a one-step fix-up: the estimate
// never overshoots and undershoots by at most one, so this is exact floor
// division with no divide on the placement path.
func (sc *sizeClass) cellCoord(dx fixed.Scalar) int32 {
	q := int32(fixed.ToInt(fixed.Mul(dx, sc.invCell)))
	base := fixed.MulInt(sc.cellSize, int64(q))
	if dx < base {
		q--
	} else if dx >= base+sc.cellSize {
		q++
	}
	return q
}

// coords returns the clamped containing cell of p in the given grid.
func (sc *sizeClass) coords(g *grid, p fixed.Vec) (col, row int32) {
	col = sc.cellCoord(p.X - g.origin.X)
	row = sc.cellCoord(p.Y - g.origin.Y)
	if col < 0 {
		col = 0
	} else if col >= g.cols {
		col = g.cols - 1
	}
	if row < 0 {
		row = 0
	} else if row >= g.rows {
		row = g.rows - 1
	}
	return col, row
}

// center returns the world-space center of a cell.
func (sc *sizeClass) center(g *grid, col, row int32) fixed.Vec {
	return fixed.Vec{
		X: g.origin.X + fixed.MulInt(sc.cellSize, int64(col)) + sc.half,
		Y: g.origin.Y + fixed.MulInt(sc.cellSize, int64(row)) + sc.half,
	}
}

// place picks the grid and cell for a position: the containing cell in A
// versus the containing cell in B, whichever center is nearer. The tie goes
// to A as a pure determinism rule; queries never depend on it. Cost is two
// squared distances; no division, no trig.
//
// Because the chosen cell contains the position, every entity sits within
// half the cell diagonal of its cell's center (clamped border cells at the
// world edge excepted; queries clamp identically, so nothing is missed).
func (sc *sizeClass) place(pos fixed.Vec) (sel GridSelector, col, row int32) {
	p := sc.bounds.Clamp(pos)

	ga := sc.grids[GridA]
	colA, rowA := sc.coords(ga, p)
	dA := fixed.DistSq(p, sc.center(ga, colA, rowA))

	gb := sc.grids[GridB]
	colB, rowB := sc.coords(gb, p)
	dB := fixed.DistSq(p, sc.center(gb, colB, rowB))

	if dA <= dB {
		return GridA, colA, rowA
	}
	return GridB, colB, rowB
}

// noteRadius raises the query watermark to cover a newly inserted radius.
func (sc *sizeClass) noteRadius(r fixed.Scalar) {
	if r > sc.watermark {
		sc.watermark = r
	}
}
