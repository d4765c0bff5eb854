package spatial

import (
	"fmt"
	"runtime"

	"swarmgrid/internal/fixed"
)

// Hard limits guarding against configurations that would allocate
// pathological amounts of memory. Hitting one is a ConfigError, not a panic.
const (
	maxSizeClasses  = 16
	maxEntityLimit  = 1 << 30
	maxCellsPerGrid = 1 << 26
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultMoveFraction    = 0.25
	DefaultFragThreshold   = 0.10
	DefaultRadiusRatio     = 2.0
	DefaultRebuildBudget   = 250_000
	DefaultScratchCapacity = 256
)

// Bounds is the axis-aligned world rectangle the index covers. Positions
// outside it are clamped into the border cells for routing purposes.
type Bounds struct {
	Min, Max fixed.Vec
}

// Width returns the horizontal extent.
func (b Bounds) Width() fixed.Scalar { return b.Max.X - b.Min.X }

// Height returns the vertical extent.
func (b Bounds) Height() fixed.Scalar { return b.Max.Y - b.Min.Y }

// Clamp returns p limited to the bounds rectangle.
func (b Bounds) Clamp(p fixed.Vec) fixed.Vec {
	return fixed.Vec{
		X: fixed.Clamp(p.X, b.Min.X, b.Max.X),
		Y: fixed.Clamp(p.Y, b.Min.Y, b.Max.Y),
	}
}

// ClassSpec configures one size class: entities with radius ≤ MaxRadius
// (and above the previous class's MaxRadius) land here.
type ClassSpec struct {
	// MaxRadius is the largest entity radius this class accepts. Specs must
	// be strictly ascending in MaxRadius.
	MaxRadius fixed.Scalar

	// CellSize is the grid cell width for both grids of the pair. Must be at
	// least MaxRadius × RadiusRatio so that neighborhood scans stay tight.
	CellSize fixed.Scalar

	// MaxEntities optionally caps this class's arena capacity. Zero means
	// the global Config.MaxEntities (safe but memory-hungry for many
	// classes; size classes that can never hold everything should set it).
	MaxEntities int
}

// Config carries every construction parameter. The zero value is not usable;
// Bounds, Classes and MaxEntities are mandatory, everything else defaults.
type Config struct {
	// Bounds is the world rectangle.
	Bounds Bounds

	// Classes defines the size classes, strictly ascending by MaxRadius.
	Classes []ClassSpec

	// MaxEntities is the declared maximum live entity count. Every buffer
	// in the index is sized from it at construction.
	MaxEntities int

	// MoveFraction is the worst-case fraction of entities that may move in
	// one tick; it sizes the pending-move scratch. Defaults to
	// DefaultMoveFraction.
	MoveFraction float64

	// FragThreshold is the saturated-cell fraction above which a grid is
	// queued for an equal-headroom rebuild. Defaults to
	// DefaultFragThreshold.
	FragThreshold float64

	// RadiusRatio is the required CellSize / MaxRadius ratio per class.
	// Defaults to DefaultRadiusRatio.
	RadiusRatio float64

	// RebuildBudget caps entities repacked per tick by the compactor.
	// Defaults to DefaultRebuildBudget.
	RebuildBudget int

	// Workers is the detect-phase worker count. Defaults to
	// runtime.GOMAXPROCS(0).
	Workers int

	// OversizedAllowance is how many live entities larger than the largest
	// class are tolerated (with wider scans) before inserts of such
	// entities are rejected. Defaults to zero: reject all.
	OversizedAllowance int

	// Strict panics on scratch overflows instead of dropping and warning.
	// Tests run strict; production runs tolerant.
	Strict bool

	// Logf receives rate-limited warnings and rebuild/growth notices.
	// Nil means the standard library logger.
	Logf func(format string, args ...any)
}

// withDefaults returns a copy of cfg with zero fields replaced by defaults.
func (cfg Config) withDefaults() Config {
	if cfg.MoveFraction == 0 {
		cfg.MoveFraction = DefaultMoveFraction
	}
	if cfg.FragThreshold == 0 {
		cfg.FragThreshold = DefaultFragThreshold
	}
	if cfg.RadiusRatio == 0 {
		cfg.RadiusRatio = DefaultRadiusRatio
	}
	if cfg.RebuildBudget == 0 {
		cfg.RebuildBudget = DefaultRebuildBudget
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return cfg
}

// validate checks a defaulted config, failing fast on the first problem.
func (cfg Config) validate() error {
	if cfg.MaxEntities <= 0 || cfg.MaxEntities > maxEntityLimit {
		return &ConfigError{"MaxEntities", fmt.Sprintf("must be in 1..%d, got %d", maxEntityLimit, cfg.MaxEntities)}
	}
	if cfg.Bounds.Width() <= 0 || cfg.Bounds.Height() <= 0 {
		return &ConfigError{"Bounds", "empty world rectangle"}
	}
	if len(cfg.Classes) == 0 {
		return &ConfigError{"Classes", "at least one size class required"}
	}
	if len(cfg.Classes) > maxSizeClasses {
		return &ConfigError{"Classes", fmt.Sprintf("at most %d size classes, got %d", maxSizeClasses, len(cfg.Classes))}
	}
	if cfg.MoveFraction <= 0 || cfg.MoveFraction > 1 {
		return &ConfigError{"MoveFraction", fmt.Sprintf("must be in (0,1], got %g", cfg.MoveFraction)}
	}
	if cfg.FragThreshold <= 0 || cfg.FragThreshold > 1 {
		return &ConfigError{"FragThreshold", fmt.Sprintf("must be in (0,1], got %g", cfg.FragThreshold)}
	}
	if cfg.RadiusRatio < 1 {
		return &ConfigError{"RadiusRatio", fmt.Sprintf("must be >= 1, got %g", cfg.RadiusRatio)}
	}
	if cfg.RebuildBudget < 0 {
		return &ConfigError{"RebuildBudget", "must not be negative"}
	}
	if cfg.OversizedAllowance < 0 {
		return &ConfigError{"OversizedAllowance", "must not be negative"}
	}

	ratio := fixed.FromFloat(cfg.RadiusRatio)
	prev := fixed.Scalar(0)
	for i, cs := range cfg.Classes {
		field := fmt.Sprintf("Classes[%d]", i)
		if cs.MaxRadius <= 0 {
			return &ConfigError{field, "MaxRadius must be positive"}
		}
		if cs.MaxRadius <= prev {
			return &ConfigError{field, "MaxRadius must be strictly ascending"}
		}
		if cs.CellSize <= 0 {
			return &ConfigError{field, "CellSize must be positive"}
		}
		if fixed.Mul(cs.MaxRadius, ratio) > cs.CellSize {
			return &ConfigError{field, fmt.Sprintf(
				"CellSize %.3f too small for MaxRadius %.3f at ratio %g",
				fixed.ToFloat(cs.CellSize), fixed.ToFloat(cs.MaxRadius), cfg.RadiusRatio)}
		}
		if cs.MaxEntities < 0 || cs.MaxEntities > cfg.MaxEntities {
			return &ConfigError{field, fmt.Sprintf("MaxEntities must be in 0..%d, got %d", cfg.MaxEntities, cs.MaxEntities)}
		}
		cols := cellsAlong(cfg.Bounds.Width(), cs.CellSize)
		rows := cellsAlong(cfg.Bounds.Height(), cs.CellSize)
		// The B grid carries one extra column and row for its half-cell shift.
		if (int64(cols)+1)*(int64(rows)+1) > maxCellsPerGrid {
			return &ConfigError{field, fmt.Sprintf(
				"CellSize %.3f yields %dx%d cells, above the %d per-grid limit",
				fixed.ToFloat(cs.CellSize), cols, rows, maxCellsPerGrid)}
		}
		prev = cs.MaxRadius
	}
	return nil
}

// cellsAlong returns how many cells of size cell cover an extent, minimum 1.
func cellsAlong(extent, cell fixed.Scalar) int32 {
	n := fixed.ToInt(fixed.Div(extent+cell-1, cell))
	if n < 1 {
		n = 1
	}
	return int32(n)
}
