package spatial

import "swarmgrid/internal/fixed"

// classifier maps an entity radius to a size class. Classes are few (16 at
// most) and sorted by ascending max radius, so a linear scan beats a binary
// search on branch prediction alone.
type classifier struct {
	bounds []fixed.Scalar

	// Entities wider than the last class bound normally reject. A small
	// allowance lets them fall into the largest class instead, where the
	// query watermark stretches to keep them findable.
	allowance int32
	oversized int32
	strict    bool
}

func newClassifier(classes []ClassSpec, allowance int32, strict bool) *classifier {
	c := &classifier{
		bounds:    make([]fixed.Scalar, len(classes)),
		allowance: allowance,
		strict:    strict,
	}
	for i, spec := range classes {
		c.bounds[i] = spec.MaxRadius
	}
	return c
}

// classify returns the class index for a radius. The second result reports
// an oversized fallback into the largest class; callers must widen that
// class's watermark so queries still cover the entity.
func (c *classifier) classify(radius fixed.Scalar) (class int, fallback bool, err error) {
	for i, bound := range c.bounds {
		if radius <= bound {
			return i, false, nil
		}
	}
	if c.strict || c.oversized >= c.allowance {
		return 0, false, &ConfigError{
			Field:  "radius",
			Reason: "exceeds the largest class bound",
		}
	}
	c.oversized++
	return len(c.bounds) - 1, true, nil
}

// release returns an oversized slot to the allowance when such an entity is
// removed. The watermark it stretched stays stretched.
func (c *classifier) release(fallback bool) {
	if fallback && c.oversized > 0 {
		c.oversized--
	}
}
