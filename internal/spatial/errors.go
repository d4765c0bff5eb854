package spatial

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers match with errors.Is; wrapped messages carry the
// specifics (class, handle, counts).
var (
	// ErrCapacityExceeded means a size class arena is full even after a
	// rebuild. Fatal for the insert that hit it; the caller rejects the
	// spawn or grows the index between ticks. Never silently dropped.
	ErrCapacityExceeded = errors.New("spatial: capacity exceeded")

	// ErrScratchOverflow means a movement or query-result buffer was
	// exhausted. Recoverable: the operation truncated and the caller should
	// treat the result as a hint and retry next tick.
	ErrScratchOverflow = errors.New("spatial: scratch overflow")

	// ErrInvalidHandle means a stale generation, an out-of-range index, an
	// absent entity, or a double insert.
	ErrInvalidHandle = errors.New("spatial: invalid handle")
)

// ConfigError reports a malformed construction parameter. New fails fast
// with one of these; it is also returned when a runtime operation hits a
// limit that only configuration can change (the oversized-entity allowance).
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("spatial config: %s: %s", e.Field, e.Reason)
}
