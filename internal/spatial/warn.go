package spatial

import (
	"log"
	"sync/atomic"

	"golang.org/x/time/rate"
)

const (
	// WarnsPerSecond caps warning log lines; WarnBurst absorbs a spike.
	WarnsPerSecond = 2
	WarnBurst      = 4
)

// warner throttles degradation warnings (scratch overflow, oversized
// fallback, forced rebuilds) so one bad tick cannot flood the log. Every
// event is counted; only the emission is rate limited.
type warner struct {
	limiter *rate.Limiter
	logf    func(format string, args ...any)

	// Stats for monitoring
	dropped uint64 // atomic
	total   uint64 // atomic
}

func newWarner(logf func(format string, args ...any)) *warner {
	if logf == nil {
		logf = log.Printf
	}
	return &warner{
		limiter: rate.NewLimiter(WarnsPerSecond, WarnBurst),
		logf:    logf,
	}
}

// warnf logs if the limiter allows, otherwise counts the drop.
func (w *warner) warnf(format string, args ...any) {
	atomic.AddUint64(&w.total, 1)
	if w.limiter.Allow() {
		w.logf("spatial: "+format, args...)
		return
	}
	atomic.AddUint64(&w.dropped, 1)
}

// counts returns total warnings raised and how many were suppressed.
func (w *warner) counts() (total, dropped uint64) {
	return atomic.LoadUint64(&w.total), atomic.LoadUint64(&w.dropped)
}
