package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig tunes the per-IP HTTP rate limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64       // Sustained requests per second per IP
	Burst             int           // Short burst allowance
	CleanupInterval   time.Duration // How often stale per-IP limiters are dropped
}

// DefaultRateLimitConfig is sized for a handful of dashboards and scripts
// hitting a localhost harness, not for the public internet.
var DefaultRateLimitConfig = RateLimitConfig{
	RequestsPerSecond: 50,
	Burst:             100,
	CleanupInterval:   2 * time.Minute,
}

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter applies a token bucket per client IP. Entries for idle IPs
// are evicted by a background sweep so the map cannot grow unbounded.
type IPRateLimiter struct {
	entries  sync.Map // map[string]*ipEntry
	config   RateLimitConfig
	stopChan chan struct{}
	stopOnce sync.Once

	// Stats for monitoring
	allowed  uint64 // atomic
	rejected uint64 // atomic
}

// NewIPRateLimiter builds a limiter and starts its sweep goroutine.
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	rl := &IPRateLimiter{
		config:   cfg,
		stopChan: make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Stop terminates the sweep goroutine.
func (rl *IPRateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopChan)
	})
}

func (rl *IPRateLimiter) limiterFor(ip string) *rate.Limiter {
	now := time.Now()
	if v, ok := rl.entries.Load(ip); ok {
		e := v.(*ipEntry)
		e.lastSeen = now
		return e.limiter
	}
	e := &ipEntry{
		limiter:  rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst),
		lastSeen: now,
	}
	actual, _ := rl.entries.LoadOrStore(ip, e)
	return actual.(*ipEntry).limiter
}

func (rl *IPRateLimiter) sweepLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * rl.config.CleanupInterval)
			rl.entries.Range(func(key, value interface{}) bool {
				if value.(*ipEntry).lastSeen.Before(cutoff) {
					rl.entries.Delete(key)
				}
				return true
			})
		}
	}
}

// Allow reports whether a request from ip fits its budget.
func (rl *IPRateLimiter) Allow(ip string) bool {
	if rl.limiterFor(ip).Allow() {
		atomic.AddUint64(&rl.allowed, 1)
		return true
	}
	atomic.AddUint64(&rl.rejected, 1)
	return false
}

// Middleware rejects over-budget requests with 429 before any other work.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(GetClientIP(r)) {
			RecordConnectionRejected("rate_limit")
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetStats returns allowed/rejected counts for the stats endpoint.
func (rl *IPRateLimiter) GetStats() map[string]uint64 {
	return map[string]uint64{
		"allowed":  atomic.LoadUint64(&rl.allowed),
		"rejected": atomic.LoadUint64(&rl.rejected),
	}
}

// GetClientIP extracts the client IP, honoring proxy headers. The
// X-Forwarded-For value is spoofable unless a trusted proxy sets it; fine
// for a localhost harness.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// ConnLimiter caps concurrent WebSocket connections per IP.
type ConnLimiter struct {
	counts   sync.Map // map[string]*int32
	maxPerIP int

	rejected uint64 // atomic
}

// NewConnLimiter builds a limiter allowing maxPerIP concurrent connections.
func NewConnLimiter(maxPerIP int) *ConnLimiter {
	return &ConnLimiter{maxPerIP: maxPerIP}
}

// Acquire reserves a slot for ip. Callers must Release what they Acquire.
func (cl *ConnLimiter) Acquire(ip string) bool {
	v, _ := cl.counts.LoadOrStore(ip, new(int32))
	counter := v.(*int32)
	for {
		current := atomic.LoadInt32(counter)
		if int(current) >= cl.maxPerIP {
			atomic.AddUint64(&cl.rejected, 1)
			return false
		}
		if atomic.CompareAndSwapInt32(counter, current, current+1) {
			return true
		}
	}
}

// Release frees a slot previously acquired for ip.
func (cl *ConnLimiter) Release(ip string) {
	if v, ok := cl.counts.Load(ip); ok {
		atomic.AddInt32(v.(*int32), -1)
	}
}

// Count returns current connections for ip.
func (cl *ConnLimiter) Count(ip string) int {
	if v, ok := cl.counts.Load(ip); ok {
		return int(atomic.LoadInt32(v.(*int32)))
	}
	return 0
}
