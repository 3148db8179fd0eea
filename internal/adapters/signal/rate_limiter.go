package signal

import (
	"sync"
	"time"
)

// BindLimiter caps identifier bind attempts per client within a sliding window.
type BindLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewBindLimiter(limit int, interval time.Duration) *BindLimiter {
	return &BindLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow records an attempt by client and reports whether it is within the limit.
// A limiter with a non-positive limit allows everything.
func (rl *BindLimiter) Allow(client string) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[client]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history[client] = fresh
		return false
	}
	rl.history[client] = append(fresh, now)
	rl.gcLocked(windowStart)
	return true
}

// gcLocked drops clients whose newest attempt fell out of the window.
func (rl *BindLimiter) gcLocked(windowStart time.Time) {
	if len(rl.history) < 1024 {
		return
	}
	for k, ts := range rl.history {
		if len(ts) == 0 || !ts[len(ts)-1].After(windowStart) {
			delete(rl.history, k)
		}
	}
}
