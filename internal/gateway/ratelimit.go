package gateway

import (
	"sync"
	"time"
)

// bucket is a token bucket.
type bucket struct {
	tokens   float64
	lastTime time.Time
}

// OwnerLimiter throttles chat streams with one token bucket per owner.
type OwnerLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	max     float64
	rate    float64 // tokens per second
	now     func() time.Time
}

func NewOwnerLimiter(maxBurst int, ratePerMinute float64) *OwnerLimiter {
	if maxBurst <= 0 {
		maxBurst = 5
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 30
	}
	return &OwnerLimiter{
		buckets: make(map[string]*bucket),
		max:     float64(maxBurst),
		rate:    ratePerMinute / 60.0, // Convert to per-second
		now:     time.Now,
	}
}

// Allow takes a token from owner's bucket, reporting false when it is empty.
// It never blocks.
func (l *OwnerLimiter) Allow(owner string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[owner]
	if !ok {
		b = &bucket{tokens: l.max, lastTime: now}
		l.buckets[owner] = b
	}

	b.tokens += now.Sub(b.lastTime).Seconds() * l.rate
	if b.tokens > l.max {
		b.tokens = l.max
	}
	b.lastTime = now

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true
	}
	return false
}

// Prune drops buckets that have refilled completely, bounding memory.
func (l *OwnerLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for owner, b := range l.buckets {
		if b.tokens+now.Sub(b.lastTime).Seconds()*l.rate >= l.max {
			delete(l.buckets, owner)
			removed++
		}
	}
	return removed
}
