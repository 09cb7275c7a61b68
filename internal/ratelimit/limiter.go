package ratelimit

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Class separates upstream budgets: telemetry reads are cheap and generous,
// wake commands are strictly limited because waking a vehicle drains its
// battery and is rate limited upstream.
type Class string

const (
	ClassTelemetry Class = "telemetry"
	ClassWake      Class = "wake"
)

var deferralCount = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "jarvis_tesla",
		Subsystem: "ratelimit",
		Name:      "deferrals_total",
		Help:      "Poll attempts deferred because the endpoint budget was exhausted.",
	},
	[]string{"class"},
)

// Budget configures one endpoint class bucket: Capacity tokens, refilled at
// one token per RefillInterval.
type Budget struct {
	Capacity       int
	RefillInterval time.Duration
}

type bucket struct {
	capacity float64
	interval time.Duration
	tokens   float64
	last     time.Time
}

// Limiter is a lazily refilled token bucket per endpoint class, shared by
// all device pollers. All accounting happens under one mutex; refill is
// computed on access, no background timer.
type Limiter struct {
	mu      sync.Mutex
	buckets map[Class]*bucket
	now     func() time.Time
}

func NewLimiter(budgets map[Class]Budget) *Limiter {
	l := &Limiter{
		buckets: make(map[Class]*bucket, len(budgets)),
		now:     time.Now,
	}
	for class, b := range budgets {
		l.buckets[class] = &bucket{
			capacity: float64(b.Capacity),
			interval: b.RefillInterval,
			tokens:   float64(b.Capacity),
		}
	}
	return l
}

// WithClock replaces the time source, for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Acquire takes one token from the class bucket without blocking. When the
// bucket is empty it returns false and the earliest instant at which a
// retry can succeed; callers defer until then rather than spin.
func (l *Limiter) Acquire(class Class) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[class]
	if !ok {
		// Unbudgeted classes are unconstrained.
		return true, time.Time{}
	}

	now := l.now()
	b.refill(now)

	if b.tokens >= 1 {
		b.tokens--
		return true, time.Time{}
	}

	deferralCount.WithLabelValues(string(class)).Inc()
	deficit := 1 - b.tokens
	wait := time.Duration(deficit * float64(b.interval))
	return false, now.Add(wait)
}

func (b *bucket) refill(now time.Time) {
	if b.last.IsZero() {
		b.last = now
		return
	}
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	b.tokens += float64(elapsed) / float64(b.interval)
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now
}
