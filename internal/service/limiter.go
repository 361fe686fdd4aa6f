package service

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LimiterConfig configures one token-bucket family: refill rate per second
// up to a burst capacity, tracked independently per key.
type LimiterConfig struct {
	Rate  float64 `mapstructure:"rate"`
	Burst int     `mapstructure:"burst"`
}

// Limiter is the admission gate consulted before accepting connections,
// before processing inbound client messages, and optionally before publish
// calls from noisy producers. On exhaustion the caller must fail the
// operation; the limiter never grants "just this once".
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rate    rate.Limit
	burst   int
}

func NewLimiter(cfg LimiterConfig) *Limiter {
	if cfg.Rate <= 0 {
		cfg.Rate = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		rate:    rate.Limit(cfg.Rate),
		burst:   cfg.Burst,
	}
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.rate, l.burst)
		l.buckets[key] = b
	}
	return b
}

// Allow consumes one token for the key. When denied it also reports how long
// the caller should wait before retrying.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	res := l.bucket(key).Reserve()
	if !res.OK() {
		return false, time.Second
	}
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return false, delay
	}
	return true, 0
}

// Forget releases the bucket for a key. Called when the keyed resource (a
// connection, typically) goes away, so limiter state is reclaimed
// deterministically on every exit path.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Size reports the number of tracked keys.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
