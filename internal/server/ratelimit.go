package server

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type RateLimitConfig struct {
	GlobalRPS     float64
	GlobalBurst   int
	LoginLimit    int
	LoginWindow   time.Duration
	RedisAddr     string
	RedisPassword string
	RedisTimeout  time.Duration
}

// counterStore is the shared backend for login throttling. Deployments with
// more than one replica point it at Redis so attempts are counted globally.
type counterStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
}

type rateLimiter struct {
	global *bucket

	loginLimit  int
	loginWindow time.Duration
	store       counterStore

	mu      sync.Mutex
	perIP   map[string]*bucket
	sweepAt time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	window := cfg.LoginWindow
	if window <= 0 {
		window = time.Minute
	}
	rl := &rateLimiter{
		loginLimit:  cfg.LoginLimit,
		loginWindow: window,
		perIP:       make(map[string]*bucket),
		sweepAt:     time.Now().Add(window),
	}
	if cfg.GlobalRPS > 0 {
		rl.global = newBucket(cfg.GlobalRPS, cfg.GlobalBurst)
	}
	if cfg.RedisAddr != "" && cfg.LoginLimit > 0 {
		timeout := cfg.RedisTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		rl.store = newRedisCounterStore(cfg.RedisAddr, cfg.RedisPassword, timeout)
	}
	return rl
}

func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.take()
}

// AllowLogin charges one login attempt against the caller's key. When the
// limiter is saturated it reports how long the caller should wait.
func (r *rateLimiter) AllowLogin(ctx context.Context, key string) (bool, time.Duration, error) {
	if r == nil || r.loginLimit <= 0 {
		return true, 0, nil
	}
	if r.store != nil {
		return r.store.Allow(ctx, fmt.Sprintf("mixroom:login:%s", key), r.loginLimit, r.loginWindow)
	}

	if key == "" {
		key = "unknown"
	}
	r.mu.Lock()
	b, ok := r.perIP[key]
	if !ok {
		b = newBucket(float64(r.loginLimit)/r.loginWindow.Seconds(), r.loginLimit)
		r.perIP[key] = b
	}
	if now := time.Now(); now.After(r.sweepAt) {
		r.sweepLocked(now)
		r.sweepAt = now.Add(r.loginWindow)
	}
	r.mu.Unlock()

	if b.take() {
		return true, 0, nil
	}
	return false, b.wait(), nil
}

// sweepLocked drops per-IP buckets that have sat idle for two full windows.
func (r *rateLimiter) sweepLocked(now time.Time) {
	cutoff := now.Add(-2 * r.loginWindow)
	for key, b := range r.perIP {
		if b.idleSince().Before(cutoff) {
			delete(r.perIP, key)
		}
	}
}

// bucket is a token bucket refilled continuously at a fixed rate.
type bucket struct {
	mu      sync.Mutex
	rate    float64
	burst   float64
	tokens  float64
	updated time.Time
}

func newBucket(rate float64, burst int) *bucket {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = int(rate)
		if burst < 1 {
			burst = 1
		}
	}
	return &bucket{
		rate:    rate,
		burst:   float64(burst),
		tokens:  float64(burst),
		updated: time.Now(),
	}
}

func (b *bucket) refillLocked(now time.Time) {
	b.tokens += now.Sub(b.updated).Seconds() * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.updated = now
}

func (b *bucket) take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(time.Now())
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// wait estimates how long until the next token accrues.
func (b *bucket) wait() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(time.Now())
	if b.tokens >= 1 {
		return 0
	}
	d := time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
	if d < time.Second {
		d = time.Second
	}
	return d
}

func (b *bucket) idleSince() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updated
}
