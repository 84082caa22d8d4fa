// Package ratelimit provides token bucket rate limiting for the API.
//
// Endpoints that fan out into model calls (persona generation, batch
// creation, rubric compilation) are far more expensive than the polling
// endpoints, so limits are configured per route rule rather than
// globally.
package ratelimit

import (
	"strings"
	"sync"
	"time"
)

// Rule binds a limit to a route. Path is matched by prefix so a rule
// for "/batches" also covers "/batches/{id}".
type Rule struct {
	Path   string
	Method string
	Limit  int           // requests per Window
	Window time.Duration
	Burst  int           // bucket capacity, defaults to Limit
}

// Info describes the state of the bucket that served a request.
type Info struct {
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// Config controls the limiter.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	Rules           []Rule
}

// DefaultConfig returns limits tuned for a single simulation engine
// instance: model-backed writes are tight, poll reads are loose.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		DefaultLimit:    600,
		DefaultWindow:   time.Minute,
		CleanupInterval: 5 * time.Minute,
		Rules: []Rule{
			{Path: "/experiments", Method: "POST", Limit: 6, Window: time.Hour, Burst: 2},
			{Path: "/batches", Method: "POST", Limit: 30, Window: time.Hour, Burst: 5},
			{Path: "/personas", Method: "POST", Limit: 60, Window: time.Hour, Burst: 10},
			{Path: "/rubrics", Method: "POST", Limit: 60, Window: time.Hour, Burst: 10},
			{Path: "/score", Method: "POST", Limit: 120, Window: time.Hour, Burst: 20},
		},
	}
}

type bucket struct {
	capacity   int
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
	lastSeen   time.Time
}

func (b *bucket) take(now time.Time) bool {
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = min(float64(b.capacity), b.tokens+elapsed*b.refillRate)
	b.lastRefill = now
	b.lastSeen = now

	if b.tokens >= 1.0 {
		b.tokens--
		return true
	}
	return false
}

func (b *bucket) info(now time.Time, limit int) Info {
	remaining := int(b.tokens)
	info := Info{
		Limit:     limit,
		Remaining: remaining,
		ResetTime: now.Add(time.Duration(float64(b.capacity-remaining) / b.refillRate * float64(time.Second))),
	}
	if b.tokens < 1.0 {
		info.RetryAfter = time.Duration((1.0 - b.tokens) / b.refillRate * float64(time.Second))
	}
	return info
}

// Limiter tracks a token bucket per client per matched rule.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	buckets map[string]*bucket
	done    chan struct{}
}

// NewLimiter creates a limiter and starts its idle-bucket cleanup loop.
func NewLimiter(cfg Config) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	if cfg.Enabled && cfg.CleanupInterval > 0 {
		go l.cleanupLoop()
	}
	return l
}

// Allow reports whether the client may issue this request, consuming a
// token when it may. Health checks are never limited.
func (l *Limiter) Allow(clientID, path, method string) (bool, Info) {
	if !l.cfg.Enabled || path == "/health" {
		return true, Info{}
	}

	limit, window, burst := l.cfg.DefaultLimit, l.cfg.DefaultWindow, l.cfg.DefaultLimit
	key := clientID + "|default"
	for _, rule := range l.cfg.Rules {
		if rule.Method == method && strings.HasPrefix(path, rule.Path) {
			limit, window = rule.Limit, rule.Window
			burst = rule.Burst
			if burst <= 0 {
				burst = rule.Limit
			}
			key = clientID + "|" + rule.Method + " " + rule.Path
			break
		}
	}

	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			capacity:   burst,
			refillRate: float64(limit) / window.Seconds(),
			tokens:     float64(burst),
			lastRefill: now,
		}
		l.buckets[key] = b
	}

	allowed := b.take(now)
	return allowed, b.info(now, limit)
}

// Stop terminates the cleanup loop.
func (l *Limiter) Stop() {
	close(l.done)
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.mu.Lock()
			cutoff := time.Now().Add(-2 * l.cfg.CleanupInterval)
			for key, b := range l.buckets {
				if b.lastSeen.Before(cutoff) {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
