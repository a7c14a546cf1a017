// Package ratelimit throttles ingestion per client with token buckets
package ratelimit

import (
	"sync"
	"time"
)

// idleBucket is how long an unused bucket is kept before Sweep drops it
const idleBucket = 10 * time.Minute

// Limiter implements a token bucket rate limiter
type Limiter struct {
	mu           sync.Mutex
	buckets      map[string]*bucket
	tokensPerMin int
	maxTokens    int
	errorMessage string
	now          func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// Config for creating a new rate limiter
type Config struct {
	TokensPerMinute int    // Number of tokens added per minute
	MaxTokens       int    // Burst size, defaults to TokensPerMinute
	ErrorMessage    string // Message returned when rate limited
	Now             func() time.Time

	// SweepEvery starts a background sweep of idle buckets. Zero disables it.
	SweepEvery time.Duration
}

// New creates a new rate limiter
func New(cfg Config) *Limiter {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = cfg.TokensPerMinute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ErrorMessage == "" {
		cfg.ErrorMessage = "Too many requests. Please slow down."
	}

	l := &Limiter{
		buckets:      make(map[string]*bucket),
		tokensPerMin: cfg.TokensPerMinute,
		maxTokens:    cfg.MaxTokens,
		errorMessage: cfg.ErrorMessage,
		now:          cfg.Now,
		stop:         make(chan struct{}),
	}
	if cfg.SweepEvery > 0 {
		go l.sweepLoop(cfg.SweepEvery)
	}
	return l
}

func (l *Limiter) sweepLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.Sweep()
		case <-l.stop:
			return
		}
	}
}

// Sweep removes buckets idle for more than ten minutes
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key, b := range l.buckets {
		if now.Sub(b.lastCheck) > idleBucket {
			delete(l.buckets, key)
		}
	}
}

// Stop ends the background sweep. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Allow checks if one request is allowed for key (usually the client IP)
func (l *Limiter) Allow(key string) bool {
	return l.AllowN(key, 1)
}

// AllowN checks if n requests are allowed and takes the tokens if so
func (l *Limiter) AllowN(key string, n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, exists := l.buckets[key]
	if !exists {
		b = &bucket{tokens: float64(l.maxTokens), lastCheck: now}
		l.buckets[key] = b
	}

	b.tokens = l.refill(b, now)
	b.lastCheck = now

	if b.tokens >= float64(n) {
		b.tokens -= float64(n)
		return true
	}
	return false
}

// Remaining returns the number of whole tokens left for key
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.buckets[key]
	if !exists {
		return l.maxTokens
	}
	return int(l.refill(b, l.now()))
}

func (l *Limiter) refill(b *bucket, now time.Time) float64 {
	tokens := b.tokens + now.Sub(b.lastCheck).Minutes()*float64(l.tokensPerMin)
	if tokens > float64(l.maxTokens) {
		tokens = float64(l.maxTokens)
	}
	return tokens
}

// ErrorMessage returns the error message for this limiter
func (l *Limiter) ErrorMessage() string {
	return l.errorMessage
}

// Reset forgets the bucket for key
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Len is the number of tracked buckets
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
