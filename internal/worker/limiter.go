package worker

import (
	"context"
	"math/rand/v2"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces per-host politeness: a token bucket plus a fixed delay
// with random jitter after every granted request
type Limiter struct {
	limiters     map[string]*rate.Limiter
	mu           sync.RWMutex
	defaultRate  rate.Limit
	defaultBurst int
	delay        time.Duration
	jitter       time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewLimiter creates a limiter; delay and jitter may be zero
func NewLimiter(requestsPerSecond float64, burst int, delay, jitter time.Duration) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}

	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  limit,
		defaultBurst: burst,
		delay:        delay,
		jitter:       jitter,
		sleep:        sleepContext,
	}
}

// Wait blocks until the host of rawURL has a free token
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host, err := hostOf(rawURL)
	if err != nil {
		return err
	}
	return l.getLimiter(host).Wait(ctx)
}

// WaitPolitely waits for a token and then for the configured delay plus a
// random share of the jitter
func (l *Limiter) WaitPolitely(ctx context.Context, rawURL string) error {
	if err := l.Wait(ctx, rawURL); err != nil {
		return err
	}
	d := l.delay
	if l.jitter > 0 {
		d += rand.N(l.jitter)
	}
	if d <= 0 {
		return nil
	}
	return l.sleep(ctx, d)
}

// Allow reports whether a request may go out now without waiting
func (l *Limiter) Allow(rawURL string) bool {
	host, err := hostOf(rawURL)
	if err != nil {
		return false
	}
	return l.getLimiter(host).Allow()
}

// SetCrawlDelay slows a host down to one request per delay, as asked by its
// robots.txt. A delay that is faster than the default is ignored. Repeated
// calls adjust the host's existing bucket and never refill it.
func (l *Limiter) SetCrawlDelay(host string, delay time.Duration) {
	if delay <= 0 {
		return
	}
	limit := rate.Every(delay)
	if l.defaultRate != rate.Inf && limit >= l.defaultRate {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	existing, ok := l.limiters[host]
	if !ok {
		l.limiters[host] = rate.NewLimiter(limit, 1)
		return
	}
	if existing.Limit() != limit {
		existing.SetLimit(limit)
	}
	if existing.Burst() != 1 {
		existing.SetBurst(1)
	}
}

func (l *Limiter) getLimiter(host string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[host]
	l.mu.RUnlock()
	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, exists := l.limiters[host]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.limiters[host] = limiter
	return limiter
}

func hostOf(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return parsed.Host, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
