package worker

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_New(t *testing.T) {
	if l := NewLimiter(10, 5, 0, 0); l.defaultBurst != 5 {
		t.Errorf("expected burst 5, got %d", l.defaultBurst)
	}
	if l := NewLimiter(10, -1, 0, 0); l.defaultBurst != 1 {
		t.Errorf("expected default burst 1 for negative input, got %d", l.defaultBurst)
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(100, 1, 0, 0)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "http://tariff.example/ch84"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
	if err := limiter.Wait(ctx, "http://other.example"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
}

func TestLimiter_WaitPolitely(t *testing.T) {
	limiter := NewLimiter(100, 1, 20*time.Millisecond, 10*time.Millisecond)
	var slept []time.Duration
	limiter.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	for i := 0; i < 5; i++ {
		if err := limiter.WaitPolitely(context.Background(), "http://tariff.example"); err != nil {
			t.Fatalf("WaitPolitely failed: %v", err)
		}
	}
	if len(slept) != 5 {
		t.Fatalf("expected 5 delays, got %d", len(slept))
	}
	for _, d := range slept {
		if d < 20*time.Millisecond || d >= 30*time.Millisecond {
			t.Errorf("delay %v outside [20ms, 30ms)", d)
		}
	}
}

func TestLimiter_WaitPolitelyHonoursCancellation(t *testing.T) {
	limiter := NewLimiter(100, 1, time.Hour, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := limiter.WaitPolitely(ctx, "http://tariff.example"); err == nil {
		t.Error("expected cancellation error")
	}
}

func TestLimiter_RateLimit(t *testing.T) {
	limiter := NewLimiter(1, 1, 0, 0)
	url := "http://tariff.example"

	if err := limiter.Wait(context.Background(), url); err != nil {
		t.Errorf("first wait failed: %v", err)
	}
	if limiter.Allow(url) {
		t.Errorf("expected allow to fail (exhausted tokens)")
	}
	if !limiter.Allow("http://other.example") {
		t.Errorf("expected allow for other host")
	}
}

func TestLimiter_SetCrawlDelay(t *testing.T) {
	limiter := NewLimiter(10, 10, 0, 0)
	limiter.SetCrawlDelay("slow.example", 10*time.Second)

	if !limiter.Allow("http://slow.example/a") {
		t.Errorf("first request should pass")
	}
	if limiter.Allow("http://slow.example/b") {
		t.Errorf("second request should wait for the crawl delay")
	}
	if !limiter.Allow("http://fast.example") {
		t.Errorf("other host should pass")
	}

	// Faster than the default budget: ignored
	limiter.SetCrawlDelay("quick.example", time.Millisecond)
	for i := 0; i < 10; i++ {
		if !limiter.Allow("http://quick.example") {
			t.Fatalf("request %d should use the default burst", i)
		}
	}
}

func TestLimiter_SetCrawlDelayRepeatedDoesNotRefill(t *testing.T) {
	limiter := NewLimiter(10, 10, 0, 0)
	url := "http://slow.example/chapter-84"

	limiter.SetCrawlDelay("slow.example", 10*time.Second)
	if err := limiter.Wait(context.Background(), url); err != nil {
		t.Fatalf("first wait failed: %v", err)
	}

	// Every fetch re-reads robots.txt and sets the delay again
	limiter.SetCrawlDelay("slow.example", 10*time.Second)
	if limiter.Allow(url) {
		t.Errorf("repeating the same crawl delay must not grant a fresh token")
	}

	// A host already limited at the default rate is slowed in place; its
	// bucket shrinks to a single token
	if !limiter.Allow("http://busy.example") {
		t.Fatalf("first request to busy host should pass")
	}
	limiter.SetCrawlDelay("busy.example", 10*time.Second)
	if !limiter.Allow("http://busy.example") {
		t.Fatalf("the one remaining token should be granted")
	}
	for i := 0; i < 2; i++ {
		limiter.SetCrawlDelay("busy.example", 10*time.Second)
		if limiter.Allow("http://busy.example") {
			t.Errorf("request %d after the crawl delay was set should wait", i)
		}
	}
}

func TestHostOf(t *testing.T) {
	host, err := hostOf("http://tariff.example:8080/foo")
	if err != nil {
		t.Fatalf("hostOf failed: %v", err)
	}
	if host != "tariff.example:8080" {
		t.Errorf("expected tariff.example:8080, got %s", host)
	}
	if _, err := hostOf("::invalid"); err == nil {
		t.Errorf("expected error for invalid URL")
	}
}
