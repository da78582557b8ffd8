package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestFixedWindowLimiterEnforcesQuota(t *testing.T) {
	srv := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(srv.Addr(), "", "test:ratelimit", 2, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	if !limiter.Allow("login|1.2.3.4") {
		t.Fatalf("first request should be allowed")
	}
	if !limiter.Allow("login|1.2.3.4") {
		t.Fatalf("second request should be allowed")
	}
	if limiter.Allow("login|1.2.3.4") {
		t.Fatalf("third request should be over quota")
	}
	// A different key has its own window.
	if !limiter.Allow("login|5.6.7.8") {
		t.Fatalf("different key should be allowed")
	}
}

func TestFixedWindowLimiterFailsClosed(t *testing.T) {
	srv := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(srv.Addr(), "", "test:ratelimit", 1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	srv.Close()
	if limiter.Allow("login|1.2.3.4") {
		t.Fatalf("expected limiter to fail closed when redis is down")
	}
}

func TestFixedWindowLimiterValidatesConfig(t *testing.T) {
	if _, err := NewRedisFixedWindowLimiter("localhost:6379", "", "", 0, time.Minute); err == nil {
		t.Fatalf("expected error for zero limit")
	}
	if _, err := NewRedisFixedWindowLimiter("  ", "", "", 1, time.Minute); err == nil {
		t.Fatalf("expected error for missing addr")
	}
}
