package ratelimiter_test

import (
	"context"
	"testing"
	"time"

	"github.com/notifyhub/actionqueue/internal/ratelimiter"
)

func TestLimiter_Disabled(t *testing.T) {
	l := ratelimiter.New(0)
	if l != nil {
		t.Fatal("expected nil limiter for zero rate")
	}
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("nil limiter should not block: %v", err)
	}
}

func TestLimiter_BurstThenThrottle(t *testing.T) {
	l := ratelimiter.New(10)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("burst of 10 should not block, took %s", elapsed)
	}

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("expected the 11th token to exceed a 20ms deadline")
	}
}
