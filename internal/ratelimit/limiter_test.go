package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestLimiter requires a running Redis on localhost:6379.
func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	clean := func() {
		iter := client.Scan(ctx, 0, "rl:test:*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	clean()
	t.Cleanup(func() {
		clean()
		client.Close()
	})
	return NewLimiter(client)
}

var testRule = Rule{Key: "rl:test:", Limit: 3, Window: 5 * time.Second}

func TestAllow_WithinAndOverLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for i := 1; i <= testRule.Limit; i++ {
		ok, err := l.Allow(ctx, "conn1", testRule)
		if err != nil {
			t.Fatalf("Allow #%d: %v", i, err)
		}
		if !ok {
			t.Fatalf("Allow #%d: expected allowed", i)
		}
	}
	ok, _ := l.Allow(ctx, "conn1", testRule)
	if ok {
		t.Error("expected request over the limit to be rejected")
	}

	// Other identifiers have their own window.
	if ok, _ := l.Allow(ctx, "conn2", testRule); !ok {
		t.Error("expected a different identifier to be allowed")
	}
}

func TestRemainingAndReset(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	if n, _ := l.Remaining(ctx, "conn3", testRule); n != testRule.Limit {
		t.Fatalf("expected %d remaining for a fresh key, got %d", testRule.Limit, n)
	}
	_, _ = l.Allow(ctx, "conn3", testRule)
	if n, _ := l.Remaining(ctx, "conn3", testRule); n != testRule.Limit-1 {
		t.Errorf("expected %d remaining, got %d", testRule.Limit-1, n)
	}

	if err := l.Reset(ctx, "conn3", testRule); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if n, _ := l.Remaining(ctx, "conn3", testRule); n != testRule.Limit {
		t.Errorf("expected full limit after reset, got %d", n)
	}
}
