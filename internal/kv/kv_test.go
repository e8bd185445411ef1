package kv

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
)

// newTestRedis connects to a local Redis and namespaces all keys under a
// test prefix. Tests that use it are skipped when no server is reachable.
func newTestRedis(t *testing.T, maxValue int) *Redis {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	const prefix = "test_nexus:"
	clean := func() {
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	clean()
	t.Cleanup(func() {
		clean()
		client.Close()
	})
	return NewRedisFromClient(client, prefix, maxValue)
}

// backends runs fn against every Storage implementation.
func backends(t *testing.T, quota int, fn func(t *testing.T, s Storage)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory(quota)) })
	t.Run("redis", func(t *testing.T) { fn(t, newTestRedis(t, quota)) })
}

func TestStorage_GetMissing(t *testing.T) {
	backends(t, 0, func(t *testing.T, s Storage) {
		_, err := s.GetItem(context.Background(), "nope")
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected os.ErrNotExist, got %v", err)
		}
	})
}

func TestStorage_SetGetRemove(t *testing.T) {
	backends(t, 0, func(t *testing.T, s Storage) {
		ctx := context.Background()
		if err := s.SetItem(ctx, "a", []byte("1")); err != nil {
			t.Fatalf("SetItem: %v", err)
		}
		if err := s.SetItem(ctx, "b", []byte("2")); err != nil {
			t.Fatalf("SetItem: %v", err)
		}
		v, err := s.GetItem(ctx, "a")
		if err != nil {
			t.Fatalf("GetItem: %v", err)
		}
		if string(v) != "1" {
			t.Errorf("expected %q, got %q", "1", v)
		}

		keys, err := s.Keys(ctx)
		if err != nil {
			t.Fatalf("Keys: %v", err)
		}
		if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
			t.Errorf("expected [a b], got %v", keys)
		}

		if err := s.RemoveItem(ctx, "a"); err != nil {
			t.Fatalf("RemoveItem: %v", err)
		}
		if _, err := s.GetItem(ctx, "a"); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected removed key to be missing, got %v", err)
		}
		if err := s.RemoveItem(ctx, "a"); err != nil {
			t.Errorf("removing a missing key should not fail: %v", err)
		}
	})
}

func TestStorage_Quota(t *testing.T) {
	backends(t, 8, func(t *testing.T, s Storage) {
		ctx := context.Background()
		if err := s.SetItem(ctx, "k", []byte("123456789")); !errors.Is(err, ErrQuotaExceeded) {
			t.Fatalf("expected ErrQuotaExceeded, got %v", err)
		}
		if _, err := s.GetItem(ctx, "k"); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected rejected write to leave nothing behind, got %v", err)
		}
	})
}

func TestMemory_QuotaAccounting(t *testing.T) {
	m := NewMemory(10)
	ctx := context.Background()

	if err := m.SetItem(ctx, "k", []byte("12345")); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	if m.Used() != 6 {
		t.Fatalf("expected 6 bytes used, got %d", m.Used())
	}
	// Overwrite only counts the delta.
	if err := m.SetItem(ctx, "k", []byte("123456789")); err != nil {
		t.Fatalf("overwrite within quota: %v", err)
	}
	if err := m.SetItem(ctx, "x", []byte("1")); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if err := m.RemoveItem(ctx, "k"); err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if m.Used() != 0 {
		t.Errorf("expected 0 bytes used after remove, got %d", m.Used())
	}
}

func TestMemory_ReturnsCopies(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()
	src := []byte("abc")
	_ = m.SetItem(ctx, "k", src)
	src[0] = 'z'

	v, _ := m.GetItem(ctx, "k")
	if string(v) != "abc" {
		t.Fatalf("expected stored value to be isolated from caller, got %q", v)
	}
	v[0] = 'y'
	again, _ := m.GetItem(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("expected returned value to be a copy, got %q", again)
	}
}
