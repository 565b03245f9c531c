package lock

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis-backed lock tests run against a live server; set UPCAST_TEST_REDIS
// (for example 127.0.0.1:6379) to enable them.
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	addr := os.Getenv("UPCAST_TEST_REDIS")
	if addr == "" {
		t.Skip("UPCAST_TEST_REDIS not set")
	}
	rc := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	return NewRedisStore(rc, fmt.Sprintf("upcast:test:%d:", time.Now().UnixNano()))
}

// verifyBacked asserts a reported acquisition is backed by a live key owned
// by the holder; Acquire must never fabricate a claim for a key that is
// gone.
func verifyBacked(t *testing.T, s *RedisStore, scope, holder string) {
	t.Helper()
	ctx := context.Background()

	cur, err := s.rc.Get(ctx, s.key(scope)).Result()
	if err != nil || cur != holder {
		t.Fatalf("lock key owner = %q (%v), want %q", cur, err, holder)
	}
	pttl, err := s.rc.PTTL(ctx, s.key(scope)).Result()
	if err != nil || pttl <= 0 {
		t.Fatalf("lock key PTTL = %s (%v), want a live expiry", pttl, err)
	}
}

func TestRedisAcquireSingleWinner(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	if _, err := s.Acquire(ctx, "j1:t1", "w1", time.Minute); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	verifyBacked(t, s, "j1:t1", "w1")

	if _, err := s.Acquire(ctx, "j1:t1", "w2", time.Minute); err != ErrDenied {
		t.Fatalf("second holder got %v, want ErrDenied", err)
	}
}

func TestRedisReacquireExtendsRealExpiry(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	if _, err := s.Acquire(ctx, "j1:t1", "w1", 200*time.Millisecond); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	l, err := s.Acquire(ctx, "j1:t1", "w1", 10*time.Second)
	if err != nil {
		t.Fatalf("re-acquire by holder: %v", err)
	}
	if time.Until(l.ExpiresAt) < 5*time.Second {
		t.Fatalf("reported ExpiresAt %s not extended", l.ExpiresAt)
	}

	// The reported extension must be real, not just the returned struct.
	pttl, err := s.rc.PTTL(ctx, s.key("j1:t1")).Result()
	if err != nil {
		t.Fatal(err)
	}
	if pttl <= time.Second {
		t.Fatalf("key PTTL = %s, want the extended TTL applied in redis", pttl)
	}
}

func TestRedisAcquireAfterKeyGone(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	if _, err := s.Acquire(ctx, "j1:t1", "w1", time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// The key vanishing (expiry, flush) between a holder's runs must make
	// the scope acquirable again, with a real key behind the new claim.
	if err := s.rc.Del(ctx, s.key("j1:t1")).Err(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Acquire(ctx, "j1:t1", "w2", time.Minute); err != nil {
		t.Fatalf("acquire after key gone: %v", err)
	}
	verifyBacked(t, s, "j1:t1", "w2")
}

func TestRedisAcquireExpiredLock(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	if _, err := s.Acquire(ctx, "j1:t1", "w1", 50*time.Millisecond); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := s.Acquire(ctx, "j1:t1", "w2", time.Minute); err != ErrDenied {
		t.Fatalf("pre-expiry acquire got %v, want ErrDenied", err)
	}

	time.Sleep(80 * time.Millisecond)
	if _, err := s.Acquire(ctx, "j1:t1", "w2", time.Minute); err != nil {
		t.Fatalf("post-expiry acquire: %v", err)
	}
	verifyBacked(t, s, "j1:t1", "w2")
}

func TestRedisRefreshAndReleaseHolderChecked(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	if _, err := s.Acquire(ctx, "j1:t1", "w1", time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if ok, err := s.Refresh(ctx, "j1:t1", "w2", time.Minute); err != nil || ok {
		t.Fatalf("non-holder refresh = %v, %v; want false", ok, err)
	}
	if ok, err := s.Refresh(ctx, "j1:t1", "w1", time.Minute); err != nil || !ok {
		t.Fatalf("holder refresh = %v, %v; want true", ok, err)
	}

	if ok, err := s.Release(ctx, "j1:t1", "w2"); err != nil || ok {
		t.Fatalf("non-holder release = %v, %v; want false", ok, err)
	}
	if ok, err := s.Release(ctx, "j1:t1", "w1"); err != nil || !ok {
		t.Fatalf("holder release = %v, %v; want true", ok, err)
	}
}
