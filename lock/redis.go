package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua scripts keep refresh and release atomic with the holder check.
const (
	refreshScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end`
	releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`
)

// RedisStore keeps locks in redis: value is the holder id, TTL enforced by
// PX expiry so crashed holders need no janitor sweep.
type RedisStore struct {
	rc     *redis.Client
	prefix string
}

func NewRedisStore(rc *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "upcast:lock:"
	}
	return &RedisStore{rc: rc, prefix: prefix}
}

func (s *RedisStore) key(scope string) string {
	return s.prefix + scope
}

func (s *RedisStore) Acquire(ctx context.Context, scope, holder string, ttl time.Duration) (*Lock, error) {
	now := time.Now()
	l := &Lock{
		Scope:      scope,
		Holder:     holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	ok, err := s.rc.SetNX(ctx, s.key(scope), holder, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if ok {
		return l, nil
	}

	// Re-acquisition by the current holder extends the claim. The holder
	// check and the extension run as one script so the key cannot expire
	// between them.
	res, err := s.rc.Eval(ctx, refreshScript, []string{s.key(scope)}, holder, ttl.Milliseconds()).Int64()
	if err != nil {
		return nil, fmt.Errorf("failed to extend lock: %w", err)
	}
	if res == 1 {
		return l, nil
	}

	// Not ours: either another holder owns it, or it expired right after
	// the SetNX. One more SetNX settles which.
	ok, err = s.rc.SetNX(ctx, s.key(scope), holder, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if ok {
		return l, nil
	}
	return nil, ErrDenied
}

func (s *RedisStore) Refresh(ctx context.Context, scope, holder string, ttl time.Duration) (bool, error) {
	res, err := s.rc.Eval(ctx, refreshScript, []string{s.key(scope)}, holder, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to refresh lock: %w", err)
	}
	return res == 1, nil
}

func (s *RedisStore) Release(ctx context.Context, scope, holder string) (bool, error) {
	res, err := s.rc.Eval(ctx, releaseScript, []string{s.key(scope)}, holder).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to release lock: %w", err)
	}
	return res == 1, nil
}

// Reap is a no-op for redis: PX expiry already reclaims abandoned locks.
func (s *RedisStore) Reap(ctx context.Context) (int, error) {
	return 0, nil
}
