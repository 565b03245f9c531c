package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process lock store: a mutex-guarded lookup map.
// Expired entries count as absent on every operation, so correctness does
// not depend on janitor timing.
type MemoryStore struct {
	mu    sync.Mutex
	locks map[string]*Lock
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks: make(map[string]*Lock),
	}
}

func (s *MemoryStore) Acquire(ctx context.Context, scope, holder string, ttl time.Duration) (*Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if cur, ok := s.locks[scope]; ok && !cur.Expired(now) {
		if cur.Holder == holder {
			cur.ExpiresAt = now.Add(ttl)
			cp := *cur
			return &cp, nil
		}
		return nil, ErrDenied
	}

	l := &Lock{
		Scope:      scope,
		Holder:     holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	s.locks[scope] = l
	cp := *l
	return &cp, nil
}

func (s *MemoryStore) Refresh(ctx context.Context, scope, holder string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cur, ok := s.locks[scope]
	if !ok || cur.Expired(now) || cur.Holder != holder {
		return false, nil
	}
	cur.ExpiresAt = now.Add(ttl)
	return true, nil
}

func (s *MemoryStore) Release(ctx context.Context, scope, holder string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.locks[scope]
	if !ok || cur.Holder != holder {
		return false, nil
	}
	delete(s.locks, scope)
	return true, nil
}

func (s *MemoryStore) Reap(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	reaped := 0
	for scope, cur := range s.locks {
		if cur.Expired(now) {
			delete(s.locks, scope)
			reaped++
		}
	}
	return reaped, nil
}

// Get returns the live lock for a scope, or nil.
func (s *MemoryStore) Get(scope string) *Lock {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.locks[scope]
	if !ok || cur.Expired(time.Now()) {
		return nil
	}
	cp := *cur
	return &cp
}
