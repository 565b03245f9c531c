package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDenied is returned when a live lock on the scope is held by another
// holder.
var ErrDenied = errors.New("lock denied: scope held by another holder")

// Lock is a time-boxed claim on one unit of work. At most one live
// (non-expired) lock exists per scope key.
type Lock struct {
	Scope      string    `json:"scope"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the lock's TTL has elapsed.
func (l *Lock) Expired(now time.Time) bool {
	return l.ExpiresAt.Before(now)
}

// Key builds the scope key for one account task within a job.
func Key(jobID, taskID string) string {
	return fmt.Sprintf("%s:%s", jobID, taskID)
}

// Store is the lock persistence contract. Acquire is an atomic test-and-set
// keyed by scope; Refresh and Release only act for the current holder.
type Store interface {
	Acquire(ctx context.Context, scope, holder string, ttl time.Duration) (*Lock, error)
	Refresh(ctx context.Context, scope, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, scope, holder string) (bool, error)
	// Reap deletes expired locks and returns how many were removed.
	Reap(ctx context.Context) (int, error)
}

// Manager wraps a Store with the engine's TTL policy and runs the janitor.
// A crashed worker's claim becomes acquirable again once its TTL elapses.
type Manager struct {
	store        Store
	ttl          time.Duration
	refreshEvery time.Duration
	reapEvery    time.Duration
}

func NewManager(store Store, ttl, refreshEvery, reapEvery time.Duration) *Manager {
	return &Manager{
		store:        store,
		ttl:          ttl,
		refreshEvery: refreshEvery,
		reapEvery:    reapEvery,
	}
}

// TTL returns the configured lock time-to-live.
func (m *Manager) TTL() time.Duration { return m.ttl }

// RefreshInterval returns how often holders should refresh.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshEvery }

func (m *Manager) Acquire(ctx context.Context, scope, holder string) (*Lock, error) {
	return m.store.Acquire(ctx, scope, holder, m.ttl)
}

func (m *Manager) Refresh(ctx context.Context, scope, holder string) (bool, error) {
	return m.store.Refresh(ctx, scope, holder, m.ttl)
}

func (m *Manager) Release(ctx context.Context, scope, holder string) (bool, error) {
	return m.store.Release(ctx, scope, holder)
}

// StartJanitor reaps expired locks until ctx is cancelled.
func (m *Manager) StartJanitor(ctx context.Context, onReap func(count int)) {
	go func() {
		ticker := time.NewTicker(m.reapEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := m.store.Reap(ctx)
				if err != nil {
					continue
				}
				if n > 0 && onReap != nil {
					onReap(n)
				}
			}
		}
	}()
}
