package session

import (
	"context"
	"fmt"
	"time"

	"github.com/upcast/upcast/backend"
	"github.com/upcast/upcast/failure"
	"github.com/upcast/upcast/job"
)

// Manager reconciles credential/device state between an account's execution
// backends so either driver can resume the other's session. Blobs travel by
// value through these calls; there is no shared module-level session state.
type Manager struct {
	backends *backend.Registry
}

func NewManager(reg *backend.Registry) *Manager {
	return &Manager{backends: reg}
}

// Export snapshots the live session held by the given driver handle.
func (m *Manager) Export(ctx context.Context, be backend.ExecutionBackend, h backend.Handle) (*job.SessionBlob, error) {
	blob, err := be.ExportSession(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("failed to export session for account %s: %w", h.AccountID(), err)
	}
	if blob.ExportedAt.IsZero() {
		blob.ExportedAt = time.Now()
	}
	blob.Source = string(be.Kind())
	return blob, nil
}

// Import installs a snapshot into the target driver. A failed import is a
// terminal failure of the attempt, never a crash.
func (m *Manager) Import(ctx context.Context, account job.AccountRef, blob *job.SessionBlob, target backend.Kind) error {
	be, err := m.backends.Get(target)
	if err != nil {
		return failure.Wrap(failure.ResourceUnavailable, err)
	}
	if err := be.ImportSession(ctx, account, blob); err != nil {
		return failure.Wrap(failure.SessionInvalid,
			fmt.Errorf("failed to import session for account %s into %s: %w", account.ID, target, err))
	}
	return nil
}

// Prime installs the account's last known-good snapshot into every viable
// backend, so all drivers start from a consistent device fingerprint. Run
// once before an account's first execution.
func (m *Manager) Prime(ctx context.Context, account job.AccountRef) error {
	if account.Session == nil {
		return nil
	}
	for _, kindName := range account.Backends {
		kind := backend.Kind(kindName)
		if string(kind) == account.Session.Source {
			continue
		}
		if err := m.Import(ctx, account, account.Session, kind); err != nil {
			return err
		}
	}
	return nil
}

// Resync exports the session from the currently-valid driver and imports it
// into the account's other viable backend, returning the target kind. Used
// by recovery when credentials went stale on one side.
func (m *Manager) Resync(ctx context.Context, account job.AccountRef, from backend.ExecutionBackend, h backend.Handle) (backend.Kind, error) {
	target, ok := altKind(account, from.Kind())
	if !ok {
		return "", failure.New(failure.ResourceUnavailable,
			"account %s has no second viable backend", account.ID)
	}

	blob, err := m.Export(ctx, from, h)
	if err != nil {
		return "", failure.Wrap(failure.SessionInvalid, err)
	}
	if err := m.Import(ctx, account, blob, target); err != nil {
		return "", err
	}
	return target, nil
}

func altKind(account job.AccountRef, current backend.Kind) (backend.Kind, bool) {
	for _, k := range account.Backends {
		if backend.Kind(k) != current {
			return backend.Kind(k), true
		}
	}
	return "", false
}
