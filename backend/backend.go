package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/upcast/upcast/job"
)

// Kind tags an execution driver family.
type Kind string

const (
	// KindBrowser is a browser-automation driver.
	KindBrowser Kind = "browser"
	// KindAPI is a mobile/private-API driver.
	KindAPI Kind = "api"
)

var ErrUnknownKind = errors.New("backend: unknown kind")

// Handle is a driver-owned live session for one prepared account. Handles
// are owned by a single account processor and never shared.
type Handle interface {
	Kind() Kind
	AccountID() string
}

// ExecutionBackend is an interchangeable upload driver. The engine calls it
// through this interface only; what one unit of work does internally is the
// driver's business.
type ExecutionBackend interface {
	Kind() Kind

	// Prepare resolves a live handle for the account, connecting through
	// the given proxy and restoring the given session snapshot when
	// non-nil.
	Prepare(ctx context.Context, account job.AccountRef, proxy job.ProxyRef, blob *job.SessionBlob) (Handle, error)

	// Execute performs one unit of work: uploading a single asset.
	Execute(ctx context.Context, h Handle, asset job.Asset) job.ExecutionResult

	// ExportSession snapshots the handle's current device/credential state.
	ExportSession(ctx context.Context, h Handle) (*job.SessionBlob, error)

	// ImportSession installs a snapshot for the account so a future Prepare
	// on this driver resumes it.
	ImportSession(ctx context.Context, account job.AccountRef, blob *job.SessionBlob) error

	// Close releases the handle.
	Close(ctx context.Context, h Handle) error
}

// ProxyResolver supplies an already-resolved proxy for one account.
type ProxyResolver interface {
	Resolve(ctx context.Context, account job.AccountRef) (job.ProxyRef, error)
}

// StaticProxyResolver hands back a fixed proxy per account id, with an
// optional fallback.
type StaticProxyResolver struct {
	Proxies  map[string]job.ProxyRef
	Fallback job.ProxyRef
}

func (r *StaticProxyResolver) Resolve(ctx context.Context, account job.AccountRef) (job.ProxyRef, error) {
	if p, ok := r.Proxies[account.ID]; ok {
		return p, nil
	}
	return r.Fallback, nil
}

// Registry holds the registered drivers keyed by kind.
type Registry struct {
	mu       sync.RWMutex
	backends map[Kind]ExecutionBackend
}

func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[Kind]ExecutionBackend),
	}
}

// Register adds a driver; a second driver of the same kind replaces the
// first.
func (r *Registry) Register(be ExecutionBackend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[be.Kind()] = be
}

// Get returns the driver for a kind.
func (r *Registry) Get(kind Kind) (ExecutionBackend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	be, ok := r.backends[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return be, nil
}

// Kinds returns the registered kinds.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.backends))
	for k := range r.backends {
		kinds = append(kinds, k)
	}
	return kinds
}

// Scope builds the circuit-breaker scope key for one backend execution
// identity: the account+proxy combination on one driver kind.
func Scope(kind Kind, account job.AccountRef, proxy job.ProxyRef) string {
	return fmt.Sprintf("%s/%s/%s", kind, account.ID, proxy.ID)
}
