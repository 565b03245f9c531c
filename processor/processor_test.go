package processor

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/upcast/upcast/backend"
	"github.com/upcast/upcast/breaker"
	"github.com/upcast/upcast/failure"
	"github.com/upcast/upcast/job"
	"github.com/upcast/upcast/lock"
	"github.com/upcast/upcast/metrics"
	"github.com/upcast/upcast/ratelimit"
	"github.com/upcast/upcast/session"
)

type fakeHandle struct {
	kind    backend.Kind
	account string
}

func (h fakeHandle) Kind() backend.Kind { return h.kind }
func (h fakeHandle) AccountID() string  { return h.account }

// fakeBackend scripts per-call results and records what ran on it.
type fakeBackend struct {
	kind       backend.Kind
	executeFn  func(call int, asset job.Asset) job.ExecutionResult
	prepareErr error

	mu       sync.Mutex
	calls    int
	executed []string
	closed   int
	imported int
}

func (b *fakeBackend) Kind() backend.Kind { return b.kind }

func (b *fakeBackend) Prepare(ctx context.Context, account job.AccountRef, proxy job.ProxyRef, blob *job.SessionBlob) (backend.Handle, error) {
	if b.prepareErr != nil {
		return nil, b.prepareErr
	}
	return fakeHandle{kind: b.kind, account: account.ID}, nil
}

func (b *fakeBackend) Execute(ctx context.Context, h backend.Handle, asset job.Asset) job.ExecutionResult {
	b.mu.Lock()
	b.calls++
	call := b.calls
	b.executed = append(b.executed, asset.ID)
	b.mu.Unlock()

	if b.executeFn != nil {
		return b.executeFn(call, asset)
	}
	return job.ExecutionResult{AssetID: asset.ID, Outcome: job.OutcomeSuccess, Timestamp: time.Now()}
}

func (b *fakeBackend) ExportSession(ctx context.Context, h backend.Handle) (*job.SessionBlob, error) {
	return &job.SessionBlob{AccountID: h.AccountID(), Payload: json.RawMessage(`{}`)}, nil
}

func (b *fakeBackend) ImportSession(ctx context.Context, account job.AccountRef, blob *job.SessionBlob) error {
	b.mu.Lock()
	b.imported++
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) Close(ctx context.Context, h backend.Handle) error {
	b.mu.Lock()
	b.closed++
	b.mu.Unlock()
	return nil
}

func failureResult(asset job.Asset, kind failure.Kind) job.ExecutionResult {
	outcome := job.OutcomeTerminalFailure
	if kind.Retryable() {
		outcome = job.OutcomeRetryableFailure
	}
	return job.ExecutionResult{AssetID: asset.ID, Outcome: outcome, ErrorKind: kind, Detail: string(kind), Timestamp: time.Now()}
}

type testRig struct {
	proc  *Processor
	locks *lock.MemoryStore
}

func newTestRig(backends ...backend.ExecutionBackend) *testRig {
	reg := backend.NewRegistry()
	for _, be := range backends {
		reg.Register(be)
	}

	lockStore := lock.NewMemoryStore()
	locks := lock.NewManager(lockStore, time.Minute, 10*time.Millisecond, time.Minute)
	limiter := ratelimit.New(1000, 1000)
	breakers := breaker.NewRegistry(&breaker.Config{Threshold: 5, Cooldown: time.Minute})

	proc := New(reg, &backend.StaticProxyResolver{Fallback: job.ProxyRef{ID: "p1"}}, session.NewManager(reg),
		locks, limiter, breakers, metrics.NewCollector(), "w1")
	return &testRig{proc: proc, locks: lockStore}
}

func makeTask(backends ...string) *job.AccountTask {
	return &job.AccountTask{
		ID:      "t1",
		JobID:   "j1",
		Account: job.AccountRef{ID: "a1", Backends: backends},
		Status:  job.TaskPending,
	}
}

var quickRetry = job.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func discardLog(string, ...any) {}

func TestRunAllAssetsSucceed(t *testing.T) {
	api := &fakeBackend{kind: backend.KindAPI}
	rig := newTestRig(api)
	assets := []job.Asset{{ID: "v1"}, {ID: "v2"}, {ID: "v3"}}

	out := rig.proc.Run(context.Background(), makeTask("api"), assets, quickRetry, discardLog)

	if out.Task.Status != job.TaskSucceeded {
		t.Fatalf("status = %s (%s), want succeeded", out.Task.Status, out.Task.Cause)
	}
	if out.Task.SuccessCount != 3 || out.Task.FailureCount != 0 {
		t.Fatalf("counts = %d/%d, want 3/0", out.Task.SuccessCount, out.Task.FailureCount)
	}
	if api.executed[0] != "v1" || api.executed[1] != "v2" || api.executed[2] != "v3" {
		t.Fatalf("assets ran out of order: %v", api.executed)
	}
	if rig.locks.Get(lock.Key("j1", "t1")) != nil {
		t.Fatal("lock still held after the run")
	}
	if api.closed != 1 {
		t.Fatalf("handle closed %d times, want 1", api.closed)
	}
}

func TestRunEmptyAssignmentSucceeds(t *testing.T) {
	rig := newTestRig(&fakeBackend{kind: backend.KindAPI})

	out := rig.proc.Run(context.Background(), makeTask("api"), nil, quickRetry, discardLog)
	if out.Task.Status != job.TaskSucceeded {
		t.Fatalf("status = %s, want succeeded with zero assets", out.Task.Status)
	}
}

func TestRunRetriesExhaustedFailsTask(t *testing.T) {
	api := &fakeBackend{kind: backend.KindAPI}
	api.executeFn = func(call int, asset job.Asset) job.ExecutionResult {
		return failureResult(asset, failure.TransientNetwork)
	}
	rig := newTestRig(api)

	out := rig.proc.Run(context.Background(), makeTask("api"), []job.Asset{{ID: "v1"}, {ID: "v2"}}, quickRetry, discardLog)

	if out.Task.Status != job.TaskFailed {
		t.Fatalf("status = %s, want failed", out.Task.Status)
	}
	if api.calls != quickRetry.MaxAttempts {
		t.Fatalf("%d backend calls, want %d attempts for the first asset", api.calls, quickRetry.MaxAttempts)
	}
	// The second asset never runs after a terminal failure.
	for _, id := range api.executed {
		if id == "v2" {
			t.Fatal("processing continued past a terminal failure")
		}
	}
	if rig.locks.Get(lock.Key("j1", "t1")) != nil {
		t.Fatal("lock still held after the run")
	}
}

func TestRunRetryThenSuccess(t *testing.T) {
	api := &fakeBackend{kind: backend.KindAPI}
	api.executeFn = func(call int, asset job.Asset) job.ExecutionResult {
		if call == 1 {
			return failureResult(asset, failure.TransientNetwork)
		}
		return job.ExecutionResult{AssetID: asset.ID, Outcome: job.OutcomeSuccess, Timestamp: time.Now()}
	}
	rig := newTestRig(api)

	out := rig.proc.Run(context.Background(), makeTask("api"), []job.Asset{{ID: "v1"}}, quickRetry, discardLog)

	if out.Task.Status != job.TaskSucceeded {
		t.Fatalf("status = %s (%s), want succeeded after retry", out.Task.Status, out.Task.Cause)
	}
	if api.calls != 2 {
		t.Fatalf("%d calls, want 2", api.calls)
	}
}

func TestRunSessionInvalidResyncsToOtherBackend(t *testing.T) {
	browser := &fakeBackend{kind: backend.KindBrowser}
	browser.executeFn = func(call int, asset job.Asset) job.ExecutionResult {
		return failureResult(asset, failure.SessionInvalid)
	}
	api := &fakeBackend{kind: backend.KindAPI}
	rig := newTestRig(browser, api)

	out := rig.proc.Run(context.Background(), makeTask("browser", "api"), []job.Asset{{ID: "v1"}}, quickRetry, discardLog)

	if out.Task.Status != job.TaskSucceeded {
		t.Fatalf("status = %s (%s), want succeeded on the other backend", out.Task.Status, out.Task.Cause)
	}
	if api.imported == 0 {
		t.Fatal("session never imported into the alternate backend")
	}
	if len(api.executed) != 1 {
		t.Fatalf("alternate backend executed %v, want the one asset", api.executed)
	}
	if browser.closed == 0 {
		t.Fatal("stale handle never closed after the switch")
	}
}

func TestRunAccountBlockedIsTerminal(t *testing.T) {
	api := &fakeBackend{kind: backend.KindAPI}
	api.executeFn = func(call int, asset job.Asset) job.ExecutionResult {
		return failureResult(asset, failure.AccountBlocked)
	}
	rig := newTestRig(api)

	out := rig.proc.Run(context.Background(), makeTask("api"), []job.Asset{{ID: "v1"}}, quickRetry, discardLog)

	if out.Task.Status != job.TaskFailed {
		t.Fatalf("status = %s, want failed", out.Task.Status)
	}
	if api.calls != 1 {
		t.Fatalf("%d calls, want 1: blocked accounts are not retried", api.calls)
	}
}

func TestRunCancellationPreservesSuccesses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	api := &fakeBackend{kind: backend.KindAPI}
	api.executeFn = func(call int, asset job.Asset) job.ExecutionResult {
		if asset.ID == "v1" {
			cancel() // cancelled between asset boundaries
		}
		return job.ExecutionResult{AssetID: asset.ID, Outcome: job.OutcomeSuccess, Timestamp: time.Now()}
	}
	rig := newTestRig(api)

	out := rig.proc.Run(ctx, makeTask("api"), []job.Asset{{ID: "v1"}, {ID: "v2"}, {ID: "v3"}}, quickRetry, discardLog)

	if out.Task.Status != job.TaskFailed || out.Task.Cause != "cancelled" {
		t.Fatalf("task = %s (%q), want failed with cancelled cause", out.Task.Status, out.Task.Cause)
	}
	if out.Task.SuccessCount != 1 {
		t.Fatalf("SuccessCount = %d, want the pre-cancel success preserved", out.Task.SuccessCount)
	}
	if out.Task.FailureCount != 2 {
		t.Fatalf("FailureCount = %d, want 2 cancelled assets", out.Task.FailureCount)
	}
	if rig.locks.Get(lock.Key("j1", "t1")) != nil {
		t.Fatal("lock still held after cancellation")
	}
}

func TestRunReleasesLockOnPanic(t *testing.T) {
	api := &fakeBackend{kind: backend.KindAPI}
	api.executeFn = func(call int, asset job.Asset) job.ExecutionResult {
		panic("driver crashed")
	}
	rig := newTestRig(api)

	out := rig.proc.Run(context.Background(), makeTask("api"), []job.Asset{{ID: "v1"}}, quickRetry, discardLog)

	if out.Task.Status != job.TaskFailed || !strings.Contains(out.Task.Cause, "panic") {
		t.Fatalf("task = %s (%q), want failed with panic cause", out.Task.Status, out.Task.Cause)
	}
	if rig.locks.Get(lock.Key("j1", "t1")) != nil {
		t.Fatal("lock leaked through the panic")
	}
}

func TestRunLockDeniedFailsFast(t *testing.T) {
	api := &fakeBackend{kind: backend.KindAPI}
	rig := newTestRig(api)

	// Another worker already holds this task's lock.
	if _, err := rig.locks.Acquire(context.Background(), lock.Key("j1", "t1"), "other", time.Minute); err != nil {
		t.Fatal(err)
	}

	out := rig.proc.Run(context.Background(), makeTask("api"), []job.Asset{{ID: "v1"}}, quickRetry, discardLog)

	if out.Task.Status != job.TaskFailed {
		t.Fatalf("status = %s, want failed", out.Task.Status)
	}
	if api.calls != 0 {
		t.Fatal("backend invoked without holding the lock")
	}
}

func TestRunRateLimitedDoesNotTripBreaker(t *testing.T) {
	api := &fakeBackend{kind: backend.KindAPI}
	api.executeFn = func(call int, asset job.Asset) job.ExecutionResult {
		if call == 1 {
			return failureResult(asset, failure.RateLimited)
		}
		return job.ExecutionResult{AssetID: asset.ID, Outcome: job.OutcomeSuccess, Timestamp: time.Now()}
	}

	reg := backend.NewRegistry()
	reg.Register(api)
	lockStore := lock.NewMemoryStore()
	locks := lock.NewManager(lockStore, time.Minute, 10*time.Millisecond, time.Minute)
	// Threshold 1: any penalized failure would open the circuit immediately.
	breakers := breaker.NewRegistry(&breaker.Config{Threshold: 1, Cooldown: time.Hour})
	proc := New(reg, &backend.StaticProxyResolver{Fallback: job.ProxyRef{ID: "p1"}}, session.NewManager(reg),
		locks, ratelimit.New(1000, 1000), breakers, metrics.NewCollector(), "w1")

	out := proc.Run(context.Background(), makeTask("api"), []job.Asset{{ID: "v1"}}, quickRetry, discardLog)

	if out.Task.Status != job.TaskSucceeded {
		t.Fatalf("status = %s (%s): the rate-limit failure must not open the circuit", out.Task.Status, out.Task.Cause)
	}
	if got := breakers.State("api/a1/p1").State; got != job.CircuitClosed {
		t.Fatalf("circuit = %s, want closed", got)
	}
}
