package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/upcast/upcast/backend"
	"github.com/upcast/upcast/breaker"
	"github.com/upcast/upcast/failure"
	"github.com/upcast/upcast/job"
	"github.com/upcast/upcast/lock"
	"github.com/upcast/upcast/logging/logger"
	"github.com/upcast/upcast/metrics"
	"github.com/upcast/upcast/ratelimit"
	"github.com/upcast/upcast/session"
)

// Processor drives one account task at a time through
// prepare -> execute -> classify -> retry/escalate. Assets within one
// account are strictly sequential: backends hold one stateful session and
// concurrent use would race it.
type Processor struct {
	backends  *backend.Registry
	proxies   backend.ProxyResolver
	sessions  *session.Manager
	locks     *lock.Manager
	limiter   *ratelimit.Limiter
	breakers  *breaker.Registry
	planner   *failure.Planner
	collector *metrics.Collector
	holder    string // worker identity for lock claims
}

func New(
	backends *backend.Registry,
	proxies backend.ProxyResolver,
	sessions *session.Manager,
	locks *lock.Manager,
	limiter *ratelimit.Limiter,
	breakers *breaker.Registry,
	collector *metrics.Collector,
	holder string,
) *Processor {
	return &Processor{
		backends:  backends,
		proxies:   proxies,
		sessions:  sessions,
		locks:     locks,
		limiter:   limiter,
		breakers:  breakers,
		planner:   failure.NewPlanner(),
		collector: collector,
		holder:    holder,
	}
}

// Outcome is one account task's final record plus its per-asset results.
type Outcome struct {
	Task    *job.AccountTask
	Results []job.ExecutionResult
}

// driver is the processor's current live backend binding. It changes when
// recovery switches the account onto its other backend.
type driver struct {
	be backend.ExecutionBackend
	h  backend.Handle
}

// Run processes one account task to completion. The input task is cloned;
// the caller's snapshot stays untouched. Run never writes to the store.
func (p *Processor) Run(ctx context.Context, task *job.AccountTask, assets []job.Asset, policy job.RetryPolicy, logf func(format string, args ...any)) (out *Outcome) {
	task = task.Clone()
	out = &Outcome{Task: task}
	now := time.Now()
	task.StartedAt = &now

	scope := lock.Key(task.JobID, task.ID)
	if _, err := p.locks.Acquire(ctx, scope, p.holder); err != nil {
		p.fail(task, fmt.Sprintf("lock not acquired: %v", err), logf)
		return out
	}
	logf("task %s: lock acquired by %s", task.ID, p.holder)

	// The release path must run even when a driver panics mid-asset.
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf(ctx, "account processor panic on task %s: %v", task.ID, r)
			p.fail(task, fmt.Sprintf("panic: %v", r), logf)
		}
		released, _ := p.locks.Release(context.WithoutCancel(ctx), scope, p.holder)
		if released {
			logf("task %s: lock released", task.ID)
		}
		done := time.Now()
		task.CompletedAt = &done
	}()

	refreshCtx, stopRefresh := context.WithCancel(ctx)
	defer stopRefresh()
	go p.refreshLoop(refreshCtx, scope)

	task.Status = job.TaskRunning
	logf("task %s: preparing account %s", task.ID, task.Account.ID)

	d, err := p.prepare(ctx, task, logf)
	if err != nil {
		p.fail(task, fmt.Sprintf("prepare failed: %v", err), logf)
		return out
	}
	defer func() {
		_ = d.be.Close(context.WithoutCancel(ctx), d.h)
	}()

	logf("task %s: executing %d assets on %s backend", task.ID, len(assets), d.be.Kind())

	for i, asset := range assets {
		if ctx.Err() != nil {
			p.cancelRemaining(task, assets[i:], out, logf)
			return out
		}

		res, terminal := p.processAsset(ctx, task, d, asset, policy, logf)
		out.Results = append(out.Results, res)

		if res.Outcome == job.OutcomeSuccess {
			task.SuccessCount++
			p.collector.RecordAssetUpload()
			continue
		}

		task.FailureCount++
		p.collector.RecordAssetFailure()
		if terminal {
			if ctx.Err() != nil && len(assets) > i+1 {
				p.cancelRemaining(task, assets[i+1:], out, logf)
				return out
			}
			p.fail(task, res.Detail, logf)
			return out
		}
	}

	// Succeeded even when zero assets were assigned.
	task.Status = job.TaskSucceeded
	p.collector.RecordTaskSuccess()
	logf("task %s: succeeded (%d uploaded, %d failed)", task.ID, task.SuccessCount, task.FailureCount)
	return out
}

// prepare resolves proxy, primes sessions across the account's backends and
// opens a handle on the preferred one.
func (p *Processor) prepare(ctx context.Context, task *job.AccountTask, logf func(string, ...any)) (*driver, error) {
	if task.Proxy.ID == "" {
		proxy, err := p.proxies.Resolve(ctx, task.Account)
		if err != nil {
			return nil, failure.Wrap(failure.ResourceUnavailable, err)
		}
		task.Proxy = proxy
	}

	// Proactive sync so every viable backend starts from the same device
	// fingerprint. A stale snapshot is not fatal while the primary session
	// still works.
	if err := p.sessions.Prime(ctx, task.Account); err != nil {
		logf("task %s: session prime failed: %v", task.ID, err)
	}

	if len(task.Account.Backends) == 0 {
		return nil, failure.New(failure.ConfigurationError, "account %s has no backends", task.Account.ID)
	}
	kind := backend.Kind(task.Account.Backends[0])
	be, err := p.backends.Get(kind)
	if err != nil {
		return nil, failure.Wrap(failure.ResourceUnavailable, err)
	}

	h, err := be.Prepare(ctx, task.Account, task.Proxy, task.Account.Session)
	if err != nil {
		return nil, err
	}
	return &driver{be: be, h: h}, nil
}

// processAsset runs the retry ladder for one asset. It returns the final
// result and whether the failure is terminal for the whole account task.
func (p *Processor) processAsset(ctx context.Context, task *job.AccountTask, d *driver, asset job.Asset, policy job.RetryPolicy, logf func(string, ...any)) (job.ExecutionResult, bool) {
	attempt := 1
	resynced := false

	for {
		if err := p.limiter.Wait(ctx, "account:"+task.Account.ID); err != nil {
			return p.failureResult(task, asset, failure.TransientNetwork, "cancelled while rate limited"), true
		}

		res := p.execute(ctx, task, d, asset)
		if res.Outcome == job.OutcomeSuccess {
			return res, false
		}

		action := p.planner.Plan(res.ErrorKind, failure.PlanContext{
			Attempt:     attempt,
			MaxAttempts: policy.MaxAttempts,
			BaseDelay:   policy.BaseDelay,
			MaxDelay:    policy.MaxDelay,
			HasAlt:      task.Account.HasAlt(),
			Resynced:    resynced,
		})

		switch action.Kind {
		case failure.ActionRetry:
			p.collector.RecordRetry()
			logf("task %s: asset %s attempt %d failed (%s), retry in %s", task.ID, asset.ID, attempt, res.ErrorKind, action.Delay)
			if !sleep(ctx, action.Delay) {
				return p.failureResult(task, asset, res.ErrorKind, "cancelled during retry backoff"), true
			}
			attempt++

		case failure.ActionResync, failure.ActionSwitch:
			p.collector.RecordSessionResync()
			logf("task %s: asset %s attempt %d failed (%s), resyncing session to other backend", task.ID, asset.ID, attempt, res.ErrorKind)
			if err := p.switchBackend(ctx, task, d); err != nil {
				return p.failureResult(task, asset, failure.Classify(err), fmt.Sprintf("session resync failed: %v", err)), true
			}
			resynced = true
			logf("task %s: continuing on %s backend", task.ID, d.be.Kind())

		case failure.ActionMarkBlocked:
			logf("task %s: account %s marked non-usable (%s)", task.ID, task.Account.ID, res.ErrorKind)
			res.Outcome = job.OutcomeTerminalFailure
			return res, true

		default: // escalate
			logf("task %s: asset %s failed terminally (%s), surfacing for manual review", task.ID, asset.ID, res.ErrorKind)
			res.Outcome = job.OutcomeTerminalFailure
			return res, true
		}
	}
}

// execute performs one backend call under the scope's circuit breaker.
// Rate-limit signals report as breaker successes so orderly backoff never
// trips the circuit.
func (p *Processor) execute(ctx context.Context, task *job.AccountTask, d *driver, asset job.Asset) job.ExecutionResult {
	bscope := backend.Scope(d.be.Kind(), task.Account, task.Proxy)

	var res job.ExecutionResult
	_, err := p.breakers.Execute(bscope, func() (any, error) {
		res = d.be.Execute(ctx, d.h, asset)
		if res.Outcome == job.OutcomeSuccess || !res.ErrorKind.CircuitPenalty() {
			return nil, nil
		}
		return nil, failure.New(res.ErrorKind, "%s", res.Detail)
	})

	if breaker.IsOpen(err) {
		// Short-circuited without invoking the backend.
		return p.failureResult(task, asset, failure.TransientNetwork, "circuit open for "+bscope)
	}
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now()
	}
	res.AccountTaskID = task.ID
	res.AssetID = asset.ID
	return res
}

// switchBackend resyncs the session from the live driver onto the account's
// other backend and reopens the handle there.
func (p *Processor) switchBackend(ctx context.Context, task *job.AccountTask, d *driver) error {
	target, err := p.sessions.Resync(ctx, task.Account, d.be, d.h)
	if err != nil {
		return err
	}

	be, err := p.backends.Get(target)
	if err != nil {
		return failure.Wrap(failure.ResourceUnavailable, err)
	}

	_ = d.be.Close(ctx, d.h)
	h, err := be.Prepare(ctx, task.Account, task.Proxy, nil)
	if err != nil {
		return err
	}
	d.be = be
	d.h = h
	return nil
}

func (p *Processor) refreshLoop(ctx context.Context, scope string) {
	ticker := time.NewTicker(p.locks.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ok, err := p.locks.Refresh(ctx, scope, p.holder); err == nil && !ok {
				logger.Warnf(ctx, "lock refresh lost for scope %s", scope)
				return
			}
		}
	}
}

func (p *Processor) fail(task *job.AccountTask, cause string, logf func(string, ...any)) {
	if task.Status == job.TaskFailed {
		return
	}
	task.Status = job.TaskFailed
	task.Cause = cause
	p.collector.RecordTaskFailure()
	logf("task %s: failed: %s", task.ID, cause)
}

// cancelRemaining marks every unprocessed asset failed with a cancelled
// cause; already-succeeded results are preserved.
func (p *Processor) cancelRemaining(task *job.AccountTask, remaining []job.Asset, out *Outcome, logf func(string, ...any)) {
	for _, asset := range remaining {
		out.Results = append(out.Results, p.failureResult(task, asset, "", "cancelled"))
		task.FailureCount++
	}
	p.fail(task, "cancelled", logf)
}

func (p *Processor) failureResult(task *job.AccountTask, asset job.Asset, kind failure.Kind, detail string) job.ExecutionResult {
	outcome := job.OutcomeTerminalFailure
	if kind.Retryable() {
		outcome = job.OutcomeRetryableFailure
	}
	return job.ExecutionResult{
		AccountTaskID: task.ID,
		AssetID:       asset.ID,
		Outcome:       outcome,
		ErrorKind:     kind,
		Detail:        detail,
		Timestamp:     time.Now(),
	}
}

// sleep waits for d or until ctx is done, reporting whether the full delay
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
