package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/upcast/upcast/breaker"
	"github.com/upcast/upcast/concurrency"
	"github.com/upcast/upcast/config"
	"github.com/upcast/upcast/ctxutil"
	"github.com/upcast/upcast/distribute"
	"github.com/upcast/upcast/job"
	"github.com/upcast/upcast/logging/logger"
	"github.com/upcast/upcast/metrics"
	"github.com/upcast/upcast/processor"
	"github.com/upcast/upcast/store"
)

// Coordinator orchestrates jobs end to end: snapshot, distribution, bounded
// fan-out of account processors, aggregation and writeback. All store writes
// for a running job happen on the coordinator's goroutine; the concurrent
// phase only exchanges in-memory outcomes.
type Coordinator struct {
	store     store.Store
	cache     *store.Cache[JobStatus]
	processor *processor.Processor
	breakers  *breaker.Registry
	collector *metrics.Collector
	engine    *config.Engine
	gate      *concurrency.Gate // engine-wide cap, on top of each job's own bound

	mu      sync.Mutex
	live    map[string]*job.LogBuffer
	cancels map[string]context.CancelFunc
}

func New(st store.Store, cache *store.Cache[JobStatus], proc *processor.Processor, breakers *breaker.Registry, collector *metrics.Collector, engine *config.Engine, gate *concurrency.Gate) *Coordinator {
	return &Coordinator{
		store:     st,
		cache:     cache,
		processor: proc,
		breakers:  breakers,
		collector: collector,
		engine:    engine,
		gate:      gate,
		live:      make(map[string]*job.LogBuffer),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Start launches the run loop for a persisted job on its own goroutine and
// registers a cancel handle for it.
func (c *Coordinator) Start(jobID string) {
	runCtx, cancel := context.WithCancel(context.Background())
	runCtx = ctxutil.SetTraceID(runCtx, jobID)

	c.mu.Lock()
	c.cancels[jobID] = cancel
	c.live[jobID] = job.NewLogBuffer()
	c.mu.Unlock()

	go func() {
		defer cancel()
		if err := c.Run(runCtx, jobID); err != nil {
			logger.Errorf(runCtx, "job %s run aborted: %v", jobID, err)
		}
	}()
}

// Run executes one job to a terminal status. The snapshot read at the top is
// the boundary between synchronous store access and the concurrent phase.
func (c *Coordinator) Run(ctx context.Context, jobID string) error {
	ctx, span := otel.Tracer("upcast/coordinator").Start(ctx, "job.run")
	span.SetAttributes(attribute.String("job.id", jobID))
	defer span.End()

	buf := c.buffer(jobID)
	defer c.finish(jobID, buf)

	snap, err := c.store.Snapshot(ctx, jobID)
	if err != nil {
		return fmt.Errorf("snapshot job %s: %w", jobID, err)
	}
	j := snap.Job
	if j.Status.Terminal() {
		return fmt.Errorf("job %s already %s", jobID, j.Status)
	}

	logf := func(format string, args ...any) {
		line := buf.Appendf(format, args...)
		logger.Info(ctx, line)
	}

	now := time.Now()
	j.Status = job.StatusRunning
	j.StartedAt = &now
	c.collector.RecordJobStart()
	if err := c.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("mark job %s running: %w", jobID, err)
	}
	logf("job %s: running with %d accounts, %d assets", jobID, len(snap.Tasks), len(snap.Assets))

	strategy, err := distribute.ForMode(j.Distribution)
	if err != nil {
		return c.abort(ctx, j, buf, fmt.Sprintf("distribution: %v", err))
	}
	assignment, err := strategy.Distribute(snap.Assets, snap.Accounts())
	if err != nil {
		return c.abort(ctx, j, buf, fmt.Sprintf("distribution: %v", err))
	}

	byID := snap.AssetByID()
	for _, t := range snap.Tasks {
		t.AssignedAssets = assetIDs(assignment[t.Account.ID])
		if err := c.store.UpdateAccountTask(ctx, t); err != nil {
			return c.abort(ctx, j, buf, fmt.Sprintf("persist assignment: %v", err))
		}
		logf("task %s: %d assets assigned to account %s", t.ID, len(t.AssignedAssets), t.Account.ID)
	}

	outcomes := c.fanOut(ctx, snap, byID, logf)

	return c.writeback(ctx, j, outcomes, buf, logf)
}

// fanOut runs one processor per account task under the job's concurrency
// gate and collects every outcome. Tasks that never get to start after a
// cancellation still produce a failed outcome so aggregation sees all of
// them.
func (c *Coordinator) fanOut(ctx context.Context, snap *job.Snapshot, byID map[string]job.Asset, logf func(string, ...any)) []*processor.Outcome {
	limit := snap.Job.ConcurrencyLimit
	if limit <= 0 {
		limit = c.engine.ConcurrencyLimit
	}
	local, err := concurrency.NewGate(int32(limit))
	if err != nil {
		local, _ = concurrency.NewGate(1)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = make([]*processor.Outcome, 0, len(snap.Tasks))
	)
	for _, t := range snap.Tasks {
		assets := make([]job.Asset, 0, len(t.AssignedAssets))
		for _, id := range t.AssignedAssets {
			if a, ok := byID[id]; ok {
				assets = append(assets, a)
			}
		}

		wg.Add(1)
		go func(t *job.AccountTask, assets []job.Asset) {
			defer wg.Done()

			var out *processor.Outcome
			if leave, err := c.enterGates(ctx, local); err != nil {
				out = cancelledOutcome(t, assets)
				c.collector.RecordTaskFailure()
			} else {
				defer leave()
				out = c.processor.Run(ctx, t, assets, snap.Job.Retry, logf)
			}

			mu.Lock()
			outcomes = append(outcomes, out)
			mu.Unlock()
		}(t, assets)
	}
	wg.Wait()
	return outcomes
}

// enterGates claims a slot in the job's own bound and then in the engine-wide
// cap. Both are released together.
func (c *Coordinator) enterGates(ctx context.Context, local *concurrency.Gate) (func(), error) {
	if err := local.Enter(ctx); err != nil {
		return nil, err
	}
	if c.gate == nil {
		return local.Leave, nil
	}
	if err := c.gate.Enter(ctx); err != nil {
		local.Leave()
		return nil, err
	}
	return func() {
		c.gate.Leave()
		local.Leave()
	}, nil
}

// writeback persists outcomes, aggregates the terminal job status and stores
// the final log. Store writes use a fresh context so a cancelled job still
// lands its results.
func (c *Coordinator) writeback(ctx context.Context, j *job.Job, outcomes []*processor.Outcome, buf *job.LogBuffer, logf func(string, ...any)) error {
	wctx := context.WithoutCancel(ctx)

	succeeded := 0
	for _, out := range outcomes {
		if err := c.store.UpdateAccountTask(wctx, out.Task); err != nil {
			logger.Errorf(wctx, "persist task %s: %v", out.Task.ID, err)
		}
		for _, res := range out.Results {
			if res.Outcome == job.OutcomeSuccess {
				if err := c.store.MarkAssetUsed(wctx, res.AssetID); err != nil {
					logger.Errorf(wctx, "mark asset %s used: %v", res.AssetID, err)
				}
			}
		}
		if out.Task.Status == job.TaskSucceeded {
			succeeded++
		}
	}

	for _, cs := range c.breakers.Snapshots() {
		if err := c.store.SaveCircuitState(wctx, cs); err != nil {
			logger.Errorf(wctx, "persist circuit state %s: %v", cs.BackendKey, err)
		}
	}

	switch {
	case succeeded == len(outcomes):
		j.Status = job.StatusCompleted
		c.collector.RecordJobCompletion()
	case succeeded > 0:
		j.Status = job.StatusPartiallyCompleted
		c.collector.RecordJobCompletion()
	default:
		j.Status = job.StatusFailed
		c.collector.RecordJobFailure()
	}
	if ctx.Err() != nil {
		logf("job %s: cancelled", j.ID)
	}
	logf("job %s: %s (%d/%d accounts succeeded)", j.ID, j.Status, succeeded, len(outcomes))

	done := time.Now()
	j.CompletedAt = &done
	j.Log = buf.Lines(0)
	if err := c.store.UpdateJob(wctx, j); err != nil {
		return fmt.Errorf("finalize job %s: %w", j.ID, err)
	}
	if c.cache != nil {
		_ = c.cache.Delete(wctx, j.ID)
	}
	return nil
}

// abort fails a job before any account work started.
func (c *Coordinator) abort(ctx context.Context, j *job.Job, buf *job.LogBuffer, cause string) error {
	wctx := context.WithoutCancel(ctx)

	buf.Appendf("job %s: failed: %s", j.ID, cause)
	now := time.Now()
	j.Status = job.StatusFailed
	j.CompletedAt = &now
	j.Log = buf.Lines(0)
	c.collector.RecordJobFailure()

	if err := c.store.UpdateJob(wctx, j); err != nil {
		return fmt.Errorf("abort job %s: %w", j.ID, err)
	}
	return fmt.Errorf("job %s failed: %s", j.ID, cause)
}

func (c *Coordinator) buffer(jobID string) *job.LogBuffer {
	c.mu.Lock()
	defer c.mu.Unlock()

	buf, ok := c.live[jobID]
	if !ok {
		buf = job.NewLogBuffer()
		c.live[jobID] = buf
	}
	return buf
}

func (c *Coordinator) finish(jobID string, buf *job.LogBuffer) {
	buf.Close()
	c.mu.Lock()
	delete(c.live, jobID)
	delete(c.cancels, jobID)
	c.mu.Unlock()
}

func cancelledOutcome(t *job.AccountTask, assets []job.Asset) *processor.Outcome {
	t = t.Clone()
	now := time.Now()
	t.Status = job.TaskFailed
	t.Cause = "cancelled"
	t.CompletedAt = &now

	out := &processor.Outcome{Task: t}
	for _, a := range assets {
		t.FailureCount++
		out.Results = append(out.Results, job.ExecutionResult{
			AccountTaskID: t.ID,
			AssetID:       a.ID,
			Outcome:       job.OutcomeTerminalFailure,
			Detail:        "cancelled",
			Timestamp:     now,
		})
	}
	return out
}

func assetIDs(assets []job.Asset) []string {
	ids := make([]string, 0, len(assets))
	for _, a := range assets {
		ids = append(ids, a.ID)
	}
	return ids
}
