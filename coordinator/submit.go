package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/upcast/upcast/job"
	"github.com/upcast/upcast/nanoid"
	"github.com/upcast/upcast/store"
	"github.com/upcast/upcast/validator"
)

// AccountSpec describes one account in a job submission.
type AccountSpec struct {
	ID       string            `json:"id" validate:"required"`
	Backends []string          `json:"backends" validate:"required,min=1,dive,oneof=browser api"`
	Secrets  map[string]string `json:"secrets,omitempty"`
	Session  json.RawMessage   `json:"session,omitempty"`
}

// AssetSpec describes one asset in a job submission.
type AssetSpec struct {
	Path    string `json:"path" validate:"required"`
	Title   string `json:"title,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// SubmitRequest is a full job manifest. Zero-valued tuning fields fall back
// to the engine defaults.
type SubmitRequest struct {
	Name             string           `json:"name" validate:"required"`
	Distribution     string           `json:"distribution,omitempty" validate:"omitempty,oneof=partition round"`
	ConcurrencyLimit int              `json:"concurrency_limit,omitempty" validate:"omitempty,min=1,max=64"`
	Retry            *job.RetryPolicy `json:"retry,omitempty"`
	Accounts         []AccountSpec    `json:"accounts" validate:"required,min=1,dive"`
	Assets           []AssetSpec      `json:"assets" validate:"required,min=1,dive"`
}

// Validate returns field-level validation errors, empty when the request is
// well formed.
func (r *SubmitRequest) Validate() map[string]string {
	return validator.ValidateStruct(r)
}

// SubmitJob validates and persists a job with its account tasks and assets,
// then starts the run asynchronously. The returned job is the pending record
// as persisted.
func (c *Coordinator) SubmitJob(ctx context.Context, req *SubmitRequest) (*job.Job, error) {
	if errs := req.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid job submission: %v", errs)
	}

	j := &job.Job{
		ID:               nanoid.PrimaryKey(),
		Name:             req.Name,
		Status:           job.StatusPending,
		ConcurrencyLimit: req.ConcurrencyLimit,
		Distribution:     req.Distribution,
		CreatedAt:        time.Now(),
	}
	if j.ConcurrencyLimit <= 0 {
		j.ConcurrencyLimit = c.engine.ConcurrencyLimit
	}
	if j.Distribution == "" {
		j.Distribution = c.engine.Distribution
	}
	// Partial retry policies are legal: any zero field falls back to the
	// engine default so a manifest can never submit a no-retry or
	// zero-backoff policy by omission.
	j.Retry = job.RetryPolicy{
		MaxAttempts: c.engine.MaxAttempts,
		BaseDelay:   c.engine.BaseDelay,
		MaxDelay:    c.engine.MaxDelay,
	}
	if req.Retry != nil {
		if req.Retry.MaxAttempts > 0 {
			j.Retry.MaxAttempts = req.Retry.MaxAttempts
		}
		if req.Retry.BaseDelay > 0 {
			j.Retry.BaseDelay = req.Retry.BaseDelay
		}
		if req.Retry.MaxDelay > 0 {
			j.Retry.MaxDelay = req.Retry.MaxDelay
		}
	}

	if err := c.store.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	for _, spec := range req.Accounts {
		t := &job.AccountTask{
			ID:    nanoid.PrimaryKey(),
			JobID: j.ID,
			Account: job.AccountRef{
				ID:       spec.ID,
				Backends: spec.Backends,
				Secrets:  spec.Secrets,
			},
			Status: job.TaskPending,
		}
		if len(spec.Session) > 0 {
			t.Account.Session = &job.SessionBlob{
				AccountID: spec.ID,
				Payload:   spec.Session,
			}
		}
		if err := c.store.CreateAccountTask(ctx, t); err != nil {
			return nil, fmt.Errorf("create account task for %s: %w", spec.ID, err)
		}
	}
	for _, spec := range req.Assets {
		a := &job.Asset{
			ID:      nanoid.PrimaryKey(),
			JobID:   j.ID,
			Path:    spec.Path,
			Title:   spec.Title,
			Caption: spec.Caption,
		}
		if err := c.store.CreateAsset(ctx, a); err != nil {
			return nil, fmt.Errorf("create asset %s: %w", spec.Path, err)
		}
	}

	c.Start(j.ID)
	return j, nil
}

// JobStatus is a coherent view of one job with per-account progress. Safe to
// read while the job is running.
type JobStatus struct {
	Job     *job.Job           `json:"job"`
	Tasks   []*job.AccountTask `json:"tasks"`
	Counts  map[string]int     `json:"counts"` // task status -> count
	LogSize int                `json:"log_size"`
}

// GetJobStatus returns the job and its account tasks. Terminal jobs are
// served read-through from the cache.
func (c *Coordinator) GetJobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	if c.cache != nil {
		if cached, err := c.cache.Get(ctx, jobID); err == nil && cached != nil {
			return cached, nil
		}
	}

	j, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	tasks, err := c.store.GetAccountTasks(ctx, jobID)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, 4)
	for _, t := range tasks {
		counts[string(t.Status)]++
	}
	status := &JobStatus{Job: j, Tasks: tasks, Counts: counts, LogSize: c.logSize(jobID, j)}

	if c.cache != nil && j.Status.Terminal() {
		_ = c.cache.Set(ctx, jobID, status)
	}
	return status, nil
}

// StreamJobLog returns a channel of log lines starting at offset. For a
// running job the stream stays open until the job reaches a terminal status;
// for a finished job it replays the persisted log and closes. The cancel
// func detaches the subscriber.
func (c *Coordinator) StreamJobLog(ctx context.Context, jobID string, offset int) (<-chan string, func(), error) {
	c.mu.Lock()
	buf, running := c.live[jobID]
	c.mu.Unlock()

	if running {
		ch, cancel := buf.Subscribe(offset)
		return ch, cancel, nil
	}

	j, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	lines := j.Log
	if offset > 0 {
		if offset >= len(lines) {
			lines = nil
		} else {
			lines = lines[offset:]
		}
	}
	ch := make(chan string, len(lines))
	for _, line := range lines {
		ch <- line
	}
	close(ch)
	return ch, func() {}, nil
}

// CancelJob signals a running job to stop. Already-succeeded account tasks
// keep their results; in-flight ones fail at the next asset boundary.
func (c *Coordinator) CancelJob(ctx context.Context, jobID string) (bool, error) {
	c.mu.Lock()
	cancel, ok := c.cancels[jobID]
	c.mu.Unlock()

	if ok {
		cancel()
		c.collector.RecordJobCancellation()
		return true, nil
	}

	if _, err := c.store.GetJob(ctx, jobID); err != nil {
		return false, err
	}
	return false, nil
}

// ListJobs returns every known job, oldest first.
func (c *Coordinator) ListJobs(ctx context.Context) ([]*job.Job, error) {
	return c.store.ListJobs(ctx)
}

// ErrNotFound re-exported for callers that only import the coordinator.
var ErrNotFound = store.ErrNotFound

// logSize prefers the live buffer's length so status reads during a run see
// lines that are not yet persisted.
func (c *Coordinator) logSize(jobID string, j *job.Job) int {
	c.mu.Lock()
	buf, ok := c.live[jobID]
	c.mu.Unlock()

	if ok {
		return buf.Len()
	}
	return len(j.Log)
}
