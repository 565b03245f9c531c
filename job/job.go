package job

import (
	"time"

	"github.com/upcast/upcast/failure"
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusPending            Status = "pending"
	StatusRunning            Status = "running"
	StatusCompleted          Status = "completed"
	StatusPartiallyCompleted Status = "partially_completed"
	StatusFailed             Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartiallyCompleted, StatusFailed:
		return true
	}
	return false
}

// Distribution modes.
const (
	DistributionPartition = "partition"
	DistributionRound     = "round"
)

// RetryPolicy bounds per-asset retries within one account.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
}

// Backoff returns the delay before attempt k+1 given attempt k failed:
// BaseDelay * 2^(k-1), capped at MaxDelay when one is set. The planner's
// backoff is the single implementation; this is the policy-side view of it.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	return failure.PlanContext{
		Attempt:   attempt,
		BaseDelay: p.BaseDelay,
		MaxDelay:  p.MaxDelay,
	}.Backoff()
}

// Job is one batch upload request spanning multiple accounts and assets.
// Mutated only by the coordinator; terminal once Completed or Failed.
type Job struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Status           Status      `json:"status"`
	ConcurrencyLimit int         `json:"concurrency_limit"`
	Distribution     string      `json:"distribution"`
	Retry            RetryPolicy `json:"retry"`
	CreatedAt        time.Time   `json:"created_at"`
	StartedAt        *time.Time  `json:"started_at,omitempty"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
	Log              []string    `json:"log,omitempty"` // append-only
}

// Clone returns a deep copy safe to hand across goroutine boundaries.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Log = append([]string(nil), j.Log...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
