package store

import (
	"context"
	"errors"

	"github.com/upcast/upcast/job"
)

var ErrNotFound = errors.New("store: record not found")

// Store is the engine's persistence contract: jobs, account tasks, assets
// and circuit states, each keyed by a stable id. Records are only mutated
// through the coordinator's own write paths; the concurrent execution phase
// works on a Snapshot and never touches the store.
type Store interface {
	CreateJob(ctx context.Context, j *job.Job) error
	GetJob(ctx context.Context, id string) (*job.Job, error)
	UpdateJob(ctx context.Context, j *job.Job) error
	ListJobs(ctx context.Context) ([]*job.Job, error)

	CreateAccountTask(ctx context.Context, t *job.AccountTask) error
	GetAccountTasks(ctx context.Context, jobID string) ([]*job.AccountTask, error)
	UpdateAccountTask(ctx context.Context, t *job.AccountTask) error

	CreateAsset(ctx context.Context, a *job.Asset) error
	GetAssets(ctx context.Context, jobID string) ([]job.Asset, error)
	MarkAssetUsed(ctx context.Context, assetID string) error

	SaveCircuitState(ctx context.Context, cs job.CircuitState) error
	GetCircuitStates(ctx context.Context) ([]job.CircuitState, error)

	// Snapshot reads one job with its tasks and assets in a single
	// consistent pass. This is the explicit boundary between store I/O and
	// the concurrent execution phase.
	Snapshot(ctx context.Context, jobID string) (*job.Snapshot, error)

	Close() error
}
