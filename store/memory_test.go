package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/upcast/upcast/job"
)

func seedJob(t *testing.T, s Store, id string) *job.Job {
	t.Helper()
	j := &job.Job{
		ID:           id,
		Name:         "nightly batch",
		Status:       job.StatusPending,
		Distribution: job.DistributionPartition,
		Retry:        job.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute},
		CreatedAt:    time.Now(),
	}
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatal(err)
	}
	return j
}

func TestMemoryJobRoundTrip(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seedJob(t, s, "j1")

	got, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "nightly batch" || got.Retry.MaxAttempts != 3 {
		t.Fatalf("round trip lost fields: %+v", got)
	}

	got.Status = job.StatusRunning
	if err := s.UpdateJob(ctx, got); err != nil {
		t.Fatal(err)
	}
	again, _ := s.GetJob(ctx, "j1")
	if again.Status != job.StatusRunning {
		t.Fatalf("update not visible: %s", again.Status)
	}

	// Returned values are isolated from the stored record.
	again.Name = "mutated"
	final, _ := s.GetJob(ctx, "j1")
	if final.Name != "nightly batch" {
		t.Fatal("caller mutation leaked into the store")
	}
}

func TestMemoryNotFound(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if _, err := s.GetJob(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetJob: %v", err)
	}
	if err := s.UpdateJob(ctx, &job.Job{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateJob: %v", err)
	}
	if err := s.MarkAssetUsed(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("MarkAssetUsed: %v", err)
	}
}

func TestMemoryTasksAndAssetsKeepInsertionOrder(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seedJob(t, s, "j1")

	for _, id := range []string{"t1", "t2", "t3"} {
		err := s.CreateAccountTask(ctx, &job.AccountTask{ID: id, JobID: "j1", Status: job.TaskPending})
		if err != nil {
			t.Fatal(err)
		}
	}
	for _, id := range []string{"v1", "v2"} {
		if err := s.CreateAsset(ctx, &job.Asset{ID: id, JobID: "j1"}); err != nil {
			t.Fatal(err)
		}
	}

	tasks, err := s.GetAccountTasks(ctx, "j1")
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []string{"t1", "t2", "t3"} {
		if tasks[i].ID != want {
			t.Fatalf("task order %v", tasks)
		}
	}

	assets, err := s.GetAssets(ctx, "j1")
	if err != nil {
		t.Fatal(err)
	}
	if assets[0].ID != "v1" || assets[1].ID != "v2" {
		t.Fatalf("asset order %v", assets)
	}
}

func TestMemoryMarkAssetUsed(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seedJob(t, s, "j1")
	if err := s.CreateAsset(ctx, &job.Asset{ID: "v1", JobID: "j1"}); err != nil {
		t.Fatal(err)
	}

	if err := s.MarkAssetUsed(ctx, "v1"); err != nil {
		t.Fatal(err)
	}
	assets, _ := s.GetAssets(ctx, "j1")
	if !assets[0].Used {
		t.Fatal("asset not marked used")
	}
}

func TestMemoryCircuitStateUpsert(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	cs := job.CircuitState{BackendKey: "api/a1/p1", State: job.CircuitOpen, ConsecutiveFailures: 5}
	if err := s.SaveCircuitState(ctx, cs); err != nil {
		t.Fatal(err)
	}
	cs.State = job.CircuitClosed
	cs.ConsecutiveFailures = 0
	if err := s.SaveCircuitState(ctx, cs); err != nil {
		t.Fatal(err)
	}

	states, err := s.GetCircuitStates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 1 {
		t.Fatalf("%d states, want 1 after upsert", len(states))
	}
	if states[0].State != job.CircuitClosed {
		t.Fatalf("state = %s, want closed", states[0].State)
	}
}

func TestMemorySnapshot(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seedJob(t, s, "j1")
	if err := s.CreateAccountTask(ctx, &job.AccountTask{ID: "t1", JobID: "j1", Status: job.TaskPending}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateAsset(ctx, &job.Asset{ID: "v1", JobID: "j1"}); err != nil {
		t.Fatal(err)
	}

	snap, err := s.Snapshot(ctx, "j1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Job.ID != "j1" || len(snap.Tasks) != 1 || len(snap.Assets) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}

	// The snapshot is a boundary: mutating it never touches the store.
	snap.Tasks[0].Status = job.TaskSucceeded
	tasks, _ := s.GetAccountTasks(ctx, "j1")
	if tasks[0].Status != job.TaskPending {
		t.Fatal("snapshot mutation leaked into the store")
	}
}
