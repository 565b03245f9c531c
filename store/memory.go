package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/upcast/upcast/job"
)

// Memory is the in-process store: RWMutex-guarded lookup maps with deep
// copies at the boundary so callers never share record memory.
type Memory struct {
	mu       sync.RWMutex
	jobs     map[string]*job.Job
	tasks    map[string]*job.AccountTask // by task id
	assets   map[string]*job.Asset      // by asset id
	circuits map[string]job.CircuitState
	nextSeq  int
	order    map[string]int // id -> insertion sequence
}

func NewMemory() *Memory {
	return &Memory{
		jobs:     make(map[string]*job.Job),
		tasks:    make(map[string]*job.AccountTask),
		assets:   make(map[string]*job.Asset),
		circuits: make(map[string]job.CircuitState),
		order:    make(map[string]int),
	}
}

func (m *Memory) CreateJob(ctx context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[j.ID]; exists {
		return fmt.Errorf("job %s already exists", j.ID)
	}
	m.jobs[j.ID] = j.Clone()
	m.touch(j.ID)
	return nil
}

func (m *Memory) GetJob(ctx context.Context, id string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return j.Clone(), nil
}

func (m *Memory) UpdateJob(ctx context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[j.ID]; !ok {
		return fmt.Errorf("job %s: %w", j.ID, ErrNotFound)
	}
	m.jobs[j.ID] = j.Clone()
	return nil
}

func (m *Memory) ListJobs(ctx context.Context) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.Clone())
	}
	m.sortByInsertion(len(out), func(i int) string { return out[i].ID }, func(i, k int) { out[i], out[k] = out[k], out[i] })
	return out, nil
}

func (m *Memory) CreateAccountTask(ctx context.Context, t *job.AccountTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tasks[t.ID]; exists {
		return fmt.Errorf("account task %s already exists", t.ID)
	}
	m.tasks[t.ID] = t.Clone()
	m.touch(t.ID)
	return nil
}

func (m *Memory) GetAccountTasks(ctx context.Context, jobID string) ([]*job.AccountTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*job.AccountTask
	for _, t := range m.tasks {
		if t.JobID == jobID {
			out = append(out, t.Clone())
		}
	}
	m.sortByInsertion(len(out), func(i int) string { return out[i].ID }, func(i, k int) { out[i], out[k] = out[k], out[i] })
	return out, nil
}

func (m *Memory) UpdateAccountTask(ctx context.Context, t *job.AccountTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[t.ID]; !ok {
		return fmt.Errorf("account task %s: %w", t.ID, ErrNotFound)
	}
	m.tasks[t.ID] = t.Clone()
	return nil
}

func (m *Memory) CreateAsset(ctx context.Context, a *job.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.assets[a.ID]; exists {
		return fmt.Errorf("asset %s already exists", a.ID)
	}
	cp := *a
	m.assets[a.ID] = &cp
	m.touch(a.ID)
	return nil
}

func (m *Memory) GetAssets(ctx context.Context, jobID string) ([]job.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []job.Asset
	for _, a := range m.assets {
		if a.JobID == jobID {
			out = append(out, *a)
		}
	}
	m.sortByInsertion(len(out), func(i int) string { return out[i].ID }, func(i, k int) { out[i], out[k] = out[k], out[i] })
	return out, nil
}

func (m *Memory) MarkAssetUsed(ctx context.Context, assetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assets[assetID]
	if !ok {
		return fmt.Errorf("asset %s: %w", assetID, ErrNotFound)
	}
	a.Used = true
	return nil
}

func (m *Memory) SaveCircuitState(ctx context.Context, cs job.CircuitState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.circuits[cs.BackendKey] = cs
	return nil
}

func (m *Memory) GetCircuitStates(ctx context.Context) ([]job.CircuitState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]job.CircuitState, 0, len(m.circuits))
	for _, cs := range m.circuits {
		out = append(out, cs)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].BackendKey < out[k].BackendKey })
	return out, nil
}

func (m *Memory) Snapshot(ctx context.Context, jobID string) (*job.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}

	snap := &job.Snapshot{Job: j.Clone()}
	for _, t := range m.tasks {
		if t.JobID == jobID {
			snap.Tasks = append(snap.Tasks, t.Clone())
		}
	}
	m.sortByInsertion(len(snap.Tasks), func(i int) string { return snap.Tasks[i].ID }, func(i, k int) {
		snap.Tasks[i], snap.Tasks[k] = snap.Tasks[k], snap.Tasks[i]
	})
	for _, a := range m.assets {
		if a.JobID == jobID {
			snap.Assets = append(snap.Assets, *a)
		}
	}
	m.sortByInsertion(len(snap.Assets), func(i int) string { return snap.Assets[i].ID }, func(i, k int) {
		snap.Assets[i], snap.Assets[k] = snap.Assets[k], snap.Assets[i]
	})
	return snap, nil
}

func (m *Memory) Close() error {
	return nil
}

// touch records insertion order so reads are stable without timestamps.
func (m *Memory) touch(id string) {
	m.nextSeq++
	m.order[id] = m.nextSeq
}

func (m *Memory) sortByInsertion(n int, id func(int) string, swap func(i, k int)) {
	for i := 0; i < n; i++ {
		min := i
		for k := i + 1; k < n; k++ {
			if m.order[id(k)] < m.order[id(min)] {
				min = k
			}
		}
		if min != i {
			swap(i, min)
		}
	}
}
