package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/upcast/upcast/job"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	concurrency_limit INTEGER NOT NULL,
	distribution TEXT NOT NULL,
	retry TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	started_at TIMESTAMP,
	completed_at TIMESTAMP,
	log TEXT NOT NULL DEFAULT '[]',
	seq INTEGER
);
CREATE TABLE IF NOT EXISTS account_tasks (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	account TEXT NOT NULL,
	proxy TEXT NOT NULL,
	assigned_assets TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL,
	success_count INTEGER NOT NULL DEFAULT 0,
	failure_count INTEGER NOT NULL DEFAULT 0,
	cause TEXT,
	started_at TIMESTAMP,
	completed_at TIMESTAMP,
	seq INTEGER
);
CREATE INDEX IF NOT EXISTS idx_account_tasks_job ON account_tasks(job_id);
CREATE TABLE IF NOT EXISTS assets (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	path TEXT NOT NULL,
	title TEXT,
	caption TEXT,
	used INTEGER NOT NULL DEFAULT 0,
	seq INTEGER
);
CREATE INDEX IF NOT EXISTS idx_assets_job ON assets(job_id);
CREATE TABLE IF NOT EXISTS circuit_states (
	backend_key TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	opened_at TIMESTAMP
);
`

// SQLite persists engine records in an embedded database. Nested model
// fields (retry policy, account ref, assigned assets, log) are stored as
// JSON text columns.
type SQLite struct {
	db  *sql.DB
	seq int64
}

// NewSQLite opens (creating when absent) the database at path and
// bootstraps the schema.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// sqlite handles one writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to bootstrap schema: %w", err)
	}
	return &SQLite{db: db, seq: time.Now().UnixNano()}, nil
}

func (s *SQLite) nextSeq() int64 {
	s.seq++
	return s.seq
}

func (s *SQLite) CreateJob(ctx context.Context, j *job.Job) error {
	retry, err := json.Marshal(j.Retry)
	if err != nil {
		return fmt.Errorf("failed to marshal retry policy: %w", err)
	}
	logBlob, err := json.Marshal(j.Log)
	if err != nil {
		return fmt.Errorf("failed to marshal job log: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, name, status, concurrency_limit, distribution, retry, created_at, started_at, completed_at, log, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Name, string(j.Status), j.ConcurrencyLimit, j.Distribution, string(retry),
		j.CreatedAt, j.StartedAt, j.CompletedAt, string(logBlob), s.nextSeq())
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (s *SQLite) scanJob(row interface{ Scan(...any) error }) (*job.Job, error) {
	var (
		j       job.Job
		status  string
		retry   string
		logBlob string
	)
	err := row.Scan(&j.ID, &j.Name, &status, &j.ConcurrencyLimit, &j.Distribution,
		&retry, &j.CreatedAt, &j.StartedAt, &j.CompletedAt, &logBlob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	j.Status = job.Status(status)
	if err := json.Unmarshal([]byte(retry), &j.Retry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal retry policy: %w", err)
	}
	if err := json.Unmarshal([]byte(logBlob), &j.Log); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job log: %w", err)
	}
	return &j, nil
}

const jobColumns = `id, name, status, concurrency_limit, distribution, retry, created_at, started_at, completed_at, log`

func (s *SQLite) GetJob(ctx context.Context, id string) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := s.scanJob(row)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return j, err
}

func (s *SQLite) UpdateJob(ctx context.Context, j *job.Job) error {
	retry, err := json.Marshal(j.Retry)
	if err != nil {
		return fmt.Errorf("failed to marshal retry policy: %w", err)
	}
	logBlob, err := json.Marshal(j.Log)
	if err != nil {
		return fmt.Errorf("failed to marshal job log: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET name = ?, status = ?, concurrency_limit = ?, distribution = ?, retry = ?, started_at = ?, completed_at = ?, log = ? WHERE id = ?`,
		j.Name, string(j.Status), j.ConcurrencyLimit, j.Distribution, string(retry),
		j.StartedAt, j.CompletedAt, string(logBlob), j.ID)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s: %w", j.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLite) ListJobs(ctx context.Context) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []*job.Job
	for rows.Next() {
		j, err := s.scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *SQLite) CreateAccountTask(ctx context.Context, t *job.AccountTask) error {
	account, err := json.Marshal(t.Account)
	if err != nil {
		return fmt.Errorf("failed to marshal account ref: %w", err)
	}
	proxy, err := json.Marshal(t.Proxy)
	if err != nil {
		return fmt.Errorf("failed to marshal proxy ref: %w", err)
	}
	assigned, err := json.Marshal(t.AssignedAssets)
	if err != nil {
		return fmt.Errorf("failed to marshal assigned assets: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO account_tasks (id, job_id, account, proxy, assigned_assets, status, success_count, failure_count, cause, started_at, completed_at, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.JobID, string(account), string(proxy), string(assigned), string(t.Status),
		t.SuccessCount, t.FailureCount, t.Cause, t.StartedAt, t.CompletedAt, s.nextSeq())
	if err != nil {
		return fmt.Errorf("failed to insert account task: %w", err)
	}
	return nil
}

func (s *SQLite) GetAccountTasks(ctx context.Context, jobID string) ([]*job.AccountTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, account, proxy, assigned_assets, status, success_count, failure_count, cause, started_at, completed_at
		 FROM account_tasks WHERE job_id = ? ORDER BY seq`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query account tasks: %w", err)
	}
	defer rows.Close()

	var out []*job.AccountTask
	for rows.Next() {
		var (
			t        job.AccountTask
			account  string
			proxy    string
			assigned string
			status   string
			cause    sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.JobID, &account, &proxy, &assigned, &status,
			&t.SuccessCount, &t.FailureCount, &cause, &t.StartedAt, &t.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account task: %w", err)
		}
		t.Status = job.TaskStatus(status)
		t.Cause = cause.String
		if err := json.Unmarshal([]byte(account), &t.Account); err != nil {
			return nil, fmt.Errorf("failed to unmarshal account ref: %w", err)
		}
		if err := json.Unmarshal([]byte(proxy), &t.Proxy); err != nil {
			return nil, fmt.Errorf("failed to unmarshal proxy ref: %w", err)
		}
		if err := json.Unmarshal([]byte(assigned), &t.AssignedAssets); err != nil {
			return nil, fmt.Errorf("failed to unmarshal assigned assets: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *SQLite) UpdateAccountTask(ctx context.Context, t *job.AccountTask) error {
	assigned, err := json.Marshal(t.AssignedAssets)
	if err != nil {
		return fmt.Errorf("failed to marshal assigned assets: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE account_tasks SET assigned_assets = ?, status = ?, success_count = ?, failure_count = ?, cause = ?, started_at = ?, completed_at = ? WHERE id = ?`,
		string(assigned), string(t.Status), t.SuccessCount, t.FailureCount, t.Cause,
		t.StartedAt, t.CompletedAt, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update account task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account task %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLite) CreateAsset(ctx context.Context, a *job.Asset) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assets (id, job_id, path, title, caption, used, seq) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.JobID, a.Path, a.Title, a.Caption, a.Used, s.nextSeq())
	if err != nil {
		return fmt.Errorf("failed to insert asset: %w", err)
	}
	return nil
}

func (s *SQLite) GetAssets(ctx context.Context, jobID string) ([]job.Asset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, path, title, caption, used FROM assets WHERE job_id = ? ORDER BY seq`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	var out []job.Asset
	for rows.Next() {
		var a job.Asset
		if err := rows.Scan(&a.ID, &a.JobID, &a.Path, &a.Title, &a.Caption, &a.Used); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLite) MarkAssetUsed(ctx context.Context, assetID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE assets SET used = 1 WHERE id = ?`, assetID)
	if err != nil {
		return fmt.Errorf("failed to mark asset used: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("asset %s: %w", assetID, ErrNotFound)
	}
	return nil
}

func (s *SQLite) SaveCircuitState(ctx context.Context, cs job.CircuitState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO circuit_states (backend_key, state, consecutive_failures, opened_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(backend_key) DO UPDATE SET state = excluded.state, consecutive_failures = excluded.consecutive_failures, opened_at = excluded.opened_at`,
		cs.BackendKey, cs.State, cs.ConsecutiveFailures, cs.OpenedAt)
	if err != nil {
		return fmt.Errorf("failed to save circuit state: %w", err)
	}
	return nil
}

func (s *SQLite) GetCircuitStates(ctx context.Context) ([]job.CircuitState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT backend_key, state, consecutive_failures, opened_at FROM circuit_states ORDER BY backend_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query circuit states: %w", err)
	}
	defer rows.Close()

	var out []job.CircuitState
	for rows.Next() {
		var cs job.CircuitState
		if err := rows.Scan(&cs.BackendKey, &cs.State, &cs.ConsecutiveFailures, &cs.OpenedAt); err != nil {
			return nil, fmt.Errorf("failed to scan circuit state: %w", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

func (s *SQLite) Snapshot(ctx context.Context, jobID string) (*job.Snapshot, error) {
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.GetAccountTasks(ctx, jobID)
	if err != nil {
		return nil, err
	}
	assets, err := s.GetAssets(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &job.Snapshot{Job: j, Tasks: tasks, Assets: assets}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
