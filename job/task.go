package job

import (
	"encoding/json"
	"time"
)

// TaskStatus is the lifecycle state of one AccountTask.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// SessionBlob is a portable snapshot of an account's device and credential
// state, exported from whichever backend currently holds a valid session.
type SessionBlob struct {
	AccountID  string          `json:"account_id"`
	Source     string          `json:"source"` // backend kind that exported it
	Payload    json.RawMessage `json:"payload"`
	ExportedAt time.Time       `json:"exported_at"`
}

// AccountRef identifies one automated account plus its last known-good
// session snapshot. Opaque to the engine beyond these fields.
type AccountRef struct {
	ID       string            `json:"id"`
	Backends []string          `json:"backends"` // viable backend kinds, preferred first
	Secrets  map[string]string `json:"secrets,omitempty"`
	Session  *SessionBlob      `json:"session,omitempty"`
}

// HasAlt reports whether the account has a second viable backend.
func (a AccountRef) HasAlt() bool {
	return len(a.Backends) > 1
}

// ProxyRef is an already-resolved proxy for one account.
type ProxyRef struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// AccountTask is the work unit for one account within a Job. AssignedAssets
// is populated once by distribution and immutable afterward.
type AccountTask struct {
	ID             string     `json:"id"`
	JobID          string     `json:"job_id"`
	Account        AccountRef `json:"account"`
	Proxy          ProxyRef   `json:"proxy"`
	AssignedAssets []string   `json:"assigned_assets"` // asset ids, in processing order
	Status         TaskStatus `json:"status"`
	SuccessCount   int        `json:"success_count"`
	FailureCount   int        `json:"failure_count"`
	Cause          string     `json:"cause,omitempty"` // set when Status is failed
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy safe to hand across goroutine boundaries.
func (t *AccountTask) Clone() *AccountTask {
	cp := *t
	cp.AssignedAssets = append([]string(nil), t.AssignedAssets...)
	cp.Account.Backends = append([]string(nil), t.Account.Backends...)
	if t.Account.Secrets != nil {
		cp.Account.Secrets = make(map[string]string, len(t.Account.Secrets))
		for k, v := range t.Account.Secrets {
			cp.Account.Secrets[k] = v
		}
	}
	if t.Account.Session != nil {
		blob := *t.Account.Session
		cp.Account.Session = &blob
	}
	if t.StartedAt != nil {
		at := *t.StartedAt
		cp.StartedAt = &at
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}
