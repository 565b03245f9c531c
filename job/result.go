package job

import (
	"time"

	"github.com/upcast/upcast/failure"
)

// Outcome of executing one asset on one account.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeRetryableFailure Outcome = "retryable_failure"
	OutcomeTerminalFailure  Outcome = "terminal_failure"
)

// ExecutionResult is produced per asset attempt by an account processor and
// consumed by the coordinator for aggregation.
type ExecutionResult struct {
	AccountTaskID string       `json:"account_task_id"`
	AssetID       string       `json:"asset_id"`
	Outcome       Outcome      `json:"outcome"`
	ErrorKind     failure.Kind `json:"error_kind,omitempty"`
	Detail        string       `json:"detail,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
}

// Failed reports whether the result is any kind of failure.
func (r ExecutionResult) Failed() bool {
	return r.Outcome != OutcomeSuccess
}
