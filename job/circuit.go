package job

import (
	"time"
)

// Circuit breaker states as persisted.
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half_open"
)

// CircuitState is the persisted snapshot of one backend scope's breaker.
type CircuitState struct {
	BackendKey          string     `json:"backend_key"`
	State               string     `json:"state"`
	ConsecutiveFailures uint32     `json:"consecutive_failures"`
	OpenedAt            *time.Time `json:"opened_at,omitempty"`
}
