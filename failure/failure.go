package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a raw backend failure.
type Kind string

const (
	// TransientNetwork covers timeouts and connection resets; retry on the
	// same backend.
	TransientNetwork Kind = "transient_network"
	// RateLimited is an explicit backoff signal from the backend; retry
	// after a delay, no circuit penalty.
	RateLimited Kind = "rate_limited"
	// SessionInvalid means expired or corrupt credentials; resync the
	// session, then retry.
	SessionInvalid Kind = "session_invalid"
	// ResourceUnavailable means the proxy or profile is dead; terminal for
	// this attempt.
	ResourceUnavailable Kind = "resource_unavailable"
	// AccountBlocked is a permanent account-level denial from the backend.
	AccountBlocked Kind = "account_blocked"
	// ConfigurationError means the asset or job itself is malformed; never
	// retried.
	ConfigurationError Kind = "configuration_error"
)

// Retryable reports whether a failure of this kind may be retried on the
// same account.
func (k Kind) Retryable() bool {
	switch k {
	case TransientNetwork, RateLimited, SessionInvalid:
		return true
	}
	return false
}

// CircuitPenalty reports whether a failure of this kind counts toward the
// backend scope's circuit breaker. Rate limiting is an orderly signal, not
// a backend fault.
func (k Kind) CircuitPenalty() bool {
	return k != RateLimited
}

// Error is a classified failure. It wraps the raw error so callers can still
// use errors.Is / errors.As against the cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified failure from a message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind to a raw error. A nil err returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Classify maps a raw error into the taxonomy. Unclassified errors default
// to TransientNetwork: the engine is at-least-once, so an unknown failure is
// retried rather than silently dropped.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return TransientNetwork
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return TransientNetwork
	}

	return TransientNetwork
}
