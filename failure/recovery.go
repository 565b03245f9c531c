package failure

import (
	"time"
)

// ActionKind is a recovery decision for one failed attempt.
type ActionKind string

const (
	ActionRetry       ActionKind = "retry"
	ActionResync      ActionKind = "resync_session"
	ActionSwitch      ActionKind = "switch_backend"
	ActionMarkBlocked ActionKind = "mark_account_blocked"
	ActionEscalate    ActionKind = "escalate"
)

// Action is the planner's verdict for a failed attempt.
type Action struct {
	Kind  ActionKind
	Delay time.Duration // only meaningful for ActionRetry
}

// PlanContext describes the state of the attempt being recovered.
type PlanContext struct {
	Attempt     int // 1-based attempt number just failed
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	HasAlt      bool // the account has a second viable backend
	Resynced    bool // a forced session resync was already tried
}

// Backoff returns the delay before attempt k+1 given attempt k failed:
// BaseDelay * 2^(k-1), capped at MaxDelay when one is set. Non-decreasing
// in k.
func (pc PlanContext) Backoff() time.Duration {
	d := pc.BaseDelay
	for i := 1; i < pc.Attempt; i++ {
		d *= 2
		if pc.MaxDelay > 0 && d >= pc.MaxDelay {
			return pc.MaxDelay
		}
	}
	if pc.MaxDelay > 0 && d > pc.MaxDelay {
		return pc.MaxDelay
	}
	return d
}

// Planner selects a recovery action for a classified failure. The ladder per
// failure is fixed: retry in place while attempts remain, then force one
// session resync onto the other backend when available, then mark the
// account non-usable for this job.
type Planner struct{}

func NewPlanner() *Planner {
	return &Planner{}
}

func (p *Planner) Plan(kind Kind, pc PlanContext) Action {
	switch kind {
	case ConfigurationError:
		return Action{Kind: ActionEscalate}
	case AccountBlocked:
		return Action{Kind: ActionMarkBlocked}
	case ResourceUnavailable:
		return Action{Kind: ActionEscalate}
	case SessionInvalid:
		if !pc.Resynced && pc.HasAlt {
			return Action{Kind: ActionResync}
		}
		if pc.Attempt < pc.MaxAttempts {
			return Action{Kind: ActionRetry, Delay: pc.Backoff()}
		}
		return Action{Kind: ActionMarkBlocked}
	case RateLimited, TransientNetwork:
		if pc.Attempt < pc.MaxAttempts {
			return Action{Kind: ActionRetry, Delay: pc.Backoff()}
		}
		if !pc.Resynced && pc.HasAlt {
			return Action{Kind: ActionSwitch}
		}
		return Action{Kind: ActionEscalate}
	}
	return Action{Kind: ActionEscalate}
}
