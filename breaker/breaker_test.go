package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/upcast/upcast/job"
)

var errBoom = errors.New("boom")

func failingCall() (any, error) { return nil, errBoom }

func tripScope(t *testing.T, r *Registry, scope string, threshold int) {
	t.Helper()
	for i := 0; i < threshold; i++ {
		if _, err := r.Execute(scope, failingCall); !errors.Is(err, errBoom) {
			t.Fatalf("failure %d: got %v, want errBoom", i+1, err)
		}
	}
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	r := NewRegistry(&Config{Threshold: 3, Cooldown: time.Minute})
	tripScope(t, r, "api/a1/p1", 3)

	invoked := false
	_, err := r.Execute("api/a1/p1", func() (any, error) {
		invoked = true
		return nil, nil
	})
	if !IsOpen(err) {
		t.Fatalf("got %v, want an open-circuit error", err)
	}
	if invoked {
		t.Fatal("open circuit still invoked the backend")
	}

	if got := r.State("api/a1/p1"); got.State != job.CircuitOpen {
		t.Fatalf("State = %s, want open", got.State)
	}
}

func TestSuccessResetsConsecutiveCount(t *testing.T) {
	r := NewRegistry(&Config{Threshold: 3, Cooldown: time.Minute})

	tripScope(t, r, "api/a1/p1", 2)
	if _, err := r.Execute("api/a1/p1", func() (any, error) { return nil, nil }); err != nil {
		t.Fatal(err)
	}
	tripScope(t, r, "api/a1/p1", 2)

	// Never three in a row, so still closed.
	if _, err := r.Execute("api/a1/p1", func() (any, error) { return nil, nil }); err != nil {
		t.Fatalf("circuit tripped without threshold consecutive failures: %v", err)
	}
}

func TestHalfOpenProbeClosesOnSuccess(t *testing.T) {
	r := NewRegistry(&Config{Threshold: 2, Cooldown: 20 * time.Millisecond})
	tripScope(t, r, "api/a1/p1", 2)

	time.Sleep(30 * time.Millisecond)

	// Single probe allowed, and its success closes the circuit.
	if _, err := r.Execute("api/a1/p1", func() (any, error) { return nil, nil }); err != nil {
		t.Fatalf("half-open probe: %v", err)
	}
	if got := r.State("api/a1/p1"); got.State != job.CircuitClosed {
		t.Fatalf("State after probe success = %s, want closed", got.State)
	}
}

func TestHalfOpenProbeFailureReopens(t *testing.T) {
	r := NewRegistry(&Config{Threshold: 2, Cooldown: 20 * time.Millisecond})
	tripScope(t, r, "api/a1/p1", 2)

	time.Sleep(30 * time.Millisecond)

	if _, err := r.Execute("api/a1/p1", failingCall); !errors.Is(err, errBoom) {
		t.Fatalf("probe: got %v, want errBoom", err)
	}
	if got := r.State("api/a1/p1"); got.State != job.CircuitOpen {
		t.Fatalf("State after probe failure = %s, want open", got.State)
	}
}

func TestScopesAreIsolated(t *testing.T) {
	r := NewRegistry(&Config{Threshold: 1, Cooldown: time.Minute})
	tripScope(t, r, "api/a1/p1", 1)

	if _, err := r.Execute("browser/a1/p1", func() (any, error) { return nil, nil }); err != nil {
		t.Fatalf("sibling scope affected: %v", err)
	}
}

func TestOnStateChangeAndSnapshots(t *testing.T) {
	r := NewRegistry(&Config{Threshold: 1, Cooldown: time.Minute})

	var transitions []gobreaker.State
	r.OnStateChange(func(scope string, from, to gobreaker.State) {
		transitions = append(transitions, to)
	})

	tripScope(t, r, "api/a1/p1", 1)

	if len(transitions) == 0 || transitions[len(transitions)-1] != gobreaker.StateOpen {
		t.Fatalf("transitions = %v, want ending open", transitions)
	}

	snaps := r.Snapshots()
	if len(snaps) != 1 {
		t.Fatalf("Snapshots() = %d entries, want 1", len(snaps))
	}
	if snaps[0].BackendKey != "api/a1/p1" || snaps[0].State != job.CircuitOpen {
		t.Fatalf("snapshot = %+v", snaps[0])
	}
	if snaps[0].OpenedAt == nil {
		t.Fatal("snapshot missing OpenedAt for an open circuit")
	}
}
