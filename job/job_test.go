package job

import (
	"testing"
	"time"
)

func TestRetryPolicyBackoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{9, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicyBackoffNonDecreasing(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, BaseDelay: 500 * time.Millisecond, MaxDelay: time.Minute}

	prev := time.Duration(0)
	for k := 1; k <= 10; k++ {
		d := p.Backoff(k)
		if d < prev {
			t.Fatalf("Backoff(%d) = %s decreased from %s", k, d, prev)
		}
		if d > p.MaxDelay {
			t.Fatalf("Backoff(%d) = %s exceeds cap %s", k, d, p.MaxDelay)
		}
		prev = d
	}
}

func TestRetryPolicyBackoffUncapped(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 4, BaseDelay: time.Second}

	for k := 1; k <= 4; k++ {
		want := time.Second << (k - 1)
		if got := p.Backoff(k); got != want {
			t.Errorf("Backoff(%d) = %s, want %s without a cap", k, got, want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusPartiallyCompleted, StatusFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusRunning} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestAccountTaskClone(t *testing.T) {
	orig := &AccountTask{
		ID:             "t1",
		Account:        AccountRef{ID: "a1", Backends: []string{"browser", "api"}, Secrets: map[string]string{"user": "x"}},
		AssignedAssets: []string{"v1", "v2"},
	}

	cp := orig.Clone()
	cp.AssignedAssets[0] = "other"
	cp.Account.Backends[0] = "api"
	cp.Account.Secrets["user"] = "y"

	if orig.AssignedAssets[0] != "v1" {
		t.Error("clone shares AssignedAssets")
	}
	if orig.Account.Backends[0] != "browser" {
		t.Error("clone shares Backends")
	}
	if orig.Account.Secrets["user"] != "x" {
		t.Error("clone shares Secrets")
	}
}
