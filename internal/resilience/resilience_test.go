package resilience

import (
	"testing"
	"time"

	"github.com/flowsmith/flowctl/internal/execctx"
	"github.com/flowsmith/flowctl/internal/workflowdoc"
)

func intp(i int) *int { return &i }

func TestResolveRetryRequiresAllThree(t *testing.T) {
	cases := []struct {
		name   string
		policy *workflowdoc.RetryPolicy
		want   bool
	}{
		{"nil", nil, false},
		{"missing httpStatus", &workflowdoc.RetryPolicy{MaxRetries: intp(2), DelayMs: intp(10)}, false},
		{"missing maxRetries", &workflowdoc.RetryPolicy{DelayMs: intp(10), HTTPStatus: []int{500}}, false},
		{"complete", &workflowdoc.RetryPolicy{MaxRetries: intp(2), DelayMs: intp(10), HTTPStatus: []int{500}}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := ResolveRetry(c.policy, nil)
			if r.Active != c.want {
				t.Errorf("Active = %v, want %v", r.Active, c.want)
			}
		})
	}
}

func TestResolveRetryStageWinsOverShared(t *testing.T) {
	pool := map[string]workflowdoc.RetryPolicy{
		"shared": {MaxRetries: intp(5), DelayMs: intp(100), HTTPStatus: []int{500, 502}},
	}
	stage := &workflowdoc.RetryPolicy{Ref: "shared", MaxRetries: intp(1)}
	r := ResolveRetry(stage, pool)
	if !r.Active || r.MaxRetries != 1 {
		t.Errorf("expected stage maxRetries=1 to win, got %+v", r)
	}
	if r.Delay != 100*time.Millisecond {
		t.Errorf("expected inherited delay 100ms, got %v", r.Delay)
	}
	if !r.HTTPStatus[500] || !r.HTTPStatus[502] {
		t.Errorf("expected inherited status set, got %v", r.HTTPStatus)
	}
}

func TestResolveBreakerInertWithoutRetry(t *testing.T) {
	stage := &workflowdoc.CircuitBreakerPolicy{FailureThreshold: intp(1), BreakMs: intp(1000)}
	b := ResolveBreaker(stage, nil, ResolvedRetry{}, "s1")
	if b.Active {
		t.Error("breaker must be inert without an active sibling retry")
	}
}

func TestResolveBreakerCloseOnSuccessDefault(t *testing.T) {
	stage := &workflowdoc.CircuitBreakerPolicy{FailureThreshold: intp(1), BreakMs: intp(1000)}
	retry := ResolvedRetry{Active: true, HTTPStatus: map[int]bool{500: true}}
	b := ResolveBreaker(stage, nil, retry, "s1")
	if b.CloseOnSuccessAttempts != 1 {
		t.Errorf("CloseOnSuccessAttempts = %d, want default 1", b.CloseOnSuccessAttempts)
	}
}

func TestResolveBreakerKeyDefaultsToStageName(t *testing.T) {
	stage := &workflowdoc.CircuitBreakerPolicy{FailureThreshold: intp(1), BreakMs: intp(1000)}
	retry := ResolvedRetry{Active: true, HTTPStatus: map[int]bool{500: true}}
	b := ResolveBreaker(stage, nil, retry, "s1")
	if b.Key != "s1" {
		t.Errorf("Key = %q, want s1", b.Key)
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := ResolvedBreaker{
		Active:                 true,
		FailureThreshold:       2,
		BreakDuration:          time.Minute,
		CloseOnSuccessAttempts: 1,
		FailureStatus:          map[int]bool{500: true},
	}
	state := &execctx.CircuitBreakerState{}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	out := RecordResult(b, state, 500, now)
	if out.Opened {
		t.Fatal("should not open on first failure (threshold 2)")
	}
	out = RecordResult(b, state, 500, now)
	if !out.Opened {
		t.Fatal("should open on reaching threshold")
	}
	if state.OpenUntil == nil || !state.OpenUntil.Equal(now.Add(time.Minute)) {
		t.Errorf("OpenUntil = %v, want %v", state.OpenUntil, now.Add(time.Minute))
	}
}

func TestBreakerBlocksWhileOpen(t *testing.T) {
	b := ResolvedBreaker{Active: true, FailureThreshold: 1, BreakDuration: time.Minute, FailureStatus: map[int]bool{500: true}}
	state := &execctx.CircuitBreakerState{}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	RecordResult(b, state, 500, now)
	d := CheckBeforeAttempt(b, state, now.Add(30*time.Second))
	if !d.Blocked {
		t.Error("expected blocked while still within breakMs")
	}
}

func TestBreakerHalfOpenAfterTimer(t *testing.T) {
	b := ResolvedBreaker{Active: true, FailureThreshold: 1, BreakDuration: time.Minute, CloseOnSuccessAttempts: 1, FailureStatus: map[int]bool{500: true}}
	state := &execctx.CircuitBreakerState{}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	RecordResult(b, state, 500, now)
	d := CheckBeforeAttempt(b, state, now.Add(2*time.Minute))
	if d.Blocked {
		t.Error("expected unblocked (half-open) after breakMs elapses")
	}
	if !state.HalfOpen {
		t.Error("expected HalfOpen true after timer crossed")
	}
}

func TestBreakerHalfOpenFailureReopensImmediately(t *testing.T) {
	b := ResolvedBreaker{Active: true, FailureThreshold: 5, BreakDuration: time.Minute, FailureStatus: map[int]bool{500: true}}
	state := &execctx.CircuitBreakerState{HalfOpen: true}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	out := RecordResult(b, state, 500, now)
	if !out.Opened {
		t.Error("expected half-open failure to reopen immediately regardless of threshold")
	}
}

func TestBreakerHalfOpenClosesAfterSuccesses(t *testing.T) {
	b := ResolvedBreaker{Active: true, FailureThreshold: 1, BreakDuration: time.Minute, CloseOnSuccessAttempts: 2, FailureStatus: map[int]bool{500: true}}
	state := &execctx.CircuitBreakerState{HalfOpen: true}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	RecordResult(b, state, 200, now)
	if !state.HalfOpen {
		t.Fatal("should still be half-open after 1 of 2 required successes")
	}
	RecordResult(b, state, 200, now)
	if state.HalfOpen {
		t.Error("should be fully closed after reaching CloseOnSuccessAttempts")
	}
}

func TestBreakerSuccessResetsFailureCounter(t *testing.T) {
	b := ResolvedBreaker{Active: true, FailureThreshold: 3, BreakDuration: time.Minute, FailureStatus: map[int]bool{500: true}}
	state := &execctx.CircuitBreakerState{}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	RecordResult(b, state, 500, now)
	RecordResult(b, state, 200, now)
	if state.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want reset to 0 after success", state.ConsecutiveFailures)
	}
}
