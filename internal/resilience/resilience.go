// Package resilience merges a stage's retry/circuit-breaker policy with the
// workflow's shared named pool and implements the breaker state machine. It
// never performs the HTTP call or the sleep itself — EndpointStageExecutor
// owns the attempt loop and only asks this package whether a given status is
// retryable and what the breaker says about the next attempt.
package resilience

import (
	"time"

	"github.com/flowsmith/flowctl/internal/execctx"
	"github.com/flowsmith/flowctl/internal/workflowdoc"
)

const defaultCloseOnSuccessAttempts = 1

// ResolvedRetry is the stage's effective retry policy after merging with the
// shared pool. Active is false unless maxRetries, delayMs, and a non-empty
// httpStatus set are all present.
type ResolvedRetry struct {
	Active        bool
	MaxRetries    int
	Delay         time.Duration
	HTTPStatus    map[int]bool
	OnException   string
}

// ResolvedBreaker is the stage's effective circuit breaker policy. Active is
// false unless failureThreshold and breakMs are both present; its failure
// status set is always inherited from the sibling retry policy, never its
// own.
type ResolvedBreaker struct {
	Active                 bool
	Key                    string
	FailureThreshold       int
	BreakDuration          time.Duration
	CloseOnSuccessAttempts int
	OnOpen                 string
	OnBlocked              string
	FailureStatus          map[int]bool
}

// ResolveRetry merges stage.Retry over resilience.Retries[ref] (stage fields
// win) and determines activation.
func ResolveRetry(stage *workflowdoc.RetryPolicy, pool map[string]workflowdoc.RetryPolicy) ResolvedRetry {
	if stage == nil {
		return ResolvedRetry{}
	}
	shared := workflowdoc.RetryPolicy{}
	if stage.Ref != "" {
		if p, ok := pool[stage.Ref]; ok {
			shared = p
		}
	}

	maxRetries := shared.MaxRetries
	if stage.MaxRetries != nil {
		maxRetries = stage.MaxRetries
	}
	delayMs := shared.DelayMs
	if stage.DelayMs != nil {
		delayMs = stage.DelayMs
	}
	statuses := stage.HTTPStatus
	if len(statuses) == 0 {
		statuses = shared.HTTPStatus
	}
	onException := ""
	if shared.Messages != nil {
		onException = shared.Messages.OnException
	}
	if stage.Messages != nil && stage.Messages.OnException != "" {
		onException = stage.Messages.OnException
	}

	if maxRetries == nil || delayMs == nil || len(statuses) == 0 {
		return ResolvedRetry{}
	}

	set := make(map[int]bool, len(statuses))
	for _, s := range statuses {
		set[s] = true
	}

	return ResolvedRetry{
		Active:      true,
		MaxRetries:  *maxRetries,
		Delay:       time.Duration(*delayMs) * time.Millisecond,
		HTTPStatus:  set,
		OnException: onException,
	}
}

// ResolveBreaker merges stage.CircuitBreaker over
// resilience.CircuitBreakers[ref] (stage fields win), inheriting its failure
// status set from retry (never from its own config). stageName is the
// fallback key when ref is unset.
func ResolveBreaker(stage *workflowdoc.CircuitBreakerPolicy, pool map[string]workflowdoc.CircuitBreakerPolicy, retry ResolvedRetry, stageName string) ResolvedBreaker {
	if stage == nil {
		return ResolvedBreaker{}
	}
	shared := workflowdoc.CircuitBreakerPolicy{}
	if stage.Ref != "" {
		if p, ok := pool[stage.Ref]; ok {
			shared = p
		}
	}

	threshold := shared.FailureThreshold
	if stage.FailureThreshold != nil {
		threshold = stage.FailureThreshold
	}
	breakMs := shared.BreakMs
	if stage.BreakMs != nil {
		breakMs = stage.BreakMs
	}
	closeOnSuccess := shared.CloseOnSuccessAttempts
	if stage.CloseOnSuccessAttempts != nil {
		closeOnSuccess = stage.CloseOnSuccessAttempts
	}
	closeOnSuccessAttempts := defaultCloseOnSuccessAttempts
	if closeOnSuccess != nil {
		closeOnSuccessAttempts = *closeOnSuccess
	}

	onOpen, onBlocked := "", ""
	if shared.Messages != nil {
		onOpen = shared.Messages.OnOpen
		onBlocked = shared.Messages.OnBlocked
	}
	if stage.Messages != nil {
		if stage.Messages.OnOpen != "" {
			onOpen = stage.Messages.OnOpen
		}
		if stage.Messages.OnBlocked != "" {
			onBlocked = stage.Messages.OnBlocked
		}
	}

	if threshold == nil || breakMs == nil {
		return ResolvedBreaker{}
	}

	key := stageName
	if stage.Ref != "" {
		key = stage.Ref
	}

	// Per the spec's deliberate retry+breaker coupling: the breaker's
	// failure-status set is the sibling retry policy's set, not its own. A
	// breaker without an active retry is therefore inert.
	var failureStatus map[int]bool
	if retry.Active {
		failureStatus = retry.HTTPStatus
	}

	return ResolvedBreaker{
		Active:                 retry.Active,
		Key:                    key,
		FailureThreshold:       *threshold,
		BreakDuration:          time.Duration(*breakMs) * time.Millisecond,
		CloseOnSuccessAttempts: closeOnSuccessAttempts,
		OnOpen:                 onOpen,
		OnBlocked:              onBlocked,
		FailureStatus:          failureStatus,
	}
}

// Decision is what the breaker tells the caller before an attempt.
type Decision struct {
	Blocked bool
	Message string
}

// CheckBeforeAttempt flips Open→HalfOpen once openUntil has passed, and
// reports whether the caller should be blocked (Open, not yet past
// openUntil).
func CheckBeforeAttempt(b ResolvedBreaker, state *execctx.CircuitBreakerState, now time.Time) Decision {
	if !b.Active || state == nil {
		return Decision{}
	}
	if state.OpenUntil != nil && now.Before(*state.OpenUntil) {
		return Decision{Blocked: true, Message: b.OnBlocked}
	}
	if state.OpenUntil != nil && !now.Before(*state.OpenUntil) {
		state.OpenUntil = nil
		state.HalfOpen = true
		state.ConsecutiveFailures = 0
		state.ConsecutiveSuccesses = 0
	}
	return Decision{}
}

// Outcome is what the breaker emitted after observing a stage's final
// status.
type Outcome struct {
	Opened  bool
	Message string
}

// RecordResult updates breaker state after a stage attempt's final status is
// known, per the spec's state machine: half-open failures reopen
// immediately; closed-state failures open only at the threshold; half-open
// successes close after CloseOnSuccessAttempts; closed-state successes just
// reset the failure counter.
func RecordResult(b ResolvedBreaker, state *execctx.CircuitBreakerState, status int, now time.Time) Outcome {
	if !b.Active || state == nil {
		return Outcome{}
	}
	failed := b.FailureStatus != nil && b.FailureStatus[status]

	if failed {
		if state.HalfOpen {
			return open(b, state, now)
		}
		state.ConsecutiveFailures++
		if state.ConsecutiveFailures >= b.FailureThreshold {
			return open(b, state, now)
		}
		return Outcome{}
	}

	if state.HalfOpen {
		state.ConsecutiveSuccesses++
		if state.ConsecutiveSuccesses >= b.CloseOnSuccessAttempts {
			state.HalfOpen = false
			state.ConsecutiveFailures = 0
			state.ConsecutiveSuccesses = 0
		}
		return Outcome{}
	}
	state.ConsecutiveFailures = 0
	return Outcome{}
}

func open(b ResolvedBreaker, state *execctx.CircuitBreakerState, now time.Time) Outcome {
	until := now.Add(b.BreakDuration)
	state.OpenUntil = &until
	state.HalfOpen = false
	state.ConsecutiveFailures = 0
	state.ConsecutiveSuccesses = 0
	return Outcome{Opened: true, Message: b.OnOpen}
}
