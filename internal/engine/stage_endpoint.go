package engine

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/flowsmith/flowctl/internal/execctx"
	"github.com/flowsmith/flowctl/internal/flowerrors"
	"github.com/flowsmith/flowctl/internal/invoker"
	"github.com/flowsmith/flowctl/internal/mockpayload"
	"github.com/flowsmith/flowctl/internal/resilience"
	"github.com/flowsmith/flowctl/internal/templating"
	"github.com/flowsmith/flowctl/internal/workflowdoc"
)

// runEndpointStage is the EndpointStageExecutor: attempt loop (mock branch,
// retry), breaker update, expected-status check, output binding,
// jump-on-status.
func (inv *invocation) runEndpointStage(ctx context.Context, stage workflowdoc.WorkflowStage) (string, error) {
	ep := stage.Endpoint
	retry := resilience.ResolveRetry(ep.Retry, inv.doc.Definition.Resilience.Retries)
	breaker := resilience.ResolveBreaker(ep.CircuitBreaker, inv.doc.Definition.Resilience.CircuitBreakers, retry, stage.Name)

	var breakerState *execctx.CircuitBreakerState
	if breaker.Active {
		breakerState = inv.ec.BreakerState(breaker.Key)
		now := inv.Clock.UtcNow()
		if decision := resilience.CheckBeforeAttempt(breaker, breakerState, now); decision.Blocked {
			if decision.Message != "" {
				resolved, _ := templating.Resolve(decision.Message, inv.ec.Snapshot(nil, inv.Clock))
				inv.logger.Error("circuit breaker blocked stage", "stage", stage.Name, "message", resolved)
			}
			return "", flowerrors.ErrCircuitOpen(breaker.Key)
		}
	}

	resp, err := inv.attemptEndpoint(ctx, stage, ep, retry)
	if err != nil {
		return "", err
	}

	if breaker.Active {
		now := inv.Clock.UtcNow()
		outcome := resilience.RecordResult(breaker, breakerState, resp.StatusCode, now)
		if outcome.Opened && outcome.Message != "" {
			resolved, _ := templating.Resolve(outcome.Message, inv.ec.Snapshot(resp, inv.Clock))
			inv.logger.Error("circuit breaker opened", "stage", stage.Name, "message", resolved)
		}
	}

	inv.logObservability(stage, resp)

	if ep.ExpectedStatus != nil && *ep.ExpectedStatus != resp.StatusCode {
		return "", flowerrors.ErrStageStatusMismatch(stage.Name, *ep.ExpectedStatus, resp.StatusCode)
	}

	tc := inv.ec.Snapshot(resp, inv.Clock)
	outputs := make(map[string]string, len(ep.Output)+1)
	for k, v := range ep.Output {
		resolved, err := templating.Resolve(v, tc)
		if err != nil {
			return "", err
		}
		outputs[k] = resolved
	}
	outputs["http_status"] = strconv.Itoa(resp.StatusCode)
	inv.ec.EndpointOutputs[stage.Name] = outputs

	if stage.Message != "" {
		resolved, err := templating.Resolve(stage.Message, tc)
		if err == nil {
			inv.logger.Info(resolved, "stage", stage.Name)
		}
	}

	for k, v := range ep.Set {
		resolved, err := templating.Resolve(v, tc)
		if err != nil {
			return "", err
		}
		inv.ec.Globals[k] = resolved
	}
	for k, v := range ep.Context {
		resolved, err := templating.Resolve(v, tc)
		if err != nil {
			return "", err
		}
		inv.ec.Context[k] = resolved
	}

	target, ok := ep.JumpOnStatus[resp.StatusCode]
	if !ok {
		return "", nil
	}
	if target == stage.Name {
		if inv.mocked {
			return "", flowerrors.ErrMockedSelfJump(stage.Name)
		}
		if inv.confirmSelfJump == nil || !inv.confirmSelfJump(stage.Name) {
			inv.logger.Info("self-jump declined, continuing sequentially", "stage", stage.Name)
			return "", nil
		}
	}
	return target, nil
}

// attemptEndpoint runs the mock-or-invoke attempt loop, retrying on a
// retryable status or exception up to retry.MaxRetries additional times.
func (inv *invocation) attemptEndpoint(ctx context.Context, stage workflowdoc.WorkflowStage, ep *workflowdoc.EndpointStage, retry resilience.ResolvedRetry) (*execctx.ResponseContext, error) {
	maxAttempts := 1
	if retry.Active {
		maxAttempts = retry.MaxRetries + 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := inv.invokeOnce(ctx, stage, ep)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, flowerrors.ErrCancelled(ctxErr)
			}
			lastErr = err
			if retry.Active && attempt < maxAttempts {
				inv.logRetry(stage.Name, retry.Delay, attempt, maxAttempts, retry.OnException, err)
				if err := sleepCtx(ctx, retry.Delay); err != nil {
					return nil, flowerrors.ErrCancelled(err)
				}
				continue
			}
			return nil, flowerrors.Wrap(fmt.Errorf("stage %q failed with exception: %w", stage.Name, err), "endpoint invocation failed")
		}

		if retry.Active && retry.HTTPStatus[resp.StatusCode] && attempt < maxAttempts {
			inv.logRetry(stage.Name, retry.Delay, attempt, maxAttempts, "", nil)
			if err := sleepCtx(ctx, retry.Delay); err != nil {
				return nil, flowerrors.ErrCancelled(err)
			}
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

func (inv *invocation) invokeOnce(ctx context.Context, stage workflowdoc.WorkflowStage, ep *workflowdoc.EndpointStage) (*execctx.ResponseContext, error) {
	tc := inv.ec.Snapshot(nil, inv.Clock)

	if inv.mocked && ep.Mock != nil {
		return mockpayload.Build(stage.Name, ep.Mock, ep.ExpectedStatus, inv.workflowDir, tc)
	}

	base, ok := inv.apiBaseURLs[ep.APIRef]
	if !ok {
		return nil, flowerrors.ErrAPIReferenceUnknown(ep.APIRef)
	}
	path, err := templating.Resolve(ep.Endpoint, tc)
	if err != nil {
		return nil, err
	}
	path = resolvePathPlaceholders(path, tc)

	headers := make(map[string]string, len(ep.Headers))
	for k, v := range ep.Headers {
		resolved, err := templating.Resolve(v, tc)
		if err != nil {
			return nil, err
		}
		headers[k] = resolved
	}
	query := make(map[string]string, len(ep.Query))
	for k, v := range ep.Query {
		resolved, err := templating.Resolve(v, tc)
		if err != nil {
			return nil, err
		}
		query[k] = resolved
	}
	var body string
	if ep.Body != "" {
		body, err = templating.Resolve(ep.Body, tc)
		if err != nil {
			return nil, err
		}
	}

	full, err := url.JoinPath(base, path)
	if err != nil {
		full = base + path
	}

	return inv.Invoker.Invoke(ctx, invoker.Request{
		Method:  ep.HTTPVerb,
		URL:     full,
		Headers: headers,
		Query:   query,
		Body:    body,
	})
}

func (inv *invocation) logRetry(stageName string, delay time.Duration, attempt, maxAttempts int, onException string, cause error) {
	if onException != "" && cause != nil {
		resolved, _ := templating.Resolve(onException, inv.ec.Snapshot(nil, inv.Clock))
		inv.logger.Error(resolved, "stage", stageName, "cause", cause.Error())
	}
	inv.logger.Info(fmt.Sprintf("retrying in %dms (retry %d/%d)", delay.Milliseconds(), attempt, maxAttempts-1),
		"stage", stageName)
}

// logObservability emits the spec-mandated 400/404 diagnostics.
func (inv *invocation) logObservability(stage workflowdoc.WorkflowStage, resp *execctx.ResponseContext) {
	switch resp.StatusCode {
	case 400:
		inv.logger.Error("400 response", "stage", stage.Name, "body", resp.Body)
		if inv.verbose {
			inv.logger.Error("400 request body", "stage", stage.Name, "requestBody", resp.RequestBody)
		}
	case 404:
		inv.logger.Error("404 response", "stage", stage.Name, "url", resp.RequestURI)
	}
}
