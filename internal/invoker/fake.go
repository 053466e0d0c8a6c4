package invoker

import (
	"context"

	"github.com/flowsmith/flowctl/internal/execctx"
)

// FakeResponse is one scripted response or error a FakeInvoker returns.
type FakeResponse struct {
	Response *execctx.ResponseContext
	Err      error
}

// FakeInvoker replays a scripted sequence of responses/errors, one per
// call, holding the last entry for any calls beyond the script's length.
// It is the seam the engine's own tests (retry, breaker, happy-path
// scenarios) invoke against instead of real HTTP.
type FakeInvoker struct {
	Script []FakeResponse
	Calls  []Request

	next int
}

func (f *FakeInvoker) Invoke(_ context.Context, req Request) (*execctx.ResponseContext, error) {
	f.Calls = append(f.Calls, req)
	if len(f.Script) == 0 {
		return &execctx.ResponseContext{StatusCode: 200, Body: "{}", ParsedJSON: map[string]any{}}, nil
	}
	idx := f.next
	if idx >= len(f.Script) {
		idx = len(f.Script) - 1
	} else {
		f.next++
	}
	entry := f.Script[idx]
	return entry.Response, entry.Err
}
