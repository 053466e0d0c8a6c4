// Package invoker provides the synchronous EndpointInvoker capability: one
// HTTP round trip per call, returning the shape the rest of the engine
// consumes (status, body, headers, parsed JSON if any).
package invoker

import (
	"context"
	"encoding/json"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/flowsmith/flowctl/internal/execctx"
)

// maxResponseBody caps how much of a response body is read into memory,
// mirroring the same defensive limit the corpus applies to HTTP variable
// resolution.
const maxResponseBody = 10 << 20 // 10MB

// Request is one endpoint invocation, already template-resolved.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Query   map[string]string
	Body    string
}

// Invoker is the EndpointInvoker capability: a synchronous request/response
// round trip.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*execctx.ResponseContext, error)
}

// HTTPInvoker is the production Invoker. It uses go-retryablehttp purely
// for its pooled, sane-default transport (cleanhttp-backed) — connection
// level retry is disabled (RetryMax: 0) because stage-level retry and
// circuit-breaker logic is the engine's own state machine, not something a
// transport-level retry loop should duplicate.
type HTTPInvoker struct {
	client *retryablehttp.Client
}

// NewHTTPInvoker builds an HTTPInvoker with the given per-call timeout.
func NewHTTPInvoker(timeout time.Duration) *HTTPInvoker {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.Logger = nil
	client.HTTPClient.Timeout = timeout
	return &HTTPInvoker{client: client}
}

// Invoke performs one HTTP round trip.
func (h *HTTPInvoker) Invoke(ctx context.Context, req Request) (*execctx.ResponseContext, error) {
	fullURL := req.URL
	if len(req.Query) > 0 {
		u, err := url.Parse(req.URL)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		for k, v := range req.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		fullURL = u.String()
	}

	var bodyReader io.Reader
	if req.Body != "" {
		bodyReader = strings.NewReader(req.Body)
	}

	rr, err := retryablehttp.NewRequestWithContext(ctx, strings.ToUpper(req.Method), fullURL, bodyReader)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		rr.Header.Set(k, v)
	}

	resp, err := h.client.Do(rr)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, err
	}
	body := string(raw)

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	var parsed any
	if json.Unmarshal(raw, &parsed) != nil {
		parsed = nil
	}

	return &execctx.ResponseContext{
		StatusCode:  resp.StatusCode,
		Body:        body,
		Headers:     headers,
		ParsedJSON:  parsed,
		RequestURI:  fullURL,
		Method:      strings.ToUpper(req.Method),
		RequestBody: req.Body,
	}, nil
}
