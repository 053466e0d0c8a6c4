package invoker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flowsmith/flowctl/internal/execctx"
)

func statusResponse(code int) *execctx.ResponseContext {
	return &execctx.ResponseContext{StatusCode: code}
}

func TestHTTPInvokerRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "2" {
			t.Errorf("query param page = %q, want 2", r.URL.Query().Get("page"))
		}
		if r.Header.Get("X-Token") != "secret" {
			t.Errorf("header X-Token = %q, want secret", r.Header.Get("X-Token"))
		}
		w.Header().Set("X-Reply", "yes")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"abc"}`))
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(5 * time.Second)
	resp, err := inv.Invoke(context.Background(), Request{
		Method:  "POST",
		URL:     srv.URL + "/things",
		Headers: map[string]string{"X-Token": "secret"},
		Query:   map[string]string{"page": "2"},
		Body:    `{"name":"x"}`,
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want 201", resp.StatusCode)
	}
	if resp.Body != `{"id":"abc"}` {
		t.Errorf("body = %q", resp.Body)
	}
	if resp.Headers["X-Reply"] != "yes" {
		t.Errorf("header X-Reply = %q, want yes", resp.Headers["X-Reply"])
	}
	m, ok := resp.ParsedJSON.(map[string]any)
	if !ok || m["id"] != "abc" {
		t.Errorf("parsed JSON = %v", resp.ParsedJSON)
	}
}

func TestFakeInvokerScriptsCallsInOrder(t *testing.T) {
	fake := &FakeInvoker{
		Script: []FakeResponse{
			{Response: statusResponse(500)},
			{Response: statusResponse(500)},
			{Response: statusResponse(200)},
		},
	}
	for i := 0; i < 3; i++ {
		resp, err := fake.Invoke(context.Background(), Request{Method: "GET", URL: "http://x"})
		if err != nil {
			t.Fatalf("Invoke: %v", err)
		}
		want := []int{500, 500, 200}[i]
		if resp.StatusCode != want {
			t.Errorf("call %d: status = %d, want %d", i, resp.StatusCode, want)
		}
	}
	if len(fake.Calls) != 3 {
		t.Errorf("recorded %d calls, want 3", len(fake.Calls))
	}
}
