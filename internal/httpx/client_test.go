package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
)

func TestDoJSONRetriesServerError(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&count, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"x"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := New(2*time.Second, 1)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	var out map[string]any
	if _, err := client.DoJSON(context.Background(), req, &out); err != nil {
		t.Fatalf("DoJSON failed: %v", err)
	}
	if out["ok"] != true {
		t.Fatalf("unexpected response: %#v", out)
	}
}

func TestDoJSONExposesStatusAndDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Not found."}`))
	}))
	defer srv.Close()

	client := New(2*time.Second, 2)
	_, err := DoBodyJSON(context.Background(), client, http.MethodPost, srv.URL, []byte(`{}`), nil, nil)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if got := StatusOf(err); got != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", got)
	}
	if !strings.Contains(err.Error(), "Not found.") {
		t.Fatalf("expected detail in error, got %v", err)
	}
}

func TestDoJSONDoesNotRetryAuthFailure(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := New(2*time.Second, 3)
	_, err := DoBodyJSON(context.Background(), client, http.MethodGet, srv.URL, nil, nil, nil)
	typed, ok := clierr.As(err)
	if !ok || typed.Code != clierr.CodeAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
	if atomic.LoadInt32(&count) != 1 {
		t.Fatalf("expected a single attempt, got %d", count)
	}
}

func TestErrorDetailShapes(t *testing.T) {
	cases := map[string]string{
		`{"detail":"nope"}`:              "nope",
		`{"error":"bad vault"}`:          "bad vault",
		`{"non_field_errors":["x","y"]}`: "x",
		`plain text failure`:             "plain text failure",
		`{"unrelated":true}`:             "",
	}
	for body, want := range cases {
		if got := ErrorDetail([]byte(body)); got != want {
			t.Fatalf("ErrorDetail(%s) = %q, want %q", body, got, want)
		}
	}
}

func TestWithRetriesDisablesRetryOnCopy(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	base := New(2*time.Second, 2)
	once := base.WithRetries(0)
	if _, err := DoBodyJSON(context.Background(), once, http.MethodPost, srv.URL, []byte(`{}`), nil, nil); clierr.CodeOf(err) != clierr.CodeUnavailable {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Fatalf("expected a single request, got %d", got)
	}
	if base.retries != 2 {
		t.Fatalf("copy must not change the original retry count, got %d", base.retries)
	}
}
