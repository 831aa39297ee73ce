package crawler

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPClientRetriesTransientStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewHTTPClient(HTTPClientConfig{
		MaxRetries:     3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
		UserAgent:      "test-agent",
	})
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := hits.Load(); got != 3 {
		t.Fatalf("server hit %d times, want 3", got)
	}
}

func TestHTTPClientDoesNotRetryPost(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewHTTPClient(HTTPClientConfig{
		MaxRetries:     3,
		BackoffInitial: time.Millisecond,
	})
	resp, err := client.Post(srv.URL, "application/json", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if got := hits.Load(); got != 1 {
		t.Fatalf("POST retried: server hit %d times, want 1", got)
	}
}

func TestHTTPClientStampsUserAgent(t *testing.T) {
	var seen atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	client := NewHTTPClient(HTTPClientConfig{UserAgent: "insurdocs-test/1.0"})
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = resp.Body.Close()
	if got := seen.Load(); got != "insurdocs-test/1.0" {
		t.Fatalf("user agent = %v", got)
	}
}

func TestHTTPClientAlwaysBounded(t *testing.T) {
	client := NewHTTPClient(HTTPClientConfig{})
	if client.Timeout <= 0 {
		t.Fatal("client must carry a total timeout even with an empty config")
	}

	client = NewHTTPClient(HTTPClientConfig{TotalTimeout: 30 * time.Second})
	if client.Timeout != 30*time.Second {
		t.Fatalf("timeout = %v, want 30s", client.Timeout)
	}
}
