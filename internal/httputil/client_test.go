package httputil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// ServiceClient Tests
// =============================================================================

func TestNewServiceClient(t *testing.T) {
	client := NewServiceClient(ServiceClientConfig{
		BaseURL:    "http://localhost:8080/",
		Timeout:    10 * time.Second,
		MaxRetries: 3,
	})

	if client == nil {
		t.Fatal("NewServiceClient() returned nil")
	}
	if client.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %s, want http://localhost:8080", client.baseURL)
	}
	if client.policy.MaxAttempts != 4 {
		t.Errorf("MaxAttempts = %d, want 4", client.policy.MaxAttempts)
	}
	if client.limiter != nil {
		t.Error("limiter should be nil without a rate limit")
	}
}

func TestNewServiceClient_Defaults(t *testing.T) {
	client := NewServiceClient(ServiceClientConfig{BaseURL: "http://localhost:8080"})

	if client.policy.MaxAttempts != 3 {
		t.Errorf("default MaxAttempts = %d, want 3", client.policy.MaxAttempts)
	}
	if client.httpClient.Timeout != 30*time.Second {
		t.Errorf("default timeout = %v, want 30s", client.httpClient.Timeout)
	}
}

func TestServiceClient_Headers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get(APIKeyHeader); got != "secret" {
			t.Errorf("%s = %q, want secret", APIKeyHeader, got)
		}
		if got := r.Header.Get(UserIDHeader); got != "user-1" {
			t.Errorf("%s = %q, want user-1", UserIDHeader, got)
		}
		if r.Method != http.MethodPost {
			t.Errorf("Method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %s, want application/json", ct)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": body["name"]})
	}))
	defer server.Close()

	client := NewServiceClient(ServiceClientConfig{BaseURL: server.URL, APIKey: "secret"})
	ctx := WithUserID(context.Background(), "user-1")

	resp, err := client.Post(ctx, "/things", map[string]string{"name": "candle"})
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	var out map[string]string
	if err := DecodeResponse(resp, &out); err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if out["echo"] != "candle" {
		t.Errorf("echo = %q, want candle", out["echo"])
	}
}

func TestServiceClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var retried int32
	client := NewServiceClient(ServiceClientConfig{
		BaseURL:    server.URL,
		MaxRetries: 3,
		Backoff:    time.Millisecond,
		MaxBackoff: 2 * time.Millisecond,
		OnRetry:    func(int, time.Duration, error) { atomic.AddInt32(&retried, 1) },
	})

	resp, err := client.Get(context.Background(), "/flaky")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
	if got := atomic.LoadInt32(&retried); got != 2 {
		t.Errorf("retries = %d, want 2", got)
	}
}

func TestServiceClient_GivesUpWithStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewServiceClient(ServiceClientConfig{BaseURL: server.URL, MaxRetries: 1, Backoff: time.Millisecond})
	_, err := client.Get(context.Background(), "/down")
	if err == nil {
		t.Fatal("expected error")
	}
	if StatusCode(err) != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", StatusCode(err))
	}
}

func TestServiceClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte("insufficient funds"))
	}))
	defer server.Close()

	client := NewServiceClient(ServiceClientConfig{BaseURL: server.URL, MaxRetries: 3, Backoff: time.Millisecond})
	resp, err := client.Get(context.Background(), "/pay")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	err = DecodeResponse(resp, nil)
	if StatusCode(err) != http.StatusPaymentRequired {
		t.Fatalf("StatusCode = %d, want 402", StatusCode(err))
	}
	if !strings.Contains(err.Error(), "insufficient funds") {
		t.Errorf("error = %v, want body in message", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestReadAllWithLimit(t *testing.T) {
	body, truncated, err := ReadAllWithLimit(strings.NewReader("abcdef"), 4)
	if err != nil {
		t.Fatalf("ReadAllWithLimit() error = %v", err)
	}
	if string(body) != "abcd" || !truncated {
		t.Errorf("got %q truncated=%v, want abcd truncated=true", body, truncated)
	}

	if _, err := ReadAllStrict(strings.NewReader("abcdef"), 4); err == nil {
		t.Error("ReadAllStrict() should reject oversized body")
	}
	body, err = ReadAllStrict(strings.NewReader("abc"), 4)
	if err != nil || string(body) != "abc" {
		t.Errorf("ReadAllStrict() = %q, %v", body, err)
	}
}
