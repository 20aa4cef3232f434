// Package httputil provides HTTP client utilities for service-to-service communication.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/R3E-Network/tribute_layer/internal/retry"
)

const (
	// APIKeyHeader carries the shared secret for upstream services.
	APIKeyHeader = "X-API-Key"
	// UserIDHeader carries the end user the call is made on behalf of.
	UserIDHeader = "X-User-ID"
)

type userIDKey struct{}

// WithUserID attaches the acting user to ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFrom returns the user set by WithUserID.
func UserIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// =============================================================================
// Service Client
// =============================================================================

// ServiceClient is an HTTP client for service-to-service calls. It attaches
// the API key and user id headers, rate limits outgoing requests and retries
// transport failures and 5xx/429 responses.
type ServiceClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	policy     retry.Policy
	limiter    *rate.Limiter
}

// ServiceClientConfig configures the service client.
type ServiceClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	Burst     int

	// OnRetry observes every retried attempt.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// NewServiceClient creates a new service client.
func NewServiceClient(cfg ServiceClientConfig) *ServiceClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = maxRetries + 1
	if cfg.Backoff > 0 {
		policy.BaseDelay = cfg.Backoff
		policy.Jitter = cfg.Backoff / 2
	}
	if cfg.MaxBackoff > 0 {
		policy.MaxDelay = cfg.MaxBackoff
	}
	policy.OnRetry = cfg.OnRetry

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &ServiceClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		policy:     policy,
		limiter:    limiter,
	}
}

// retryableStatus marks a response worth another attempt.
type retryableStatus struct{ code int }

func (e *retryableStatus) Error() string { return fmt.Sprintf("upstream returned status %d", e.code) }

// Do executes an HTTP request. Responses with status < 500 (other than 429)
// are returned to the caller untouched, including 4xx.
func (c *ServiceClient) Do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var payload []byte
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = jsonBody
	}

	var resp *http.Response
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		r, err := c.once(ctx, method, path, payload)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(err)
			}
			return err
		}
		if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
			drain(r)
			return &retryableStatus{code: r.StatusCode}
		}
		resp = r
		return nil
	})
	if err != nil {
		var rs *retryableStatus
		if errors.As(err, &rs) {
			return nil, &StatusError{StatusCode: rs.code, Message: http.StatusText(rs.code)}
		}
		return nil, err
	}
	return resp, nil
}

func (c *ServiceClient) once(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}
	if userID := UserIDFrom(ctx); userID != "" {
		req.Header.Set(UserIDHeader, userID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// Get performs a GET request.
func (c *ServiceClient) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with JSON body.
func (c *ServiceClient) Post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

// StatusError is returned for responses with status >= 400.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// ReadBody reads a response body of at most 8 MiB and closes it. Status
// codes >= 400 become a *StatusError carrying the (truncated) body.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, truncated, err := ReadAllWithLimit(resp.Body, 64<<10)
		if err != nil {
			return nil, fmt.Errorf("read error response body: %w", err)
		}
		msg := strings.TrimSpace(string(body))
		if truncated {
			msg += "...(truncated)"
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	body, err := ReadAllStrict(resp.Body, 8<<20)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

// DecodeResponse decodes a JSON response into the target struct.
func DecodeResponse(resp *http.Response, target interface{}) error {
	body, err := ReadBody(resp)
	if err != nil {
		return err
	}
	if target == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
