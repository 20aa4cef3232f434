package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/tribute_layer/internal/httputil"
)

// HTTPConfig configures HTTPClient.
type HTTPConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
	RateLimit  float64
	Burst      int
	// MinConfirmations counts a transaction final when the gateway reports
	// at least this many confirmations.
	MinConfirmations int64
	// PermanentRefPrefix is prepended to a transaction reference.
	PermanentRefPrefix string

	OnRetry func(attempt int, wait time.Duration, err error)
}

// HTTPClient is a Client for a JSON gateway in front of the network.
type HTTPClient struct {
	api              *httputil.ServiceClient
	minConfirmations int64
	refPrefix        string
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a gateway client.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("ledger base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("ledger base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	minConf := cfg.MinConfirmations
	if minConf <= 0 {
		minConf = 1
	}
	prefix := cfg.PermanentRefPrefix
	if prefix == "" {
		prefix = "ar://"
	}

	return &HTTPClient{
		api: httputil.NewServiceClient(httputil.ServiceClientConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Timeout:    timeout,
			MaxRetries: cfg.MaxRetries,
			Backoff:    cfg.Backoff,
			MaxBackoff: cfg.MaxBackoff,
			RateLimit:  cfg.RateLimit,
			Burst:      cfg.Burst,
			OnRetry:    cfg.OnRetry,
		}),
		minConfirmations: minConf,
		refPrefix:        prefix,
	}, nil
}

// Submit posts the payload and returns the gateway's transaction reference.
func (c *HTTPClient) Submit(ctx context.Context, sub Submission) (string, error) {
	resp, err := c.api.Post(ctx, "/v1/transactions", sub)
	if err != nil {
		return "", &SubmissionError{StatusCode: httputil.StatusCode(err), Reason: "gateway unreachable", Err: err}
	}
	body, err := httputil.ReadBody(resp)
	if err != nil {
		var se *httputil.StatusError
		if errors.As(err, &se) {
			if se.StatusCode == http.StatusPaymentRequired {
				return "", fmt.Errorf("%w: %s", ErrInsufficientBalance, gatewayMessage(se.Message))
			}
			return "", &SubmissionError{StatusCode: se.StatusCode, Reason: gatewayMessage(se.Message)}
		}
		return "", &SubmissionError{Reason: "read response", Err: err}
	}

	parsed := gjson.ParseBytes(body)
	if code := parsed.Get("error.code").String(); code == "insufficient_balance" || code == "INSUFFICIENT_FUNDS" {
		return "", fmt.Errorf("%w: %s", ErrInsufficientBalance, parsed.Get("error.message").String())
	}
	ref := firstString(parsed, "tx_ref", "data.tx_ref", "txid", "id")
	if ref == "" {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Reason: "response carried no transaction reference"}
	}
	return ref, nil
}

// Finality reports whether txRef is final on the network.
func (c *HTTPClient) Finality(ctx context.Context, txRef string) (bool, error) {
	if strings.TrimSpace(txRef) == "" {
		return false, fmt.Errorf("finality: empty transaction reference")
	}
	resp, err := c.api.Get(ctx, "/v1/transactions/"+url.PathEscape(txRef))
	if err != nil {
		return false, fmt.Errorf("finality %s: %w", txRef, err)
	}
	body, err := httputil.ReadBody(resp)
	if err != nil {
		if httputil.StatusCode(err) == http.StatusNotFound {
			// Not yet indexed by the gateway.
			return false, nil
		}
		return false, fmt.Errorf("finality %s: %w", txRef, err)
	}

	parsed := gjson.ParseBytes(body)
	if final := parsed.Get("final"); final.Exists() {
		return final.Bool(), nil
	}
	switch strings.ToLower(firstString(parsed, "status", "data.status")) {
	case "final", "finalized", "confirmed":
		return true, nil
	case "failed", "rejected", "dropped":
		return false, fmt.Errorf("finality %s: network reports %s", txRef, parsed.Get("status").String())
	}
	for _, path := range []string{"confirmations", "data.confirmations"} {
		if conf := parsed.Get(path); conf.Exists() {
			return conf.Int() >= c.minConfirmations, nil
		}
	}
	return false, nil
}

// PermanentRef returns prefix + txRef.
func (c *HTTPClient) PermanentRef(txRef string) string {
	return c.refPrefix + txRef
}

func firstString(parsed gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := strings.TrimSpace(parsed.Get(p).String()); v != "" {
			return v
		}
	}
	return ""
}

func gatewayMessage(body string) string {
	if gjson.Valid(body) {
		if msg := firstString(gjson.Parse(body), "error.message", "message", "error"); msg != "" {
			return msg
		}
	}
	return body
}
