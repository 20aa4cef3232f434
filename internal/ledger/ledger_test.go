package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/R3E-Network/tribute_layer/internal/app/core/service"
	"github.com/R3E-Network/tribute_layer/internal/clock"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewHTTPClient(HTTPConfig{
		BaseURL:    server.URL,
		APIKey:     "k",
		Timeout:    time.Second,
		MaxRetries: 2,
		Backoff:    time.Millisecond,
		MaxBackoff: 2 * time.Millisecond,
	})
	require.NoError(t, err)
	return client
}

func TestValidateAddress(t *testing.T) {
	valid := address.Uint160ToString(util.Uint160{1, 2, 3, 4})

	got, err := ValidateAddress("  " + valid + " ")
	require.NoError(t, err)
	assert.Equal(t, valid, got)

	_, err = ValidateAddress("")
	assert.True(t, core.IsValidationError(err))

	_, err = ValidateAddress("not-an-address")
	assert.True(t, core.IsValidationError(err))

	// Flip the last character to break the checksum.
	broken := valid[:len(valid)-1] + "A"
	if broken == valid {
		broken = valid[:len(valid)-1] + "B"
	}
	_, err = ValidateAddress(broken)
	assert.Error(t, err)
}

func TestFeeSchedule(t *testing.T) {
	f := FeeSchedule{Base: 10, PerByte: 2}
	assert.Equal(t, int64(10), f.Fee(0))
	assert.Equal(t, int64(210), f.Fee(100))
	assert.Equal(t, int64(10), f.Fee(-5))
}

func TestHTTPClient_Submit(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transactions", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		var sub Submission
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sub))
		assert.Equal(t, "tx-1", sub.TransactionID)
		assert.Equal(t, int64(42), sub.Fee)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"tx_ref":"0xabc"}}`))
	})

	ref, err := client.Submit(context.Background(), Submission{TransactionID: "tx-1", Fee: 42})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", ref)
	assert.Equal(t, "ar://0xabc", client.PermanentRef(ref))
}

func TestHTTPClient_SubmitInsufficientBalance(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"message":"balance 3 < fee 9"}}`))
	})

	_, err := client.Submit(context.Background(), Submission{TransactionID: "tx-1"})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Contains(t, err.Error(), "balance 3 < fee 9")
}

func TestHTTPClient_SubmitRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"payload too large"}`))
	})

	_, err := client.Submit(context.Background(), Submission{TransactionID: "tx-1"})
	var se *SubmissionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnprocessableEntity, se.StatusCode)
	assert.Equal(t, "payload too large", se.Reason)
	assert.False(t, errors.Is(err, ErrInsufficientBalance))
}

func TestHTTPClient_SubmitRetriesThenFails(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Submit(context.Background(), Submission{TransactionID: "tx-1"})
	var se *SubmissionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPClient_SubmitMissingReference(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	_, err := client.Submit(context.Background(), Submission{})
	var se *SubmissionError
	require.ErrorAs(t, err, &se)
}

func TestHTTPClient_Finality(t *testing.T) {
	responses := map[string]struct {
		code int
		body string
	}{
		"/v1/transactions/final":    {http.StatusOK, `{"final":true}`},
		"/v1/transactions/pending":  {http.StatusOK, `{"final":false}`},
		"/v1/transactions/status":   {http.StatusOK, `{"status":"confirmed"}`},
		"/v1/transactions/conf":     {http.StatusOK, `{"confirmations":3}`},
		"/v1/transactions/unknown":  {http.StatusNotFound, `{}`},
		"/v1/transactions/rejected": {http.StatusOK, `{"status":"rejected"}`},
		"/v1/transactions/broken":   {http.StatusBadRequest, `bad`},
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		resp := responses[r.URL.Path]
		w.WriteHeader(resp.code)
		_, _ = w.Write([]byte(resp.body))
	})
	ctx := context.Background()

	for ref, want := range map[string]bool{"final": true, "pending": false, "status": true, "conf": true, "unknown": false} {
		got, err := client.Finality(ctx, ref)
		require.NoError(t, err, ref)
		assert.Equal(t, want, got, ref)
	}

	_, err := client.Finality(ctx, "rejected")
	assert.Error(t, err)
	_, err = client.Finality(ctx, "broken")
	assert.Error(t, err)
	_, err = client.Finality(ctx, "")
	assert.Error(t, err)
}

func TestNewHTTPClient_RequiresBaseURL(t *testing.T) {
	_, err := NewHTTPClient(HTTPConfig{})
	assert.Error(t, err)
}

func TestSimulator(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	sim := NewSimulator(clk, time.Minute)
	ctx := context.Background()

	ref, err := sim.Submit(ctx, Submission{TransactionID: "tx-1"})
	require.NoError(t, err)

	final, err := sim.Finality(ctx, ref)
	require.NoError(t, err)
	assert.False(t, final)

	clk.Advance(time.Minute)
	final, err = sim.Finality(ctx, ref)
	require.NoError(t, err)
	assert.True(t, final)

	boom := errors.New("node down")
	sim.FailFinality(ref, boom)
	_, err = sim.Finality(ctx, ref)
	assert.ErrorIs(t, err, boom)

	sim.OnSubmit(func(s Submission) error {
		if s.TransactionID == "poor" {
			return ErrInsufficientBalance
		}
		return nil
	})
	_, err = sim.Submit(ctx, Submission{TransactionID: "poor"})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	refs, subs := sim.Submissions()
	require.Len(t, refs, 1)
	assert.Equal(t, "tx-1", subs[0].TransactionID)
	assert.Equal(t, "sim://"+ref, sim.PermanentRef(ref))

	_, err = sim.Finality(ctx, "missing")
	assert.Error(t, err)
}

func TestSimulator_ManualFinality(t *testing.T) {
	sim := NewSimulator(nil, -1)
	ref, err := sim.Submit(context.Background(), Submission{})
	require.NoError(t, err)

	final, _ := sim.Finality(context.Background(), ref)
	assert.False(t, final)
	sim.MarkFinal(ref)
	final, _ = sim.Finality(context.Background(), ref)
	assert.True(t, final)
}
