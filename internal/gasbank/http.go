package gasbank

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	core "github.com/R3E-Network/tribute_layer/internal/app/core/service"
	"github.com/R3E-Network/tribute_layer/internal/httputil"
	"github.com/R3E-Network/tribute_layer/internal/ledger"
)

// HTTPWallets reads wallets and holds fee reservations through the platform's
// wallet API. Balances live with that service, so any number of processes
// can share them.
type HTTPWallets struct {
	api *httputil.ServiceClient
}

// NewHTTPWallets creates a wallet API client for baseURL.
func NewHTTPWallets(baseURL, apiKey string, timeout time.Duration) *HTTPWallets {
	return &HTTPWallets{api: httputil.NewServiceClient(httputil.ServiceClientConfig{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Timeout: timeout,
	})}
}

// Wallet fetches /v1/wallets/{user}.
func (w *HTTPWallets) Wallet(ctx context.Context, userID string) (Wallet, error) {
	resp, err := w.api.Get(ctx, walletPath(userID))
	if err != nil {
		return Wallet{}, fmt.Errorf("wallet %s: %w", userID, err)
	}
	body, err := httputil.ReadBody(resp)
	if err != nil {
		if httputil.StatusCode(err) == http.StatusNotFound {
			return Wallet{}, core.NewNotFoundError("wallet", userID)
		}
		return Wallet{}, fmt.Errorf("wallet %s: %w", userID, err)
	}

	doc := unwrap(body)
	wallet := Wallet{
		UserID:    userID,
		Address:   doc.Get("address").String(),
		Spendable: doc.Get("spendable").Int(),
	}
	if !doc.Get("spendable").Exists() {
		wallet.Spendable = doc.Get("balance").Int() - doc.Get("reserved").Int()
	}
	if wallet.Address == "" {
		return Wallet{}, fmt.Errorf("wallet %s: response carries no address", userID)
	}
	return wallet, nil
}

// Reserve holds amount against the user's balance. referenceID doubles as
// the idempotency key, so a retried request never holds the fee twice.
func (w *HTTPWallets) Reserve(ctx context.Context, userID, referenceID string, amount int64) (string, error) {
	if amount < 0 {
		return "", core.NewValidationError("amount", "must not be negative")
	}
	resp, err := w.api.Post(ctx, walletPath(userID)+"/reservations", map[string]interface{}{
		"reference_id": referenceID,
		"amount":       amount,
	})
	if err != nil {
		return "", fmt.Errorf("reserve fee: %w", err)
	}
	body, err := httputil.ReadBody(resp)
	if err != nil {
		switch httputil.StatusCode(err) {
		case http.StatusPaymentRequired:
			return "", fmt.Errorf("%w: %v", ledger.ErrInsufficientBalance, err)
		case http.StatusNotFound:
			return "", core.NewNotFoundError("wallet", userID)
		}
		return "", fmt.Errorf("reserve fee: %w", err)
	}
	id := unwrap(body).Get("id").String()
	if id == "" {
		return "", fmt.Errorf("reserve fee: response carries no reservation id")
	}
	return id, nil
}

// Consume charges a reservation.
func (w *HTTPWallets) Consume(ctx context.Context, userID, reservationID string) error {
	err := w.settle(ctx, userID, reservationID, "consume")
	if httputil.StatusCode(err) == http.StatusNotFound {
		return core.NewNotFoundError("reservation", reservationID)
	}
	return err
}

// Release returns a reservation. Unknown reservations count as released.
func (w *HTTPWallets) Release(ctx context.Context, userID, reservationID string) error {
	err := w.settle(ctx, userID, reservationID, "release")
	if httputil.StatusCode(err) == http.StatusNotFound {
		return nil
	}
	return err
}

func (w *HTTPWallets) settle(ctx context.Context, userID, reservationID, action string) error {
	path := fmt.Sprintf("%s/reservations/%s/%s", walletPath(userID), url.PathEscape(reservationID), action)
	resp, err := w.api.Post(ctx, path, nil)
	if err != nil {
		return fmt.Errorf("%s reservation %s: %w", action, reservationID, err)
	}
	if _, err := httputil.ReadBody(resp); err != nil {
		return fmt.Errorf("%s reservation %s: %w", action, reservationID, err)
	}
	return nil
}

func walletPath(userID string) string {
	return "/v1/wallets/" + url.PathEscape(userID)
}

func unwrap(body []byte) gjson.Result {
	doc := gjson.ParseBytes(body)
	if data := doc.Get("data"); data.IsObject() {
		return data
	}
	return doc
}
