// Package mercadopago is a narrow HTTP client for the Mercado Pago API.
// Only the calls the reconciliation core needs are exposed, behind an
// interface so the state machine and checkout flow can be tested with a
// substitute implementation.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is the payment-provider surface the rest of the system depends on.
type Client interface {
	// CreatePreference opens a checkout session with the tenant's own
	// credential so storefront money lands directly with the tenant.
	CreatePreference(ctx context.Context, accessToken, idempotencyKey string, req *PreferenceRequest) (*Preference, error)
	CreatePreapproval(ctx context.Context, req *PreapprovalRequest) (*Preapproval, error)
	GetPreapproval(ctx context.Context, id string) (*Preapproval, error)
	CancelPreapproval(ctx context.Context, id string) (*Preapproval, error)
	GetPayment(ctx context.Context, id string) (*Payment, error)
	ChargeStoredCard(ctx context.Context, req *CardChargeRequest) (*Payment, error)
}

// Config holds provider connection settings. The platform token is the
// dashboard credential used for subscription billing; storefront calls take
// a per-tenant token per call.
type Config struct {
	BaseURL       string
	PlatformToken string
	Timeout       time.Duration
}

// HTTPClient implements Client against the real API with bounded timeouts.
type HTTPClient struct {
	config *Config
	http   *http.Client
}

// NewHTTPClient creates a provider client from config.
func NewHTTPClient(config *Config) *HTTPClient {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		config: config,
		http:   &http.Client{Timeout: timeout},
	}
}

// CreatePreference creates a checkout preference on behalf of a tenant.
func (c *HTTPClient) CreatePreference(ctx context.Context, accessToken, idempotencyKey string, req *PreferenceRequest) (*Preference, error) {
	var pref Preference
	if err := c.do(ctx, http.MethodPost, "/checkout/preferences", accessToken, idempotencyKey, req, &pref); err != nil {
		return nil, fmt.Errorf("failed to create preference: %w", err)
	}
	return &pref, nil
}

// CreatePreapproval creates a recurring agreement pending authorization.
func (c *HTTPClient) CreatePreapproval(ctx context.Context, req *PreapprovalRequest) (*Preapproval, error) {
	var pa Preapproval
	if err := c.do(ctx, http.MethodPost, "/preapproval", c.config.PlatformToken, "", req, &pa); err != nil {
		return nil, fmt.Errorf("failed to create preapproval: %w", err)
	}
	return &pa, nil
}

// GetPreapproval fetches the authoritative state of an agreement.
func (c *HTTPClient) GetPreapproval(ctx context.Context, id string) (*Preapproval, error) {
	var pa Preapproval
	if err := c.do(ctx, http.MethodGet, "/preapproval/"+id, c.config.PlatformToken, "", nil, &pa); err != nil {
		return nil, fmt.Errorf("failed to get preapproval %s: %w", id, err)
	}
	return &pa, nil
}

// CancelPreapproval cancels an agreement at the provider.
func (c *HTTPClient) CancelPreapproval(ctx context.Context, id string) (*Preapproval, error) {
	body := map[string]string{"status": PreapprovalCancelled}
	var pa Preapproval
	if err := c.do(ctx, http.MethodPut, "/preapproval/"+id, c.config.PlatformToken, "", body, &pa); err != nil {
		return nil, fmt.Errorf("failed to cancel preapproval %s: %w", id, err)
	}
	return &pa, nil
}

// GetPayment fetches the authoritative state of a payment.
func (c *HTTPClient) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var p Payment
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+id, c.config.PlatformToken, "", nil, &p); err != nil {
		return nil, fmt.Errorf("failed to get payment %s: %w", id, err)
	}
	return &p, nil
}

// ChargeStoredCard charges a stored card off-session.
func (c *HTTPClient) ChargeStoredCard(ctx context.Context, req *CardChargeRequest) (*Payment, error) {
	body := map[string]any{
		"transaction_amount": req.Amount,
		"currency_id":        req.CurrencyID,
		"description":        req.Description,
		"external_reference": req.ExternalReference,
		"payer":              map[string]string{"type": "customer", "id": req.CustomerID},
		"token":              req.CardID,
	}
	var p Payment
	if err := c.do(ctx, http.MethodPost, "/v1/payments", c.config.PlatformToken, req.ExternalReference, body, &p); err != nil {
		return nil, fmt.Errorf("failed to charge stored card: %w", err)
	}
	return &p, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path, token, idempotencyKey string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: apiMessage(raw)}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func apiMessage(raw []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return string(raw)
}
