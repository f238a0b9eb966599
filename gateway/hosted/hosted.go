/*
hosted.go - HTTP client for a hosted-checkout payment gateway

PURPOSE:
  Implements savings.PaymentGateway against a gateway that exposes the
  common hosted-checkout pair of endpoints:

      POST /transaction/initialize   -> authorization URL + reference
      GET  /transaction/verify/:ref  -> transaction status + amount

  Authentication is a Bearer secret key on every request.

OUTCOME MAPPING:
  Network failures, non-2xx responses and undecodable bodies are returned
  as errors: the caller cannot know whether the payment happened. A 2xx
  verify response with status "failed" or "abandoned" is NOT an error, it
  is a definitive Success=false result.

SEE ALSO:
  - savings/gateway.go: The contract this file implements
*/
package hosted

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hearth/savings-engine/savings"
)

// DefaultTimeout bounds a single gateway round trip.
const DefaultTimeout = 30 * time.Second

// Gateway talks to the hosted checkout API over HTTPS.
type Gateway struct {
	BaseURL   string
	SecretKey string
	Client    *http.Client
}

// New builds a Gateway with a dedicated HTTP client. timeout <= 0 falls
// back to DefaultTimeout.
func New(baseURL, secretKey string, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{
		BaseURL:   baseURL,
		SecretKey: secretKey,
		Client:    &http.Client{Timeout: timeout},
	}
}

var _ savings.PaymentGateway = (*Gateway)(nil)

// ============================================================================
// WIRE TYPES
// ============================================================================

type initializeRequest struct {
	Amount    int64             `json:"amount"`
	Email     string            `json:"email"`
	Reference string            `json:"reference"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type initializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

type verifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Status string `json:"status"`
		Amount int64  `json:"amount"`
	} `json:"data"`
}

// ============================================================================
// OPERATIONS
// ============================================================================

// Initialize opens a hosted checkout session for a deposit.
func (g *Gateway) Initialize(ctx context.Context, init savings.PaymentInit) (*savings.PaymentSession, error) {
	payload, err := json.Marshal(initializeRequest{
		Amount:    init.AmountMinor,
		Email:     init.PayerEmail,
		Reference: init.Reference,
		Metadata:  init.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode initialize request: %w", err)
	}

	body, err := g.post(ctx, "/transaction/initialize", payload)
	if err != nil {
		return nil, err
	}

	var resp initializeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode initialize response: %w", err)
	}
	if !resp.Status {
		return nil, fmt.Errorf("gateway rejected initialization: %s", resp.Message)
	}
	if resp.Data.AuthorizationURL == "" {
		return nil, fmt.Errorf("gateway returned no authorization url")
	}

	reference := resp.Data.Reference
	if reference == "" {
		reference = init.Reference
	}
	return &savings.PaymentSession{
		RedirectURL: resp.Data.AuthorizationURL,
		Reference:   reference,
		Raw:         json.RawMessage(body),
	}, nil
}

// Verify asks the gateway for the definitive state of a reference.
func (g *Gateway) Verify(ctx context.Context, reference string) (*savings.PaymentResult, error) {
	body, err := g.get(ctx, "/transaction/verify/"+url.PathEscape(reference))
	if err != nil {
		return nil, err
	}

	var resp verifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode verify response: %w", err)
	}
	if !resp.Status {
		return nil, fmt.Errorf("gateway could not verify %s: %s", reference, resp.Message)
	}

	return &savings.PaymentResult{
		Success:     resp.Data.Status == "success",
		Status:      resp.Data.Status,
		AmountMinor: resp.Data.Amount,
		Raw:         json.RawMessage(body),
	}, nil
}

// ============================================================================
// TRANSPORT
// ============================================================================

func (g *Gateway) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return g.do(req)
}

func (g *Gateway) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	return g.do(req)
}

func (g *Gateway) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+g.SecretKey)

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
