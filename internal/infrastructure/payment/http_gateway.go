// Package payment provides payment gateway adapters for claim settlement.
package payment

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

	"github.com/claimflow/backend/internal/domain/settlement"
	"github.com/claimflow/backend/internal/infrastructure/config"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	chargePath = "/v1/charges"
	// maxErrorBody bounds how much of an error response is kept
	maxErrorBody = 4096
)

var _ settlement.PaymentGateway = (*HTTPGateway)(nil)

// HTTPGateway implements PaymentGateway against a JSON payment provider API
type HTTPGateway struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	validate   *validator.Validate
	logger     *zap.Logger
}

// HTTPGatewayOption configures an HTTPGateway
type HTTPGatewayOption func(*HTTPGateway)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(client *http.Client) HTTPGatewayOption {
	return func(g *HTTPGateway) {
		g.httpClient = client
	}
}

// WithLogger sets the gateway logger
func WithLogger(logger *zap.Logger) HTTPGatewayOption {
	return func(g *HTTPGateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewHTTPGateway creates a new payment gateway adapter.
// Per-attempt deadlines come from the caller's context, so the HTTP client
// carries no timeout of its own.
func NewHTTPGateway(cfg *config.PaymentConfig, opts ...HTTPGatewayOption) (*HTTPGateway, error) {
	if cfg == nil || strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, settlement.ErrGatewayNotConfigured
	}
	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return nil, fmt.Errorf("payment: base URL must include scheme: %q", cfg.BaseURL)
	}

	g := &HTTPGateway{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{},
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

type chargeBody struct {
	ClaimID     string `json:"claim_id"`
	ClaimNumber string `json:"claim_number"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	PolicyRef   string `json:"policy_ref"`
}

type chargeResponse struct {
	TransactionRef string    `json:"transaction_ref"`
	Status         string    `json:"status"`
	SettledAt      time.Time `json:"settled_at"`
}

// Charge submits a payout. Non-2xx responses are returned as *settlement.GatewayError.
func (g *HTTPGateway) Charge(ctx context.Context, req settlement.ChargeRequest) (*settlement.Receipt, error) {
	if err := g.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", settlement.ErrInvalidChargeRequest, err)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", settlement.ErrInvalidChargeRequest)
	}

	body, err := json.Marshal(chargeBody{
		ClaimID:     req.ClaimID.String(),
		ClaimNumber: req.ClaimNumber,
		Amount:      req.Amount.StringFixed(2),
		Currency:    req.Currency,
		PolicyRef:   req.PolicyRef,
	})
	if err != nil {
		return nil, fmt.Errorf("payment: failed to encode request: %w", err)
	}

	respBody, err := g.doRequest(ctx, http.MethodPost, chargePath, req.IdempotencyKey, body)
	if err != nil {
		return nil, err
	}

	var resp chargeResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", settlement.ErrGatewayInvalidResponse, err)
	}
	if resp.TransactionRef == "" {
		return nil, fmt.Errorf("%w: missing transaction_ref", settlement.ErrGatewayInvalidResponse)
	}
	settledAt := resp.SettledAt
	if settledAt.IsZero() {
		settledAt = time.Now()
	}

	g.logger.Debug("payment gateway accepted charge",
		zap.String("claim_number", req.ClaimNumber),
		zap.String("transaction_ref", resp.TransactionRef),
	)
	return &settlement.Receipt{
		TransactionRef: resp.TransactionRef,
		ClaimID:        req.ClaimID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		SettledAt:      settledAt.UTC(),
	}, nil
}

// doRequest performs one HTTP exchange. Context errors are wrapped so that
// callers can tell a deadline from a transport failure.
func (g *HTTPGateway) doRequest(ctx context.Context, method, path, idempotencyKey string, body []byte) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("payment: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("payment: request aborted: %w", errors.Join(ctxErr, err))
		}
		return nil, fmt.Errorf("payment: transport failure: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &settlement.GatewayError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("payment: failed to read response: %w", err)
	}
	return respBody, nil
}
