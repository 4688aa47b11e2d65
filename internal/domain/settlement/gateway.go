package settlement

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Payment capability errors
// ---------------------------------------------------------------------------

var (
	ErrGatewayNotConfigured   = errors.New("settlement: payment gateway not configured")
	ErrGatewayInvalidResponse = errors.New("settlement: invalid payment gateway response")
	ErrInvalidChargeRequest   = errors.New("settlement: invalid charge request")
)

// ChargeRequest is a single payout instruction for a claim
type ChargeRequest struct {
	ClaimID        uuid.UUID       `json:"claim_id" validate:"required"`
	ClaimNumber    string          `json:"claim_number" validate:"required,max=64"`
	Amount         decimal.Decimal `json:"amount" validate:"required"`
	Currency       string          `json:"currency" validate:"required,len=3"`
	PolicyRef      string          `json:"policy_ref" validate:"required"`
	IdempotencyKey string          `json:"idempotency_key" validate:"required,max=128"`
}

// Receipt is the payment provider's confirmation of a charge
type Receipt struct {
	TransactionRef string          `json:"transaction_ref"`
	ClaimID        uuid.UUID       `json:"claim_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	SettledAt      time.Time       `json:"settled_at"`
	Attempts       int             `json:"attempts"`
}

// PaymentGateway is the external payment capability.
// Implementations return *GatewayError for non-2xx responses.
type PaymentGateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*Receipt, error)
}

// GatewayError is a non-2xx response from the payment provider
type GatewayError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("payment gateway returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("payment gateway returned %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// IsClientError reports a 4xx response, which is never retried
func (e *GatewayError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// IsServerError reports a 5xx response
func (e *GatewayError) IsServerError() bool {
	return e.StatusCode >= 500
}
