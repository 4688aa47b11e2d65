package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/claimflow/backend/internal/domain/settlement"
	"github.com/claimflow/backend/internal/infrastructure/config"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validChargeRequest() settlement.ChargeRequest {
	id := uuid.New()
	return settlement.ChargeRequest{
		ClaimID:        id,
		ClaimNumber:    "CLM-1001",
		Amount:         decimal.RequireFromString("1250.5"),
		Currency:       "USD",
		PolicyRef:      "POL-9",
		IdempotencyKey: "settle:" + id.String(),
	}
}

func newTestGateway(t *testing.T, handler http.HandlerFunc) *HTTPGateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	g, err := NewHTTPGateway(&config.PaymentConfig{BaseURL: server.URL + "/", APIKey: "secret"})
	require.NoError(t, err)
	return g
}

func TestNewHTTPGateway_Validation(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := NewHTTPGateway(nil)
		assert.ErrorIs(t, err, settlement.ErrGatewayNotConfigured)
	})

	t.Run("empty base URL", func(t *testing.T) {
		_, err := NewHTTPGateway(&config.PaymentConfig{BaseURL: "  "})
		assert.ErrorIs(t, err, settlement.ErrGatewayNotConfigured)
	})

	t.Run("missing scheme", func(t *testing.T) {
		_, err := NewHTTPGateway(&config.PaymentConfig{BaseURL: "payments.local"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scheme")
	})
}

func TestHTTPGateway_Charge_Success(t *testing.T) {
	req := validChargeRequest()
	settledAt := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)

	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, chargePath, r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, req.IdempotencyKey, r.Header.Get("Idempotency-Key"))

		var body chargeBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "1250.50", body.Amount)
		assert.Equal(t, "CLM-1001", body.ClaimNumber)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chargeResponse{TransactionRef: "TX-1", Status: "settled", SettledAt: settledAt})
	})

	receipt, err := g.Charge(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, "TX-1", receipt.TransactionRef)
	assert.Equal(t, req.ClaimID, receipt.ClaimID)
	assert.True(t, req.Amount.Equal(receipt.Amount))
	assert.True(t, settledAt.Equal(receipt.SettledAt))
}

func TestHTTPGateway_Charge_StatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		client bool
	}{
		{"bad request", http.StatusBadRequest, true},
		{"unprocessable", http.StatusUnprocessableEntity, true},
		{"bad gateway", http.StatusBadGateway, false},
		{"unavailable", http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"declined"}`, tt.status)
			})

			_, err := g.Charge(context.Background(), validChargeRequest())

			var gwErr *settlement.GatewayError
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, tt.status, gwErr.StatusCode)
			assert.Equal(t, tt.client, gwErr.IsClientError())
			assert.Equal(t, !tt.client, gwErr.IsServerError())
			assert.Contains(t, gwErr.Body, "declined")
		})
	}
}

func TestHTTPGateway_Charge_InvalidResponse(t *testing.T) {
	t.Run("malformed json", func(t *testing.T) {
		g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		})
		_, err := g.Charge(context.Background(), validChargeRequest())
		assert.ErrorIs(t, err, settlement.ErrGatewayInvalidResponse)
	})

	t.Run("missing transaction ref", func(t *testing.T) {
		g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":"settled"}`))
		})
		_, err := g.Charge(context.Background(), validChargeRequest())
		assert.ErrorIs(t, err, settlement.ErrGatewayInvalidResponse)
	})
}

func TestHTTPGateway_Charge_InvalidRequest(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request must not be sent")
	})

	req := validChargeRequest()
	req.Currency = "DOLLARS"
	_, err := g.Charge(context.Background(), req)
	assert.ErrorIs(t, err, settlement.ErrInvalidChargeRequest)

	req = validChargeRequest()
	req.Amount = decimal.NewFromInt(-5)
	_, err = g.Charge(context.Background(), req)
	assert.ErrorIs(t, err, settlement.ErrInvalidChargeRequest)
}

func TestHTTPGateway_Charge_DeadlineExceeded(t *testing.T) {
	release := make(chan struct{})
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := g.Charge(ctx, validChargeRequest())

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
