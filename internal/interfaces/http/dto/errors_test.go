package dto

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/claimflow/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"validation", shared.NewKindError(shared.KindValidation, "LINE_ITEM_SUM_MISMATCH", "x"), http.StatusUnprocessableEntity},
		{"routing", shared.NewKindError(shared.KindRouting, "INVALID_AMOUNT", "x"), http.StatusUnprocessableEntity},
		{"invalid transition", shared.NewKindError(shared.KindInvalidTransition, "NOT_SETTLEABLE", "x"), http.StatusConflict},
		{"circuit open", shared.NewKindError(shared.KindCircuitOpen, "CIRCUIT_OPEN", "x"), http.StatusServiceUnavailable},
		{"rejected", shared.NewKindError(shared.KindSettlementRejected, "SETTLEMENT_REJECTED", "x"), http.StatusUnprocessableEntity},
		{"exhausted", shared.NewKindError(shared.KindSettlementExhausted, "SETTLEMENT_EXHAUSTED", "x"), http.StatusBadGateway},
		{"timeout", shared.NewKindError(shared.KindSettlementTimeout, "SETTLEMENT_TIMEOUT", "x"), http.StatusGatewayTimeout},
		{"store", shared.NewKindError(shared.KindStore, "CLAIM_WRITE_FAILED", "x"), http.StatusInternalServerError},
		{"claim not found", shared.Wrap(shared.KindStore, "CLAIM_NOT_FOUND", shared.ErrNotFound, "missing"), http.StatusNotFound},
		{"wrapped not found", shared.Wrap(shared.KindStore, "CLAIM_READ_FAILED", shared.ErrNotFound, "missing"), http.StatusNotFound},
		{"in flight", fmt.Errorf("settle: %w", shared.ErrSettlementInFlight), http.StatusConflict},
		{"conflict", shared.ErrConcurrencyConflict, http.StatusConflict},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatus(tt.err))
		})
	}
}

func TestErrorResponse(t *testing.T) {
	t.Run("domain error keeps code and kind", func(t *testing.T) {
		resp := ErrorResponse(shared.NewKindError(shared.KindCircuitOpen, "CIRCUIT_OPEN", "payment circuit is open"), "req-1")

		assert.False(t, resp.Success)
		assert.Equal(t, "CIRCUIT_OPEN", resp.Error.Code)
		assert.Equal(t, "CIRCUIT_OPEN", resp.Error.Kind)
		assert.Equal(t, "payment circuit is open", resp.Error.Message)
		assert.Equal(t, "req-1", resp.Error.RequestID)
	})

	t.Run("unclassified error hides message", func(t *testing.T) {
		resp := ErrorResponse(errors.New("pq: connection refused"), "")

		assert.Equal(t, ErrCodeInternal, resp.Error.Code)
		assert.Equal(t, "PROCESSING", resp.Error.Kind)
		assert.NotContains(t, resp.Error.Message, "pq")
	})
}

func TestNewValidationErrorResponse(t *testing.T) {
	resp := NewValidationErrorResponse("Request validation failed", "req-2", []ValidationDetail{
		{Field: "reviewer", Message: "This field is required"},
	})

	assert.False(t, resp.Success)
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)
	assert.Len(t, resp.Error.Details, 1)
	assert.Equal(t, "reviewer", resp.Error.Details[0].Field)
}
