package dto

import (
	"errors"
	"net/http"

	"github.com/claimflow/backend/internal/domain/shared"
)

// Codes produced by the HTTP layer itself
const (
	ErrCodeInternal     = "INTERNAL_ERROR"
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeBadRequest   = "BAD_REQUEST"
	ErrCodeRateLimited  = "RATE_LIMIT_EXCEEDED"
	ErrCodeBodyTooLarge = "REQUEST_TOO_LARGE"
	ErrCodeBatchTooBig  = "BATCH_TOO_LARGE"
)

// kindHTTPStatus maps failure kinds to HTTP status codes
var kindHTTPStatus = map[shared.ErrorKind]int{
	shared.KindValidation:          http.StatusUnprocessableEntity,
	shared.KindRouting:             http.StatusUnprocessableEntity,
	shared.KindInvalidTransition:   http.StatusConflict,
	shared.KindCircuitOpen:         http.StatusServiceUnavailable,
	shared.KindSettlementRejected:  http.StatusUnprocessableEntity,
	shared.KindSettlementExhausted: http.StatusBadGateway,
	shared.KindSettlementTimeout:   http.StatusGatewayTimeout,
	shared.KindCancelled:           http.StatusServiceUnavailable,
	shared.KindStore:               http.StatusInternalServerError,
	shared.KindProcessing:          http.StatusInternalServerError,
}

// codeHTTPStatus overrides the kind mapping for specific codes
var codeHTTPStatus = map[string]int{
	"NOT_FOUND":            http.StatusNotFound,
	"CLAIM_NOT_FOUND":      http.StatusNotFound,
	"ALREADY_EXISTS":       http.StatusConflict,
	"CONCURRENCY_CONFLICT": http.StatusConflict,
	"SETTLEMENT_IN_FLIGHT": http.StatusConflict,
	"INVALID_INPUT":        http.StatusBadRequest,
	ErrCodeValidation:      http.StatusBadRequest,
	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeRateLimited:     http.StatusTooManyRequests,
	ErrCodeBodyTooLarge:    http.StatusRequestEntityTooLarge,
	ErrCodeBatchTooBig:     http.StatusRequestEntityTooLarge,
}

// HTTPStatus returns the status code for an error. The code of the outermost
// DomainError wins over its kind; errors outside the taxonomy are 500.
func HTTPStatus(err error) int {
	var de *shared.DomainError
	if !errors.As(err, &de) {
		return http.StatusInternalServerError
	}
	if status, ok := codeHTTPStatus[de.Code]; ok {
		return status
	}
	// A wrapped NOT_FOUND keeps its meaning under a store code
	if errors.Is(err, shared.ErrNotFound) {
		return http.StatusNotFound
	}
	if status, ok := kindHTTPStatus[de.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ErrorResponse converts err into a response body. Messages of unclassified
// errors are not exposed.
func ErrorResponse(err error, requestID string) Response {
	var de *shared.DomainError
	if !errors.As(err, &de) {
		return NewErrorResponse(ErrCodeInternal, string(shared.KindProcessing), "An unexpected error occurred", requestID)
	}
	kind := de.Kind
	if kind == shared.KindNone {
		kind = shared.KindOf(err)
	}
	return NewErrorResponse(de.Code, string(kind), de.Message, requestID)
}
