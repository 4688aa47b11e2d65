package shared

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so callers can branch on it without
// inspecting concrete types.
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindValidation          ErrorKind = "VALIDATION"
	KindRouting             ErrorKind = "ROUTING"
	KindCircuitOpen         ErrorKind = "CIRCUIT_OPEN"
	KindSettlementRejected  ErrorKind = "SETTLEMENT_REJECTED"
	KindSettlementExhausted ErrorKind = "SETTLEMENT_EXHAUSTED"
	KindSettlementTimeout   ErrorKind = "SETTLEMENT_TIMEOUT"
	KindCancelled           ErrorKind = "CANCELLED"
	KindInvalidTransition   ErrorKind = "INVALID_TRANSITION"
	KindStore               ErrorKind = "STORE"
	KindProcessing          ErrorKind = "PROCESSING"
)

// IsSettlement reports whether the kind belongs to the settlement family.
func (k ErrorKind) IsSettlement() bool {
	switch k {
	case KindSettlementRejected, KindSettlementExhausted, KindSettlementTimeout:
		return true
	}
	return false
}

// Severity ranks audit entries for alerting
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities so they can be compared.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// SeverityFor returns the default severity for a failure kind.
func SeverityFor(kind ErrorKind) Severity {
	switch kind {
	case KindNone, KindValidation, KindCancelled:
		return SeverityLow
	case KindRouting, KindCircuitOpen:
		return SeverityMedium
	case KindSettlementRejected, KindStore, KindInvalidTransition, KindSettlementTimeout:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// DomainError represents a domain-level error
type DomainError struct {
	Kind    ErrorKind `json:"kind,omitempty"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// Unwrap exposes the wrapped cause
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches another DomainError by code, so sentinel values keep working
// after a kind or cause has been attached.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Severity returns the default severity of the error's kind
func (e *DomainError) Severity() Severity {
	return SeverityFor(e.Kind)
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// NewKindError creates a domain error tagged with a failure kind
func NewKindError(kind ErrorKind, code, message string) *DomainError {
	return &DomainError{
		Kind:    kind,
		Code:    code,
		Message: message,
	}
}

// Wrap tags cause with a kind and a message describing what failed.
func Wrap(kind ErrorKind, code string, cause error, format string, args ...any) *DomainError {
	return &DomainError{
		Kind:    kind,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// KindOf returns the kind of the outermost DomainError in err's chain.
// Errors outside the taxonomy report KindProcessing.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var de *DomainError
	if errors.As(err, &de) && de.Kind != KindNone {
		return de.Kind
	}
	return KindProcessing
}

// IsKind reports whether err is classified as kind
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// InTaxonomy reports whether err carries an explicit failure kind.
func InTaxonomy(err error) bool {
	var de *DomainError
	return errors.As(err, &de) && de.Kind != KindNone
}

// CodeOf returns the code of the outermost DomainError, or empty.
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Common domain errors
var (
	ErrNotFound            = NewKindError(KindStore, "NOT_FOUND", "Resource not found")
	ErrAlreadyExists       = NewKindError(KindStore, "ALREADY_EXISTS", "Resource already exists")
	ErrInvalidInput        = NewKindError(KindValidation, "INVALID_INPUT", "Invalid input provided")
	ErrConcurrencyConflict = NewKindError(KindStore, "CONCURRENCY_CONFLICT", "Resource was modified by another process")
	ErrInvalidState        = NewKindError(KindInvalidTransition, "INVALID_STATE", "Operation not allowed in current state")
	ErrSettlementInFlight  = NewKindError(KindStore, "SETTLEMENT_IN_FLIGHT", "Settlement for this claim is already in progress")
)
