package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindNone},
		{"plain error", errors.New("boom"), KindProcessing},
		{"context error", context.Canceled, KindProcessing},
		{"kind error", NewKindError(KindValidation, "X", "bad"), KindValidation},
		{"wrapped kind error", fmt.Errorf("outer: %w", NewKindError(KindStore, "X", "db")), KindStore},
		{"untagged domain error", NewDomainError("X", "legacy"), KindProcessing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestDomainError_IsMatchesByCode(t *testing.T) {
	err := Wrap(KindStore, "NOT_FOUND", errors.New("record not found"), "claim %s not found", "abc")

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrAlreadyExists))
	assert.Equal(t, "claim abc not found", err.Error())
	assert.EqualError(t, errors.Unwrap(err), "record not found")
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, SeverityLow, SeverityFor(KindValidation))
	assert.Equal(t, SeverityMedium, SeverityFor(KindRouting))
	assert.Equal(t, SeverityHigh, SeverityFor(KindSettlementRejected))
	assert.Equal(t, SeverityHigh, SeverityFor(KindStore))
	assert.Equal(t, SeverityCritical, SeverityFor(KindSettlementExhausted))
	assert.Equal(t, SeverityCritical, SeverityFor(KindProcessing))
	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
}

func TestInTaxonomy(t *testing.T) {
	assert.True(t, InTaxonomy(NewKindError(KindRouting, "R", "r")))
	assert.False(t, InTaxonomy(errors.New("raw")))
	assert.False(t, InTaxonomy(NewDomainError("X", "untagged")))
	assert.True(t, KindSettlementTimeout.IsSettlement())
	assert.False(t, KindStore.IsSettlement())
}
