package claim

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PolicyStatus represents the status of an insurance policy
type PolicyStatus string

const (
	PolicyStatusActive    PolicyStatus = "ACTIVE"
	PolicyStatusExpired   PolicyStatus = "EXPIRED"
	PolicyStatusCancelled PolicyStatus = "CANCELLED"
	PolicyStatusSuspended PolicyStatus = "SUSPENDED"
)

// IsValid checks if the status is a valid PolicyStatus
func (s PolicyStatus) IsValid() bool {
	switch s {
	case PolicyStatusActive, PolicyStatusExpired, PolicyStatusCancelled, PolicyStatusSuspended:
		return true
	}
	return false
}

// Policy is the read-only coverage record a claim is filed against
type Policy struct {
	ID             uuid.UUID       `json:"id"`
	PolicyNumber   string          `json:"policy_number"`
	HolderID       uuid.UUID       `json:"holder_id"`
	Status         PolicyStatus    `json:"status"`
	CoverageAmount decimal.Decimal `json:"coverage_amount"`
	EffectiveFrom  time.Time       `json:"effective_from"`
	EffectiveTo    *time.Time      `json:"effective_to,omitempty"`
}

// IsActive returns true if the policy accepts claims
func (p *Policy) IsActive() bool {
	return p.Status == PolicyStatusActive
}

// Covers reports whether date falls inside the validity window.
// A nil EffectiveTo means the policy is open-ended.
func (p *Policy) Covers(date time.Time) bool {
	d := truncateDay(date)
	if d.Before(truncateDay(p.EffectiveFrom)) {
		return false
	}
	if p.EffectiveTo != nil && d.After(truncateDay(*p.EffectiveTo)) {
		return false
	}
	return true
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
