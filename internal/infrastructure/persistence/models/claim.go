package models

import (
	"time"

	"github.com/claimflow/backend/internal/domain/claim"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ClaimModel is the persistence model for the Claim aggregate root.
type ClaimModel struct {
	AggregateModel
	ClaimNumber   string             `gorm:"type:varchar(64);not null;uniqueIndex"`
	PolicyID      uuid.UUID          `gorm:"type:uuid;not null;index:idx_claims_policy_submitted,priority:1"`
	ClaimantID    uuid.UUID          `gorm:"type:uuid;not null;index:idx_claims_claimant_submitted,priority:1"`
	ClaimedAmount decimal.Decimal    `gorm:"type:decimal(18,2);not null"`
	Currency      string             `gorm:"type:varchar(3);not null;default:'USD'"`
	LineItems     []LineItemModel    `gorm:"foreignKey:ClaimID;references:ID"`
	IncidentDate  time.Time          `gorm:"not null"`
	SubmittedAt   time.Time          `gorm:"not null;index:idx_claims_policy_submitted,priority:2;index:idx_claims_claimant_submitted,priority:2"`
	Status        claim.Status       `gorm:"type:varchar(20);not null;default:'NEW';index"`
	Tier          claim.ApprovalTier `gorm:"type:varchar(32);not null"`
	FraudScore    float64            `gorm:"not null;default:0"`
	FraudFlagged  bool               `gorm:"not null;default:false"`
	SettlementRef *string            `gorm:"type:varchar(128)"`
	SettledAt     *time.Time
	DocumentCount *int
	ReviewedBy    *string `gorm:"type:varchar(128)"`
}

// TableName returns the table name for GORM
func (ClaimModel) TableName() string {
	return "claims"
}

// ToDomain converts the persistence model to a domain Claim.
func (m *ClaimModel) ToDomain() *claim.Claim {
	c := &claim.Claim{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		ClaimNumber:       m.ClaimNumber,
		PolicyID:          m.PolicyID,
		ClaimantID:        m.ClaimantID,
		ClaimedAmount:     m.ClaimedAmount,
		Currency:          m.Currency,
		IncidentDate:      m.IncidentDate,
		SubmittedAt:       m.SubmittedAt,
		Status:            m.Status,
		Tier:              m.Tier,
		FraudScore:        m.FraudScore,
		FraudFlagged:      m.FraudFlagged,
		SettlementRef:     m.SettlementRef,
		SettledAt:         m.SettledAt,
		DocumentCount:     m.DocumentCount,
		ReviewedBy:        m.ReviewedBy,
		LineItems:         make([]claim.LineItem, len(m.LineItems)),
	}
	for i, item := range m.LineItems {
		c.LineItems[i] = item.ToDomain()
	}
	return c
}

// FromDomain populates the persistence model from a domain Claim.
func (m *ClaimModel) FromDomain(c *claim.Claim) {
	m.FromDomainAggregateRoot(c.BaseAggregateRoot)
	m.ClaimNumber = c.ClaimNumber
	m.PolicyID = c.PolicyID
	m.ClaimantID = c.ClaimantID
	m.ClaimedAmount = c.ClaimedAmount
	m.Currency = c.Currency
	m.IncidentDate = c.IncidentDate
	m.SubmittedAt = c.SubmittedAt
	m.Status = c.Status
	m.Tier = c.Tier
	m.FraudScore = c.FraudScore
	m.FraudFlagged = c.FraudFlagged
	m.SettlementRef = c.SettlementRef
	m.SettledAt = c.SettledAt
	m.DocumentCount = c.DocumentCount
	m.ReviewedBy = c.ReviewedBy
	m.LineItems = make([]LineItemModel, len(c.LineItems))
	for i, item := range c.LineItems {
		m.LineItems[i] = LineItemModelFromDomain(c.ID, item)
	}
}

// ClaimModelFromDomain creates a new persistence model from a domain Claim.
func ClaimModelFromDomain(c *claim.Claim) *ClaimModel {
	m := &ClaimModel{}
	m.FromDomain(c)
	return m
}

// MutableColumns returns the columns the settlement pipeline may change.
// Line items and identity fields are written once, on create.
func (m *ClaimModel) MutableColumns() map[string]any {
	return map[string]any{
		"status":         m.Status,
		"tier":           m.Tier,
		"fraud_score":    m.FraudScore,
		"fraud_flagged":  m.FraudFlagged,
		"settlement_ref": m.SettlementRef,
		"settled_at":     m.SettledAt,
		"reviewed_by":    m.ReviewedBy,
		"version":        m.Version,
		"updated_at":     m.UpdatedAt,
	}
}

// LineItemModel is the persistence model for a claim line item.
type LineItemModel struct {
	ID          uuid.UUID       `gorm:"type:uuid;primary_key"`
	ClaimID     uuid.UUID       `gorm:"type:uuid;not null;index"`
	Description string          `gorm:"type:varchar(500);not null"`
	Amount      decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	Category    string          `gorm:"type:varchar(64)"`
}

// TableName returns the table name for GORM
func (LineItemModel) TableName() string {
	return "claim_line_items"
}

// ToDomain converts the persistence model to a domain LineItem.
func (m *LineItemModel) ToDomain() claim.LineItem {
	return claim.LineItem{
		ID:          m.ID,
		Description: m.Description,
		Amount:      m.Amount,
		Category:    m.Category,
	}
}

// LineItemModelFromDomain creates a persistence model for a line item of claimID.
func LineItemModelFromDomain(claimID uuid.UUID, item claim.LineItem) LineItemModel {
	return LineItemModel{
		ID:          item.ID,
		ClaimID:     claimID,
		Description: item.Description,
		Amount:      item.Amount,
		Category:    item.Category,
	}
}

// PolicyModel is the persistence model for a Policy. Policies are owned by
// the underwriting system and read-only here.
type PolicyModel struct {
	BaseModel
	PolicyNumber   string             `gorm:"type:varchar(64);not null;uniqueIndex"`
	HolderID       uuid.UUID          `gorm:"type:uuid;not null;index"`
	Status         claim.PolicyStatus `gorm:"type:varchar(20);not null"`
	CoverageAmount decimal.Decimal    `gorm:"type:decimal(18,2);not null"`
	EffectiveFrom  time.Time          `gorm:"not null"`
	EffectiveTo    *time.Time
}

// TableName returns the table name for GORM
func (PolicyModel) TableName() string {
	return "policies"
}

// ToDomain converts the persistence model to a domain Policy.
func (m *PolicyModel) ToDomain() *claim.Policy {
	return &claim.Policy{
		ID:             m.ID,
		PolicyNumber:   m.PolicyNumber,
		HolderID:       m.HolderID,
		Status:         m.Status,
		CoverageAmount: m.CoverageAmount,
		EffectiveFrom:  m.EffectiveFrom,
		EffectiveTo:    m.EffectiveTo,
	}
}

// PolicyModelFromDomain creates a new persistence model from a domain Policy.
func PolicyModelFromDomain(p *claim.Policy) *PolicyModel {
	now := time.Now()
	return &PolicyModel{
		BaseModel:      BaseModel{ID: p.ID, CreatedAt: now, UpdatedAt: now},
		PolicyNumber:   p.PolicyNumber,
		HolderID:       p.HolderID,
		Status:         p.Status,
		CoverageAmount: p.CoverageAmount,
		EffectiveFrom:  p.EffectiveFrom,
		EffectiveTo:    p.EffectiveTo,
	}
}
