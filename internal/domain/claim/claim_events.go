package claim

import (
	"time"

	"github.com/claimflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event type names
const (
	EventTypeClaimRouted           = "ClaimRouted"
	EventTypeClaimReviewed         = "ClaimReviewed"
	EventTypeClaimPaid             = "ClaimPaid"
	EventTypeClaimSettlementFailed = "ClaimSettlementFailed"

	aggregateTypeClaim = "Claim"
)

// ClaimRoutedEvent is raised when a claim receives its routing decision
type ClaimRoutedEvent struct {
	shared.BaseDomainEvent
	ClaimID     uuid.UUID    `json:"claim_id"`
	ClaimNumber string       `json:"claim_number"`
	Tier        ApprovalTier `json:"tier"`
	Status      Status       `json:"status"`
	FraudScore  float64      `json:"fraud_score"`
	Flagged     bool         `json:"flagged"`
}

// EventType returns the event type name
func (e *ClaimRoutedEvent) EventType() string {
	return EventTypeClaimRouted
}

// NewClaimRoutedEvent creates a new ClaimRoutedEvent
func NewClaimRoutedEvent(c *Claim, d RoutingDecision) *ClaimRoutedEvent {
	return &ClaimRoutedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeClaimRouted, aggregateTypeClaim, c.ID, c.Version),
		ClaimID:         c.ID,
		ClaimNumber:     c.ClaimNumber,
		Tier:            d.Tier,
		Status:          d.NextStatus,
		FraudScore:      d.Score.Value,
		Flagged:         d.Score.Flagged,
	}
}

// ClaimReviewedEvent is raised when a reviewer approves or rejects a claim
type ClaimReviewedEvent struct {
	shared.BaseDomainEvent
	ClaimID    uuid.UUID `json:"claim_id"`
	Status     Status    `json:"status"`
	ReviewedBy string    `json:"reviewed_by"`
}

// EventType returns the event type name
func (e *ClaimReviewedEvent) EventType() string {
	return EventTypeClaimReviewed
}

// NewClaimReviewedEvent creates a new ClaimReviewedEvent
func NewClaimReviewedEvent(c *Claim, reviewer string) *ClaimReviewedEvent {
	return &ClaimReviewedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeClaimReviewed, aggregateTypeClaim, c.ID, c.Version),
		ClaimID:         c.ID,
		Status:          c.Status,
		ReviewedBy:      reviewer,
	}
}

// ClaimPaidEvent is raised when a claim has been settled
type ClaimPaidEvent struct {
	shared.BaseDomainEvent
	ClaimID       uuid.UUID       `json:"claim_id"`
	ClaimNumber   string          `json:"claim_number"`
	PolicyID      uuid.UUID       `json:"policy_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	SettlementRef string          `json:"settlement_ref"`
	SettledAt     time.Time       `json:"settled_at"`
}

// EventType returns the event type name
func (e *ClaimPaidEvent) EventType() string {
	return EventTypeClaimPaid
}

// NewClaimPaidEvent creates a new ClaimPaidEvent
func NewClaimPaidEvent(c *Claim) *ClaimPaidEvent {
	e := &ClaimPaidEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeClaimPaid, aggregateTypeClaim, c.ID, c.Version),
		ClaimID:         c.ID,
		ClaimNumber:     c.ClaimNumber,
		PolicyID:        c.PolicyID,
		Amount:          c.ClaimedAmount,
		Currency:        c.Currency,
	}
	if c.SettlementRef != nil {
		e.SettlementRef = *c.SettlementRef
	}
	if c.SettledAt != nil {
		e.SettledAt = *c.SettledAt
	}
	return e
}

// ClaimSettlementFailedEvent is raised when settlement of an approved claim fails
type ClaimSettlementFailedEvent struct {
	shared.BaseDomainEvent
	ClaimID uuid.UUID        `json:"claim_id"`
	Kind    shared.ErrorKind `json:"kind"`
	Reason  string           `json:"reason"`
}

// EventType returns the event type name
func (e *ClaimSettlementFailedEvent) EventType() string {
	return EventTypeClaimSettlementFailed
}

// NewClaimSettlementFailedEvent creates a new ClaimSettlementFailedEvent
func NewClaimSettlementFailedEvent(c *Claim, err error) *ClaimSettlementFailedEvent {
	return &ClaimSettlementFailedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeClaimSettlementFailed, aggregateTypeClaim, c.ID, c.Version),
		ClaimID:         c.ID,
		Kind:            shared.KindOf(err),
		Reason:          err.Error(),
	}
}
