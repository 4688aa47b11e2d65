package claim

import (
	"fmt"
	"strings"
	"time"

	"github.com/claimflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents the lifecycle status of a claim
type Status string

const (
	StatusNew         Status = "NEW"          // Submitted, not yet routed
	StatusUnderReview Status = "UNDER_REVIEW" // Waiting on a manager or senior manager
	StatusApproved    Status = "APPROVED"     // Approved, waiting for settlement
	StatusRejected    Status = "REJECTED"     // Rejected by a reviewer
	StatusPaid        Status = "PAID"         // Settled with the payment provider
)

// transitions lists every forward move the claim lifecycle allows.
var transitions = map[Status][]Status{
	StatusNew:         {StatusUnderReview, StatusApproved},
	StatusUnderReview: {StatusApproved, StatusRejected},
	StatusApproved:    {StatusPaid},
}

// IsValid checks if the status is a valid Status
func (s Status) IsValid() bool {
	switch s {
	case StatusNew, StatusUnderReview, StatusApproved, StatusRejected, StatusPaid:
		return true
	}
	return false
}

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if no transition leaves the status
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusRejected
}

// CanTransitionTo reports whether moving from s to next is allowed
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CanSettle returns true if the claim may be sent to the payment provider
func (s Status) CanSettle() bool {
	return s == StatusApproved
}

// CanReview returns true if a reviewer may approve or reject the claim
func (s Status) CanReview() bool {
	return s == StatusUnderReview
}

// LineItem is one itemized component of a claim's amount
type LineItem struct {
	ID          uuid.UUID       `json:"id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
}

// NewLineItem creates a line item with a generated id
func NewLineItem(description string, amount decimal.Decimal, category string) LineItem {
	return LineItem{
		ID:          uuid.New(),
		Description: description,
		Amount:      amount,
		Category:    category,
	}
}

// Claim represents a request for payout under a policy
type Claim struct {
	shared.BaseAggregateRoot
	ClaimNumber   string          `json:"claim_number"`
	PolicyID      uuid.UUID       `json:"policy_id"`
	ClaimantID    uuid.UUID       `json:"claimant_id"`
	ClaimedAmount decimal.Decimal `json:"claimed_amount"`
	Currency      string          `json:"currency"`
	LineItems     []LineItem      `json:"line_items"`
	IncidentDate  time.Time       `json:"incident_date"`
	SubmittedAt   time.Time       `json:"submitted_at"`
	Status        Status          `json:"status"`
	Tier          ApprovalTier    `json:"tier"`
	FraudScore    float64         `json:"fraud_score"`
	FraudFlagged  bool            `json:"fraud_flagged"`
	SettlementRef *string         `json:"settlement_ref,omitempty"`
	SettledAt     *time.Time      `json:"settled_at,omitempty"`
	DocumentCount *int            `json:"document_count,omitempty"`
	ReviewedBy    *string         `json:"reviewed_by,omitempty"`
}

// NewClaim creates a new claim in NEW status
func NewClaim(claimNumber string, policyID, claimantID uuid.UUID, amount decimal.Decimal, incidentDate time.Time) (*Claim, error) {
	if strings.TrimSpace(claimNumber) == "" {
		return nil, shared.NewKindError(shared.KindValidation, "INVALID_CLAIM_NUMBER", "claim number cannot be empty")
	}
	if policyID == uuid.Nil {
		return nil, shared.NewKindError(shared.KindValidation, "INVALID_POLICY", "policy id cannot be empty")
	}

	return &Claim{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		ClaimNumber:       claimNumber,
		PolicyID:          policyID,
		ClaimantID:        claimantID,
		ClaimedAmount:     amount,
		Currency:          "USD",
		LineItems:         make([]LineItem, 0),
		IncidentDate:      incidentDate,
		SubmittedAt:       time.Now(),
		Status:            StatusNew,
		Tier:              TierForAmount(amount),
	}, nil
}

// AddLineItem appends a line item; the claimed amount is left untouched
func (c *Claim) AddLineItem(item LineItem) {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	c.LineItems = append(c.LineItems, item)
}

// LineItemTotal returns the sum of all line item amounts
func (c *Claim) LineItemTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.LineItems {
		total = total.Add(item.Amount)
	}
	return total
}

// HasLineItems reports whether the claim is itemized
func (c *Claim) HasLineItems() bool {
	return len(c.LineItems) > 0
}

// Clone returns a deep copy the pipeline can mutate without touching the original
func (c *Claim) Clone() *Claim {
	cp := *c
	cp.LineItems = append([]LineItem(nil), c.LineItems...)
	if c.SettlementRef != nil {
		ref := *c.SettlementRef
		cp.SettlementRef = &ref
	}
	if c.SettledAt != nil {
		at := *c.SettledAt
		cp.SettledAt = &at
	}
	if c.DocumentCount != nil {
		n := *c.DocumentCount
		cp.DocumentCount = &n
	}
	if c.ReviewedBy != nil {
		r := *c.ReviewedBy
		cp.ReviewedBy = &r
	}
	cp.ClearDomainEvents()
	return &cp
}

// Snapshot captures the fields a routing checkpoint overwrites
type Snapshot struct {
	Status       Status
	Tier         ApprovalTier
	FraudScore   float64
	FraudFlagged bool
	Version      int
	UpdatedAt    time.Time
}

// Snapshot returns the current checkpoint fields
func (c *Claim) Snapshot() Snapshot {
	return Snapshot{
		Status:       c.Status,
		Tier:         c.Tier,
		FraudScore:   c.FraudScore,
		FraudFlagged: c.FraudFlagged,
		Version:      c.Version,
		UpdatedAt:    c.UpdatedAt,
	}
}

// Restore writes a captured snapshot back. It is the only way a claim moves
// to a status outside the forward transition table and exists solely for
// compensating a checkpoint write.
func (c *Claim) Restore(s Snapshot) {
	c.Status = s.Status
	c.Tier = s.Tier
	c.FraudScore = s.FraudScore
	c.FraudFlagged = s.FraudFlagged
	c.Touch()
}

// TransitionTo moves the claim to next, failing closed on any move the
// lifecycle does not allow.
func (c *Claim) TransitionTo(next Status) error {
	if !next.IsValid() {
		return shared.NewKindError(shared.KindInvalidTransition, "INVALID_STATUS",
			fmt.Sprintf("claim %s: unknown status %q", c.ClaimNumber, next))
	}
	if !c.Status.CanTransitionTo(next) {
		return shared.NewKindError(shared.KindInvalidTransition, "INVALID_TRANSITION",
			fmt.Sprintf("claim %s cannot move from %s to %s", c.ClaimNumber, c.Status, next))
	}
	c.Status = next
	c.Touch()
	return nil
}

// ApplyRouting records the routing decision and moves the claim to its next status
func (c *Claim) ApplyRouting(d RoutingDecision) error {
	if err := c.TransitionTo(d.NextStatus); err != nil {
		return err
	}
	c.Tier = d.Tier
	c.FraudScore = d.Score.Value
	c.FraudFlagged = d.Score.Flagged
	c.AddDomainEvent(NewClaimRoutedEvent(c, d))
	return nil
}

// Review records a reviewer decision on a claim under review
func (c *Claim) Review(approve bool, reviewer string) error {
	if !c.Status.CanReview() {
		return shared.NewKindError(shared.KindInvalidTransition, "INVALID_STATE",
			fmt.Sprintf("claim %s is %s; only UNDER_REVIEW claims can be reviewed", c.ClaimNumber, c.Status))
	}
	next := StatusRejected
	if approve {
		next = StatusApproved
	}
	if err := c.TransitionTo(next); err != nil {
		return err
	}
	c.ReviewedBy = &reviewer
	c.AddDomainEvent(NewClaimReviewedEvent(c, reviewer))
	return nil
}

// MarkPaid moves an approved claim to PAID and records the settlement reference
func (c *Claim) MarkPaid(settlementRef string, settledAt time.Time) error {
	if strings.TrimSpace(settlementRef) == "" {
		return shared.NewKindError(shared.KindProcessing, "MISSING_SETTLEMENT_REF",
			fmt.Sprintf("claim %s: settlement reference is required to mark the claim paid", c.ClaimNumber))
	}
	if err := c.TransitionTo(StatusPaid); err != nil {
		return err
	}
	c.SettlementRef = &settlementRef
	c.SettledAt = &settledAt
	c.AddDomainEvent(NewClaimPaidEvent(c))
	return nil
}
