package claim

import (
	"fmt"
	"time"

	"github.com/claimflow/backend/internal/domain/shared"
)

// Validation reason codes
const (
	ReasonClaimMissing        = "CLAIM_MISSING"
	ReasonPolicyNotFound      = "POLICY_NOT_FOUND"
	ReasonPolicyNotActive     = "POLICY_NOT_ACTIVE"
	ReasonIncidentInFuture    = "INCIDENT_IN_FUTURE"
	ReasonIncidentOutOfWindow = "INCIDENT_OUTSIDE_POLICY_WINDOW"
	ReasonNonPositiveAmount   = "NON_POSITIVE_AMOUNT"
	ReasonLineItemNonPositive = "LINE_ITEM_NON_POSITIVE"
	ReasonLineItemSumMismatch = "LINE_ITEM_SUM_MISMATCH"
	ReasonMissingDocuments    = "INSUFFICIENT_DOCUMENTS"
)

const dateLayout = "2006-01-02"

// ValidatedClaim is a claim that passed every validation check against its policy
type ValidatedClaim struct {
	Claim  *Claim
	Policy *Policy
}

// ValidationOptions carries caller-supplied validation requirements
type ValidationOptions struct {
	// MinDocuments is the required document count; zero disables the check
	MinDocuments int
}

// ValidationEngine checks claim invariants against the owning policy.
// It has no side effects.
type ValidationEngine struct {
	now func() time.Time
}

// NewValidationEngine creates a validation engine using the wall clock
func NewValidationEngine() *ValidationEngine {
	return &ValidationEngine{now: time.Now}
}

// WithClock returns a copy of the engine that reads "today" from now
func (v *ValidationEngine) WithClock(now func() time.Time) *ValidationEngine {
	return &ValidationEngine{now: now}
}

// Validate runs the checks in order and stops at the first failure.
func (v *ValidationEngine) Validate(c *Claim, policy *Policy, opts ValidationOptions) (*ValidatedClaim, error) {
	if c == nil {
		return nil, failure(ReasonClaimMissing, "claim is missing; nothing to validate")
	}

	if policy == nil {
		return nil, failure(ReasonPolicyNotFound,
			fmt.Sprintf("policy %s for claim %s was not found; file the claim against an existing policy", c.PolicyID, c.ClaimNumber))
	}
	if !policy.IsActive() {
		return nil, failure(ReasonPolicyNotActive,
			fmt.Sprintf("policy %s is %s, expected %s", policy.PolicyNumber, policy.Status, PolicyStatusActive))
	}

	today := truncateDay(v.now())
	incident := truncateDay(c.IncidentDate)
	if incident.After(today) {
		return nil, failure(ReasonIncidentInFuture,
			fmt.Sprintf("incident date %s is after today %s", incident.Format(dateLayout), today.Format(dateLayout)))
	}
	if !policy.Covers(c.IncidentDate) {
		return nil, failure(ReasonIncidentOutOfWindow,
			fmt.Sprintf("incident date %s is outside policy %s window %s", incident.Format(dateLayout), policy.PolicyNumber, windowString(policy)))
	}

	if !c.ClaimedAmount.IsPositive() {
		return nil, failure(ReasonNonPositiveAmount,
			fmt.Sprintf("claimed amount %s must be greater than 0", c.ClaimedAmount.String()))
	}

	if c.HasLineItems() {
		for i, item := range c.LineItems {
			if !item.Amount.IsPositive() {
				return nil, failure(ReasonLineItemNonPositive,
					fmt.Sprintf("line item %d (%s) amount %s must be greater than 0", i+1, item.Description, item.Amount.String()))
			}
		}
		sum := c.LineItemTotal()
		if !c.ClaimedAmount.Equal(sum) {
			return nil, failure(ReasonLineItemSumMismatch,
				fmt.Sprintf("claimed amount %s does not equal line-item sum %s", c.ClaimedAmount.String(), sum.String()))
		}
	}

	if opts.MinDocuments > 0 && c.DocumentCount != nil && *c.DocumentCount < opts.MinDocuments {
		return nil, failure(ReasonMissingDocuments,
			fmt.Sprintf("claim %s has %d supporting documents, expected at least %d", c.ClaimNumber, *c.DocumentCount, opts.MinDocuments))
	}

	return &ValidatedClaim{Claim: c, Policy: policy}, nil
}

func failure(reason, message string) *shared.DomainError {
	return shared.NewKindError(shared.KindValidation, reason, message)
}

func windowString(p *Policy) string {
	to := "open-ended"
	if p.EffectiveTo != nil {
		to = p.EffectiveTo.Format(dateLayout)
	}
	return p.EffectiveFrom.Format(dateLayout) + ".." + to
}
