package claim

import (
	"fmt"

	"github.com/claimflow/backend/internal/domain/shared"
)

// Routing reasons
const (
	RouteAutoApproval = "AUTO_APPROVAL"
	RouteTierReview   = "TIER_REVIEW"
	RouteFraudReview  = "FRAUD_REVIEW"
)

// FraudReviewMessage is the audit text recorded when the fraud flag overrides routing
const FraudReviewMessage = "duplicate/fraud review required"

// RoutingDecision is the tier and next status for a validated claim
type RoutingDecision struct {
	Tier       ApprovalTier `json:"tier"`
	NextStatus Status       `json:"next_status"`
	Score      FraudScore   `json:"score"`
	Reason     string       `json:"reason"`
}

// Flagged reports whether the fraud override applied
func (d RoutingDecision) Flagged() bool {
	return d.Score.Flagged
}

// ApprovalRouter assigns tiers and next statuses. It is deterministic and
// makes no external calls.
type ApprovalRouter struct{}

// NewApprovalRouter creates an approval router
func NewApprovalRouter() *ApprovalRouter {
	return &ApprovalRouter{}
}

// Route derives the decision for a validated claim. A flagged score forces
// UNDER_REVIEW whatever the tier.
func (r *ApprovalRouter) Route(v *ValidatedClaim, score FraudScore) (RoutingDecision, error) {
	if v == nil || v.Claim == nil {
		return RoutingDecision{}, shared.NewKindError(shared.KindRouting, "UNVALIDATED_CLAIM",
			"routing requires a validated claim; run validation first")
	}
	if !v.Claim.ClaimedAmount.IsPositive() {
		return RoutingDecision{}, shared.NewKindError(shared.KindRouting, "INVALID_AMOUNT",
			fmt.Sprintf("claim %s reached routing with amount %s; amounts must be validated as positive", v.Claim.ClaimNumber, v.Claim.ClaimedAmount.String()))
	}

	tier := TierForAmount(v.Claim.ClaimedAmount)
	d := RoutingDecision{
		Tier:       tier,
		NextStatus: StatusUnderReview,
		Score:      score,
		Reason:     RouteTierReview,
	}
	if !tier.RequiresReview() {
		d.NextStatus = StatusApproved
		d.Reason = RouteAutoApproval
	}
	if score.Flagged {
		d.NextStatus = StatusUnderReview
		d.Reason = RouteFraudReview
	}
	return d, nil
}
