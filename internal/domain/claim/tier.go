package claim

import "github.com/shopspring/decimal"

// ApprovalTier is the reviewer level a claim amount requires
type ApprovalTier string

const (
	TierAutoApproved  ApprovalTier = "AUTO_APPROVED"
	TierManager       ApprovalTier = "MANAGER"
	TierSeniorManager ApprovalTier = "SENIOR_MANAGER"
)

// Tier thresholds
var (
	ManagerThreshold       = decimal.NewFromInt(5000)
	SeniorManagerThreshold = decimal.NewFromInt(25000)
)

// IsValid checks if the tier is a valid ApprovalTier
func (t ApprovalTier) IsValid() bool {
	switch t {
	case TierAutoApproved, TierManager, TierSeniorManager:
		return true
	}
	return false
}

// String returns the string representation of ApprovalTier
func (t ApprovalTier) String() string {
	return string(t)
}

// RequiresReview returns true if a human reviewer must act on the claim
func (t ApprovalTier) RequiresReview() bool {
	return t != TierAutoApproved
}

// TierForAmount derives the approval tier from the claimed amount.
// < 5000 auto, [5000, 25000) manager, >= 25000 senior manager.
func TierForAmount(amount decimal.Decimal) ApprovalTier {
	switch {
	case amount.LessThan(ManagerThreshold):
		return TierAutoApproved
	case amount.LessThan(SeniorManagerThreshold):
		return TierManager
	default:
		return TierSeniorManager
	}
}
