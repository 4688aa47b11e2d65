package claim

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Fraud signal names
const (
	SignalRecentPolicyClaim = "RECENT_CLAIM_ON_POLICY"
	SignalAmountOutlier     = "AMOUNT_ABOVE_CLAIMANT_AVERAGE"
	SignalNewPolicy         = "INCIDENT_NEAR_POLICY_START"
	SignalDuplicateAmount   = "DUPLICATE_AMOUNT_ON_POLICY"
)

const (
	basisPoints = 10000
	day         = 24 * time.Hour
)

// HistoricalClaim is the slice of a prior claim the fraud scorer reads
type HistoricalClaim struct {
	ID          uuid.UUID
	PolicyID    uuid.UUID
	ClaimantID  uuid.UUID
	Amount      decimal.Decimal
	SubmittedAt time.Time
}

// ClaimHistory is what is known about a claim's policy and claimant
// besides the claim itself
type ClaimHistory struct {
	PolicyStart time.Time
	Claims      []HistoricalClaim
}

// FraudConfig holds the additive rule weights and thresholds
type FraudConfig struct {
	RecentClaimWindowDays int
	RecentClaimWeight     float64
	AmountMultiple        decimal.Decimal
	AmountOutlierWeight   float64
	NewPolicyDays         int
	NewPolicyWeight       float64
	DuplicateAmountWeight float64
	FlagThreshold         float64
	HistoryLookbackDays   int
}

// DefaultFraudConfig returns the default fraud rule configuration
func DefaultFraudConfig() FraudConfig {
	return FraudConfig{
		RecentClaimWindowDays: 30,
		RecentClaimWeight:     0.30,
		AmountMultiple:        decimal.NewFromInt(3),
		AmountOutlierWeight:   0.25,
		NewPolicyDays:         30,
		NewPolicyWeight:       0.20,
		DuplicateAmountWeight: 0.25,
		FlagThreshold:         0.75,
		HistoryLookbackDays:   365,
	}
}

// FraudScore is an advisory risk estimate in [0, 1]
type FraudScore struct {
	Value   float64  `json:"value"`
	Flagged bool     `json:"flagged"`
	Signals []string `json:"signals,omitempty"`
}

// FraudScorer computes additive rule-based fraud scores. It never fails and
// never rejects a claim on its own.
type FraudScorer struct {
	config FraudConfig
}

// NewFraudScorer creates a scorer with the given configuration
func NewFraudScorer(config FraudConfig) *FraudScorer {
	return &FraudScorer{config: config}
}

// HistorySince returns the earliest submission time the scorer looks at for c
func (s *FraudScorer) HistorySince(c *Claim) time.Time {
	days := s.config.HistoryLookbackDays
	if days < s.config.RecentClaimWindowDays {
		days = s.config.RecentClaimWindowDays
	}
	return c.SubmittedAt.AddDate(0, 0, -days)
}

// Score evaluates c against its history. Weights are summed in basis points
// so the flag threshold comparison is exact.
func (s *FraudScorer) Score(c *Claim, history ClaimHistory) FraudScore {
	var (
		points  int
		signals []string
	)

	windowStart := c.SubmittedAt.Add(-time.Duration(s.config.RecentClaimWindowDays) * day)
	recent, duplicate := false, false
	for _, h := range history.Claims {
		if h.ID == c.ID || h.PolicyID != c.PolicyID {
			continue
		}
		if h.SubmittedAt.Before(windowStart) || h.SubmittedAt.After(c.SubmittedAt) {
			continue
		}
		recent = true
		if h.Amount.Equal(c.ClaimedAmount) {
			duplicate = true
		}
	}
	if recent {
		points += toBasisPoints(s.config.RecentClaimWeight)
		signals = append(signals, SignalRecentPolicyClaim)
	}
	if duplicate {
		points += toBasisPoints(s.config.DuplicateAmountWeight)
		signals = append(signals, SignalDuplicateAmount)
	}

	if avg, ok := claimantAverage(c, history.Claims); ok && avg.IsPositive() {
		if c.ClaimedAmount.GreaterThan(avg.Mul(s.config.AmountMultiple)) {
			points += toBasisPoints(s.config.AmountOutlierWeight)
			signals = append(signals, SignalAmountOutlier)
		}
	}

	if !history.PolicyStart.IsZero() {
		start := truncateDay(history.PolicyStart)
		incident := truncateDay(c.IncidentDate)
		limit := start.AddDate(0, 0, s.config.NewPolicyDays)
		if !incident.Before(start) && !incident.After(limit) {
			points += toBasisPoints(s.config.NewPolicyWeight)
			signals = append(signals, SignalNewPolicy)
		}
	}

	if points < 0 {
		points = 0
	}
	if points > basisPoints {
		points = basisPoints
	}
	return FraudScore{
		Value:   float64(points) / basisPoints,
		Flagged: points > toBasisPoints(s.config.FlagThreshold),
		Signals: signals,
	}
}

func claimantAverage(c *Claim, claims []HistoricalClaim) (decimal.Decimal, bool) {
	total := decimal.Zero
	n := 0
	for _, h := range claims {
		if h.ID == c.ID || h.ClaimantID != c.ClaimantID {
			continue
		}
		total = total.Add(h.Amount)
		n++
	}
	if n == 0 {
		return decimal.Zero, false
	}
	return total.Div(decimal.NewFromInt(int64(n))), true
}

func toBasisPoints(weight float64) int {
	return int(math.Round(weight * basisPoints))
}
