package settlement

import (
	"time"

	"github.com/claimflow/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// ItemOutcome is the result for one claim of a batch
type ItemOutcome struct {
	ClaimID       uuid.UUID        `json:"claim_id"`
	ClaimNumber   string           `json:"claim_number,omitempty"`
	Status        string           `json:"status,omitempty"`
	SettlementRef string           `json:"settlement_ref,omitempty"`
	Kind          shared.ErrorKind `json:"kind,omitempty"`
	Code          string           `json:"code,omitempty"`
	Reason        string           `json:"reason,omitempty"`
}

// Failed reports whether the outcome is a failure
func (o ItemOutcome) Failed() bool {
	return o.Kind != shared.KindNone
}

// BatchResult collects per-item outcomes of a batch run. Every input claim
// appears exactly once in Succeeded or Failed.
type BatchResult struct {
	BatchID    uuid.UUID     `json:"batch_id"`
	Succeeded  []ItemOutcome `json:"succeeded"`
	Failed     []ItemOutcome `json:"failed"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Total returns the number of outcomes
func (r *BatchResult) Total() int {
	return len(r.Succeeded) + len(r.Failed)
}

// Duration returns how long the batch took
func (r *BatchResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// FailureFor returns the failure outcome for a claim, if any
func (r *BatchResult) FailureFor(claimID uuid.UUID) (ItemOutcome, bool) {
	for _, f := range r.Failed {
		if f.ClaimID == claimID {
			return f, true
		}
	}
	return ItemOutcome{}, false
}

// CountByKind groups failures by kind
func (r *BatchResult) CountByKind() map[shared.ErrorKind]int {
	counts := make(map[shared.ErrorKind]int)
	for _, f := range r.Failed {
		counts[f.Kind]++
	}
	return counts
}
