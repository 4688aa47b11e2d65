package claim

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UpdateResult is the per-item outcome of a bulk update
type UpdateResult struct {
	ClaimID uuid.UUID
	Err     error
}

// ClaimRepository is the claim store the pipeline reads and patches.
type ClaimRepository interface {
	// FindByID returns the claim with its line items
	FindByID(ctx context.Context, id uuid.UUID) (*Claim, error)
	// FindByIDs loads several claims in one query; missing ids are skipped
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*Claim, error)
	// Update writes the claim's mutable fields, guarded by its version
	Update(ctx context.Context, c *Claim) error
	// BulkUpdate writes several claims and reports each one separately
	BulkUpdate(ctx context.Context, claims []*Claim) []UpdateResult
	// History returns claims sharing c's policy or claimant submitted since the
	// given time, excluding c
	History(ctx context.Context, c *Claim, since time.Time) ([]HistoricalClaim, error)
	// Create inserts a new claim with its line items
	Create(ctx context.Context, c *Claim) error
}

// PolicyRepository is the read-only policy store
type PolicyRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Policy, error)
}
