package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/claimflow/backend/internal/domain/claim"
	"github.com/claimflow/backend/internal/domain/shared"
	"github.com/claimflow/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormClaimRepository implements ClaimRepository using GORM
type GormClaimRepository struct {
	db *gorm.DB
}

// NewGormClaimRepository creates a new GormClaimRepository
func NewGormClaimRepository(db *gorm.DB) *GormClaimRepository {
	return &GormClaimRepository{db: db}
}

var _ claim.ClaimRepository = (*GormClaimRepository)(nil)

// FindByID finds a claim with its line items
func (r *GormClaimRepository) FindByID(ctx context.Context, id uuid.UUID) (*claim.Claim, error) {
	var model models.ClaimModel
	if err := r.db.WithContext(ctx).Preload("LineItems").First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByIDs loads several claims in one query. Missing ids are skipped.
func (r *GormClaimRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*claim.Claim, error) {
	if len(ids) == 0 {
		return []*claim.Claim{}, nil
	}
	var rows []models.ClaimModel
	if err := r.db.WithContext(ctx).Preload("LineItems").Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	claims := make([]*claim.Claim, len(rows))
	for i := range rows {
		claims[i] = rows[i].ToDomain()
	}
	return claims, nil
}

// Update writes the mutable columns of a claim. The row is only written if
// its version still equals the version c was loaded or last written at, so
// a stale copy loses.
func (r *GormClaimRepository) Update(ctx context.Context, c *claim.Claim) error {
	model := models.ClaimModelFromDomain(c)
	if model.UpdatedAt.IsZero() {
		model.UpdatedAt = time.Now()
	}

	result := r.db.WithContext(ctx).
		Model(&models.ClaimModel{}).
		Where("id = ? AND version = ?", c.ID, c.StoredVersion()).
		Updates(model.MutableColumns())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		c.MarkStored()
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.ClaimModel{}).Where("id = ?", c.ID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return shared.ErrNotFound
	}
	return shared.ErrConcurrencyConflict
}

// BulkUpdate writes each claim separately so one conflict does not fail the
// others. Results are returned in input order.
func (r *GormClaimRepository) BulkUpdate(ctx context.Context, claims []*claim.Claim) []claim.UpdateResult {
	results := make([]claim.UpdateResult, len(claims))
	for i, c := range claims {
		results[i] = claim.UpdateResult{ClaimID: c.ID}
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		results[i].Err = r.Update(ctx, c)
	}
	return results
}

// History returns claims on the same policy or by the same claimant
// submitted at or after since, excluding c itself
func (r *GormClaimRepository) History(ctx context.Context, c *claim.Claim, since time.Time) ([]claim.HistoricalClaim, error) {
	var rows []models.ClaimModel
	err := r.db.WithContext(ctx).
		Select("id", "policy_id", "claimant_id", "claimed_amount", "submitted_at").
		Where("(policy_id = ? OR claimant_id = ?) AND id <> ? AND submitted_at >= ?",
			c.PolicyID, c.ClaimantID, c.ID, since).
		Order("submitted_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	history := make([]claim.HistoricalClaim, len(rows))
	for i, row := range rows {
		history[i] = claim.HistoricalClaim{
			ID:          row.ID,
			PolicyID:    row.PolicyID,
			ClaimantID:  row.ClaimantID,
			Amount:      row.ClaimedAmount,
			SubmittedAt: row.SubmittedAt,
		}
	}
	return history, nil
}

// Create inserts a new claim with its line items
func (r *GormClaimRepository) Create(ctx context.Context, c *claim.Claim) error {
	model := models.ClaimModelFromDomain(c)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(model).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return shared.ErrAlreadyExists
	}
	if err == nil {
		c.MarkStored()
	}
	return err
}

// GormPolicyRepository implements PolicyRepository using GORM
type GormPolicyRepository struct {
	db *gorm.DB
}

// NewGormPolicyRepository creates a new GormPolicyRepository
func NewGormPolicyRepository(db *gorm.DB) *GormPolicyRepository {
	return &GormPolicyRepository{db: db}
}

var _ claim.PolicyRepository = (*GormPolicyRepository)(nil)

// FindByID finds a policy by ID
func (r *GormPolicyRepository) FindByID(ctx context.Context, id uuid.UUID) (*claim.Policy, error) {
	var model models.PolicyModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Save inserts or replaces a policy. Used by seeding and tests.
func (r *GormPolicyRepository) Save(ctx context.Context, p *claim.Policy) error {
	return r.db.WithContext(ctx).Save(models.PolicyModelFromDomain(p)).Error
}
