package persistence

import (
	"context"

	"github.com/claimflow/backend/internal/domain/audit"
	"github.com/claimflow/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const auditBatchSize = 500

// GormAuditSink implements audit.Sink using GORM. It only ever inserts.
type GormAuditSink struct {
	db *gorm.DB
}

// NewGormAuditSink creates a new GormAuditSink
func NewGormAuditSink(db *gorm.DB) *GormAuditSink {
	return &GormAuditSink{db: db}
}

var _ audit.Sink = (*GormAuditSink)(nil)

// Append inserts a single record
func (s *GormAuditSink) Append(ctx context.Context, record audit.Record) error {
	return s.db.WithContext(ctx).Create(models.AuditRecordModelFromDomain(record)).Error
}

// AppendBatch inserts all records in one transaction
func (s *GormAuditSink) AppendBatch(ctx context.Context, records []audit.Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]*models.AuditRecordModel, len(records))
	for i, r := range records {
		rows[i] = models.AuditRecordModelFromDomain(r)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(rows, auditBatchSize).Error
	})
}

// FindByClaim returns the audit trail of a claim, oldest first
func (s *GormAuditSink) FindByClaim(ctx context.Context, claimID uuid.UUID) ([]audit.Record, error) {
	var rows []models.AuditRecordModel
	err := s.db.WithContext(ctx).
		Where("claim_id = ?", claimID).
		Order("recorded_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	records := make([]audit.Record, len(rows))
	for i := range rows {
		records[i] = rows[i].ToDomain()
	}
	return records, nil
}
