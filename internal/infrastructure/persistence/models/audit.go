package models

import (
	"time"

	"github.com/claimflow/backend/internal/domain/audit"
	"github.com/claimflow/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// AuditRecordModel is the persistence model for an audit trail entry.
// Rows are append-only.
type AuditRecordModel struct {
	ID        uuid.UUID        `gorm:"type:uuid;primary_key"`
	Timestamp time.Time        `gorm:"column:recorded_at;not null;index"`
	Kind      shared.ErrorKind `gorm:"type:varchar(32);index"`
	Severity  shared.Severity  `gorm:"type:varchar(16);not null;index"`
	Operation string           `gorm:"type:varchar(64);not null"`
	ClaimID   *uuid.UUID       `gorm:"type:uuid;index"`
	Message   string           `gorm:"type:text;not null"`
	Context   map[string]any   `gorm:"type:text;serializer:json"`
	Stack     string           `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (AuditRecordModel) TableName() string {
	return "audit_records"
}

// ToDomain converts the persistence model to a domain Record.
func (m *AuditRecordModel) ToDomain() audit.Record {
	return audit.Record{
		ID:        m.ID,
		Timestamp: m.Timestamp,
		Kind:      m.Kind,
		Severity:  m.Severity,
		Operation: m.Operation,
		ClaimID:   m.ClaimID,
		Message:   m.Message,
		Context:   m.Context,
		Stack:     m.Stack,
	}
}

// AuditRecordModelFromDomain creates a new persistence model from a domain Record.
func AuditRecordModelFromDomain(r audit.Record) *AuditRecordModel {
	return &AuditRecordModel{
		ID:        r.ID,
		Timestamp: r.Timestamp,
		Kind:      r.Kind,
		Severity:  r.Severity,
		Operation: r.Operation,
		ClaimID:   r.ClaimID,
		Message:   r.Message,
		Context:   r.Context,
		Stack:     r.Stack,
	}
}
