package audit

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/claimflow/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// MaxMessageBytes caps a stored audit message; longer messages are truncated
const MaxMessageBytes = 131072

const truncationMarker = "...[truncated]"

// Record is an immutable audit trail entry
type Record struct {
	ID        uuid.UUID        `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	Kind      shared.ErrorKind `json:"kind,omitempty"`
	Severity  shared.Severity  `json:"severity"`
	Operation string           `json:"operation"`
	ClaimID   *uuid.UUID       `json:"claim_id,omitempty"`
	Message   string           `json:"message"`
	Context   map[string]any   `json:"context,omitempty"`
	Stack     string           `json:"stack,omitempty"`
}

// Sink is the append-only audit store
type Sink interface {
	Append(ctx context.Context, record Record) error
	// AppendBatch writes all records in a single call
	AppendBatch(ctx context.Context, records []Record) error
}

// TruncateMessage cuts msg to MaxMessageBytes without splitting a rune.
func TruncateMessage(msg string) string {
	return truncate(msg, MaxMessageBytes)
}

func truncate(msg string, limit int) string {
	if len(msg) <= limit {
		return msg
	}
	cut := limit - len(truncationMarker)
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut] + truncationMarker
}
