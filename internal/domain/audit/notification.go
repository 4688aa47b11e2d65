package audit

import (
	"context"
	"time"

	"github.com/claimflow/backend/internal/domain/shared"
)

// Notification is a best-effort outbound message for operators
type Notification struct {
	Title     string
	Message   string
	Severity  shared.Severity
	Fields    map[string]string
	Timestamp time.Time
}

// Notifier delivers notifications. Callers never propagate its errors.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
