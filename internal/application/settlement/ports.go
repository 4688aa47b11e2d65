package settlement

import (
	"context"
	"time"

	"github.com/claimflow/backend/internal/domain/claim"
	"github.com/claimflow/backend/internal/domain/settlement"
)

// Settler charges an approved claim. *Client is the production implementation.
type Settler interface {
	Settle(ctx context.Context, c *claim.Claim) (*settlement.Receipt, error)
}

// Metrics receives pipeline measurements. *telemetry.SettlementMetrics
// satisfies it.
type Metrics interface {
	RecordAttempt(ctx context.Context, outcome string, latency time.Duration)
	RecordOutcome(ctx context.Context, status, kind string)
	RecordBatch(ctx context.Context, succeeded, failed int, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordAttempt(context.Context, string, time.Duration) {}
func (nopMetrics) RecordOutcome(context.Context, string, string)        {}
func (nopMetrics) RecordBatch(context.Context, int, int, time.Duration) {}

// Attempt outcomes reported to Metrics
const (
	OutcomeSuccess   = "success"
	OutcomeRejected  = "rejected"
	OutcomeServer    = "server_error"
	OutcomeTransport = "transport_error"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
)
