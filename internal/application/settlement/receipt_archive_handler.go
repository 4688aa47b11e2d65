package settlement

import (
	"context"
	"fmt"

	"github.com/claimflow/backend/internal/domain/claim"
	"github.com/claimflow/backend/internal/domain/settlement"
	"github.com/claimflow/backend/internal/domain/shared"
	"go.uber.org/zap"
)

var _ shared.EventHandler = (*ReceiptArchiveHandler)(nil)

// ReceiptArchiveHandler handles ClaimPaidEvent
// and stores a copy of the settlement receipt in the archive
type ReceiptArchiveHandler struct {
	archive settlement.ReceiptArchive
	logger  *zap.Logger
}

// NewReceiptArchiveHandler creates a new handler for claim paid events
func NewReceiptArchiveHandler(archive settlement.ReceiptArchive, logger *zap.Logger) *ReceiptArchiveHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReceiptArchiveHandler{
		archive: archive,
		logger:  logger,
	}
}

// EventTypes returns the event types this handler is interested in
func (h *ReceiptArchiveHandler) EventTypes() []string {
	return []string{claim.EventTypeClaimPaid}
}

// Handle archives the receipt described by a ClaimPaidEvent.
// The archive skips receipts it already holds, so redelivery is harmless.
func (h *ReceiptArchiveHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	paid, ok := event.(*claim.ClaimPaidEvent)
	if !ok {
		h.logger.Error("unexpected event type",
			zap.String("expected", claim.EventTypeClaimPaid),
			zap.String("actual", event.EventType()),
		)
		return fmt.Errorf("unexpected event type: expected %s, got %s",
			claim.EventTypeClaimPaid, event.EventType())
	}
	if paid.SettlementRef == "" {
		h.logger.Warn("claim paid event without settlement reference, skipping",
			zap.String("claim_id", paid.ClaimID.String()),
		)
		return nil
	}

	receipt := &settlement.Receipt{
		TransactionRef: paid.SettlementRef,
		ClaimID:        paid.ClaimID,
		Amount:         paid.Amount,
		Currency:       paid.Currency,
		SettledAt:      paid.SettledAt,
	}
	key, err := h.archive.Put(ctx, paid.ClaimNumber, receipt)
	if err != nil {
		h.logger.Error("failed to archive settlement receipt",
			zap.String("claim_id", paid.ClaimID.String()),
			zap.String("transaction_ref", paid.SettlementRef),
			zap.Error(err),
		)
		return fmt.Errorf("failed to archive receipt for claim %s: %w", paid.ClaimNumber, err)
	}

	h.logger.Info("settlement receipt archived",
		zap.String("claim_number", paid.ClaimNumber),
		zap.String("key", key),
	)
	return nil
}
