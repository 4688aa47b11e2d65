package handler

import (
	"context"
	"errors"
	"fmt"
	"io"

	settlementapp "github.com/claimflow/backend/internal/application/settlement"
	"github.com/claimflow/backend/internal/domain/audit"
	"github.com/claimflow/backend/internal/domain/claim"
	"github.com/claimflow/backend/internal/domain/settlement"
	"github.com/claimflow/backend/internal/interfaces/http/dto"
	"github.com/claimflow/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ClaimService runs the single claim pipeline
type ClaimService interface {
	Process(ctx context.Context, id uuid.UUID, opts settlementapp.ProcessOptions) (*settlementapp.Outcome, error)
	SettleApproved(ctx context.Context, id uuid.UUID) (*settlementapp.Outcome, error)
	Review(ctx context.Context, id uuid.UUID, approve bool, reviewer string) (*claim.Claim, error)
}

// BatchSettler runs a bulk settlement
type BatchSettler interface {
	ProcessBatch(ctx context.Context, ids []uuid.UUID) (*settlement.BatchResult, error)
}

// AuditTrail reads the audit records of a claim
type AuditTrail interface {
	FindByClaim(ctx context.Context, claimID uuid.UUID) ([]audit.Record, error)
}

// ClaimHandler handles the claim settlement endpoints
type ClaimHandler struct {
	BaseHandler
	claims       ClaimService
	batches      BatchSettler
	trail        AuditTrail
	maxBatchSize int
}

// NewClaimHandler creates a new ClaimHandler
func NewClaimHandler(claims ClaimService, batches BatchSettler, trail AuditTrail, maxBatchSize int) *ClaimHandler {
	return &ClaimHandler{
		claims:       claims,
		batches:      batches,
		trail:        trail,
		maxBatchSize: maxBatchSize,
	}
}

// Process validates, scores and routes a NEW claim.
// POST /claims/:id/process with optional {"auto_settle": true}
func (h *ClaimHandler) Process(c *gin.Context) {
	id, ok := h.bindClaimID(c)
	if !ok {
		return
	}
	var req dto.ProcessClaimRequest
	// An empty body means default options
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.HandleValidationError(c, err)
		return
	}

	out, err := h.claims.Process(c.Request.Context(), id, settlementapp.ProcessOptions{AutoSettle: req.AutoSettle})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, out)
}

// Settle charges an APPROVED claim.
// POST /claims/:id/settle
func (h *ClaimHandler) Settle(c *gin.Context) {
	id, ok := h.bindClaimID(c)
	if !ok {
		return
	}
	out, err := h.claims.SettleApproved(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, out)
}

// Review records a reviewer's decision on an UNDER_REVIEW claim.
// POST /claims/:id/review
func (h *ClaimHandler) Review(c *gin.Context) {
	id, ok := h.bindClaimID(c)
	if !ok {
		return
	}
	var req dto.ReviewClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	updated, err := h.claims.Review(c.Request.Context(), id, *req.Approve, req.Reviewer)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, updated)
}

// SettleBatch processes and settles many claims. Per-claim failures are
// reported in the result; the call itself only fails if the batch could not
// be loaded.
// POST /claims/batch/settle
func (h *ClaimHandler) SettleBatch(c *gin.Context) {
	var req dto.BatchSettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	if h.maxBatchSize > 0 && len(req.ClaimIDs) > h.maxBatchSize {
		h.BadRequest(c, dto.ErrCodeBatchTooBig,
			fmt.Sprintf("batch of %d claims exceeds the limit of %d", len(req.ClaimIDs), h.maxBatchSize))
		return
	}

	ids := make([]uuid.UUID, len(req.ClaimIDs))
	for i, raw := range req.ClaimIDs {
		ids[i] = uuid.MustParse(raw)
	}

	result, err := h.batches.ProcessBatch(c.Request.Context(), ids)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// AuditTrail returns the audit records of a claim, oldest first.
// GET /claims/:id/audit
func (h *ClaimHandler) AuditTrail(c *gin.Context) {
	id, ok := h.bindClaimID(c)
	if !ok {
		return
	}
	records, err := h.trail.FindByClaim(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	for i := range records {
		records[i].Stack = ""
	}
	h.Success(c, records)
}
