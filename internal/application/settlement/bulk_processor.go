package settlement

import (
	"context"
	"fmt"
	"time"

	auditapp "github.com/claimflow/backend/internal/application/audit"
	"github.com/claimflow/backend/internal/domain/audit"
	"github.com/claimflow/backend/internal/domain/claim"
	"github.com/claimflow/backend/internal/domain/settlement"
	"github.com/claimflow/backend/internal/domain/shared"
	"github.com/claimflow/backend/internal/infrastructure/logger"
	"github.com/claimflow/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// OperationBulk is the audit operation for batch failures
const OperationBulk = "claim.bulk_settle"

// BulkConfig holds batch limits
type BulkConfig struct {
	// MaxWorkers caps concurrent items; the pool is min(len(batch), MaxWorkers)
	MaxWorkers int
	// BatchTimeout bounds the whole run; unfinished items end up Cancelled
	BatchTimeout time.Duration
	// AutoSettle charges claims that are, or become, APPROVED
	AutoSettle bool
}

// DefaultBulkConfig returns 16 workers, a 4 minute budget and settlement on
func DefaultBulkConfig() BulkConfig {
	return BulkConfig{
		MaxWorkers:   16,
		BatchTimeout: 4 * time.Minute,
		AutoSettle:   true,
	}
}

// BulkProcessor fans a batch of claims through the orchestrator. Every
// input yields exactly one outcome and a failing item never stops the run.
type BulkProcessor struct {
	orchestrator *Orchestrator
	config       BulkConfig
	now          func() time.Time
}

// NewBulkProcessor creates a bulk processor on top of o
func NewBulkProcessor(o *Orchestrator, cfg BulkConfig) *BulkProcessor {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultBulkConfig().MaxWorkers
	}
	return &BulkProcessor{orchestrator: o, config: cfg, now: time.Now}
}

type bulkItem struct {
	claim   *claim.Claim
	status  claim.Status
	plan    *Plan
	receipt *settlement.Receipt
	err     error
	entry   *auditapp.Entry
}

func (it *bulkItem) fail(err error) {
	it.err = err
}

func (it *bulkItem) cancel(cause error) {
	it.err = shared.Wrap(shared.KindCancelled, "BATCH_CANCELLED", cause,
		"claim %s was not finished before the batch was cancelled: %v; submit it again", it.claim.ClaimNumber, cause)
}

// ProcessBatch loads the claims in one read and processes them. Unknown and
// repeated ids are reported as failures.
func (p *BulkProcessor) ProcessBatch(ctx context.Context, ids []uuid.UUID) (*settlement.BatchResult, error) {
	unique := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	var pre []settlement.ItemOutcome
	for _, id := range ids {
		if seen[id] {
			err := shared.NewKindError(shared.KindValidation, "DUPLICATE_IN_BATCH",
				fmt.Sprintf("claim %s appears more than once in the batch; it was processed once", id))
			pre = append(pre, failureOutcome(id, "", "", err))
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}

	claims, err := p.orchestrator.claims.FindByIDs(ctx, unique)
	if err != nil {
		return nil, shared.Wrap(shared.KindStore, "BATCH_READ_FAILED", err,
			"loading %d claims for the batch failed: %v; retry the batch once the store is reachable", len(unique), err)
	}

	found := make(map[uuid.UUID]bool, len(claims))
	for _, c := range claims {
		found[c.ID] = true
	}
	for _, id := range unique {
		if !found[id] {
			err := shared.Wrap(shared.KindStore, "CLAIM_NOT_FOUND", shared.ErrNotFound,
				"claim %s was not found; check the claim id", id)
			pre = append(pre, failureOutcome(id, "", "", err))
		}
	}
	return p.run(ctx, claims, pre), nil
}

// ProcessClaims processes already loaded claims
func (p *BulkProcessor) ProcessClaims(ctx context.Context, claims []*claim.Claim) *settlement.BatchResult {
	return p.run(ctx, claims, nil)
}

func (p *BulkProcessor) run(ctx context.Context, claims []*claim.Claim, pre []settlement.ItemOutcome) *settlement.BatchResult {
	o := p.orchestrator
	result := &settlement.BatchResult{
		BatchID:   uuid.New(),
		Succeeded: make([]settlement.ItemOutcome, 0, len(claims)),
		Failed:    append([]settlement.ItemOutcome(nil), pre...),
		StartedAt: p.now(),
	}
	ctx, log := logger.WithBatchID(ctx, o.logger, result.BatchID.String())
	if p.config.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.BatchTimeout)
		defer cancel()
	}
	ctx, span := telemetry.StartServiceSpan(ctx, "bulk", "process",
		telemetry.WithAttribute(telemetry.SpanAttrBatchID, result.BatchID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrBatchSize, len(claims)+len(pre)),
	)
	defer span.End()

	items := make([]*bulkItem, len(claims))
	for i, c := range claims {
		items[i] = &bulkItem{claim: c, status: c.Status}
	}

	p.each(ctx, items, func(ctx context.Context, it *bulkItem) {
		plan, err := o.Evaluate(ctx, it.claim)
		if err != nil {
			it.fail(err)
			return
		}
		it.plan = plan
	})

	notices := p.checkpoint(ctx, items)

	if p.config.AutoSettle {
		var approved []*bulkItem
		for _, it := range items {
			if it.err == nil && it.plan.Claim.Status == claim.StatusApproved {
				approved = append(approved, it)
			}
		}
		p.each(ctx, approved, func(ctx context.Context, it *bulkItem) {
			receipt, entry, err := o.settle(ctx, it.plan.Claim)
			if err != nil {
				if !shared.InTaxonomy(err) {
					err = o.unexpected(it.plan.Claim, err)
					entry = nil
					o.compensate(ctx, it.plan, err)
				}
				e := entryOr(entry, it.plan.Claim, err)
				it.entry = &e
				it.status = it.plan.Claim.Status
				it.fail(err)
				return
			}
			it.receipt = receipt
		})
	}

	entries := make([]auditapp.Entry, 0, len(result.Failed)+len(notices))
	for _, f := range pre {
		id := f.ClaimID
		entries = append(entries, auditapp.Entry{
			Kind:      f.Kind,
			Operation: OperationBulk,
			ClaimID:   &id,
			Message:   f.Reason,
			Context:   map[string]any{"code": f.Code},
		})
	}

	settled := decimal.Zero
	for _, it := range items {
		if it.err != nil {
			result.Failed = append(result.Failed, failureOutcome(it.claim.ID, it.claim.ClaimNumber, string(it.status), it.err))
			entry := it.entry
			if entry == nil {
				entry = &auditapp.Entry{Operation: OperationBulk, ClaimID: &it.claim.ID, Err: it.err, Context: claimFields(it.claim)}
			}
			entries = append(entries, *entry)
			o.metrics.RecordOutcome(ctx, string(it.status), string(shared.KindOf(it.err)))
			continue
		}
		outcome := settlement.ItemOutcome{
			ClaimID:     it.claim.ID,
			ClaimNumber: it.claim.ClaimNumber,
			Status:      string(it.plan.Claim.Status),
		}
		if it.receipt != nil {
			outcome.SettlementRef = it.receipt.TransactionRef
			settled = settled.Add(it.receipt.Amount)
		}
		result.Succeeded = append(result.Succeeded, outcome)
		o.metrics.RecordOutcome(ctx, outcome.Status, "")
	}
	entries = append(entries, notices...)
	result.FinishedAt = p.now()

	o.audit.LogBatch(ctx, entries)
	o.metrics.RecordBatch(ctx, len(result.Succeeded), len(result.Failed), result.Duration())
	p.notifySummary(ctx, result, settled)

	telemetry.SetAttributes(span, "succeeded", len(result.Succeeded), "failed", len(result.Failed))
	log.Info("bulk settlement finished",
		zap.Int("succeeded", len(result.Succeeded)),
		zap.Int("failed", len(result.Failed)),
		zap.Duration("duration", result.Duration()),
	)
	return result
}

// checkpoint writes all routing decisions with one BulkUpdate. It returns
// the fraud review records of the items that were written.
func (p *BulkProcessor) checkpoint(ctx context.Context, items []*bulkItem) []auditapp.Entry {
	o := p.orchestrator
	var routed []*bulkItem
	for _, it := range items {
		if it.err == nil && it.plan.Routed() {
			routed = append(routed, it)
		}
	}
	if len(routed) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		for _, it := range routed {
			it.cancel(err)
		}
		return nil
	}

	batch := make([]*claim.Claim, len(routed))
	for i, it := range routed {
		batch[i] = it.plan.Claim
	}
	results := make(map[uuid.UUID]error, len(routed))
	reported := make(map[uuid.UUID]bool, len(routed))
	for _, r := range o.claims.BulkUpdate(ctx, batch) {
		results[r.ClaimID] = r.Err
		reported[r.ClaimID] = true
	}

	var notices []auditapp.Entry
	for _, it := range routed {
		err := results[it.claim.ID]
		if !reported[it.claim.ID] {
			err = fmt.Errorf("bulk update returned no result for claim %s", it.claim.ID)
		}
		if err != nil {
			it.fail(o.checkpointFailed(ctx, it.plan, err))
			continue
		}
		it.status = it.plan.Claim.Status
		if entry := routingEntry(it.plan); entry != nil {
			entry.Operation = OperationBulk
			notices = append(notices, *entry)
		}
		o.publish(ctx, it.plan.Claim)
	}
	return notices
}

// each runs fn over the unfailed items on a pool of min(len(items),
// MaxWorkers) goroutines. Items not started before ctx ends are cancelled.
func (p *BulkProcessor) each(ctx context.Context, items []*bulkItem, fn func(context.Context, *bulkItem)) {
	workers := p.config.MaxWorkers
	if workers > len(items) {
		workers = len(items)
	}
	if workers == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for _, it := range items {
		if it.err != nil {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				it.cancel(err)
				return nil
			}
			defer func() {
				if r := recover(); r != nil {
					it.fail(shared.Wrap(shared.KindProcessing, "UNEXPECTED_FAILURE", fmt.Errorf("panic: %v", r),
						"processing claim %s failed unexpectedly: %v; the claim was left in its last consistent status", it.claim.ClaimNumber, r))
					if it.status != it.claim.Status && p.orchestrator.compensate(ctx, it.plan, it.err) {
						it.status = it.claim.Status
					} else if it.plan != nil && it.plan.Claim.StoredVersion() == it.plan.Claim.Version {
						it.status = it.plan.Claim.Status
					}
				}
			}()
			fn(ctx, it)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *BulkProcessor) notifySummary(ctx context.Context, r *settlement.BatchResult, settled decimal.Decimal) {
	severity := shared.SeverityLow
	if len(r.Failed) > 0 {
		severity = shared.SeverityMedium
	}
	fields := map[string]string{
		"batch_id":       r.BatchID.String(),
		"succeeded":      fmt.Sprintf("%d", len(r.Succeeded)),
		"failed":         fmt.Sprintf("%d", len(r.Failed)),
		"duration":       r.Duration().Round(time.Millisecond).String(),
		"settled_amount": settled.StringFixed(2),
	}
	for kind, n := range r.CountByKind() {
		fields["failed_"+string(kind)] = fmt.Sprintf("%d", n)
	}
	p.orchestrator.audit.Notify(ctx, audit.Notification{
		Title: "Bulk settlement finished",
		Message: fmt.Sprintf("%d of %d claims succeeded, %d failed in %s",
			len(r.Succeeded), r.Total(), len(r.Failed), r.Duration().Round(time.Millisecond)),
		Severity:  severity,
		Fields:    fields,
		Timestamp: r.FinishedAt,
	})
}

func failureOutcome(id uuid.UUID, number, status string, err error) settlement.ItemOutcome {
	return settlement.ItemOutcome{
		ClaimID:     id,
		ClaimNumber: number,
		Status:      status,
		Kind:        shared.KindOf(err),
		Code:        shared.CodeOf(err),
		Reason:      err.Error(),
	}
}
