package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	auditapp "github.com/claimflow/backend/internal/application/audit"
	"github.com/claimflow/backend/internal/domain/claim"
	"github.com/claimflow/backend/internal/domain/settlement"
	"github.com/claimflow/backend/internal/domain/shared"
	"github.com/claimflow/backend/internal/infrastructure/logger"
	"github.com/claimflow/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Audit operations recorded by the orchestrator
const (
	OperationProcess = "claim.process"
	OperationSettle  = "claim.settle"
	OperationReview  = "claim.review"
)

// ProcessOptions controls a single orchestration pass
type ProcessOptions struct {
	// AutoSettle charges an auto-approved claim in the same pass
	AutoSettle bool
}

// Outcome is the result of a successful pass
type Outcome struct {
	Claim    *claim.Claim           `json:"claim"`
	Decision *claim.RoutingDecision `json:"decision,omitempty"`
	Receipt  *settlement.Receipt    `json:"receipt,omitempty"`
}

// Plan is an evaluated claim whose routing has not been written yet
type Plan struct {
	// Claim is a working copy with the routing decision applied
	Claim    *claim.Claim
	Before   claim.Snapshot
	Decision *claim.RoutingDecision
}

// Routed reports whether the plan carries a routing checkpoint to write.
// An already approved claim goes straight to settlement.
func (p *Plan) Routed() bool {
	return p.Decision != nil
}

// OrchestratorConfig holds the orchestrator collaborators. Lock, Events and
// Metrics are optional.
type OrchestratorConfig struct {
	Claims     claim.ClaimRepository
	Policies   claim.PolicyRepository
	Validator  *claim.ValidationEngine
	Scorer     *claim.FraudScorer
	Router     *claim.ApprovalRouter
	Settler    Settler
	Audit      *auditapp.Logger
	Lock       shared.SettlementLock
	LockTTL    time.Duration
	Events     shared.EventPublisher
	Metrics    Metrics
	Logger     *zap.Logger
	Validation claim.ValidationOptions
}

// Orchestrator drives one claim through validation, routing and settlement.
// The routing write is a checkpoint: an unexpected failure after it writes
// the captured pre-state back.
type Orchestrator struct {
	claims     claim.ClaimRepository
	policies   claim.PolicyRepository
	validator  *claim.ValidationEngine
	scorer     *claim.FraudScorer
	router     *claim.ApprovalRouter
	settler    Settler
	audit      *auditapp.Logger
	lock       shared.SettlementLock
	lockTTL    time.Duration
	events     shared.EventPublisher
	metrics    Metrics
	logger     *zap.Logger
	validation claim.ValidationOptions
}

// NewOrchestrator creates a settlement orchestrator
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	o := &Orchestrator{
		claims:     cfg.Claims,
		policies:   cfg.Policies,
		validator:  cfg.Validator,
		scorer:     cfg.Scorer,
		router:     cfg.Router,
		settler:    cfg.Settler,
		audit:      cfg.Audit,
		lock:       cfg.Lock,
		lockTTL:    cfg.LockTTL,
		events:     cfg.Events,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		validation: cfg.Validation,
	}
	if o.validator == nil {
		o.validator = claim.NewValidationEngine()
	}
	if o.scorer == nil {
		o.scorer = claim.NewFraudScorer(claim.DefaultFraudConfig())
	}
	if o.router == nil {
		o.router = claim.NewApprovalRouter()
	}
	if o.audit == nil {
		o.audit = auditapp.NewLogger(auditapp.LoggerConfig{Fallback: cfg.Logger})
	}
	if o.lockTTL <= 0 {
		o.lockTTL = shared.DefaultSettlementLockConfig().TTL
	}
	if o.metrics == nil {
		o.metrics = nopMetrics{}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// Process loads the claim and runs one pass over it
func (o *Orchestrator) Process(ctx context.Context, id uuid.UUID, opts ProcessOptions) (*Outcome, error) {
	c, err := o.load(ctx, id)
	if err != nil {
		o.audit.LogError(ctx, OperationProcess, &id, err, nil)
		o.metrics.RecordOutcome(ctx, "", string(shared.KindOf(err)))
		return nil, err
	}
	return o.ProcessClaim(ctx, c, opts)
}

// ProcessClaim validates, scores and routes c, writes the routing checkpoint
// and, when opts.AutoSettle is set and the claim was auto-approved, settles it.
// Every failure is audited here exactly once.
func (o *Orchestrator) ProcessClaim(ctx context.Context, c *claim.Claim, opts ProcessOptions) (out *Outcome, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "orchestrator", "process",
		telemetry.WithAttribute(telemetry.SpanAttrClaimID, c.ID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrClaimNumber, c.ClaimNumber),
	)
	defer span.End()

	var plan *Plan
	checkpointed := false
	defer func() {
		if r := recover(); r != nil {
			err = shared.Wrap(shared.KindProcessing, "UNEXPECTED_FAILURE", fmt.Errorf("panic: %v", r),
				"processing claim %s failed unexpectedly: %v; the claim was left in its last consistent status", c.ClaimNumber, r)
			if checkpointed {
				o.compensate(ctx, plan, err)
			}
			out = nil
			o.audit.LogError(ctx, OperationProcess, &c.ID, err, claimFields(c))
		}
		if err != nil {
			telemetry.RecordError(span, err)
			o.metrics.RecordOutcome(ctx, string(c.Status), string(shared.KindOf(err)))
		}
	}()

	plan, err = o.Evaluate(ctx, c)
	if err != nil {
		o.audit.LogError(ctx, OperationProcess, &c.ID, err, claimFields(c))
		return nil, err
	}
	if !plan.Routed() {
		err = shared.NewKindError(shared.KindInvalidTransition, "ALREADY_ROUTED",
			fmt.Sprintf("claim %s is already %s; use settle to pay an approved claim", c.ClaimNumber, c.Status))
		o.audit.LogError(ctx, OperationProcess, &c.ID, err, claimFields(c))
		return nil, err
	}

	if err = o.checkpoint(ctx, plan); err != nil {
		o.audit.LogError(ctx, OperationProcess, &c.ID, err, claimFields(c))
		return nil, err
	}
	checkpointed = true
	working := plan.Claim
	telemetry.SetAttributes(span,
		telemetry.SpanAttrClaimStatus, string(working.Status),
		telemetry.SpanAttrTier, string(working.Tier),
		telemetry.SpanAttrFraudScore, working.FraudScore,
	)
	if entry := routingEntry(plan); entry != nil {
		o.audit.Log(ctx, *entry)
	}
	o.publish(ctx, working)

	out = &Outcome{Claim: working, Decision: plan.Decision}
	if working.Status != claim.StatusApproved || !opts.AutoSettle {
		o.metrics.RecordOutcome(ctx, string(working.Status), "")
		return out, nil
	}

	receipt, entry, err := o.settle(ctx, working)
	if err != nil {
		if !shared.InTaxonomy(err) {
			err = o.unexpected(working, err)
			entry = nil
			o.compensate(ctx, plan, err)
		}
		o.audit.Log(ctx, entryOr(entry, working, err))
		return nil, err
	}
	out.Receipt = receipt
	o.metrics.RecordOutcome(ctx, string(working.Status), "")
	return out, nil
}

// Evaluate reads the claim's policy and history, then validates, scores and
// routes it on a working copy. Nothing is written and nothing is audited.
func (o *Orchestrator) Evaluate(ctx context.Context, c *claim.Claim) (*Plan, error) {
	if c.Status == claim.StatusApproved {
		return &Plan{Claim: c.Clone(), Before: c.Snapshot()}, nil
	}
	if c.Status != claim.StatusNew {
		return nil, shared.NewKindError(shared.KindInvalidTransition, "NOT_ROUTABLE",
			fmt.Sprintf("claim %s is %s; only NEW claims can be validated and routed", c.ClaimNumber, c.Status))
	}

	policy, err := o.policies.FindByID(ctx, c.PolicyID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, shared.Wrap(shared.KindStore, "POLICY_READ_FAILED", err,
			"loading policy %s for claim %s failed: %v; retry once the store is reachable", c.PolicyID, c.ClaimNumber, err)
	}
	if err != nil {
		policy = nil
	}

	validated, err := o.validator.Validate(c, policy, o.validation)
	if err != nil {
		return nil, err
	}

	prior, err := o.claims.History(ctx, c, o.scorer.HistorySince(c))
	if err != nil {
		return nil, shared.Wrap(shared.KindStore, "HISTORY_READ_FAILED", err,
			"loading claim history for %s failed: %v; retry once the store is reachable", c.ClaimNumber, err)
	}
	score := o.scorer.Score(c, claim.ClaimHistory{PolicyStart: policy.EffectiveFrom, Claims: prior})

	decision, err := o.router.Route(validated, score)
	if err != nil {
		return nil, err
	}

	working := c.Clone()
	if err := working.ApplyRouting(decision); err != nil {
		return nil, err
	}
	return &Plan{Claim: working, Before: c.Snapshot(), Decision: &decision}, nil
}

// SettleApproved charges a claim that is already APPROVED, whether by auto
// approval or by a reviewer, and marks it PAID.
func (o *Orchestrator) SettleApproved(ctx context.Context, id uuid.UUID) (*Outcome, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "orchestrator", "settle",
		telemetry.WithAttribute(telemetry.SpanAttrClaimID, id.String()))
	defer span.End()

	c, err := o.load(ctx, id)
	if err != nil {
		o.audit.LogError(ctx, OperationSettle, &id, err, nil)
		telemetry.RecordError(span, err)
		return nil, err
	}
	if !c.Status.CanSettle() {
		err = shared.NewKindError(shared.KindInvalidTransition, "NOT_SETTLEABLE",
			fmt.Sprintf("claim %s is %s; only APPROVED claims can be settled", c.ClaimNumber, c.Status))
		o.audit.LogError(ctx, OperationSettle, &c.ID, err, claimFields(c))
		telemetry.RecordError(span, err)
		return nil, err
	}

	working := c.Clone()
	receipt, entry, err := o.settle(ctx, working)
	if err != nil {
		if !shared.InTaxonomy(err) {
			err = o.unexpected(working, err)
			entry = nil
		}
		o.audit.Log(ctx, entryOr(entry, working, err))
		o.metrics.RecordOutcome(ctx, string(c.Status), string(shared.KindOf(err)))
		telemetry.RecordError(span, err)
		return nil, err
	}
	o.metrics.RecordOutcome(ctx, string(working.Status), "")
	return &Outcome{Claim: working, Receipt: receipt}, nil
}

// Review records a reviewer decision on an UNDER_REVIEW claim
func (o *Orchestrator) Review(ctx context.Context, id uuid.UUID, approve bool, reviewer string) (*claim.Claim, error) {
	c, err := o.load(ctx, id)
	if err != nil {
		o.audit.LogError(ctx, OperationReview, &id, err, nil)
		return nil, err
	}
	working := c.Clone()
	if err := working.Review(approve, reviewer); err != nil {
		o.audit.LogError(ctx, OperationReview, &c.ID, err, claimFields(c))
		return nil, err
	}
	if err := o.claims.Update(ctx, working); err != nil {
		err = storeError(working, "review", err)
		o.audit.LogError(ctx, OperationReview, &c.ID, err, claimFields(working))
		return nil, err
	}
	o.audit.Log(ctx, auditapp.Entry{
		Operation: OperationReview,
		ClaimID:   &working.ID,
		Message:   fmt.Sprintf("claim %s %s by %s", working.ClaimNumber, working.Status, reviewer),
		Context:   map[string]any{"claim_number": working.ClaimNumber, "reviewer": reviewer, "status": string(working.Status)},
	})
	o.publish(ctx, working)
	return working, nil
}

func (o *Orchestrator) load(ctx context.Context, id uuid.UUID) (*claim.Claim, error) {
	c, err := o.claims.FindByID(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, shared.Wrap(shared.KindStore, "CLAIM_NOT_FOUND", err,
			"claim %s was not found; check the claim id", id)
	}
	if err != nil {
		return nil, shared.Wrap(shared.KindStore, "CLAIM_READ_FAILED", err,
			"loading claim %s failed: %v; retry once the store is reachable", id, err)
	}
	return c, nil
}

// checkpoint writes the routing decision
func (o *Orchestrator) checkpoint(ctx context.Context, plan *Plan) error {
	if err := o.claims.Update(ctx, plan.Claim); err != nil {
		return o.checkpointFailed(ctx, plan, err)
	}
	return nil
}

// checkpointFailed classifies a failed checkpoint write. A conflict means the
// row was never written. Any other error may hide a write that landed, so the
// revert is attempted against the version the checkpoint would have stored;
// when nothing landed it matches no row.
func (o *Orchestrator) checkpointFailed(ctx context.Context, plan *Plan, err error) error {
	wrapped := storeError(plan.Claim, "routing checkpoint", err)
	if !errors.Is(err, shared.ErrConcurrencyConflict) {
		plan.Claim.MarkStored()
		o.compensate(ctx, plan, wrapped)
	}
	return wrapped
}

// settle charges c and marks it PAID. On failure c stays APPROVED and the
// returned entry is the audit record the caller must log.
func (o *Orchestrator) settle(ctx context.Context, c *claim.Claim) (*settlement.Receipt, *auditapp.Entry, error) {
	fail := func(err error) (*settlement.Receipt, *auditapp.Entry, error) {
		c.AddDomainEvent(claim.NewClaimSettlementFailedEvent(c, err))
		o.publish(ctx, c)
		entry := entryOr(nil, c, err)
		return nil, &entry, err
	}

	if o.lock != nil {
		key := shared.SettlementKey(c.ID.String())
		acquired, err := o.lock.Acquire(ctx, key, o.lockTTL)
		if err != nil {
			return fail(shared.Wrap(shared.KindStore, "SETTLEMENT_LOCK_FAILED", err,
				"acquiring the settlement lock for claim %s failed: %v; retry once the lock store is reachable", c.ClaimNumber, err))
		}
		if !acquired {
			return fail(shared.Wrap(shared.KindStore, shared.ErrSettlementInFlight.Code, shared.ErrSettlementInFlight,
				"claim %s is already being settled by another request; check its status before retrying", c.ClaimNumber))
		}
		defer func() {
			if err := o.lock.Release(context.WithoutCancel(ctx), key); err != nil {
				logger.WithLogger(ctx, o.logger).Warn("settlement lock release failed",
					zap.String("claim_number", c.ClaimNumber), zap.Error(err))
			}
		}()
	}

	receipt, err := o.settler.Settle(ctx, c)
	if err != nil {
		if !shared.InTaxonomy(err) {
			return nil, nil, err
		}
		return fail(err)
	}

	if err := c.MarkPaid(receipt.TransactionRef, receipt.SettledAt); err != nil {
		return nil, nil, err
	}
	if err := o.claims.Update(context.WithoutCancel(ctx), c); err != nil {
		// The charge went through; the record must be reconciled by hand or
		// by settling again under the same idempotency key.
		err = shared.Wrap(shared.KindStore, "PAID_WRITE_FAILED", err,
			"claim %s was charged (transaction %s) but marking it PAID failed: %v; settle it again, the idempotency key prevents a second charge",
			c.ClaimNumber, receipt.TransactionRef, err)
		return nil, &auditapp.Entry{
			Severity:  shared.SeverityCritical,
			Operation: OperationSettle,
			ClaimID:   &c.ID,
			Err:       err,
			Context:   map[string]any{"claim_number": c.ClaimNumber, "transaction_ref": receipt.TransactionRef},
		}, err
	}

	logger.WithLogger(ctx, o.logger).Info("claim settled",
		zap.String("claim_number", c.ClaimNumber),
		zap.String("transaction_ref", receipt.TransactionRef),
		zap.Int("attempts", receipt.Attempts),
	)
	o.publish(ctx, c)
	return receipt, nil, nil
}

// compensate writes the pre-checkpoint fields back and reports whether it
// did. The write is guarded on the version the checkpoint stored, so a row
// changed since then is left alone. A claim that reached a terminal status,
// PAID in particular, is never reverted. It runs even when ctx is cancelled.
func (o *Orchestrator) compensate(ctx context.Context, plan *Plan, cause error) bool {
	if plan == nil || !plan.Routed() {
		return false
	}
	c := plan.Claim
	log := logger.WithLogger(ctx, o.logger).With(
		zap.String("claim_number", c.ClaimNumber),
		zap.NamedError("cause", cause),
	)
	if c.Status.IsTerminal() || c.SettlementRef != nil {
		log.Error("compensating revert skipped for a settled claim",
			zap.String("status", string(c.Status)))
		return false
	}
	c.Restore(plan.Before)
	c.ClearDomainEvents()
	if err := o.claims.Update(context.WithoutCancel(ctx), c); err != nil {
		if errors.Is(err, shared.ErrConcurrencyConflict) {
			log.Warn("compensating revert skipped, claim changed since the checkpoint")
			return false
		}
		log.Error("compensating revert failed",
			zap.String("restore_status", string(plan.Before.Status)),
			zap.Error(err),
		)
		return false
	}
	log.Warn("claim restored to pre-checkpoint state", zap.String("status", string(c.Status)))
	return true
}

func (o *Orchestrator) unexpected(c *claim.Claim, err error) error {
	return shared.Wrap(shared.KindProcessing, "UNEXPECTED_FAILURE", err,
		"processing claim %s failed unexpectedly: %v; the claim was left in its last consistent status", c.ClaimNumber, err)
}

func (o *Orchestrator) publish(ctx context.Context, c *claim.Claim) {
	events := c.GetDomainEvents()
	if o.events == nil || len(events) == 0 {
		c.ClearDomainEvents()
		return
	}
	if err := o.events.Publish(ctx, events...); err != nil {
		logger.WithLogger(ctx, o.logger).Warn("publishing claim events failed",
			zap.String("claim_number", c.ClaimNumber),
			zap.Int("events", len(events)),
			zap.Error(err),
		)
	}
	c.ClearDomainEvents()
}

// routingEntry returns the fraud review record for a flagged decision
func routingEntry(plan *Plan) *auditapp.Entry {
	if plan.Decision == nil || !plan.Decision.Flagged() {
		return nil
	}
	c := plan.Claim
	return &auditapp.Entry{
		Severity:  shared.SeverityMedium,
		Operation: OperationProcess,
		ClaimID:   &c.ID,
		Message:   claim.FraudReviewMessage,
		Context: map[string]any{
			"claim_number": c.ClaimNumber,
			"fraud_score":  plan.Decision.Score.Value,
			"signals":      plan.Decision.Score.Signals,
			"tier":         string(plan.Decision.Tier),
		},
	}
}

// entryOr returns *e, or a failure record for c built from err
func entryOr(e *auditapp.Entry, c *claim.Claim, err error) auditapp.Entry {
	if e != nil {
		return *e
	}
	return auditapp.Entry{Operation: OperationSettle, ClaimID: &c.ID, Err: err, Context: claimFields(c)}
}

func storeError(c *claim.Claim, what string, err error) error {
	if errors.Is(err, shared.ErrConcurrencyConflict) {
		return shared.Wrap(shared.KindStore, shared.ErrConcurrencyConflict.Code, err,
			"claim %s was modified by another request during the %s write; reload it and retry", c.ClaimNumber, what)
	}
	return shared.Wrap(shared.KindStore, "CLAIM_WRITE_FAILED", err,
		"writing the %s for claim %s failed: %v; retry once the store is reachable", what, c.ClaimNumber, err)
}

func claimFields(c *claim.Claim) map[string]any {
	return map[string]any{
		"claim_number": c.ClaimNumber,
		"status":       string(c.Status),
		"amount":       c.ClaimedAmount.String(),
	}
}
