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
	"github.com/claimflow/backend/internal/infrastructure/resilience"
	"github.com/claimflow/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Audit operation recorded for every gateway call
const OperationCharge = "settlement.charge"

// ClientConfig holds the settlement client's call policy
type ClientConfig struct {
	// Endpoint is the circuit breaker key for the payment capability
	Endpoint       string
	Retry          shared.RetryPolicy
	AttemptTimeout time.Duration
	// RateLimit is calls per second across all callers; zero disables throttling
	RateLimit float64
	RateBurst int
}

// DefaultClientConfig returns 3 retries at 1s/2s/4s with a 30s attempt timeout
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Endpoint:       "payment",
		Retry:          shared.DefaultRetryPolicy(),
		AttemptTimeout: 30 * time.Second,
		RateBurst:      10,
	}
}

// Client settles claims against the payment gateway with a per-attempt
// timeout, bounded retries and circuit breaker protection.
type Client struct {
	gateway  settlement.PaymentGateway
	breakers *resilience.Registry
	audit    *auditapp.Logger
	metrics  Metrics
	limiter  *rate.Limiter
	config   ClientConfig
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithClientMetrics reports attempts to m
func WithClientMetrics(m Metrics) ClientOption {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithClientLogger sets the diagnostic logger
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSleeper replaces the backoff wait. fn must return ctx.Err() when ctx
// ends before d elapses.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(c *Client) {
		c.sleep = fn
	}
}

// NewClient creates a settlement client
func NewClient(gateway settlement.PaymentGateway, breakers *resilience.Registry, auditLogger *auditapp.Logger, cfg ClientConfig, opts ...ClientOption) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "payment"
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}

	c := &Client{
		gateway:  gateway,
		breakers: breakers,
		audit:    auditLogger,
		metrics:  nopMetrics{},
		limiter:  rate.NewLimiter(limit, burst),
		config:   cfg,
		logger:   zap.NewNop(),
		sleep:    sleepContext,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the breaker key the client reports to
func (c *Client) Endpoint() string {
	return c.config.Endpoint
}

// Settle charges the claim's amount. It returns a receipt on a 2xx response
// or an error of kind CircuitOpen, SettlementRejected, SettlementExhausted or
// Cancelled.
func (c *Client) Settle(ctx context.Context, cl *claim.Claim) (*settlement.Receipt, error) {
	if cl == nil || cl.ID == uuid.Nil {
		return nil, shared.NewKindError(shared.KindValidation, "INVALID_SETTLEMENT_REQUEST",
			"settlement requires a persisted claim with an id")
	}
	if !cl.ClaimedAmount.IsPositive() {
		return nil, shared.NewKindError(shared.KindValidation, claim.ReasonNonPositiveAmount,
			fmt.Sprintf("claim %s cannot be settled for %s; the amount must be greater than 0", cl.ClaimNumber, cl.ClaimedAmount.String()))
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "settlement", "settle",
		telemetry.WithAttribute(telemetry.SpanAttrClaimID, cl.ID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrClaimNumber, cl.ClaimNumber),
		telemetry.WithAttribute(telemetry.SpanAttrAmount, cl.ClaimedAmount.String()),
		telemetry.WithAttribute(telemetry.SpanAttrEndpoint, c.config.Endpoint),
	)
	defer span.End()

	receipt, err := c.settle(ctx, span, cl)
	if err != nil {
		telemetry.SetAttributes(span, telemetry.SpanAttrErrorKind, string(shared.KindOf(err)))
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetOK(span)
	return receipt, nil
}

func (c *Client) settle(ctx context.Context, span trace.Span, cl *claim.Claim) (*settlement.Receipt, error) {
	breaker := c.breakers.Get(c.config.Endpoint)
	req := settlement.ChargeRequest{
		ClaimID:        cl.ID,
		ClaimNumber:    cl.ClaimNumber,
		Amount:         cl.ClaimedAmount,
		Currency:       cl.Currency,
		PolicyRef:      cl.PolicyID.String(),
		IdempotencyKey: shared.SettlementKey(cl.ID.String()),
	}
	maxAttempts := c.config.Retry.MaxAttempts()

	var lastErr error
	for attempt := 1; ; attempt++ {
		done := attempt - 1
		if breaker.IsOpen() {
			return nil, c.circuitOpen(cl, breaker, done, lastErr)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.cancelled(cl, done, err, lastErr)
		}
		if !breaker.Allow() {
			return nil, c.circuitOpen(cl, breaker, done, lastErr)
		}

		receipt, outcome, err := c.attempt(ctx, breaker, cl, req, attempt, maxAttempts)
		telemetry.AddEvent(span, "settlement.attempt",
			telemetry.SpanAttrAttempt, attempt,
			"outcome", outcome,
		)
		switch outcome {
		case OutcomeSuccess:
			receipt.Attempts = attempt
			return receipt, nil
		case OutcomeRejected:
			return nil, err
		case OutcomeCancelled:
			return nil, c.cancelled(cl, done+1, ctx.Err(), err)
		}

		lastErr = err
		if !c.config.Retry.CanRetry(attempt) {
			break
		}
		wait := c.config.Retry.Backoff(attempt)
		logger.WithLogger(ctx, c.logger).Warn("settlement attempt failed, backing off",
			zap.String("claim_number", cl.ClaimNumber),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, c.cancelled(cl, attempt, err, lastErr)
		}
	}

	return nil, shared.Wrap(shared.KindSettlementExhausted, "SETTLEMENT_EXHAUSTED", lastErr,
		"settlement of claim %s for %s %s failed after %d attempts: %v; the claim stays APPROVED, settle it again once the payment endpoint recovers",
		cl.ClaimNumber, cl.ClaimedAmount.String(), cl.Currency, maxAttempts, lastErr)
}

// attempt performs one gateway call, records its outcome on the breaker and
// audits it. A parent cancellation records nothing on the breaker.
func (c *Client) attempt(ctx context.Context, breaker *resilience.CircuitBreaker, cl *claim.Claim,
	req settlement.ChargeRequest, attempt, maxAttempts int) (*settlement.Receipt, string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.config.AttemptTimeout)
	start := c.now()
	receipt, err := c.gateway.Charge(attemptCtx, req)
	latency := c.now().Sub(start)
	cancel()

	if err == nil && (receipt == nil || receipt.TransactionRef == "") {
		err = settlement.ErrGatewayInvalidResponse
	}

	var (
		outcome string
		kind    shared.ErrorKind
		gwErr   *settlement.GatewayError
	)
	switch {
	case err == nil:
		outcome = OutcomeSuccess
		breaker.RecordSuccess()
	case ctx.Err() != nil:
		outcome = OutcomeCancelled
		kind = shared.KindCancelled
	case errors.As(err, &gwErr) && gwErr.IsClientError():
		// The endpoint answered; a 4xx says nothing about its health.
		outcome = OutcomeRejected
		kind = shared.KindSettlementRejected
		breaker.RecordSuccess()
		err = shared.Wrap(shared.KindSettlementRejected, "SETTLEMENT_REJECTED", err,
			"payment gateway rejected claim %s for %s %s: %v; correct the payout details before settling again",
			cl.ClaimNumber, cl.ClaimedAmount.String(), cl.Currency, err)
	case errors.As(err, &gwErr):
		outcome = OutcomeServer
		breaker.RecordFailure()
	case errors.Is(err, context.DeadlineExceeded):
		outcome = OutcomeTimeout
		kind = shared.KindSettlementTimeout
		breaker.RecordFailure()
		err = shared.Wrap(shared.KindSettlementTimeout, "SETTLEMENT_TIMEOUT", err,
			"payment call for claim %s timed out after %s", cl.ClaimNumber, c.config.AttemptTimeout)
	default:
		outcome = OutcomeTransport
		breaker.RecordFailure()
	}

	c.metrics.RecordAttempt(ctx, outcome, latency)
	c.auditAttempt(ctx, cl, attempt, maxAttempts, outcome, kind, latency, receipt, err)

	if err != nil {
		return nil, outcome, err
	}
	return receipt, outcome, nil
}

func (c *Client) auditAttempt(ctx context.Context, cl *claim.Claim, attempt, maxAttempts int, outcome string,
	kind shared.ErrorKind, latency time.Duration, receipt *settlement.Receipt, err error) {
	entry := auditapp.Entry{
		Kind:      kind,
		Severity:  shared.SeverityMedium,
		Operation: OperationCharge,
		ClaimID:   &cl.ID,
		Context: map[string]any{
			"claim_number": cl.ClaimNumber,
			"attempt":      attempt,
			"max_attempts": maxAttempts,
			"latency_ms":   latency.Milliseconds(),
			"outcome":      outcome,
			"endpoint":     c.config.Endpoint,
		},
	}
	var gwErr *settlement.GatewayError
	if errors.As(err, &gwErr) {
		entry.Context["status_code"] = gwErr.StatusCode
	}

	switch outcome {
	case OutcomeSuccess:
		entry.Severity = shared.SeverityLow
		entry.Message = fmt.Sprintf("settlement attempt %d of %d for claim %s succeeded in %s (transaction %s)",
			attempt, maxAttempts, cl.ClaimNumber, latency, receipt.TransactionRef)
		entry.Context["transaction_ref"] = receipt.TransactionRef
	case OutcomeCancelled:
		entry.Severity = shared.SeverityLow
		entry.Message = fmt.Sprintf("settlement attempt %d of %d for claim %s was cancelled after %s",
			attempt, maxAttempts, cl.ClaimNumber, latency)
	default:
		entry.Message = fmt.Sprintf("settlement attempt %d of %d for claim %s failed in %s: %v",
			attempt, maxAttempts, cl.ClaimNumber, latency, err)
	}
	c.audit.Log(ctx, entry)
}

func (c *Client) circuitOpen(cl *claim.Claim, breaker *resilience.CircuitBreaker, attempts int, lastErr error) error {
	open := breaker.OpenError()
	if attempts == 0 {
		return open
	}
	return shared.Wrap(shared.KindCircuitOpen, open.Code, lastErr,
		"%s; settlement of claim %s stopped after %d attempts, last error: %v", open.Message, cl.ClaimNumber, attempts, lastErr)
}

func (c *Client) cancelled(cl *claim.Claim, attempts int, cause, lastErr error) error {
	msg := fmt.Sprintf("settlement of claim %s was cancelled after %d attempts", cl.ClaimNumber, attempts)
	if lastErr != nil {
		msg += fmt.Sprintf(", last error: %v", lastErr)
	}
	return shared.Wrap(shared.KindCancelled, "SETTLEMENT_CANCELLED", errors.Join(cause, lastErr),
		"%s; the claim stays APPROVED and can be settled again", msg)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
