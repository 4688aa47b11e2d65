package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Counter records monotonically increasing values.
type Counter struct {
	counter metric.Int64Counter
}

// NewCounter creates a new Counter metric.
func NewCounter(meter metric.Meter, name, description, unit string) (*Counter, error) {
	c, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return &Counter{counter: c}, nil
}

// Add increments the counter by value.
func (c *Counter) Add(ctx context.Context, value int64, attrs ...attribute.KeyValue) {
	c.counter.Add(ctx, value, metric.WithAttributes(attrs...))
}

// Inc increments the counter by 1.
func (c *Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Histogram records value distributions.
type Histogram struct {
	histogram metric.Float64Histogram
}

// HistogramOpts provides options for creating a histogram.
type HistogramOpts struct {
	Name        string
	Description string
	Unit        string
	Boundaries  []float64
}

// NewHistogram creates a new Histogram metric.
func NewHistogram(meter metric.Meter, opts HistogramOpts) (*Histogram, error) {
	hOpts := []metric.Float64HistogramOption{
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	}
	if len(opts.Boundaries) > 0 {
		hOpts = append(hOpts, metric.WithExplicitBucketBoundaries(opts.Boundaries...))
	}
	h, err := meter.Float64Histogram(opts.Name, hOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", opts.Name, err)
	}
	return &Histogram{histogram: h}, nil
}

// RecordDuration records d in seconds.
func (h *Histogram) RecordDuration(ctx context.Context, d time.Duration, attrs ...attribute.KeyValue) {
	h.histogram.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

// Gauge records point-in-time values.
type Gauge struct {
	gauge metric.Int64Gauge
}

// NewGauge creates a new Gauge metric.
func NewGauge(meter metric.Meter, name, description, unit string) (*Gauge, error) {
	g, err := meter.Int64Gauge(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		return nil, fmt.Errorf("failed to create gauge %s: %w", name, err)
	}
	return &Gauge{gauge: g}, nil
}

// Record records the current value.
func (g *Gauge) Record(ctx context.Context, value int64, attrs ...attribute.KeyValue) {
	g.gauge.Record(ctx, value, metric.WithAttributes(attrs...))
}

// Metric attribute keys
var (
	AttrOutcome   = attribute.Key("outcome")
	AttrStatus    = attribute.Key("claim.status")
	AttrErrorKind = attribute.Key("error.kind")
	AttrEndpoint  = attribute.Key("endpoint")
	AttrResult    = attribute.Key("result")
)

var (
	// GatewayDurationBuckets cover a payment call up to its 30s timeout (seconds).
	GatewayDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30}

	// BatchDurationBuckets cover a bulk run (seconds).
	BatchDurationBuckets = []float64{0.5, 1, 5, 15, 30, 60, 120, 300}
)

// Circuit state gauge values
const (
	CircuitClosed   int64 = 0
	CircuitHalfOpen int64 = 1
	CircuitOpen     int64 = 2
)

// SettlementMetrics holds the pipeline's business metrics.
type SettlementMetrics struct {
	attempts        *Counter
	attemptDuration *Histogram
	outcomes        *Counter
	batchItems      *Counter
	batchDuration   *Histogram
	circuitState    *Gauge
}

// NewSettlementMetrics registers the pipeline instruments on meter.
func NewSettlementMetrics(meter metric.Meter) (*SettlementMetrics, error) {
	var (
		m   SettlementMetrics
		err error
	)
	if m.attempts, err = NewCounter(meter, "claims.settlement.attempts",
		"Payment gateway calls by outcome", "{attempt}"); err != nil {
		return nil, err
	}
	if m.attemptDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "claims.settlement.attempt.duration",
		Description: "Latency of a single payment gateway call",
		Unit:        "s",
		Boundaries:  GatewayDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.outcomes, err = NewCounter(meter, "claims.pipeline.outcomes",
		"Claims processed by final status and error kind", "{claim}"); err != nil {
		return nil, err
	}
	if m.batchItems, err = NewCounter(meter, "claims.batch.items",
		"Bulk settlement items by result", "{claim}"); err != nil {
		return nil, err
	}
	if m.batchDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "claims.batch.duration",
		Description: "Duration of a bulk settlement run",
		Unit:        "s",
		Boundaries:  BatchDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.circuitState, err = NewGauge(meter, "claims.circuit.state",
		"Circuit breaker state per endpoint (0 closed, 1 half-open, 2 open)", "{state}"); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordAttempt records one gateway call.
func (m *SettlementMetrics) RecordAttempt(ctx context.Context, outcome string, latency time.Duration) {
	m.attempts.Inc(ctx, AttrOutcome.String(outcome))
	m.attemptDuration.RecordDuration(ctx, latency, AttrOutcome.String(outcome))
}

// RecordOutcome records where a claim ended up after a pipeline pass.
func (m *SettlementMetrics) RecordOutcome(ctx context.Context, status, kind string) {
	m.outcomes.Inc(ctx, AttrStatus.String(status), AttrErrorKind.String(kind))
}

// RecordBatch records a finished bulk run.
func (m *SettlementMetrics) RecordBatch(ctx context.Context, succeeded, failed int, d time.Duration) {
	m.batchItems.Add(ctx, int64(succeeded), AttrResult.String("succeeded"))
	m.batchItems.Add(ctx, int64(failed), AttrResult.String("failed"))
	m.batchDuration.RecordDuration(ctx, d)
}

// RecordCircuitState records a breaker transition.
func (m *SettlementMetrics) RecordCircuitState(ctx context.Context, endpoint, state string) {
	m.circuitState.Record(ctx, CircuitStateValue(state), AttrEndpoint.String(endpoint))
}

// CircuitStateValue maps a breaker state name to its gauge value.
func CircuitStateValue(state string) int64 {
	switch state {
	case "OPEN":
		return CircuitOpen
	case "HALF_OPEN":
		return CircuitHalfOpen
	default:
		return CircuitClosed
	}
}
