package audit

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/claimflow/backend/internal/domain/audit"
	"github.com/claimflow/backend/internal/domain/shared"
	"github.com/claimflow/backend/internal/infrastructure/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Entry is one event to record in the audit trail. Kind and Severity are
// derived from Err when left empty.
type Entry struct {
	Kind      shared.ErrorKind
	Severity  shared.Severity
	Operation string
	ClaimID   *uuid.UUID
	Message   string
	Context   map[string]any
	Err       error
}

// Logger writes audit records to the sink and escalates critical ones to
// the notifier. It never returns an error: sink and notifier failures are
// written once to the fallback logger.
type Logger struct {
	sink     audit.Sink
	notifier audit.Notifier
	fallback *zap.Logger
	now      func() time.Time
}

// LoggerConfig holds the audit logger collaborators
type LoggerConfig struct {
	Sink     audit.Sink
	Notifier audit.Notifier
	Fallback *zap.Logger
}

// NewLogger creates a new audit Logger
func NewLogger(cfg LoggerConfig) *Logger {
	fallback := cfg.Fallback
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return &Logger{
		sink:     cfg.Sink,
		notifier: cfg.Notifier,
		fallback: fallback.Named("audit"),
		now:      time.Now,
	}
}

// Log records a single entry
func (l *Logger) Log(ctx context.Context, e Entry) {
	record := l.record(ctx, e)
	// Audit writes outlive the caller's deadline; a cancelled batch must
	// still leave its trail.
	writeCtx := context.WithoutCancel(ctx)

	if l.sink == nil {
		l.fallbackRecord(writeCtx, "audit sink not configured", record, nil)
	} else if err := l.sink.Append(writeCtx, record); err != nil {
		l.fallbackRecord(writeCtx, "audit sink append failed", record, err)
	}

	if record.Severity == shared.SeverityCritical {
		l.notify(writeCtx, audit.Notification{
			Title:     fmt.Sprintf("Critical failure in %s", record.Operation),
			Message:   record.Message,
			Severity:  record.Severity,
			Fields:    notificationFields(record),
			Timestamp: record.Timestamp,
		})
	}
}

// LogError records err for operation, classifying it by its kind
func (l *Logger) LogError(ctx context.Context, operation string, claimID *uuid.UUID, err error, kv map[string]any) {
	if err == nil {
		return
	}
	l.Log(ctx, Entry{Operation: operation, ClaimID: claimID, Err: err, Context: kv})
}

// LogBatch records all entries with one sink call. Critical entries are
// summarized into a single notification.
func (l *Logger) LogBatch(ctx context.Context, entries []Entry) {
	if len(entries) == 0 {
		return
	}
	writeCtx := context.WithoutCancel(ctx)

	records := make([]audit.Record, 0, len(entries))
	critical := 0
	for _, e := range entries {
		r := l.record(ctx, e)
		if r.Severity == shared.SeverityCritical {
			critical++
		}
		records = append(records, r)
	}

	if l.sink == nil {
		l.fallback.Warn("audit sink not configured, batch dropped to log",
			zap.Int("records", len(records)),
			zap.Array("audit_records", recordList(records)),
		)
	} else if err := l.sink.AppendBatch(writeCtx, records); err != nil {
		logger.WithLogger(writeCtx, l.fallback).Error("audit sink batch append failed",
			zap.Int("records", len(records)),
			zap.Array("audit_records", recordList(records)),
			zap.Error(err),
		)
	}

	if critical > 0 {
		first := records[0]
		for _, r := range records {
			if r.Severity == shared.SeverityCritical {
				first = r
				break
			}
		}
		l.notify(writeCtx, audit.Notification{
			Title:    fmt.Sprintf("%d critical failures in %s", critical, first.Operation),
			Message:  first.Message,
			Severity: shared.SeverityCritical,
			Fields: map[string]string{
				"critical": fmt.Sprintf("%d", critical),
				"total":    fmt.Sprintf("%d", len(records)),
			},
			Timestamp: l.now(),
		})
	}
}

// Notify forwards an operator notification, swallowing failures
func (l *Logger) Notify(ctx context.Context, n audit.Notification) {
	l.notify(context.WithoutCancel(ctx), n)
}

func (l *Logger) notify(ctx context.Context, n audit.Notification) {
	if l.notifier == nil {
		return
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = l.now()
	}
	if err := l.notifier.Notify(ctx, n); err != nil {
		logger.WithLogger(ctx, l.fallback).Warn("notification delivery failed",
			zap.String("title", n.Title),
			zap.Error(err),
		)
	}
}

func (l *Logger) record(ctx context.Context, e Entry) audit.Record {
	kind := e.Kind
	if kind == shared.KindNone && e.Err != nil {
		kind = shared.KindOf(e.Err)
	}
	severity := e.Severity
	if severity == "" {
		severity = shared.SeverityFor(kind)
	}
	message := e.Message
	if message == "" && e.Err != nil {
		message = e.Err.Error()
	}

	fields := make(map[string]any, len(e.Context)+4)
	for k, v := range e.Context {
		fields[k] = v
	}
	if code := shared.CodeOf(e.Err); code != "" {
		fields["code"] = code
	}
	if id := logger.GetRequestID(ctx); id != "" {
		fields["request_id"] = id
	}
	if actor := logger.GetActor(ctx); actor != "" {
		fields["actor"] = actor
	}
	if batchID := logger.GetBatchID(ctx); batchID != "" {
		fields["batch_id"] = batchID
	}
	if traceID := logger.GetTraceID(ctx); traceID != "" {
		fields["trace_id"] = traceID
	}
	if len(fields) == 0 {
		fields = nil
	}

	r := audit.Record{
		ID:        uuid.New(),
		Timestamp: l.now(),
		Kind:      kind,
		Severity:  severity,
		Operation: e.Operation,
		ClaimID:   e.ClaimID,
		Message:   audit.TruncateMessage(message),
		Context:   fields,
	}
	if severity == shared.SeverityCritical {
		r.Stack = string(debug.Stack())
	}
	return r
}

func (l *Logger) fallbackRecord(ctx context.Context, msg string, r audit.Record, err error) {
	fields := []zap.Field{
		zap.String("operation", r.Operation),
		zap.String("kind", string(r.Kind)),
		zap.String("severity", string(r.Severity)),
		zap.String("audit_message", r.Message),
	}
	if r.ClaimID != nil {
		fields = append(fields, zap.String("claim_id", r.ClaimID.String()))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	logger.WithLogger(ctx, l.fallback).Error(msg, fields...)
}

// recordList renders a batch that missed the sink into the fallback line
type recordList []audit.Record

func (rs recordList) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for i := range rs {
		r := rs[i]
		if err := enc.AppendObject(zapcore.ObjectMarshalerFunc(func(o zapcore.ObjectEncoder) error {
			o.AddString("operation", r.Operation)
			o.AddString("kind", string(r.Kind))
			o.AddString("severity", string(r.Severity))
			if r.ClaimID != nil {
				o.AddString("claim_id", r.ClaimID.String())
			}
			if code, ok := r.Context["code"].(string); ok {
				o.AddString("code", code)
			}
			o.AddString("message", r.Message)
			return nil
		})); err != nil {
			return err
		}
	}
	return nil
}

func notificationFields(r audit.Record) map[string]string {
	fields := map[string]string{
		"kind":     string(r.Kind),
		"severity": string(r.Severity),
	}
	if r.ClaimID != nil {
		fields["claim_id"] = r.ClaimID.String()
	}
	if code, ok := r.Context["code"].(string); ok {
		fields["code"] = code
	}
	return fields
}
