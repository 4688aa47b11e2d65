package audit

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/claimflow/backend/internal/domain/audit"
	"github.com/claimflow/backend/internal/domain/shared"
	"github.com/claimflow/backend/internal/infrastructure/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type MockSink struct {
	mock.Mock
}

func (m *MockSink) Append(ctx context.Context, record audit.Record) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockSink) AppendBatch(ctx context.Context, records []audit.Record) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, n audit.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func newObservedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func TestLogger_Log_DerivesKindAndSeverity(t *testing.T) {
	sink := new(MockSink)
	var got audit.Record
	sink.On("Append", mock.Anything, mock.AnythingOfType("audit.Record")).
		Run(func(args mock.Arguments) { got = args.Get(1).(audit.Record) }).
		Return(nil)

	l := NewLogger(LoggerConfig{Sink: sink})
	claimID := uuid.New()
	err := shared.NewKindError(shared.KindValidation, "LINE_ITEM_SUM_MISMATCH",
		"claimed amount 10000 does not equal line-item sum 9500")

	l.LogError(context.Background(), "claim.validate", &claimID, err, map[string]any{"claim_number": "CLM-1"})

	sink.AssertExpectations(t)
	assert.Equal(t, shared.KindValidation, got.Kind)
	assert.Equal(t, shared.SeverityLow, got.Severity)
	assert.Equal(t, "claim.validate", got.Operation)
	assert.Equal(t, &claimID, got.ClaimID)
	assert.Equal(t, "claimed amount 10000 does not equal line-item sum 9500", got.Message)
	assert.Equal(t, "LINE_ITEM_SUM_MISMATCH", got.Context["code"])
	assert.Equal(t, "CLM-1", got.Context["claim_number"])
	assert.Empty(t, got.Stack)
	assert.NotEqual(t, uuid.Nil, got.ID)
}

func TestLogger_Log_CarriesRequestContext(t *testing.T) {
	sink := new(MockSink)
	var got audit.Record
	sink.On("Append", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { got = args.Get(1).(audit.Record) }).
		Return(nil)

	ctx, _ := logger.WithRequestID(context.Background(), zap.NewNop(), "req-7")
	ctx, _ = logger.WithActor(ctx, zap.NewNop(), "adjuster-3")
	NewLogger(LoggerConfig{Sink: sink}).Log(ctx, Entry{Operation: "claim.route", Message: "routed"})

	assert.Equal(t, "req-7", got.Context["request_id"])
	assert.Equal(t, "adjuster-3", got.Context["actor"])
	assert.Equal(t, shared.KindNone, got.Kind)
	assert.Equal(t, shared.SeverityLow, got.Severity)
}

func TestLogger_Log_TruncatesLargeMessages(t *testing.T) {
	sink := new(MockSink)
	var got audit.Record
	sink.On("Append", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { got = args.Get(1).(audit.Record) }).
		Return(nil)

	huge := strings.Repeat("x", audit.MaxMessageBytes*2)
	NewLogger(LoggerConfig{Sink: sink}).Log(context.Background(), Entry{Operation: "settlement.charge", Message: huge})

	assert.LessOrEqual(t, len(got.Message), audit.MaxMessageBytes)
	assert.True(t, strings.HasSuffix(got.Message, "...[truncated]"))
}

func TestLogger_Log_SinkFailureFallsBackOnce(t *testing.T) {
	sink := new(MockSink)
	sink.On("Append", mock.Anything, mock.Anything).Return(errors.New("connection refused"))
	fallback, logs := newObservedLogger()

	l := NewLogger(LoggerConfig{Sink: sink, Fallback: fallback})
	assert.NotPanics(t, func() {
		l.Log(context.Background(), Entry{Operation: "claim.route", Kind: shared.KindRouting, Message: "no tier"})
	})

	entries := logs.FilterMessage("audit sink append failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "claim.route", entries[0].ContextMap()["operation"])
	assert.Equal(t, "MEDIUM", entries[0].ContextMap()["severity"])
}

func TestLogger_Log_CriticalNotifiesWithStack(t *testing.T) {
	sink := new(MockSink)
	var got audit.Record
	sink.On("Append", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { got = args.Get(1).(audit.Record) }).
		Return(nil)
	notifier := new(MockNotifier)
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n audit.Notification) bool {
		return n.Severity == shared.SeverityCritical &&
			n.Fields["kind"] == string(shared.KindSettlementExhausted) &&
			strings.Contains(n.Title, "settlement.settle")
	})).Return(nil)

	claimID := uuid.New()
	err := shared.Wrap(shared.KindSettlementExhausted, "SETTLEMENT_EXHAUSTED", errors.New("503"),
		"settlement of claim CLM-9 failed after 4 attempts: 503")
	NewLogger(LoggerConfig{Sink: sink, Notifier: notifier}).LogError(context.Background(), "settlement.settle", &claimID, err, nil)

	notifier.AssertExpectations(t)
	assert.Equal(t, shared.SeverityCritical, got.Severity)
	assert.NotEmpty(t, got.Stack)
}

func TestLogger_Log_NotifierFailureIsSwallowed(t *testing.T) {
	sink := new(MockSink)
	sink.On("Append", mock.Anything, mock.Anything).Return(nil)
	notifier := new(MockNotifier)
	notifier.On("Notify", mock.Anything, mock.Anything).Return(errors.New("webhook 429"))
	fallback, logs := newObservedLogger()

	l := NewLogger(LoggerConfig{Sink: sink, Notifier: notifier, Fallback: fallback})
	l.LogError(context.Background(), "claim.process", nil, errors.New("nil pointer"), nil)

	assert.Equal(t, 1, logs.FilterMessage("notification delivery failed").Len())
}

func TestLogger_Log_StillWritesAfterCancel(t *testing.T) {
	sink := new(MockSink)
	sink.On("Append", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }), mock.Anything).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewLogger(LoggerConfig{Sink: sink}).Log(ctx, Entry{Operation: "settlement.charge", Kind: shared.KindCancelled})

	sink.AssertExpectations(t)
}

func TestLogger_LogBatch_SingleSinkCall(t *testing.T) {
	sink := new(MockSink)
	var got []audit.Record
	sink.On("AppendBatch", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { got = args.Get(1).([]audit.Record) }).
		Return(nil).Once()
	notifier := new(MockNotifier)
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n audit.Notification) bool {
		return n.Fields["critical"] == "2" && n.Fields["total"] == "3"
	})).Return(nil).Once()

	entries := []Entry{
		{Operation: "bulk.settle", Err: shared.NewKindError(shared.KindValidation, "NON_POSITIVE_AMOUNT", "amount 0")},
		{Operation: "bulk.settle", Err: shared.NewKindError(shared.KindSettlementExhausted, "SETTLEMENT_EXHAUSTED", "gave up")},
		{Operation: "bulk.settle", Err: errors.New("unexpected")},
	}
	NewLogger(LoggerConfig{Sink: sink, Notifier: notifier}).LogBatch(context.Background(), entries)

	sink.AssertNumberOfCalls(t, "AppendBatch", 1)
	sink.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	notifier.AssertExpectations(t)
	require.Len(t, got, 3)
	assert.Equal(t, shared.SeverityLow, got[0].Severity)
	assert.Equal(t, shared.SeverityCritical, got[1].Severity)
	assert.Equal(t, shared.KindProcessing, got[2].Kind)
}

func TestLogger_LogBatch_Empty(t *testing.T) {
	sink := new(MockSink)
	NewLogger(LoggerConfig{Sink: sink}).LogBatch(context.Background(), nil)
	sink.AssertNotCalled(t, "AppendBatch", mock.Anything, mock.Anything)
}

func TestLogger_LogBatch_SinkFailureKeepsReasons(t *testing.T) {
	sink := new(MockSink)
	sink.On("AppendBatch", mock.Anything, mock.Anything).Return(errors.New("relation audit_records does not exist")).Once()
	fallback, logs := newObservedLogger()

	claimID := uuid.New()
	entries := []Entry{
		{Operation: "claim.bulk_settle", ClaimID: &claimID,
			Err: shared.NewKindError(shared.KindValidation, "LINE_ITEM_SUM_MISMATCH", "claimed amount 10000 does not equal line-item sum 9500")},
		{Operation: "claim.bulk_settle", Err: shared.NewKindError(shared.KindCancelled, "BATCH_CANCELLED", "claim CLM-7 was not finished")},
	}
	NewLogger(LoggerConfig{Sink: sink, Fallback: fallback}).LogBatch(context.Background(), entries)

	lines := logs.FilterMessage("audit sink batch append failed").All()
	require.Len(t, lines, 1)
	records, ok := lines[0].ContextMap()["audit_records"].([]interface{})
	require.True(t, ok)
	require.Len(t, records, 2)

	first := records[0].(map[string]interface{})
	assert.Equal(t, "claim.bulk_settle", first["operation"])
	assert.Equal(t, claimID.String(), first["claim_id"])
	assert.Equal(t, "LINE_ITEM_SUM_MISMATCH", first["code"])
	assert.Equal(t, "claimed amount 10000 does not equal line-item sum 9500", first["message"])
	assert.Equal(t, "claim CLM-7 was not finished", records[1].(map[string]interface{})["message"])
}
