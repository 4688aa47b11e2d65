package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	auditapp "github.com/claimflow/backend/internal/application/audit"
	"github.com/claimflow/backend/internal/domain/audit"
	"github.com/claimflow/backend/internal/domain/claim"
	"github.com/claimflow/backend/internal/domain/settlement"
	"github.com/claimflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeClaimStore is an in-memory claim.ClaimRepository
type fakeClaimStore struct {
	mu        sync.Mutex
	claims    map[uuid.UUID]*claim.Claim
	bulkFail  map[uuid.UUID]error
	bulkSizes []int
	updates   []claim.Status
	lookups   [][]uuid.UUID
}

func newFakeClaimStore(claims ...*claim.Claim) *fakeClaimStore {
	s := &fakeClaimStore{claims: map[uuid.UUID]*claim.Claim{}, bulkFail: map[uuid.UUID]error{}}
	for _, c := range claims {
		s.claims[c.ID] = c
	}
	return s
}

func (s *fakeClaimStore) FindByID(_ context.Context, id uuid.UUID) (*claim.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *fakeClaimStore) FindByIDs(_ context.Context, ids []uuid.UUID) ([]*claim.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups = append(s.lookups, ids)
	out := make([]*claim.Claim, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.claims[id]; ok {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

func (s *fakeClaimStore) Update(_ context.Context, c *claim.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, c.Status)
	c.MarkStored()
	s.claims[c.ID] = c.Clone()
	return nil
}

func (s *fakeClaimStore) BulkUpdate(_ context.Context, claims []*claim.Claim) []claim.UpdateResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkSizes = append(s.bulkSizes, len(claims))
	results := make([]claim.UpdateResult, 0, len(claims))
	for _, c := range claims {
		if err := s.bulkFail[c.ID]; err != nil {
			results = append(results, claim.UpdateResult{ClaimID: c.ID, Err: err})
			continue
		}
		c.MarkStored()
		s.claims[c.ID] = c.Clone()
		results = append(results, claim.UpdateResult{ClaimID: c.ID})
	}
	return results
}

func (s *fakeClaimStore) History(context.Context, *claim.Claim, time.Time) ([]claim.HistoricalClaim, error) {
	return nil, nil
}

func (s *fakeClaimStore) Create(_ context.Context, c *claim.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims[c.ID] = c.Clone()
	return nil
}

func (s *fakeClaimStore) status(id uuid.UUID) claim.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims[id].Status
}

type settleFunc func(ctx context.Context, c *claim.Claim) (*settlement.Receipt, error)

func (f settleFunc) Settle(ctx context.Context, c *claim.Claim) (*settlement.Receipt, error) {
	return f(ctx, c)
}

func instantSettle(_ context.Context, c *claim.Claim) (*settlement.Receipt, error) {
	return &settlement.Receipt{
		TransactionRef: "TX-" + c.ClaimNumber,
		ClaimID:        c.ID,
		Amount:         c.ClaimedAmount,
		Currency:       c.Currency,
		SettledAt:      time.Now(),
		Attempts:       1,
	}, nil
}

// recordingNotifier collects notifications
type recordingNotifier struct {
	mu   sync.Mutex
	sent []audit.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg audit.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

type bulkFixture struct {
	store    *fakeClaimStore
	sink     *memorySink
	notifier *recordingNotifier
	policy   *claim.Policy
}

func newBulkFixture(claims ...*claim.Claim) *bulkFixture {
	return &bulkFixture{
		store:    newFakeClaimStore(claims...),
		sink:     &memorySink{},
		notifier: &recordingNotifier{},
		policy: &claim.Policy{
			ID:             uuid.New(),
			PolicyNumber:   "POL-BULK",
			Status:         claim.PolicyStatusActive,
			CoverageAmount: decimal.NewFromInt(1000000),
			EffectiveFrom:  time.Now().AddDate(-3, 0, 0),
		},
	}
}

func (f *bulkFixture) processor(settler Settler, cfg BulkConfig) *BulkProcessor {
	policies := new(MockPolicyRepository)
	policies.On("FindByID", mock.Anything, mock.Anything).Return(f.policy, nil)
	o := NewOrchestrator(OrchestratorConfig{
		Claims:   f.store,
		Policies: policies,
		Settler:  settler,
		Audit:    auditapp.NewLogger(auditapp.LoggerConfig{Sink: f.sink, Notifier: f.notifier}),
	})
	return NewBulkProcessor(o, cfg)
}

func makeClaims(t *testing.T, n int, amount string) []*claim.Claim {
	t.Helper()
	out := make([]*claim.Claim, n)
	for i := range out {
		out[i] = newTestClaim(t, amount)
		out[i].ClaimNumber = fmt.Sprintf("CLM-%04d", i)
	}
	return out
}

func TestBulkProcessor_TwoHundredItemsOneValidationFailure(t *testing.T) {
	claims := makeClaims(t, 200, "1000")
	bad := claims[57]
	bad.ClaimedAmount = decimal.NewFromInt(10000)
	bad.AddLineItem(claim.NewLineItem("roof", decimal.NewFromInt(9500), "property"))
	f := newBulkFixture(claims...)

	result := f.processor(settleFunc(instantSettle), BulkConfig{MaxWorkers: 8, AutoSettle: true}).
		ProcessClaims(context.Background(), claims)

	require.Equal(t, 200, result.Total())
	assert.Len(t, result.Succeeded, 199)
	require.Len(t, result.Failed, 1)
	failure := result.Failed[0]
	assert.Equal(t, bad.ID, failure.ClaimID)
	assert.Equal(t, shared.KindValidation, failure.Kind)
	assert.Equal(t, claim.ReasonLineItemSumMismatch, failure.Code)
	assert.Equal(t, "claimed amount 10000 does not equal line-item sum 9500", failure.Reason)
	assert.Equal(t, string(claim.StatusNew), failure.Status)

	for _, s := range result.Succeeded {
		assert.Equal(t, string(claim.StatusPaid), s.Status)
		assert.Equal(t, "TX-"+s.ClaimNumber, s.SettlementRef)
	}
	assert.Equal(t, []int{199}, f.store.bulkSizes)
	assert.Equal(t, claim.StatusNew, f.store.status(bad.ID))

	assert.Equal(t, 1, f.sink.batches)
	records := f.sink.byOperation(OperationBulk)
	require.Len(t, records, 1)
	assert.Equal(t, failure.Reason, records[0].Message)

	require.Len(t, f.notifier.sent, 1)
	summary := f.notifier.sent[0]
	assert.Equal(t, "199", summary.Fields["succeeded"])
	assert.Equal(t, "1", summary.Fields["failed"])
	assert.Equal(t, "199000.00", summary.Fields["settled_amount"])
	assert.Equal(t, shared.SeverityMedium, summary.Severity)
}

func TestBulkProcessor_StoreRejectionFoldsIntoFailures(t *testing.T) {
	claims := makeClaims(t, 5, "1000")
	f := newBulkFixture(claims...)
	f.store.bulkFail[claims[2].ID] = errors.New("value too long for column settlement_ref")

	result := f.processor(settleFunc(instantSettle), BulkConfig{MaxWorkers: 2, AutoSettle: false}).
		ProcessClaims(context.Background(), claims)

	assert.Len(t, result.Succeeded, 4)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, shared.KindStore, result.Failed[0].Kind)
	assert.Contains(t, result.Failed[0].Reason, "value too long")
	for _, s := range result.Succeeded {
		assert.Equal(t, string(claim.StatusApproved), s.Status)
		assert.Empty(t, s.SettlementRef)
	}
	assert.Equal(t, []claim.Status{claim.StatusNew}, f.store.updates, "revert is attempted for a write that may have landed")
	assert.Equal(t, 1, f.sink.batches)
}

func TestBulkProcessor_SettlementFailuresAreAccumulated(t *testing.T) {
	claims := makeClaims(t, 6, "1000")
	f := newBulkFixture(claims...)
	settler := settleFunc(func(ctx context.Context, c *claim.Claim) (*settlement.Receipt, error) {
		if c.ClaimNumber == "CLM-0003" {
			return nil, shared.NewKindError(shared.KindSettlementExhausted, "SETTLEMENT_EXHAUSTED", "gave up after 4 attempts")
		}
		return instantSettle(ctx, c)
	})

	result := f.processor(settler, BulkConfig{MaxWorkers: 3, AutoSettle: true}).ProcessClaims(context.Background(), claims)

	assert.Len(t, result.Succeeded, 5)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, shared.KindSettlementExhausted, result.Failed[0].Kind)
	assert.Equal(t, string(claim.StatusApproved), result.Failed[0].Status)
	assert.Equal(t, claim.StatusApproved, f.store.status(claims[3].ID))

	records := f.sink.byOperation(OperationSettle)
	require.Len(t, records, 1)
	assert.Equal(t, shared.SeverityCritical, records[0].Severity)
	assert.Equal(t, 1, f.sink.batches)
	// one critical summary from LogBatch plus the run summary
	assert.Len(t, f.notifier.sent, 2)
}

func TestBulkProcessor_BatchTimeoutCancelsUnfinished(t *testing.T) {
	claims := makeClaims(t, 10, "1000")
	f := newBulkFixture(claims...)
	blocking := settleFunc(func(ctx context.Context, c *claim.Claim) (*settlement.Receipt, error) {
		<-ctx.Done()
		return nil, shared.Wrap(shared.KindCancelled, "SETTLEMENT_CANCELLED", ctx.Err(),
			"settlement of claim %s was cancelled after 0 attempts", c.ClaimNumber)
	})

	done := make(chan *settlement.BatchResult, 1)
	go func() {
		done <- f.processor(blocking, BulkConfig{MaxWorkers: 2, BatchTimeout: 50 * time.Millisecond, AutoSettle: true}).
			ProcessClaims(context.Background(), claims)
	}()

	var result *settlement.BatchResult
	select {
	case result = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not honour its timeout")
	}

	assert.Equal(t, 10, result.Total())
	assert.Empty(t, result.Succeeded)
	assert.Equal(t, 10, result.CountByKind()[shared.KindCancelled])
	for _, fo := range result.Failed {
		assert.Equal(t, claim.StatusApproved, f.store.status(fo.ClaimID))
	}
	assert.Equal(t, 1, f.sink.batches)
}

func TestBulkProcessor_WorkerPoolIsBounded(t *testing.T) {
	claims := makeClaims(t, 40, "1000")
	f := newBulkFixture(claims...)
	var inFlight, peak int32
	settler := settleFunc(func(ctx context.Context, c *claim.Claim) (*settlement.Receipt, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return instantSettle(ctx, c)
	})

	result := f.processor(settler, BulkConfig{MaxWorkers: 4, AutoSettle: true}).ProcessClaims(context.Background(), claims)

	assert.Len(t, result.Succeeded, 40)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(4))
}

func TestBulkProcessor_ProcessBatch_UnknownAndRepeatedIDs(t *testing.T) {
	claims := makeClaims(t, 2, "1000")
	f := newBulkFixture(claims...)
	missing := uuid.New()

	result, err := f.processor(settleFunc(instantSettle), BulkConfig{AutoSettle: true}).
		ProcessBatch(context.Background(), []uuid.UUID{claims[0].ID, claims[1].ID, claims[0].ID, missing})

	require.NoError(t, err)
	assert.Equal(t, 4, result.Total())
	assert.Len(t, result.Succeeded, 2)
	codes := map[string]bool{}
	for _, fo := range result.Failed {
		codes[fo.Code] = true
	}
	assert.True(t, codes["DUPLICATE_IN_BATCH"])
	assert.True(t, codes["CLAIM_NOT_FOUND"])
	require.Len(t, f.store.lookups, 1)
	assert.Len(t, f.store.lookups[0], 3)
}

func TestBulkProcessor_ApprovedClaimsSkipRouting(t *testing.T) {
	claims := makeClaims(t, 3, "1000")
	claims[1].Status = claim.StatusApproved
	f := newBulkFixture(claims...)

	result := f.processor(settleFunc(instantSettle), BulkConfig{AutoSettle: true}).ProcessClaims(context.Background(), claims)

	assert.Len(t, result.Succeeded, 3)
	assert.Equal(t, []int{2}, f.store.bulkSizes)
	assert.Equal(t, claim.StatusPaid, f.store.status(claims[1].ID))
}

func TestBulkProcessor_EmptyBatch(t *testing.T) {
	f := newBulkFixture()

	result := f.processor(settleFunc(instantSettle), DefaultBulkConfig()).ProcessClaims(context.Background(), nil)

	assert.Zero(t, result.Total())
	assert.Zero(t, f.sink.batches)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, shared.SeverityLow, f.notifier.sent[0].Severity)
}

func TestBulkProcessor_PanicAfterPaymentKeepsPaid(t *testing.T) {
	claims := makeClaims(t, 3, "1000")
	f := newBulkFixture(claims...)
	policies := new(MockPolicyRepository)
	policies.On("FindByID", mock.Anything, mock.Anything).Return(f.policy, nil)
	o := NewOrchestrator(OrchestratorConfig{
		Claims:   f.store,
		Policies: policies,
		Settler:  settleFunc(instantSettle),
		Audit:    auditapp.NewLogger(auditapp.LoggerConfig{Sink: f.sink, Notifier: f.notifier}),
		Events:   panicOnPaid{},
	})

	var result *settlement.BatchResult
	assert.NotPanics(t, func() {
		result = NewBulkProcessor(o, BulkConfig{MaxWorkers: 2, AutoSettle: true}).ProcessClaims(context.Background(), claims)
	})

	require.Len(t, result.Failed, 3)
	for _, failure := range result.Failed {
		assert.Equal(t, shared.KindProcessing, failure.Kind)
		assert.Equal(t, string(claim.StatusPaid), failure.Status)
		assert.Equal(t, claim.StatusPaid, f.store.status(failure.ClaimID))
	}
	assert.NotContains(t, f.store.updates, claim.StatusNew)
}
