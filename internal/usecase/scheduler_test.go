package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"NarraTrade/internal/domain/models"
	"NarraTrade/internal/services/features"
)

type fakeSnapshots struct {
	mu    sync.Mutex
	snap  *models.PortfolioSnapshot
	err   error
	calls int
}

func (f *fakeSnapshots) Fetch(ctx context.Context, owner string) (*models.PortfolioSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	// copy so cycles mutate their own view
	snap := &models.PortfolioSnapshot{
		Owner:         owner,
		AsOf:          f.snap.AsOf,
		TotalValueUSD: f.snap.TotalValueUSD,
		Positions:     make(map[string]models.Position, len(f.snap.Positions)),
	}
	for k, v := range f.snap.Positions {
		snap.Positions[k] = v
	}
	return snap, nil
}

type fakeExecutor struct {
	mu       sync.Mutex
	failFor  map[string]error
	panicFor string
	executed []*models.TradeIntent
}

func (f *fakeExecutor) Execute(ctx context.Context, intent *models.TradeIntent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if intent.Asset == f.panicFor {
		panic("executor blew up")
	}
	if err := f.failFor[intent.Asset]; err != nil {
		return "", err
	}
	f.executed = append(f.executed, intent)
	return "tx-" + intent.Asset, nil
}

type fakeIntentStore struct {
	mu     sync.Mutex
	stored []*models.TradeIntent
}

func (f *fakeIntentStore) Store(ctx context.Context, intent *models.TradeIntent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, intent)
	return nil
}

func (f *fakeIntentStore) History(ctx context.Context, owner string, limit int) ([]*models.TradeIntent, error) {
	return nil, nil
}

func (f *fakeIntentStore) Close() error { return nil }

type fakeEvents struct {
	mu      sync.Mutex
	results []*models.RebalanceResult
}

func (f *fakeEvents) PublishCycleResult(ctx context.Context, r *models.RebalanceResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, r)
	return nil
}

func (f *fakeEvents) PublishBreakerTransition(ctx context.Context, service, from, to string) error {
	return nil
}

func (f *fakeEvents) Close() error { return nil }

func (f *fakeEvents) last() *models.RebalanceResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.results) == 0 {
		return nil
	}
	return f.results[len(f.results)-1]
}

type schedulerFixture struct {
	scheduler *RebalanceScheduler
	snapshots *fakeSnapshots
	executor  *fakeExecutor
	intents   *fakeIntentStore
	events    *fakeEvents
}

func newSchedulerFixture(t *testing.T, snap *models.PortfolioSnapshot, opts ...SchedulerOption) *schedulerFixture {
	t.Helper()
	agg := NewSignalAggregator(nil, nil, nil, WithWindow(5*time.Minute))
	engine := NewPredictionEngine(agg, features.NewBuilder(), nil, nil)
	alloc := NewPortfolioAllocator(nil, WithMaxWeight(1))

	f := &schedulerFixture{
		snapshots: &fakeSnapshots{snap: snap},
		executor:  &fakeExecutor{failFor: make(map[string]error)},
		intents:   &fakeIntentStore{},
		events:    &fakeEvents{},
	}
	base := []SchedulerOption{
		WithOwners([]string{"desk"}),
		WithAssets([]string{"A", "B"}),
		WithDeviationBand(0.05),
		WithInterval(time.Hour),
	}
	f.scheduler = NewRebalanceScheduler(engine, alloc, agg, f.snapshots, f.executor, f.intents, f.events, nil, nil, append(base, opts...)...)
	return f
}

func driftedSnapshot() *models.PortfolioSnapshot {
	return &models.PortfolioSnapshot{
		Owner:         "desk",
		TotalValueUSD: 10000,
		Positions: map[string]models.Position{
			"A": {Asset: "A", ValueUSD: 10000},
		},
	}
}

func TestCycleRebalancesDriftedPortfolio(t *testing.T) {
	f := newSchedulerFixture(t, driftedSnapshot())

	result := f.scheduler.RunCycle(context.Background(), "desk")

	// both assets predict neutral 0.5, so targets are 50/50 against a
	// portfolio that is 100% in A
	if result.Skipped() {
		t.Fatalf("cycle skipped: %s", result.SkippedReason)
	}
	if result.TradesExecuted != 2 {
		t.Fatalf("executed = %d, want 2", result.TradesExecuted)
	}
	if result.ValueMovedUSD != 10000 {
		t.Fatalf("value moved = %v, want 10000", result.ValueMovedUSD)
	}
	// sells run before buys
	if f.executor.executed[0].Direction != models.DirectionSell || f.executor.executed[0].Asset != "A" {
		t.Fatalf("first trade should sell A, got %+v", f.executor.executed[0])
	}
	if f.executor.executed[0].Status != models.IntentConfirmed {
		t.Fatalf("confirmed trade status = %v", f.executor.executed[0].Status)
	}
	if f.executor.executed[0].TxRef == "" {
		t.Fatalf("confirmed trade must carry a tx ref")
	}
	if len(f.intents.stored) != 2 {
		t.Fatalf("stored intents = %d, want 2", len(f.intents.stored))
	}
	if f.events.last() == nil {
		t.Fatalf("cycle result must be published")
	}
}

func TestCycleSkipsInsideDeviationBand(t *testing.T) {
	balanced := &models.PortfolioSnapshot{
		Owner:         "desk",
		TotalValueUSD: 10000,
		Positions: map[string]models.Position{
			"A": {Asset: "A", ValueUSD: 5000},
			"B": {Asset: "B", ValueUSD: 5000},
		},
	}
	f := newSchedulerFixture(t, balanced)

	result := f.scheduler.RunCycle(context.Background(), "desk")
	if result.SkippedReason != "within_deviation_band" {
		t.Fatalf("reason = %q, want within_deviation_band", result.SkippedReason)
	}
	if len(f.executor.executed) != 0 {
		t.Fatalf("no trades expected inside the band")
	}
}

func TestCycleAbortsWhenSnapshotUnavailable(t *testing.T) {
	f := newSchedulerFixture(t, driftedSnapshot())
	f.snapshots.err = errors.New("custodian down")

	result := f.scheduler.RunCycle(context.Background(), "desk")
	if result.SkippedReason != "snapshot_unavailable" {
		t.Fatalf("reason = %q, want snapshot_unavailable", result.SkippedReason)
	}
	if len(f.executor.executed) != 0 {
		t.Fatalf("no trades may run without a snapshot")
	}
}

func TestCycleIsolatesFailedIntents(t *testing.T) {
	f := newSchedulerFixture(t, driftedSnapshot())
	f.executor.failFor["A"] = errors.New("venue rejected")

	result := f.scheduler.RunCycle(context.Background(), "desk")
	if result.TradesFailed != 1 || result.TradesExecuted != 1 {
		t.Fatalf("failed=%d executed=%d, want 1/1", result.TradesFailed, result.TradesExecuted)
	}

	var failed *models.TradeIntent
	for _, in := range f.intents.stored {
		if in.Asset == "A" {
			failed = in
		}
	}
	if failed == nil || failed.Status != models.IntentFailed {
		t.Fatalf("failed intent must be stored with failed status, got %+v", failed)
	}
	if failed.FailReason == "" {
		t.Fatalf("failed intent must record its reason")
	}
}

func TestCycleSkipsWhileOwnerInFlight(t *testing.T) {
	f := newSchedulerFixture(t, driftedSnapshot())

	if !f.scheduler.acquire("desk") {
		t.Fatalf("fixture owner should be free")
	}
	defer f.scheduler.release("desk")

	result := f.scheduler.RunCycle(context.Background(), "desk")
	if result.SkippedReason != "cycle_in_flight" {
		t.Fatalf("reason = %q, want cycle_in_flight", result.SkippedReason)
	}
	if f.snapshots.calls != 0 {
		t.Fatalf("skipped cycle must not fetch a snapshot")
	}
}

func TestCycleSkipsDisabledOwner(t *testing.T) {
	f := newSchedulerFixture(t, driftedSnapshot())
	f.scheduler.SetOwnerEnabled("desk", false)

	result := f.scheduler.RunCycle(context.Background(), "desk")
	if result.SkippedReason != "rebalance_disabled" {
		t.Fatalf("reason = %q, want rebalance_disabled", result.SkippedReason)
	}

	f.scheduler.SetOwnerEnabled("desk", true)
	result = f.scheduler.RunCycle(context.Background(), "desk")
	if result.SkippedReason == "rebalance_disabled" {
		t.Fatalf("re-enabled owner must cycle again")
	}
}

func TestCycleContainsPanic(t *testing.T) {
	f := newSchedulerFixture(t, driftedSnapshot())
	f.executor.panicFor = "A"

	result := f.scheduler.RunCycle(context.Background(), "desk")
	if result.SkippedReason != "cycle_panic" {
		t.Fatalf("reason = %q, want cycle_panic", result.SkippedReason)
	}

	// the owner slot must be released so the next cycle can run
	f.executor.panicFor = ""
	result = f.scheduler.RunCycle(context.Background(), "desk")
	if result.SkippedReason == "cycle_in_flight" {
		t.Fatalf("panicked cycle must release the owner slot")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	f := newSchedulerFixture(t, driftedSnapshot(), WithInterval(10*time.Millisecond))

	ctx := context.Background()
	f.scheduler.Start(ctx)
	if !f.scheduler.Running() {
		t.Fatalf("scheduler should be running")
	}
	f.scheduler.Start(ctx) // second start is a no-op

	time.Sleep(35 * time.Millisecond)
	f.scheduler.Stop()
	if f.scheduler.Running() {
		t.Fatalf("scheduler should have stopped")
	}

	f.snapshots.mu.Lock()
	ticks := f.snapshots.calls
	f.snapshots.mu.Unlock()
	if ticks == 0 {
		t.Fatalf("ticker never drove a cycle")
	}

	status := f.scheduler.Status()
	if status.Running {
		t.Fatalf("status must report stopped")
	}
	if len(status.Owners) != 1 || status.Owners[0].Owner != "desk" {
		t.Fatalf("unexpected owner status %+v", status.Owners)
	}
}

func TestStartOutlivesCallerContext(t *testing.T) {
	f := newSchedulerFixture(t, driftedSnapshot(), WithInterval(10*time.Millisecond))

	// the control endpoint hands Start a request-scoped context
	reqCtx, cancel := context.WithCancel(context.Background())
	f.scheduler.Start(reqCtx)
	cancel()

	time.Sleep(35 * time.Millisecond)
	if !f.scheduler.Running() {
		t.Fatalf("loop must not die with the caller's context")
	}
	f.snapshots.mu.Lock()
	ticks := f.snapshots.calls
	f.snapshots.mu.Unlock()
	if ticks == 0 {
		t.Fatalf("ticker stopped driving cycles after caller cancellation")
	}

	f.scheduler.Stop()
	if f.scheduler.Running() {
		t.Fatalf("scheduler should have stopped")
	}

	// Stop then Start must come back up
	f.scheduler.Start(context.Background())
	if !f.scheduler.Running() {
		t.Fatalf("scheduler should restart after Stop")
	}
	f.scheduler.Stop()
}

func TestApplyFillFloorsAtZero(t *testing.T) {
	snap := &models.PortfolioSnapshot{
		TotalValueUSD: 1000,
		Positions:     map[string]models.Position{"A": {Asset: "A", ValueUSD: 100}},
	}
	applyFill(snap, &models.TradeIntent{Asset: "A", Direction: models.DirectionSell, AmountUSD: 250})
	if got := snap.Positions["A"].ValueUSD; got != 0 {
		t.Fatalf("oversell must floor at zero, got %v", got)
	}
	applyFill(snap, &models.TradeIntent{Asset: "B", Direction: models.DirectionBuy, AmountUSD: 300})
	if got := snap.Positions["B"].ValueUSD; got != 300 {
		t.Fatalf("buy must create the position, got %v", got)
	}
}
