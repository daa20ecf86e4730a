package usecase

import (
	"context"
	"sync"
	"time"

	"NarraTrade/internal/domain/models"
	drepo "NarraTrade/internal/domain/repository"
	domsvc "NarraTrade/internal/domain/service"
	"NarraTrade/pkg/logger"
)

// OwnerStatus is one owner's view of the scheduler state machine.
type OwnerStatus struct {
	Owner     string            `json:"owner"`
	State     models.CycleState `json:"state"`
	Disabled  bool              `json:"disabled"`
	LastCycle time.Time         `json:"last_cycle,omitempty"`
}

// SchedulerStatus reports the loop state for the API.
type SchedulerStatus struct {
	Running  bool          `json:"running"`
	Interval time.Duration `json:"interval"`
	Owners   []OwnerStatus `json:"owners"`
}

// RebalanceScheduler drives the unattended loop: on each tick it seals due
// narrative windows, then runs one cycle per tracked owner. Cycles for
// different owners run concurrently; within one owner they are strictly
// serialized, and a tick that lands mid-cycle is skipped, never queued.
type RebalanceScheduler struct {
	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	inflight  map[string]bool
	state     map[string]models.CycleState
	lastCycle map[string]time.Time
	disabled  map[string]bool

	interval      time.Duration
	deviationBand float64
	owners        []string
	assets        []string

	engine    *PredictionEngine
	allocator *PortfolioAllocator
	agg       *SignalAggregator
	snapshots domsvc.SnapshotSource
	market    domsvc.MarketDataSource
	executor  domsvc.TradeExecutor
	intents   drepo.IntentStore
	events    drepo.EventPublisher
	metrics   drepo.Metrics
	log       *logger.Logger
}

// SchedulerOption configures RebalanceScheduler.
type SchedulerOption func(*RebalanceScheduler)

// WithInterval sets the cycle cadence.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *RebalanceScheduler) { s.interval = d }
}

// WithDeviationBand sets the max weight gap under which a cycle is skipped.
func WithDeviationBand(b float64) SchedulerOption {
	return func(s *RebalanceScheduler) { s.deviationBand = b }
}

// WithOwners sets the tracked portfolio owners.
func WithOwners(owners []string) SchedulerOption {
	return func(s *RebalanceScheduler) { s.owners = owners }
}

// WithAssets sets the tracked asset universe.
func WithAssets(assets []string) SchedulerOption {
	return func(s *RebalanceScheduler) { s.assets = assets }
}

// WithMarketData attaches the optional microstructure source.
func WithMarketData(src domsvc.MarketDataSource) SchedulerOption {
	return func(s *RebalanceScheduler) { s.market = src }
}

func NewRebalanceScheduler(
	engine *PredictionEngine,
	allocator *PortfolioAllocator,
	agg *SignalAggregator,
	snapshots domsvc.SnapshotSource,
	executor domsvc.TradeExecutor,
	intents drepo.IntentStore,
	events drepo.EventPublisher,
	metrics drepo.Metrics,
	log *logger.Logger,
	opts ...SchedulerOption,
) *RebalanceScheduler {
	s := &RebalanceScheduler{
		inflight:      make(map[string]bool),
		state:         make(map[string]models.CycleState),
		lastCycle:     make(map[string]time.Time),
		disabled:      make(map[string]bool),
		interval:      5 * time.Minute,
		deviationBand: 0.05,
		engine:        engine,
		allocator:     allocator,
		agg:           agg,
		snapshots:     snapshots,
		executor:      executor,
		intents:       intents,
		events:        events,
		metrics:       metrics,
		log:           log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the unattended loop. Starting while running is a no-op. The
// loop owns its own lifetime context so a short-lived caller context (an HTTP
// request, say) cannot kill the ticker; Stop is the only way down.
func (s *RebalanceScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.stopCh = make(chan struct{})
	s.cancel = cancel
	stopCh := s.stopCh
	s.mu.Unlock()

	if s.log != nil {
		s.log.Info("rebalance scheduler started",
			logger.Duration("interval", s.interval),
			logger.Int("owners", len(s.owners)))
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case now := <-ticker.C:
				s.tick(loopCtx, now)
			}
		}
	}()
}

// Stop schedules no new cycles; any in-flight cycle finishes.
func (s *RebalanceScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	cancel := s.cancel
	s.mu.Unlock()
	s.wg.Wait()
	cancel()
	if s.log != nil {
		s.log.Info("rebalance scheduler stopped")
	}
}

// Running reports whether the loop is active.
func (s *RebalanceScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetOwnerEnabled toggles rebalancing for one owner.
func (s *RebalanceScheduler) SetOwnerEnabled(owner string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled[owner] = !enabled
}

// Status snapshots the loop and per-owner states.
func (s *RebalanceScheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SchedulerStatus{Running: s.running, Interval: s.interval}
	for _, owner := range s.owners {
		state := s.state[owner]
		if state == "" {
			state = models.CycleIdle
		}
		st.Owners = append(st.Owners, OwnerStatus{
			Owner:     owner,
			State:     state,
			Disabled:  s.disabled[owner],
			LastCycle: s.lastCycle[owner],
		})
	}
	return st
}

func (s *RebalanceScheduler) tick(ctx context.Context, now time.Time) {
	s.agg.CloseDue(ctx, now)
	for _, owner := range s.owners {
		owner := owner
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.RunCycle(ctx, owner)
		}()
	}
}

// RunCycle executes one rebalance cycle for owner. It never panics: any
// escape from a cycle is caught so one owner cannot stop the clock for the
// others.
func (s *RebalanceScheduler) RunCycle(ctx context.Context, owner string) (result *models.RebalanceResult) {
	started := time.Now().UTC()
	result = &models.RebalanceResult{Owner: owner, StartedAt: started}

	defer func() {
		if r := recover(); r != nil {
			if s.log != nil {
				s.log.Error("cycle panicked", logger.String("owner", owner), logger.Any("panic", r))
			}
			s.setState(owner, models.CycleFailed)
			result.SkippedReason = "cycle_panic"
			s.finish(owner, result, started, "failed")
		}
	}()

	if !s.acquire(owner) {
		result.SkippedReason = "cycle_in_flight"
		if s.metrics != nil {
			s.metrics.RecordCycle(owner, "skipped", 0)
		}
		if s.log != nil {
			s.log.Warn("cycle skipped", logger.String("owner", owner), logger.String("reason", result.SkippedReason))
		}
		return result
	}
	defer s.release(owner)

	if s.ownerDisabled(owner) {
		result.SkippedReason = "rebalance_disabled"
		s.finish(owner, result, started, "skipped")
		return result
	}

	s.setState(owner, models.CycleComputing)
	snapshot, err := s.snapshots.Fetch(ctx, owner)
	if err != nil {
		// nothing to rebalance against; abort the whole cycle
		result.SkippedReason = "snapshot_unavailable"
		s.setState(owner, models.CycleFailed)
		s.finish(owner, result, started, "failed")
		if s.log != nil {
			s.log.Error("snapshot fetch failed", logger.String("owner", owner), logger.Error(err))
		}
		return result
	}

	predictions := s.collectPredictions(ctx)

	s.setState(owner, models.CycleAllocating)
	if dev := s.allocator.MaxDeviation(predictions, snapshot); dev < s.deviationBand {
		result.SkippedReason = "within_deviation_band"
		s.finish(owner, result, started, "skipped")
		return result
	}

	intents := s.allocator.Allocate(owner, predictions, snapshot)
	result.Intents = intents

	s.setState(owner, models.CycleExecuting)
	for _, intent := range intents {
		s.executeIntent(ctx, intent, snapshot, result)
	}

	if s.metrics != nil {
		s.metrics.RecordPortfolioValue(owner, snapshot.TotalValueUSD)
	}
	s.finish(owner, result, started, "ok")
	return result
}

func (s *RebalanceScheduler) executeIntent(ctx context.Context, intent *models.TradeIntent, snapshot *models.PortfolioSnapshot, result *models.RebalanceResult) {
	intent.Advance(models.IntentSubmitted)
	txRef, err := s.executor.Execute(ctx, intent)
	if err != nil {
		intent.FailReason = err.Error()
		intent.Advance(models.IntentFailed)
		result.TradesFailed++
		if s.metrics != nil {
			s.metrics.RecordTrade(intent.Owner, "failed", intent.AmountUSD)
		}
		if s.log != nil {
			s.log.Error("trade failed",
				logger.String("owner", intent.Owner),
				logger.String("asset", intent.Asset),
				logger.Error(err))
		}
	} else {
		intent.TxRef = txRef
		intent.Advance(models.IntentConfirmed)
		result.TradesExecuted++
		result.ValueMovedUSD += intent.AmountUSD
		applyFill(snapshot, intent)
		if s.metrics != nil {
			s.metrics.RecordTrade(intent.Owner, "confirmed", intent.AmountUSD)
		}
	}

	if s.intents != nil {
		if serr := s.intents.Store(ctx, intent); serr != nil && s.log != nil {
			s.log.Error("intent store failed", logger.String("asset", intent.Asset), logger.Error(serr))
		}
	}
}

func (s *RebalanceScheduler) collectPredictions(ctx context.Context) []models.Prediction {
	predictions := make([]models.Prediction, 0, len(s.assets))
	for _, asset := range s.assets {
		var market *models.MarketData
		if s.market != nil {
			md, err := s.market.Snapshot(ctx, asset)
			if err == nil {
				market = md
			}
			// market data is optional; its absence never blocks a cycle
		}
		pred, err := s.engine.Predict(ctx, asset, market)
		if err != nil && s.log != nil {
			s.log.Warn("prediction degraded", logger.String("asset", asset), logger.Error(err))
		}
		predictions = append(predictions, pred)
	}
	return predictions
}

func (s *RebalanceScheduler) finish(owner string, result *models.RebalanceResult, started time.Time, outcome string) {
	result.Duration = time.Since(started)
	s.setState(owner, models.CycleIdle)
	s.mu.Lock()
	s.lastCycle[owner] = time.Now().UTC()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordCycle(owner, outcome, result.Duration.Seconds())
	}
	if s.events != nil {
		if err := s.events.PublishCycleResult(context.Background(), result); err != nil && s.log != nil {
			s.log.Warn("cycle event publish failed", logger.String("owner", owner), logger.Error(err))
		}
	}
	if s.log != nil {
		s.log.Info("cycle finished",
			logger.String("owner", owner),
			logger.String("outcome", outcome),
			logger.Int("executed", result.TradesExecuted),
			logger.Int("failed", result.TradesFailed),
			logger.String("skipped_reason", result.SkippedReason),
			logger.Duration("duration", result.Duration))
	}
}

func (s *RebalanceScheduler) acquire(owner string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[owner] {
		return false
	}
	s.inflight[owner] = true
	return true
}

func (s *RebalanceScheduler) release(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight[owner] = false
}

func (s *RebalanceScheduler) setState(owner string, state models.CycleState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[owner] = state
}

func (s *RebalanceScheduler) ownerDisabled(owner string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled[owner]
}

// applyFill mutates the snapshot after a confirmed trade so later intents in
// the same batch diff against updated holdings.
func applyFill(snapshot *models.PortfolioSnapshot, intent *models.TradeIntent) {
	pos := snapshot.Positions[intent.Asset]
	pos.Asset = intent.Asset
	if intent.Direction == models.DirectionBuy {
		pos.ValueUSD += intent.AmountUSD
	} else {
		pos.ValueUSD -= intent.AmountUSD
		if pos.ValueUSD < 0 {
			pos.ValueUSD = 0
		}
	}
	if snapshot.Positions == nil {
		snapshot.Positions = make(map[string]models.Position)
	}
	snapshot.Positions[intent.Asset] = pos
	snapshot.AsOf = time.Now().UTC()
}
