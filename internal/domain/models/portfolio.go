package models

import "time"

// Position is one holding inside a portfolio snapshot.
type Position struct {
	Asset    string
	Balance  float64
	ValueUSD float64
}

// PortfolioSnapshot is the authoritative view of one owner's holdings.
// Only the rebalance scheduler mutates it, after a confirmed trade.
type PortfolioSnapshot struct {
	Owner         string
	AsOf          time.Time
	Positions     map[string]Position
	TotalValueUSD float64
}

// Weight returns the current portfolio weight of asset, 0 if not held.
func (s *PortfolioSnapshot) Weight(asset string) float64 {
	if s.TotalValueUSD <= 0 {
		return 0
	}
	return s.Positions[asset].ValueUSD / s.TotalValueUSD
}

// TradeDirection is the side of a trade intent.
type TradeDirection string

const (
	DirectionBuy  TradeDirection = "buy"
	DirectionSell TradeDirection = "sell"
)

// IntentStatus tracks a trade intent through its lifecycle. Transitions only
// move forward: pending -> submitted -> confirmed | failed.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentSubmitted IntentStatus = "submitted"
	IntentConfirmed IntentStatus = "confirmed"
	IntentFailed    IntentStatus = "failed"
)

var intentRank = map[IntentStatus]int{
	IntentPending:   0,
	IntentSubmitted: 1,
	IntentConfirmed: 2,
	IntentFailed:    2,
}

// TradeIntent is a proposed portfolio adjustment awaiting execution. ID is
// assigned at creation and sent with every submission so the execution
// collaborator can deduplicate a retried request.
type TradeIntent struct {
	ID           string
	Owner        string
	Asset        string
	Direction    TradeDirection
	TargetWeight float64
	AmountUSD    float64
	CreatedAt    time.Time
	Status       IntentStatus
	FailReason   string
	TxRef        string
}

// Advance moves the intent to next if that is a forward transition.
// Backward transitions are ignored so terminal states stay terminal.
func (t *TradeIntent) Advance(next IntentStatus) bool {
	if intentRank[next] <= intentRank[t.Status] && next != t.Status {
		return false
	}
	if intentRank[t.Status] >= intentRank[IntentConfirmed] {
		return false
	}
	t.Status = next
	return true
}

// CycleState names the scheduler's per-owner state machine states.
type CycleState string

const (
	CycleIdle       CycleState = "idle"
	CycleComputing  CycleState = "computing"
	CycleAllocating CycleState = "allocating"
	CycleExecuting  CycleState = "executing"
	CycleFailed     CycleState = "failed"
)

// RebalanceResult reports one completed cycle for one owner.
type RebalanceResult struct {
	Owner          string
	StartedAt      time.Time
	Duration       time.Duration
	TradesExecuted int
	TradesFailed   int
	ValueMovedUSD  float64
	SkippedReason  string
	Intents        []*TradeIntent
}

// Skipped reports whether the cycle did no work.
func (r *RebalanceResult) Skipped() bool { return r.SkippedReason != "" }
