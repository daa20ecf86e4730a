package usecase

import (
	"math"
	"sort"
	"time"

	"NarraTrade/internal/domain/models"
	"NarraTrade/pkg/logger"

	"github.com/google/uuid"
)

// PortfolioAllocator turns ranked predictions into bounded trade intents.
// Allocation is deterministic with respect to inputs: the same predictions
// and snapshot always yield the same trades, modulo each intent's fresh ID.
type PortfolioAllocator struct {
	topN        int
	maxWeight   float64
	minNotional float64
	tolerance   float64

	log *logger.Logger
}

// AllocatorOption configures PortfolioAllocator.
type AllocatorOption func(*PortfolioAllocator)

// WithTopN sets the target universe size.
func WithTopN(n int) AllocatorOption {
	return func(p *PortfolioAllocator) { p.topN = n }
}

// WithMaxWeight caps any single asset's target weight.
func WithMaxWeight(w float64) AllocatorOption {
	return func(p *PortfolioAllocator) { p.maxWeight = w }
}

// WithMinNotional drops trades below this USD size.
func WithMinNotional(usd float64) AllocatorOption {
	return func(p *PortfolioAllocator) { p.minNotional = usd }
}

// WithTolerance sets the weight-deviation band below which no trade is made.
func WithTolerance(t float64) AllocatorOption {
	return func(p *PortfolioAllocator) { p.tolerance = t }
}

func NewPortfolioAllocator(log *logger.Logger, opts ...AllocatorOption) *PortfolioAllocator {
	p := &PortfolioAllocator{
		topN:        10,
		maxWeight:   0.30,
		minNotional: 10,
		tolerance:   0.005,
		log:         log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// TargetWeights ranks predictions, selects the top-N universe, renormalizes
// probabilities into weights, and redistributes any excess above the cap.
func (p *PortfolioAllocator) TargetWeights(predictions []models.Prediction) map[string]float64 {
	ranked := make([]models.Prediction, len(predictions))
	copy(ranked, predictions)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].ProbabilityUp > ranked[j].ProbabilityUp
	})
	if p.topN > 0 && len(ranked) > p.topN {
		ranked = ranked[:p.topN]
	}

	total := 0.0
	for _, pr := range ranked {
		total += pr.ProbabilityUp
	}
	weights := make(map[string]float64, len(ranked))
	if total <= 0 {
		return weights
	}
	for _, pr := range ranked {
		weights[pr.Asset] = pr.ProbabilityUp / total
	}
	p.applyCap(weights)
	return weights
}

// applyCap clips weights at maxWeight and hands the excess to the uncapped
// assets pro rata, repeating until the cap holds everywhere or every asset
// is capped.
func (p *PortfolioAllocator) applyCap(weights map[string]float64) {
	if p.maxWeight <= 0 || p.maxWeight >= 1 {
		return
	}
	for iter := 0; iter < len(weights)+1; iter++ {
		excess := 0.0
		uncapped := 0.0
		for asset, w := range weights {
			if w > p.maxWeight {
				excess += w - p.maxWeight
				weights[asset] = p.maxWeight
			} else if w < p.maxWeight {
				uncapped += w
			}
		}
		if excess == 0 || uncapped == 0 {
			return
		}
		for asset, w := range weights {
			if w < p.maxWeight {
				weights[asset] = w + excess*(w/uncapped)
			}
		}
	}
}

// Allocate diffs target weights against the current snapshot and emits one
// pending intent per actionable difference. Held assets outside the universe
// are sold to zero. Sub-notional trades are dropped, not emitted.
func (p *PortfolioAllocator) Allocate(owner string, predictions []models.Prediction, snapshot *models.PortfolioSnapshot) []*models.TradeIntent {
	if snapshot == nil || snapshot.TotalValueUSD <= 0 {
		return nil
	}
	targets := p.TargetWeights(predictions)

	// every asset either targeted or currently held gets a look
	assets := make(map[string]struct{}, len(targets)+len(snapshot.Positions))
	for asset := range targets {
		assets[asset] = struct{}{}
	}
	for asset := range snapshot.Positions {
		assets[asset] = struct{}{}
	}

	now := time.Now().UTC()
	var intents []*models.TradeIntent
	for asset := range assets {
		target := targets[asset]
		current := snapshot.Weight(asset)
		diff := target - current
		if math.Abs(diff) <= p.tolerance {
			continue
		}
		amount := math.Abs(diff) * snapshot.TotalValueUSD
		if amount < p.minNotional {
			if p.log != nil {
				p.log.Debug("trade below minimum notional",
					logger.String("owner", owner),
					logger.String("asset", asset),
					logger.Float64("amount_usd", amount))
			}
			continue
		}
		direction := models.DirectionBuy
		if diff < 0 {
			direction = models.DirectionSell
		}
		intents = append(intents, &models.TradeIntent{
			ID:           uuid.NewString(),
			Owner:        owner,
			Asset:        asset,
			Direction:    direction,
			TargetWeight: target,
			AmountUSD:    amount,
			CreatedAt:    now,
			Status:       models.IntentPending,
		})
	}

	sort.Slice(intents, func(i, j int) bool {
		if intents[i].Direction != intents[j].Direction {
			return intents[i].Direction == models.DirectionSell
		}
		return intents[i].AmountUSD > intents[j].AmountUSD
	})
	return intents
}

// MaxDeviation reports the largest |target-current| weight gap, used by the
// scheduler to skip cycles inside the no-trade band.
func (p *PortfolioAllocator) MaxDeviation(predictions []models.Prediction, snapshot *models.PortfolioSnapshot) float64 {
	if snapshot == nil {
		return 0
	}
	targets := p.TargetWeights(predictions)
	max := 0.0
	seen := make(map[string]struct{})
	for asset, target := range targets {
		seen[asset] = struct{}{}
		if d := math.Abs(target - snapshot.Weight(asset)); d > max {
			max = d
		}
	}
	for asset := range snapshot.Positions {
		if _, ok := seen[asset]; ok {
			continue
		}
		if d := snapshot.Weight(asset); d > max {
			max = d
		}
	}
	return max
}
