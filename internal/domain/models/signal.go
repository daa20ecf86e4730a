package models

import "time"

// EventType classifies what a scored news item is about.
type EventType string

const (
	EventListing     EventType = "listing"
	EventPartnership EventType = "partnership"
	EventHack        EventType = "hack"
	EventDepeg       EventType = "depeg"
	EventRegulatory  EventType = "regulatory"
	EventFunding     EventType = "funding"
	EventTech        EventType = "tech"
	EventMarketNote  EventType = "market-note"
	EventOpEd        EventType = "op-ed"
)

// EventTypes is the canonical taxonomy order. The feature vector layout
// depends on this order, so it is compiled in rather than data-driven.
var EventTypes = []EventType{
	EventListing, EventPartnership, EventHack, EventDepeg, EventRegulatory,
	EventFunding, EventTech, EventMarketNote, EventOpEd,
}

// RiskEvents are event classes whose probability mass pushes risk polarity down.
var RiskEvents = map[EventType]bool{
	EventHack:       true,
	EventDepeg:      true,
	EventRegulatory: true,
}

// PositiveEvents are event classes that push risk polarity up.
var PositiveEvents = map[EventType]bool{
	EventListing:     true,
	EventPartnership: true,
	EventFunding:     true,
	EventTech:        true,
}

// SignalItem is one scored news-derived signal for a tracked asset.
// Items arrive already scored by the upstream classifier and are immutable.
type SignalItem struct {
	Asset      string
	Timestamp  time.Time
	Sentiment  float64 // [-1, 1]
	EventProbs map[EventType]float64
	// SourceTrust >= 0; RecencyWeight in (0, 1]. Both produced upstream.
	SourceTrust   float64
	RecencyWeight float64
	Novel         bool
}

// Weight is the item's contribution weight inside a bucket fold.
func (s *SignalItem) Weight(noveltyBonus float64) float64 {
	w := s.SourceTrust * s.RecencyWeight
	if s.Novel {
		w *= noveltyBonus
	}
	return w
}

// Bucket holds aggregated narrative metrics for one asset over one window.
// A bucket is sealed once its window closes and never recomputed.
type Bucket struct {
	Asset       string
	WindowStart time.Time
	WindowEnd   time.Time

	NarrativeHeat float64
	PositiveHeat  float64
	NegativeHeat  float64
	RiskPolarity  float64
	HypeVelocity  float64
	Consensus     float64

	EventDistribution map[EventType]float64
	TopEvent          EventType

	ItemCount    int
	DroppedCount int
	MeanTrust    float64
	MeanNovelty  float64
}

// MarketData is an optional per-cycle microstructure snapshot for one asset.
type MarketData struct {
	Asset            string
	LiquidityUSD     float64
	TradeCountDelta  float64
	SpreadEstimate   float64
	PriceUSD         float64
	PriceChange24hPc float64
}
