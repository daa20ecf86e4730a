package models

import "time"

// Requests for the decision-pipeline HTTP endpoints. Defined in domain for
// consistency and reuse.

type PredictionRequest struct {
	Asset string `query:"asset" json:"asset" validate:"required"`
}

type PortfolioRequest struct {
	Owner string `query:"owner" json:"owner" validate:"required"`
}

type RebalanceRequest struct {
	Owner string `param:"owner" json:"owner" validate:"required"`
}

type SchedulerControlRequest struct {
	Action string `json:"action" validate:"required,oneof=start stop"`
}

// SignalItemRequest is the wire shape of one scored signal, accepted over
// HTTP and Kafka alike.
type SignalItemRequest struct {
	Asset         string             `json:"asset" validate:"required"`
	Timestamp     int64              `json:"ts" validate:"required,gt=0"`
	Sentiment     float64            `json:"sentiment" validate:"gte=-1,lte=1"`
	EventProbs    map[string]float64 `json:"event_probs"`
	SourceTrust   float64            `json:"source_trust" validate:"gte=0"`
	RecencyWeight float64            `json:"recency_weight" default:"1" validate:"gt=0,lte=1"`
	Novel         bool               `json:"novel"`
}

// ToSignalItem converts the wire shape into the domain item. Timestamps on
// the wire are unix seconds.
func (r *SignalItemRequest) ToSignalItem() *SignalItem {
	probs := make(map[EventType]float64, len(r.EventProbs))
	for k, v := range r.EventProbs {
		probs[EventType(k)] = v
	}
	return &SignalItem{
		Asset:         r.Asset,
		Timestamp:     time.Unix(r.Timestamp, 0).UTC(),
		Sentiment:     r.Sentiment,
		EventProbs:    probs,
		SourceTrust:   r.SourceTrust,
		RecencyWeight: r.RecencyWeight,
		Novel:         r.Novel,
	}
}
