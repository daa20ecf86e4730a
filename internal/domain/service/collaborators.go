package service

import (
	"context"

	"NarraTrade/internal/domain/models"
)

// MarketDataSource provides optional per-asset microstructure snapshots.
// Absence of market data degrades features gracefully, it never blocks a cycle.
type MarketDataSource interface {
	Snapshot(ctx context.Context, asset string) (*models.MarketData, error)
}

// SnapshotSource serves the authoritative holdings view for an owner.
type SnapshotSource interface {
	Fetch(ctx context.Context, owner string) (*models.PortfolioSnapshot, error)
}

// TradeExecutor hands a trade intent to the execution collaborator.
// A returned confirmation reference is the only path to a confirmed intent.
type TradeExecutor interface {
	Execute(ctx context.Context, intent *models.TradeIntent) (txRef string, err error)
}
