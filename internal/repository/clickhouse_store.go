package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"NarraTrade/internal/domain/models"
	domrepo "NarraTrade/internal/domain/repository"
	pkgch "NarraTrade/pkg/clickhouse"
	applogger "NarraTrade/pkg/logger"
)

var bucketSchema = []string{
	`CREATE DATABASE IF NOT EXISTS narratrade`,
	`CREATE TABLE IF NOT EXISTS narratrade.narrative_buckets (
        asset            String,
        window_start     DateTime,
        window_end       DateTime,
        narrative_heat   Float64,
        positive_heat    Float64,
        negative_heat    Float64,
        risk_polarity    Float64,
        hype_velocity    Float64,
        consensus        Float64,
        event_dist       String,
        top_event        String,
        item_count       UInt32,
        dropped_count    UInt32,
        mean_trust       Float64,
        mean_novelty     Float64
    ) ENGINE = ReplacingMergeTree()
    ORDER BY (asset, window_start)`,
	`CREATE TABLE IF NOT EXISTS narratrade.trade_intents (
        intent_id     String,
        owner         String,
        asset         String,
        direction     String,
        target_weight Float64,
        amount_usd    Float64,
        created_at    DateTime,
        status        String,
        fail_reason   String,
        tx_ref        String
    ) ENGINE = MergeTree()
    ORDER BY (owner, created_at)`,
}

// CHBucketStore implements BucketStore backed by ClickHouse.
type CHBucketStore struct {
	ch *pkgch.Client
	db *sql.DB
	l  *applogger.Logger
}

func NewCHBucketStore(ch *pkgch.Client) *CHBucketStore {
	return &CHBucketStore{ch: ch, db: ch.DB()}
}

// SetLogger injects a structured logger.
func (s *CHBucketStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHBucketStore) Init(ctx context.Context) error {
	return s.ch.InitSchema(ctx, bucketSchema)
}

func (s *CHBucketStore) Store(ctx context.Context, b *models.Bucket) error {
	dist, err := json.Marshal(b.EventDistribution)
	if err != nil {
		return fmt.Errorf("marshal event dist: %w", err)
	}
	const q = `INSERT INTO narratrade.narrative_buckets
        (asset, window_start, window_end, narrative_heat, positive_heat, negative_heat,
         risk_polarity, hype_velocity, consensus, event_dist, top_event,
         item_count, dropped_count, mean_trust, mean_novelty)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		b.Asset, b.WindowStart, b.WindowEnd,
		b.NarrativeHeat, b.PositiveHeat, b.NegativeHeat,
		b.RiskPolarity, b.HypeVelocity, b.Consensus,
		string(dist), string(b.TopEvent),
		uint32(b.ItemCount), uint32(b.DroppedCount), b.MeanTrust, b.MeanNovelty,
	)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse bucket insert error",
				applogger.String("asset", b.Asset),
				applogger.Error(err))
		}
		return fmt.Errorf("store bucket: %w", err)
	}
	return nil
}

func (s *CHBucketStore) Latest(ctx context.Context, asset string) (*models.Bucket, error) {
	const q = `SELECT asset, window_start, window_end, narrative_heat, positive_heat,
        negative_heat, risk_polarity, hype_velocity, consensus, event_dist, top_event,
        item_count, dropped_count, mean_trust, mean_novelty
        FROM narratrade.narrative_buckets
        WHERE asset = ?
        ORDER BY window_start DESC
        LIMIT 1`
	row := s.db.QueryRowContext(ctx, q, asset)
	b, err := scanBucket(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

func (s *CHBucketStore) Range(ctx context.Context, asset string, from, to time.Time) ([]*models.Bucket, error) {
	start := time.Now()
	const q = `SELECT asset, window_start, window_end, narrative_heat, positive_heat,
        negative_heat, risk_polarity, hype_velocity, consensus, event_dist, top_event,
        item_count, dropped_count, mean_trust, mean_novelty
        FROM narratrade.narrative_buckets
        WHERE asset = ? AND window_start >= ? AND window_start < ?
        ORDER BY window_start ASC`
	rows, err := s.db.QueryContext(ctx, q, asset, from, to)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse bucket range query error",
				applogger.String("asset", asset),
				applogger.Error(err))
		}
		return nil, fmt.Errorf("bucket range: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Bucket, 0, 64)
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if s.l != nil {
		s.l.Debug("clickhouse bucket range ok",
			applogger.String("asset", asset),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)))
	}
	return out, nil
}

func (s *CHBucketStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *CHBucketStore) Close() error {
	return nil // pool managed by pkg client
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBucket(row rowScanner) (*models.Bucket, error) {
	var (
		b        models.Bucket
		dist     string
		topEvent string
		items    uint32
		dropped  uint32
	)
	if err := row.Scan(&b.Asset, &b.WindowStart, &b.WindowEnd,
		&b.NarrativeHeat, &b.PositiveHeat, &b.NegativeHeat,
		&b.RiskPolarity, &b.HypeVelocity, &b.Consensus, &dist, &topEvent,
		&items, &dropped, &b.MeanTrust, &b.MeanNovelty); err != nil {
		return nil, err
	}
	b.TopEvent = models.EventType(topEvent)
	b.ItemCount = int(items)
	b.DroppedCount = int(dropped)
	b.EventDistribution = make(map[models.EventType]float64)
	if dist != "" {
		if err := json.Unmarshal([]byte(dist), &b.EventDistribution); err != nil {
			return nil, fmt.Errorf("unmarshal event dist: %w", err)
		}
	}
	return &b, nil
}

// CHIntentStore implements IntentStore backed by ClickHouse.
type CHIntentStore struct {
	db *sql.DB
}

func NewCHIntentStore(ch *pkgch.Client) domrepo.IntentStore {
	return &CHIntentStore{db: ch.DB()}
}

func (s *CHIntentStore) Store(ctx context.Context, intent *models.TradeIntent) error {
	const q = `INSERT INTO narratrade.trade_intents
        (intent_id, owner, asset, direction, target_weight, amount_usd, created_at, status, fail_reason, tx_ref)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		intent.ID, intent.Owner, intent.Asset, string(intent.Direction),
		intent.TargetWeight, intent.AmountUSD, intent.CreatedAt,
		string(intent.Status), intent.FailReason, intent.TxRef,
	)
	if err != nil {
		return fmt.Errorf("store intent: %w", err)
	}
	return nil
}

func (s *CHIntentStore) History(ctx context.Context, owner string, limit int) ([]*models.TradeIntent, error) {
	const q = `SELECT intent_id, owner, asset, direction, target_weight, amount_usd, created_at,
        status, fail_reason, tx_ref
        FROM narratrade.trade_intents
        WHERE owner = ?
        ORDER BY created_at DESC
        LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("intent history: %w", err)
	}
	defer rows.Close()

	out := make([]*models.TradeIntent, 0, limit)
	for rows.Next() {
		var (
			t         models.TradeIntent
			direction string
			status    string
		)
		if err := rows.Scan(&t.ID, &t.Owner, &t.Asset, &direction, &t.TargetWeight,
			&t.AmountUSD, &t.CreatedAt, &status, &t.FailReason, &t.TxRef); err != nil {
			return nil, fmt.Errorf("scan intent: %w", err)
		}
		t.Direction = models.TradeDirection(direction)
		t.Status = models.IntentStatus(status)
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *CHIntentStore) Close() error {
	return nil
}
