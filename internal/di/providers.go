package di

import (
	"context"
	"fmt"
	"time"

	"NarraTrade/internal/domain/repository"
	domsvc "NarraTrade/internal/domain/service"
	"NarraTrade/internal/handler/api"
	mid "NarraTrade/internal/middleware"
	internalrepo "NarraTrade/internal/repository"
	"NarraTrade/internal/service/executor"
	"NarraTrade/internal/service/gecko"
	"NarraTrade/internal/service/resilience"
	"NarraTrade/internal/service/signalfeed"
	"NarraTrade/internal/services/features"
	"NarraTrade/internal/usecase"
	pkgcache "NarraTrade/pkg/cache"
	pkgch "NarraTrade/pkg/clickhouse"
	"NarraTrade/pkg/config"
	pkghttp "NarraTrade/pkg/http"
	pkgkafka "NarraTrade/pkg/kafka"
	"NarraTrade/pkg/logger"
	"NarraTrade/pkg/metrics"
	"NarraTrade/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Output: cfg.Logger.Output,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when the
// ClickHouse stack is disabled in config.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideBucketStore creates the ClickHouse bucket store and initializes the
// schema. Returns nil when ClickHouse is disabled.
func ProvideBucketStore(chClient *pkgch.Client, l *logger.Logger) (repository.BucketStore, error) {
	if chClient == nil {
		return nil, nil
	}
	store := internalrepo.NewCHBucketStore(chClient)
	store.SetLogger(l)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

// ProvideIntentStore creates the ClickHouse intent store, or nil when
// ClickHouse is disabled.
func ProvideIntentStore(chClient *pkgch.Client) repository.IntentStore {
	if chClient == nil {
		return nil
	}
	return internalrepo.NewCHIntentStore(chClient)
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is
// disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideEventPublisher publishes cycle results and breaker transitions to
// Kafka. Returns nil when Kafka is disabled.
func ProvideEventPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.EventPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.CycleTopic, cfg.Kafka.BreakerTopic)
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML, or nil
// when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideResilienceClient builds the protection stack shared by every
// external call. Breaker transitions are mirrored into metrics and, when
// Kafka is up, onto the breaker topic.
func ProvideResilienceClient(
	cfg *config.Config,
	m repository.Metrics,
	events repository.EventPublisher,
	l *logger.Logger,
) *resilience.Client {
	opts := []resilience.Option{
		resilience.WithTransitionFunc(func(service string, from, to resilience.BreakerState) {
			m.RecordBreakerState(service, int(to))
			l.Warn("breaker transition",
				logger.String("service", service),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
			if events != nil {
				_ = events.PublishBreakerTransition(context.Background(), service, from.String(), to.String())
			}
		}),
	}
	for name, sp := range cfg.Resilience.Services {
		opts = append(opts, resilience.WithPolicy(name, policyFrom(sp)))
	}
	return resilience.NewClient(opts...)
}

func policyFrom(sp config.ServicePolicy) resilience.Policy {
	return resilience.Policy{
		Retry: resilience.RetryConfig{
			MaxAttempts: sp.RetryMaxAttempts,
			BaseDelay:   sp.RetryBaseDelay,
			Multiplier:  sp.RetryMultiplier,
			MaxDelay:    sp.RetryMaxDelay,
		},
		Breaker: resilience.BreakerConfig{
			FailureThreshold: sp.BreakerThreshold,
			OpenTimeout:      sp.BreakerOpenTimeout,
		},
		Rate: resilience.RateConfig{
			Capacity:     sp.RateCapacity,
			RefillPerSec: sp.RateRefillPerSec,
			MaxWait:      sp.RateMaxWait,
		},
	}
}

// ProvideHTTPClient creates the shared outbound HTTP client.
func ProvideHTTPClient() *pkghttp.Client {
	return pkghttp.NewClient(pkghttp.WithTimeout(10 * time.Second))
}

// ProvideMarketData creates the market data source, or nil when disabled.
// A nil source never blocks a cycle; predictions fall back to narrative-only
// features.
func ProvideMarketData(cfg *config.Config, hc *pkghttp.Client, res *resilience.Client) domsvc.MarketDataSource {
	if !cfg.MarketData.Enabled {
		return nil
	}
	return gecko.New(cfg.MarketData.BaseURL, hc, res, gecko.WithAPIKey(cfg.MarketData.APIKey))
}

// ProvideExecutor creates the trade execution client.
func ProvideExecutor(cfg *config.Config, hc *pkghttp.Client, res *resilience.Client) domsvc.TradeExecutor {
	return executor.New(cfg.Execution.BaseURL, hc, res, executor.WithAPIKey(cfg.Execution.APIKey))
}

// ProvideSnapshotSource creates the portfolio snapshot client.
func ProvideSnapshotSource(cfg *config.Config, hc *pkghttp.Client, res *resilience.Client) domsvc.SnapshotSource {
	return executor.NewSnapshotClient(cfg.Execution.BaseURL, hc, res, executor.WithAPIKey(cfg.Execution.APIKey))
}

// ProvideSignalStream creates the WebSocket signal feed, or nil when
// disabled.
func ProvideSignalStream(cfg *config.Config) repository.SignalStream {
	if !cfg.SignalFeed.Enabled {
		return nil
	}
	return signalfeed.New(
		cfg.SignalFeed.APIKey,
		cfg.SignalFeed.WebSocketURL,
		cfg.Portfolio.Assets,
		cfg.SignalFeed.ReconnectDelay,
		cfg.SignalFeed.PingInterval,
	)
}

// ProvideAggregator creates the signal aggregator.
func ProvideAggregator(store repository.BucketStore, m repository.Metrics, l *logger.Logger, cfg *config.Config) *usecase.SignalAggregator {
	return usecase.NewSignalAggregator(store, m, l,
		usecase.WithWindow(cfg.Aggregator.Window),
		usecase.WithNoveltyBonus(cfg.Aggregator.NoveltyBonus),
		usecase.WithMaxSealedPerAsset(cfg.Aggregator.MaxSealed),
	)
}

// ProvideFeatureBuilder creates the feature builder.
func ProvideFeatureBuilder() *features.Builder {
	return features.NewBuilder()
}

// ProvidePredictionEngine creates the per-asset prediction engine.
func ProvidePredictionEngine(
	agg *usecase.SignalAggregator,
	builder *features.Builder,
	m repository.Metrics,
	l *logger.Logger,
	cfg *config.Config,
) *usecase.PredictionEngine {
	return usecase.NewPredictionEngine(agg, builder, m, l,
		usecase.WithLabelThreshold(cfg.Prediction.LabelThreshold),
		usecase.WithMinTrainSamples(cfg.Prediction.MinTrainSamples),
		usecase.WithFamilySwitchAt(cfg.Prediction.FamilySwitchAt),
		usecase.WithMaxSamples(cfg.Prediction.MaxSamples),
	)
}

// ProvideAllocator creates the portfolio allocator.
func ProvideAllocator(l *logger.Logger, cfg *config.Config) *usecase.PortfolioAllocator {
	return usecase.NewPortfolioAllocator(l,
		usecase.WithTopN(cfg.Portfolio.TopN),
		usecase.WithMaxWeight(cfg.Portfolio.MaxWeight),
		usecase.WithMinNotional(cfg.Portfolio.MinNotional),
		usecase.WithTolerance(cfg.Portfolio.Tolerance),
	)
}

// ProvideScheduler creates the rebalance scheduler.
func ProvideScheduler(
	engine *usecase.PredictionEngine,
	allocator *usecase.PortfolioAllocator,
	agg *usecase.SignalAggregator,
	snapshots domsvc.SnapshotSource,
	exec domsvc.TradeExecutor,
	intents repository.IntentStore,
	events repository.EventPublisher,
	market domsvc.MarketDataSource,
	m repository.Metrics,
	l *logger.Logger,
	cfg *config.Config,
) *usecase.RebalanceScheduler {
	return usecase.NewRebalanceScheduler(engine, allocator, agg, snapshots, exec, intents, events, m, l,
		usecase.WithInterval(cfg.Portfolio.Interval),
		usecase.WithDeviationBand(cfg.Portfolio.DeviationBand),
		usecase.WithOwners(cfg.Portfolio.Owners),
		usecase.WithAssets(cfg.Portfolio.Assets),
		usecase.WithMarketData(market),
	)
}

// ProvideIngestPipeline creates the screening and throttling layer between
// the feeds and the aggregator.
func ProvideIngestPipeline(agg *usecase.SignalAggregator, m repository.Metrics, cfg *config.Config) *mid.IngestPipeline {
	return mid.NewIngestPipeline(agg, m,
		mid.WithMaxRPS(cfg.SignalFeed.MaxRPS),
		mid.WithBufferSize(cfg.SignalFeed.BufferSize),
	)
}

// ProvideSignalCollector creates the WebSocket collector, or nil when the
// feed is disabled.
func ProvideSignalCollector(
	stream repository.SignalStream,
	agg *usecase.SignalAggregator,
	m repository.Metrics,
	pipe *mid.IngestPipeline,
) *usecase.SignalCollector {
	if stream == nil {
		return nil
	}
	return usecase.NewSignalCollector(stream, agg, m, pipe)
}

// ProvideKafkaSignalsHandler registers the handler for the scored-signals
// topic.
func ProvideKafkaSignalsHandler(pipe *mid.IngestPipeline, agg *usecase.SignalAggregator, m repository.Metrics, cfg *config.Config) *usecase.KafkaSignalsHandler {
	return usecase.NewKafkaSignalsHandler(cfg.Kafka.SignalsTopic, pipe, agg, m)
}

// ProvideCache picks a Redis-backed layered cache when Redis is enabled,
// otherwise an in-process memory cache.
func ProvideCache(cfg *config.Config) (pkgcache.Service, error) {
	if !cfg.Redis.Enabled {
		return pkgcache.NewMemoryCache(), nil
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(cfg.Redis.Host),
		pkgcache.WithRedisPort(cfg.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return pkgcache.NewLayeredCache(rc), nil
}

// ProvidePipelineHandler creates the decision pipeline HTTP API.
func ProvidePipelineHandler(
	l *logger.Logger,
	engine *usecase.PredictionEngine,
	scheduler *usecase.RebalanceScheduler,
	snapshots domsvc.SnapshotSource,
	res *resilience.Client,
	cache pkgcache.Service,
	intents repository.IntentStore,
) *api.PipelineEchoHandler {
	return api.NewPipelineEchoHandler(l, engine, scheduler, snapshots, res, cache, intents)
}

// ProvideSignalsHandler creates the signal ingestion HTTP API.
func ProvideSignalsHandler(l *logger.Logger, pipe *mid.IngestPipeline, agg *usecase.SignalAggregator, buckets repository.BucketStore) *api.SignalsEchoHandler {
	return api.NewSignalsEchoHandler(l, pipe, agg, buckets)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	scheduler *usecase.RebalanceScheduler,
	pipe *mid.IngestPipeline,
	collector *usecase.SignalCollector,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaSignalsHandler,
	chClient *pkgch.Client,
	events repository.EventPublisher,
	pipelineHandler *api.PipelineEchoHandler,
	signalsHandler *api.SignalsEchoHandler,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.NewHookChain(
			pkgkafka.TraceHook{},
			pkgkafka.NewLoggingHook(l),
		))
	}
	app := server.New(cfg, l, scheduler, pipe, collector, consumer, kh, chClient, events)
	app.AddHTTPHandler(pipelineHandler)
	app.AddHTTPHandler(signalsHandler)
	return app
}
