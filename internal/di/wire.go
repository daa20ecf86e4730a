//go:build wireinject
// +build wireinject

package di

import (
	"NarraTrade/pkg/config"
	"NarraTrade/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideHTTPClient,
		ProvideCache,

		// Repositories
		ProvideBucketStore,
		ProvideIntentStore,
		ProvideEventPublisher,

		// External services behind the protection stack
		ProvideResilienceClient,
		ProvideMarketData,
		ProvideExecutor,
		ProvideSnapshotSource,
		ProvideSignalStream,

		// Use cases
		ProvideAggregator,
		ProvideFeatureBuilder,
		ProvidePredictionEngine,
		ProvideAllocator,
		ProvideScheduler,
		ProvideIngestPipeline,
		ProvideSignalCollector,
		ProvideKafkaSignalsHandler,

		// HTTP handlers
		ProvidePipelineHandler,
		ProvideSignalsHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
