//go:build wireinject
// +build wireinject

package di

import (
	"QuorumFeed/pkg/config"
	"QuorumFeed/pkg/server"

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
		ProvideHTTPClient,
		ProvideRedisCache,
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideFeedStore,
		ProvideSnapshotStore,
		ProvideBytesCache,
		ProvideFeedArchive,
		ProvideFeedPublisher,
		ProvideSettlement,

		// Sources
		ProvideExchangeWS,
		ProvideSourceAdapters,

		// Use cases
		ProvideEffectsPipeline,
		ProvideRegistry,
		ProvideAggregator,
		ProvideConsensusEngine,
		ProvideJobQueues,
		ProvideStaking,
		ProvideScheduler,
		ProvideSubmissionsHandler,

		// HTTP surface and application server
		ProvideOracleHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
