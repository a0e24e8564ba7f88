package di

import (
	"context"
	"fmt"
	"time"

	"QuorumFeed/internal/domain/repository"
	"QuorumFeed/internal/handler/api"
	mid "QuorumFeed/internal/middleware"
	internalrepo "QuorumFeed/internal/repository"
	icache "QuorumFeed/internal/service/cache"
	"QuorumFeed/internal/service/ratelimit"
	"QuorumFeed/internal/service/settlement"
	"QuorumFeed/internal/service/sources"
	"QuorumFeed/internal/usecase"
	pkgcache "QuorumFeed/pkg/cache"
	pkgch "QuorumFeed/pkg/clickhouse"
	"QuorumFeed/pkg/config"
	pkghttp "QuorumFeed/pkg/http"
	pkgkafka "QuorumFeed/pkg/kafka"
	applogger "QuorumFeed/pkg/logger"
	"QuorumFeed/pkg/metrics"
	"QuorumFeed/pkg/queue"
	"QuorumFeed/pkg/server"
)

// ProvideLogger builds the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideHTTPClient is the shared outbound client for source adapters.
func ProvideHTTPClient(cfg *config.Config) *pkghttp.Client {
	return pkghttp.NewClient(pkghttp.WithTimeout(cfg.Oracle.FetchTimeout))
}

// ProvideExchangeWS creates the exchange WebSocket source, or nil when disabled.
func ProvideExchangeWS(cfg *config.Config, l *applogger.Logger) *sources.ExchangeWS {
	ws := cfg.Sources.ExchangeWS
	if !ws.Enabled {
		return nil
	}
	return sources.NewExchangeWS(ws.URL, ws.Symbols, ws.ReconnectDelay, ws.PingInterval, ws.StaleAfter, l)
}

// ProvideSourceAdapters assembles the enabled price sources. The REST adapters
// share one HTTP client and one rate limiter keyed per source.
func ProvideSourceAdapters(cfg *config.Config, client *pkghttp.Client, ws *sources.ExchangeWS) []repository.SourceAdapter {
	limiter := ratelimit.New()

	var adapters []repository.SourceAdapter
	if s := cfg.Sources.CoinGecko; s.Enabled {
		adapters = append(adapters, sources.NewCoinGecko(client, limiter, s.BaseURL, s.APIKey, s.MaxRPS))
	}
	if s := cfg.Sources.Binance; s.Enabled {
		adapters = append(adapters, sources.NewBinance(client, limiter, s.BaseURL, s.MaxRPS))
	}
	if s := cfg.Sources.Coinbase; s.Enabled {
		adapters = append(adapters, sources.NewCoinbase(client, limiter, s.BaseURL, s.MaxRPS))
	}
	if ws != nil {
		adapters = append(adapters, ws)
	}
	return adapters
}

// ProvideFeedStore creates the in-memory feed state.
func ProvideFeedStore(cfg *config.Config) *internalrepo.FeedStore {
	return internalrepo.NewFeedStore(cfg.Oracle.HistoryLimit)
}

// ProvideRedisCache creates the shared Redis connection, or nil when disabled.
func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	opts := []pkgcache.RedisOption{
		pkgcache.WithRedisHost(cfg.Redis.Host),
		pkgcache.WithRedisPort(cfg.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
	}
	if cfg.Redis.Prefix != "" {
		opts = append(opts, pkgcache.WithRedisPrefix(cfg.Redis.Prefix))
	}
	rc, err := pkgcache.NewRedisCache(opts...)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideSnapshotStore persists the node registry between runs. Without Redis
// the registry runs from a cold start every boot. The layered cache keeps the
// latest snapshot readable even when Redis briefly drops.
func ProvideSnapshotStore(rc *pkgcache.RedisCache, l *applogger.Logger) repository.SnapshotStore {
	if rc == nil {
		return nil
	}
	return internalrepo.NewRedisSnapshotStore(pkgcache.NewLayeredCache(rc), l)
}

// ProvideBytesCache backs the hot query endpoints: Redis when available,
// in-process TTL cache otherwise.
func ProvideBytesCache(cfg *config.Config) icache.BytesCache {
	if cfg.Redis.Enabled {
		return icache.NewRedisCache(icache.RedisConfig{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	return icache.NewTTLCache()
}

// ProvideClickHouseClient creates the ClickHouse client, or nil when disabled.
// Schema creation happens on startup through the archive's Init.
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

// ProvideFeedArchive creates the ClickHouse-backed audit archive.
func ProvideFeedArchive(chClient *pkgch.Client, cfg *config.Config, l *applogger.Logger) repository.FeedArchive {
	if chClient == nil {
		return nil
	}
	archive := internalrepo.NewCHFeedArchive(chClient, cfg.ClickHouse.Database)
	archive.SetLogger(l)
	return archive
}

// ProvideKafkaProducer creates a Kafka producer, or nil when disabled.
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
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
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

// ProvideFeedPublisher creates the Kafka-backed downstream publisher.
func ProvideFeedPublisher(producer *pkgkafka.Producer, cfg *config.Config, l *applogger.Logger) repository.FeedPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaFeedPublisher(producer, cfg.Kafka.PriceTopic, cfg.Kafka.ConsensusTopic, l)
}

// ProvideKafkaConsumer creates a Kafka consumer for inbound submissions.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || cfg.Kafka.SubmitTopic == "" {
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

// ProvideSettlement creates the settlement backend client.
func ProvideSettlement(cfg *config.Config, l *applogger.Logger) repository.SettlementBackend {
	client := pkghttp.NewClient(pkghttp.WithTimeout(cfg.Settlement.Timeout))
	return settlement.New(client, cfg.Settlement.BaseURL, l)
}

// ProvideEffectsPipeline creates the background side-effect queue.
func ProvideEffectsPipeline(m repository.Metrics) *mid.EffectsPipeline {
	return mid.NewEffectsPipeline(m, mid.WithBufferSize(1000))
}

// ProvideRegistry creates the node registry.
func ProvideRegistry(
	stl repository.SettlementBackend,
	snapshots repository.SnapshotStore,
	pipeline *mid.EffectsPipeline,
	m repository.Metrics,
	l *applogger.Logger,
	cfg *config.Config,
) *usecase.NodeRegistry {
	probe := pkghttp.NewClient(pkghttp.WithTimeout(cfg.Registry.ProbeTimeout))
	return usecase.NewNodeRegistry(stl, snapshots, pipeline, probe, m, l, usecase.RegistryConfig{
		OnlineWindow: cfg.Registry.OnlineWindow,
		ProbeTimeout: cfg.Registry.ProbeTimeout,
		RewardRate:   cfg.Staking.RewardRate,
		DefaultPool:  cfg.Staking.DefaultPool,
		MinStake:     cfg.Consensus.MinStake,
	})
}

// ProvideAggregator creates the multi-source price aggregator.
func ProvideAggregator(
	adapters []repository.SourceAdapter,
	store *internalrepo.FeedStore,
	pipeline *mid.EffectsPipeline,
	archive repository.FeedArchive,
	pub repository.FeedPublisher,
	m repository.Metrics,
	l *applogger.Logger,
	cfg *config.Config,
) *usecase.PriceAggregator {
	return usecase.NewPriceAggregator(adapters, store, pipeline, archive, pub, m, l,
		cfg.Oracle.Symbols,
		usecase.AggregatorConfig{
			FetchTimeout:    cfg.Oracle.FetchTimeout,
			BatchSize:       cfg.Oracle.BatchSize,
			BatchDelay:      cfg.Oracle.BatchDelay,
			OutlierStdDevs:  cfg.Oracle.OutlierStdDevs,
			TightSpreadFrac: cfg.Oracle.TightSpreadFrac,
		})
}

// ProvideConsensusEngine creates the submission and consensus core.
func ProvideConsensusEngine(
	store *internalrepo.FeedStore,
	registry *usecase.NodeRegistry,
	agg *usecase.PriceAggregator,
	pipeline *mid.EffectsPipeline,
	archive repository.FeedArchive,
	pub repository.FeedPublisher,
	m repository.Metrics,
	l *applogger.Logger,
	cfg *config.Config,
) *usecase.ConsensusEngine {
	return usecase.NewConsensusEngine(store, registry, agg, pipeline, archive, pub, m, l,
		usecase.ConsensusConfig{
			MinNodes:              cfg.Consensus.MinNodes,
			VerificationThreshold: cfg.Consensus.VerificationThreshold,
			MinStake:              cfg.Consensus.MinStake,
			SlashThreshold:        cfg.Consensus.SlashThreshold,
			SlashFraction:         cfg.Consensus.SlashFraction,
			MaxPriceDeviation:     cfg.Consensus.MaxPriceDeviation,
		})
}

// JobQueues holds the Redis job queue endpoints. Publisher feeds evaluation
// requests in; consumer drains them with retry and dead-letter handling.
type JobQueues struct {
	Publisher *queue.RedisQueue
	Consumer  *queue.RedisQueue
}

// ProvideJobQueues wires deferred consensus evaluation through Redis. Without
// Redis, consensus runs synchronously on the query path only.
func ProvideJobQueues(rc *pkgcache.RedisCache, engine *usecase.ConsensusEngine, l *applogger.Logger) *JobQueues {
	if rc == nil {
		return nil
	}
	pub := queue.NewRedisPublisher(l, rc.Client())
	engine.SetJobQueue(pub)

	consumer := queue.NewRedisConsumer(l, &queue.QueueConfig{
		Workers:    2,
		RetryLimit: 3,
		RetryDelay: 5 * time.Second,
	}, rc.Client(), []queue.Job{usecase.NewConsensusJob(engine, l)})

	return &JobQueues{Publisher: pub, Consumer: consumer}
}

// ProvideStaking creates the autonomous staking controller.
func ProvideStaking(
	registry *usecase.NodeRegistry,
	stl repository.SettlementBackend,
	m repository.Metrics,
	l *applogger.Logger,
	cfg *config.Config,
) *usecase.StakingController {
	return usecase.NewStakingController(registry, stl, m, l, usecase.StakingConfig{
		ScanInterval:      cfg.Staking.ScanInterval,
		NodeTimeout:       cfg.Staking.NodeTimeout,
		Threshold:         cfg.Staking.Threshold,
		FeeReserve:        cfg.Staking.FeeReserve,
		CompoundEnabled:   cfg.Staking.CompoundEnabled,
		CompoundThreshold: cfg.Staking.CompoundThreshold,
		UnstakeEnabled:    cfg.Staking.UnstakeEnabled,
		MinAPY:            cfg.Staking.MinAPY,
		MaxStakeDuration:  cfg.Staking.MaxStakeDuration,
		DefaultPool:       cfg.Staking.DefaultPool,
	})
}

// ProvideScheduler creates the cron scheduler.
func ProvideScheduler(l *applogger.Logger) *usecase.Scheduler {
	return usecase.NewScheduler(l)
}

// ProvideSubmissionsHandler registers the handler for the submissions topic.
func ProvideSubmissionsHandler(cfg *config.Config, engine *usecase.ConsensusEngine, m repository.Metrics) *usecase.KafkaSubmissionsHandler {
	return usecase.NewKafkaSubmissionsHandler(cfg.Kafka.SubmitTopic, engine, m)
}

// ProvideOracleHandler creates the HTTP query and submission surface.
func ProvideOracleHandler(
	l *applogger.Logger,
	agg *usecase.PriceAggregator,
	engine *usecase.ConsensusEngine,
	registry *usecase.NodeRegistry,
	store *internalrepo.FeedStore,
	archive repository.FeedArchive,
	bc icache.BytesCache,
) *api.OracleHandler {
	h := api.NewOracleHandler(l, agg, engine, registry, store)
	h.SetCache(bc)
	if archive != nil {
		h.SetArchive(archive)
	}
	return h
}

// kafkaLogPublisher feeds aggregated error logs to the logs topic.
type kafkaLogPublisher struct {
	producer *pkgkafka.Producer
}

func (p *kafkaLogPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}

// ProvideApp assembles the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	handler *api.OracleHandler,
	pipeline *mid.EffectsPipeline,
	agg *usecase.PriceAggregator,
	engine *usecase.ConsensusEngine,
	registry *usecase.NodeRegistry,
	staking *usecase.StakingController,
	scheduler *usecase.Scheduler,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaSubmissionsHandler,
	ws *sources.ExchangeWS,
	archive repository.FeedArchive,
	pub repository.FeedPublisher,
	producer *pkgkafka.Producer,
	chClient *pkgch.Client,
	rc *pkgcache.RedisCache,
	jobs *JobQueues,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.NoopHook{})
	}
	if producer != nil && cfg.Kafka.LogsTopic != "" {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Kafka.LogsTopic,
			Publisher:      &kafkaLogPublisher{producer: producer},
		})
	}
	deps := &server.Components{
		Pipeline:   pipeline,
		Aggregator: agg,
		Engine:     engine,
		Registry:   registry,
		Staking:    staking,
		Scheduler:  scheduler,
		Consumer:   consumer,
		Archive:    archive,
		Publisher:  pub,
		ClickHouse: chClient,
		Redis:      rc,
	}
	if kh != nil && consumer != nil {
		deps.SubmissionsHandler = kh
	}
	if ws != nil {
		deps.Stream = ws
	}
	if jobs != nil {
		deps.JobPublisher = jobs.Publisher
		deps.JobConsumer = jobs.Consumer
	}
	return server.New(cfg, l, handler, deps)
}
