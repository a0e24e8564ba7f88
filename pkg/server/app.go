package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"QuorumFeed/internal/domain/repository"
	mid "QuorumFeed/internal/middleware"
	"QuorumFeed/internal/usecase"
	pkgcache "QuorumFeed/pkg/cache"
	pkgch "QuorumFeed/pkg/clickhouse"
	"QuorumFeed/pkg/config"
	xhttp "QuorumFeed/pkg/http"
	pkgkafka "QuorumFeed/pkg/kafka"
	applogger "QuorumFeed/pkg/logger"
	"QuorumFeed/pkg/queue"
)

// MarketStream is a long-running push source with its own lifecycle.
type MarketStream interface {
	Start(ctx context.Context) error
	Stop() error
}

// Components carries everything with a lifecycle the app must drive.
// Optional fields are nil when the corresponding backend is disabled.
type Components struct {
	Pipeline           *mid.EffectsPipeline
	Aggregator         *usecase.PriceAggregator
	Engine             *usecase.ConsensusEngine
	Registry           *usecase.NodeRegistry
	Staking            *usecase.StakingController
	Scheduler          *usecase.Scheduler
	Consumer           *pkgkafka.Consumer
	SubmissionsHandler pkgkafka.MessageHandler
	Stream             MarketStream
	Archive            repository.FeedArchive
	Publisher          repository.FeedPublisher
	ClickHouse         *pkgch.Client
	Redis              *pkgcache.RedisCache
	JobPublisher       *queue.RedisQueue
	JobConsumer        *queue.RedisQueue
}

// App encapsulates the application lifecycle: restore state, start the
// periodic jobs and servers, block on a signal, unwind in reverse order.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	handler    xhttp.Handler
	comps      *Components
	httpServer *xhttp.Server
}

func New(cfg *config.Config, l *applogger.Logger, handler xhttp.Handler, comps *Components) *App {
	return &App{cfg: cfg, l: l, handler: handler, comps: comps}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := a.comps
	c.Pipeline.Start(ctx)

	if c.Archive != nil {
		initCtx, initCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := c.Archive.Init(initCtx); err != nil {
			initCancel()
			a.l.Error("archive init failed", applogger.Error(err))
			return err
		}
		initCancel()
		a.l.Info("archive ready", applogger.String("database", a.cfg.ClickHouse.Database))
	}

	if err := c.Registry.Restore(ctx); err != nil {
		// A bad snapshot should not keep the oracle down.
		a.l.Warn("registry restore failed", applogger.Error(err))
	}

	if c.Stream != nil {
		go func() {
			if err := c.Stream.Start(ctx); err != nil {
				a.l.Error("market stream error", applogger.Error(err))
			}
		}()
	}

	if err := a.scheduleJobs(); err != nil {
		return err
	}
	c.Scheduler.Start(ctx)

	if c.Consumer != nil && c.SubmissionsHandler != nil {
		c.Consumer.RegisterHandler(c.SubmissionsHandler)
		go func() {
			if err := c.Consumer.Start(); err != nil {
				a.l.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.l.Info("kafka consumer started", applogger.String("topic", c.SubmissionsHandler.Topic()))
	}

	if c.JobConsumer != nil {
		if err := c.JobConsumer.Start(); err != nil {
			a.l.Error("job queue start failed", applogger.Error(err))
			return err
		}
	}

	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)
	if err := a.httpServer.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		return err
	}
	a.l.Info("oracle running",
		applogger.Int("port", a.cfg.Server.Port),
		applogger.Strings("symbols", a.comps.Aggregator.Symbols()),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.l.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// scheduleJobs registers the periodic work before the scheduler starts.
func (a *App) scheduleJobs() error {
	c := a.comps

	if err := c.Scheduler.Every(a.cfg.Oracle.UpdateInterval, "price_sweep", func(ctx context.Context) {
		c.Aggregator.SweepOnce(ctx)
	}); err != nil {
		return err
	}
	if err := c.Scheduler.Every(a.cfg.Oracle.PairRefresh, "pair_refresh", func(ctx context.Context) {
		c.Aggregator.RefreshPairs(ctx)
	}); err != nil {
		return err
	}
	if err := c.Scheduler.Every(a.cfg.Registry.HealthInterval, "health_pass", func(ctx context.Context) {
		c.Registry.RunHealthPass(ctx)
	}); err != nil {
		return err
	}
	if err := c.Scheduler.Every(a.cfg.Registry.SnapshotInterval, "registry_snapshot", func(ctx context.Context) {
		if err := c.Registry.Snapshot(ctx); err != nil {
			a.l.Warn("registry snapshot failed", applogger.Error(err))
		}
	}); err != nil {
		return err
	}
	if a.cfg.Staking.Enabled {
		if err := c.Scheduler.Every(a.cfg.Staking.ScanInterval, "staking_scan", func(ctx context.Context) {
			c.Staking.RunScan(ctx)
		}); err != nil {
			return err
		}
	}
	return nil
}

// shutdown unwinds in reverse start order: stop intake first (HTTP, Kafka,
// job queue), drain the effects pipeline, persist the registry, then close
// clients. Stopping intake before the final snapshot means no submission can
// land after the state it would have been saved in.
func (a *App) shutdown(ctx context.Context) error {
	c := a.comps

	if a.httpServer != nil {
		stopCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
		if err := a.httpServer.Stop(stopCtx); err != nil {
			a.l.Error("http shutdown error", applogger.Error(err))
		}
		cancel()
	}

	c.Scheduler.Stop()

	if c.Consumer != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		if err := c.Consumer.Stop(stopCtx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
		}
		cancel()
	}
	if c.JobConsumer != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		if err := c.JobConsumer.Stop(stopCtx); err != nil {
			a.l.Warn("job queue stop error", applogger.Error(err))
		}
		cancel()
	}
	if c.JobPublisher != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		if err := c.JobPublisher.Stop(stopCtx); err != nil {
			a.l.Warn("job publisher stop error", applogger.Error(err))
		}
		cancel()
	}

	if c.Stream != nil {
		if err := c.Stream.Stop(); err != nil {
			a.l.Warn("market stream stop error", applogger.Error(err))
		}
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	if err := c.Pipeline.Flush(flushCtx); err != nil {
		a.l.Warn("pipeline flush error", applogger.Error(err))
	}
	cancel()
	c.Pipeline.Stop()

	snapCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	if err := c.Registry.Snapshot(snapCtx); err != nil {
		a.l.Warn("final snapshot failed", applogger.Error(err))
	}
	cancel()

	if c.Publisher != nil {
		if err := c.Publisher.Close(); err != nil {
			a.l.Warn("publisher close error", applogger.Error(err))
		}
	}
	if c.Archive != nil {
		if err := c.Archive.Close(); err != nil {
			a.l.Warn("archive close error", applogger.Error(err))
		}
	}
	if c.ClickHouse != nil {
		if err := c.ClickHouse.Close(); err != nil {
			a.l.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			a.l.Warn("redis close error", applogger.Error(err))
		}
	}

	a.l.Info("shutdown complete")
	a.l.RemoveCollector()
	return nil
}
