// Package bootstrap assembles storage handles and services from configuration
// for the HTTP gateway and the analyze CLI.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/journal-insights-api/internal/repository"
	"github.com/noah-isme/journal-insights-api/internal/service"
	"github.com/noah-isme/journal-insights-api/pkg/cache"
	"github.com/noah-isme/journal-insights-api/pkg/config"
	"github.com/noah-isme/journal-insights-api/pkg/database"
	"github.com/noah-isme/journal-insights-api/pkg/journalcrypto"
	"github.com/noah-isme/journal-insights-api/pkg/logger"
)

// Container holds the wired services and the handles they own.
type Container struct {
	DB      *sqlx.DB
	Redis   *redis.Client
	Badger  *badger.DB
	Metrics *service.MetricsService
	Cache   *service.CacheService

	Analysis *service.AnalysisService
	Insights *service.InsightsService
	Flags    *service.FlagService
}

type resultStores struct {
	snapshots service.SnapshotStore
	flags     service.FlagStore
	cursors   service.CursorStore
}

// New connects to every configured backend and wires the services. Close
// must be called to release the handles.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Container, error) {
	c := &Container{Metrics: service.NewMetricsService()}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	c.DB = db

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	c.Redis = redisClient

	stores, err := c.openResultStores(cfg)
	if err != nil {
		c.Close()
		return nil, err
	}

	keywords, err := service.LoadKeywordConfig(cfg.Analysis.KeywordsFile)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("load risk keywords: %w", err)
	}
	classifier, err := service.NewRiskClassifier(keywords)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("build risk classifier: %w", err)
	}

	secret, err := journalcrypto.New(cfg.Encryption.MasterSecret)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("init journal decryption: %w", err)
	}

	var cacheRepo service.CacheRepository
	if c.Redis != nil {
		cacheRepo = repository.NewCacheRepository(c.Redis, logger.Component(log, "cache"))
	}
	c.Cache = service.NewCacheService(cacheRepo, c.Metrics, cfg.Insights.CacheTTL, logger.Component(log, "cache"), cfg.Insights.CacheEnabled)

	var lock service.RunLock = service.NewLocalRunLock()
	if c.Redis != nil {
		lock = service.NewRedisRunLock(c.Redis, cfg.Analysis.LockTTL, logger.Component(log, "run_lock"))
	}

	source := service.NewEntrySource(
		repository.NewEntryRepository(c.DB),
		secret,
		cfg.Analysis.Breaker,
		cfg.Analysis.FetchConcurrency,
		c.Metrics,
		logger.Component(log, "entry_source"),
	)

	c.Analysis = service.NewAnalysisService(service.AnalysisDependencies{
		Source:       source,
		Aggregator:   service.NewJournalAggregator(cfg.Analysis.WeeklyWindow, cfg.Analysis.MonthlyWindow),
		Classifier:   classifier,
		Flags:        service.NewFlagAggregator(cfg.Analysis.ExcerptLimit),
		Snapshots:    stores.snapshots,
		FlagStore:    stores.flags,
		Cursors:      stores.cursors,
		Lock:         lock,
		Cache:        c.Cache,
		Metrics:      c.Metrics,
		CursorSource: cfg.Analysis.CursorSource,
	}, logger.Component(log, "analysis"))
	c.Insights = service.NewInsightsService(stores.snapshots, c.Cache, c.Metrics, logger.Component(log, "insights"))
	c.Flags = service.NewFlagService(stores.flags, nil, nil, logger.Component(log, "flags"))

	log.Info("services wired",
		zap.String("store_driver", cfg.Store.Driver),
		zap.Bool("redis", c.Redis != nil),
		zap.String("keyword_version", classifier.Version()),
	)
	return c, nil
}

func (c *Container) openResultStores(cfg *config.Config) (resultStores, error) {
	if cfg.Store.Driver == config.StoreDriverBadger {
		db, err := repository.OpenBadger(cfg.Store.BadgerDir)
		if err != nil {
			return resultStores{}, err
		}
		c.Badger = db
		return resultStores{
			snapshots: repository.NewBadgerSnapshotStore(db),
			flags:     repository.NewBadgerFlagStore(db),
			cursors:   repository.NewBadgerCursorStore(db),
		}, nil
	}
	return resultStores{
		snapshots: repository.NewSnapshotRepository(c.DB),
		flags:     repository.NewFlagRepository(c.DB),
		cursors:   repository.NewCursorRepository(c.DB),
	}, nil
}

// ReadinessChecks returns a probe per live backend.
func (c *Container) ReadinessChecks() map[string]func(ctx context.Context) error {
	checks := map[string]func(ctx context.Context) error{}
	if c.DB != nil {
		checks["postgres"] = c.DB.PingContext
	}
	if c.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return c.Redis.Ping(ctx).Err() }
	}
	if c.Badger != nil {
		checks["badger"] = func(context.Context) error {
			if c.Badger.IsClosed() {
				return fmt.Errorf("badger store closed")
			}
			return nil
		}
	}
	return checks
}

// Close releases every open handle.
func (c *Container) Close() {
	if c.Badger != nil {
		_ = c.Badger.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.DB != nil {
		_ = c.DB.Close()
	}
}
