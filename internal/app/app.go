// Package app assembles the pipeline from configuration: database pool,
// Redis client, repositories, adapters, and every service built on them.
// One Services graph is built per process and released with Close.
package app

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dealbrain/dealbrain/internal/baseline"
	"github.com/dealbrain/dealbrain/internal/cache"
	"github.com/dealbrain/dealbrain/internal/config"
	"github.com/dealbrain/dealbrain/internal/dedup"
	"github.com/dealbrain/dealbrain/internal/events"
	"github.com/dealbrain/dealbrain/internal/ingest"
	"github.com/dealbrain/dealbrain/internal/ingest/adapter"
	"github.com/dealbrain/dealbrain/internal/ingest/ebay"
	"github.com/dealbrain/dealbrain/internal/ingest/jsonld"
	"github.com/dealbrain/dealbrain/internal/listings"
	"github.com/dealbrain/dealbrain/internal/monitor"
	"github.com/dealbrain/dealbrain/internal/pagination"
	"github.com/dealbrain/dealbrain/internal/persistence/postgres"
	"github.com/dealbrain/dealbrain/internal/recalc"
	"github.com/dealbrain/dealbrain/internal/telemetry"
	"github.com/dealbrain/dealbrain/internal/valuation"
)

// Services is the wired object graph.
type Services struct {
	Cfg *config.Config
	Log zerolog.Logger

	DB    *postgres.Manager
	Redis *redis.Client

	Metrics   *telemetry.Metrics
	Publisher events.Publisher
	Cache     *cache.Cache
	Counts    *cache.CountCache
	Engine    *valuation.Engine
	Enqueuer  *recalc.Enqueuer
	Checker   *dedup.Checker
	Router    *adapter.Router
	Listings  *listings.Service
	Ingest    *ingest.Service
	Pager     *pagination.Paginator
}

// New connects Postgres and Redis and wires the services. The Redis client
// connects lazily; only the database is pinged at boot.
func New(cfg *config.Config, log zerolog.Logger) (*Services, error) {
	db, err := postgres.NewManager(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	rdb, err := cache.NewClient(cfg.Redis)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}

	repos := db.Repos()
	metrics := telemetry.New()
	publisher := events.NewRedisPublisher(rdb, metrics, log)
	readCache := cache.New(rdb, cfg.Cache.DefaultTTL(), log)
	counts := cache.NewCountCache(readCache, repos.Listings, cfg.Cache.DefaultTTL())
	engine := valuation.NewEngine(log)
	enqueuer := recalc.NewEnqueuer(rdb, repos.Listings, cfg.Recalc.CoalesceWindow(), cfg.Recalc.BatchSize, metrics, log)
	pager := pagination.NewPaginator(repos.Listings, counts, log)

	listingSvc := listings.New(listings.Deps{
		Store:     db.Store(),
		Engine:    engine,
		Publisher: publisher,
		Counts:    counts,
		Recalc:    enqueuer,
		Metrics:   metrics,
		Dedup:     cfg.Dedup,
	}, log)

	checker := dedup.NewChecker(repos.Listings, log)

	router := adapter.NewRouter(cfg.Ingestion.AdapterEnabled, log)
	limiter := adapter.NewLimiter()
	router.Register(adapter.Wrap(ebay.New(ebay.Config{
		APIKey:            cfg.Ingestion.Ebay.APIKey,
		APIBase:           cfg.Ingestion.Ebay.APIBase,
		Timeout:           cfg.Ingestion.Ebay.Timeout(),
		MaxRetries:        cfg.Ingestion.Ebay.Retries,
		RequestsPerMinute: cfg.Ingestion.Ebay.RequestsPerMinute,
		BackoffFactor:     cfg.Ingestion.Ebay.BackoffFactor,
	}, log), limiter, log))
	router.Register(adapter.Wrap(jsonld.New(jsonld.Config{
		UserAgent:         cfg.Ingestion.JSONLD.UserAgent,
		Timeout:           cfg.Ingestion.JSONLD.Timeout(),
		MaxRetries:        cfg.Ingestion.JSONLD.Retries,
		RequestsPerMinute: cfg.Ingestion.JSONLD.RequestsPerMinute,
		BackoffFactor:     cfg.Ingestion.JSONLD.BackoffFactor,
	}, log), limiter, log))

	ingestSvc := ingest.New(ingest.Deps{
		Router:     router,
		Checker:    checker,
		Listings:   listingSvc,
		Imports:    repos.Imports,
		Publisher:  publisher,
		Metrics:    metrics,
		ImportRoot: cfg.Paths.ImportRoot,
	}, log)

	return &Services{
		Cfg:       cfg,
		Log:       log,
		DB:        db,
		Redis:     rdb,
		Metrics:   metrics,
		Publisher: publisher,
		Cache:     readCache,
		Counts:    counts,
		Engine:    engine,
		Enqueuer:  enqueuer,
		Checker:   checker,
		Router:    router,
		Listings:  listingSvc,
		Ingest:    ingestSvc,
		Pager:     pager,
	}, nil
}

// Worker builds a recalculation worker pool on the shared connections.
func (s *Services) Worker() *recalc.Worker {
	return recalc.NewWorker(s.Redis, s.DB.Store(), s.Engine, s.Publisher, s.Metrics, s.Cfg.Recalc.Concurrency, s.Log)
}

// Monitor builds the ops HTTP server.
func (s *Services) Monitor(version string) *monitor.Server {
	return monitor.New(s.Cfg.Monitor.ListenAddr, monitor.Deps{
		DB:      s.DB.Health(),
		Redis:   monitor.RedisPinger{RDB: s.Redis},
		Version: version,
	}, s.Log)
}

// BaselineLoader builds a loader attributing writes to actor.
func (s *Services) BaselineLoader(actor string) *baseline.Loader {
	return baseline.NewLoader(s.DB.Store(), actor, s.Log)
}

// BaselineHydrator builds a hydrator attributing writes to actor.
func (s *Services) BaselineHydrator(actor string) *baseline.Hydrator {
	return baseline.NewHydrator(s.DB.Store(), actor, s.Log)
}

// Close releases the external connections.
func (s *Services) Close() {
	if err := s.Redis.Close(); err != nil {
		s.Log.Warn().Err(err).Msg("redis close failed")
	}
	if err := s.DB.Close(); err != nil {
		s.Log.Warn().Err(err).Msg("database close failed")
	}
}
