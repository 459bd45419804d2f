package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mohammed-shakir/polygon-parts/internal/aggregate"
	"github.com/mohammed-shakir/polygon-parts/internal/cache"
	"github.com/mohammed-shakir/polygon-parts/internal/cache/local"
	"github.com/mohammed-shakir/polygon-parts/internal/cache/redisstore"
	"github.com/mohammed-shakir/polygon-parts/internal/catalog"
	"github.com/mohammed-shakir/polygon-parts/internal/core/config"
	"github.com/mohammed-shakir/polygon-parts/internal/core/health"
	"github.com/mohammed-shakir/polygon-parts/internal/core/observability"
	"github.com/mohammed-shakir/polygon-parts/internal/core/router"
	"github.com/mohammed-shakir/polygon-parts/internal/core/server"
	"github.com/mohammed-shakir/polygon-parts/internal/events"
	"github.com/mohammed-shakir/polygon-parts/internal/geometry"
	"github.com/mohammed-shakir/polygon-parts/internal/ingest"
	"github.com/mohammed-shakir/polygon-parts/internal/invalidation"
	"github.com/mohammed-shakir/polygon-parts/internal/logger"
	"github.com/mohammed-shakir/polygon-parts/internal/metrics"
	"github.com/mohammed-shakir/polygon-parts/internal/partition"
	"github.com/mohammed-shakir/polygon-parts/internal/store"
	"github.com/mohammed-shakir/polygon-parts/internal/store/memstore"
	"github.com/mohammed-shakir/polygon-parts/internal/store/pgstore"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()
	_ = godotenv.Load(*envFile)

	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: "polygon-parts",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)
	slog.SetDefault(appLog)

	appLog.Info("starting polygon-parts",
		"addr", cfg.Addr,
		"version", Version,
		"store", cfg.StoreDriver,
		"cache", cfg.Cache.Driver,
		"events", cfg.Kafka.EventsEnabled,
		"invalidation", cfg.Kafka.InvalidationEnabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mp := metrics.Init(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.Addr,
		Path:    cfg.Metrics.Path,
		Build: metrics.BuildInfo{
			Version:   firstNonEmpty(os.Getenv("BUILD_VERSION"), Version),
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	observability.Init(mp.Registerer(), cfg.Metrics.Enabled)

	naming := partition.Naming{
		Schema:             cfg.Naming.Schema,
		PartsPrefix:        cfg.Naming.PartsPrefix,
		PartsSuffix:        cfg.Naming.PartsSuffix,
		PolygonPartsPrefix: cfg.Naming.PolygonPartsPrefix,
		PolygonPartsSuffix: cfg.Naming.PolygonPartsSuffix,
	}

	st, err := openStore(ctx, cfg, appLog)
	if err != nil {
		appLog.Error("store setup failed", "err", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	aggCache, closeCache, err := openCache(ctx, cfg.Cache)
	if err != nil {
		appLog.Error("cache setup failed", "err", err)
		return 1
	}
	defer closeCache()

	eng := geometry.NewEngine()
	ing := ingest.New(ingest.Config{
		Store:   st,
		Engine:  eng,
		Naming:  naming,
		Timeout: cfg.IngestTimeout,
		Logger:  appLog,
	})
	agg := aggregate.NewService(aggregate.Config{
		Store:        st,
		Engine:       eng,
		Naming:       naming,
		Digits:       cfg.AggregationMaxDecimals,
		Cache:        aggCache,
		TTL:          cfg.Cache.TTL,
		TTLOverrides: cfg.Cache.TTLOvr,
		OpTimeout:    cfg.Cache.OpTimeout,
		Catalog:      catalog.New(cfg.CatalogURL, catalog.WithLogger(appLog)),
		Logger:       appLog,
	})

	ing.OnCommit("aggregation-cache", func(ctx context.Context, r ingest.Result) error {
		return agg.Invalidate(ctx, r.Names.PolygonParts.EntityName)
	})

	var pub *events.Publisher
	if cfg.Kafka.EventsEnabled {
		pub, err = events.NewPublisher(cfg.Kafka.BrokerList(), cfg.Kafka.Topic, 0, appLog)
		if err != nil {
			appLog.Error("event publisher setup failed", "err", err)
			return 1
		}
		defer func() {
			if err := pub.Close(); err != nil {
				appLog.Warn("event publisher close", "err", err)
			}
		}()
		ing.OnCommit("change-events", pub.AfterCommit)
	}

	var wg sync.WaitGroup
	if cfg.Kafka.InvalidationEnabled {
		czl := zl.With().Str("component", "kafka_consumer").Logger()
		cons := invalidation.New(invalidation.Config{
			Brokers:             cfg.Kafka.BrokerList(),
			Topic:               cfg.Kafka.Topic,
			GroupID:             cfg.Kafka.GroupID,
			InitialOffsetOldest: false,
		}, appLog, &czl, agg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := cons.Start(ctx); err != nil {
				appLog.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mp.Serve(ctx, appLog); err != nil {
			appLog.Error("metrics server exited", "err", err)
		}
	}()

	ready := []health.Check{{Name: "store", Probe: st.Ping}}
	if p, ok := aggCache.(interface{ Ping(context.Context) error }); ok {
		ready = append(ready, health.Check{Name: "cache", Probe: p.Ping})
	}

	handler := router.New(router.Deps{
		Logger:    appLog,
		Ingest:    ing,
		Aggregate: agg,
		Ready:     ready,
	})

	err = server.Run(ctx, server.Config{
		Addr:         cfg.Addr,
		WriteTimeout: cfg.IngestTimeout + cfg.IngestTimeout/2,
	}, appLog, handler)
	stop()
	wg.Wait()
	if err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		log.Warn("using in-memory store; data is lost on restart")
		return memstore.New(), nil
	case "postgres", "":
		pg, err := pgstore.Open(ctx, pgstore.Config{
			DSN:          cfg.Postgres.DSN(),
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
			MaxIdleConns: cfg.Postgres.MaxIdleConns,
			Schema:       cfg.Naming.Schema,
		}, log)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

// openCache returns a nil Interface when caching is disabled.
func openCache(ctx context.Context, cfg config.CacheCfg) (cache.Interface, func(), error) {
	switch cfg.Driver {
	case "", "none":
		return nil, func() {}, nil
	case "local":
		return local.New(cfg.LocalSize, maxTTL(cfg)), func() {}, nil
	case "redis":
		rc, err := redisstore.New(ctx, cfg.RedisAddr,
			redisstore.WithPassword(cfg.RedisPass),
			redisstore.WithDB(cfg.RedisDB),
			redisstore.WithPoolSize(cfg.RedisPool),
			redisstore.WithReadTimeout(cfg.OpTimeout),
		)
		if err != nil {
			return nil, nil, err
		}
		return rc, func() { _ = rc.Close() }, nil
	default:
		return nil, nil, errors.New("unknown CACHE_DRIVER " + cfg.Driver)
	}
}

func maxTTL(cfg config.CacheCfg) time.Duration {
	m := cfg.TTL
	for _, d := range cfg.TTLOvr {
		m = max(m, d)
	}
	return m
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
