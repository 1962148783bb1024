package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/config"
	"github.com/ariefcatur/go-pos-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-pos-orders/internal/kafka"
	"github.com/ariefcatur/go-pos-orders/internal/logx"
	"github.com/ariefcatur/go-pos-orders/internal/notify"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/postgres"
	"github.com/ariefcatur/go-pos-orders/internal/redisx"
	"github.com/ariefcatur/go-pos-orders/internal/sqlite"
	"github.com/ariefcatur/go-pos-orders/internal/summary"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// backend is everything the API needs from the database.
type backend interface {
	orders.Store
	orders.Catalog
	summary.Source
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		boot := logx.New("info", "json", os.Stderr)
		boot.Fatal().Err(err).Msg("load config")
	}
	log := logx.New(cfg.LogLevel, cfg.LogFormat, os.Stdout).With().Str("service", cfg.ServiceName).Logger()
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("api stopped")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	store, pingStore, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	var notifiers notify.Multi
	checks := map[string]httpx.Check{"store": pingStore}
	engine := &summary.Engine{Source: store, Location: loc, Timeout: cfg.ReadTimeout}
	oh := &httpx.OrdersHandler{}

	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		if err := redisx.Ping(ctx, rdb); err != nil {
			return err
		}
		checks["redis"] = func(ctx context.Context) error { return redisx.Ping(ctx, rdb) }
		sc := &redisx.SummaryCache{RDB: rdb, TTL: cfg.SummaryCacheTTL, Zone: cfg.ReportTimezone}
		oc := &redisx.OrderCache{RDB: rdb, TTL: cfg.OrderCacheTTL}
		engine.Cache = sc
		oh.Cache = oc
		oh.Idem = &redisx.Idempotency{RDB: rdb, TTL: cfg.IdempotencyTTL}
		notifiers = append(notifiers, &notify.CacheInvalidator{Summary: sc, Orders: oc})
		log.Info().Str("addr", cfg.RedisAddr).Msg("redis caches enabled")
	} else {
		log.Warn().Msg("REDIS_ADDR empty: summary cache and idempotency keys disabled")
	}

	var prod *kafkax.Producer
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderChanged, 1024, log)
		prod.Start(context.WithoutCancel(ctx)) // closed after the server drains
		notifiers = append(notifiers, &notify.KafkaPublisher{Producer: prod, Service: cfg.ServiceName})
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", orders.TopicOrderChanged).Msg("order events enabled")
	}

	svc := &orders.Service{
		Catalog:     store,
		Store:       store,
		Timeout:     cfg.CaptureTimeout,
		ReadTimeout: cfg.ReadTimeout,
		Location:    loc,
	}
	if len(notifiers) > 0 {
		svc.Notifier = notifiers
	}
	oh.Service = svc

	router := httpx.NewRouter(log)
	httpx.Ready(router, checks)
	oh.Register(router)
	(&httpx.SummaryHandler{Engine: engine, Orders: svc}).Register(router)
	(&httpx.ProductsHandler{Service: svc}).Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Str("store", cfg.StoreDriver).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(sctx)
		if prod != nil {
			prod.Close() // flush queued events, then close the writer
			prod.WaitClosed()
		}
		return err
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (backend, httpx.Check, func(), error) {
	switch cfg.StoreDriver {
	case "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("sqlite store ready")
		return &sqlite.Store{DB: db}, db.PingContext, func() { _ = db.Close() }, nil
	default:
		if cfg.RunMigrations {
			if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
				return nil, nil, nil, err
			}
			log.Info().Msg("postgres migrations applied")
		}
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		return &postgres.Store{DB: pool}, pool.Ping, pool.Close, nil
	}
}
