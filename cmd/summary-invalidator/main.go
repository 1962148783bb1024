package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-pos-orders/internal/config"
	kafkax "github.com/ariefcatur/go-pos-orders/internal/kafka"
	"github.com/ariefcatur/go-pos-orders/internal/logx"
	"github.com/ariefcatur/go-pos-orders/internal/notify"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const serviceName = "summary-invalidator"

// summary-invalidator consumes order change events and drops the cached
// summaries and orders every API replica reads from.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		boot := logx.New("info", "json", os.Stderr)
		boot.Fatal().Err(err).Msg("load config")
	}
	log := logx.New(cfg.LogLevel, cfg.LogFormat, os.Stdout).With().Str("service", serviceName).Logger()
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("consumer stopped")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	if cfg.RedisAddr == "" {
		return errors.New("REDIS_ADDR is required")
	}
	if len(cfg.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		return err
	}

	h := &notify.EventHandler{
		Caches: &notify.CacheInvalidator{
			Summary: &redisx.SummaryCache{RDB: rdb, TTL: cfg.SummaryCacheTTL, Zone: cfg.ReportTimezone},
			Orders:  &redisx.OrderCache{RDB: rdb, TTL: cfg.OrderCacheTTL},
		},
		Dedup: &redisx.Dedup{RDB: rdb, Service: serviceName},
		Log:   log,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.InvalidatorGroup, orders.TopicOrderChanged, cfg.InvalidatorWorkers, log)
	log.Info().
		Str("group", cfg.InvalidatorGroup).
		Str("topic", orders.TopicOrderChanged).
		Int("workers", cfg.InvalidatorWorkers).
		Msg("consumer started")

	err := cons.Start(ctx, h.Handle)
	log.Info().Msg("consumer drained")
	return err
}
