package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Handler must return nil only when the message was fully processed and its
// offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r        messageReader
	workers  int
	attempts int
	backoff  time.Duration
	log      zerolog.Logger
}

func NewConsumer(brokers []string, group, topic string, workers int, log zerolog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // synchronous commits
	})
	log = log.With().Str("component", "kafka_consumer").Str("topic", topic).Str("group", group).Logger()
	return newConsumer(r, workers, log)
}

func newConsumer(r messageReader, workers int, log zerolog.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, attempts: 3, backoff: 200 * time.Millisecond, log: log}
}

// Start fetches until ctx is cancelled and fans messages out to the worker
// pool. Offsets are committed after the handler succeeds. A message that
// keeps failing is logged and committed so the partition moves on.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	jobs := make(chan kafka.Message, c.workers)

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for m := range jobs {
				c.process(ctx, id, m, h)
			}
		}(i)
	}

	var fetchErr error
fetch:
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				fetchErr = err
			}
			break
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
			break fetch
		}
	}

	close(jobs)
	wg.Wait()
	if err := c.r.Close(); err != nil {
		c.log.Warn().Err(err).Msg("kafka reader close failed")
	}
	return fetchErr
}

func (c *Consumer) process(ctx context.Context, worker int, m kafka.Message, h Handler) {
	log := c.log.With().
		Int("worker", worker).
		Int("partition", m.Partition).
		Int64("offset", m.Offset).
		Logger()

	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err = h(ctx, m); err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("handler failed")
		if attempt == c.attempts {
			break
		}
		select {
		case <-time.After(c.backoff * time.Duration(attempt)):
		case <-ctx.Done():
			return
		}
	}
	if err != nil {
		log.Error().Err(err).Msg("giving up on message")
	}
	if ctx.Err() != nil {
		return
	}
	if err := c.r.CommitMessages(ctx, m); err != nil {
		log.Error().Err(err).Msg("commit failed")
	}
}
