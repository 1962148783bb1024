// Package notify fans committed order changes out to the event bus and the
// read caches.
package notify

import (
	"context"
	"time"

	kafkax "github.com/ariefcatur/go-pos-orders/internal/kafka"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type Publisher interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error
}

type SummaryInvalidator interface {
	Invalidate(ctx context.Context) error
}

type OrderEvicter interface {
	Evict(ctx context.Context, id string) error
}

// publishTimeout bounds how long a request waits on a full producer inbox.
const publishTimeout = 500 * time.Millisecond

// KafkaPublisher emits one envelope per order change.
type KafkaPublisher struct {
	Producer Publisher
	Service  string
}

func (k *KafkaPublisher) OrderChanged(ctx context.Context, eventType string, o *orders.Order) {
	log := zerolog.Ctx(ctx)

	ev, err := orders.NewChangeEnvelope(eventType, k.Service, middleware.GetReqID(ctx), o)
	if err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Msg("build order event failed")
		return
	}
	value, err := kafkax.Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Msg("encode order event failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := k.Producer.Publish(ctx, orders.PartitionKey(o.ID), value, kafkax.EventHeaders(ev)...); err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Str("event_type", eventType).Msg("publish order event failed")
	}
}

// CacheInvalidator drops cached state touched by an order change. Either
// field may be nil.
type CacheInvalidator struct {
	Summary SummaryInvalidator
	Orders  OrderEvicter
}

func (c *CacheInvalidator) OrderChanged(ctx context.Context, eventType string, o *orders.Order) {
	if err := c.invalidate(context.WithoutCancel(ctx), eventType, o.ID); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("order_id", o.ID).Msg("cache invalidation failed")
	}
}

func (c *CacheInvalidator) invalidate(ctx context.Context, eventType, orderID string) error {
	if c.Orders != nil && eventType != orders.EventOrderCaptured {
		if err := c.Orders.Evict(ctx, orderID); err != nil {
			return err
		}
	}
	if c.Summary != nil {
		return c.Summary.Invalidate(ctx)
	}
	return nil
}

// Multi calls every notifier in order.
type Multi []orders.Notifier

func (m Multi) OrderChanged(ctx context.Context, eventType string, o *orders.Order) {
	for _, n := range m {
		n.OrderChanged(ctx, eventType, o)
	}
}
