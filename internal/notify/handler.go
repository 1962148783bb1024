package notify

import (
	"context"

	kafkax "github.com/ariefcatur/go-pos-orders/internal/kafka"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type Deduper interface {
	First(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// EventHandler consumes order change events and invalidates the caches the
// API reads from.
type EventHandler struct {
	Caches *CacheInvalidator
	Dedup  Deduper // optional
	Log    zerolog.Logger
}

// Handle is a kafka.Handler. Unknown event types are acknowledged and skipped.
func (h *EventHandler) Handle(ctx context.Context, m kafka.Message) error {
	switch kafkax.Header(m, kafkax.HeaderEventType) {
	case "", orders.EventOrderCaptured, orders.EventOrderUpdated, orders.EventOrderDeleted:
	default:
		return nil
	}

	env, err := kafkax.DecodeEnvelope(m)
	if err != nil {
		h.Log.Error().Err(err).Int64("offset", m.Offset).Msg("dropping undecodable event")
		return nil
	}
	switch env.EventType {
	case orders.EventOrderCaptured, orders.EventOrderUpdated, orders.EventOrderDeleted:
	default:
		return nil
	}

	if h.Dedup != nil {
		first, err := h.Dedup.First(ctx, env.EventID)
		if err != nil {
			return err
		}
		if !first {
			return nil
		}
	}

	if err := h.Caches.invalidate(ctx, env.EventType, env.CorrelationID); err != nil {
		if h.Dedup != nil {
			_ = h.Dedup.Forget(ctx, env.EventID)
		}
		return err
	}

	h.Log.Debug().
		Str("event_id", env.EventID).
		Str("event_type", env.EventType).
		Str("order_id", env.CorrelationID).
		Str("trace_id", env.TraceID).
		Msg("caches invalidated")
	return nil
}
