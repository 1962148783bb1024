package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	kafkax "github.com/ariefcatur/go-pos-orders/internal/kafka"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/redisx"
	"github.com/ariefcatur/go-pos-orders/internal/summary"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, key, value []byte, headers ...kafka.Header) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, kafka.Message{Key: key, Value: value, Headers: headers})
	return nil
}

type recorder struct {
	events []string
}

func (r *recorder) OrderChanged(_ context.Context, eventType string, _ *orders.Order) {
	r.events = append(r.events, eventType)
}

func sampleOrder() *orders.Order {
	return &orders.Order{
		ID:            "0b7f7c9a-5a43-4a3f-8f55-1b3e1c6f0a01",
		CashierID:     "cashier-1",
		PaymentMethod: orders.PaymentBank,
		Total:         decimal.NewFromInt(24000),
		CreatedAt:     time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestKafkaPublisherEmitsEnvelope(t *testing.T) {
	pub := &fakePublisher{}
	k := &KafkaPublisher{Producer: pub, Service: "pos-api"}
	o := sampleOrder()

	k.OrderChanged(context.Background(), orders.EventOrderCaptured, o)

	require.Len(t, pub.msgs, 1)
	m := pub.msgs[0]
	assert.Equal(t, o.ID, string(m.Key))
	assert.Equal(t, orders.EventOrderCaptured, kafkax.Header(m, kafkax.HeaderEventType))

	env, err := kafkax.DecodeEnvelope(m)
	require.NoError(t, err)
	assert.Equal(t, "pos-api", env.Producer)
	assert.Equal(t, o.ID, env.CorrelationID)
	assert.Equal(t, 1, env.EventVersion)
}

func TestKafkaPublisherSwallowsErrors(t *testing.T) {
	k := &KafkaPublisher{Producer: &fakePublisher{err: errors.New("closed")}, Service: "pos-api"}
	assert.NotPanics(t, func() {
		k.OrderChanged(context.Background(), orders.EventOrderDeleted, sampleOrder())
	})
}

func TestMultiCallsEveryNotifier(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Multi{a, b}.OrderChanged(context.Background(), orders.EventOrderUpdated, sampleOrder())
	assert.Equal(t, []string{orders.EventOrderUpdated}, a.events)
	assert.Equal(t, []string{orders.EventOrderUpdated}, b.events)
}

func TestCacheInvalidatorBumpsSummaryAndEvictsOrder(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()
	sc := &redisx.SummaryCache{RDB: rdb, Zone: "UTC"}
	oc := &redisx.OrderCache{RDB: rdb}
	o := sampleOrder()
	r := summary.Range{Start: o.CreatedAt.Add(-time.Hour), End: o.CreatedAt.Add(time.Hour)}

	require.NoError(t, sc.Put(ctx, r, 0, summary.EmptyReport()))
	require.NoError(t, oc.Put(ctx, o, 0))

	inv := &CacheInvalidator{Summary: sc, Orders: oc}
	inv.OrderChanged(ctx, orders.EventOrderUpdated, o)

	rep, gen, err := sc.Get(ctx, r)
	require.NoError(t, err)
	assert.Nil(t, rep)
	assert.EqualValues(t, 1, gen)

	cached, _, err := oc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func eventMessage(t *testing.T, eventType string, o *orders.Order) kafka.Message {
	t.Helper()
	ev, err := orders.NewChangeEnvelope(eventType, "pos-api", "", o)
	require.NoError(t, err)
	value, err := kafkax.Encode(ev)
	require.NoError(t, err)
	return kafka.Message{Key: orders.PartitionKey(o.ID), Value: value, Headers: kafkax.EventHeaders(ev)}
}

func TestEventHandlerInvalidatesOncePerEvent(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()
	sc := &redisx.SummaryCache{RDB: rdb, Zone: "UTC"}
	h := &EventHandler{
		Caches: &CacheInvalidator{Summary: sc, Orders: &redisx.OrderCache{RDB: rdb}},
		Dedup:  &redisx.Dedup{RDB: rdb, Service: "summary-invalidator"},
		Log:    zerolog.Nop(),
	}
	m := eventMessage(t, orders.EventOrderCaptured, sampleOrder())

	require.NoError(t, h.Handle(ctx, m))
	require.NoError(t, h.Handle(ctx, m)) // redelivery

	gen, err := rdb.Get(ctx, redisx.KeySummaryGeneration).Int64()
	require.NoError(t, err)
	assert.EqualValues(t, 1, gen)
}

func TestEventHandlerSkipsForeignEvents(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()
	h := &EventHandler{
		Caches: &CacheInvalidator{Summary: &redisx.SummaryCache{RDB: rdb}},
		Log:    zerolog.Nop(),
	}

	foreign := kafka.Message{
		Value:   []byte(`{"event_type":"StockReserved"}`),
		Headers: []kafka.Header{{Key: kafkax.HeaderEventType, Value: []byte("StockReserved")}},
	}
	require.NoError(t, h.Handle(ctx, foreign))
	require.NoError(t, h.Handle(ctx, kafka.Message{Value: []byte("not json")}))

	_, err := rdb.Get(ctx, redisx.KeySummaryGeneration).Result()
	assert.ErrorIs(t, err, redis.Nil)
}

type failingInvalidator struct{ calls int }

func (f *failingInvalidator) Invalidate(context.Context) error {
	f.calls++
	return errors.New("redis down")
}

func TestEventHandlerForgetsFailedEvent(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()
	fail := &failingInvalidator{}
	h := &EventHandler{
		Caches: &CacheInvalidator{Summary: fail},
		Dedup:  &redisx.Dedup{RDB: rdb, Service: "summary-invalidator"},
		Log:    zerolog.Nop(),
	}
	m := eventMessage(t, orders.EventOrderDeleted, sampleOrder())

	require.Error(t, h.Handle(ctx, m))
	require.Error(t, h.Handle(ctx, m))
	assert.Equal(t, 2, fail.calls)
}
