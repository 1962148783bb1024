package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/summary"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"
)

type RedisTestSuite struct {
	suite.Suite
	mr  *miniredis.Miniredis
	rdb *redis.Client
	ctx context.Context
}

func TestRedisSuite(t *testing.T) {
	suite.Run(t, new(RedisTestSuite))
}

func (s *RedisTestSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.rdb = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.ctx = context.Background()
}

func (s *RedisTestSuite) TearDownTest() {
	_ = s.rdb.Close()
}

func sampleRange() summary.Range {
	start, end := orders.DayBounds(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), time.UTC)
	return summary.Range{Start: start, End: end}
}

func sampleReport() *summary.Report {
	return summary.Fold(
		[]summary.OrderFact{
			{Total: decimal.NewFromInt(58000), PaymentMethod: "cash"},
			{Total: decimal.NewFromInt(25000), PaymentMethod: "qris", IsTakeaway: true},
		},
		[]summary.ItemTally{
			{Category: "food", Name: "Nasi Goreng Spesial", Quantity: 3},
			{Category: "beverages", Name: "Es Teh Manis", Quantity: 1},
		},
	)
}

func (s *RedisTestSuite) TestSummaryCacheMissThenHit() {
	c := &SummaryCache{RDB: s.rdb, TTL: time.Minute, Zone: "UTC"}
	r := sampleRange()

	rep, gen, err := c.Get(s.ctx, r)
	s.Require().NoError(err)
	s.Nil(rep)
	s.Zero(gen)

	want := sampleReport()
	s.Require().NoError(c.Put(s.ctx, r, gen, want))

	got, gen, err := c.Get(s.ctx, r)
	s.Require().NoError(err)
	s.Zero(gen)
	s.Require().NotNil(got)
	s.True(got.TotalIncome.Equal(decimal.NewFromInt(83000)))
	s.Equal(want.TotalOrder, got.TotalOrder)
	s.Equal(want.TotalItems, got.TotalItems)
	s.Equal(want.ByPaymentMethod, got.ByPaymentMethod)
	s.Equal(want.CustomerPreferences, got.CustomerPreferences)
}

func (s *RedisTestSuite) TestSummaryCacheInvalidate() {
	c := &SummaryCache{RDB: s.rdb, Zone: "UTC"}
	r := sampleRange()
	s.Require().NoError(c.Put(s.ctx, r, 0, sampleReport()))

	s.Require().NoError(c.Invalidate(s.ctx))

	rep, gen, err := c.Get(s.ctx, r)
	s.Require().NoError(err)
	s.Nil(rep)
	s.EqualValues(1, gen)
}

func (s *RedisTestSuite) TestSummaryCachePutUnderOldGenerationIsInvisible() {
	c := &SummaryCache{RDB: s.rdb, Zone: "UTC"}
	r := sampleRange()

	_, gen, err := c.Get(s.ctx, r)
	s.Require().NoError(err)
	s.Require().NoError(c.Invalidate(s.ctx)) // an order changed while the report was computed
	s.Require().NoError(c.Put(s.ctx, r, gen, sampleReport()))

	rep, _, err := c.Get(s.ctx, r)
	s.Require().NoError(err)
	s.Nil(rep)
}

func (s *RedisTestSuite) TestSummaryCacheTTL() {
	c := &SummaryCache{RDB: s.rdb, TTL: 30 * time.Second, Zone: "UTC"}
	r := sampleRange()
	s.Require().NoError(c.Put(s.ctx, r, 0, sampleReport()))

	s.mr.FastForward(31 * time.Second)

	rep, _, err := c.Get(s.ctx, r)
	s.Require().NoError(err)
	s.Nil(rep)
}

func (s *RedisTestSuite) TestSummaryCacheReportsRedisErrors() {
	down := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer down.Close()
	c := &SummaryCache{RDB: down}

	_, _, err := c.Get(s.ctx, sampleRange())
	s.Error(err)
}

func (s *RedisTestSuite) TestIdempotency() {
	idem := &Idempotency{RDB: s.rdb, TTL: time.Hour, PendingTTL: time.Minute}

	res, err := idem.Reserve(s.ctx, "cashier-1", "abc")
	s.Require().NoError(err)
	s.Require().NotEmpty(res.Token)

	again, err := idem.Reserve(s.ctx, "cashier-1", "abc")
	s.Require().NoError(err)
	s.True(again.Pending)
	s.Empty(again.Token)

	other, err := idem.Reserve(s.ctx, "cashier-2", "abc")
	s.Require().NoError(err)
	s.NotEmpty(other.Token)

	s.Error(idem.Complete(s.ctx, "cashier-1", "abc", "pending:someone-else", "order-9"))
	s.Require().NoError(idem.Complete(s.ctx, "cashier-1", "abc", res.Token, "order-1"))

	done, err := idem.Reserve(s.ctx, "cashier-1", "abc")
	s.Require().NoError(err)
	s.Equal(Reservation{OrderID: "order-1"}, done)

	s.mr.FastForward(2 * time.Hour)
	fresh, err := idem.Reserve(s.ctx, "cashier-1", "abc")
	s.Require().NoError(err)
	s.NotEmpty(fresh.Token)
}

func (s *RedisTestSuite) TestIdempotencyRelease() {
	idem := &Idempotency{RDB: s.rdb, PendingTTL: time.Minute}

	res, err := idem.Reserve(s.ctx, "cashier-1", "abc")
	s.Require().NoError(err)

	s.Require().NoError(idem.Release(s.ctx, "cashier-1", "abc", "pending:someone-else"))
	held, err := idem.Reserve(s.ctx, "cashier-1", "abc")
	s.Require().NoError(err)
	s.True(held.Pending)

	s.Require().NoError(idem.Release(s.ctx, "cashier-1", "abc", res.Token))
	retry, err := idem.Reserve(s.ctx, "cashier-1", "abc")
	s.Require().NoError(err)
	s.NotEmpty(retry.Token)
}

func (s *RedisTestSuite) TestIdempotencyPendingExpires() {
	idem := &Idempotency{RDB: s.rdb, PendingTTL: 10 * time.Second}

	_, err := idem.Reserve(s.ctx, "cashier-1", "abc")
	s.Require().NoError(err)

	s.mr.FastForward(11 * time.Second)
	res, err := idem.Reserve(s.ctx, "cashier-1", "abc")
	s.Require().NoError(err)
	s.NotEmpty(res.Token)
}

func (s *RedisTestSuite) TestIdempotencyConcurrentReserveHasOneOwner() {
	idem := &Idempotency{RDB: s.rdb}

	const n = 8
	results := make(chan Reservation, n)
	var g errgroup.Group
	for range n {
		g.Go(func() error {
			res, err := idem.Reserve(s.ctx, "cashier-1", "same-key")
			results <- res
			return err
		})
	}
	s.Require().NoError(g.Wait())
	close(results)

	owners := 0
	for res := range results {
		if res.Token != "" {
			owners++
		} else {
			s.True(res.Pending)
		}
	}
	s.Equal(1, owners)
}

func sampleOrder() *orders.Order {
	note := "less spicy"
	return &orders.Order{
		ID:            "6f1c1d3e-0a51-4f43-9c1e-1b0f3b6affff",
		CashierID:     "cashier-1",
		CustomerName:  "Budi",
		Total:         decimal.RequireFromString("58000.00"),
		CashReceived:  decimal.NewNullDecimal(decimal.NewFromInt(60000)),
		CashChange:    decimal.NewNullDecimal(decimal.NewFromInt(2000)),
		Note:          &note,
		PaymentMethod: orders.PaymentCash,
		CreatedAt:     time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

func (s *RedisTestSuite) TestOrderCache() {
	c := &OrderCache{RDB: s.rdb}
	o := sampleOrder()

	got, version, err := c.Get(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Nil(got)
	s.Zero(version)

	s.Require().NoError(c.Put(s.ctx, o, version))
	got, _, err = c.Get(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.True(got.Total.Equal(o.Total))
	s.True(got.CashChange.Decimal.Equal(decimal.NewFromInt(2000)))
	s.Equal("less spicy", *got.Note)
	s.True(got.CreatedAt.Equal(o.CreatedAt))

	s.Require().NoError(c.Evict(s.ctx, o.ID))
	got, version, err = c.Get(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Nil(got)
	s.EqualValues(1, version)
}

func (s *RedisTestSuite) TestOrderCachePutAfterEvictIsDropped() {
	c := &OrderCache{RDB: s.rdb}
	o := sampleOrder()

	_, version, err := c.Get(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Require().NoError(c.Evict(s.ctx, o.ID)) // the order was updated while the reader loaded it
	s.Require().NoError(c.Put(s.ctx, o, version))

	got, current, err := c.Get(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Nil(got)

	s.Require().NoError(c.Put(s.ctx, o, current))
	got, _, err = c.Get(s.ctx, o.ID)
	s.Require().NoError(err)
	s.NotNil(got)
}

func (s *RedisTestSuite) TestDedup() {
	d := &Dedup{RDB: s.rdb, Service: "summary-invalidator"}

	first, err := d.First(s.ctx, "ev-1")
	s.Require().NoError(err)
	s.True(first)

	first, err = d.First(s.ctx, "ev-1")
	s.Require().NoError(err)
	s.False(first)

	s.Require().NoError(d.Forget(s.ctx, "ev-1"))
	first, err = d.First(s.ctx, "ev-1")
	s.Require().NoError(err)
	s.True(first)
}

func TestPing(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })

	require.NoError(t, Ping(context.Background(), rdb))
}
