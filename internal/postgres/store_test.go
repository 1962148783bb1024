package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/summary"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

const (
	nasiGoreng = "6f1c1d3e-0a51-4f43-9c1e-1b0f3b6a0001" // food, 25000
	esTeh      = "6f1c1d3e-0a51-4f43-9c1e-1b0f3b6a0004" // beverages, 8000
)

// StoreTestSuite runs against a real database named by POSTGRES_TEST_DSN.
// Tables are emptied between tests.
type StoreTestSuite struct {
	suite.Suite
	ctx   context.Context
	pool  *pgxpool.Pool
	store *Store
	now   time.Time
}

func TestStoreSuite(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	if err := Migrate(dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pool, err := Connect(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	suite.Run(t, &StoreTestSuite{pool: pool, store: &Store{DB: pool}})
}

func (s *StoreTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	_, err := s.pool.Exec(s.ctx, `TRUNCATE order_items, orders`)
	s.Require().NoError(err)
	_, err = s.pool.Exec(s.ctx, `UPDATE products SET is_available = TRUE, deleted_at = NULL`)
	s.Require().NoError(err)
}

func (s *StoreTestSuite) newOrder(method orders.PaymentMethod, at time.Time, lines ...orders.OrderItem) *orders.Order {
	o := &orders.Order{
		ID:            uuid.NewString(),
		CashierID:     "cashier-1",
		CustomerName:  "Budi",
		PaymentMethod: method,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
	total := decimal.Zero
	for _, it := range lines {
		it.ID = uuid.NewString()
		it.OrderID = o.ID
		total = total.Add(it.Subtotal())
		o.Items = append(o.Items, it)
	}
	o.Total = orders.RoundMoney(total)
	if method.TakesCash() {
		o.CashReceived = decimal.NewNullDecimal(o.Total)
		o.CashChange = decimal.NewNullDecimal(decimal.Zero)
	}
	return o
}

func line(productID string, qty int, price int64) orders.OrderItem {
	return orders.OrderItem{ProductID: productID, Quantity: qty, Price: decimal.NewFromInt(price)}
}

func (s *StoreTestSuite) count(table string) int {
	var n int
	s.Require().NoError(s.pool.QueryRow(s.ctx, `SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func (s *StoreTestSuite) TestInsertAndLoadRoundTrip() {
	note := "no ice"
	o := s.newOrder(orders.PaymentCash, s.now, line(nasiGoreng, 2, 25000), line(esTeh, 1, 8000))
	o.Note = &note
	o.CashReceived = decimal.NewNullDecimal(decimal.NewFromInt(60000))
	o.CashChange = decimal.NewNullDecimal(decimal.NewFromInt(2000))
	s.Require().NoError(s.store.InsertOrder(s.ctx, o))

	got, err := s.store.Order(s.ctx, o.ID)
	s.Require().NoError(err)
	s.True(got.Total.Equal(decimal.NewFromInt(58000)))
	s.True(got.CashChange.Decimal.Equal(decimal.NewFromInt(2000)))
	s.Equal("no ice", *got.Note)
	s.True(got.CreatedAt.Equal(s.now))
	s.Require().Len(got.Items, 2)
	s.Equal(nasiGoreng, got.Items[0].ProductID)
	s.Equal("Es Teh Manis", got.Items[1].Product.Name)
}

func (s *StoreTestSuite) TestInsertRollsBackWhenAnItemFails() {
	o := s.newOrder(orders.PaymentBank, s.now, line(nasiGoreng, 1, 25000), line(uuid.NewString(), 1, 1000))

	s.Require().Error(s.store.InsertOrder(s.ctx, o))
	s.Zero(s.count("orders"))
	s.Zero(s.count("order_items"))
}

func (s *StoreTestSuite) TestCashConstraintGuardsTheTable() {
	o := s.newOrder(orders.PaymentCash, s.now, line(nasiGoreng, 1, 25000))
	o.CashReceived = decimal.NewNullDecimal(decimal.NewFromInt(1000))
	o.CashChange = decimal.NewNullDecimal(decimal.NewFromInt(-24000))

	s.Error(s.store.InsertOrder(s.ctx, o))
	s.Zero(s.count("orders"))
}

func (s *StoreTestSuite) TestProductsSkipsUnavailable() {
	_, err := s.pool.Exec(s.ctx, `UPDATE products SET is_available = FALSE WHERE id = $1`, esTeh)
	s.Require().NoError(err)

	got, err := s.store.Products(s.ctx, []string{nasiGoreng, esTeh})
	s.Require().NoError(err)
	s.Len(got, 1)
	s.Contains(got, nasiGoreng)
}

func (s *StoreTestSuite) TestUpdateAndDelete() {
	o := s.newOrder(orders.PaymentQRIS, s.now, line(esTeh, 1, 8000))
	s.Require().NoError(s.store.InsertOrder(s.ctx, o))

	takeaway := true
	s.Require().NoError(s.store.UpdateOrder(s.ctx, o.ID, orders.Patch{IsTakeaway: &takeaway}, s.now.Add(time.Hour)))
	got, err := s.store.Order(s.ctx, o.ID)
	s.Require().NoError(err)
	s.True(got.IsTakeaway)

	s.Require().NoError(s.store.DeleteOrder(s.ctx, o.ID))
	s.ErrorIs(s.store.DeleteOrder(s.ctx, o.ID), orders.ErrNotFound)
	s.ErrorIs(s.store.UpdateOrder(s.ctx, o.ID, orders.Patch{IsTakeaway: &takeaway}, s.now), orders.ErrNotFound)
	s.Zero(s.count("order_items"))
}

func (s *StoreTestSuite) TestSalesFacts() {
	s.Require().NoError(s.store.InsertOrder(s.ctx, s.newOrder(orders.PaymentQRIS, s.now, line(nasiGoreng, 2, 25000), line(esTeh, 1, 8000))))
	s.Require().NoError(s.store.InsertOrder(s.ctx, s.newOrder(orders.PaymentCash, s.now, line(esTeh, 3, 8000))))
	s.Require().NoError(s.store.InsertOrder(s.ctx, s.newOrder(orders.PaymentBank, s.now.AddDate(0, 0, -3), line(esTeh, 9, 8000))))

	start, end := orders.DayBounds(s.now, time.UTC)
	facts, tallies, err := s.store.SalesFacts(s.ctx, summary.Range{Start: start, End: end})
	s.Require().NoError(err)

	rep := summary.Fold(facts, tallies)
	s.EqualValues(2, rep.TotalOrder)
	s.True(rep.TotalIncome.Equal(decimal.NewFromInt(82000)))
	assert.Equal(s.T(), map[string]int64{"food": 2, "beverages": 4}, rep.ByProductCategory)
	s.EqualValues(6, rep.TotalItems.TotalItem)
}
