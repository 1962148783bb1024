package orders

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	maxCustomerName = 255
	maxNote         = 1000
	maxQuantity     = math.MaxInt32
)

// Cart is a cashier's submission for one prospective order.
type Cart struct {
	CustomerName  string
	PaymentMethod string
	IsTakeaway    bool
	Note          *string
	CashReceived  *decimal.Decimal
	// Total is what the client computed. It is advisory and never stored.
	Total *decimal.Decimal
	Items []CartLine
}

type CartLine struct {
	ProductID string
	Quantity  int
}

// Capture validates cart, prices every line from the catalog and writes the
// order with its items in one transaction. Validation failures never reach
// the store; store failures come back as KindPersistence and leave no rows.
func (s *Service) Capture(ctx context.Context, cashierID string, cart Cart) (*Order, error) {
	method, lines, err := validateCart(cashierID, cart)
	if err != nil {
		return nil, err
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ids := make([]string, 0, len(lines))
	for _, it := range lines {
		ids = append(ids, it.ProductID)
	}
	products, err := s.Catalog.Products(tctx, ids)
	if err != nil {
		return nil, persistence("catalog lookup", err)
	}

	missing := fieldErrors{}
	for i, it := range lines {
		if _, ok := products[it.ProductID]; !ok {
			missing.add(fmt.Sprintf("items.%d.product_id", i), "product not found")
		}
	}
	if len(missing) > 0 {
		return nil, Validation("order references unknown products", missing)
	}

	now := s.now()
	o := &Order{
		ID:            s.newID(),
		CashierID:     cashierID,
		CustomerName:  strings.TrimSpace(cart.CustomerName),
		Note:          normalizeNote(cart.Note),
		IsTakeaway:    cart.IsTakeaway,
		PaymentMethod: method,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// price of record comes from the catalog, never from the client
	total := decimal.Zero
	for _, it := range lines {
		p := products[it.ProductID]
		item := OrderItem{
			ID:        s.newID(),
			OrderID:   o.ID,
			ProductID: p.ID,
			Quantity:  it.Quantity,
			Price:     p.Price,
			Product:   &p,
		}
		total = total.Add(item.Subtotal())
		o.Items = append(o.Items, item)
	}
	o.Total = RoundMoney(total)
	if o.Total.GreaterThan(MaxAmount) {
		return nil, Validation("order total too large", map[string]string{
			"items": fmt.Sprintf("order total must not exceed %s", MaxAmount.StringFixed(MoneyScale)),
		})
	}

	if method.TakesCash() {
		received := *cart.CashReceived
		if received.LessThan(o.Total) {
			return nil, Validation("insufficient cash received", map[string]string{
				"cash_received": fmt.Sprintf("cash_received must be greater than or equal to the order total %s", o.Total.StringFixed(MoneyScale)),
			})
		}
		o.CashReceived = decimal.NewNullDecimal(received)
		o.CashChange = decimal.NewNullDecimal(received.Sub(o.Total))
	}

	if err := s.Store.InsertOrder(tctx, o); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("order_id", o.ID).Msg("order capture rolled back")
		return nil, persistence("save order", err)
	}

	zerolog.Ctx(ctx).Info().
		Str("order_id", o.ID).
		Str("cashier_id", cashierID).
		Str("payment_method", string(method)).
		Str("total", o.Total.StringFixed(MoneyScale)).
		Int("items", len(o.Items)).
		Msg("order captured")

	s.notify(ctx, EventOrderCaptured, o)
	return o, nil
}

// validateCart checks the request shape and returns the lines with
// canonical product ids.
func validateCart(cashierID string, cart Cart) (PaymentMethod, []CartLine, error) {
	fields := fieldErrors{}

	if strings.TrimSpace(cashierID) == "" {
		fields.add("cashier_id", "cashier is required")
	}

	name := strings.TrimSpace(cart.CustomerName)
	switch {
	case name == "":
		fields.add("customer_name", "customer_name is required")
	case utf8.RuneCountInString(name) > maxCustomerName:
		fields.add("customer_name", fmt.Sprintf("customer_name must not exceed %d characters", maxCustomerName))
	}

	if cart.Note != nil && utf8.RuneCountInString(*cart.Note) > maxNote {
		fields.add("note", fmt.Sprintf("note must not exceed %d characters", maxNote))
	}

	method, ok := ParsePaymentMethod(cart.PaymentMethod)
	if !ok {
		fields.add("payment_method", "payment_method must be one of cash, qris, bank")
	}

	if cr := cart.CashReceived; cr != nil {
		switch {
		case cr.IsNegative():
			fields.add("cash_received", "cash_received must be at least 0")
		case cr.GreaterThan(MaxAmount):
			fields.add("cash_received", fmt.Sprintf("cash_received must not exceed %s", MaxAmount.StringFixed(MoneyScale)))
		case !cr.Equal(RoundMoney(*cr)):
			fields.add("cash_received", fmt.Sprintf("cash_received must have at most %d decimal places", MoneyScale))
		}
	}
	if ok && method.TakesCash() && cart.CashReceived == nil {
		fields.add("cash_received", "cash_received is required for cash payments")
	}

	if len(cart.Items) == 0 {
		fields.add("items", "order must contain at least one item")
	}
	lines := make([]CartLine, 0, len(cart.Items))
	for i, it := range cart.Items {
		if it.ProductID == "" {
			fields.add(fmt.Sprintf("items.%d.product_id", i), "product_id is required")
		} else if id, err := uuid.Parse(it.ProductID); err != nil {
			fields.add(fmt.Sprintf("items.%d.product_id", i), "product_id must be a valid UUID")
		} else {
			it.ProductID = id.String()
		}
		switch {
		case it.Quantity < 1:
			fields.add(fmt.Sprintf("items.%d.quantity", i), "quantity must be at least 1")
		case it.Quantity > maxQuantity:
			fields.add(fmt.Sprintf("items.%d.quantity", i), fmt.Sprintf("quantity must not exceed %d", maxQuantity))
		}
		lines = append(lines, it)
	}

	if len(fields) > 0 {
		return "", nil, Validation("invalid order request", fields)
	}
	return method, lines, nil
}

func normalizeNote(n *string) *string {
	if n == nil {
		return nil
	}
	t := strings.TrimSpace(*n)
	if t == "" {
		return nil
	}
	return &t
}
