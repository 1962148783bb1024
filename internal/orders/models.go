package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog's view of a sellable item. The core only reads it.
type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Category    Category        `json:"category"`
	ImageURL    string          `json:"image_url,omitempty"`
	IsAvailable bool            `json:"is_available"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type Order struct {
	ID            string              `json:"id"`
	CashierID     string              `json:"cashier_id"`
	CustomerName  string              `json:"customer_name"`
	Total         decimal.Decimal     `json:"total"`
	CashReceived  decimal.NullDecimal `json:"cash_received"` // cash only
	CashChange    decimal.NullDecimal `json:"cash_change"`   // cash only
	Note          *string             `json:"note"`
	IsTakeaway    bool                `json:"is_takeaway"`
	PaymentMethod PaymentMethod       `json:"payment_method"`
	Items         []OrderItem         `json:"items"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

type OrderItem struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"` // snapshot at capture time
	Product   *Product        `json:"product,omitempty"`
}

// Subtotal is price * quantity without rounding.
func (it OrderItem) Subtotal() decimal.Decimal {
	return it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// Filter narrows order listings. Zero values mean "any".
type Filter struct {
	CashierID     string
	PaymentMethod PaymentMethod
	IsTakeaway    *bool
	From          time.Time
	To            time.Time
}

// Patch carries the only fields an order allows to change after capture.
type Patch struct {
	SetNote    bool
	Note       *string
	IsTakeaway *bool
}

func (p Patch) Empty() bool { return !p.SetNote && p.IsTakeaway == nil }
