package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventOrderCaptured = "OrderCaptured"
	EventOrderUpdated  = "OrderUpdated"
	EventOrderDeleted  = "OrderDeleted"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the consts above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"` // e.g. "pos-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type ItemPrice struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type OrderChangedPayload struct {
	OrderID       string          `json:"order_id"`
	CashierID     string          `json:"cashier_id"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	IsTakeaway    bool            `json:"is_takeaway"`
	Total         decimal.Decimal `json:"total"`
	Items         []ItemPrice     `json:"items,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewChangeEnvelope builds the v1 envelope for an order change.
func NewChangeEnvelope(eventType, producer, traceID string, o *Order) (Envelope, error) {
	p := OrderChangedPayload{
		OrderID:       o.ID,
		CashierID:     o.CashierID,
		PaymentMethod: o.PaymentMethod,
		IsTakeaway:    o.IsTakeaway,
		Total:         o.Total,
		CreatedAt:     o.CreatedAt,
	}
	for _, it := range o.Items {
		p.Items = append(p.Items, ItemPrice{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price})
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: o.ID,
		Payload:       raw,
	}, nil
}
