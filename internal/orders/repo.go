package orders

import (
	"context"
	"time"
)

// Catalog is the read-only product lookup consumed at capture time.
type Catalog interface {
	// Products resolves ids to currently sellable products. Ids that do not
	// resolve (unknown, deleted, unavailable) are absent from the result.
	Products(ctx context.Context, ids []string) (map[string]Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

// Store persists orders. InsertOrder must write the order and all of its
// items in one transaction: either every row is visible afterwards or none.
type Store interface {
	InsertOrder(ctx context.Context, o *Order) error
	Order(ctx context.Context, id string) (*Order, error)
	Orders(ctx context.Context, f Filter) ([]Order, error)
	UpdateOrder(ctx context.Context, id string, p Patch, at time.Time) error
	DeleteOrder(ctx context.Context, id string) error
}

// Notifier is told about committed order changes. It must not block the
// caller for long and its failures never affect the operation's result.
type Notifier interface {
	OrderChanged(ctx context.Context, eventType string, o *Order)
}
