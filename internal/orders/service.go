package orders

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a storage transaction when Service.Timeout is unset.
const DefaultTimeout = 5 * time.Second

// Service owns order capture and the limited post-capture operations.
// Writes run under Timeout and reads under ReadTimeout; a timeout is
// reported as a persistence failure.
type Service struct {
	Catalog     Catalog
	Store       Store
	Notifier    Notifier // optional
	Timeout     time.Duration
	ReadTimeout time.Duration
	Location    *time.Location // day boundaries for "today"
	Now         func() time.Time
	NewID       func() string
}

// Products lists the sellable catalog.
func (s *Service) Products(ctx context.Context) ([]Product, error) {
	ctx, cancel := s.withReadTimeout(ctx)
	defer cancel()

	ps, err := s.Catalog.ListProducts(ctx)
	if err != nil {
		return nil, persistence("list products", err)
	}
	if ps == nil {
		ps = []Product{}
	}
	return ps, nil
}

func (s *Service) Product(ctx context.Context, id string) (*Product, error) {
	id, ok := canonicalID(id)
	if !ok {
		return nil, notFound("product", id, ErrNotFound)
	}
	ctx, cancel := s.withReadTimeout(ctx)
	defer cancel()

	ps, err := s.Catalog.Products(ctx, []string{id})
	if err != nil {
		return nil, persistence("load product", err)
	}
	p, ok := ps[id]
	if !ok {
		return nil, notFound("product", id, ErrNotFound)
	}
	return &p, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	id, ok := canonicalID(id)
	if !ok {
		return nil, notFound("order", id, ErrNotFound)
	}
	ctx, cancel := s.withReadTimeout(ctx)
	defer cancel()

	o, err := s.Store.Order(ctx, id)
	if err != nil {
		return nil, classifyRead("load order", "order", id, err)
	}
	return o, nil
}

func (s *Service) List(ctx context.Context, f Filter) ([]Order, error) {
	if f.PaymentMethod != "" && !f.PaymentMethod.Valid() {
		return nil, Validation("invalid filter", map[string]string{
			"payment_method": "payment_method must be one of cash, qris, bank",
		})
	}
	ctx, cancel := s.withReadTimeout(ctx)
	defer cancel()

	out, err := s.Store.Orders(ctx, f)
	if err != nil {
		return nil, persistence("list orders", err)
	}
	if out == nil {
		out = []Order{}
	}
	return out, nil
}

// CashierToday lists the orders cashierID captured during the current day.
func (s *Service) CashierToday(ctx context.Context, cashierID string) ([]Order, error) {
	from, to := DayBounds(s.now(), s.Location)
	return s.List(ctx, Filter{CashierID: cashierID, From: from, To: to})
}

// Update changes note and/or takeaway flag. Totals and items are never touched.
func (s *Service) Update(ctx context.Context, id string, p Patch) (*Order, error) {
	if p.SetNote && p.Note != nil && utf8.RuneCountInString(*p.Note) > maxNote {
		return nil, Validation("invalid order update", map[string]string{
			"note": fmt.Sprintf("note must not exceed %d characters", maxNote),
		})
	}
	if p.Empty() {
		return s.Get(ctx, id)
	}
	id, ok := canonicalID(id)
	if !ok {
		return nil, notFound("order", id, ErrNotFound)
	}
	if p.SetNote {
		p.Note = normalizeNote(p.Note)
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.Store.UpdateOrder(tctx, id, p, s.now()); err != nil {
		return nil, classifyRead("update order", "order", id, err)
	}
	o, err := s.Store.Order(tctx, id)
	if err != nil {
		return nil, classifyRead("load order", "order", id, err)
	}

	zerolog.Ctx(ctx).Info().Str("order_id", id).Msg("order updated")
	s.notify(ctx, EventOrderUpdated, o)
	return o, nil
}

// Delete removes the order together with its items.
func (s *Service) Delete(ctx context.Context, id string) error {
	id, ok := canonicalID(id)
	if !ok {
		return notFound("order", id, ErrNotFound)
	}
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	o, err := s.Store.Order(tctx, id)
	if err != nil {
		return classifyRead("load order", "order", id, err)
	}
	if err := s.Store.DeleteOrder(tctx, id); err != nil {
		return classifyRead("delete order", "order", id, err)
	}

	zerolog.Ctx(ctx).Info().Str("order_id", id).Msg("order deleted")
	s.notify(ctx, EventOrderDeleted, o)
	return nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	d := s.Timeout
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}

func (s *Service) withReadTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.ReadTimeout <= 0 {
		return s.withTimeout(ctx)
	}
	return context.WithTimeout(ctx, s.ReadTimeout)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC().Truncate(time.Microsecond)
	}
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) notify(ctx context.Context, eventType string, o *Order) {
	if s.Notifier != nil {
		s.Notifier.OrderChanged(ctx, eventType, o)
	}
}

// canonicalID returns id in lower-case hyphenated form. On failure the
// input is returned unchanged for error messages.
func canonicalID(id string) (string, bool) {
	u, err := uuid.Parse(id)
	if err != nil {
		return id, false
	}
	return u.String(), true
}
