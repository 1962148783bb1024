package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/summary"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store is the Postgres implementation of orders.Store, orders.Catalog and
// summary.Source.
type Store struct{ DB *pgxpool.Pool }

var (
	_ orders.Store   = (*Store)(nil)
	_ orders.Catalog = (*Store)(nil)
	_ summary.Source = (*Store)(nil)
)

const orderColumns = `o.id, o.cashier_id, o.customer_name, o.total::text, o.cash_received::text,
	o.cash_change::text, o.note, o.is_takeaway, o.payment_method, o.created_at, o.updated_at`

const itemColumns = `oi.id, oi.order_id, oi.product_id, oi.quantity, oi.price::text,
	p.id, p.name, COALESCE(p.description, ''), p.price::text, p.category,
	COALESCE(p.image_url, ''), p.is_available, p.created_at, p.updated_at`

const productColumns = `id, name, COALESCE(description, ''), price::text, category,
	COALESCE(image_url, ''), is_available, created_at, updated_at`

// InsertOrder writes the order row and then every item row in one
// transaction. Any failure rolls the whole order back.
func (s *Store) InsertOrder(ctx context.Context, o *orders.Order) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, cashier_id, customer_name, total, cash_received, cash_change,
		                   note, is_takeaway, payment_method, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		o.ID, o.CashierID, o.CustomerName, o.Total.StringFixed(orders.MoneyScale),
		nullMoney(o.CashReceived), nullMoney(o.CashChange),
		o.Note, o.IsTakeaway, string(o.PaymentMethod), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for i, it := range o.Items {
		batch.Queue(`
			INSERT INTO order_items(id, order_id, product_id, line_no, quantity, price, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			it.ID, o.ID, it.ProductID, i, it.Quantity, it.Price.StringFixed(orders.MoneyScale), o.CreatedAt,
		)
	}
	br := tx.SendBatch(ctx, batch)
	for i := range o.Items {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert order item %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) Order(ctx context.Context, id string) (*orders.Order, error) {
	var out []orders.Order
	err := s.readTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = loadOrders(ctx, tx, orders.Filter{}, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, orders.ErrNotFound
	}
	return &out[0], nil
}

// Orders lists matching orders newest first, items hydrated.
func (s *Store) Orders(ctx context.Context, f orders.Filter) ([]orders.Order, error) {
	var out []orders.Order
	err := s.readTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = loadOrders(ctx, tx, f, "")
		return err
	})
	return out, err
}

func (s *Store) UpdateOrder(ctx context.Context, id string, p orders.Patch, at time.Time) error {
	args := []any{id}
	var sets []string
	if p.SetNote {
		args = append(args, p.Note)
		sets = append(sets, fmt.Sprintf("note = $%d", len(args)))
	}
	if p.IsTakeaway != nil {
		args = append(args, *p.IsTakeaway)
		sets = append(sets, fmt.Sprintf("is_takeaway = $%d", len(args)))
	}
	args = append(args, at)
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))

	ct, err := s.DB.Exec(ctx, `UPDATE orders SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return orders.ErrNotFound
	}
	return nil
}

// DeleteOrder removes items first, then the order, in one transaction.
func (s *Store) DeleteOrder(ctx context.Context, id string) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM order_items WHERE order_id = $1`, id); err != nil {
		return fmt.Errorf("delete order items: %w", err)
	}
	ct, err := tx.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return orders.ErrNotFound
	}
	return tx.Commit(ctx)
}

// Products resolves ids against the live catalog. Deleted or unavailable
// products are left out.
func (s *Store) Products(ctx context.Context, ids []string) (map[string]orders.Product, error) {
	out := map[string]orders.Product{}
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(ids))
	params := ""
	for i, id := range ids {
		if i > 0 {
			params += ","
		}
		params += fmt.Sprintf("$%d", i+1)
		args = append(args, id)
	}
	rows, err := s.DB.Query(ctx, `SELECT `+productColumns+` FROM products
		WHERE id IN (`+params+`) AND deleted_at IS NULL AND is_available`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+productColumns+` FROM products
		WHERE deleted_at IS NULL AND is_available ORDER BY category, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SalesFacts reads the order scan and the grouped item tally inside one
// read-only snapshot so both describe the same set of orders.
func (s *Store) SalesFacts(ctx context.Context, r summary.Range) ([]summary.OrderFact, []summary.ItemTally, error) {
	var (
		facts   []summary.OrderFact
		tallies []summary.ItemTally
	)
	err := s.readTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT total::text, is_takeaway, payment_method
			FROM orders
			WHERE created_at BETWEEN $1 AND $2`, r.Start, r.End)
		if err != nil {
			return fmt.Errorf("scan orders: %w", err)
		}
		for rows.Next() {
			var (
				f     summary.OrderFact
				total string
			)
			if err := rows.Scan(&total, &f.IsTakeaway, &f.PaymentMethod); err != nil {
				rows.Close()
				return err
			}
			if f.Total, err = decimal.NewFromString(total); err != nil {
				rows.Close()
				return fmt.Errorf("parse total: %w", err)
			}
			facts = append(facts, f)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(facts) == 0 {
			return nil
		}

		rows, err = tx.Query(ctx, `
			SELECT p.category, p.name, SUM(oi.quantity)::bigint
			FROM order_items oi
			JOIN orders o ON o.id = oi.order_id
			JOIN products p ON p.id = oi.product_id
			WHERE o.created_at BETWEEN $1 AND $2
			GROUP BY p.category, p.name`, r.Start, r.End)
		if err != nil {
			return fmt.Errorf("tally items: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var t summary.ItemTally
			if err := rows.Scan(&t.Category, &t.Name, &t.Quantity); err != nil {
				return err
			}
			tallies = append(tallies, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, nil, err
	}
	return facts, tallies, nil
}

func (s *Store) readTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func loadOrders(ctx context.Context, tx pgx.Tx, f orders.Filter, id string) ([]orders.Order, error) {
	where, args := orderWhere(f, id)

	rows, err := tx.Query(ctx, `SELECT `+orderColumns+` FROM orders o`+where+
		` ORDER BY o.created_at DESC, o.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	var out []orders.Order
	index := map[string]int{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[o.ID] = len(out)
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	rows, err = tx.Query(ctx, `SELECT `+itemColumns+`
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		JOIN products p ON p.id = oi.product_id`+where+`
		ORDER BY oi.order_id, oi.line_no`, args...)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[it.OrderID]; ok {
			out[i].Items = append(out[i].Items, it)
		}
	}
	return out, rows.Err()
}

func orderWhere(f orders.Filter, id string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if id != "" {
		add("o.id = $%d", id)
	}
	if f.CashierID != "" {
		add("o.cashier_id = $%d", f.CashierID)
	}
	if f.PaymentMethod != "" {
		add("o.payment_method = $%d", string(f.PaymentMethod))
	}
	if f.IsTakeaway != nil {
		add("o.is_takeaway = $%d", *f.IsTakeaway)
	}
	if !f.From.IsZero() {
		add("o.created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("o.created_at <= $%d", f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanOrder(row pgx.Row) (orders.Order, error) {
	var (
		o                        orders.Order
		total, method            string
		cashReceived, cashChange *string
	)
	err := row.Scan(&o.ID, &o.CashierID, &o.CustomerName, &total, &cashReceived, &cashChange,
		&o.Note, &o.IsTakeaway, &method, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return o, err
	}
	o.PaymentMethod = orders.PaymentMethod(method)
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return o, fmt.Errorf("parse total: %w", err)
	}
	if o.CashReceived, err = parseNullMoney(cashReceived); err != nil {
		return o, fmt.Errorf("parse cash_received: %w", err)
	}
	if o.CashChange, err = parseNullMoney(cashChange); err != nil {
		return o, fmt.Errorf("parse cash_change: %w", err)
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}

func scanItem(row pgx.Row) (orders.OrderItem, error) {
	var (
		it                  orders.OrderItem
		p                   orders.Product
		price, productPrice string
		category            string
	)
	err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &price,
		&p.ID, &p.Name, &p.Description, &productPrice, &category,
		&p.ImageURL, &p.IsAvailable, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return it, err
	}
	if it.Price, err = decimal.NewFromString(price); err != nil {
		return it, fmt.Errorf("parse item price: %w", err)
	}
	if p.Price, err = decimal.NewFromString(productPrice); err != nil {
		return it, fmt.Errorf("parse product price: %w", err)
	}
	p.Category = orders.Category(category)
	it.Product = &p
	return it, nil
}

func scanProduct(row pgx.Row) (orders.Product, error) {
	var (
		p               orders.Product
		price, category string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &price, &category,
		&p.ImageURL, &p.IsAvailable, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return p, fmt.Errorf("parse price: %w", err)
	}
	p.Category = orders.Category(category)
	return p, nil
}

func nullMoney(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.StringFixed(orders.MoneyScale)
	return &s
}

func parseNullMoney(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
