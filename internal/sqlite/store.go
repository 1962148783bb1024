package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/summary"
	"github.com/shopspring/decimal"
)

// Store is the SQLite implementation of orders.Store, orders.Catalog and
// summary.Source. Money is kept as TEXT and timestamps as unix microseconds.
type Store struct{ DB *sql.DB }

var (
	_ orders.Store   = (*Store)(nil)
	_ orders.Catalog = (*Store)(nil)
	_ summary.Source = (*Store)(nil)
)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type scanner interface {
	Scan(dest ...any) error
}

const orderColumns = `o.id, o.cashier_id, o.customer_name, o.total, o.cash_received,
	o.cash_change, o.note, o.is_takeaway, o.payment_method, o.created_at, o.updated_at`

const itemColumns = `oi.id, oi.order_id, oi.product_id, oi.quantity, oi.price,
	p.id, p.name, COALESCE(p.description, ''), p.price, p.category,
	COALESCE(p.image_url, ''), p.is_available, p.created_at, p.updated_at`

const productColumns = `id, name, COALESCE(description, ''), price, category,
	COALESCE(image_url, ''), is_available, created_at, updated_at`

func (s *Store) InsertOrder(ctx context.Context, o *orders.Order) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders(id, cashier_id, customer_name, total, cash_received, cash_change,
		                   note, is_takeaway, payment_method, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.CashierID, o.CustomerName, o.Total.StringFixed(orders.MoneyScale),
		nullMoney(o.CashReceived), nullMoney(o.CashChange),
		o.Note, o.IsTakeaway, string(o.PaymentMethod), o.CreatedAt.UnixMicro(), o.UpdatedAt.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO order_items(id, order_id, product_id, line_no, quantity, price, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare order item: %w", err)
	}
	defer stmt.Close()

	for i, it := range o.Items {
		_, err := stmt.ExecContext(ctx, it.ID, o.ID, it.ProductID, i, it.Quantity,
			it.Price.StringFixed(orders.MoneyScale), o.CreatedAt.UnixMicro())
		if err != nil {
			return fmt.Errorf("insert order item %d: %w", i, err)
		}
	}

	return tx.Commit()
}

func (s *Store) Order(ctx context.Context, id string) (*orders.Order, error) {
	var out []orders.Order
	err := s.readTx(ctx, func(tx *sql.Tx) error {
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

func (s *Store) Orders(ctx context.Context, f orders.Filter) ([]orders.Order, error) {
	var out []orders.Order
	err := s.readTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = loadOrders(ctx, tx, f, "")
		return err
	})
	return out, err
}

func (s *Store) UpdateOrder(ctx context.Context, id string, p orders.Patch, at time.Time) error {
	var (
		sets []string
		args []any
	)
	if p.SetNote {
		sets = append(sets, "note = ?")
		args = append(args, p.Note)
	}
	if p.IsTakeaway != nil {
		sets = append(sets, "is_takeaway = ?")
		args = append(args, *p.IsTakeaway)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, at.UnixMicro(), id)

	res, err := s.DB.ExecContext(ctx, `UPDATE orders SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return orders.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteOrder(ctx context.Context, id string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = ?`, id); err != nil {
		return fmt.Errorf("delete order items: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return orders.ErrNotFound
	}
	return tx.Commit()
}

func (s *Store) Products(ctx context.Context, ids []string) (map[string]orders.Product, error) {
	out := map[string]orders.Product{}
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	params := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	products, err := queryProducts(ctx, s.DB, `SELECT `+productColumns+` FROM products
		WHERE id IN (`+params+`) AND deleted_at IS NULL AND is_available = 1`, args...)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	return queryProducts(ctx, s.DB, `SELECT `+productColumns+` FROM products
		WHERE deleted_at IS NULL AND is_available = 1 ORDER BY category, name`)
}

// SalesFacts runs both report reads in one transaction. With a single
// connection no write can land between them.
func (s *Store) SalesFacts(ctx context.Context, r summary.Range) ([]summary.OrderFact, []summary.ItemTally, error) {
	var (
		facts   []summary.OrderFact
		tallies []summary.ItemTally
	)
	start, end := r.Start.UnixMicro(), r.End.UnixMicro()
	err := s.readTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT total, is_takeaway, payment_method
			FROM orders
			WHERE created_at BETWEEN ? AND ?`, start, end)
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

		rows, err = tx.QueryContext(ctx, `
			SELECT p.category, p.name, SUM(oi.quantity)
			FROM order_items oi
			JOIN orders o ON o.id = oi.order_id
			JOIN products p ON p.id = oi.product_id
			WHERE o.created_at BETWEEN ? AND ?
			GROUP BY p.category, p.name`, start, end)
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

func (s *Store) readTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func loadOrders(ctx context.Context, q querier, f orders.Filter, id string) ([]orders.Order, error) {
	where, args := orderWhere(f, id)

	rows, err := q.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders o`+where+
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

	rows, err = q.QueryContext(ctx, `SELECT `+itemColumns+`
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
	if id != "" {
		conds, args = append(conds, "o.id = ?"), append(args, id)
	}
	if f.CashierID != "" {
		conds, args = append(conds, "o.cashier_id = ?"), append(args, f.CashierID)
	}
	if f.PaymentMethod != "" {
		conds, args = append(conds, "o.payment_method = ?"), append(args, string(f.PaymentMethod))
	}
	if f.IsTakeaway != nil {
		conds, args = append(conds, "o.is_takeaway = ?"), append(args, *f.IsTakeaway)
	}
	if !f.From.IsZero() {
		conds, args = append(conds, "o.created_at >= ?"), append(args, f.From.UnixMicro())
	}
	if !f.To.IsZero() {
		conds, args = append(conds, "o.created_at <= ?"), append(args, f.To.UnixMicro())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func queryProducts(ctx context.Context, q querier, query string, args ...any) ([]orders.Product, error) {
	rows, err := q.QueryContext(ctx, query, args...)
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

func scanOrder(row scanner) (orders.Order, error) {
	var (
		o                        orders.Order
		total, method            string
		cashReceived, cashChange sql.NullString
		note                     sql.NullString
		created, updated         int64
	)
	err := row.Scan(&o.ID, &o.CashierID, &o.CustomerName, &total, &cashReceived, &cashChange,
		&note, &o.IsTakeaway, &method, &created, &updated)
	if err != nil {
		return o, err
	}
	o.PaymentMethod = orders.PaymentMethod(method)
	if note.Valid {
		o.Note = &note.String
	}
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return o, fmt.Errorf("parse total: %w", err)
	}
	if o.CashReceived, err = parseNullMoney(cashReceived); err != nil {
		return o, fmt.Errorf("parse cash_received: %w", err)
	}
	if o.CashChange, err = parseNullMoney(cashChange); err != nil {
		return o, fmt.Errorf("parse cash_change: %w", err)
	}
	o.CreatedAt = time.UnixMicro(created).UTC()
	o.UpdatedAt = time.UnixMicro(updated).UTC()
	return o, nil
}

func scanItem(row scanner) (orders.OrderItem, error) {
	var (
		it                  orders.OrderItem
		p                   orders.Product
		price, productPrice string
		category            string
		created, updated    int64
	)
	err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &price,
		&p.ID, &p.Name, &p.Description, &productPrice, &category,
		&p.ImageURL, &p.IsAvailable, &created, &updated)
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
	p.CreatedAt = time.UnixMicro(created).UTC()
	p.UpdatedAt = time.UnixMicro(updated).UTC()
	it.Product = &p
	return it, nil
}

func scanProduct(row scanner) (orders.Product, error) {
	var (
		p                orders.Product
		price, category  string
		created, updated int64
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &price, &category,
		&p.ImageURL, &p.IsAvailable, &created, &updated)
	if err != nil {
		return p, err
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return p, fmt.Errorf("parse price: %w", err)
	}
	p.Category = orders.Category(category)
	p.CreatedAt = time.UnixMicro(created).UTC()
	p.UpdatedAt = time.UnixMicro(updated).UTC()
	return p, nil
}

func nullMoney(d decimal.NullDecimal) sql.NullString {
	if !d.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Decimal.StringFixed(orders.MoneyScale), Valid: true}
}

func parseNullMoney(s sql.NullString) (decimal.NullDecimal, error) {
	if !s.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
