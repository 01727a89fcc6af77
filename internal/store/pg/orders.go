package pg

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/storefront/internal/domain"
	"github.com/dropDatabas3/storefront/internal/domain/repository"
)

type orderRepo struct{ pool *pgxpool.Pool }

func (r *orderRepo) Create(ctx context.Context, o *domain.Order) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, customer_id, email, status, total_cents, discount_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		o.ID, o.CustomerID, o.Email, o.Status, o.TotalCents, nullIfEmpty(o.DiscountCode), o.CreatedAt)
	if err != nil {
		return err
	}
	for _, it := range o.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (order_id, product_id, sku, name, quantity, price_cents)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			o.ID, it.ProductID, it.SKU, it.Name, it.Quantity, it.PriceCents)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *orderRepo) Get(ctx context.Context, id string) (*domain.Order, error) {
	var o domain.Order
	var discount *string
	err := r.pool.QueryRow(ctx, `
		SELECT id, customer_id, email, status, total_cents, discount_code, created_at, updated_at
		FROM orders WHERE id = $1`, id).
		Scan(&o.ID, &o.CustomerID, &o.Email, &o.Status, &o.TotalCents, &discount, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if discount != nil {
		o.DiscountCode = *discount
	}

	rows, err := r.pool.Query(ctx, `
		SELECT product_id, sku, name, quantity, price_cents
		FROM order_items WHERE order_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ProductID, &it.SKU, &it.Name, &it.Quantity, &it.PriceCents); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}

func (r *orderRepo) List(ctx context.Context, f repository.OrderFilter) ([]domain.Order, error) {
	q := `SELECT id, customer_id, email, status, total_cents, discount_code, created_at, updated_at FROM orders`
	args := []any{}
	n := 1
	if f.Status != "" {
		q += ` WHERE status = $1`
		args = append(args, f.Status)
		n++
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		q += ` LIMIT $` + strconv.Itoa(n)
		args = append(args, f.Limit)
		n++
		if f.Offset > 0 {
			q += ` OFFSET $` + strconv.Itoa(n)
			args = append(args, f.Offset)
		}
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		var o domain.Order
		var discount *string
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.Email, &o.Status, &o.TotalCents, &discount, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		if discount != nil {
			o.DiscountCode = *discount
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *orderRepo) UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.statusConflict(ctx, id)
	}
	return nil
}

// CancelRestock restores stock for every line item, writes the
// inventory log, and flips the status, all inside one transaction.
// Concurrent cancellations touching the same product serialize on the
// row update; nothing is lost.
func (r *orderRepo) CancelRestock(ctx context.Context, id string, from domain.OrderStatus, actor string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Guarded status flip first: establishes the from-state and locks
	// the order row for the duration.
	tag, err := tx.Exec(ctx, `
		UPDATE orders SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`, id, from, domain.OrderCancelled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.statusConflict(ctx, id)
	}

	rows, err := tx.Query(ctx, `
		SELECT product_id, quantity FROM order_items WHERE order_id = $1`, id)
	if err != nil {
		return err
	}
	type line struct {
		productID string
		qty       int
	}
	var lines []line
	for rows.Next() {
		var ln line
		if err := rows.Scan(&ln.productID, &ln.qty); err != nil {
			rows.Close()
			return err
		}
		lines = append(lines, ln)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, ln := range lines {
		if _, err := adjustStockTx(ctx, tx, ln.productID, ln.qty, "order_cancelled:"+id, actor); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *orderRepo) statusConflict(ctx context.Context, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrConflict
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
