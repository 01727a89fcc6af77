package pg

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/storefront/internal/domain"
	"github.com/dropDatabas3/storefront/internal/domain/repository"
)

type productRepo struct{ pool *pgxpool.Pool }

const productCols = `id, sku, name, description, price_cents, currency, stock, active, created_at, updated_at`

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.PriceCents,
		&p.Currency, &p.Stock, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *productRepo) Create(ctx context.Context, p *domain.Product) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO products (id, sku, name, description, price_cents, currency, stock, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.SKU, p.Name, p.Description, p.PriceCents, p.Currency, p.Stock, p.Active, p.CreatedAt, p.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
		return repository.ErrConflict
	}
	return err
}

func (r *productRepo) Update(ctx context.Context, p *domain.Product) error {
	// Stock is deliberately absent: it only moves via AdjustStock.
	tag, err := r.pool.Exec(ctx, `
		UPDATE products
		SET sku = $2, name = $3, description = $4, price_cents = $5,
		    currency = $6, active = $7, updated_at = $8
		WHERE id = $1`,
		p.ID, p.SKU, p.Name, p.Description, p.PriceCents, p.Currency, p.Active, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *productRepo) Get(ctx context.Context, id string) (*domain.Product, error) {
	return scanProduct(r.pool.QueryRow(ctx,
		`SELECT `+productCols+` FROM products WHERE id = $1`, id))
}

func (r *productRepo) GetBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	return scanProduct(r.pool.QueryRow(ctx,
		`SELECT `+productCols+` FROM products WHERE sku = $1`, sku))
}

func (r *productRepo) List(ctx context.Context, f repository.ProductFilter) ([]domain.Product, error) {
	q := `SELECT ` + productCols + ` FROM products`
	args := []any{}
	if f.ActiveOnly {
		q += ` WHERE active`
	}
	q += ` ORDER BY sku`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += ` LIMIT $1`
		if f.Offset > 0 {
			args = append(args, f.Offset)
			q += ` OFFSET $2`
		}
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// AdjustStock moves the level and writes the log entry in one
// transaction. The guarded UPDATE refuses to go negative.
func (r *productRepo) AdjustStock(ctx context.Context, productID string, delta int, reason, actor string) (int, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	level, err := adjustStockTx(ctx, tx, productID, delta, reason, actor)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return level, nil
}

// adjustStockTx is shared with order cancellation.
func adjustStockTx(ctx context.Context, tx pgx.Tx, productID string, delta int, reason, actor string) (int, error) {
	var level int
	err := tx.QueryRow(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1 AND stock + $2 >= 0
		RETURNING stock`, productID, delta).Scan(&level)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either no such product or the delta would go negative.
		var exists bool
		if e := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); e != nil {
			return 0, e
		}
		if !exists {
			return 0, repository.ErrNotFound
		}
		return 0, repository.ErrInsufficientStock
	}
	if err != nil {
		return 0, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO inventory_log (id, product_id, delta, level, reason, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		uuid.NewString(), productID, delta, level, reason, actor)
	if err != nil {
		return 0, err
	}
	return level, nil
}

func (r *productRepo) InventoryLog(ctx context.Context, productID string, limit int) ([]domain.InventoryLogEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, product_id, delta, level, reason, actor, created_at
		FROM inventory_log
		WHERE product_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.InventoryLogEntry
	for rows.Next() {
		var e domain.InventoryLogEntry
		if err := rows.Scan(&e.ID, &e.ProductID, &e.Delta, &e.Level, &e.Reason, &e.Actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
