package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/storefront/internal/domain"
	"github.com/dropDatabas3/storefront/internal/domain/repository"
)

type discountRepo struct{ pool *pgxpool.Pool }

func (r *discountRepo) Create(ctx context.Context, d *domain.Discount) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO discounts (code, percent, flat_cents, active, expires_at, max_uses, usage_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, now())`,
		d.Code, d.Percent, d.FlatCents, d.Active, nullIfZeroTime(d.ExpiresAt), d.MaxUses)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return repository.ErrConflict
	}
	return err
}

func (r *discountRepo) Update(ctx context.Context, d *domain.Discount) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE discounts
		SET percent = $2, flat_cents = $3, active = $4, expires_at = $5, max_uses = $6
		WHERE code = $1`,
		d.Code, d.Percent, d.FlatCents, d.Active, nullIfZeroTime(d.ExpiresAt), d.MaxUses)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *discountRepo) Get(ctx context.Context, code string) (*domain.Discount, error) {
	var d domain.Discount
	var exp *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT code, percent, flat_cents, active, expires_at, max_uses, usage_count, created_at
		FROM discounts WHERE code = $1`, code).
		Scan(&d.Code, &d.Percent, &d.FlatCents, &d.Active, &exp, &d.MaxUses, &d.UsageCount, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if exp != nil {
		d.ExpiresAt = *exp
	}
	return &d, nil
}

func (r *discountRepo) List(ctx context.Context) ([]domain.Discount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT code, percent, flat_cents, active, expires_at, max_uses, usage_count, created_at
		FROM discounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Discount
	for rows.Next() {
		var d domain.Discount
		var exp *time.Time
		if err := rows.Scan(&d.Code, &d.Percent, &d.FlatCents, &d.Active, &exp, &d.MaxUses, &d.UsageCount, &d.CreatedAt); err != nil {
			return nil, err
		}
		if exp != nil {
			d.ExpiresAt = *exp
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *discountRepo) Delete(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM discounts WHERE code = $1`, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func nullIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
