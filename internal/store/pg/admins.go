package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/storefront/internal/domain"
	"github.com/dropDatabas3/storefront/internal/domain/repository"
)

type adminRepo struct{ pool *pgxpool.Pool }

func (r *adminRepo) Get(ctx context.Context, sub string) (*domain.Admin, error) {
	var a domain.Admin
	err := r.pool.QueryRow(ctx, `
		SELECT sub, email, role, permissions, created_at, updated_at
		FROM admins WHERE sub = $1`, sub).
		Scan(&a.Sub, &a.Email, &a.Role, &a.Permissions, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *adminRepo) Upsert(ctx context.Context, a *domain.Admin) error {
	if a.Role == "" || !domain.ValidRole(a.Role) {
		return repository.ErrMissingRole
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO admins (sub, email, role, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (sub) DO UPDATE
		SET email = EXCLUDED.email,
		    role = EXCLUDED.role,
		    permissions = EXCLUDED.permissions,
		    updated_at = now()`,
		a.Sub, a.Email, a.Role, a.Permissions)
	return err
}

func (r *adminRepo) List(ctx context.Context) ([]domain.Admin, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT sub, email, role, permissions, created_at, updated_at
		FROM admins ORDER BY sub`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Admin
	for rows.Next() {
		var a domain.Admin
		if err := rows.Scan(&a.Sub, &a.Email, &a.Role, &a.Permissions, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *adminRepo) Delete(ctx context.Context, sub string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM admins WHERE sub = $1`, sub)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
