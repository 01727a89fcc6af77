package pg

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/storefront/internal/domain"
	"github.com/dropDatabas3/storefront/internal/domain/repository"
)

type waitlistRepo struct{ pool *pgxpool.Pool }

// Join relies on the partial unique index over (product_id, email) where
// notified_at is null: an address can re-join after a notification, but
// never holds two pending entries at once.
func (r *waitlistRepo) Join(ctx context.Context, e *domain.WaitlistEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO waitlist (id, product_id, email, created_at)
		VALUES ($1, $2, $3, now())`,
		e.ID, e.ProductID, e.Email)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return repository.ErrConflict
	}
	return err
}

func (r *waitlistRepo) PendingFor(ctx context.Context, productID string) ([]domain.WaitlistEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, product_id, email, created_at
		FROM waitlist
		WHERE product_id = $1 AND notified_at IS NULL
		ORDER BY created_at`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WaitlistEntry
	for rows.Next() {
		var e domain.WaitlistEntry
		if err := rows.Scan(&e.ID, &e.ProductID, &e.Email, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *waitlistRepo) MarkNotified(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE waitlist SET notified_at = $2 WHERE id = ANY($1)`,
		ids, time.Now().UTC())
	return err
}
