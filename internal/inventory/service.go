// Package inventory owns stock transactions and the back-in-stock
// waitlist notifications they trigger.
package inventory

import (
	"context"
	"time"

	"github.com/dropDatabas3/storefront/internal/audit"
	"github.com/dropDatabas3/storefront/internal/domain"
	"github.com/dropDatabas3/storefront/internal/domain/repository"
	"github.com/dropDatabas3/storefront/internal/email"
	"github.com/dropDatabas3/storefront/internal/observability/logger"
)

type Service struct {
	store  repository.Store
	mailer email.Sender // nil disables notifications
}

func NewService(store repository.Store, mailer email.Sender) *Service {
	return &Service{store: store, mailer: mailer}
}

// Adjust applies a stock delta for an admin actor. The repository makes
// the delta and its log entry atomic; this layer adds auditing and the
// waitlist side effect when a product comes back in stock.
func (s *Service) Adjust(ctx context.Context, productID string, delta int, reason, actor string) (int, error) {
	before, err := s.store.Products().Get(ctx, productID)
	if err != nil {
		return 0, err
	}

	level, err := s.store.Products().AdjustStock(ctx, productID, delta, reason, actor)
	if err != nil {
		return 0, err
	}

	audit.Log(ctx, "inventory.adjusted", map[string]any{
		"product_id": productID, "delta": delta, "level": level,
		"reason": reason, "actor": actor,
	})

	if before.Stock <= 0 && level > 0 {
		// Fire-and-forget: a failed notice never fails the stock write.
		go s.notifyWaitlist(context.WithoutCancel(ctx), before)
	}
	return level, nil
}

func (s *Service) Log(ctx context.Context, productID string, limit int) ([]domain.InventoryLogEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.Products().InventoryLog(ctx, productID, limit)
}

func (s *Service) notifyWaitlist(ctx context.Context, p *domain.Product) {
	if s.mailer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("Inventory.notifyWaitlist"))

	entries, err := s.store.Waitlist().PendingFor(ctx, p.ID)
	if err != nil {
		log.Warn("waitlist lookup failed", logger.Err(err))
		return
	}
	if len(entries) == 0 {
		return
	}

	var done []string
	for _, e := range entries {
		if err := s.mailer.SendBackInStock(e.Email, p.Name, p.SKU); err != nil {
			log.Warn("back-in-stock notice failed", logger.Email(e.Email), logger.Err(err))
			continue
		}
		done = append(done, e.ID)
	}
	if len(done) > 0 {
		if err := s.store.Waitlist().MarkNotified(ctx, done); err != nil {
			log.Warn("marking waitlist notified failed", logger.Err(err))
		}
	}
}
