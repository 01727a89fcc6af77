// Package orders owns order lifecycle: placement, the status state
// machine, and the cancel-with-restock invariant.
package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/storefront/internal/audit"
	"github.com/dropDatabas3/storefront/internal/domain"
	"github.com/dropDatabas3/storefront/internal/domain/repository"
	"github.com/dropDatabas3/storefront/internal/observability/logger"
)

type Service struct {
	store repository.Store
}

func NewService(store repository.Store) *Service {
	return &Service{store: store}
}

// PlaceInput is one checkout line.
type PlaceInput struct {
	ProductID string
	Quantity  int
}

// Place creates a pending order, decrementing stock per line item.
// Cart math beyond the sum is out of scope here; the caller has already
// priced the cart.
func (s *Service) Place(ctx context.Context, customerID, email string, lines []PlaceInput, discountCode string) (*domain.Order, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("orders: empty order")
	}

	o := &domain.Order{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Email:      email,
		Status:     domain.OrderPending,
		CreatedAt:  time.Now().UTC(),
	}

	for _, ln := range lines {
		if ln.Quantity <= 0 {
			return nil, fmt.Errorf("orders: bad quantity for %s", ln.ProductID)
		}
		p, err := s.store.Products().Get(ctx, ln.ProductID)
		if err != nil {
			return nil, err
		}
		if _, err := s.store.Products().AdjustStock(ctx, p.ID, -ln.Quantity, "order:"+o.ID, "system"); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, domain.OrderItem{
			ProductID:  p.ID,
			SKU:        p.SKU,
			Name:       p.Name,
			Quantity:   ln.Quantity,
			PriceCents: p.PriceCents,
		})
		o.TotalCents += p.PriceCents * int64(ln.Quantity)
	}

	if discountCode != "" {
		d, err := s.store.Discounts().Get(ctx, discountCode)
		if err == nil && d.Active && (d.ExpiresAt.IsZero() || d.ExpiresAt.After(time.Now())) {
			o.DiscountCode = d.Code
			if d.Percent > 0 {
				o.TotalCents -= o.TotalCents * int64(d.Percent) / 100
			} else if d.FlatCents > 0 {
				o.TotalCents -= d.FlatCents
			}
			if o.TotalCents < 0 {
				o.TotalCents = 0
			}
		}
	}

	if err := s.store.Orders().Create(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Order, error) {
	return s.store.Orders().Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f repository.OrderFilter) ([]domain.Order, error) {
	return s.store.Orders().List(ctx, f)
}

// SetStatus applies one transition from the table. Transitions into
// cancelled restore inventory atomically with the status write; partial
// application is not an outcome this method can produce.
func (s *Service) SetStatus(ctx context.Context, id string, to domain.OrderStatus, actor string) (*domain.Order, error) {
	o, err := s.store.Orders().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, to) {
		return nil, &TransitionError{From: o.Status, To: to}
	}

	if to == domain.OrderCancelled {
		err = s.store.Orders().CancelRestock(ctx, id, o.Status, actor)
	} else {
		err = s.store.Orders().UpdateStatus(ctx, id, o.Status, to)
	}
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, "order.status_changed", map[string]any{
		"order_id": id, "from": o.Status, "to": to, "actor": actor,
	})
	logger.From(ctx).Info("order status changed",
		logger.Layer("service"), logger.OrderID(id),
		logger.Op("Orders.SetStatus"))

	return s.store.Orders().Get(ctx, id)
}
