package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dropDatabas3/storefront/internal/catalog"
	"github.com/dropDatabas3/storefront/internal/domain"
	"github.com/dropDatabas3/storefront/internal/domain/repository"
	"github.com/dropDatabas3/storefront/internal/email"
	httperrors "github.com/dropDatabas3/storefront/internal/http/errors"
	"github.com/dropDatabas3/storefront/internal/observability/logger"
	"github.com/dropDatabas3/storefront/internal/orders"
)

// ShopController is the public, unauthenticated storefront surface.
type ShopController struct {
	Catalog  *catalog.Service
	Orders   *orders.Service
	Waitlist repository.Waitlist
	Mailer   email.Sender // nil disables confirmations
}

// ListProducts handles GET /api/shop/products.
func (c *ShopController) ListProducts(w http.ResponseWriter, r *http.Request) {
	list, err := c.Catalog.ListActive(r.Context())
	if err != nil {
		httperrors.WriteError(w, mapStoreError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": list})
}

// GetProduct handles GET /api/shop/products/{id}.
func (c *ShopController) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := c.Catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httperrors.WriteError(w, mapStoreError(err))
		return
	}
	if !p.Active {
		httperrors.WriteError(w, httperrors.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type orderLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type placeOrderRequest struct {
	Email        string             `json:"email"`
	CustomerID   string             `json:"customer_id"`
	DiscountCode string             `json:"discount_code"`
	Items        []orderLineRequest `json:"items"`
}

// PlaceOrder handles POST /api/shop/orders.
func (c *ShopController) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if req.Email == "" || len(req.Items) == 0 {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("email, items"))
		return
	}

	lines := make([]orders.PlaceInput, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, orders.PlaceInput{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	o, err := c.Orders.Place(r.Context(), req.CustomerID, req.Email, lines, strings.ToUpper(req.DiscountCode))
	if err != nil {
		httperrors.WriteError(w, mapStoreError(err))
		return
	}

	if c.Mailer != nil {
		// A failed confirmation never fails the order.
		go func(ctx context.Context, o *domain.Order) {
			ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if err := c.Mailer.SendOrderConfirmation(o.Email, o.ID, o.TotalCents); err != nil {
				logger.From(ctx).Warn("order confirmation failed",
					logger.OrderID(o.ID), logger.Err(err))
			}
		}(context.WithoutCancel(r.Context()), o)
	}

	writeJSON(w, http.StatusCreated, o)
}

type waitlistRequest struct {
	ProductID string `json:"product_id"`
	Email     string `json:"email"`
}

// JoinWaitlist handles POST /api/shop/waitlist.
func (c *ShopController) JoinWaitlist(w http.ResponseWriter, r *http.Request) {
	var req waitlistRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if req.ProductID == "" || !strings.Contains(req.Email, "@") {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("product_id, email"))
		return
	}

	// The product must exist; stock level does not matter, joining an
	// in-stock product is harmless.
	if _, err := c.Catalog.Get(r.Context(), req.ProductID); err != nil {
		httperrors.WriteError(w, mapStoreError(err))
		return
	}

	e := &domain.WaitlistEntry{
		ID:        uuid.NewString(),
		ProductID: req.ProductID,
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		CreatedAt: time.Now().UTC(),
	}
	if err := c.Waitlist.Join(r.Context(), e); err != nil {
		if err == repository.ErrConflict {
			// Already on the list; idempotent from the caller's view.
			w.WriteHeader(http.StatusNoContent)
			return
		}
		httperrors.WriteError(w, mapStoreError(err))
		return
	}
	w.WriteHeader(http.StatusCreated)
}
