package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/storefront/internal/audit"
	"github.com/dropDatabas3/storefront/internal/auth/authorizer"
	"github.com/dropDatabas3/storefront/internal/catalog"
	"github.com/dropDatabas3/storefront/internal/domain"
	"github.com/dropDatabas3/storefront/internal/domain/repository"
	httperrors "github.com/dropDatabas3/storefront/internal/http/errors"
	"github.com/dropDatabas3/storefront/internal/inventory"
	"github.com/dropDatabas3/storefront/internal/metrics"
	"github.com/dropDatabas3/storefront/internal/orders"
)

// AdminController serves the privileged API. Every handler runs the full
// authorizer sequence itself; the edge gate's earlier screening is not
// trusted here.
type AdminController struct {
	Authz     *authorizer.Authorizer
	Orders    *orders.Service
	Catalog   *catalog.Service
	Inventory *inventory.Service
	Store     repository.Store
}

// require wraps Authorizer.Require with denial accounting.
func (c *AdminController) require(w http.ResponseWriter, r *http.Request, opts authorizer.Options) (*authorizer.Identity, bool) {
	id, err := c.Authz.Require(r, opts)
	if err != nil {
		if app, ok := err.(*httperrors.AppError); ok {
			switch app.Code {
			case "INVALID_CSRF_TOKEN":
				metrics.RecordAuthzDenial("csrf")
			case "SESSION_INVALID":
				metrics.RecordAuthzDenial("session")
			case "FORBIDDEN":
				metrics.RecordAuthzDenial("role")
			}
		}
		httperrors.WriteError(w, err)
		return nil, false
	}
	return id, true
}

// mapStoreError translates repository sentinels for the wire.
func mapStoreError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return httperrors.ErrNotFound
	case errors.Is(err, repository.ErrConflict):
		return httperrors.ErrConflict
	case errors.Is(err, repository.ErrInsufficientStock):
		return httperrors.ErrConflict.WithDetail("insufficient stock")
	case errors.Is(err, repository.ErrMissingRole):
		return httperrors.ErrBadRequest.WithDetail("role is required")
	}
	var te *orders.TransitionError
	if errors.As(err, &te) {
		return httperrors.ErrConflict.WithDetail(te.Error())
	}
	return err
}

func queryInt(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// ─────────────── Orders ───────────────

func (c *AdminController) ListOrders(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.require(w, r, authorizer.Options{SkipCSRF: true}); !ok {
		return
	}
	f := repository.OrderFilter{
		Status: domain.OrderStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	list, err := c.Orders.List(r.Context(), f)
	if err != nil {
		httperrors.WriteError(w, mapStoreError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": list})
}

func (c *AdminController) GetOrder(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.require(w, r, authorizer.Options{SkipCSRF: true}); !ok {
		return
	}
	o, err := c.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httperrors.WriteError(w, mapStoreError(err))
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (c *AdminController) SetOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := c.require(w, r, authorizer.Options{Roles: []domain.Role{domain.RoleManager}})
	if !ok {
		return
	}
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	o, err := c.Orders.SetStatus(r.Context(), chi.URLParam(r, "id"), domain.OrderStatus(req.Status), id.Sub)
	if err != nil {
		httperrors.WriteError(w, mapStoreError(err))
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ─────────────── Products & stock ───────────────

func (c *AdminController) CreateProduct(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.require(w, r, authorizer.Options{Roles: []domain.Role{domain.RoleManager}}); !ok {
		return
	}
	var p domain.Product
	if err := decodeJSON(w, r, &p); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if p.SKU == "" || p.Name == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("sku, name"))
		return
	}
	if err := c.Catalog.Create(r.Context(), &p); err != nil {
		httperrors.WriteError(w, mapStoreError(err))
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (c *AdminController) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.require(w, r, authorizer.Options{Roles: []domain.Role{domain.RoleManager}}); !ok {
		return
	}
	var p domain.Product
	if err := decodeJSON(w, r, &p); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	p.ID = chi.URLParam(r, "id")
	if err := c.Catalog.Update(r.Context(), &p); err != nil {
		httperrors.WriteError(w, mapStoreError(err))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type stockRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

func (c *AdminController) AdjustStock(w http.ResponseWriter, r *http.Request) {
	id, ok := c.require(w, r, authorizer.Options{
		Roles: []domain.Role{domain.RoleManager, domain.RoleInventoryOnly},
	})
	if !ok {
		return
	}
	var req stockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if req.Delta == 0 {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("delta must be non-zero"))
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual"
	}
	level, err := c.Inventory.Adjust(r.Context(), chi.URLParam(r, "id"), req.Delta, reason, id.Sub)
	if err != nil {
		httperrors.WriteError(w, mapStoreError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"stock": level})
}

func (c *AdminController) InventoryLog(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.require(w, r, authorizer.Options{SkipCSRF: true}); !ok {
		return
	}
	log, err := c.Inventory.Log(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 50))
	if err != nil {
		httperrors.WriteError(w, mapStoreError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": log})
}

// ─────────────── Discounts ───────────────

func (c *AdminController) ListDiscounts(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.require(w, r, authorizer.Options{SkipCSRF: true}); !ok {
		return
	}
	list, err := c.Store.Discounts().List(r.Context())
	if err != nil {
		httperrors.WriteError(w, mapStoreError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"discounts": list})
}

func (c *AdminController) CreateDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := c.require(w, r, authorizer.Options{Roles: []domain.Role{domain.RoleManager}})
	if !ok {
		return
	}
	var d domain.Discount
	if err := decodeJSON(w, r, &d); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	d.Code = strings.ToUpper(strings.TrimSpace(d.Code))
	if d.Code == "" || (d.Percent <= 0 && d.FlatCents <= 0) {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("code and percent or flat_cents"))
		return
	}
	d.CreatedAt = time.Now().UTC()
	if err := c.Store.Discounts().Create(r.Context(), &d); err != nil {
		httperrors.WriteError(w, mapStoreError(err))
		return
	}
	audit.Log(r.Context(), "discount.created", map[string]any{"code": d.Code, "actor": id.Sub})
	writeJSON(w, http.StatusCreated, d)
}

func (c *AdminController) UpdateDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := c.require(w, r, authorizer.Options{Roles: []domain.Role{domain.RoleManager}})
	if !ok {
		return
	}
	var d domain.Discount
	if err := decodeJSON(w, r, &d); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	d.Code = strings.ToUpper(chi.URLParam(r, "code"))
	if err := c.Store.Discounts().Update(r.Context(), &d); err != nil {
		httperrors.WriteError(w, mapStoreError(err))
		return
	}
	audit.Log(r.Context(), "discount.updated", map[string]any{"code": d.Code, "actor": id.Sub})
	writeJSON(w, http.StatusOK, d)
}

func (c *AdminController) DeleteDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := c.require(w, r, authorizer.Options{Roles: []domain.Role{domain.RoleManager}})
	if !ok {
		return
	}
	code := strings.ToUpper(chi.URLParam(r, "code"))
	if err := c.Store.Discounts().Delete(r.Context(), code); err != nil {
		httperrors.WriteError(w, mapStoreError(err))
		return
	}
	audit.Log(r.Context(), "discount.deleted", map[string]any{"code": code, "actor": id.Sub})
	w.WriteHeader(http.StatusNoContent)
}

// ─────────────── Admin records ───────────────

func (c *AdminController) ListAdmins(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.require(w, r, authorizer.Options{
		SkipCSRF: true, Roles: []domain.Role{domain.RoleSuperAdmin},
	}); !ok {
		return
	}
	list, err := c.Store.Admins().List(r.Context())
	if err != nil {
		httperrors.WriteError(w, mapStoreError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"admins": list})
}

func (c *AdminController) UpsertAdmin(w http.ResponseWriter, r *http.Request) {
	id, ok := c.require(w, r, authorizer.Options{Roles: []domain.Role{domain.RoleSuperAdmin}})
	if !ok {
		return
	}
	var a domain.Admin
	if err := decodeJSON(w, r, &a); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	a.Sub = chi.URLParam(r, "sub")
	if !domain.ValidRole(a.Role) {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("unknown role"))
		return
	}
	if err := c.Store.Admins().Upsert(r.Context(), &a); err != nil {
		httperrors.WriteError(w, mapStoreError(err))
		return
	}
	audit.Log(r.Context(), "admin.upserted", map[string]any{
		"sub": a.Sub, "role": a.Role, "actor": id.Sub,
	})
	writeJSON(w, http.StatusOK, a)
}

func (c *AdminController) DeleteAdmin(w http.ResponseWriter, r *http.Request) {
	id, ok := c.require(w, r, authorizer.Options{Roles: []domain.Role{domain.RoleSuperAdmin}})
	if !ok {
		return
	}
	sub := chi.URLParam(r, "sub")
	if sub == id.Sub {
		httperrors.WriteError(w, httperrors.ErrConflict.WithDetail("cannot delete own admin record"))
		return
	}
	if err := c.Store.Admins().Delete(r.Context(), sub); err != nil {
		httperrors.WriteError(w, mapStoreError(err))
		return
	}
	audit.Log(r.Context(), "admin.deleted", map[string]any{"sub": sub, "actor": id.Sub})
	w.WriteHeader(http.StatusNoContent)
}

// ─────────────── Waitlist ───────────────

func (c *AdminController) ProductWaitlist(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.require(w, r, authorizer.Options{SkipCSRF: true}); !ok {
		return
	}
	entries, err := c.Store.Waitlist().PendingFor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httperrors.WriteError(w, mapStoreError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
