package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/storefront/internal/auth/gate"
	httperrors "github.com/dropDatabas3/storefront/internal/http/errors"
	"github.com/dropDatabas3/storefront/internal/metrics"
	"github.com/dropDatabas3/storefront/internal/rate"
)

// RouterDeps is everything the router needs, wired in cmd.
type RouterDeps struct {
	Gate *gate.Gate

	Session *SessionController
	Login   *LoginController
	Admin   *AdminController
	Shop    *ShopController
	Health  *HealthController

	CSRFCookie string

	// LoginLimiter and SessionLimiter are optional.
	LoginLimiter   rate.Limiter
	SessionLimiter rate.Limiter

	CORSAllowedOrigins []string

	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
}

// NewRouter assembles the full middleware chain and route table. Order
// matters: the gate must run inside request-id/logging (so rejections
// are logged) and outside every handler (so nothing privileged is
// reachable around it).
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
	})

	r.Get("/healthz", deps.Health.Healthz)
	r.Get("/readyz", deps.Health.Readyz)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Get("/api/csrf", CSRFToken(deps.CSRFCookie))

	// Public shop.
	r.Route("/api/shop", func(r chi.Router) {
		r.Get("/products", deps.Shop.ListProducts)
		r.Get("/products/{id}", deps.Shop.GetProduct)
		r.Post("/orders", deps.Shop.PlaceOrder)
		r.Post("/waitlist", deps.Shop.JoinWaitlist)
	})

	// Login flow, rate limited per IP.
	r.Group(func(r chi.Router) {
		r.Use(WithRateLimit(deps.LoginLimiter))
		r.Post("/api/login", deps.Login.Password)
		r.Post("/api/login/enroll", deps.Login.VerifyEnrollment)
		r.Post("/api/login/enroll/skip", deps.Login.SkipEnrollment)
		r.Post("/api/login/challenge", deps.Login.VerifyChallenge)
		r.Post("/api/login/challenge/cancel", deps.Login.CancelChallenge)
	})
	r.Post("/api/logout", deps.Login.Logout)

	// Session cookie issue/delete.
	r.Group(func(r chi.Router) {
		r.Use(WithRateLimit(deps.SessionLimiter))
		r.Post("/api/session", deps.Session.Issue)
		r.Delete("/api/session", deps.Session.Delete)
	})

	// Privileged API. The gate has already screened these paths; every
	// handler still re-verifies through the authorizer.
	r.Route("/api/admin", func(r chi.Router) {
		r.Get("/orders", deps.Admin.ListOrders)
		r.Get("/orders/{id}", deps.Admin.GetOrder)
		r.Post("/orders/{id}/status", deps.Admin.SetOrderStatus)

		r.Post("/products", deps.Admin.CreateProduct)
		r.Put("/products/{id}", deps.Admin.UpdateProduct)
		r.Post("/products/{id}/stock", deps.Admin.AdjustStock)
		r.Get("/products/{id}/inventory-log", deps.Admin.InventoryLog)
		r.Get("/products/{id}/waitlist", deps.Admin.ProductWaitlist)

		r.Get("/discounts", deps.Admin.ListDiscounts)
		r.Post("/discounts", deps.Admin.CreateDiscount)
		r.Put("/discounts/{code}", deps.Admin.UpdateDiscount)
		r.Delete("/discounts/{code}", deps.Admin.DeleteDiscount)

		r.Get("/admins", deps.Admin.ListAdmins)
		r.Put("/admins/{sub}", deps.Admin.UpsertAdmin)
		r.Delete("/admins/{sub}", deps.Admin.DeleteAdmin)
	})

	// Admin UI placeholder: the SPA is served elsewhere in production;
	// reaching this handler at all means the gate let the request pass.
	r.Get("/admin", adminUIStub)
	r.Get("/admin/*", adminUIStub)
	r.Get("/admin/login", loginUIStub)

	var h http.Handler = r
	h = deps.Gate.Middleware(h)
	h = metrics.WithHTTP(h)
	h = WithCORS(h, deps.CORSAllowedOrigins)
	h = WithLogging(h)
	h = WithRecover(h)
	h = WithRequestID(h)
	return h
}

func adminUIStub(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte("<!doctype html><title>Admin</title><p>Admin console</p>"))
}

func loginUIStub(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte("<!doctype html><title>Sign in</title><p>Sign in</p>"))
}
