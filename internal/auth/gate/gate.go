// Package gate is the edge request interceptor. It decides, per request
// and without any database round-trip, whether a protected admin path may
// proceed, based solely on the session cookie and cached public keys.
// Every failure mode fails closed: deny or redirect, never allow.
package gate

import (
	"net/http"
	"strings"

	"github.com/dropDatabas3/storefront/internal/auth/token"
	httperrors "github.com/dropDatabas3/storefront/internal/http/errors"
	"github.com/dropDatabas3/storefront/internal/observability/logger"
)

// Config wires the gate. The key cache is injected via the validator,
// never reached through a global.
type Config struct {
	Validator *token.Validator

	SessionCookie string // default "__session"
	CSRFCookie    string // default "csrf_token"
	LoginPath     string // default "/admin/login"

	// AdminUIPrefix and AdminAPIPrefix delimit the protected namespaces.
	AdminUIPrefix  string // default "/admin"
	AdminAPIPrefix string // default "/api/admin"

	// Metrics is optional.
	Metrics Metrics
}

// Metrics receives gate decisions.
type Metrics interface {
	GateDecision(outcome string)
}

type Gate struct {
	cfg Config
}

func New(cfg Config) *Gate {
	if cfg.SessionCookie == "" {
		cfg.SessionCookie = "__session"
	}
	if cfg.CSRFCookie == "" {
		cfg.CSRFCookie = "csrf_token"
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/admin/login"
	}
	if cfg.AdminUIPrefix == "" {
		cfg.AdminUIPrefix = "/admin"
	}
	if cfg.AdminAPIPrefix == "" {
		cfg.AdminAPIPrefix = "/api/admin"
	}
	return &Gate{cfg: cfg}
}

// Middleware runs on every request. Side effects (security headers,
// CSRF cookie mint) apply to all non-asset paths; the admin check only
// to the protected namespaces.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSecurityHeaders(w, r)

		if !isAssetPath(r.URL.Path) {
			g.mintCSRF(w, r)
		}

		if !g.isProtected(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		log := logger.From(r.Context()).With(logger.Layer("gate"), logger.Path(r.URL.Path))

		ck, err := r.Cookie(g.cfg.SessionCookie)
		if err != nil || strings.TrimSpace(ck.Value) == "" {
			g.count("missing_cookie")
			g.reject(w, r, false)
			return
		}

		claims, verr := g.cfg.Validator.Validate(r.Context(), ck.Value)
		if verr != nil {
			// The specific cause is for logs only; the caller sees a
			// uniform rejection.
			log.Debug("session credential rejected", logger.Err(verr))
			g.count("invalid_token")
			g.reject(w, r, true)
			return
		}

		g.count("allowed")
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func (g *Gate) isProtected(path string) bool {
	if path == g.cfg.LoginPath || strings.HasPrefix(path, g.cfg.LoginPath+"/") {
		return false
	}
	return path == g.cfg.AdminUIPrefix ||
		strings.HasPrefix(path, g.cfg.AdminUIPrefix+"/") ||
		path == g.cfg.AdminAPIPrefix ||
		strings.HasPrefix(path, g.cfg.AdminAPIPrefix+"/")
}

func (g *Gate) isAPI(path string) bool {
	return path == g.cfg.AdminAPIPrefix || strings.HasPrefix(path, g.cfg.AdminAPIPrefix+"/")
}

// reject clears any present (invalid) session cookie, then answers
// 401 JSON for API paths or a login redirect for UI paths.
func (g *Gate) reject(w http.ResponseWriter, r *http.Request, hadCookie bool) {
	if hadCookie {
		g.clearSessionCookie(w, r)
	}
	if g.isAPI(r.URL.Path) {
		httperrors.WriteError(w, httperrors.ErrSessionInvalid)
		return
	}
	http.Redirect(w, r, g.cfg.LoginPath, http.StatusSeeOther)
}

func (g *Gate) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.cfg.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	})
}

func (g *Gate) count(outcome string) {
	if g.cfg.Metrics != nil {
		g.cfg.Metrics.GateDecision(outcome)
	}
}

// isAssetPath matches static assets by extension; those skip the CSRF
// mint side effect.
func isAssetPath(path string) bool {
	i := strings.LastIndexByte(path, '.')
	if i < 0 || strings.ContainsRune(path[i:], '/') {
		return false
	}
	switch strings.ToLower(path[i:]) {
	case ".css", ".js", ".map", ".png", ".jpg", ".jpeg", ".gif", ".svg",
		".ico", ".webp", ".avif", ".woff", ".woff2", ".ttf", ".txt":
		return true
	default:
		return false
	}
}

func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
