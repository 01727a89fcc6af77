// Package authorizer re-verifies identity for every privileged server
// operation. The edge gate already screened the request, but the gate
// can in principle be bypassed at the platform level, so nothing here
// trusts its decision: the credential is verified again, revocation
// included, and the subject must resolve to an admin record.
package authorizer

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/storefront/internal/audit"
	"github.com/dropDatabas3/storefront/internal/domain"
	"github.com/dropDatabas3/storefront/internal/domain/repository"
	httperrors "github.com/dropDatabas3/storefront/internal/http/errors"
	"github.com/dropDatabas3/storefront/internal/idp"
	"github.com/dropDatabas3/storefront/internal/observability/logger"
)

// Identity is the verified caller, trustworthy for this single request
// only. Nothing is cached across requests.
type Identity struct {
	Sub   string
	Email string
	Role  domain.Role
}

// Options tune a single authorization call.
type Options struct {
	// SkipCSRF opts a read-only, side-effect-free route out of the
	// double-submit check.
	SkipCSRF bool
	// Roles, when non-empty, is the acceptable role set.
	Roles []domain.Role
}

type Authorizer struct {
	Provider idp.Client
	Admins   repository.Admins

	SessionCookie string // default "__session"
	CSRFCookie    string // default "csrf_token"
	CSRFHeader    string // default "X-CSRF-Token"

	// LookupTimeout bounds the admin-record read. Default 3s; a hung
	// lookup denies rather than hangs.
	LookupTimeout time.Duration
}

func (a *Authorizer) sessionCookie() string {
	if a.SessionCookie == "" {
		return "__session"
	}
	return a.SessionCookie
}

func (a *Authorizer) csrfCookie() string {
	if a.CSRFCookie == "" {
		return "csrf_token"
	}
	return a.CSRFCookie
}

func (a *Authorizer) csrfHeader() string {
	if a.CSRFHeader == "" {
		return "X-CSRF-Token"
	}
	return a.CSRFHeader
}

// Require runs the full check sequence. Failures are *httperrors.AppError
// with 401 (unauthenticated) strictly distinguished from 403
// (authenticated but not allowed); callers must not conflate the two.
func (a *Authorizer) Require(r *http.Request, opts Options) (*Identity, error) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("authorizer"), logger.Op("Require"))

	// 1. CSRF double-submit, unless the route opted out.
	if !opts.SkipCSRF {
		if err := a.checkCSRF(r); err != nil {
			return nil, err
		}
	}

	// 2. Session cookie present.
	ck, err := r.Cookie(a.sessionCookie())
	if err != nil || strings.TrimSpace(ck.Value) == "" {
		return nil, httperrors.ErrSessionInvalid.WithDetail("no session")
	}

	// 3. Full cryptographic verification incl. revocation.
	verified, err := a.Provider.VerifySessionToken(ctx, ck.Value, true)
	if err != nil {
		log.Debug("session re-verification failed", logger.Err(err))
		return nil, httperrors.ErrSessionInvalid
	}

	// 4. Subject must resolve to an admin record. Absence is rejection,
	// never a default role.
	to := a.LookupTimeout
	if to <= 0 {
		to = 3 * time.Second
	}
	lctx, cancel := context.WithTimeout(ctx, to)
	defer cancel()
	admin, err := a.Admins.Get(lctx, verified.Sub)
	if err != nil {
		if err == repository.ErrNotFound {
			log.Info("authenticated subject has no admin record", logger.UserID(verified.Sub))
			return nil, httperrors.ErrForbidden
		}
		log.Error("admin lookup failed", logger.Err(err))
		return nil, httperrors.ErrServiceUnavailable
	}

	role := admin.Role
	if role == "" {
		// Legacy records without a role historically meant full
		// privilege. Kept for compatibility but loudly flagged; new
		// records cannot be created this way.
		audit.Log(ctx, "admin.legacy_role_fallback", map[string]any{
			"sub": admin.Sub, "email": admin.Email,
		})
		role = domain.RoleSuperAdmin
	}

	// 5. Optional role membership.
	if len(opts.Roles) > 0 && !roleAllowed(role, opts.Roles) {
		log.Info("role not in acceptable set",
			logger.UserID(verified.Sub), logger.Role(string(role)))
		return nil, httperrors.ErrForbidden
	}

	return &Identity{Sub: verified.Sub, Email: admin.Email, Role: role}, nil
}

func roleAllowed(role domain.Role, allowed []domain.Role) bool {
	// super_admin passes any role requirement.
	if role == domain.RoleSuperAdmin {
		return true
	}
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

// checkCSRF enforces the double-submit pattern: header and cookie both
// present and equal. Missing and mismatching are classified distinctly.
func (a *Authorizer) checkCSRF(r *http.Request) error {
	hdr := strings.TrimSpace(r.Header.Get(a.csrfHeader()))
	ck, err := r.Cookie(a.csrfCookie())
	switch {
	case hdr == "" && (err != nil || strings.TrimSpace(ck.Value) == ""):
		return httperrors.ErrCSRFMismatch.WithDetail("missing token")
	case hdr == "":
		return httperrors.ErrCSRFMismatch.WithDetail("missing header")
	case err != nil || strings.TrimSpace(ck.Value) == "":
		return httperrors.ErrCSRFMismatch.WithDetail("missing cookie")
	case subtle.ConstantTimeCompare([]byte(hdr), []byte(ck.Value)) != 1:
		return httperrors.ErrCSRFMismatch
	}
	return nil
}
