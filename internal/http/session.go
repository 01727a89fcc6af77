package http

import (
	"net/http"
	"strings"

	httperrors "github.com/dropDatabas3/storefront/internal/http/errors"
	"github.com/dropDatabas3/storefront/internal/idp"
	"github.com/dropDatabas3/storefront/internal/observability/logger"
)

// SessionController issues and deletes the session cookie. The browser
// never handles the raw cookie itself: the login flow posts a freshly
// minted provider credential here, we verify it server-side and only
// then hand it back as an HttpOnly cookie.
type SessionController struct {
	Provider      idp.Client
	SessionCookie string
}

type sessionIssueRequest struct {
	IDToken string `json:"id_token"`
}

// Issue handles POST /api/session.
func (c *SessionController) Issue(w http.ResponseWriter, r *http.Request) {
	var req sessionIssueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if strings.TrimSpace(req.IDToken) == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("id_token"))
		return
	}

	verified, err := c.Provider.VerifySessionToken(r.Context(), req.IDToken, false)
	if err != nil {
		logger.From(r.Context()).Info("session issue rejected",
			logger.Layer("controller"), logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrSessionInvalid)
		return
	}

	http.SetCookie(w, buildSessionCookie(c.SessionCookie, req.IDToken, isHTTPS(r)))
	writeJSON(w, http.StatusOK, map[string]string{
		"sub":   verified.Sub,
		"email": verified.Email,
	})
}

// Delete handles DELETE /api/session.
func (c *SessionController) Delete(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, buildDeletionCookie(c.SessionCookie, isHTTPS(r)))
	w.WriteHeader(http.StatusNoContent)
}
