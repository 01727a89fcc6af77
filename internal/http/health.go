package http

import (
	"net/http"
	"time"

	"github.com/dropDatabas3/storefront/internal/domain/repository"
	httperrors "github.com/dropDatabas3/storefront/internal/http/errors"
)

type HealthController struct {
	Store repository.Store
}

// Healthz reports process liveness only.
func (c *HealthController) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz additionally checks the store.
func (c *HealthController) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeoutCtx(r, 2*time.Second)
	defer cancel()
	if err := c.Store.Ping(ctx); err != nil {
		httperrors.WriteError(w, httperrors.ErrServiceUnavailable.WithCause(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// CSRFToken echoes the double-submit token for SPA bootstrapping. The
// gate mints the cookie before this handler runs, so it is always there.
func CSRFToken(csrfCookie string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie(csrfCookie)
		if err != nil || ck.Value == "" {
			// We may be first in line before the mint for this client;
			// the response header carries the fresh value instead.
			writeJSON(w, http.StatusOK, map[string]string{
				"csrf_token": w.Header().Get("X-CSRF-Token"),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"csrf_token": ck.Value})
	}
}
