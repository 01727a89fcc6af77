package gate

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
)

// CSRFHeader is where the minted token is echoed so same-page scripts
// can read it without a second round trip.
const CSRFHeader = "X-CSRF-Token"

// mintCSRF sets the double-submit cookie when absent. Runs on every
// non-asset path, protected or not, so public pages arrive pre-armed
// before the user ever authenticates.
func (g *Gate) mintCSRF(w http.ResponseWriter, r *http.Request) {
	if ck, err := r.Cookie(g.cfg.CSRFCookie); err == nil && strings.TrimSpace(ck.Value) != "" {
		w.Header().Set(CSRFHeader, ck.Value)
		return
	}

	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return // mint nothing on entropy failure
	}
	tok := hex.EncodeToString(b[:])

	http.SetCookie(w, &http.Cookie{
		Name:  g.cfg.CSRFCookie,
		Value: tok,
		Path:  "/",
		// Intentional: page scripts must read this for the double-submit header.
		HttpOnly: false,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	})
	w.Header().Set(CSRFHeader, tok)
}
