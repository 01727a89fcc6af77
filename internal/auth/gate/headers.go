package gate

import "net/http"

// writeSecurityHeaders attaches the fixed defense headers to every
// response, rejections included. Cache-Control is left to handlers.
func writeSecurityHeaders(w http.ResponseWriter, r *http.Request) {
	h := w.Header()

	h.Set("Referrer-Policy", "no-referrer")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Content-Security-Policy",
		"default-src 'self'; frame-ancestors 'none'; base-uri 'none'; form-action 'self'")
	h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")

	// HSTS only when the request actually arrived over HTTPS
	// (directly or behind a proxy).
	if isHTTPS(r) {
		h.Set("Strict-Transport-Security", "max-age=15552000; includeSubDomains")
	}
}
