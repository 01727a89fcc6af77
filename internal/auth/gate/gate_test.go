package gate

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/storefront/internal/auth/token"
)

type staticKeys map[string]*rsa.PublicKey

func (k staticKeys) Key(_ context.Context, kid string) (*rsa.PublicKey, error) {
	if key, ok := k[kid]; ok {
		return key, nil
	}
	return nil, errors.New("unknown kid")
}

func testGate(t *testing.T) (*Gate, func(claims map[string]any) string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	v := &token.Validator{
		Issuer:   "https://issuer.example/shop",
		Audience: "shop",
		Keys:     staticKeys{"k1": &key.PublicKey},
	}
	mint := func(claims map[string]any) string {
		hb, _ := json.Marshal(map[string]any{"alg": "RS256", "kid": "k1", "typ": "JWT"})
		pb, _ := json.Marshal(claims)
		signing := base64.RawURLEncoding.EncodeToString(hb) + "." + base64.RawURLEncoding.EncodeToString(pb)
		sig, err := jwtv5.SigningMethodRS256.Sign(signing, key)
		if err != nil {
			t.Fatal(err)
		}
		return signing + "." + base64.RawURLEncoding.EncodeToString(sig)
	}
	return New(Config{Validator: v}), mint
}

func validClaims() map[string]any {
	now := time.Now()
	return map[string]any{
		"sub":   "admin-1",
		"email": "a@example.com",
		"iss":   "https://issuer.example/shop",
		"aud":   "shop",
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Add(-time.Minute).Unix(),
	}
}

func serve(g *Gate, r *http.Request, next http.HandlerFunc) *httptest.ResponseRecorder {
	if next == nil {
		next = func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }
	}
	rec := httptest.NewRecorder()
	g.Middleware(next).ServeHTTP(rec, r)
	return rec
}

func TestGate_APIWithoutCookie(t *testing.T) {
	g, _ := testGate(t)
	rec := serve(g, httptest.NewRequest("GET", "/api/admin/orders", nil), nil)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("rejection body must be JSON: %v", err)
	}
	if _, ok := body["error"]; !ok {
		t.Fatalf(`rejection body must carry "error": %s`, rec.Body.String())
	}
	// Security headers apply to rejections too.
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatal("missing X-Frame-Options on rejection")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing nosniff on rejection")
	}
}

func TestGate_UIWithoutCookieRedirects(t *testing.T) {
	g, _ := testGate(t)
	rec := serve(g, httptest.NewRequest("GET", "/admin/dashboard", nil), nil)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("want 303, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/admin/login" {
		t.Fatalf("want redirect to /admin/login, got %q", loc)
	}
}

func TestGate_InvalidCookieCleared(t *testing.T) {
	g, _ := testGate(t)
	req := httptest.NewRequest("GET", "/api/admin/orders", nil)
	req.AddCookie(&http.Cookie{Name: "__session", Value: "garbage"})
	rec := serve(g, req, nil)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", rec.Code)
	}
	cleared := false
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == "__session" && ck.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("invalid session cookie was not cleared")
	}
}

func TestGate_ExpiredTokenRejected(t *testing.T) {
	g, mint := testGate(t)
	claims := validClaims()
	claims["exp"] = time.Now().Add(-time.Minute).Unix()

	req := httptest.NewRequest("GET", "/api/admin/orders", nil)
	req.AddCookie(&http.Cookie{Name: "__session", Value: mint(claims)})
	if rec := serve(g, req, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", rec.Code)
	}
}

func TestGate_ValidTokenPassesWithClaims(t *testing.T) {
	g, mint := testGate(t)
	req := httptest.NewRequest("GET", "/api/admin/orders", nil)
	req.AddCookie(&http.Cookie{Name: "__session", Value: mint(validClaims())})

	var got *token.Claims
	rec := serve(g, req, func(w http.ResponseWriter, r *http.Request) {
		got = ClaimsFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	if got == nil || got.Sub != "admin-1" {
		t.Fatalf("claims not propagated: %+v", got)
	}
}

func TestGate_LoginPathNotProtected(t *testing.T) {
	g, _ := testGate(t)
	if rec := serve(g, httptest.NewRequest("GET", "/admin/login", nil), nil); rec.Code != http.StatusOK {
		t.Fatalf("login path must bypass the check, got %d", rec.Code)
	}
}

func TestGate_PublicPathUntouched(t *testing.T) {
	g, _ := testGate(t)
	if rec := serve(g, httptest.NewRequest("GET", "/api/shop/products", nil), nil); rec.Code != http.StatusOK {
		t.Fatalf("public path must pass, got %d", rec.Code)
	}
}

func TestGate_CSRFMint(t *testing.T) {
	g, _ := testGate(t)
	rec := serve(g, httptest.NewRequest("GET", "/", nil), nil)

	var minted *http.Cookie
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == "csrf_token" {
			minted = ck
		}
	}
	if minted == nil || minted.Value == "" {
		t.Fatal("csrf cookie not minted")
	}
	if minted.HttpOnly {
		t.Fatal("csrf cookie must be readable by the page")
	}
	if hdr := rec.Header().Get("X-CSRF-Token"); hdr != minted.Value {
		t.Fatalf("header echo mismatch: %q vs %q", hdr, minted.Value)
	}

	// Existing cookie is echoed, not replaced.
	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: minted.Value})
	rec2 := serve(g, req, nil)
	for _, ck := range rec2.Result().Cookies() {
		if ck.Name == "csrf_token" && ck.Value != minted.Value {
			t.Fatal("existing csrf cookie was replaced")
		}
	}
	if hdr := rec2.Header().Get("X-CSRF-Token"); hdr != minted.Value {
		t.Fatalf("existing token not echoed: %q", hdr)
	}
}

func TestGate_AssetPathSkipsMint(t *testing.T) {
	g, _ := testGate(t)
	rec := serve(g, httptest.NewRequest("GET", "/assets/app.js", nil), nil)
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == "csrf_token" {
			t.Fatal("asset request must not mint csrf cookie")
		}
	}
	if !strings.HasPrefix(rec.Header().Get("Referrer-Policy"), "no-referrer") {
		t.Fatal("security headers still apply to assets")
	}
}
