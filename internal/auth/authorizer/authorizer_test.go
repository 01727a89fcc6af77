package authorizer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dropDatabas3/storefront/internal/domain"
	"github.com/dropDatabas3/storefront/internal/domain/repository"
	httperrors "github.com/dropDatabas3/storefront/internal/http/errors"
	"github.com/dropDatabas3/storefront/internal/idp"
)

// verifierStub only implements the one provider call the authorizer
// uses; the rest of the surface is unreachable from these tests.
type verifierStub struct {
	verify func(token string, checkRevoked bool) (*idp.Verified, error)
}

func (s *verifierStub) VerifySessionToken(_ context.Context, token string, checkRevoked bool) (*idp.Verified, error) {
	return s.verify(token, checkRevoked)
}

func (s *verifierStub) SignInPassword(context.Context, string, string) (*idp.SignInResult, error) {
	panic("not used")
}
func (s *verifierStub) EnrollTOTP(context.Context, string, string, string) (*idp.TokenPair, error) {
	panic("not used")
}
func (s *verifierStub) ResolveChallenge(context.Context, *idp.Resolver, string) (*idp.TokenPair, error) {
	panic("not used")
}
func (s *verifierStub) Refresh(context.Context, string) (*idp.TokenPair, error) { panic("not used") }
func (s *verifierStub) SignOut(context.Context, string) error                   { panic("not used") }
func (s *verifierStub) TokenEvents() <-chan idp.TokenEvent                      { return nil }

type adminsStub struct {
	records map[string]*domain.Admin
	err     error
}

func (a *adminsStub) Get(_ context.Context, sub string) (*domain.Admin, error) {
	if a.err != nil {
		return nil, a.err
	}
	rec, ok := a.records[sub]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (a *adminsStub) Upsert(context.Context, *domain.Admin) error  { panic("not used") }
func (a *adminsStub) List(context.Context) ([]domain.Admin, error) { panic("not used") }
func (a *adminsStub) Delete(context.Context, string) error         { panic("not used") }

func okVerifier(sub string) *verifierStub {
	return &verifierStub{verify: func(token string, checkRevoked bool) (*idp.Verified, error) {
		if !checkRevoked {
			return nil, errors.New("revocation check must be requested")
		}
		if token != "good-token" {
			return nil, idp.Errf(idp.ReasonTokenRevoked, nil)
		}
		return &idp.Verified{Sub: sub, Email: "admin@example.com", EmailVerified: true}, nil
	}}
}

func testAuthorizer(admins *adminsStub, provider idp.Client) *Authorizer {
	return &Authorizer{Provider: provider, Admins: admins}
}

// request builds a POST with the given session and CSRF material.
// Empty strings omit the corresponding cookie or header.
func request(session, csrfCookie, csrfHeader string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/admin/orders", nil)
	if session != "" {
		r.AddCookie(&http.Cookie{Name: "__session", Value: session})
	}
	if csrfCookie != "" {
		r.AddCookie(&http.Cookie{Name: "csrf_token", Value: csrfCookie})
	}
	if csrfHeader != "" {
		r.Header.Set("X-CSRF-Token", csrfHeader)
	}
	return r
}

func appErr(t *testing.T, err error) *httperrors.AppError {
	t.Helper()
	var ae *httperrors.AppError
	if !errors.As(err, &ae) {
		t.Fatalf("want *AppError, got %T: %v", err, err)
	}
	return ae
}

func TestRequire_CSRFClassification(t *testing.T) {
	a := testAuthorizer(&adminsStub{}, okVerifier("a1"))

	cases := []struct {
		name       string
		cookie     string
		header     string
		wantDetail string
	}{
		{"both missing", "", "", "missing token"},
		{"header missing", "tok", "", "missing header"},
		{"cookie missing", "", "tok", "missing cookie"},
		{"mismatch", "tok-a", "tok-b", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := a.Require(request("good-token", tc.cookie, tc.header), Options{})
			ae := appErr(t, err)
			if ae.Code != "INVALID_CSRF_TOKEN" || ae.HTTPStatus != http.StatusForbidden {
				t.Fatalf("want 403 INVALID_CSRF_TOKEN, got %d %s", ae.HTTPStatus, ae.Code)
			}
			if ae.Detail != tc.wantDetail {
				t.Fatalf("want detail %q, got %q", tc.wantDetail, ae.Detail)
			}
		})
	}
}

func TestRequire_SkipCSRF(t *testing.T) {
	admins := &adminsStub{records: map[string]*domain.Admin{
		"a1": {Sub: "a1", Email: "admin@example.com", Role: domain.RoleReadOnly},
	}}
	a := testAuthorizer(admins, okVerifier("a1"))

	id, err := a.Require(request("good-token", "", ""), Options{SkipCSRF: true})
	if err != nil {
		t.Fatal(err)
	}
	if id.Sub != "a1" || id.Role != domain.RoleReadOnly {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestRequire_MissingSessionIs401(t *testing.T) {
	a := testAuthorizer(&adminsStub{}, okVerifier("a1"))

	_, err := a.Require(request("", "tok", "tok"), Options{})
	ae := appErr(t, err)
	if ae.HTTPStatus != http.StatusUnauthorized || ae.Code != "SESSION_INVALID" {
		t.Fatalf("want 401 SESSION_INVALID, got %d %s", ae.HTTPStatus, ae.Code)
	}
}

func TestRequire_RevokedSessionIs401(t *testing.T) {
	a := testAuthorizer(&adminsStub{}, okVerifier("a1"))

	_, err := a.Require(request("revoked-token", "tok", "tok"), Options{})
	ae := appErr(t, err)
	if ae.HTTPStatus != http.StatusUnauthorized {
		t.Fatalf("revoked session must be 401, got %d", ae.HTTPStatus)
	}
}

func TestRequire_UnknownSubjectIs403(t *testing.T) {
	// Valid session, but no admin record: authenticated, not allowed.
	a := testAuthorizer(&adminsStub{}, okVerifier("stranger"))

	_, err := a.Require(request("good-token", "tok", "tok"), Options{})
	ae := appErr(t, err)
	if ae.HTTPStatus != http.StatusForbidden || ae.Code != "FORBIDDEN" {
		t.Fatalf("want 403 FORBIDDEN, got %d %s", ae.HTTPStatus, ae.Code)
	}
}

func TestRequire_LookupFailureIs503(t *testing.T) {
	a := testAuthorizer(&adminsStub{err: errors.New("pool exhausted")}, okVerifier("a1"))

	_, err := a.Require(request("good-token", "tok", "tok"), Options{})
	ae := appErr(t, err)
	if ae.HTTPStatus != http.StatusServiceUnavailable {
		t.Fatalf("infrastructure failure must be 503, not a denial: got %d", ae.HTTPStatus)
	}
}

func TestRequire_LegacyEmptyRoleIsSuperAdmin(t *testing.T) {
	admins := &adminsStub{records: map[string]*domain.Admin{
		"a1": {Sub: "a1", Email: "old@example.com", Role: ""},
	}}
	a := testAuthorizer(admins, okVerifier("a1"))

	id, err := a.Require(request("good-token", "tok", "tok"), Options{Roles: []domain.Role{domain.RoleManager}})
	if err != nil {
		t.Fatal(err)
	}
	if id.Role != domain.RoleSuperAdmin {
		t.Fatalf("legacy empty role must resolve to super_admin, got %s", id.Role)
	}
}

func TestRequire_RoleGating(t *testing.T) {
	cases := []struct {
		role    domain.Role
		require []domain.Role
		allowed bool
	}{
		{domain.RoleManager, []domain.Role{domain.RoleManager}, true},
		{domain.RoleInventoryOnly, []domain.Role{domain.RoleManager, domain.RoleInventoryOnly}, true},
		{domain.RoleReadOnly, []domain.Role{domain.RoleManager}, false},
		{domain.RoleInventoryOnly, []domain.Role{domain.RoleManager}, false},
		// super_admin passes any requirement.
		{domain.RoleSuperAdmin, []domain.Role{domain.RoleInventoryOnly}, true},
		// Empty requirement set admits any admin.
		{domain.RoleReadOnly, nil, true},
	}
	for _, tc := range cases {
		admins := &adminsStub{records: map[string]*domain.Admin{
			"a1": {Sub: "a1", Email: "admin@example.com", Role: tc.role},
		}}
		a := testAuthorizer(admins, okVerifier("a1"))

		_, err := a.Require(request("good-token", "tok", "tok"), Options{Roles: tc.require})
		if tc.allowed && err != nil {
			t.Fatalf("role %s vs %v: want allowed, got %v", tc.role, tc.require, err)
		}
		if !tc.allowed {
			ae := appErr(t, err)
			if ae.HTTPStatus != http.StatusForbidden {
				t.Fatalf("role %s vs %v: want 403, got %d", tc.role, tc.require, ae.HTTPStatus)
			}
		}
	}
}
