// Package token validates signed session credentials at the edge.
// Every check is fail-closed: any failure, structural or cryptographic,
// yields a rejection indistinguishable from the caller's point of view.
// The distinct sentinel errors exist for internal logging only.
package token

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// Skew is the tolerated clock drift for iat/auth_time checks.
const Skew = 5 * time.Minute

// Alg is the only accepted signing algorithm. Any other value in the
// token header is an immediate rejection (algorithm-confusion defense).
const Alg = "RS256"

var (
	ErrMalformed       = errors.New("token: malformed")
	ErrExpired         = errors.New("token: expired")
	ErrIssuedInFuture  = errors.New("token: issued in the future")
	ErrSubjectMissing  = errors.New("token: empty subject")
	ErrIssuerMismatch  = errors.New("token: issuer mismatch")
	ErrAudience        = errors.New("token: audience mismatch")
	ErrEmailUnverified = errors.New("token: email not verified")
	ErrAlgorithm       = errors.New("token: unexpected algorithm")
	ErrSignature       = errors.New("token: signature verification failed")
)

// KeyResolver looks up the verification key for a kid.
// *jwks.Cache satisfies it.
type KeyResolver interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// Claims are the verified fields of a session credential.
type Claims struct {
	Sub           string
	Email         string
	EmailVerified bool
	Iss           string
	Aud           string
	Exp           time.Time
	Iat           time.Time
	AuthTime      time.Time // zero when absent
}

// Validator checks session credentials against a fixed issuer/audience
// pair and a key resolver. Stateless: repeated validation of the same
// token yields the same decision.
type Validator struct {
	Issuer   string
	Audience string
	Keys     KeyResolver

	// Now overrides the clock in tests.
	Now func() time.Time
}

type header struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	Typ string `json:"typ"`
}

type payload struct {
	Sub           any    `json:"sub"`
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
	Iss           string `json:"iss"`
	Aud           any    `json:"aud"`
	Exp           any    `json:"exp"`
	Iat           any    `json:"iat"`
	AuthTime      any    `json:"auth_time"`
}

// Validate runs the full check sequence from structural decode through
// signature verification. Order matters: the cheap structural and claim
// checks run before any key lookup or RSA work.
func (v *Validator) Validate(ctx context.Context, raw string) (*Claims, error) {
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}

	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, ErrMalformed
	}

	hb, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrMalformed
	}
	pb, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrMalformed
	}

	var hdr header
	if err := json.Unmarshal(hb, &hdr); err != nil {
		return nil, ErrMalformed
	}
	var pl payload
	if err := json.Unmarshal(pb, &pl); err != nil {
		return nil, ErrMalformed
	}

	// exp: must be a number, in the future.
	exp, ok := asUnix(pl.Exp)
	if !ok {
		return nil, ErrMalformed
	}
	if !exp.After(now()) {
		return nil, ErrExpired
	}

	// iat: must be a number, not beyond skew in the future.
	iat, ok := asUnix(pl.Iat)
	if !ok {
		return nil, ErrMalformed
	}
	if iat.After(now().Add(Skew)) {
		return nil, ErrIssuedInFuture
	}

	// sub: non-empty string.
	sub, ok := pl.Sub.(string)
	if !ok || sub == "" {
		return nil, ErrSubjectMissing
	}

	// auth_time, when present, obeys the same skew rule.
	var authTime time.Time
	if pl.AuthTime != nil {
		at, ok := asUnix(pl.AuthTime)
		if !ok {
			return nil, ErrMalformed
		}
		if at.After(now().Add(Skew)) {
			return nil, ErrIssuedInFuture
		}
		authTime = at
	}

	if pl.Iss != v.Issuer {
		return nil, ErrIssuerMismatch
	}

	aud, ok := pl.Aud.(string)
	if !ok || aud != v.Audience {
		return nil, ErrAudience
	}

	// Admin surfaces reject identities with an explicitly unverified email.
	if pl.EmailVerified != nil && !*pl.EmailVerified {
		return nil, ErrEmailUnverified
	}

	// Signature last: exactly one algorithm, key selected by kid.
	if hdr.Alg != Alg {
		return nil, ErrAlgorithm
	}
	key, err := v.Keys.Key(ctx, hdr.Kid)
	if err != nil {
		return nil, ErrSignature
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrMalformed
	}
	if err := jwtv5.SigningMethodRS256.Verify(parts[0]+"."+parts[1], sig, key); err != nil {
		return nil, ErrSignature
	}

	return &Claims{
		Sub:           sub,
		Email:         pl.Email,
		EmailVerified: pl.EmailVerified == nil || *pl.EmailVerified,
		Iss:           pl.Iss,
		Aud:           aud,
		Exp:           exp,
		Iat:           iat,
		AuthTime:      authTime,
	}, nil
}

// asUnix accepts the JSON number representations a provider may emit.
func asUnix(v any) (time.Time, bool) {
	switch n := v.(type) {
	case float64:
		return time.Unix(int64(n), 0), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(i, 0), true
	default:
		return time.Time{}, false
	}
}
