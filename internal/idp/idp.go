// Package idp adapts the hosted identity provider behind a narrow
// interface. It is the only place that inspects provider-specific error
// shapes; everything else in the codebase sees the closed Reason enum.
package idp

import (
	"context"
	"fmt"
	"time"
)

// Reason is the closed set of recognized provider failure reasons.
type Reason string

const (
	ReasonUnknownUser       Reason = "unknown_user"
	ReasonWrongPassword     Reason = "wrong_password"
	ReasonInvalidEmail      Reason = "invalid_email"
	ReasonInvalidCredential Reason = "invalid_credential"
	ReasonTooManyRequests   Reason = "too_many_requests"
	ReasonCodeMismatch      Reason = "code_mismatch"
	ReasonSessionExpired    Reason = "session_expired"
	ReasonTokenRevoked      Reason = "token_revoked"
	ReasonUserDisabled      Reason = "user_disabled"
	ReasonUnavailable       Reason = "unavailable"
	ReasonUnknown           Reason = "unknown"
)

// Error carries a Reason plus the underlying cause for logs.
type Error struct {
	Reason Reason
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("idp: %s: %v", e.Reason, e.cause)
	}
	return fmt.Sprintf("idp: %s", e.Reason)
}

func (e *Error) Unwrap() error { return e.cause }

// Errf builds an Error.
func Errf(r Reason, cause error) *Error {
	return &Error{Reason: r, cause: cause}
}

// ReasonOf extracts the Reason from any error, defaulting to unknown.
func ReasonOf(err error) Reason {
	if e, ok := err.(*Error); ok {
		return e.Reason
	}
	return ReasonUnknown
}

// TokenPair is a freshly minted credential set.
type TokenPair struct {
	IDToken      string
	RefreshToken string
	ExpiresIn    time.Duration
}

// FactorHint describes an enrolled second factor the provider may
// challenge.
type FactorHint struct {
	Type         string // "totp"
	EnrollmentID string
	DisplayName  string
}

// Resolver is the opaque handle for a pending second-factor challenge.
type Resolver struct {
	PendingCredential string
	Hints             []FactorHint
}

// SignInResult is the outcome of a password step. Exactly one of the
// three shapes holds:
//   - Tokens != nil: fully authenticated (factor already satisfied or none required upstream)
//   - Resolver != nil: an enrolled factor must be challenged
//   - PendingToken != "": no factor enrolled; enrollment may proceed
type SignInResult struct {
	Tokens         *TokenPair
	Resolver       *Resolver
	PendingToken   string
	FactorEnrolled bool
	Sub            string
	Email          string
}

// Verified is the provider's server-side view of a valid token.
type Verified struct {
	Sub           string
	Email         string
	EmailVerified bool
	AuthTime      time.Time
}

// EventKind tags entries on the asynchronous token-change stream.
type EventKind string

const (
	EventSignedIn  EventKind = "signed_in"
	EventRefreshed EventKind = "refreshed"
	EventSignedOut EventKind = "signed_out"
)

// TokenEvent is emitted whenever the provider's internal auth state
// changes, independently of application code. Listeners must not assume
// any ordering relative to in-flight application calls; that race is
// exactly what the login machine's enrollment latch exists for.
type TokenEvent struct {
	Kind    EventKind
	Sub     string
	IDToken string
}

// Client is the provider surface the login machine and the server-side
// authorizer consume.
type Client interface {
	// SignInPassword performs the password step.
	SignInPassword(ctx context.Context, email, password string) (*SignInResult, error)

	// EnrollTOTP finalizes enrollment of the given shared secret for the
	// pending user. The secret must be the one generated at the start of
	// the flow; the provider binds it on success.
	EnrollTOTP(ctx context.Context, pendingToken, secretB32, code string) (*TokenPair, error)

	// ResolveChallenge answers a pending second-factor challenge.
	ResolveChallenge(ctx context.Context, res *Resolver, code string) (*TokenPair, error)

	// Refresh forces a provider-side token refresh.
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)

	// VerifySessionToken re-verifies a credential server-side.
	// checkRevoked additionally consults the provider for administrative
	// revocation (tokens minted before the user's validSince are dead
	// even if unexpired).
	VerifySessionToken(ctx context.Context, idToken string, checkRevoked bool) (*Verified, error)

	// SignOut revokes the subject's refresh tokens at the provider.
	SignOut(ctx context.Context, sub string) error

	// TokenEvents exposes the asynchronous state-change stream.
	TokenEvents() <-chan TokenEvent
}
