// Package login implements the multi-step admin sign-in sequence:
// password verification, then second-factor enrollment or challenge,
// then session issuance. The ordering guarantee it exists for: a session
// credential is never persisted before second-factor possession is
// proven. The enrollment-pending latch is an atomic.Bool written by
// direct assignment, so the provider's asynchronous token-change
// listener observes it immediately, with no deferred state update in
// between.
package login

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dropDatabas3/storefront/internal/idp"
	"github.com/dropDatabas3/storefront/internal/observability/logger"
	"github.com/dropDatabas3/storefront/internal/security/totp"
)

// State of the machine. LockedOut is a temporary sub-state of Anonymous.
type State string

const (
	StateAnonymous          State = "anonymous"
	StateEnrollmentRequired State = "enrollment_required"
	StateChallengeRequired  State = "challenge_required"
	StateAuthenticated      State = "authenticated"
)

// User-facing errors. Deliberately generic: unknown-user, wrong-password,
// invalid-email and invalid-credential all collapse into one message so
// the login surface cannot be used for account enumeration.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrLockedOut          = errors.New("too many attempts, try again later")
	ErrCodeMismatch       = errors.New("code did not match, try again")
	ErrFlowExpired        = errors.New("sign-in session expired, start over")
	ErrBadState           = errors.New("operation not valid in current state")
)

const (
	maxAttempts     = 5
	lockoutCooldown = 2 * time.Minute
	refreshEvery    = 55 * time.Minute
)

// SessionStore is the same-origin session endpoint: it turns a fresh
// provider token into the persisted __session cookie, and deletes it.
type SessionStore interface {
	Persist(ctx context.Context, idToken string) error
	Delete(ctx context.Context) error
}

// EnrollmentTicket is what the UI shows during enrollment: the manually
// copyable secret and the otpauth URI. Rendered locally, never sent to a
// third-party QR service.
type EnrollmentTicket struct {
	SecretB32  string
	OTPAuthURL string
}

// Step is the outcome of a password submission.
type Step struct {
	State      State
	Enrollment *EnrollmentTicket // set when State == StateEnrollmentRequired
	Hints      []idp.FactorHint  // set when State == StateChallengeRequired
}

type Config struct {
	Provider idp.Client
	Sessions SessionStore

	// TOTPIssuer is the issuer label in enrollment URIs.
	TOTPIssuer string

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Machine drives one admin's login flow. Created when the login surface
// mounts, closed on unmount or logout.
type Machine struct {
	cfg Config

	// enrollmentPending is the latch. It must be readable synchronously
	// by the token-event listener, so it is a plain atomic flag, not a
	// value that becomes visible after some update cycle.
	enrollmentPending atomic.Bool

	// stepInFlight is raised before the provider's password call and
	// lowered only after the outcome has been classified. The provider
	// emits token events mid-call, so the listener must treat an
	// in-flight step like the latch: hands off the session.
	stepInFlight atomic.Bool

	mu          sync.Mutex
	state       State
	attempts    int
	lockedUntil time.Time

	pendingToken string
	pendingSub   string
	pendingEmail string

	enrollSecretRaw []byte
	enrollSecretB32 string

	resolver *idp.Resolver
	tokens   *idp.TokenPair

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(cfg Config) *Machine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TOTPIssuer == "" {
		cfg.TOTPIssuer = "Storefront Admin"
	}
	return &Machine{
		cfg:   cfg,
		state: StateAnonymous,
		stop:  make(chan struct{}),
	}
}

// Start launches the token-event listener and the liveness refresher.
func (m *Machine) Start(ctx context.Context) {
	m.wg.Add(2)
	go m.listen(ctx)
	go m.refreshLoop(ctx)
}

// Close stops background work. It does not log the user out.
func (m *Machine) Close() {
	close(m.stop)
	m.wg.Wait()
}

// listen reacts to the provider's asynchronous token-change stream.
// It consults stepInFlight and the enrollment latch BEFORE persisting
// anything: the provider emits events from inside the password call, so
// an event can be dequeued before the machine has classified the
// outcome, and without both checks the listener would persist a session
// for a user who has not proven possession of a second factor.
func (m *Machine) listen(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-m.stop:
			return
		case ev, ok := <-m.cfg.Provider.TokenEvents():
			if !ok {
				return
			}
			if ev.IDToken == "" || ev.Kind == idp.EventSignedOut {
				continue
			}
			if m.stepInFlight.Load() || m.enrollmentPending.Load() {
				// Password step or enrollment in flight; the flow
				// itself persists the session once the outcome is
				// settled.
				continue
			}
			if err := m.cfg.Sessions.Persist(ctx, ev.IDToken); err != nil {
				logger.From(ctx).Warn("session persist from token event failed", logger.Err(err))
			}
		}
	}
}

// refreshLoop keeps the persisted session alive during long admin
// sessions by forcing a provider refresh on a fixed interval.
func (m *Machine) refreshLoop(ctx context.Context) {
	defer m.wg.Done()
	t := time.NewTicker(refreshEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.mu.Lock()
			authed := m.state == StateAuthenticated && m.tokens != nil
			var rt string
			if authed {
				rt = m.tokens.RefreshToken
			}
			m.mu.Unlock()
			if !authed || m.enrollmentPending.Load() {
				continue
			}
			tp, err := m.cfg.Provider.Refresh(ctx, rt)
			if err != nil {
				logger.From(ctx).Warn("liveness refresh failed", logger.Err(err))
				continue
			}
			m.mu.Lock()
			m.tokens = tp
			m.mu.Unlock()
			if err := m.cfg.Sessions.Persist(ctx, tp.IDToken); err != nil {
				logger.From(ctx).Warn("session persist after refresh failed", logger.Err(err))
			}
		}
	}
}

// State reports the current state (LockedOut shows as Anonymous; use
// LockedOut() to distinguish).
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LockedOut reports whether local submissions are currently refused.
func (m *Machine) LockedOut() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts >= maxAttempts && m.cfg.Now().Before(m.lockedUntil)
}

// EnrollmentPending exposes the latch for tests and diagnostics.
func (m *Machine) EnrollmentPending() bool {
	return m.enrollmentPending.Load()
}

// SubmitPassword runs the password step. The lockout check is a local
// courtesy only (the authoritative throttle is server-side): after 5
// consecutive failures it refuses further submissions for the cooldown
// without making any provider call.
func (m *Machine) SubmitPassword(ctx context.Context, email, password string) (*Step, error) {
	m.mu.Lock()
	if m.state != StateAnonymous {
		m.mu.Unlock()
		return nil, ErrBadState
	}
	if m.attempts >= maxAttempts && m.cfg.Now().Before(m.lockedUntil) {
		m.mu.Unlock()
		return nil, ErrLockedOut
	}
	m.mu.Unlock()

	// Raised before the provider call: any event the provider emits for
	// this sign-in lands while the flag is up, and only the machine's
	// own classification below may persist a session.
	m.stepInFlight.Store(true)
	defer m.stepInFlight.Store(false)

	res, err := m.cfg.Provider.SignInPassword(ctx, email, password)
	if err != nil {
		return nil, m.recordFailure(ctx, err)
	}

	m.mu.Lock()
	m.attempts = 0
	m.pendingSub = res.Sub
	m.pendingEmail = res.Email
	m.mu.Unlock()

	switch {
	case !res.FactorEnrolled:
		// Latch FIRST. Any token event that already carries this
		// identity must see enrollment-pending before it can act.
		m.enrollmentPending.Store(true)

		ticket, err := m.beginEnrollment(res)
		if err != nil {
			m.enrollmentPending.Store(false)
			return nil, err
		}
		return &Step{State: StateEnrollmentRequired, Enrollment: ticket}, nil

	case res.Resolver != nil:
		m.mu.Lock()
		m.state = StateChallengeRequired
		m.resolver = res.Resolver
		m.mu.Unlock()
		return &Step{State: StateChallengeRequired, Hints: res.Resolver.Hints}, nil

	default:
		// Factor enrolled and already satisfied during the password step.
		if err := m.completeSignIn(ctx, res.Tokens); err != nil {
			return nil, err
		}
		return &Step{State: StateAuthenticated}, nil
	}
}

// beginEnrollment generates the one secret for this flow. The same
// secret object is used again at verification time; regenerating there
// would have the user proving possession of a code for a secret they
// were never shown.
func (m *Machine) beginEnrollment(res *idp.SignInResult) (*EnrollmentTicket, error) {
	raw, b32, err := totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.state = StateEnrollmentRequired
	m.pendingToken = res.PendingToken
	m.enrollSecretRaw = raw
	m.enrollSecretB32 = b32
	m.mu.Unlock()
	return &EnrollmentTicket{
		SecretB32:  b32,
		OTPAuthURL: totp.OTPAuthURL(m.cfg.TOTPIssuer, res.Email, b32),
	}, nil
}

// VerifyEnrollment submits the 6-digit code against the secret from
// beginEnrollment. On success: force a fresh credential (so the new
// factor's claim is present), persist it as the session, then and only
// then clear the latch.
func (m *Machine) VerifyEnrollment(ctx context.Context, code string) error {
	m.mu.Lock()
	if m.state != StateEnrollmentRequired || m.enrollSecretB32 == "" {
		m.mu.Unlock()
		return ErrBadState
	}
	pending := m.pendingToken
	secret := m.enrollSecretB32
	m.mu.Unlock()

	tp, err := m.cfg.Provider.EnrollTOTP(ctx, pending, secret, code)
	if err != nil {
		return mapFlowError(ctx, err)
	}

	// Fresh credential with the factor claim included.
	if tp.RefreshToken != "" {
		if fresh, err := m.cfg.Provider.Refresh(ctx, tp.RefreshToken); err == nil {
			tp = fresh
		}
	}

	if err := m.cfg.Sessions.Persist(ctx, tp.IDToken); err != nil {
		return err
	}

	m.mu.Lock()
	m.state = StateAuthenticated
	m.tokens = tp
	m.enrollSecretRaw = nil
	m.enrollSecretB32 = ""
	m.pendingToken = ""
	m.mu.Unlock()

	// Latch cleared only after the session exists.
	m.enrollmentPending.Store(false)
	return nil
}

// SkipEnrollment abandons enrollment. Order matters: sign out of the
// provider first, then clear any previously-set session cookie, then
// clear local pending state, so no window exists where a signed-in but
// unenrolled identity could pass for a valid session.
func (m *Machine) SkipEnrollment(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateEnrollmentRequired {
		m.mu.Unlock()
		return ErrBadState
	}
	sub := m.pendingSub
	m.mu.Unlock()

	if err := m.cfg.Provider.SignOut(ctx, sub); err != nil {
		logger.From(ctx).Warn("provider sign-out during skip failed", logger.Err(err))
	}
	if err := m.cfg.Sessions.Delete(ctx); err != nil {
		logger.From(ctx).Warn("session delete during skip failed", logger.Err(err))
	}

	m.mu.Lock()
	m.state = StateAnonymous
	m.pendingToken = ""
	m.pendingSub = ""
	m.pendingEmail = ""
	m.enrollSecretRaw = nil
	m.enrollSecretB32 = ""
	m.mu.Unlock()
	m.enrollmentPending.Store(false)
	return nil
}

// VerifyChallenge answers an existing second-factor challenge.
func (m *Machine) VerifyChallenge(ctx context.Context, code string) error {
	m.mu.Lock()
	if m.state != StateChallengeRequired || m.resolver == nil {
		m.mu.Unlock()
		return ErrBadState
	}
	res := m.resolver
	m.mu.Unlock()

	tp, err := m.cfg.Provider.ResolveChallenge(ctx, res, code)
	if err != nil {
		return mapFlowError(ctx, err)
	}
	if err := m.completeSignIn(ctx, tp); err != nil {
		return err
	}
	m.mu.Lock()
	m.resolver = nil
	m.mu.Unlock()
	return nil
}

// CancelChallenge discards the resolver handle; no session is persisted.
func (m *Machine) CancelChallenge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateChallengeRequired {
		return
	}
	m.resolver = nil
	m.state = StateAnonymous
}

// Logout clears the latch, deletes the session, then signs out of the
// provider, in that order.
func (m *Machine) Logout(ctx context.Context) error {
	m.enrollmentPending.Store(false)

	m.mu.Lock()
	sub := m.pendingSub
	m.state = StateAnonymous
	m.tokens = nil
	m.resolver = nil
	m.pendingToken = ""
	m.enrollSecretRaw = nil
	m.enrollSecretB32 = ""
	m.mu.Unlock()

	if err := m.cfg.Sessions.Delete(ctx); err != nil {
		return err
	}
	return m.cfg.Provider.SignOut(ctx, sub)
}

func (m *Machine) completeSignIn(ctx context.Context, tp *idp.TokenPair) error {
	if tp == nil || tp.IDToken == "" {
		return ErrFlowExpired
	}
	if err := m.cfg.Sessions.Persist(ctx, tp.IDToken); err != nil {
		return err
	}
	m.mu.Lock()
	m.state = StateAuthenticated
	m.tokens = tp
	m.mu.Unlock()
	return nil
}

// recordFailure bumps the attempt counter and maps the provider error
// into the generic vocabulary. The specific cause goes to the log only.
func (m *Machine) recordFailure(ctx context.Context, err error) error {
	m.mu.Lock()
	m.attempts++
	if m.attempts >= maxAttempts {
		m.lockedUntil = m.cfg.Now().Add(lockoutCooldown)
	}
	m.mu.Unlock()

	reason := idp.ReasonOf(err)
	logger.From(ctx).Info("password step failed",
		logger.Layer("login"), logger.Err(err))
	switch reason {
	case idp.ReasonTooManyRequests:
		return ErrLockedOut
	default:
		return ErrInvalidCredentials
	}
}

// mapFlowError translates second-factor step failures into the small
// retry-or-restart vocabulary.
func mapFlowError(ctx context.Context, err error) error {
	logger.From(ctx).Info("second-factor step failed",
		logger.Layer("login"), logger.Err(err))
	switch idp.ReasonOf(err) {
	case idp.ReasonCodeMismatch:
		return ErrCodeMismatch
	case idp.ReasonSessionExpired:
		return ErrFlowExpired
	default:
		return ErrCodeMismatch
	}
}
