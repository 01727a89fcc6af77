package login

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dropDatabas3/storefront/internal/idp"
)

// calls is a shared ordered log of provider and session operations, so
// tests can assert call ordering across both fakes.
type calls struct {
	mu  sync.Mutex
	ops []string
}

func (c *calls) add(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, op)
}

func (c *calls) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ops...)
}

func (c *calls) count(op string) int {
	n := 0
	for _, o := range c.snapshot() {
		if o == op {
			n++
		}
	}
	return n
}

type fakeProvider struct {
	log    *calls
	events chan idp.TokenEvent

	signIn  func(email, password string) (*idp.SignInResult, error)
	enroll  func(pending, secret, code string) (*idp.TokenPair, error)
	resolve func(res *idp.Resolver, code string) (*idp.TokenPair, error)
	refresh func(rt string) (*idp.TokenPair, error)
}

func newFakeProvider(log *calls) *fakeProvider {
	return &fakeProvider{log: log, events: make(chan idp.TokenEvent, 8)}
}

func (p *fakeProvider) SignInPassword(_ context.Context, email, password string) (*idp.SignInResult, error) {
	p.log.add("provider.SignInPassword")
	return p.signIn(email, password)
}

func (p *fakeProvider) EnrollTOTP(_ context.Context, pending, secret, code string) (*idp.TokenPair, error) {
	p.log.add("provider.EnrollTOTP")
	return p.enroll(pending, secret, code)
}

func (p *fakeProvider) ResolveChallenge(_ context.Context, res *idp.Resolver, code string) (*idp.TokenPair, error) {
	p.log.add("provider.ResolveChallenge")
	return p.resolve(res, code)
}

func (p *fakeProvider) Refresh(_ context.Context, rt string) (*idp.TokenPair, error) {
	p.log.add("provider.Refresh")
	if p.refresh != nil {
		return p.refresh(rt)
	}
	return &idp.TokenPair{IDToken: "tok-fresh", RefreshToken: rt}, nil
}

func (p *fakeProvider) VerifySessionToken(context.Context, string, bool) (*idp.Verified, error) {
	return nil, errors.New("not used")
}

func (p *fakeProvider) SignOut(context.Context, string) error {
	p.log.add("provider.SignOut")
	return nil
}

func (p *fakeProvider) TokenEvents() <-chan idp.TokenEvent { return p.events }

type fakeSessions struct {
	log *calls

	mu        sync.Mutex
	persisted []string
}

func (s *fakeSessions) Persist(_ context.Context, idToken string) error {
	s.log.add("sessions.Persist")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persisted = append(s.persisted, idToken)
	return nil
}

func (s *fakeSessions) Delete(context.Context) error {
	s.log.add("sessions.Delete")
	return nil
}

func (s *fakeSessions) tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.persisted...)
}

func newMachine(t *testing.T, now func() time.Time) (*Machine, *fakeProvider, *fakeSessions, *calls) {
	t.Helper()
	log := &calls{}
	p := newFakeProvider(log)
	s := &fakeSessions{log: log}
	cfg := Config{Provider: p, Sessions: s, Now: now}
	m := New(cfg)
	m.Start(context.Background())
	t.Cleanup(m.Close)
	return m, p, s, log
}

// waitUntil polls cond for up to a second.
func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSubmitPassword_LockoutWithoutProviderCall(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	m, p, _, log := newMachine(t, clock)

	p.signIn = func(string, string) (*idp.SignInResult, error) {
		return nil, idp.Errf(idp.ReasonWrongPassword, nil)
	}

	for i := 0; i < 5; i++ {
		if _, err := m.SubmitPassword(context.Background(), "a@example.com", "nope"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: want ErrInvalidCredentials, got %v", i, err)
		}
	}
	if !m.LockedOut() {
		t.Fatal("expected lockout after 5 failures")
	}
	before := log.count("provider.SignInPassword")

	if _, err := m.SubmitPassword(context.Background(), "a@example.com", "nope"); !errors.Is(err, ErrLockedOut) {
		t.Fatalf("want ErrLockedOut, got %v", err)
	}
	if got := log.count("provider.SignInPassword"); got != before {
		t.Fatalf("locked-out submission must not reach the provider (%d -> %d)", before, got)
	}

	// Cooldown elapsed: submissions flow again.
	now = now.Add(3 * time.Minute)
	if _, err := m.SubmitPassword(context.Background(), "a@example.com", "nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("after cooldown: want ErrInvalidCredentials, got %v", err)
	}
}

func TestSubmitPassword_EnumerationResistance(t *testing.T) {
	m, p, _, _ := newMachine(t, nil)

	for _, reason := range []idp.Reason{
		idp.ReasonUnknownUser, idp.ReasonWrongPassword,
		idp.ReasonInvalidEmail, idp.ReasonInvalidCredential,
	} {
		p.signIn = func(string, string) (*idp.SignInResult, error) {
			return nil, idp.Errf(reason, nil)
		}
		_, err := m.SubmitPassword(context.Background(), "a@example.com", "x")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("reason %s must collapse to ErrInvalidCredentials, got %v", reason, err)
		}
	}
}

func TestEnrollment_ListenerSeesLatchBeforeSession(t *testing.T) {
	m, p, s, _ := newMachine(t, nil)

	p.signIn = func(string, string) (*idp.SignInResult, error) {
		return &idp.SignInResult{
			PendingToken: "pending-1",
			Sub:          "u1",
			Email:        "a@example.com",
		}, nil
	}

	step, err := m.SubmitPassword(context.Background(), "a@example.com", "pw")
	if err != nil {
		t.Fatal(err)
	}
	if step.State != StateEnrollmentRequired || step.Enrollment == nil {
		t.Fatalf("expected enrollment step, got %+v", step)
	}
	if !m.EnrollmentPending() {
		t.Fatal("latch must be set synchronously with the enrollment step")
	}

	// The provider's stream fires with a valid token while enrollment is
	// in flight. The listener must consult the latch and persist nothing.
	p.events <- idp.TokenEvent{Kind: idp.EventSignedIn, Sub: "u1", IDToken: "tok-early"}
	waitUntil(t, func() bool { return len(p.events) == 0 }, "listener never drained the event")
	time.Sleep(20 * time.Millisecond)
	if got := s.tokens(); len(got) != 0 {
		t.Fatalf("session persisted before factor proven: %v", got)
	}

	// Proving the factor mints a fresh credential, persists it, and only
	// then clears the latch.
	var enrolledSecret string
	p.enroll = func(_, secret, code string) (*idp.TokenPair, error) {
		enrolledSecret = secret
		if code != "123456" {
			return nil, idp.Errf(idp.ReasonCodeMismatch, nil)
		}
		return &idp.TokenPair{IDToken: "tok-enrolled", RefreshToken: "r1"}, nil
	}
	if err := m.VerifyEnrollment(context.Background(), "123456"); err != nil {
		t.Fatal(err)
	}
	if enrolledSecret != step.Enrollment.SecretB32 {
		t.Fatal("enrollment must submit the secret generated at flow start")
	}
	if got := s.tokens(); len(got) != 1 || got[0] != "tok-fresh" {
		t.Fatalf("want the refreshed credential persisted once, got %v", got)
	}
	if m.EnrollmentPending() {
		t.Fatal("latch must clear after the session exists")
	}
	if m.State() != StateAuthenticated {
		t.Fatalf("want authenticated, got %s", m.State())
	}
}

func TestEnrollment_EventEmittedInsidePasswordCall(t *testing.T) {
	m, p, s, _ := newMachine(t, nil)

	// The REST adapter emits the signed-in event from inside the
	// password call, before the machine has classified the outcome.
	// The listener must not persist on it.
	p.signIn = func(string, string) (*idp.SignInResult, error) {
		p.events <- idp.TokenEvent{Kind: idp.EventSignedIn, Sub: "u1", IDToken: "tok-early"}
		return &idp.SignInResult{PendingToken: "p1", Sub: "u1", Email: "a@example.com"}, nil
	}

	step, err := m.SubmitPassword(context.Background(), "a@example.com", "pw")
	if err != nil {
		t.Fatal(err)
	}
	if step.State != StateEnrollmentRequired {
		t.Fatalf("expected enrollment step, got %+v", step)
	}

	waitUntil(t, func() bool { return len(p.events) == 0 }, "listener never drained the event")
	time.Sleep(20 * time.Millisecond)
	if got := s.tokens(); len(got) != 0 {
		t.Fatalf("session persisted before factor proven: %v", got)
	}

	// The flow itself still completes normally afterwards.
	p.enroll = func(_, _, code string) (*idp.TokenPair, error) {
		return &idp.TokenPair{IDToken: "tok-enrolled", RefreshToken: "r1"}, nil
	}
	if err := m.VerifyEnrollment(context.Background(), "123456"); err != nil {
		t.Fatal(err)
	}
	if got := s.tokens(); len(got) != 1 {
		t.Fatalf("want exactly one persisted session after enrollment, got %v", got)
	}
}

func TestVerifyEnrollment_WrongCodeKeepsLatch(t *testing.T) {
	m, p, s, _ := newMachine(t, nil)
	p.signIn = func(string, string) (*idp.SignInResult, error) {
		return &idp.SignInResult{PendingToken: "p1", Sub: "u1", Email: "a@example.com"}, nil
	}
	p.enroll = func(_, _, _ string) (*idp.TokenPair, error) {
		return nil, idp.Errf(idp.ReasonCodeMismatch, nil)
	}

	if _, err := m.SubmitPassword(context.Background(), "a@example.com", "pw"); err != nil {
		t.Fatal(err)
	}
	if err := m.VerifyEnrollment(context.Background(), "000000"); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("want ErrCodeMismatch, got %v", err)
	}
	if !m.EnrollmentPending() {
		t.Fatal("failed verification must keep the latch set")
	}
	if len(s.tokens()) != 0 {
		t.Fatal("failed verification must not persist a session")
	}
}

func TestSkipEnrollment_CallOrder(t *testing.T) {
	m, p, _, log := newMachine(t, nil)
	p.signIn = func(string, string) (*idp.SignInResult, error) {
		return &idp.SignInResult{PendingToken: "p1", Sub: "u1", Email: "a@example.com"}, nil
	}
	if _, err := m.SubmitPassword(context.Background(), "a@example.com", "pw"); err != nil {
		t.Fatal(err)
	}
	if err := m.SkipEnrollment(context.Background()); err != nil {
		t.Fatal(err)
	}

	ops := log.snapshot()
	signOut, del := -1, -1
	for i, op := range ops {
		switch op {
		case "provider.SignOut":
			signOut = i
		case "sessions.Delete":
			del = i
		}
	}
	if signOut == -1 || del == -1 || signOut > del {
		t.Fatalf("skip must sign out before deleting the session: %v", ops)
	}
	if m.EnrollmentPending() {
		t.Fatal("latch must clear after skip")
	}
	if m.State() != StateAnonymous {
		t.Fatalf("want anonymous after skip, got %s", m.State())
	}
}

func TestChallenge_Flow(t *testing.T) {
	m, p, s, _ := newMachine(t, nil)
	res := &idp.Resolver{
		PendingCredential: "cred-1",
		Hints:             []idp.FactorHint{{Type: "totp", DisplayName: "Authenticator"}},
	}
	p.signIn = func(string, string) (*idp.SignInResult, error) {
		return &idp.SignInResult{Resolver: res, FactorEnrolled: true, Sub: "u1"}, nil
	}
	p.resolve = func(_ *idp.Resolver, code string) (*idp.TokenPair, error) {
		if code != "654321" {
			return nil, idp.Errf(idp.ReasonCodeMismatch, nil)
		}
		return &idp.TokenPair{IDToken: "tok-mfa", RefreshToken: "r2"}, nil
	}

	step, err := m.SubmitPassword(context.Background(), "a@example.com", "pw")
	if err != nil {
		t.Fatal(err)
	}
	if step.State != StateChallengeRequired || len(step.Hints) != 1 {
		t.Fatalf("expected challenge step with hints, got %+v", step)
	}

	if err := m.VerifyChallenge(context.Background(), "111111"); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("want ErrCodeMismatch, got %v", err)
	}
	if err := m.VerifyChallenge(context.Background(), "654321"); err != nil {
		t.Fatal(err)
	}
	if got := s.tokens(); len(got) != 1 || got[0] != "tok-mfa" {
		t.Fatalf("challenge success must persist the credential: %v", got)
	}
	if m.State() != StateAuthenticated {
		t.Fatalf("want authenticated, got %s", m.State())
	}
}

func TestCancelChallenge(t *testing.T) {
	m, p, s, _ := newMachine(t, nil)
	p.signIn = func(string, string) (*idp.SignInResult, error) {
		return &idp.SignInResult{
			Resolver:       &idp.Resolver{PendingCredential: "c"},
			FactorEnrolled: true,
		}, nil
	}
	if _, err := m.SubmitPassword(context.Background(), "a@example.com", "pw"); err != nil {
		t.Fatal(err)
	}
	m.CancelChallenge()
	if m.State() != StateAnonymous {
		t.Fatalf("want anonymous after cancel, got %s", m.State())
	}
	if len(s.tokens()) != 0 {
		t.Fatal("cancel must not persist anything")
	}
}

func TestLogout_CallOrder(t *testing.T) {
	m, p, _, log := newMachine(t, nil)
	p.signIn = func(string, string) (*idp.SignInResult, error) {
		return &idp.SignInResult{
			Tokens:         &idp.TokenPair{IDToken: "tok-1", RefreshToken: "r1"},
			FactorEnrolled: true,
			Sub:            "u1",
		}, nil
	}
	if _, err := m.SubmitPassword(context.Background(), "a@example.com", "pw"); err != nil {
		t.Fatal(err)
	}
	if err := m.Logout(context.Background()); err != nil {
		t.Fatal(err)
	}

	ops := log.snapshot()
	del, signOut := -1, -1
	for i, op := range ops {
		switch op {
		case "sessions.Delete":
			del = i
		case "provider.SignOut":
			signOut = i
		}
	}
	if del == -1 || signOut == -1 || del > signOut {
		t.Fatalf("logout must delete the session before provider sign-out: %v", ops)
	}
	if m.EnrollmentPending() {
		t.Fatal("latch must be clear after logout")
	}
}

func TestListener_PersistsWhenNoEnrollmentPending(t *testing.T) {
	m, p, s, _ := newMachine(t, nil)
	_ = m

	p.events <- idp.TokenEvent{Kind: idp.EventRefreshed, Sub: "u1", IDToken: "tok-refresh"}
	waitUntil(t, func() bool { return len(s.tokens()) == 1 }, "listener never persisted the refreshed token")
	if got := s.tokens(); got[0] != "tok-refresh" {
		t.Fatalf("unexpected persisted token: %v", got)
	}
}

func TestListener_IgnoresSignedOutEvents(t *testing.T) {
	m, p, s, _ := newMachine(t, nil)
	_ = m

	p.events <- idp.TokenEvent{Kind: idp.EventSignedOut, Sub: "u1", IDToken: "tok-x"}
	p.events <- idp.TokenEvent{Kind: idp.EventSignedIn, Sub: "u1", IDToken: ""}
	time.Sleep(30 * time.Millisecond)
	if got := s.tokens(); len(got) != 0 {
		t.Fatalf("sign-out and empty-token events must be ignored: %v", got)
	}
}
