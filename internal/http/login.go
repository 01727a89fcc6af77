package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/dropDatabas3/storefront/internal/auth/login"
	httperrors "github.com/dropDatabas3/storefront/internal/http/errors"
	"github.com/dropDatabas3/storefront/internal/idp"
)

// flowSession implements login.SessionStore for a browser-driven flow.
// The machine (including its background listener) writes here; the
// session cookie is only minted on the next HTTP response, once the
// flow reaches authenticated.
type flowSession struct {
	mu    sync.Mutex
	token string
}

func (s *flowSession) Persist(_ context.Context, idToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = idToken
	return nil
}

func (s *flowSession) Delete(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}

func (s *flowSession) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

type loginFlow struct {
	m    *login.Machine
	sess *flowSession
}

// LoginController drives the multi-step sign-in over HTTP. Each browser
// flow gets its own machine, keyed by an HttpOnly flow cookie and kept
// in an expiring cache; eviction closes the machine's background work.
type LoginController struct {
	NewMachine    func(sessions login.SessionStore) *login.Machine
	SessionCookie string
	FlowCookie    string        // default "login_flow"
	FlowTTL       time.Duration // default 10m

	once  sync.Once
	flows *gocache.Cache
}

func (c *LoginController) init() {
	c.once.Do(func() {
		if c.FlowCookie == "" {
			c.FlowCookie = "login_flow"
		}
		if c.FlowTTL <= 0 {
			c.FlowTTL = 10 * time.Minute
		}
		c.flows = gocache.New(c.FlowTTL, time.Minute)
		c.flows.OnEvicted(func(_ string, v any) {
			if f, ok := v.(*loginFlow); ok {
				f.m.Close()
			}
		})
	})
}

func (c *LoginController) flow(r *http.Request) (string, *loginFlow) {
	c.init()
	ck, err := r.Cookie(c.FlowCookie)
	if err != nil || ck.Value == "" {
		return "", nil
	}
	if v, ok := c.flows.Get(ck.Value); ok {
		return ck.Value, v.(*loginFlow)
	}
	return "", nil
}

func (c *LoginController) newFlow(w http.ResponseWriter, r *http.Request) (string, *loginFlow) {
	c.init()
	id := uuid.NewString()
	sess := &flowSession{}
	f := &loginFlow{m: c.NewMachine(sess), sess: sess}
	f.m.Start(context.Background())
	c.flows.Set(id, f, c.FlowTTL)

	http.SetCookie(w, &http.Cookie{
		Name:     c.FlowCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(c.FlowTTL.Seconds()),
	})
	return id, f
}

func (c *LoginController) dropFlow(w http.ResponseWriter, r *http.Request, id string) {
	if id != "" {
		c.flows.Delete(id) // eviction hook closes the machine
	}
	http.SetCookie(w, buildDeletionCookie(c.FlowCookie, isHTTPS(r)))
}

type enrollmentPayload struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauth_url"`
}

type factorPayload struct {
	Type        string `json:"type"`
	DisplayName string `json:"display_name,omitempty"`
}

type loginStepResponse struct {
	State       string             `json:"state"`
	Enrollment  *enrollmentPayload `json:"enrollment,omitempty"`
	FactorHints []factorPayload    `json:"factor_hints,omitempty"`
}

type passwordRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type codeRequest struct {
	Code string `json:"code"`
}

// Password handles POST /api/login.
func (c *LoginController) Password(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("email, password"))
		return
	}

	id, f := c.flow(r)
	if f != nil && f.m.State() != login.StateAnonymous {
		// A stale half-finished flow; start over.
		c.dropFlow(w, r, id)
		f = nil
	}
	if f == nil {
		id, f = c.newFlow(w, r)
	}

	step, err := f.m.SubmitPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		httperrors.WriteError(w, mapLoginError(err))
		return
	}

	resp := loginStepResponse{State: string(step.State)}
	switch step.State {
	case login.StateAuthenticated:
		c.finishAuthenticated(w, r, id, f)
	case login.StateEnrollmentRequired:
		resp.Enrollment = &enrollmentPayload{
			Secret:     step.Enrollment.SecretB32,
			OTPAuthURL: step.Enrollment.OTPAuthURL,
		}
	case login.StateChallengeRequired:
		for _, h := range step.Hints {
			resp.FactorHints = append(resp.FactorHints, factorPayload{
				Type: h.Type, DisplayName: h.DisplayName,
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// VerifyEnrollment handles POST /api/login/enroll.
func (c *LoginController) VerifyEnrollment(w http.ResponseWriter, r *http.Request) {
	id, f := c.flow(r)
	if f == nil {
		httperrors.WriteError(w, mapLoginError(login.ErrFlowExpired))
		return
	}
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if err := f.m.VerifyEnrollment(r.Context(), req.Code); err != nil {
		httperrors.WriteError(w, mapLoginError(err))
		return
	}
	c.finishAuthenticated(w, r, id, f)
	writeJSON(w, http.StatusOK, loginStepResponse{State: string(login.StateAuthenticated)})
}

// SkipEnrollment handles POST /api/login/enroll/skip.
func (c *LoginController) SkipEnrollment(w http.ResponseWriter, r *http.Request) {
	id, f := c.flow(r)
	if f == nil {
		httperrors.WriteError(w, mapLoginError(login.ErrFlowExpired))
		return
	}
	if err := f.m.SkipEnrollment(r.Context()); err != nil {
		httperrors.WriteError(w, mapLoginError(err))
		return
	}
	http.SetCookie(w, buildDeletionCookie(c.SessionCookie, isHTTPS(r)))
	c.dropFlow(w, r, id)
	writeJSON(w, http.StatusOK, loginStepResponse{State: string(login.StateAnonymous)})
}

// VerifyChallenge handles POST /api/login/challenge.
func (c *LoginController) VerifyChallenge(w http.ResponseWriter, r *http.Request) {
	id, f := c.flow(r)
	if f == nil {
		httperrors.WriteError(w, mapLoginError(login.ErrFlowExpired))
		return
	}
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if err := f.m.VerifyChallenge(r.Context(), req.Code); err != nil {
		httperrors.WriteError(w, mapLoginError(err))
		return
	}
	c.finishAuthenticated(w, r, id, f)
	writeJSON(w, http.StatusOK, loginStepResponse{State: string(login.StateAuthenticated)})
}

// CancelChallenge handles POST /api/login/challenge/cancel.
func (c *LoginController) CancelChallenge(w http.ResponseWriter, r *http.Request) {
	id, f := c.flow(r)
	if f != nil {
		f.m.CancelChallenge()
		c.dropFlow(w, r, id)
	}
	writeJSON(w, http.StatusOK, loginStepResponse{State: string(login.StateAnonymous)})
}

// Logout handles POST /api/logout.
func (c *LoginController) Logout(w http.ResponseWriter, r *http.Request) {
	id, f := c.flow(r)
	if f != nil {
		if err := f.m.Logout(r.Context()); err != nil {
			httperrors.WriteError(w, httperrors.ErrInternalServerError.WithCause(err))
			return
		}
		c.dropFlow(w, r, id)
	}
	http.SetCookie(w, buildDeletionCookie(c.SessionCookie, isHTTPS(r)))
	w.WriteHeader(http.StatusNoContent)
}

// finishAuthenticated mints the session cookie from the token the flow
// persisted, then tears the flow down.
func (c *LoginController) finishAuthenticated(w http.ResponseWriter, r *http.Request, id string, f *loginFlow) {
	if token := f.sess.Token(); token != "" {
		http.SetCookie(w, buildSessionCookie(c.SessionCookie, token, isHTTPS(r)))
	}
	c.dropFlow(w, r, id)
}

func mapLoginError(err error) error {
	switch {
	case errors.Is(err, login.ErrInvalidCredentials):
		return httperrors.New(http.StatusUnauthorized, "INVALID_CREDENTIALS", err.Error())
	case errors.Is(err, login.ErrLockedOut):
		return httperrors.ErrTooManyRequests.WithDetail(err.Error())
	case errors.Is(err, login.ErrCodeMismatch):
		return httperrors.ErrBadRequest.WithDetail(err.Error())
	case errors.Is(err, login.ErrFlowExpired):
		return httperrors.New(http.StatusUnauthorized, "FLOW_EXPIRED", err.Error())
	case errors.Is(err, login.ErrBadState):
		return httperrors.ErrConflict.WithDetail(err.Error())
	}
	var ie *idp.Error
	if errors.As(err, &ie) {
		return httperrors.ErrServiceUnavailable
	}
	return err
}
