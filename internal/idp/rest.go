package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dropDatabas3/storefront/internal/auth/token"
	"github.com/dropDatabas3/storefront/internal/observability/logger"
)

// RESTClient talks to an Identity-Toolkit-style HTTP API.
type RESTClient struct {
	baseURL string
	apiKey  string
	http    *http.Client

	// validator performs the local cryptographic half of
	// VerifySessionToken; the revocation half is a provider round-trip.
	validator *token.Validator

	events chan TokenEvent
}

func NewRESTClient(baseURL, apiKey string, timeout time.Duration, v *token.Validator) *RESTClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RESTClient{
		baseURL:   baseURL,
		apiKey:    apiKey,
		http:      &http.Client{Timeout: timeout},
		validator: v,
		events:    make(chan TokenEvent, 16),
	}
}

func (c *RESTClient) TokenEvents() <-chan TokenEvent { return c.events }

// emit never blocks; a slow listener drops events rather than stalling
// an auth flow.
func (c *RESTClient) emit(kind EventKind, sub, idToken string) {
	select {
	case c.events <- TokenEvent{Kind: kind, Sub: sub, IDToken: idToken}:
	default:
	}
}

// apiError mirrors the provider's error envelope. Parsed here and
// nowhere else.
type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func mapAPIError(status int, body []byte) error {
	var ae apiError
	_ = json.Unmarshal(body, &ae)
	msg := ae.Error.Message
	cause := fmt.Errorf("provider status %d: %s", status, msg)
	switch {
	case msg == "EMAIL_NOT_FOUND" || msg == "USER_NOT_FOUND":
		return Errf(ReasonUnknownUser, cause)
	case msg == "INVALID_PASSWORD" || msg == "INVALID_LOGIN_CREDENTIALS":
		return Errf(ReasonWrongPassword, cause)
	case msg == "INVALID_EMAIL":
		return Errf(ReasonInvalidEmail, cause)
	case msg == "INVALID_IDP_RESPONSE" || msg == "INVALID_ID_TOKEN" || msg == "CREDENTIAL_MISMATCH":
		return Errf(ReasonInvalidCredential, cause)
	case msg == "TOO_MANY_ATTEMPTS_TRY_LATER" || status == http.StatusTooManyRequests:
		return Errf(ReasonTooManyRequests, cause)
	case msg == "INVALID_VERIFICATION_CODE" || msg == "MFA_CODE_MISMATCH":
		return Errf(ReasonCodeMismatch, cause)
	case msg == "MFA_ENROLLMENT_NOT_FOUND" || msg == "SESSION_EXPIRED" || msg == "MFA_PENDING_CREDENTIAL_EXPIRED":
		return Errf(ReasonSessionExpired, cause)
	case msg == "TOKEN_EXPIRED" || msg == "USER_TOKEN_EXPIRED":
		return Errf(ReasonTokenRevoked, cause)
	case msg == "USER_DISABLED":
		return Errf(ReasonUserDisabled, cause)
	case status >= 500:
		return Errf(ReasonUnavailable, cause)
	default:
		return Errf(ReasonUnknown, cause)
	}
}

func (c *RESTClient) post(ctx context.Context, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return Errf(ReasonUnknown, err)
	}
	u := c.baseURL + path + "?key=" + url.QueryEscape(c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return Errf(ReasonUnknown, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return Errf(ReasonUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Errf(ReasonUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return mapAPIError(resp.StatusCode, body)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return Errf(ReasonUnknown, err)
		}
	}
	return nil
}

type signInResponse struct {
	IDToken       string `json:"idToken"`
	RefreshToken  string `json:"refreshToken"`
	ExpiresIn     string `json:"expiresIn"`
	LocalID       string `json:"localId"`
	Email         string `json:"email"`
	MFAPending    string `json:"mfaPendingCredential"`
	MFAEnrollment []struct {
		MFAEnrollmentID string    `json:"mfaEnrollmentId"`
		DisplayName     string    `json:"displayName"`
		TOTPInfo        *struct{} `json:"totpInfo"`
	} `json:"mfaInfo"`
}

func (c *RESTClient) SignInPassword(ctx context.Context, email, password string) (*SignInResult, error) {
	var resp signInResponse
	err := c.post(ctx, "/v1/accounts:signInWithPassword", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}

	res := &SignInResult{Sub: resp.LocalID, Email: resp.Email}

	// Pending credential plus enrolled factors means a challenge is due.
	if resp.MFAPending != "" && len(resp.MFAEnrollment) > 0 {
		res.FactorEnrolled = true
		r := &Resolver{PendingCredential: resp.MFAPending}
		for _, e := range resp.MFAEnrollment {
			hint := FactorHint{Type: "totp", EnrollmentID: e.MFAEnrollmentID, DisplayName: e.DisplayName}
			r.Hints = append(r.Hints, hint)
		}
		res.Resolver = r
		return res, nil
	}

	// Tokens but no enrolled factor: enrollment may proceed with this
	// pending token.
	if len(resp.MFAEnrollment) == 0 {
		res.PendingToken = resp.IDToken
		if resp.IDToken != "" {
			res.Tokens = &TokenPair{
				IDToken:      resp.IDToken,
				RefreshToken: resp.RefreshToken,
				ExpiresIn:    parseExpires(resp.ExpiresIn),
			}
		}
		c.emit(EventSignedIn, res.Sub, resp.IDToken)
		return res, nil
	}

	// Factor enrolled and already satisfied during the password step.
	res.FactorEnrolled = true
	res.Tokens = &TokenPair{
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    parseExpires(resp.ExpiresIn),
	}
	c.emit(EventSignedIn, res.Sub, resp.IDToken)
	return res, nil
}

func (c *RESTClient) EnrollTOTP(ctx context.Context, pendingToken, secretB32, code string) (*TokenPair, error) {
	var resp struct {
		IDToken      string `json:"idToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    string `json:"expiresIn"`
	}
	err := c.post(ctx, "/v2/accounts/mfaEnrollment:finalize", map[string]any{
		"idToken": pendingToken,
		"totpVerificationInfo": map[string]any{
			"sharedSecretKey":  secretB32,
			"verificationCode": code,
		},
	}, &resp)
	if err != nil {
		return nil, err
	}
	tp := &TokenPair{IDToken: resp.IDToken, RefreshToken: resp.RefreshToken, ExpiresIn: parseExpires(resp.ExpiresIn)}
	c.emit(EventRefreshed, "", resp.IDToken)
	return tp, nil
}

func (c *RESTClient) ResolveChallenge(ctx context.Context, res *Resolver, code string) (*TokenPair, error) {
	if res == nil || len(res.Hints) == 0 {
		return nil, Errf(ReasonSessionExpired, nil)
	}
	var hint *FactorHint
	for i := range res.Hints {
		if res.Hints[i].Type == "totp" {
			hint = &res.Hints[i]
			break
		}
	}
	if hint == nil {
		return nil, Errf(ReasonInvalidCredential, nil)
	}

	var resp struct {
		IDToken      string `json:"idToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    string `json:"expiresIn"`
	}
	err := c.post(ctx, "/v2/accounts/mfaSignIn:finalize", map[string]any{
		"mfaPendingCredential": res.PendingCredential,
		"mfaEnrollmentId":      hint.EnrollmentID,
		"totpVerificationInfo": map[string]any{"verificationCode": code},
	}, &resp)
	if err != nil {
		return nil, err
	}
	tp := &TokenPair{IDToken: resp.IDToken, RefreshToken: resp.RefreshToken, ExpiresIn: parseExpires(resp.ExpiresIn)}
	c.emit(EventSignedIn, "", resp.IDToken)
	return tp, nil
}

func (c *RESTClient) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	var resp struct {
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    string `json:"expires_in"`
	}
	err := c.post(ctx, "/v1/token", map[string]any{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	}, &resp)
	if err != nil {
		return nil, err
	}
	tp := &TokenPair{IDToken: resp.IDToken, RefreshToken: resp.RefreshToken, ExpiresIn: parseExpires(resp.ExpiresIn)}
	c.emit(EventRefreshed, "", resp.IDToken)
	return tp, nil
}

type lookupResponse struct {
	Users []struct {
		LocalID       string `json:"localId"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"emailVerified"`
		Disabled      bool   `json:"disabled"`
		ValidSince    string `json:"validSince"`
	} `json:"users"`
}

func (c *RESTClient) VerifySessionToken(ctx context.Context, idToken string, checkRevoked bool) (*Verified, error) {
	claims, err := c.validator.Validate(ctx, idToken)
	if err != nil {
		return nil, Errf(ReasonInvalidCredential, err)
	}

	v := &Verified{
		Sub:           claims.Sub,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		AuthTime:      claims.AuthTime,
	}
	if !checkRevoked {
		return v, nil
	}

	var resp lookupResponse
	if err := c.post(ctx, "/v1/accounts:lookup", map[string]any{"idToken": idToken}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Users) == 0 {
		return nil, Errf(ReasonUnknownUser, nil)
	}
	u := resp.Users[0]
	if u.Disabled {
		return nil, Errf(ReasonUserDisabled, nil)
	}
	if vs, err := strconv.ParseInt(u.ValidSince, 10, 64); err == nil && vs > 0 {
		// Tokens minted before validSince were administratively revoked.
		if claims.Iat.Before(time.Unix(vs, 0)) {
			return nil, Errf(ReasonTokenRevoked, nil)
		}
	}
	return v, nil
}

func (c *RESTClient) SignOut(ctx context.Context, sub string) error {
	err := c.post(ctx, "/v1/accounts:update", map[string]any{
		"localId":    sub,
		"validSince": strconv.FormatInt(time.Now().Unix(), 10),
	}, nil)
	if err != nil {
		logger.L().Warn("provider sign-out failed", logger.UserID(sub), logger.Err(err))
		return err
	}
	c.emit(EventSignedOut, sub, "")
	return nil
}

func parseExpires(s string) time.Duration {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return time.Hour
	}
	return time.Duration(n) * time.Second
}
