package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/cauth"
	"github.com/MrEthical07/cauth/internal/authtest"
)

type sentCodes struct {
	mu   sync.Mutex
	last []OtpDelivery
}

func (s *sentCodes) SendOtp(_ context.Context, d OtpDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = append(s.last, d)
	return nil
}

func (s *sentCodes) latest(t *testing.T) OtpDelivery {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.last, "no code was sent")
	return s.last[len(s.last)-1]
}

func newRouter(t *testing.T, opts ...Option) (*cauth.Router[http.Handler], *cauth.Engine) {
	t.Helper()
	engine := authtest.Engine(t, nil)
	router, err := cauth.NewRouter[http.Handler](engine, NewRoutes(opts...))
	require.NoError(t, err)
	return router, engine
}

func do(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	return doAs(t, h, "", body)
}

// doAs posts body with token as the bearer credential, if set.
func doAs(t *testing.T, h http.Handler, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestRegisterAndLoginStatuses(t *testing.T) {
	router, _ := newRouter(t)

	rec, body := do(t, router.Register(), `{"email":"a@x.com","password":"secret1","role":"user"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, body, "account")
	assert.Contains(t, body, "tokens")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec, body = do(t, router.Register(), `{"email":"a@x.com","password":"secret1","role":"user"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, cauth.CodeDuplicateAccount, body["code"])

	rec, body = do(t, router.Register(), `{"email":"b@x.com","password":"secret1","role":"root"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, cauth.CodeInvalidRole, body["code"])

	rec, body = do(t, router.Register(), `{"email":"not-an-email","role":"user"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, cauth.CodeInvalidData, body["code"])

	rec, _ = do(t, router.Login(), `{"email":"a@x.com","password":"secret1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body = do(t, router.Login(), `{"email":"a@x.com","password":"wrong-pass"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, cauth.CodeCredentialMismatch, body["code"])
}

func TestMalformedBodyIsInvalidData(t *testing.T) {
	router, _ := newRouter(t)

	for _, raw := range []string{"", "{", `["x"]`} {
		rec, body := do(t, router.Login(), raw)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", raw)
		assert.Equal(t, cauth.CodeInvalidData, body["code"])
	}
}

func TestBodyLimit(t *testing.T) {
	router, _ := newRouter(t, WithMaxBodyBytes(32))

	rec, body := do(t, router.Login(), `{"email":"a@x.com","password":"`+strings.Repeat("p", 64)+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, cauth.CodeInvalidData, body["code"])
}

func TestRefreshAndLogout(t *testing.T) {
	router, engine := newRouter(t)
	sess := authtest.Register(t, engine, "a@x.com", "secret1", "user")

	rec, body := do(t, router.Refresh(), `{"refreshToken":"`+sess.Tokens.RefreshToken+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	tokens := body["tokens"].(map[string]any)
	next := tokens["refreshToken"].(string)
	assert.NotEqual(t, sess.Tokens.RefreshToken, next)
	assert.NotContains(t, body, "account")

	rec, body = do(t, router.Refresh(), `{"refreshToken":"`+sess.Tokens.RefreshToken+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, cauth.CodeInvalidRefreshToken, body["code"])

	rec, body = do(t, router.Logout(), `{"refreshToken":"`+next+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "logged-out", body["code"])

	rec, body = do(t, router.Logout(), `{"refreshToken":"`+next+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, cauth.CodeInvalidRefreshToken, body["code"])
}

func TestChangePasswordExplicitAccount(t *testing.T) {
	router, engine := newRouter(t)
	sess := authtest.Register(t, engine, "a@x.com", "secret1", "user")

	rec, body := do(t, router.ChangePassword(sess.Account.ID), `{"oldPassword":"nope-nope","newPassword":"secret2"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, cauth.CodeCredentialMismatch, body["code"])

	rec, body = do(t, router.ChangePassword("missing"), `{"oldPassword":"secret1","newPassword":"secret2"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, cauth.CodeAccountNotFound, body["code"])

	rec, body = do(t, router.ChangePassword(sess.Account.ID), `{"oldPassword":"secret1","newPassword":"secret2"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "password-changed", body["code"])
}

func TestChangePasswordUsesGuardedIdentity(t *testing.T) {
	router, engine := newRouter(t)
	sess := authtest.Register(t, engine, "a@x.com", "secret1", "user")
	h := Protect(router.Guard(), router.ChangePassword(""))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"oldPassword":"secret1","newPassword":"secret2"}`))
	req.Header.Set("Authorization", "Bearer "+sess.Tokens.AccessToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, _ = do(t, router.Login(), `{"email":"a@x.com","password":"secret2"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Unguarded use without an account id has nobody to act on.
	rec, body := do(t, router.ChangePassword(""), `{"oldPassword":"secret2","newPassword":"secret3"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, cauth.CodeInvalidToken, body["code"])
}

func TestOtpRoutesNeverEchoCode(t *testing.T) {
	sent := &sentCodes{}
	router, engine := newRouter(t, WithOtpSender(sent))
	sess := authtest.Register(t, engine, "a@x.com", "secret1", "user")

	requestOtp, err := router.RequestOtp()
	require.NoError(t, err)
	loginWithOtp, err := router.LoginWithOtp()
	require.NoError(t, err)
	verifyOtp, err := router.VerifyOtp()
	require.NoError(t, err)
	verifyOtp = Protect(router.Guard(), verifyOtp)

	rec, body := do(t, requestOtp, `{"email":"a@x.com","otpPurpose":"LOGIN"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, body, "code")
	assert.Equal(t, sess.Account.ID, body["id"])

	d := sent.latest(t)
	assert.Equal(t, "a@x.com", d.Email)
	assert.Equal(t, cauth.PurposeLogin, d.Purpose)
	assert.NotContains(t, rec.Body.String(), d.Code)

	rec, body = do(t, loginWithOtp, `{"email":"a@x.com","code":"`+d.Code+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, body, "tokens")

	rec, body = do(t, loginWithOtp, `{"email":"a@x.com","code":"`+d.Code+`"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, cauth.CodeInvalidOTP, body["code"])

	rec, _ = do(t, requestOtp, `{"email":"a@x.com","otpPurpose":"ACTION"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	action := sent.latest(t)

	rec, body = doAs(t, verifyOtp, sess.Tokens.AccessToken, `{"code":"`+action.Code+`","otpPurpose":"ACTION"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["isValid"])

	rec, body = doAs(t, verifyOtp, sess.Tokens.AccessToken, `{"code":"`+action.Code+`","otpPurpose":"ACTION"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["isValid"])
}

func TestVerifyOtpActsOnGuardedIdentityOnly(t *testing.T) {
	sent := &sentCodes{}
	router, engine := newRouter(t, WithOtpSender(sent))
	owner := authtest.Register(t, engine, "owner@x.com", "secret1", "user")
	other := authtest.Register(t, engine, "other@x.com", "secret1", "user")

	requestOtp, err := router.RequestOtp()
	require.NoError(t, err)
	verifyOtp, err := router.VerifyOtp()
	require.NoError(t, err)
	guarded := Protect(router.Guard(), verifyOtp)

	rec, _ := do(t, requestOtp, `{"email":"owner@x.com","otpPurpose":"ACTION"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	code := sent.latest(t).Code
	body := `{"id":"` + owner.Account.ID + `","code":"` + code + `","otpPurpose":"ACTION"}`

	rec, out := do(t, guarded, body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, cauth.CodeInvalidToken, out["code"])

	// Mounted without a guard there is no identity to act on.
	rec, out = do(t, verifyOtp, body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, cauth.CodeInvalidToken, out["code"])

	// The id in the body is ignored; the other account has no challenge.
	rec, out = doAs(t, guarded, other.Tokens.AccessToken, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, out["isValid"])

	rec, out = doAs(t, guarded, owner.Tokens.AccessToken, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["isValid"])
}

func TestOtpSenderFailureIsServerError(t *testing.T) {
	failing := OtpSenderFunc(func(context.Context, OtpDelivery) error { return assert.AnError })
	router, engine := newRouter(t, WithOtpSender(failing))
	authtest.Register(t, engine, "a@x.com", "secret1", "user")

	requestOtp, err := router.RequestOtp()
	require.NoError(t, err)

	rec, body := do(t, requestOtp, `{"email":"a@x.com","otpPurpose":"LOGIN"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, cauth.CodeServerError, body["code"])
}

func TestAccessCookie(t *testing.T) {
	router, _ := newRouter(t, WithAccessCookie(true))

	rec, _ := do(t, router.Register(), `{"email":"a@x.com","password":"secret1","role":"user"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == AccessCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, 15*60, cookie.MaxAge)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	router.Guard("user").ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		op   Operation
		err  *cauth.Error
		want int
	}{
		{OpLogin, cauth.ErrInvalidData, http.StatusBadRequest},
		{OpRegister, cauth.ErrInvalidRole, http.StatusConflict},
		{OpRegister, cauth.ErrDuplicateAccount, http.StatusConflict},
		{OpLogin, cauth.ErrCredentialMismatch, http.StatusConflict},
		{OpChangePassword, cauth.ErrCredentialMismatch, http.StatusUnauthorized},
		{OpRefresh, cauth.ErrAccountNotFound, http.StatusNotFound},
		{OpRefresh, cauth.ErrInvalidRefreshToken, http.StatusUnauthorized},
		{OpLoginWithOtp, cauth.ErrInvalidOTPCode, http.StatusUnprocessableEntity},
		{OpLogin, cauth.ErrRateLimited, http.StatusTooManyRequests},
		{OpLogin, cauth.ErrSchemaInvalid, http.StatusInternalServerError},
		{OpLogin, nil, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.op, tc.err), "%v", tc.err)
	}
}
