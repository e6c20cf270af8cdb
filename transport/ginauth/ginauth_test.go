package ginauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/cauth"
	"github.com/MrEthical07/cauth/internal/authtest"
	"github.com/MrEthical07/cauth/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type harness struct {
	engine *cauth.Engine
	r      *gin.Engine
	code   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{engine: authtest.Engine(t, nil)}
	sender := middleware.OtpSenderFunc(func(_ context.Context, d middleware.OtpDelivery) error {
		h.code = d.Code
		return nil
	})
	router, err := cauth.NewRouter[gin.HandlerFunc](h.engine, NewRoutes(WithOtpSender(sender)))
	require.NoError(t, err)

	r := gin.New()
	g := r.Group("/auth")
	g.POST("/register", router.Register())
	g.POST("/login", router.Login())
	g.POST("/logout", router.Logout())
	g.POST("/refresh", router.Refresh())
	g.POST("/password", router.Guard(), router.ChangePassword(""))

	requestOtp, err := router.RequestOtp()
	require.NoError(t, err)
	loginWithOtp, err := router.LoginWithOtp()
	require.NoError(t, err)
	verifyOtp, err := router.VerifyOtp()
	require.NoError(t, err)
	g.POST("/otp/request", requestOtp)
	g.POST("/otp/login", loginWithOtp)
	g.POST("/otp/verify", router.Guard(), verifyOtp)
	r.POST("/unguarded/otp/verify", verifyOtp)

	r.GET("/admin", router.Guard("admin"), func(c *gin.Context) {
		id, _ := IdentityFrom(c)
		fromCtx, _ := middleware.IdentityFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"id": id.ID, "ctxID": fromCtx.ID})
	})
	h.r = r
	return h
}

func (h *harness) send(t *testing.T, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.r.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func TestGinRegisterLoginRefreshLogout(t *testing.T) {
	h := newHarness(t)

	status, body := h.send(t, http.MethodPost, "/auth/register", "", `{"email":"a@x.com","password":"secret1","role":"user"}`)
	require.Equal(t, http.StatusCreated, status)
	refresh := body["tokens"].(map[string]any)["refreshToken"].(string)

	status, body = h.send(t, http.MethodPost, "/auth/register", "", `{"email":"a@x.com","password":"secret1","role":"user"}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, cauth.CodeDuplicateAccount, body["code"])

	status, body = h.send(t, http.MethodPost, "/auth/login", "", `{"email":"a@x.com","password":"bad-password"}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, cauth.CodeCredentialMismatch, body["code"])

	status, body = h.send(t, http.MethodPost, "/auth/login", "", `{"email":"a@x.com"`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, cauth.CodeInvalidData, body["code"])

	status, body = h.send(t, http.MethodPost, "/auth/refresh", "", `{"refreshToken":"`+refresh+`"}`)
	require.Equal(t, http.StatusOK, status)
	next := body["tokens"].(map[string]any)["refreshToken"].(string)

	status, body = h.send(t, http.MethodPost, "/auth/refresh", "", `{"refreshToken":"`+refresh+`"}`)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, cauth.CodeInvalidRefreshToken, body["code"])

	status, body = h.send(t, http.MethodPost, "/auth/logout", "", `{"refreshToken":"`+next+`"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "logged-out", body["code"])
}

func TestGinGuard(t *testing.T) {
	h := newHarness(t)
	user := authtest.Register(t, h.engine, "u@x.com", "secret1", "user")
	admin := authtest.Register(t, h.engine, "a@x.com", "secret1", "admin")

	status, body := h.send(t, http.MethodGet, "/admin", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, cauth.CodeInvalidToken, body["code"])

	status, body = h.send(t, http.MethodGet, "/admin", user.Tokens.AccessToken, "")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, cauth.CodeForbiddenResource, body["code"])

	status, body = h.send(t, http.MethodGet, "/admin", admin.Tokens.AccessToken, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, admin.Account.ID, body["id"])
	assert.Equal(t, admin.Account.ID, body["ctxID"])
}

func TestGinGuardReadsCookie(t *testing.T) {
	h := newHarness(t)
	admin := authtest.Register(t, h.engine, "a@x.com", "secret1", "admin")

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.AddCookie(&http.Cookie{Name: middleware.AccessCookie, Value: admin.Tokens.AccessToken})
	rec := httptest.NewRecorder()
	h.r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGinChangePassword(t *testing.T) {
	h := newHarness(t)
	sess := authtest.Register(t, h.engine, "a@x.com", "secret1", "user")

	status, body := h.send(t, http.MethodPost, "/auth/password", "", `{"oldPassword":"secret1","newPassword":"secret2"}`)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, cauth.CodeInvalidToken, body["code"])

	status, body = h.send(t, http.MethodPost, "/auth/password", sess.Tokens.AccessToken, `{"oldPassword":"wrong-one","newPassword":"secret2"}`)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, cauth.CodeCredentialMismatch, body["code"])

	status, body = h.send(t, http.MethodPost, "/auth/password", sess.Tokens.AccessToken, `{"oldPassword":"secret1","newPassword":"secret2"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "password-changed", body["code"])
}

func TestGinOtp(t *testing.T) {
	h := newHarness(t)
	sess := authtest.Register(t, h.engine, "a@x.com", "secret1", "user")

	status, body := h.send(t, http.MethodPost, "/auth/otp/request", "", `{"email":"a@x.com","otpPurpose":"LOGIN","usePassword":true,"password":"secret1"}`)
	require.Equal(t, http.StatusOK, status)
	assert.NotContains(t, body, "code")
	require.NotEmpty(t, h.code)

	status, body = h.send(t, http.MethodPost, "/auth/otp/login", "", `{"email":"a@x.com","code":"00000000"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, cauth.CodeInvalidOTP, body["code"])

	status, _ = h.send(t, http.MethodPost, "/auth/otp/login", "", `{"email":"a@x.com","code":"`+h.code+`"}`)
	assert.Equal(t, http.StatusOK, status)

	status, _ = h.send(t, http.MethodPost, "/auth/otp/request", "", `{"email":"a@x.com","otpPurpose":"RESET_PASSWORD"}`)
	require.Equal(t, http.StatusOK, status)

	verify := `{"id":"` + sess.Account.ID + `","code":"` + h.code + `","otpPurpose":"RESET_PASSWORD"}`

	status, body = h.send(t, http.MethodPost, "/auth/otp/verify", "", verify)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, cauth.CodeInvalidToken, body["code"])

	status, body = h.send(t, http.MethodPost, "/unguarded/otp/verify", "", verify)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, cauth.CodeInvalidToken, body["code"])

	other := authtest.Register(t, h.engine, "b@x.com", "secret1", "user")
	status, body = h.send(t, http.MethodPost, "/auth/otp/verify", other.Tokens.AccessToken, verify)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["isValid"])

	status, body = h.send(t, http.MethodPost, "/auth/otp/verify", sess.Tokens.AccessToken, verify)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["isValid"])
}
