package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/cauth"
)

// DefaultMaxBodyBytes bounds request bodies read by the auth routes.
const DefaultMaxBodyBytes = 64 << 10

// Routes serves the cauth operations as http.Handlers.
type Routes struct {
	sender       OtpSender
	clientIP     func(*http.Request) string
	maxBodyBytes int64
	accessCookie bool
	logger       *slog.Logger
}

var (
	_ cauth.RoutingContract[http.Handler]    = (*Routes)(nil)
	_ cauth.OtpRoutingContract[http.Handler] = (*Routes)(nil)
)

// Option configures Routes.
type Option func(*Routes)

// WithOtpSender delivers issued codes. Without one, RequestOtp issues codes
// that nobody receives.
func WithOtpSender(s OtpSender) Option {
	return func(rt *Routes) { rt.sender = s }
}

// WithClientIP replaces RemoteIP, e.g. to honour a trusted proxy header.
func WithClientIP(fn func(*http.Request) string) Option {
	return func(rt *Routes) {
		if fn != nil {
			rt.clientIP = fn
		}
	}
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(rt *Routes) {
		if n > 0 {
			rt.maxBodyBytes = n
		}
	}
}

// WithAccessCookie makes session responses also set the access token as an
// HttpOnly cookie, which the guard reads first.
func WithAccessCookie(enabled bool) Option {
	return func(rt *Routes) { rt.accessCookie = enabled }
}

// WithLogger sets the logger for server-side failures.
func WithLogger(l *slog.Logger) Option {
	return func(rt *Routes) {
		if l != nil {
			rt.logger = l
		}
	}
}

func NewRoutes(opts ...Option) *Routes {
	rt := &Routes{
		clientIP:     RemoteIP,
		maxBodyBytes: DefaultMaxBodyBytes,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Routes) Register(deps cauth.RouteDeps) http.Handler {
	return serve(rt, OpRegister, deps.Engine.Register, func(w http.ResponseWriter, s cauth.Session) {
		rt.setAccessCookie(w, deps.Engine, s.Tokens.AccessToken)
		writeJSON(w, http.StatusCreated, s)
	})
}

func (rt *Routes) Login(deps cauth.RouteDeps) http.Handler {
	return serve(rt, OpLogin, deps.Engine.Login, func(w http.ResponseWriter, s cauth.Session) {
		rt.setAccessCookie(w, deps.Engine, s.Tokens.AccessToken)
		writeJSON(w, http.StatusOK, s)
	})
}

func (rt *Routes) Refresh(deps cauth.RouteDeps) http.Handler {
	return serve(rt, OpRefresh, deps.Engine.RefreshSession, func(w http.ResponseWriter, s cauth.Session) {
		rt.setAccessCookie(w, deps.Engine, s.Tokens.AccessToken)
		writeJSON(w, http.StatusOK, map[string]cauth.TokenPair{"tokens": s.Tokens})
	})
}

func (rt *Routes) Logout(deps cauth.RouteDeps) http.Handler {
	return serve(rt, OpLogout, deps.Engine.Logout, func(w http.ResponseWriter, _ struct{}) {
		if rt.accessCookie {
			http.SetCookie(w, &http.Cookie{Name: AccessCookie, Path: "/", MaxAge: -1, HttpOnly: true, Secure: true})
		}
		writeCode(w, http.StatusOK, "logged-out", "")
	})
}

type changePasswordBody struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// ChangePassword acts on accountID, or on the guarded identity when
// accountID is empty.
func (rt *Routes) ChangePassword(deps cauth.RouteDeps, accountID string) http.Handler {
	call := func(ctx context.Context, body changePasswordBody) (cauth.Result[struct{}], error) {
		id := accountID
		if id == "" {
			ident, _ := IdentityFromContext(ctx)
			id = ident.ID
		}
		return deps.Engine.ChangePassword(ctx, cauth.ChangePasswordInput{
			AccountID:   id,
			OldPassword: body.OldPassword,
			NewPassword: body.NewPassword,
		})
	}
	h := serve(rt, OpChangePassword, call, func(w http.ResponseWriter, _ struct{}) {
		writeCode(w, http.StatusOK, "password-changed", "")
	})
	if accountID != "" {
		return h
	}
	return requireIdentity(h)
}

// requireIdentity answers 401 unless a guard has put an identity in the
// request context.
func requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ident, ok := IdentityFromContext(r.Context()); !ok || ident.ID == "" {
			writeCode(w, http.StatusUnauthorized, cauth.CodeInvalidToken, cauth.MessageInvalidToken)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rt *Routes) Guard(deps cauth.GuardDeps) http.Handler {
	return &GuardHandler{engine: deps.Engine, roles: deps.Roles, clientIP: rt.clientIP}
}

type otpRequested struct {
	AccountID string           `json:"id"`
	Purpose   cauth.OtpPurpose `json:"otpPurpose"`
	ExpiresAt time.Time        `json:"expiresAt"`
}

// RequestOtp hands the code to the OtpSender and never echoes it.
func (rt *Routes) RequestOtp(deps cauth.RouteDeps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in cauth.RequestOtpInput
		if !rt.decode(w, r, &in) {
			return
		}
		ctx := cauth.WithClientIP(r.Context(), rt.clientIP(r))
		res, err := deps.Engine.RequestOtp(ctx, in)
		if err != nil {
			rt.serverError(w, "otp request failed", err)
			return
		}
		if !res.Success {
			writeFailure(w, OpRequestOtp, res.Errors[0])
			return
		}
		issued := res.Value
		if rt.sender == nil {
			rt.logger.Warn("cauth: otp issued without a sender", "account_id", issued.AccountID)
		} else if err := rt.sender.SendOtp(ctx, OtpDelivery{
			AccountID:   issued.AccountID,
			Email:       in.Email,
			PhoneNumber: in.PhoneNumber,
			Purpose:     issued.Purpose,
			Code:        issued.Code,
			ExpiresAt:   issued.ExpiresAt,
		}); err != nil {
			rt.serverError(w, "otp delivery failed", err)
			return
		}
		writeJSON(w, http.StatusOK, otpRequested{
			AccountID: issued.AccountID,
			Purpose:   issued.Purpose,
			ExpiresAt: issued.ExpiresAt,
		})
	})
}

func (rt *Routes) LoginWithOtp(deps cauth.RouteDeps) http.Handler {
	return serve(rt, OpLoginWithOtp, deps.Engine.LoginWithOtp, func(w http.ResponseWriter, s cauth.Session) {
		rt.setAccessCookie(w, deps.Engine, s.Tokens.AccessToken)
		writeJSON(w, http.StatusOK, s)
	})
}

type verifyOtpBody struct {
	Code    string           `json:"code"`
	Purpose cauth.OtpPurpose `json:"otpPurpose"`
}

// VerifyOtp checks a code against the guarded identity's challenge. The
// account is never taken from the body, so mount it behind the guard.
func (rt *Routes) VerifyOtp(deps cauth.RouteDeps) http.Handler {
	call := func(ctx context.Context, body verifyOtpBody) (cauth.Result[cauth.OtpVerification], error) {
		ident, _ := IdentityFromContext(ctx)
		return deps.Engine.VerifyOtp(ctx, cauth.VerifyOtpInput{
			AccountID: ident.ID,
			Code:      body.Code,
			Purpose:   body.Purpose,
		})
	}
	return requireIdentity(serve(rt, OpVerifyOtp, call, func(w http.ResponseWriter, v cauth.OtpVerification) {
		writeJSON(w, http.StatusOK, v)
	}))
}

// serve decodes a JSON body into In, runs call and writes either the
// failure or the value through ok.
func serve[In, Out any](
	rt *Routes,
	op Operation,
	call func(context.Context, In) (cauth.Result[Out], error),
	ok func(http.ResponseWriter, Out),
) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in In
		if !rt.decode(w, r, &in) {
			return
		}
		ctx := cauth.WithClientIP(r.Context(), rt.clientIP(r))
		res, err := call(ctx, in)
		if err != nil {
			rt.serverError(w, "auth operation failed", err)
			return
		}
		if !res.Success {
			writeFailure(w, op, res.Errors[0])
			return
		}
		ok(w, res.Value)
	})
}

func (rt *Routes) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, rt.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeCode(w, http.StatusBadRequest, cauth.CodeInvalidData, "Invalid Body: malformed JSON")
		return false
	}
	return true
}

func (rt *Routes) serverError(w http.ResponseWriter, msg string, err error) {
	rt.logger.Error("cauth: "+msg, "error", err)
	writeCode(w, http.StatusInternalServerError, cauth.CodeServerError, cauth.MessageServerError)
}

func (rt *Routes) setAccessCookie(w http.ResponseWriter, engine *cauth.Engine, token string) {
	if !rt.accessCookie {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     AccessCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(engine.Tokens().AccessTTL().Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}
