// Package ginauth serves cauth operations as gin handlers.
//
//	router, _ := cauth.NewRouter[gin.HandlerFunc](engine, ginauth.NewRoutes())
//	g := r.Group("/auth")
//	g.POST("/login", router.Login())
//	r.GET("/admin", router.Guard("admin"), adminHandler)
//	g.POST("/otp/verify", router.Guard(), verifyOtp)
//
// Status codes and bodies match the net/http adapter in package middleware.
package ginauth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MrEthical07/cauth"
	"github.com/MrEthical07/cauth/middleware"
)

// IdentityKey is the gin context key a passing guard sets.
const IdentityKey = "cauth.identity"

// IdentityFrom returns the identity a guard stored on c.
func IdentityFrom(c *gin.Context) (cauth.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return cauth.Identity{}, false
	}
	id, ok := v.(cauth.Identity)
	return id, ok
}

// Routes implements cauth.RoutingContract and cauth.OtpRoutingContract for
// gin.HandlerFunc.
type Routes struct {
	sender middleware.OtpSender
	logger *slog.Logger
}

var (
	_ cauth.RoutingContract[gin.HandlerFunc]    = (*Routes)(nil)
	_ cauth.OtpRoutingContract[gin.HandlerFunc] = (*Routes)(nil)
)

type Option func(*Routes)

func WithOtpSender(s middleware.OtpSender) Option {
	return func(rt *Routes) { rt.sender = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(rt *Routes) {
		if l != nil {
			rt.logger = l
		}
	}
}

func NewRoutes(opts ...Option) *Routes {
	rt := &Routes{logger: slog.Default()}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Routes) Register(deps cauth.RouteDeps) gin.HandlerFunc {
	return handle(rt, middleware.OpRegister, deps.Engine.Register, func(c *gin.Context, s cauth.Session) {
		c.JSON(http.StatusCreated, s)
	})
}

func (rt *Routes) Login(deps cauth.RouteDeps) gin.HandlerFunc {
	return handle(rt, middleware.OpLogin, deps.Engine.Login, func(c *gin.Context, s cauth.Session) {
		c.JSON(http.StatusOK, s)
	})
}

func (rt *Routes) Refresh(deps cauth.RouteDeps) gin.HandlerFunc {
	return handle(rt, middleware.OpRefresh, deps.Engine.RefreshSession, func(c *gin.Context, s cauth.Session) {
		c.JSON(http.StatusOK, gin.H{"tokens": s.Tokens})
	})
}

func (rt *Routes) Logout(deps cauth.RouteDeps) gin.HandlerFunc {
	return handle(rt, middleware.OpLogout, deps.Engine.Logout, func(c *gin.Context, _ struct{}) {
		c.JSON(http.StatusOK, gin.H{"code": "logged-out"})
	})
}

type changePasswordBody struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// ChangePassword acts on accountID, or on the guarded identity when
// accountID is empty.
func (rt *Routes) ChangePassword(deps cauth.RouteDeps, accountID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := accountID
		if id == "" {
			ident, ok := IdentityFrom(c)
			if !ok || ident.ID == "" {
				abort(c, http.StatusUnauthorized, cauth.CodeInvalidToken, cauth.MessageInvalidToken)
				return
			}
			id = ident.ID
		}
		var body changePasswordBody
		if !bind(c, &body) {
			return
		}
		res, err := deps.Engine.ChangePassword(requestContext(c), cauth.ChangePasswordInput{
			AccountID:   id,
			OldPassword: body.OldPassword,
			NewPassword: body.NewPassword,
		})
		if !rt.settled(c, middleware.OpChangePassword, res.Errors, res.Success, err) {
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": "password-changed"})
	}
}

// Guard reads the accessToken cookie, then the bearer header. On success
// it stores the identity under IdentityKey and calls the next handler.
func (rt *Routes) Guard(deps cauth.GuardDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Engine == nil {
			abort(c, http.StatusInternalServerError, cauth.CodeServerError, cauth.MessageServerError)
			return
		}
		id, status := deps.Engine.Guard(requestContext(c), accessToken(c), deps.Roles...)
		switch status {
		case cauth.GuardAllowed:
			c.Set(IdentityKey, id)
			c.Request = c.Request.WithContext(middleware.ContextWithIdentity(c.Request.Context(), id))
			c.Next()
		case cauth.GuardForbidden:
			abort(c, status.HTTPStatus(), cauth.CodeForbiddenResource, cauth.MessageForbiddenResource)
		default:
			abort(c, status.HTTPStatus(), cauth.CodeInvalidToken, cauth.MessageInvalidToken)
		}
	}
}

// RequestOtp hands the code to the sender and never echoes it.
func (rt *Routes) RequestOtp(deps cauth.RouteDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in cauth.RequestOtpInput
		if !bind(c, &in) {
			return
		}
		ctx := requestContext(c)
		res, err := deps.Engine.RequestOtp(ctx, in)
		if !rt.settled(c, middleware.OpRequestOtp, res.Errors, res.Success, err) {
			return
		}
		issued := res.Value
		if rt.sender == nil {
			rt.logger.Warn("cauth: otp issued without a sender", "account_id", issued.AccountID)
		} else if err := rt.sender.SendOtp(ctx, middleware.OtpDelivery{
			AccountID:   issued.AccountID,
			Email:       in.Email,
			PhoneNumber: in.PhoneNumber,
			Purpose:     issued.Purpose,
			Code:        issued.Code,
			ExpiresAt:   issued.ExpiresAt,
		}); err != nil {
			rt.logger.Error("cauth: otp delivery failed", "error", err)
			abort(c, http.StatusInternalServerError, cauth.CodeServerError, cauth.MessageServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"id":         issued.AccountID,
			"otpPurpose": issued.Purpose,
			"expiresAt":  issued.ExpiresAt,
		})
	}
}

func (rt *Routes) LoginWithOtp(deps cauth.RouteDeps) gin.HandlerFunc {
	return handle(rt, middleware.OpLoginWithOtp, deps.Engine.LoginWithOtp, func(c *gin.Context, s cauth.Session) {
		c.JSON(http.StatusOK, s)
	})
}

type verifyOtpBody struct {
	Code    string           `json:"code"`
	Purpose cauth.OtpPurpose `json:"otpPurpose"`
}

// VerifyOtp checks a code against the guarded identity's challenge. Chain it
// after Guard; without an identity it aborts with 401.
func (rt *Routes) VerifyOtp(deps cauth.RouteDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := IdentityFrom(c)
		if !ok || ident.ID == "" {
			abort(c, http.StatusUnauthorized, cauth.CodeInvalidToken, cauth.MessageInvalidToken)
			return
		}
		var body verifyOtpBody
		if !bind(c, &body) {
			return
		}
		res, err := deps.Engine.VerifyOtp(requestContext(c), cauth.VerifyOtpInput{
			AccountID: ident.ID,
			Code:      body.Code,
			Purpose:   body.Purpose,
		})
		if !rt.settled(c, middleware.OpVerifyOtp, res.Errors, res.Success, err) {
			return
		}
		c.JSON(http.StatusOK, res.Value)
	}
}

func handle[In, Out any](
	rt *Routes,
	op middleware.Operation,
	call func(context.Context, In) (cauth.Result[Out], error),
	ok func(*gin.Context, Out),
) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in In
		if !bind(c, &in) {
			return
		}
		res, err := call(requestContext(c), in)
		if !rt.settled(c, op, res.Errors, res.Success, err) {
			return
		}
		ok(c, res.Value)
	}
}

// settled writes the failure, if any, and reports whether the caller should
// write the success body.
func (rt *Routes) settled(c *gin.Context, op middleware.Operation, errs []*cauth.Error, success bool, err error) bool {
	if err != nil {
		rt.logger.Error("cauth: auth operation failed", "error", err)
		abort(c, http.StatusInternalServerError, cauth.CodeServerError, cauth.MessageServerError)
		return false
	}
	if success {
		return true
	}
	var first *cauth.Error
	if len(errs) > 0 {
		first = errs[0]
	}
	status := middleware.StatusFor(op, first)
	if status == http.StatusInternalServerError {
		abort(c, status, cauth.CodeServerError, cauth.MessageServerError)
		return false
	}
	if status == http.StatusTooManyRequests {
		c.Header("Retry-After", "60")
	}
	abort(c, status, first.Code, first.Message)
	return false
}

// bind only decodes. Field validation happens in the engine.
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		abort(c, http.StatusBadRequest, cauth.CodeInvalidData, "Invalid Body: malformed JSON")
		return false
	}
	return true
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": message})
}

func requestContext(c *gin.Context) context.Context {
	return cauth.WithClientIP(c.Request.Context(), c.ClientIP())
}

func accessToken(c *gin.Context) string {
	if v, err := c.Cookie(middleware.AccessCookie); err == nil && v != "" {
		return v
	}
	const bearer = "Bearer "
	h := c.GetHeader("Authorization")
	if len(h) > len(bearer) && h[:len(bearer)] == bearer {
		return h[len(bearer):]
	}
	return ""
}
