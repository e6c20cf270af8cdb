// Package chiroutes mounts cauth's net/http routes on a chi router.
//
// Paths, relative to wherever the router is mounted:
//
//	POST /register
//	POST /login
//	POST /logout
//	POST /refresh
//	POST /password       guarded, acts on the caller's own account
//	GET  /me             guarded, returns the caller's identity
//	POST /otp/request    when the routes implement OTP
//	POST /otp/login
//	POST /otp/verify     guarded, checks the caller's own challenge
package chiroutes

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrEthical07/cauth"
	"github.com/MrEthical07/cauth/middleware"
)

var ErrNilRouter = errors.New("chiroutes: router is nil")

type options struct {
	limiter func(http.Handler) http.Handler
}

// Option configures Mount.
type Option func(*options)

// WithRateLimit throttles every unauthenticated route per client IP.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *options) { o.limiter = middleware.RateLimit(perSecond, burst) }
}

// Mount registers the auth routes on r.
func Mount(r chi.Router, router *cauth.Router[http.Handler], opts ...Option) error {
	if r == nil || router == nil {
		return ErrNilRouter
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	r.Group(func(r chi.Router) {
		if o.limiter != nil {
			r.Use(o.limiter)
		}
		r.Method(http.MethodPost, "/register", router.Register())
		r.Method(http.MethodPost, "/login", router.Login())
		r.Method(http.MethodPost, "/logout", router.Logout())
		r.Method(http.MethodPost, "/refresh", router.Refresh())

		if !router.SupportsOtp() {
			return
		}
		// SupportsOtp guarantees these succeed.
		requestOtp, _ := router.RequestOtp()
		loginWithOtp, _ := router.LoginWithOtp()
		r.Method(http.MethodPost, "/otp/request", requestOtp)
		r.Method(http.MethodPost, "/otp/login", loginWithOtp)
	})

	guard := router.Guard()
	r.Method(http.MethodPost, "/password", middleware.Protect(guard, router.ChangePassword("")))
	r.Method(http.MethodGet, "/me", guard)
	if verifyOtp, err := router.VerifyOtp(); err == nil {
		r.Method(http.MethodPost, "/otp/verify", middleware.Protect(guard, verifyOtp))
	}
	return nil
}

// Handler returns a fresh chi router serving only the auth routes.
func Handler(router *cauth.Router[http.Handler], opts ...Option) (http.Handler, error) {
	r := chi.NewRouter()
	if err := Mount(r, router, opts...); err != nil {
		return nil, err
	}
	return r, nil
}
