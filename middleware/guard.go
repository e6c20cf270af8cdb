package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/cauth"
)

// AccessCookie is the cookie the guard reads before the Authorization header.
const AccessCookie = "accessToken"

type identityContextKey struct{}

// IdentityFromContext returns the identity a guard attached to the request.
func IdentityFromContext(ctx context.Context) (cauth.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(cauth.Identity)
	return id, ok
}

// ContextWithIdentity attaches id the way a passing guard does.
func ContextWithIdentity(ctx context.Context, id cauth.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// GuardHandler checks the access token of each request against a role set.
type GuardHandler struct {
	engine   *cauth.Engine
	roles    []string
	clientIP func(*http.Request) string
}

// ServeHTTP answers 200 with the caller's identity, or the rejection.
func (g *GuardHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := g.authorize(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, id)
}

// Wrap returns next behind the guard. next sees the identity through
// IdentityFromContext.
func (g *GuardHandler) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := g.authorize(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
	})
}

func (g *GuardHandler) authorize(w http.ResponseWriter, r *http.Request) (cauth.Identity, bool) {
	if g.engine == nil {
		writeCode(w, http.StatusInternalServerError, cauth.CodeServerError, cauth.MessageServerError)
		return cauth.Identity{}, false
	}
	ctx := cauth.WithClientIP(r.Context(), g.clientIP(r))
	id, status := g.engine.Guard(ctx, accessToken(r), g.roles...)
	switch status {
	case cauth.GuardAllowed:
		return id, true
	case cauth.GuardForbidden:
		writeCode(w, status.HTTPStatus(), cauth.CodeForbiddenResource, cauth.MessageForbiddenResource)
	default:
		writeCode(w, status.HTTPStatus(), cauth.CodeInvalidToken, cauth.MessageInvalidToken)
	}
	return cauth.Identity{}, false
}

// Protect puts next behind guard. A guard that is not a *GuardHandler is
// returned unchanged.
func Protect(guard http.Handler, next http.Handler) http.Handler {
	if g, ok := guard.(*GuardHandler); ok {
		return g.Wrap(next)
	}
	return guard
}

// RequireRoles is Guard shaped as func(http.Handler) http.Handler for
// routers that chain middleware.
func RequireRoles(engine *cauth.Engine, roles ...string) func(http.Handler) http.Handler {
	g := &GuardHandler{engine: engine, roles: roles, clientIP: RemoteIP}
	return g.Wrap
}

func accessToken(r *http.Request) string {
	if c, err := r.Cookie(AccessCookie); err == nil && c.Value != "" {
		return c.Value
	}
	token, _ := bearerToken(r.Header.Get("Authorization"))
	return token
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
