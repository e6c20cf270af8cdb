package cauth

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MrEthical07/cauth/jwt"
)

// GuardStatus is the outcome of an authorization check.
type GuardStatus int

const (
	GuardAllowed GuardStatus = iota
	// GuardUnauthorized means the token is missing, malformed or expired.
	GuardUnauthorized
	// GuardForbidden means the token is valid but its role is not allowed.
	GuardForbidden
)

func (s GuardStatus) String() string {
	switch s {
	case GuardAllowed:
		return "allowed"
	case GuardUnauthorized:
		return "unauthorized"
	case GuardForbidden:
		return "forbidden"
	}
	return "unknown"
}

// HTTPStatus maps the outcome onto 200, 401 or 403.
func (s GuardStatus) HTTPStatus() int {
	switch s {
	case GuardAllowed:
		return http.StatusOK
	case GuardForbidden:
		return http.StatusForbidden
	}
	return http.StatusUnauthorized
}

// Authorize verifies an access token and checks its role. The role must be
// in globalRoles and, when routeRoles is non-empty, in routeRoles too.
// Authorize has no side effects and is safe for concurrent use.
func Authorize(codec *jwt.Codec, token string, routeRoles, globalRoles []string) (Identity, GuardStatus) {
	token = strings.TrimSpace(token)
	if codec == nil || token == "" {
		return Identity{}, GuardUnauthorized
	}
	claims := codec.VerifyAccess(token)
	if claims == nil {
		return Identity{}, GuardUnauthorized
	}
	id := Identity{ID: claims.ID, Role: claims.Role}
	if len(routeRoles) > 0 && !slices.Contains(routeRoles, id.Role) {
		return id, GuardForbidden
	}
	if !slices.Contains(globalRoles, id.Role) {
		return id, GuardForbidden
	}
	return id, GuardAllowed
}

// Guard runs Authorize against the engine's codec and roles, recording
// metrics and auditing rejections. The identity is only meaningful when
// the status is GuardAllowed.
func (e *Engine) Guard(ctx context.Context, token string, roles ...string) (Identity, GuardStatus) {
	if e == nil {
		return Identity{}, GuardUnauthorized
	}

	var start time.Time
	if e.metrics.LatencyEnabled() {
		start = time.Now()
	}

	id, status := Authorize(e.tokens, token, roles, e.config.Roles)

	if !start.IsZero() {
		e.metrics.Observe(MetricGuardLatency, time.Since(start))
	}

	switch status {
	case GuardAllowed:
		e.metricInc(MetricGuardAllowed)
		return id, status
	case GuardForbidden:
		e.metricInc(MetricGuardForbidden)
		e.emitAudit(ctx, AuditEventGuardReject, false, id.ID, CodeForbiddenResource, func() map[string]string {
			return map[string]string{"role": id.Role}
		})
	default:
		e.metricInc(MetricGuardUnauthorized)
		e.emitAudit(ctx, AuditEventGuardReject, false, "", CodeInvalidToken, nil)
	}
	return Identity{}, status
}
