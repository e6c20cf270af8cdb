package internaldefs

import (
	"github.com/MrEthical07/cauth"
)

// CounterDef binds a counter to its exported name.
type CounterDef struct {
	ID   cauth.MetricID
	Name string
	Help string
}

// HistogramDef binds a histogram to its exported name.
type HistogramDef struct {
	ID   cauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in exposition order.
var CounterDefs = []CounterDef{
	{ID: cauth.MetricRegisterSuccess, Name: "cauth_register_success_total", Help: "Successful registrations."},
	{ID: cauth.MetricRegisterDuplicate, Name: "cauth_register_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: cauth.MetricRegisterInvalidRole, Name: "cauth_register_invalid_role_total", Help: "Registrations rejected for an unknown role."},
	{ID: cauth.MetricLoginSuccess, Name: "cauth_login_success_total", Help: "Successful password logins."},
	{ID: cauth.MetricLoginFailure, Name: "cauth_login_failure_total", Help: "Failed password logins."},
	{ID: cauth.MetricLoginRateLimited, Name: "cauth_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: cauth.MetricOTPRequested, Name: "cauth_otp_requested_total", Help: "Issued OTP challenges."},
	{ID: cauth.MetricOTPRequestRateLimited, Name: "cauth_otp_request_rate_limited_total", Help: "Rate-limited OTP requests."},
	{ID: cauth.MetricOTPLoginSuccess, Name: "cauth_otp_login_success_total", Help: "Successful OTP logins."},
	{ID: cauth.MetricOTPLoginFailure, Name: "cauth_otp_login_failure_total", Help: "Failed OTP logins."},
	{ID: cauth.MetricOTPVerifySuccess, Name: "cauth_otp_verify_success_total", Help: "Accepted OTP verifications."},
	{ID: cauth.MetricOTPVerifyFailure, Name: "cauth_otp_verify_failure_total", Help: "Rejected OTP verifications."},
	{ID: cauth.MetricRefreshSuccess, Name: "cauth_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: cauth.MetricRefreshFailure, Name: "cauth_refresh_failure_total", Help: "Failed refresh attempts."},
	{ID: cauth.MetricRefreshReplayRejected, Name: "cauth_refresh_replay_rejected_total", Help: "Refresh tokens rejected as already consumed."},
	{ID: cauth.MetricLogout, Name: "cauth_logout_total", Help: "Revoked refresh tokens."},
	{ID: cauth.MetricLogoutFailure, Name: "cauth_logout_failure_total", Help: "Logout attempts with an invalid refresh token."},
	{ID: cauth.MetricPasswordChangeSuccess, Name: "cauth_password_change_success_total", Help: "Successful password changes."},
	{ID: cauth.MetricPasswordChangeInvalidOld, Name: "cauth_password_change_invalid_old_total", Help: "Password changes with a wrong old password."},
	{ID: cauth.MetricGuardAllowed, Name: "cauth_guard_allowed_total", Help: "Requests admitted by the guard."},
	{ID: cauth.MetricGuardUnauthorized, Name: "cauth_guard_unauthorized_total", Help: "Requests rejected for a missing or invalid access token."},
	{ID: cauth.MetricGuardForbidden, Name: "cauth_guard_forbidden_total", Help: "Requests rejected for an insufficient role."},
	{ID: cauth.MetricInvalidInput, Name: "cauth_invalid_input_total", Help: "Operations rejected by input validation."},
	{ID: cauth.MetricSchemaViolation, Name: "cauth_schema_violation_total", Help: "Storage records that failed schema checks."},
	{ID: cauth.MetricBackendError, Name: "cauth_backend_error_total", Help: "Operations that failed on a storage or limiter error."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: cauth.MetricGuardLatency, Name: "cauth_guard_latency_seconds", Help: "Guard latency histogram."},
}

// HistogramBounds are the upper bounds, in seconds, of the eight buckets.
var HistogramBounds = []string{
	"0.00005",
	"0.0001",
	"0.00025",
	"0.0005",
	"0.001",
	"0.0025",
	"0.005",
	"+Inf",
}

// HistogramBoundSuffix spells HistogramBounds for use inside metric names.
var HistogramBoundSuffix = []string{
	"0_00005",
	"0_0001",
	"0_00025",
	"0_0005",
	"0_001",
	"0_0025",
	"0_005",
	"inf",
}

// NormalizeBuckets copies raw into a fixed eight-bucket array, padding with
// zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
