package cauth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/cauth/internal/audit"
	"github.com/MrEthical07/cauth/internal/flows"
	"github.com/MrEthical07/cauth/internal/rate"
	"github.com/MrEthical07/cauth/jwt"
	"github.com/MrEthical07/cauth/otp"
	"github.com/MrEthical07/cauth/password"
	"github.com/MrEthical07/cauth/refresh"
	"github.com/MrEthical07/cauth/store"
)

// Engine runs the session lifecycle on top of a storage contract. It holds
// no session state of its own and is safe for concurrent use once built.
type Engine struct {
	config  Config
	roles   map[string]struct{}
	tokens  *jwt.Codec
	refresh *refresh.Registry
	otp     *otp.Manager
	hasher  *password.Argon2
	limiter *rate.Limiter
	audit   *audit.Dispatcher
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
	deps    flows.Deps
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// Tokens exposes the codec for adapters that verify tokens themselves.
func (e *Engine) Tokens() *jwt.Codec {
	if e == nil {
		return nil
	}
	return e.tokens
}

// Roles returns a copy of the configured role set.
func (e *Engine) Roles() []string {
	if e == nil {
		return nil
	}
	return append([]string(nil), e.config.Roles...)
}

// Hasher exposes the password hasher, e.g. for seeding accounts.
func (e *Engine) Hasher() *password.Argon2 {
	if e == nil {
		return nil
	}
	return e.hasher
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return (*Metrics)(nil).Snapshot()
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) isRole(role string) bool {
	_, ok := e.roles[role]
	return ok
}

// check validates an input and counts rejections.
func (e *Engine) check(in any) *Error {
	if verr := validateInput(in); verr != nil {
		e.metricInc(MetricInvalidInput)
		return verr
	}
	return nil
}

// settle turns a flow failure into a result. Infrastructure errors are
// returned as errors and never as a failed result.
func settle[T any](e *Engine, kind flows.FailureKind, err error) (Result[T], error) {
	if kind == flows.FailureNone {
		e.metricInc(MetricBackendError)
		return Result[T]{}, fmt.Errorf("cauth: %w", err)
	}
	if kind == flows.FailureSchema {
		e.metricInc(MetricSchemaViolation)
		e.warn("cauth: storage returned a malformed record", "error", err)
	}
	return fail[T](e.failureError(kind)), nil
}

func (e *Engine) failureError(kind flows.FailureKind) *Error {
	switch kind {
	case flows.FailureInvalidData:
		return ErrInvalidData
	case flows.FailureCredentialMismatch:
		return ErrCredentialMismatch
	case flows.FailureAccountNotFound:
		return ErrAccountNotFound
	case flows.FailureInvalidRole:
		return invalidRole(e.config.Roles)
	case flows.FailureInvalidRefreshToken:
		return ErrInvalidRefreshToken
	case flows.FailureDuplicateAccount:
		return ErrDuplicateAccount
	case flows.FailureInvalidOTP:
		return ErrInvalidOTPCode
	case flows.FailureRateLimited:
		return ErrRateLimited
	}
	return ErrSchemaInvalid
}

func credential(email, phone string) store.Credential {
	return store.Credential{Email: email, PhoneNumber: phone}
}

func sessionOf(res flows.SessionResult) Session {
	return Session{
		Account: viewOf(res.Account),
		Tokens: TokenPair{
			AccessToken:  res.Tokens.AccessToken,
			RefreshToken: res.Tokens.RefreshToken,
		},
	}
}

// Register creates an account and logs it in. An empty password creates an
// account that can only log in with an OTP.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (Result[Session], error) {
	if e == nil {
		return Result[Session]{}, ErrEngineNotReady
	}
	if verr := e.check(in); verr != nil {
		return fail[Session](verr), nil
	}

	res := flows.RunRegister(ctx, flows.RegisterInput{
		Credential: credential(in.Email, in.PhoneNumber),
		Role:       in.Role,
		Password:   in.Password,
	}, e.deps)

	if res.Failure != flows.FailureNone || res.Err != nil {
		switch res.Failure {
		case flows.FailureDuplicateAccount:
			e.metricInc(MetricRegisterDuplicate)
		case flows.FailureInvalidRole:
			e.metricInc(MetricRegisterInvalidRole)
		}
		out, err := settle[Session](e, res.Failure, res.Err)
		e.emitAudit(ctx, AuditEventRegister, false, "", out.Code(), nil)
		return out, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, AuditEventRegister, true, res.Account.ID, "", nil)
	return ok(sessionOf(res)), nil
}

// Login authenticates with a password. Unknown credentials and wrong
// passwords are indistinguishable.
func (e *Engine) Login(ctx context.Context, in LoginInput) (Result[Session], error) {
	if e == nil {
		return Result[Session]{}, ErrEngineNotReady
	}
	if verr := e.check(in); verr != nil {
		return fail[Session](verr), nil
	}

	res := flows.RunLogin(ctx, flows.LoginInput{
		Credential: credential(in.Email, in.PhoneNumber),
		Password:   in.Password,
	}, e.deps)

	if res.Failure != flows.FailureNone || res.Err != nil {
		if res.Failure == flows.FailureRateLimited {
			e.metricInc(MetricLoginRateLimited)
		} else {
			e.metricInc(MetricLoginFailure)
		}
		out, err := settle[Session](e, res.Failure, res.Err)
		e.emitAudit(ctx, AuditEventLogin, false, "", out.Code(), nil)
		return out, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, AuditEventLogin, true, res.Account.ID, "", nil)
	return ok(sessionOf(res)), nil
}

// RequestOtp issues a code for the caller to deliver. With UsePassword the
// account's password must match first.
func (e *Engine) RequestOtp(ctx context.Context, in RequestOtpInput) (Result[OtpIssued], error) {
	if e == nil {
		return Result[OtpIssued]{}, ErrEngineNotReady
	}
	if verr := e.check(in); verr != nil {
		return fail[OtpIssued](verr), nil
	}

	res := flows.RunRequestOTP(ctx, flows.OTPRequestInput{
		Credential:  credential(in.Email, in.PhoneNumber),
		Purpose:     in.Purpose,
		Password:    in.Password,
		UsePassword: in.UsePassword,
	}, e.deps)

	meta := func() map[string]string { return map[string]string{"purpose": string(in.Purpose)} }
	if res.Failure != flows.FailureNone || res.Err != nil {
		if res.Failure == flows.FailureRateLimited {
			e.metricInc(MetricOTPRequestRateLimited)
		}
		out, err := settle[OtpIssued](e, res.Failure, res.Err)
		e.emitAudit(ctx, AuditEventOTPRequest, false, res.AccountID, out.Code(), meta)
		return out, err
	}

	e.metricInc(MetricOTPRequested)
	e.emitAudit(ctx, AuditEventOTPRequest, true, res.AccountID, "", meta)
	return ok(OtpIssued{
		AccountID: res.AccountID,
		Code:      res.Issued.Code,
		Purpose:   res.Issued.Purpose,
		ExpiresAt: res.Issued.ExpiresAt,
	}), nil
}

// LoginWithOtp consumes a LOGIN code and issues a session.
func (e *Engine) LoginWithOtp(ctx context.Context, in LoginWithOtpInput) (Result[Session], error) {
	if e == nil {
		return Result[Session]{}, ErrEngineNotReady
	}
	if verr := e.check(in); verr != nil {
		return fail[Session](verr), nil
	}

	res := flows.RunLoginWithOTP(ctx, flows.OTPLoginInput{
		Credential: credential(in.Email, in.PhoneNumber),
		Code:       in.Code,
	}, e.deps)

	if res.Failure != flows.FailureNone || res.Err != nil {
		if res.Failure == flows.FailureRateLimited {
			e.metricInc(MetricLoginRateLimited)
		} else {
			e.metricInc(MetricOTPLoginFailure)
		}
		out, err := settle[Session](e, res.Failure, res.Err)
		e.emitAudit(ctx, AuditEventLoginOTP, false, "", out.Code(), nil)
		return out, err
	}

	e.metricInc(MetricOTPLoginSuccess)
	e.emitAudit(ctx, AuditEventLoginOTP, true, res.Account.ID, "", nil)
	return ok(sessionOf(res)), nil
}

// VerifyOtp checks and consumes a code for any purpose. A rejected code is
// a successful result with IsValid false.
func (e *Engine) VerifyOtp(ctx context.Context, in VerifyOtpInput) (Result[OtpVerification], error) {
	if e == nil {
		return Result[OtpVerification]{}, ErrEngineNotReady
	}
	if verr := e.check(in); verr != nil {
		return fail[OtpVerification](verr), nil
	}

	res := flows.RunVerifyOTP(ctx, in.AccountID, in.Code, in.Purpose, e.deps)
	if res.Err != nil {
		return settle[OtpVerification](e, flows.FailureNone, res.Err)
	}

	if res.Valid {
		e.metricInc(MetricOTPVerifySuccess)
	} else {
		e.metricInc(MetricOTPVerifyFailure)
	}
	code := ""
	if !res.Valid {
		code = CodeInvalidOTP
	}
	e.emitAudit(ctx, AuditEventOTPVerify, res.Valid, in.AccountID, code, func() map[string]string {
		return map[string]string{"purpose": string(in.Purpose)}
	})
	return ok(OtpVerification{IsValid: res.Valid}), nil
}

// RefreshSession rotates a refresh token. The presented token is consumed;
// presenting it again fails with ErrInvalidRefreshToken.
func (e *Engine) RefreshSession(ctx context.Context, in RefreshInput) (Result[Session], error) {
	if e == nil {
		return Result[Session]{}, ErrEngineNotReady
	}
	if verr := e.check(in); verr != nil {
		return fail[Session](verr), nil
	}

	res := flows.RunRefresh(ctx, in.RefreshToken, e.deps)
	if res.Failure != flows.FailureNone || res.Err != nil {
		event := AuditEventRefresh
		subject := ""
		if res.Failure == flows.FailureInvalidRefreshToken {
			// A well-signed token without a record was consumed or evicted.
			if claims := e.tokens.VerifyRefresh(in.RefreshToken); claims != nil {
				event = AuditEventRefreshReplay
				subject = claims.ID
				e.metricInc(MetricRefreshReplayRejected)
			} else {
				e.metricInc(MetricRefreshFailure)
			}
		} else {
			e.metricInc(MetricRefreshFailure)
		}
		out, err := settle[Session](e, res.Failure, res.Err)
		e.emitAudit(ctx, event, false, subject, out.Code(), nil)
		return out, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, AuditEventRefresh, true, res.Account.ID, "", nil)
	return ok(sessionOf(res)), nil
}

// Logout revokes one refresh token. Other sessions of the account survive.
func (e *Engine) Logout(ctx context.Context, in LogoutInput) (Result[struct{}], error) {
	if e == nil {
		return Result[struct{}]{}, ErrEngineNotReady
	}
	if verr := e.check(in); verr != nil {
		return fail[struct{}](verr), nil
	}

	res := flows.RunLogout(ctx, in.RefreshToken, e.deps)
	if res.Failure != flows.FailureNone || res.Err != nil {
		e.metricInc(MetricLogoutFailure)
		out, err := settle[struct{}](e, res.Failure, res.Err)
		e.emitAudit(ctx, AuditEventLogout, false, res.AccountID, out.Code(), nil)
		return out, err
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, AuditEventLogout, true, res.AccountID, "", nil)
	return ok(struct{}{}), nil
}

// ChangePassword replaces the password after checking the old one.
// Outstanding refresh tokens stay valid.
func (e *Engine) ChangePassword(ctx context.Context, in ChangePasswordInput) (Result[struct{}], error) {
	if e == nil {
		return Result[struct{}]{}, ErrEngineNotReady
	}
	if verr := e.check(in); verr != nil {
		return fail[struct{}](verr), nil
	}

	res := flows.RunChangePassword(ctx, in.AccountID, in.OldPassword, in.NewPassword, e.deps)
	if res.Failure != flows.FailureNone || res.Err != nil {
		if res.Failure == flows.FailureCredentialMismatch {
			e.metricInc(MetricPasswordChangeInvalidOld)
		}
		out, err := settle[struct{}](e, res.Failure, res.Err)
		e.emitAudit(ctx, AuditEventPasswordChange, false, in.AccountID, out.Code(), nil)
		return out, err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, AuditEventPasswordChange, true, in.AccountID, "", nil)
	return ok(struct{}{}), nil
}
