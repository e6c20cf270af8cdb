package cauth

import (
	"errors"
	"strings"
)

// Error types group error codes by the layer that rejected the request.
const (
	TypeValidation  = "validation-error"
	TypeCredential  = "credential-error"
	TypeUnknown     = "unknown-error"
	TypeInvalidData = "invalid-data-error"
)

// Stable wire codes. Adapters send these to clients.
const (
	CodeInvalidData         = "invalid-data"
	CodeCredentialMismatch  = "credential-mismatch"
	CodeAccountNotFound     = "account-not-found"
	CodeInvalidRole         = "invalid-role"
	CodeInvalidRefreshToken = "invalid-refresh-token"
	CodeDuplicateAccount    = "account-already-exists"
	CodeInvalidOTP          = "invalid-otp"
	CodeSchemaValidation    = "schema-validation"
	CodeRateLimited         = "too-many-requests"
	CodeInvalidToken        = "invalid-token"
	CodeForbiddenResource   = "forbidden-resource"
	CodeServerError         = "internal-server-error"
)

// Messages used by adapters for codes that have no Error value.
const (
	MessageInvalidToken      = "Invalid Token"
	MessageForbiddenResource = "You don't have sufficient permission for this action"
	MessageServerError       = "Internal server error. We are working to fix this, please try again later"
)

// Error is one expected failure of an engine operation.
//
// Two errors are equal under errors.Is when their codes match, so callers
// test failures against the exported kinds:
//
//	if errors.Is(res.Err(), cauth.ErrCredentialMismatch) { ... }
type Error struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Name    string `json:"name"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t == nil {
		return false
	}
	return t.Code == e.Code
}

var (
	// ErrInvalidData means the input failed shape validation.
	ErrInvalidData = &Error{Type: TypeValidation, Code: CodeInvalidData, Message: "Invalid Body", Name: "InvalidDataError"}
	// ErrCredentialMismatch means the account is unknown or the secret is wrong.
	ErrCredentialMismatch = &Error{Type: TypeCredential, Code: CodeCredentialMismatch, Message: "Credential mismatch. Please check your credentials and try again.", Name: "CredentialMismatch"}
	// ErrAccountNotFound means a token or id named an account that does not exist.
	ErrAccountNotFound = &Error{Type: TypeInvalidData, Code: CodeAccountNotFound, Message: "Account not found", Name: "AccountNotFoundError"}
	// ErrInvalidRole means the requested role is not configured.
	ErrInvalidRole = &Error{Type: TypeValidation, Code: CodeInvalidRole, Message: "Role is invalid", Name: "InvalidRoleError"}
	// ErrInvalidRefreshToken covers bad signatures, expiry, replay and rotated tokens.
	ErrInvalidRefreshToken = &Error{Type: TypeCredential, Code: CodeInvalidRefreshToken, Message: "Invalid refresh token", Name: "InvalidRefreshTokenError"}
	// ErrDuplicateAccount means the credential is already registered.
	ErrDuplicateAccount = &Error{Type: TypeValidation, Code: CodeDuplicateAccount, Message: "Account with this credentials already exists", Name: "DuplicateAccountError"}
	// ErrInvalidOTPCode collapses every OTP rejection into one outcome.
	ErrInvalidOTPCode = &Error{Type: TypeCredential, Code: CodeInvalidOTP, Message: "Invalid Otp. Please check and try again", Name: "InvalidOTPCode"}
	// ErrSchemaInvalid means the storage adapter returned malformed data.
	ErrSchemaInvalid = &Error{Type: TypeUnknown, Code: CodeSchemaValidation, Message: "Stored account data does not match the CAuth schema", Name: "SchemaInvalidError"}
	// ErrRateLimited means the caller exhausted its attempt budget.
	ErrRateLimited = &Error{Type: TypeCredential, Code: CodeRateLimited, Message: "Too many attempts. Please try again later", Name: "RateLimitedError"}
)

// Configuration and lifecycle errors returned by Build and Engine methods.
var (
	ErrStorageRequired = errors.New("cauth: storage contract is required")
	ErrEngineNotReady  = errors.New("cauth: engine not initialized")
	ErrBuilderUsed     = errors.New("cauth: builder already used")
	ErrRouterContract  = errors.New("cauth: routing contract is required")
	ErrOTPRoutesAbsent = errors.New("cauth: routing contract does not implement OTP routes")
)

func (e *Error) with(message string) *Error {
	out := *e
	out.Message = message
	return &out
}

func invalidData(reason string) *Error {
	return ErrInvalidData.with("Invalid Body: " + reason)
}

func invalidRole(roles []string) *Error {
	return ErrInvalidRole.with("Role is invalid, please use one of the following roles: " + strings.Join(roles, ", "))
}
