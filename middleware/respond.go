package middleware

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/MrEthical07/cauth"
)

// Operation names a route for status mapping.
type Operation int

const (
	OpRegister Operation = iota
	OpLogin
	OpLogout
	OpRefresh
	OpChangePassword
	OpRequestOtp
	OpLoginWithOtp
	OpVerifyOtp
)

type codeBody struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, codeBody{Code: code, Message: message})
}

// writeFailure sends an engine failure. Schema violations surface as a
// plain server error.
func writeFailure(w http.ResponseWriter, op Operation, e *cauth.Error) {
	status := StatusFor(op, e)
	if status == http.StatusInternalServerError {
		writeCode(w, status, cauth.CodeServerError, cauth.MessageServerError)
		return
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}
	writeCode(w, status, e.Code, e.Message)
}

// StatusFor maps an engine failure to an HTTP status. A credential mismatch
// on a password change means the caller is authenticated but wrong, so it
// is 401 there and 409 everywhere else.
func StatusFor(op Operation, e *cauth.Error) int {
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Code {
	case cauth.CodeInvalidData:
		return http.StatusBadRequest
	case cauth.CodeInvalidRole, cauth.CodeDuplicateAccount:
		return http.StatusConflict
	case cauth.CodeCredentialMismatch:
		if op == OpChangePassword {
			return http.StatusUnauthorized
		}
		return http.StatusConflict
	case cauth.CodeAccountNotFound:
		return http.StatusNotFound
	case cauth.CodeInvalidRefreshToken:
		return http.StatusUnauthorized
	case cauth.CodeInvalidOTP:
		return http.StatusUnprocessableEntity
	case cauth.CodeRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// RemoteIP is the host part of r.RemoteAddr.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
