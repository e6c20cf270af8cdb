package cauth

import (
	"time"

	"github.com/MrEthical07/cauth/otp"
	"github.com/MrEthical07/cauth/store"
)

// Re-exported storage types, so callers can implement a contract without
// importing store directly.
type (
	Account         = store.Account
	Credential      = store.Credential
	NewAccount      = store.NewAccount
	AccountUpdate   = store.AccountUpdate
	StorageContract = store.Contract
	OtpChallenge    = otp.Challenge
	OtpPurpose      = otp.Purpose
)

const (
	PurposeLogin         = otp.PurposeLogin
	PurposeResetPassword = otp.PurposeResetPassword
	PurposeAction        = otp.PurposeAction
)

// AccountView is an account without its password hash or refresh records.
type AccountView struct {
	ID          string    `json:"id"`
	Email       string    `json:"email,omitempty"`
	PhoneNumber string    `json:"phoneNumber,omitempty"`
	Role        string    `json:"role"`
	LastLogin   time.Time `json:"lastLogin"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func viewOf(a *store.Account) AccountView {
	if a == nil {
		return AccountView{}
	}
	return AccountView{
		ID:          a.ID,
		Email:       a.Email,
		PhoneNumber: a.PhoneNumber,
		Role:        a.Role,
		LastLogin:   a.LastLogin,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

// TokenPair is a freshly issued access and refresh token.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Identity is the authenticated subject of an access token.
type Identity struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Session is returned by every operation that logs an account in.
type Session struct {
	Account AccountView `json:"account"`
	Tokens  TokenPair   `json:"tokens"`
}

// OtpIssued carries a raw code for the caller to deliver out of band.
type OtpIssued struct {
	AccountID string     `json:"id"`
	Code      string     `json:"code"`
	Purpose   OtpPurpose `json:"purpose"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

// OtpVerification reports whether a code was accepted and consumed.
type OtpVerification struct {
	IsValid bool `json:"isValid"`
}

// RegisterInput creates an account. Exactly one of Email and PhoneNumber
// is set. An empty Password creates an OTP-only account. Role is checked
// against the configured roles, so an empty role is an InvalidRole.
type RegisterInput struct {
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	PhoneNumber string `json:"phoneNumber,omitempty" validate:"omitempty,e164"`
	Role        string `json:"role"`
	Password    string `json:"password,omitempty" validate:"omitempty,max=1024"`
}

// LoginInput authenticates with a password. Length policy applies only when
// a password is set, so a short guess is an ordinary mismatch.
type LoginInput struct {
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	PhoneNumber string `json:"phoneNumber,omitempty" validate:"omitempty,e164"`
	Password    string `json:"password" validate:"required,max=1024"`
}

// RequestOtpInput asks for a code. With UsePassword the password must match
// before a code is issued.
type RequestOtpInput struct {
	Email       string     `json:"email,omitempty" validate:"omitempty,email"`
	PhoneNumber string     `json:"phoneNumber,omitempty" validate:"omitempty,e164"`
	Purpose     OtpPurpose `json:"otpPurpose" validate:"required"`
	Password    string     `json:"password,omitempty" validate:"omitempty,max=1024"`
	UsePassword bool       `json:"usePassword,omitempty"`
}

// LoginWithOtpInput authenticates with a LOGIN code.
type LoginWithOtpInput struct {
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	PhoneNumber string `json:"phoneNumber,omitempty" validate:"omitempty,e164"`
	Code        string `json:"code" validate:"required,numeric,min=4,max=8"`
}

// VerifyOtpInput checks a code for any purpose.
type VerifyOtpInput struct {
	AccountID string     `json:"id" validate:"required"`
	Code      string     `json:"code" validate:"required,numeric,min=4,max=8"`
	Purpose   OtpPurpose `json:"otpPurpose" validate:"required"`
}

// RefreshInput exchanges a refresh token.
type RefreshInput struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// LogoutInput revokes a refresh token.
type LogoutInput struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// ChangePasswordInput replaces an account's password.
type ChangePasswordInput struct {
	AccountID   string `json:"accountId" validate:"required"`
	OldPassword string `json:"oldPassword" validate:"required,max=1024"`
	NewPassword string `json:"newPassword" validate:"required,min=6,max=1024"`
}
