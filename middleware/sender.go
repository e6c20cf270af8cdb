package middleware

import (
	"context"
	"time"

	"github.com/MrEthical07/cauth"
)

// OtpDelivery is everything a sender needs to reach the account holder.
type OtpDelivery struct {
	AccountID   string           `json:"id"`
	Email       string           `json:"email,omitempty"`
	PhoneNumber string           `json:"phoneNumber,omitempty"`
	Purpose     cauth.OtpPurpose `json:"otpPurpose"`
	Code        string           `json:"code"`
	ExpiresAt   time.Time        `json:"expiresAt"`
}

// OtpSender delivers a code out of band.
type OtpSender interface {
	SendOtp(ctx context.Context, d OtpDelivery) error
}

// OtpSenderFunc adapts a function to OtpSender.
type OtpSenderFunc func(ctx context.Context, d OtpDelivery) error

func (f OtpSenderFunc) SendOtp(ctx context.Context, d OtpDelivery) error { return f(ctx, d) }
