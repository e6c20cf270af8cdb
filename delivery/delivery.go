// Package delivery moves issued OTP codes to the account holder.
//
// The engine only issues codes. A Notifier takes them from the HTTP layer
// either straight to a Sender (Direct) or through an asynq queue
// (AsynqNotifier) drained by a Worker. Queued payloads hold the raw code
// until the task runs, so the queue's Redis deserves the same protection
// as the account store.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/cauth"
	"github.com/MrEthical07/cauth/middleware"
)

var ErrNoDestination = errors.New("delivery: message has neither email nor phone number")

// Message is one code to deliver.
type Message struct {
	AccountID   string           `json:"id"`
	Email       string           `json:"email,omitempty"`
	PhoneNumber string           `json:"phoneNumber,omitempty"`
	Purpose     cauth.OtpPurpose `json:"otpPurpose"`
	Code        string           `json:"code"`
	ExpiresAt   time.Time        `json:"expiresAt"`
}

// Destination is the email, or the phone number when there is no email.
func (m Message) Destination() string {
	if m.Email != "" {
		return m.Email
	}
	return m.PhoneNumber
}

// Notifier accepts a message for delivery.
type Notifier interface {
	Deliver(ctx context.Context, m Message) error
}

// Sender talks to the final channel, e.g. an SMTP relay or SMS gateway.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

type SenderFunc func(ctx context.Context, m Message) error

func (f SenderFunc) Send(ctx context.Context, m Message) error { return f(ctx, m) }

// LogSender logs where a code would go. It never logs the code.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, m Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "otp delivery",
		"account_id", m.AccountID,
		"destination", m.Destination(),
		"purpose", string(m.Purpose),
		"expires_at", m.ExpiresAt,
	)
	return nil
}

// Direct delivers inline on the request goroutine.
type Direct struct {
	Sender Sender
}

func (d Direct) Deliver(ctx context.Context, m Message) error {
	if m.Destination() == "" {
		return ErrNoDestination
	}
	return d.Sender.Send(ctx, m)
}

// OtpSender adapts n for middleware.WithOtpSender and ginauth.WithOtpSender.
func OtpSender(n Notifier) middleware.OtpSender {
	return middleware.OtpSenderFunc(func(ctx context.Context, d middleware.OtpDelivery) error {
		return n.Deliver(ctx, Message(d))
	})
}
