package cauth

import (
	"context"
	"io"
	"log/slog"

	"github.com/MrEthical07/cauth/internal/audit"
)

// Audit event types.
const (
	AuditEventRegister       = "register"
	AuditEventLogin          = "login"
	AuditEventLoginOTP       = "login_otp"
	AuditEventOTPRequest     = "otp_request"
	AuditEventOTPVerify      = "otp_verify"
	AuditEventRefresh        = "refresh"
	AuditEventRefreshReplay  = "refresh_replay"
	AuditEventLogout         = "logout"
	AuditEventPasswordChange = "password_change"
	AuditEventGuardReject    = "guard_reject"
)

type (
	// AuditEvent is one security-relevant outcome. Error carries a wire
	// code, never a secret.
	AuditEvent = audit.Event
	// AuditSink consumes events off the request path.
	AuditSink = audit.Sink
	NoOpSink  = audit.NoOpSink
)

// NewChannelSink buffers events on a channel read via Events.
func NewChannelSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink writes one JSON object per line.
func NewJSONWriterSink(w io.Writer) *audit.JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewSlogSink logs events as structured records.
func NewSlogSink(logger *slog.Logger) *audit.SlogSink {
	return audit.NewSlogSink(logger)
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, accountID, code string, metadata func() map[string]string) {
	if e == nil || e.audit == nil {
		return
	}
	event := AuditEvent{
		Timestamp: e.now(),
		EventType: eventType,
		AccountID: accountID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
	}
	if !success {
		if code == "" {
			code = CodeServerError
		}
		event.Error = code
	}
	if metadata != nil {
		event.Metadata = metadata()
	}
	e.audit.Emit(ctx, event)
}
