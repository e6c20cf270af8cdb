package cauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/MrEthical07/cauth/jwt"
	"github.com/MrEthical07/cauth/otp"
	"github.com/MrEthical07/cauth/password"
	"github.com/MrEthical07/cauth/refresh"
	"github.com/MrEthical07/cauth/store"
)

// Config is the complete engine configuration. Start from DefaultConfig and
// override fields; Build validates the result and fails fast.
type Config struct {
	Storage            store.Contract
	AccessTokenSecret  []byte
	RefreshTokenSecret []byte
	Roles              []string

	JWT       JWTConfig
	OTP       OTPConfig
	Password  PasswordConfig
	Refresh   RefreshConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	RateLimit RateLimitConfig
}

// JWTConfig sets token lifetimes. Lifespans are human-readable durations
// such as "15m" or "7d"; days and weeks are accepted.
type JWTConfig struct {
	AccessTokenLifeSpan  string
	RefreshTokenLifeSpan string
	Issuer               string
	Leeway               time.Duration
}

// OTPConfig shapes issued codes. Zero values select the defaults.
type OTPConfig struct {
	Length int
	// ExpiresIn is the challenge lifetime in milliseconds.
	ExpiresIn int64
	// MaxAttempts is the number of wrong codes that void a challenge.
	MaxAttempts int
}

// PasswordConfig holds Argon2id cost parameters.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// RefreshConfig bounds outstanding refresh tokens per account. When the cap
// is reached the record expiring soonest is evicted.
type RefreshConfig struct {
	MaxSessions int
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// RateLimitConfig throttles credential guessing. It takes effect only when
// the builder receives a Redis client.
type RateLimitConfig struct {
	Enabled            bool
	Prefix             string
	EnableIPThrottle   bool
	MaxLoginAttempts   int
	LoginCooldown      time.Duration
	MaxOTPRequests     int
	OTPRequestCooldown time.Duration
}

// DefaultConfig returns production defaults without storage, secrets or
// roles.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	pw := password.DefaultConfig()
	return Config{
		JWT: JWTConfig{
			AccessTokenLifeSpan:  "15m",
			RefreshTokenLifeSpan: "7d",
		},
		OTP: OTPConfig{
			Length:      otp.DefaultLength,
			ExpiresIn:   otp.DefaultExpiresIn.Milliseconds(),
			MaxAttempts: otp.DefaultMaxAttempts,
		},
		Password: PasswordConfig{
			Memory:      pw.Memory,
			Time:        pw.Time,
			Parallelism: pw.Parallelism,
			SaltLength:  pw.SaltLength,
			KeyLength:   pw.KeyLength,
		},
		Refresh: RefreshConfig{
			MaxSessions: refresh.DefaultMaxSessions,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		RateLimit: RateLimitConfig{
			Enabled:            true,
			Prefix:             "cauth:rl",
			EnableIPThrottle:   true,
			MaxLoginAttempts:   5,
			LoginCooldown:      15 * time.Minute,
			MaxOTPRequests:     5,
			OTPRequestCooldown: 15 * time.Minute,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.AccessTokenSecret = cloneBytes(cfg.AccessTokenSecret)
	out.RefreshTokenSecret = cloneBytes(cfg.RefreshTokenSecret)
	out.Roles = append([]string(nil), cfg.Roles...)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// Validate reports every problem in c at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Storage == nil {
		errs = append(errs, ErrStorageRequired)
	}

	// Secrets
	if len(c.AccessTokenSecret) < jwt.MinSecretBytes {
		add("AccessTokenSecret must be at least %d bytes", jwt.MinSecretBytes)
	}
	if len(c.RefreshTokenSecret) < jwt.MinSecretBytes {
		add("RefreshTokenSecret must be at least %d bytes", jwt.MinSecretBytes)
	}
	if len(c.AccessTokenSecret) > 0 && string(c.AccessTokenSecret) == string(c.RefreshTokenSecret) {
		add("AccessTokenSecret and RefreshTokenSecret must differ")
	}

	// Roles
	if len(c.Roles) == 0 {
		add("Roles must not be empty")
	}
	seen := make(map[string]struct{}, len(c.Roles))
	for _, r := range c.Roles {
		if strings.TrimSpace(r) == "" {
			add("Roles must not contain blank entries")
			continue
		}
		if _, dup := seen[r]; dup {
			add("Roles contains duplicate %q", r)
		}
		seen[r] = struct{}{}
	}

	// JWT
	if _, err := parseLifeSpan(c.JWT.AccessTokenLifeSpan); err != nil {
		add("JWT AccessTokenLifeSpan: %v", err)
	}
	if _, err := parseLifeSpan(c.JWT.RefreshTokenLifeSpan); err != nil {
		add("JWT RefreshTokenLifeSpan: %v", err)
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		add("JWT Leeway must be within [0, 2m]")
	}

	// OTP
	if c.OTP.Length != 0 && (c.OTP.Length < otp.MinLength || c.OTP.Length > otp.MaxLength) {
		add("OTP Length must be within [%d, %d]", otp.MinLength, otp.MaxLength)
	}
	if c.OTP.ExpiresIn < 0 {
		add("OTP ExpiresIn must be >= 0")
	}
	if c.OTP.MaxAttempts < 0 {
		add("OTP MaxAttempts must be >= 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		add("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		add("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		add("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		add("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		add("Password KeyLength must be >= 16")
	}

	// Refresh
	if c.Refresh.MaxSessions < 1 || c.Refresh.MaxSessions > 100 {
		add("Refresh MaxSessions must be within [1, 100]")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		add("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Rate limiting
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxLoginAttempts <= 0 {
			add("RateLimit MaxLoginAttempts must be > 0")
		}
		if c.RateLimit.LoginCooldown <= 0 {
			add("RateLimit LoginCooldown must be > 0")
		}
		if c.RateLimit.MaxOTPRequests < 0 {
			add("RateLimit MaxOTPRequests must be >= 0")
		}
		if c.RateLimit.MaxOTPRequests > 0 && c.RateLimit.OTPRequestCooldown <= 0 {
			add("RateLimit OTPRequestCooldown must be > 0 when MaxOTPRequests is set")
		}
	}

	return errors.Join(errs...)
}

// parseLifeSpan parses a positive human-readable duration.
func parseLifeSpan(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("must not be empty")
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("must be > 0")
	}
	return d, nil
}
