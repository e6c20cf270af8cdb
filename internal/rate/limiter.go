package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	Prefix             string
	EnableIPThrottle   bool
	MaxLoginAttempts   int
	LoginCooldown      time.Duration
	MaxOTPRequests     int
	OTPRequestCooldown time.Duration
}

// Limiter enforces per-identifier and per-IP budgets for password and OTP
// logins, and a per-identifier budget for OTP issuance. Each budget is a
// Redis counter whose TTL is the window.
type Limiter struct {
	rdb    redis.UniversalClient
	config Config
	keys   keys
}

// New creates a Limiter backed by rdb.
func New(rdb redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{rdb: rdb, config: cfg, keys: keys{prefix: cfg.Prefix}}
}

// loginKeys lists the counters one login attempt touches.
func (l *Limiter) loginKeys(identifier, ip string) []string {
	out := []string{l.keys.login(identifier)}
	if l.config.EnableIPThrottle && ip != "" {
		out = append(out, l.keys.loginIP(ip))
	}
	return out
}

// CheckLogin fails with ErrRateLimited when any login counter for the
// identifier or ip has reached the budget. It does not count.
func (l *Limiter) CheckLogin(ctx context.Context, identifier, ip string) error {
	for _, key := range l.loginKeys(identifier, ip) {
		n, err := l.peek(ctx, key)
		if err != nil {
			return err
		}
		if n >= int64(l.config.MaxLoginAttempts) {
			return ErrRateLimited
		}
	}
	return nil
}

// IncrementLogin records a failed attempt. It returns ErrRateLimited once
// a counter crosses the budget.
func (l *Limiter) IncrementLogin(ctx context.Context, identifier, ip string) error {
	for _, key := range l.loginKeys(identifier, ip) {
		n, err := l.hit(ctx, key, l.config.LoginCooldown)
		if err != nil {
			return err
		}
		if n > int64(l.config.MaxLoginAttempts) {
			return ErrRateLimited
		}
	}
	return nil
}

// ResetLogin clears the login counters after a successful login.
func (l *Limiter) ResetLogin(ctx context.Context, identifier, ip string) error {
	if err := l.rdb.Del(ctx, l.loginKeys(identifier, ip)...).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// CheckOTPRequest counts one OTP issuance and fails once the window's budget
// is spent. A zero budget disables the check.
func (l *Limiter) CheckOTPRequest(ctx context.Context, identifier string) error {
	if l.config.MaxOTPRequests <= 0 {
		return nil
	}
	n, err := l.hit(ctx, l.keys.otpRequest(identifier), l.config.OTPRequestCooldown)
	if err != nil {
		return err
	}
	if n > int64(l.config.MaxOTPRequests) {
		return ErrRateLimited
	}
	return nil
}

// GetLoginAttempts returns the failed-attempt count for identifier. An
// unknown identifier reads as zero.
func (l *Limiter) GetLoginAttempts(ctx context.Context, identifier string) (int, error) {
	n, err := l.peek(ctx, l.keys.login(identifier))
	if err != nil || n < 0 {
		return 0, err
	}
	return int(n), nil
}

func (l *Limiter) peek(ctx context.Context, key string) (int64, error) {
	n, err := l.rdb.Get(ctx, key).Int64()
	switch {
	case errors.Is(err, redis.Nil):
		return 0, nil
	case err != nil:
		return 0, unavailable(err)
	}
	return n, nil
}

// hit increments key. The first hit of a window sets its TTL, so the
// window is fixed rather than sliding.
func (l *Limiter) hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, key, window).Err(); err != nil {
			return 0, unavailable(err)
		}
	}
	return n, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}
