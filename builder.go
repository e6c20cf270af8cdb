package cauth

import (
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/cauth/internal/audit"
	"github.com/MrEthical07/cauth/internal/flows"
	"github.com/MrEthical07/cauth/internal/rate"
	"github.com/MrEthical07/cauth/jwt"
	"github.com/MrEthical07/cauth/otp"
	"github.com/MrEthical07/cauth/password"
	"github.com/MrEthical07/cauth/refresh"
	"github.com/MrEthical07/cauth/store"
)

// Builder assembles an Engine. Configure it once, call Build, then discard
// it; a Builder cannot be reused.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	auditSink AuditSink
	logger    *slog.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStorage sets the storage contract.
func (b *Builder) WithStorage(s StorageContract) *Builder {
	b.config.Storage = s
	return b
}

// WithRedis enables Redis-backed rate limiting. Without it the engine runs
// unthrottled.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger routes best-effort warnings through logger instead of the
// standard log package.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for token, OTP and refresh expiry.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	accessTTL, _ := parseLifeSpan(cfg.JWT.AccessTokenLifeSpan)
	refreshTTL, _ := parseLifeSpan(cfg.JWT.RefreshTokenLifeSpan)

	// -------- PRIMITIVES --------
	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("password: %w", err)
	}

	codec, err := jwt.NewCodec(jwt.Config{
		AccessSecret:  cfg.AccessTokenSecret,
		RefreshSecret: cfg.RefreshTokenSecret,
		AccessTTL:     accessTTL,
		RefreshTTL:    refreshTTL,
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, fmt.Errorf("jwt: %w", err)
	}

	registry, err := refresh.NewRegistry(
		store.RefreshStore(cfg.Storage),
		cfg.RefreshTokenSecret,
		refresh.WithMaxSessions(cfg.Refresh.MaxSessions),
		refresh.WithClock(now),
	)
	if err != nil {
		return nil, err
	}

	otps, err := otp.NewManager(store.OTPStore(cfg.Storage), hasher, otp.Config{
		Length:      cfg.OTP.Length,
		ExpiresIn:   time.Duration(cfg.OTP.ExpiresIn) * time.Millisecond,
		MaxAttempts: cfg.OTP.MaxAttempts,
	}, now)
	if err != nil {
		return nil, err
	}

	dummy, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("password: %w", err)
	}

	// -------- ENGINE --------
	engine := &Engine{
		config:  cfg,
		roles:   make(map[string]struct{}, len(cfg.Roles)),
		tokens:  codec,
		refresh: registry,
		otp:     otps,
		hasher:  hasher,
		metrics: NewMetrics(cfg.Metrics),
		logger:  b.logger,
		now:     now,
	}
	for _, r := range cfg.Roles {
		engine.roles[r] = struct{}{}
	}

	sink := b.auditSink
	if sink == nil && b.logger != nil {
		sink = audit.NewSlogSink(b.logger)
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink)

	engine.deps = flows.Deps{
		Store:     cfg.Storage,
		Tokens:    codec,
		Refresh:   registry,
		OTP:       otps,
		Hasher:    hasher,
		IsRole:    engine.isRole,
		ClientIP:  clientIPFromContext,
		Now:       now,
		Warn:      engine.warn,
		DummyHash: dummy,
	}

	// -------- RATE LIMITING --------
	if b.redis != nil && cfg.RateLimit.Enabled {
		engine.limiter = rate.New(b.redis, rate.Config{
			Prefix:             cfg.RateLimit.Prefix,
			EnableIPThrottle:   cfg.RateLimit.EnableIPThrottle,
			MaxLoginAttempts:   cfg.RateLimit.MaxLoginAttempts,
			LoginCooldown:      cfg.RateLimit.LoginCooldown,
			MaxOTPRequests:     cfg.RateLimit.MaxOTPRequests,
			OTPRequestCooldown: cfg.RateLimit.OTPRequestCooldown,
		})
		engine.deps.Limiter = engine.limiter
	}

	b.built = true
	return engine, nil
}

func (e *Engine) warn(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Warn(msg, args...)
		return
	}
	log.Println(append([]any{msg}, args...)...)
}
