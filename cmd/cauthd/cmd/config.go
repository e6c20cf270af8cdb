package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/MrEthical07/cauth"
)

// ServerConfig is everything cauthd reads before building the engine.
type ServerConfig struct {
	Addr     string `toml:"addr"`
	Router   string `toml:"router"`
	Storage  string `toml:"storage"`
	Dev      bool   `toml:"dev"`
	LogLevel string `toml:"log_level"`

	RedisURL      string `toml:"redis_url"`
	RedisPrefix   string `toml:"redis_prefix"`
	PostgresDSN   string `toml:"postgres_dsn"`
	BoltPath      string `toml:"bolt_path"`
	QueueRedisURL string `toml:"queue_redis_url"`

	AccessTokenSecret  string   `toml:"access_token_secret"`
	RefreshTokenSecret string   `toml:"refresh_token_secret"`
	Roles              []string `toml:"roles"`

	AccessTokenLifeSpan  string `toml:"access_token_lifespan"`
	RefreshTokenLifeSpan string `toml:"refresh_token_lifespan"`
	Issuer               string `toml:"issuer"`
	MaxSessions          int    `toml:"max_sessions"`
	OTPLength            int    `toml:"otp_length"`
	OTPExpiresInMS       int64  `toml:"otp_expires_in_ms"`
	OTPMaxAttempts       int    `toml:"otp_max_attempts"`

	RateLimitPerSecond float64  `toml:"rate_limit_per_second"`
	RateLimitBurst     int      `toml:"rate_limit_burst"`
	AccessCookie       bool     `toml:"access_cookie"`
	CORSOrigins        []string `toml:"cors_origins"`
	Metrics            bool     `toml:"metrics"`
	Audit              bool     `toml:"audit"`
}

func defaultServerConfig() ServerConfig {
	engine := cauth.DefaultConfig()
	return ServerConfig{
		Addr:                 ":8080",
		Router:               "chi",
		Storage:              "memory",
		BoltPath:             "cauth.db",
		RedisPrefix:          "cauth",
		Roles:                []string{"user", "admin"},
		AccessTokenLifeSpan:  engine.JWT.AccessTokenLifeSpan,
		RefreshTokenLifeSpan: engine.JWT.RefreshTokenLifeSpan,
		MaxSessions:          engine.Refresh.MaxSessions,
		OTPLength:            engine.OTP.Length,
		OTPExpiresInMS:       engine.OTP.ExpiresIn,
		OTPMaxAttempts:       engine.OTP.MaxAttempts,
		RateLimitPerSecond:   5,
		RateLimitBurst:       10,
		Metrics:              true,
	}
}

// loadServerConfig layers defaults, the TOML file, dotenv files and the
// process environment, in that order.
func loadServerConfig(path string, dotenv []string) (ServerConfig, error) {
	cfg := defaultServerConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	for _, f := range dotenv {
		// godotenv never overrides variables that are already set.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", f, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *ServerConfig) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup("CAUTH_" + key); ok {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup("CAUTH_" + key); ok {
			*dst = splitList(v)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup("CAUTH_" + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("CAUTH_%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup("CAUTH_" + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("CAUTH_%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("ADDR", &c.Addr)
	str("ROUTER", &c.Router)
	str("STORAGE", &c.Storage)
	boolean("DEV", &c.Dev)
	str("LOG_LEVEL", &c.LogLevel)
	str("REDIS_URL", &c.RedisURL)
	str("REDIS_PREFIX", &c.RedisPrefix)
	str("POSTGRES_DSN", &c.PostgresDSN)
	str("BOLT_PATH", &c.BoltPath)
	str("QUEUE_REDIS_URL", &c.QueueRedisURL)
	str("ACCESS_TOKEN_SECRET", &c.AccessTokenSecret)
	str("REFRESH_TOKEN_SECRET", &c.RefreshTokenSecret)
	list("ROLES", &c.Roles)
	str("ACCESS_TOKEN_LIFESPAN", &c.AccessTokenLifeSpan)
	str("REFRESH_TOKEN_LIFESPAN", &c.RefreshTokenLifeSpan)
	str("ISSUER", &c.Issuer)
	integer("MAX_SESSIONS", &c.MaxSessions)
	integer("OTP_LENGTH", &c.OTPLength)
	integer("OTP_MAX_ATTEMPTS", &c.OTPMaxAttempts)
	integer("RATE_LIMIT_BURST", &c.RateLimitBurst)
	boolean("ACCESS_COOKIE", &c.AccessCookie)
	list("CORS_ORIGINS", &c.CORSOrigins)
	boolean("METRICS", &c.Metrics)
	boolean("AUDIT", &c.Audit)

	if v, ok := lookup("CAUTH_OTP_EXPIRES_IN_MS"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("CAUTH_OTP_EXPIRES_IN_MS: %w", err))
		} else {
			c.OTPExpiresInMS = n
		}
	}
	if v, ok := lookup("CAUTH_RATE_LIMIT_PER_SECOND"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("CAUTH_RATE_LIMIT_PER_SECOND: %w", err))
		} else {
			c.RateLimitPerSecond = f
		}
	}
	return errors.Join(errs...)
}

// Validate checks the server-level fields. Engine fields are checked by
// cauth.Config.Validate during Build.
func (c *ServerConfig) Validate() error {
	var errs []error
	switch c.Router {
	case "chi", "gin":
	default:
		errs = append(errs, fmt.Errorf("router must be chi or gin, got %q", c.Router))
	}
	switch c.Storage {
	case "memory", "bbolt":
	case "redis":
		if c.RedisURL == "" && !c.Dev {
			errs = append(errs, errors.New("redis storage needs redis_url or dev mode"))
		}
	case "postgres":
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres storage needs postgres_dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage must be memory, redis, postgres or bbolt, got %q", c.Storage))
	}
	if !c.Dev && (c.AccessTokenSecret == "" || c.RefreshTokenSecret == "") {
		errs = append(errs, errors.New("token secrets are required outside dev mode"))
	}
	if c.RateLimitPerSecond < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("rate limit values must be >= 0"))
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
