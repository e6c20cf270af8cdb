package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretBytes is the shortest HMAC secret NewCodec accepts.
const MinSecretBytes = 32

// Config defines the signing material and lifetimes of a Codec.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Leeway        time.Duration

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Claims is the payload of both token kinds.
type Claims struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Pair is a freshly issued access and refresh token.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Codec issues and verifies tokens. It is immutable after construction.
type Codec struct {
	config Config
	access *jwt.Parser
	refr   *jwt.Parser
}

// NewCodec validates cfg and returns a Codec.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.AccessSecret) < MinSecretBytes {
		return nil, fmt.Errorf("access secret must be at least %d bytes", MinSecretBytes)
	}
	if len(cfg.RefreshSecret) < MinSecretBytes {
		return nil, fmt.Errorf("refresh secret must be at least %d bytes", MinSecretBytes)
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.AccessSecret = append([]byte(nil), cfg.AccessSecret...)
	cfg.RefreshSecret = append([]byte(nil), cfg.RefreshSecret...)

	c := &Codec{config: cfg}
	c.access = c.newParser()
	c.refr = c.newParser()
	return c, nil
}

func (c *Codec) newParser() *jwt.Parser {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.config.Now),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}
	return jwt.NewParser(options...)
}

// AccessTTL returns the configured access-token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.config.AccessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.config.RefreshTTL }

// SignAccess issues an access token for the account.
func (c *Codec) SignAccess(id, role string) (string, error) {
	tok, _, err := c.sign(id, role, c.config.AccessTTL, c.config.AccessSecret)
	return tok, err
}

// SignRefresh issues a refresh token and reports its expiry.
func (c *Codec) SignRefresh(id, role string) (string, time.Time, error) {
	return c.sign(id, role, c.config.RefreshTTL, c.config.RefreshSecret)
}

// IssuePair signs both tokens for the account.
func (c *Codec) IssuePair(id, role string) (Pair, error) {
	access, err := c.SignAccess(id, role)
	if err != nil {
		return Pair{}, err
	}
	refresh, exp, err := c.SignRefresh(id, role)
	if err != nil {
		return Pair{}, err
	}
	return Pair{AccessToken: access, RefreshToken: refresh, RefreshExpiresAt: exp}, nil
}

func (c *Codec) sign(id, role string, ttl time.Duration, secret []byte) (string, time.Time, error) {
	if id == "" {
		return "", time.Time{}, errors.New("token subject id is empty")
	}
	now := c.config.Now()
	exp := now.Add(ttl)
	claims := Claims{
		ID:   id,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			// jti keeps tokens signed within the same second distinct.
			ID:        uuid.NewString(),
			Issuer:    c.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	// NumericDate truncates to seconds; report what the token carries.
	return signed, claims.ExpiresAt.Time, nil
}

// VerifyAccess returns the claims of a valid access token, or nil.
func (c *Codec) VerifyAccess(token string) *Claims {
	return verify(c.access, token, c.config.AccessSecret)
}

// VerifyRefresh returns the claims of a valid refresh token, or nil.
func (c *Codec) VerifyRefresh(token string) *Claims {
	return verify(c.refr, token, c.config.RefreshSecret)
}

func verify(parser *jwt.Parser, token string, secret []byte) *Claims {
	if token == "" {
		return nil
	}
	parsed, err := parser.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.ID == "" {
		return nil
	}
	return claims
}
