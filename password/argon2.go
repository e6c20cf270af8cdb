package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// MaxPasswordBytes bounds the input fed into Argon2.
const MaxPasswordBytes = 1024

// Lower bounds for both configured and parsed parameters.
const (
	floorMemoryKB = 8 * 1024
	floorBytes    = 16
)

var (
	// ErrEmptyPassword is returned by Hash for a zero-length secret.
	ErrEmptyPassword = errors.New("password: empty secret")
	// ErrPasswordTooLong is returned by Hash when the secret exceeds MaxPasswordBytes.
	ErrPasswordTooLong = errors.New("password: secret too long")

	errMalformedDigest = errors.New("password: malformed argon2id digest")
)

// Config holds the Argon2id cost parameters used for new digests.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns the production parameters (64 MiB, t=3, p=2).
func DefaultConfig() Config {
	return Config{Memory: 64 * 1024, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32}
}

func (c Config) validate() error {
	var problems []error
	if c.Memory < floorMemoryKB {
		problems = append(problems, fmt.Errorf("memory must be >= %d KB", floorMemoryKB))
	}
	if c.Time == 0 {
		problems = append(problems, errors.New("time must be >= 1"))
	}
	if c.Parallelism == 0 {
		problems = append(problems, errors.New("parallelism must be >= 1"))
	}
	if c.SaltLength < floorBytes {
		problems = append(problems, fmt.Errorf("salt length must be >= %d", floorBytes))
	}
	if c.KeyLength < floorBytes {
		problems = append(problems, fmt.Errorf("key length must be >= %d", floorBytes))
	}
	return errors.Join(problems...)
}

// Argon2 hashes and verifies secrets as PHC-encoded Argon2id digests.
// It is safe for concurrent use.
type Argon2 struct {
	config Config
}

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("password: %w", err)
	}
	return &Argon2{config: cfg}, nil
}

// digest is one decoded PHC string.
type digest struct {
	memory, time uint32
	threads      uint8
	salt, key    []byte
}

func (d digest) derive(secret string) []byte {
	return argon2.IDKey([]byte(secret), d.salt, d.time, d.memory, d.threads, uint32(len(d.key)))
}

func (d digest) params() string {
	return fmt.Sprintf("m=%d,t=%d,p=%d", d.memory, d.time, d.threads)
}

func (d digest) String() string {
	enc := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$%s$%s$%s", argon2.Version, d.params(), enc.EncodeToString(d.salt), enc.EncodeToString(d.key))
}

// decode parses s. Parameters must appear in canonical m,t,p order.
func decode(s string) (digest, error) {
	var d digest
	fields := strings.Split(s, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return d, errMalformedDigest
	}
	if fields[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return d, errMalformedDigest
	}
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &d.memory, &d.time, &d.threads); err != nil {
		return d, errMalformedDigest
	}
	if d.params() != fields[3] || d.memory < floorMemoryKB || d.time == 0 || d.threads == 0 {
		return d, errMalformedDigest
	}

	var err error
	if d.salt, err = decodeSegment(fields[4]); err != nil || len(d.salt) < floorBytes {
		return d, errMalformedDigest
	}
	if d.key, err = decodeSegment(fields[5]); err != nil || len(d.key) < floorBytes {
		return d, errMalformedDigest
	}
	return d, nil
}

// decodeSegment accepts both the unpadded PHC alphabet and padded base64.
func decodeSegment(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// Hash derives a salted digest for secret. Two calls with the same secret
// produce different digests. The secret is used as raw bytes.
func (a *Argon2) Hash(secret string) (string, error) {
	switch {
	case secret == "":
		return "", ErrEmptyPassword
	case len(secret) > MaxPasswordBytes:
		return "", ErrPasswordTooLong
	}

	d := digest{
		memory:  a.config.Memory,
		time:    a.config.Time,
		threads: a.config.Parallelism,
		salt:    make([]byte, a.config.SaltLength),
		key:     make([]byte, a.config.KeyLength),
	}
	if _, err := rand.Read(d.salt); err != nil {
		return "", fmt.Errorf("password: read salt: %w", err)
	}
	d.key = d.derive(secret)
	return d.String(), nil
}

// Verify reports whether secret matches encoded. A malformed or foreign
// digest yields false, never an error.
func (a *Argon2) Verify(secret, encoded string) bool {
	if secret == "" || len(secret) > MaxPasswordBytes {
		return false
	}
	d, err := decode(encoded)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(d.derive(secret), d.key) == 1
}

// NeedsUpgrade reports whether encoded was produced with weaker parameters
// than the hasher's current configuration.
func (a *Argon2) NeedsUpgrade(encoded string) (bool, error) {
	d, err := decode(encoded)
	if err != nil {
		return false, err
	}
	c := a.config
	return c.Memory > d.memory || c.Time > d.time || c.Parallelism > d.threads || c.KeyLength != uint32(len(d.key)), nil
}
