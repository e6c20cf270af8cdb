// Package authtest builds cheap engines for adapter tests.
package authtest

import (
	"context"
	"testing"

	"github.com/MrEthical07/cauth"
	"github.com/MrEthical07/cauth/storage/memory"
)

// Config returns a valid configuration over s with low Argon2 cost and the
// roles "user" and "admin".
func Config(s cauth.StorageContract) cauth.Config {
	cfg := cauth.DefaultConfig()
	cfg.Storage = s
	cfg.AccessTokenSecret = []byte("access-secret-0123456789-abcdefghij")
	cfg.RefreshTokenSecret = []byte("refresh-secret-0123456789-abcdefghi")
	cfg.Roles = []string{"user", "admin"}
	cfg.Password = cauth.PasswordConfig{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Metrics.Enabled = true
	return cfg
}

// Engine builds an engine over a fresh memory store and closes it with t.
func Engine(t testing.TB, mutate func(*cauth.Config)) *cauth.Engine {
	t.Helper()

	cfg := Config(memory.New())
	if mutate != nil {
		mutate(&cfg)
	}
	engine, err := cauth.New().WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

// Register creates an email account and fails t on any error.
func Register(t testing.TB, e *cauth.Engine, email, password, role string) cauth.Session {
	t.Helper()

	res, err := e.Register(context.Background(), cauth.RegisterInput{Email: email, Password: password, Role: role})
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if !res.Success {
		t.Fatalf("Register failed: %v", res.Err())
	}
	return res.Value
}
