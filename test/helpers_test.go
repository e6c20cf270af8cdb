//go:build integration
// +build integration

package test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/cauth"
	"github.com/MrEthical07/cauth/storage/bbolt"
	"github.com/MrEthical07/cauth/storage/memory"
	redisstore "github.com/MrEthical07/cauth/storage/redis"
)

type backend struct {
	name string
	open func(t *testing.T) cauth.StorageContract
}

var backends = []backend{
	{"memory", func(*testing.T) cauth.StorageContract { return memory.New() }},
	{"bbolt", func(t *testing.T) cauth.StorageContract {
		s, err := bbolt.Open(filepath.Join(t.TempDir(), "cauth.db"), nil)
		if err != nil {
			t.Fatalf("bbolt open: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	}},
	{"redis", func(t *testing.T) cauth.StorageContract {
		_, rdb := newRedis(t)
		return redisstore.New(rdb, "it")
	}},
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func integrationConfig(s cauth.StorageContract) cauth.Config {
	cfg := cauth.DefaultConfig()
	cfg.Storage = s
	cfg.AccessTokenSecret = []byte("integration-access-secret-0123456789")
	cfg.RefreshTokenSecret = []byte("integration-refresh-secret-012345678")
	cfg.Roles = []string{"user", "admin"}
	cfg.Password = cauth.PasswordConfig{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Metrics.Enabled = true
	return cfg
}

func newEngine(t *testing.T, s cauth.StorageContract, rdb redis.UniversalClient) *cauth.Engine {
	t.Helper()
	b := cauth.New().WithConfig(integrationConfig(s))
	if rdb != nil {
		b.WithRedis(rdb)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func mustSession(t *testing.T, res cauth.Result[cauth.Session], err error) cauth.Session {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("unexpected failure: %v", res.Err())
	}
	return res.Value
}

func register(t *testing.T, e *cauth.Engine, email string) cauth.Session {
	t.Helper()
	res, err := e.Register(context.Background(), cauth.RegisterInput{Email: email, Password: "secret1", Role: "user"})
	return mustSession(t, res, err)
}
