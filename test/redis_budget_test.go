//go:build integration
// +build integration

package test

import (
	"context"
	"net"
	"sync/atomic"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/cauth"
	redisstore "github.com/MrEthical07/cauth/storage/redis"
)

// cmdCounter is a go-redis Hook that counts Redis round-trips.
type cmdCounter struct {
	commands  atomic.Int64
	pipelines atomic.Int64
}

func (h *cmdCounter) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *cmdCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.commands.Add(1)
		return next(ctx, cmd)
	}
}

func (h *cmdCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		h.pipelines.Add(1)
		h.commands.Add(int64(len(cmds)))
		return next(ctx, cmds)
	}
}

func (h *cmdCounter) Reset() {
	h.commands.Store(0)
	h.pipelines.Store(0)
}

func (h *cmdCounter) Commands() int64 { return h.commands.Load() }

// newCountedEngine uses one hooked client for storage and rate limiting.
func newCountedEngine(t *testing.T) (*cauth.Engine, *cmdCounter) {
	t.Helper()
	_, rdb := newRedis(t)

	// Warm the connection so handshake commands are not counted.
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("warmup ping: %v", err)
	}
	counter := &cmdCounter{}
	rdb.AddHook(counter)

	return newEngine(t, redisstore.New(rdb, "budget"), rdb), counter
}

func TestRedisBudgetGuardIsStateless(t *testing.T) {
	engine, counter := newCountedEngine(t)
	sess := register(t, engine, "guard@x.com")

	counter.Reset()
	for i := 0; i < 100; i++ {
		if _, status := engine.Guard(context.Background(), sess.Tokens.AccessToken); status != cauth.GuardAllowed {
			t.Fatalf("guard status %v", status)
		}
	}
	if got := counter.Commands(); got != 0 {
		t.Fatalf("guard issued %d redis commands, want 0", got)
	}
}

func TestRedisBudgetPerOperation(t *testing.T) {
	ctx := context.Background()
	engine, counter := newCountedEngine(t)
	sess := register(t, engine, "budget@x.com")

	const budget = 30

	counter.Reset()
	res, err := engine.Login(ctx, cauth.LoginInput{Email: "budget@x.com", Password: "secret1"})
	login := mustSession(t, res, err)
	if got := counter.Commands(); got == 0 || got > budget {
		t.Fatalf("login used %d commands, budget %d", got, budget)
	}

	counter.Reset()
	res, err = engine.RefreshSession(ctx, cauth.RefreshInput{RefreshToken: login.Tokens.RefreshToken})
	mustSession(t, res, err)
	if got := counter.Commands(); got == 0 || got > budget {
		t.Fatalf("refresh used %d commands, budget %d", got, budget)
	}

	counter.Reset()
	out, err := engine.Logout(ctx, cauth.LogoutInput{RefreshToken: sess.Tokens.RefreshToken})
	if err != nil || !out.Success {
		t.Fatalf("logout: %v %v", out.Err(), err)
	}
	if got := counter.Commands(); got == 0 || got > budget {
		t.Fatalf("logout used %d commands, budget %d", got, budget)
	}
}
