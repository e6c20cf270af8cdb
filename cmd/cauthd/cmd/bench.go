package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/cauth"
	"github.com/MrEthical07/cauth/storage/memory"
	redisstore "github.com/MrEthical07/cauth/storage/redis"
)

var benchFlags struct {
	accounts    int
	concurrency int
	ops         int
	storage     string
	redisAddr   string
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure guard and refresh throughput against a storage backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		if benchFlags.accounts <= 0 || benchFlags.concurrency <= 0 || benchFlags.ops <= 0 {
			return errors.New("accounts, concurrency and ops must be > 0")
		}
		return runBench(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	f := benchCmd.Flags()
	f.IntVar(&benchFlags.accounts, "accounts", 1000, "number of accounts to seed")
	f.IntVar(&benchFlags.concurrency, "concurrency", 64, "number of concurrent workers")
	f.IntVar(&benchFlags.ops, "ops", 20000, "operations per phase")
	f.StringVar(&benchFlags.storage, "storage", "memory", "memory or redis")
	f.StringVar(&benchFlags.redisAddr, "redis-addr", "", "redis address; miniredis when empty")
	rootCmd.AddCommand(benchCmd)
}

type benchAccount struct {
	mu      sync.Mutex
	access  string
	refresh string
}

func runBench(ctx context.Context, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var storage cauth.StorageContract = memory.New()
	if benchFlags.storage == "redis" {
		addr := benchFlags.redisAddr
		if addr == "" {
			mr, err := miniredis.Run()
			if err != nil {
				return fmt.Errorf("start miniredis: %w", err)
			}
			defer mr.Close()
			addr = mr.Addr()
			fmt.Fprintf(out, "using miniredis at %s\n", addr)
		}
		client := redis.NewClient(&redis.Options{Addr: addr})
		defer client.Close()
		storage = redisstore.New(client, "cauth-bench")
	}

	cfg := cauth.DefaultConfig()
	cfg.Storage = storage
	cfg.Roles = []string{"user"}
	cfg.AccessTokenSecret = []byte("bench-access-secret-0123456789abcdef")
	cfg.RefreshTokenSecret = []byte("bench-refresh-secret-0123456789abcde")
	// Seeding hashes one password per account.
	cfg.Password = cauth.PasswordConfig{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	engine, err := cauth.New().
		WithConfig(cfg).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	accounts := make([]*benchAccount, benchFlags.accounts)
	fmt.Fprintf(out, "seeding %d accounts...\n", len(accounts))
	startSeed := time.Now()
	for i := range accounts {
		res, err := engine.Register(ctx, cauth.RegisterInput{
			Email:    fmt.Sprintf("bench-%d@example.com", i),
			Password: "bench-password",
			Role:     "user",
		})
		if err != nil {
			return err
		}
		if !res.Success {
			return res.Err()
		}
		accounts[i] = &benchAccount{access: res.Value.Tokens.AccessToken, refresh: res.Value.Tokens.RefreshToken}
	}
	fmt.Fprintf(out, "seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	guardStats := runPhase(benchFlags.ops, benchFlags.concurrency, 7919, func(r *rand.Rand) (time.Duration, error) {
		a := accounts[r.Intn(len(accounts))]
		a.mu.Lock()
		token := a.access
		a.mu.Unlock()

		t0 := time.Now()
		_, status := engine.Guard(ctx, token)
		d := time.Since(t0)
		if status != cauth.GuardAllowed {
			return d, errors.New(status.String())
		}
		return d, nil
	})

	refreshStats := runPhase(benchFlags.ops, benchFlags.concurrency, 6151, func(r *rand.Rand) (time.Duration, error) {
		a := accounts[r.Intn(len(accounts))]
		a.mu.Lock()
		defer a.mu.Unlock()

		t0 := time.Now()
		res, err := engine.RefreshSession(ctx, cauth.RefreshInput{RefreshToken: a.refresh})
		d := time.Since(t0)
		if err != nil {
			return d, err
		}
		if !res.Success {
			return d, res.Err()
		}
		a.access = res.Value.Tokens.AccessToken
		a.refresh = res.Value.Tokens.RefreshToken
		return d, nil
	})

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "guard", guardStats)
	printStats(out, "refresh", refreshStats)
	return nil
}

// runPhase spreads ops calls of op over concurrency workers.
func runPhase(ops, concurrency int, seed int64, op func(*rand.Rand) (time.Duration, error)) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				if int(atomic.AddInt64(&cursor, 1))-1 >= ops {
					return
				}
				d, err := op(r)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(out io.Writer, name string, s phaseStats) {
	fmt.Fprintf(out, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
