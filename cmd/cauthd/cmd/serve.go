package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/cauth"
	"github.com/MrEthical07/cauth/delivery"
	"github.com/MrEthical07/cauth/metrics/export/prometheus"
	"github.com/MrEthical07/cauth/middleware"
	"github.com/MrEthical07/cauth/storage/bbolt"
	"github.com/MrEthical07/cauth/storage/memory"
	"github.com/MrEthical07/cauth/storage/postgres"
	redisstore "github.com/MrEthical07/cauth/storage/redis"
	"github.com/MrEthical07/cauth/transport/chiroutes"
	"github.com/MrEthical07/cauth/transport/ginauth"
)

var serveFlags ServerConfig

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadServerConfig(configPath, envFiles)
		if err != nil {
			return err
		}
		applyFlags(cmd, &cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger, err := newLogger(cfg.LogLevel)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.Addr, "addr", "", "listen address")
	f.StringVar(&serveFlags.Router, "router", "", "chi or gin")
	f.StringVar(&serveFlags.Storage, "storage", "", "memory, redis, postgres or bbolt")
	f.BoolVar(&serveFlags.Dev, "dev", false, "in-process Redis and random secrets")
	f.StringVar(&serveFlags.RedisURL, "redis-url", "", "Redis URL for storage and rate limiting")
	f.StringVar(&serveFlags.PostgresDSN, "postgres-dsn", "", "Postgres DSN")
	f.StringVar(&serveFlags.BoltPath, "bolt-path", "", "bbolt database file")
	f.StringVar(&serveFlags.QueueRedisURL, "queue-redis-url", "", "Redis URL for the OTP delivery queue")
	rootCmd.AddCommand(serveCmd)
}

func applyFlags(cmd *cobra.Command, cfg *ServerConfig) {
	f := cmd.Flags()
	if f.Changed("addr") {
		cfg.Addr = serveFlags.Addr
	}
	if f.Changed("router") {
		cfg.Router = serveFlags.Router
	}
	if f.Changed("storage") {
		cfg.Storage = serveFlags.Storage
	}
	if f.Changed("dev") {
		cfg.Dev = serveFlags.Dev
	}
	if f.Changed("redis-url") {
		cfg.RedisURL = serveFlags.RedisURL
	}
	if f.Changed("postgres-dsn") {
		cfg.PostgresDSN = serveFlags.PostgresDSN
	}
	if f.Changed("bolt-path") {
		cfg.BoltPath = serveFlags.BoltPath
	}
	if f.Changed("queue-redis-url") {
		cfg.QueueRedisURL = serveFlags.QueueRedisURL
	}
	if rootCmd.PersistentFlags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
}

// closers runs cleanups in reverse order.
type closers []func()

func (c closers) close() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func serve(ctx context.Context, cfg ServerConfig, logger *slog.Logger) error {
	var cleanup closers
	defer cleanup.close()

	if cfg.Dev && cfg.RedisURL == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start dev redis: %w", err)
		}
		cleanup = append(cleanup, mr.Close)
		cfg.RedisURL = "redis://" + mr.Addr()
		logger.Warn("dev mode: using in-process redis", "addr", mr.Addr())
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { _ = rdb.Close() })
	}

	storage, err := openStorage(ctx, cfg, rdb, &cleanup)
	if err != nil {
		return err
	}

	engine, err := buildEngine(cfg, storage, rdb, logger)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, engine.Close)

	sender, err := otpSender(cfg, logger, &cleanup)
	if err != nil {
		return err
	}

	handler, err := newHandler(cfg, engine, sender, logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("server failed: %w", err)
			return
		}
		done <- nil
	}()
	logger.Info("cauthd listening", "addr", cfg.Addr, "router", cfg.Router, "storage", cfg.Storage)

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return <-done
	}
}

func openStorage(ctx context.Context, cfg ServerConfig, rdb *redis.Client, cleanup *closers) (cauth.StorageContract, error) {
	switch cfg.Storage {
	case "memory":
		return memory.New(), nil
	case "redis":
		return redisstore.New(rdb, cfg.RedisPrefix), nil
	case "bbolt":
		s, err := bbolt.Open(cfg.BoltPath, nil)
		if err != nil {
			return nil, fmt.Errorf("open bbolt storage: %w", err)
		}
		*cleanup = append(*cleanup, func() { _ = s.Close() })
		return s, nil
	case "postgres":
		db, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		*cleanup = append(*cleanup, func() { _ = db.Close() })
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, err
		}
		return postgres.New(db), nil
	}
	return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
}

func engineConfig(cfg ServerConfig, storage cauth.StorageContract) cauth.Config {
	c := cauth.DefaultConfig()
	c.Storage = storage
	c.Roles = cfg.Roles
	c.JWT.AccessTokenLifeSpan = cfg.AccessTokenLifeSpan
	c.JWT.RefreshTokenLifeSpan = cfg.RefreshTokenLifeSpan
	c.JWT.Issuer = cfg.Issuer
	c.Refresh.MaxSessions = cfg.MaxSessions
	c.OTP.Length = cfg.OTPLength
	c.OTP.ExpiresIn = cfg.OTPExpiresInMS
	c.OTP.MaxAttempts = cfg.OTPMaxAttempts
	c.Metrics.Enabled = cfg.Metrics
	c.Metrics.EnableLatencyHistograms = cfg.Metrics
	c.Audit.Enabled = cfg.Audit
	c.RateLimit.Prefix = cfg.RedisPrefix + ":rl"
	return c
}

func buildEngine(cfg ServerConfig, storage cauth.StorageContract, rdb *redis.Client, logger *slog.Logger) (*cauth.Engine, error) {
	secrets, generated, err := sealSecrets(&cfg)
	if err != nil {
		return nil, err
	}
	if generated {
		logger.Warn("dev mode: generated random token secrets")
	}

	var engine *cauth.Engine
	err = secrets.open(func(access, refresh []byte) error {
		c := engineConfig(cfg, storage)
		c.AccessTokenSecret = access
		c.RefreshTokenSecret = refresh

		b := cauth.New().WithConfig(c).WithLogger(logger)
		if rdb != nil {
			b.WithRedis(rdb)
		}
		var err error
		engine, err = b.Build()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	return engine, nil
}

func otpSender(cfg ServerConfig, logger *slog.Logger, cleanup *closers) (middleware.OtpSender, error) {
	final := delivery.LogSender{Logger: logger}
	if cfg.QueueRedisURL == "" {
		return delivery.OtpSender(delivery.Direct{Sender: final}), nil
	}

	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse queue redis url: %w", err)
	}
	client := asynq.NewClient(opt)
	*cleanup = append(*cleanup, func() { _ = client.Close() })

	worker := delivery.NewWorker(opt, final, logger, 2, "")
	if err := worker.Start(); err != nil {
		return nil, fmt.Errorf("start delivery worker: %w", err)
	}
	*cleanup = append(*cleanup, worker.Shutdown)
	return delivery.OtpSender(delivery.NewAsynqNotifier(client)), nil
}

func newHandler(cfg ServerConfig, engine *cauth.Engine, sender middleware.OtpSender, logger *slog.Logger) (http.Handler, error) {
	if cfg.Router == "gin" {
		return ginHandler(cfg, engine, sender, logger)
	}
	return chiHandler(cfg, engine, sender, logger)
}

func chiHandler(cfg ServerConfig, engine *cauth.Engine, sender middleware.OtpSender, logger *slog.Logger) (http.Handler, error) {
	routes := middleware.NewRoutes(
		middleware.WithOtpSender(sender),
		middleware.WithAccessCookie(cfg.AccessCookie),
		middleware.WithLogger(logger),
	)
	router, err := cauth.NewRouter[http.Handler](engine, routes)
	if err != nil {
		return nil, err
	}
	if len(cfg.CORSOrigins) > 0 {
		logger.Warn("cors_origins is only applied by the gin router")
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	if cfg.Metrics {
		r.Method(http.MethodGet, "/metrics", prometheus.NewExporter(engine).Handler())
	}

	var opts []chiroutes.Option
	if cfg.RateLimitPerSecond > 0 {
		opts = append(opts, chiroutes.WithRateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
	}
	var mountErr error
	r.Route("/auth", func(r chi.Router) {
		mountErr = chiroutes.Mount(r, router, opts...)
	})
	return r, mountErr
}

func ginHandler(cfg ServerConfig, engine *cauth.Engine, sender middleware.OtpSender, logger *slog.Logger) (http.Handler, error) {
	router, err := cauth.NewRouter[gin.HandlerFunc](engine, ginauth.NewRoutes(
		ginauth.WithOtpSender(sender),
		ginauth.WithLogger(logger),
	))
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	if len(cfg.CORSOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = cfg.CORSOrigins
		corsConfig.AllowCredentials = true
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
		r.Use(cors.New(corsConfig))
	}

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	if cfg.Metrics {
		r.GET("/metrics", gin.WrapH(prometheus.NewExporter(engine).Handler()))
	}

	public := r.Group("/auth")
	if cfg.RateLimitPerSecond > 0 {
		limiter := middleware.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
		public.Use(func(c *gin.Context) {
			if !limiter.Allow(c.ClientIP()) {
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
					"code":    cauth.CodeRateLimited,
					"message": cauth.ErrRateLimited.Message,
				})
				return
			}
			c.Next()
		})
	}
	public.POST("/register", router.Register())
	public.POST("/login", router.Login())
	public.POST("/logout", router.Logout())
	public.POST("/refresh", router.Refresh())
	if router.SupportsOtp() {
		requestOtp, _ := router.RequestOtp()
		loginWithOtp, _ := router.LoginWithOtp()
		verifyOtp, _ := router.VerifyOtp()
		public.POST("/otp/request", requestOtp)
		public.POST("/otp/login", loginWithOtp)
		r.POST("/auth/otp/verify", router.Guard(), verifyOtp)
	}

	r.POST("/auth/password", router.Guard(), router.ChangePassword(""))
	r.GET("/auth/me", router.Guard(), func(c *gin.Context) {
		id, _ := ginauth.IdentityFrom(c)
		c.JSON(http.StatusOK, id)
	})
	return r, nil
}
