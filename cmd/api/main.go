package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pio7/internal/account"
	"pio7/internal/attendance"
	"pio7/internal/audit"
	"pio7/internal/auth"
	"pio7/internal/cloudinary"
	"pio7/internal/config"
	"pio7/internal/course"
	"pio7/internal/handler"
	"pio7/internal/httpmiddleware"
	"pio7/internal/logging"
	"pio7/internal/progress"
	"pio7/internal/qrcode"
	"pio7/internal/queue"
	"pio7/internal/ratelimit"
	"pio7/internal/registration"
	"pio7/internal/report"
	"pio7/internal/store"
	"pio7/internal/submission"
)

// auditQueueKey is the Redis list / AMQP queue the worker drains.
const auditQueueKey = "audit:entries"

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := logging.New(nil, !cfg.Production())
	logger.EnableRollbar(cfg.RollbarToken, cfg.Env, cfg.Build)
	defer logger.Close()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Error("http server failed", "err", err)
		os.Exit(1)
	}
}

type repositories struct {
	users         account.Repository
	sessions      course.Repository
	codes         qrcode.Repository
	attendance    attendance.Repository
	audit         audit.Repository
	submissions   submission.Repository
	registrations registration.Repository
	progress      progress.Repository
}

func postgresRepos(db *sqlx.DB) repositories {
	return repositories{
		users:         account.NewPostgresRepository(db),
		sessions:      course.NewPostgresRepository(db),
		codes:         qrcode.NewPostgresRepository(db),
		attendance:    attendance.NewPostgresRepository(db),
		audit:         audit.NewPostgresRepository(db),
		submissions:   submission.NewPostgresRepository(db),
		registrations: registration.NewPostgresRepository(db),
		progress:      progress.NewPostgresRepository(db),
	}
}

func memoryRepos() repositories {
	users := account.NewMemoryRepository()
	return repositories{
		users:         users,
		sessions:      course.NewMemoryRepository(),
		codes:         qrcode.NewMemoryRepository(),
		attendance:    attendance.NewMemoryRepository(),
		audit:         audit.NewMemoryRepository(),
		submissions:   submission.NewMemoryRepository(),
		registrations: registration.NewMemoryRepository(users),
		progress:      progress.NewMemoryRepository(),
	}
}

func runHTTP(cfg config.App, logger *logging.StdLogger) error {
	var (
		db    *store.DB
		repos repositories
	)
	if cfg.StoreBackend == "memory" {
		logger.Warn("using in-memory store; data is lost on restart")
		repos = memoryRepos()
	} else {
		var err error
		db, err = store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if cfg.MigrateOnStart {
			if err := store.Migrate(cfg.DatabaseURL); err != nil {
				return err
			}
			logger.Info("migrations applied")
		}
		repos = postgresRepos(db.Client)
	}

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
	defer redisClient.Close()

	onError, err := ratelimit.ParseFailPolicy(cfg.RateLimitOnError)
	if err != nil {
		return err
	}
	loginMode, err := ratelimit.ParseMode(cfg.LoginRateMode)
	if err != nil {
		return err
	}
	var counters ratelimit.Store = ratelimit.NewMemoryStore()
	if cfg.RateLimitBackend == "redis" {
		counters = ratelimit.NewRedisStore(redisClient.Client)
	}
	limiter := ratelimit.New(counters, ratelimit.Options{OnError: onError, Timeout: cfg.RateLimitTimeout, Logger: logger})
	redeemLimit, err := ratelimit.Preset(cfg.RedeemRateLimit)
	if err != nil {
		return err
	}

	sink, closeSink, err := auditSink(cfg, repos.audit, redisClient, logger)
	if err != nil {
		return err
	}
	defer closeSink()
	recorder := audit.NewRecorder(sink, logger)

	accounts, err := account.NewService(repos.users,
		ratelimit.NewPolicy(loginMode, limiter, ratelimit.Auth, logger),
		limiter, recorder, account.Config{
			Issuer:          cfg.JWTIssuer,
			SigningKey:      cfg.JWTSigningKey,
			AccessTTL:       cfg.AccessTTL,
			TwoFactorIssuer: cfg.TwoFactorIssuer,
		}, logger)
	if err != nil {
		return err
	}
	if cfg.BootstrapAdminEmail != "" && cfg.BootstrapAdminPassword != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		u, created, err := accounts.EnsureAdmin(ctx, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword)
		cancel()
		if err != nil {
			return err
		}
		if created {
			logger.Info("bootstrap admin created", "user_id", u.ID, "email", u.Email)
		}
	}

	codes := qrcode.NewManager(repos.codes, repos.sessions, recorder, qrcode.Options{
		TTL:    cfg.QRCodeTTL,
		Length: cfg.QRCodeLength,
		Logger: logger,
	})
	cdn := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
	if cdn.Configured() {
		logger.Info("cloudinary configured", "cloud", cfg.CloudinaryCloudName)
	} else {
		logger.Warn("cloudinary not configured; submissions will fail")
	}

	h := &handler.Handler{
		Accounts:    accounts,
		Sessions:    repos.sessions,
		Codes:       codes,
		Attendance:  attendance.NewService(repos.attendance, codes, repos.sessions, limiter, recorder, attendance.Options{RedeemLimit: redeemLimit, Logger: logger}),
		Reports:     report.NewService(repos.sessions, repos.attendance, accounts),
		Submissions: submission.NewService(repos.submissions, repos.sessions, cdn, limiter, logger),
		Signups:     registration.NewService(repos.registrations, recorder, limiter, logger),
		Progress:    progress.NewService(repos.progress, repos.sessions, repos.attendance, recorder, logger),
		AuditLogs:   repos.audit,
		Recorder:    recorder,
		Limiter:     limiter,
		Log:         logger,
	}

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return err
	}
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := cfg.RateLimitBackend != "redis" || redisClient.Healthy(c.Request.Context())
		dbHealthy := cfg.StoreBackend == "memory" || db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"redis": redisHealthy, "db": dbHealthy})
	})

	api := r.Group("", httpmiddleware.RateLimit(limiter, ratelimit.Standard, httpmiddleware.KeyByIP("api")))
	h.Register(api, auth.RequireAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.HTTPPort, "store", cfg.StoreBackend, "rate_limit", cfg.RateLimitBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", "err", err)
	}
	logger.Info("server exited")
	return nil
}

// auditSink writes entries straight to the repository, or hands them to the
// worker through the queue when AUDIT_DELIVERY=queue.
func auditSink(cfg config.App, repo audit.Repository, redisClient *store.Redis, logger logging.Logger) (audit.Sink, func(), error) {
	if cfg.AuditDelivery != "queue" {
		return audit.RepositorySink{Repo: repo}, func() {}, nil
	}
	switch cfg.QueueBackend {
	case "amqp":
		q, err := queue.NewAMQPQueue(cfg.AMQPURL, auditQueueKey, logger)
		if err != nil {
			return nil, nil, err
		}
		return audit.QueueSink{Queue: q}, func() { _ = q.Close() }, nil
	case "redis":
		return audit.QueueSink{Queue: queue.NewRedisQueue(redisClient.Client, auditQueueKey, logger)}, func() {}, nil
	}
	// An in-process queue has no worker on the other end, so drain it here.
	q := queue.NewInMemory(256)
	ctx, cancel := context.WithCancel(context.Background())
	go persistAudit(ctx, q, repo, logger)
	return audit.QueueSink{Queue: q}, cancel, nil
}

func persistAudit(ctx context.Context, q queue.Queue, repo audit.Repository, logger logging.Logger) {
	msgs, err := q.Consume(ctx)
	if err != nil {
		logger.Error("audit consumer failed", "err", err)
		return
	}
	for msg := range msgs {
		e, err := audit.DecodeMessage(msg)
		if err != nil {
			logger.Error("audit message malformed", "err", err)
			continue
		}
		if err := repo.Insert(ctx, e); err != nil {
			logger.Error("audit write failed", "id", e.ID, "action", e.Action, "err", err)
		}
	}
}
