package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"main-stack/internal/config"
	"main-stack/internal/db"
	apihttp "main-stack/internal/http"
	"main-stack/internal/metrics"
	"main-stack/internal/otp"
	"main-stack/internal/queue"
	"main-stack/internal/repository"
	"main-stack/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()
	if err := db.Ping(ctx, pool); err != nil {
		logger.Fatal("db ping", zap.Error(err))
	}
	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	var (
		otpLimiter = service.NewOTPRateLimiter(10*time.Minute, 3)
		sessions   = service.NewMemorySessionStore()
	)
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	if err := redisClient.Ping(ctxPing).Err(); err != nil {
		// la cola sigue apuntando a redis; los requests de reset responden 503 hasta que vuelva
		logger.Warn("redis ping failed", zap.Error(err))
	} else {
		otpLimiter = service.NewRedisOTPRateLimiter(redisClient, 10*time.Minute, 3)
		sessions = service.NewRedisSessionStore(redisClient)
	}
	cancel()

	mailQueue, err := queue.New(redisClient, cfg.QueueName, queue.Options{
		MaxAttempts:    cfg.QueueMaxAttempts,
		Backoff:        queue.Backoff{Base: cfg.QueueBackoffBase, Max: cfg.QueueBackoffMax},
		Lease:          cfg.QueueLease,
		EnqueueTimeout: cfg.QueueEnqueueTimeout,
		MaxReady:       cfg.QueueMaxReady,
		CompletedTTL:   cfg.QueueCompletedTTL,
	})
	if err != nil {
		logger.Fatal("queue init", zap.Error(err))
	}

	otpGen, err := otp.NewGenerator(cfg.OTPSecret)
	if err != nil {
		logger.Fatal("otp generator init", zap.Error(err))
	}

	tokenSvc := service.NewTokenService(
		cfg.JWTSecret,
		time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute,
		time.Duration(cfg.JWTRefreshTTLMinutes)*time.Minute,
		sessions,
	)
	if cfg.JWTSecret == "" {
		logger.Warn("jwt secret not configured")
	}

	userRepo := repository.NewPgUserRepository(pool)
	productRepo := repository.NewPgProductRepository(pool)

	userSvc := service.NewUserService(logger, userRepo)
	resetSvc := service.NewPasswordResetService(logger, userRepo, otpGen, mailQueue, otpLimiter, tokenSvc, cfg.OTPInterval())
	productSvc := service.NewProductService(logger, productRepo)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	router := apihttp.NewRouter(apihttp.RouterDeps{
		Logger:         logger,
		Users:          apihttp.NewUserHandler(logger, userSvc, resetSvc, tokenSvc),
		Products:       apihttp.NewProductHandler(logger, productSvc),
		Tokens:         tokenSvc,
		Metrics:        metrics.NewHTTP(reg),
		AuthRateLimit:  apihttp.RateLimitMiddleware(apihttp.NewRateLimitStore(logger, redisClient), cfg.RateLimitLimit, cfg.RateLimitPeriod),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
}
