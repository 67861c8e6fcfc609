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
	"main-stack/internal/domain"
	"main-stack/internal/email"
	"main-stack/internal/metrics"
	"main-stack/internal/queue"
	"main-stack/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

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

	sender := email.NewDisabledSender("email sender not configured")
	if cfg.SMTPHost != "" {
		smtpSender, err := email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     cfg.MailFrom(),
			FromName: cfg.SMTPFromName,
			UseTLS:   cfg.SMTPUseTLS,
			Timeout:  cfg.SMTPTimeout,
		})
		if err != nil {
			logger.Warn("smtp sender init failed", zap.Error(err))
		} else {
			sender = smtpSender
		}
	} else {
		logger.Warn("smtp not configured, reset emails will fail")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	w := worker.New(mailQueue, logger, metrics.NewWorker(reg), worker.Options{
		Concurrency:   cfg.WorkerConcurrency,
		PollTimeout:   cfg.WorkerPollTimeout,
		JobTimeout:    cfg.WorkerJobTimeout,
		SettleTimeout: cfg.WorkerSettleTimeout,
	})
	w.Register(domain.JobSendResetEmail, worker.NewMailHandler(sender))

	var metricsServer *http.Server
	if cfg.WorkerMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{
			Addr:              cfg.WorkerMetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	if err := w.Run(ctx); err != nil {
		logger.Error("worker run", zap.Error(err))
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
}
