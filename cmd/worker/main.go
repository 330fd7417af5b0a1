package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pio7/internal/audit"
	"pio7/internal/config"
	"pio7/internal/logging"
	"pio7/internal/queue"
	"pio7/internal/store"
)

const auditQueueKey = "audit:entries"

// Worker drains queued audit entries into Postgres.
func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	logger := logging.New(nil, !cfg.Production())
	logger.EnableRollbar(cfg.RollbarToken, cfg.Env, cfg.Build)
	defer logger.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	repo := audit.NewPostgresRepository(db.Client)

	var q queue.Queue
	switch cfg.QueueBackend {
	case "amqp":
		aq, err := queue.NewAMQPQueue(cfg.AMQPURL, auditQueueKey, logger)
		if err != nil {
			logger.Error("amqp connect failed", "err", err)
			os.Exit(1)
		}
		defer aq.Close()
		q = aq
	case "redis":
		redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
		defer redisClient.Close()
		q = queue.NewRedisQueue(redisClient.Client, auditQueueKey, logger)
	default:
		logger.Error("worker needs a shared queue", "backend", cfg.QueueBackend)
		os.Exit(1)
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		logger.Error("queue consume init failed", "err", err)
		os.Exit(1)
	}

	logger.Info("worker started", "queue", auditQueueKey, "backend", cfg.QueueBackend)
	for msg := range messages {
		e, err := audit.DecodeMessage(msg)
		if err != nil {
			logger.Warn("skipping message", "type", msg.Type, "err", err)
			continue
		}
		writeCtx, cancelWrite := context.WithTimeout(context.Background(), audit.DefaultWriteTimeout+3*time.Second)
		err = repo.Insert(writeCtx, e)
		cancelWrite()
		if err != nil {
			logger.Error("audit write failed", "id", e.ID, "action", e.Action, "err", err)
			continue
		}
		logger.Debug("audit entry stored", "id", e.ID, "action", e.Action)
	}

	logger.Info("worker stopped")
}
