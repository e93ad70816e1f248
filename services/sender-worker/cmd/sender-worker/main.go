package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mutter0815/MailScheduler/internal/mailer"
	"github.com/Mutter0815/MailScheduler/internal/quota"
	"github.com/Mutter0815/MailScheduler/internal/store"
	"github.com/Mutter0815/MailScheduler/pkg/config"
	"github.com/Mutter0815/MailScheduler/pkg/db"
	"github.com/Mutter0815/MailScheduler/pkg/logx"
	"github.com/Mutter0815/MailScheduler/pkg/rmq"
	"github.com/Mutter0815/MailScheduler/services/sender-worker/worker"
)

func main() {
	logx.Init()
	defer logx.Sync()

	config.MustLoadWorker()
	cfg := config.Worker

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sqlDB, err := db.Open(cfg.DBDSN)
	if err != nil {
		logx.L().Fatalw("db_open_error", "error", err)
	}
	defer sqlDB.Close()

	initCtx, cancelInit := context.WithTimeout(ctx, 10*time.Second)
	rdb, err := quota.NewRedisClient(initCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	cancelInit()
	if err != nil {
		logx.L().Fatalw("redis_init_error", "addr", cfg.RedisAddr, "error", err)
	}
	defer rdb.Close()

	smtp := mailer.NewSMTP(mailer.SMTPConfig{
		Host:               cfg.SMTPHost,
		Port:               cfg.SMTPPort,
		User:               cfg.SMTPUser,
		Password:           cfg.SMTPPass,
		InsecureSkipVerify: cfg.SMTPInsecure,
	})

	deps := worker.Deps{
		Store:     store.New(sqlDB),
		Quota:     quota.NewTracker(quota.NewRedisCounter(rdb)),
		Transport: smtp,
	}
	if cfg.RMQURL != "" {
		pub, err := rmq.NewPublisher(cfg.RMQURL, cfg.EventsQueue)
		if err != nil {
			logx.L().Fatalw("rmq_init_error", "error", err)
		}
		defer func() {
			if err := pub.Close(); err != nil {
				logx.L().Warnw("rmq_publisher_close_error", "error", err)
			}
		}()
		deps.Events = pub
	}

	logx.L().Infow("sender_worker_starting",
		"smtp_host", smtp.Host(),
		"redis_addr", cfg.RedisAddr,
		"concurrency", cfg.Concurrency,
		"events_queue", cfg.EventsQueue,
		"events_enabled", deps.Events != nil,
	)

	if err := worker.New(cfg, deps).Run(ctx); err != nil {
		logx.L().Fatalw("worker_error", "error", err)
	}
	logx.L().Infow("sender-worker stopped gracefully")
}
