package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mutter0815/MailScheduler/internal/scheduling"
	"github.com/Mutter0815/MailScheduler/internal/store"
	"github.com/Mutter0815/MailScheduler/pkg/config"
	"github.com/Mutter0815/MailScheduler/pkg/db"
	"github.com/Mutter0815/MailScheduler/pkg/logx"
	"github.com/Mutter0815/MailScheduler/services/campaign-api/server"
)

func main() {
	logx.Init()
	defer logx.Sync()

	config.MustLoadAPI()
	cfg := config.API

	sqlDB, err := db.Open(cfg.DBDSN)
	if err != nil {
		logx.L().Fatalw("db_open_error", "error", err)
	}
	defer func() {
		if err := sqlDB.Close(); err != nil {
			logx.L().Warnw("db_close_error", "error", err)
		} else {
			logx.L().Infow("db_closed")
		}
	}()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	err = db.Migrate(migrateCtx, sqlDB)
	cancelMigrate()
	if err != nil {
		logx.L().Fatalw("db_migrate_error", "error", err)
	}

	st := store.New(sqlDB)
	svc := scheduling.NewService(st, cfg.MaxAttempts)
	srv := server.NewHTTPServer(":"+cfg.Port, server.NewHandlers(svc, st), cfg.CORSOrigins)

	go func() {
		logx.L().Infow("api_listen_start", "addr", ":"+cfg.Port, "cors_origins", cfg.CORSOrigins)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.L().Fatalw("http_server_error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logx.L().Infow("signal_received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logx.L().Errorw("server_shutdown_error", "error", err)
	} else {
		logx.L().Infow("server_shutdown_success")
	}

	logx.L().Infow("campaign-api stopped gracefully")
}
