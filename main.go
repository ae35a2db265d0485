package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boweazy/smartflow/internal/config"
	"github.com/boweazy/smartflow/internal/log"
	"github.com/boweazy/smartflow/internal/metrics"
	"github.com/boweazy/smartflow/internal/notify"
	"github.com/boweazy/smartflow/internal/poller"
	"github.com/boweazy/smartflow/internal/retry"
	"github.com/boweazy/smartflow/internal/server"
	"github.com/boweazy/smartflow/internal/store"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func main() {
	logger := log.NewLogger()
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// A corrupt snapshot refuses to open; starting fresh over broken data
	// would silently lose bookings.
	st, err := store.Open(cfg.DataFile, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}

	notifiers := make(map[string]notify.Notifier)
	if cfg.EmailEnabled {
		notifiers[store.ChannelEmail] = notify.NewEmailNotifier(cfg, logger)
	}
	if cfg.SMSEnabled {
		notifiers[store.ChannelSMS] = notify.NewSMSNotifier(cfg, logger)
	}
	publisher := notify.NewStubPublisher(logger)
	tracker := retry.NewTracker(cfg.RetryBackoff, cfg.MaxSendAttempts, logger)
	schedulerMetrics := metrics.NewSchedulerMetrics(st, cfg, logger)
	duePoller := poller.NewPoller(st, publisher, notifiers, tracker, schedulerMetrics, cfg, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go duePoller.Run(ctx)
	go schedulerMetrics.Run(ctx)

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := st.CleanupBackups(cfg.BackupRetention); err != nil {
					logger.Error("Failed to clean up snapshot backups", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	r := chi.NewRouter()
	server.SetupRouter(r, cfg, st, logger)
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		logger.Info("Server starting", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
}
