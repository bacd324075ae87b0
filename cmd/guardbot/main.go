package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"guardbot/internal/analytics"
	"guardbot/internal/bot"
	"guardbot/internal/config"
	"guardbot/internal/metrics"
	"guardbot/internal/modules/audit"
	"guardbot/internal/playbook"
	"guardbot/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	ctx := context.Background()
	loaded, err := store.Load(ctx)
	if err != nil {
		logger.Fatal("settings load failed", zap.Error(err))
	}
	logger.Info("settings loaded", zap.String("driver", cfg.Storage.Driver), zap.Int("guilds", loaded))
	if err := store.CleanupAuditLogs(ctx, cfg.RetentionDays); err != nil {
		logger.Warn("audit cleanup failed", zap.Error(err))
	}

	counters := metrics.New()
	auditLogger := audit.NewLogger(store, logger)
	auditLogger.AddNotifier(counters.ObserveAudit)
	playbookEngine := playbook.New(auditLogger)
	analyticsService := analytics.New(store)

	botSvc, err := bot.New(cfg, logger, store, playbookEngine, auditLogger, analyticsService, counters)
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}

	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started")

	var server *http.Server
	if cfg.Health.Enabled {
		router := chi.NewRouter()
		router.Use(middleware.Recoverer)
		router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		router.Handle("/metrics", counters.Handler())

		server = &http.Server{Addr: cfg.Health.Addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(shutdownCtx)
	}
	botSvc.Close()
}
