package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tg_user_directory_bot/internal/config"
	"tg_user_directory_bot/internal/domain"
	"tg_user_directory_bot/internal/feature/bootstrap"
	"tg_user_directory_bot/internal/health"
	"tg_user_directory_bot/internal/logging"
	"tg_user_directory_bot/internal/session"
	"tg_user_directory_bot/internal/store"
	"tg_user_directory_bot/internal/telegram"
)

const (
	mongoConnectTimeout     = 10 * time.Second
	mongoIndexTimeout       = 5 * time.Second
	mongoDisconnectTimeout  = 5 * time.Second
	adminBootstrapTimeout   = 5 * time.Second
	healthShutdownTimeout   = 5 * time.Second
	telegramShutdownTimeout = 10 * time.Second
	sessionSweepInterval    = 5 * time.Minute
)

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Logger().WithError(err).Error("configuration error")
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Logger().WithError(err).Error("logger setup error")
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logger.WithField("event", "config_only").Info("configuration check")
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":    "startup",
		"mongo_db": cfg.MongoDB,
	}).Info("configuration loaded")

	connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	mongoManager, err := store.NewManager(connectCtx, cfg)
	cancel()
	if err != nil {
		logger.WithError(err).Error("mongo connection error")
		fmt.Fprintf(os.Stderr, "mongo connection error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "mongo_connect").Info("connected to mongo")

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
	if err := mongoManager.EnsureBaseIndexes(indexCtx); err != nil {
		cancelIndexes()
		logger.WithError(err).Error("mongo index setup error")
		fmt.Fprintf(os.Stderr, "mongo index setup error: %v\n", err)
		os.Exit(1)
	}
	cancelIndexes()

	logger.WithField("event", "mongo_indexes").Info("ensured base mongo indexes")

	if cfg.BotAdminID != 0 {
		adminRegistrar := bootstrap.NewRegistrar(mongoManager.Users(), logger)
		adminCtx, cancelAdmin := context.WithTimeout(context.Background(), adminBootstrapTimeout)
		if err := adminRegistrar.EnsureAdmin(adminCtx, cfg.BotAdminID); err != nil {
			cancelAdmin()
			logger.WithError(err).Error("admin bootstrap error")
			fmt.Fprintf(os.Stderr, "admin bootstrap error: %v\n", err)
			os.Exit(1)
		}
		cancelAdmin()
	}

	userDirectory := domain.NewDirectory(mongoManager.Users())
	statsProvider := store.NewStatsProvider(mongoManager.Users())
	sessions := session.NewStore(cfg.SessionTTL)

	tgClient, err := telegram.NewClient(cfg, logger,
		telegram.WithDirectory(userDirectory),
		telegram.WithSessions(sessions),
		telegram.WithStats(statsProvider),
	)
	if err != nil {
		logger.WithError(err).Error("telegram client setup error")
		fmt.Fprintf(os.Stderr, "telegram client setup error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerCtx, cancelWorkers := context.WithCancel(context.Background())

	go sessions.Run(workerCtx, sessionSweepInterval, logger)

	healthServer := health.NewServer(cfg.HTTPPort, mongoManager, logger)
	go func() {
		if err := healthServer.ListenAndServe(); err != nil {
			logger.WithError(err).Error("health server error")
		}
	}()

	tgDone := make(chan struct{})
	go func() {
		tgClient.Start(workerCtx)
		close(tgDone)
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping telegram polling")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	}

	cancelWorkers()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	select {
	case <-tgDone:
	case <-waitCtx.Done():
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram client to stop")
	}
	cancelWait()

	healthCtx, cancelHealth := context.WithTimeout(context.Background(), healthShutdownTimeout)
	if err := healthServer.Shutdown(healthCtx); err != nil {
		logger.WithError(err).Error("health server shutdown error")
	}
	cancelHealth()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	if err := mongoManager.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("mongo disconnect error")
	} else {
		logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
	}
	cancelShutdown()

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}
