package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"alarmflow/config"
	"alarmflow/internal/access"
	"alarmflow/internal/auth"
	"alarmflow/internal/hub"
	"alarmflow/internal/server"
	"alarmflow/internal/store"
	"alarmflow/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Alarmflow.Name,
		"version": cfg.Alarmflow.Version,
	}).Info("starting alarmflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleShutdown(cancel, log)

	st, err := store.Open(cfg.Storage.Path, log)
	if err != nil {
		log.WithError(err).Error("Failed to open store")
		os.Exit(1)
	}
	defer st.Close()

	resolver := access.NewResolver(st.DB())
	authSvc := auth.NewService(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	registry := hub.NewRegistry()
	notifier := hub.NewNotifier(registry, resolver, st, log)

	srv := server.NewServer(cfg, log, st, resolver, authSvc, registry, notifier)
	if err := srv.Run(ctx); err != nil {
		log.WithError(err).Error("server exited with error")
		os.Exit(1)
	}

	log.Info("alarmflow stopped")
}

func handleShutdown(cancel context.CancelFunc, log *logger.Log) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	cancel()
}
