package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chatpd/orchestrator/internal/app"
	"github.com/chatpd/orchestrator/internal/config"
	"github.com/chatpd/orchestrator/pkg/utils"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("No .env file found")
	}

	logger := utils.GetLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize service")
	}

	background, cancelBackground := context.WithCancel(context.Background())
	application.Start(background)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           application.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":          cfg.Server.Port,
			"cache_backend": cfg.Cache.Backend,
			"cache_enabled": cfg.Cache.Enabled,
			"semantic":      cfg.SemanticEnabled(),
			"llm":           cfg.LLMEnabled(),
		}).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, draining requests...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}

	cancelBackground()
	if err := application.Close(); err != nil {
		logger.WithError(err).Error("Failed to close connections")
	}
	logger.Info("Server stopped")
}
