package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/Dan9191/tsf-backend/internal/app"
	"github.com/Dan9191/tsf-backend/internal/config"
	"github.com/Dan9191/tsf-backend/internal/handler"
	"github.com/Dan9191/tsf-backend/internal/jobs"
	"github.com/Dan9191/tsf-backend/internal/repository"
)

func main() {
	// Initialize logger
	logger := app.NewLogger(os.Getenv("LOG_LEVEL"))

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize layers
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	var stager handler.Stager
	if cfg.StagingDBConn != "" {
		staging, err := repository.NewStagingStore(ctx, cfg.StagingDBConn, cfg.StagingTable)
		if err != nil {
			logger.Fatalf("Failed to connect to staging database: %v", err)
		}
		defer staging.Close()
		stager = staging
	}

	janitor := jobs.NewJanitor(cfg.JobsDir, cfg.JobRetention, logger)
	scheduler, err := janitor.Schedule(cfg.CleanupSchedule)
	if err != nil {
		logger.Fatalf("Failed to schedule cleanup: %v", err)
	}
	defer scheduler.Stop()

	h := handler.NewHandler(a.Service, a.Tracker(), stager, logger, cfg.AppVersion)
	limiter := rate.NewLimiter(rate.Limit(cfg.StartRate), max(1, int(cfg.StartRate*2)))

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      h.Routes(cfg, limiter),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	go func() {
		logger.Infof("Starting server on %s (job backend %s)", addr, cfg.JobBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Shutdown failed: %v", err)
	}
}
