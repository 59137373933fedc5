package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iago/resume-analyzer-back/internal/config"
	httpserver "github.com/iago/resume-analyzer-back/internal/http"
	"github.com/iago/resume-analyzer-back/internal/http/handlers"
	"github.com/iago/resume-analyzer-back/internal/http/middleware"
	"github.com/iago/resume-analyzer-back/internal/logger"
	"github.com/iago/resume-analyzer-back/internal/observability"
)

const (
	serviceName     = "resume-analyzer"
	shutdownTimeout = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the analysis workers",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, log, observability.TracingConfig{
		Enabled:     cfg.TracingEnabled,
		ServiceName: serviceName,
		Endpoint:    cfg.TracingEndpoint,
		Insecure:    cfg.TracingInsecure,
		SampleRatio: cfg.TracingSampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	eng, err := buildEngine(ctx, cfg, log, engineOptions{})
	if err != nil {
		return err
	}
	defer eng.Close()

	// Workers get their own context so in-flight jobs outlive the signal and
	// are only cancelled once the shutdown grace period runs out.
	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorkers()
	if cfg.WorkerEnabled {
		if cfg.RecoveryEnabled {
			if _, err := eng.processor.Recover(workerCtx); err != nil {
				log.Error("startup recovery failed", "error", err)
			}
		}
		go eng.processor.Start(workerCtx)
		log.Info("worker enabled and started", "concurrency", cfg.WorkerConcurrency)
	} else {
		log.Info("worker disabled by configuration")
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.Run(ctx)

	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:         handlers.NewAPI(eng.analyses, eng.statuses, log),
		Logger:      log,
		AuthToken:   cfg.AuthToken,
		CORSOrigins: cfg.CORSAllowedOrigins,
		RateLimiter: limiter,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("api listening", "port", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}

	// Running jobs get a grace period to finish before they are interrupted.
	graceCtx, cancelGrace := context.WithTimeout(context.Background(), cfg.WorkerShutdownGrace)
	defer cancelGrace()
	if err := eng.processor.Shutdown(graceCtx); err != nil {
		log.Warn("running jobs interrupted at shutdown", "error", err)
	}
	stopWorkers()
	log.Info("shutdown complete")
	return nil
}
