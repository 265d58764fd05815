package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/FACorreiaa/data-snap/internal/server"
	"github.com/FACorreiaa/data-snap/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Observability.LogLevel)}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := InitDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Cleanup()

	opts := server.Options{
		Logger:          logger,
		Metrics:         deps.Metrics,
		MetricsEnabled:  cfg.Observability.MetricsEnabled,
		CORSOrigins:     cfg.Server.CORSOrigins,
		TrustProxy:      cfg.Server.TrustProxy,
		RateLimiter:     deps.RateLimiter,
		SnapHandler:     deps.SnapHandler,
		TemplateHandler: deps.TemplateHandler,
		OCREngine:       deps.Recognizer.Name(),
	}
	if deps.DB != nil {
		opts.Database = deps.DB
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           server.NewRouter(opts),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.OCR.Timeout + 30*time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	if err := deps.Scheduler.Start(); err != nil {
		return err
	}
	defer func() { <-deps.Scheduler.Stop().Done() }()

	go deps.RateLimiter.RunCleanup(ctx, time.Minute, 10*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
