package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/FACorreiaa/data-snap/internal/domain/ocr"
	snaphandler "github.com/FACorreiaa/data-snap/internal/domain/snap/handler"
	snaprepo "github.com/FACorreiaa/data-snap/internal/domain/snap/repository"
	snapservice "github.com/FACorreiaa/data-snap/internal/domain/snap/service"
	templatehandler "github.com/FACorreiaa/data-snap/internal/domain/template/handler"
	templaterepo "github.com/FACorreiaa/data-snap/internal/domain/template/repository"
	templateservice "github.com/FACorreiaa/data-snap/internal/domain/template/service"

	"github.com/FACorreiaa/data-snap/pkg/config"
	"github.com/FACorreiaa/data-snap/pkg/cron"
	"github.com/FACorreiaa/data-snap/pkg/db"
	"github.com/FACorreiaa/data-snap/pkg/metrics"
	"github.com/FACorreiaa/data-snap/pkg/middleware"
	"github.com/FACorreiaa/data-snap/pkg/storage"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config  *config.Config
	DB      *db.DB // nil when POSTGRES_ENABLED=false
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Repositories
	SessionRepo  snaprepo.SessionRepository
	TemplateRepo templaterepo.TemplateRepository

	// Services
	Recognizer      ocr.Recognizer
	FileStorage     storage.Storage
	SnapService     *snapservice.SnapService
	TemplateService *templateservice.TemplateService
	Scheduler       *cron.Scheduler
	RateLimiter     *middleware.RateLimiter

	// Handlers
	SnapHandler     *snaphandler.SnapHandler
	TemplateHandler *templatehandler.TemplateHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
	}

	if err := deps.initDatabase(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	if err := deps.initRepositories(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := deps.initServices(ctx); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	if err := deps.initHandlers(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init handlers: %w", err)
	}

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	if !d.Config.Database.Enabled {
		d.Logger.Warn("database disabled, templates are unavailable")
		return nil
	}

	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories() error {
	d.SessionRepo = snaprepo.NewMemorySessionRepository()
	if d.DB != nil {
		d.TemplateRepo = templaterepo.NewPostgresTemplateRepository(d.DB.Pool)
	}

	d.Logger.Info("repositories initialized")
	return nil
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices(ctx context.Context) error {
	recognizer, err := ocr.New(ctx, ocr.Config{
		Engine:    ocr.EngineType(d.Config.OCR.Engine),
		Languages: d.Config.OCR.Languages,
		DocumentAI: ocr.DocumentAIConfig{
			ProjectID:       d.Config.OCR.DocumentAIProjectID,
			Location:        d.Config.OCR.DocumentAILocation,
			ProcessorID:     d.Config.OCR.DocumentAIProcessorID,
			CredentialsFile: d.Config.OCR.CredentialsFile,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to init OCR engine: %w", err)
	}
	d.Recognizer = recognizer
	warnUnavailableOCR(d.Logger, recognizer)

	// Images are stored per session under the local upload directory
	fileStorage, err := storage.New(&storage.Config{
		LocalPath: d.Config.Storage.LocalPath,
		MaxSize:   d.Config.Server.MaxUploadBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to init file storage: %w", err)
	}
	d.FileStorage = fileStorage

	d.SnapService = snapservice.NewSnapService(d.SessionRepo, d.Recognizer, d.FileStorage, d.Metrics, d.Logger).
		WithLanguages(d.Config.OCR.Languages).
		WithOCRTimeout(d.Config.OCR.Timeout)

	if d.TemplateRepo != nil {
		d.TemplateService = templateservice.NewTemplateService(d.TemplateRepo, d.Logger)
		d.SnapService.WithTemplates(d.TemplateService)

		if seed := d.Config.Templates.SeedFile; seed != "" {
			if _, err := d.TemplateService.SeedFromFile(ctx, seed); err != nil {
				return fmt.Errorf("failed to seed templates: %w", err)
			}
		}
	}

	d.Scheduler = cron.NewScheduler(d.SnapService, d.Config.Sessions.PurgeSchedule, d.Config.Sessions.TTL, d.Logger)
	d.RateLimiter = middleware.NewRateLimiter(d.Config.Server.RateLimitPerSecond, d.Config.Server.RateLimitBurst, d.Logger)

	d.Logger.Info("services initialized", slog.String("ocr_engine", d.Recognizer.Name()))
	return nil
}

// initHandlers initializes all handler dependencies
func (d *Dependencies) initHandlers() error {
	d.SnapHandler = snaphandler.NewSnapHandler(d.SnapService, d.Logger, d.Config.Server.MaxUploadBytes)
	if d.TemplateService != nil {
		d.TemplateHandler = templatehandler.NewTemplateHandler(d.TemplateService, d.SnapService, d.Logger)
	}

	d.Logger.Info("handlers initialized")
	return nil
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if closer, ok := d.Recognizer.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			d.Logger.Warn("failed to close OCR engine", slog.Any("error", err))
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}

// warnUnavailableOCR flags engines compiled out of this binary. The server
// still starts; OCR requests answer 422 until the engine is configured.
func warnUnavailableOCR(logger *slog.Logger, recognizer ocr.Recognizer) {
	if ocr.Available(recognizer) {
		return
	}
	logger.Warn("OCR engine is not available in this build, OCR requests will fail",
		slog.String("ocr_engine", recognizer.Name()),
		slog.String("hint", "rebuild with -tags ocr or set OCR_ENGINE=documentai"),
	)
}
