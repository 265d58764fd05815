// Package cron provides scheduled background jobs using robfig/cron.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// SessionPurger drops sessions idle for longer than maxAge
type SessionPurger interface {
	PurgeExpired(ctx context.Context, maxAge time.Duration) (int, error)
}

// Scheduler manages background scheduled jobs using robfig/cron.
type Scheduler struct {
	cron     *cron.Cron
	purger   SessionPurger
	schedule string
	ttl      time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a new job scheduler.
func NewScheduler(purger SessionPurger, schedule string, ttl time.Duration, logger *slog.Logger) *Scheduler {
	// Standard 5-field format, seconds disabled
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	return &Scheduler{
		cron:     c,
		purger:   purger,
		schedule: schedule,
		ttl:      ttl,
		logger:   logger,
	}
}

// Start begins scheduled jobs.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.purgeSessions); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.Int("jobs", len(s.cron.Entries())),
		slog.String("purge_schedule", s.schedule),
	)
	return nil
}

// Stop gracefully stops all scheduled jobs.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// RunNow triggers the session purge outside the schedule.
func (s *Scheduler) RunNow() {
	go s.purgeSessions()
}

func (s *Scheduler) purgeSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	purged, err := s.purger.PurgeExpired(ctx, s.ttl)
	if err != nil {
		s.logger.Error("failed to purge expired sessions",
			slog.Int("purged", purged),
			slog.Any("error", err),
		)
		return
	}

	s.logger.Info("expired sessions purged",
		slog.Int("purged", purged),
		slog.Duration("ttl", s.ttl),
	)
}
