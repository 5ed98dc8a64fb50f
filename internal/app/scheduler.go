/**
 * @description
 * Cron scheduler for the service's housekeeping jobs: deleting expired sessions
 * and purging stale subscription cache entries.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const sweepTimeout = time.Minute

// SchedulerConfig holds the cron schedule for each job. An empty schedule disables the job.
type SchedulerConfig struct {
	SessionSweepSchedule string
	CachePurgeSchedule   string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	sessions *SessionService
	cache    *SubscriptionCache
	logger   *slog.Logger
	config   SchedulerConfig
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(sessions *SessionService, cache *SubscriptionCache, logger *slog.Logger, cfg SchedulerConfig) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:     c,
		sessions: sessions,
		cache:    cache,
		logger:   logger,
		config:   cfg,
	}
}

// Start registers the jobs and starts the cron scheduler. It returns an error
// when a configured schedule cannot be parsed.
func (s *Scheduler) Start() error {
	if s.config.SessionSweepSchedule != "" {
		if _, err := s.cron.AddFunc(s.config.SessionSweepSchedule, s.SweepSessions); err != nil {
			s.logger.Error("failed to schedule session sweep job", "error", err)
			return err
		}
		s.logger.Info("scheduled session sweep job", "schedule", s.config.SessionSweepSchedule)
	}

	if s.config.CachePurgeSchedule != "" {
		if _, err := s.cron.AddFunc(s.config.CachePurgeSchedule, s.PurgeCache); err != nil {
			s.logger.Error("failed to schedule cache purge job", "error", err)
			return err
		}
		s.logger.Info("scheduled cache purge job", "schedule", s.config.CachePurgeSchedule)
	}

	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// SweepSessions deletes expired sessions.
func (s *Scheduler) SweepSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if _, err := s.sessions.SweepExpired(ctx); err != nil {
		s.logger.Error("session sweep failed", "error", err)
	}
}

// PurgeCache drops stale subscription cache entries.
func (s *Scheduler) PurgeCache() {
	if purged := s.cache.PurgeExpired(); purged > 0 {
		s.logger.Info("stale subscription cache entries purged", "count", purged)
	}
}
