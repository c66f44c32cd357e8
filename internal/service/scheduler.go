package service

import (
	"context"
	"time"

	"principales/internal/constants"
	"principales/internal/metrics"

	"github.com/sirupsen/logrus"
)

// UploadCleaner removes stored media older than a cutoff
type UploadCleaner interface {
	Cleanup(ctx context.Context, cutoff time.Time) (int, error)
}

type Scheduler struct {
	cleaner       UploadCleaner
	retentionDays int
	intervalHours int
	logger        *logrus.Logger
	stopCh        chan struct{}
	now           func() time.Time
}

func NewScheduler(cleaner UploadCleaner, retentionDays, intervalHours int, logger *logrus.Logger) *Scheduler {
	if intervalHours <= 0 {
		intervalHours = constants.CleanupSchedulerIntervalHours
	}
	return &Scheduler{
		cleaner:       cleaner,
		retentionDays: retentionDays,
		intervalHours: intervalHours,
		logger:        logger,
		stopCh:        make(chan struct{}),
		now:           time.Now,
	}
}

// Start blocks until ctx is cancelled or Stop is called.
// A retention of 0 days disables the cleanup.
func (s *Scheduler) Start(ctx context.Context) {
	if s.retentionDays <= 0 {
		s.logger.Info("Skipping upload cleanup scheduler: retention disabled")
		return
	}

	ticker := time.NewTicker(time.Duration(s.intervalHours) * time.Hour)
	defer ticker.Stop()

	s.logger.Info("Starting upload cleanup scheduler")

	s.runCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	cutoff := s.now().AddDate(0, 0, -s.retentionDays)
	s.logger.WithField("retentionDays", s.retentionDays).Info("Running scheduled upload cleanup")

	removed, err := s.cleaner.Cleanup(ctx, cutoff)
	if removed > 0 {
		metrics.AddToCounter("uploads_removed_total", float64(removed), nil, "Uploaded files removed by retention cleanup")
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to cleanup old uploads")
		return
	}
	s.logger.WithField(LogFieldCount, removed).Info("Successfully completed upload cleanup")
}
