// Package scheduler drives the time-based merge paths: dispatching due
// durable timers and the periodic sweep that catches staged items whose
// timer was missed. Both paths funnel through the same merge entry point,
// so they share its locking discipline.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/robfig/cron/v3"

	"github.com/openpress/revisor/internal/tracing"
	"github.com/openpress/revisor/pkg/merging"
	"github.com/openpress/revisor/pkg/models"
	"github.com/openpress/revisor/pkg/store"
)

// Merger is the merge entry point both trigger paths funnel through.
type Merger interface {
	Merge(ctx context.Context, stagedID string) (string, error)
}

// Queue exposes the due timers of the durable scheduler backend.
type Queue interface {
	DueJobs(ctx context.Context, topic string, now time.Time) ([]models.ScheduledJob, error)
}

// Service owns the recurring dispatch and sweep jobs.
type Service struct {
	store            store.Store
	queue            Queue
	merger           Merger
	statuses         models.Statuses
	dispatchInterval time.Duration
	sweepInterval    time.Duration
	logger           ectologger.Logger
	cron             *cron.Cron
	now              func() time.Time
}

type ServiceParams struct {
	Store            store.Store
	Queue            Queue
	Merger           Merger
	Statuses         models.Statuses
	DispatchInterval time.Duration
	SweepInterval    time.Duration
	Logger           ectologger.Logger
}

func NewService(params ServiceParams) *Service {
	if params.DispatchInterval <= 0 {
		params.DispatchInterval = time.Minute
	}
	if params.SweepInterval <= 0 {
		params.SweepInterval = 5 * time.Minute
	}
	return &Service{
		store:            params.Store,
		queue:            params.Queue,
		merger:           params.Merger,
		statuses:         params.Statuses,
		dispatchInterval: params.DispatchInterval,
		sweepInterval:    params.SweepInterval,
		logger:           params.Logger,
		now:              time.Now,
	}
}

// Start registers the recurring jobs and starts the cron runner.
func (s *Service) Start(ctx context.Context) error {
	if s.cron != nil {
		return nil
	}
	s.cron = cron.New()

	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.dispatchInterval), func() {
		s.DispatchDue(ctx)
	}); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.sweepInterval), func() {
		s.CheckAndPublishOverdue(ctx)
	}); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.WithFields(map[string]any{
		"dispatch_interval": s.dispatchInterval.String(),
		"sweep_interval":    s.sweepInterval.String(),
	}).Info("Scheduler started")
	return nil
}

// Stop stops the cron runner and waits for running jobs to finish.
func (s *Service) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.logger.Info("Scheduler stopped")
	return nil
}

// DispatchDue merges every staged item whose durable timer has fired. A
// successful or failed merge clears the timer itself; contention leaves it
// for the holder.
func (s *Service) DispatchDue(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "scheduler.Service.DispatchDue")
	defer span.End()

	jobs, err := s.queue.DueJobs(ctx, models.TopicPublishUpdate, s.now().UTC())
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to list due timers")
		return
	}

	for _, job := range jobs {
		if _, err := s.merger.Merge(ctx, job.ItemID); err != nil {
			if errors.Is(err, merging.ErrAlreadyInProgress) {
				continue
			}
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"staged_id": job.ItemID,
			}).Error("Timer-triggered merge failed")
		}
	}
}

// CheckAndPublishOverdue is the idempotent sweep: it scans every staged
// item, merges the ones whose release timestamp has passed, and logs each
// failure once. Items whose timer is still pending are untouched.
func (s *Service) CheckAndPublishOverdue(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "scheduler.Service.CheckAndPublishOverdue")
	defer span.End()

	staged, err := s.store.ListItemsByStatus(ctx, s.statuses.Staged)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to list staged items for sweep")
		return
	}

	now := s.now().UTC()
	merged := 0
	for _, item := range staged {
		value, err := s.store.GetMetaValue(ctx, item.ID, s.statuses.PubdateKey())
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"staged_id": item.ID}).Error("Failed to read release timestamp")
			continue
		}
		releaseAt, ok := models.ParsePubdate(value)
		if !ok || releaseAt.After(now) {
			continue
		}

		if _, err := s.merger.Merge(ctx, item.ID); err != nil {
			if errors.Is(err, merging.ErrAlreadyInProgress) {
				continue
			}
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"staged_id": item.ID,
			}).Error("Sweep merge failed")
			continue
		}
		merged++
	}

	if merged > 0 {
		s.logger.WithContext(ctx).WithFields(map[string]any{"count": merged}).Info("Sweep merged overdue updates")
	}
}
