// Package schedule persists the durable one-shot merge timers.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/openpress/revisor/internal/database"
	"github.com/openpress/revisor/internal/tracing"
	"github.com/openpress/revisor/pkg/models"
	"github.com/openpress/revisor/pkg/store"
)

// Repository implements the scheduler contract and the due-job queue on a
// scheduled_jobs table. Dispatch claims jobs so two instances never hand the
// same timer to their merge path; the merge lock is the backstop.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
	now    func() time.Time
}

var _ store.Scheduler = (*Repository)(nil)

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// ScheduleOnce registers or replaces the timer for the topic and item. An
// existing claim is cleared so a rescheduled timer fires again.
func (r *Repository) ScheduleOnce(ctx context.Context, fireAt time.Time, topic string, itemID string) error {
	ctx, span := tracing.StartSpan(ctx, "schedule.Repository.ScheduleOnce")
	defer span.End()

	query := `
		INSERT INTO scheduled_jobs (id, topic, item_id, fire_at, claimed_at, created_at)
		VALUES ($1, $2, $3, $4, NULL, $5)
		ON CONFLICT (topic, item_id)
		DO UPDATE SET fire_at = EXCLUDED.fire_at, claimed_at = NULL
	`
	if _, err := r.db.ExecContext(ctx, query, uuid.New().String(), topic, itemID, fireAt.UTC(), r.now().UTC()); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to schedule timer")
		return fmt.Errorf("failed to schedule %s timer for %s: %w", topic, itemID, err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":   topic,
		"item_id": itemID,
		"fire_at": fireAt.UTC(),
	}).Info("Scheduled timer")
	return nil
}

// Cancel removes the timer for the topic and item. Cancelling an absent
// timer is not an error.
func (r *Repository) Cancel(ctx context.Context, topic string, itemID string) error {
	ctx, span := tracing.StartSpan(ctx, "schedule.Repository.Cancel")
	defer span.End()

	db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	db.DeleteFrom("scheduled_jobs")
	db.Where(
		db.Equal("topic", topic),
		db.Equal("item_id", itemID),
	)

	query, args := db.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to cancel timer")
		return fmt.Errorf("failed to cancel %s timer for %s: %w", topic, itemID, err)
	}
	return nil
}

// NextScheduled returns the pending fire time for the topic and item, or nil
// when no timer is registered.
func (r *Repository) NextScheduled(ctx context.Context, topic string, itemID string) (*time.Time, error) {
	ctx, span := tracing.StartSpan(ctx, "schedule.Repository.NextScheduled")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("fire_at")
	sb.From("scheduled_jobs")
	sb.Where(
		sb.Equal("topic", topic),
		sb.Equal("item_id", itemID),
	)

	query, args := sb.Build()
	var fireAt time.Time
	if err := r.db.GetContext(ctx, &fireAt, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to read timer")
		return nil, fmt.Errorf("failed to read %s timer for %s: %w", topic, itemID, err)
	}
	return &fireAt, nil
}

// DueJobs claims and returns every unclaimed timer that has fired. Claimed
// rows stay until the merge path cancels them, so a crash between claim and
// merge is caught by the overdue sweep.
func (r *Repository) DueJobs(ctx context.Context, topic string, now time.Time) ([]models.ScheduledJob, error) {
	ctx, span := tracing.StartSpan(ctx, "schedule.Repository.DueJobs")
	defer span.End()

	query := `
		UPDATE scheduled_jobs
		SET claimed_at = $1
		WHERE id IN (
			SELECT id FROM scheduled_jobs
			WHERE topic = $2 AND fire_at <= $3 AND claimed_at IS NULL
			ORDER BY fire_at ASC
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, topic, item_id, fire_at, claimed_at, created_at
	`
	var jobs []models.ScheduledJob
	if err := r.db.SelectContext(ctx, &jobs, query, r.now().UTC(), topic, now.UTC()); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to claim due timers")
		return nil, fmt.Errorf("failed to claim due %s timers: %w", topic, err)
	}
	return jobs, nil
}
