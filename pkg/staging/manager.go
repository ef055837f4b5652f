// Package staging creates working copies of live content items and manages
// their release schedule.
package staging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/openpress/revisor/internal/tracing"
	"github.com/openpress/revisor/pkg/events"
	"github.com/openpress/revisor/pkg/extension"
	"github.com/openpress/revisor/pkg/hooks"
	"github.com/openpress/revisor/pkg/metacopy"
	"github.com/openpress/revisor/pkg/models"
	"github.com/openpress/revisor/pkg/store"
)

// ErrTypeExcluded is returned when the host barred the item's content type
// from the staged workflow.
var ErrTypeExcluded = errors.New("content type is excluded from scheduled updates")

// ErrNoOriginal is returned when a staged item carries no resolvable
// original reference.
var ErrNoOriginal = errors.New("staged item has no original reference")

// Manager creates staged copies and manages their release timestamps.
type Manager struct {
	store      store.Store
	scheduler  store.Scheduler
	copier     *metacopy.Copier
	hooks      *hooks.Registry
	extensions *extension.Registry
	emitter    events.Emitter
	statuses   models.Statuses
	// pastGrace is how far a release date in the past is pushed forward.
	pastGrace time.Duration
	logger    ectologger.Logger
	now       func() time.Time
}

type ManagerParams struct {
	Store      store.Store
	Scheduler  store.Scheduler
	Copier     *metacopy.Copier
	Hooks      *hooks.Registry
	Extensions *extension.Registry
	Emitter    events.Emitter
	Statuses   models.Statuses
	PastGrace  time.Duration
	Logger     ectologger.Logger
}

func NewManager(params ManagerParams) *Manager {
	if params.PastGrace <= 0 {
		params.PastGrace = 5 * time.Minute
	}
	return &Manager{
		store:      params.Store,
		scheduler:  params.Scheduler,
		copier:     params.Copier,
		hooks:      params.Hooks,
		extensions: params.Extensions,
		emitter:    params.Emitter,
		statuses:   params.Statuses,
		pastGrace:  params.PastGrace,
		logger:     params.Logger,
		now:        time.Now,
	}
}

// Stage creates a staged working copy of the given item. When the source is
// itself a staged copy, the new copy points at the same original. Returns
// the new item's id.
func (m *Manager) Stage(ctx context.Context, sourceID string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "staging.Manager.Stage")
	defer span.End()

	log := m.logger.WithContext(ctx).WithFields(map[string]any{"source_id": sourceID})

	source, err := m.store.GetItem(ctx, sourceID)
	if err != nil {
		return "", fmt.Errorf("failed to load source item %s: %w", sourceID, err)
	}

	original, err := m.ResolveOriginal(ctx, source)
	if err != nil {
		return "", err
	}

	if m.extensions.TypeExcluded(original.Type) {
		return "", ErrTypeExcluded
	}

	now := m.now().UTC()
	parentID := source.ID
	staged := &models.ContentItem{
		ID:            uuid.New().String(),
		Type:          source.Type,
		Status:        m.statuses.Staged,
		Title:         source.Title,
		Content:       source.Content,
		Excerpt:       source.Excerpt,
		Author:        source.Author,
		Slug:          source.Slug,
		GUID:          source.GUID,
		ParentID:      &parentID,
		Password:      source.Password,
		MimeType:      source.MimeType,
		MenuOrder:     source.MenuOrder,
		CommentStatus: source.CommentStatus,
		PingStatus:    source.PingStatus,
		CreatedAt:     now,
		CreatedAtGMT:  now,
		ModifiedAt:    now,
	}

	created, err := m.store.CreateItem(ctx, staged)
	if err != nil {
		log.WithError(err).Error("Failed to create staged copy")
		return "", fmt.Errorf("failed to create staged copy of %s: %w", sourceID, err)
	}

	m.hooks.Run(ctx, source.ID, created.ID, false)

	if err := m.copier.Copy(ctx, source.ID, created.ID, metacopy.Options{
		SkipKeyPrefixes: m.hooks.OwnedKeyPrefixes(),
	}); err != nil {
		log.WithError(err).Error("Failed to copy metadata to staged copy")
		return "", err
	}

	if err := m.store.SetMeta(ctx, created.ID, m.statuses.OriginalKey(), original.ID); err != nil {
		return "", err
	}

	// The source may itself be a staged copy carrying schedule bookkeeping
	// that must not leak onto the new copy.
	if err := m.store.DeleteMeta(ctx, created.ID, m.statuses.KeepDatesKey()); err != nil {
		return "", err
	}
	if err := m.store.DeleteMeta(ctx, created.ID, m.statuses.PubdateKey()); err != nil {
		return "", err
	}

	m.emitter.UpdateStaged(ctx, created.ID, original.ID, original.Type)

	log.WithFields(map[string]any{"staged_id": created.ID, "original_id": original.ID}).Info("Created staged copy")
	return created.ID, nil
}

// ResolveOriginal resolves the item a staged copy will merge into. For a
// non-staged item that is the item itself; staged items never chain.
func (m *Manager) ResolveOriginal(ctx context.Context, item *models.ContentItem) (*models.ContentItem, error) {
	ctx, span := tracing.StartSpan(ctx, "staging.Manager.ResolveOriginal")
	defer span.End()

	if item.Status != m.statuses.Staged {
		return item, nil
	}

	originalID, err := m.store.GetMetaValue(ctx, item.ID, m.statuses.OriginalKey())
	if err != nil {
		return nil, err
	}
	if originalID == "" {
		return nil, ErrNoOriginal
	}

	original, err := m.store.GetItem(ctx, originalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoOriginal
		}
		return nil, err
	}
	return original, nil
}

// SetReleaseDate stores the release timestamp on a staged item and arms its
// merge timer. Timestamps in the past are pushed forward by the configured
// grace so a save never triggers an immediate merge race.
func (m *Manager) SetReleaseDate(ctx context.Context, stagedID string, releaseAt time.Time) (time.Time, error) {
	ctx, span := tracing.StartSpan(ctx, "staging.Manager.SetReleaseDate")
	defer span.End()

	staged, err := m.store.GetItem(ctx, stagedID)
	if err != nil {
		return time.Time{}, err
	}
	if staged.Status != m.statuses.Staged {
		return time.Time{}, fmt.Errorf("item %s is not a staged copy", stagedID)
	}

	now := m.now().UTC()
	releaseAt = releaseAt.UTC()
	if !releaseAt.After(now) {
		releaseAt = now.Add(m.pastGrace)
	}

	if err := m.store.SetMeta(ctx, stagedID, m.statuses.PubdateKey(), models.FormatPubdate(releaseAt)); err != nil {
		return time.Time{}, err
	}
	if err := m.scheduler.ScheduleOnce(ctx, releaseAt, models.TopicPublishUpdate, stagedID); err != nil {
		return time.Time{}, err
	}

	m.logger.WithContext(ctx).WithFields(map[string]any{
		"staged_id":  stagedID,
		"release_at": releaseAt,
	}).Info("Scheduled release")
	return releaseAt, nil
}

// ClearReleaseDate removes the release timestamp and cancels the timer.
func (m *Manager) ClearReleaseDate(ctx context.Context, stagedID string) error {
	ctx, span := tracing.StartSpan(ctx, "staging.Manager.ClearReleaseDate")
	defer span.End()

	if err := m.store.DeleteMeta(ctx, stagedID, m.statuses.PubdateKey()); err != nil {
		return err
	}
	return m.scheduler.Cancel(ctx, models.TopicPublishUpdate, stagedID)
}

// SetKeepDates stores whether the original keeps its creation timestamps
// through the merge.
func (m *Manager) SetKeepDates(ctx context.Context, stagedID string, keep bool) error {
	ctx, span := tracing.StartSpan(ctx, "staging.Manager.SetKeepDates")
	defer span.End()

	if !keep {
		return m.store.DeleteMeta(ctx, stagedID, m.statuses.KeepDatesKey())
	}
	return m.store.SetMeta(ctx, stagedID, m.statuses.KeepDatesKey(), "yes")
}
