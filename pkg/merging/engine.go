// Package merging implements the transactional merge of a staged working
// copy back into its original content item.
package merging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/openpress/revisor/internal/tracing"
	"github.com/openpress/revisor/pkg/events"
	"github.com/openpress/revisor/pkg/extension"
	"github.com/openpress/revisor/pkg/hooks"
	"github.com/openpress/revisor/pkg/metacopy"
	"github.com/openpress/revisor/pkg/models"
	"github.com/openpress/revisor/pkg/store"
)

// Engine merges staged items into their originals.
type Engine struct {
	store      store.Store
	locks      store.Locks
	scheduler  store.Scheduler
	copier     *metacopy.Copier
	hooks      *hooks.Registry
	extensions *extension.Registry
	emitter    events.Emitter
	statuses   models.Statuses
	lockTTL    time.Duration
	logger     ectologger.Logger
	now        func() time.Time
}

type EngineParams struct {
	Store      store.Store
	Locks      store.Locks
	Scheduler  store.Scheduler
	Copier     *metacopy.Copier
	Hooks      *hooks.Registry
	Extensions *extension.Registry
	Emitter    events.Emitter
	Statuses   models.Statuses
	LockTTL    time.Duration
	Logger     ectologger.Logger
}

func NewEngine(params EngineParams) *Engine {
	if params.LockTTL <= 0 {
		params.LockTTL = 5 * time.Minute
	}
	return &Engine{
		store:      params.Store,
		locks:      params.Locks,
		scheduler:  params.Scheduler,
		copier:     params.Copier,
		hooks:      params.Hooks,
		extensions: params.Extensions,
		emitter:    params.Emitter,
		statuses:   params.Statuses,
		lockTTL:    params.LockTTL,
		logger:     params.Logger,
		now:        time.Now,
	}
}

// Merge copies the staged item's fields, metadata and terms onto its
// original inside one store transaction, then hard-deletes the staged item.
// Returns the original's id.
//
// Every outcome except ErrAlreadyInProgress clears the staged item's merge
// timer, so a permanently broken staged item surfaces its error once instead
// of retrying forever.
func (e *Engine) Merge(ctx context.Context, stagedID string) (originalID string, err error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.Merge")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{"staged_id": stagedID})

	defer func() {
		if errors.Is(err, ErrAlreadyInProgress) {
			return
		}
		if cancelErr := e.scheduler.Cancel(ctx, models.TopicPublishUpdate, stagedID); cancelErr != nil {
			log.WithError(cancelErr).Warn("Failed to clear merge timer")
		}
	}()

	staged, err := e.store.GetItem(ctx, stagedID)
	if err != nil {
		return "", fmt.Errorf("failed to load staged item %s: %w", stagedID, err)
	}

	origRef, err := e.store.GetMetaValue(ctx, stagedID, e.statuses.OriginalKey())
	if err != nil {
		return "", err
	}
	if origRef == "" {
		return "", ErrNoOriginal
	}

	orig, err := e.store.GetItem(ctx, origRef)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrOriginalMissing, origRef)
		}
		return "", err
	}
	if orig.Status == e.statuses.Trash {
		return "", fmt.Errorf("%w: %s", ErrOriginalTrashed, origRef)
	}

	acquired, err := e.locks.Acquire(ctx, lockKey(stagedID), e.lockTTL)
	if err != nil {
		return "", err
	}
	if !acquired {
		return "", ErrAlreadyInProgress
	}
	defer func() {
		if releaseErr := e.locks.Release(ctx, lockKey(stagedID)); releaseErr != nil {
			log.WithError(releaseErr).Warn("Failed to release merge lock")
		}
	}()

	e.emitter.BeforeMerge(ctx, staged, orig)
	e.hooks.Run(ctx, staged.ID, orig.ID, true)

	// Fields whose authoritative source is the live item are captured before
	// the copy and written back after it.
	preservers := e.hooks.Preservers()
	snapshots := make([]map[string]string, len(preservers))
	for i, p := range preservers {
		snapshot, err := p.Snapshot(ctx, orig.ID)
		if err != nil {
			log.WithError(err).Warn("Failed to snapshot preserved fields")
			continue
		}
		snapshots[i] = snapshot
	}

	releaseAt := e.releaseTimestamp(ctx, stagedID)

	err = e.store.Atomic(ctx, func(ctx context.Context) error {
		if err := e.store.DeleteMeta(ctx, orig.ID, e.statuses.PubdateKey()); err != nil {
			return err
		}

		if err := e.copier.Copy(ctx, staged.ID, orig.ID, metacopy.Options{
			RestoreReferences: true,
			SkipKeyPrefixes:   e.hooks.OwnedKeyPrefixes(),
		}); err != nil {
			return err
		}

		// Schedule bookkeeping keys only ever live on staged items. The copy
		// above transferred the staged item's, so strip them off again.
		for _, key := range []string{e.statuses.OriginalKey(), e.statuses.PubdateKey(), e.statuses.KeepDatesKey()} {
			if err := e.store.DeleteMeta(ctx, orig.ID, key); err != nil {
				return err
			}
		}

		merged := e.mergedItem(ctx, staged, orig)
		if err := e.store.UpdateItem(ctx, merged); err != nil {
			return err
		}

		for i, p := range preservers {
			if snapshots[i] == nil {
				continue
			}
			if err := p.Reapply(ctx, orig.ID, snapshots[i]); err != nil {
				return err
			}
		}

		return e.store.DeleteItem(ctx, staged.ID)
	})
	if err != nil {
		log.WithError(err).Error("Merge transaction failed")
		return "", err
	}

	e.emitter.UpdateMerged(ctx, staged.ID, orig, releaseAt)

	log.WithFields(map[string]any{"original_id": orig.ID}).Info("Merged staged item into original")
	return orig.ID, nil
}

// mergedItem builds the post-merge representation of the original: the
// staged item's content fields under the original's identity. Slug and guid
// come from the staged copy; id and status stay the original's, and the
// parent reference set at staging time (pointing back at the original) is
// replaced with the original's real parent.
func (e *Engine) mergedItem(ctx context.Context, staged *models.ContentItem, orig *models.ContentItem) *models.ContentItem {
	merged := *staged
	merged.ID = orig.ID
	merged.Status = orig.Status
	merged.Slug = staged.Slug
	merged.GUID = staged.GUID
	if staged.ParentID != nil && *staged.ParentID == orig.ID {
		merged.ParentID = orig.ParentID
	}

	now := e.now().UTC()
	keep, _ := e.store.GetMetaValue(ctx, staged.ID, e.statuses.KeepDatesKey())
	if keep == "yes" {
		merged.CreatedAt = orig.CreatedAt
		merged.CreatedAtGMT = orig.CreatedAtGMT
		merged.ModifiedAt = now
	} else {
		publishDate := e.extensions.PublishDate(ctx, now, staged, orig)
		merged.CreatedAt = publishDate
		merged.CreatedAtGMT = publishDate
		merged.ModifiedAt = publishDate
	}

	return &merged
}

func (e *Engine) releaseTimestamp(ctx context.Context, stagedID string) *time.Time {
	value, err := e.store.GetMetaValue(ctx, stagedID, e.statuses.PubdateKey())
	if err != nil || value == "" {
		return nil
	}
	parsed, ok := models.ParsePubdate(value)
	if !ok {
		return nil
	}
	return &parsed
}

func lockKey(stagedID string) string {
	return "merge:" + stagedID
}
