// Package report builds the operator-facing view of pending scheduled
// updates.
package report

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/openpress/revisor/internal/tracing"
	"github.com/openpress/revisor/pkg/models"
	"github.com/openpress/revisor/pkg/store"
)

// Service joins staged items with their release timestamps into a read-only
// status report.
type Service struct {
	store    store.Store
	statuses models.Statuses
	logger   ectologger.Logger
	now      func() time.Time
}

func NewService(st store.Store, statuses models.Statuses, logger ectologger.Logger) *Service {
	return &Service{
		store:    st,
		statuses: statuses,
		logger:   logger,
		now:      time.Now,
	}
}

// ListPending returns one row per staged item with its computed state:
// pending (release in the future), overdue (release passed but not merged
// yet) or unscheduled (no release timestamp stored).
func (s *Service) ListPending(ctx context.Context) ([]models.PendingUpdate, error) {
	ctx, span := tracing.StartSpan(ctx, "report.Service.ListPending")
	defer span.End()

	staged, err := s.store.ListItemsByStatus(ctx, s.statuses.Staged)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to list staged items")
		return nil, err
	}

	now := s.now().UTC()
	out := make([]models.PendingUpdate, 0, len(staged))
	for _, item := range staged {
		originalID, err := s.store.GetMetaValue(ctx, item.ID, s.statuses.OriginalKey())
		if err != nil {
			return nil, err
		}

		row := models.PendingUpdate{
			ItemID:     item.ID,
			OriginalID: originalID,
			Title:      item.Title,
			Type:       item.Type,
			State:      models.UpdateStateUnscheduled,
		}

		value, err := s.store.GetMetaValue(ctx, item.ID, s.statuses.PubdateKey())
		if err != nil {
			return nil, err
		}
		if releaseAt, ok := models.ParsePubdate(value); ok {
			row.ReleaseAt = &releaseAt
			if releaseAt.After(now) {
				row.State = models.UpdateStatePending
			} else {
				row.State = models.UpdateStateOverdue
			}
		}

		out = append(out, row)
	}

	return out, nil
}
