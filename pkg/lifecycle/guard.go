// Package lifecycle guards the status state machine of staged items against
// host-originating transitions that would bypass the merge path.
package lifecycle

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/Gobusters/ectologger"

	"github.com/openpress/revisor/internal/tracing"
	"github.com/openpress/revisor/pkg/models"
	"github.com/openpress/revisor/pkg/store"
)

// SanitizeFunc is the host's generic content-filter pass, applied during the
// guard's corrective write. May be nil.
type SanitizeFunc func(string) string

// Guard watches status-transition notifications and corrects transitions
// that would take a staged item live without merging.
type Guard struct {
	store     store.Store
	scheduler store.Scheduler
	statuses  models.Statuses
	sanitize  SanitizeFunc
	logger    ectologger.Logger

	// inflight marks items the guard itself is writing, so the corrective
	// write's own transition notification is ignored.
	inflight sync.Map
}

func NewGuard(st store.Store, scheduler store.Scheduler, statuses models.Statuses, sanitize SanitizeFunc, logger ectologger.Logger) *Guard {
	return &Guard{
		store:     st,
		scheduler: scheduler,
		statuses:  statuses,
		sanitize:  sanitize,
		logger:    logger,
	}
}

// OnTransition handles one host-originating status transition notification.
func (g *Guard) OnTransition(ctx context.Context, itemID string, oldStatus string, newStatus string) error {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Guard.OnTransition")
	defer span.End()

	if oldStatus == newStatus {
		return nil
	}
	if _, busy := g.inflight.Load(itemID); busy {
		return nil
	}

	switch {
	case oldStatus == g.statuses.Staged && newStatus != g.statuses.Trash:
		return g.correct(ctx, itemID)
	case newStatus == g.statuses.Trash:
		return g.scheduler.Cancel(ctx, models.TopicPublishUpdate, itemID)
	case oldStatus == g.statuses.Trash && newStatus == g.statuses.Staged:
		return g.rearm(ctx, itemID)
	}
	return nil
}

// correct forces the item's status back to staged. Content and excerpt are
// round-tripped through a reversible placeholder substitution so the host's
// content-filter pass cannot mangle already-escaped sequences.
func (g *Guard) correct(ctx context.Context, itemID string) error {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Guard.correct")
	defer span.End()

	g.inflight.Store(itemID, struct{}{})
	defer g.inflight.Delete(itemID)

	item, err := g.store.GetItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("failed to load item %s for status correction: %w", itemID, err)
	}

	item.Status = g.statuses.Staged
	item.Content = g.filterContent(item.Content)
	item.Excerpt = g.filterContent(item.Excerpt)

	if err := g.store.UpdateItem(ctx, item); err != nil {
		g.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"item_id": itemID}).Error("Failed to correct staged item status")
		return err
	}

	g.logger.WithContext(ctx).WithFields(map[string]any{"item_id": itemID}).Info("Corrected staged item status")
	return nil
}

// rearm re-registers the merge timer of an un-trashed staged item from its
// stored release timestamp.
func (g *Guard) rearm(ctx context.Context, itemID string) error {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Guard.rearm")
	defer span.End()

	value, err := g.store.GetMetaValue(ctx, itemID, g.statuses.PubdateKey())
	if err != nil {
		return err
	}
	releaseAt, ok := models.ParsePubdate(value)
	if !ok {
		return nil
	}

	if err := g.scheduler.ScheduleOnce(ctx, releaseAt, models.TopicPublishUpdate, itemID); err != nil {
		return err
	}
	g.logger.WithContext(ctx).WithFields(map[string]any{
		"item_id":    itemID,
		"release_at": releaseAt,
	}).Info("Re-armed merge timer after restore from trash")
	return nil
}

func (g *Guard) filterContent(s string) string {
	if g.sanitize == nil {
		return s
	}
	return restoreEscapes(g.sanitize(protectEscapes(s)))
}

// escapePlaceholder stands in for the `\u` prefix of a Unicode escape while
// the sanitize pass runs. The control bytes cannot occur in stored content.
const escapePlaceholder = "\x02cus:u\x03"

var unicodeEscape = regexp.MustCompile(`\\u[0-9a-fA-F]{4}`)

func protectEscapes(s string) string {
	return unicodeEscape.ReplaceAllStringFunc(s, func(match string) string {
		return escapePlaceholder + match[2:]
	})
}

func restoreEscapes(s string) string {
	return strings.ReplaceAll(s, escapePlaceholder, `\u`)
}
