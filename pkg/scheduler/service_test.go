package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpress/revisor/pkg/events"
	"github.com/openpress/revisor/pkg/extension"
	"github.com/openpress/revisor/pkg/hooks"
	"github.com/openpress/revisor/pkg/merging"
	"github.com/openpress/revisor/pkg/metacopy"
	"github.com/openpress/revisor/pkg/models"
	"github.com/openpress/revisor/pkg/store/memory"
)

type sweepFixture struct {
	mem      *memory.Store
	service  *Service
	statuses models.Statuses
	now      time.Time
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()
	mem := memory.New()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	statuses := models.DefaultStatuses()

	engine := merging.NewEngine(merging.EngineParams{
		Store:      mem,
		Locks:      mem,
		Scheduler:  mem,
		Copier:     metacopy.NewCopier(mem, logger),
		Hooks:      hooks.NewRegistry(logger),
		Extensions: extension.NewRegistry(),
		Emitter:    events.NopEmitter{},
		Statuses:   statuses,
		Logger:     logger,
	})

	service := NewService(ServiceParams{
		Store:    mem,
		Queue:    mem,
		Merger:   engine,
		Statuses: statuses,
		Logger:   logger,
	})
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return now }

	return &sweepFixture{mem: mem, service: service, statuses: statuses, now: now}
}

// seedScheduledPair creates an original plus a staged copy with the given
// release timestamp, without registering a timer.
func (f *sweepFixture) seedScheduledPair(t *testing.T, n int, releaseAt time.Time) (origID, stagedID string) {
	t.Helper()
	ctx := context.Background()

	origID = fmt.Sprintf("orig-%d", n)
	stagedID = fmt.Sprintf("staged-%d", n)

	_, err := f.mem.CreateItem(ctx, &models.ContentItem{
		ID: origID, Type: "page", Status: models.StatusPublish, Title: "Live " + origID,
	})
	require.NoError(t, err)
	_, err = f.mem.CreateItem(ctx, &models.ContentItem{
		ID: stagedID, Type: "page", Status: f.statuses.Staged, Title: "Update " + origID,
	})
	require.NoError(t, err)
	require.NoError(t, f.mem.SetMeta(ctx, stagedID, f.statuses.OriginalKey(), origID))
	require.NoError(t, f.mem.SetMeta(ctx, stagedID, f.statuses.PubdateKey(), models.FormatPubdate(releaseAt)))
	return origID, stagedID
}

func TestSweepConvergesOnMissedTimers(t *testing.T) {
	ctx := context.Background()
	f := newSweepFixture(t)

	past := f.now.Add(-time.Hour)
	var origIDs []string
	for i := 0; i < 5; i++ {
		origID, _ := f.seedScheduledPair(t, i, past)
		origIDs = append(origIDs, origID)
	}

	f.service.CheckAndPublishOverdue(ctx)

	remaining, err := f.mem.ListItemsByStatus(ctx, f.statuses.Staged)
	require.NoError(t, err)
	assert.Empty(t, remaining, "one sweep cycle merges every overdue item")

	for i, origID := range origIDs {
		orig, err := f.mem.GetItem(ctx, origID)
		require.NoError(t, err)
		assert.Equal(t, "Update "+origID, orig.Title, "staged content landed on original %d", i)
	}
}

func TestSweepLeavesFutureUpdatesAlone(t *testing.T) {
	ctx := context.Background()
	f := newSweepFixture(t)

	_, dueID := f.seedScheduledPair(t, 0, f.now.Add(-time.Minute))
	_, futureID := f.seedScheduledPair(t, 1, f.now.Add(time.Hour))

	f.service.CheckAndPublishOverdue(ctx)

	_, err := f.mem.GetItem(ctx, dueID)
	assert.Error(t, err, "overdue staged item was merged away")

	item, err := f.mem.GetItem(ctx, futureID)
	require.NoError(t, err)
	assert.Equal(t, f.statuses.Staged, item.Status, "future update is untouched")
}

func TestSweepSkipsUnscheduledItems(t *testing.T) {
	ctx := context.Background()
	f := newSweepFixture(t)

	origID := "orig-0"
	stagedID := "staged-0"
	_, err := f.mem.CreateItem(ctx, &models.ContentItem{ID: origID, Type: "page", Status: models.StatusPublish})
	require.NoError(t, err)
	_, err = f.mem.CreateItem(ctx, &models.ContentItem{ID: stagedID, Type: "page", Status: f.statuses.Staged})
	require.NoError(t, err)
	require.NoError(t, f.mem.SetMeta(ctx, stagedID, f.statuses.OriginalKey(), origID))

	f.service.CheckAndPublishOverdue(ctx)

	item, err := f.mem.GetItem(ctx, stagedID)
	require.NoError(t, err)
	assert.Equal(t, f.statuses.Staged, item.Status, "items without a release timestamp never auto-merge")
}

func TestSweepSkipsLockedItems(t *testing.T) {
	ctx := context.Background()
	f := newSweepFixture(t)

	_, stagedID := f.seedScheduledPair(t, 0, f.now.Add(-time.Minute))

	acquired, err := f.mem.Acquire(ctx, "merge:"+stagedID, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	f.service.CheckAndPublishOverdue(ctx)

	item, err := f.mem.GetItem(ctx, stagedID)
	require.NoError(t, err)
	assert.Equal(t, f.statuses.Staged, item.Status, "contended items are left for the lock holder")
}

func TestDispatchDueMergesFiredTimers(t *testing.T) {
	ctx := context.Background()
	f := newSweepFixture(t)

	origID, stagedID := f.seedScheduledPair(t, 0, f.now.Add(-time.Minute))
	require.NoError(t, f.mem.ScheduleOnce(ctx, f.now.Add(-time.Minute), models.TopicPublishUpdate, stagedID))

	f.service.DispatchDue(ctx)

	_, err := f.mem.GetItem(ctx, stagedID)
	assert.Error(t, err, "staged item merged and deleted")

	next, err := f.mem.NextScheduled(ctx, models.TopicPublishUpdate, stagedID)
	require.NoError(t, err)
	assert.Nil(t, next, "fired timer is cleared")

	orig, err := f.mem.GetItem(ctx, origID)
	require.NoError(t, err)
	assert.Equal(t, "Update "+origID, orig.Title)
}

func TestDispatchDueIgnoresPendingTimers(t *testing.T) {
	ctx := context.Background()
	f := newSweepFixture(t)

	_, stagedID := f.seedScheduledPair(t, 0, f.now.Add(time.Hour))
	require.NoError(t, f.mem.ScheduleOnce(ctx, f.now.Add(time.Hour), models.TopicPublishUpdate, stagedID))

	f.service.DispatchDue(ctx)

	item, err := f.mem.GetItem(ctx, stagedID)
	require.NoError(t, err)
	assert.Equal(t, f.statuses.Staged, item.Status)
}
