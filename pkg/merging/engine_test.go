package merging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpress/revisor/pkg/events"
	"github.com/openpress/revisor/pkg/extension"
	"github.com/openpress/revisor/pkg/hooks"
	"github.com/openpress/revisor/pkg/metacopy"
	"github.com/openpress/revisor/pkg/models"
	"github.com/openpress/revisor/pkg/store"
	"github.com/openpress/revisor/pkg/store/memory"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newTestEngine(t *testing.T, st store.Store, mem *memory.Store) *Engine {
	t.Helper()
	logger := testLogger()
	return NewEngine(EngineParams{
		Store:      st,
		Locks:      mem,
		Scheduler:  mem,
		Copier:     metacopy.NewCopier(st, logger),
		Hooks:      hooks.NewRegistry(logger),
		Extensions: extension.NewRegistry(),
		Emitter:    events.NopEmitter{},
		Statuses:   models.DefaultStatuses(),
		LockTTL:    5 * time.Minute,
		Logger:     logger,
	})
}

type fixture struct {
	mem      *memory.Store
	engine   *Engine
	statuses models.Statuses
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memory.New()
	engine := newTestEngine(t, mem, mem)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }
	return &fixture{
		mem:      mem,
		engine:   engine,
		statuses: models.DefaultStatuses(),
		now:      now,
	}
}

// seedPair creates an original and a staged copy wired the way the staging
// manager leaves them.
func (f *fixture) seedPair(t *testing.T) (origID, stagedID string) {
	t.Helper()
	ctx := context.Background()

	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := f.mem.CreateItem(ctx, &models.ContentItem{
		ID:           "orig-1",
		Type:         "page",
		Status:       models.StatusPublish,
		Title:        "Live title",
		Content:      "Live body",
		Slug:         "a",
		GUID:         "g1",
		CreatedAt:    created,
		CreatedAtGMT: created,
		ModifiedAt:   created,
	})
	require.NoError(t, err)

	parent := "orig-1"
	_, err = f.mem.CreateItem(ctx, &models.ContentItem{
		ID:       "staged-1",
		Type:     "page",
		Status:   f.statuses.Staged,
		Title:    "Edited title",
		Content:  "Edited body",
		Slug:     "b",
		GUID:     "g2",
		ParentID: &parent,
	})
	require.NoError(t, err)
	require.NoError(t, f.mem.SetMeta(ctx, "staged-1", f.statuses.OriginalKey(), "orig-1"))

	return "orig-1", "staged-1"
}

func TestMergeTransfersIdentityFields(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	origID, stagedID := f.seedPair(t)

	mergedID, err := f.engine.Merge(ctx, stagedID)
	require.NoError(t, err)
	assert.Equal(t, origID, mergedID)

	orig, err := f.mem.GetItem(ctx, origID)
	require.NoError(t, err)
	assert.Equal(t, "b", orig.Slug)
	assert.Equal(t, "g2", orig.GUID)
	assert.Equal(t, "Edited title", orig.Title)
	assert.Equal(t, "Edited body", orig.Content)
	assert.Equal(t, models.StatusPublish, orig.Status, "original keeps its own host status")
	assert.Nil(t, orig.ParentID, "stage-time back-pointer is not carried over")

	_, err = f.mem.GetItem(ctx, stagedID)
	assert.ErrorIs(t, err, store.ErrNotFound, "staged item is hard-deleted")
}

func TestMergeStripsScheduleBookkeeping(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	origID, stagedID := f.seedPair(t)
	require.NoError(t, f.mem.SetMeta(ctx, stagedID, f.statuses.PubdateKey(), "1767225600"))
	require.NoError(t, f.mem.SetMeta(ctx, stagedID, f.statuses.KeepDatesKey(), "yes"))

	_, err := f.engine.Merge(ctx, stagedID)
	require.NoError(t, err)

	for _, key := range []string{f.statuses.OriginalKey(), f.statuses.PubdateKey(), f.statuses.KeepDatesKey()} {
		value, err := f.mem.GetMetaValue(ctx, origID, key)
		require.NoError(t, err)
		assert.Empty(t, value, "bookkeeping key %s must not survive on the original", key)
	}
}

func TestMergeRestoresReferences(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	origID, stagedID := f.seedPair(t)
	require.NoError(t, f.mem.AddMeta(ctx, stagedID, "block_data", "embed:"+stagedID+":end"))

	_, err := f.engine.Merge(ctx, stagedID)
	require.NoError(t, err)

	value, err := f.mem.GetMetaValue(ctx, origID, "block_data")
	require.NoError(t, err)
	assert.Equal(t, "embed:"+origID+":end", value)
	assert.NotContains(t, value, stagedID)
}

func TestMergeKeepDates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	origID, stagedID := f.seedPair(t)

	origBefore, err := f.mem.GetItem(ctx, origID)
	require.NoError(t, err)
	require.NoError(t, f.mem.SetMeta(ctx, stagedID, f.statuses.KeepDatesKey(), "yes"))

	_, err = f.engine.Merge(ctx, stagedID)
	require.NoError(t, err)

	orig, err := f.mem.GetItem(ctx, origID)
	require.NoError(t, err)
	assert.Equal(t, origBefore.CreatedAt, orig.CreatedAt, "creation timestamp is kept")
	assert.Equal(t, f.now, orig.ModifiedAt, "modified timestamp is bumped")
}

func TestMergeNewDates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	origID, stagedID := f.seedPair(t)

	_, err := f.engine.Merge(ctx, stagedID)
	require.NoError(t, err)

	orig, err := f.mem.GetItem(ctx, origID)
	require.NoError(t, err)
	assert.Equal(t, f.now, orig.CreatedAt)
	assert.Equal(t, f.now, orig.ModifiedAt)
}

func TestMergePublishDateFilter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	origID, stagedID := f.seedPair(t)

	shifted := f.now.Add(2 * time.Hour)
	f.engine.extensions.AddPublishDateFilter(func(computed time.Time, staged, orig *models.ContentItem) time.Time {
		return shifted
	})

	_, err := f.engine.Merge(ctx, stagedID)
	require.NoError(t, err)

	orig, err := f.mem.GetItem(ctx, origID)
	require.NoError(t, err)
	assert.Equal(t, shifted, orig.CreatedAt, "filter output feeds the applied timestamp")
}

func TestMergeNoOriginal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, stagedID := f.seedPair(t)
	require.NoError(t, f.mem.DeleteMeta(ctx, stagedID, f.statuses.OriginalKey()))

	_, err := f.engine.Merge(ctx, stagedID)
	assert.ErrorIs(t, err, ErrNoOriginal)
}

func TestMergeOriginalMissing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	origID, stagedID := f.seedPair(t)
	require.NoError(t, f.mem.DeleteItem(ctx, origID))

	_, err := f.engine.Merge(ctx, stagedID)
	assert.ErrorIs(t, err, ErrOriginalMissing)
}

func TestMergeOriginalTrashed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	origID, stagedID := f.seedPair(t)
	require.NoError(t, f.mem.SetItemStatus(ctx, origID, models.StatusTrash))

	_, err := f.engine.Merge(ctx, stagedID)
	assert.ErrorIs(t, err, ErrOriginalTrashed)
}

func TestMergeAlreadyInProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, stagedID := f.seedPair(t)

	// Register a timer so we can verify contention does not clear it.
	fireAt := f.now.Add(time.Hour)
	require.NoError(t, f.mem.ScheduleOnce(ctx, fireAt, models.TopicPublishUpdate, stagedID))

	acquired, err := f.mem.Acquire(ctx, lockKey(stagedID), 5*time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	_, err = f.engine.Merge(ctx, stagedID)
	assert.ErrorIs(t, err, ErrAlreadyInProgress)

	next, err := f.mem.NextScheduled(ctx, models.TopicPublishUpdate, stagedID)
	require.NoError(t, err)
	require.NotNil(t, next, "contention must not clear the timer")
	assert.Equal(t, fireAt, *next)

	// Staged item is untouched.
	staged, err := f.mem.GetItem(ctx, stagedID)
	require.NoError(t, err)
	assert.Equal(t, f.statuses.Staged, staged.Status)
}

func TestMergeClearsTimerOnFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	origID, stagedID := f.seedPair(t)
	require.NoError(t, f.mem.ScheduleOnce(ctx, f.now.Add(time.Hour), models.TopicPublishUpdate, stagedID))
	require.NoError(t, f.mem.SetItemStatus(ctx, origID, models.StatusTrash))

	_, err := f.engine.Merge(ctx, stagedID)
	require.ErrorIs(t, err, ErrOriginalTrashed)

	next, err := f.mem.NextScheduled(ctx, models.TopicPublishUpdate, stagedID)
	require.NoError(t, err)
	assert.Nil(t, next, "failed merges clear the timer so they do not spin")
}

// failingStore forces the hard delete of the staged item to fail, simulating
// a persistence error at the end of the merge transaction.
type failingStore struct {
	*memory.Store
	failDeleteOf string
}

func (f *failingStore) DeleteItem(ctx context.Context, id string) error {
	if id == f.failDeleteOf {
		return errors.New("disk on fire")
	}
	return f.Store.DeleteItem(ctx, id)
}

func TestMergeRollsBackOnPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	origID, stagedID := f.seedPair(t)
	require.NoError(t, f.mem.AddMeta(ctx, stagedID, "subtitle", "edited"))

	failing := &failingStore{Store: f.mem, failDeleteOf: stagedID}
	logger := testLogger()
	engine := NewEngine(EngineParams{
		Store:      failing,
		Locks:      f.mem,
		Scheduler:  f.mem,
		Copier:     metacopy.NewCopier(failing, logger),
		Hooks:      hooks.NewRegistry(logger),
		Extensions: extension.NewRegistry(),
		Emitter:    events.NopEmitter{},
		Statuses:   f.statuses,
		Logger:     logger,
	})

	origBefore, err := f.mem.GetItem(ctx, origID)
	require.NoError(t, err)

	_, err = engine.Merge(ctx, stagedID)
	require.Error(t, err)

	origAfter, err := f.mem.GetItem(ctx, origID)
	require.NoError(t, err)
	assert.Equal(t, *origBefore, *origAfter, "failed transaction leaves the original untouched")

	value, err := f.mem.GetMetaValue(ctx, origID, "subtitle")
	require.NoError(t, err)
	assert.Empty(t, value, "copied metadata is rolled back")

	staged, err := f.mem.GetItem(ctx, stagedID)
	require.NoError(t, err)
	assert.Equal(t, f.statuses.Staged, staged.Status, "staged item survives the failed merge")
}

func TestMergeReleasesLockAfterFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	origID, stagedID := f.seedPair(t)
	require.NoError(t, f.mem.SetItemStatus(ctx, origID, models.StatusTrash))

	_, err := f.engine.Merge(ctx, stagedID)
	require.ErrorIs(t, err, ErrOriginalTrashed)

	// A second attempt must not report contention.
	_, err = f.engine.Merge(ctx, stagedID)
	assert.ErrorIs(t, err, ErrOriginalTrashed)
	assert.NotErrorIs(t, err, ErrAlreadyInProgress)
}

func TestMergeReappliesPreservedStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := f.mem.CreateItem(ctx, &models.ContentItem{
		ID: "prod-1", Type: "product", Status: models.StatusPublish,
		Title: "Widget", CreatedAt: created, CreatedAtGMT: created, ModifiedAt: created,
	})
	require.NoError(t, err)
	parent := "prod-1"
	_, err = f.mem.CreateItem(ctx, &models.ContentItem{
		ID: "prod-staged", Type: "product", Status: f.statuses.Staged,
		Title: "Widget v2", ParentID: &parent,
	})
	require.NoError(t, err)
	require.NoError(t, f.mem.SetMeta(ctx, "prod-staged", f.statuses.OriginalKey(), "prod-1"))

	// Live stock sold down while the staged edit carried the old numbers.
	require.NoError(t, f.mem.SetMeta(ctx, "prod-1", "_stock", "3"))
	require.NoError(t, f.mem.SetMeta(ctx, "prod-1", "_stock_status", "instock"))
	require.NoError(t, f.mem.SetMeta(ctx, "prod-staged", "_stock", "50"))
	require.NoError(t, f.mem.SetMeta(ctx, "prod-staged", "_stock_status", "instock"))

	logger := testLogger()
	commerce := hooks.NewCommerceHook(f.mem, true, logger)
	engine := NewEngine(EngineParams{
		Store:      f.mem,
		Locks:      f.mem,
		Scheduler:  f.mem,
		Copier:     metacopy.NewCopier(f.mem, logger),
		Hooks:      hooks.NewRegistry(logger, commerce),
		Extensions: extension.NewRegistry(),
		Emitter:    events.NopEmitter{},
		Statuses:   f.statuses,
		Logger:     logger,
	})

	_, err = engine.Merge(ctx, "prod-staged")
	require.NoError(t, err)

	stock, err := f.mem.GetMetaValue(ctx, "prod-1", "_stock")
	require.NoError(t, err)
	assert.Equal(t, "3", stock, "live stock level survives the merge")

	title := "Widget v2"
	orig, err := f.mem.GetItem(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, title, orig.Title)
}
