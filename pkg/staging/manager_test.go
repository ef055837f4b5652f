package staging

import (
	"context"
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
	"github.com/openpress/revisor/pkg/store/memory"
)

type recordingEmitter struct {
	events.NopEmitter
	stagedIDs   []string
	originalIDs []string
}

func (r *recordingEmitter) UpdateStaged(ctx context.Context, stagedID string, originalID string, itemType string) {
	r.stagedIDs = append(r.stagedIDs, stagedID)
	r.originalIDs = append(r.originalIDs, originalID)
}

func newTestManager(t *testing.T) (*Manager, *memory.Store, *recordingEmitter) {
	t.Helper()
	mem := memory.New()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	emitter := &recordingEmitter{}
	manager := NewManager(ManagerParams{
		Store:      mem,
		Scheduler:  mem,
		Copier:     metacopy.NewCopier(mem, logger),
		Hooks:      hooks.NewRegistry(logger),
		Extensions: extension.NewRegistry(),
		Emitter:    emitter,
		Statuses:   models.DefaultStatuses(),
		PastGrace:  5 * time.Minute,
		Logger:     logger,
	})
	return manager, mem, emitter
}

func seedLive(t *testing.T, mem *memory.Store) string {
	t.Helper()
	_, err := mem.CreateItem(context.Background(), &models.ContentItem{
		ID:            "live-1",
		Type:          "page",
		Status:        models.StatusPublish,
		Title:         "About us",
		Content:       "We make widgets.",
		Excerpt:       "Widgets.",
		Author:        "author-9",
		Slug:          "about-us",
		GUID:          "guid-live-1",
		MenuOrder:     3,
		CommentStatus: "closed",
		PingStatus:    "closed",
	})
	require.NoError(t, err)
	return "live-1"
}

func TestStageCopiesStructuralFields(t *testing.T) {
	ctx := context.Background()
	manager, mem, _ := newTestManager(t)
	liveID := seedLive(t, mem)
	statuses := models.DefaultStatuses()

	stagedID, err := manager.Stage(ctx, liveID)
	require.NoError(t, err)
	require.NotEmpty(t, stagedID)
	assert.NotEqual(t, liveID, stagedID)

	staged, err := mem.GetItem(ctx, stagedID)
	require.NoError(t, err)
	assert.Equal(t, statuses.Staged, staged.Status)
	assert.Equal(t, "About us", staged.Title)
	assert.Equal(t, "We make widgets.", staged.Content)
	assert.Equal(t, "author-9", staged.Author)
	assert.Equal(t, 3, staged.MenuOrder)
	assert.Equal(t, "closed", staged.CommentStatus)
	require.NotNil(t, staged.ParentID)
	assert.Equal(t, liveID, *staged.ParentID, "parent reference points at the source")

	original, err := mem.GetMetaValue(ctx, stagedID, statuses.OriginalKey())
	require.NoError(t, err)
	assert.Equal(t, liveID, original)
}

func TestStageCopiesMetadataAndTerms(t *testing.T) {
	ctx := context.Background()
	manager, mem, _ := newTestManager(t)
	liveID := seedLive(t, mem)
	require.NoError(t, mem.AddMeta(ctx, liveID, "subtitle", "est. 1999"))
	require.NoError(t, mem.SetTerms(ctx, liveID, "category", []string{"company"}))

	stagedID, err := manager.Stage(ctx, liveID)
	require.NoError(t, err)

	value, err := mem.GetMetaValue(ctx, stagedID, "subtitle")
	require.NoError(t, err)
	assert.Equal(t, "est. 1999", value)

	terms, err := mem.Terms(ctx, stagedID)
	require.NoError(t, err)
	require.Len(t, terms, 1)
	assert.Equal(t, []string{"company"}, terms[0].Slugs)
}

func TestStageFromStagedItemResolvesOriginal(t *testing.T) {
	ctx := context.Background()
	manager, mem, _ := newTestManager(t)
	liveID := seedLive(t, mem)
	statuses := models.DefaultStatuses()

	firstID, err := manager.Stage(ctx, liveID)
	require.NoError(t, err)

	// Leftover bookkeeping on the first copy must not leak onto the second.
	require.NoError(t, mem.SetMeta(ctx, firstID, statuses.KeepDatesKey(), "yes"))
	require.NoError(t, mem.SetMeta(ctx, firstID, statuses.PubdateKey(), "1767225600"))

	secondID, err := manager.Stage(ctx, firstID)
	require.NoError(t, err)

	original, err := mem.GetMetaValue(ctx, secondID, statuses.OriginalKey())
	require.NoError(t, err)
	assert.Equal(t, liveID, original, "staged items never chain")

	keep, err := mem.GetMetaValue(ctx, secondID, statuses.KeepDatesKey())
	require.NoError(t, err)
	assert.Empty(t, keep)

	pubdate, err := mem.GetMetaValue(ctx, secondID, statuses.PubdateKey())
	require.NoError(t, err)
	assert.Empty(t, pubdate)
}

func TestStageExcludedType(t *testing.T) {
	ctx := context.Background()
	manager, mem, _ := newTestManager(t)
	liveID := seedLive(t, mem)
	manager.extensions.ExcludeType("page")

	_, err := manager.Stage(ctx, liveID)
	assert.ErrorIs(t, err, ErrTypeExcluded)
}

func TestStageEmitsStagedEvent(t *testing.T) {
	ctx := context.Background()
	manager, mem, emitter := newTestManager(t)
	liveID := seedLive(t, mem)

	stagedID, err := manager.Stage(ctx, liveID)
	require.NoError(t, err)

	require.Len(t, emitter.stagedIDs, 1)
	assert.Equal(t, stagedID, emitter.stagedIDs[0])
	assert.Equal(t, liveID, emitter.originalIDs[0])
}

func TestSetReleaseDateArmsTimer(t *testing.T) {
	ctx := context.Background()
	manager, mem, _ := newTestManager(t)
	liveID := seedLive(t, mem)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	manager.now = func() time.Time { return now }

	stagedID, err := manager.Stage(ctx, liveID)
	require.NoError(t, err)

	releaseAt := now.Add(48 * time.Hour)
	applied, err := manager.SetReleaseDate(ctx, stagedID, releaseAt)
	require.NoError(t, err)
	assert.Equal(t, releaseAt, applied)

	next, err := mem.NextScheduled(ctx, models.TopicPublishUpdate, stagedID)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, releaseAt, *next)

	value, err := mem.GetMetaValue(ctx, stagedID, models.DefaultStatuses().PubdateKey())
	require.NoError(t, err)
	parsed, ok := models.ParsePubdate(value)
	require.True(t, ok)
	assert.Equal(t, releaseAt, parsed)
}

func TestSetReleaseDateClampsPastTimestamps(t *testing.T) {
	ctx := context.Background()
	manager, mem, _ := newTestManager(t)
	liveID := seedLive(t, mem)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	manager.now = func() time.Time { return now }

	stagedID, err := manager.Stage(ctx, liveID)
	require.NoError(t, err)

	applied, err := manager.SetReleaseDate(ctx, stagedID, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, now.Add(5*time.Minute), applied, "past dates are pushed five minutes out")
}

func TestSetReleaseDateRejectsNonStaged(t *testing.T) {
	ctx := context.Background()
	manager, mem, _ := newTestManager(t)
	liveID := seedLive(t, mem)

	_, err := manager.SetReleaseDate(ctx, liveID, time.Now().Add(time.Hour))
	assert.Error(t, err)
}

func TestClearReleaseDate(t *testing.T) {
	ctx := context.Background()
	manager, mem, _ := newTestManager(t)
	liveID := seedLive(t, mem)

	stagedID, err := manager.Stage(ctx, liveID)
	require.NoError(t, err)
	_, err = manager.SetReleaseDate(ctx, stagedID, time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, manager.ClearReleaseDate(ctx, stagedID))

	next, err := mem.NextScheduled(ctx, models.TopicPublishUpdate, stagedID)
	require.NoError(t, err)
	assert.Nil(t, next)

	value, err := mem.GetMetaValue(ctx, stagedID, models.DefaultStatuses().PubdateKey())
	require.NoError(t, err)
	assert.Empty(t, value)
}
