package lifecycle

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpress/revisor/pkg/models"
	"github.com/openpress/revisor/pkg/store/memory"
)

func newTestGuard(t *testing.T, sanitize SanitizeFunc) (*Guard, *memory.Store) {
	t.Helper()
	mem := memory.New()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewGuard(mem, mem, models.DefaultStatuses(), sanitize, logger), mem
}

func seedStaged(t *testing.T, mem *memory.Store, id string) {
	t.Helper()
	_, err := mem.CreateItem(context.Background(), &models.ContentItem{
		ID:     id,
		Type:   "page",
		Status: models.DefaultStatuses().Staged,
		Title:  "Draft of the future",
	})
	require.NoError(t, err)
}

func TestGuardCorrectsEscapeAttempt(t *testing.T) {
	ctx := context.Background()
	guard, mem := newTestGuard(t, nil)
	seedStaged(t, mem, "staged-1")

	// Host-side write already flipped the status before the notification.
	require.NoError(t, mem.SetItemStatus(ctx, "staged-1", models.StatusPublish))
	require.NoError(t, guard.OnTransition(ctx, "staged-1", models.DefaultStatuses().Staged, models.StatusPublish))

	item, err := mem.GetItem(ctx, "staged-1")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultStatuses().Staged, item.Status, "staged items only leave via merge or trash")
}

func TestGuardIgnoresOwnCorrectiveWrite(t *testing.T) {
	ctx := context.Background()
	guard, mem := newTestGuard(t, nil)
	seedStaged(t, mem, "staged-1")

	guard.inflight.Store("staged-1", struct{}{})
	defer guard.inflight.Delete("staged-1")

	require.NoError(t, mem.SetItemStatus(ctx, "staged-1", models.StatusPublish))
	require.NoError(t, guard.OnTransition(ctx, "staged-1", models.DefaultStatuses().Staged, models.StatusPublish))

	item, err := mem.GetItem(ctx, "staged-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublish, item.Status, "notifications for in-flight corrections are ignored")
}

func TestGuardTrashCancelsTimer(t *testing.T) {
	ctx := context.Background()
	guard, mem := newTestGuard(t, nil)
	seedStaged(t, mem, "staged-1")

	fireAt := time.Now().Add(time.Hour)
	require.NoError(t, mem.ScheduleOnce(ctx, fireAt, models.TopicPublishUpdate, "staged-1"))

	require.NoError(t, guard.OnTransition(ctx, "staged-1", models.DefaultStatuses().Staged, models.StatusTrash))

	next, err := mem.NextScheduled(ctx, models.TopicPublishUpdate, "staged-1")
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestGuardUntrashRearmsTimer(t *testing.T) {
	ctx := context.Background()
	guard, mem := newTestGuard(t, nil)
	seedStaged(t, mem, "staged-1")

	releaseAt := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, mem.SetMeta(ctx, "staged-1", models.DefaultStatuses().PubdateKey(), models.FormatPubdate(releaseAt)))

	require.NoError(t, guard.OnTransition(ctx, "staged-1", models.StatusTrash, models.DefaultStatuses().Staged))

	next, err := mem.NextScheduled(ctx, models.TopicPublishUpdate, "staged-1")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, releaseAt, next.UTC())
}

func TestGuardUntrashWithoutPubdateIsNoop(t *testing.T) {
	ctx := context.Background()
	guard, mem := newTestGuard(t, nil)
	seedStaged(t, mem, "staged-1")

	require.NoError(t, guard.OnTransition(ctx, "staged-1", models.StatusTrash, models.DefaultStatuses().Staged))

	next, err := mem.NextScheduled(ctx, models.TopicPublishUpdate, "staged-1")
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestGuardSameStatusIsNoop(t *testing.T) {
	ctx := context.Background()
	guard, mem := newTestGuard(t, nil)
	staged := models.DefaultStatuses().Staged
	assert.NoError(t, guard.OnTransition(ctx, "missing-item", staged, staged))
	_ = mem
}

func TestGuardPreservesUnicodeEscapesThroughSanitize(t *testing.T) {
	ctx := context.Background()
	// A hostile sanitize pass that doubles every backslash, the classic way
	// escaped sequences get mangled.
	sanitize := func(s string) string { return strings.ReplaceAll(s, `\`, `\\`) }
	guard, mem := newTestGuard(t, sanitize)
	seedStaged(t, mem, "staged-1")

	content := `block data {"label":"caf\u00e9"} and a plain \path`
	item, err := mem.GetItem(ctx, "staged-1")
	require.NoError(t, err)
	item.Content = content
	item.Status = models.StatusPublish
	require.NoError(t, mem.UpdateItem(ctx, item))

	require.NoError(t, guard.OnTransition(ctx, "staged-1", models.DefaultStatuses().Staged, models.StatusPublish))

	corrected, err := mem.GetItem(ctx, "staged-1")
	require.NoError(t, err)
	assert.Contains(t, corrected.Content, `\u00e9`, "escape sequences survive the corrective write verbatim")
	assert.NotContains(t, corrected.Content, `\\u00e9`)
	assert.Contains(t, corrected.Content, `\\path`, "the sanitize pass still applies to everything else")
}

func TestProtectRestoreRoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"no escapes here",
		`one \u00e9 escape`,
		`\u0041\u0042 back to back`,
		`not an escape: \uXYZ1`,
	}
	for _, input := range inputs {
		assert.Equal(t, input, restoreEscapes(protectEscapes(input)), input)
	}
}
