package hooks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/openpress/revisor/internal/tracing"
	"github.com/openpress/revisor/pkg/store"
)

// BuilderHook copies page-builder state between items: the builder's own
// metadata keys and the generated per-item stylesheet. Builder stylesheets
// embed the item id in their selectors, so the copy rewrites the id.
type BuilderHook struct {
	store     store.Store
	assetsDir string
	logger    ectologger.Logger
}

func NewBuilderHook(st store.Store, assetsDir string, logger ectologger.Logger) *BuilderHook {
	return &BuilderHook{
		store:     st,
		assetsDir: assetsDir,
		logger:    logger,
	}
}

func (h *BuilderHook) Name() string { return "builder" }

func (h *BuilderHook) Active() bool {
	if h.assetsDir == "" {
		return false
	}
	info, err := os.Stat(h.assetsDir)
	return err == nil && info.IsDir()
}

func (h *BuilderHook) OwnedKeyPrefixes() []string {
	return []string{"_builder_"}
}

func (h *BuilderHook) Copy(ctx context.Context, sourceID string, destID string, publish bool) error {
	ctx, span := tracing.StartSpan(ctx, "hooks.BuilderHook.Copy")
	defer span.End()

	entries, err := h.store.AllMeta(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("failed to read builder metadata for %s: %w", sourceID, err)
	}
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Key, "_builder_") {
			continue
		}
		if err := h.store.DeleteMeta(ctx, destID, entry.Key); err != nil {
			return err
		}
		for _, value := range entry.Values {
			if err := h.store.AddMeta(ctx, destID, entry.Key, value); err != nil {
				return err
			}
		}
	}

	return h.copyStylesheet(ctx, sourceID, destID)
}

func (h *BuilderHook) copyStylesheet(ctx context.Context, sourceID string, destID string) error {
	sourceCSS := filepath.Join(h.assetsDir, "css", "item-"+sourceID+".css")
	destCSS := filepath.Join(h.assetsDir, "css", "item-"+destID+".css")

	content, err := os.ReadFile(sourceCSS)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read builder stylesheet %s: %w", sourceCSS, err)
	}

	rewritten := strings.ReplaceAll(string(content), sourceID, destID)
	if err := os.WriteFile(destCSS, []byte(rewritten), 0o644); err != nil {
		return fmt.Errorf("failed to write builder stylesheet %s: %w", destCSS, err)
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"source_id": sourceID,
		"dest_id":   destID,
	}).Debug("Copied builder stylesheet")
	return nil
}
