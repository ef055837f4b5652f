package hooks

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/openpress/revisor/internal/tracing"
	"github.com/openpress/revisor/pkg/store"
)

const translationGroupKey = "_translation_group"

// TranslationHook keeps a staged copy in the same translation group as its
// source, so multilingual integrations treat both as one logical document.
type TranslationHook struct {
	store   store.Store
	enabled bool
	logger  ectologger.Logger
}

func NewTranslationHook(st store.Store, enabled bool, logger ectologger.Logger) *TranslationHook {
	return &TranslationHook{
		store:   st,
		enabled: enabled,
		logger:  logger,
	}
}

func (h *TranslationHook) Name() string { return "translation" }

func (h *TranslationHook) Active() bool { return h.enabled }

func (h *TranslationHook) OwnedKeyPrefixes() []string {
	return []string{translationGroupKey}
}

func (h *TranslationHook) Copy(ctx context.Context, sourceID string, destID string, publish bool) error {
	ctx, span := tracing.StartSpan(ctx, "hooks.TranslationHook.Copy")
	defer span.End()

	group, err := h.store.GetMetaValue(ctx, sourceID, translationGroupKey)
	if err != nil {
		return fmt.Errorf("failed to read translation group for %s: %w", sourceID, err)
	}
	if group == "" {
		// Items join a group the first time they are staged.
		group = uuid.New().String()
		if err := h.store.SetMeta(ctx, sourceID, translationGroupKey, group); err != nil {
			return err
		}
	}
	return h.store.SetMeta(ctx, destID, translationGroupKey, group)
}
