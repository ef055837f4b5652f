package hooks

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/openpress/revisor/internal/tracing"
	"github.com/openpress/revisor/pkg/models"
	"github.com/openpress/revisor/pkg/store"
)

const (
	productType          = "product"
	productVariationType = "product_variation"
	productKindKey       = "_product_type"
)

// stockKeys are the availability fields whose authoritative source is the
// live item. They are snapshotted before a merge and written back after it.
var stockKeys = []string{"_stock_status", "_stock", "_manage_stock", "_backorders"}

// CommerceHook copies commerce product structure that the generic metadata
// copy cannot express: child variation items, grouped-product children and
// external-product fields.
type CommerceHook struct {
	store   store.Store
	enabled bool
	logger  ectologger.Logger
}

func NewCommerceHook(st store.Store, enabled bool, logger ectologger.Logger) *CommerceHook {
	return &CommerceHook{
		store:   st,
		enabled: enabled,
		logger:  logger,
	}
}

func (h *CommerceHook) Name() string { return "commerce" }

func (h *CommerceHook) Active() bool { return h.enabled }

func (h *CommerceHook) OwnedKeyPrefixes() []string {
	return []string{"_children", "_product_url", "_button_text"}
}

func (h *CommerceHook) Copy(ctx context.Context, sourceID string, destID string, publish bool) error {
	ctx, span := tracing.StartSpan(ctx, "hooks.CommerceHook.Copy")
	defer span.End()

	source, err := h.store.GetItem(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("failed to load source product %s: %w", sourceID, err)
	}
	if source.Type != productType {
		return nil
	}

	kind, err := h.store.GetMetaValue(ctx, sourceID, productKindKey)
	if err != nil {
		return err
	}

	switch kind {
	case "variable":
		return h.copyVariations(ctx, sourceID, destID)
	case "grouped":
		return h.copyGroupedChildren(ctx, sourceID, destID)
	case "external":
		return h.copyExternalFields(ctx, sourceID, destID)
	default:
		// Simple products carry everything in plain metadata.
		return nil
	}
}

// copyVariations replaces destID's variations with copies of sourceID's.
func (h *CommerceHook) copyVariations(ctx context.Context, sourceID string, destID string) error {
	ctx, span := tracing.StartSpan(ctx, "hooks.CommerceHook.copyVariations")
	defer span.End()

	stale, err := h.store.ListChildren(ctx, destID, productVariationType)
	if err != nil {
		return err
	}
	for _, v := range stale {
		if err := h.store.DeleteItem(ctx, v.ID); err != nil {
			return err
		}
	}

	variations, err := h.store.ListChildren(ctx, sourceID, productVariationType)
	if err != nil {
		return err
	}

	for _, variation := range variations {
		parentID := destID
		copied := models.ContentItem{
			ID:            uuid.New().String(),
			Type:          productVariationType,
			Status:        variation.Status,
			Title:         variation.Title,
			Content:       variation.Content,
			Excerpt:       variation.Excerpt,
			Author:        variation.Author,
			Slug:          variation.Slug,
			ParentID:      &parentID,
			MenuOrder:     variation.MenuOrder,
			CommentStatus: variation.CommentStatus,
			PingStatus:    variation.PingStatus,
			CreatedAt:     variation.CreatedAt,
			CreatedAtGMT:  variation.CreatedAtGMT,
			ModifiedAt:    variation.ModifiedAt,
		}
		created, err := h.store.CreateItem(ctx, &copied)
		if err != nil {
			return fmt.Errorf("failed to copy variation %s: %w", variation.ID, err)
		}

		entries, err := h.store.AllMeta(ctx, variation.ID)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			for _, value := range entry.Values {
				if err := h.store.AddMeta(ctx, created.ID, entry.Key, value); err != nil {
					return err
				}
			}
		}
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"source_id": sourceID,
		"dest_id":   destID,
		"count":     len(variations),
	}).Debug("Copied product variations")
	return nil
}

func (h *CommerceHook) copyGroupedChildren(ctx context.Context, sourceID string, destID string) error {
	children, err := h.store.GetMetaValue(ctx, sourceID, "_children")
	if err != nil {
		return err
	}
	if children == "" {
		return nil
	}
	return h.store.SetMeta(ctx, destID, "_children", children)
}

func (h *CommerceHook) copyExternalFields(ctx context.Context, sourceID string, destID string) error {
	for _, key := range []string{"_product_url", "_button_text"} {
		value, err := h.store.GetMetaValue(ctx, sourceID, key)
		if err != nil {
			return err
		}
		if value == "" {
			continue
		}
		if err := h.store.SetMeta(ctx, destID, key, value); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot captures the live item's stock fields before a merge.
func (h *CommerceHook) Snapshot(ctx context.Context, itemID string) (map[string]string, error) {
	ctx, span := tracing.StartSpan(ctx, "hooks.CommerceHook.Snapshot")
	defer span.End()

	item, err := h.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Type != productType {
		return nil, nil
	}

	snapshot := map[string]string{}
	for _, key := range stockKeys {
		value, err := h.store.GetMetaValue(ctx, itemID, key)
		if err != nil {
			return nil, err
		}
		if value != "" {
			snapshot[key] = value
		}
	}
	return snapshot, nil
}

// Reapply writes the snapshotted stock fields back after the merge copy.
func (h *CommerceHook) Reapply(ctx context.Context, itemID string, snapshot map[string]string) error {
	ctx, span := tracing.StartSpan(ctx, "hooks.CommerceHook.Reapply")
	defer span.End()

	for _, key := range stockKeys {
		value, ok := snapshot[key]
		if !ok {
			continue
		}
		if err := h.store.SetMeta(ctx, itemID, key, value); err != nil {
			return err
		}
	}
	return nil
}
