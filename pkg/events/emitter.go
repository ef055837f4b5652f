// Package events handles event emission for scheduled update lifecycle changes
package events

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/openpress/revisor/internal/tracing"
	"github.com/openpress/revisor/pkg/kafka"
	"github.com/openpress/revisor/pkg/models"
)

// Emitter is the extension point surface the scheduling core notifies. All
// notifications are fire-and-forget; implementations must not block the
// staging or merge paths on delivery.
type Emitter interface {
	// UpdateStaged fires after a working copy has been created.
	UpdateStaged(ctx context.Context, stagedID string, originalID string, itemType string)
	// BeforeMerge fires right before the merge transaction opens.
	BeforeMerge(ctx context.Context, staged *models.ContentItem, original *models.ContentItem)
	// UpdateMerged fires after the merge transaction committed, before the
	// advisory lock is released.
	UpdateMerged(ctx context.Context, stagedID string, original *models.ContentItem, releaseAt *time.Time)
}

// KafkaEmitter publishes lifecycle events to the update topic.
type KafkaEmitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

func NewKafkaEmitter(producer *kafka.Producer, logger ectologger.Logger) *KafkaEmitter {
	return &KafkaEmitter{
		producer: producer,
		logger:   logger,
	}
}

func (e *KafkaEmitter) UpdateStaged(ctx context.Context, stagedID string, originalID string, itemType string) {
	ctx, span := tracing.StartSpan(ctx, "events.KafkaEmitter.UpdateStaged")
	defer span.End()

	event := &kafka.UpdateEvent{
		EventType:  "update.staged",
		StagedID:   stagedID,
		OriginalID: originalID,
		ItemType:   itemType,
	}

	if err := e.producer.PublishUpdateEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit update.staged event")
	}
}

func (e *KafkaEmitter) BeforeMerge(ctx context.Context, staged *models.ContentItem, original *models.ContentItem) {
	ctx, span := tracing.StartSpan(ctx, "events.KafkaEmitter.BeforeMerge")
	defer span.End()

	event := &kafka.UpdateEvent{
		EventType:  "update.merging",
		StagedID:   staged.ID,
		OriginalID: original.ID,
		ItemType:   original.Type,
	}

	if err := e.producer.PublishUpdateEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit update.merging event")
	}
}

func (e *KafkaEmitter) UpdateMerged(ctx context.Context, stagedID string, original *models.ContentItem, releaseAt *time.Time) {
	ctx, span := tracing.StartSpan(ctx, "events.KafkaEmitter.UpdateMerged")
	defer span.End()

	event := &kafka.UpdateEvent{
		EventType:  "update.merged",
		StagedID:   stagedID,
		OriginalID: original.ID,
		ItemType:   original.Type,
	}
	if releaseAt != nil {
		unix := releaseAt.Unix()
		event.ReleaseAt = &unix
	}

	if err := e.producer.PublishUpdateEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit update.merged event")
	}
}

// NopEmitter drops every event. Used in tests and when Kafka is disabled.
type NopEmitter struct{}

func (NopEmitter) UpdateStaged(ctx context.Context, stagedID string, originalID string, itemType string) {
}
func (NopEmitter) BeforeMerge(ctx context.Context, staged *models.ContentItem, original *models.ContentItem) {
}
func (NopEmitter) UpdateMerged(ctx context.Context, stagedID string, original *models.ContentItem, releaseAt *time.Time) {
}
