package content

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/openpress/revisor/internal/tracing"
	"github.com/openpress/revisor/pkg/models"
)

type metaRow struct {
	Key   string `db:"key"`
	Value string `db:"value"`
}

// AllMeta returns every metadata entry of the item, grouped by key in
// insertion order with values in insertion order.
func (r *Repository) AllMeta(ctx context.Context, itemID string) ([]models.MetaEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "content.Repository.AllMeta")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("key", "value")
	sb.From("content_meta")
	sb.Where(sb.Equal("item_id", itemID))
	sb.OrderBy("position ASC")

	query, args := sb.Build()
	var rows []metaRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list metadata")
		return nil, fmt.Errorf("failed to list metadata of %s: %w", itemID, err)
	}

	var keys []string
	grouped := map[string][]string{}
	for _, row := range rows {
		if _, seen := grouped[row.Key]; !seen {
			keys = append(keys, row.Key)
		}
		grouped[row.Key] = append(grouped[row.Key], row.Value)
	}
	out := make([]models.MetaEntry, 0, len(keys))
	for _, key := range keys {
		out = append(out, models.MetaEntry{Key: key, Values: grouped[key]})
	}
	return out, nil
}

func (r *Repository) GetMeta(ctx context.Context, itemID string, key string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "content.Repository.GetMeta")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("value")
	sb.From("content_meta")
	sb.Where(
		sb.Equal("item_id", itemID),
		sb.Equal("key", key),
	)
	sb.OrderBy("position ASC")

	query, args := sb.Build()
	var values []string
	if err := r.db.SelectContext(ctx, &values, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get metadata values")
		return nil, fmt.Errorf("failed to get metadata %s of %s: %w", key, itemID, err)
	}
	return values, nil
}

// GetMetaValue returns the first value for the key, or the empty string when
// the key is absent.
func (r *Repository) GetMetaValue(ctx context.Context, itemID string, key string) (string, error) {
	values, err := r.GetMeta(ctx, itemID, key)
	if err != nil {
		return "", err
	}
	if len(values) == 0 {
		return "", nil
	}
	return values[0], nil
}

func (r *Repository) AddMeta(ctx context.Context, itemID string, key string, value string) error {
	ctx, span := tracing.StartSpan(ctx, "content.Repository.AddMeta")
	defer span.End()

	query := `
		INSERT INTO content_meta (id, item_id, key, value, position)
		SELECT $1, $2, $3, $4, COALESCE(MAX(position), 0) + 1
		FROM content_meta
		WHERE item_id = $2
	`
	if _, err := r.db.ExecContext(ctx, query, uuid.New().String(), itemID, key, value); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to add metadata value")
		return fmt.Errorf("failed to add metadata %s to %s: %w", key, itemID, err)
	}
	return nil
}

// SetMeta replaces every value of the key with the single given value.
func (r *Repository) SetMeta(ctx context.Context, itemID string, key string, value string) error {
	ctx, span := tracing.StartSpan(ctx, "content.Repository.SetMeta")
	defer span.End()

	if err := r.DeleteMeta(ctx, itemID, key); err != nil {
		return err
	}
	return r.AddMeta(ctx, itemID, key, value)
}

func (r *Repository) DeleteMeta(ctx context.Context, itemID string, key string) error {
	ctx, span := tracing.StartSpan(ctx, "content.Repository.DeleteMeta")
	defer span.End()

	db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	db.DeleteFrom("content_meta")
	db.Where(
		db.Equal("item_id", itemID),
		db.Equal("key", key),
	)

	query, args := db.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to delete metadata")
		return fmt.Errorf("failed to delete metadata %s of %s: %w", key, itemID, err)
	}
	return nil
}
