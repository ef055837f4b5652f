// Package content persists content items, their metadata and their term
// assignments in Postgres.
package content

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/openpress/revisor/internal/database"
	"github.com/openpress/revisor/internal/tracing"
	"github.com/openpress/revisor/pkg/models"
	"github.com/openpress/revisor/pkg/store"
)

var itemColumns = []string{
	"id", "type", "status", "title", "content", "excerpt", "author",
	"slug", "guid", "parent_id", "password", "mime_type", "menu_order",
	"comment_status", "ping_status", "created_at", "created_at_gmt",
	"modified_at", "trashed_at",
}

// Repository implements the content store contract on Postgres.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
	now    func() time.Time
}

var _ store.Store = (*Repository)(nil)

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// DB exposes the underlying database handle for transactional operations.
func (r *Repository) DB() database.DB {
	return r.db
}

func (r *Repository) GetItem(ctx context.Context, id string) (*models.ContentItem, error) {
	ctx, span := tracing.StartSpan(ctx, "content.Repository.GetItem")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(itemColumns...)
	sb.From("content_items")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var item models.ContentItem
	if err := r.db.GetContext(ctx, &item, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, store.ErrNotFound
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get content item")
		return nil, fmt.Errorf("failed to get content item %s: %w", id, err)
	}

	return &item, nil
}

func (r *Repository) CreateItem(ctx context.Context, item *models.ContentItem) (*models.ContentItem, error) {
	ctx, span := tracing.StartSpan(ctx, "content.Repository.CreateItem")
	defer span.End()

	if item.CreatedAt.IsZero() {
		now := r.now().UTC()
		item.CreatedAt = now
		item.CreatedAtGMT = now
		item.ModifiedAt = now
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("content_items")
	sb.Cols(itemColumns...)
	sb.Values(
		item.ID, item.Type, item.Status, item.Title, item.Content, item.Excerpt,
		item.Author, item.Slug, item.GUID, item.ParentID, item.Password,
		item.MimeType, item.MenuOrder, item.CommentStatus, item.PingStatus,
		item.CreatedAt, item.CreatedAtGMT, item.ModifiedAt, item.TrashedAt,
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create content item")
		return nil, fmt.Errorf("failed to create content item: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": item.ID, "type": item.Type}).Info("Created content item")
	return item, nil
}

func (r *Repository) UpdateItem(ctx context.Context, item *models.ContentItem) error {
	ctx, span := tracing.StartSpan(ctx, "content.Repository.UpdateItem")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("content_items")
	sb.Set(
		sb.Assign("type", item.Type),
		sb.Assign("status", item.Status),
		sb.Assign("title", item.Title),
		sb.Assign("content", item.Content),
		sb.Assign("excerpt", item.Excerpt),
		sb.Assign("author", item.Author),
		sb.Assign("slug", item.Slug),
		sb.Assign("guid", item.GUID),
		sb.Assign("parent_id", item.ParentID),
		sb.Assign("password", item.Password),
		sb.Assign("mime_type", item.MimeType),
		sb.Assign("menu_order", item.MenuOrder),
		sb.Assign("comment_status", item.CommentStatus),
		sb.Assign("ping_status", item.PingStatus),
		sb.Assign("created_at", item.CreatedAt),
		sb.Assign("created_at_gmt", item.CreatedAtGMT),
		sb.Assign("modified_at", item.ModifiedAt),
		sb.Assign("trashed_at", item.TrashedAt),
	)
	sb.Where(sb.Equal("id", item.ID))

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update content item")
		return fmt.Errorf("failed to update content item %s: %w", item.ID, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteItem removes the item together with its metadata and terms.
func (r *Repository) DeleteItem(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "content.Repository.DeleteItem")
	defer span.End()

	for _, table := range []string{"content_meta", "content_terms"} {
		db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
		db.DeleteFrom(table)
		db.Where(db.Equal("item_id", id))
		query, args := db.Build()
		if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("Failed to delete content item rows")
			return fmt.Errorf("failed to delete %s rows for %s: %w", table, id, err)
		}
	}

	db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	db.DeleteFrom("content_items")
	db.Where(db.Equal("id", id))
	query, args := db.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to delete content item")
		return fmt.Errorf("failed to delete content item %s: %w", id, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return store.ErrNotFound
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id}).Info("Deleted content item")
	return nil
}

func (r *Repository) SetItemStatus(ctx context.Context, id string, status string) error {
	ctx, span := tracing.StartSpan(ctx, "content.Repository.SetItemStatus")
	defer span.End()

	var trashedAt *time.Time
	if status == models.StatusTrash {
		now := r.now().UTC()
		trashedAt = &now
	}

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("content_items")
	sb.Set(
		sb.Assign("status", status),
		sb.Assign("trashed_at", trashedAt),
	)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to set content item status")
		return fmt.Errorf("failed to set status of %s: %w", id, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *Repository) ListItemsByStatus(ctx context.Context, status string) ([]models.ContentItem, error) {
	ctx, span := tracing.StartSpan(ctx, "content.Repository.ListItemsByStatus")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(itemColumns...)
	sb.From("content_items")
	sb.Where(sb.Equal("status", status))
	sb.OrderBy("id ASC")

	query, args := sb.Build()
	var items []models.ContentItem
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list content items by status")
		return nil, fmt.Errorf("failed to list items with status %s: %w", status, err)
	}
	return items, nil
}

func (r *Repository) ListChildren(ctx context.Context, parentID string, itemType string) ([]models.ContentItem, error) {
	ctx, span := tracing.StartSpan(ctx, "content.Repository.ListChildren")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(itemColumns...)
	sb.From("content_items")
	sb.Where(
		sb.Equal("parent_id", parentID),
		sb.Equal("type", itemType),
	)
	sb.OrderBy("menu_order ASC", "id ASC")

	query, args := sb.Build()
	var items []models.ContentItem
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list child items")
		return nil, fmt.Errorf("failed to list children of %s: %w", parentID, err)
	}
	return items, nil
}

// Atomic runs fn inside a database transaction. Every store call made with
// the returned context participates in it.
func (r *Repository) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, span := tracing.StartSpan(ctx, "content.Repository.Atomic")
	defer span.End()

	ctxTx, tx, err := r.db.GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctxTx)

	if err := fn(ctxTx); err != nil {
		return err
	}
	return tx.Commit(ctxTx)
}
