package content

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/openpress/revisor/internal/tracing"
	"github.com/openpress/revisor/pkg/models"
)

type termRow struct {
	Taxonomy string `db:"taxonomy"`
	Slug     string `db:"slug"`
}

// Terms returns the item's term assignments grouped by taxonomy.
func (r *Repository) Terms(ctx context.Context, itemID string) ([]models.TermAssignment, error) {
	ctx, span := tracing.StartSpan(ctx, "content.Repository.Terms")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("taxonomy", "slug")
	sb.From("content_terms")
	sb.Where(sb.Equal("item_id", itemID))
	sb.OrderBy("taxonomy ASC", "position ASC")

	query, args := sb.Build()
	var rows []termRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list terms")
		return nil, fmt.Errorf("failed to list terms of %s: %w", itemID, err)
	}

	var taxonomies []string
	grouped := map[string][]string{}
	for _, row := range rows {
		if _, seen := grouped[row.Taxonomy]; !seen {
			taxonomies = append(taxonomies, row.Taxonomy)
		}
		grouped[row.Taxonomy] = append(grouped[row.Taxonomy], row.Slug)
	}
	out := make([]models.TermAssignment, 0, len(taxonomies))
	for _, taxonomy := range taxonomies {
		out = append(out, models.TermAssignment{Taxonomy: taxonomy, Slugs: grouped[taxonomy]})
	}
	return out, nil
}

// SetTerms replaces the item's assignments for one taxonomy.
func (r *Repository) SetTerms(ctx context.Context, itemID string, taxonomy string, slugs []string) error {
	ctx, span := tracing.StartSpan(ctx, "content.Repository.SetTerms")
	defer span.End()

	db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	db.DeleteFrom("content_terms")
	db.Where(
		db.Equal("item_id", itemID),
		db.Equal("taxonomy", taxonomy),
	)
	query, args := db.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to clear terms")
		return fmt.Errorf("failed to clear terms of %s: %w", itemID, err)
	}

	for position, slug := range slugs {
		sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
		sb.InsertInto("content_terms")
		sb.Cols("id", "item_id", "taxonomy", "slug", "position")
		sb.Values(uuid.New().String(), itemID, taxonomy, slug, position)

		query, args := sb.Build()
		if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("Failed to insert term")
			return fmt.Errorf("failed to assign term %s to %s: %w", slug, itemID, err)
		}
	}
	return nil
}
