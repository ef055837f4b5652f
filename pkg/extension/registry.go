// Package extension holds the host-facing extension points whose return
// values feed back into the scheduling core: the publish-date filter chain
// and the content-type exclusion list. Both are resolved at startup; there
// is no runtime registration by name.
package extension

import (
	"context"
	"time"

	"github.com/openpress/revisor/pkg/models"
)

// PublishDateFilter may transform the creation timestamp computed during a
// merge before it is applied to the original item. Filters run in
// registration order, each receiving the previous filter's output.
type PublishDateFilter func(computed time.Time, staged *models.ContentItem, original *models.ContentItem) time.Time

// Registry is the immutable set of extensions, built once during startup.
type Registry struct {
	publishDateFilters []PublishDateFilter
	excludedTypes      map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		excludedTypes: map[string]struct{}{},
	}
}

// AddPublishDateFilter appends a filter to the chain.
func (r *Registry) AddPublishDateFilter(f PublishDateFilter) {
	r.publishDateFilters = append(r.publishDateFilters, f)
}

// ExcludeType bars a content type from entering the staged workflow.
func (r *Registry) ExcludeType(itemType string) {
	r.excludedTypes[itemType] = struct{}{}
}

// TypeExcluded reports whether the host barred this content type.
func (r *Registry) TypeExcluded(itemType string) bool {
	_, ok := r.excludedTypes[itemType]
	return ok
}

// PublishDate runs the filter chain over the computed timestamp.
func (r *Registry) PublishDate(ctx context.Context, computed time.Time, staged *models.ContentItem, original *models.ContentItem) time.Time {
	for _, f := range r.publishDateFilters {
		computed = f(computed, staged, original)
	}
	return computed
}
