// Package store defines the content store, lock and scheduler contracts the
// scheduling core is written against. The Postgres implementations live in
// internal/repositories; an in-memory implementation for tests lives in
// store/memory.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/openpress/revisor/pkg/models"
)

// ErrNotFound is returned when an item, metadata key or job does not exist.
var ErrNotFound = errors.New("not found")

// Store is the transactional document + key/value store holding content
// items, their metadata and their term assignments.
type Store interface {
	GetItem(ctx context.Context, id string) (*models.ContentItem, error)
	CreateItem(ctx context.Context, item *models.ContentItem) (*models.ContentItem, error)
	UpdateItem(ctx context.Context, item *models.ContentItem) error
	// DeleteItem permanently removes an item together with its metadata and
	// terms. This is a hard delete, not a move to trash.
	DeleteItem(ctx context.Context, id string) error
	SetItemStatus(ctx context.Context, id string, status string) error
	ListItemsByStatus(ctx context.Context, status string) ([]models.ContentItem, error)
	// ListChildren returns items of the given type whose parent reference
	// points at parentID, ordered by menu order.
	ListChildren(ctx context.Context, parentID string, itemType string) ([]models.ContentItem, error)

	// AllMeta returns every metadata entry of an item with deterministic key
	// order and value order preserved.
	AllMeta(ctx context.Context, itemID string) ([]models.MetaEntry, error)
	GetMeta(ctx context.Context, itemID string, key string) ([]string, error)
	// GetMetaValue returns the first value for key, or "" when absent.
	GetMetaValue(ctx context.Context, itemID string, key string) (string, error)
	AddMeta(ctx context.Context, itemID string, key string, value string) error
	// SetMeta replaces every value of key with the single given value.
	SetMeta(ctx context.Context, itemID string, key string, value string) error
	DeleteMeta(ctx context.Context, itemID string, key string) error

	Terms(ctx context.Context, itemID string) ([]models.TermAssignment, error)
	// SetTerms resets the taxonomy on the item and assigns the given slugs in
	// order.
	SetTerms(ctx context.Context, itemID string, taxonomy string, slugs []string) error

	// Atomic runs fn inside a single store transaction. Every store call made
	// through the fn's context joins the transaction; any error returned by
	// fn rolls the whole transaction back.
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error
}

// Locks hands out short-lived advisory locks with a fixed expiry, used to
// serialize concurrent merge attempts for the same staged item.
type Locks interface {
	// Acquire returns false without error when the lock is already held and
	// not yet expired.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Scheduler is the durable delayed-execution facility. At most one live
// timer exists per (topic, itemID) pair; ScheduleOnce replaces any previous
// registration.
type Scheduler interface {
	ScheduleOnce(ctx context.Context, fireAt time.Time, topic string, itemID string) error
	Cancel(ctx context.Context, topic string, itemID string) error
	// NextScheduled returns nil when no timer is registered.
	NextScheduled(ctx context.Context, topic string, itemID string) (*time.Time, error)
}
