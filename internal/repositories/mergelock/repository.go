// Package mergelock implements the advisory merge lock on a Postgres table.
package mergelock

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/openpress/revisor/internal/database"
	"github.com/openpress/revisor/internal/tracing"
	"github.com/openpress/revisor/pkg/store"
)

// Repository implements the lock contract. A lock row is taken over when its
// expiry has passed, so a crashed holder never wedges an item permanently.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
	now    func() time.Time
}

var _ store.Locks = (*Repository)(nil)

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Acquire takes the lock for the key. It returns false without error when
// another holder has it and the ttl has not lapsed.
func (r *Repository) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "mergelock.Repository.Acquire")
	defer span.End()

	now := r.now().UTC()
	query := `
		INSERT INTO merge_locks (key, acquired_at, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key)
		DO UPDATE SET acquired_at = EXCLUDED.acquired_at, expires_at = EXCLUDED.expires_at
		WHERE merge_locks.expires_at <= $2
	`
	result, err := r.db.ExecContext(ctx, query, key, now, now.Add(ttl))
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to acquire merge lock")
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (r *Repository) Release(ctx context.Context, key string) error {
	ctx, span := tracing.StartSpan(ctx, "mergelock.Repository.Release")
	defer span.End()

	db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	db.DeleteFrom("merge_locks")
	db.Where(db.Equal("key", key))

	query, args := db.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to release merge lock")
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}
