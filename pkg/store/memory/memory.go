// Package memory holds an in-memory implementation of the store contracts.
// It backs the unit tests of the staging, merge and lifecycle packages and
// mirrors the transactional semantics of the Postgres repositories: Atomic
// snapshots all state before running the callback and restores it when the
// callback fails.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/openpress/revisor/pkg/models"
	"github.com/openpress/revisor/pkg/store"
)

type metaRow struct {
	Key   string
	Value string
}

// Store is a single in-process backend satisfying store.Store, store.Locks
// and store.Scheduler.
type Store struct {
	mu    sync.Mutex
	items map[string]models.ContentItem
	meta  map[string][]metaRow
	terms map[string][]models.TermAssignment
	locks map[string]time.Time
	jobs  map[string]models.ScheduledJob

	// Now is the clock; override it in tests that exercise lock expiry.
	Now func() time.Time
}

var (
	_ store.Store     = (*Store)(nil)
	_ store.Locks     = (*Store)(nil)
	_ store.Scheduler = (*Store)(nil)
)

func New() *Store {
	return &Store{
		items: map[string]models.ContentItem{},
		meta:  map[string][]metaRow{},
		terms: map[string][]models.TermAssignment{},
		locks: map[string]time.Time{},
		jobs:  map[string]models.ScheduledJob{},
		Now:   time.Now,
	}
}

func (s *Store) GetItem(ctx context.Context, id string) (*models.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := item
	return &copied, nil
}

func (s *Store) CreateItem(ctx context.Context, item *models.ContentItem) (*models.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		return nil, fmt.Errorf("memory: item id is required")
	}
	if _, exists := s.items[item.ID]; exists {
		return nil, fmt.Errorf("memory: item %s already exists", item.ID)
	}
	s.items[item.ID] = *item
	copied := *item
	return &copied, nil
}

func (s *Store) UpdateItem(ctx context.Context, item *models.ContentItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[item.ID]; !ok {
		return store.ErrNotFound
	}
	s.items[item.ID] = *item
	return nil
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.items, id)
	delete(s.meta, id)
	delete(s.terms, id)
	return nil
}

func (s *Store) SetItemStatus(ctx context.Context, id string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return store.ErrNotFound
	}
	item.Status = status
	s.items[id] = item
	return nil
}

func (s *Store) ListItemsByStatus(ctx context.Context, status string) ([]models.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ContentItem
	for _, item := range s.items {
		if item.Status == status {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListChildren(ctx context.Context, parentID string, itemType string) ([]models.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ContentItem
	for _, item := range s.items {
		if item.Type != itemType || item.ParentID == nil || *item.ParentID != parentID {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MenuOrder != out[j].MenuOrder {
			return out[i].MenuOrder < out[j].MenuOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) AllMeta(ctx context.Context, itemID string) ([]models.MetaEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.meta[itemID]
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

func (s *Store) GetMeta(ctx context.Context, itemID string, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var values []string
	for _, row := range s.meta[itemID] {
		if row.Key == key {
			values = append(values, row.Value)
		}
	}
	return values, nil
}

func (s *Store) GetMetaValue(ctx context.Context, itemID string, key string) (string, error) {
	values, err := s.GetMeta(ctx, itemID, key)
	if err != nil {
		return "", err
	}
	if len(values) == 0 {
		return "", nil
	}
	return values[0], nil
}

func (s *Store) AddMeta(ctx context.Context, itemID string, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.meta[itemID] = append(s.meta[itemID], metaRow{Key: key, Value: value})
	return nil
}

func (s *Store) SetMeta(ctx context.Context, itemID string, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteMetaLocked(itemID, key)
	s.meta[itemID] = append(s.meta[itemID], metaRow{Key: key, Value: value})
	return nil
}

func (s *Store) DeleteMeta(ctx context.Context, itemID string, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteMetaLocked(itemID, key)
	return nil
}

func (s *Store) deleteMetaLocked(itemID string, key string) {
	rows := s.meta[itemID]
	kept := rows[:0]
	for _, row := range rows {
		if row.Key != key {
			kept = append(kept, row)
		}
	}
	s.meta[itemID] = append([]metaRow(nil), kept...)
}

func (s *Store) Terms(ctx context.Context, itemID string) ([]models.TermAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.TermAssignment, 0, len(s.terms[itemID]))
	for _, t := range s.terms[itemID] {
		out = append(out, models.TermAssignment{
			Taxonomy: t.Taxonomy,
			Slugs:    append([]string(nil), t.Slugs...),
		})
	}
	return out, nil
}

func (s *Store) SetTerms(ctx context.Context, itemID string, taxonomy string, slugs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.terms[itemID]
	kept := existing[:0]
	for _, t := range existing {
		if t.Taxonomy != taxonomy {
			kept = append(kept, t)
		}
	}
	kept = append([]models.TermAssignment(nil), kept...)
	kept = append(kept, models.TermAssignment{
		Taxonomy: taxonomy,
		Slugs:    append([]string(nil), slugs...),
	})
	s.terms[itemID] = kept
	return nil
}

// Atomic snapshots every table, runs fn, and restores the snapshot when fn
// returns an error. Nested calls join the outer snapshot implicitly since
// the restore of the outermost failure wins.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := s.snapshot()
	if err := fn(ctx); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	items map[string]models.ContentItem
	meta  map[string][]metaRow
	terms map[string][]models.TermAssignment
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot{
		items: make(map[string]models.ContentItem, len(s.items)),
		meta:  make(map[string][]metaRow, len(s.meta)),
		terms: make(map[string][]models.TermAssignment, len(s.terms)),
	}
	for id, item := range s.items {
		snap.items[id] = item
	}
	for id, rows := range s.meta {
		snap.meta[id] = append([]metaRow(nil), rows...)
	}
	for id, assignments := range s.terms {
		copied := make([]models.TermAssignment, 0, len(assignments))
		for _, t := range assignments {
			copied = append(copied, models.TermAssignment{
				Taxonomy: t.Taxonomy,
				Slugs:    append([]string(nil), t.Slugs...),
			})
		}
		snap.terms[id] = copied
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = snap.items
	s.meta = snap.meta
	s.terms = snap.terms
}

func (s *Store) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	if expiry, held := s.locks[key]; held && now.Before(expiry) {
		return false, nil
	}
	s.locks[key] = now.Add(ttl)
	return true, nil
}

func (s *Store) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.locks, key)
	return nil
}

func jobKey(topic, itemID string) string { return topic + "|" + itemID }

func (s *Store) ScheduleOnce(ctx context.Context, fireAt time.Time, topic string, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[jobKey(topic, itemID)] = models.ScheduledJob{
		ID:        jobKey(topic, itemID),
		Topic:     topic,
		ItemID:    itemID,
		FireAt:    fireAt,
		CreatedAt: s.Now(),
	}
	return nil
}

func (s *Store) Cancel(ctx context.Context, topic string, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, jobKey(topic, itemID))
	return nil
}

func (s *Store) NextScheduled(ctx context.Context, topic string, itemID string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobKey(topic, itemID)]
	if !ok {
		return nil, nil
	}
	fireAt := job.FireAt
	return &fireAt, nil
}

// DueJobs returns every unclaimed job whose fire time is at or before now.
func (s *Store) DueJobs(ctx context.Context, topic string, now time.Time) ([]models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ScheduledJob
	for _, job := range s.jobs {
		if job.Topic == topic && !job.FireAt.After(now) && job.ClaimedAt == nil {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out, nil
}
