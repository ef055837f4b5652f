package models

import (
	"strconv"
	"time"
)

// Statuses carries the status tag configuration for the scheduled update
// workflow. It is built once from config and handed to every component so
// no package-level mutable state is involved.
type Statuses struct {
	// Staged is the status assigned to working copies, e.g. "scheduled_update".
	// It also namespaces the bookkeeping metadata keys.
	Staged string
	// Trash is the host's trash status.
	Trash string
}

// DefaultStatuses returns the reference status tags.
func DefaultStatuses() Statuses {
	return Statuses{Staged: "scheduled_update", Trash: StatusTrash}
}

// OriginalKey is the metadata key holding the back-reference from a staged
// copy to the item it will merge into.
func (s Statuses) OriginalKey() string { return s.Staged + "_original" }

// PubdateKey is the metadata key holding the release timestamp (unix
// seconds, stored as a string) of a staged copy.
func (s Statuses) PubdateKey() string { return s.Staged + "_pubdate" }

// KeepDatesKey is the metadata key holding the "keep original dates"
// preference of a staged copy.
func (s Statuses) KeepDatesKey() string { return s.Staged + "_keep_dates" }

// FormatPubdate encodes a release timestamp the way it is persisted.
func FormatPubdate(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// ParsePubdate decodes a persisted release timestamp. The boolean is false
// for empty or malformed values.
func ParsePubdate(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(secs, 0).UTC(), true
}

// TopicPublishUpdate is the scheduler topic under which merge timers for
// staged items are registered.
const TopicPublishUpdate = "publish_content_update"

// Pending update report states.
const (
	UpdateStatePending     = "pending"
	UpdateStateOverdue     = "overdue"
	UpdateStateUnscheduled = "unscheduled"
)

// PendingUpdate is one row of the operator-facing status report: a staged
// item joined with its release timestamp and computed state.
type PendingUpdate struct {
	ItemID     string     `json:"item_id"`
	OriginalID string     `json:"original_id"`
	Title      string     `json:"title"`
	Type       string     `json:"type"`
	ReleaseAt  *time.Time `json:"release_at,omitempty"`
	State      string     `json:"state"`
}

// ScheduledJob is one durable one-shot timer owned by the scheduler.
type ScheduledJob struct {
	ID        string     `json:"id" db:"id"`
	Topic     string     `json:"topic" db:"topic"`
	ItemID    string     `json:"item_id" db:"item_id"`
	FireAt    time.Time  `json:"fire_at" db:"fire_at"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty" db:"claimed_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}
