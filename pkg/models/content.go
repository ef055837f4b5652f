package models

import (
	"time"
)

// Well-known host statuses. Anything else (draft, pending, custom workflow
// states) is opaque to the scheduling core and passed through untouched.
const (
	StatusPublish = "publish"
	StatusTrash   = "trash"
)

// ContentItem is the single persistent entity of the service: a page, post,
// product or any other host-defined content type.
type ContentItem struct {
	ID            string     `json:"id" db:"id"`
	Type          string     `json:"type" db:"type"`
	Status        string     `json:"status" db:"status"`
	Title         string     `json:"title" db:"title"`
	Content       string     `json:"content" db:"content"`
	Excerpt       string     `json:"excerpt" db:"excerpt"`
	Author        string     `json:"author" db:"author"`
	Slug          string     `json:"slug" db:"slug"`
	GUID          string     `json:"guid" db:"guid"`
	ParentID      *string    `json:"parent_id,omitempty" db:"parent_id"`
	Password      string     `json:"password,omitempty" db:"password"`
	MimeType      string     `json:"mime_type,omitempty" db:"mime_type"`
	MenuOrder     int        `json:"menu_order" db:"menu_order"`
	CommentStatus string     `json:"comment_status" db:"comment_status"`
	PingStatus    string     `json:"ping_status" db:"ping_status"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	CreatedAtGMT  time.Time  `json:"created_at_gmt" db:"created_at_gmt"`
	ModifiedAt    time.Time  `json:"modified_at" db:"modified_at"`
	TrashedAt     *time.Time `json:"trashed_at,omitempty" db:"trashed_at"`
}

// IsTrashed reports whether the item currently sits in the trash.
func (c *ContentItem) IsTrashed() bool {
	return c.Status == StatusTrash
}

// MetaEntry is one metadata key with its ordered values. Values are raw
// strings; the copy routine is responsible for preserving their encoding
// shape (PHP-serialized, JSON, or literal).
type MetaEntry struct {
	Key    string   `json:"key" db:"key"`
	Values []string `json:"values"`
}

// TermAssignment is one taxonomy with its ordered term slugs.
type TermAssignment struct {
	Taxonomy string   `json:"taxonomy" db:"taxonomy"`
	Slugs    []string `json:"slugs"`
}
