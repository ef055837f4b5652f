package merging

import "errors"

var (
	// ErrNoOriginal means the staged item carries no original reference.
	ErrNoOriginal = errors.New("staged item has no original reference")
	// ErrOriginalMissing means the referenced original cannot be loaded.
	ErrOriginalMissing = errors.New("original item is missing")
	// ErrOriginalTrashed means the referenced original sits in the trash.
	ErrOriginalTrashed = errors.New("original item is trashed")
	// ErrAlreadyInProgress means another merge holds the advisory lock for
	// this staged item. Benign; the caller should not retry immediately.
	ErrAlreadyInProgress = errors.New("merge already in progress")
)
