// Package metacopy implements the metadata and term copy routine shared by
// the staging and merge paths. Values are copied with their original encoding
// shape preserved: natively-serialized structures are decoded and re-encoded
// deterministically, complete JSON documents are kept byte-for-byte, and
// everything else is treated as an opaque string.
package metacopy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/openpress/revisor/internal/phpserial"
	"github.com/openpress/revisor/pkg/store"
)

// Options controls one copy invocation.
type Options struct {
	// RestoreReferences rewrites any occurrence of the source item's id
	// inside string values to the destination item's id. Used on the merge
	// path to repair self-references created while editing the staged copy.
	RestoreReferences bool
	// SkipKeyPrefixes lists metadata key prefixes owned by integration hooks.
	// Keys matching a prefix are not copied here.
	SkipKeyPrefixes []string
}

// Copier copies metadata and terms between two content items.
type Copier struct {
	store  store.Store
	logger ectologger.Logger
}

func NewCopier(store store.Store, logger ectologger.Logger) *Copier {
	return &Copier{
		store:  store,
		logger: logger,
	}
}

// Copy transfers every metadata entry and term assignment from sourceID to
// destID. The copy is idempotent: each key is deleted on the destination
// before its values are written, so repeating the call converges on the same
// state. Values whose decoded form is unsupported are skipped with a log
// line rather than failing the whole copy.
func (c *Copier) Copy(ctx context.Context, sourceID string, destID string, opts Options) error {
	entries, err := c.store.AllMeta(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("failed to read metadata for %s: %w", sourceID, err)
	}

	for _, entry := range entries {
		if hasPrefix(entry.Key, opts.SkipKeyPrefixes) {
			continue
		}

		if err := c.store.DeleteMeta(ctx, destID, entry.Key); err != nil {
			return fmt.Errorf("failed to clear metadata key %s on %s: %w", entry.Key, destID, err)
		}

		for _, value := range entry.Values {
			copied, skip, err := c.copyValue(value, sourceID, destID, opts.RestoreReferences)
			if err != nil {
				return fmt.Errorf("failed to copy metadata key %s: %w", entry.Key, err)
			}
			if skip {
				c.logger.WithContext(ctx).WithFields(map[string]any{
					"source_id": sourceID,
					"dest_id":   destID,
					"key":       entry.Key,
				}).Warn("Skipping metadata value with unsupported serialized object")
				continue
			}
			if err := c.store.AddMeta(ctx, destID, entry.Key, copied); err != nil {
				return fmt.Errorf("failed to write metadata key %s on %s: %w", entry.Key, destID, err)
			}
		}
	}

	terms, err := c.store.Terms(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("failed to read terms for %s: %w", sourceID, err)
	}
	for _, assignment := range terms {
		if err := c.store.SetTerms(ctx, destID, assignment.Taxonomy, assignment.Slugs); err != nil {
			return fmt.Errorf("failed to assign %s terms on %s: %w", assignment.Taxonomy, destID, err)
		}
	}

	return nil
}

// copyValue applies the three-way encoding dispatch to a single value.
func (c *Copier) copyValue(value string, sourceID string, destID string, restore bool) (string, bool, error) {
	if phpserial.IsSerialized(value) {
		decoded, err := phpserial.Unserialize(value)
		if err != nil {
			if errors.Is(err, phpserial.ErrUnsupportedObject) {
				return "", true, nil
			}
			// Values that only look serialized fall through as opaque strings.
			return restoreString(value, sourceID, destID, restore), false, nil
		}
		if restore {
			decoded = restoreDecoded(decoded, sourceID, destID)
		}
		encoded, err := phpserial.Serialize(decoded)
		if err != nil {
			return "", false, err
		}
		return encoded, false, nil
	}

	if isCompleteJSON(value) {
		// Preserved as the original string. Reference restoration is textual;
		// ids are opaque tokens so the document stays valid.
		return restoreString(value, sourceID, destID, restore), false, nil
	}

	return restoreString(value, sourceID, destID, restore), false, nil
}

func restoreString(value string, sourceID string, destID string, restore bool) string {
	if !restore {
		return value
	}
	return strings.ReplaceAll(value, sourceID, destID)
}

// restoreDecoded rewrites source-id references in every string leaf of a
// decoded structure.
func restoreDecoded(v any, sourceID string, destID string) any {
	switch t := v.(type) {
	case string:
		return strings.ReplaceAll(t, sourceID, destID)
	case phpserial.Array:
		out := make(phpserial.Array, len(t))
		for i, entry := range t {
			out[i] = phpserial.Entry{
				Key:   entry.Key,
				Value: restoreDecoded(entry.Value, sourceID, destID),
			}
		}
		return out
	default:
		return v
	}
}

// isCompleteJSON reports whether the value is a syntactically complete JSON
// object or array. Bare scalars do not count; they are indistinguishable
// from literal strings.
func isCompleteJSON(value string) bool {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) < 2 {
		return false
	}
	first, last := trimmed[0], trimmed[len(trimmed)-1]
	if !(first == '{' && last == '}') && !(first == '[' && last == ']') {
		return false
	}
	return json.Valid([]byte(trimmed))
}

func hasPrefix(key string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}
