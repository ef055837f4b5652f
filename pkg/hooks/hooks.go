// Package hooks holds the integration layer for third-party content
// features: page builders, translation grouping and commerce products. Hooks
// run best-effort on both the staging and merge paths; a failing hook is
// logged and never aborts the operation that invoked it.
package hooks

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/openpress/revisor/internal/tracing"
)

// Hook copies integration-owned state from one content item to another.
type Hook interface {
	Name() string
	// Active reports whether the integration is present on this host.
	// Resolved once at startup per integration, not re-checked per call.
	Active() bool
	// Copy transfers the hook's state from sourceID to destID. publish is
	// true on the merge path and false on the staging path.
	Copy(ctx context.Context, sourceID string, destID string, publish bool) error
	// OwnedKeyPrefixes lists metadata key prefixes this hook copies itself.
	// The generic metadata copy skips them so hook output is not clobbered.
	OwnedKeyPrefixes() []string
}

// Preserver captures fields whose authoritative source is the live item and
// must survive a merge, independent of the generic metadata copy.
type Preserver interface {
	Snapshot(ctx context.Context, itemID string) (map[string]string, error)
	Reapply(ctx context.Context, itemID string, snapshot map[string]string) error
}

// Registry runs the configured hooks.
type Registry struct {
	hooks  []Hook
	logger ectologger.Logger
}

func NewRegistry(logger ectologger.Logger, hooks ...Hook) *Registry {
	active := make([]Hook, 0, len(hooks))
	for _, h := range hooks {
		if h.Active() {
			active = append(active, h)
		}
	}
	return &Registry{
		hooks:  active,
		logger: logger,
	}
}

// Run invokes every active hook for the (sourceID, destID) pair. Each hook
// is independently best-effort.
func (r *Registry) Run(ctx context.Context, sourceID string, destID string, publish bool) {
	ctx, span := tracing.StartSpan(ctx, "hooks.Registry.Run")
	defer span.End()

	for _, h := range r.hooks {
		if err := h.Copy(ctx, sourceID, destID, publish); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"hook":      h.Name(),
				"source_id": sourceID,
				"dest_id":   destID,
			}).Warn("Integration hook failed")
		}
	}
}

// OwnedKeyPrefixes is the union of every active hook's owned prefixes.
func (r *Registry) OwnedKeyPrefixes() []string {
	var prefixes []string
	for _, h := range r.hooks {
		prefixes = append(prefixes, h.OwnedKeyPrefixes()...)
	}
	return prefixes
}

// Preservers returns the active hooks that also preserve live-item fields.
func (r *Registry) Preservers() []Preserver {
	var out []Preserver
	for _, h := range r.hooks {
		if p, ok := h.(Preserver); ok {
			out = append(out, p)
		}
	}
	return out
}
