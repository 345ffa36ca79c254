package menu

import (
	"context"

	"github.com/example/carmenu/internal/entry"
	"github.com/example/carmenu/internal/logging"
)

// SelectFunc is invoked when the user picks an entry on the head unit.
type SelectFunc func(ctx context.Context, info entry.Info)

type resolver interface {
	Resolve(entryID string) (entry.Info, bool)
}

// EventRouter turns head-unit selection events into callbacks. Events for
// entries that are no longer registered are dropped.
type EventRouter struct {
	entries  resolver
	onSelect SelectFunc
}

// NewEventRouter routes events resolved through entries to onSelect.
func NewEventRouter(entries resolver, onSelect SelectFunc) *EventRouter {
	return &EventRouter{entries: entries, onSelect: onSelect}
}

// HandleEvent dispatches ev and reports whether a callback ran.
func (r *EventRouter) HandleEvent(ctx context.Context, ev Event) bool {
	logging.LogEvent(int(ev.Handle), ev.Ident, ev.EntryID)
	if ev.EntryID == "" {
		return false
	}
	info, ok := r.entries.Resolve(ev.EntryID)
	if !ok {
		logging.Debugf("dropping event for unknown entry %q", ev.EntryID)
		return false
	}
	if r.onSelect == nil {
		return false
	}
	r.onSelect(ctx, info)
	return true
}
