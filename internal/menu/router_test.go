package menu

import (
	"context"
	"testing"

	"github.com/example/carmenu/internal/entry"
)

func TestEventRouterDispatchesKnownEntries(t *testing.T) {
	a := mustEntry(t, "a", "Alpha", entry.CategoryMultimedia)
	r, _ := attached(t, a)

	var selected []string
	router := NewEventRouter(r, func(_ context.Context, info entry.Info) {
		selected = append(selected, info.StableID)
	})

	if !router.HandleEvent(context.Background(), Event{Handle: 1, Ident: "test.menu", EntryID: "test.a"}) {
		t.Fatalf("expected known entry to dispatch")
	}
	if router.HandleEvent(context.Background(), Event{Handle: 1, EntryID: ""}) {
		t.Fatalf("events without an entry id must be ignored")
	}
	if router.HandleEvent(context.Background(), Event{Handle: 1, EntryID: "test.gone"}) {
		t.Fatalf("stale events must be dropped")
	}
	if len(selected) != 1 || selected[0] != "test.a" {
		t.Fatalf("unexpected callbacks: %v", selected)
	}
}

func TestEventRouterCallbackMayRedraw(t *testing.T) {
	a := mustEntry(t, "a", "Alpha", entry.CategoryMultimedia)
	r, session := attached(t, a)

	router := NewEventRouter(r, func(ctx context.Context, info entry.Info) {
		if err := r.RedrawEntry(ctx, info); err != nil {
			t.Errorf("RedrawEntry: %v", err)
		}
	})
	router.HandleEvent(context.Background(), Event{EntryID: "test.a"})
	expectOps(t, session.ops(), "register:test.a")
}

func TestSortByWeight(t *testing.T) {
	entries := []entry.Info{
		mustEntry(t, "z", "Zoom", entry.CategoryOnlineServices),
		mustEntry(t, "b", "Alps", entry.CategoryRadio),
		mustEntry(t, "a", "Alpha", entry.CategoryRadio),
	}
	SortByWeight(entries)
	want := []string{"test.a", "test.b", "test.z"}
	for i, id := range want {
		if entries[i].StableID != id {
			t.Fatalf("position %d: got %s want %s", i, entries[i].StableID, id)
		}
	}
}
