package menu

import (
	"context"
	"fmt"
	"image"
	"log"
	"reflect"
	"sort"
	"sync"

	"github.com/example/carmenu/internal/entry"
	"github.com/example/carmenu/internal/logging"
)

// Reconciler keeps the head unit's application menu in step with a desired
// list of entries. The head unit cannot remove a single entry, so any removal
// or material change rebuilds the whole root.
type Reconciler struct {
	ident   string
	encoder RecordEncoder

	mu      sync.Mutex
	binding *binding
	desired []entry.Info
	known   map[string]entry.Info
}

// binding is the attached session and the root created on it. A nil binding
// means no session is attached.
type binding struct {
	session Session
	root    Handle
	live    bool
}

// NewReconciler constructs a Reconciler that subscribes to events as ident
// and encodes records with encoder.
func NewReconciler(ident string, encoder RecordEncoder) *Reconciler {
	return &Reconciler{
		ident:   ident,
		encoder: encoder,
		known:   make(map[string]entry.Info),
	}
}

// Ident returns the listener identifier used on every root.
func (r *Reconciler) Ident() string {
	return r.ident
}

// AttachSession installs session and replays the desired list onto a fresh
// root. Passing nil forgets the current session without remote calls, since
// the connection is already gone.
func (r *Reconciler) AttachSession(ctx context.Context, session Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session == nil {
		if r.binding != nil {
			logging.Debugf("menu %s: session detached (root %d)", r.ident, r.binding.root)
		}
		r.binding = nil
		return nil
	}

	if previous := r.binding; previous != nil {
		if err := r.teardown(ctx, previous); err != nil {
			log.Printf("menu %s: release root on replaced session: %v", r.ident, err)
		}
	}

	b := &binding{session: session}
	r.binding = b
	if err := r.createRoot(ctx, b); err != nil {
		return err
	}
	return r.registerPending(ctx, b)
}

// SetEntries replaces the desired list and, when a session is attached,
// reconciles the head unit against it. Invalid entries are rejected before
// any state changes.
func (r *Reconciler) SetEntries(ctx context.Context, desired []entry.Info) error {
	if err := validateEntries(desired); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.desired = cloneEntries(desired)
	b := r.binding
	if b == nil {
		logging.Debugf("menu %s: no session attached; retaining %d entries", r.ident, len(desired))
		return nil
	}
	return r.reconcile(ctx, b)
}

// RedrawEntry registers info again so the head unit refreshes it. Entries
// that are not currently registered, or whose name or category no longer
// match the registered snapshot, are ignored; those changes need SetEntries.
func (r *Reconciler) RedrawEntry(ctx context.Context, info entry.Info) error {
	if err := info.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.binding
	if b == nil || !b.live {
		return nil
	}
	previous, ok := r.known[info.StableID]
	if !ok {
		logging.Debugf("menu %s: redraw of unknown entry %s ignored", r.ident, info.StableID)
		return nil
	}
	if !previous.SameIdentity(info) {
		logging.Debugf("menu %s: redraw of %s with changed name or category ignored", r.ident, info.StableID)
		return nil
	}
	if err := r.register(ctx, b, info); err != nil {
		return err
	}
	r.known[info.StableID] = info
	return nil
}

// Resolve maps an entry identifier from a head-unit event back to the entry
// registered under it.
func (r *Reconciler) Resolve(entryID string) (entry.Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.known[entryID]
	return info, ok
}

// Close releases the current root and detaches the session.
func (r *Reconciler) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.binding
	if b == nil {
		return nil
	}
	r.binding = nil
	return r.teardown(ctx, b)
}

// Known returns the registered entries ordered by stable identifier.
func (r *Reconciler) Known() []entry.Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]entry.Info, 0, len(r.known))
	for _, info := range r.known {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StableID < out[j].StableID })
	return out
}

// Desired returns the most recent desired list.
func (r *Reconciler) Desired() []entry.Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneEntries(r.desired)
}

// Root reports the live root handle, if any.
func (r *Reconciler) Root() (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.binding == nil || !r.binding.live {
		return 0, false
	}
	return r.binding.root, true
}

func (r *Reconciler) reconcile(ctx context.Context, b *binding) error {
	if !b.live {
		if err := r.createRoot(ctx, b); err != nil {
			return err
		}
	}

	updated := make(map[string]entry.Info, len(r.desired))
	for _, info := range r.desired {
		updated[info.StableID] = info
	}

	stillCurrent := 0
	for id, previous := range r.known {
		if next, ok := updated[id]; ok && previous.SameIdentity(next) {
			stillCurrent++
		}
	}

	if stillCurrent < len(r.known) {
		log.Printf("menu %s: %d of %d registered entries removed or changed; rebuilding root", r.ident, len(r.known)-stillCurrent, len(r.known))
		if err := r.reinit(ctx, b); err != nil {
			return err
		}
	}

	return r.registerPending(ctx, b)
}

// registerPending registers every desired entry that is unknown, plus known
// entries whose icon changed.
func (r *Reconciler) registerPending(ctx context.Context, b *binding) error {
	registered := 0
	for _, info := range r.desired {
		if previous, ok := r.known[info.StableID]; ok && sameIcon(previous.Icon, info.Icon) {
			continue
		}
		if err := r.register(ctx, b, info); err != nil {
			return err
		}
		r.known[info.StableID] = info
		registered++
	}
	if registered > 0 {
		logging.Debugf("menu %s: registered %d entries on root %d", r.ident, registered, b.root)
	}
	return nil
}

func (r *Reconciler) reinit(ctx context.Context, b *binding) error {
	if err := r.teardown(ctx, b); err != nil {
		return err
	}
	return r.createRoot(ctx, b)
}

// createRoot makes b live only once the root exists and the listener is
// attached. A root whose listener could not be added is disposed so the next
// pass starts over.
func (r *Reconciler) createRoot(ctx context.Context, b *binding) error {
	handle, err := b.session.CreateRoot(ctx, RootFlags())
	if err != nil {
		return fmt.Errorf("create menu root: %w", err)
	}

	if err := b.session.AddEventListener(ctx, handle, r.ident); err != nil {
		if derr := b.session.Dispose(ctx, handle); derr != nil {
			log.Printf("menu %s: dispose root %d without listener: %v", r.ident, handle, derr)
		}
		return fmt.Errorf("add event listener on root %d: %w", handle, err)
	}

	b.root = handle
	b.live = true
	clear(r.known)
	logging.Debugf("menu %s: created root %d", r.ident, handle)
	return nil
}

// teardown releases the live root. The root is abandoned even when a call
// fails: nothing registered on it is trusted afterwards, and the next pass
// creates a fresh one.
func (r *Reconciler) teardown(ctx context.Context, b *binding) error {
	if !b.live {
		return nil
	}
	b.live = false
	clear(r.known)

	if err := b.session.RemoveEventListener(ctx, b.root, r.ident); err != nil {
		return fmt.Errorf("remove event listener on root %d: %w", b.root, err)
	}
	if err := b.session.Dispose(ctx, b.root); err != nil {
		return fmt.Errorf("dispose root %d: %w", b.root, err)
	}
	logging.Debugf("menu %s: disposed root %d", r.ident, b.root)
	return nil
}

func (r *Reconciler) register(ctx context.Context, b *binding, info entry.Info) error {
	rec, err := r.encoder.Encode(info)
	if err != nil {
		return err
	}
	if err := b.session.RegisterEntry(ctx, b.root, info.StableID, rec); err != nil {
		return fmt.Errorf("register entry %s: %w", info.StableID, err)
	}
	return nil
}

func validateEntries(entries []entry.Info) error {
	seen := make(map[string]struct{}, len(entries))
	for _, info := range entries {
		if err := info.Validate(); err != nil {
			return err
		}
		if _, dup := seen[info.StableID]; dup {
			return fmt.Errorf("%w: duplicate stable id %q", entry.ErrInvalid, info.StableID)
		}
		seen[info.StableID] = struct{}{}
	}
	return nil
}

func cloneEntries(entries []entry.Info) []entry.Info {
	out := make([]entry.Info, len(entries))
	copy(out, entries)
	return out
}

// sameIcon compares icons by identity. Icons of non-comparable types are
// always treated as changed.
func sameIcon(a, b image.Image) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
