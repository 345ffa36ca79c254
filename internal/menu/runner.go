package menu

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/example/carmenu/internal/entry"
	"github.com/example/carmenu/internal/logging"
)

const defaultRefreshInterval = 30 * time.Second

// EntrySource produces the current list of entries, for example by reading a
// catalog from disk.
type EntrySource interface {
	Entries(ctx context.Context) ([]entry.Info, error)
}

// SourceFunc adapts a function to EntrySource.
type SourceFunc func(ctx context.Context) ([]entry.Info, error)

// Entries calls f.
func (f SourceFunc) Entries(ctx context.Context) ([]entry.Info, error) {
	return f(ctx)
}

type entrySink interface {
	SetEntries(ctx context.Context, desired []entry.Info) error
}

type cachedIcon struct {
	digest string
	icon   image.Image
}

// Runner polls an EntrySource and pushes changed lists to the reconciler.
// Icons whose pixels did not change keep their previous image value so the
// reconciler does not re-register them.
type Runner struct {
	source          EntrySource
	sink            entrySink
	refreshInterval time.Duration

	mu          sync.RWMutex
	lastEntries []entry.Info
	lastDigest  string
	icons       map[string]cachedIcon

	refreshRequests chan struct{}
}

// NewRunner constructs a Runner. A non-positive interval selects the default.
func NewRunner(source EntrySource, sink entrySink, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	return &Runner{
		source:          source,
		sink:            sink,
		refreshInterval: interval,
		icons:           make(map[string]cachedIcon),
		refreshRequests: make(chan struct{}, 1),
	}
}

// Start performs an initial sync and then refreshes on every tick or manual
// request. It blocks until ctx is canceled.
func (r *Runner) Start(ctx context.Context) error {
	logging.Debugf("menu runner initialising with refresh interval %s", r.refreshInterval)

	if err := r.SyncOnce(ctx); err != nil {
		log.Printf("initial menu sync failed: %v", err)
	}

	ticker := time.NewTicker(r.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("menu runner stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := r.SyncOnce(ctx); err != nil {
				log.Printf("menu refresh failed: %v", err)
			}
		case <-r.refreshRequests:
			logging.Debugf("manual refresh requested")
			if err := r.SyncOnce(ctx); err != nil {
				log.Printf("manual menu refresh failed: %v", err)
			}
		}
	}
}

// RequestRefresh schedules a sync without waiting for the next tick.
func (r *Runner) RequestRefresh() {
	select {
	case r.refreshRequests <- struct{}{}:
	default:
	}
}

// LatestEntries returns the most recently published list.
func (r *Runner) LatestEntries() []entry.Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneEntries(r.lastEntries)
}

// SyncOnce loads the source and publishes it when it differs from the last
// published list.
func (r *Runner) SyncOnce(ctx context.Context) error {
	entries, err := r.source.Entries(ctx)
	if err != nil {
		return fmt.Errorf("load entries: %w", err)
	}
	entries = cloneEntries(entries)
	SortByWeight(entries)
	digest := r.stabilise(entries)

	r.mu.RLock()
	unchanged := r.lastEntries != nil && digest == r.lastDigest
	r.mu.RUnlock()
	if unchanged {
		logging.Debugf("menu unchanged (digest=%s)", digest)
		return nil
	}

	if err := r.sink.SetEntries(ctx, entries); err != nil {
		return err
	}

	r.mu.Lock()
	r.lastEntries = entries
	r.lastDigest = digest
	r.mu.Unlock()
	logging.Debugf("published %d menu entries (digest=%s)", len(entries), digest)
	return nil
}

// stabilise swaps in cached icon values whose pixels are unchanged and
// returns a digest of the list.
func (r *Runner) stabilise(entries []entry.Info) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := blake3.New()
	next := make(map[string]cachedIcon, len(entries))
	for i, info := range entries {
		digest := iconDigest(info.Icon)
		if previous, ok := r.icons[info.StableID]; ok && previous.digest == digest {
			entries[i] = info.WithIcon(previous.icon)
		}
		next[info.StableID] = cachedIcon{digest: digest, icon: entries[i].Icon}
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d\x00%s\n", info.StableID, info.Name, info.Category, info.Weight, digest)
	}
	r.icons = next
	return hex.EncodeToString(h.Sum(nil))
}

func iconDigest(img image.Image) string {
	if img == nil {
		return ""
	}
	h := blake3.New()
	bounds := img.Bounds()
	fmt.Fprintf(h, "%d,%d,%d,%d;", bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Max.Y)
	buf := make([]byte, 0, 8)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			cr, cg, cb, ca := img.At(x, y).RGBA()
			buf = buf[:0]
			buf = binary.BigEndian.AppendUint16(buf, uint16(cr))
			buf = binary.BigEndian.AppendUint16(buf, uint16(cg))
			buf = binary.BigEndian.AppendUint16(buf, uint16(cb))
			buf = binary.BigEndian.AppendUint16(buf, uint16(ca))
			h.Write(buf)
		}
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}
