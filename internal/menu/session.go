package menu

import "context"

// Handle identifies one application-menu root on the head unit.
type Handle int

// Session is the head-unit connection as seen by the reconciler. Calls on one
// Session must not interleave; the Reconciler serialises them.
type Session interface {
	CreateRoot(ctx context.Context, flags []byte) (Handle, error)
	AddEventListener(ctx context.Context, root Handle, ident string) error
	RemoveEventListener(ctx context.Context, root Handle, ident string) error
	RegisterEntry(ctx context.Context, root Handle, entryID string, record Record) error
	Dispose(ctx context.Context, root Handle) error
}

// rootFlags is the fixed creation blob expected by the head unit.
var rootFlags = [8]byte{0, 0, 0, 0, 0, 2, 0, 0}

// RootFlags returns a copy of the blob sent with every root creation.
func RootFlags() []byte {
	out := make([]byte, len(rootFlags))
	copy(out, rootFlags[:])
	return out
}

// Event is an inbound selection notification from the head unit.
type Event struct {
	Handle  Handle
	Ident   string
	EntryID string
	Type    string
}
