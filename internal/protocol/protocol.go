// Package protocol defines the frames exchanged with the head unit's
// application-menu service.
package protocol

const (
	// ActionCreate allocates a new application-menu root.
	ActionCreate = "am.create"
	// ActionAddListener subscribes an identifier to a root's selection events.
	ActionAddListener = "am.addListener"
	// ActionRemoveListener cancels a subscription made with ActionAddListener.
	ActionRemoveListener = "am.removeListener"
	// ActionRegister registers or replaces one entry under a root.
	ActionRegister = "am.register"
	// ActionDispose releases a root and every entry registered under it.
	ActionDispose = "am.dispose"
)

// Kind distinguishes the three frame shapes sharing one connection.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindEvent    Kind = "event"
)

// Frame is the single envelope written in both directions. Requests carry
// Seq, Action, Token and the action's arguments; responses echo Seq and set
// OK, Error and Handle; events carry Handle, Ident, EntryID and Event.
type Frame struct {
	Kind    Kind          `cbor:"kind"`
	Seq     uint64        `cbor:"seq,omitempty"`
	Action  string        `cbor:"action,omitempty"`
	Token   string        `cbor:"token,omitempty"`
	Handle  int           `cbor:"handle,omitempty"`
	Ident   string        `cbor:"ident,omitempty"`
	EntryID string        `cbor:"entryId,omitempty"`
	Flags   []byte        `cbor:"flags,omitempty"`
	Record  map[int]any   `cbor:"record,omitempty"`
	Event   *EventPayload `cbor:"event,omitempty"`
	OK      bool          `cbor:"ok,omitempty"`
	Error   string        `cbor:"error,omitempty"`
}

// EventPayload is the head unit's description of a user interaction.
type EventPayload struct {
	Type string `cbor:"type"`
}

// EventSelected is sent when the user picks an entry.
const EventSelected = "selected"

// Fields renders a request's arguments for debug logging.
func (f Frame) Fields() map[string]any {
	fields := make(map[string]any, 5)
	if f.Token != "" {
		fields["token"] = f.Token
	}
	if f.Handle != 0 {
		fields["handle"] = f.Handle
	}
	if f.Ident != "" {
		fields["ident"] = f.Ident
	}
	if f.EntryID != "" {
		fields["entryId"] = f.EntryID
	}
	if len(f.Flags) > 0 {
		fields["flags"] = f.Flags
	}
	if f.Record != nil {
		fields["record"] = f.Record
	}
	return fields
}
