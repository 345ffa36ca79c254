package menu

import (
	"fmt"
	"image"

	"github.com/example/carmenu/internal/entry"
)

// Record keys understood by the head unit.
const (
	KeyVersion   = 0
	KeyName      = 1
	KeyIcon      = 2
	KeyCategory  = 3
	KeyVisible   = 4
	KeyWeight    = 5
	KeyMainState = 8

	// FirstLanguageSlot and LastLanguageSlot bound the per-language label keys.
	FirstLanguageSlot = 101
	LastLanguageSlot  = 123
)

const (
	// ProtocolVersion is the base-core version announced in every record.
	ProtocolVersion = 145
	// MainStateNone means the entry has no associated main state.
	MainStateNone = -1
	// DefaultIconSize is the edge length, in pixels, of registered icons.
	DefaultIconSize = 48
)

// Record is the registration payload for one entry.
type Record map[int]any

// CompressFunc scales and encodes an icon for transmission.
type CompressFunc func(img image.Image, width, height int) ([]byte, error)

// RecordEncoder turns entries into registration records.
type RecordEncoder struct {
	Compress CompressFunc
	IconSize int
}

// Encode builds the fixed-shape record for info. Labels are not localised;
// every language slot carries the display name.
func (e RecordEncoder) Encode(info entry.Info) (Record, error) {
	icon, err := e.icon(info)
	if err != nil {
		return nil, err
	}

	rec := Record{
		KeyVersion:   ProtocolVersion,
		KeyName:      info.Name,
		KeyIcon:      icon,
		KeyCategory:  info.Category.Code(),
		KeyVisible:   true,
		KeyWeight:    info.Weight,
		KeyMainState: MainStateNone,
	}
	for slot := FirstLanguageSlot; slot <= LastLanguageSlot; slot++ {
		rec[slot] = info.Name
	}
	return rec, nil
}

func (e RecordEncoder) icon(info entry.Info) ([]byte, error) {
	if info.Icon == nil || e.Compress == nil {
		return []byte{}, nil
	}
	size := e.IconSize
	if size <= 0 {
		size = DefaultIconSize
	}
	data, err := e.Compress(info.Icon, size, size)
	if err != nil {
		return nil, fmt.Errorf("compress icon for %s: %w", info.StableID, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}
