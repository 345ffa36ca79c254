// Package entry describes the logical applications shown in the head unit's
// application menu.
package entry

import (
	"errors"
	"fmt"
	"image"
	"strings"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid menu entry")

// Category is one of the fixed menu sections offered by the head unit.
type Category string

const (
	CategoryAddressbook        Category = "Addressbook"
	CategoryMultimedia         Category = "Multimedia"
	CategoryNavigation         Category = "Navigation"
	CategoryOnlineServices     Category = "OnlineServices"
	CategoryPhone              Category = "Phone"
	CategoryRadio              Category = "Radio"
	CategorySettings           Category = "Settings"
	CategoryVehicleInformation Category = "VehicleInformation"
)

var categories = []Category{
	CategoryAddressbook,
	CategoryMultimedia,
	CategoryNavigation,
	CategoryOnlineServices,
	CategoryPhone,
	CategoryRadio,
	CategorySettings,
	CategoryVehicleInformation,
}

// Categories returns the closed set of menu sections.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// Valid reports whether c belongs to the closed set.
func (c Category) Valid() bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

// Code is the section identifier sent to the head unit.
func (c Category) Code() string {
	return string(c)
}

// ParseCategory resolves a case-insensitive section name.
func ParseCategory(raw string) (Category, error) {
	trimmed := strings.TrimSpace(raw)
	for _, known := range categories {
		if strings.EqualFold(trimmed, string(known)) {
			return known, nil
		}
	}
	return "", fmt.Errorf("%w: unknown category %q", ErrInvalid, raw)
}

// Info is one selectable item of the application menu. Values are treated as
// immutable once constructed.
type Info struct {
	StableID string
	Key      string
	Name     string
	Icon     image.Image
	Category Category
	Weight   int
}

// StableID joins a caller namespace with an entry key.
func StableID(namespace, key string) string {
	return namespace + "." + key
}

// New validates the inputs and derives the stable identifier and weight.
func New(namespace, key, name string, icon image.Image, category Category) (Info, error) {
	namespace = strings.TrimSpace(namespace)
	key = strings.TrimSpace(key)
	info := Info{
		StableID: StableID(namespace, key),
		Key:      key,
		Name:     strings.TrimSpace(name),
		Icon:     icon,
		Category: category,
	}
	if namespace == "" {
		return Info{}, fmt.Errorf("%w: missing namespace for %q", ErrInvalid, key)
	}
	if err := info.Validate(); err != nil {
		return Info{}, err
	}
	info.Weight = Weight(info.Name)
	return info, nil
}

// Validate rejects entries that cannot be registered with the head unit.
func (i Info) Validate() error {
	switch {
	case i.Key == "":
		return fmt.Errorf("%w: missing key", ErrInvalid)
	case strings.TrimSpace(i.StableID) == "":
		return fmt.Errorf("%w: missing stable id for %q", ErrInvalid, i.Key)
	case strings.TrimSpace(i.Name) == "":
		return fmt.Errorf("%w: missing display name for %q", ErrInvalid, i.StableID)
	case !i.Category.Valid():
		return fmt.Errorf("%w: unknown category %q for %q", ErrInvalid, i.Category, i.StableID)
	}
	return nil
}

// WithIcon returns a copy carrying a different icon.
func (i Info) WithIcon(icon image.Image) Info {
	i.Icon = icon
	return i
}

// SameIdentity reports whether two snapshots would display identically apart
// from their icon.
func (i Info) SameIdentity(other Info) bool {
	return i.StableID == other.StableID && i.Name == other.Name && i.Category == other.Category
}
