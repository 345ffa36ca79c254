package config

import (
	"errors"
	"fmt"
)

var (
	// ErrEntryNotFound is returned when no catalog entry matches a reference.
	ErrEntryNotFound = errors.New("catalog entry not found")
	// ErrDuplicateKey is returned when an entry would share its key with
	// another entry. Keys become the head unit's stable identifiers.
	ErrDuplicateKey = errors.New("catalog key already in use")
)

// CatalogEntry is one application offered in the head unit's menu.
type CatalogEntry struct {
	ID         string   `json:"id"`
	Key        string   `json:"key"`
	Name       string   `json:"name"`
	Category   string   `json:"category"`
	IconPath   string   `json:"iconPath,omitempty"`
	Command    string   `json:"command,omitempty"`
	Arguments  []string `json:"arguments,omitempty"`
	WorkingDir string   `json:"workingDir,omitempty"`
	CreatedUTC string   `json:"createdUtc"`
	UpdatedUTC string   `json:"updatedUtc"`
}

// Catalog is the persisted list of menu entries, in display order.
type Catalog struct {
	Entries []CatalogEntry `json:"entries"`
}

// Lookup resolves ref to an entry. An id match wins over a key match, so a
// key that happens to equal another entry's id cannot shadow it.
func (c *Catalog) Lookup(ref string) (CatalogEntry, bool) {
	i := c.resolve(ref)
	if i < 0 {
		return CatalogEntry{}, false
	}
	return c.Entries[i], true
}

// Add appends e. Its key must be unused.
func (c *Catalog) Add(e CatalogEntry) error {
	if i := c.keyIndex(e.Key); i >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, e.Key)
	}
	c.Entries = append(c.Entries, e)
	return nil
}

// Replace overwrites the entry ref resolves to, keeping its id and position.
func (c *Catalog) Replace(ref string, e CatalogEntry) error {
	i := c.resolve(ref)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, ref)
	}
	if other := c.keyIndex(e.Key); other >= 0 && other != i {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, e.Key)
	}
	e.ID = c.Entries[i].ID
	c.Entries[i] = e
	return nil
}

// Remove deletes the entry ref resolves to and returns it.
func (c *Catalog) Remove(ref string) (CatalogEntry, error) {
	i := c.resolve(ref)
	if i < 0 {
		return CatalogEntry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, ref)
	}
	removed := c.Entries[i]
	c.Entries = append(c.Entries[:i:i], c.Entries[i+1:]...)
	return removed, nil
}

func (c *Catalog) resolve(ref string) int {
	if ref == "" {
		return -1
	}
	for i, e := range c.Entries {
		if e.ID == ref {
			return i
		}
	}
	return c.keyIndex(ref)
}

func (c *Catalog) keyIndex(key string) int {
	for i, e := range c.Entries {
		if e.Key == key {
			return i
		}
	}
	return -1
}
