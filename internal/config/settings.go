package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings configures how the menu service reaches the head unit and how it
// presents entries.
type Settings struct {
	// HeadUnit is the endpoint address; empty selects the ipc default.
	HeadUnit string `yaml:"headunit"`

	// Namespace prefixes every entry key to form its stable identifier.
	Namespace string `yaml:"namespace"`

	// ListenerIdent distinguishes this menu from others on the same session.
	ListenerIdent string `yaml:"listener_ident"`

	IconSize        int           `yaml:"icon_size"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	ReconnectDelay  time.Duration `yaml:"reconnect_delay"`

	// RedrawDelay is how long after a selection the entry is redrawn.
	RedrawDelay time.Duration `yaml:"redraw_delay"`
}

// DefaultSettings returns the values used when no settings file exists.
func DefaultSettings() Settings {
	return Settings{
		Namespace:       "carmenu",
		ListenerIdent:   "carmenu.menu",
		IconSize:        48,
		RefreshInterval: 30 * time.Second,
		ReconnectDelay:  2 * time.Second,
		RedrawDelay:     2 * time.Second,
	}
}

// LoadSettings reads the YAML file at path, or at CARMENU_CONFIG when path is
// empty. Without either, defaults are used. Environment overrides are applied
// last.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()

	if path == "" {
		path = strings.TrimSpace(os.Getenv("CARMENU_CONFIG"))
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("read settings %s: %w", path, err)
		}
		decoder := yaml.NewDecoder(bytes.NewReader(raw))
		decoder.KnownFields(true)
		if err := decoder.Decode(&settings); err != nil && !errors.Is(err, io.EOF) {
			return Settings{}, fmt.Errorf("parse settings %s: %w", path, err)
		}
	}

	settings.applyEnv(os.Getenv)
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func (s *Settings) applyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv("CARMENU_HEADUNIT_ADDR")); v != "" {
		s.HeadUnit = v
	}
	if v := strings.TrimSpace(getenv("CARMENU_NAMESPACE")); v != "" {
		s.Namespace = v
	}
}

// Validate checks that every field holds a usable value.
func (s Settings) Validate() error {
	switch {
	case strings.TrimSpace(s.Namespace) == "":
		return errors.New("settings: namespace must not be empty")
	case strings.TrimSpace(s.ListenerIdent) == "":
		return errors.New("settings: listener_ident must not be empty")
	case s.IconSize <= 0 || s.IconSize > 512:
		return fmt.Errorf("settings: icon_size %d out of range (1-512)", s.IconSize)
	case s.RefreshInterval <= 0:
		return errors.New("settings: refresh_interval must be positive")
	case s.ReconnectDelay <= 0:
		return errors.New("settings: reconnect_delay must be positive")
	case s.RedrawDelay < 0:
		return errors.New("settings: redraw_delay must not be negative")
	}
	return nil
}
