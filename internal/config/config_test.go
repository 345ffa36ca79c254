package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCatalogRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "catalog.enc")
	t.Setenv("CARMENU_CATALOG_PATH", path)

	empty, err := LoadCatalog("secret")
	if err != nil {
		t.Fatalf("LoadCatalog on missing file: %v", err)
	}
	if len(empty.Entries) != 0 {
		t.Fatalf("expected empty catalog, got %d entries", len(empty.Entries))
	}

	cat := &Catalog{Entries: []CatalogEntry{{ID: "1", Key: "com.example.maps", Name: "Maps", Category: "Navigation"}}}
	if err := SaveCatalog(cat, "secret"); err != nil {
		t.Fatalf("SaveCatalog: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.HasPrefix(raw, catalogMagic) || bytes.Contains(raw, []byte("com.example.maps")) {
		t.Fatalf("catalog should be stored sealed")
	}

	loaded, err := LoadCatalog("secret")
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if got, ok := loaded.Lookup("com.example.maps"); !ok || got.Name != "Maps" {
		t.Fatalf("unexpected catalog contents: %+v", loaded.Entries)
	}

	if _, err := LoadCatalog("wrong"); !errors.Is(err, ErrBadPassphrase) {
		t.Fatalf("expected ErrBadPassphrase, got %v", err)
	}
}

func TestCatalogRejectsTamperedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.enc")
	t.Setenv("CARMENU_CATALOG_PATH", path)

	if err := SaveCatalog(&Catalog{Entries: []CatalogEntry{{ID: "1", Key: "radio"}}}, "secret"); err != nil {
		t.Fatalf("SaveCatalog: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	flipped := append([]byte(nil), raw...)
	flipped[len(catalogMagic)] ^= 0xff
	if err := os.WriteFile(path, flipped, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadCatalog("secret"); !errors.Is(err, ErrBadPassphrase) {
		t.Fatalf("expected a modified salt to fail authentication, got %v", err)
	}

	if err := os.WriteFile(path, raw[len(catalogMagic):], 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadCatalog("secret"); !errors.Is(err, ErrCorruptCatalog) {
		t.Fatalf("expected ErrCorruptCatalog, got %v", err)
	}
}

func TestCatalogRequiresPassphrase(t *testing.T) {
	t.Setenv("CARMENU_CATALOG_PATH", filepath.Join(t.TempDir(), "catalog.enc"))
	if _, err := LoadCatalog(""); !errors.Is(err, ErrMissingPassphrase) {
		t.Fatalf("expected ErrMissingPassphrase, got %v", err)
	}
	if err := SaveCatalog(&Catalog{}, ""); !errors.Is(err, ErrMissingPassphrase) {
		t.Fatalf("expected ErrMissingPassphrase, got %v", err)
	}
}

func TestLoadSettingsDefaults(t *testing.T) {
	t.Setenv("CARMENU_CONFIG", "")
	t.Setenv("CARMENU_HEADUNIT_ADDR", "")
	t.Setenv("CARMENU_NAMESPACE", "")

	got, err := LoadSettings("")
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if got != DefaultSettings() {
		t.Fatalf("expected defaults, got %+v", got)
	}
}

func TestLoadSettingsFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "carmenu.yaml")
	body := "headunit: 10.0.0.2:8003\nnamespace: garage\nicon_size: 64\nrefresh_interval: 5s\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("CARMENU_HEADUNIT_ADDR", "")
	t.Setenv("CARMENU_NAMESPACE", "override")

	got, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if got.HeadUnit != "10.0.0.2:8003" || got.IconSize != 64 || got.RefreshInterval != 5*time.Second {
		t.Fatalf("file values not applied: %+v", got)
	}
	if got.Namespace != "override" {
		t.Fatalf("env override not applied: %q", got.Namespace)
	}
	if got.ReconnectDelay != 2*time.Second {
		t.Fatalf("unset fields should keep defaults: %+v", got)
	}
}

func TestLoadSettingsRejectsUnknownAndInvalid(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CARMENU_NAMESPACE", "")

	unknown := filepath.Join(dir, "unknown.yaml")
	if err := os.WriteFile(unknown, []byte("colour: red\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadSettings(unknown); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("icon_size: 0\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadSettings(invalid); err == nil {
		t.Fatalf("expected invalid icon size to be rejected")
	}
}
