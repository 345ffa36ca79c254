package config

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/scrypt"
)

const (
	configDirName   = "carmenu"
	catalogFileName = "catalog.enc"

	saltSize  = 16
	nonceSize = 12
	keySize   = 32

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// catalogMagic prefixes every sealed catalog: magic | salt | nonce | sealed.
var catalogMagic = []byte("CMC1")

var (
	// ErrMissingPassphrase is returned when the catalog secret is not configured.
	ErrMissingPassphrase = errors.New("missing passphrase for catalog encryption")
	// ErrBadPassphrase is returned when the catalog cannot be opened with the
	// configured secret.
	ErrBadPassphrase = errors.New("catalog passphrase does not match")
	// ErrCorruptCatalog is returned for files that are not sealed catalogs.
	ErrCorruptCatalog = errors.New("catalog file is not a sealed catalog")
)

// CatalogPath returns the resolved catalog file path, creating its directory.
func CatalogPath() (string, error) {
	path := os.Getenv("CARMENU_CATALOG_PATH")
	if path == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("determine user config dir: %w", err)
		}
		path = filepath.Join(base, configDirName, catalogFileName)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("ensure catalog directory: %w", err)
	}
	return path, nil
}

// LoadCatalog opens the sealed catalog with passphrase. A missing file yields
// an empty catalog.
func LoadCatalog(passphrase string) (*Catalog, error) {
	if passphrase == "" {
		return nil, ErrMissingPassphrase
	}
	path, err := CatalogPath()
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Catalog{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	plain, err := openCatalog(raw, passphrase)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	var cat Catalog
	if err := json.Unmarshal(plain, &cat); err != nil {
		return nil, fmt.Errorf("unmarshal catalog: %w", err)
	}
	return &cat, nil
}

// SaveCatalog seals cat with passphrase and replaces the catalog file.
func SaveCatalog(cat *Catalog, passphrase string) error {
	if passphrase == "" {
		return ErrMissingPassphrase
	}
	plain, err := json.MarshalIndent(cat, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}
	sealed, err := sealCatalog(plain, passphrase)
	if err != nil {
		return err
	}

	path, err := CatalogPath()
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace catalog: %w", err)
	}
	return nil
}

func sealCatalog(plain []byte, passphrase string) ([]byte, error) {
	header := make([]byte, len(catalogMagic)+saltSize+nonceSize)
	copy(header, catalogMagic)
	salt := header[len(catalogMagic) : len(catalogMagic)+saltSize]
	nonce := header[len(catalogMagic)+saltSize:]
	if _, err := io.ReadFull(rand.Reader, header[len(catalogMagic):]); err != nil {
		return nil, fmt.Errorf("generate salt and nonce: %w", err)
	}

	aead, err := catalogAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}
	// The header is authenticated along with the payload.
	return aead.Seal(header, nonce, plain, header), nil
}

func openCatalog(sealed []byte, passphrase string) ([]byte, error) {
	headerLen := len(catalogMagic) + saltSize + nonceSize
	if len(sealed) < headerLen || !bytes.HasPrefix(sealed, catalogMagic) {
		return nil, ErrCorruptCatalog
	}
	header := sealed[:headerLen]
	salt := header[len(catalogMagic) : len(catalogMagic)+saltSize]
	nonce := header[len(catalogMagic)+saltSize:]

	aead, err := catalogAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, nonce, sealed[headerLen:], header)
	if err != nil {
		return nil, ErrBadPassphrase
	}
	return plain, nil
}

func catalogAEAD(passphrase string, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive catalog key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
