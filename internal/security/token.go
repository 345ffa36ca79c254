package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"os"
	"strings"

	"github.com/example/carmenu/internal/config"
)

const sessionTokenPrefix = "carmenu-session|"

// ResolveSessionToken returns the token presented to the head unit, deriving
// a stable value from the catalog secret when no explicit token is provided.
func ResolveSessionToken(secret string) string {
	if compiled := strings.TrimSpace(config.CompiledSecret); compiled != "" {
		return DeriveSessionToken(compiled)
	}

	token := strings.TrimSpace(os.Getenv("CARMENU_SESSION_TOKEN"))
	if token != "" {
		return token
	}

	return DeriveSessionToken(secret)
}

// DeriveSessionToken hashes the provided secret into a deterministic token.
func DeriveSessionToken(secret string) string {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(sessionTokenPrefix + secret))
	return hex.EncodeToString(sum[:])
}

// Authorize compares a presented token with the expected one in constant time.
func Authorize(presented, expected string) bool {
	if presented == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}
