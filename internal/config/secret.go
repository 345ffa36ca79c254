package config

// CompiledSecret holds the embedded CARMENU_SECRET provided at build time via
// -ldflags. When empty, the CARMENU_SECRET environment variable is used.
var CompiledSecret string

// ResolveSecret returns the catalog passphrase.
func ResolveSecret(getenv func(string) string) string {
	if CompiledSecret != "" {
		return CompiledSecret
	}
	return getenv("CARMENU_SECRET")
}
