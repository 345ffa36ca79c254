package logging

import (
	"encoding/base64"
	"fmt"
	"log"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/atomic"
)

var debugEnabled atomic.Bool

// maxPayloadPreview bounds how many bytes of a binary field are echoed in debug output.
const maxPayloadPreview = 32

// EnableDebug turns on verbose debug logging for the menu lifecycle.
func EnableDebug() {
	if debugEnabled.Swap(true) {
		return
	}
	log.Printf("[DEBUG] debug logging enabled")
}

// DisableDebug turns verbose debug logging back off.
func DisableDebug() {
	debugEnabled.Store(false)
}

// DebugEnabled reports whether debug logging is active.
func DebugEnabled() bool {
	return debugEnabled.Load()
}

// Debugf emits a formatted debug log message when debugging is enabled.
func Debugf(format string, args ...interface{}) {
	if !DebugEnabled() {
		return
	}
	log.Printf("[DEBUG] "+format, args...)
}

// LogCall emits the action and fields of an outbound head-unit call when
// debugging is enabled. Sensitive fields such as session tokens are masked.
func LogCall(action string, fields map[string]any) {
	if !DebugEnabled() {
		return
	}
	if len(fields) == 0 {
		log.Printf("[DEBUG] --> %s", action)
		return
	}
	log.Printf("[DEBUG] --> %s %s", action, DescribeFields(fields))
}

// LogEvent emits an inbound head-unit event when debugging is enabled.
func LogEvent(handle int, ident, entryID string) {
	if !DebugEnabled() {
		return
	}
	log.Printf("[DEBUG] <-- event handle=%d ident=%s entry=%q", handle, ident, entryID)
}

// DescribeFields renders call fields in a stable order for log output.
func DescribeFields(fields map[string]any) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})

	var b strings.Builder
	for idx, name := range names {
		if idx > 0 {
			b.WriteString(", ")
		}
		b.WriteString(name)
		b.WriteString("=")
		b.WriteString(describeValue(name, fields[name]))
	}
	return b.String()
}

func describeValue(name string, value any) string {
	switch v := value.(type) {
	case nil:
		return "<nil>"
	case string:
		return sanitizeSensitiveValue(name, v)
	case []byte:
		return describePayload(v)
	case map[int]any:
		return fmt.Sprintf("record(%d keys)", len(v))
	default:
		return fmt.Sprintf("%v", v)
	}
}

func describePayload(body []byte) string {
	if len(body) == 0 {
		return "(0 bytes)"
	}
	if utf8.Valid(body) {
		return fmt.Sprintf("(utf-8, %d bytes): %q", len(body), string(body))
	}

	preview := body
	suffix := ""
	if len(preview) > maxPayloadPreview {
		preview = preview[:maxPayloadPreview]
		suffix = "..."
	}
	encoded := base64.StdEncoding.EncodeToString(preview)
	return fmt.Sprintf("(base64, %d bytes): %s%s", len(body), encoded, suffix)
}

func isSensitiveKey(name string) bool {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "authorization"),
		strings.Contains(lower, "secret"),
		strings.Contains(lower, "passphrase"),
		strings.Contains(lower, "token"):
		return true
	default:
		return false
	}
}

func sanitizeSensitiveValue(name, value string) string {
	if value == "" {
		return value
	}
	if isSensitiveKey(name) {
		return MaskIdentifier(value)
	}
	return value
}

// MaskIdentifier obscures sensitive identifiers leaving only the last four characters visible.
func MaskIdentifier(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(trimmed)-4) + trimmed[len(trimmed)-4:]
}
