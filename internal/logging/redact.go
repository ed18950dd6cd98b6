package logging

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// sensitiveKeySubstrings flags detail keys whose values must never reach
// the buffer, the store, the file sink, or an export.
var sensitiveKeySubstrings = []string{"password", "token", "secret", "key", "auth"}

const redactedPlaceholder = "[REDACTED]"

// Redact returns a deep copy of details with every sensitive key's value
// replaced by a placeholder. Nested maps and slices are walked; the input
// is never modified.
func Redact(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if sensitiveKey(k) {
			out[k] = redactedPlaceholder
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return Redact(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}

func sensitiveKey(k string) bool {
	lower := strings.ToLower(k)
	for _, s := range sensitiveKeySubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func shortID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
