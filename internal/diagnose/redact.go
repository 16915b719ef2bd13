package diagnose

import "strings"

// RedactionMarker replaces values stored under secret-indicating keys.
const RedactionMarker = "[REDACTED]"

// secretKeyPatterns are case-insensitive substrings that mark a key as
// secret-bearing.
var secretKeyPatterns = []string{
	"token", "key", "secret", "password", "auth", "credential",
}

// Redact returns a deep copy of the given map with every value whose key
// matches a secret-indicating pattern replaced by RedactionMarker. Nested
// maps and slices are walked recursively; the input is never mutated.
func Redact(details map[string]interface{}) map[string]interface{} {
	if details == nil {
		return nil
	}
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		if isSecretKey(k) {
			out[k] = RedactionMarker
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return Redact(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}

func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, p := range secretKeyPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
