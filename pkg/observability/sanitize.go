package observability

import (
	"fmt"
	"strings"
)

const redactedValue = "[REDACTED]"

// sensitive field names for a payments pipeline, keyed by lowercased name.
var fullyRedacted = map[string]bool{
	"cvv":           true,
	"cvv2":          true,
	"cvc":           true,
	"security_code": true,
	"password":      true,
	"secret":        true,
	"api_token":     true,
	"authorization": true,
	"private_key":   true,
}

var partiallyMasked = map[string]bool{
	"card_number":    true,
	"account_number": true,
	"ssn":            true,
	"tax_id":         true,
}

// SanitizeLogString removes control characters that could enable log forging.
func SanitizeLogString(value string) string {
	if value == "" {
		return value
	}
	value = strings.ReplaceAll(value, "\r", "")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

// SanitizeFieldValue sanitizes a field value based on its key name.
//
// Deterministic and safe-by-default for known sensitive keys.
func SanitizeFieldValue(key string, value any) any {
	keyLower := strings.ToLower(strings.TrimSpace(key))
	if keyLower == "" {
		return sanitizeValue(value)
	}

	if fullyRedacted[keyLower] {
		return redactedValue
	}
	if partiallyMasked[keyLower] {
		return maskValue(value)
	}

	for _, substr := range []string{"secret", "token", "password", "api_key", "authorization"} {
		if strings.Contains(keyLower, substr) {
			return redactedValue
		}
	}

	return sanitizeValue(value)
}

func sanitizeValue(value any) any {
	if s, ok := value.(string); ok {
		return SanitizeLogString(s)
	}
	return value
}

// maskValue keeps the last four characters and masks the rest.
func maskValue(value any) any {
	s := fmt.Sprintf("%v", value)
	if len(s) <= 4 {
		return redactedValue
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
