package observability

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeLogString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", SanitizeLogString(""))
	require.Equal(t, "plain", SanitizeLogString("plain"))
	require.Equal(t, "forged entry", SanitizeLogString("forged\r\n entry"))
}

func TestSanitizeFieldValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		key   string
		value any
		want  any
	}{
		{"plain key passes through", "customer_id", "cust-9", "cust-9"},
		{"non-string passes through", "amount", 42.5, 42.5},
		{"cvv fully redacted", "cvv", "123", "[REDACTED]"},
		{"password fully redacted", "PASSWORD", "hunter2", "[REDACTED]"},
		{"card number masked", "card_number", "4111111111111111", "************1111"},
		{"short card number redacted", "card_number", "111", "[REDACTED]"},
		{"ssn masked", "ssn", "123456789", "*****6789"},
		{"token substring redacted", "session_token", "abc", "[REDACTED]"},
		{"api key substring redacted", "service_api_key", "abc", "[REDACTED]"},
		{"newlines stripped from values", "note", "a\nb", "ab"},
		{"empty key sanitizes value", "", "a\rb", "ab"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, SanitizeFieldValue(tc.key, tc.value))
		})
	}
}
