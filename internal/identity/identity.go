// Package identity normalizes external contact addresses used as usage keys.
package identity

import "strings"

// NormalizePhone normalizes a phone number to E.164, defaulting to the US
// country code for bare 10-digit numbers. The second return is false when the
// input cannot be normalized.
func NormalizePhone(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	if strings.HasPrefix(raw, "+") {
		digits := digitsOnly(raw)
		// Expect country code + subscriber (10-15 total digits)
		if len(digits) >= 10 && len(digits) <= 15 {
			return "+" + digits, true
		}
		return "", false
	}

	digits := digitsOnly(raw)
	if len(digits) == 10 {
		return "+1" + digits, true
	}
	if len(digits) == 11 && strings.HasPrefix(digits, "1") {
		return "+" + digits, true
	}
	return "", false
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
