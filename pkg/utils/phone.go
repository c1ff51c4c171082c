package utils

import (
	"regexp"
	"strings"
)

var (
	e164Pattern    = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
	maskPattern    = regexp.MustCompile(`^\+(\d{1,3})(\d{3})(\d+)$`)
	nonDialPattern = regexp.MustCompile(`[^\d+]`)
)

// MaskPhoneNumber hides the middle of a number for log output, keeping
// the country code, the first three and the last four digits visible:
// +919876543210 -> +919876••3210.
func MaskPhoneNumber(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}

	if m := maskPattern.FindStringSubmatch(phone); m != nil {
		country, first3, rest := m[1], m[2], m[3]
		if len(rest) >= 4 {
			hidden := strings.Repeat("•", len(rest)-4)
			return "+" + country + first3 + hidden + rest[len(rest)-4:]
		}
	}

	// Not E.164 shaped; keep only the last four characters.
	if len(phone) > 4 {
		return strings.Repeat("•", len(phone)-4) + phone[len(phone)-4:]
	}
	return strings.Repeat("•", len(phone))
}

// ValidateE164 reports whether phone is a valid E.164 number.
func ValidateE164(phone string) bool {
	return e164Pattern.MatchString(phone)
}

// NormalizePhone strips formatting characters and coerces bare local
// numbers to E.164. Numbers without a + prefix are assumed Indian:
// a leading 0 is a trunk prefix and is replaced by +91, a leading 91
// is taken as the country code.
func NormalizePhone(phone string) string {
	cleaned := nonDialPattern.ReplaceAllString(phone, "")

	if strings.HasPrefix(cleaned, "+") {
		return cleaned
	}
	switch {
	case strings.HasPrefix(cleaned, "91"):
		return "+" + cleaned
	case strings.HasPrefix(cleaned, "0"):
		return "+91" + cleaned[1:]
	default:
		return "+91" + cleaned
	}
}
