package sms

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// NormalizePhone validates a phone number and returns it in E.164 form.
// Input must already carry a country code; bare national numbers are
// rejected because the service cannot guess the region.
func NormalizePhone(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("phone number is empty")
	}
	if !strings.HasPrefix(trimmed, "+") {
		return "", fmt.Errorf("phone number must include a country code")
	}

	num, err := phonenumbers.Parse(trimmed, "")
	if err != nil {
		return "", fmt.Errorf("invalid phone number: %w", err)
	}
	// Possible-number validation (country code + length) rather than the
	// strict national patterns, which reject test ranges like +1555.
	if !phonenumbers.IsPossibleNumber(num) {
		return "", fmt.Errorf("invalid phone number")
	}

	formatted := phonenumbers.Format(num, phonenumbers.E164)
	if !e164Pattern.MatchString(formatted) {
		return "", fmt.Errorf("invalid phone number")
	}
	return formatted, nil
}

// IsE164 reports whether s already matches the strict E.164 shape.
func IsE164(s string) bool {
	return e164Pattern.MatchString(s)
}
