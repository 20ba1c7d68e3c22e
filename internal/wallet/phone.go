package wallet

import (
	"fmt"
	"regexp"
	"strings"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{8,14}$`)

// ValidPhone reports whether s is an E.164 number with 9 to 15 digits.
func ValidPhone(s string) bool {
	return e164Pattern.MatchString(s)
}

// NormalizePhone trims whitespace and adds the leading "+" WhatsApp omits
// from sender ids. It does not validate.
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "+") {
		return s
	}
	return "+" + s
}

// PhoneDigits strips the leading "+" for APIs that address numbers without it.
func PhoneDigits(phone string) string {
	return strings.TrimPrefix(strings.TrimSpace(phone), "+")
}

// ParsePhone validates and normalizes a phone number.
func ParsePhone(s string) (string, error) {
	p := strings.TrimSpace(s)
	if !ValidPhone(p) {
		return "", fmt.Errorf("%w: invalid phone number %q", ErrValidation, s)
	}
	return p, nil
}
