// Package identity canonicalizes the contact fields used to match student
// records across attempt events. All functions are pure; a missing or
// unusable value is reported as the empty string.
package identity

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.Und)

// NormalizeEmail lowercases and trims an email address. Gmail addresses
// additionally drop the "+alias" suffix and all dots in the local part,
// since the provider ignores both. Returns "" for empty input, input
// without "@", or input whose local part normalizes away entirely.
func NormalizeEmail(raw string) string {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return ""
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	local, domain := email[:at], email[at+1:]
	if domain == "gmail.com" {
		if plus := strings.Index(local, "+"); plus >= 0 {
			local = local[:plus]
		}
		local = strings.ReplaceAll(local, ".", "")
	}
	if local == "" {
		return ""
	}
	return local + "@" + domain
}

// NormalizePhone strips every non-digit rune and collapses country-code
// prefixed numbers to their last 10 digits. Returns "" if no digits remain.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	return digits
}

// NormalizeName collapses whitespace runs, trims, and title-cases.
func NormalizeName(raw string) string {
	name := strings.Join(strings.Fields(raw), " ")
	if name == "" {
		return ""
	}
	return titleCaser.String(name)
}
