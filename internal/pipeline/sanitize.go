package pipeline

import (
	"strings"
)

// SanitizePath strips every character that is not alphanumeric, space,
// hyphen, underscore, dot, or parentheses, then trims whitespace. Applied to
// each path segment built from scraped metadata so catalog text can never
// escape the output root or produce an invalid filename.
func SanitizePath(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '.', r == '(', r == ')':
			b.WriteRune(r)
		}
	}

	return strings.TrimSpace(b.String())
}

// NormalizeVolumeNumber canonicalizes volume designators: leading zeros are
// removed and ranges collapse to hyphen form, so "1,2", "1-2" and "01" become
// "1-2", "1-2" and "1".
func NormalizeVolumeNumber(volume string) string {
	volume = strings.TrimSpace(volume)
	if volume == "" {
		return ""
	}

	var parts []string
	if strings.Contains(volume, ",") {
		parts = strings.Split(volume, ",")
	} else {
		parts = strings.Split(volume, "-")
	}

	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		part = strings.TrimLeft(part, "0")
		if part == "" {
			part = "0"
		}
		normalized = append(normalized, part)
	}

	return strings.Join(normalized, "-")
}
