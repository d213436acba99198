package notes

import "strings"

// bulletPrefix is prepended to each note line for pharmacies that take
// bulleted note text.
const bulletPrefix = "• "

// Bulleted renders each note on its own line with a bullet prefix.
func Bulleted(lines []string) string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, bulletPrefix+l)
	}
	return strings.Join(out, "\n")
}

// Plain renders each note on its own line without bullet markers. Script
// Rx rejects bulleted note text.
func Plain(lines []string) string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

// StripBullets removes bullet markers from already-assembled note text.
func StripBullets(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimPrefix(l, bulletPrefix)
	}
	return strings.Join(lines, "\n")
}

// Append appends addition to existing text on a new line. Selections are
// appended verbatim, never merged or deduplicated against what the
// operator already has in the field.
func Append(existing, addition string) string {
	if addition == "" {
		return existing
	}
	if existing == "" {
		return addition
	}
	return existing + "\n" + addition
}
