// Package marker implements the inline attachment marker convention used by
// older message records: content may embed substrings of the form
// "[File sent to Python:<name>]" referencing files forwarded to the document
// processing service. Newer records also carry a structured attachments
// list, but the markers stay in stored content for backward compatibility.
package marker

import (
	"regexp"
	"strings"
)

const (
	prefix = "[File sent to Python:"
	suffix = "]"
)

// markerRe matches one marker together with the whitespace around it so
// removal collapses the gap the marker leaves behind.
var markerRe = regexp.MustCompile(`\s*\[File sent to Python:([^\]]+)\]\s*`)

// Decode extracts every attachment marker from raw content. It returns the
// content with all markers removed (surrounding whitespace collapsed) and
// the marker names in order of appearance, duplicates preserved. Decoding
// already-clean content returns it unchanged with no names.
func Decode(raw string) (string, []string) {
	matches := markerRe.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return raw, nil
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if name := strings.TrimSpace(m[1]); name != "" {
			names = append(names, name)
		}
	}
	clean := strings.TrimSpace(markerRe.ReplaceAllString(raw, " "))
	if len(names) == 0 {
		names = nil
	}
	return clean, names
}

// Encode prepends one marker per name to clean content, newline separated.
// It is the left inverse of Decode for names containing no ']' or ':'.
func Encode(clean string, names []string) string {
	if len(names) == 0 {
		return clean
	}
	parts := make([]string, 0, len(names)+1)
	for _, name := range names {
		parts = append(parts, prefix+name+suffix)
	}
	parts = append(parts, clean)
	return strings.Join(parts, "\n")
}
