// Package keytext turns memory keys into natural-language words and assembles
// the search text that is both embedded and trigram-indexed.
package keytext

import (
	"regexp"
	"strings"
)

var camelBoundary = regexp.MustCompile(`([a-z])([A-Z])`)

var separators = strings.NewReplacer("_", " ", "-", " ")

// Normalize expands a snake_case, kebab-case or camelCase key into lowercase
// words: "my_wifeName" -> "my wife name".
func Normalize(key string) string {
	expanded := separators.Replace(key)
	expanded = camelBoundary.ReplaceAllString(expanded, "$1 $2")
	return strings.TrimSpace(strings.ToLower(expanded))
}

// Build returns the canonical search text for a memory. The order is fixed:
// normalized key, raw key, value, then tags when present.
func Build(key, value, tags string) string {
	parts := []string{Normalize(key), key, value}
	if tags != "" {
		parts = append(parts, tags)
	}
	return strings.Join(parts, " ")
}
