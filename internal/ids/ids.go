// Package ids turns operator-typed text into instance identifier lists.
package ids

import "strings"

// separators lists every rune accepted between identifiers.
const separators = ",;\n\r\t "

var normalizer = strings.NewReplacer(";", ",", "\n", ",", "\r", ",", "\t", ",", " ", ",")

// Parse splits raw on any mixture of comma, semicolon, newline, carriage
// return, tab or space, trims each candidate and drops empties and duplicates.
// Order follows the first occurrence in raw. The result is never nil.
func Parse(raw string) []string {
	out := make([]string, 0)
	if strings.Trim(raw, separators) == "" {
		return out
	}
	seen := make(map[string]struct{})
	for _, candidate := range strings.Split(normalizer.Replace(raw), ",") {
		id := strings.TrimSpace(candidate)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Join renders identifiers for display.
func Join(ids []string) string {
	return strings.Join(ids, ", ")
}
