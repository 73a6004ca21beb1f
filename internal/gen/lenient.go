package gen

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	fenceRe  = regexp.MustCompile("(?m)^```[a-zA-Z]*\\s*$")
	quotedRe = regexp.MustCompile(`"([^"\n]+)"`)
)

// Salvage normalizes raw model output into its best-effort JSON form.
// Priority order: the text as-is if already valid, then with markdown code
// fences stripped, then the first balanced brace group found anywhere in the
// text. If none of that yields valid JSON the cleaned text is returned
// unchanged so the caller's parser can produce a concrete error.
func Salvage(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if json.Valid([]byte(trimmed)) {
		return trimmed
	}

	cleaned := strings.TrimSpace(fenceRe.ReplaceAllString(trimmed, ""))
	if json.Valid([]byte(cleaned)) {
		return cleaned
	}

	if obj, ok := firstBalancedObject(cleaned); ok {
		return obj
	}
	return cleaned
}

// firstBalancedObject scans for the first top-level {...} group, tracking
// string literals so braces inside values don't break the balance count.
func firstBalancedObject(s string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				candidate := s[start : i+1]
				if json.Valid([]byte(candidate)) {
					return candidate, true
				}
				start = -1
			}
		}
	}
	return "", false
}

// QuotedItems extracts double-quoted fragments from free text. Last-resort
// fallback for list-shaped answers the model refused to wrap in JSON.
func QuotedItems(s string) []string {
	matches := quotedRe.FindAllStringSubmatch(s, -1)
	items := make([]string, 0, len(matches))
	for _, m := range matches {
		if item := strings.TrimSpace(m[1]); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}
