package normalize

import (
	"regexp"
	"strconv"
)

// clozeRe matches {{cN::text}} and {{cN::text::hint}}. The text group is
// non-greedy and may span lines.
var clozeRe = regexp.MustCompile(`(?s)\{\{c(\d+)::(.*?)(?:::[^{}]*?)?\}\}`)

// CollapseAll replaces every cloze deletion, whatever its ordinal, with its
// plain text. Nested deletions are unwrapped until no marker is left, so
// CollapseAll(CollapseAll(s)) == CollapseAll(s).
func CollapseAll(s string) string {
	for {
		next := clozeRe.ReplaceAllString(s, "$2")
		if next == s {
			return s
		}
		s = next
	}
}

// CollapseOthers replaces the cloze deletions whose ordinal is not keep
// (1-based) and leaves the markers for keep in place.
func CollapseOthers(s string, keep int) string {
	return clozeRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := clozeRe.FindStringSubmatch(m)
		n, err := strconv.Atoi(sub[1])
		if err == nil && n == keep {
			return m
		}
		return sub[2]
	})
}
