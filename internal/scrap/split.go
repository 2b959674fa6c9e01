package scrap

import (
	"strings"
	"unicode/utf8"
)

// urlMarker starts a new fragment and stays attached to it.
const urlMarker = "http"

// separators are the candidate split points for overlong lines, in rank
// order. Ties on occurrence count go to the earlier entry.
var separators = []string{"::", ":", ";", ",", `\n`, urlMarker}

// SplitOverlong breaks a line longer than maxLen runes into fragments on its
// most frequent separator. Empty fragments are dropped and any fragment still
// over maxLen is truncated; truncated reports how many were. A line without
// any separator is truncated as a whole. The split is best-effort recovery
// and may lose data.
func SplitOverlong(line string, maxLen int) (fragments []string, truncated int) {
	sep := pickSeparator(line)
	if sep == "" {
		return []string{truncateRunes(line, maxLen)}, 1
	}

	var parts []string
	if sep == urlMarker {
		pieces := strings.Split(line, sep)
		parts = append(parts, pieces[0])
		for _, p := range pieces[1:] {
			parts = append(parts, sep+p)
		}
	} else {
		parts = strings.Split(line, sep)
	}

	fragments = make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if utf8.RuneCountInString(part) > maxLen {
			part = strings.TrimSpace(truncateRunes(part, maxLen))
			truncated++
		}
		fragments = append(fragments, part)
	}
	return fragments, truncated
}

func pickSeparator(line string) string {
	best, bestCount := "", 0
	for _, sep := range separators {
		if n := strings.Count(line, sep); n > bestCount {
			best, bestCount = sep, n
		}
	}
	return best
}

// truncateRunes cuts s to at most n runes on a rune boundary.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
