// server/tags/expand.go
package tags

import "strings"

// Matches reports whether tag is filter itself or one of its descendants.
func Matches(tag, filter string) bool {
	return tag == filter || strings.HasPrefix(tag, filter+separator)
}

// Expand computes the closure of the selected filters over the namespace:
// every selected tag plus every known tag that descends from one of them.
// An empty selection yields an empty set, meaning no tag restriction.
func Expand(selected []string, namespace []string) Set {
	out := make(Set)
	for _, s := range selected {
		out.Add(s)
		for _, t := range namespace {
			if Matches(t, s) {
				out.Add(t)
			}
		}
	}
	return out
}

// MatchesAll reports whether, for every filter, at least one of the note's
// tags matches it.
func MatchesAll(noteTags []string, filters []string) bool {
	for _, f := range filters {
		hit := false
		for _, t := range noteTags {
			if Matches(t, f) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}
