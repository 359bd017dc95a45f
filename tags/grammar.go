// server/tags/grammar.go
package tags

import (
	"regexp"
	"sort"
	"strings"

	"github.com/ViniZap4/tagkosha-server/domain"
)

// Untagged is applied by the system to notes without user tags. Users may
// never type it themselves.
const Untagged = "#untagged"

const (
	prefix    = "#"
	separator = "/"
)

var tagPattern = regexp.MustCompile(`^#[A-Za-z0-9_\-/]+$`)

// ErrReservedTag is returned when raw tag input mentions the sentinel.
var ErrReservedTag = domain.NewValidationError("tags", "cannot save: remove the reserved '#untagged' tag")

// Set is an unordered collection of tag names.
type Set map[string]struct{}

func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func (s Set) Add(name string) { s[name] = struct{}{} }

func (s Set) Remove(name string) { delete(s, name) }

func (s Set) Len() int { return len(s) }

func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Sorted returns the members in lexicographic order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Minus returns the members of s that are not in other.
func (s Set) Minus(other Set) Set {
	out := make(Set)
	for n := range s {
		if !other.Has(n) {
			out.Add(n)
		}
	}
	return out
}

// Valid reports whether name is a canonical tag: a leading '#', then one or
// more '/'-separated segments of letters, digits, '_' or '-'. This is
// stricter than the bare character class: tokens with empty segments
// ("#a//b", "#a/", "#/a") match it but are rejected, since they would put
// nameless nodes in the tree.
func Valid(name string) bool {
	if !tagPattern.MatchString(name) {
		return false
	}
	for _, seg := range Segments(name) {
		if seg == "" {
			return false
		}
	}
	return true
}

// Segments splits a tag into its path segments without the '#' prefix.
func Segments(name string) []string {
	return strings.Split(strings.TrimPrefix(name, prefix), separator)
}

// Parse extracts the valid tags from free-form input. Tokens are separated by
// whitespace or commas; malformed tokens are dropped and duplicates collapse.
func Parse(raw string) Set {
	out := make(Set)
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	for _, f := range fields {
		if Valid(f) {
			out.Add(f)
		}
	}
	return out
}

// Finalize strips the sentinel from a parsed set and re-applies it when
// nothing else remains, so the result is never empty and never mixes the
// sentinel with user tags.
func Finalize(parsed Set) Set {
	out := make(Set, parsed.Len())
	for n := range parsed {
		if n != Untagged {
			out.Add(n)
		}
	}
	if out.Len() == 0 {
		out.Add(Untagged)
	}
	return out
}

// ContainsReserved reports whether raw input mentions the sentinel anywhere.
// Editors use it to flag the input while the user is typing.
func ContainsReserved(raw string) bool {
	return strings.Contains(raw, Untagged)
}

// ResolveFinalTagSet turns raw user input into the tag set a note is saved
// with. Input that mentions the sentinel is refused outright.
func ResolveFinalTagSet(raw string) (Set, error) {
	if ContainsReserved(raw) {
		return nil, ErrReservedTag
	}
	return Finalize(Parse(raw)), nil
}

// Diff returns the tags to increment and decrement when a note moves from
// oldTags to newTags.
func Diff(oldTags, newTags Set) (toAdd, toRemove Set) {
	return newTags.Minus(oldTags), oldTags.Minus(newTags)
}

// DisplayTags renders a note's tags for editing, hiding the sentinel.
func DisplayTags(noteTags []string) string {
	out := make([]string, 0, len(noteTags))
	for _, t := range noteTags {
		if t != Untagged {
			out = append(out, t)
		}
	}
	return strings.Join(out, " ")
}
