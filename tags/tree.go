// server/tags/tree.go
package tags

import (
	"sort"
	"strings"

	"github.com/ViniZap4/tagkosha-server/domain"
	"golang.org/x/text/cases"
)

// Entry is one (tag, count) pair fed to BuildTree.
type Entry struct {
	Name  string
	Count int64
}

// EntriesFromCounters adapts store counters for BuildTree.
func EntriesFromCounters(counters []*domain.TagCounter) []Entry {
	out := make([]Entry, 0, len(counters))
	for _, c := range counters {
		out = append(out, Entry{Name: c.TagName, Count: c.Count})
	}
	return out
}

// BuildTree links a flat tag list into a forest. Entries are processed in
// lexicographic order, so a parent is always seen before its children. A tag
// whose direct parent is absent becomes a root but keeps its true depth; no
// intermediate nodes are synthesized. Nodes named in expanded start expanded.
func BuildTree(entries []Entry, expanded Set) []*domain.TagNode {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	byName := make(map[string]*domain.TagNode, len(sorted))
	var roots []*domain.TagNode
	for _, e := range sorted {
		if _, dup := byName[e.Name]; dup {
			continue
		}
		segs := Segments(e.Name)
		node := &domain.TagNode{
			FullName:    e.Name,
			DisplayName: prefix + segs[len(segs)-1],
			Depth:       len(segs) - 1,
			Count:       e.Count,
			Children:    []*domain.TagNode{},
			Expanded:    expanded.Has(e.Name),
		}
		byName[e.Name] = node

		if len(segs) > 1 {
			parentKey := prefix + strings.Join(segs[:len(segs)-1], separator)
			if parent, ok := byName[parentKey]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}
	return roots
}

// Flatten walks the forest in pre-order, ignoring expansion state.
func Flatten(roots []*domain.TagNode) []*domain.TagNode {
	var out []*domain.TagNode
	var walk func(nodes []*domain.TagNode)
	walk = func(nodes []*domain.TagNode) {
		for _, n := range nodes {
			out = append(out, n)
			walk(n.Children)
		}
	}
	walk(roots)
	return out
}

// Visible walks the forest in pre-order, descending only into expanded nodes.
func Visible(roots []*domain.TagNode) []*domain.TagNode {
	var out []*domain.TagNode
	var walk func(nodes []*domain.TagNode)
	walk = func(nodes []*domain.TagNode) {
		for _, n := range nodes {
			out = append(out, n)
			if n.Expanded {
				walk(n.Children)
			}
		}
	}
	walk(roots)
	return out
}

// Search returns every node whose full name contains query, case-insensitively.
// An empty query matches everything.
func Search(roots []*domain.TagNode, query string) []*domain.TagNode {
	all := Flatten(roots)
	query = strings.TrimSpace(query)
	if query == "" {
		return all
	}
	fold := cases.Fold()
	needle := fold.String(query)
	out := make([]*domain.TagNode, 0, len(all))
	for _, n := range all {
		if strings.Contains(fold.String(n.FullName), needle) {
			out = append(out, n)
		}
	}
	return out
}

// ExpandedNames collects the full names of expanded nodes so the state can
// be carried into the next rebuild.
func ExpandedNames(roots []*domain.TagNode) Set {
	out := make(Set)
	for _, n := range Flatten(roots) {
		if n.Expanded {
			out.Add(n.FullName)
		}
	}
	return out
}

// Find returns the node with the given full name.
func Find(roots []*domain.TagNode, fullName string) *domain.TagNode {
	for _, n := range Flatten(roots) {
		if n.FullName == fullName {
			return n
		}
	}
	return nil
}
