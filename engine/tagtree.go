// server/engine/tagtree.go
package engine

import (
	"context"
	"sync"

	"github.com/ViniZap4/tagkosha-server/domain"
	"github.com/ViniZap4/tagkosha-server/store"
	"github.com/ViniZap4/tagkosha-server/tags"
)

// TagTree is a live tag tree of one owner. Each counter snapshot replaces the
// tree; expansion state is kept by full name across rebuilds. Delivered
// roots must be treated as read-only.
type TagTree struct {
	ownerID string
	onTree  func([]*domain.TagNode, error)

	mu       sync.RWMutex
	entries  []tags.Entry
	counts   map[string]int64
	expanded tags.Set
	roots    []*domain.TagNode
	err      error

	sub *store.Subscription
}

// SubscribeTagTree starts a live tag tree for ownerID. fn, if not nil,
// receives every rebuilt tree; after an error the previous tree stays
// readable through Roots.
func (e *Engine) SubscribeTagTree(ctx context.Context, ownerID string, fn func([]*domain.TagNode, error)) (*TagTree, error) {
	t := &TagTree{
		ownerID:  ownerID,
		onTree:   fn,
		counts:   map[string]int64{},
		expanded: tags.NewSet(),
	}
	sub, err := store.WatchCounters(ctx, e.store, ownerID, func(counters []*domain.TagCounter, err error) {
		if err != nil {
			e.log.Error().Err(err).Str("owner", ownerID).Msg("tag subscription failed")
			t.mu.Lock()
			t.err = err
			t.mu.Unlock()
			t.notify(nil, err)
			return
		}
		e.checkNamespace(ownerID, len(counters))
		t.notify(t.replace(tags.EntriesFromCounters(counters)), nil)
	})
	if err != nil {
		return nil, err
	}
	t.sub = sub
	return t, nil
}

// BuildTagTree reads the counters of ownerID once and builds the tree with
// the named nodes expanded.
func (e *Engine) BuildTagTree(ctx context.Context, ownerID string, expanded []string) ([]*domain.TagNode, error) {
	counters, err := e.store.ListCounters(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	e.checkNamespace(ownerID, len(counters))
	return tags.BuildTree(tags.EntriesFromCounters(counters), tags.NewSet(expanded...)), nil
}

func (e *Engine) checkNamespace(ownerID string, n int) {
	if e.opts.TagSanityLimit > 0 && n > e.opts.TagSanityLimit {
		e.log.Warn().
			Str("owner", ownerID).
			Int("tags", n).
			Int("limit", e.opts.TagSanityLimit).
			Msg("tag namespace exceeds sanity limit")
	}
}

func (t *TagTree) replace(entries []tags.Entry) []*domain.TagNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = entries
	t.counts = make(map[string]int64, len(entries))
	for _, e := range entries {
		t.counts[e.Name] = e.Count
	}
	t.roots = tags.BuildTree(entries, t.expanded)
	t.expanded = tags.ExpandedNames(t.roots)
	t.err = nil
	return t.roots
}

func (t *TagTree) notify(roots []*domain.TagNode, err error) {
	if t.onTree != nil {
		t.onTree(roots, err)
	}
}

// Roots returns the current tree.
func (t *TagTree) Roots() []*domain.TagNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.roots
}

// Err returns the error that ended the subscription, if any.
func (t *TagTree) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// Count returns the cached counter value of tag and whether the tag is known.
func (t *TagTree) Count(tag string) (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.counts[tag]
	return c, ok
}

// Namespace returns every known tag name in sorted order.
func (t *TagTree) Namespace() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.Name)
	}
	return tags.NewSet(out...).Sorted()
}

// ToggleExpand flips the expansion of the node named fullName and returns
// its new state. Unknown names are ignored.
func (t *TagTree) ToggleExpand(fullName string) bool {
	t.mu.Lock()
	if tags.Find(t.roots, fullName) == nil {
		t.mu.Unlock()
		return false
	}
	if t.expanded.Has(fullName) {
		t.expanded.Remove(fullName)
	} else {
		t.expanded.Add(fullName)
	}
	state := t.expanded.Has(fullName)
	t.roots = tags.BuildTree(t.entries, t.expanded)
	roots := t.roots
	t.mu.Unlock()

	t.notify(roots, nil)
	return state
}

// Visible lists the nodes shown with the current expansion state.
func (t *TagTree) Visible() []*domain.TagNode {
	return tags.Visible(t.Roots())
}

// Search lists every node whose name contains query, ignoring expansion.
func (t *TagTree) Search(query string) []*domain.TagNode {
	return tags.Search(t.Roots(), query)
}

// Close releases the subscription. It must not be called from the tree
// callback.
func (t *TagTree) Close() {
	t.sub.Close()
}
