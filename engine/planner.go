// server/engine/planner.go
package engine

import (
	"context"
	"sort"

	"github.com/ViniZap4/tagkosha-server/domain"
	"github.com/ViniZap4/tagkosha-server/metrics"
	"github.com/ViniZap4/tagkosha-server/store"
	"github.com/ViniZap4/tagkosha-server/tags"
)

// MaxQueryTags bounds the tag predicate of a single store query.
const MaxQueryTags = 10

const WarnFilterTooBroad = "filter too broad, results may be incomplete"

// QueryPlan is the store query for a filter selection plus what is needed to
// post-filter its results.
type QueryPlan struct {
	Query     store.NoteQuery
	Filters   []string
	Expanded  []string
	Truncated bool
}

// PlanNoteQuery expands selected over namespace and builds the note query.
// When the expansion exceeds MaxQueryTags the first MaxQueryTags tags in
// sorted order are queried and the plan is marked truncated.
func PlanNoteQuery(ownerID string, selected, namespace []string) QueryPlan {
	filters := tags.NewSet(selected...).Sorted()
	expanded := tags.Expand(filters, namespace).Sorted()

	p := QueryPlan{
		Query:    store.NoteQuery{OwnerID: ownerID},
		Filters:  filters,
		Expanded: expanded,
	}
	if len(expanded) == 0 {
		return p
	}
	queried := expanded
	if len(queried) > MaxQueryTags {
		queried = queried[:MaxQueryTags]
		p.Truncated = true
	}
	p.Query.AnyTags = append([]string(nil), queried...)
	return p
}

// Apply drops the notes that do not satisfy every selected filter. The store
// predicate is an OR over the expansion, so this only matters for two or more
// filters.
func (p QueryPlan) Apply(notes []*domain.Note) []*domain.Note {
	if len(p.Filters) < 2 {
		return notes
	}
	out := make([]*domain.Note, 0, len(notes))
	for _, n := range notes {
		if tags.MatchesAll(n.Tags, p.Filters) {
			out = append(out, n)
		}
	}
	return out
}

// NoteSnapshot is one delivery of a note query.
type NoteSnapshot struct {
	Notes     []*domain.Note `json:"notes"`
	Filters   []string       `json:"filters"`
	Truncated bool           `json:"truncated"`
	Warning   string         `json:"warning,omitempty"`
}

// QueryNotes runs the planned query for selected once.
func (e *Engine) QueryNotes(ctx context.Context, ownerID string, selected []string) (*NoteSnapshot, error) {
	counters, err := e.store.ListCounters(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	namespace := make([]string, 0, len(counters))
	for _, c := range counters {
		namespace = append(namespace, c.TagName)
	}

	plan := PlanNoteQuery(ownerID, selected, namespace)
	notes, err := e.store.QueryNotes(ctx, plan.Query)
	if err != nil {
		return nil, err
	}
	notes = plan.Apply(notes)
	sort.SliceStable(notes, func(i, j int) bool { return notes[i].UpdatedAt.After(notes[j].UpdatedAt) })

	snap := &NoteSnapshot{Notes: notes, Filters: plan.Filters, Truncated: plan.Truncated}
	if plan.Truncated {
		snap.Warning = WarnFilterTooBroad
		metrics.DegradedQueries.Inc()
		e.log.Warn().
			Str("owner", ownerID).
			Strs("filters", plan.Filters).
			Int("expanded", len(plan.Expanded)).
			Msg(WarnFilterTooBroad)
	}
	return snap, nil
}

// SubscribeNotes delivers the planned result for selected now and after
// every change. Tag changes also trigger a delivery so a new child tag joins
// an active parent filter.
func (e *Engine) SubscribeNotes(ctx context.Context, ownerID string, selected []string, fn func(*NoteSnapshot, error)) (*store.Subscription, error) {
	l, err := e.store.Listen(ownerID, store.TopicNotes|store.TopicTags)
	if err != nil {
		return nil, err
	}
	selected = append([]string(nil), selected...)
	load := func(ctx context.Context) (*NoteSnapshot, error) {
		return e.QueryNotes(ctx, ownerID, selected)
	}
	return store.Watch(ctx, l, load, fn), nil
}
