package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ViniZap4/tagkosha-server/domain"
	"github.com/ViniZap4/tagkosha-server/store"
	"github.com/ViniZap4/tagkosha-server/tags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeTagTree(t *testing.T) {
	ctx := context.Background()
	e, st := newEngine(t)
	seedNotes(t, e, "#a #a/b", "#a/b/c")

	tree, err := e.SubscribeTagTree(ctx, owner, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(tree.Roots()) == 1 }, time.Second, 5*time.Millisecond)

	root := tree.Roots()[0]
	assert.Equal(t, "#a", root.FullName)
	require.Len(t, root.Children, 1)
	assert.Equal(t, "#b", root.Children[0].DisplayName)
	assert.Len(t, tree.Visible(), 1)

	assert.True(t, tree.ToggleExpand("#a"))
	assert.True(t, tree.Roots()[0].Expanded)
	assert.Len(t, tree.Visible(), 2)
	assert.False(t, tree.ToggleExpand("#missing"))

	seedNotes(t, e, "#z")
	require.Eventually(t, func() bool { return len(tree.Roots()) == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, tree.Roots()[0].Expanded)

	c, ok := tree.Count("#a/b")
	assert.True(t, ok)
	assert.Equal(t, int64(1), c)
	assert.Equal(t, []string{"#a", "#a/b", "#a/b/c", "#z"}, tree.Namespace())
	assert.Len(t, tree.Search("B"), 2)

	tree.Close()
	assert.Equal(t, 0, st.Listeners())
}

func TestBuildTagTree(t *testing.T) {
	e, _ := newEngine(t)
	seedNotes(t, e, "#a/b", "#c")

	roots, err := e.BuildTagTree(context.Background(), owner, []string{"#c"})
	require.NoError(t, err)
	require.Len(t, roots, 2)
	// #a is never tagged, so #a/b is a root at its own depth
	assert.Equal(t, "#a/b", roots[0].FullName)
	assert.Equal(t, 1, roots[0].Depth)
	assert.True(t, roots[1].Expanded)
}

type snapshotLog struct {
	mu    sync.Mutex
	snaps []*NoteSnapshot
}

func (l *snapshotLog) add(s *NoteSnapshot, err error) {
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snaps = append(l.snaps, s)
}

func (l *snapshotLog) latest() *NoteSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.snaps) == 0 {
		return nil
	}
	return l.snaps[len(l.snaps)-1]
}

func TestFilterSessionSelection(t *testing.T) {
	ctx := context.Background()
	e, st := newEngine(t)
	seedNotes(t, e, "#work/a", "#work/a #home", "#home")

	var log snapshotLog
	s, err := e.NewSession(ctx, owner, nil, log.add)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap := log.latest()
		return snap != nil && len(snap.Notes) == 3
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.SelectFilter("#work"))
	require.NoError(t, s.SelectFilter("#home"))
	assert.Equal(t, []string{"#home", "#work"}, s.Filters())
	require.Eventually(t, func() bool {
		snap := log.latest()
		return snap != nil && len(snap.Filters) == 2 && len(snap.Notes) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, log.latest(), s.Last())

	require.NoError(t, s.DeselectFilter("#home"))
	require.Eventually(t, func() bool {
		snap := log.latest()
		return snap != nil && len(snap.Filters) == 1 && len(snap.Notes) == 2
	}, time.Second, 5*time.Millisecond)

	err = s.SelectFilter("work")
	assert.ErrorIs(t, err, domain.ErrValidation)

	s.Close()
	assert.Equal(t, 0, st.Listeners())
	assert.ErrorIs(t, s.SelectFilter("#other"), ErrSessionClosed)
}

func TestFilterSessionRepairsSelectedTag(t *testing.T) {
	ctx := context.Background()
	e, st := newEngine(t)
	seedNotes(t, e, "#a", "#a")
	require.NoError(t, st.Batch(ctx, store.SetCounter(tags.CounterID(owner, "#a"), 9)))

	s, err := e.NewSession(ctx, owner, nil, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		c, ok := s.Tree().Count("#a")
		return ok && c == 9
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.SelectFilter("#a"))
	s.Close()
	assert.Equal(t, map[string]int64{"#a": 2}, counts(t, st, owner))
}

func TestNewSessionRejectsInvalidFilter(t *testing.T) {
	e, st := newEngine(t)
	_, err := e.NewSession(context.Background(), owner, []string{"#ok", "nope"}, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 0, st.Listeners())
}

func TestDispatcher(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e, st := newEngine(t)
	n := seedNotes(t, e, "#a")[0]

	d := NewDispatcher(e)
	go d.Run(ctx)

	res, err := d.Submit(ctx, ActionClone, owner, n.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Note)
	assert.Equal(t, "note 0 (copy)", res.Note.Title)
	assert.Equal(t, map[string]int64{"#a": 2}, counts(t, st, owner))

	res, err = d.Submit(ctx, ActionShare, owner, n.ID)
	require.NoError(t, err)
	assert.Contains(t, res.Shared, "title: note 0")

	_, err = d.Submit(ctx, ActionDelete, owner, n.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"#a": 1}, counts(t, st, owner))

	_, err = d.Submit(ctx, ActionDelete, owner, n.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = d.Submit(ctx, ActionKind("archive"), owner, n.ID)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestParseActionKind(t *testing.T) {
	k, err := ParseActionKind(" Clone ")
	require.NoError(t, err)
	assert.Equal(t, ActionClone, k)

	_, err = ParseActionKind("pin")
	assert.ErrorIs(t, err, domain.ErrValidation)
}
