package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ViniZap4/tagkosha-server/domain"
	"github.com/ViniZap4/tagkosha-server/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedCounter(t *testing.T, s *Store, id, owner, tag string, count int64) {
	t.Helper()
	require.NoError(t, s.Batch(context.Background(), store.CreateCounter(&domain.TagCounter{
		ID: id, OwnerID: owner, TagName: tag, Count: count,
	})))
}

func TestBatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedCounter(t, s, "u_a", "u", "#a", 1)

	err := s.Batch(ctx,
		store.IncrementCounter("u_a", 1),
		store.IncrementCounter("u_missing", 1),
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	c, err := s.GetCounter(ctx, "u_a")
	require.NoError(t, err)
	assert.EqualValues(t, 1, c.Count, "first op must not be applied")
}

func TestIncrementNeverBelowZero(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedCounter(t, s, "u_a", "u", "#a", 0)
	require.NoError(t, s.Batch(ctx, store.IncrementCounter("u_a", -1)))

	c, err := s.GetCounter(ctx, "u_a")
	require.NoError(t, err)
	assert.EqualValues(t, 0, c.Count)
}

func TestDeleteMissingNoteFails(t *testing.T) {
	err := New().Batch(context.Background(), store.DeleteNote("nope"))
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestRunTxRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedCounter(t, s, "u_a", "u", "#a", 1)

	s.BeforeCommit = func(attempt int) {
		if attempt == 1 {
			// a competing writer lands between our read and our commit
			require.NoError(t, s.Batch(ctx, store.IncrementCounter("u_a", 1)))
		}
	}

	calls := 0
	err := s.RunTx(ctx, func(ctx context.Context, r store.Reader) ([]store.Op, error) {
		calls++
		c, err := r.GetCounter(ctx, "u_a")
		if err != nil {
			return nil, err
		}
		return []store.Op{store.SetCounter("u_a", c.Count*10)}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	c, err := s.GetCounter(ctx, "u_a")
	require.NoError(t, err)
	assert.EqualValues(t, 20, c.Count, "second attempt must see the competing write")
}

func TestRunTxRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	s := New(WithMaxAttempts(3))
	seedCounter(t, s, "u_a", "u", "#a", 0)
	s.BeforeCommit = func(int) {
		require.NoError(t, s.Batch(ctx, store.IncrementCounter("u_a", 1)))
	}

	err := s.RunTx(ctx, func(ctx context.Context, r store.Reader) ([]store.Op, error) {
		if _, err := r.GetCounter(ctx, "u_a"); err != nil {
			return nil, err
		}
		return []store.Op{store.IncrementCounter("u_a", 100)}, nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrRetriesExhausted))
	assert.Contains(t, err.Error(), "changed since read")
}

func TestRunTxNonRetryableErrorSurfaces(t *testing.T) {
	s := New()
	calls := 0
	err := s.RunTx(context.Background(), func(context.Context, store.Reader) ([]store.Op, error) {
		calls++
		return []store.Op{store.IncrementCounter("missing", -1)}, nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))
	assert.Equal(t, 1, calls)
}

func TestListOwnersIncludesNoteOnlyOwners(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedCounter(t, s, "c_a", "c", "#a", 1)
	require.NoError(t, s.Batch(ctx, store.PutNote(&domain.Note{ID: "n1", OwnerID: "n", Title: "T"})))

	owners, err := s.ListOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "n"}, owners)
}

func TestQueryNotes(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, tags := range [][]string{{"#a"}, {"#b"}, {"#a", "#c"}} {
		require.NoError(t, s.Batch(ctx, store.PutNote(&domain.Note{
			ID: string(rune('x' + i)), OwnerID: "u", Title: "t", Tags: tags,
			CreatedAt: base, UpdatedAt: base.Add(time.Duration(i) * time.Hour),
		})))
	}
	require.NoError(t, s.Batch(ctx, store.PutNote(&domain.Note{
		ID: "other", OwnerID: "v", Title: "t", Tags: []string{"#a"}, UpdatedAt: base,
	})))

	all, err := s.QueryNotes(ctx, store.NoteQuery{OwnerID: "u"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "z", all[0].ID, "newest first")

	some, err := s.QueryNotes(ctx, store.NoteQuery{OwnerID: "u", AnyTags: []string{"#a", "#c"}})
	require.NoError(t, err)
	assert.Len(t, some, 2)

	n, err := s.CountNotesWithTag(ctx, "u", "#a")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestWatchCountersDeliversSnapshots(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedCounter(t, s, "u_a", "u", "#a", 1)

	got := make(chan []*domain.TagCounter, 8)
	sub, err := store.WatchCounters(ctx, s, "u", func(cs []*domain.TagCounter, err error) {
		assert.NoError(t, err)
		got <- cs
	})
	require.NoError(t, err)

	first := <-got
	require.Len(t, first, 1)

	seedCounter(t, s, "u_b", "u", "#b", 1)
	var second []*domain.TagCounter
	require.Eventually(t, func() bool {
		select {
		case second = <-got:
			return len(second) == 2
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "#a", second[0].TagName)

	sub.Close()
	assert.Equal(t, 0, s.Listeners(), "close must release the listener")
}

func TestWatchStopsAfterLoadError(t *testing.T) {
	s := New()
	l, err := s.Listen("u", store.TopicNotes)
	require.NoError(t, err)

	boom := errors.New("boom")
	var errs []error
	sub := store.Watch(context.Background(), l,
		func(context.Context) (int, error) { return 0, boom },
		func(_ int, err error) { errs = append(errs, err) },
	)
	// the listener is released as soon as the watch loop gives up
	require.Eventually(t, func() bool { return s.Listeners() == 0 }, time.Second, 5*time.Millisecond)
	sub.Close()
	assert.Equal(t, []error{boom}, errs)
}
