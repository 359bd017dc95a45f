// server/store/memstore/memstore.go
// Package memstore keeps notes and counters in memory. It honours the same
// contract as the Postgres store, including optimistic conflict detection on
// transactions, and backs the tests and the "memory" store mode.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ViniZap4/tagkosha-server/domain"
	"github.com/ViniZap4/tagkosha-server/metrics"
	"github.com/ViniZap4/tagkosha-server/store"
	"github.com/google/uuid"
)

const defaultMaxAttempts = 5

type Option func(*Store)

func WithMaxAttempts(n int) Option {
	return func(s *Store) { s.maxAttempts = n }
}

type Store struct {
	mu       sync.Mutex
	notes    map[string]*domain.Note
	counters map[string]*domain.TagCounter
	versions map[string]uint64

	hub         *store.Hub
	maxAttempts int

	// BeforeCommit runs between the reads and the commit of every
	// transaction attempt. Tests use it to interleave a competing write.
	BeforeCommit func(attempt int)
	// FailBatch, when set, makes Batch fail with the returned error.
	FailBatch func(ops []store.Op) error
	// FailCount, when set, makes CountNotesWithTag fail with the returned error.
	FailCount func(ownerID, tag string) error
}

func New(opts ...Option) *Store {
	s := &Store{
		notes:       make(map[string]*domain.Note),
		counters:    make(map[string]*domain.TagCounter),
		versions:    make(map[string]uint64),
		hub:         store.NewHub(),
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func noteKey(id string) string    { return "note/" + id }
func counterKey(id string) string { return "counter/" + id }

func (s *Store) GetNote(_ context.Context, id string) (*domain.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[id]
	if !ok {
		return nil, fmt.Errorf("note %s: %w", id, store.ErrNotFound)
	}
	return n.Clone(), nil
}

func (s *Store) GetCounter(_ context.Context, id string) (*domain.TagCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[id]
	if !ok {
		return nil, fmt.Errorf("counter %s: %w", id, store.ErrNotFound)
	}
	return c.Clone(), nil
}

func (s *Store) ListCounters(_ context.Context, ownerID string) ([]*domain.TagCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.TagCounter
	for _, c := range s.counters {
		if c.OwnerID == ownerID {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TagName < out[j].TagName })
	return out, nil
}

func (s *Store) ListOwners(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	for _, c := range s.counters {
		seen[c.OwnerID] = struct{}{}
	}
	for _, n := range s.notes {
		seen[n.OwnerID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for o := range seen {
		out = append(out, o)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) QueryNotes(_ context.Context, q store.NoteQuery) ([]*domain.Note, error) {
	want := make(map[string]struct{}, len(q.AnyTags))
	for _, t := range q.AnyTags {
		want[t] = struct{}{}
	}

	s.mu.Lock()
	var out []*domain.Note
	for _, n := range s.notes {
		if n.OwnerID != q.OwnerID {
			continue
		}
		if len(want) > 0 && !sharesTag(n.Tags, want) {
			continue
		}
		out = append(out, n.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func sharesTag(noteTags []string, want map[string]struct{}) bool {
	for _, t := range noteTags {
		if _, ok := want[t]; ok {
			return true
		}
	}
	return false
}

func (s *Store) CountNotesWithTag(_ context.Context, ownerID, tag string) (int64, error) {
	if s.FailCount != nil {
		if err := s.FailCount(ownerID, tag); err != nil {
			return 0, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, note := range s.notes {
		if note.OwnerID != ownerID {
			continue
		}
		for _, t := range note.Tags {
			if t == tag {
				n++
				break
			}
		}
	}
	return n, nil
}

func (s *Store) Batch(_ context.Context, ops ...store.Op) error {
	if s.FailBatch != nil {
		if err := s.FailBatch(ops); err != nil {
			return err
		}
	}
	s.mu.Lock()
	changed, err := s.applyLocked(ops)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(changed)
	return nil
}

func (s *Store) RunTx(ctx context.Context, fn store.TxFunc) error {
	policy := store.RetryPolicy{
		MaxAttempts: s.maxAttempts,
		Retryable:   func(err error) bool { return errors.Is(err, store.ErrConflict) },
		OnRetry: func(int, error) {
			metrics.TxRetries.WithLabelValues("memory").Inc()
		},
	}
	attempt := 0
	return policy.Run(ctx, func() error {
		attempt++
		return s.runTxOnce(ctx, fn, attempt)
	})
}

func (s *Store) runTxOnce(ctx context.Context, fn store.TxFunc, attempt int) error {
	r := &txReader{s: s, seen: make(map[string]uint64)}
	ops, err := fn(ctx, r)
	if err != nil {
		return err
	}
	if s.BeforeCommit != nil {
		s.BeforeCommit(attempt)
	}

	s.mu.Lock()
	for key, v := range r.seen {
		if s.versions[key] != v {
			s.mu.Unlock()
			return fmt.Errorf("%s changed since read: %w", key, store.ErrConflict)
		}
	}
	changed, err := s.applyLocked(ops)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(changed)
	return nil
}

func (s *Store) Listen(ownerID string, topics store.Topic) (store.Listener, error) {
	return s.hub.Register(ownerID, topics), nil
}

// Listeners reports how many listeners are registered.
func (s *Store) Listeners() int { return s.hub.Len() }

func (s *Store) Close() error { return nil }

func (s *Store) notify(changed map[string]store.Topic) {
	for owner, topics := range changed {
		s.hub.Broadcast(owner, topics)
	}
}

// txReader records the version of every document it reads so the commit
// can detect concurrent writers.
type txReader struct {
	s    *Store
	seen map[string]uint64
}

func (r *txReader) GetNote(_ context.Context, id string) (*domain.Note, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.seen[noteKey(id)] = r.s.versions[noteKey(id)]
	n, ok := r.s.notes[id]
	if !ok {
		return nil, fmt.Errorf("note %s: %w", id, store.ErrNotFound)
	}
	return n.Clone(), nil
}

func (r *txReader) GetCounter(_ context.Context, id string) (*domain.TagCounter, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.seen[counterKey(id)] = r.s.versions[counterKey(id)]
	c, ok := r.s.counters[id]
	if !ok {
		return nil, fmt.Errorf("counter %s: %w", id, store.ErrNotFound)
	}
	return c.Clone(), nil
}

// stage buffers the effect of a list of ops so a failing op leaves the store
// untouched. A nil map value marks a deletion.
type stage struct {
	s        *Store
	notes    map[string]*domain.Note
	counters map[string]*domain.TagCounter
	changed  map[string]store.Topic
}

func (st *stage) note(id string) (*domain.Note, bool) {
	if n, ok := st.notes[id]; ok {
		return n, n != nil
	}
	n, ok := st.s.notes[id]
	return n, ok
}

func (st *stage) counter(id string) (*domain.TagCounter, bool) {
	if c, ok := st.counters[id]; ok {
		return c, c != nil
	}
	c, ok := st.s.counters[id]
	return c, ok
}

func (st *stage) touch(owner string, t store.Topic) {
	st.changed[owner] |= t
}

func (s *Store) applyLocked(ops []store.Op) (map[string]store.Topic, error) {
	st := &stage{
		s:        s,
		notes:    make(map[string]*domain.Note),
		counters: make(map[string]*domain.TagCounter),
		changed:  make(map[string]store.Topic),
	}
	for _, op := range ops {
		if err := st.apply(op); err != nil {
			return nil, fmt.Errorf("%s %s: %w", op.Kind, op.ID, err)
		}
	}
	for id, n := range st.notes {
		if n == nil {
			delete(s.notes, id)
		} else {
			s.notes[id] = n
		}
		s.versions[noteKey(id)]++
	}
	for id, c := range st.counters {
		if c == nil {
			delete(s.counters, id)
		} else {
			s.counters[id] = c
		}
		s.versions[counterKey(id)]++
	}
	return st.changed, nil
}

func (st *stage) apply(op store.Op) error {
	switch op.Kind {
	case store.OpPutNote:
		n := op.Note.Clone()
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		if _, exists := st.note(n.ID); exists {
			return errors.New("note already exists")
		}
		st.notes[n.ID] = n
		st.touch(n.OwnerID, store.TopicNotes)

	case store.OpUpdateNote:
		cur, ok := st.note(op.ID)
		if !ok {
			return store.ErrNotFound
		}
		n := cur.Clone()
		n.Title = op.Note.Title
		n.Content = op.Note.Content
		n.Tags = append([]string(nil), op.Note.Tags...)
		n.UpdatedAt = op.Note.UpdatedAt
		st.notes[op.ID] = n
		st.touch(n.OwnerID, store.TopicNotes)

	case store.OpDeleteNote:
		cur, ok := st.note(op.ID)
		if !ok {
			return store.ErrNotFound
		}
		st.notes[op.ID] = nil
		st.touch(cur.OwnerID, store.TopicNotes)

	case store.OpCreateCounter:
		if _, exists := st.counter(op.ID); exists {
			return store.ErrConflict
		}
		c := op.Counter.Clone()
		st.counters[op.ID] = c
		st.touch(c.OwnerID, store.TopicTags)

	case store.OpIncrementCounter, store.OpSetCounter:
		cur, ok := st.counter(op.ID)
		if !ok {
			return store.ErrNotFound
		}
		c := cur.Clone()
		if op.Kind == store.OpIncrementCounter {
			c.Count += op.Value
		} else {
			c.Count = op.Value
		}
		if c.Count < 0 {
			c.Count = 0
		}
		st.counters[op.ID] = c
		st.touch(c.OwnerID, store.TopicTags)

	default:
		return fmt.Errorf("unknown op kind %d", op.Kind)
	}
	return nil
}
