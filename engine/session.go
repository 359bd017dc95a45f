// server/engine/session.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ViniZap4/tagkosha-server/domain"
	"github.com/ViniZap4/tagkosha-server/store"
	"github.com/ViniZap4/tagkosha-server/tags"
)

var ErrSessionClosed = errors.New("engine: session closed")

// FilterSession holds the selected filters of one consumer together with a
// live tag tree and a live note query for the selection. Changing the
// selection restarts the note query; deliveries of a replaced query are
// dropped.
type FilterSession struct {
	engine  *Engine
	ctx     context.Context
	ownerID string
	onNotes func(*NoteSnapshot, error)
	tree    *TagTree

	mu      sync.Mutex
	filters tags.Set
	sub     *store.Subscription
	gen     uint64
	last    *NoteSnapshot
	closed  bool

	repairs sync.WaitGroup
}

// NewSession opens a session for ownerID starting with filters selected. fn
// receives every note snapshot of the current selection.
func (e *Engine) NewSession(ctx context.Context, ownerID string, filters []string, fn func(*NoteSnapshot, error)) (*FilterSession, error) {
	for _, f := range filters {
		if err := validFilter(f); err != nil {
			return nil, err
		}
	}
	tree, err := e.SubscribeTagTree(ctx, ownerID, nil)
	if err != nil {
		return nil, fmt.Errorf("subscribe tag tree: %w", err)
	}
	s := &FilterSession{
		engine:  e,
		ctx:     ctx,
		ownerID: ownerID,
		onNotes: fn,
		tree:    tree,
		filters: tags.NewSet(filters...),
	}
	if err := s.restart(); err != nil {
		tree.Close()
		return nil, err
	}
	return s, nil
}

func validFilter(tag string) error {
	if !tags.Valid(tag) {
		return domain.NewValidationError("tag", fmt.Sprintf("invalid tag %q", tag))
	}
	return nil
}

// restart replaces the note subscription with one for the current filters.
// It must not be called from the note callback.
func (s *FilterSession) restart() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.gen++
	gen := s.gen
	old := s.sub
	s.sub = nil
	selected := s.filters.Sorted()
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}

	sub, err := s.engine.SubscribeNotes(s.ctx, s.ownerID, selected, func(snap *NoteSnapshot, err error) {
		s.deliver(gen, snap, err)
	})
	if err != nil {
		return fmt.Errorf("subscribe notes: %w", err)
	}

	s.mu.Lock()
	if s.closed || s.gen != gen {
		s.mu.Unlock()
		sub.Close()
		return nil
	}
	s.sub = sub
	s.mu.Unlock()
	return nil
}

func (s *FilterSession) deliver(gen uint64, snap *NoteSnapshot, err error) {
	s.mu.Lock()
	if s.gen != gen || s.closed {
		s.mu.Unlock()
		return
	}
	if err == nil {
		s.last = snap
	}
	s.mu.Unlock()

	if err != nil {
		s.engine.log.Error().Err(err).Str("owner", s.ownerID).Msg("note subscription failed")
	}
	if s.onNotes != nil {
		s.onNotes(snap, err)
	}
}

// SelectFilter adds tag to the selection and checks its counter for drift in
// the background, using the value held by the session's tag tree.
func (s *FilterSession) SelectFilter(tag string) error {
	if err := validFilter(tag); err != nil {
		return err
	}
	s.mu.Lock()
	if s.filters.Has(tag) {
		s.mu.Unlock()
		return nil
	}
	s.filters.Add(tag)
	s.mu.Unlock()

	if err := s.restart(); err != nil {
		return err
	}
	s.repair(tag)
	return nil
}

// DeselectFilter removes tag from the selection.
func (s *FilterSession) DeselectFilter(tag string) error {
	s.mu.Lock()
	if !s.filters.Has(tag) {
		s.mu.Unlock()
		return nil
	}
	s.filters.Remove(tag)
	s.mu.Unlock()
	return s.restart()
}

func (s *FilterSession) repair(tag string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.repairs.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.repairs.Done()
		if cached, ok := s.tree.Count(tag); ok {
			s.engine.RepairCount(s.ctx, s.ownerID, tag, cached)
			return
		}
		if _, err := s.engine.RepairTag(s.ctx, s.ownerID, tag); err != nil {
			s.engine.log.Warn().Err(err).Str("tag", tag).Msg("error checking tag counter")
		}
	}()
}

// Filters returns the selected filters in sorted order.
func (s *FilterSession) Filters() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters.Sorted()
}

// Last returns the latest successful snapshot. It survives a failed
// subscription.
func (s *FilterSession) Last() *NoteSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *FilterSession) Tree() *TagTree { return s.tree }

// Close releases both subscriptions and waits for pending repairs.
func (s *FilterSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	s.tree.Close()
	s.repairs.Wait()
}
