// server/engine/notes.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ViniZap4/tagkosha-server/domain"
	"github.com/ViniZap4/tagkosha-server/filesystem"
	"github.com/ViniZap4/tagkosha-server/metrics"
	"github.com/ViniZap4/tagkosha-server/store"
	"github.com/ViniZap4/tagkosha-server/tags"
)

var (
	ErrEmptyTitle  = domain.NewValidationError("title", "title cannot be empty")
	ErrNoteMissing = domain.NewValidationError("note", "note data not found")

	// ErrCounterCollision means a counter id resolved to a counter of
	// another owner or tag. Nothing is written when it is returned.
	ErrCounterCollision = errors.New("counter belongs to another owner or tag")
)

const copySuffix = " (copy)"

// CheckTagInput flags raw tag input that mentions the reserved sentinel, for
// editors checking while the user types. Saving the same input fails with the
// same error.
func CheckTagInput(raw string) error {
	if tags.ContainsReserved(raw) {
		return tags.ErrReservedTag
	}
	return nil
}

// checkCounter verifies that c, read under the id of ownerID's tag, really
// is that counter.
func checkCounter(c *domain.TagCounter, ownerID, tag string) error {
	if c.OwnerID != ownerID || c.TagName != tag {
		return fmt.Errorf("counter %s holds %s of %q: %w", c.ID, c.TagName, c.OwnerID, ErrCounterCollision)
	}
	return nil
}

// GetNote loads a note of ownerID. Notes of other owners are reported as not
// found.
func (e *Engine) GetNote(ctx context.Context, ownerID, id string) (*domain.Note, error) {
	n, err := e.store.GetNote(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.OwnerID != ownerID {
		return nil, fmt.Errorf("note %s: %w", id, store.ErrNotFound)
	}
	return n, nil
}

// SaveNote creates a note (existing == nil) or updates existing from raw
// editor input. Validation happens before any store access.
func (e *Engine) SaveNote(ctx context.Context, ownerID string, existing *domain.Note, title, content, rawTags string) (*domain.Note, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	final, err := tags.ResolveFinalTagSet(rawTags)
	if err != nil {
		return nil, err
	}
	return e.save(ctx, "save", ownerID, existing, title, strings.TrimSpace(content), final)
}

// CloneNote saves a copy of a note with the same content and tags.
func (e *Engine) CloneNote(ctx context.Context, ownerID, id string) (*domain.Note, error) {
	src, err := e.GetNote(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	final := tags.Finalize(tags.NewSet(src.Tags...))
	return e.save(ctx, "clone", ownerID, nil, src.Title+copySuffix, src.Content, final)
}

// ImportNote saves a note read from outside the editor, e.g. a markdown
// file. Its tags go through the same grammar and sentinel rules, but a
// leftover sentinel is cleaned instead of refused.
func (e *Engine) ImportNote(ctx context.Context, ownerID string, n *domain.Note) (*domain.Note, error) {
	title := strings.TrimSpace(n.Title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	parsed := tags.NewSet()
	for _, t := range n.Tags {
		if tags.Valid(t) {
			parsed.Add(t)
		}
	}
	return e.save(ctx, "import", ownerID, nil, title, n.Content, tags.Finalize(parsed))
}

// ShareNote renders a note as markdown with YAML frontmatter.
func (e *Engine) ShareNote(ctx context.Context, ownerID, id string) ([]byte, error) {
	n, err := e.GetNote(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	return filesystem.EncodeNote(n)
}

// save writes the note and adjusts the counters of the tags it gained or
// lost in one transaction. The reads (the persisted note, then the counters
// of added tags) all complete before any write is produced, and the store
// re-runs the whole function when it detects a conflict.
func (e *Engine) save(ctx context.Context, op, ownerID string, existing *domain.Note, title, content string, final tags.Set) (*domain.Note, error) {
	if !tags.ValidOwner(ownerID) {
		return nil, tags.ErrInvalidOwner
	}
	if existing != nil && existing.OwnerID != ownerID {
		return nil, fmt.Errorf("note %s: %w", existing.ID, store.ErrNotFound)
	}

	var (
		saved           *domain.Note
		toAdd, toRemove tags.Set
	)
	now := e.opts.Now()
	err := e.store.RunTx(ctx, func(ctx context.Context, r store.Reader) ([]store.Op, error) {
		var current *domain.Note
		oldTags := tags.NewSet()
		if existing != nil {
			cur, err := r.GetNote(ctx, existing.ID)
			if err != nil {
				return nil, err
			}
			if cur.OwnerID != ownerID {
				return nil, fmt.Errorf("note %s: %w", cur.ID, store.ErrNotFound)
			}
			current = cur
			oldTags = tags.NewSet(cur.Tags...)
		}

		toAdd, toRemove = tags.Diff(oldTags, final)
		added := toAdd.Sorted()
		exists := make(map[string]bool, len(added))
		for _, t := range added {
			c, err := r.GetCounter(ctx, tags.CounterID(ownerID, t))
			switch {
			case err == nil:
				if err := checkCounter(c, ownerID, t); err != nil {
					return nil, err
				}
				exists[t] = true
			case errors.Is(err, store.ErrNotFound):
			default:
				return nil, err
			}
		}

		ops := make([]store.Op, 0, len(added)+toRemove.Len()+1)
		for _, t := range added {
			id := tags.CounterID(ownerID, t)
			if exists[t] {
				ops = append(ops, store.IncrementCounter(id, 1))
				continue
			}
			ops = append(ops, store.CreateCounter(&domain.TagCounter{
				ID: id, OwnerID: ownerID, TagName: t, Count: 1,
			}))
		}
		for _, t := range toRemove.Sorted() {
			ops = append(ops, store.IncrementCounter(tags.CounterID(ownerID, t), -1))
		}

		note := &domain.Note{
			OwnerID:   ownerID,
			Title:     title,
			Content:   content,
			Tags:      final.Sorted(),
			UpdatedAt: now,
		}
		if current == nil {
			note.ID = e.opts.NewID()
			note.CreatedAt = now
			ops = append(ops, store.PutNote(note))
		} else {
			note.ID = current.ID
			note.CreatedAt = current.CreatedAt
			ops = append(ops, store.UpdateNote(note))
		}
		saved = note
		return ops, nil
	})
	if err != nil {
		metrics.TxOutcomes.WithLabelValues(op, "error").Inc()
		e.log.Error().Err(err).Str("op", op).Str("owner", ownerID).Msg("transaction failed: error saving note")
		return nil, fmt.Errorf("save note: %w", err)
	}

	metrics.TxOutcomes.WithLabelValues(op, "ok").Inc()
	e.log.Debug().
		Str("op", op).
		Str("note_id", saved.ID).
		Strs("tags", saved.Tags).
		Strs("to_add", toAdd.Sorted()).
		Strs("to_remove", toRemove.Sorted()).
		Msg("note saved")
	return saved, nil
}

// DeleteNote removes a note and decrements the counter of each of its exact
// tags in one atomic batch. Parent tags are not touched.
func (e *Engine) DeleteNote(ctx context.Context, ownerID string, note *domain.Note) error {
	if note == nil || note.ID == "" {
		return ErrNoteMissing
	}
	if !tags.ValidOwner(ownerID) {
		return tags.ErrInvalidOwner
	}
	if note.OwnerID != ownerID {
		return fmt.Errorf("note %s: %w", note.ID, store.ErrNotFound)
	}

	ops := []store.Op{store.DeleteNote(note.ID)}
	for _, t := range tags.NewSet(note.Tags...).Sorted() {
		ops = append(ops, store.IncrementCounter(tags.CounterID(ownerID, t), -1))
	}
	if err := e.store.Batch(ctx, ops...); err != nil {
		metrics.TxOutcomes.WithLabelValues("delete", "error").Inc()
		e.log.Error().Err(err).Str("note_id", note.ID).Msg("error deleting note")
		return fmt.Errorf("delete note: %w", err)
	}
	metrics.TxOutcomes.WithLabelValues("delete", "ok").Inc()
	e.log.Debug().Str("note_id", note.ID).Strs("tags", note.Tags).Msg("note deleted")
	return nil
}

// DeleteNoteByID loads the persisted note and deletes it.
func (e *Engine) DeleteNoteByID(ctx context.Context, ownerID, id string) error {
	n, err := e.GetNote(ctx, ownerID, id)
	if err != nil {
		return err
	}
	return e.DeleteNote(ctx, ownerID, n)
}
