// server/engine/actions.go
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/ViniZap4/tagkosha-server/domain"
)

type ActionKind string

const (
	ActionDelete ActionKind = "delete"
	ActionClone  ActionKind = "clone"
	ActionShare  ActionKind = "share"
)

func ParseActionKind(s string) (ActionKind, error) {
	switch k := ActionKind(strings.ToLower(strings.TrimSpace(s))); k {
	case ActionDelete, ActionClone, ActionShare:
		return k, nil
	}
	return "", domain.NewValidationError("action", fmt.Sprintf("unknown action %q", s))
}

// Action is a request to act on one note. The result is sent on Reply,
// which must have room for one value.
type Action struct {
	Kind    ActionKind
	OwnerID string
	NoteID  string
	Reply   chan ActionResult
}

type ActionResult struct {
	Kind   ActionKind   `json:"kind"`
	Note   *domain.Note `json:"note,omitempty"`
	Shared string       `json:"shared,omitempty"`
	Err    error        `json:"-"`
}

// Dispatcher executes note actions sent on one channel, one at a time.
type Dispatcher struct {
	engine  *Engine
	actions chan Action
}

func NewDispatcher(e *Engine) *Dispatcher {
	return &Dispatcher{
		engine:  e,
		actions: make(chan Action, 64),
	}
}

// Run handles actions until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-d.actions:
			res := d.handle(ctx, a)
			if res.Err != nil {
				d.engine.log.Warn().Err(res.Err).Str("action", string(a.Kind)).Str("note_id", a.NoteID).Msg("note action failed")
			}
			a.Reply <- res
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, a Action) ActionResult {
	res := ActionResult{Kind: a.Kind}
	switch a.Kind {
	case ActionDelete:
		res.Err = d.engine.DeleteNoteByID(ctx, a.OwnerID, a.NoteID)
	case ActionClone:
		res.Note, res.Err = d.engine.CloneNote(ctx, a.OwnerID, a.NoteID)
	case ActionShare:
		out, err := d.engine.ShareNote(ctx, a.OwnerID, a.NoteID)
		res.Shared, res.Err = string(out), err
	default:
		_, res.Err = ParseActionKind(string(a.Kind))
	}
	return res
}

// Submit queues an action and waits for its result.
func (d *Dispatcher) Submit(ctx context.Context, kind ActionKind, ownerID, noteID string) (ActionResult, error) {
	reply := make(chan ActionResult, 1)
	select {
	case d.actions <- Action{Kind: kind, OwnerID: ownerID, NoteID: noteID, Reply: reply}:
	case <-ctx.Done():
		return ActionResult{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res, res.Err
	case <-ctx.Done():
		return ActionResult{}, ctx.Err()
	}
}
