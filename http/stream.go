// server/http/stream.go
package http

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ViniZap4/tagkosha-server/auth"
	"github.com/ViniZap4/tagkosha-server/domain"
	"github.com/ViniZap4/tagkosha-server/engine"
	"github.com/ViniZap4/tagkosha-server/metrics"
	"github.com/ViniZap4/tagkosha-server/store"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

const heartbeatInterval = 15 * time.Second

// latest is a one-slot mailbox where a newer value replaces an unread one.
// Every delivery is a full snapshot, so dropping stale ones loses nothing.
type latest[T any] struct {
	ch chan T
}

func newLatest[T any]() *latest[T] {
	return &latest[T]{ch: make(chan T, 1)}
}

func (l *latest[T]) push(v T) {
	for {
		select {
		case l.ch <- v:
			return
		default:
		}
		select {
		case <-l.ch:
		default:
		}
	}
}

type event struct {
	name string
	data any
}

type streamError struct {
	Error string `json:"error"`
}

func writeEvent(w *bufio.Writer, name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	return w.Flush()
}

// stream writes events from l until the client goes away, an error event
// has been written, or ctx ends. done runs when the stream stops.
func stream(ctx context.Context, c *fiber.Ctx, first *event, l *latest[event], done func()) {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer done()
		if first != nil {
			if err := writeEvent(w, first.name, first.data); err != nil {
				return
			}
		}
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := w.WriteString(": ping\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			case ev := <-l.ch:
				if err := writeEvent(w, ev.name, ev.data); err != nil {
					return
				}
				if ev.name == "error" {
					return
				}
			}
		}
	}))
}

type streamSession struct {
	id      string
	ownerID string
	filters *engine.FilterSession
	cancel  context.CancelFunc
}

type sessionRegistry struct {
	mu   sync.RWMutex
	byID map[string]*streamSession
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{byID: make(map[string]*streamSession)}
}

func (r *sessionRegistry) add(s *streamSession) {
	r.mu.Lock()
	r.byID[s.id] = s
	r.mu.Unlock()
	metrics.ActiveSubscriptions.WithLabelValues("notes").Inc()
}

// remove closes the session once; later calls are no-ops.
func (r *sessionRegistry) remove(id string) {
	r.mu.Lock()
	s, ok := r.byID[id]
	delete(r.byID, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	s.cancel()
	s.filters.Close()
	metrics.ActiveSubscriptions.WithLabelValues("notes").Dec()
}

// get looks up a session owned by ownerID. Sessions of other owners are
// reported as not found.
func (r *sessionRegistry) get(ownerID, id string) (*streamSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok || s.ownerID != ownerID {
		return nil, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	return s, nil
}

func (r *sessionRegistry) closeAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		r.remove(id)
	}
}

type sessionInfo struct {
	ID      string   `json:"id"`
	Filters []string `json:"filters"`
}

// HandleNoteStream opens a filter session and streams its note snapshots.
// The first event names the session so filters can be changed through the
// select/deselect endpoints.
func (s *Server) HandleNoteStream(c *fiber.Ctx) error {
	filters := queryList(c, "tag")
	if err := validTags(filters); err != nil {
		return err
	}
	owner := auth.OwnerID(c)
	ctx, cancel := context.WithCancel(s.streams)

	mailbox := newLatest[event]()
	fs, err := s.engine.NewSession(ctx, owner, filters, func(snap *engine.NoteSnapshot, err error) {
		if err != nil {
			mailbox.push(event{name: "error", data: streamError{Error: err.Error()}})
			return
		}
		mailbox.push(event{name: "notes", data: snap})
	})
	if err != nil {
		cancel()
		return err
	}

	sess := &streamSession{id: uuid.NewString(), ownerID: owner, filters: fs, cancel: cancel}
	s.sessions.add(sess)
	s.log.Debug().Str("session", sess.id).Str("owner", owner).Strs("filters", filters).Msg("note stream opened")

	first := &event{name: "session", data: sessionInfo{ID: sess.id, Filters: fs.Filters()}}
	stream(ctx, c, first, mailbox, func() {
		s.sessions.remove(sess.id)
		s.log.Debug().Str("session", sess.id).Msg("note stream closed")
	})
	return nil
}

func (s *Server) changeFilter(c *fiber.Ctx, apply func(*engine.FilterSession, string) error) error {
	var req tagRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	sess, err := s.sessions.get(auth.OwnerID(c), c.Params("id"))
	if err != nil {
		return err
	}
	if err := apply(sess.filters, req.Tag); err != nil {
		return err
	}
	return c.JSON(sessionInfo{ID: sess.id, Filters: sess.filters.Filters()})
}

func (s *Server) HandleSelectFilter(c *fiber.Ctx) error {
	return s.changeFilter(c, (*engine.FilterSession).SelectFilter)
}

func (s *Server) HandleDeselectFilter(c *fiber.Ctx) error {
	return s.changeFilter(c, (*engine.FilterSession).DeselectFilter)
}

// HandleTagTreeStream streams the tag tree of the owner on every change.
func (s *Server) HandleTagTreeStream(c *fiber.Ctx) error {
	owner := auth.OwnerID(c)
	ctx, cancel := context.WithCancel(s.streams)

	mailbox := newLatest[event]()
	tree, err := s.engine.SubscribeTagTree(ctx, owner, func(roots []*domain.TagNode, err error) {
		if err != nil {
			mailbox.push(event{name: "error", data: streamError{Error: err.Error()}})
			return
		}
		if roots == nil {
			roots = []*domain.TagNode{}
		}
		mailbox.push(event{name: "tags", data: roots})
	})
	if err != nil {
		cancel()
		return err
	}
	metrics.ActiveSubscriptions.WithLabelValues("tags").Inc()

	stream(ctx, c, nil, mailbox, func() {
		cancel()
		tree.Close()
		metrics.ActiveSubscriptions.WithLabelValues("tags").Dec()
	})
	return nil
}
