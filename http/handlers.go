// server/http/handlers.go
package http

import (
	"fmt"
	"strings"

	"github.com/ViniZap4/tagkosha-server/auth"
	"github.com/ViniZap4/tagkosha-server/domain"
	"github.com/ViniZap4/tagkosha-server/engine"
	"github.com/ViniZap4/tagkosha-server/tags"
	"github.com/gofiber/fiber/v2"
)

type noteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Tags    string `json:"tags"`
}

type noteResponse struct {
	*domain.Note
	TagsInput string `json:"tags_input"`
}

func newNoteResponse(n *domain.Note) noteResponse {
	return noteResponse{Note: n, TagsInput: tags.DisplayTags(n.Tags)}
}

type actionRequest struct {
	Action string `json:"action"`
}

type tagRequest struct {
	Tag string `json:"tag"`
}

// queryList collects every value of key, splitting comma-separated lists.
func queryList(c *fiber.Ctx, key string) []string {
	var out []string
	for _, v := range c.Context().QueryArgs().PeekMulti(key) {
		for _, part := range strings.Split(string(v), ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func validTags(list []string) error {
	for _, t := range list {
		if !tags.Valid(t) {
			return domain.NewValidationError("tag", fmt.Sprintf("invalid tag %q", t))
		}
	}
	return nil
}

func (s *Server) HandleQueryNotes(c *fiber.Ctx) error {
	filters := queryList(c, "tag")
	if err := validTags(filters); err != nil {
		return err
	}
	snap, err := s.engine.QueryNotes(c.UserContext(), auth.OwnerID(c), filters)
	if err != nil {
		return err
	}
	return c.JSON(snap)
}

func (s *Server) HandleCreateNote(c *fiber.Ctx) error {
	var req noteRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	note, err := s.engine.SaveNote(c.UserContext(), auth.OwnerID(c), nil, req.Title, req.Content, req.Tags)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(newNoteResponse(note))
}

func (s *Server) HandleGetNote(c *fiber.Ctx) error {
	note, err := s.engine.GetNote(c.UserContext(), auth.OwnerID(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(newNoteResponse(note))
}

func (s *Server) HandleUpdateNote(c *fiber.Ctx) error {
	var req noteRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	owner := auth.OwnerID(c)
	existing, err := s.engine.GetNote(c.UserContext(), owner, c.Params("id"))
	if err != nil {
		return err
	}
	note, err := s.engine.SaveNote(c.UserContext(), owner, existing, req.Title, req.Content, req.Tags)
	if err != nil {
		return err
	}
	return c.JSON(newNoteResponse(note))
}

func (s *Server) HandleDeleteNote(c *fiber.Ctx) error {
	if err := s.engine.DeleteNoteByID(c.UserContext(), auth.OwnerID(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) HandleNoteAction(c *fiber.Ctx) error {
	var req actionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	kind, err := engine.ParseActionKind(req.Action)
	if err != nil {
		return err
	}
	res, err := s.dispatcher.Submit(c.UserContext(), kind, auth.OwnerID(c), c.Params("id"))
	if err != nil {
		return err
	}
	if kind == engine.ActionShare {
		c.Set(fiber.HeaderContentType, "text/markdown; charset=utf-8")
		return c.SendString(res.Shared)
	}
	return c.JSON(res)
}

func (s *Server) HandleTagTree(c *fiber.Ctx) error {
	roots, err := s.engine.BuildTagTree(c.UserContext(), auth.OwnerID(c), queryList(c, "expanded"))
	if err != nil {
		return err
	}
	if roots == nil {
		roots = []*domain.TagNode{}
	}
	return c.JSON(roots)
}

type searchHit struct {
	FullName string `json:"full_name"`
	Depth    int    `json:"depth"`
	Count    int64  `json:"count"`
}

func (s *Server) HandleTagSearch(c *fiber.Ctx) error {
	roots, err := s.engine.BuildTagTree(c.UserContext(), auth.OwnerID(c), nil)
	if err != nil {
		return err
	}
	nodes := tags.Search(roots, c.Query("q"))
	hits := make([]searchHit, 0, len(nodes))
	for _, n := range nodes {
		hits = append(hits, searchHit{FullName: n.FullName, Depth: n.Depth, Count: n.Count})
	}
	return c.JSON(hits)
}

// HandleRepair checks one tag when a body names it, otherwise every counter
// of the owner.
func (s *Server) HandleRepair(c *fiber.Ctx) error {
	var req tagRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
	}
	owner := auth.OwnerID(c)
	if req.Tag != "" {
		out, err := s.engine.RepairTag(c.UserContext(), owner, req.Tag)
		if err != nil {
			return err
		}
		return c.JSON([]engine.RepairOutcome{out})
	}
	outcomes, err := s.engine.RepairAll(c.UserContext(), owner)
	if err != nil {
		return err
	}
	return c.JSON(outcomes)
}
