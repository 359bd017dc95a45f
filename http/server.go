// server/http/server.go
package http

import (
	"context"
	"errors"
	"time"

	"github.com/ViniZap4/tagkosha-server/auth"
	"github.com/ViniZap4/tagkosha-server/domain"
	"github.com/ViniZap4/tagkosha-server/engine"
	"github.com/ViniZap4/tagkosha-server/store"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	engine     *engine.Engine
	dispatcher *engine.Dispatcher
	log        zerolog.Logger
	sessions   *sessionRegistry
	app        *fiber.App

	// streams is the parent of every SSE stream context. Cancelling it ends
	// the writer loops so their connections can go idle.
	streams     context.Context
	stopStreams context.CancelFunc
}

func NewServer(e *engine.Engine, d *engine.Dispatcher, secret []byte, log zerolog.Logger) *Server {
	s := &Server{
		engine:     e,
		dispatcher: d,
		log:        log.With().Str("component", "http").Logger(),
		sessions:   newSessionRegistry(),
	}
	s.streams, s.stopStreams = context.WithCancel(context.Background())
	s.app = fiber.New(fiber.Config{
		AppName:               "tagkosha",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(recover.New())
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Content-Type, " + auth.Header,
	}))

	s.app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := s.app.Group("/api", auth.Middleware(secret))
	api.Get("/notes", s.HandleQueryNotes)
	api.Post("/notes", s.HandleCreateNote)
	api.Get("/notes/stream", s.HandleNoteStream)
	api.Get("/notes/:id", s.HandleGetNote)
	api.Put("/notes/:id", s.HandleUpdateNote)
	api.Delete("/notes/:id", s.HandleDeleteNote)
	api.Post("/notes/:id/actions", s.HandleNoteAction)

	api.Post("/sessions/:id/select", s.HandleSelectFilter)
	api.Post("/sessions/:id/deselect", s.HandleDeselectFilter)

	api.Get("/tags/tree", s.HandleTagTree)
	api.Get("/tags/tree/stream", s.HandleTagTreeStream)
	api.Get("/tags/search", s.HandleTagSearch)
	api.Post("/tags/repair", s.HandleRepair)
	return s
}

func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error {
	s.log.Info().Str("addr", addr).Msg("server starting")
	return s.app.Listen(addr)
}

// Shutdown ends every open stream, then stops accepting requests and waits
// for in-flight ones for at most shutdownTimeout.
func (s *Server) Shutdown() error {
	s.stopStreams()
	s.sessions.closeAll()
	return s.app.ShutdownWithTimeout(shutdownTimeout)
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &fe):
		return c.Status(fe.Code).JSON(errorResponse{Error: fe.Message})
	case errors.As(err, &ve):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(errorResponse{Error: ve.Message, Field: ve.Field})
	case errors.Is(err, store.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: err.Error()})
	}
	s.log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("request failed")
	return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: err.Error()})
}
