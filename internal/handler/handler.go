// Package handler exposes the lobby, room lifecycle and statistics over
// HTTP with fiber.
package handler

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/rs/zerolog/log"

	"game-session-hub/internal/game"
	"game-session-hub/internal/invite"
	"game-session-hub/internal/model"
	"game-session-hub/internal/room"
	"game-session-hub/internal/stats"
)

// Handler serves the HTTP API.
type Handler struct {
	rooms      *room.Manager
	stats      *stats.Aggregator
	invites    *invite.Issuer
	games      *game.Registry
	staleAfter time.Duration
	keepAlive  time.Duration
}

// Options holds the optional Handler settings.
type Options struct {
	// StaleAfter is the default cutoff for POST /admin/reap.
	StaleAfter time.Duration
	// KeepAlive is the comment interval on the room event stream.
	KeepAlive time.Duration
}

// New creates a Handler.
func New(rooms *room.Manager, agg *stats.Aggregator, invites *invite.Issuer, games *game.Registry, opts Options) *Handler {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 5 * time.Minute
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 15 * time.Second
	}
	return &Handler{
		rooms:      rooms,
		stats:      agg,
		invites:    invites,
		games:      games,
		staleAfter: opts.StaleAfter,
		keepAlive:  opts.KeepAlive,
	}
}

// NewApp builds the fiber application with every route registered.
// adminKeyHashes are bcrypt hashes accepted by the admin routes.
func NewApp(h *Handler, allowedOrigins string, adminKeyHashes []string) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "game-session-hub",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + AdminKeyHeader,
	}))
	h.Register(app, adminKeyHashes)
	return app
}

// Register adds the routes to app.
func (h *Handler) Register(app *fiber.App, adminKeyHashes []string) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "ok",
			"store":     h.rooms.Configured(),
			"reachable": h.rooms.Reachable(c.UserContext()),
		})
	})

	// /rooms/events must precede /rooms/:id.
	app.Get("/rooms/events", h.StreamRoomEvents)
	app.Get("/rooms", h.ListRooms)
	app.Post("/rooms", h.CreateRoom)
	app.Get("/rooms/:id", h.GetRoom)
	app.Post("/rooms/:id/join", h.JoinRoom)
	app.Put("/rooms/:id/host", h.UpdateHost)
	app.Post("/rooms/:id/heartbeat", h.Heartbeat)
	app.Post("/rooms/:id/close", h.CloseRoom)
	app.Post("/rooms/:id/finish", h.FinishRoom)
	app.Post("/rooms/:id/games", h.IncrementGames)
	app.Post("/rooms/:id/invite", h.IssueInvite)
	app.Get("/invites/:token", h.ResolveInvite)

	app.Get("/games", h.ListGames)
	app.Get("/games/:gameType/rooms/stats", h.RoomStats)
	app.Get("/games/:gameType/rooms/monthly", h.MonthlyStats)

	app.Post("/stats/results", h.RecordResult)
	app.Get("/stats/players/:playerID", h.PlayerStats)
	app.Get("/stats/ai/total", h.TotalAIGames)
	app.Get("/stats/ai/:gameType", h.AIGamesByType)
	app.Get("/stats/global", h.GlobalStats)

	admin := app.Group("/admin", AdminMiddleware(adminKeyHashes))
	admin.Delete("/rooms/:id", h.DeleteRoom)
	admin.Post("/reap", h.Reap)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("Request failed")
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

// gameTypeParam resolves a path parameter against the registry.
func (h *Handler) gameTypeParam(c *fiber.Ctx, name string) (model.GameType, error) {
	d, err := h.games.Lookup(c.Params(name))
	if err != nil {
		return "", fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return d.Type, nil
}

// gameTypesQuery parses a comma-separated game_types query value, or
// returns fallback when it is absent.
func (h *Handler) gameTypesQuery(c *fiber.Ctx, fallback []model.GameType) ([]model.GameType, error) {
	raw := strings.TrimSpace(c.Query("game_types"))
	if raw == "" {
		return fallback, nil
	}
	var types []model.GameType
	for _, part := range strings.Split(raw, ",") {
		d, err := h.games.Lookup(part)
		if err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		types = append(types, d.Type)
	}
	return types, nil
}

func applied(c *fiber.Ctx, ok bool) error {
	if !ok {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"ok": false})
	}
	return c.JSON(fiber.Map{"ok": true})
}
