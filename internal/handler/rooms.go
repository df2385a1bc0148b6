package handler

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"game-session-hub/internal/invite"
	"game-session-hub/internal/model"
)

// ListGames returns the registered game descriptors.
func (h *Handler) ListGames(c *fiber.Ctx) error {
	return c.JSON(h.games.List())
}

// ListRooms handles GET /rooms?game_type=.
func (h *Handler) ListRooms(c *fiber.Ctx) error {
	d, err := h.games.Lookup(c.Query("game_type"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(h.rooms.ListRooms(c.UserContext(), d.Type))
}

// CreateRoom handles POST /rooms.
func (h *Handler) CreateRoom(c *fiber.Ctx) error {
	var in model.CreateRoomInput
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	d, err := h.games.Lookup(string(in.GameType))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(in.HostName) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "host_name is required")
	}
	if !h.rooms.Configured() {
		return fiber.NewError(fiber.StatusServiceUnavailable, "online play is unavailable")
	}

	in.GameType = d.Type
	r := h.rooms.CreateRoom(c.UserContext(), in)
	if r == nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to create room")
	}
	return c.Status(fiber.StatusCreated).JSON(r)
}

// GetRoom handles GET /rooms/:id.
func (h *Handler) GetRoom(c *fiber.Ctx) error {
	r := h.rooms.GetRoom(c.UserContext(), c.Params("id"))
	if r == nil {
		return fiber.NewError(fiber.StatusNotFound, "room not found")
	}
	return c.JSON(r)
}

// JoinRoom handles POST /rooms/:id/join. Losing the race is a 409.
func (h *Handler) JoinRoom(c *fiber.Ctx) error {
	if !h.rooms.TryJoinRoom(c.UserContext(), c.Params("id")) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"joined": false})
	}
	return c.JSON(fiber.Map{"joined": true})
}

type hostRequest struct {
	HostID string `json:"host_id"`
}

// UpdateHost handles PUT /rooms/:id/host.
func (h *Handler) UpdateHost(c *fiber.Ctx) error {
	var req hostRequest
	if err := c.BodyParser(&req); err != nil || req.HostID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "host_id is required")
	}
	return applied(c, h.rooms.UpdateRoomHostID(c.UserContext(), c.Params("id"), req.HostID))
}

// Heartbeat handles POST /rooms/:id/heartbeat.
func (h *Handler) Heartbeat(c *fiber.Ctx) error {
	return applied(c, h.rooms.SendHeartbeat(c.UserContext(), c.Params("id")))
}

// CloseRoom handles POST /rooms/:id/close.
func (h *Handler) CloseRoom(c *fiber.Ctx) error {
	return applied(c, h.rooms.CloseRoom(c.UserContext(), c.Params("id")))
}

// FinishRoom handles POST /rooms/:id/finish.
func (h *Handler) FinishRoom(c *fiber.Ctx) error {
	return applied(c, h.rooms.FinishRoom(c.UserContext(), c.Params("id")))
}

// IncrementGames handles POST /rooms/:id/games.
func (h *Handler) IncrementGames(c *fiber.Ctx) error {
	return applied(c, h.rooms.IncrementGamesPlayed(c.UserContext(), c.Params("id")))
}

// IssueInvite handles POST /rooms/:id/invite.
func (h *Handler) IssueInvite(c *fiber.Ctx) error {
	if !h.invites.Enabled() {
		return fiber.NewError(fiber.StatusNotImplemented, invite.ErrNoSecret.Error())
	}
	r := h.rooms.GetRoom(c.UserContext(), c.Params("id"))
	if r == nil {
		return fiber.NewError(fiber.StatusNotFound, "room not found")
	}
	if r.Status != model.StatusWaiting {
		return fiber.NewError(fiber.StatusConflict, "room is not waiting")
	}
	token, expires, err := h.invites.Issue(*r)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"token":      token,
		"expires_at": expires.UTC().Format(time.RFC3339),
	})
}

// ResolveInvite handles GET /invites/:token and returns the invited room.
func (h *Handler) ResolveInvite(c *fiber.Ctx) error {
	claims, err := h.invites.Parse(c.Params("token"))
	switch {
	case errors.Is(err, invite.ErrNoSecret):
		return fiber.NewError(fiber.StatusNotImplemented, err.Error())
	case err != nil:
		log.Debug().Err(err).Msg("Rejected invite")
		return fiber.NewError(fiber.StatusUnauthorized, invite.ErrInvalid.Error())
	}
	r := h.rooms.GetRoom(c.UserContext(), claims.RoomID)
	if r == nil || r.Status.IsTerminal() {
		return fiber.NewError(fiber.StatusGone, "room is no longer available")
	}
	return c.JSON(r)
}
