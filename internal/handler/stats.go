package handler

import (
	"github.com/gofiber/fiber/v2"

	"game-session-hub/internal/model"
	"game-session-hub/internal/room"
)

// RoomStats handles GET /games/:gameType/rooms/stats.
func (h *Handler) RoomStats(c *fiber.Ctx) error {
	gt, err := h.gameTypeParam(c, "gameType")
	if err != nil {
		return err
	}
	return c.JSON(h.rooms.GetRoomStats(c.UserContext(), gt))
}

// MonthlyStats handles GET /games/:gameType/rooms/monthly?months=.
func (h *Handler) MonthlyStats(c *fiber.Ctx) error {
	gt, err := h.gameTypeParam(c, "gameType")
	if err != nil {
		return err
	}
	months := c.QueryInt("months", room.DefaultMonths)
	if months > 120 {
		return fiber.NewError(fiber.StatusBadRequest, "months must be at most 120")
	}
	return c.JSON(h.rooms.GetMonthlyStats(c.UserContext(), gt, months))
}

type resultRequest struct {
	PlayerID   string `json:"player_id"`
	GameType   string `json:"game_type"`
	Difficulty string `json:"difficulty"`
	Result     string `json:"result"`
}

// RecordResult handles POST /stats/results.
func (h *Handler) RecordResult(c *fiber.Ctx) error {
	var req resultRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	d, err := h.games.Lookup(req.GameType)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	difficulty, err := model.ParseDifficulty(req.Difficulty)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	result, err := model.ParseGameResult(req.Result)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if !h.stats.RecordResult(c.UserContext(), req.PlayerID, d.Type, difficulty, result) {
		return fiber.NewError(fiber.StatusBadRequest, "player_id is required")
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"ok": true})
}

// PlayerStats handles GET /stats/players/:playerID?game_types=.
func (h *Handler) PlayerStats(c *fiber.Ctx) error {
	types, err := h.gameTypesQuery(c, h.games.AITypes())
	if err != nil {
		return err
	}
	return c.JSON(h.stats.GetAllPlayerStats(c.UserContext(), c.Params("playerID"), types))
}

// TotalAIGames handles GET /stats/ai/total.
func (h *Handler) TotalAIGames(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"count": h.stats.GetTotalAIGamesCount(c.UserContext())})
}

// AIGamesByType handles GET /stats/ai/:gameType.
func (h *Handler) AIGamesByType(c *fiber.Ctx) error {
	gt, err := h.gameTypeParam(c, "gameType")
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"game_type": gt,
		"count":     h.stats.GetAIGamesCountByType(c.UserContext(), gt),
	})
}

// GlobalStats handles GET /stats/global?game_types=.
func (h *Handler) GlobalStats(c *fiber.Ctx) error {
	types, err := h.gameTypesQuery(c, h.games.Types())
	if err != nil {
		return err
	}
	return c.JSON(h.stats.GetGlobalStats(c.UserContext(), types))
}
