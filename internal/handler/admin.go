package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// AdminKeyHeader carries the plaintext admin key.
const AdminKeyHeader = "X-Admin-Key"

// AdminMiddleware admits requests whose admin key matches one of the
// bcrypt hashes. With no hashes configured every admin route is hidden.
func AdminMiddleware(keyHashes []string) fiber.Handler {
	hashes := make([][]byte, 0, len(keyHashes))
	for _, h := range keyHashes {
		if h != "" {
			hashes = append(hashes, []byte(h))
		}
	}

	return func(c *fiber.Ctx) error {
		if len(hashes) == 0 {
			return fiber.ErrNotFound
		}
		key := c.Get(AdminKeyHeader)
		if key == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "admin key required")
		}
		for _, h := range hashes {
			if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
				return c.Next()
			}
		}
		log.Warn().Str("ip", c.IP()).Str("path", c.Path()).Msg("Rejected admin key")
		return fiber.NewError(fiber.StatusForbidden, "invalid admin key")
	}
}

// DeleteRoom handles DELETE /admin/rooms/:id.
func (h *Handler) DeleteRoom(c *fiber.Ctx) error {
	if !h.rooms.DeleteRoom(c.UserContext(), c.Params("id")) {
		return fiber.NewError(fiber.StatusNotFound, "room not found")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Reap handles POST /admin/reap?older_than=. The cutoff defaults to the
// configured stale interval.
func (h *Handler) Reap(c *fiber.Ctx) error {
	olderThan := h.staleAfter
	if raw := c.Query("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "older_than must be a positive duration")
		}
		olderThan = d
	}
	return c.JSON(fiber.Map{"closed": h.rooms.CloseStaleRooms(c.UserContext(), olderThan)})
}
