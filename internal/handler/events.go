package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"game-session-hub/internal/model"
)

const eventBuffer = 32

type roomEvent struct {
	name string
	room model.Room
}

// StreamRoomEvents handles GET /rooms/events?game_type= as a server-sent
// event stream of lobby changes. Private rooms are not announced. Events
// are dropped for a client that falls behind.
func (h *Handler) StreamRoomEvents(c *fiber.Ctx) error {
	d, err := h.games.Lookup(c.Query("game_type"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	gameType := d.Type

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		events := make(chan roomEvent, eventBuffer)
		push := func(name string) func(model.Room) {
			return func(r model.Room) {
				if r.IsPrivate && name != "delete" {
					return
				}
				select {
				case events <- roomEvent{name: name, room: r}:
				default:
					log.Warn().Str("room_id", r.ID).Msg("Room event dropped for slow client")
				}
			}
		}
		sub := h.rooms.SubscribeToRooms(ctx, gameType, push("insert"), push("update"), push("delete"))

		// The first comment tells the client the feed is live.
		if !writeComment(w) {
			return
		}

		ticker := time.NewTicker(h.keepAlive)
		defer ticker.Stop()
		for {
			select {
			case ev := <-events:
				if !writeEvent(w, ev) {
					return
				}
			case <-ticker.C:
				if !writeComment(w) {
					return
				}
			case <-sub.Done():
				return
			}
		}
	})
	return nil
}

func writeComment(w *bufio.Writer) bool {
	if _, err := w.WriteString(":\n\n"); err != nil {
		return false
	}
	return w.Flush() == nil
}

func writeEvent(w *bufio.Writer, ev roomEvent) bool {
	var payload any = ev.room
	if ev.name == "delete" {
		payload = fiber.Map{"id": ev.room.ID}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode room event")
		return true
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, data); err != nil {
		return false
	}
	return w.Flush() == nil
}
