package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"game-session-hub/internal/game"
	"game-session-hub/internal/model"
)

const (
	commandTimeout = 5 * time.Second
	maxListedRooms = 10
)

func (b *Bot) handleStart(c tele.Context) error {
	return c.Send("Game lobby\n" +
		"/games - available games\n" +
		"/rooms <game> - open rooms\n" +
		"/stats <game> - room statistics")
}

func (b *Bot) handleGames(c tele.Context) error {
	return c.Send(formatGames(b.games.List()))
}

// handleRooms handles /rooms <game>.
func (b *Bot) handleRooms(c tele.Context) error {
	d, err := b.games.Lookup(c.Message().Payload)
	if err != nil {
		return c.Reply("Usage: /rooms <game>. See /games.")
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	return c.Send(formatRooms(d.Name, b.rooms.ListRooms(ctx, d.Type)))
}

// handleStats handles /stats <game>.
func (b *Bot) handleStats(c tele.Context) error {
	d, err := b.games.Lookup(c.Message().Payload)
	if err != nil {
		return c.Reply("Usage: /stats <game>. See /games.")
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	return c.Send(formatStats(d.Name, b.rooms.GetRoomStats(ctx, d.Type)))
}

func formatGames(games []game.Descriptor) string {
	var sb strings.Builder
	sb.WriteString("Available games\n")
	for _, d := range games {
		fmt.Fprintf(&sb, "• %s (%s)", d.Name, d.Type)
		if d.HasAI {
			sb.WriteString(" - AI")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func roomLabel(r model.Room) string {
	if r.RoomTitle != nil && *r.RoomTitle != "" {
		return fmt.Sprintf("%s (host %s)", *r.RoomTitle, r.HostName)
	}
	return r.HostName + "'s room"
}

func formatRooms(gameName string, rooms []model.Room) string {
	if len(rooms) == 0 {
		return fmt.Sprintf("No open %s rooms", gameName)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Open %s rooms: %d\n", gameName, len(rooms))
	for i, r := range rooms {
		if i == maxListedRooms {
			fmt.Fprintf(&sb, "…and %d more\n", len(rooms)-maxListedRooms)
			break
		}
		fmt.Fprintf(&sb, "%d. %s [%s]\n", i+1, roomLabel(r), r.ID)
	}
	return sb.String()
}

func formatStats(gameName string, s model.RoomStats) string {
	return fmt.Sprintf("%s rooms\nTotal: %d (public %d, private %d)\nWaiting: %d\nPlaying: %d",
		gameName, s.Total, s.Public, s.Private, s.Waiting, s.Playing)
}

func formatAnnouncement(gameName string, r model.Room) string {
	return fmt.Sprintf("New %s room: %s\nJoin with id %s", gameName, roomLabel(r), r.ID)
}
