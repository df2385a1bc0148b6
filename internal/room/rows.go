package room

import (
	"game-session-hub/internal/model"
	"game-session-hub/internal/store"
)

// fromRow maps a game_rooms row. It accepts both driver rows and JSON
// change-feed payloads.
func fromRow(r store.Row) model.Room {
	return model.Room{
		ID:          r.String("id"),
		HostName:    r.String("host_name"),
		HostID:      r.String("host_id"),
		RoomTitle:   r.StringPtr("room_title"),
		GameType:    model.GameType(r.String("game_type")),
		Status:      model.RoomStatus(r.String("status")),
		IsPrivate:   r.Bool("is_private"),
		GamesPlayed: r.Int64("games_played"),
		CreatedAt:   r.Time("created_at"),
		UpdatedAt:   r.Time("updated_at"),
	}
}

func fromRows(rows []store.Row) []model.Room {
	rooms := make([]model.Room, 0, len(rows))
	for _, r := range rows {
		rooms = append(rooms, fromRow(r))
	}
	return rooms
}
