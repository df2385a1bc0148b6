package model

import "time"

// RoomStatus is the matchmaking state of a room.
type RoomStatus string

// Room statuses. Finished and closed are terminal.
const (
	StatusWaiting  RoomStatus = "waiting"
	StatusPlaying  RoomStatus = "playing"
	StatusFinished RoomStatus = "finished"
	StatusClosed   RoomStatus = "closed"
)

// IsTerminal reports whether no further transition is possible.
func (s RoomStatus) IsTerminal() bool {
	return s == StatusFinished || s == StatusClosed
}

// Valid reports whether s is one of the declared statuses.
func (s RoomStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusPlaying, StatusFinished, StatusClosed:
		return true
	}
	return false
}

// CanTransition reports whether a room may move from s to next.
// Transitions are monotonic along waiting -> playing -> {finished, closed};
// a waiting room may also be closed directly.
func (s RoomStatus) CanTransition(next RoomStatus) bool {
	switch s {
	case StatusWaiting:
		return next == StatusPlaying || next == StatusClosed
	case StatusPlaying:
		return next == StatusFinished || next == StatusClosed
	default:
		return false
	}
}

// Room represents one matchmaking slot in the game_rooms table.
type Room struct {
	ID          string     `json:"id" db:"id"`
	HostName    string     `json:"host_name" db:"host_name"`
	HostID      string     `json:"host_id" db:"host_id"`
	RoomTitle   *string    `json:"room_title,omitempty" db:"room_title"`
	GameType    GameType   `json:"game_type" db:"game_type"`
	Status      RoomStatus `json:"status" db:"status"`
	IsPrivate   bool       `json:"is_private" db:"is_private"`
	GamesPlayed int64      `json:"games_played" db:"games_played"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// CreateRoomInput carries the host-supplied fields of a new room.
type CreateRoomInput struct {
	HostName  string   `json:"host_name"`
	HostID    string   `json:"host_id"`
	GameType  GameType `json:"game_type"`
	IsPrivate bool     `json:"is_private"`
	Title     string   `json:"room_title,omitempty"`
}

// RoomStats summarizes the rooms of one game type.
type RoomStats struct {
	Total   int `json:"total"`
	Public  int `json:"public"`
	Private int `json:"private"`
	Waiting int `json:"waiting"`
	Playing int `json:"playing"`
}

// MonthlyStat aggregates rooms created in one calendar month.
type MonthlyStat struct {
	Month      string `json:"month"` // YYYY-MM
	TotalGames int64  `json:"total_games"`
	TotalRooms int    `json:"total_rooms"`
}
