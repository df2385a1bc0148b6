package model

import "time"

// AIStat is one row of ai_game_stats: the tally for a
// (player, game type, difficulty) tuple.
type AIStat struct {
	ID         string     `json:"id" db:"id"`
	PlayerID   string     `json:"player_id" db:"player_id"`
	GameType   GameType   `json:"game_type" db:"game_type"`
	Difficulty Difficulty `json:"difficulty" db:"difficulty"`
	Wins       int64      `json:"wins" db:"wins"`
	Losses     int64      `json:"losses" db:"losses"`
	Draws      int64      `json:"draws" db:"draws"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// Total returns the number of games counted by the row.
func (s AIStat) Total() int64 {
	return s.Wins + s.Losses + s.Draws
}

// Tally is the win/loss/draw triple stored in the local cache.
type Tally struct {
	Wins   int64 `json:"wins"`
	Losses int64 `json:"losses"`
	Draws  int64 `json:"draws"`
}

// Add increments the counter matching r.
func (t *Tally) Add(r GameResult) {
	switch r {
	case ResultWin:
		t.Wins++
	case ResultLoss:
		t.Losses++
	case ResultDraw:
		t.Draws++
	}
}

// Total returns wins + losses + draws.
func (t Tally) Total() int64 {
	return t.Wins + t.Losses + t.Draws
}

// DifficultyStats is the per-difficulty view returned to callers.
type DifficultyStats struct {
	Wins   int64 `json:"wins"`
	Losses int64 `json:"losses"`
	Draws  int64 `json:"draws"`
	Total  int64 `json:"total"`
}

// NewDifficultyStats derives the view from a tally.
func NewDifficultyStats(t Tally) DifficultyStats {
	return DifficultyStats{Wins: t.Wins, Losses: t.Losses, Draws: t.Draws, Total: t.Total()}
}

// PlayerGameStats is a player's AI record for one game type.
// Totals are derived by summation.
type PlayerGameStats struct {
	GameType   GameType        `json:"game_type"`
	Easy       DifficultyStats `json:"easy"`
	Normal     DifficultyStats `json:"normal"`
	Hard       DifficultyStats `json:"hard"`
	TotalGames int64           `json:"total_games"`
	TotalWins  int64           `json:"total_wins"`
}

// Set stores the stats for difficulty d and refreshes the totals.
func (p *PlayerGameStats) Set(d Difficulty, s DifficultyStats) {
	switch d {
	case DifficultyEasy:
		p.Easy = s
	case DifficultyNormal:
		p.Normal = s
	case DifficultyHard:
		p.Hard = s
	}
	p.TotalGames = p.Easy.Total + p.Normal.Total + p.Hard.Total
	p.TotalWins = p.Easy.Wins + p.Normal.Wins + p.Hard.Wins
}

// GameTypeStats is the global breakdown for one game type.
type GameTypeStats struct {
	Games       int64 `json:"games"`
	AIGames     int64 `json:"ai_games"`
	OnlineGames int64 `json:"online_games"`
	Rooms       int   `json:"rooms"`
	Players     int   `json:"players"`
}

// GlobalStats merges AI statistics and room rows across all players.
type GlobalStats struct {
	TotalGames       int64                      `json:"total_games"`
	TotalAIGames     int64                      `json:"total_ai_games"`
	TotalOnlineGames int64                      `json:"total_online_games"`
	TotalRooms       int                        `json:"total_rooms"`
	UniquePlayers    int                        `json:"unique_players"`
	ByGameType       map[GameType]GameTypeStats `json:"by_game_type"`
}

// NewGlobalStats returns an all-zero structure with an entry per game type.
func NewGlobalStats(gameTypes []GameType) GlobalStats {
	g := GlobalStats{ByGameType: make(map[GameType]GameTypeStats, len(gameTypes))}
	for _, gt := range gameTypes {
		g.ByGameType[gt] = GameTypeStats{}
	}
	return g
}
