package stats

import (
	"game-session-hub/internal/model"
	"game-session-hub/internal/store"
)

func fromRow(r store.Row) model.AIStat {
	return model.AIStat{
		ID:         r.String("id"),
		PlayerID:   r.String("player_id"),
		GameType:   model.GameType(r.String("game_type")),
		Difficulty: model.Difficulty(r.String("difficulty")),
		Wins:       r.Int64("wins"),
		Losses:     r.Int64("losses"),
		Draws:      r.Int64("draws"),
		CreatedAt:  r.Time("created_at"),
		UpdatedAt:  r.Time("updated_at"),
	}
}

func resultColumn(r model.GameResult) string {
	switch r {
	case model.ResultWin:
		return "wins"
	case model.ResultLoss:
		return "losses"
	case model.ResultDraw:
		return "draws"
	}
	return ""
}
