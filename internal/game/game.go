// Package game describes the board games that rooms and AI statistics can
// refer to, and keeps a registry of them.
package game

import (
	"fmt"

	"game-session-hub/internal/model"
)

// Descriptor is the static description of one game type.
type Descriptor struct {
	Type        model.GameType `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	// HasAI reports whether single-player games against the AI exist, and
	// therefore whether AI statistics are recorded for this type.
	HasAI     bool `json:"has_ai"`
	BoardSize int  `json:"board_size"`
}

// Validate checks the descriptor before registration.
func (d Descriptor) Validate() error {
	if _, err := model.ParseGameType(string(d.Type)); err != nil {
		return err
	}
	if d.Name == "" {
		return fmt.Errorf("game %s: name cannot be empty", d.Type)
	}
	if d.BoardSize < 0 {
		return fmt.Errorf("game %s: negative board size", d.Type)
	}
	return nil
}

// Defaults returns the built-in games in display order.
func Defaults() []Descriptor {
	return []Descriptor{
		{Type: model.GameOmok, Name: "Omok", Description: "Five in a row on a 15x15 board", HasAI: true, BoardSize: 15},
		{Type: model.GameOthello, Name: "Othello", Description: "Flip discs to own the board", HasAI: true, BoardSize: 8},
		{Type: model.GameChess, Name: "Chess", Description: "Classic chess", HasAI: true, BoardSize: 8},
		{Type: model.GameCheckers, Name: "Checkers", Description: "Jump and crown", HasAI: true, BoardSize: 8},
		{Type: model.GameConnect4, Name: "Connect Four", Description: "Drop discs, connect four", HasAI: true, BoardSize: 7},
		{Type: model.GameTicTacToe, Name: "Tic-Tac-Toe", Description: "Three in a row", HasAI: true, BoardSize: 3},
		{Type: model.GameBaduk, Name: "Baduk", Description: "Go on a 19x19 board", HasAI: false, BoardSize: 19},
		{Type: model.GameJanggi, Name: "Janggi", Description: "Korean chess", HasAI: true, BoardSize: 9},
	}
}
