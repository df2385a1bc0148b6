// Package model defines the data models for the game session hub.
package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// GameType identifies a kind of game. The known kinds are declared as
// constants; anything else is a custom game type created with
// CustomGameType and is still a valid value.
type GameType string

// Known game types.
const (
	GameOmok      GameType = "omok"
	GameOthello   GameType = "othello"
	GameChess     GameType = "chess"
	GameCheckers  GameType = "checkers"
	GameConnect4  GameType = "connect4"
	GameTicTacToe GameType = "tictactoe"
	GameBaduk     GameType = "baduk"
	GameJanggi    GameType = "janggi"
)

// ErrInvalidGameType is returned when a game type string is empty or malformed.
var ErrInvalidGameType = errors.New("invalid game type")

var gameTypePattern = regexp.MustCompile(`^[a-z0-9_-]{1,32}$`)

// KnownGameTypes returns the statically known game types in display order.
func KnownGameTypes() []GameType {
	return []GameType{
		GameOmok, GameOthello, GameChess, GameCheckers,
		GameConnect4, GameTicTacToe, GameBaduk, GameJanggi,
	}
}

// Known reports whether g is one of the statically known game types.
func (g GameType) Known() bool {
	for _, k := range KnownGameTypes() {
		if k == g {
			return true
		}
	}
	return false
}

func (g GameType) String() string {
	return string(g)
}

// CustomGameType builds a game type outside the known set.
func CustomGameType(name string) (GameType, error) {
	return ParseGameType(name)
}

// ParseGameType normalizes and validates a game type string.
func ParseGameType(s string) (GameType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !gameTypePattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidGameType, s)
	}
	return GameType(s), nil
}

// Difficulty is the AI opponent strength.
type Difficulty string

// AI difficulties.
const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyNormal Difficulty = "normal"
	DifficultyHard   Difficulty = "hard"
)

// ErrInvalidDifficulty is returned for unknown difficulty strings.
var ErrInvalidDifficulty = errors.New("invalid difficulty")

// Difficulties returns all difficulties in ascending order.
func Difficulties() []Difficulty {
	return []Difficulty{DifficultyEasy, DifficultyNormal, DifficultyHard}
}

// ParseDifficulty validates a difficulty string.
func ParseDifficulty(s string) (Difficulty, error) {
	switch d := Difficulty(strings.ToLower(strings.TrimSpace(s))); d {
	case DifficultyEasy, DifficultyNormal, DifficultyHard:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDifficulty, s)
	}
}

// GameResult is the outcome of one game from the player's point of view.
type GameResult string

// Game results.
const (
	ResultWin  GameResult = "win"
	ResultLoss GameResult = "loss"
	ResultDraw GameResult = "draw"
)

// ErrInvalidResult is returned for unknown result strings.
var ErrInvalidResult = errors.New("invalid game result")

// ParseGameResult validates a result string.
func ParseGameResult(s string) (GameResult, error) {
	switch r := GameResult(strings.ToLower(strings.TrimSpace(s))); r {
	case ResultWin, ResultLoss, ResultDraw:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidResult, s)
	}
}
