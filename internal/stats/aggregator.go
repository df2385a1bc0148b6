// Package stats records AI game results and aggregates player and global
// statistics from the store, falling back to a local cache when the store
// has nothing to offer.
package stats

import (
	"context"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"game-session-hub/internal/model"
	"game-session-hub/internal/store"
)

const (
	upsertAttempts = 3
	fanOutLimit    = 4
)

// Aggregator records and reads AI statistics.
type Aggregator struct {
	store *store.Adapter
	cache *LocalCache
}

// NewAggregator creates an Aggregator. The cache is written on every
// result regardless of store availability.
func NewAggregator(s *store.Adapter, cache *LocalCache) *Aggregator {
	return &Aggregator{store: s, cache: cache}
}

// RecordResult counts one AI game. The local cache is updated first; the
// store is then updated through the record procedure when installed, or
// through a guarded read-modify-write otherwise. Returns false only for
// invalid input.
func (a *Aggregator) RecordResult(ctx context.Context, playerID string, gameType model.GameType, d model.Difficulty, r model.GameResult) bool {
	if playerID == "" || resultColumn(r) == "" {
		return false
	}
	gameType, err := model.ParseGameType(string(gameType))
	if err != nil {
		return false
	}
	if d, err = model.ParseDifficulty(string(d)); err != nil {
		return false
	}

	a.cache.Record(ctx, gameType, d, r)

	if !a.store.Configured() {
		return true
	}
	if !a.recordRemote(ctx, playerID, gameType, d, r) {
		log.Warn().
			Str("player_id", playerID).
			Str("game_type", gameType.String()).
			Str("difficulty", string(d)).
			Msg("AI result kept locally only")
	}
	return true
}

func (a *Aggregator) recordRemote(ctx context.Context, playerID string, gameType model.GameType, d model.Difficulty, r model.GameResult) bool {
	if a.store.HasProcedure(ctx, store.ProcRecordAIGameResult) {
		if _, ok := a.store.Call(ctx, store.ProcRecordAIGameResult, playerID, gameType, d, r); ok {
			return true
		}
		if a.store.HasProcedure(ctx, store.ProcRecordAIGameResult) {
			return false
		}
	}
	return a.upsertGuarded(ctx, playerID, gameType, d, r)
}

// upsertGuarded increments the result column on the observed value, or
// inserts the row when absent. A lost race against another writer (or a
// concurrent insert of the same key) retries from a fresh read.
func (a *Aggregator) upsertGuarded(ctx context.Context, playerID string, gameType model.GameType, d model.Difficulty, r model.GameResult) bool {
	column := resultColumn(r)
	q := store.Where(
		store.Eq("player_id", playerID),
		store.Eq("game_type", gameType),
		store.Eq("difficulty", d),
	)
	q.Limit = 1

	for attempt := 1; attempt <= upsertAttempts; attempt++ {
		rows := a.store.Select(ctx, store.TableAIStats, q)
		if len(rows) == 0 {
			inserted := a.store.Insert(ctx, store.TableAIStats, store.Row{
				"player_id":  playerID,
				"game_type":  gameType,
				"difficulty": d,
				column:       int64(1),
			})
			if inserted != nil {
				return true
			}
			continue
		}

		current := rows[0].Int64(column)
		updated := a.store.Update(ctx, store.TableAIStats, rows[0].String("id"),
			store.Row{column: current + 1},
			store.Eq(column, current))
		if len(updated) > 0 {
			return true
		}
		log.Debug().Str("player_id", playerID).Int("attempt", attempt).Msg("AI stat changed concurrently, retrying")
	}
	return false
}

// GetPlayerGameStats returns the player's record for gameType. When the
// store has no rows for the player the local cache is used instead.
func (a *Aggregator) GetPlayerGameStats(ctx context.Context, playerID string, gameType model.GameType) model.PlayerGameStats {
	parsed, err := model.ParseGameType(string(gameType))
	if err != nil {
		return model.PlayerGameStats{GameType: gameType}
	}
	gameType = parsed
	out := model.PlayerGameStats{GameType: gameType}

	rows := a.store.Select(ctx, store.TableAIStats, store.Where(
		store.Eq("player_id", playerID),
		store.Eq("game_type", gameType),
	))
	if len(rows) > 0 {
		for _, row := range rows {
			s := fromRow(row)
			if _, err := model.ParseDifficulty(string(s.Difficulty)); err != nil {
				continue
			}
			out.Set(s.Difficulty, model.NewDifficultyStats(model.Tally{Wins: s.Wins, Losses: s.Losses, Draws: s.Draws}))
		}
		return out
	}

	for _, d := range model.Difficulties() {
		out.Set(d, model.NewDifficultyStats(a.cache.Tally(ctx, gameType, d)))
	}
	return out
}

// GetAllPlayerStats returns GetPlayerGameStats for each game type, in the
// order given.
func (a *Aggregator) GetAllPlayerStats(ctx context.Context, playerID string, gameTypes []model.GameType) []model.PlayerGameStats {
	out := make([]model.PlayerGameStats, len(gameTypes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)
	for i, gt := range gameTypes {
		g.Go(func() error {
			out[i] = a.GetPlayerGameStats(gctx, playerID, gt)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// GetTotalAIGamesCount sums every AI game recorded.
func (a *Aggregator) GetTotalAIGamesCount(ctx context.Context) int64 {
	return a.countAIGames(ctx, "")
}

// GetAIGamesCountByType sums AI games of one game type.
func (a *Aggregator) GetAIGamesCountByType(ctx context.Context, gameType model.GameType) int64 {
	return a.countAIGames(ctx, gameType)
}

func (a *Aggregator) countAIGames(ctx context.Context, gameType model.GameType) int64 {
	q := store.Where()
	if gameType != "" {
		q = store.Where(store.Eq("game_type", gameType))
	}
	rows := a.store.Select(ctx, store.TableAIStats, q)
	if len(rows) == 0 {
		return a.cache.TotalGames(ctx, gameType)
	}
	var total int64
	for _, row := range rows {
		total += fromRow(row).Total()
	}
	return total
}

// GetGlobalStats merges AI stats and rooms across all players. An empty
// gameTypes covers every game type present in the store. Without a store
// the result is all zero; the local cache is never consulted.
func (a *Aggregator) GetGlobalStats(ctx context.Context, gameTypes []model.GameType) model.GlobalStats {
	if !a.store.Configured() {
		return model.NewGlobalStats(gameTypes)
	}

	aiQuery, roomQuery := store.Where(), store.Where()
	if len(gameTypes) > 0 {
		values := make([]any, len(gameTypes))
		for i, gt := range gameTypes {
			values[i] = gt
		}
		aiQuery = store.Where(store.In("game_type", values...))
		roomQuery = store.Where(store.In("game_type", values...))
	}

	var aiRows, roomRows []store.Row
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		aiRows = a.store.Select(gctx, store.TableAIStats, aiQuery)
		return nil
	})
	g.Go(func() error {
		roomRows = a.store.Select(gctx, store.TableRooms, roomQuery)
		return nil
	})
	_ = g.Wait()

	return mergeGlobal(gameTypes, aiRows, roomRows)
}

func mergeGlobal(gameTypes []model.GameType, aiRows, roomRows []store.Row) model.GlobalStats {
	out := model.NewGlobalStats(gameTypes)
	players := make(map[string]struct{})
	perType := make(map[model.GameType]map[string]struct{})

	addPlayer := func(gt model.GameType, id string) {
		if id == "" {
			return
		}
		players[id] = struct{}{}
		if perType[gt] == nil {
			perType[gt] = make(map[string]struct{})
		}
		perType[gt][id] = struct{}{}
	}

	for _, row := range aiRows {
		s := fromRow(row)
		gs := out.ByGameType[s.GameType]
		gs.AIGames += s.Total()
		out.ByGameType[s.GameType] = gs
		out.TotalAIGames += s.Total()
		addPlayer(s.GameType, s.PlayerID)
	}

	for _, row := range roomRows {
		gt := model.GameType(row.String("game_type"))
		played := row.Int64("games_played")
		gs := out.ByGameType[gt]
		gs.OnlineGames += played
		gs.Rooms++
		out.ByGameType[gt] = gs
		out.TotalOnlineGames += played
		out.TotalRooms++
		addPlayer(gt, row.String("host_id"))
	}

	for gt, gs := range out.ByGameType {
		gs.Games = gs.AIGames + gs.OnlineGames
		gs.Players = len(perType[gt])
		out.ByGameType[gt] = gs
	}
	out.TotalGames = out.TotalAIGames + out.TotalOnlineGames
	out.UniquePlayers = len(players)
	return out
}
