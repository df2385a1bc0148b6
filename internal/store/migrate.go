package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// MigrateOptions controls which schema objects Migrate installs.
type MigrateOptions struct {
	// SkipProcedures leaves the atomic procedures out, forcing callers onto
	// the read-then-write fallback.
	SkipProcedures bool
	// Channel is the NOTIFY channel; defaults to NotifyChannel.
	Channel string
}

type migration struct {
	name string
	sql  string
}

var schemaMigrations = []migration{
	{
		name: "game_rooms table created",
		sql: `
			CREATE TABLE IF NOT EXISTS game_rooms (
				id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
				host_name TEXT NOT NULL,
				host_id TEXT NOT NULL,
				room_title TEXT,
				game_type TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'waiting'
					CHECK (status IN ('waiting', 'playing', 'finished', 'closed')),
				is_private BOOLEAN NOT NULL DEFAULT FALSE,
				games_played BIGINT NOT NULL DEFAULT 0 CHECK (games_played >= 0),
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_game_rooms_lobby
				ON game_rooms(game_type, status, is_private, created_at DESC);
			CREATE INDEX IF NOT EXISTS idx_game_rooms_stale ON game_rooms(status, updated_at);
		`,
	},
	{
		name: "ai_game_stats table created",
		sql: `
			CREATE TABLE IF NOT EXISTS ai_game_stats (
				id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
				player_id TEXT NOT NULL,
				game_type TEXT NOT NULL,
				difficulty TEXT NOT NULL CHECK (difficulty IN ('easy', 'normal', 'hard')),
				wins BIGINT NOT NULL DEFAULT 0 CHECK (wins >= 0),
				losses BIGINT NOT NULL DEFAULT 0 CHECK (losses >= 0),
				draws BIGINT NOT NULL DEFAULT 0 CHECK (draws >= 0),
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (player_id, game_type, difficulty)
			);
			CREATE INDEX IF NOT EXISTS idx_ai_game_stats_game_type ON ai_game_stats(game_type);
		`,
	},
	{
		name: "row change trigger installed",
		sql: `
			CREATE OR REPLACE FUNCTION notify_row_change() RETURNS trigger AS $$
			DECLARE
				rec RECORD;
			BEGIN
				IF TG_OP = 'DELETE' THEN
					rec := OLD;
				ELSE
					rec := NEW;
				END IF;
				PERFORM pg_notify(TG_ARGV[0], json_build_object(
					'table', TG_TABLE_NAME,
					'op', TG_OP,
					'row', row_to_json(rec)
				)::text);
				RETURN rec;
			END;
			$$ LANGUAGE plpgsql;

			DROP TRIGGER IF EXISTS game_rooms_notify ON game_rooms;
			CREATE TRIGGER game_rooms_notify
				AFTER INSERT OR UPDATE OR DELETE ON game_rooms
				FOR EACH ROW EXECUTE FUNCTION notify_row_change('{{channel}}');

			DROP TRIGGER IF EXISTS ai_game_stats_notify ON ai_game_stats;
			CREATE TRIGGER ai_game_stats_notify
				AFTER INSERT OR UPDATE OR DELETE ON ai_game_stats
				FOR EACH ROW EXECUTE FUNCTION notify_row_change('{{channel}}');
		`,
	},
}

var procedureMigrations = []migration{
	{
		name: "increment_games_played procedure installed",
		sql: `
			CREATE OR REPLACE FUNCTION increment_games_played(room_id TEXT)
			RETURNS SETOF game_rooms AS $$
				UPDATE game_rooms
				SET games_played = games_played + 1, updated_at = NOW()
				WHERE id = room_id
				RETURNING *;
			$$ LANGUAGE sql;
		`,
	},
	{
		name: "record_ai_game_result procedure installed",
		sql: `
			CREATE OR REPLACE FUNCTION record_ai_game_result(
				p_player_id TEXT, p_game_type TEXT, p_difficulty TEXT, p_result TEXT
			) RETURNS SETOF ai_game_stats AS $$
			BEGIN
				IF p_result NOT IN ('win', 'loss', 'draw') THEN
					RAISE EXCEPTION 'invalid result %', p_result;
				END IF;
				RETURN QUERY
				INSERT INTO ai_game_stats AS s (player_id, game_type, difficulty, wins, losses, draws)
				VALUES (
					p_player_id, p_game_type, p_difficulty,
					CASE WHEN p_result = 'win' THEN 1 ELSE 0 END,
					CASE WHEN p_result = 'loss' THEN 1 ELSE 0 END,
					CASE WHEN p_result = 'draw' THEN 1 ELSE 0 END
				)
				ON CONFLICT (player_id, game_type, difficulty) DO UPDATE SET
					wins = s.wins + EXCLUDED.wins,
					losses = s.losses + EXCLUDED.losses,
					draws = s.draws + EXCLUDED.draws,
					updated_at = NOW()
				RETURNING s.*;
			END;
			$$ LANGUAGE plpgsql;
		`,
	},
}

// Migrate creates tables, indexes, the change trigger and, unless skipped,
// the atomic procedures. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool, opts MigrateOptions) error {
	channel := opts.Channel
	if channel == "" {
		channel = NotifyChannel
	}
	if strings.ContainsAny(channel, "'\\") {
		return fmt.Errorf("invalid notify channel %q", channel)
	}

	log.Info().Msg("Running database migrations...")

	steps := schemaMigrations
	if !opts.SkipProcedures {
		steps = append(append([]migration{}, schemaMigrations...), procedureMigrations...)
	}
	for i, m := range steps {
		sql := strings.ReplaceAll(m.sql, "{{channel}}", channel)
		if _, err := pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("failed to run migration %d (%s): %w", i+1, m.name, err)
		}
		log.Info().Msgf("Migration %d: %s", i+1, m.name)
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
