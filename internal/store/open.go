package store

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"game-session-hub/internal/config"
	"game-session-hub/internal/pkg/db"
)

// Open connects to the configured Postgres store and, when migrate is set
// and the config allows it, runs migrations. A missing URL or key yields an
// unconfigured adapter rather than an error. An unreachable server is
// logged and the adapter is returned anyway: calls yield neutral results
// until the server comes back. The returned func releases the connection.
func Open(ctx context.Context, cfg *config.StoreConfig, migrate bool) (*Adapter, func(), error) {
	pool, err := db.NewPool(ctx, cfg)
	if errors.Is(err, db.ErrNotConfigured) {
		log.Info().Msg("Store URL or key missing, online play disabled")
		return Unconfigured(), func() {}, nil
	}
	if err != nil {
		return nil, nil, err
	}

	reachable := true
	if err := pool.HealthCheck(ctx); err != nil {
		reachable = false
		log.Warn().Err(err).Str("host", cfg.Host()).Msg("Store unreachable, continuing offline")
	} else {
		log.Info().Msg("Successfully connected to PostgreSQL")
	}

	if migrate && cfg.Migrate && reachable {
		opts := MigrateOptions{SkipProcedures: cfg.SkipProcedures, Channel: cfg.NotifyChannel}
		if err := Migrate(ctx, pool.Pool, opts); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}

	adapter := NewAdapter(
		NewPostgres(pool.Pool, WithNotifyChannel(cfg.NotifyChannel)),
		WithHealthCheck(pool.HealthCheck),
	)
	return adapter, func() {
		adapter.Close()
		pool.Close()
	}, nil
}
