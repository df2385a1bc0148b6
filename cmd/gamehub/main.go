// Package main is the entry point for the game session hub API.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"game-session-hub/internal/bot"
	"game-session-hub/internal/config"
	"game-session-hub/internal/game"
	"game-session-hub/internal/handler"
	"game-session-hub/internal/invite"
	"game-session-hub/internal/pkg/kv"
	"game-session-hub/internal/room"
	"game-session-hub/internal/stats"
	"game-session-hub/internal/store"
	"game-session-hub/internal/worker"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.SetupLogging(cfg.Log)
	log.Info().Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adapter, closeStore, err := store.Open(ctx, &cfg.Store, true)
	if err != nil {
		log.Fatal().Err(err).Str("host", cfg.Store.Host()).Msg("Failed to open store")
	}
	defer closeStore()

	cache, err := kv.Open(ctx, cfg.Cache)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Cache.Driver).Msg("Failed to open local cache")
	}
	defer cache.Close()

	games := game.NewDefaultRegistry()
	log.Info().
		Int("game_count", games.Count()).
		Int("ai_games", len(games.AITypes())).
		Msg("Games registered")

	rooms := room.NewManager(adapter, cfg.Rooms.Location())
	aggregator := stats.NewAggregator(adapter, stats.NewLocalCache(cache))
	invites := invite.NewIssuer(cfg.Invite.Secret, cfg.Invite.TTL)
	if !invites.Enabled() {
		log.Warn().Msg("Invite secret not set, private room invites disabled")
	}

	sched, err := worker.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}
	if adapter.Configured() {
		if err := sched.ScheduleReaper(rooms, cfg.Rooms.StaleAfter, cfg.Rooms.ReapInterval); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule reaper")
		}
	}
	sched.Start()

	h := handler.New(rooms, aggregator, invites, games, handler.Options{StaleAfter: cfg.Rooms.StaleAfter})
	app := handler.NewApp(h, cfg.HTTP.AllowedOrigins, cfg.Admin.KeyHashes)

	var lobbyBot *bot.Bot
	if cfg.Bot.Enabled() {
		lobbyBot, err = bot.New(&bot.Dependencies{Config: cfg, Rooms: rooms, Games: games})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create bot")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP API listening")
		return app.Listen(cfg.HTTP.Addr)
	})
	if lobbyBot != nil {
		g.Go(func() error {
			lobbyBot.Start()
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down...")

		if lobbyBot != nil {
			lobbyBot.Stop()
		}
		if err := sched.Shutdown(); err != nil {
			log.Warn().Err(err).Msg("Scheduler shutdown failed")
		}
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Server stopped gracefully")
}
