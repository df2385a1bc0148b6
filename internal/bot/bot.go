// Package bot runs the optional Telegram lobby announcer. It answers lobby
// queries and posts new public rooms to the configured chats.
package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"game-session-hub/internal/config"
	"game-session-hub/internal/game"
	"game-session-hub/internal/model"
	"game-session-hub/internal/room"
	"game-session-hub/internal/store"
)

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot   *tele.Bot
	cfg   *config.Config
	rooms *room.Manager
	games *game.Registry
	users *PrivateUsers

	// send posts text to a chat; replaced in tests.
	send func(chatID int64, text string) error

	cancel context.CancelFunc
	subs   []*store.Subscription
}

// Dependencies holds all the dependencies needed by the bot handlers.
type Dependencies struct {
	Config *config.Config
	Rooms  *room.Manager
	Games  *game.Registry
	// Offline skips the getMe call, for tests.
	Offline bool
}

// New creates a new Bot instance with the given dependencies.
func New(deps *Dependencies) (*Bot, error) {
	if deps.Config.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	pref := tele.Settings{
		Token:   deps.Config.Bot.Token,
		Poller:  &tele.LongPoller{Timeout: 10 * time.Second},
		Offline: deps.Offline,
		OnError: func(err error, c tele.Context) {
			log.Error().Err(err).Msg("Bot handler failed")
		},
	}

	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := &Bot{
		bot:   teleBot,
		cfg:   deps.Config,
		rooms: deps.Rooms,
		games: deps.Games,
		users: NewPrivateUsers(),
	}
	b.send = func(chatID int64, text string) error {
		_, err := b.bot.Send(tele.ChatID(chatID), text)
		return err
	}

	b.registerMiddleware()
	b.registerHandlers()

	return b, nil
}

// registerMiddleware registers all middleware.
func (b *Bot) registerMiddleware() {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(WhitelistMiddleware(b.cfg, b.users))
	b.bot.Use(LoggingMiddleware())
}

// registerHandlers registers all command handlers.
func (b *Bot) registerHandlers() {
	b.bot.Handle("/start", b.handleStart)
	b.bot.Handle("/games", b.handleGames)
	b.bot.Handle("/rooms", b.handleRooms)
	b.bot.Handle("/stats", b.handleStats)
}

// Start subscribes to room changes for every registered game and starts
// polling. It blocks until Stop.
func (b *Bot) Start() {
	log.Info().Msg("Starting bot...")

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.subs = b.watchRooms(ctx)
	log.Info().Int("games", len(b.subs)).Ints64("chats", b.cfg.Bot.AnnounceChats).Msg("Room announcements enabled")

	b.bot.Start()
}

// Stop stops polling and drops the room subscriptions.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	if b.cancel != nil {
		b.cancel()
	}
	for _, sub := range b.subs {
		b.rooms.Unsubscribe(sub)
	}
	b.bot.Stop()
}

// watchRooms subscribes to inserts of every registered game type.
func (b *Bot) watchRooms(ctx context.Context) []*store.Subscription {
	if len(b.cfg.Bot.AnnounceChats) == 0 {
		return nil
	}
	var subs []*store.Subscription
	for _, gt := range b.games.Types() {
		subs = append(subs, b.rooms.SubscribeToRooms(ctx, gt, b.announce, nil, nil))
	}
	return subs
}

// announce posts a new public room to every announce chat.
func (b *Bot) announce(r model.Room) {
	if r.IsPrivate || r.Status != model.StatusWaiting {
		return
	}
	text := formatAnnouncement(b.gameName(r.GameType), r)
	for _, chatID := range b.cfg.Bot.AnnounceChats {
		if err := b.send(chatID, text); err != nil {
			log.Warn().Err(err).Int64("chat_id", chatID).Str("room_id", r.ID).Msg("Failed to announce room")
		}
	}
}

func (b *Bot) gameName(gt model.GameType) string {
	if d, ok := b.games.Get(gt); ok {
		return d.Name
	}
	return gt.String()
}
