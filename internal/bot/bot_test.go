package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"game-session-hub/internal/config"
	"game-session-hub/internal/game"
	"game-session-hub/internal/model"
	"game-session-hub/internal/room"
	"game-session-hub/internal/store"
)

type sent struct {
	chatID int64
	text   string
}

type outbox struct {
	mu   sync.Mutex
	msgs []sent
}

func (o *outbox) send(chatID int64, text string) error {
	o.mu.Lock()
	o.msgs = append(o.msgs, sent{chatID, text})
	o.mu.Unlock()
	return nil
}

func (o *outbox) all() []sent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]sent(nil), o.msgs...)
}

func TestNew_RequiresToken(t *testing.T) {
	_, err := New(&Dependencies{Config: &config.Config{}, Offline: true})
	assert.Error(t, err)
}

func TestAnnouncesPublicRooms(t *testing.T) {
	mem := store.NewMemory()
	t.Cleanup(mem.Close)
	rooms := room.NewManager(store.NewAdapter(mem), nil)

	b, err := New(&Dependencies{
		Config:  &config.Config{Bot: config.BotConfig{Token: "t", AnnounceChats: []int64{-1, -2}}},
		Rooms:   rooms,
		Games:   game.NewDefaultRegistry(),
		Offline: true,
	})
	require.NoError(t, err)
	box := &outbox{}
	b.send = box.send

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	subs := b.watchRooms(ctx)
	require.Len(t, subs, len(game.NewDefaultRegistry().Types()))

	rooms.CreateRoom(ctx, model.CreateRoomInput{HostName: "bob", GameType: model.GameChess, IsPrivate: true})
	r := rooms.CreateRoom(ctx, model.CreateRoomInput{HostName: "alice", GameType: model.GameOmok, Title: "quick game"})
	require.NotNil(t, r)

	require.Eventually(t, func() bool { return len(box.all()) == 2 }, 2*time.Second, 10*time.Millisecond)
	for _, m := range box.all() {
		assert.Contains(t, m.text, "New Omok room: quick game (host alice)")
		assert.Contains(t, m.text, r.ID)
	}

	// Joining emits an update, which is not announced.
	require.True(t, rooms.TryJoinRoom(ctx, r.ID))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, box.all(), 2)
}

func TestWatchRooms_NoChats(t *testing.T) {
	b := newOfflineBot(t)
	b.games = game.NewDefaultRegistry()
	assert.Empty(t, b.watchRooms(context.Background()))
}

func TestFormatRooms(t *testing.T) {
	assert.Equal(t, "No open Chess rooms", formatRooms("Chess", nil))

	title := "friendly"
	rooms := []model.Room{
		{ID: "r1", HostName: "alice", RoomTitle: &title},
		{ID: "r2", HostName: "bob"},
	}
	out := formatRooms("Chess", rooms)
	assert.Contains(t, out, "Open Chess rooms: 2")
	assert.Contains(t, out, "1. friendly (host alice) [r1]")
	assert.Contains(t, out, "2. bob's room [r2]")

	many := make([]model.Room, maxListedRooms+3)
	for i := range many {
		many[i] = model.Room{ID: "x", HostName: "h"}
	}
	out = formatRooms("Go", many)
	assert.Contains(t, out, "…and 3 more")
	assert.Equal(t, maxListedRooms+2, strings.Count(out, "\n"))
}

func TestFormatStats(t *testing.T) {
	out := formatStats("Omok", model.RoomStats{Total: 5, Public: 3, Private: 2, Waiting: 1, Playing: 2})
	assert.Equal(t, "Omok rooms\nTotal: 5 (public 3, private 2)\nWaiting: 1\nPlaying: 2", out)
}

func TestFormatGames(t *testing.T) {
	out := formatGames(game.Defaults())
	assert.Contains(t, out, "• Omok (omok) - AI\n")
	assert.Contains(t, out, "• Baduk (baduk)\n")
}
