// Package room implements the room lifecycle: matchmaking rows that move
// from waiting to playing and end as finished or closed.
package room

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"game-session-hub/internal/model"
	"game-session-hub/internal/store"
)

// DefaultMonths is used by GetMonthlyStats when months is not positive.
const DefaultMonths = 6

// incrementAttempts bounds the compare-and-retry fallback of
// IncrementGamesPlayed.
const incrementAttempts = 3

// Manager handles room operations. Every method returns a neutral value
// (nil, false, empty, zero stats) when the store is unavailable; none
// return errors.
type Manager struct {
	store    *store.Adapter
	timezone *time.Location
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager. Monthly stats are bucketed in timezone
// (UTC when nil).
func NewManager(s *store.Adapter, timezone *time.Location, opts ...Option) *Manager {
	if timezone == nil {
		timezone = time.UTC
	}
	m := &Manager{store: s, timezone: timezone, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Configured reports whether a room store is available.
func (m *Manager) Configured() bool {
	return m.store.Configured()
}

// Reachable reports whether the room store answers right now.
func (m *Manager) Reachable(ctx context.Context) bool {
	return m.store.Reachable(ctx)
}

func activeGuard() store.Filter {
	return store.In("status", model.StatusWaiting, model.StatusPlaying)
}

// ListRooms returns public waiting rooms of gameType, newest first.
func (m *Manager) ListRooms(ctx context.Context, gameType model.GameType) []model.Room {
	q := store.Where(
		store.Eq("game_type", gameType),
		store.Eq("status", model.StatusWaiting),
		store.Eq("is_private", false),
	).OrderedBy("created_at", true)
	return fromRows(m.store.Select(ctx, store.TableRooms, q))
}

// GetRoom fetches a room by id regardless of status or visibility.
func (m *Manager) GetRoom(ctx context.Context, id string) *model.Room {
	q := store.Where(store.Eq("id", id))
	q.Limit = 1
	rows := m.store.Select(ctx, store.TableRooms, q)
	if len(rows) == 0 {
		return nil
	}
	r := fromRow(rows[0])
	return &r
}

// CreateRoom inserts a waiting room. Returns nil when online play is
// unavailable or the input is invalid.
func (m *Manager) CreateRoom(ctx context.Context, in model.CreateRoomInput) *model.Room {
	gameType, err := model.ParseGameType(string(in.GameType))
	if err != nil || strings.TrimSpace(in.HostName) == "" {
		log.Debug().Err(err).Str("host_name", in.HostName).Msg("Rejected room input")
		return nil
	}

	row := store.Row{
		"host_name":    strings.TrimSpace(in.HostName),
		"host_id":      in.HostID,
		"game_type":    gameType,
		"status":       model.StatusWaiting,
		"is_private":   in.IsPrivate,
		"games_played": int64(0),
	}
	if title := strings.TrimSpace(in.Title); title != "" {
		row["room_title"] = title
	}

	created := m.store.Insert(ctx, store.TableRooms, row)
	if created == nil {
		return nil
	}
	r := fromRow(created)
	log.Info().
		Str("room_id", r.ID).
		Str("game_type", r.GameType.String()).
		Bool("private", r.IsPrivate).
		Msg("Room created")
	return &r
}

// TryJoinRoom moves a waiting room to playing. It returns true only for the
// caller that won the transition; false means someone else joined first,
// the room is gone, or the store is unavailable.
func (m *Manager) TryJoinRoom(ctx context.Context, id string) bool {
	rows := m.store.Update(ctx, store.TableRooms, id,
		store.Row{"status": model.StatusPlaying},
		store.Eq("status", model.StatusWaiting))
	if len(rows) == 0 {
		log.Debug().Str("room_id", id).Msg("Join lost or room not waiting")
		return false
	}
	return true
}

// UpdateRoomHostID records the host's transport endpoint once it is known.
func (m *Manager) UpdateRoomHostID(ctx context.Context, id, hostID string) bool {
	if hostID == "" {
		return false
	}
	rows := m.store.Update(ctx, store.TableRooms, id, store.Row{"host_id": hostID}, activeGuard())
	return len(rows) > 0
}

// SendHeartbeat touches updated_at of an active room.
func (m *Manager) SendHeartbeat(ctx context.Context, id string) bool {
	rows := m.store.Update(ctx, store.TableRooms, id, store.Row{}, activeGuard())
	return len(rows) > 0
}

// CloseRoom marks an active room closed. The row and its counter stay.
func (m *Manager) CloseRoom(ctx context.Context, id string) bool {
	rows := m.store.Update(ctx, store.TableRooms, id,
		store.Row{"status": model.StatusClosed}, activeGuard())
	return len(rows) > 0
}

// FinishRoom marks a playing room finished.
func (m *Manager) FinishRoom(ctx context.Context, id string) bool {
	rows := m.store.Update(ctx, store.TableRooms, id,
		store.Row{"status": model.StatusFinished},
		store.Eq("status", model.StatusPlaying))
	return len(rows) > 0
}

// DeleteRoom hard-deletes a room. Administrative use only.
func (m *Manager) DeleteRoom(ctx context.Context, id string) bool {
	ok := m.store.Delete(ctx, store.TableRooms, id)
	if ok {
		log.Info().Str("room_id", id).Msg("Room deleted")
	}
	return ok
}

// IncrementGamesPlayed bumps games_played by one. The server-side procedure
// is used when installed. Otherwise the counter is advanced with a guarded
// update on the observed value, retried a bounded number of times; under
// heavy contention the retries can run out and the call reports false
// instead of losing an update silently.
func (m *Manager) IncrementGamesPlayed(ctx context.Context, id string) bool {
	if m.store.HasProcedure(ctx, store.ProcIncrementGamesPlayed) {
		rows, ok := m.store.Call(ctx, store.ProcIncrementGamesPlayed, id)
		if ok {
			return len(rows) > 0
		}
		// A failed call un-caches a missing procedure; only fall through
		// when the capability is really gone.
		if m.store.HasProcedure(ctx, store.ProcIncrementGamesPlayed) {
			return false
		}
	}
	return m.incrementGuarded(ctx, id)
}

func (m *Manager) incrementGuarded(ctx context.Context, id string) bool {
	for attempt := 1; attempt <= incrementAttempts; attempt++ {
		current := m.GetRoom(ctx, id)
		if current == nil {
			return false
		}
		rows := m.store.Update(ctx, store.TableRooms, id,
			store.Row{"games_played": current.GamesPlayed + 1},
			store.Eq("games_played", current.GamesPlayed))
		if len(rows) > 0 {
			return true
		}
		log.Debug().Str("room_id", id).Int("attempt", attempt).Msg("games_played changed concurrently, retrying")
	}
	log.Warn().Str("room_id", id).Msg("Gave up incrementing games_played after concurrent updates")
	return false
}

// GetRoomStats counts all rooms of gameType by visibility and active status.
func (m *Manager) GetRoomStats(ctx context.Context, gameType model.GameType) model.RoomStats {
	rows := m.store.Select(ctx, store.TableRooms, store.Where(store.Eq("game_type", gameType)))

	var stats model.RoomStats
	for _, r := range fromRows(rows) {
		stats.Total++
		if r.IsPrivate {
			stats.Private++
		} else {
			stats.Public++
		}
		switch r.Status {
		case model.StatusWaiting:
			stats.Waiting++
		case model.StatusPlaying:
			stats.Playing++
		}
	}
	return stats
}

// GetMonthlyStats aggregates rooms created in the last months calendar
// months (current month included), oldest first. Months with no rooms are
// present with zero counts.
func (m *Manager) GetMonthlyStats(ctx context.Context, gameType model.GameType, months int) []model.MonthlyStat {
	if months <= 0 {
		months = DefaultMonths
	}
	now := m.now().In(m.timezone)
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, m.timezone).AddDate(0, -(months - 1), 0)

	stats := make([]model.MonthlyStat, months)
	index := make(map[string]int, months)
	for i := range stats {
		month := start.AddDate(0, i, 0).Format("2006-01")
		stats[i].Month = month
		index[month] = i
	}

	rows := m.store.Select(ctx, store.TableRooms, store.Where(
		store.Eq("game_type", gameType),
		store.Gte("created_at", start),
	))
	for _, r := range fromRows(rows) {
		i, ok := index[r.CreatedAt.In(m.timezone).Format("2006-01")]
		if !ok {
			continue
		}
		stats[i].TotalRooms++
		stats[i].TotalGames += r.GamesPlayed
	}
	return stats
}

// SubscribeToRooms streams row changes for gameType. Nil callbacks are
// skipped. The returned handle is never nil; release it with Unsubscribe.
func (m *Manager) SubscribeToRooms(ctx context.Context, gameType model.GameType, onInsert, onUpdate, onDelete func(model.Room)) *store.Subscription {
	wrap := func(fn func(model.Room)) func(store.Row) {
		if fn == nil {
			return nil
		}
		return func(r store.Row) { fn(fromRow(r)) }
	}
	sub := m.store.Subscribe(store.TableRooms, store.Eq("game_type", gameType), store.Handlers{
		OnInsert: wrap(onInsert),
		OnUpdate: wrap(onUpdate),
		OnDelete: wrap(onDelete),
	})
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				m.store.Unsubscribe(sub)
			case <-sub.Done():
			}
		}()
	}
	return sub
}

// Unsubscribe releases a subscription returned by SubscribeToRooms.
func (m *Manager) Unsubscribe(sub *store.Subscription) {
	m.store.Unsubscribe(sub)
}

// CloseStaleRooms closes active rooms whose last heartbeat is older than
// olderThan and returns how many were closed. A heartbeat racing with the
// reaper keeps its room open.
func (m *Manager) CloseStaleRooms(ctx context.Context, olderThan time.Duration) int {
	cutoff := m.now().Add(-olderThan)
	stale := m.store.Select(ctx, store.TableRooms, store.Where(
		activeGuard(),
		store.Lt("updated_at", cutoff),
	))

	closed := 0
	for _, r := range stale {
		rows := m.store.Update(ctx, store.TableRooms, r.String("id"),
			store.Row{"status": model.StatusClosed},
			activeGuard(), store.Lt("updated_at", cutoff))
		if len(rows) > 0 {
			closed++
		}
	}
	if closed > 0 {
		log.Info().Int("closed", closed).Time("cutoff", cutoff).Msg("Closed stale rooms")
	}
	return closed
}
