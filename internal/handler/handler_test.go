package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"game-session-hub/internal/game"
	"game-session-hub/internal/invite"
	"game-session-hub/internal/model"
	"game-session-hub/internal/pkg/kv"
	"game-session-hub/internal/room"
	"game-session-hub/internal/stats"
	"game-session-hub/internal/store"
)

const adminKey = "let-me-in"

func TestHealthz_ConfiguredStore(t *testing.T) {
	e := newEnv(t, true)
	code, body := e.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok","store":true,"reachable":true}`, string(body))
}

type testEnv struct {
	app   *fiber.App
	rooms *room.Manager
}

func newEnv(t *testing.T, configured bool) *testEnv {
	t.Helper()
	adapter := store.Unconfigured()
	if configured {
		mem := store.NewMemory(store.WithProcedures())
		t.Cleanup(mem.Close)
		adapter = store.NewAdapter(mem)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(adminKey), bcrypt.MinCost)
	require.NoError(t, err)

	rooms := room.NewManager(adapter, time.UTC)
	agg := stats.NewAggregator(adapter, stats.NewLocalCache(kv.NewMemory()))
	h := New(rooms, agg, invite.NewIssuer("test-secret", time.Hour), game.NewDefaultRegistry(),
		Options{KeepAlive: 50 * time.Millisecond})
	return &testEnv{app: NewApp(h, "*", []string{string(hash)}), rooms: rooms}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func (e *testEnv) createRoom(t *testing.T, in model.CreateRoomInput) model.Room {
	t.Helper()
	code, body := e.do(t, http.MethodPost, "/rooms", in)
	require.Equal(t, http.StatusCreated, code, string(body))
	var r model.Room
	require.NoError(t, json.Unmarshal(body, &r))
	return r
}

func TestRoomRoutes_Lifecycle(t *testing.T) {
	e := newEnv(t, true)
	r := e.createRoom(t, model.CreateRoomInput{HostName: "alice", GameType: "Omok", Title: " evening "})
	assert.Equal(t, model.GameOmok, r.GameType)
	assert.Equal(t, model.StatusWaiting, r.Status)
	require.NotNil(t, r.RoomTitle)
	assert.Equal(t, "evening", *r.RoomTitle)

	code, body := e.do(t, http.MethodGet, "/rooms?game_type=omok", nil)
	require.Equal(t, http.StatusOK, code)
	var listed []model.Room
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, r.ID, listed[0].ID)

	code, _ = e.do(t, http.MethodPut, "/rooms/"+r.ID+"/host", map[string]string{"host_id": "peer-1"})
	assert.Equal(t, http.StatusOK, code)
	code, _ = e.do(t, http.MethodPost, "/rooms/"+r.ID+"/heartbeat", nil)
	assert.Equal(t, http.StatusOK, code)

	code, body = e.do(t, http.MethodPost, "/rooms/"+r.ID+"/join", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"joined":true}`, string(body))

	code, body = e.do(t, http.MethodPost, "/rooms/"+r.ID+"/join", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.JSONEq(t, `{"joined":false}`, string(body))

	code, _ = e.do(t, http.MethodPost, "/rooms/"+r.ID+"/games", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = e.do(t, http.MethodPost, "/rooms/"+r.ID+"/finish", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = e.do(t, http.MethodPost, "/rooms/"+r.ID+"/close", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, body = e.do(t, http.MethodGet, "/rooms/"+r.ID, nil)
	require.Equal(t, http.StatusOK, code)
	var got model.Room
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, model.StatusFinished, got.Status)
	assert.Equal(t, "peer-1", got.HostID)
	assert.Equal(t, int64(1), got.GamesPlayed)

	code, _ = e.do(t, http.MethodGet, "/rooms/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestJoinRoom_ConcurrentRequestsHaveOneWinner(t *testing.T) {
	e := newEnv(t, true)
	r := e.createRoom(t, model.CreateRoomInput{HostName: "alice", GameType: model.GameChess})

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = map[int]int{}
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, _ := e.do(t, http.MethodPost, "/rooms/"+r.ID+"/join", nil)
			mu.Lock()
			codes[code]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, map[int]int{http.StatusOK: 1, http.StatusConflict: 7}, codes)
}

func TestCreateRoom_Validation(t *testing.T) {
	e := newEnv(t, true)

	code, _ := e.do(t, http.MethodPost, "/rooms", model.CreateRoomInput{HostName: "a", GameType: "hex"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = e.do(t, http.MethodPost, "/rooms", model.CreateRoomInput{HostName: "  ", GameType: model.GameOmok})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = e.do(t, http.MethodGet, "/rooms", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = e.do(t, http.MethodPut, "/rooms/x/host", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestUnconfiguredStore(t *testing.T) {
	e := newEnv(t, false)

	code, body := e.do(t, http.MethodPost, "/rooms", model.CreateRoomInput{HostName: "a", GameType: model.GameOmok})
	assert.Equal(t, http.StatusServiceUnavailable, code, string(body))

	code, body = e.do(t, http.MethodGet, "/rooms?game_type=omok", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(body))

	code, body = e.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok","store":false,"reachable":false}`, string(body))

	code, _ = e.do(t, http.MethodPost, "/rooms/x/join", nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestInviteRoutes(t *testing.T) {
	e := newEnv(t, true)
	r := e.createRoom(t, model.CreateRoomInput{HostName: "alice", GameType: model.GameOthello, IsPrivate: true})

	code, body := e.do(t, http.MethodPost, "/rooms/"+r.ID+"/invite", nil)
	require.Equal(t, http.StatusCreated, code, string(body))
	var issued struct {
		Token     string `json:"token"`
		ExpiresAt string `json:"expires_at"`
	}
	require.NoError(t, json.Unmarshal(body, &issued))
	require.NotEmpty(t, issued.Token)

	code, body = e.do(t, http.MethodGet, "/invites/"+issued.Token, nil)
	require.Equal(t, http.StatusOK, code)
	var got model.Room
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, r.ID, got.ID)

	code, _ = e.do(t, http.MethodGet, "/invites/not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	require.True(t, e.rooms.CloseRoom(t.Context(), r.ID))
	code, _ = e.do(t, http.MethodGet, "/invites/"+issued.Token, nil)
	assert.Equal(t, http.StatusGone, code)
	code, _ = e.do(t, http.MethodPost, "/rooms/"+r.ID+"/invite", nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestStatsRoutes(t *testing.T) {
	e := newEnv(t, true)
	r := e.createRoom(t, model.CreateRoomInput{HostName: "alice", GameType: model.GameOmok})
	require.True(t, e.rooms.IncrementGamesPlayed(t.Context(), r.ID))

	results := []map[string]string{
		{"player_id": "p1", "game_type": "omok", "difficulty": "easy", "result": "win"},
		{"player_id": "p1", "game_type": "omok", "difficulty": "hard", "result": "loss"},
		{"player_id": "p2", "game_type": "chess", "difficulty": "normal", "result": "draw"},
	}
	for _, res := range results {
		code, body := e.do(t, http.MethodPost, "/stats/results", res)
		require.Equal(t, http.StatusAccepted, code, string(body))
	}

	code, _ := e.do(t, http.MethodPost, "/stats/results",
		map[string]string{"player_id": "p1", "game_type": "omok", "difficulty": "insane", "result": "win"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = e.do(t, http.MethodPost, "/stats/results",
		map[string]string{"player_id": "", "game_type": "omok", "difficulty": "easy", "result": "win"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := e.do(t, http.MethodGet, "/stats/players/p1?game_types=omok,chess", nil)
	require.Equal(t, http.StatusOK, code)
	var player []model.PlayerGameStats
	require.NoError(t, json.Unmarshal(body, &player))
	require.Len(t, player, 2)
	assert.Equal(t, int64(2), player[0].TotalGames)
	assert.Equal(t, int64(1), player[0].TotalWins)
	assert.Equal(t, int64(0), player[1].TotalGames)

	code, body = e.do(t, http.MethodGet, "/stats/ai/total", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"count":3}`, string(body))

	code, body = e.do(t, http.MethodGet, "/stats/ai/chess", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"game_type":"chess","count":1}`, string(body))

	code, body = e.do(t, http.MethodGet, "/stats/global?game_types=omok", nil)
	require.Equal(t, http.StatusOK, code)
	var global model.GlobalStats
	require.NoError(t, json.Unmarshal(body, &global))
	assert.Equal(t, int64(2), global.TotalAIGames)
	assert.Equal(t, int64(1), global.TotalOnlineGames)
	assert.Equal(t, 1, global.TotalRooms)

	code, body = e.do(t, http.MethodGet, "/games/omok/rooms/stats", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"total":1,"public":1,"private":0,"waiting":1,"playing":0}`, string(body))

	code, body = e.do(t, http.MethodGet, "/games/omok/rooms/monthly?months=3", nil)
	require.Equal(t, http.StatusOK, code)
	var monthly []model.MonthlyStat
	require.NoError(t, json.Unmarshal(body, &monthly))
	assert.Len(t, monthly, 3)

	code, _ = e.do(t, http.MethodGet, "/games/hex/rooms/stats", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = e.do(t, http.MethodGet, "/stats/global?game_types=omok,hex", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAdminRoutes(t *testing.T) {
	e := newEnv(t, true)
	r := e.createRoom(t, model.CreateRoomInput{HostName: "alice", GameType: model.GameOmok})

	code, _ := e.do(t, http.MethodDelete, "/admin/rooms/"+r.ID, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = e.do(t, http.MethodDelete, "/admin/rooms/"+r.ID, nil, AdminKeyHeader, "wrong")
	assert.Equal(t, http.StatusForbidden, code)

	code, body := e.do(t, http.MethodPost, "/admin/reap?older_than=1h", nil, AdminKeyHeader, adminKey)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"closed":0}`, string(body))
	code, _ = e.do(t, http.MethodPost, "/admin/reap?older_than=soon", nil, AdminKeyHeader, adminKey)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(t, http.MethodDelete, "/admin/rooms/"+r.ID, nil, AdminKeyHeader, adminKey)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = e.do(t, http.MethodDelete, "/admin/rooms/"+r.ID, nil, AdminKeyHeader, adminKey)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAdminMiddleware_NoHashesHidesRoutes(t *testing.T) {
	app := fiber.New()
	app.Use(AdminMiddleware(nil))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(AdminKeyHeader, adminKey)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
