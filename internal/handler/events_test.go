package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"game-session-hub/internal/model"
)

type sseEvent struct {
	name string
	data string
}

// readEvents parses the stream into events, skipping comments.
func readEvents(r *bufio.Reader, out chan<- sseEvent, live chan<- struct{}) {
	defer close(out)
	var ev sseEvent
	signalled := false
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, ":"):
			if !signalled {
				signalled = true
				close(live)
			}
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		case line == "" && ev.name != "":
			out <- ev
			ev = sseEvent{}
		}
	}
}

func TestStreamRoomEvents(t *testing.T) {
	e := newEnv(t, true)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = e.app.Listener(ln) }()
	t.Cleanup(func() { _ = e.app.ShutdownWithTimeout(2 * time.Second) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"http://"+ln.Addr().String()+"/rooms/events?game_type=omok", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan sseEvent, 16)
	live := make(chan struct{})
	go readEvents(bufio.NewReader(resp.Body), events, live)

	select {
	case <-live:
	case <-ctx.Done():
		t.Fatal("stream never became live")
	}

	hidden := e.rooms.CreateRoom(ctx, model.CreateRoomInput{HostName: "bob", GameType: model.GameOmok, IsPrivate: true})
	require.NotNil(t, hidden)
	e.rooms.CreateRoom(ctx, model.CreateRoomInput{HostName: "carol", GameType: model.GameChess})
	r := e.rooms.CreateRoom(ctx, model.CreateRoomInput{HostName: "alice", GameType: model.GameOmok})
	require.NotNil(t, r)
	require.True(t, e.rooms.TryJoinRoom(ctx, r.ID))

	next := func() sseEvent {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream ended")
			return ev
		case <-ctx.Done():
			t.Fatal("no event")
			return sseEvent{}
		}
	}

	ev := next()
	assert.Equal(t, "insert", ev.name)
	var got model.Room
	require.NoError(t, json.Unmarshal([]byte(ev.data), &got))
	assert.Equal(t, r.ID, got.ID)

	ev = next()
	assert.Equal(t, "update", ev.name)
	require.NoError(t, json.Unmarshal([]byte(ev.data), &got))
	assert.Equal(t, model.StatusPlaying, got.Status)
}

func TestStreamRoomEvents_RejectsUnknownGame(t *testing.T) {
	e := newEnv(t, true)
	code, _ := e.do(t, http.MethodGet, "/rooms/events?game_type=hex", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}
