package memnet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"game-session-hub/internal/peer"
)

func connect(t *testing.T) (local, far *Conn) {
	t.Helper()
	n := New()
	ctx := context.Background()

	accepted := make(chan peer.Conn, 1)
	host, err := n.OpenWithID(ctx, "host")
	require.NoError(t, err)
	host.OnConnection(func(c peer.Conn) { accepted <- c })

	guest, err := n.OpenWithID(ctx, "guest")
	require.NoError(t, err)
	c, err := guest.Dial(ctx, "host", true)
	require.NoError(t, err)

	select {
	case fc := <-accepted:
		far = fc.(*Conn)
	case <-time.After(time.Second):
		t.Fatal("no inbound connection")
	}
	local = c.(*Conn)
	require.Eventually(t, func() bool { return local.IsOpen() && far.IsOpen() }, time.Second, time.Millisecond)
	return local, far
}

func TestClose_DeliversQueuedDataFirst(t *testing.T) {
	local, far := connect(t)

	events := make(chan string, 16)
	far.SetHandlers(peer.ConnHandlers{
		OnData:  func(b []byte) { events <- string(b) },
		OnClose: func() { events <- "close" },
	})

	for _, m := range []string{"a", "b", "c"} {
		require.NoError(t, local.Send([]byte(m)))
	}
	require.NoError(t, local.Close())

	var seen []string
	for len(seen) < 4 {
		select {
		case e := <-events:
			seen = append(seen, e)
		case <-time.After(time.Second):
			t.Fatalf("only got %v", seen)
		}
	}
	assert.Equal(t, []string{"a", "b", "c", "close"}, seen)
	assert.ErrorIs(t, local.Send([]byte("late")), ErrNotOpen)
}

func TestSetHandlers_AfterCloseStillNotifies(t *testing.T) {
	local, far := connect(t)
	require.NoError(t, far.Close())

	require.Eventually(t, func() bool {
		local.mu.Lock()
		defer local.mu.Unlock()
		return local.drained
	}, time.Second, time.Millisecond)

	closed := make(chan struct{}, 2)
	local.SetHandlers(peer.ConnHandlers{OnClose: func() { closed <- struct{}{} }})
	local.SetHandlers(peer.ConnHandlers{OnClose: func() { closed <- struct{}{} }})

	assert.Len(t, closed, 1)
}
