package peer_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"game-session-hub/internal/model"
	"game-session-hub/internal/peer"
	"game-session-hub/internal/peer/memnet"
)

func TestHandshake(t *testing.T) {
	net := memnet.New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host := peer.NewSession(net)
	guest := peer.NewSession(net)
	defer host.Disconnect()
	defer guest.Disconnect()

	hostConnected := make(chan struct{}, 1)
	guestConnected := make(chan struct{}, 1)
	received := make(chan model.PeerMessage, 1)

	host.OnConnected(func() { hostConnected <- struct{}{} })
	guest.OnConnected(func() { guestConnected <- struct{}{} })
	guest.OnMessage(func(m model.PeerMessage) { received <- m })

	h1, err := host.CreateEndpoint(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, h1)

	require.NoError(t, guest.ConnectToEndpoint(ctx, h1))
	assert.Equal(t, h1, guest.RemoteID())
	assert.Equal(t, peer.RoleGuest, guest.Role())

	for name, ch := range map[string]chan struct{}{"host": hostConnected, "guest": guestConnected} {
		select {
		case <-ch:
		case <-ctx.Done():
			t.Fatalf("%s OnConnected did not fire", name)
		}
	}
	require.Eventually(t, host.IsConnected, time.Second, 5*time.Millisecond)

	sentAt := time.Now()
	require.True(t, host.SendMessage(model.MsgReady, nil))

	select {
	case m := <-received:
		assert.Equal(t, model.MsgReady, m.Type)
		assert.Equal(t, "null", string(m.Payload))
		assert.WithinDuration(t, sentAt, time.UnixMilli(m.Timestamp), 3*time.Second)
	case <-ctx.Done():
		t.Fatal("guest did not receive ready")
	}
}

func TestMessagesArriveInOrder(t *testing.T) {
	net := memnet.New()
	ctx := context.Background()

	host := peer.NewSession(net)
	guest := peer.NewSession(net)
	defer host.Disconnect()
	defer guest.Disconnect()

	got := make(chan int, 100)
	host.OnMessage(func(m model.PeerMessage) {
		var p model.MovePayload
		if err := m.DecodePayload(&p); err == nil {
			got <- p.Seq
		}
	})

	id, err := host.CreateEndpoint(ctx)
	require.NoError(t, err)
	require.NoError(t, guest.ConnectToEndpoint(ctx, id))

	for i := 0; i < 100; i++ {
		require.True(t, guest.SendMessage(model.MsgMove, model.MovePayload{Seq: i}))
	}
	for i := 0; i < 100; i++ {
		select {
		case seq := <-got:
			require.Equal(t, i, seq)
		case <-time.After(2 * time.Second):
			t.Fatalf("message %d not delivered", i)
		}
	}
}

func TestGuestLeaveNotifiesHost(t *testing.T) {
	net := memnet.New()
	ctx := context.Background()

	host := peer.NewSession(net)
	guest := peer.NewSession(net)
	defer host.Disconnect()

	left := make(chan struct{}, 1)
	host.OnDisconnected(func() { left <- struct{}{} })

	id, err := host.CreateEndpoint(ctx)
	require.NoError(t, err)
	require.NoError(t, guest.ConnectToEndpoint(ctx, id))
	require.Eventually(t, host.IsConnected, time.Second, 5*time.Millisecond)

	guest.SendMessage(model.MsgLeave, nil)
	guest.Disconnect()

	select {
	case <-left:
	case <-time.After(2 * time.Second):
		t.Fatal("host not notified")
	}
	assert.False(t, host.IsConnected())
	assert.False(t, guest.SendMessage(model.MsgChat, model.ChatPayload{Text: "late"}))
}

func TestSecondGuestIsRefused(t *testing.T) {
	net := memnet.New()
	ctx := context.Background()

	host := peer.NewSession(net)
	first := peer.NewSession(net)
	second := peer.NewSession(net)
	defer host.Disconnect()
	defer first.Disconnect()
	defer second.Disconnect()

	id, err := host.CreateEndpoint(ctx)
	require.NoError(t, err)
	require.NoError(t, first.ConnectToEndpoint(ctx, id))
	require.Eventually(t, host.IsConnected, time.Second, 5*time.Millisecond)

	err = second.ConnectToEndpoint(ctx, id)
	assert.ErrorIs(t, err, peer.ErrConnectFailed)
	assert.True(t, first.IsConnected())
}

func TestConnectToUnknownEndpoint(t *testing.T) {
	guest := peer.NewSession(memnet.New())
	err := guest.ConnectToEndpoint(context.Background(), "nobody")
	require.Error(t, err)
	assert.True(t, errors.Is(err, peer.ErrConnectFailed), fmt.Sprint(err))
	assert.False(t, guest.IsConnected())
	guest.Disconnect()
}

func TestLeaveSentBeforeDisconnectIsDelivered(t *testing.T) {
	for i := 0; i < 50; i++ {
		net := memnet.New()
		ctx := context.Background()

		host := peer.NewSession(net)
		guest := peer.NewSession(net)

		got := make(chan model.MessageType, 4)
		left := make(chan struct{}, 1)
		host.OnMessage(func(m model.PeerMessage) { got <- m.Type })
		host.OnDisconnected(func() { left <- struct{}{} })

		id, err := host.CreateEndpoint(ctx)
		require.NoError(t, err)
		require.NoError(t, guest.ConnectToEndpoint(ctx, id))
		require.Eventually(t, host.IsConnected, time.Second, time.Millisecond)

		require.True(t, guest.SendMessage(model.MsgLeave, nil))
		guest.Disconnect()

		select {
		case <-left:
		case <-time.After(2 * time.Second):
			t.Fatalf("run %d: host not notified", i)
		}
		select {
		case typ := <-got:
			assert.Equal(t, model.MsgLeave, typ)
		default:
			t.Fatalf("run %d: leave delivered after disconnect or lost", i)
		}
		host.Disconnect()
	}
}
